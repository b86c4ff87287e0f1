// Package server exposes the memory engine and RAG pipeline over HTTP.
//
// Endpoints:
//
//	POST /mem/add      ingest a message
//	POST /mem/search   ranked memory retrieval
//	GET  /mem/all      list a user's long-term memories
//	POST /mem/reset    wipe the vector store and short-term buffers
//	POST /rag/query    answer a question over memory context
//	POST /rag/stream   same, streamed as SSE
//	GET  /health       liveness probe
package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/recallkit/recall"
)

const maxRequestBodyBytes = 1 << 20 // 1MB

// Server wires a recall.Client into HTTP handlers.
type Server struct {
	client *recall.Client
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger attaches a structured logger. Defaults to a discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a Server around client.
func New(client *recall.Client, opts ...Option) *Server {
	s := &Server{
		client: client,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /mem/add", s.handleAdd)
	mux.HandleFunc("POST /mem/search", s.handleSearch)
	mux.HandleFunc("GET /mem/all", s.handleGetAll)
	mux.HandleFunc("POST /mem/reset", s.handleReset)
	mux.HandleFunc("POST /rag/query", s.handleQuery)
	mux.HandleFunc("POST /rag/stream", s.handleStream)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Text == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "text and user_id are required")
		return
	}

	infer := true
	if req.Infer != nil {
		infer = *req.Infer
	}

	actions, err := s.client.AddMessage(r.Context(), req.Text, req.UserID, infer)
	if err != nil {
		s.logger.Error("mem add failed", "user_id", req.UserID, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if actions == nil {
		actions = []recall.MemoryAction{}
	}
	writeJSON(w, http.StatusOK, addResponse{Results: actions})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Query == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "query and user_id are required")
		return
	}

	items, err := s.client.Retrieve(r.Context(), req.Query, req.UserID, req.Limit)
	if err != nil {
		s.logger.Error("mem search failed", "user_id", req.UserID, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if items == nil {
		items = []recall.MemoryItem{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: items})
}

func (s *Server) handleGetAll(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	items, err := s.client.Engine.GetAll(r.Context(), userID)
	if err != nil {
		s.logger.Error("mem list failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if items == nil {
		items = []recall.MemoryItem{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: items})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.client.ResetMemory(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Question == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "question and user_id are required")
		return
	}

	answer, err := s.client.QueryRAG(r.Context(), req.Question, req.UserID)
	if err != nil {
		s.logger.Error("rag query failed", "user_id", req.UserID, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{Answer: answer.Answer, Sources: answer.Sources})
}

// handleStream answers a RAG query as server-sent events. Each text
// fragment arrives as a "data:" line; the final event carries the
// sources, then "data: [DONE]" terminates the stream.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Question == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "question and user_id are required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan string, 16)
	errc := make(chan error, 1)
	go func() {
		errc <- s.client.StreamRAG(r.Context(), req.Question, req.UserID, ch)
	}()

	for frag := range ch {
		data, err := json.Marshal(map[string]string{"delta": frag})
		if err != nil {
			continue
		}
		w.Write([]byte("data: "))
		w.Write(data)
		w.Write([]byte("\n\n"))
		flusher.Flush()
	}

	if err := <-errc; err != nil {
		s.logger.Error("rag stream failed", "user_id", req.UserID, "error", err)
		data, _ := json.Marshal(map[string]string{"error": err.Error()})
		w.Write([]byte("data: "))
		w.Write(data)
		w.Write([]byte("\n\n"))
		flusher.Flush()
		return
	}

	sources := s.client.Pipeline.LastSources()
	if sources == nil {
		sources = []recall.Source{}
	}
	data, _ := json.Marshal(map[string][]recall.Source{"sources": sources})
	w.Write([]byte("data: "))
	w.Write(data)
	w.Write([]byte("\n\ndata: [DONE]\n\n"))
	flusher.Flush()
}

// decode reads and parses a JSON request body. On failure it writes the
// error response and returns false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"detail": msg})
}
