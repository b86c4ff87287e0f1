package recall

import (
	"context"
	"strings"
	"sync"
)

// --- Generator and Embedder doubles ---

// scriptGenerator returns canned responses in order and records every
// transcript it was shown. Exhausting the script repeats the last
// response.
type scriptGenerator struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     [][]ChatMessage

	streamFrags []string
	streamErr   error
}

func (g *scriptGenerator) Name() string { return "script" }

func (g *scriptGenerator) Generate(_ context.Context, messages []ChatMessage, _ GenerateOptions) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, messages)
	if g.err != nil {
		return "", g.err
	}
	if len(g.responses) == 0 {
		return "", nil
	}
	resp := g.responses[0]
	if len(g.responses) > 1 {
		g.responses = g.responses[1:]
	}
	return resp, nil
}

func (g *scriptGenerator) Stream(ctx context.Context, messages []ChatMessage, _ GenerateOptions, ch chan<- string) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, messages)
	frags := g.streamFrags
	err := g.streamErr
	g.mu.Unlock()

	defer close(ch)
	if err != nil {
		return "", err
	}
	var full strings.Builder
	for _, f := range frags {
		full.WriteString(f)
		select {
		case ch <- f:
		case <-ctx.Done():
			return full.String(), ctx.Err()
		}
	}
	return full.String(), nil
}

func (g *scriptGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *scriptGenerator) call(i int) []ChatMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[i]
}

// mapEmbedder returns fixed vectors by exact text, falling back to a
// default vector for texts the test did not pin.
type mapEmbedder struct {
	dims int
	vecs map[string][]float32
	def  []float32
	err  error
}

func newMapEmbedder(dims int) *mapEmbedder {
	def := make([]float32, dims)
	def[0] = 1
	return &mapEmbedder{dims: dims, vecs: make(map[string][]float32), def: def}
}

func (e *mapEmbedder) Name() string    { return "map" }
func (e *mapEmbedder) Dimensions() int { return e.dims }

func (e *mapEmbedder) Embed(_ context.Context, text string, _ Purpose) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	src := e.def
	if v, ok := e.vecs[text]; ok {
		src = v
	}
	out := make([]float32, len(src))
	copy(out, src)
	return out, nil
}

// --- Store and history doubles ---

// memStore is an in-memory VectorStore with the same semantics as the
// flat backend: exact inner-product scan, insertion-order tie-breaks,
// payload filtering after KNN.
type memStore struct {
	mu       sync.Mutex
	ids      []string
	vectors  map[string][]float32
	payloads map[string]map[string]any
}

func newMemStore() *memStore {
	return &memStore{
		vectors:  make(map[string][]float32),
		payloads: make(map[string]map[string]any),
	}
}

func (s *memStore) Insert(_ context.Context, ids []string, vectors [][]float32, payloads []map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, id := range ids {
		s.ids = append(s.ids, id)
		s.vectors[id] = vectors[i]
		s.payloads[id] = payloads[i]
	}
	return nil
}

func (s *memStore) Search(_ context.Context, vector []float32, k int, filters Filters) ([]SearchHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k <= 0 {
		return []SearchHit{}, nil
	}

	type scored struct {
		id    string
		score float32
	}
	all := make([]scored, 0, len(s.ids))
	for _, id := range s.ids {
		var dot float32
		for i, v := range vector {
			dot += v * s.vectors[id][i]
		}
		all = append(all, scored{id: id, score: dot})
	}
	// Insertion order breaks ties, like the flat backend.
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && all[j].score > all[j-1].score; j-- {
			all[j], all[j-1] = all[j-1], all[j]
		}
	}
	if len(all) > k {
		all = all[:k]
	}

	hits := make([]SearchHit, 0, len(all))
	for _, c := range all {
		if !s.matches(c.id, filters) {
			continue
		}
		hits = append(hits, SearchHit{ID: c.id, Score: c.score, Payload: s.payloads[c.id]})
	}
	return hits, nil
}

func (s *memStore) Update(_ context.Context, id string, vector []float32, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if vector != nil {
		s.vectors[id] = vector
	}
	if payload != nil {
		s.payloads[id] = payload
	}
	return nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.ids {
		if existing == id {
			s.ids = append(s.ids[:i], s.ids[i+1:]...)
			break
		}
	}
	delete(s.vectors, id)
	delete(s.payloads, id)
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pl, ok := s.payloads[id]
	if !ok {
		return nil, nil
	}
	return pl, nil
}

func (s *memStore) List(_ context.Context, filters Filters, limit int) ([]SearchHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SearchHit
	for _, id := range s.ids {
		if !s.matches(id, filters) {
			continue
		}
		out = append(out, SearchHit{ID: id, Payload: s.payloads[id]})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = nil
	s.vectors = make(map[string][]float32)
	s.payloads = make(map[string]map[string]any)
	return nil
}

func (s *memStore) matches(id string, filters Filters) bool {
	pl := s.payloads[id]
	for k, want := range filters {
		if pl[k] != want {
			return false
		}
	}
	return true
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

func (s *memStore) payload(id string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payloads[id]
}

// seed inserts a semantic memory row the way the engine would.
func (s *memStore) seed(id, text, userID string, vec []float32) {
	_ = s.Insert(context.Background(), []string{id}, [][]float32{vec}, []map[string]any{{
		"data":        text,
		"hash":        textHash(text),
		"user_id":     userID,
		"created_at":  NowUTC(),
		"memory_type": string(MemorySemantic),
	}})
}

// memHistory records appended events in order.
type memHistory struct {
	mu     sync.Mutex
	events []HistoryEvent
	err    error
}

func (h *memHistory) Init(_ context.Context) error { return nil }
func (h *memHistory) Close() error                 { return nil }

func (h *memHistory) Append(_ context.Context, ev HistoryEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	if ev.EventID == "" {
		ev.EventID = NewID()
	}
	if ev.CreatedAt == "" {
		ev.CreatedAt = NowUTC()
	}
	h.events = append(h.events, ev)
	return nil
}

func (h *memHistory) List(_ context.Context, memoryID string) ([]HistoryEvent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []HistoryEvent
	for _, ev := range h.events {
		if ev.MemoryID == memoryID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (h *memHistory) all() []HistoryEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := make([]HistoryEvent, len(h.events))
	copy(cp, h.events)
	return cp
}
