package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/recallkit/recall"
	"github.com/recallkit/recall/store/flat"
)

// scriptGenerator returns canned responses in order; the last repeats.
type scriptGenerator struct {
	mu        sync.Mutex
	responses []string
	frags     []string
}

func (g *scriptGenerator) Name() string { return "script" }

func (g *scriptGenerator) Generate(_ context.Context, _ []recall.ChatMessage, _ recall.GenerateOptions) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.responses) == 0 {
		return "", nil
	}
	resp := g.responses[0]
	if len(g.responses) > 1 {
		g.responses = g.responses[1:]
	}
	return resp, nil
}

func (g *scriptGenerator) Stream(ctx context.Context, _ []recall.ChatMessage, _ recall.GenerateOptions, ch chan<- string) (string, error) {
	defer close(ch)
	var full strings.Builder
	for _, f := range g.frags {
		full.WriteString(f)
		select {
		case ch <- f:
		case <-ctx.Done():
			return full.String(), ctx.Err()
		}
	}
	return full.String(), nil
}

// constEmbedder maps every text to the same unit vector.
type constEmbedder struct{}

func (constEmbedder) Name() string    { return "const" }
func (constEmbedder) Dimensions() int { return 3 }
func (constEmbedder) Embed(_ context.Context, _ string, _ recall.Purpose) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func newTestServer(t *testing.T, g *scriptGenerator) *httptest.Server {
	t.Helper()
	store, err := flat.New(t.TempDir(), "memories", 3, flat.MetricIP)
	if err != nil {
		t.Fatalf("flat.New: %v", err)
	}
	engine := recall.NewEngine(store, nil, g, constEmbedder{})
	client := recall.NewClient(engine, recall.NewPipeline(engine))

	ts := httptest.NewServer(New(client).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, &scriptGenerator{})

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestMemAdd(t *testing.T) {
	g := &scriptGenerator{responses: []string{
		`{"facts": ["User likes tea"]}`,
		`{"memory": [{"id": "x", "text": "User likes tea", "event": "ADD"}]}`,
	}}
	ts := newTestServer(t, g)

	resp := postJSON(t, ts.URL+"/mem/add", map[string]any{"text": "I like tea", "user_id": "u1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		Results []recall.MemoryAction `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Results) != 1 || body.Results[0].Op != recall.OpAdd {
		t.Errorf("results = %+v", body.Results)
	}
}

func TestMemAddValidation(t *testing.T) {
	ts := newTestServer(t, &scriptGenerator{})

	resp := postJSON(t, ts.URL+"/mem/add", map[string]any{"text": "no user"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["detail"] == "" {
		t.Errorf("error body = %v, want a detail message", body)
	}
}

func TestMemAddInvalidJSON(t *testing.T) {
	ts := newTestServer(t, &scriptGenerator{})

	resp, err := http.Post(ts.URL+"/mem/add", "application/json", strings.NewReader("{broken"))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestMemSearch(t *testing.T) {
	g := &scriptGenerator{responses: []string{`{"facts": []}`}}
	ts := newTestServer(t, g)

	// Ingest a turn (no facts extracted, so it lands in STM only).
	postJSON(t, ts.URL+"/mem/add", map[string]any{"text": "I moved to Berlin", "user_id": "u1"})

	resp := postJSON(t, ts.URL+"/mem/search", map[string]any{"query": "where do I live?", "user_id": "u1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Results []recall.MemoryItem `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Results) != 1 || body.Results[0].Memory != "I moved to Berlin" {
		t.Errorf("results = %+v", body.Results)
	}
}

func TestMemAll(t *testing.T) {
	g := &scriptGenerator{}
	ts := newTestServer(t, g)
	postJSON(t, ts.URL+"/mem/add", map[string]any{"text": "verbatim memory", "user_id": "u1", "infer": false})

	resp, err := http.Get(ts.URL + "/mem/all?user_id=u1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		Results []recall.MemoryItem `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Results) != 1 || body.Results[0].Memory != "verbatim memory" {
		t.Errorf("results = %+v", body.Results)
	}
}

func TestRAGQuery(t *testing.T) {
	g := &scriptGenerator{responses: []string{
		`{"facts": []}`,
		"You just told me you like tea [1].",
	}}
	ts := newTestServer(t, g)

	resp := postJSON(t, ts.URL+"/rag/query", map[string]any{"question": "I like tea. What do I like?", "user_id": "u1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Answer  string          `json:"answer"`
		Sources []recall.Source `json:"sources"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(body.Answer, "tea") {
		t.Errorf("answer = %q", body.Answer)
	}
	if len(body.Sources) == 0 {
		t.Errorf("no sources returned")
	}
}

func TestRAGStream(t *testing.T) {
	g := &scriptGenerator{
		responses: []string{`{"facts": []}`},
		frags:     []string{"You like", " tea."},
	}
	ts := newTestServer(t, g)

	resp := postJSON(t, ts.URL+"/rag/stream", map[string]any{"question": "what do I like?", "user_id": "u1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	var deltas strings.Builder
	sawSources := false
	sawDone := false
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			sawDone = true
			break
		}
		var ev map[string]json.RawMessage
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			t.Fatalf("bad event %q: %v", data, err)
		}
		if raw, ok := ev["delta"]; ok {
			var delta string
			_ = json.Unmarshal(raw, &delta)
			deltas.WriteString(delta)
		}
		if _, ok := ev["sources"]; ok {
			sawSources = true
		}
	}
	if deltas.String() != "You like tea." {
		t.Errorf("streamed %q", deltas.String())
	}
	if !sawSources || !sawDone {
		t.Errorf("sawSources=%v sawDone=%v", sawSources, sawDone)
	}
}

func TestMemReset(t *testing.T) {
	ts := newTestServer(t, &scriptGenerator{})
	postJSON(t, ts.URL+"/mem/add", map[string]any{"text": "ephemeral", "user_id": "u1", "infer": false})

	resp := postJSON(t, ts.URL+"/mem/reset", map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	after, err := http.Get(ts.URL + "/mem/all?user_id=u1")
	if err != nil {
		t.Fatal(err)
	}
	defer after.Body.Close()
	var body struct {
		Results []recall.MemoryItem `json:"results"`
	}
	if err := json.NewDecoder(after.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Results) != 0 {
		t.Errorf("results after reset = %+v", body.Results)
	}
}
