package recall

import (
	"context"
	"sync"
)

// Client bundles an Engine and a Pipeline behind the convenience
// surface most callers want: ingest, retrieve, and RAG querying where
// the question itself is ingested first so the current turn lands in
// short-term memory.
type Client struct {
	Engine   *Engine
	Pipeline *Pipeline

	// everyN > 0 enables automatic procedural summarisation: every N
	// ingested messages per user, the trailing dialogue window is
	// condensed into one procedural record.
	everyN int

	mu      sync.Mutex
	counts  map[string]int
	windows map[string][]ChatMessage
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithProceduralCadence summarises each user's trailing dialogue window
// into a procedural memory every n ingested messages. n <= 0 disables.
func WithProceduralCadence(n int) ClientOption {
	return func(c *Client) { c.everyN = n }
}

// NewClient wraps engine and pipeline.
func NewClient(engine *Engine, pipeline *Pipeline, opts ...ClientOption) *Client {
	c := &Client{
		Engine:   engine,
		Pipeline: pipeline,
		counts:   make(map[string]int),
		windows:  make(map[string][]ChatMessage),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// AddMessage ingests text into short-term memory (always) and long-term
// memory (when infer is true).
func (c *Client) AddMessage(ctx context.Context, text, userID string, infer bool) ([]MemoryAction, error) {
	actions, err := c.Engine.Add(ctx, text, userID, infer)
	if err != nil {
		return actions, err
	}
	c.noteMessage(ctx, userID, UserMessage(text))
	return actions, nil
}

// Retrieve returns ranked memories blended from STM and LTM.
func (c *Client) Retrieve(ctx context.Context, query, userID string, limit int) ([]MemoryItem, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	return c.Engine.Search(ctx, query, userID, limit, c.Pipeline.ltmThreshold)
}

// QueryRAG ingests the prompt, then answers it over the memory context.
func (c *Client) QueryRAG(ctx context.Context, prompt, userID string) (Answer, error) {
	if _, err := c.Engine.Add(ctx, prompt, userID, true); err != nil {
		return Answer{}, err
	}
	c.noteMessage(ctx, userID, UserMessage(prompt))
	return c.Pipeline.Query(ctx, prompt, userID)
}

// StreamRAG is QueryRAG with streaming output. Sources are available
// from Pipeline.LastSources after ch closes.
func (c *Client) StreamRAG(ctx context.Context, prompt, userID string, ch chan<- string) error {
	if _, err := c.Engine.Add(ctx, prompt, userID, true); err != nil {
		close(ch)
		return err
	}
	c.noteMessage(ctx, userID, UserMessage(prompt))
	return c.Pipeline.StreamQuery(ctx, prompt, userID, ch)
}

// ResetMemory wipes the vector store and all short-term buffers.
func (c *Client) ResetMemory(ctx context.Context) error {
	c.mu.Lock()
	c.counts = make(map[string]int)
	c.windows = make(map[string][]ChatMessage)
	c.mu.Unlock()
	return c.Engine.Reset(ctx)
}

// noteMessage tracks the per-user dialogue window and triggers a
// procedural summary when the cadence is reached. Summary failures are
// swallowed; cadence summarisation is opportunistic.
func (c *Client) noteMessage(ctx context.Context, userID string, msg ChatMessage) {
	if c.everyN <= 0 {
		return
	}

	c.mu.Lock()
	c.windows[userID] = append(c.windows[userID], msg)
	if len(c.windows[userID]) > c.everyN {
		c.windows[userID] = c.windows[userID][len(c.windows[userID])-c.everyN:]
	}
	c.counts[userID]++
	due := c.counts[userID]%c.everyN == 0
	var window []ChatMessage
	if due {
		window = append(window, c.windows[userID]...)
	}
	c.mu.Unlock()

	if due {
		_, _ = c.Engine.AddProcedural(ctx, window, userID, "")
	}
}
