package recall

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Source is a citation pointing back at a retrieved memory.
type Source struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Answer is the result of a RAG query: the generator's reply plus the
// memories it was shown, in citation order.
type Answer struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// Pipeline answers questions over a memory engine: blended retrieval,
// numbered context assembly, then a generator call with a
// citation-aware prompt. It does not re-ingest the question; callers
// are expected to Add before querying so the current turn is in the
// short-term buffer.
type Pipeline struct {
	engine       *Engine
	topK         int
	ltmThreshold float32
	tracer       Tracer

	mu          sync.Mutex
	lastSources []Source
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithTopK sets how many blended memories are retrieved per query.
func WithTopK(k int) PipelineOption {
	return func(p *Pipeline) { p.topK = k }
}

// WithLTMThreshold sets the minimum long-term similarity score.
func WithLTMThreshold(t float32) PipelineOption {
	return func(p *Pipeline) { p.ltmThreshold = t }
}

// WithPipelineTracer sets a Tracer for query spans.
func WithPipelineTracer(t Tracer) PipelineOption {
	return func(p *Pipeline) { p.tracer = t }
}

// NewPipeline creates a RAG pipeline over engine. The generator is the
// one the engine already holds.
func NewPipeline(engine *Engine, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		engine:       engine,
		topK:         DefaultSearchLimit,
		ltmThreshold: DefaultLTMThreshold,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Query retrieves the top memories for question and asks the generator
// to answer with citations.
func (p *Pipeline) Query(ctx context.Context, question, userID string) (Answer, error) {
	ctx, span := p.startSpan(ctx, "rag.query", StringAttr("user_id", userID))
	defer span.End()

	messages, sources, err := p.prepare(ctx, question, userID)
	if err != nil {
		span.Error(err)
		return Answer{}, err
	}

	text, err := p.engine.generator.Generate(ctx, messages, GenerateOptions{})
	if err != nil {
		span.Error(err)
		return Answer{}, fmt.Errorf("generate answer: %w", err)
	}
	p.setLastSources(sources)
	return Answer{Answer: strings.TrimSpace(text), Sources: sources}, nil
}

// StreamQuery is Query with a streaming generator call. Fragments are
// sent to ch in order; the channel is closed when the stream ends.
// Sources are not emitted through the stream; fetch them with
// LastSources after the channel closes. Cancelling ctx terminates the
// upstream call promptly.
func (p *Pipeline) StreamQuery(ctx context.Context, question, userID string, ch chan<- string) error {
	ctx, span := p.startSpan(ctx, "rag.stream_query", StringAttr("user_id", userID))
	defer span.End()

	messages, sources, err := p.prepare(ctx, question, userID)
	if err != nil {
		close(ch)
		span.Error(err)
		return err
	}

	if _, err := p.engine.generator.Stream(ctx, messages, GenerateOptions{}, ch); err != nil {
		span.Error(err)
		return fmt.Errorf("stream answer: %w", err)
	}
	p.setLastSources(sources)
	return nil
}

// LastSources returns the citations of the most recent completed query
// on this pipeline. Side channel for StreamQuery consumers.
func (p *Pipeline) LastSources() []Source {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Source, len(p.lastSources))
	copy(out, p.lastSources)
	return out
}

// prepare runs retrieval and builds the three-message transcript:
// conversational system prompt, numbered context block, question.
func (p *Pipeline) prepare(ctx context.Context, question, userID string) ([]ChatMessage, []Source, error) {
	retrieved, err := p.engine.Search(ctx, question, userID, p.topK, p.ltmThreshold)
	if err != nil {
		return nil, nil, fmt.Errorf("retrieve context: %w", err)
	}

	var block strings.Builder
	sources := make([]Source, 0, len(retrieved))
	for i, item := range retrieved {
		fmt.Fprintf(&block, "[%d] %s\n", i+1, item.Memory)
		sources = append(sources, Source{ID: item.ID, Text: item.Memory})
	}

	messages := []ChatMessage{
		SystemMessage(citationSystemPrompt),
		SystemMessage("Context:\n" + block.String()),
		UserMessage(question),
	}
	return messages, sources, nil
}

func (p *Pipeline) setLastSources(sources []Source) {
	p.mu.Lock()
	p.lastSources = sources
	p.mu.Unlock()
}

func (p *Pipeline) startSpan(ctx context.Context, name string, attrs ...SpanAttr) (context.Context, Span) {
	if p.tracer == nil {
		return ctx, nopSpan{}
	}
	return p.tracer.Start(ctx, name, attrs...)
}
