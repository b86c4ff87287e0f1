package recall

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Search defaults. LTM hits below the threshold are dropped; at most
// ltmTopN survive. The last stmRecentN short-term entries are blended
// in with a synthetic score so recency dominates the immediate turn
// while strong similarity still breaks through.
const (
	DefaultSearchLimit  = 5
	DefaultLTMThreshold = 0.75

	ltmFetchK  = 10
	ltmTopN    = 3
	stmRecentN = 5
	stmScore   = 0.99
)

// Engine orchestrates the memory hierarchy: short-term buffer, fact
// extraction, reconciliation, the vector store, and the history log.
// It shares the Embedder and Generator handles and never closes them.
// Safe for concurrent use; per-user add/search ordering follows from
// the buffer's FIFO plus the store's mutation serialisation.
type Engine struct {
	store     VectorStore
	history   HistoryLog
	generator Generator
	embedder  Embedder

	stm        *ShortTermBuffer
	extractor  *FactExtractor
	reconciler *Reconciler

	extractionPrompt string

	logger *slog.Logger
	tracer Tracer
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSTMCapacity sets the per-user short-term buffer size.
func WithSTMCapacity(n int) EngineOption {
	return func(e *Engine) { e.stm = NewShortTermBuffer(n) }
}

// WithLogger sets a structured logger for mutation and fallback events.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithTracer sets a Tracer for ingest and retrieval spans.
func WithTracer(t Tracer) EngineOption {
	return func(e *Engine) { e.tracer = t }
}

// WithExtractionPrompt overrides the fact-extraction system prompt.
func WithExtractionPrompt(prompt string) EngineOption {
	return func(e *Engine) { e.extractionPrompt = prompt }
}

// NewEngine creates a memory engine over the given backends.
func NewEngine(store VectorStore, history HistoryLog, g Generator, emb Embedder, opts ...EngineOption) *Engine {
	e := &Engine{
		store:     store,
		history:   history,
		generator: g,
		embedder:  emb,
		stm:       NewShortTermBuffer(DefaultSTMItems),
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(e)
	}
	// Extractor and reconciler are built after the options run so both
	// share whatever logger WithLogger installed.
	extractorOpts := []ExtractorOption{WithExtractorLogger(e.logger)}
	if e.extractionPrompt != "" {
		extractorOpts = append(extractorOpts, WithExtractorPrompt(e.extractionPrompt))
	}
	e.extractor = NewFactExtractor(g, extractorOpts...)
	e.reconciler = NewReconciler(g, store, emb, WithReconcilerLogger(e.logger))
	return e
}

// Add ingests one user utterance. The raw text is always embedded and
// appended to the short-term buffer. With infer=false the text is
// stored verbatim as a single long-term record; with infer=true it runs
// the fact-extraction and reconciliation pipeline and the returned
// actions describe every long-term mutation made.
func (e *Engine) Add(ctx context.Context, text, userID string, infer bool) ([]MemoryAction, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", ErrInvalidInput)
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user_id", ErrInvalidInput)
	}

	ctx, span := e.startSpan(ctx, "memory.add",
		StringAttr("user_id", userID), BoolAttr("infer", infer))
	defer span.End()

	vec, err := e.embedder.Embed(ctx, text, PurposeAdd)
	if err != nil {
		span.Error(err)
		return nil, fmt.Errorf("embed message: %w", err)
	}
	e.stm.Add(userID, text, vec)

	if !infer {
		id, err := e.createMemory(ctx, text, vec, userID, MemorySemantic, nil)
		if err != nil {
			span.Error(err)
			return nil, err
		}
		return []MemoryAction{{ID: id, Text: text, Op: OpAdd}}, nil
	}

	facts, err := e.extractor.Extract(ctx, text)
	if err != nil {
		span.Error(err)
		return nil, fmt.Errorf("extract facts: %w", err)
	}
	if len(facts) == 0 {
		return []MemoryAction{}, nil
	}
	span.SetAttr(IntAttr("facts", len(facts)))

	candidates, err := e.reconciler.Candidates(ctx, facts, userID)
	if err != nil {
		span.Error(err)
		return nil, err
	}
	actions, err := e.reconciler.Reconcile(ctx, facts, candidates)
	if err != nil {
		span.Error(err)
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	applied := make([]MemoryAction, 0, len(actions))
	for _, act := range actions {
		switch act.Op {
		case OpAdd:
			avec, err := e.embedder.Embed(ctx, act.Text, PurposeAdd)
			if err != nil {
				span.Error(err)
				return applied, fmt.Errorf("embed fact: %w", err)
			}
			if _, err := e.createMemoryWithID(ctx, act.ID, act.Text, avec, userID, MemorySemantic, nil); err != nil {
				span.Error(err)
				return applied, err
			}
			applied = append(applied, act)

		case OpUpdate:
			uvec, err := e.embedder.Embed(ctx, act.Text, PurposeUpdate)
			if err != nil {
				span.Error(err)
				return applied, fmt.Errorf("embed update: %w", err)
			}
			prev, err := e.updateMemory(ctx, act.ID, act.Text, uvec, userID)
			if err != nil {
				span.Error(err)
				return applied, err
			}
			if act.PrevText == "" {
				act.PrevText = prev
			}
			applied = append(applied, act)

		case OpDelete:
			if err := e.deleteMemory(ctx, act.ID, act.Text); err != nil {
				span.Error(err)
				return applied, err
			}
			applied = append(applied, act)

		case OpNone:
			// No effect; surfaced for observability.
			applied = append(applied, act)
		}
	}
	return applied, nil
}

// Search returns a blended top-limit result list: long-term KNN hits at
// or above ltmThreshold (top 3 of k=10) merged with the user's last 5
// short-term entries at a synthetic 0.99 score.
func (e *Engine) Search(ctx context.Context, query, userID string, limit int, ltmThreshold float32) ([]MemoryItem, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user_id", ErrInvalidInput)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidInput)
	}

	ctx, span := e.startSpan(ctx, "memory.search", StringAttr("user_id", userID))
	defer span.End()

	qvec, err := e.embedder.Embed(ctx, query, PurposeSearch)
	if err != nil {
		span.Error(err)
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := e.store.Search(ctx, qvec, ltmFetchK, Filters{"user_id": userID})
	if err != nil {
		span.Error(err)
		return nil, fmt.Errorf("ltm search: %w", err)
	}

	var items []MemoryItem
	for _, h := range hits {
		if h.Score < ltmThreshold {
			continue
		}
		items = append(items, hitToItem(h))
		if len(items) == ltmTopN {
			break
		}
	}

	for _, st := range e.stm.Recent(userID, stmRecentN) {
		items = append(items, MemoryItem{
			ID:        st.ID,
			Memory:    st.Text,
			Score:     stmScore,
			CreatedAt: st.CreatedAt,
		})
	}

	sortItemsByScore(items)
	if len(items) > limit {
		items = items[:limit]
	}
	span.SetAttr(IntAttr("results", len(items)))
	return items, nil
}

// GetAll enumerates every long-term record for userID.
func (e *Engine) GetAll(ctx context.Context, userID string) ([]MemoryItem, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user_id", ErrInvalidInput)
	}
	rows, err := e.store.List(ctx, Filters{"user_id": userID}, 0)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	items := make([]MemoryItem, 0, len(rows))
	for _, h := range rows {
		items = append(items, hitToItem(h))
	}
	return items, nil
}

// DeleteAll removes every long-term record for userID, logging a DELETE
// per record. The short-term buffer for the user is cleared as well.
func (e *Engine) DeleteAll(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: missing user_id", ErrInvalidInput)
	}
	rows, err := e.store.List(ctx, Filters{"user_id": userID}, 0)
	if err != nil {
		return fmt.Errorf("list memories: %w", err)
	}
	for _, h := range rows {
		text, _ := h.Payload["data"].(string)
		if err := e.deleteMemory(ctx, h.ID, text); err != nil {
			return err
		}
	}
	e.stm.Clear(userID)
	return nil
}

// AddProcedural summarises a dialogue window with the generator and
// stores the result as a single procedural record, bypassing
// reconciliation. prompt overrides the built-in summary instruction
// when non-empty. The dialogue span is recorded in the record metadata.
func (e *Engine) AddProcedural(ctx context.Context, messages []ChatMessage, userID, prompt string) (MemoryAction, error) {
	if userID == "" {
		return MemoryAction{}, fmt.Errorf("%w: missing user_id", ErrInvalidInput)
	}
	if len(messages) == 0 {
		return MemoryAction{}, fmt.Errorf("%w: empty dialogue window", ErrInvalidInput)
	}

	ctx, span := e.startSpan(ctx, "memory.add_procedural",
		StringAttr("user_id", userID), IntAttr("messages", len(messages)))
	defer span.End()

	if prompt == "" {
		prompt = proceduralSummaryPrompt
	}

	var window strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&window, "%s: %s\n", m.Role, m.Content)
	}

	summary, err := e.generator.Generate(ctx, []ChatMessage{
		SystemMessage(prompt),
		UserMessage(window.String()),
	}, GenerateOptions{})
	if err != nil {
		span.Error(err)
		return MemoryAction{}, fmt.Errorf("summarise window: %w", err)
	}
	summary = strings.TrimSpace(summary)

	vec, err := e.embedder.Embed(ctx, summary, PurposeAdd)
	if err != nil {
		span.Error(err)
		return MemoryAction{}, fmt.Errorf("embed summary: %w", err)
	}

	meta := map[string]any{"dialogue_len": len(messages)}
	id, err := e.createMemory(ctx, summary, vec, userID, MemoryProcedural, meta)
	if err != nil {
		span.Error(err)
		return MemoryAction{}, err
	}
	return MemoryAction{ID: id, Text: summary, Op: OpAdd}, nil
}

// Reset wipes the vector store and every short-term buffer. The history
// log is retained; it is audit, not state.
func (e *Engine) Reset(ctx context.Context) error {
	if err := e.store.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	e.stm.Clear("")
	return nil
}

// --- internal mutations ---

func (e *Engine) createMemory(ctx context.Context, text string, vec []float32, userID string, mt MemoryType, meta map[string]any) (string, error) {
	return e.createMemoryWithID(ctx, NewID(), text, vec, userID, mt, meta)
}

func (e *Engine) createMemoryWithID(ctx context.Context, id, text string, vec []float32, userID string, mt MemoryType, meta map[string]any) (string, error) {
	now := NowUTC()
	payload := map[string]any{
		"data":        text,
		"hash":        textHash(text),
		"user_id":     userID,
		"created_at":  now,
		"memory_type": string(mt),
	}
	for k, v := range meta {
		payload[k] = v
	}

	if err := e.store.Insert(ctx, []string{id}, [][]float32{vec}, []map[string]any{payload}); err != nil {
		return "", fmt.Errorf("insert memory: %w", err)
	}
	e.logHistory(ctx, HistoryEvent{MemoryID: id, NewText: text, Op: OpAdd, CreatedAt: now})
	return id, nil
}

// updateMemory replaces the text and vector of an existing record,
// preserving its created_at. The prior record is read back via Get so
// the history entry can carry the previous text.
func (e *Engine) updateMemory(ctx context.Context, id, text string, vec []float32, userID string) (string, error) {
	prior, err := e.store.Get(ctx, id)
	if err != nil {
		return "", fmt.Errorf("get prior memory: %w", err)
	}
	prevText, _ := prior["data"].(string)
	createdAt, _ := prior["created_at"].(string)
	mt, _ := prior["memory_type"].(string)
	if mt == "" {
		mt = string(MemorySemantic)
	}

	now := NowUTC()
	payload := map[string]any{
		"data":        text,
		"hash":        textHash(text),
		"user_id":     userID,
		"created_at":  createdAt,
		"updated_at":  now,
		"memory_type": mt,
	}
	if err := e.store.Update(ctx, id, vec, payload); err != nil {
		return "", fmt.Errorf("update memory: %w", err)
	}
	e.logHistory(ctx, HistoryEvent{
		MemoryID: id, PrevText: prevText, NewText: text, Op: OpUpdate,
		CreatedAt: createdAt, UpdatedAt: now,
	})
	return prevText, nil
}

func (e *Engine) deleteMemory(ctx context.Context, id, text string) error {
	if err := e.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	e.logHistory(ctx, HistoryEvent{MemoryID: id, PrevText: text, Op: OpDelete, IsDeleted: true})
	return nil
}

// logHistory appends to the audit log. Failures are logged and
// swallowed; the log never rolls back a store mutation.
func (e *Engine) logHistory(ctx context.Context, ev HistoryEvent) {
	if e.history == nil {
		return
	}
	if err := e.history.Append(ctx, ev); err != nil {
		e.logger.Warn("history append failed", "memory_id", ev.MemoryID, "op", ev.Op, "error", err)
	}
}

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...SpanAttr) (context.Context, Span) {
	if e.tracer == nil {
		return ctx, nopSpan{}
	}
	return e.tracer.Start(ctx, name, attrs...)
}

// textHash is the duplicate-detection digest of a memory text. The text
// is NFC-normalised first so equivalent Unicode spellings hash alike.
func textHash(text string) string {
	sum := md5.Sum([]byte(norm.NFC.String(text)))
	return hex.EncodeToString(sum[:])
}

func hitToItem(h SearchHit) MemoryItem {
	item := MemoryItem{ID: h.ID, Score: h.Score}
	item.Memory, _ = h.Payload["data"].(string)
	item.Hash, _ = h.Payload["hash"].(string)
	item.CreatedAt, _ = h.Payload["created_at"].(string)
	item.UpdatedAt, _ = h.Payload["updated_at"].(string)
	return item
}

// sortItemsByScore sorts descending, stably, so short-term entries keep
// their insertion order among themselves.
func sortItemsByScore(items []MemoryItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Score > items[j].Score
	})
}

// nopSpan is used when no tracer is configured.
type nopSpan struct{}

func (nopSpan) SetAttr(...SpanAttr)       {}
func (nopSpan) Event(string, ...SpanAttr) {}
func (nopSpan) Error(error)               {}
func (nopSpan) End()                      {}
