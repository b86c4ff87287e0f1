package recall

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// reconcileCandidateK is how many nearest memories are gathered per fact
// when building the reconciliation candidate set.
const reconcileCandidateK = 5

// Reconciler maps a batch of freshly extracted facts onto the existing
// memory set by asking a Generator for ADD/UPDATE/DELETE/NONE decisions.
// It validates the oracle's output strictly and fails closed: a
// decision referring to an unknown id is dropped with a warning, an
// unknown op is treated as NONE, and an unparseable response falls back
// to one ADD per fact so ingest never silently drops information.
type Reconciler struct {
	generator Generator
	store     VectorStore
	embedder  Embedder
	logger    *slog.Logger
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithReconcilerLogger sets a structured logger for dropped decisions
// and fallback events.
func WithReconcilerLogger(l *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.logger = l }
}

// NewReconciler creates a Reconciler over the given oracle, store, and
// embedder.
func NewReconciler(g Generator, store VectorStore, emb Embedder, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		generator: g,
		store:     store,
		embedder:  emb,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Candidates gathers the union of the nearest existing memories for
// each fact, filtered to userID. Procedural memories are excluded:
// they are dialogue summaries, not atomic facts, and must not be
// updated or deleted by fact reconciliation.
func (r *Reconciler) Candidates(ctx context.Context, facts []string, userID string) ([]MemoryRecord, error) {
	seen := make(map[string]bool)
	var out []MemoryRecord

	for _, fact := range facts {
		vec, err := r.embedder.Embed(ctx, fact, PurposeAdd)
		if err != nil {
			return nil, fmt.Errorf("embed fact: %w", err)
		}
		hits, err := r.store.Search(ctx, vec, reconcileCandidateK, Filters{"user_id": userID})
		if err != nil {
			return nil, fmt.Errorf("search candidates: %w", err)
		}
		for _, h := range hits {
			if seen[h.ID] {
				continue
			}
			if mt, _ := h.Payload["memory_type"].(string); mt == string(MemoryProcedural) {
				continue
			}
			seen[h.ID] = true
			text, _ := h.Payload["data"].(string)
			out = append(out, MemoryRecord{ID: h.ID, Text: text, UserID: userID})
		}
	}
	return out, nil
}

// Reconcile asks the oracle for one decision per fact, given the
// candidate set, and returns the validated actions. Fresh ids are
// allocated for ADD decisions; the oracle's placeholder ids are
// discarded.
func (r *Reconciler) Reconcile(ctx context.Context, facts []string, candidates []MemoryRecord) ([]MemoryAction, error) {
	prompt := buildReconcilePrompt(candidates, facts)
	resp, err := r.generator.Generate(ctx, []ChatMessage{UserMessage(prompt)},
		GenerateOptions{ResponseFormat: FormatJSON})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Memory []struct {
			ID        string `json:"id"`
			Text      string `json:"text"`
			Event     string `json:"event"`
			OldMemory string `json:"old_memory"`
		} `json:"memory"`
	}
	if err := json.Unmarshal([]byte(stripCodeFences(resp)), &parsed); err != nil {
		r.logger.Warn("reconciliation: unparseable oracle response, falling back to one ADD per fact", "error", err)
		return fallbackAdds(facts), nil
	}

	known := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		known[c.ID] = true
	}

	var actions []MemoryAction
	for _, d := range parsed.Memory {
		op := MemoryOp(d.Event)
		switch op {
		case OpAdd:
			actions = append(actions, MemoryAction{ID: NewID(), Text: d.Text, Op: OpAdd})
		case OpUpdate, OpDelete:
			if !known[d.ID] {
				r.logger.Warn("reconciliation: dropping decision for unknown memory id",
					"id", d.ID, "event", d.Event)
				continue
			}
			actions = append(actions, MemoryAction{ID: d.ID, Text: d.Text, Op: op, PrevText: d.OldMemory})
		case OpNone:
			actions = append(actions, MemoryAction{ID: d.ID, Text: d.Text, Op: OpNone})
		default:
			// Unknown op: fail closed to NONE.
			r.logger.Warn("reconciliation: unknown event treated as NONE", "event", d.Event)
			actions = append(actions, MemoryAction{ID: d.ID, Text: d.Text, Op: OpNone})
		}
	}
	return actions, nil
}

// fallbackAdds is the degenerate-but-safe path: one ADD per extracted
// fact with freshly generated ids.
func fallbackAdds(facts []string) []MemoryAction {
	actions := make([]MemoryAction, 0, len(facts))
	for _, f := range facts {
		actions = append(actions, MemoryAction{ID: NewID(), Text: f, Op: OpAdd})
	}
	return actions
}
