// Package flat implements recall.VectorStore as a flat exact index held
// in memory and flushed to disk after every mutation. No ANN structure,
// no CGO: scoring is a brute-force scan, which is exact and fast enough
// for per-user memory sets.
//
// Two sibling files per collection:
//
//	<root>/<collection>.index        binary vector dump (insertion order)
//	<root>/<collection>.payload.json id -> payload object
//
// Both are written to a temporary file and renamed, so a crashed flush
// never leaves a torn file. Corrupt files at load are logged and
// ignored; the store starts empty rather than failing construction.
package flat

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/recallkit/recall"
)

// Metric selects the similarity function fixed at construction.
type Metric string

const (
	// MetricIP scores by inner product, which is cosine when callers supply
	// unit-normalised vectors.
	MetricIP Metric = "IP"
	// MetricL2 scores by negative Euclidean distance.
	MetricL2 Metric = "L2"
)

// Store is a persistent flat (vector, id, payload) index. All mutations
// and the KNN scan are serialised on one RWMutex: single writer,
// multiple readers, flush inside the critical section.
type Store struct {
	mu sync.RWMutex

	collection string
	dim        int
	metric     Metric

	idxPath     string
	payloadPath string

	ids      []string // insertion order, drives tie-breaks
	vectors  map[string][]float32
	payloads map[string]map[string]any

	logger *slog.Logger
}

var _ recall.VectorStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a structured logger. When set, the store logs load
// failures and flush activity. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates (or reopens) a flat store rooted at dir. Saved state for
// the collection is loaded when present; unreadable state is logged and
// discarded. The dimension and metric are fixed for the collection's
// lifetime.
func New(dir, collection string, dim int, metric Metric, opts ...Option) (*Store, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("flat: dimension must be positive, got %d", dim)
	}
	if metric != MetricIP && metric != MetricL2 {
		return nil, fmt.Errorf("flat: unsupported metric %q", metric)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("flat: create root: %w", err)
	}

	s := &Store{
		collection:  collection,
		dim:         dim,
		metric:      metric,
		idxPath:     fmt.Sprintf("%s/%s.index", dir, collection),
		payloadPath: fmt.Sprintf("%s/%s.payload.json", dir, collection),
		vectors:     make(map[string][]float32),
		payloads:    make(map[string]map[string]any),
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(s)
	}
	s.load()
	return s, nil
}

// Info describes the collection.
func (s *Store) Info() recall.CollectionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return recall.CollectionInfo{
		Name:      s.collection,
		Dimension: s.dim,
		Metric:    string(s.metric),
		Rows:      len(s.ids),
	}
}

// Insert atomically appends rows and flushes.
func (s *Store) Insert(_ context.Context, ids []string, vectors [][]float32, payloads []map[string]any) error {
	if len(ids) != len(vectors) || len(ids) != len(payloads) {
		return &recall.ErrStore{Op: "insert", Message: fmt.Sprintf(
			"mismatched lengths: %d ids, %d vectors, %d payloads", len(ids), len(vectors), len(payloads))}
	}
	for i, v := range vectors {
		if len(v) != s.dim {
			return &recall.ErrStore{Op: "insert", Message: fmt.Sprintf(
				"vector %d: dimension %d, want %d", i, len(v), s.dim)}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Reject the whole batch before touching state, so a failed Insert
	// never leaves a partial batch behind for a later flush to persist.
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := s.vectors[id]; dup {
			return &recall.ErrStore{Op: "insert", Message: "duplicate id " + id}
		}
		if _, dup := seen[id]; dup {
			return &recall.ErrStore{Op: "insert", Message: "duplicate id " + id}
		}
		seen[id] = struct{}{}
	}

	for i, id := range ids {
		vec := make([]float32, s.dim)
		copy(vec, vectors[i])
		s.ids = append(s.ids, id)
		s.vectors[id] = vec
		s.payloads[id] = sanitizePayload(payloads[i])
	}
	return s.save()
}

// Search runs an exact scan, keeps the k nearest (ties broken by
// insertion order), then applies the payload predicate and returns the
// survivors in descending score order. Never errors on empty queries.
func (s *Store) Search(_ context.Context, vector []float32, k int, filters recall.Filters) ([]recall.SearchHit, error) {
	if k <= 0 || len(vector) != s.dim {
		return []recall.SearchHit{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		id    string
		score float32
	}
	all := make([]scored, 0, len(s.ids))
	for _, id := range s.ids {
		all = append(all, scored{id: id, score: s.score(vector, s.vectors[id])})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].score > all[j].score })
	if len(all) > k {
		all = all[:k]
	}

	hits := make([]recall.SearchHit, 0, len(all))
	for _, c := range all {
		pl := s.payloads[c.id]
		if !matches(pl, filters) {
			continue
		}
		hits = append(hits, recall.SearchHit{ID: c.id, Score: c.score, Payload: copyPayload(pl)})
	}
	return hits, nil
}

// Update replaces the vector and/or payload of id in place, keeping its
// insertion position, and flushes.
func (s *Store) Update(_ context.Context, id string, vector []float32, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.vectors[id]; !ok {
		return &recall.ErrStore{Op: "update", Message: "unknown id " + id}
	}
	if vector != nil {
		if len(vector) != s.dim {
			return &recall.ErrStore{Op: "update", Message: fmt.Sprintf(
				"dimension %d, want %d", len(vector), s.dim)}
		}
		vec := make([]float32, s.dim)
		copy(vec, vector)
		s.vectors[id] = vec
	}
	if payload != nil {
		s.payloads[id] = sanitizePayload(payload)
	}
	return s.save()
}

// Delete removes id and flushes. Unknown ids are a no-op.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.vectors[id]; !ok {
		return nil
	}
	for i, existing := range s.ids {
		if existing == id {
			s.ids = append(s.ids[:i], s.ids[i+1:]...)
			break
		}
	}
	delete(s.vectors, id)
	delete(s.payloads, id)
	return s.save()
}

// Get returns a copy of the payload for id, or nil when absent.
func (s *Store) Get(_ context.Context, id string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pl, ok := s.payloads[id]
	if !ok {
		return nil, nil
	}
	return copyPayload(pl), nil
}

// List scans payloads in insertion order, applying filters and limit
// (0 = unlimited).
func (s *Store) List(_ context.Context, filters recall.Filters, limit int) ([]recall.SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []recall.SearchHit
	for _, id := range s.ids {
		pl := s.payloads[id]
		if !matches(pl, filters) {
			continue
		}
		out = append(out, recall.SearchHit{ID: id, Payload: copyPayload(pl)})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Reset drops all rows, recreates the empty index, and persists it.
func (s *Store) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ids = nil
	s.vectors = make(map[string][]float32)
	s.payloads = make(map[string]map[string]any)
	return s.save()
}

// score applies the collection metric. IP is a plain dot product; L2 is
// negative Euclidean so higher is always better.
func (s *Store) score(a, b []float32) float32 {
	switch s.metric {
	case MetricL2:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return float32(-math.Sqrt(sum))
	default: // MetricIP
		var dot float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
		}
		return float32(dot)
	}
}

func matches(payload map[string]any, filters recall.Filters) bool {
	for k, want := range filters {
		if fmt.Sprint(payload[k]) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func copyPayload(pl map[string]any) map[string]any {
	out := make(map[string]any, len(pl))
	for k, v := range pl {
		out[k] = v
	}
	return out
}
