package recall

import "context"

// Filters is a payload predicate: every key must match the stored
// payload value exactly. A nil map matches everything.
type Filters map[string]any

// SearchHit is one row returned by VectorStore.Search: the row id, its
// similarity score, and the stored payload.
type SearchHit struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// VectorStore is a persistent (vector, id, payload) index with filtered
// exact KNN. Implementations serialise mutations and the KNN scan per
// collection; readers observe either the pre- or post-mutation state,
// never a torn index.
type VectorStore interface {
	// Insert atomically appends n rows. The three slices must have equal
	// length and every vector must match the collection dimension.
	Insert(ctx context.Context, ids []string, vectors [][]float32, payloads []map[string]any) error
	// Search runs exact KNN over all rows, applies the payload predicate
	// after KNN, and returns at most k surviving hits in descending score
	// order. Empty stores and all-rejected filters return an empty slice,
	// never an error.
	Search(ctx context.Context, vector []float32, k int, filters Filters) ([]SearchHit, error)
	// Update replaces the vector and/or payload of an existing row.
	// A nil vector keeps the stored vector; a nil payload keeps the
	// stored payload.
	Update(ctx context.Context, id string, vector []float32, payload map[string]any) error
	// Delete removes a row. Deleting an unknown id is a no-op.
	Delete(ctx context.Context, id string) error
	// Get returns the payload for id, or nil if the row does not exist.
	Get(ctx context.Context, id string) (map[string]any, error)
	// List scans payloads matching filters, up to limit (0 = unlimited).
	List(ctx context.Context, filters Filters, limit int) ([]SearchHit, error)
	// Reset drops all rows, recreates the empty index, and persists it.
	Reset(ctx context.Context) error
}

// CollectionInfo describes a vector store collection.
type CollectionInfo struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
	Rows      int    `json:"rows"`
}
