package recall

import "context"

// HistoryLog is an append-only journal of memory mutations keyed by
// memory id. It is best-effort audit, not the system of record: a
// failed append never rolls back a vector store mutation.
type HistoryLog interface {
	// Append writes one event. EventID and CreatedAt are filled in when
	// empty. Writes are synchronous and serialised by the implementation.
	Append(ctx context.Context, ev HistoryEvent) error
	// List returns all events for a memory id in append order.
	List(ctx context.Context, memoryID string) ([]HistoryEvent, error)
	// Init creates backing tables.
	Init(ctx context.Context) error
	Close() error
}
