// Package postgres implements recall.HistoryLog using PostgreSQL, for
// deployments where the audit trail must live alongside other service
// state rather than in a local file.
//
// The Log accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool; Close on the Log
// is a no-op.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/recallkit/recall"
)

// Log implements recall.HistoryLog backed by PostgreSQL.
type Log struct {
	pool *pgxpool.Pool
}

var _ recall.HistoryLog = (*Log)(nil)

// New creates a history log using an existing pgxpool.Pool.
func New(pool *pgxpool.Pool) *Log {
	return &Log{pool: pool}
}

// Init creates the history table.
func (h *Log) Init(ctx context.Context) error {
	_, err := h.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS history (
		event_id TEXT PRIMARY KEY,
		memory_id TEXT NOT NULL,
		prev_text TEXT,
		new_text TEXT,
		op TEXT NOT NULL,
		created_at TEXT,
		updated_at TEXT,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE
	)`)
	if err != nil {
		return fmt.Errorf("create history table: %w", err)
	}
	_, err = h.pool.Exec(ctx,
		`CREATE INDEX IF NOT EXISTS idx_history_memory_id ON history (memory_id)`)
	if err != nil {
		return fmt.Errorf("create history index: %w", err)
	}
	return nil
}

// Append writes one event. EventID and CreatedAt are filled in when empty.
func (h *Log) Append(ctx context.Context, ev recall.HistoryEvent) error {
	if ev.EventID == "" {
		ev.EventID = recall.NewID()
	}
	if ev.CreatedAt == "" {
		ev.CreatedAt = recall.NowUTC()
	}
	_, err := h.pool.Exec(ctx,
		`INSERT INTO history (event_id, memory_id, prev_text, new_text, op, created_at, updated_at, is_deleted)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.EventID, ev.MemoryID, ev.PrevText, ev.NewText, string(ev.Op),
		ev.CreatedAt, ev.UpdatedAt, ev.IsDeleted)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// List returns all events for memoryID in append order. Event ids are
// UUIDv7, so lexicographic order is append order.
func (h *Log) List(ctx context.Context, memoryID string) ([]recall.HistoryEvent, error) {
	rows, err := h.pool.Query(ctx,
		`SELECT event_id, memory_id, prev_text, new_text, op, created_at, updated_at, is_deleted
		 FROM history WHERE memory_id = $1 ORDER BY event_id`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var events []recall.HistoryEvent
	for rows.Next() {
		var ev recall.HistoryEvent
		var op string
		if err := rows.Scan(&ev.EventID, &ev.MemoryID, &ev.PrevText, &ev.NewText,
			&op, &ev.CreatedAt, &ev.UpdatedAt, &ev.IsDeleted); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		ev.Op = recall.MemoryOp(op)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Close is a no-op. The pool is owned by the caller.
func (h *Log) Close() error { return nil }
