// Package sqlite implements recall.HistoryLog using pure-Go SQLite.
// Zero CGO required. This is the default audit backend for local
// deployments; server deployments can use history/postgres instead.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/recallkit/recall"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Log implements recall.HistoryLog backed by a local SQLite file.
type Log struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ recall.HistoryLog = (*Log)(nil)

// Option configures a Log.
type Option func(*Log)

// WithLogger sets a structured logger for append activity.
func WithLogger(l *slog.Logger) Option {
	return func(h *Log) { h.logger = l }
}

// New creates a history log at dbPath. It opens a single shared
// connection pool with SetMaxOpenConns(1) so all goroutines serialise
// through one connection, eliminating SQLITE_BUSY errors from
// concurrent writers.
func New(dbPath string, opts ...Option) *Log {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	h := &Log{db: db, logger: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Init creates the history table.
func (h *Log) Init(ctx context.Context) error {
	_, err := h.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS history (
		event_id TEXT PRIMARY KEY,
		memory_id TEXT NOT NULL,
		prev_text TEXT,
		new_text TEXT,
		op TEXT NOT NULL,
		created_at TEXT,
		updated_at TEXT,
		is_deleted INTEGER NOT NULL DEFAULT 0
	)`)
	if err != nil {
		return fmt.Errorf("create history table: %w", err)
	}
	_, err = h.db.ExecContext(ctx,
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
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO history (event_id, memory_id, prev_text, new_text, op, created_at, updated_at, is_deleted)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID, ev.MemoryID, ev.PrevText, ev.NewText, string(ev.Op),
		ev.CreatedAt, ev.UpdatedAt, boolToInt(ev.IsDeleted))
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	h.logger.Debug("history: appended", "memory_id", ev.MemoryID, "op", ev.Op)
	return nil
}

// List returns all events for memoryID in append order.
func (h *Log) List(ctx context.Context, memoryID string) ([]recall.HistoryEvent, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT event_id, memory_id, prev_text, new_text, op, created_at, updated_at, is_deleted
		 FROM history WHERE memory_id = ? ORDER BY event_id`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var events []recall.HistoryEvent
	for rows.Next() {
		var ev recall.HistoryEvent
		var op string
		var deleted int
		if err := rows.Scan(&ev.EventID, &ev.MemoryID, &ev.PrevText, &ev.NewText,
			&op, &ev.CreatedAt, &ev.UpdatedAt, &deleted); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		ev.Op = recall.MemoryOp(op)
		ev.IsDeleted = deleted != 0
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Close releases the underlying connection.
func (h *Log) Close() error {
	return h.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
