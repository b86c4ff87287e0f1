package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/recallkit/recall"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	h := New(filepath.Join(t.TempDir(), "history.db"))
	if err := h.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestAppendFillsDefaults(t *testing.T) {
	h := newTestLog(t)

	ev := recall.HistoryEvent{MemoryID: "m1", NewText: "User likes tea", Op: recall.OpAdd}
	if err := h.Append(context.Background(), ev); err != nil {
		t.Fatalf("Append: %v", err)
	}

	events, err := h.List(context.Background(), "m1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].EventID == "" || events[0].CreatedAt == "" {
		t.Errorf("defaults not filled: %+v", events[0])
	}
	if events[0].Op != recall.OpAdd || events[0].NewText != "User likes tea" {
		t.Errorf("event = %+v", events[0])
	}
}

func TestListAppendOrder(t *testing.T) {
	h := newTestLog(t)

	lifecycle := []recall.HistoryEvent{
		{MemoryID: "m1", NewText: "User likes tea", Op: recall.OpAdd},
		{MemoryID: "m1", PrevText: "User likes tea", NewText: "User likes oolong", Op: recall.OpUpdate},
		{MemoryID: "m1", PrevText: "User likes oolong", Op: recall.OpDelete, IsDeleted: true},
	}
	for _, ev := range lifecycle {
		if err := h.Append(context.Background(), ev); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	events, err := h.List(context.Background(), "m1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	wantOps := []recall.MemoryOp{recall.OpAdd, recall.OpUpdate, recall.OpDelete}
	for i, op := range wantOps {
		if events[i].Op != op {
			t.Errorf("events[%d].Op = %s, want %s", i, events[i].Op, op)
		}
	}
	if !events[2].IsDeleted {
		t.Errorf("delete event lost is_deleted flag")
	}
}

func TestListScopedToMemory(t *testing.T) {
	h := newTestLog(t)

	_ = h.Append(context.Background(), recall.HistoryEvent{MemoryID: "m1", Op: recall.OpAdd})
	_ = h.Append(context.Background(), recall.HistoryEvent{MemoryID: "m2", Op: recall.OpAdd})

	events, err := h.List(context.Background(), "m1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 1 || events[0].MemoryID != "m1" {
		t.Errorf("events = %+v", events)
	}
}

func TestListUnknownMemory(t *testing.T) {
	h := newTestLog(t)

	events, err := h.List(context.Background(), "nothing")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events = %+v", events)
	}
}
