package recall

import (
	"fmt"
	"sync"
)

// DefaultSTMItems is the per-user short-term buffer capacity.
const DefaultSTMItems = 32

// ShortTermBuffer holds the last N utterances per user, with their
// embeddings, so recent turns can be ranked together with long-term
// hits. FIFO eviction, no persistence; it lives only for the current
// process. Safe for concurrent use.
type ShortTermBuffer struct {
	mu       sync.Mutex
	maxItems int
	users    map[string][]ShortTermEntry
	seq      int
}

// NewShortTermBuffer creates a buffer keeping at most maxItems entries
// per user. maxItems <= 0 falls back to DefaultSTMItems.
func NewShortTermBuffer(maxItems int) *ShortTermBuffer {
	if maxItems <= 0 {
		maxItems = DefaultSTMItems
	}
	return &ShortTermBuffer{
		maxItems: maxItems,
		users:    make(map[string][]ShortTermEntry),
	}
}

// Add appends an utterance for userID, silently evicting the oldest
// entry when the buffer is full.
func (b *ShortTermBuffer) Add(userID, text string, embedding []float32) ShortTermEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	e := ShortTermEntry{
		ID:        fmt.Sprintf("stm-%d", b.seq),
		Text:      text,
		Embedding: embedding,
		UserID:    userID,
		CreatedAt: NowUTC(),
	}

	buf := append(b.users[userID], e)
	if len(buf) > b.maxItems {
		buf = buf[len(buf)-b.maxItems:]
	}
	b.users[userID] = buf
	return e
}

// Recent returns the last n entries for userID in insertion order.
func (b *ShortTermBuffer) Recent(userID string, n int) []ShortTermEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf := b.users[userID]
	if n <= 0 || n > len(buf) {
		n = len(buf)
	}
	out := make([]ShortTermEntry, n)
	copy(out, buf[len(buf)-n:])
	return out
}

// Len returns the number of buffered entries for userID.
func (b *ShortTermBuffer) Len(userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.users[userID])
}

// Clear drops the buffer for userID, or every buffer when userID is "".
func (b *ShortTermBuffer) Clear(userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if userID == "" {
		b.users = make(map[string][]ShortTermEntry)
		return
	}
	delete(b.users, userID)
}
