package recall

// --- Domain types ---

// MemoryType distinguishes atomic facts from dialogue-window summaries.
type MemoryType string

const (
	// MemorySemantic is a single distilled fact (the default).
	MemorySemantic MemoryType = "semantic"
	// MemoryProcedural is a summary of a dialogue window.
	MemoryProcedural MemoryType = "procedural"
)

// MemoryRecord is the long-term memory unit stored in the vector index.
// CreatedAt is set once on creation; UpdatedAt is empty until the first
// mutation. Hash is the hex digest of Text, used only for duplicate
// detection. The embedding lives in the index, not here.
type MemoryRecord struct {
	ID         string         `json:"id"`
	Text       string         `json:"memory"`
	Hash       string         `json:"hash,omitempty"`
	UserID     string         `json:"user_id"`
	CreatedAt  string         `json:"created_at,omitempty"`
	UpdatedAt  string         `json:"updated_at,omitempty"`
	MemoryType MemoryType     `json:"memory_type,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ShortTermEntry is one slot of a per-user short-term buffer. It lives
// only in process memory.
type ShortTermEntry struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"-"`
	UserID    string    `json:"user_id"`
	CreatedAt string    `json:"created_at"`
}

// MemoryItem is a scored retrieval result returned by Engine.Search.
// Short-term entries carry a synthetic score of 0.99 so recency sorts
// above typical long-term hits.
type MemoryItem struct {
	ID        string  `json:"id"`
	Memory    string  `json:"memory"`
	Hash      string  `json:"hash,omitempty"`
	Score     float32 `json:"score"`
	CreatedAt string  `json:"created_at,omitempty"`
	UpdatedAt string  `json:"updated_at,omitempty"`
}

// Fact is a single declarative statement extracted from a user utterance.
// Transient, scoped to one ingest call.
type Fact struct {
	Text string `json:"text"`
}

// MemoryOp is a reconciliation decision for one fact.
type MemoryOp string

const (
	OpAdd    MemoryOp = "ADD"
	OpUpdate MemoryOp = "UPDATE"
	OpDelete MemoryOp = "DELETE"
	OpNone   MemoryOp = "NONE"
)

// MemoryAction is the outcome of reconciling one fact against existing
// memories. For UPDATE, PrevText carries the text being replaced.
type MemoryAction struct {
	ID       string   `json:"id"`
	Text     string   `json:"memory"`
	Op       MemoryOp `json:"event"`
	PrevText string   `json:"previous_memory,omitempty"`
}

// HistoryEvent is one row of the append-only mutation audit log.
type HistoryEvent struct {
	EventID   string   `json:"event_id"`
	MemoryID  string   `json:"memory_id"`
	PrevText  string   `json:"prev_text,omitempty"`
	NewText   string   `json:"new_text,omitempty"`
	Op        MemoryOp `json:"op"`
	CreatedAt string   `json:"created_at,omitempty"`
	UpdatedAt string   `json:"updated_at,omitempty"`
	IsDeleted bool     `json:"is_deleted"`
}

// --- LLM protocol types ---

// ChatMessage is a single message in a generator transcript.
type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// ResponseFormat tells the generator what output shape the caller expects.
type ResponseFormat string

const (
	// FormatFree places no constraint on the output.
	FormatFree ResponseFormat = "free"
	// FormatJSON asks for a single top-level JSON object. Output may
	// still arrive wrapped in code fences; callers strip them.
	FormatJSON ResponseFormat = "json_object"
)

// GenerateOptions carries per-call generation parameters. Nil pointer
// fields mean "provider default".
type GenerateOptions struct {
	ResponseFormat ResponseFormat `json:"response_format,omitempty"`
	Temperature    *float64       `json:"temperature,omitempty"`
	TopP           *float64       `json:"top_p,omitempty"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
}

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text}
}
