package recall

import "context"

// Purpose tells an embedding backend why a text is being embedded.
// Advisory only; it lets backends pick task-specific endpoints and
// never affects dimensionality.
type Purpose string

const (
	PurposeAdd    Purpose = "add"
	PurposeUpdate Purpose = "update"
	PurposeSearch Purpose = "search"
)

// Generator abstracts the LLM backend.
type Generator interface {
	// Generate sends a transcript and returns the complete response text.
	Generate(ctx context.Context, messages []ChatMessage, opts GenerateOptions) (string, error)
	// Stream streams UTF-8 fragments into ch in order, then returns the
	// full accumulated text. The channel is closed when streaming
	// completes or fails; cancelling ctx terminates the upstream call.
	Stream(ctx context.Context, messages []ChatMessage, opts GenerateOptions, ch chan<- string) (string, error)
	// Name returns the provider name (e.g. "openai").
	Name() string
}

// Embedder abstracts text embedding. Vectors are unit-length or raw
// depending on the metric the vector store was built with.
type Embedder interface {
	// Embed maps text to a dense vector of fixed dimension.
	Embed(ctx context.Context, text string, purpose Purpose) ([]float32, error)
	// Dimensions returns the embedding vector size.
	Dimensions() int
	// Name returns the provider name.
	Name() string
}
