package recall

import (
	"errors"
	"fmt"
)

// ErrInvalidInput marks caller mistakes: missing user_id, empty text,
// non-positive limits. Surfaced, never retried.
var ErrInvalidInput = errors.New("invalid input")

// ErrLLM is a generator transport or backend failure.
type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrEmbedding is an embedder transport or backend failure. Fatal to the
// current request, never to the process.
type ErrEmbedding struct {
	Provider string
	Message  string
}

func (e *ErrEmbedding) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrStore is a vector store or history log I/O failure.
type ErrStore struct {
	Op      string
	Message string
}

func (e *ErrStore) Error() string {
	return fmt.Sprintf("store %s: %s", e.Op, e.Message)
}

// ErrHTTP is a non-2xx response from a provider endpoint.
type ErrHTTP struct {
	Status int
	Body   string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}
