package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"

	"github.com/recallkit/recall"
)

// Embedding implements recall.Embedder over the /embeddings endpoint of
// an OpenAI-compatible API.
type Embedding struct {
	apiKey    string
	model     string
	baseURL   string
	dims      int
	client    *http.Client
	name      string
	normalize bool
}

var _ recall.Embedder = (*Embedding)(nil)

// EmbeddingOption configures an Embedding.
type EmbeddingOption func(*Embedding)

// WithEmbeddingName overrides the provider name reported by Name().
func WithEmbeddingName(name string) EmbeddingOption {
	return func(e *Embedding) { e.name = name }
}

// WithEmbeddingHTTPClient replaces the default http.Client.
func WithEmbeddingHTTPClient(c *http.Client) EmbeddingOption {
	return func(e *Embedding) { e.client = c }
}

// WithUnitNorm scales every returned vector to unit length. Use this
// with inner-product vector stores so scores behave like cosine
// similarity.
func WithUnitNorm() EmbeddingOption {
	return func(e *Embedding) { e.normalize = true }
}

// NewEmbedding creates an OpenAI-compatible embedding provider. The
// /embeddings path is appended to baseURL automatically.
func NewEmbedding(apiKey, model, baseURL string, dims int, opts ...EmbeddingOption) *Embedding {
	e := &Embedding{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		dims:    dims,
		client:  &http.Client{},
		name:    "openai",
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Name returns the provider name (default "openai").
func (e *Embedding) Name() string { return e.name }

// Dimensions returns the configured embedding dimensionality.
func (e *Embedding) Dimensions() int { return e.dims }

// Embed maps text to a dense vector. The purpose is advisory and this
// backend ignores it; OpenAI-compatible APIs use one endpoint for all
// tasks.
func (e *Embedding) Embed(ctx context.Context, text string, _ recall.Purpose) ([]float32, error) {
	payload, err := json.Marshal(embedRequest{
		Model:          e.model,
		Input:          text,
		EncodingFormat: "float",
		Dimensions:     e.dims,
	})
	if err != nil {
		return nil, &recall.ErrEmbedding{Provider: e.name, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, &recall.ErrEmbedding{Provider: e.name, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, &recall.ErrEmbedding{Provider: e.name, Message: fmt.Sprintf("send request: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &recall.ErrEmbedding{Provider: e.name,
			Message: fmt.Sprintf("http %d: %s", resp.StatusCode, body)}
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &recall.ErrEmbedding{Provider: e.name, Message: fmt.Sprintf("decode response: %v", err)}
	}
	if len(parsed.Data) == 0 {
		return nil, &recall.ErrEmbedding{Provider: e.name, Message: "no embedding returned"}
	}

	vec := parsed.Data[0].Embedding
	if e.dims > 0 && len(vec) != e.dims {
		return nil, &recall.ErrEmbedding{Provider: e.name,
			Message: fmt.Sprintf("dimension %d, want %d", len(vec), e.dims)}
	}
	if e.normalize {
		unitNorm(vec)
	}
	return vec, nil
}

// unitNorm scales vec to unit length in place. Zero vectors pass
// through unchanged.
func unitNorm(vec []float32) {
	var sum float64
	for _, f := range vec {
		sum += float64(f) * float64(f)
	}
	n := math.Sqrt(sum)
	if n == 0 {
		return
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / n)
	}
}
