// Package openaicompat implements recall.Generator and recall.Embedder
// over any OpenAI-compatible API (OpenAI, OpenRouter, Groq, Together,
// DeepSeek, Mistral, Ollama, vLLM, LM Studio, Azure OpenAI, ...).
package openaicompat

// --- Request types ---

// chatRequest is the OpenAI chat completions request body.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	Stream         bool            `json:"stream,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	TopP           *float64        `json:"top_p,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

// responseFormat constrains the output shape ("json_object" asks for a
// single top-level JSON object).
type responseFormat struct {
	Type string `json:"type"`
}

// message is a single message in the OpenAI chat format.
type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// --- Response types ---

// chatResponse is the OpenAI chat completions response body. During
// streaming the same shape carries Delta instead of Message.
type chatResponse struct {
	Choices []choice `json:"choices"`
}

type choice struct {
	Message *message `json:"message,omitempty"`
	Delta   *message `json:"delta,omitempty"`
}

// --- Embeddings ---

type embedRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	EncodingFormat string `json:"encoding_format"`
	Dimensions     int    `json:"dimensions,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// apiError is the error envelope OpenAI-compatible APIs return.
type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
