package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/recallkit/recall"
)

// Provider implements recall.Generator for any OpenAI-compatible API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	name    string

	temperature *float64
	topP        *float64
	maxTokens   int
}

var _ recall.Generator = (*Provider)(nil)

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithName overrides the provider name reported by Name().
func WithName(name string) ProviderOption {
	return func(p *Provider) { p.name = name }
}

// WithHTTPClient replaces the default http.Client (e.g. for timeouts).
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) { p.client = c }
}

// WithTemperature sets a default sampling temperature for every request.
func WithTemperature(t float64) ProviderOption {
	return func(p *Provider) { p.temperature = &t }
}

// WithTopP sets a default nucleus sampling top-p for every request.
func WithTopP(tp float64) ProviderOption {
	return func(p *Provider) { p.topP = &tp }
}

// WithMaxTokens sets a default output token cap for every request.
func WithMaxTokens(n int) ProviderOption {
	return func(p *Provider) { p.maxTokens = n }
}

// NewProvider creates an OpenAI-compatible chat provider.
//
// baseURL is the API base (e.g. "https://api.openai.com/v1",
// "http://localhost:11434/v1"). The /chat/completions path is appended
// automatically.
func NewProvider(apiKey, model, baseURL string, opts ...ProviderOption) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{},
		name:    "openai",
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name returns the provider name (default "openai").
func (p *Provider) Name() string { return p.name }

// Generate sends a non-streaming chat request and returns the response text.
func (p *Provider) Generate(ctx context.Context, messages []recall.ChatMessage, opts recall.GenerateOptions) (string, error) {
	resp, err := p.sendHTTP(ctx, p.buildBody(messages, opts, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", p.httpErr(resp)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", &recall.ErrLLM{Provider: p.name, Message: fmt.Sprintf("decode response: %v", err)}
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message == nil {
		return "", &recall.ErrLLM{Provider: p.name, Message: "empty response"}
	}
	return parsed.Choices[0].Message.Content, nil
}

// Stream streams text fragments into ch, then returns the accumulated
// text. The channel is closed when streaming completes or fails;
// cancelling ctx stops the upstream read promptly.
func (p *Provider) Stream(ctx context.Context, messages []recall.ChatMessage, opts recall.GenerateOptions, ch chan<- string) (string, error) {
	resp, err := p.sendHTTP(ctx, p.buildBody(messages, opts, true))
	if err != nil {
		close(ch)
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		close(ch)
		return "", p.httpErr(resp)
	}

	// streamSSE closes ch when done.
	return streamSSE(ctx, resp.Body, ch, p.name)
}

func (p *Provider) buildBody(messages []recall.ChatMessage, opts recall.GenerateOptions, stream bool) chatRequest {
	msgs := make([]message, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, message{Role: m.Role, Content: m.Content})
	}

	req := chatRequest{
		Model:       p.model,
		Messages:    msgs,
		Stream:      stream,
		Temperature: p.temperature,
		TopP:        p.topP,
		MaxTokens:   p.maxTokens,
	}
	if opts.Temperature != nil {
		req.Temperature = opts.Temperature
	}
	if opts.TopP != nil {
		req.TopP = opts.TopP
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.ResponseFormat == recall.FormatJSON {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return req
}

func (p *Provider) sendHTTP(ctx context.Context, body chatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &recall.ErrLLM{Provider: p.name, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, &recall.ErrLLM{Provider: p.name, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &recall.ErrLLM{Provider: p.name, Message: fmt.Sprintf("send request: %v", err)}
	}
	return resp, nil
}

func (p *Provider) httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var parsed apiError
	if json.Unmarshal(body, &parsed) == nil && parsed.Error.Message != "" {
		return &recall.ErrHTTP{Status: resp.StatusCode, Body: parsed.Error.Message}
	}
	return &recall.ErrHTTP{Status: resp.StatusCode, Body: string(body)}
}
