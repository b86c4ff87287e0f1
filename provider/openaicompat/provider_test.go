package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/recallkit/recall"
)

func TestGenerate(t *testing.T) {
	var got chatRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatal(err)
		}
		json.NewEncoder(w).Encode(chatResponse{Choices: []choice{
			{Message: &message{Role: "assistant", Content: "hello there"}},
		}})
	}))
	defer ts.Close()

	p := NewProvider("test-key", "test-model", ts.URL)
	text, err := p.Generate(context.Background(), []recall.ChatMessage{
		recall.SystemMessage("be brief"),
		recall.UserMessage("hi"),
	}, recall.GenerateOptions{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "hello there" {
		t.Errorf("text = %q", text)
	}
	if got.Model != "test-model" || len(got.Messages) != 2 || got.Stream {
		t.Errorf("request = %+v", got)
	}
}

func TestGenerateJSONFormat(t *testing.T) {
	var got chatRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(chatResponse{Choices: []choice{
			{Message: &message{Content: "{}"}},
		}})
	}))
	defer ts.Close()

	p := NewProvider("", "m", ts.URL)
	if _, err := p.Generate(context.Background(), nil, recall.GenerateOptions{ResponseFormat: recall.FormatJSON}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got.ResponseFormat == nil || got.ResponseFormat.Type != "json_object" {
		t.Errorf("response_format = %+v", got.ResponseFormat)
	}
}

func TestGenerateProviderDefaults(t *testing.T) {
	var got chatRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(chatResponse{Choices: []choice{
			{Message: &message{Content: "ok"}},
		}})
	}))
	defer ts.Close()

	p := NewProvider("", "m", ts.URL,
		WithTemperature(0), WithTopP(0.9), WithMaxTokens(256))
	if _, err := p.Generate(context.Background(), nil, recall.GenerateOptions{}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got.Temperature == nil || *got.Temperature != 0 {
		t.Errorf("temperature = %v, want explicit 0", got.Temperature)
	}
	if got.TopP == nil || *got.TopP != 0.9 {
		t.Errorf("top_p = %v, want 0.9", got.TopP)
	}
	if got.MaxTokens != 256 {
		t.Errorf("max_tokens = %d, want 256", got.MaxTokens)
	}
}

func TestGenerateOptionOverrides(t *testing.T) {
	var got chatRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(chatResponse{Choices: []choice{
			{Message: &message{Content: "ok"}},
		}})
	}))
	defer ts.Close()

	p := NewProvider("", "m", ts.URL, WithTemperature(0.2), WithMaxTokens(100))
	temp := 0.9
	_, err := p.Generate(context.Background(), nil, recall.GenerateOptions{Temperature: &temp, MaxTokens: 500})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got.Temperature == nil || *got.Temperature != 0.9 {
		t.Errorf("temperature = %v, want per-call override", got.Temperature)
	}
	if got.MaxTokens != 500 {
		t.Errorf("max_tokens = %d", got.MaxTokens)
	}
}

func TestGenerateAPIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "rate limit exceeded"}}`))
	}))
	defer ts.Close()

	p := NewProvider("", "m", ts.URL)
	_, err := p.Generate(context.Background(), nil, recall.GenerateOptions{})

	var httpErr *recall.ErrHTTP
	if !errors.As(err, &httpErr) {
		t.Fatalf("err = %v, want *recall.ErrHTTP", err)
	}
	if httpErr.Status != http.StatusTooManyRequests || httpErr.Body != "rate limit exceeded" {
		t.Errorf("httpErr = %+v", httpErr)
	}
}

func TestGenerateEmptyChoices(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponse{})
	}))
	defer ts.Close()

	p := NewProvider("", "m", ts.URL)
	var llmErr *recall.ErrLLM
	if _, err := p.Generate(context.Background(), nil, recall.GenerateOptions{}); !errors.As(err, &llmErr) {
		t.Fatalf("err = %v, want *recall.ErrLLM", err)
	}
}
