package recall

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
)

// FactExtractor distils a single user utterance into atomic facts using
// a Generator. It is deterministic about its output shape even when the
// model is not: any transport or parse failure is coerced to "no facts".
type FactExtractor struct {
	generator Generator
	prompt    string
	logger    *slog.Logger
}

// ExtractorOption configures a FactExtractor.
type ExtractorOption func(*FactExtractor)

// WithExtractorPrompt overrides the built-in extraction system prompt.
func WithExtractorPrompt(prompt string) ExtractorOption {
	return func(e *FactExtractor) { e.prompt = prompt }
}

// WithExtractorLogger sets a structured logger for parse failures.
func WithExtractorLogger(l *slog.Logger) ExtractorOption {
	return func(e *FactExtractor) { e.logger = l }
}

// NewFactExtractor creates a FactExtractor backed by the given generator.
func NewFactExtractor(g Generator, opts ...ExtractorOption) *FactExtractor {
	e := &FactExtractor{
		generator: g,
		prompt:    factExtractionPrompt,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract returns the facts contained in message, or an empty list when
// the model output cannot be parsed. A generator transport error is
// returned as-is so the caller can surface it.
func (e *FactExtractor) Extract(ctx context.Context, message string) ([]string, error) {
	resp, err := e.generator.Generate(ctx, []ChatMessage{
		SystemMessage(e.prompt),
		UserMessage("Input:\n" + message),
	}, GenerateOptions{ResponseFormat: FormatJSON})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Facts []string `json:"facts"`
	}
	if err := json.Unmarshal([]byte(stripCodeFences(resp)), &parsed); err != nil {
		e.logger.Warn("fact extraction: unparseable response, treating as no facts", "error", err)
		return nil, nil
	}

	var facts []string
	for _, f := range parsed.Facts {
		if t := strings.TrimSpace(f); t != "" {
			facts = append(facts, t)
		}
	}
	return facts, nil
}
