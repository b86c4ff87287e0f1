package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/recallkit/recall"
)

// streamSSE reads an SSE stream from body, sends text fragments to ch,
// and returns the fully accumulated text.
//
// The channel is closed when streaming completes. The context cancels
// channel sends when the consumer is no longer interested; returning
// lets the caller close the response body, which terminates the
// upstream call.
//
// SSE format expected:
//
//	data: {"id":"...","choices":[...]}\n
//	data: [DONE]\n
func streamSSE(ctx context.Context, body io.Reader, ch chan<- string, provider string) (string, error) {
	defer close(ch)

	scanner := bufio.NewScanner(body)
	// Increase buffer for large SSE payloads.
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	var full strings.Builder

	for scanner.Scan() {
		line := scanner.Text()

		// SSE lines that carry data start with "data: ".
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		// End-of-stream sentinel.
		if data == "[DONE]" {
			break
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip malformed chunks.
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta == nil {
			continue
		}

		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			full.WriteString(delta)
			select {
			case ch <- delta:
			case <-ctx.Done():
				return full.String(), ctx.Err()
			}
		}
	}

	if err := scanner.Err(); err != nil {
		// A cancelled context surfaces as a read error on the body.
		if ctx.Err() != nil {
			return full.String(), ctx.Err()
		}
		return full.String(), &recall.ErrLLM{Provider: provider, Message: "read stream: " + err.Error()}
	}
	return full.String(), nil
}
