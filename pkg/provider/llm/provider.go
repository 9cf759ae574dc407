// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (OpenAI, Anthropic via
// any-llm-go, Groq, a local llama.cpp server, ...) and exposes a uniform
// interface for the assistant to request completions without coupling to any
// specific SDK.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// FinishReasonError marks a chunk that carries a mid-stream failure. Its Text
// holds the backend's error message.
const FinishReasonError = "error"

// ErrStream is returned by [Collect] when the stream reported a failure.
var ErrStream = errors.New("llm: stream failed")

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// typically from the user and drives the response.
	Messages []Message

	// Temperature controls output randomness in the range [0.0, 2.0]. Zero
	// leaves the provider default in place.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int

	// SystemPrompt is an optional instruction injected before the
	// conversation history as a system-role message.
	SystemPrompt string
}

// Chunk is a single token or fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental text content of this chunk.
	Text string

	// FinishReason is set on the final chunk: "stop", "length", or
	// [FinishReasonError]. Empty on intermediate chunks.
	FinishReason string
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines. Each
// method should propagate context cancellation promptly.
type Provider interface {
	// StreamCompletion sends req to the model and returns a read-only channel
	// that emits Chunk values as they arrive. The channel is closed when
	// generation finishes or ctx is cancelled. Callers must drain it.
	//
	// Errors after the stream opened are surfaced as a Chunk with
	// FinishReason [FinishReasonError]; the error return is non-nil only when
	// the stream could not start.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata about the underlying model.
	Capabilities() ModelCapabilities
}

// Collect drains ch and concatenates chunk text in arrival order. A chunk
// with FinishReason [FinishReasonError] yields an error wrapping [ErrStream];
// the text received before it is still returned.
func Collect(ctx context.Context, ch <-chan Chunk) (string, error) {
	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return sb.String(), fmt.Errorf("llm: collect stream: %w", ctx.Err())
		case c, ok := <-ch:
			if !ok {
				return sb.String(), nil
			}
			if c.FinishReason == FinishReasonError {
				// Drain so the producer goroutine can exit.
				go func() {
					for range ch {
					}
				}()
				return sb.String(), fmt.Errorf("%w: %s", ErrStream, c.Text)
			}
			sb.WriteString(c.Text)
		}
	}
}
