// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider turns one piece of text into a complete WAV payload. The
// fallback chain in internal/resilience tries providers in order and writes
// the first non-empty payload to disk for playback.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrEmptyAudio is returned when a backend answers successfully but without
// any audio samples.
var ErrEmptyAudio = errors.New("tts: provider returned no audio")

// Voice selects the voice and language for one synthesis call. Zero values
// mean "provider default".
type Voice struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Language is a BCP-47 tag such as "en-US".
	Language string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts text to speech and returns a RIFF/WAVE payload
	// containing 16-bit PCM. Empty text is a caller error.
	Synthesize(ctx context.Context, text string, voice Voice) ([]byte, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, text string, voice Voice) ([]byte, error)

// Synthesize implements Provider.
func (f ProviderFunc) Synthesize(ctx context.Context, text string, voice Voice) ([]byte, error) {
	return f(ctx, text, voice)
}

// StatusError reports a non-2xx HTTP answer from a TTS backend. Retry
// policies inspect StatusCode to decide whether another attempt is useful.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s: unexpected status %d %s", e.Provider, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// StatusCode extracts the HTTP status from err if it wraps a *StatusError.
func StatusCode(err error) (int, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode, true
	}
	return 0, false
}
