// Package stt defines the Provider interface for Speech-to-Text backends.
//
// Providers are batch transcribers: the caller hands over a finished
// utterance as a WAV file on disk and receives the recognised text. The
// file belongs to the caller; providers only read it.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrNoPath is returned when a Request carries no file path.
var ErrNoPath = errors.New("stt: request has no audio path")

// Request describes one transcription job.
type Request struct {
	// Path is the location of a 16-bit PCM WAV file.
	Path string

	// Language is a BCP-47 or ISO-639-1 language hint ("en", "de-DE"). Empty
	// lets the provider use its configured default.
	Language string
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe returns the text recognised in req.Path. An empty string
	// with a nil error means the provider heard nothing intelligible;
	// callers decide how to treat that.
	Transcribe(ctx context.Context, req Request) (string, error)
}

// ProviderFunc adapts an ordinary function to the [Provider] interface.
type ProviderFunc func(ctx context.Context, req Request) (string, error)

// Transcribe calls f.
func (f ProviderFunc) Transcribe(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
