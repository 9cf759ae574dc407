// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to return controlled WAV payloads (or failures) and to verify
// which text and Voice reached the backend.
//
// Example:
//
//	p := &mock.Provider{Audio: audio.EncodeWAV(pcm, 16000, 1)}
//	wav, _ := p.Synthesize(ctx, "hello", tts.Voice{})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxbridge/pkg/provider/tts"
)

// Call records a single invocation of Synthesize.
type Call struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Text is the text passed to Synthesize.
	Text string
	// Voice is the Voice passed to Synthesize.
	Voice tts.Voice
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Audio is returned by Synthesize when Err is nil and SynthesizeFunc is nil.
	Audio []byte

	// Err, if non-nil, is returned by Synthesize.
	Err error

	// Errs, if non-empty, is consumed one element per call before falling
	// back to Err. A nil element means "succeed with Audio".
	Errs []error

	// SynthesizeFunc, if set, replaces the canned response entirely.
	SynthesizeFunc func(ctx context.Context, text string, voice tts.Voice) ([]byte, error)

	// --- Call records ---

	// Calls records every call to Synthesize in order.
	Calls []Call
}

// Synthesize records the call and returns the configured response.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) ([]byte, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, Call{Ctx: ctx, Text: text, Voice: voice})
	fn := p.SynthesizeFunc
	audio, err := p.Audio, p.Err
	if len(p.Errs) > 0 {
		err = p.Errs[0]
		p.Errs = p.Errs[1:]
	}
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text, voice)
	}
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(audio))
	copy(out, audio)
	return out, nil
}

// CallCount returns the number of Synthesize calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
