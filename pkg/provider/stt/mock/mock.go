// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider to feed controlled transcripts and to verify which files the
// caller submitted. The mock reads each file while it still exists so tests
// can inspect the bytes after the caller removed it.
//
// Example:
//
//	p := &mock.Provider{Text: "hello"}
//	text, _ := p.Transcribe(ctx, stt.Request{Path: "/tmp/u.wav"})
package mock

import (
	"context"
	"os"
	"sync"

	"github.com/MrWong99/voxbridge/pkg/provider/stt"
)

// Call records a single invocation of Transcribe.
type Call struct {
	Req stt.Request

	// Data is the file content at call time; nil if it could not be read.
	Data []byte
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Text is returned by Transcribe.
	Text string

	// Err, if non-nil, is returned by Transcribe.
	Err error

	// Calls records every invocation in order.
	Calls []Call
}

var _ stt.Provider = (*Provider)(nil)

// Transcribe records the call and returns Text, Err.
func (p *Provider) Transcribe(_ context.Context, req stt.Request) (string, error) {
	data, _ := os.ReadFile(req.Path)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, Call{Req: req, Data: data})
	return p.Text, p.Err
}

// CallCount returns the number of Transcribe calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}
