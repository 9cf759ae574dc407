// Package openai provides an STT provider backed by the OpenAI audio
// transcription endpoint (whisper-1).
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/voxbridge/pkg/provider/stt"
)

const defaultLanguage = "en"

// Option is a functional option for Provider.
type Option func(*Provider)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithModel overrides the transcription model. Defaults to whisper-1.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = oai.AudioModel(model) }
}

// WithLanguage sets the default language when a request carries none.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.timeout = d }
}

// Provider implements stt.Provider using OpenAI's hosted Whisper.
type Provider struct {
	client   oai.Client
	baseURL  string
	model    oai.AudioModel
	language string
	timeout  time.Duration
}

var _ stt.Provider = (*Provider)(nil)

// New constructs an OpenAI STT provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	p := &Provider{model: oai.AudioModelWhisper1, language: defaultLanguage}
	for _, o := range opts {
		o(p)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if p.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(p.baseURL))
	}
	if p.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: p.timeout}))
	}
	p.client = oai.NewClient(reqOpts...)
	return p, nil
}

// Transcribe uploads the WAV file at req.Path and returns the recognised text.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	if req.Path == "" {
		return "", fmt.Errorf("openai: %w", stt.ErrNoPath)
	}
	f, err := os.Open(req.Path)
	if err != nil {
		return "", fmt.Errorf("openai: open audio: %w", err)
	}
	defer f.Close()

	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	params := oai.AudioTranscriptionNewParams{
		File:  f,
		Model: p.model,
	}
	if lang != "" {
		params.Language = oai.String(baseLanguage(lang))
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: transcribe: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// baseLanguage reduces a BCP-47 tag to the ISO-639-1 code the endpoint
// accepts ("en-US" → "en").
func baseLanguage(tag string) string {
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		return strings.ToLower(tag[:i])
	}
	return strings.ToLower(tag)
}
