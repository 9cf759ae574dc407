// Package huggingface provides a TTS provider backed by the Hugging Face
// Inference API. Synthesis is a single POST of {"inputs": text} to
// /models/<model>; the response body is the rendered audio.
//
// The inference API answers 503 while a cold model is being loaded. Those
// answers surface as *tts.StatusError so that a retry policy can wait and
// try again.
package huggingface

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/provider/tts"
)

const (
	defaultBaseURL = "https://api-inference.huggingface.co"
	defaultModel   = "facebook/mms-tts-eng"
	defaultTimeout = 60 * time.Second

	// maxErrorBody caps how much of an error response is kept.
	maxErrorBody = 512
)

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model repository ID (e.g., "facebook/mms-tts-deu").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithBaseURL overrides the inference API origin.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements tts.Provider using the Hugging Face Inference API.
type Provider struct {
	token      string
	baseURL    string
	model      string
	httpClient *http.Client
}

// New creates a Provider authenticated with token.
func New(token string, opts ...Option) (*Provider, error) {
	if token == "" {
		return nil, errors.New("huggingface: token must not be empty")
	}
	p := &Provider{
		token:      token,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	if p.model == "" {
		return nil, errors.New("huggingface: model must not be empty")
	}
	return p, nil
}

type inferenceRequest struct {
	Inputs string `json:"inputs"`
}

// Synthesize implements tts.Provider. The voice is determined by the model;
// voice.ID is ignored.
func (p *Provider) Synthesize(ctx context.Context, text string, _ tts.Voice) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("huggingface: text must not be empty")
	}
	body, err := json.Marshal(inferenceRequest{Inputs: text})
	if err != nil {
		return nil, fmt.Errorf("huggingface: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/models/"+p.model, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("huggingface: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("huggingface: POST %s: %w", p.model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &tts.StatusError{Provider: "huggingface", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("huggingface: read response: %w", err)
	}
	info, err := audio.ParseWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("huggingface: %w", err)
	}
	if len(info.PCM) == 0 {
		return nil, fmt.Errorf("huggingface: %w", tts.ErrEmptyAudio)
	}
	return wav, nil
}
