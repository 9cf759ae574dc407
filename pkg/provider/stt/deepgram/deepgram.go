// Package deepgram provides a Deepgram-backed STT provider. Each
// transcription opens a short-lived session on the Deepgram live WebSocket
// API, streams the utterance as linear16 PCM in 100 ms chunks, asks the
// server to flush with CloseStream and collects the final results.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-2"
	defaultLanguage  = "en"

	closeStreamMsg = `{"type":"CloseStream"}`
)

var _ stt.Provider = (*Provider)(nil)

// Keyword is a vocabulary hint that raises recognition probability for an
// uncommon word.
type Keyword struct {
	Word  string
	Boost float64
}

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-2", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default language code when a request carries none.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithKeywords sets keyword boosts sent with every session.
func WithKeywords(kws ...Keyword) Option {
	return func(p *Provider) {
		p.keywords = append([]Keyword(nil), kws...)
	}
}

// WithEndpoint overrides the WebSocket endpoint (tests, self-hosted).
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Provider backed by the Deepgram live API.
type Provider struct {
	apiKey   string
	endpoint string
	model    string
	language string
	keywords []Keyword
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		endpoint: deepgramEndpoint,
		model:    defaultModel,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe streams the WAV at req.Path to Deepgram and returns the final
// transcripts joined by spaces.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	if req.Path == "" {
		return "", fmt.Errorf("deepgram: %w", stt.ErrNoPath)
	}
	data, err := os.ReadFile(req.Path)
	if err != nil {
		return "", fmt.Errorf("deepgram: read audio: %w", err)
	}
	info, err := audio.ParseWAV(data)
	if err != nil {
		return "", fmt.Errorf("deepgram: %w", err)
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	wsURL, err := p.buildURL(lang, info.SampleRate, info.Channels)
	if err != nil {
		return "", fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return "", fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	chunkSize := audio.BytesPerSecond(info.SampleRate, info.Channels) / 10
	writeErr := make(chan error, 1)
	go func() {
		writeErr <- sendAudio(ctx, conn, info.PCM, chunkSize)
	}()

	var parts []string
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			return "", fmt.Errorf("deepgram: read: %w", err)
		}
		r, ok := parseDeepgramResponse(msg)
		if !ok || !r.isFinal {
			continue
		}
		if text := strings.TrimSpace(r.text); text != "" {
			parts = append(parts, text)
		}
	}

	if err := <-writeErr; err != nil {
		return "", err
	}
	return strings.Join(parts, " "), nil
}

// sendAudio writes pcm as binary frames and then requests a flush.
func sendAudio(ctx context.Context, conn *websocket.Conn, pcm []byte, chunkSize int) error {
	if chunkSize <= 0 {
		chunkSize = len(pcm)
	}
	for off := 0; off < len(pcm); off += chunkSize {
		end := min(off+chunkSize, len(pcm))
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[off:end]); err != nil {
			return fmt.Errorf("deepgram: write audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(closeStreamMsg)); err != nil {
		return fmt.Errorf("deepgram: close stream: %w", err)
	}
	return nil
}

// buildURL constructs the Deepgram endpoint URL for one session.
func (p *Provider) buildURL(lang string, sampleRate, channels int) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	if channels > 0 {
		q.Set("channels", strconv.Itoa(channels))
	}
	for _, kw := range p.keywords {
		// Deepgram keyword format: word:boost
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Word, kw.Boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type result struct {
	text       string
	confidence float64
	isFinal    bool
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message. It returns
// false for messages that carry no transcript.
func parseDeepgramResponse(data []byte) (result, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return result{}, false
	}
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return result{}, false
	}
	alt := resp.Channel.Alternatives[0]
	return result{text: alt.Transcript, confidence: alt.Confidence, isFinal: resp.IsFinal}, true
}
