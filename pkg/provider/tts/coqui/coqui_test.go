package coqui

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/provider/tts"
)

func mustNew(t *testing.T, serverURL string, opts ...Option) *Provider {
	t.Helper()
	p, err := New(serverURL, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		opts    []Option
		wantErr bool
	}{
		{name: "valid", url: "http://localhost:5002"},
		{name: "trailing slash", url: "http://localhost:5002/"},
		{name: "xtts", url: "http://localhost:8002", opts: []Option{WithAPIMode(APIModeXTTS)}},
		{name: "empty url", url: "", wantErr: true},
		{name: "bad mode", url: "http://x", opts: []Option{WithAPIMode("grpc")}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.url, tt.opts...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && p.serverURL != "http://localhost:5002" && tt.name != "xtts" {
				t.Errorf("serverURL = %q", p.serverURL)
			}
		})
	}
}

func TestNew_DefaultAPIMode(t *testing.T) {
	p := mustNew(t, "http://localhost:5002", WithTimeout(5*time.Second))
	if p.apiMode != APIModeStandard {
		t.Errorf("expected default apiMode %q, got %q", APIModeStandard, p.apiMode)
	}
	if p.httpClient.Timeout != 5*time.Second {
		t.Errorf("timeout = %v", p.httpClient.Timeout)
	}
}

func TestSynthesize_StandardAPI(t *testing.T) {
	wav := audio.EncodeWAV(make([]byte, 2205*2), 22050, 1)
	var gotText, gotSpeaker, gotLang string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != apiTTSEndpoint {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		gotText, gotSpeaker, gotLang = q.Get("text"), q.Get("speaker_id"), q.Get("language_id")
		_, _ = w.Write(wav)
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL, WithSpeaker("p225"))
	got, err := p.Synthesize(context.Background(), "Hello world.", tts.Voice{Language: "de-DE"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(got) != len(wav) {
		t.Errorf("got %d bytes, want %d", len(got), len(wav))
	}
	if gotText != "Hello world." || gotSpeaker != "p225" || gotLang != "de" {
		t.Errorf("query = text %q speaker %q language %q", gotText, gotSpeaker, gotLang)
	}
}

func TestSynthesize_XTTS(t *testing.T) {
	var body ttsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != ttsEndpoint {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write(audio.EncodeWAV(make([]byte, 480), 24000, 1))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL, WithAPIMode(APIModeXTTS))
	if _, err := p.Synthesize(context.Background(), "hi", tts.Voice{}); err == nil {
		t.Error("expected error without a speaker in XTTS mode")
	}
	if _, err := p.Synthesize(context.Background(), "hi", tts.Voice{ID: "Ana Florence"}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if body.Text != "hi" || body.SpeakerWav != "Ana Florence" || body.Language != "en" {
		t.Errorf("body = %+v", body)
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	_, err := p.Synthesize(context.Background(), "hi", tts.Voice{})
	if code, ok := tts.StatusCode(err); !ok || code != http.StatusInternalServerError {
		t.Errorf("StatusCode(%v) = %d, %v", err, code, ok)
	}
}

func TestSynthesize_InvalidAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(audio.EncodeWAV(nil, 22050, 1))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	_, err := p.Synthesize(context.Background(), "hi", tts.Voice{})
	if !errors.Is(err, tts.ErrEmptyAudio) {
		t.Errorf("got %v, want ErrEmptyAudio", err)
	}
}

func TestSynthesize_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := mustNew(t, srv.URL)
	if _, err := p.Synthesize(ctx, "hi", tts.Voice{}); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}
