package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/provider/tts"
)

func TestSynthesize(t *testing.T) {
	t.Parallel()

	wav := audio.EncodeWAV(make([]byte, 4800), 24000, 1)
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wav)
	}))
	t.Cleanup(srv.Close)

	p, err := New("sk-test", WithBaseURL(srv.URL), WithVoice("nova"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := p.Synthesize(context.Background(), "Hello!", tts.Voice{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(out) != len(wav) {
		t.Errorf("got %d bytes, want %d", len(out), len(wav))
	}

	want := map[string]string{"model": "tts-1", "input": "Hello!", "voice": "nova", "response_format": "wav"}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("request %s = %v, want %q", k, got[k], v)
		}
	}
}

func TestSynthesize_VoiceOverride(t *testing.T) {
	t.Parallel()

	var voice string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Voice string `json:"voice"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		voice = body.Voice
		_, _ = w.Write(audio.EncodeWAV(make([]byte, 100), 24000, 1))
	}))
	t.Cleanup(srv.Close)

	p, _ := New("sk-test", WithBaseURL(srv.URL))
	if _, err := p.Synthesize(context.Background(), "hi", tts.Voice{ID: "echo"}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if voice != "echo" {
		t.Errorf("voice = %q, want echo", voice)
	}
}

func TestSynthesize_Errors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad voice","type":"invalid_request_error"}}`))
	}))
	t.Cleanup(srv.Close)

	p, _ := New("sk-test", WithBaseURL(srv.URL))
	if _, err := p.Synthesize(context.Background(), "hi", tts.Voice{}); err == nil {
		t.Error("expected error for HTTP 400")
	}
	if _, err := p.Synthesize(context.Background(), "", tts.Voice{}); err == nil {
		t.Error("expected error for empty text")
	}
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}
