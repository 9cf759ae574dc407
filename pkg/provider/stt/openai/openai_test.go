package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/provider/stt"
)

func writeWAV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "utt.wav")
	if err := os.WriteFile(path, audio.EncodeWAV(make([]byte, 9600), 48000, 1), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTranscribe(t *testing.T) {
	t.Parallel()

	var gotLang, gotModel string
	var gotFile int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotLang = r.FormValue("language")
		gotModel = r.FormValue("model")
		if f, _, err := r.FormFile("file"); err == nil {
			b, _ := io.ReadAll(f)
			gotFile = len(b)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":"  hello there  "}`)
	}))
	t.Cleanup(srv.Close)

	p, err := New("sk-test", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	text, err := p.Transcribe(context.Background(), stt.Request{Path: writeWAV(t), Language: "de-DE"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello there" {
		t.Errorf("text = %q", text)
	}
	if gotLang != "de" {
		t.Errorf("language = %q, want de", gotLang)
	}
	if gotModel != "whisper-1" {
		t.Errorf("model = %q, want whisper-1", gotModel)
	}
	if gotFile != audio.WAVHeaderSize+9600 {
		t.Errorf("uploaded %d bytes, want %d", gotFile, audio.WAVHeaderSize+9600)
	}
}

func TestTranscribe_Errors(t *testing.T) {
	t.Parallel()

	p, err := New("sk-test", WithBaseURL("http://127.0.0.1:1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Transcribe(context.Background(), stt.Request{}); !errors.Is(err, stt.ErrNoPath) {
		t.Errorf("empty path: got %v, want ErrNoPath", err)
	}
	if _, err := p.Transcribe(context.Background(), stt.Request{Path: "/does/not/exist.wav"}); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestNew_MissingAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestBaseLanguage(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]string{"en": "en", "en-US": "en", "pt_BR": "pt", "DE": "de"} {
		if got := baseLanguage(in); got != want {
			t.Errorf("baseLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}
