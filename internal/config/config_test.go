package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxbridge/internal/assistant"
	"github.com/MrWong99/voxbridge/internal/config"
	"github.com/MrWong99/voxbridge/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxbridge/pkg/provider/llm/mock"
	"github.com/MrWong99/voxbridge/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxbridge/pkg/provider/stt/mock"
	"github.com/MrWong99/voxbridge/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voxbridge/pkg/provider/tts/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug

discord:
  guild_id: "123456789012345678"

audio:
  scratch_dir: /var/tmp/voxbridge
  segmenter:
    max_buffer: 2s
    check_interval: 100ms
    silence_threshold: 500ms
    min_audio_bytes: 4800
  end_after_silence: 1s
  reconnect_timeout: 5s

providers:
  stt:
    name: openai
    model: whisper-1
  llm:
    - name: openai
    - name: anthropic
    - name: groq
  tts:
    - name: elevenlabs
      model: eleven_multilingual_v2
    - name: huggingface
      retry:
        attempts: 3
        backoff: 1s
    - name: openai
    - name: coqui
      base_url: http://localhost:5002

assistant:
  system_prompt: You are a helpful voice assistant.
  llm_timeout: 20s
  tts_order: [huggingface, elevenlabs, openai, coqui]
  tiers:
    free:
      max_tokens: 100
      tts_provider: huggingface
      allowed_models: [gpt35]
    premium:
      max_tokens: 250
      tts_provider: elevenlabs
      streaming: true
      allowed_models: [gpt35, gpt4, claude, mixtral]

settings:
  backend: file
  dir: /var/lib/voxbridge
  admin_inactivity: 12h
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.Audio.Segmenter.SilenceThreshold != 500*time.Millisecond {
		t.Errorf("audio.segmenter.silence_threshold: got %v", cfg.Audio.Segmenter.SilenceThreshold)
	}
	if cfg.Audio.Segmenter.MinAudioBytes != 4800 {
		t.Errorf("audio.segmenter.min_audio_bytes: got %d", cfg.Audio.Segmenter.MinAudioBytes)
	}
	if len(cfg.Providers.LLM) != 3 {
		t.Fatalf("providers.llm: got %d entries, want 3", len(cfg.Providers.LLM))
	}
	if len(cfg.Providers.TTS) != 4 {
		t.Fatalf("providers.tts: got %d entries, want 4", len(cfg.Providers.TTS))
	}
	hf := cfg.Providers.TTS[1]
	if hf.Name != "huggingface" || hf.Retry == nil || hf.Retry.Attempts != 3 || hf.Retry.Backoff != time.Second {
		t.Errorf("providers.tts[1]: got %+v", hf)
	}
	if cfg.Providers.TTS[3].BaseURL != "http://localhost:5002" {
		t.Errorf("inline provider fields not decoded: %+v", cfg.Providers.TTS[3])
	}
	if cfg.Assistant.LLMTimeout != 20*time.Second {
		t.Errorf("assistant.llm_timeout: got %v", cfg.Assistant.LLMTimeout)
	}
	premium := cfg.Assistant.Tiers[assistant.TierPremium]
	if !premium.Streaming || premium.MaxTokens != 250 || len(premium.AllowedModels) != 4 {
		t.Errorf("premium tier: got %+v", premium)
	}
	if cfg.Settings.AdminInactivity != 12*time.Hour {
		t.Errorf("settings.admin_inactivity: got %v", cfg.Settings.AdminInactivity)
	}
}

func TestLoadFromReader_EmptyIsValid(t *testing.T) {
	t.Parallel()
	for _, doc := range []string{"{}", ""} {
		if _, err := config.LoadFromReader(strings.NewReader(doc)); err != nil {
			t.Fatalf("unexpected error for %q: %v", doc, err)
		}
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("{}"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q", cfg.Server.LogLevel)
	}
	if cfg.Assistant.LLMTimeout != 30*time.Second {
		t.Errorf("llm_timeout: got %v, want 30s", cfg.Assistant.LLMTimeout)
	}
	if cfg.Assistant.LongReplyThreshold != 200 {
		t.Errorf("long_reply_threshold: got %d, want 200", cfg.Assistant.LongReplyThreshold)
	}
	if cfg.Settings.AdminInactivity != 24*time.Hour {
		t.Errorf("admin_inactivity: got %v, want 24h", cfg.Settings.AdminInactivity)
	}
	if want := filepath.Join(os.TempDir(), "voxbridge"); cfg.Audio.ScratchDir != want {
		t.Errorf("scratch_dir: got %q, want %q", cfg.Audio.ScratchDir, want)
	}
	if got := cfg.Assistant.TierTable(); got[assistant.TierFree].MaxTokens != 100 {
		t.Errorf("default tier table not used: %+v", got)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  colour: blue\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}

// ── Derived values ────────────────────────────────────────────────────────────

func TestConfig_TTSOrder(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Providers: config.ProvidersConfig{TTS: []config.TTSEntry{
		{ProviderEntry: config.ProviderEntry{Name: "elevenlabs"}},
		{ProviderEntry: config.ProviderEntry{Name: "huggingface"}},
	}}}
	if got := cfg.TTSOrder(); !slices.Equal(got, []string{"elevenlabs", "huggingface"}) {
		t.Errorf("order from providers: got %v", got)
	}

	cfg.Assistant.TTSOrder = []string{"huggingface", "elevenlabs"}
	got := cfg.TTSOrder()
	if !slices.Equal(got, []string{"huggingface", "elevenlabs"}) {
		t.Errorf("explicit order: got %v", got)
	}
	got[0] = "mutated"
	if cfg.Assistant.TTSOrder[0] != "huggingface" {
		t.Error("TTSOrder returned the configured slice instead of a copy")
	}
}

func TestSettingsConfig_EffectiveBackend(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  config.SettingsConfig
		want config.SettingsBackend
	}{
		{name: "auto without dsn", cfg: config.SettingsConfig{}, want: config.SettingsFile},
		{name: "auto with dsn", cfg: config.SettingsConfig{PostgresDSN: "postgres://x"}, want: config.SettingsPostgres},
		{name: "explicit file wins", cfg: config.SettingsConfig{Backend: config.SettingsFile, PostgresDSN: "postgres://x"}, want: config.SettingsFile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.cfg.EffectiveBackend(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAssistantConfig_ModelCatalog(t *testing.T) {
	t.Parallel()
	a := config.AssistantConfig{Models: map[string]config.ModelConfig{
		"local": {Name: "llama3", Vendor: "ollama"},
		"gpt4":  {Name: "gpt-4o", Vendor: "openai"},
	}}
	catalog := a.ModelCatalog()
	if catalog["local"].Vendor != "ollama" || catalog["local"].Key != "local" {
		t.Errorf("added model: got %+v", catalog["local"])
	}
	if catalog["gpt4"].Name != "gpt-4o" {
		t.Errorf("override: got %+v", catalog["gpt4"])
	}
	if catalog["claude"].Name != "claude-3-sonnet-20240229" {
		t.Errorf("built-in model lost: got %+v", catalog["claude"])
	}
	if assistant.Models["gpt4"].Name != "gpt-4-turbo-preview" {
		t.Error("ModelCatalog mutated the built-in catalog")
	}
}

// ── Registry ──────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	entry := config.ProviderEntry{Name: "nope"}

	if _, err := reg.CreateLLM(entry); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("llm: expected ErrProviderNotRegistered, got: %v", err)
	}
	if _, err := reg.CreateSTT(entry); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("stt: expected ErrProviderNotRegistered, got: %v", err)
	}
	if _, err := reg.CreateTTS(entry); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("tts: expected ErrProviderNotRegistered, got: %v", err)
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	var gotModel string
	reg.RegisterLLM("stub", func(e config.ProviderEntry) (llm.Provider, error) {
		gotModel = e.Model
		return &llmmock.Provider{}, nil
	})
	reg.RegisterSTT("stub", func(config.ProviderEntry) (stt.Provider, error) {
		return &sttmock.Provider{}, nil
	})
	reg.RegisterTTS("stub", func(config.ProviderEntry) (tts.Provider, error) {
		return &ttsmock.Provider{}, nil
	})

	if p, err := reg.CreateLLM(config.ProviderEntry{Name: "stub", Model: "m1"}); err != nil || p == nil {
		t.Fatalf("CreateLLM: %v, %v", p, err)
	}
	if gotModel != "m1" {
		t.Errorf("factory saw model %q, want m1", gotModel)
	}
	if p, err := reg.CreateSTT(config.ProviderEntry{Name: "stub"}); err != nil || p == nil {
		t.Fatalf("CreateSTT: %v, %v", p, err)
	}
	if p, err := reg.CreateTTS(config.ProviderEntry{Name: "stub"}); err != nil || p == nil {
		t.Fatalf("CreateTTS: %v, %v", p, err)
	}
	if names := reg.Names("tts"); !slices.Equal(names, []string{"stub"}) {
		t.Errorf("Names(tts): got %v", names)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	boom := errors.New("bad credentials")
	reg.RegisterTTS("broken", func(config.ProviderEntry) (tts.Provider, error) {
		return nil, boom
	})
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "broken"}); !errors.Is(err, boom) {
		t.Errorf("expected factory error, got %v", err)
	}
}
