package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxbridge/internal/assistant"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultSettingsDir     = "data/settings"
	DefaultAdminInactivity = 24 * time.Hour
	DefaultExpiryInterval  = time.Hour
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "groq", "ollama", "gemini", "deepseek", "mistral", "llamacpp", "llamafile"},
	"stt": {"openai", "deepgram", "whisper", "whisper-native"},
	"tts": {"elevenlabs", "huggingface", "openai", "coqui"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero fields that have a non-zero default. Segmenter
// tunables are left alone; the segmenter applies its own defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Audio.ScratchDir == "" {
		cfg.Audio.ScratchDir = filepath.Join(os.TempDir(), "voxbridge")
	}
	if cfg.Assistant.LLMTimeout <= 0 {
		cfg.Assistant.LLMTimeout = assistant.DefaultLLMTimeout
	}
	if cfg.Assistant.LongReplyThreshold <= 0 {
		cfg.Assistant.LongReplyThreshold = assistant.DefaultLongReplyThreshold
	}
	if cfg.Settings.Dir == "" {
		cfg.Settings.Dir = DefaultSettingsDir
	}
	if cfg.Settings.AdminInactivity <= 0 {
		cfg.Settings.AdminInactivity = DefaultAdminInactivity
	}
	if cfg.Settings.ExpiryInterval <= 0 {
		cfg.Settings.ExpiryInterval = DefaultExpiryInterval
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	seg := cfg.Audio.Segmenter
	if seg.SampleRate < 0 || seg.Channels < 0 || seg.Channels > 2 {
		errs = append(errs, errors.New("audio.segmenter: sample_rate must be positive and channels 1 or 2"))
	}
	if seg.MinAudioBytes < 0 {
		errs = append(errs, fmt.Errorf("audio.segmenter.min_audio_bytes %d must not be negative", seg.MinAudioBytes))
	}
	if seg.MaxBuffer > 0 && seg.CheckInterval > 0 && seg.CheckInterval >= seg.MaxBuffer {
		errs = append(errs, fmt.Errorf("audio.segmenter.check_interval %v must be shorter than max_buffer %v", seg.CheckInterval, seg.MaxBuffer))
	}

	// Providers
	if cfg.Providers.STT.Name == "" {
		slog.Warn("providers.stt is not configured; voice input will not be transcribed")
	}
	validateProviderName("stt", cfg.Providers.STT.Name)

	vendors := make(map[string]int, len(cfg.Providers.LLM))
	for i, e := range cfg.Providers.LLM {
		prefix := fmt.Sprintf("providers.llm[%d]", i)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := vendors[e.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers.llm[%d]", prefix, e.Name, prev))
		}
		vendors[e.Name] = i
		validateProviderName("llm", e.Name)
	}

	ttsNames := make(map[string]int, len(cfg.Providers.TTS))
	for i, e := range cfg.Providers.TTS {
		prefix := fmt.Sprintf("providers.tts[%d]", i)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := ttsNames[e.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers.tts[%d]", prefix, e.Name, prev))
		}
		ttsNames[e.Name] = i
		validateProviderName("tts", e.Name)
		if e.Retry != nil && e.Retry.Attempts < 1 {
			errs = append(errs, fmt.Errorf("%s.retry.attempts must be at least 1", prefix))
		}
	}

	// Assistant
	errs = append(errs, validateAssistant(&cfg.Assistant, vendors, ttsNames)...)

	// Settings
	if !cfg.Settings.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("settings.backend %q is invalid; valid values: file, postgres", cfg.Settings.Backend))
	}
	if cfg.Settings.Backend == SettingsPostgres && cfg.Settings.PostgresDSN == "" {
		// The DSN may still arrive through DATABASE_URL.
		slog.Warn("settings.backend is postgres but settings.postgres_dsn is empty")
	}

	return errors.Join(errs...)
}

func validateAssistant(a *AssistantConfig, vendors, ttsNames map[string]int) []error {
	var errs []error

	for i, id := range a.TTSOrder {
		if _, ok := ttsNames[id]; !ok {
			errs = append(errs, fmt.Errorf("assistant.tts_order[%d] %q is not a configured TTS provider", i, id))
		}
	}

	catalog := a.ModelCatalog()
	for key, m := range a.Models {
		if m.Name == "" || m.Vendor == "" {
			errs = append(errs, fmt.Errorf("assistant.models.%s needs both name and vendor", key))
		}
	}
	for key, m := range catalog {
		if _, ok := vendors[m.Vendor]; !ok && len(vendors) > 0 {
			slog.Debug("model vendor not configured; model unavailable", "model", key, "vendor", m.Vendor)
		}
	}

	for name, tier := range a.Tiers {
		prefix := fmt.Sprintf("assistant.tiers.%s", name)
		if _, err := assistant.ParseTier(string(name)); err != nil {
			errs = append(errs, fmt.Errorf("%s: unknown tier; valid values: free, premium", prefix))
		}
		if tier.MaxTokens <= 0 {
			errs = append(errs, fmt.Errorf("%s.max_tokens must be positive", prefix))
		}
		if len(tier.AllowedModels) == 0 {
			errs = append(errs, fmt.Errorf("%s.allowed_models must not be empty", prefix))
		}
		for _, key := range tier.AllowedModels {
			if _, ok := catalog[key]; !ok {
				errs = append(errs, fmt.Errorf("%s.allowed_models: unknown model %q", prefix, key))
			}
		}
		if tier.TTSProvider != "" && len(ttsNames) > 0 {
			if _, ok := ttsNames[tier.TTSProvider]; !ok {
				slog.Warn("tier TTS provider is not configured; the fallback order is used as is",
					"tier", name,
					"tts_provider", tier.TTSProvider,
				)
			}
		}
	}
	if len(a.Tiers) > 0 {
		for _, required := range []assistant.TierName{assistant.TierFree, assistant.TierPremium} {
			if _, ok := a.Tiers[required]; !ok {
				errs = append(errs, fmt.Errorf("assistant.tiers: %q must be defined when tiers are overridden", required))
			}
		}
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
