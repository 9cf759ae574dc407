// Package config provides the configuration schema, loader, environment
// overlay, provider registry and file watcher for voxbridge.
package config

import (
	"time"

	"github.com/MrWong99/voxbridge/internal/assistant"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SettingsBackend selects where guild settings and user preferences live.
type SettingsBackend string

const (
	// SettingsAuto uses Postgres when a DSN is configured and files otherwise.
	SettingsAuto     SettingsBackend = ""
	SettingsFile     SettingsBackend = "file"
	SettingsPostgres SettingsBackend = "postgres"
)

// IsValid reports whether b is a recognised backend.
func (b SettingsBackend) IsValid() bool {
	switch b {
	case SettingsAuto, SettingsFile, SettingsPostgres:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader]
// and completed with secrets from the environment via [Secrets.Apply].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Discord   DiscordConfig   `yaml:"discord"`
	Audio     AudioConfig     `yaml:"audio"`
	Providers ProvidersConfig `yaml:"providers"`
	Assistant AssistantConfig `yaml:"assistant"`
	Settings  SettingsConfig  `yaml:"settings"`
}

// ServerConfig holds the HTTP listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /healthz, /readyz and /metrics.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`
}

// DiscordConfig configures the bot connection.
type DiscordConfig struct {
	// Token is the bot token. Usually supplied as DISCORD_TOKEN.
	Token string `yaml:"token"`

	// GuildID registers slash commands in one guild only, which makes them
	// available instantly. Empty registers them globally.
	GuildID string `yaml:"guild_id"`
}

// AudioConfig controls capture, segmentation and scratch files.
type AudioConfig struct {
	// ScratchDir holds temporary WAV files. Defaults to <tmp>/voxbridge.
	ScratchDir string `yaml:"scratch_dir"`

	Segmenter SegmenterConfig `yaml:"segmenter"`

	// EndAfterSilence is how long the platform waits before ending a
	// speaker's stream.
	EndAfterSilence time.Duration `yaml:"end_after_silence"`

	// ResubscribeDelay is the pause before listening again after a stream
	// ended.
	ResubscribeDelay time.Duration `yaml:"resubscribe_delay"`

	// ReconnectTimeout bounds the wait for a dropped voice transport to
	// start recovering.
	ReconnectTimeout time.Duration `yaml:"reconnect_timeout"`

	// MinDuration rejects utterances shorter than this before transcription.
	MinDuration time.Duration `yaml:"min_duration"`

	// QuietRMS rejects utterances whose RMS level is below it. Negative
	// disables the check.
	QuietRMS float64 `yaml:"quiet_rms"`
}

// SegmenterConfig mirrors the tunables of the audio segmenter. Zero values
// keep the built-in defaults.
type SegmenterConfig struct {
	SampleRate       int           `yaml:"sample_rate"`
	Channels         int           `yaml:"channels"`
	MaxBuffer        time.Duration `yaml:"max_buffer"`
	CheckInterval    time.Duration `yaml:"check_interval"`
	SilenceThreshold time.Duration `yaml:"silence_threshold"`
	MinAudioBytes    int           `yaml:"min_audio_bytes"`
}

// ProvidersConfig declares the backends for each pipeline stage.
type ProvidersConfig struct {
	// STT is the single transcription backend.
	STT ProviderEntry `yaml:"stt"`

	// LLM lists one entry per vendor. Each model in the catalog is served
	// by the entry whose Name matches the model's vendor.
	LLM []ProviderEntry `yaml:"llm"`

	// TTS lists the synthesis backends in fallback order.
	TTS []TTSEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// TTSEntry is a TTS backend with an optional retry override.
type TTSEntry struct {
	ProviderEntry `yaml:",inline"`

	// Retry replaces the attempts and backoff of the provider's built-in
	// retry policy when set.
	Retry *RetryConfig `yaml:"retry"`
}

// RetryConfig is a linear retry policy.
type RetryConfig struct {
	// Attempts is the total number of calls including the first.
	Attempts int `yaml:"attempts"`

	// Backoff is multiplied by the attempt number before each retry.
	Backoff time.Duration `yaml:"backoff"`
}

// AssistantConfig tunes the response cycle.
type AssistantConfig struct {
	SystemPrompt string `yaml:"system_prompt"`

	// LLMTimeout bounds every completion. Defaults to 30s.
	LLMTimeout time.Duration `yaml:"llm_timeout"`

	// LongReplyThreshold is the reply length in characters above which the
	// spoken answer is a summary. Defaults to 200.
	LongReplyThreshold int `yaml:"long_reply_threshold"`

	// TTSOrder overrides the fallback order given by providers.tts.
	// Hot-reloadable.
	TTSOrder []string `yaml:"tts_order"`

	// Tiers replaces the built-in tier table. Hot-reloadable.
	Tiers map[assistant.TierName]assistant.Tier `yaml:"tiers"`

	// Models extends or overrides the built-in model catalog.
	Models map[string]ModelConfig `yaml:"models"`
}

// ModelConfig names a backend model for a model key.
type ModelConfig struct {
	Name   string `yaml:"name"`
	Vendor string `yaml:"vendor"`
}

// SettingsConfig selects and configures the settings store.
type SettingsConfig struct {
	Backend SettingsBackend `yaml:"backend"`

	// Dir is the file store's root directory.
	Dir string `yaml:"dir"`

	// PostgresDSN is the connection string for the Postgres store. Usually
	// supplied as DATABASE_URL.
	PostgresDSN string `yaml:"postgres_dsn"`

	// AdminInactivity is how long a guild may stay inactive before its
	// admin is cleared. Defaults to 24h.
	AdminInactivity time.Duration `yaml:"admin_inactivity"`

	// ExpiryInterval is how often inactive admins are looked for.
	ExpiryInterval time.Duration `yaml:"expiry_interval"`
}

// EffectiveBackend resolves [SettingsAuto].
func (s SettingsConfig) EffectiveBackend() SettingsBackend {
	if s.Backend != SettingsAuto {
		return s.Backend
	}
	if s.PostgresDSN != "" {
		return SettingsPostgres
	}
	return SettingsFile
}

// TierTable returns the configured tiers or the built-in ones.
func (a AssistantConfig) TierTable() map[assistant.TierName]assistant.Tier {
	if len(a.Tiers) == 0 {
		return assistant.DefaultTiers()
	}
	return a.Tiers
}

// ModelCatalog merges the configured models over the built-in catalog.
func (a AssistantConfig) ModelCatalog() map[string]assistant.Model {
	out := make(map[string]assistant.Model, len(assistant.Models)+len(a.Models))
	for k, m := range assistant.Models {
		out[k] = m
	}
	for k, m := range a.Models {
		out[k] = assistant.Model{Key: k, Name: m.Name, Vendor: m.Vendor}
	}
	return out
}

// TTSOrder returns the effective fallback order: assistant.tts_order when
// set, otherwise the order of providers.tts.
func (c *Config) TTSOrder() []string {
	if len(c.Assistant.TTSOrder) > 0 {
		return append([]string(nil), c.Assistant.TTSOrder...)
	}
	order := make([]string, 0, len(c.Providers.TTS))
	for _, e := range c.Providers.TTS {
		order = append(order, e.Name)
	}
	return order
}
