package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Secrets are the credentials read from the environment. They never live in
// the YAML file in production deployments.
type Secrets struct {
	DiscordToken      string `envconfig:"DISCORD_TOKEN"`
	OpenAIAPIKey      string `envconfig:"OPENAI_API_KEY"`
	ElevenLabsAPIKey  string `envconfig:"ELEVENLABS_API_KEY"`
	ElevenLabsVoiceID string `envconfig:"ELEVENLABS_VOICE_ID"`
	HuggingFaceToken  string `envconfig:"HUGGINGFACE_TOKEN"`
	GroqAPIKey        string `envconfig:"GROQ_API_KEY"`
	AnthropicAPIKey   string `envconfig:"ANTHROPIC_API_KEY"`
	DeepgramAPIKey    string `envconfig:"DEEPGRAM_API_KEY"`
	DatabaseURL       string `envconfig:"DATABASE_URL"`
}

// LoadSecrets loads the dotenv files (default ".env") into the process
// environment without overriding variables that are already set, then reads
// [Secrets] from the environment. Missing dotenv files are not an error.
func LoadSecrets(dotenv ...string) (Secrets, error) {
	if len(dotenv) == 0 {
		dotenv = []string{".env"}
	}
	for _, path := range dotenv {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Secrets{}, fmt.Errorf("config: load %q: %w", path, err)
		}
	}

	var s Secrets
	if err := envconfig.Process("", &s); err != nil {
		return Secrets{}, fmt.Errorf("config: read environment: %w", err)
	}
	return s, nil
}

// apiKey returns the environment key for the provider name, or "".
func (s Secrets) apiKey(provider string) string {
	switch provider {
	case "openai":
		return s.OpenAIAPIKey
	case "elevenlabs":
		return s.ElevenLabsAPIKey
	case "huggingface":
		return s.HuggingFaceToken
	case "groq":
		return s.GroqAPIKey
	case "anthropic":
		return s.AnthropicAPIKey
	case "deepgram":
		return s.DeepgramAPIKey
	}
	return ""
}

// Apply fills empty credentials in cfg from s. Values already present in
// the file win.
func (s Secrets) Apply(cfg *Config) {
	if cfg.Discord.Token == "" {
		cfg.Discord.Token = s.DiscordToken
	}
	if cfg.Settings.PostgresDSN == "" {
		cfg.Settings.PostgresDSN = s.DatabaseURL
	}

	fill := func(e *ProviderEntry) {
		if e.APIKey == "" {
			e.APIKey = s.apiKey(e.Name)
		}
	}
	fill(&cfg.Providers.STT)
	for i := range cfg.Providers.LLM {
		fill(&cfg.Providers.LLM[i])
	}
	for i := range cfg.Providers.TTS {
		e := &cfg.Providers.TTS[i].ProviderEntry
		fill(e)
		if e.Name == "elevenlabs" && s.ElevenLabsVoiceID != "" && optString(e.Options, "voice_id") == "" {
			if e.Options == nil {
				e.Options = make(map[string]any)
			}
			e.Options["voice_id"] = s.ElevenLabsVoiceID
		}
	}
}

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// OptString is the exported form of the Options accessor used by provider
// factories.
func (e ProviderEntry) OptString(key string) string {
	return optString(e.Options, key)
}
