package assistant

import (
	"fmt"
	"slices"
	"strings"
)

// TierName identifies a subscription tier.
type TierName string

const (
	TierFree    TierName = "free"
	TierPremium TierName = "premium"
)

// ParseTier accepts "free" or "premium" in any case.
func ParseTier(s string) (TierName, error) {
	switch TierName(strings.ToLower(strings.TrimSpace(s))) {
	case TierFree:
		return TierFree, nil
	case TierPremium:
		return TierPremium, nil
	default:
		return "", fmt.Errorf("assistant: unknown tier %q", s)
	}
}

// Tier bounds what a user's requests may use.
type Tier struct {
	// MaxTokens caps every completion.
	MaxTokens int `yaml:"max_tokens"`

	// TTSProvider is tried first unless the user picked another provider.
	TTSProvider string `yaml:"tts_provider"`

	// Streaming speaks replies sentence by sentence while they generate.
	Streaming bool `yaml:"streaming"`

	// AllowedModels lists model keys, the first being the tier default.
	AllowedModels []string `yaml:"allowed_models"`
}

// Allows reports whether model is usable on this tier.
func (t Tier) Allows(model string) bool {
	return slices.Contains(t.AllowedModels, model)
}

// DefaultTiers returns the built-in tier table.
func DefaultTiers() map[TierName]Tier {
	return map[TierName]Tier{
		TierFree: {
			MaxTokens:     100,
			TTSProvider:   "huggingface",
			Streaming:     false,
			AllowedModels: []string{ModelGPT35},
		},
		TierPremium: {
			MaxTokens:     250,
			TTSProvider:   "elevenlabs",
			Streaming:     true,
			AllowedModels: []string{ModelGPT35, ModelGPT4, ModelClaude, ModelMixtral},
		},
	}
}

// Model keys.
const (
	ModelGPT35   = "gpt35"
	ModelGPT4    = "gpt4"
	ModelClaude  = "claude"
	ModelMixtral = "mixtral"
)

// Model names a concrete backend model.
type Model struct {
	Key    string
	Name   string
	Vendor string
}

// Models is the catalog of selectable models.
var Models = map[string]Model{
	ModelGPT35:   {Key: ModelGPT35, Name: "gpt-3.5-turbo", Vendor: "openai"},
	ModelGPT4:    {Key: ModelGPT4, Name: "gpt-4-turbo-preview", Vendor: "openai"},
	ModelClaude:  {Key: ModelClaude, Name: "claude-3-sonnet-20240229", Vendor: "anthropic"},
	ModelMixtral: {Key: ModelMixtral, Name: "mixtral-8x7b-32768", Vendor: "groq"},
}

// Temperature is used for every completion.
const Temperature = 0.7
