package config

import (
	"maps"
	"slices"

	"github.com/MrWong99/voxbridge/internal/assistant"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	TiersChanged bool
	NewTiers     map[assistant.TierName]assistant.Tier

	TTSOrderChanged bool
	NewTTSOrder     []string
}

// Changed reports whether anything reloadable differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.TiersChanged || d.TTSOrderChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldTiers, newTiers := old.Assistant.TierTable(), new.Assistant.TierTable()
	if !maps.EqualFunc(oldTiers, newTiers, tierEqual) {
		d.TiersChanged = true
		d.NewTiers = newTiers
	}

	if oldOrder, newOrder := old.TTSOrder(), new.TTSOrder(); !slices.Equal(oldOrder, newOrder) {
		d.TTSOrderChanged = true
		d.NewTTSOrder = newOrder
	}

	return d
}

func tierEqual(a, b assistant.Tier) bool {
	return a.MaxTokens == b.MaxTokens &&
		a.TTSProvider == b.TTSProvider &&
		a.Streaming == b.Streaming &&
		slices.Equal(a.AllowedModels, b.AllowedModels)
}
