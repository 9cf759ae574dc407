package app

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/MrWong99/voxbridge/internal/assistant"
	"github.com/MrWong99/voxbridge/internal/config"
	"github.com/MrWong99/voxbridge/internal/resilience"
	"github.com/MrWong99/voxbridge/pkg/provider/llm"
	"github.com/MrWong99/voxbridge/pkg/provider/stt"
)

// Backoff steps for the providers that retry by default.
const (
	huggingFaceBackoff = time.Second
	coquiBackoff       = 500 * time.Millisecond
)

// Providers holds the backends built from the configuration.
type Providers struct {
	// STT is required.
	STT     stt.Provider
	STTName string

	// LLMs maps model keys such as "gpt4" to the backend serving them.
	LLMs map[string]llm.Provider

	// TTS lists the synthesis backends in configured order.
	TTS []resilience.TTSProviderSpec
}

// TTSNames returns the IDs of the TTS backends in configured order.
func (p *Providers) TTSNames() []string {
	names := make([]string, 0, len(p.TTS))
	for _, s := range p.TTS {
		names = append(names, s.ID)
	}
	return names
}

// BuildProviders instantiates every provider named in cfg using reg.
//
// Each model in the catalog is served by the LLM entry of its vendor, with
// the entry's model replaced by the catalog model. Models whose vendor is
// not configured or not registered are skipped and stay unavailable.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	ps := &Providers{LLMs: make(map[string]llm.Provider)}

	if cfg.Providers.STT.Name == "" {
		return nil, errors.New("app: providers.stt is required")
	}
	p, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("app: create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	ps.STT = p
	ps.STTName = cfg.Providers.STT.Name
	slog.Info("provider created", "kind", "stt", "name", ps.STTName)

	vendors := make(map[string]config.ProviderEntry, len(cfg.Providers.LLM))
	for _, e := range cfg.Providers.LLM {
		vendors[e.Name] = e
	}
	catalog := cfg.Assistant.ModelCatalog()
	for _, key := range ModelKeys(catalog) {
		m := catalog[key]
		entry, ok := vendors[m.Vendor]
		if !ok {
			slog.Debug("no llm vendor configured for model, skipping", "model", key, "vendor", m.Vendor)
			continue
		}
		entry.Model = m.Name
		p, err := reg.CreateLLM(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not implemented, skipping", "kind", "llm", "name", entry.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("app: create llm provider %q for %s: %w", entry.Name, key, err)
		}
		ps.LLMs[key] = p
		slog.Info("provider created", "kind", "llm", "name", entry.Name, "model", m.Name, "key", key)
	}

	for _, e := range cfg.Providers.TTS {
		p, err := reg.CreateTTS(e.ProviderEntry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not implemented, skipping", "kind", "tts", "name", e.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("app: create tts provider %q: %w", e.Name, err)
		}
		ps.TTS = append(ps.TTS, resilience.TTSProviderSpec{
			ID:       e.Name,
			Provider: p,
			Retry:    RetryPolicy(e),
		})
		slog.Info("provider created", "kind", "tts", "name", e.Name)
	}
	if len(ps.TTS) == 0 {
		return nil, errors.New("app: at least one tts provider is required")
	}

	return ps, nil
}

// RetryPolicy returns the retry policy for a TTS entry. Hugging Face
// retries once while its model loads, the local Coqui server retries once on
// transport errors and everything else is called once. A configured retry
// block overrides attempts and backoff but keeps the provider's classifier;
// providers without one retry transport errors only.
func RetryPolicy(e config.TTSEntry) resilience.RetryPolicy {
	p := defaultRetryPolicy(e.Name)
	if e.Retry != nil {
		p.Attempts = e.Retry.Attempts
		p.Backoff = resilience.LinearBackoff(e.Retry.Backoff)
		if p.Retryable == nil {
			p.Retryable = resilience.RetryOnStatus()
		}
	}
	return p
}

func defaultRetryPolicy(name string) resilience.RetryPolicy {
	switch name {
	case "huggingface":
		return resilience.RetryPolicy{
			Attempts:  2,
			Backoff:   resilience.LinearBackoff(huggingFaceBackoff),
			Retryable: resilience.RetryOnStatus(resilience.ModelLoading),
		}
	case "coqui":
		return resilience.RetryPolicy{
			Attempts:  2,
			Backoff:   resilience.LinearBackoff(coquiBackoff),
			Retryable: resilience.RetryOnStatus(),
		}
	}
	return resilience.NoRetry()
}

// ModelKeys returns the catalog keys with the built-in models first, in
// their usual order, followed by any extra keys sorted by name.
func ModelKeys(catalog map[string]assistant.Model) []string {
	builtin := []string{assistant.ModelGPT35, assistant.ModelGPT4, assistant.ModelClaude, assistant.ModelMixtral}
	keys := make([]string, 0, len(catalog))
	seen := make(map[string]bool, len(builtin))
	for _, k := range builtin {
		if _, ok := catalog[k]; ok {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	var extra []string
	for k := range catalog {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(keys, extra...)
}
