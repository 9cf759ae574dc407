package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/voxbridge/pkg/provider/llm"
	"github.com/MrWong99/voxbridge/pkg/provider/stt"
	"github.com/MrWong99/voxbridge/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned when a config entry names a vendor
// that main never registered.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its config entry.
type Factory[P any] func(ProviderEntry) (P, error)

type factories[P any] struct {
	kind string
	m    map[string]Factory[P]
}

// create runs the factory for e outside mu.
func (f *factories[P]) create(mu *sync.RWMutex, e ProviderEntry) (P, error) {
	mu.RLock()
	mk, ok := f.m[e.Name]
	mu.RUnlock()
	if !ok {
		var zero P
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, e.Name)
	}
	return mk(e)
}

// Registry maps vendor names to provider factories. main registers every
// built-in vendor; the app builds whatever the config references. It is safe
// for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	llm factories[llm.Provider]
	stt factories[stt.Provider]
	tts factories[tts.Provider]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		llm: factories[llm.Provider]{kind: "llm", m: make(map[string]Factory[llm.Provider])},
		stt: factories[stt.Provider]{kind: "stt", m: make(map[string]Factory[stt.Provider])},
		tts: factories[tts.Provider]{kind: "tts", m: make(map[string]Factory[tts.Provider])},
	}
}

// RegisterLLM registers a chat vendor. The factory is called once per
// catalog model with Model set to that model. A later registration under the
// same name wins.
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.m[name] = f
}

// RegisterSTT registers a transcription vendor.
func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.m[name] = f
}

// RegisterTTS registers a speech synthesis vendor.
func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts.m[name] = f
}

// CreateLLM builds the chat provider entry names.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return r.llm.create(&r.mu, entry)
}

// CreateSTT builds the transcription provider entry names.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return r.stt.create(&r.mu, entry)
}

// CreateTTS builds the synthesis provider entry names.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return r.tts.create(&r.mu, entry)
}

// Names returns the sorted vendor names registered for kind, which is one of
// "llm", "stt" or "tts".
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case "llm":
		return slices.Sorted(maps.Keys(r.llm.m))
	case "stt":
		return slices.Sorted(maps.Keys(r.stt.m))
	case "tts":
		return slices.Sorted(maps.Keys(r.tts.m))
	}
	return nil
}
