package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/voxprep/voxprep/pkg/provider/speech"
	"github.com/voxprep/voxprep/pkg/provider/textgen"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	textgen     map[string]func(ProviderEntry) (textgen.Provider, error)
	recognizer  map[string]func(ProviderEntry) (speech.Recognizer, error)
	synthesizer map[string]func(ProviderEntry) (speech.Synthesizer, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		textgen:     make(map[string]func(ProviderEntry) (textgen.Provider, error)),
		recognizer:  make(map[string]func(ProviderEntry) (speech.Recognizer, error)),
		synthesizer: make(map[string]func(ProviderEntry) (speech.Synthesizer, error)),
	}
}

// RegisterTextGen registers a text generation provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTextGen(name string, factory func(ProviderEntry) (textgen.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.textgen[name] = factory
}

// RegisterRecognizer registers a speech recognizer factory under name.
func (r *Registry) RegisterRecognizer(name string, factory func(ProviderEntry) (speech.Recognizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognizer[name] = factory
}

// RegisterSynthesizer registers a speech synthesizer factory under name.
func (r *Registry) RegisterSynthesizer(name string, factory func(ProviderEntry) (speech.Synthesizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synthesizer[name] = factory
}

// CreateTextGen instantiates a text generation provider using the factory
// registered under entry.Name. Returns [ErrProviderNotRegistered] if no
// factory has been registered for that name.
func (r *Registry) CreateTextGen(entry ProviderEntry) (textgen.Provider, error) {
	r.mu.RLock()
	factory, ok := r.textgen[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: textgen/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateRecognizer instantiates a speech recognizer using the factory registered under entry.Name.
func (r *Registry) CreateRecognizer(entry ProviderEntry) (speech.Recognizer, error) {
	r.mu.RLock()
	factory, ok := r.recognizer[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: recognizer/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSynthesizer instantiates a speech synthesizer using the factory registered under entry.Name.
func (r *Registry) CreateSynthesizer(entry ProviderEntry) (speech.Synthesizer, error) {
	r.mu.RLock()
	factory, ok := r.synthesizer[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: synthesizer/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
