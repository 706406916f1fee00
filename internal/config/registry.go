package config

import (
	"errors"
	"fmt"

	"github.com/darasahub/voicenav/pkg/llm"
	"github.com/darasahub/voicenav/pkg/speech"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider kind. The zero value is not usable; call [NewRegistry].
//
// Registration happens once at startup; Create* calls may happen later and
// concurrently (the gateway constructs a synthesizer per connection), so the
// maps are never mutated after registration.
type Registry struct {
	capture map[string]func(ProviderEntry) (speech.Capture, error)
	synth   map[string]func(ProviderEntry, speech.AudioSink) (speech.Synthesizer, error)
	llm     map[string]func(ProviderEntry) (llm.Provider, error)
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		capture: make(map[string]func(ProviderEntry) (speech.Capture, error)),
		synth:   make(map[string]func(ProviderEntry, speech.AudioSink) (speech.Synthesizer, error)),
		llm:     make(map[string]func(ProviderEntry) (llm.Provider, error)),
	}
}

// RegisterCapture registers a speech-capture provider constructor under name.
func (r *Registry) RegisterCapture(name string, factory func(ProviderEntry) (speech.Capture, error)) {
	r.capture[name] = factory
}

// RegisterSynth registers a speech-synthesis provider constructor under name.
// The factory receives the [speech.AudioSink] that synthesized audio should
// be written to; the gateway supplies a per-connection sink.
func (r *Registry) RegisterSynth(name string, factory func(ProviderEntry, speech.AudioSink) (speech.Synthesizer, error)) {
	r.synth[name] = factory
}

// RegisterLLM registers a language-model provider constructor under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.llm[name] = factory
}

// CreateCapture constructs the capture provider selected by entry.
// Returns [ErrProviderNotRegistered] if no factory is registered for the name.
func (r *Registry) CreateCapture(entry ProviderEntry) (speech.Capture, error) {
	factory, ok := r.capture[entry.Name]
	if !ok {
		return nil, fmt.Errorf("%w: capture/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSynth constructs the synthesis provider selected by entry, writing
// audio to sink.
// Returns [ErrProviderNotRegistered] if no factory is registered for the name.
func (r *Registry) CreateSynth(entry ProviderEntry, sink speech.AudioSink) (speech.Synthesizer, error) {
	factory, ok := r.synth[entry.Name]
	if !ok {
		return nil, fmt.Errorf("%w: synth/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry, sink)
}

// CreateLLM constructs the language-model provider selected by entry.
// Returns [ErrProviderNotRegistered] if no factory is registered for the name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	factory, ok := r.llm[entry.Name]
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
