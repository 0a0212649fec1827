package resilience

import (
	"context"

	"github.com/voxprep/voxprep/pkg/provider/speech"
)

// SynthFallback implements [speech.Synthesizer] with automatic failover
// across synthesis backends, so a turn falls back from the external
// high-quality voice to the local one instead of failing. Each backend has
// its own circuit breaker; only utterance setup is covered by failover, a
// playback that fails mid-stream is the caller's concern.
type SynthFallback struct {
	group *FallbackGroup[speech.Synthesizer]
}

// Compile-time interface assertion.
var _ speech.Synthesizer = (*SynthFallback)(nil)

// NewSynthFallback creates a [SynthFallback] with primary as the preferred
// backend.
func NewSynthFallback(primary speech.Synthesizer, primaryName string, cfg FallbackConfig) *SynthFallback {
	return &SynthFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional synthesis backend.
func (f *SynthFallback) AddFallback(name string, synth speech.Synthesizer) {
	f.group.AddFallback(name, synth)
}

// States reports each backend's breaker state keyed by name.
func (f *SynthFallback) States() map[string]State {
	return f.group.States()
}

// Synthesize implements speech.Synthesizer against the first healthy backend.
func (f *SynthFallback) Synthesize(ctx context.Context, text string, voice speech.VoiceOptions) (speech.Playback, error) {
	return ExecuteWithResult(f.group, func(s speech.Synthesizer) (speech.Playback, error) {
		return s.Synthesize(ctx, text, voice)
	})
}
