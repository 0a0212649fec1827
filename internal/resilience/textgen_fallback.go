package resilience

import (
	"context"

	"github.com/voxprep/voxprep/pkg/provider/textgen"
)

// TextGenFallback implements [textgen.Provider] with automatic failover
// across generation backends. The pipeline already fails soft per stage; this
// layer sits below it and keeps a single flapping backend from turning every
// stage into its degraded fallback when a healthy secondary exists.
type TextGenFallback struct {
	group *FallbackGroup[textgen.Provider]
}

// Compile-time interface assertion.
var _ textgen.Provider = (*TextGenFallback)(nil)

// NewTextGenFallback creates a [TextGenFallback] with primary as the
// preferred backend.
func NewTextGenFallback(primary textgen.Provider, primaryName string, cfg FallbackConfig) *TextGenFallback {
	return &TextGenFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional generation backend.
func (f *TextGenFallback) AddFallback(name string, provider textgen.Provider) {
	f.group.AddFallback(name, provider)
}

// States reports each backend's breaker state keyed by name.
func (f *TextGenFallback) States() map[string]State {
	return f.group.States()
}

// Generate implements textgen.Provider against the first healthy backend.
func (f *TextGenFallback) Generate(ctx context.Context, prompt string) (string, error) {
	return ExecuteWithResult(f.group, func(p textgen.Provider) (string, error) {
		return p.Generate(ctx, prompt)
	})
}

// GenerateStructured implements textgen.Provider against the first healthy
// backend.
func (f *TextGenFallback) GenerateStructured(ctx context.Context, prompt string) (string, error) {
	return ExecuteWithResult(f.group, func(p textgen.Provider) (string, error) {
		return p.GenerateStructured(ctx, prompt)
	})
}
