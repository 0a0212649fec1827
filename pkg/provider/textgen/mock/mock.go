// Package mock provides a test double for the textgen.Provider interface.
//
// Use Provider in unit tests to feed controlled generation responses without a
// live backend and to verify the prompts each pipeline stage builds. Responses
// are consumed in order; when the queue is exhausted the configured default
// (or error) is returned.
//
// Example:
//
//	p := &mock.Provider{Responses: []string{`{"readinessLevel":5}`}}
//	out, err := p.GenerateStructured(ctx, prompt)
package mock

import (
	"context"
	"sync"

	"github.com/voxprep/voxprep/pkg/provider/textgen"
)

// Call records a single invocation of Generate or GenerateStructured.
type Call struct {
	// Prompt is the prompt passed to the provider.
	Prompt string

	// Structured is true for GenerateStructured invocations.
	Structured bool
}

// Provider is a mock implementation of textgen.Provider.
// Zero value returns empty strings and nil errors for every call.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Responses is a queue of response strings consumed one per call
	// (Generate and GenerateStructured share the queue).
	Responses []string

	// Response is returned when the Responses queue is empty.
	Response string

	// Err, if non-nil, is returned by every call instead of a response.
	Err error

	// GenerateFunc, if non-nil, overrides all other behaviour.
	GenerateFunc func(ctx context.Context, prompt string, structured bool) (string, error)

	// --- Call records (read after test) ---

	// Calls records every invocation in order.
	Calls []Call
}

// Compile-time interface assertion.
var _ textgen.Provider = (*Provider)(nil)

// Generate implements textgen.Provider.
func (p *Provider) Generate(ctx context.Context, prompt string) (string, error) {
	return p.next(ctx, prompt, false)
}

// GenerateStructured implements textgen.Provider.
func (p *Provider) GenerateStructured(ctx context.Context, prompt string) (string, error) {
	return p.next(ctx, prompt, true)
}

// CallCount returns the number of recorded calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastPrompt returns the prompt of the most recent call, or "" if none.
func (p *Provider) LastPrompt() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return ""
	}
	return p.Calls[len(p.Calls)-1].Prompt
}

func (p *Provider) next(ctx context.Context, prompt string, structured bool) (string, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, Call{Prompt: prompt, Structured: structured})
	fn := p.GenerateFunc
	var (
		resp string
		err  error
	)
	if fn == nil {
		if p.Err != nil {
			err = p.Err
		} else if len(p.Responses) > 0 {
			resp = p.Responses[0]
			p.Responses = p.Responses[1:]
		} else {
			resp = p.Response
		}
	}
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, prompt, structured)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	return resp, err
}
