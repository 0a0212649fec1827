// Package textgen defines the Provider interface for text generation backends.
//
// A textgen provider wraps a remote or local language model API (e.g., OpenAI
// GPT-4o, Anthropic Claude, or a local Ollama instance) and exposes the narrow
// surface the interview pipeline needs: plain text generation and structured
// (JSON) generation. The pipeline treats the provider as its sole source of
// judgment; every call site wraps failures in a fail-soft fallback, so
// implementations should return errors rather than attempt retries themselves.
//
// Implementations must be safe for concurrent use.
package textgen

import "context"

// StructuredSuffix is appended to every GenerateStructured prompt so that the
// model returns machine-parseable output. Implementations that support a
// native JSON output mode should enable it in addition to (not instead of)
// this instruction — models honour the combination far more reliably than
// either mechanism alone.
const StructuredSuffix = "\n\nRespond with valid JSON only. Do not include " +
	"markdown fences, commentary, or any text outside the JSON object."

// Provider is the abstraction over any text generation backend.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly.
type Provider interface {
	// Generate sends prompt to the model and returns the full text response.
	//
	// Returns an error if the request fails or ctx is cancelled before the
	// response arrives. Implementations must not retry internally; the caller
	// owns failure policy.
	Generate(ctx context.Context, prompt string) (string, error)

	// GenerateStructured sends prompt to the model with an instruction to
	// return valid JSON only, and returns the raw response text. The caller is
	// responsible for parsing; a syntactically invalid response is not an
	// error at this layer.
	//
	// Implementations append [StructuredSuffix] to the prompt and enable the
	// backend's native JSON output mode where one exists.
	GenerateStructured(ctx context.Context, prompt string) (string, error)
}
