// Package openai provides a textgen provider backed by the OpenAI API.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/voxprep/voxprep/pkg/provider/textgen"
)

// Provider implements textgen.Provider using the OpenAI API.
type Provider struct {
	client      oai.Client
	model       string
	temperature float64
}

// Compile-time interface assertion.
var _ textgen.Provider = (*Provider)(nil)

// config holds optional configuration for the provider.
type config struct {
	baseURL     string
	timeout     time.Duration
	temperature float64
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Useful for proxies
// and OpenAI-compatible gateways.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithTemperature sets the sampling temperature for all requests.
// The default of 0.7 keeps generated questions varied without drifting
// off the prompt's decision rules.
func WithTemperature(t float64) Option {
	return func(c *config) {
		c.temperature = t
	}
}

// New constructs a new OpenAI textgen Provider.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{temperature: 0.7}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: model, temperature: cfg.temperature}, nil
}

// Generate implements textgen.Provider.
func (p *Provider) Generate(ctx context.Context, prompt string) (string, error) {
	return p.complete(ctx, prompt, false)
}

// GenerateStructured implements textgen.Provider. It appends the structured
// output instruction and enables OpenAI's JSON object response format.
func (p *Provider) GenerateStructured(ctx context.Context, prompt string) (string, error) {
	return p.complete(ctx, prompt+textgen.StructuredSuffix, true)
}

// complete issues a single non-streaming chat completion.
func (p *Provider) complete(ctx context.Context, prompt string, jsonMode bool) (string, error) {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.UserMessage(prompt),
		},
		Temperature: param.NewOpt(p.temperature),
	}
	if jsonMode {
		params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}
