// Package llm provides a unified interface for the judge models the
// comparison engine talks to, with rate limiting, retries, metrics and
// tracing layered on as middleware.
//
// Providers (OpenAI and every OpenAI-compatible endpoint, Anthropic, Google
// and an in-process mock) implement CoreLLM. A Router maps an engine
// identifier such as "gpt-4o", "groq-llama3-70b-8192" or "claude-3-5-sonnet"
// to a provider and caches one Client per engine.
//
// Basic usage:
//
//	client, err := llm.NewClient("openai", llm.ClientConfig{
//	    APIKey: os.Getenv("OPENAI_API_KEY"),
//	    Model:  "gpt-4o",
//	    Middleware: []llm.Middleware{
//	        llm.RateLimitMiddleware(5, 5),
//	        llm.RetryMiddleware(llm.DefaultRetryPolicy()),
//	    },
//	})
//	reply, err := client.Complete(ctx, "Which product do you recommend?", nil)
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/lauritowal/ai-ai-bias/internal/ports"
)

// CoreLLM defines the minimal interface that LLM providers must implement.
// This interface abstracts the core functionality needed to make requests
// to different LLM services, allowing the middleware system to wrap
// any conforming implementation.
type CoreLLM interface {
	// DoRequest sends a prompt to the LLM provider and returns the response.
	// The opts parameter allows provider-specific configuration such as
	// temperature, max tokens, or other model parameters.
	// Returns the response text, input token count, output token count, and any error.
	DoRequest(
		ctx context.Context,
		prompt string,
		opts map[string]any,
	) (
		response string,
		tokensIn, tokensOut int,
		err error,
	)

	// GetModel returns the currently configured model name.
	GetModel() string

	// SetModel updates the model to use for subsequent requests.
	SetModel(model string)
}

// ClientConfig holds all configuration options for creating an LLM client.
type ClientConfig struct {
	// APIKey authenticates requests to the LLM provider. Local
	// OpenAI-compatible servers and the mock provider accept an empty key.
	APIKey string

	// Model specifies which LLM model to use for requests.
	Model string

	// BaseURL overrides the default API endpoint for the provider.
	// Leave empty to use the provider's default endpoint.
	BaseURL string

	// Timeout sets the maximum duration of the underlying HTTP exchange.
	// Zero value means no timeout.
	Timeout time.Duration

	// Middleware is applied in the order specified; the first entry is the
	// outermost layer.
	Middleware []Middleware
}

// Middleware wraps a CoreLLM implementation to add cross-cutting functionality.
type Middleware func(CoreLLM) CoreLLM

var _ ports.LLMClient = (*Client)(nil)

// Client implements the ports.LLMClient interface on top of a provider and
// its middleware chain.
type Client struct {
	core CoreLLM
}

// NewClient creates a new LLM client with the specified provider and configuration.
// This function assembles the middleware chain and validates configuration
// before returning a ready-to-use client instance.
func NewClient(providerType string, config ClientConfig) (*Client, error) {
	if config.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	factory, ok := providerFactories[providerType]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", providerType)
	}

	core, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	return NewClientFromCore(core, config.Middleware...), nil
}

// NewClientFromCore wraps an existing CoreLLM with middleware. Tests use it
// to put the production middleware chain around a mock.
func NewClientFromCore(core CoreLLM, middleware ...Middleware) *Client {
	// Apply middleware in reverse order so the first middleware is the outermost.
	for i := len(middleware) - 1; i >= 0; i-- {
		core = middleware[i](core)
	}
	return &Client{core: core}
}

// Complete sends a prompt to the LLM and returns the response text.
func (c *Client) Complete(ctx context.Context, prompt string, options map[string]any) (string, error) {
	response, _, _, err := c.CompleteWithUsage(ctx, prompt, options)
	return response, err
}

// CompleteWithUsage sends a prompt to the LLM and also returns input and
// output token counts.
func (c *Client) CompleteWithUsage(
	ctx context.Context,
	prompt string,
	options map[string]any,
) (string, int, int, error) {
	return c.core.DoRequest(ctx, prompt, options)
}

// GetModel returns the currently configured model name from the underlying provider.
func (c *Client) GetModel() string { return c.core.GetModel() }

// ProviderFactory creates a CoreLLM implementation from configuration.
type ProviderFactory func(ClientConfig) (CoreLLM, error)

// providerFactories holds the registered providers keyed by provider type.
var providerFactories = map[string]ProviderFactory{}

// RegisterProviderFactory registers a provider under providerType.
// Providers register themselves from init.
func RegisterProviderFactory(providerType string, factory ProviderFactory) {
	providerFactories[providerType] = factory
}

// GetProviderFactory retrieves a provider factory by name.
func GetProviderFactory(name string) (ProviderFactory, bool) {
	factory, exists := providerFactories[name]
	return factory, exists
}
