package llm

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lauritowal/ai-ai-bias/internal/ports"
)

// Provider types understood by the router.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
	ProviderGroq      = "groq"
	ProviderTogether  = "together"
	ProviderLocal     = "local"
	ProviderMock      = "mock"
)

// Route is the resolved destination of an engine identifier.
type Route struct {
	// Provider is the registered provider type.
	Provider string
	// Model is the model name sent to the provider. Prefixes that only
	// select a provider, such as "groq-", are stripped.
	Model string
}

// ResolveEngine maps an engine identifier to a provider and model.
//
//   - "groq-<model>" and "together-<model>" select those hosted endpoints.
//   - "gpt-*", "o1*", "o3*" and "o4*" select OpenAI.
//   - "claude-*" selects Anthropic, "gemini-*" selects Google.
//   - "mock" and "mock-*" select the in-process mock.
//   - anything else is served by a local OpenAI-compatible server.
func ResolveEngine(engine string) Route {
	switch {
	case strings.HasPrefix(engine, "groq-"):
		return Route{Provider: ProviderGroq, Model: strings.TrimPrefix(engine, "groq-")}
	case strings.HasPrefix(engine, "together-"):
		return Route{Provider: ProviderTogether, Model: strings.TrimPrefix(engine, "together-")}
	case strings.HasPrefix(engine, "gpt-"), isReasoningModel(engine):
		return Route{Provider: ProviderOpenAI, Model: engine}
	case strings.HasPrefix(engine, "claude-"):
		return Route{Provider: ProviderAnthropic, Model: engine}
	case strings.HasPrefix(engine, "gemini-"):
		return Route{Provider: ProviderGoogle, Model: engine}
	case engine == "mock" || strings.HasPrefix(engine, "mock-"):
		return Route{Provider: ProviderMock, Model: engine}
	default:
		return Route{Provider: ProviderLocal, Model: engine}
	}
}

// ProviderFor returns the provider type serving engine.
func ProviderFor(engine string) string { return ResolveEngine(engine).Provider }

// RouterConfig carries credentials and defaults for every provider.
type RouterConfig struct {
	OpenAIKey    string
	AnthropicKey string
	GoogleKey    string
	GroqKey      string
	TogetherKey  string

	// LocalBaseURL is the endpoint of the local OpenAI-compatible server.
	// Engines that route to it fail with ports.ErrUnknownEngine when empty.
	LocalBaseURL string
	LocalAPIKey  string

	// Timeout bounds the HTTP exchange of a single attempt.
	Timeout time.Duration

	// Middleware builds the chain applied to the client of one engine. It
	// is called once per engine; nil means no middleware.
	Middleware func(engine string) []Middleware
}

// Router builds and caches one Client per engine identifier. It is safe for
// concurrent use.
type Router struct {
	config  RouterConfig
	clients map[string]*Client
	mu      sync.RWMutex
}

// NewRouter creates a router with the given configuration.
func NewRouter(config RouterConfig) *Router {
	return &Router{
		config:  config,
		clients: make(map[string]*Client),
	}
}

// ClientFor returns the client for engine, creating it on first use.
func (r *Router) ClientFor(engine string) (ports.LLMClient, error) {
	if engine == "" {
		return nil, fmt.Errorf("empty engine identifier: %w", ports.ErrUnknownEngine)
	}

	r.mu.RLock()
	if client, ok := r.clients[engine]; ok {
		r.mu.RUnlock()
		return client, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if client, ok := r.clients[engine]; ok {
		return client, nil
	}

	client, err := r.createClient(engine)
	if err != nil {
		return nil, err
	}
	r.clients[engine] = client
	return client, nil
}

// Engines returns the identifiers of the clients created so far.
func (r *Router) Engines() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	engines := make([]string, 0, len(r.clients))
	for engine := range r.clients {
		engines = append(engines, engine)
	}
	return engines
}

func (r *Router) createClient(engine string) (*Client, error) {
	route := ResolveEngine(engine)

	config := ClientConfig{
		Model:   route.Model,
		Timeout: r.config.Timeout,
	}

	switch route.Provider {
	case ProviderOpenAI:
		config.APIKey = r.config.OpenAIKey
	case ProviderAnthropic:
		config.APIKey = r.config.AnthropicKey
	case ProviderGoogle:
		config.APIKey = r.config.GoogleKey
	case ProviderGroq:
		config.APIKey = r.config.GroqKey
	case ProviderTogether:
		config.APIKey = r.config.TogetherKey
	case ProviderLocal:
		if r.config.LocalBaseURL == "" {
			return nil, fmt.Errorf("engine %q needs a local server but LOCAL_LLM_API_BASE is not set: %w",
				engine, ports.ErrUnknownEngine)
		}
		config.APIKey = r.config.LocalAPIKey
		config.BaseURL = r.config.LocalBaseURL
	}

	if r.config.Middleware != nil {
		config.Middleware = r.config.Middleware(engine)
	}

	client, err := NewClient(route.Provider, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for engine %q: %w", engine, err)
	}
	return client, nil
}
