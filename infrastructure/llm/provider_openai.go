package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Endpoints of hosted OpenAI-compatible providers.
const (
	OpenAIDefaultModel = "gpt-4o-mini"
	GroqBaseURL        = "https://api.groq.com/openai/v1"
	TogetherBaseURL    = "https://api.together.xyz/v1"

	// localPlaceholderKey is sent to local servers that ignore auth; the
	// client library always sets an Authorization header.
	localPlaceholderKey = "not-needed"
)

func init() {
	RegisterProviderFactory("openai", openAICompatibleFactory("openai", "", true))
	RegisterProviderFactory("groq", openAICompatibleFactory("groq", GroqBaseURL, true))
	RegisterProviderFactory("together", openAICompatibleFactory("together", TogetherBaseURL, true))
	RegisterProviderFactory("local", openAICompatibleFactory("local", "", false))
}

// openAIProvider implements CoreLLM for the OpenAI chat completions API and
// every server that speaks the same protocol.
type openAIProvider struct {
	BaseProvider
	name            string
	client          *openai.Client
	tokenCounter    *TokenCounter
	errorClassifier *ErrorClassifier
}

// openAICompatibleFactory returns a factory for an OpenAI-compatible
// endpoint. defaultBaseURL is used when the config sets none; local servers
// have no default and must be given one.
func openAICompatibleFactory(name, defaultBaseURL string, requireKey bool) ProviderFactory {
	return func(config ClientConfig) (CoreLLM, error) {
		apiKey := config.APIKey
		if apiKey == "" {
			if requireKey {
				return nil, fmt.Errorf("%s: %w", name, ErrEmptyAPIKey)
			}
			apiKey = localPlaceholderKey
		}

		model := config.Model
		if model == "" {
			model = OpenAIDefaultModel
		}

		clientConfig := openai.DefaultConfig(apiKey)

		baseURL := config.BaseURL
		if baseURL == "" {
			baseURL = defaultBaseURL
		}
		if baseURL == "" && name == "local" {
			return nil, fmt.Errorf("local provider requires a base URL")
		}
		if baseURL != "" {
			validatedURL, err := ValidateBaseURL(baseURL)
			if err != nil {
				return nil, fmt.Errorf("invalid BaseURL: %w", err)
			}
			clientConfig.BaseURL = validatedURL
		}

		if config.Timeout > 0 {
			clientConfig.HTTPClient = &http.Client{Timeout: ValidateTimeout(config.Timeout)}
		}

		return &openAIProvider{
			BaseProvider:    BaseProvider{model: model},
			name:            name,
			client:          openai.NewClientWithConfig(clientConfig),
			tokenCounter:    NewTokenCounter(),
			errorClassifier: &ErrorClassifier{Provider: name},
		}, nil
	}
}

// DoRequest sends a chat completion request and returns the first choice.
func (p *openAIProvider) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	options := ParseRequestOptions(opts, p.GetModel())

	req := p.buildChatCompletionRequest(prompt, options)
	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", 0, 0, p.handleError(err)
	}

	if len(resp.Choices) == 0 {
		return "", 0, 0, NewProviderError(p.name, ErrorTypeServerError, 0, "", ErrNoResponseChoice)
	}

	content := resp.Choices[0].Message.Content

	tokensIn := p.tokenCounter.GetTokenCount(resp.Usage.PromptTokens, prompt)
	tokensOut := p.tokenCounter.GetTokenCount(resp.Usage.CompletionTokens, content)

	return content, tokensIn, tokensOut, nil
}

func (p *openAIProvider) buildChatCompletionRequest(prompt string, options RequestOptions) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    options.Model,
		Messages: p.buildMessages(prompt, options),
	}

	p.applyRequestParameters(&req, options)
	return req
}

func (p *openAIProvider) buildMessages(prompt string, options RequestOptions) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, 2)

	if options.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: options.System,
		})
	}

	return append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})
}

// applyRequestParameters copies sampling and output options onto req.
// Reasoning models reject sampling parameters and take a completion token
// limit instead of max_tokens.
func (p *openAIProvider) applyRequestParameters(req *openai.ChatCompletionRequest, options RequestOptions) {
	reasoning := isReasoningModel(options.Model)

	if options.MaxTokens > 0 {
		if reasoning {
			req.MaxCompletionTokens = options.MaxTokens
		} else {
			req.MaxTokens = options.MaxTokens
		}
	}

	if options.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	if reasoning {
		return
	}

	if options.Temperature != nil {
		req.Temperature = float32(ClampFloat64(*options.Temperature, 0.0, 2.0))
	}

	if options.TopP != nil {
		req.TopP = float32(ClampFloat64(*options.TopP, 0.0, 1.0))
	}

	if v, ok := options.Extra["frequency_penalty"]; ok {
		if penalty, valid := SafeFloat32(v); valid {
			req.FrequencyPenalty = float32(ClampFloat64(float64(penalty), MinPenalty, MaxPenalty))
		}
	}

	if v, ok := options.Extra["presence_penalty"]; ok {
		if penalty, valid := SafeFloat32(v); valid {
			req.PresencePenalty = float32(ClampFloat64(float64(penalty), MinPenalty, MaxPenalty))
		}
	}
}

func isReasoningModel(model string) bool {
	for _, prefix := range []string{"o1", "o3", "o4"} {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

// handleError classifies errors from the chat completions API.
// insufficient_quota is fatal whatever status code carries it.
func (p *openAIProvider) handleError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		message := apiErr.Message
		if message == "" {
			message = "unknown error"
		}
		if code, _ := apiErr.Code.(string); code == "insufficient_quota" || apiErr.Type == "insufficient_quota" {
			return p.errorClassifier.ClassifyQuotaError(apiErr.HTTPStatusCode, message, err)
		}
		return p.errorClassifier.ClassifyHTTPError(apiErr.HTTPStatusCode, message, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return p.errorClassifier.ClassifyHTTPError(reqErr.HTTPStatusCode, "request failed", err)
	}

	if pe := p.errorClassifier.ClassifyTransportError(err); pe != nil {
		return pe
	}

	return NewProviderError(p.name, ErrorTypeUnknown, 0, "request failed", err)
}
