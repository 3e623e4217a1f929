// Package judge turns an LLM client into a comparison judge: one free-text
// call that makes the choice and a second JSON call that reads which ID was
// chosen.
package judge

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chainguard-dev/clog"

	"github.com/lauritowal/ai-ai-bias/internal/ports"
)

// Default request settings for judge calls.
const (
	DefaultMaxTokens         = 1024
	DefaultExtractionTokens  = 64
	DefaultJudgeTemperature  = 0.0
	textSnippetMarker        = "**(Text snippet)**"
	choiceExtractionTemplate = "The following text is a snippet where the writer makes a choice between two items. " +
		"Each %[1]s should have an integer ID. Which %[1]s ID was chosen, if any? \n\n" + textSnippetMarker
)

var _ ports.JudgeGateway = (*Gateway)(nil)

// Gateway implements ports.JudgeGateway over an LLM client.
type Gateway struct {
	engine string
	client ports.LLMClient
}

// NewGateway creates a judge for engine backed by client.
func NewGateway(engine string, client ports.LLMClient) (*Gateway, error) {
	if client == nil {
		return nil, fmt.Errorf("judge %s: LLM client cannot be nil", engine)
	}
	return &Gateway{engine: engine, client: client}, nil
}

// Engine returns the engine identifier this judge talks to.
func (g *Gateway) Engine() string { return g.engine }

// Complete returns the judge's free-text reply at temperature zero.
func (g *Gateway) Complete(ctx context.Context, prompt string) (string, error) {
	reply, err := g.client.Complete(ctx, prompt, map[string]any{
		"temperature": DefaultJudgeTemperature,
		"max_tokens":  DefaultMaxTokens,
	})
	if err != nil {
		return "", ports.NewLLMError(g.engine, "complete", err)
	}
	if strings.TrimSpace(reply) == "" {
		return "", ports.NewLLMError(g.engine, "complete", ports.ErrInvalidResponse)
	}
	return reply, nil
}

// ExtractChoice asks the model which of candidateIDs rawText chose. The
// reply format is described in the system message so the snippet stays the
// last thing in the prompt.
func (g *Gateway) ExtractChoice(ctx context.Context, rawText, itemTypeName string, candidateIDs []int) (int, bool, error) {
	prompt := fmt.Sprintf(choiceExtractionTemplate, itemTypeName) + rawText
	system := fmt.Sprintf(
		`Reply with a JSON object of the form {"answer": <ID>}. The ID is the integer ID (one of the following: %s) of the %s that was chosen, or null if no clear choice was made.`,
		orJoin(candidateIDs), itemTypeName)

	reply, err := g.client.Complete(ctx, prompt, map[string]any{
		"temperature":     DefaultJudgeTemperature,
		"max_tokens":      DefaultExtractionTokens,
		"response_format": "json_object",
		"system":          system,
	})
	if err != nil {
		return 0, false, ports.NewLLMError(g.engine, "extract_choice", err)
	}

	id, ok := DecodeChoice(reply, candidateIDs)
	if !ok {
		clog.FromContext(ctx).With("engine", g.engine).
			With("reply", truncate(reply, 200)).
			Warn("Choice answer is not one of the presented IDs, counting as invalid")
	}
	return id, ok, nil
}

// ClientSource resolves an engine identifier to an LLM client.
// llm.Router implements it.
type ClientSource interface {
	ClientFor(engine string) (ports.LLMClient, error)
}

var _ ports.JudgeProvider = (*Pool)(nil)

// Pool hands out one Gateway per engine.
type Pool struct {
	source   ClientSource
	mu       sync.Mutex
	gateways map[string]*Gateway
}

// NewPool creates a judge pool over source.
func NewPool(source ClientSource) *Pool {
	return &Pool{source: source, gateways: make(map[string]*Gateway)}
}

// JudgeFor returns the judge for engine.
func (p *Pool) JudgeFor(_ context.Context, engine string) (ports.JudgeGateway, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if g, ok := p.gateways[engine]; ok {
		return g, nil
	}

	client, err := p.source.ClientFor(engine)
	if err != nil {
		return nil, err
	}
	g, err := NewGateway(engine, client)
	if err != nil {
		return nil, err
	}
	p.gateways[engine] = g
	return g, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
