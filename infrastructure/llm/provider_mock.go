package llm

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
)

func init() {
	RegisterProviderFactory("mock", newMockProvider)
}

var (
	// displayIDHeading matches the "## <item> <id>" section headers of a
	// comparison prompt.
	displayIDHeading = regexp.MustCompile(`(?m)^## .* (\d+)\s*$`)
	firstInteger     = regexp.MustCompile(`\d+`)
)

// mockProvider is an offline judge for dry runs. It picks one of the
// presented display IDs deterministically from the prompt text and answers
// choice-extraction prompts with the first integer in the snippet.
type mockProvider struct {
	BaseProvider
	tokenCounter *TokenCounter
}

func newMockProvider(config ClientConfig) (CoreLLM, error) {
	model := config.Model
	if model == "" {
		model = "mock"
	}
	return &mockProvider{
		BaseProvider: BaseProvider{model: model},
		tokenCounter: NewTokenCounter(),
	}, nil
}

func (p *mockProvider) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, 0, (&ErrorClassifier{Provider: "mock"}).ClassifyContextError(err)
	}

	var reply string
	if ExtractOptionalString(opts, "response_format", "", nil) == "json_object" {
		reply = `{"answer": null}`
		if _, snippet, ok := strings.Cut(prompt, "**(Text snippet)**"); ok {
			if id := firstInteger.FindString(snippet); id != "" {
				reply = fmt.Sprintf(`{"answer": %s}`, id)
			}
		}
	} else {
		matches := displayIDHeading.FindAllStringSubmatch(prompt, -1)
		if len(matches) == 0 {
			reply = "I cannot tell the options apart."
		} else {
			h := fnv.New32a()
			_, _ = h.Write([]byte(prompt))
			pick := matches[int(h.Sum32()%uint32(len(matches)))][1]
			reply = fmt.Sprintf("After weighing both options I would choose %s.", pick)
		}
	}

	return reply, p.tokenCounter.EstimateTokens(prompt), p.tokenCounter.EstimateTokens(reply), nil
}
