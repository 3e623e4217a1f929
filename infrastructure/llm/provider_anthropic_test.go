package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const anthropicMessageBody = `{
  "id": "msg_01",
  "type": "message",
  "role": "assistant",
  "model": "claude-3-5-sonnet-20241022",
  "content": [{"type": "text", "text": "Option 2210 reads better."}],
  "stop_reason": "end_turn",
  "usage": {"input_tokens": 31, "output_tokens": 7}
}`

func newAnthropicTestProvider(t *testing.T, status int, body string) (CoreLLM, *map[string]any, *int) {
	t.Helper()
	var lastRequest map[string]any
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &lastRequest))
		assert.Equal(t, "/v1/messages", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	provider, err := newAnthropicProvider(ClientConfig{APIKey: "test-key", Model: "claude-3-5-sonnet-20241022", BaseURL: server.URL})
	require.NoError(t, err)
	return provider, &lastRequest, &calls
}

func TestAnthropicProvider_DoRequest(t *testing.T) {
	// Given a server returning one text block
	provider, lastRequest, _ := newAnthropicTestProvider(t, http.StatusOK, anthropicMessageBody)

	// When sending a request with an out-of-range temperature
	response, tokensIn, tokensOut, err := provider.DoRequest(context.Background(), "Which is better?",
		map[string]any{"temperature": 1.5, "system": "You are a careful shopper."})

	// Then the text and usage are returned and the temperature is clamped
	require.NoError(t, err)
	assert.Equal(t, "Option 2210 reads better.", response)
	assert.Equal(t, 31, tokensIn)
	assert.Equal(t, 7, tokensOut)
	assert.InDelta(t, 1.0, (*lastRequest)["temperature"], 0.001)
	assert.InDelta(t, DefaultMaxTokens, (*lastRequest)["max_tokens"], 0.001)
	assert.NotNil(t, (*lastRequest)["system"])
}

func TestAnthropicProvider_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		want      ErrorType
		fatal     bool
		retryable bool
	}{
		{"overloaded is retried", 529, ErrorTypeRateLimit, false, true},
		{"rate limit is fatal", http.StatusTooManyRequests, ErrorTypeQuota, true, false},
		{"bad key is fatal", http.StatusUnauthorized, ErrorTypeAuthentication, true, false},
		{"internal error is retried", http.StatusInternalServerError, ErrorTypeServerError, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{"type": "error", "error": {"type": "some_error", "message": "nope"}}`
			provider, _, calls := newAnthropicTestProvider(t, tt.status, body)

			_, _, _, err := provider.DoRequest(context.Background(), "prompt", nil)

			require.Error(t, err)
			var pe *ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.want, pe.Type)
			assert.Equal(t, tt.fatal, IsFatal(err))
			assert.Equal(t, tt.retryable, IsRetryable(err))
			assert.Equal(t, 1, *calls, "the SDK must not retry on its own")
		})
	}
}

func TestAnthropicProvider_RequiresKey(t *testing.T) {
	_, err := newAnthropicProvider(ClientConfig{Model: "claude-3-5-sonnet-20241022"})
	assert.ErrorIs(t, err, ErrEmptyAPIKey)
}
