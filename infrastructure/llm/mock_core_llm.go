package llm

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ScriptedReply is one queued outcome of a MockCoreLLM call.
type ScriptedReply struct {
	Response string
	Err      error
}

// MockCoreLLM is a configurable CoreLLM for tests. Queued Script entries are
// consumed first, one per call; after that every call returns Response or
// Error.
type MockCoreLLM struct {
	mu sync.Mutex

	Response      string
	TokensIn      int
	TokensOut     int
	Error         error
	Model         string
	ResponseDelay time.Duration

	// Script holds replies returned in order before falling back to
	// Response and Error.
	Script []ScriptedReply

	// FailUntilAttempt makes the first N calls fail with Error.
	FailUntilAttempt int

	CallCount      int
	Prompts        []string
	LastOpts       map[string]any
	Contexts       []context.Context
	CallTimestamps []time.Time
}

// NewMockCoreLLM creates a mock that answers every call successfully.
func NewMockCoreLLM() *MockCoreLLM {
	return &MockCoreLLM{
		Response:  "test response",
		TokensIn:  10,
		TokensOut: 20,
		Model:     "test-model",
	}
}

// DoRequest records the call and returns the next scripted or configured
// outcome.
func (m *MockCoreLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	m.mu.Lock()
	m.CallCount++
	call := m.CallCount
	m.Prompts = append(m.Prompts, prompt)
	m.LastOpts = opts
	m.Contexts = append(m.Contexts, ctx)
	m.CallTimestamps = append(m.CallTimestamps, time.Now())

	var scripted *ScriptedReply
	if len(m.Script) > 0 {
		next := m.Script[0]
		m.Script = m.Script[1:]
		scripted = &next
	}
	delay := m.ResponseDelay
	response, tokensIn, tokensOut, configuredErr := m.Response, m.TokensIn, m.TokensOut, m.Error
	failing := m.FailUntilAttempt > 0 && call <= m.FailUntilAttempt
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return "", 0, 0, ctx.Err()
		}
	}

	if scripted != nil {
		if scripted.Err != nil {
			return "", 0, 0, scripted.Err
		}
		return scripted.Response, tokensIn, tokensOut, nil
	}

	if failing {
		if configuredErr != nil {
			return "", 0, 0, configuredErr
		}
		return "", 0, 0, errors.New("simulated failure")
	}

	if configuredErr != nil {
		return "", 0, 0, configuredErr
	}
	return response, tokensIn, tokensOut, nil
}

// GetModel returns the configured model name.
func (m *MockCoreLLM) GetModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Model
}

// SetModel updates the model name.
func (m *MockCoreLLM) SetModel(model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Model = model
}

// GetCallCount returns the number of times DoRequest was called.
func (m *MockCoreLLM) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// LastPrompt returns the prompt of the most recent call.
func (m *MockCoreLLM) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Prompts) == 0 {
		return ""
	}
	return m.Prompts[len(m.Prompts)-1]
}
