package llm

import (
	"context"
	"sync"
)

// MockClient returns scripted responses for tests and offline runs. When the
// script runs out it falls back to the Fallback function, or echoes the last
// user message.
type MockClient struct {
	mu        sync.Mutex
	responses []string
	calls     int
	// Fallback produces a response when the script is exhausted.
	Fallback func(req Request) string
}

// NewMockClient creates a mock that replies with the given responses in order.
func NewMockClient(responses ...string) *MockClient {
	return &MockClient{responses: responses}
}

// Model identifies the mock backend.
func (m *MockClient) Model() string {
	return "mock-model"
}

// Calls reports how many completions were requested.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Complete pops the next scripted response.
func (m *MockClient) Complete(_ context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if len(m.responses) > 0 {
		next := m.responses[0]
		m.responses = m.responses[1:]
		return &Response{Content: next, TokensUsed: len(next) / 4, Model: m.Model()}, nil
	}
	if m.Fallback != nil {
		content := m.Fallback(req)
		return &Response{Content: content, TokensUsed: len(content) / 4, Model: m.Model()}, nil
	}
	content := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			content = req.Messages[i].Content
			break
		}
	}
	return &Response{Content: content, TokensUsed: len(content) / 4, Model: m.Model()}, nil
}
