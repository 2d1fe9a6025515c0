// Package llm defines the narrow adapter interface used to call language
// model backends, plus an OpenAI-compatible HTTP client and a deterministic
// mock for tests.
package llm

import (
	"context"
)

// Role identifies the author of a chat message.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single completion call.
type Request struct {
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// Response carries the completion text and usage.
type Response struct {
	Content    string `json:"content"`
	TokensUsed int    `json:"tokens_used"`
	Model      string `json:"model"`
}

// Client is the narrow LLM adapter contract. Implementations must be safe for
// concurrent use.
type Client interface {
	// Complete performs one blocking completion call.
	Complete(ctx context.Context, req Request) (*Response, error)
	// Model returns the model name used by this client.
	Model() string
}
