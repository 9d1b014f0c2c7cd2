// Package llm defines the model-client contract and the two concrete
// backends: the fast local router and the quality finalizer.
package llm

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when a client is called without credentials.
var ErrNotConfigured = errors.New("llm client not configured")

// Message is one chat message.
type Message struct {
	Role    string `json:"role"` // system | user | assistant
	Content string `json:"content"`
}

// Request is a chat completion request.
type Request struct {
	System      string
	Messages    []Message
	Model       string // empty selects the client's default
	MaxTokens   int
	Temperature float32
}

// ChatResult is the detailed completion envelope.
type ChatResult struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	TokensUsed   int    `json:"tokens_used"`
	FinishReason string `json:"finish_reason"`
}

// Client is the contract both the router and the quality finalizer satisfy.
type Client interface {
	// Name identifies the backend in logs and traces.
	Name() string

	// Available reports whether the client can serve requests right now.
	Available() bool

	// CompleteText returns just the completion text for a single prompt.
	CompleteText(ctx context.Context, prompt string) (string, error)

	// ChatDetailed runs a full chat request and returns usage details.
	ChatDetailed(ctx context.Context, req Request) (*ChatResult, error)
}
