package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/miclaldogan/bantz-sub008/internal/backoff"
)

// RouterConfig configures the fast router backend. The router speaks the
// OpenAI chat API, so BaseURL can point at a local llama.cpp / Ollama
// endpoint as well as a hosted one.
type RouterConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// RouterClient is the fast backend used for intent routing and the fast
// finalizer tier.
type RouterClient struct {
	client *openai.Client
	model  string
}

// DefaultRouterModel is used when no model is configured.
const DefaultRouterModel = "qwen2.5-3b-instruct"

// routerMaxAttempts bounds transient-failure retries per call.
const routerMaxAttempts = 3

// isTransient reports whether the router call is worth retrying: rate
// limiting and upstream 5xx responses are; everything else is not.
func isTransient(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests ||
			apiErr.HTTPStatusCode >= http.StatusInternalServerError
	}
	return false
}

// NewRouterClient creates the router backend. An empty API key yields an
// unavailable client so startup can proceed without credentials.
func NewRouterClient(cfg RouterConfig) *RouterClient {
	model := cfg.Model
	if model == "" {
		model = DefaultRouterModel
	}
	rc := &RouterClient{model: model}
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return rc
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	rc.client = openai.NewClientWithConfig(apiCfg)
	return rc
}

// Name identifies the backend.
func (c *RouterClient) Name() string { return "router" }

// Available reports whether the client was configured.
func (c *RouterClient) Available() bool { return c != nil && c.client != nil }

// CompleteText sends a single-prompt completion and returns the text.
func (c *RouterClient) CompleteText(ctx context.Context, prompt string) (string, error) {
	res, err := c.ChatDetailed(ctx, Request{
		Messages: []Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	return res.Content, nil
}

// ChatDetailed runs a chat completion against the router endpoint.
func (c *RouterClient) ChatDetailed(ctx context.Context, req Request) (*ChatResult, error) {
	if !c.Available() {
		return nil, ErrNotConfigured
	}

	model := req.Model
	if model == "" {
		model = c.model
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	ccr := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	policy := backoff.LLMPolicy()
	var resp openai.ChatCompletionResponse
	var err error
	for attempt := 1; attempt <= routerMaxAttempts; attempt++ {
		resp, err = c.client.CreateChatCompletion(ctx, ccr)
		if err == nil || !isTransient(err) || attempt == routerMaxAttempts {
			break
		}
		if serr := policy.Sleep(ctx, attempt); serr != nil {
			return nil, fmt.Errorf("router completion: %w", serr)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("router completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("router completion: empty response")
	}

	choice := resp.Choices[0]
	return &ChatResult{
		Content:      choice.Message.Content,
		Model:        resp.Model,
		TokensUsed:   resp.Usage.TotalTokens,
		FinishReason: string(choice.FinishReason),
	}, nil
}
