package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// QualityConfig configures the quality finalizer backend.
type QualityConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// DefaultQualityModel is used when no model is configured.
const DefaultQualityModel = "claude-sonnet-4-20250514"

// QualityClient is the high-quality backend used for writing-heavy
// finalization (email drafts, long explanations).
type QualityClient struct {
	client     *anthropic.Client
	model      string
	configured bool
}

// NewQualityClient creates the quality backend. An empty API key yields an
// unavailable client; the tier policy then falls back to the router.
func NewQualityClient(cfg QualityConfig) *QualityClient {
	model := cfg.Model
	if model == "" {
		model = DefaultQualityModel
	}
	qc := &QualityClient{model: model}
	if cfg.APIKey == "" {
		return qc
	}

	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(options...)
	qc.client = &client
	qc.configured = true
	return qc
}

// Name identifies the backend.
func (c *QualityClient) Name() string { return "quality" }

// Available reports whether the client was configured.
func (c *QualityClient) Available() bool { return c != nil && c.configured }

// CompleteText sends a single-prompt completion and returns the text.
func (c *QualityClient) CompleteText(ctx context.Context, prompt string) (string, error) {
	res, err := c.ChatDetailed(ctx, Request{
		Messages: []Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	return res.Content, nil
}

// ChatDetailed runs a messages request against the Anthropic API.
func (c *QualityClient) ChatDetailed(ctx context.Context, req Request) (*ChatResult, error) {
	if !c.Available() {
		return nil, ErrNotConfigured
	}

	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}
	for _, m := range req.Messages {
		block := anthropic.NewTextBlock(m.Content)
		switch m.Role {
		case "assistant":
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("quality completion: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &ChatResult{
		Content:      text.String(),
		Model:        string(msg.Model),
		TokensUsed:   int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		FinishReason: string(msg.StopReason),
	}, nil
}
