// Package llm wraps the LiteLLM gateway's chat completion endpoint behind
// a small interface. No caching or retry lives at this layer; callers own
// their degradation policy.
package llm

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/scribe-rag/scribe/internal/config"
	"github.com/scribe-rag/scribe/internal/errors"
	"github.com/scribe-rag/scribe/internal/model"
)

// Default generation parameters applied when a request leaves them unset.
const (
	DefaultTemperature = 0.3
	DefaultMaxTokens   = 1000
)

// CompletionRequest describes one chat completion call.
type CompletionRequest struct {
	Prompt       string
	SystemPrompt string
	Model        string        // empty uses the configured default
	Temperature  float64       // <= 0 uses DefaultTemperature
	MaxTokens    int64         // <= 0 uses DefaultMaxTokens
	Timeout      time.Duration // <= 0 uses the configured gateway timeout
}

// CompletionResult is the gateway's answer plus accounting.
type CompletionResult struct {
	Content string
	Model   string
	Usage   model.Usage
}

// Client is the chat completion capability.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
}

// GatewayClient talks to a LiteLLM-compatible gateway over the OpenAI
// chat completions API.
type GatewayClient struct {
	client  openaisdk.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

var _ Client = (*GatewayClient)(nil)

// NewGatewayClient builds a client from gateway configuration.
func NewGatewayClient(cfg config.GatewayConfig, logger *slog.Logger) *GatewayClient {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &GatewayClient{
		client:  openaisdk.NewClient(opts...),
		model:   cfg.LLMModel,
		timeout: cfg.Timeout,
		logger:  logger.With("component", "llm"),
	}
}

// Complete runs one chat completion under the configured timeout. Non-2xx
// responses surface as kinded errors with sanitized messages; the full
// response detail stays in server logs.
func (c *GatewayClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	if req.Temperature <= 0 {
		req.Temperature = DefaultTemperature
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = DefaultMaxTokens
	}

	timeout := c.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	messages := make([]openaisdk.ChatCompletionMessageParamUnion, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openaisdk.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openaisdk.UserMessage(req.Prompt))

	start := time.Now()
	completion, err := c.client.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Messages:            messages,
		Model:               openaisdk.ChatModel(req.Model),
		Temperature:         param.NewOpt(req.Temperature),
		MaxCompletionTokens: param.NewOpt(req.MaxTokens),
	})
	if err != nil {
		return nil, c.classify(err, req.Model, time.Since(start))
	}
	if len(completion.Choices) == 0 {
		return nil, errors.Upstream("gateway returned no choices", nil)
	}

	c.logger.Debug("completion finished",
		"model", req.Model,
		"duration_ms", time.Since(start).Milliseconds(),
		"total_tokens", completion.Usage.TotalTokens)

	return &CompletionResult{
		Content: completion.Choices[0].Message.Content,
		Model:   completion.Model,
		Usage: model.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}, nil
}

// classify maps a transport failure to an error kind. 429 and 5xx are
// retryable; other 4xx are upstream errors; deadline hits are timeouts.
func (c *GatewayClient) classify(err error, model string, elapsed time.Duration) error {
	c.logger.Error("completion failed", "model", model, "duration_ms", elapsed.Milliseconds(), "error", err)

	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Timeout(fmt.Sprintf("LLM call timed out after %s", c.timeout), err)
	}

	var apiErr *openaisdk.Error
	if stderrors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429 || apiErr.StatusCode >= 500:
			return errors.Transient(fmt.Sprintf("LLM call failed with status %d", apiErr.StatusCode), err)
		case apiErr.StatusCode >= 400:
			return errors.Upstream(fmt.Sprintf("LLM call rejected with status %d", apiErr.StatusCode), err)
		}
	}
	return errors.Transient("LLM call failed", err)
}
