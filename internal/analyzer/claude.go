package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/logging"
	"github.com/therealutkarshpriyadarshi/devops-assistant/pkg/types"
)

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 1024
	defaultTimeout   = 60 * time.Second
)

// ClaudeAnalyzer asks an Anthropic model for a recommendation
type ClaudeAnalyzer struct {
	client        anthropic.Client
	model         string
	maxTokens     int64
	temperature   float64
	timeout       time.Duration
	maxInputBytes int
	logger        *logging.Logger
}

// NewClaudeAnalyzer creates an analyzer backed by the Anthropic Messages API
func NewClaudeAnalyzer(cfg Config, logger *logging.Logger) (*ClaudeAnalyzer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNotConfigured
	}
	if logger == nil {
		logger = logging.Nop()
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	// Retries are owned by the guard around the analyzer
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	a := &ClaudeAnalyzer{
		client:        anthropic.NewClient(opts...),
		model:         model,
		maxTokens:     int64(maxTokens),
		temperature:   cfg.Temperature,
		timeout:       timeout,
		maxInputBytes: cfg.MaxInputBytes,
		logger:        logger.WithComponent("analyzer"),
	}

	a.logger.Debug().
		Str("model", model).
		Dur("timeout", timeout).
		Float64("temperature", cfg.Temperature).
		Int("max_tokens", maxTokens).
		Msg("Claude analyzer initialized")

	return a, nil
}

// Name returns the analyzer name
func (a *ClaudeAnalyzer) Name() string {
	return "claude"
}

// Model returns the model identifier used for requests
func (a *ClaudeAnalyzer) Model() string {
	return a.model
}

// Analyze sends the log text to the model and returns its recommendation
func (a *ClaudeAnalyzer) Analyze(ctx context.Context, logText string) (string, error) {
	if strings.TrimSpace(logText) == "" {
		return "", ErrEmptyInput
	}

	input := types.Excerpt(logText, a.maxInputBytes)
	if len(input) < len(logText) {
		a.logger.Debug().
			Int("input_bytes", len(logText)).
			Int("sent_bytes", len(input)).
			Msg("Log text truncated to its most recent part")
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   a.maxTokens,
		Temperature: anthropic.Float(a.temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(BuildPrompt(input))),
		},
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("claude request failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	if text.Len() == 0 {
		return "", ErrEmptyResponse
	}

	a.logger.Debug().
		Int64("input_tokens", resp.Usage.InputTokens).
		Int64("output_tokens", resp.Usage.OutputTokens).
		Msg("Claude analysis completed")

	return text.String(), nil
}

// IsClientError reports whether err is a 4xx answer from the API other than
// rate limiting; repeating such a request does not help.
func IsClientError(err error) bool {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != 429
}
