package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/logging"
)

var (
	// ErrNotConfigured is returned when no LLM credentials are available
	ErrNotConfigured = errors.New("analyzer not configured: set ANTHROPIC_API_KEY")
	// ErrEmptyInput is returned for blank log text
	ErrEmptyInput = errors.New("log text is empty")
	// ErrEmptyResponse is returned when the model answers without text
	ErrEmptyResponse = errors.New("model returned no text")
)

// PromptTemplate frames the log text for the model
const PromptTemplate = "You're a DevOps agent. Analyze the following log and recommend what to do:\n\n%s"

// Analyzer turns log text into an operational recommendation
type Analyzer interface {
	Analyze(ctx context.Context, logText string) (string, error)
	Name() string
	Model() string
}

// Config holds analyzer configuration
type Config struct {
	Provider      string
	APIKey        string
	Model         string
	BaseURL       string
	MaxTokens     int
	Temperature   float64
	Timeout       time.Duration
	MaxInputBytes int
}

// New builds the configured analyzer. Without an API key the returned
// analyzer reports ErrNotConfigured on every call so the service can still
// start.
func New(cfg Config, logger *logging.Logger) (Analyzer, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	if strings.TrimSpace(cfg.APIKey) == "" {
		logger.Warn().Msg("No Anthropic API key configured, log analysis is disabled")
		return Disabled(), nil
	}

	switch cfg.Provider {
	case "", "anthropic":
		return NewClaudeAnalyzer(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported analyzer provider: %s", cfg.Provider)
	}
}

// BuildPrompt renders the prompt sent for logText
func BuildPrompt(logText string) string {
	return fmt.Sprintf(PromptTemplate, logText)
}

type disabled struct{}

// Disabled returns an analyzer that always fails with ErrNotConfigured
func Disabled() Analyzer {
	return disabled{}
}

func (disabled) Analyze(ctx context.Context, logText string) (string, error) {
	return "", ErrNotConfigured
}

func (disabled) Name() string  { return "disabled" }
func (disabled) Model() string { return "" }

// IsDisabled reports whether a is the unconfigured analyzer
func IsDisabled(a Analyzer) bool {
	if g, ok := a.(*Guarded); ok {
		a = g.inner
	}
	_, ok := a.(disabled)
	return ok
}
