package analyzer

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/logging"
	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/metrics"
	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/reliability"
	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/tracing"
)

// Request results recorded in metrics
const (
	ResultOK            = "ok"
	ResultError         = "error"
	ResultRejected      = "rejected"
	ResultNotConfigured = "not_configured"
	ResultEmptyInput    = "empty_input"
)

// GuardConfig configures the protection around an analyzer
type GuardConfig struct {
	Breaker reliability.CircuitBreakerConfig
	// Retry is nil when failed calls are not repeated
	Retry *reliability.RetryConfig
}

// Guarded protects an analyzer with a circuit breaker and optional retries,
// and records metrics and spans for every call.
type Guarded struct {
	inner   Analyzer
	breaker *reliability.CircuitBreaker
	retry   *reliability.RetryConfig
	metrics *metrics.Collector
	tracer  trace.Tracer
	logger  *logging.Logger
}

// NewGuarded wraps inner. Metrics and tracer are optional.
func NewGuarded(inner Analyzer, cfg GuardConfig, m *metrics.Collector, tracer trace.Tracer, logger *logging.Logger) *Guarded {
	if logger == nil {
		logger = logging.Nop()
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("analyzer")
	}

	g := &Guarded{
		inner:   inner,
		metrics: m,
		tracer:  tracer,
		logger:  logger.WithComponent("analyzer"),
	}

	breakerCfg := cfg.Breaker
	if breakerCfg.Name == "" {
		breakerCfg.Name = inner.Name()
	}
	// Caller mistakes say nothing about upstream health
	breakerCfg.IsSuccessful = func(err error) bool {
		return err == nil ||
			errors.Is(err, context.Canceled) ||
			errors.Is(err, ErrNotConfigured) ||
			errors.Is(err, ErrEmptyInput) ||
			IsClientError(err)
	}
	userHook := breakerCfg.OnStateChange
	breakerCfg.OnStateChange = func(name string, from, to reliability.State) {
		g.logger.Warn().
			Str("breaker", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("Analyzer circuit breaker changed state")
		if g.metrics != nil {
			g.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		}
		if userHook != nil {
			userHook(name, from, to)
		}
	}
	g.breaker = reliability.NewCircuitBreaker(breakerCfg)

	if cfg.Retry != nil {
		retry := *cfg.Retry
		if retry.Retryable == nil {
			retry.Retryable = retryable
		}
		if retry.OnRetry == nil {
			retry.OnRetry = func(attempt int, err error, wait time.Duration) {
				g.logger.Warn().
					Err(err).
					Int("attempt", attempt).
					Dur("backoff", wait).
					Msg("Retrying analysis")
			}
		}
		g.retry = &retry
	}

	if g.metrics != nil {
		g.metrics.CircuitBreakerState.WithLabelValues(breakerCfg.Name).Set(float64(reliability.StateClosed))
	}

	return g
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ErrNotConfigured),
		errors.Is(err, ErrEmptyInput),
		errors.Is(err, reliability.ErrCircuitOpen),
		errors.Is(err, reliability.ErrTooManyRequests),
		IsClientError(err):
		return false
	}
	return true
}

// Name returns the wrapped analyzer name
func (g *Guarded) Name() string {
	return g.inner.Name()
}

// Model returns the wrapped analyzer model
func (g *Guarded) Model() string {
	return g.inner.Model()
}

// Breaker exposes the circuit breaker for health reporting
func (g *Guarded) Breaker() *reliability.CircuitBreaker {
	return g.breaker
}

// Analyze runs the wrapped analyzer under the breaker
func (g *Guarded) Analyze(ctx context.Context, logText string) (string, error) {
	name := g.inner.Name()

	ctx, span := tracing.TraceAnalyze(ctx, g.tracer, name, len(logText))
	defer span.End()

	if g.metrics != nil {
		g.metrics.AnalyzerInputBytes.Observe(float64(len(logText)))
	}

	start := time.Now()

	var recommendation string
	var err error
	call := func(ctx context.Context) error {
		return g.breaker.Execute(ctx, func(ctx context.Context) error {
			out, err := g.inner.Analyze(ctx, logText)
			if err != nil {
				return err
			}
			recommendation = out
			return nil
		})
	}

	switch {
	case strings.TrimSpace(logText) == "":
		err = ErrEmptyInput
	case g.retry != nil:
		err = reliability.Retry(ctx, *g.retry, call)
	default:
		err = call(ctx)
	}

	elapsed := time.Since(start)
	result := classify(err)

	if g.metrics != nil {
		g.metrics.AnalyzerRequests.WithLabelValues(name, result).Inc()
		if result == ResultOK || result == ResultError {
			g.metrics.AnalyzerDuration.WithLabelValues(name).Observe(elapsed.Seconds())
		}
		g.metrics.CircuitBreakerFailed.WithLabelValues(g.breaker.Name()).Set(float64(g.breaker.Counts().ConsecutiveFailures))
	}

	if err != nil {
		tracing.RecordError(span, err)
		if result == ResultError {
			g.logger.Error().
				Err(err).
				Int("input_bytes", len(logText)).
				Dur("duration", elapsed).
				Msg("Log analysis failed")
		}
		return "", err
	}

	g.logger.Info().
		Int("input_bytes", len(logText)).
		Dur("duration", elapsed).
		Msg("Log analysis completed")

	return recommendation, nil
}

func classify(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, ErrNotConfigured):
		return ResultNotConfigured
	case errors.Is(err, ErrEmptyInput):
		return ResultEmptyInput
	case errors.Is(err, reliability.ErrCircuitOpen), errors.Is(err, reliability.ErrTooManyRequests):
		return ResultRejected
	default:
		return ResultError
	}
}
