package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/logging"
)

// DefaultTimeout bounds the whole shutdown sequence
const DefaultTimeout = 30 * time.Second

// Func performs cleanup for one component
type Func func(context.Context) error

// Component can be stopped by the manager
type Component interface {
	Shutdown(context.Context) error
	Name() string
}

type step struct {
	name string
	fn   Func
}

// Manager runs registered cleanup steps once, in registration order, under a
// shared deadline. Register the request-facing components first so that
// in-flight work finishes before its dependencies go away.
type Manager struct {
	logger  *logging.Logger
	timeout time.Duration

	mu    sync.Mutex
	steps []step

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	doneCh       chan struct{}
	err          error
}

// Config holds shutdown manager configuration
type Config struct {
	Timeout time.Duration
	Logger  *logging.Logger
}

// New creates a shutdown manager
func New(cfg Config) *Manager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}

	return &Manager{
		logger:     cfg.Logger.WithComponent("shutdown"),
		timeout:    cfg.Timeout,
		shutdownCh: make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// RegisterFunc appends a named cleanup step
func (m *Manager) RegisterFunc(name string, fn Func) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.steps = append(m.steps, step{name: name, fn: fn})
	m.logger.Debug().Str("step", name).Msg("Registered shutdown step")
}

// RegisterComponent appends c.Shutdown as a cleanup step
func (m *Manager) RegisterComponent(c Component) {
	m.RegisterFunc(c.Name(), c.Shutdown)
}

// WaitForSignal blocks until one of signals arrives, ctx ends, or Shutdown is
// called elsewhere, then runs the shutdown sequence. SIGINT and SIGTERM are
// used when no signals are given.
func (m *Manager) WaitForSignal(ctx context.Context, signals ...os.Signal) error {
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, signals...)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		m.logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case <-ctx.Done():
		m.logger.Info().Err(ctx.Err()).Msg("Context ended, shutting down")
	case <-m.shutdownCh:
	}

	return m.Shutdown()
}

// Shutdown runs every step once. Later calls wait for the first run and
// return its result.
func (m *Manager) Shutdown() error {
	m.shutdownOnce.Do(func() {
		close(m.shutdownCh)
		m.err = m.run()
		close(m.doneCh)
	})

	<-m.doneCh
	return m.err
}

func (m *Manager) run() error {
	m.mu.Lock()
	steps := append([]step(nil), m.steps...)
	m.mu.Unlock()

	m.logger.Info().
		Dur("timeout", m.timeout).
		Int("steps", len(steps)).
		Msg("Starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var errs []error
	for _, s := range steps {
		if ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("%s: skipped: %w", s.name, ctx.Err()))
			m.logger.Warn().Str("step", s.name).Msg("Shutdown deadline passed, skipping step")
			continue
		}

		start := time.Now()
		if err := runStep(ctx, s.fn); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			m.logger.Error().Err(err).Str("step", s.name).Msg("Shutdown step failed")
			continue
		}
		m.logger.Debug().Str("step", s.name).Dur("took", time.Since(start)).Msg("Shutdown step completed")
	}

	if len(errs) > 0 {
		m.logger.Warn().Int("errors", len(errs)).Msg("Graceful shutdown completed with errors")
		return errors.Join(errs...)
	}

	m.logger.Info().Msg("Graceful shutdown completed")
	return nil
}

// runStep returns when fn does or when ctx expires, whichever is first
func runStep(ctx context.Context, fn Func) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- fn(ctx)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the shutdown sequence has finished
func (m *Manager) Done() <-chan struct{} {
	return m.doneCh
}

// ShutdownChannel is closed as soon as shutdown starts
func (m *Manager) ShutdownChannel() <-chan struct{} {
	return m.shutdownCh
}

// WaitWithTimeout waits for a running shutdown to finish
func (m *Manager) WaitWithTimeout(timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-m.Done():
		return nil
	case <-timer.C:
		return fmt.Errorf("shutdown did not complete within %v", timeout)
	}
}
