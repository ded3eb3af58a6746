package reliability

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrCircuitOpen is returned without calling the dependency while open
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned when every half-open trial slot is taken
	ErrTooManyRequests = errors.New("too many requests")
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	Name string
	// MaxRequests is the number of trial calls allowed while half-open and
	// the number of consecutive successes needed to close again.
	MaxRequests uint32
	// Interval clears the closed-state counts periodically (0 never clears).
	Interval time.Duration
	// Timeout is how long the breaker stays open before a trial call.
	Timeout time.Duration
	// FailureThreshold trips the breaker after that many consecutive failures.
	FailureThreshold uint32
	OnStateChange    func(name string, from State, to State)
	// IsSuccessful decides whether a returned error counts against the breaker.
	// The default treats nil and context.Canceled as success.
	IsSuccessful func(err error) bool
}

// Counts holds the outcomes recorded since the last state change
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// CircuitBreaker guards calls to the analyzer backend. While open it fails
// fast; after Timeout it lets MaxRequests trial calls through.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu     sync.Mutex
	state  State
	counts Counts
	// epoch changes with every state change or counting window, so outcomes
	// of calls admitted earlier are discarded
	epoch     uint64
	openUntil time.Time
	windowEnd time.Time
}

// NewCircuitBreaker creates a closed circuit breaker
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.IsSuccessful == nil {
		config.IsSuccessful = func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		}
	}

	cb := &CircuitBreaker{config: config}
	cb.begin(time.Now())
	return cb
}

// Name returns the breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// Execute runs fn if the breaker admits it and records the outcome. A panic
// in fn counts as a failure and is re-raised.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	epoch, err := cb.admit()
	if err != nil {
		return err
	}

	ok := false
	defer func() { cb.settle(epoch, ok) }()

	err = fn(ctx)
	ok = cb.config.IsSuccessful(err)
	return err
}

// State returns the current state
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.advance(time.Now())
	return cb.state
}

// Counts returns the outcomes recorded since the last state change
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Reset closes the breaker and clears its counts
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	cb.moveTo(StateClosed, now)
	cb.begin(now)
}

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.advance(time.Now())

	switch {
	case cb.state == StateOpen:
		return 0, ErrCircuitOpen
	case cb.state == StateHalfOpen && cb.counts.Requests >= cb.config.MaxRequests:
		return 0, ErrTooManyRequests
	}

	cb.counts.Requests++
	return cb.epoch, nil
}

func (cb *CircuitBreaker) settle(epoch uint64, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	cb.advance(now)
	if epoch != cb.epoch {
		return
	}

	if ok {
		cb.counts.TotalSuccesses++
		cb.counts.ConsecutiveSuccesses++
		cb.counts.ConsecutiveFailures = 0

		if cb.state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.config.MaxRequests {
			cb.moveTo(StateClosed, now)
		}
		return
	}

	cb.counts.TotalFailures++
	cb.counts.ConsecutiveFailures++
	cb.counts.ConsecutiveSuccesses = 0

	if cb.state == StateHalfOpen || cb.counts.ConsecutiveFailures >= cb.config.FailureThreshold {
		cb.moveTo(StateOpen, now)
	}
}

// advance applies time-based transitions. Caller holds mu.
func (cb *CircuitBreaker) advance(now time.Time) {
	switch cb.state {
	case StateOpen:
		if now.After(cb.openUntil) {
			cb.moveTo(StateHalfOpen, now)
		}
	case StateClosed:
		if !cb.windowEnd.IsZero() && now.After(cb.windowEnd) {
			cb.begin(now)
		}
	}
}

// moveTo switches state and starts a new epoch. Caller holds mu.
func (cb *CircuitBreaker) moveTo(to State, now time.Time) {
	from := cb.state
	if from == to {
		return
	}

	cb.state = to
	cb.begin(now)

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.config.Name, from, to)
	}
}

// begin clears the counts and sets the deadline for the current state
func (cb *CircuitBreaker) begin(now time.Time) {
	cb.epoch++
	cb.counts = Counts{}
	cb.openUntil = time.Time{}
	cb.windowEnd = time.Time{}

	switch cb.state {
	case StateOpen:
		cb.openUntil = now.Add(cb.config.Timeout)
	case StateClosed:
		if cb.config.Interval > 0 {
			cb.windowEnd = now.Add(cb.config.Interval)
		}
	}
}

// Metrics is a snapshot of the breaker for status reporting
type Metrics struct {
	Name                 string  `json:"name"`
	State                string  `json:"state"`
	Requests             uint32  `json:"requests"`
	TotalSuccesses       uint32  `json:"total_successes"`
	TotalFailures        uint32  `json:"total_failures"`
	ConsecutiveSuccesses uint32  `json:"consecutive_successes"`
	ConsecutiveFailures  uint32  `json:"consecutive_failures"`
	ErrorRate            float64 `json:"error_rate"`
}

// Metrics returns a snapshot of state and counts
func (cb *CircuitBreaker) Metrics() Metrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.advance(time.Now())
	c := cb.counts

	m := Metrics{
		Name:                 cb.config.Name,
		State:                cb.state.String(),
		Requests:             c.Requests,
		TotalSuccesses:       c.TotalSuccesses,
		TotalFailures:        c.TotalFailures,
		ConsecutiveSuccesses: c.ConsecutiveSuccesses,
		ConsecutiveFailures:  c.ConsecutiveFailures,
	}
	if c.Requests > 0 {
		m.ErrorRate = float64(c.TotalFailures) / float64(c.Requests) * 100
	}
	return m
}
