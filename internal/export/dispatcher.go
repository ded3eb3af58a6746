package export

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/logging"
	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/metrics"
	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/tracing"
	"github.com/therealutkarshpriyadarshi/devops-assistant/pkg/types"
)

// Export results recorded in metrics
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultDropped = "dropped"
)

// DispatcherConfig configures asynchronous delivery
type DispatcherConfig struct {
	QueueSize int
	// Timeout bounds a single Export call
	Timeout time.Duration
	// DeadLetter, if set, keeps records that failed or were dropped
	DeadLetter DeadLetterSink
}

// DeadLetterSink holds undelivered records for a later replay
type DeadLetterSink interface {
	Add(record *types.Analysis, cause error) error
}

// DispatcherStats summarises delivery since start
type DispatcherStats struct {
	Queued    int   `json:"queued"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

// Dispatcher hands records to an exporter from a single background worker so
// that request handlers never wait on external systems. A full queue drops
// the newest record.
type Dispatcher struct {
	exporter   Exporter
	timeout    time.Duration
	deadLetter DeadLetterSink
	metrics  *metrics.Collector
	tracer   trace.Tracer
	logger   *logging.Logger

	mu     sync.RWMutex
	queue  chan *types.Analysis
	closed bool
	doneCh chan struct{}

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewDispatcher starts the delivery worker
func NewDispatcher(exporter Exporter, cfg DispatcherConfig, m *metrics.Collector, tracer trace.Tracer, logger *logging.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("export")
	}
	if logger == nil {
		logger = logging.Nop()
	}

	d := &Dispatcher{
		exporter:   exporter,
		timeout:    cfg.Timeout,
		deadLetter: cfg.DeadLetter,
		metrics:  m,
		tracer:   tracer,
		logger:   logger.WithComponent("export").WithField("exporter", exporter.Name()),
		queue:    make(chan *types.Analysis, cfg.QueueSize),
		doneCh:   make(chan struct{}),
	}

	go d.run()

	return d
}

// Submit queues a record without blocking. It returns false when the record
// was dropped because the queue is full or the dispatcher is closed.
func (d *Dispatcher) Submit(record *types.Analysis) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(record, "dispatcher closed")
		return false
	}

	select {
	case d.queue <- record:
		d.setQueueGauge()
		return true
	default:
		d.drop(record, "export queue full")
		return false
	}
}

func (d *Dispatcher) drop(record *types.Analysis, reason string) {
	d.dropped.Add(1)
	if d.metrics != nil {
		d.metrics.ExportRecords.WithLabelValues(d.exporter.Name(), ResultDropped).Inc()
	}
	d.logger.Warn().Str("analysis_id", record.ID).Msg("Analysis not exported: " + reason)
	d.toDeadLetter(record, errors.New(reason))
}

func (d *Dispatcher) toDeadLetter(record *types.Analysis, cause error) {
	if d.deadLetter == nil {
		return
	}
	if err := d.deadLetter.Add(record, cause); err != nil {
		d.logger.Error().
			Err(err).
			Str("analysis_id", record.ID).
			Msg("Failed to keep undelivered analysis")
	}
}

func (d *Dispatcher) run() {
	defer close(d.doneCh)

	for record := range d.queue {
		d.setQueueGauge()
		d.deliver(record)
	}
}

func (d *Dispatcher) deliver(record *types.Analysis) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	ctx, span := tracing.TraceExport(ctx, d.tracer, d.exporter.Name(), record.ID)
	defer span.End()

	start := time.Now()
	err := d.exporter.Export(ctx, record)
	elapsed := time.Since(start)

	result := ResultOK
	if err != nil {
		result = ResultError
		d.failed.Add(1)
		tracing.RecordError(span, err)
		d.logger.Error().
			Err(err).
			Str("analysis_id", record.ID).
			Msg("Failed to export analysis")
		d.toDeadLetter(record, err)
	} else {
		d.delivered.Add(1)
		d.logger.Debug().
			Str("analysis_id", record.ID).
			Dur("duration", elapsed).
			Msg("Analysis exported")
	}

	if d.metrics != nil {
		d.metrics.ExportRecords.WithLabelValues(d.exporter.Name(), result).Inc()
		d.metrics.ExportDuration.WithLabelValues(d.exporter.Name()).Observe(elapsed.Seconds())
	}
}

func (d *Dispatcher) setQueueGauge() {
	if d.metrics != nil {
		d.metrics.ExportQueue.Set(float64(len(d.queue)))
	}
}

// Stats returns delivery counters
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Queued:    len(d.queue),
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
	}
}

// Name identifies the dispatcher in the shutdown sequence
func (d *Dispatcher) Name() string {
	return "export"
}

// Shutdown stops accepting records, delivers what is queued and closes the
// exporter. Records still queued when ctx expires are abandoned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	return d.exporter.Close()
}
