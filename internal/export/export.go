package export

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/config"
	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/logging"
	"github.com/therealutkarshpriyadarshi/devops-assistant/pkg/types"
)

// ErrClosed is returned when exporting through a closed exporter
var ErrClosed = errors.New("exporter is closed")

// Exporter delivers analysis records to an external system
type Exporter interface {
	// Export delivers a single record
	Export(ctx context.Context, record *types.Analysis) error

	// Close flushes pending records and releases resources
	Close() error

	// Name returns the name of the exporter
	Name() string
}

// Stats tracks delivery results of one exporter
type Stats struct {
	Sent          int64     `json:"sent"`
	Failed        int64     `json:"failed"`
	BytesSent     int64     `json:"bytes_sent"`
	LastSendTime  time.Time `json:"last_send_time,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	LastErrorTime time.Time `json:"last_error_time,omitempty"`
}

// statsRecorder is embedded by exporters to keep their Stats
type statsRecorder struct {
	mu    sync.Mutex
	stats Stats
}

func (s *statsRecorder) recordSuccess(records int, bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Sent += int64(records)
	s.stats.BytesSent += int64(bytes)
	s.stats.LastSendTime = time.Now()
}

func (s *statsRecorder) recordFailure(records int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Failed += int64(records)
	s.stats.LastError = err.Error()
	s.stats.LastErrorTime = time.Now()
}

// Stats returns a copy of the delivery statistics
func (s *statsRecorder) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Multi fans a record out to several exporters. Every exporter is tried; the
// returned error joins the individual failures.
type Multi struct {
	exporters []Exporter
}

// NewMulti creates a fan-out exporter
func NewMulti(exporters ...Exporter) *Multi {
	return &Multi{exporters: exporters}
}

// Export sends the record to every exporter in parallel
func (m *Multi) Export(ctx context.Context, record *types.Analysis) error {
	if len(m.exporters) == 1 {
		return m.exporters[0].Export(ctx, record)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(m.exporters))

	for i, exp := range m.exporters {
		wg.Add(1)
		go func(i int, exp Exporter) {
			defer wg.Done()
			if err := exp.Export(ctx, record); err != nil {
				errs[i] = fmt.Errorf("%s: %w", exp.Name(), err)
			}
		}(i, exp)
	}

	wg.Wait()
	return errors.Join(errs...)
}

// Close closes every exporter
func (m *Multi) Close() error {
	var errs []error
	for _, exp := range m.exporters {
		if err := exp.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", exp.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Name returns the exporter name
func (m *Multi) Name() string {
	return "multi"
}

// Exporters returns the wrapped exporters
func (m *Multi) Exporters() []Exporter {
	return m.exporters
}

// New builds the exporters enabled in cfg. It returns nil when export is
// disabled.
func New(ctx context.Context, cfg *config.ExportConfig, logger *logging.Logger) (Exporter, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = logging.Nop()
	}

	var exporters []Exporter
	closeAll := func() {
		for _, exp := range exporters {
			_ = exp.Close()
		}
	}

	if cfg.File != nil {
		exp, err := NewFileExporter(cfg.File.Path)
		if err != nil {
			return nil, err
		}
		exporters = append(exporters, exp)
	}

	if cfg.Kafka != nil {
		exp, err := NewKafkaExporter(*cfg.Kafka)
		if err != nil {
			closeAll()
			return nil, err
		}
		exporters = append(exporters, exp)
	}

	if cfg.Elasticsearch != nil {
		exp, err := NewElasticsearchExporter(ctx, *cfg.Elasticsearch)
		if err != nil {
			closeAll()
			return nil, err
		}
		exporters = append(exporters, exp)
	}

	if cfg.S3 != nil {
		exp, err := NewS3Exporter(ctx, *cfg.S3)
		if err != nil {
			closeAll()
			return nil, err
		}
		exporters = append(exporters, exp)
	}

	for _, exp := range exporters {
		logger.Info().Str("exporter", exp.Name()).Msg("Analysis exporter enabled")
	}

	if len(exporters) == 1 {
		return exporters[0], nil
	}
	return NewMulti(exporters...), nil
}
