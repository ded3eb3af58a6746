package dlq

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/logging"
	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/metrics"
	"github.com/therealutkarshpriyadarshi/devops-assistant/pkg/types"
)

var (
	ErrClosed = errors.New("dead-letter queue is closed")
	ErrFull   = errors.New("dead-letter queue is full")
)

// Defaults
const (
	DefaultMaxSize = 1000
	DefaultMaxAge  = 24 * time.Hour
)

// Config holds dead-letter configuration
type Config struct {
	// Path is the JSON lines file holding undelivered records
	Path    string
	MaxSize int
	MaxAge  time.Duration
}

// Entry is one undelivered analysis record
type Entry struct {
	Record    *types.Analysis `json:"record"`
	Error     string          `json:"error"`
	Timestamp time.Time       `json:"timestamp"`
	Attempts  int             `json:"attempts"`
}

// Stats holds dead-letter counters
type Stats struct {
	Size    int    `json:"size"`
	MaxSize int    `json:"max_size"`
	Added   uint64 `json:"added"`
	Drained uint64 `json:"drained"`
	Dropped uint64 `json:"dropped"`
}

// Queue keeps analysis records that could not be exported so they can be
// replayed after a restart. Every change is written through to disk.
type Queue struct {
	config  Config
	metrics *metrics.Collector
	logger  *logging.Logger

	mu      sync.Mutex
	entries []*Entry
	closed  bool

	added   atomic.Uint64
	drained atomic.Uint64
	dropped atomic.Uint64
}

// Open loads the dead-letter file, discarding entries older than MaxAge
func Open(cfg Config, m *metrics.Collector, logger *logging.Logger) (*Queue, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("dead-letter path is required")
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if logger == nil {
		logger = logging.Nop()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create dead-letter directory: %w", err)
	}

	q := &Queue{
		config:  cfg,
		metrics: m,
		logger:  logger.WithComponent("dlq").WithField("path", cfg.Path),
	}

	if err := q.load(); err != nil {
		return nil, fmt.Errorf("failed to load dead-letter file: %w", err)
	}
	q.prune(time.Now())
	q.setGauge()

	if len(q.entries) > 0 {
		q.logger.Info().Int("entries", len(q.entries)).Msg("Loaded undelivered analyses")
	}

	return q, nil
}

// Add records a failed delivery. The oldest entry is never evicted; a full
// queue rejects the new record instead.
func (q *Queue) Add(record *types.Analysis, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	q.prune(time.Now())
	if len(q.entries) >= q.config.MaxSize {
		q.dropped.Add(1)
		return ErrFull
	}

	entry := &Entry{
		Record:    record,
		Timestamp: time.Now().UTC(),
		Attempts:  1,
	}
	if cause != nil {
		entry.Error = cause.Error()
	}

	// A record already held is replaced and its attempt count carried over
	for i, e := range q.entries {
		if e.Record.ID == record.ID {
			entry.Attempts = e.Attempts + 1
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}

	q.entries = append(q.entries, entry)
	q.added.Add(1)
	q.setGauge()

	return q.persist()
}

// Drain removes and returns every entry, oldest first
func (q *Queue) Drain() ([]*Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrClosed
	}

	q.prune(time.Now())
	entries := q.entries
	q.entries = nil

	if err := q.persist(); err != nil {
		// Keep them in memory so a later write can retry
		q.entries = entries
		return nil, err
	}

	q.drained.Add(uint64(len(entries)))
	q.setGauge()
	return entries, nil
}

// Entries returns a copy of the current entries
func (q *Queue) Entries() []*Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Entry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Size returns the number of held entries
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Stats returns dead-letter counters
func (q *Queue) Stats() Stats {
	return Stats{
		Size:    q.Size(),
		MaxSize: q.config.MaxSize,
		Added:   q.added.Load(),
		Drained: q.drained.Load(),
		Dropped: q.dropped.Load(),
	}
}

// Name identifies the queue in the shutdown sequence
func (q *Queue) Name() string {
	return "dlq"
}

// Shutdown flushes and closes the queue
func (q *Queue) Shutdown(ctx context.Context) error {
	return q.Close()
}

// Close flushes entries to disk. Further Adds fail with ErrClosed.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	return q.persist()
}

// prune drops entries older than MaxAge. Caller holds mu or owns q.
func (q *Queue) prune(now time.Time) {
	cutoff := now.Add(-q.config.MaxAge)
	kept := q.entries[:0]
	for _, e := range q.entries {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	q.entries = kept
}

// persist rewrites the file atomically. Caller holds mu.
func (q *Queue) persist() error {
	tmp := q.config.Path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, e := range q.entries {
		if err := enc.Encode(e); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("failed to encode entry: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write dead-letter file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync dead-letter file: %w", err)
	}
	f.Close()

	if err := os.Rename(tmp, q.config.Path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename dead-letter file: %w", err)
	}
	return nil
}

func (q *Queue) load() error {
	f, err := os.Open(q.config.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	for dec.More() {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			return fmt.Errorf("failed to decode entry: %w", err)
		}
		if e.Record == nil {
			continue
		}
		q.entries = append(q.entries, &e)
	}
	return nil
}

func (q *Queue) setGauge() {
	if q.metrics != nil {
		q.metrics.DeadLetters.Set(float64(len(q.entries)))
	}
}
