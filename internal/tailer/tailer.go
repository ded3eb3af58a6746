package tailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"
	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/buffer"
	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/logging"
	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/metrics"
)

var (
	// ErrSourceMissing is recorded when the monitored file does not exist
	ErrSourceMissing = errors.New("log file not found")
	// ErrReadFailure wraps any other I/O error hit while reading the file
	ErrReadFailure = errors.New("log file read failed")
)

// Defaults
const (
	DefaultPollInterval = 1 * time.Second
	DefaultMaxLines     = 500
	DefaultMaxReadBytes = 4 << 20
)

// Config holds tailer configuration
type Config struct {
	Path         string
	PollInterval time.Duration
	MaxLines     int
	// MaxReadBytes caps a single iteration's read. 0 selects the default,
	// a negative value disables the cap.
	MaxReadBytes int64
	// Watch ends the poll sleep early on filesystem events for the file
	Watch bool
	// Observer, if set, sees every batch of new lines
	Observer LineObserver
}

// LineObserver receives the lines produced by each successful iteration
type LineObserver interface {
	ObserveLines(path string, lines []string) map[string]int
}

// Status is a snapshot of the tailer state
type Status struct {
	Path          string     `json:"path"`
	Running       bool       `json:"running"`
	BufferedLines int        `json:"buffered_lines"`
	LastError     *string    `json:"last_error"`
	MaxLines      int        `json:"max_lines"`
	PollInterval  string     `json:"poll_interval"`
	Offset        int64      `json:"offset"`
	LinesIngested uint64     `json:"lines_ingested"`
	Rotations     uint64     `json:"rotations"`
	Polls         uint64     `json:"polls"`
	LastPoll      *time.Time `json:"last_poll,omitempty"`
	Err           error      `json:"-"`
}

// Tailer polls a single file and keeps its most recent lines in memory
type Tailer struct {
	path         string
	pollInterval time.Duration
	maxReadBytes int64
	watch        bool
	observer     LineObserver

	lines   *buffer.RingBuffer
	logger  *logging.Logger
	metrics *metrics.Collector

	// Written only by the loop goroutine
	offset        atomic.Int64
	linesIngested atomic.Uint64
	rotations     atomic.Uint64
	polls         atomic.Uint64
	lastPoll      atomic.Int64

	mu       sync.Mutex
	running  bool
	stopping bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	lastErr  error
}

// New creates a tailer for cfg.Path. The file does not need to exist yet.
func New(cfg Config, logger *logging.Logger, m *metrics.Collector) (*Tailer, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("tailer path is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxLines <= 0 {
		cfg.MaxLines = DefaultMaxLines
	}
	if cfg.MaxReadBytes == 0 {
		cfg.MaxReadBytes = DefaultMaxReadBytes
	}
	if logger == nil {
		logger = logging.Nop()
	}

	path := filepath.Clean(cfg.Path)

	return &Tailer{
		path:         path,
		pollInterval: cfg.PollInterval,
		maxReadBytes: cfg.MaxReadBytes,
		watch:        cfg.Watch,
		observer:     cfg.Observer,
		lines:        buffer.NewRingBuffer(cfg.MaxLines),
		logger:       logger.WithComponent("tailer").WithField("path", path),
		metrics:      m,
	}, nil
}

// Name identifies the tailer in health reports and shutdown logs
func (t *Tailer) Name() string {
	return "tailer"
}

// Path returns the monitored file path
func (t *Tailer) Path() string {
	return t.path
}

// Start launches the polling loop. Calling it while the loop runs is a no-op.
func (t *Tailer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running && !t.stopping {
		return
	}

	// A loop that was asked to stop may still be finishing its iteration;
	// the new loop waits for it so the file has a single reader.
	prev := t.doneCh
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})

	t.stopCh = stopCh
	t.doneCh = doneCh
	t.running = true
	t.stopping = false

	if t.metrics != nil {
		t.metrics.IngestRunning.WithLabelValues(t.path).Set(1)
	}

	t.logger.Info().
		Dur("poll_interval", t.pollInterval).
		Int("max_lines", t.lines.Capacity()).
		Bool("watch", t.watch).
		Msg("Starting tailer")

	go t.run(stopCh, doneCh, prev)
}

// Stop asks the loop to exit at its next iteration boundary. It does not wait.
func (t *Tailer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running || t.stopping {
		return
	}

	t.stopping = true
	close(t.stopCh)
	t.logger.Info().Msg("Stop requested")
}

// Done returns a channel closed once the current loop has exited
func (t *Tailer) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.doneCh == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return t.doneCh
}

// Shutdown stops the loop and waits for it to exit or for ctx to expire
func (t *Tailer) Shutdown(ctx context.Context) error {
	t.Stop()

	select {
	case <-t.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("tailer did not stop: %w", ctx.Err())
	}
}

// Status returns the current state of the tailer
func (t *Tailer) Status() Status {
	t.mu.Lock()
	running := t.running
	lastErr := t.lastErr
	t.mu.Unlock()

	st := Status{
		Path:          t.path,
		Running:       running,
		BufferedLines: t.lines.Len(),
		MaxLines:      t.lines.Capacity(),
		PollInterval:  t.pollInterval.String(),
		Offset:        t.offset.Load(),
		LinesIngested: t.linesIngested.Load(),
		Rotations:     t.rotations.Load(),
		Polls:         t.polls.Load(),
		Err:           lastErr,
	}

	if lastErr != nil {
		msg := lastErr.Error()
		st.LastError = &msg
	}
	if ns := t.lastPoll.Load(); ns != 0 {
		ts := time.Unix(0, ns)
		st.LastPoll = &ts
	}

	return st
}

// Text returns the buffered lines joined by newlines, oldest first
func (t *Tailer) Text() string {
	return t.lines.Join("\n")
}

// Lines returns a copy of the buffered lines, oldest first
func (t *Tailer) Lines() []string {
	return t.lines.Lines()
}

// run is the polling loop. It reads immediately, then sleeps between iterations.
func (t *Tailer) run(stopCh <-chan struct{}, doneCh chan struct{}, prev <-chan struct{}) {
	defer t.finish(doneCh)

	if prev != nil {
		select {
		case <-prev:
		case <-stopCh:
			return
		}
	}

	wake, closeWatch := t.openWatch()
	defer closeWatch()

	timer := time.NewTimer(t.pollInterval)
	defer timer.Stop()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		t.pollOnce()

		timer.Reset(t.pollInterval)
		select {
		case <-stopCh:
			return
		case <-timer.C:
		case <-wake:
		}
	}
}

// finish marks the loop stopped unless a newer loop has already replaced it
func (t *Tailer) finish(doneCh chan struct{}) {
	t.mu.Lock()
	if t.doneCh == doneCh {
		t.running = false
		t.stopping = false
		if t.metrics != nil {
			t.metrics.IngestRunning.WithLabelValues(t.path).Set(0)
		}
		t.logger.Info().Msg("Tailer stopped")
	}
	t.mu.Unlock()

	close(doneCh)
}

// pollOnce runs a single iteration and records its outcome
func (t *Tailer) pollOnce() {
	t.polls.Add(1)
	t.lastPoll.Store(time.Now().UnixNano())

	n, err := t.readNewLines()
	t.setLastError(err)

	if t.metrics == nil {
		return
	}

	result := metrics.PollOK
	switch {
	case errors.Is(err, ErrSourceMissing):
		result = metrics.PollMissing
	case err != nil:
		result = metrics.PollError
	}
	t.metrics.IngestPolls.WithLabelValues(t.path, result).Inc()
	if n > 0 {
		t.metrics.IngestLines.WithLabelValues(t.path).Add(float64(n))
	}
	t.metrics.IngestBufferedLines.WithLabelValues(t.path).Set(float64(t.lines.Len()))
	t.metrics.IngestOffset.WithLabelValues(t.path).Set(float64(t.offset.Load()))
}

// readNewLines reads everything appended since the last iteration. On error
// the offset and buffer are left exactly as they were.
func (t *Tailer) readNewLines() (int, error) {
	info, err := os.Stat(t.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrSourceMissing, t.path)
		}
		return 0, fmt.Errorf("%w: %w", ErrReadFailure, err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%w: %s is a directory", ErrReadFailure, t.path)
	}

	offset := t.offset.Load()
	rotated := false
	if offset > info.Size() {
		offset = 0
		rotated = true
	}

	data, err := t.readFrom(offset)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrSourceMissing, t.path)
		}
		return 0, fmt.Errorf("%w: %w", ErrReadFailure, err)
	}
	data = data[:t.consumable(data)]

	if rotated {
		t.rotations.Add(1)
		if t.metrics != nil {
			t.metrics.IngestRotations.WithLabelValues(t.path).Inc()
		}
		t.logger.Info().
			Int64("previous_offset", t.offset.Load()).
			Int64("size", info.Size()).
			Msg("File truncated or rotated, reading from start")
	}

	lines := splitLines(data)
	if len(lines) > 0 {
		evicted := t.lines.Append(lines...)
		t.linesIngested.Add(uint64(len(lines)))

		if t.metrics != nil && evicted > 0 {
			t.metrics.IngestEvicted.WithLabelValues(t.path).Add(float64(evicted))
		}
		if t.observer != nil {
			t.observer.ObserveLines(t.path, lines)
		}
	}

	if t.metrics != nil && len(data) > 0 {
		t.metrics.IngestBytes.WithLabelValues(t.path).Add(float64(len(data)))
	}

	t.offset.Store(offset + int64(len(data)))
	return len(lines), nil
}

// readFrom reads from offset to end of file, bounded by the read cap
func (t *Tailer) readFrom(offset int64) ([]byte, error) {
	file, err := os.Open(t.path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to offset %d: %w", offset, err)
	}

	var r io.Reader = file
	if t.maxReadBytes > 0 {
		r = io.LimitReader(file, t.maxReadBytes)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// consumable returns how much of data the iteration should consume. A read
// that filled the cap stops at its last newline so no line is cut by the cap.
func (t *Tailer) consumable(data []byte) int {
	if t.maxReadBytes <= 0 || int64(len(data)) < t.maxReadBytes {
		return len(data)
	}
	if len(data) > 0 && data[len(data)-1] == '\n' {
		return len(data)
	}
	if i := bytes.LastIndexByte(data, '\n'); i >= 0 {
		return i + 1
	}
	return len(data)
}

// setLastError stores the iteration result and logs only on transitions
func (t *Tailer) setLastError(err error) {
	t.mu.Lock()
	prev := t.lastErr
	t.lastErr = err
	t.mu.Unlock()

	switch {
	case err != nil && (prev == nil || prev.Error() != err.Error()):
		t.logger.Warn().Err(err).Msg("Tail iteration failed")
	case err == nil && prev != nil:
		t.logger.Info().Msg("Tail recovered")
	}
}

// openWatch returns a channel that fires when the file's directory reports an
// event for the file. Without watching, the channel is nil and never fires.
func (t *Tailer) openWatch() (<-chan struct{}, func()) {
	if !t.watch {
		return nil, func() {}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.logger.Warn().Err(err).Msg("Failed to create file watcher, polling only")
		return nil, func() {}
	}

	// The directory is watched so that creation and rotation are seen too
	if err := watcher.Add(filepath.Dir(t.path)); err != nil {
		t.logger.Warn().Err(err).Msg("Failed to watch log directory, polling only")
		watcher.Close()
		return nil, func() {}
	}

	wake := make(chan struct{}, 1)
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != t.path {
					continue
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				t.logger.Debug().Err(err).Msg("File watcher error")
			}
		}
	}()

	return wake, func() { watcher.Close() }
}

// splitLines splits raw bytes into lines. A trailing fragment without a
// newline is kept as the last line; invalid UTF-8 is dropped.
func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}

	text := string(data)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "")
	}

	text = strings.TrimSuffix(text, "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}
