package tailer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/logging"
	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/metrics"
)

func newTestTailer(t *testing.T, cfg Config) *Tailer {
	t.Helper()

	logger := logging.New(logging.Config{
		Level:  "debug",
		Format: "console",
		Output: os.Stderr,
	})

	tailer, err := New(cfg, logger, metrics.NewCollector())
	if err != nil {
		t.Fatalf("Failed to create tailer: %v", err)
	}
	return tailer
}

func appendFile(t *testing.T, path, content string) {
	t.Helper()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("Failed to open log file: %v", err)
	}
	defer f.Close()

	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("Failed to write to log file: %v", err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for: %s", msg)
}

func TestNewRequiresPath(t *testing.T) {
	if _, err := New(Config{}, nil, nil); err == nil {
		t.Error("Expected error for empty path")
	}
}

func TestNewDefaults(t *testing.T) {
	tailer, err := New(Config{Path: "/tmp/app.log"}, nil, nil)
	if err != nil {
		t.Fatalf("Failed to create tailer: %v", err)
	}

	st := tailer.Status()
	if st.MaxLines != DefaultMaxLines {
		t.Errorf("Expected max lines %d, got %d", DefaultMaxLines, st.MaxLines)
	}
	if st.PollInterval != DefaultPollInterval.String() {
		t.Errorf("Expected poll interval %s, got %s", DefaultPollInterval, st.PollInterval)
	}
	if st.Running {
		t.Error("Tailer should not be running before Start")
	}
	if st.Offset != 0 {
		t.Errorf("Expected offset 0, got %d", st.Offset)
	}
	if tailer.maxReadBytes != DefaultMaxReadBytes {
		t.Errorf("Expected read cap %d, got %d", DefaultMaxReadBytes, tailer.maxReadBytes)
	}
}

func TestEvictsOldestLines(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "app.log")
	if err := os.WriteFile(logFile, []byte("a\nb\n"), 0644); err != nil {
		t.Fatalf("Failed to write log file: %v", err)
	}

	tailer := newTestTailer(t, Config{Path: logFile, MaxLines: 3})

	tailer.pollOnce()
	if got := tailer.Text(); got != "a\nb" {
		t.Fatalf("Text() = %q, want %q", got, "a\nb")
	}

	appendFile(t, logFile, "c\nd\n")
	tailer.pollOnce()
	if got := tailer.Text(); got != "b\nc\nd" {
		t.Fatalf("Text() = %q, want %q", got, "b\nc\nd")
	}

	st := tailer.Status()
	if st.BufferedLines != 3 {
		t.Errorf("Expected 3 buffered lines, got %d", st.BufferedLines)
	}
	if st.LinesIngested != 4 {
		t.Errorf("Expected 4 ingested lines, got %d", st.LinesIngested)
	}
	if st.LastError != nil {
		t.Errorf("Expected no error, got %s", *st.LastError)
	}
}

func TestBoundedBufferKeepsMostRecent(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "app.log")
	const maxLines = 5

	tailer := newTestTailer(t, Config{Path: logFile, MaxLines: maxLines})

	var written []string
	for i := 0; i < 20; i++ {
		var chunk strings.Builder
		for j := 0; j < i%4; j++ {
			line := fmt.Sprintf("line-%d-%d", i, j)
			written = append(written, line)
			chunk.WriteString(line + "\n")
		}
		appendFile(t, logFile, chunk.String())
		tailer.pollOnce()

		st := tailer.Status()
		if st.BufferedLines > maxLines {
			t.Fatalf("Buffered %d lines, max is %d", st.BufferedLines, maxLines)
		}

		start := len(written) - maxLines
		if start < 0 {
			start = 0
		}
		if got, want := tailer.Text(), strings.Join(written[start:], "\n"); got != want {
			t.Fatalf("Iteration %d: Text() = %q, want %q", i, got, want)
		}
	}
}

func TestOffsetMonotonicUnderGrowth(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "app.log")
	tailer := newTestTailer(t, Config{Path: logFile, MaxLines: 100})

	appendFile(t, logFile, "")
	var last int64
	for i := 0; i < 10; i++ {
		if i%3 != 0 {
			appendFile(t, logFile, fmt.Sprintf("entry %d\n", i))
		}
		tailer.pollOnce()

		offset := tailer.Status().Offset
		if offset < last {
			t.Fatalf("Offset decreased from %d to %d", last, offset)
		}
		last = offset
	}

	info, err := os.Stat(logFile)
	if err != nil {
		t.Fatalf("Failed to stat log file: %v", err)
	}
	if last != info.Size() {
		t.Errorf("Expected offset %d, got %d", info.Size(), last)
	}

	// Every line appears exactly once
	lines := tailer.Lines()
	seen := make(map[string]int)
	for _, line := range lines {
		seen[line]++
	}
	for line, count := range seen {
		if count != 1 {
			t.Errorf("Line %q buffered %d times", line, count)
		}
	}
	if len(lines) != 6 {
		t.Errorf("Expected 6 lines, got %d", len(lines))
	}
}

func TestRotationRecovery(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "app.log")
	if err := os.WriteFile(logFile, []byte("first line of a long file\nsecond line of a long file\n"), 0644); err != nil {
		t.Fatalf("Failed to write log file: %v", err)
	}

	tailer := newTestTailer(t, Config{Path: logFile, MaxLines: 10})
	tailer.pollOnce()

	// Replace with a smaller file, as a rotation tool would
	rotated := logFile + ".1"
	if err := os.Rename(logFile, rotated); err != nil {
		t.Fatalf("Failed to rotate file: %v", err)
	}
	if err := os.WriteFile(logFile, []byte("new\n"), 0644); err != nil {
		t.Fatalf("Failed to write new log file: %v", err)
	}

	tailer.pollOnce()

	st := tailer.Status()
	if st.Rotations != 1 {
		t.Errorf("Expected 1 rotation, got %d", st.Rotations)
	}
	if st.Offset != int64(len("new\n")) {
		t.Errorf("Expected offset %d, got %d", len("new\n"), st.Offset)
	}

	lines := tailer.Lines()
	if len(lines) != 3 || lines[2] != "new" {
		t.Errorf("Expected new file to be re-read from start, got %q", lines)
	}
}

func TestTruncationRecovery(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "app.log")
	appendFile(t, logFile, "one\ntwo\nthree\n")

	tailer := newTestTailer(t, Config{Path: logFile, MaxLines: 10})
	tailer.pollOnce()

	if err := os.Truncate(logFile, 0); err != nil {
		t.Fatalf("Failed to truncate: %v", err)
	}
	appendFile(t, logFile, "x\n")

	tailer.pollOnce()
	if got := tailer.Text(); got != "one\ntwo\nthree\nx" {
		t.Errorf("Text() = %q", got)
	}
	if tailer.Status().Rotations != 1 {
		t.Errorf("Expected truncation to count as rotation")
	}
}

func TestMissingFileResilience(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "app.log")
	tailer := newTestTailer(t, Config{Path: logFile, MaxLines: 10})

	tailer.pollOnce()
	st := tailer.Status()
	if st.LastError == nil || *st.LastError == "" {
		t.Fatal("Expected an error while the file is missing")
	}
	if !errors.Is(st.Err, ErrSourceMissing) {
		t.Errorf("Expected ErrSourceMissing, got %v", st.Err)
	}
	if st.Offset != 0 || st.BufferedLines != 0 {
		t.Errorf("Missing file must not change state: offset=%d lines=%d", st.Offset, st.BufferedLines)
	}

	appendFile(t, logFile, "hello\nworld\n")
	tailer.pollOnce()

	st = tailer.Status()
	if st.LastError != nil {
		t.Errorf("Expected error to clear, got %s", *st.LastError)
	}
	if got := tailer.Text(); got != "hello\nworld" {
		t.Errorf("Text() = %q, want %q", got, "hello\nworld")
	}
}

func TestReadFailurePreservesState(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "app.log")
	appendFile(t, logFile, "kept\n")

	tailer := newTestTailer(t, Config{Path: logFile, MaxLines: 10})
	tailer.pollOnce()
	before := tailer.Status()

	// A directory in place of the file is an I/O failure, not a missing file
	if err := os.Remove(logFile); err != nil {
		t.Fatalf("Failed to remove file: %v", err)
	}
	if err := os.Mkdir(logFile, 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}

	tailer.pollOnce()
	after := tailer.Status()

	if !errors.Is(after.Err, ErrReadFailure) {
		t.Errorf("Expected ErrReadFailure, got %v", after.Err)
	}
	if after.Offset != before.Offset {
		t.Errorf("Offset changed on failure: %d -> %d", before.Offset, after.Offset)
	}
	if tailer.Text() != "kept" {
		t.Errorf("Buffer changed on failure: %q", tailer.Text())
	}
}

func TestPartialLineIncluded(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "app.log")
	appendFile(t, logFile, "complete\npartial")

	tailer := newTestTailer(t, Config{Path: logFile, MaxLines: 10})
	tailer.pollOnce()

	if got := tailer.Text(); got != "complete\npartial" {
		t.Errorf("Text() = %q", got)
	}
	if tailer.Status().Offset != int64(len("complete\npartial")) {
		t.Errorf("Expected offset at end of file")
	}
}

func TestReadCapDoesNotSplitLines(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "app.log")
	appendFile(t, logFile, "aaaa\nbbbb\ncccc\n")

	tailer := newTestTailer(t, Config{Path: logFile, MaxLines: 10, MaxReadBytes: 7})

	tailer.pollOnce()
	if got := tailer.Text(); got != "aaaa" {
		t.Fatalf("First iteration Text() = %q, want %q", got, "aaaa")
	}
	if off := tailer.Status().Offset; off != 5 {
		t.Fatalf("Expected offset 5, got %d", off)
	}

	tailer.pollOnce()
	tailer.pollOnce()
	if got := tailer.Text(); got != "aaaa\nbbbb\ncccc" {
		t.Errorf("Text() = %q", got)
	}
}

func TestSplitLines(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty", in: "", want: nil},
		{name: "terminated", in: "a\nb\n", want: []string{"a", "b"}},
		{name: "unterminated", in: "a\nb", want: []string{"a", "b"}},
		{name: "crlf", in: "a\r\nb\r\n", want: []string{"a", "b"}},
		{name: "blank lines", in: "a\n\nb\n", want: []string{"a", "", "b"}},
		{name: "single newline", in: "\n", want: []string{""}},
		{name: "invalid utf8", in: "ok\xff\n", want: []string{"ok"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitLines([]byte(tt.in))
			if len(got) != len(tt.want) {
				t.Fatalf("splitLines(%q) = %q, want %q", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("splitLines(%q)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestStartIsIdempotent(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "app.log")
	appendFile(t, logFile, "line1\n")

	tailer := newTestTailer(t, Config{Path: logFile, PollInterval: 20 * time.Millisecond})

	tailer.Start()
	done := tailer.Done()
	tailer.Start()

	if tailer.Done() != done {
		t.Error("Second Start launched another loop")
	}
	if !tailer.Status().Running {
		t.Error("Expected tailer to be running")
	}

	waitFor(t, 2*time.Second, func() bool { return tailer.Text() == "line1" }, "first line")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tailer.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if tailer.Status().Running {
		t.Error("Expected tailer to be stopped after Shutdown")
	}
}

func TestLoopPicksUpAppends(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "app.log")

	tailer := newTestTailer(t, Config{Path: logFile, PollInterval: 10 * time.Millisecond, MaxLines: 50})
	tailer.Start()
	defer tailer.Stop()

	waitFor(t, 2*time.Second, func() bool { return tailer.Status().Err != nil }, "missing file error")

	appendFile(t, logFile, "line1\nline2\n")
	waitFor(t, 2*time.Second, func() bool { return tailer.Text() == "line1\nline2" }, "initial lines")

	appendFile(t, logFile, "line3\n")
	waitFor(t, 2*time.Second, func() bool { return tailer.Text() == "line1\nline2\nline3" }, "appended line")

	if tailer.Status().LastError != nil {
		t.Errorf("Expected error to clear once file exists")
	}
}

func TestWatchWakesLoop(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "app.log")
	appendFile(t, logFile, "")

	// A poll interval far beyond the test timeout: only the watcher can wake the loop
	tailer := newTestTailer(t, Config{Path: logFile, PollInterval: time.Hour, Watch: true})
	tailer.Start()
	defer tailer.Stop()

	waitFor(t, 2*time.Second, func() bool { return tailer.Status().Polls >= 1 }, "first poll")
	time.Sleep(50 * time.Millisecond)

	appendFile(t, logFile, "woken\n")
	waitFor(t, 3*time.Second, func() bool { return tailer.Text() == "woken" }, "watch wake-up")
}

func TestStopThenStart(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "app.log")
	appendFile(t, logFile, "a\n")

	tailer := newTestTailer(t, Config{Path: logFile, PollInterval: 10 * time.Millisecond})

	tailer.Stop() // safe before Start

	tailer.Start()
	waitFor(t, 2*time.Second, func() bool { return tailer.Text() == "a" }, "first line")

	tailer.Stop()
	tailer.Start() // restart while the old loop may still be exiting

	appendFile(t, logFile, "b\n")
	waitFor(t, 2*time.Second, func() bool { return tailer.Text() == "a\nb" }, "line after restart")

	if !tailer.Status().Running {
		t.Error("Expected tailer to be running after restart")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tailer.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}

func TestConcurrentReaders(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "app.log")
	tailer := newTestTailer(t, Config{Path: logFile, PollInterval: time.Millisecond, MaxLines: 20})
	tailer.Start()
	defer tailer.Stop()

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				st := tailer.Status()
				if st.BufferedLines > 20 {
					t.Errorf("Buffered %d lines", st.BufferedLines)
					return
				}
				_ = tailer.Text()
			}
		}()
	}

	for i := 0; i < 100; i++ {
		appendFile(t, logFile, fmt.Sprintf("line %d\n", i))
	}
	waitFor(t, 2*time.Second, func() bool { return tailer.Status().LinesIngested == 100 }, "all lines")

	close(stop)
	wg.Wait()

	lines := tailer.Lines()
	if len(lines) != 20 || lines[19] != "line 99" {
		t.Errorf("Unexpected tail: %q", lines)
	}
}

type recordingObserver struct {
	mu    sync.Mutex
	lines []string
}

func (r *recordingObserver) ObserveLines(path string, lines []string) map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, lines...)
	return nil
}

func TestObserverSeesNewLines(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "app.log")
	appendFile(t, logFile, "x\ny\n")

	obs := &recordingObserver{}
	tailer := newTestTailer(t, Config{Path: logFile, Observer: obs})
	tailer.pollOnce()
	tailer.pollOnce()

	if len(obs.lines) != 2 {
		t.Errorf("Expected observer to see 2 lines once, got %q", obs.lines)
	}
}
