package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/metrics"
	"github.com/therealutkarshpriyadarshi/devops-assistant/pkg/types"
)

func record(id string) *types.Analysis {
	return &types.Analysis{
		ID:             id,
		Timestamp:      time.Now().UTC(),
		Source:         types.SourceManual,
		Recommendation: "Restart the service.",
	}
}

func openQueue(t *testing.T, cfg Config) *Queue {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "dlq", "analyses.jsonl")
	}
	q, err := Open(cfg, nil, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return q
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(Config{}, nil, nil); err == nil {
		t.Error("expected an error without a path")
	}
}

func TestAddAndDrain(t *testing.T) {
	q := openQueue(t, Config{})
	defer q.Close()

	cause := errors.New("broker unavailable")
	for _, id := range []string{"a", "b"} {
		if err := q.Add(record(id), cause); err != nil {
			t.Fatalf("Add(%s) failed: %v", id, err)
		}
	}

	if q.Size() != 2 {
		t.Fatalf("Size() = %d, want 2", q.Size())
	}

	entries, err := q.Drain()
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if len(entries) != 2 || entries[0].Record.ID != "a" || entries[1].Record.ID != "b" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if entries[0].Error != "broker unavailable" || entries[0].Attempts != 1 {
		t.Errorf("unexpected entry %+v", entries[0])
	}

	if q.Size() != 0 {
		t.Errorf("queue not empty after drain")
	}

	stats := q.Stats()
	if stats.Added != 2 || stats.Drained != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestReAddCountsAttempts(t *testing.T) {
	q := openQueue(t, Config{})
	defer q.Close()

	r := record("a")
	_ = q.Add(r, errors.New("first"))
	_ = q.Add(r, errors.New("second"))

	entries := q.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	if entries[0].Attempts != 2 || entries[0].Error != "second" {
		t.Errorf("unexpected entry %+v", entries[0])
	}
}

func TestFullQueueRejects(t *testing.T) {
	q := openQueue(t, Config{MaxSize: 1})
	defer q.Close()

	if err := q.Add(record("a"), nil); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := q.Add(record("b"), nil); !errors.Is(err, ErrFull) {
		t.Errorf("expected ErrFull, got %v", err)
	}
	if q.Stats().Dropped != 1 {
		t.Errorf("dropped = %d, want 1", q.Stats().Dropped)
	}
}

func TestPersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analyses.jsonl")

	q := openQueue(t, Config{Path: path})
	if err := q.Add(record("a"), errors.New("timeout")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	m := metrics.NewCollector()
	reopened, err := Open(Config{Path: path}, m, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	entries := reopened.Entries()
	if len(entries) != 1 || entries[0].Record.ID != "a" {
		t.Fatalf("unexpected entries after restart %+v", entries)
	}

	metric := &dto.Metric{}
	if err := m.DeadLetters.Write(metric); err != nil {
		t.Fatal(err)
	}
	if metric.Gauge.GetValue() != 1 {
		t.Errorf("dead letter gauge = %f, want 1", metric.Gauge.GetValue())
	}
}

func TestExpiredEntriesDiscardedOnLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analyses.jsonl")

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	enc := json.NewEncoder(f)
	_ = enc.Encode(Entry{Record: record("old"), Timestamp: time.Now().Add(-2 * time.Hour), Attempts: 1})
	_ = enc.Encode(Entry{Record: record("new"), Timestamp: time.Now(), Attempts: 1})
	f.Close()

	q := openQueue(t, Config{Path: path, MaxAge: time.Hour})
	defer q.Close()

	entries := q.Entries()
	if len(entries) != 1 || entries[0].Record.ID != "new" {
		t.Errorf("expected only the fresh entry, got %+v", entries)
	}
}

func TestCorruptFileFailsOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analyses.jsonl")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(Config{Path: path}, nil, nil); err == nil {
		t.Error("expected an error for a corrupt file")
	}
}

func TestClosedQueue(t *testing.T) {
	q := openQueue(t, Config{})

	if q.Name() != "dlq" {
		t.Errorf("Name() = %s", q.Name())
	}
	if err := q.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
	if err := q.Add(record("a"), nil); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if _, err := q.Drain(); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
