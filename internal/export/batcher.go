package export

import (
	"context"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/devops-assistant/pkg/types"
)

// BatcherConfig configures the batching behavior
type BatcherConfig struct {
	MaxBatchSize  int
	FlushInterval time.Duration
}

// Batcher accumulates records and flushes them in groups, either when the
// group is full or when the flush interval elapses.
type Batcher struct {
	config  BatcherConfig
	records []*types.Analysis
	mu      sync.Mutex
	flushFn func(ctx context.Context, records []*types.Analysis) error
	onError func(err error)
	stopCh  chan struct{}
	doneCh  chan struct{}
	stop    sync.Once
}

// NewBatcher creates a batcher and starts its flush loop. onError receives
// failures of background flushes and may be nil.
func NewBatcher(config BatcherConfig, flushFn func(ctx context.Context, records []*types.Analysis) error, onError func(err error)) *Batcher {
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = 1
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = time.Minute
	}

	b := &Batcher{
		config:  config,
		records: make([]*types.Analysis, 0, config.MaxBatchSize),
		flushFn: flushFn,
		onError: onError,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	go b.flushLoop()

	return b
}

// Add queues a record, flushing synchronously once the batch is full
func (b *Batcher) Add(ctx context.Context, record *types.Analysis) error {
	b.mu.Lock()
	b.records = append(b.records, record)
	if len(b.records) < b.config.MaxBatchSize {
		b.mu.Unlock()
		return nil
	}
	toFlush := b.takeLocked()
	b.mu.Unlock()

	return b.flushFn(ctx, toFlush)
}

// Flush forces a flush of the current batch
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	toFlush := b.takeLocked()
	b.mu.Unlock()

	if len(toFlush) == 0 {
		return nil
	}
	return b.flushFn(ctx, toFlush)
}

func (b *Batcher) takeLocked() []*types.Analysis {
	if len(b.records) == 0 {
		return nil
	}
	toFlush := make([]*types.Analysis, len(b.records))
	copy(toFlush, b.records)
	b.records = b.records[:0]
	return toFlush
}

func (b *Batcher) flushLoop() {
	ticker := time.NewTicker(b.config.FlushInterval)
	defer ticker.Stop()
	defer close(b.doneCh)

	for {
		select {
		case <-ticker.C:
			b.flushInBackground()
		case <-b.stopCh:
			b.flushInBackground()
			return
		}
	}
}

func (b *Batcher) flushInBackground() {
	if err := b.Flush(context.Background()); err != nil && b.onError != nil {
		b.onError(err)
	}
}

// Stop stops the flush loop after a final flush
func (b *Batcher) Stop() {
	b.stop.Do(func() { close(b.stopCh) })
	<-b.doneCh
}

// Size returns the number of records waiting for the next flush
func (b *Batcher) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}
