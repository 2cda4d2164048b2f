// Package batcher accumulates items and hands them to a flush function in
// bounded batches, either when a batch fills or when the flush interval
// elapses. Flushes are rate limited so a bursty producer cannot hammer the
// downstream writer.
package batcher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

// FlushFunc receives one full or partial batch. The slice is reused after the
// call returns; implementations must not retain it.
type FlushFunc[T any] func(ctx context.Context, batch []T) error

// Batcher collects items into batches of up to maxBatch and flushes on size
// or interval. Stop drains everything still queued before the final flush,
// so no accepted item is silently lost on shutdown.
type Batcher[T any] struct {
	flush    FlushFunc[T]
	queue    chan T
	maxBatch int
	interval time.Duration
	limiter  ratelimit.Limiter
	logger   *zap.Logger

	done chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Batcher flushing at most flushesPerSec batches per second.
func New[T any](logger *zap.Logger, flush FlushFunc[T], maxBatch int, interval time.Duration, flushesPerSec int) *Batcher[T] {
	return &Batcher[T]{
		flush:    flush,
		queue:    make(chan T, maxBatch*2),
		maxBatch: maxBatch,
		interval: interval,
		limiter:  ratelimit.New(flushesPerSec),
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start launches the flush loop.
func (b *Batcher[T]) Start(ctx context.Context) {
	b.wg.Add(1)
	go b.loop(ctx)
}

// Stop ends the flush loop after draining the queue and flushing the
// remainder. It must not be called concurrently with Add.
func (b *Batcher[T]) Stop() {
	close(b.done)
	b.wg.Wait()
}

// Add enqueues one item, blocking while the queue is full.
func (b *Batcher[T]) Add(ctx context.Context, item T) error {
	select {
	case <-b.done:
		return context.Canceled
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case b.queue <- item:
		return nil
	}
}

func (b *Batcher[T]) loop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	batch := make([]T, 0, b.maxBatch)

	emit := func() {
		if len(batch) == 0 {
			return
		}
		b.limiter.Take()
		if err := b.flush(ctx, batch); err != nil {
			b.logger.Error("batch flush failed", zap.Int("size", len(batch)), zap.Error(err))
		} else {
			b.logger.Debug("batch flushed", zap.Int("size", len(batch)))
		}
		batch = batch[:0]
	}

	drain := func() {
		for {
			select {
			case item := <-b.queue:
				batch = append(batch, item)
				if len(batch) >= b.maxBatch {
					emit()
				}
			default:
				emit()
				return
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			drain()
			return

		case <-b.done:
			drain()
			return

		case item := <-b.queue:
			batch = append(batch, item)
			if len(batch) >= b.maxBatch {
				emit()
			}

		case <-ticker.C:
			emit()
		}
	}
}
