package memstore

import (
	"context"
	"sync"

	"github.com/bargom/errledger/internal/errorstore"
)

// Feed is an unbounded in-memory change feed of link removals.
type Feed struct {
	mu       sync.Mutex
	pending  []errorstore.RemovedLink
	signal   chan struct{}
	maxBatch int
}

var _ errorstore.ChangeFeed = (*Feed)(nil)

// NewFeed creates a feed handing out at most maxBatch removals per batch.
func NewFeed(maxBatch int) *Feed {
	if maxBatch <= 0 {
		maxBatch = 100
	}
	return &Feed{
		signal:   make(chan struct{}, 1),
		maxBatch: maxBatch,
	}
}

func (f *Feed) publish(r errorstore.RemovedLink) {
	f.mu.Lock()
	f.pending = append(f.pending, r)
	f.mu.Unlock()
	select {
	case f.signal <- struct{}{}:
	default:
	}
}

// Redeliver re-queues removals, simulating at-least-once redelivery.
func (f *Feed) Redeliver(batch ...errorstore.RemovedLink) {
	for _, r := range batch {
		f.publish(r)
	}
}

// Pending returns the number of undelivered removals.
func (f *Feed) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

func (f *Feed) take() []errorstore.RemovedLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.pending)
	if n == 0 {
		return nil
	}
	if n > f.maxBatch {
		n = f.maxBatch
	}
	batch := make([]errorstore.RemovedLink, n)
	copy(batch, f.pending[:n])
	f.pending = f.pending[n:]
	return batch
}

// requeue puts an unacknowledged batch back at the head of the feed.
func (f *Feed) requeue(batch []errorstore.RemovedLink) {
	f.mu.Lock()
	f.pending = append(append([]errorstore.RemovedLink{}, batch...), f.pending...)
	f.mu.Unlock()
}

// Drain synchronously hands every pending removal to handle in batches.
// A batch whose handler fails is requeued and the error returned.
func (f *Feed) Drain(ctx context.Context, handle errorstore.BatchHandler) error {
	for {
		batch := f.take()
		if batch == nil {
			return nil
		}
		if err := handle(ctx, batch); err != nil {
			f.requeue(batch)
			return err
		}
	}
}

// Run implements errorstore.ChangeFeed.
func (f *Feed) Run(ctx context.Context, handle errorstore.BatchHandler) error {
	for {
		if err := f.Drain(ctx, handle); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.signal:
		}
	}
}
