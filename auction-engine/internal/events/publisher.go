// Package events publishes domain events (accepted bids, auction closes) to
// downstream systems. Publishing is off the arbitration path: the engine
// hands events to an Async publisher which forwards them from its own
// goroutine.
package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/aaronwang/live-auction/shared/models"
)

// ErrQueueFull is returned when the async queue cannot take more events
var ErrQueueFull = errors.New("event queue full")

// ErrClosed is returned after Close
var ErrClosed = errors.New("publisher closed")

// Publisher delivers domain events downstream
type Publisher interface {
	PublishBid(ctx context.Context, event models.BidEvent) error
	PublishAuctionEnded(ctx context.Context, event models.AuctionEndedEvent) error
}

// Nop discards every event
type Nop struct{}

func (Nop) PublishBid(context.Context, models.BidEvent) error                   { return nil }
func (Nop) PublishAuctionEnded(context.Context, models.AuctionEndedEvent) error { return nil }

// Multi publishes to every publisher and joins their errors
type Multi []Publisher

func (m Multi) PublishBid(ctx context.Context, event models.BidEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishBid(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) PublishAuctionEnded(ctx context.Context, event models.AuctionEndedEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishAuctionEnded(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type job struct {
	kind string
	run  func(ctx context.Context) error
}

// Async queues events on a bounded channel and forwards them in order from a
// single goroutine. When the queue is full the event is dropped and logged.
type Async struct {
	next    Publisher
	queue   chan job
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsync starts the forwarding goroutine
func NewAsync(next Publisher, size int, logger *slog.Logger) *Async {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Async{
		next:    next,
		queue:   make(chan job, size),
		timeout: 5 * time.Second,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for j := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := j.run(ctx); err != nil {
			a.logger.Warn("failed to publish event", "kind", j.kind, "error", err)
		}
		cancel()
	}
}

func (a *Async) enqueue(j job) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- j:
		return nil
	default:
		a.logger.Warn("event queue full, dropping event", "kind", j.kind)
		return ErrQueueFull
	}
}

// PublishBid queues a bid event without blocking
func (a *Async) PublishBid(_ context.Context, event models.BidEvent) error {
	return a.enqueue(job{kind: "bid", run: func(ctx context.Context) error {
		return a.next.PublishBid(ctx, event)
	}})
}

// PublishAuctionEnded queues a close event without blocking
func (a *Async) PublishAuctionEnded(_ context.Context, event models.AuctionEndedEvent) error {
	return a.enqueue(job{kind: "auction_ended", run: func(ctx context.Context) error {
		return a.next.PublishAuctionEnded(ctx, event)
	}})
}

// Close stops accepting events and waits until queued ones are forwarded
// or ctx expires
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
