// Package arbiter accepts or rejects bids. Each auction is owned by a
// single worker goroutine created on first use; bids for the same auction
// are decided one at a time in arrival order while different auctions
// proceed in parallel.
package arbiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/aaronwang/live-auction/auction-engine/internal/dispatch"
	"github.com/aaronwang/live-auction/auction-engine/internal/events"
	"github.com/aaronwang/live-auction/auction-engine/internal/room"
	"github.com/aaronwang/live-auction/auction-engine/internal/store"
	"github.com/aaronwang/live-auction/shared/models"
)

const (
	defaultQueueSize    = 1024
	defaultTopBids      = 10
	defaultStoreTimeout = 5 * time.Second
	maxWorkerAttempts   = 3
)

// Config holds the arbiter's collaborators
type Config struct {
	Store      store.Store
	Registry   *room.Registry
	Dispatcher *dispatch.Dispatcher
	Publisher  events.Publisher // optional
	Logger     *slog.Logger     // optional
	Now        func() time.Time // optional, defaults to time.Now

	QueueSize    int           // per-auction command queue
	TopBids      int           // bids included in a join snapshot
	StoreTimeout time.Duration // per store call
}

// Outcome describes an accepted bid
type Outcome struct {
	Bid      models.Bid
	Snapshot models.AuctionSnapshot
}

// Arbiter routes commands to per-auction workers
type Arbiter struct {
	store      store.Store
	registry   *room.Registry
	dispatcher *dispatch.Dispatcher
	publisher  events.Publisher
	logger     *slog.Logger
	now        func() time.Time

	queueSize    int
	topBids      int
	storeTimeout time.Duration

	mu      sync.Mutex // guards workers and closed
	workers map[string]*worker
	closed  bool
}

// New creates an arbiter
func New(cfg Config) *Arbiter {
	a := &Arbiter{
		store:        cfg.Store,
		registry:     cfg.Registry,
		dispatcher:   cfg.Dispatcher,
		publisher:    cfg.Publisher,
		logger:       cfg.Logger,
		now:          cfg.Now,
		queueSize:    cfg.QueueSize,
		topBids:      cfg.TopBids,
		storeTimeout: cfg.StoreTimeout,
		workers:      make(map[string]*worker),
	}
	if a.publisher == nil {
		a.publisher = events.Nop{}
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.queueSize <= 0 {
		a.queueSize = defaultQueueSize
	}
	if a.topBids <= 0 {
		a.topBids = defaultTopBids
	}
	if a.storeTimeout <= 0 {
		a.storeTimeout = defaultStoreTimeout
	}
	return a
}

// errInvalidAuction marks a stored auction whose pricing rules cannot be
// arbitrated (no positive increment, or a non-finite price)
var errInvalidAuction = errors.New("invalid auction pricing")

// load reads an auction and its accepted bids from the store
func (a *Arbiter) load(ctx context.Context, auctionID string) (*state, error) {
	auction, err := a.store.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if !(auction.IncrementAmount > 0) || math.IsInf(auction.IncrementAmount, 0) ||
		math.IsNaN(auction.CurrentPrice) || math.IsInf(auction.CurrentPrice, 0) {
		return nil, fmt.Errorf("auction %s: %w (increment %v, price %v)",
			auctionID, errInvalidAuction, auction.IncrementAmount, auction.CurrentPrice)
	}
	bids, err := a.store.ListBids(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	return newState(auction, bids), nil
}

// worker returns the running worker for auctionID, loading the auction from
// the store on first use.
func (a *Arbiter) worker(ctx context.Context, auctionID string) (*worker, error) {
	a.mu.Lock()
	w, closed := a.workers[auctionID], a.closed
	a.mu.Unlock()
	if w != nil {
		return w, nil
	}
	if closed {
		return nil, unavailable()
	}

	loadCtx, cancel := context.WithTimeout(ctx, a.storeTimeout)
	st, err := a.load(loadCtx, auctionID)
	cancel()
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound(auctionID)
	}
	if errors.Is(err, errInvalidAuction) {
		a.logger.Error("refusing to arbitrate auction", "auction_id", auctionID, "error", err)
		return nil, reject(ErrAuctionUnavailable, "Auction %s is not accepting bids", auctionID)
	}
	if err != nil {
		a.logger.Error("failed to load auction", "auction_id", auctionID, "error", err)
		return nil, unavailable()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if existing := a.workers[auctionID]; existing != nil {
		return existing, nil
	}
	if a.closed {
		return nil, unavailable()
	}
	w = newWorker(a, auctionID, st)
	a.workers[auctionID] = w
	go w.run()
	a.logger.Debug("auction worker started", "auction_id", auctionID)
	return w, nil
}

// do runs fn on the auction's worker, retrying once the worker it raced
// with has been collected.
func (a *Arbiter) do(ctx context.Context, auctionID string, fn func(w *worker)) error {
	for attempt := 0; attempt < maxWorkerAttempts; attempt++ {
		w, err := a.worker(ctx, auctionID)
		if err != nil {
			return err
		}
		err = w.exec(ctx, func() { fn(w) })
		if errors.Is(err, errWorkerStopped) {
			a.forget(w)
			continue
		}
		return err
	}
	return unavailable()
}

func (a *Arbiter) forget(w *worker) {
	a.mu.Lock()
	if a.workers[w.id] == w {
		delete(a.workers, w.id)
	}
	a.mu.Unlock()
}

// SubmitBid arbitrates a bid. Rejections are *RejectionError values that
// unwrap to the Err* sentinels.
func (a *Arbiter) SubmitBid(ctx context.Context, req models.BidRequest) (*Outcome, error) {
	var (
		outcome *Outcome
		result  error
	)
	err := a.do(ctx, req.AuctionID, func(w *worker) {
		outcome, result = w.submit(req)
	})
	if err != nil {
		return nil, err
	}
	return outcome, result
}

// Join subscribes conn to the auction's room and queues an auction-info
// snapshot to it. Joining a second auction leaves the first.
func (a *Arbiter) Join(ctx context.Context, conn *room.Connection, auctionID string) error {
	return a.do(ctx, auctionID, func(w *worker) {
		w.join(conn)
	})
}

// Snapshot returns the auction's current state
func (a *Arbiter) Snapshot(ctx context.Context, auctionID string) (models.AuctionSnapshot, error) {
	var snap models.AuctionSnapshot
	err := a.do(ctx, auctionID, func(w *worker) {
		snap = w.snapshot()
	})
	return snap, err
}

// History returns every accepted bid, highest amount first
func (a *Arbiter) History(ctx context.Context, auctionID string) ([]models.Bid, error) {
	var bids []models.Bid
	err := a.do(ctx, auctionID, func(w *worker) {
		bids = w.history()
	})
	return bids, err
}

// EndAuction closes the auction and broadcasts auction-ended. It reports
// false when the auction had already ended.
func (a *Arbiter) EndAuction(ctx context.Context, auctionID string) (bool, error) {
	var (
		event  *models.AuctionEndedEvent
		result error
	)
	err := a.do(ctx, auctionID, func(w *worker) {
		event, result = w.end()
	})
	if err != nil {
		return false, err
	}
	return event != nil, result
}

// Reconcile reloads a running auction from the store, clearing a fault left
// by a failed write. Auctions without a worker are loaded fresh on next use.
func (a *Arbiter) Reconcile(ctx context.Context, auctionID string) error {
	a.mu.Lock()
	w := a.workers[auctionID]
	a.mu.Unlock()
	if w == nil {
		return nil
	}

	var result error
	err := w.exec(ctx, func() { result = w.reconcile() })
	if errors.Is(err, errWorkerStopped) {
		a.forget(w)
		return nil
	}
	if err != nil {
		return err
	}
	return result
}

// Faulted lists auctions currently refusing bids after a store failure
func (a *Arbiter) Faulted() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var ids []string
	for id, w := range a.workers {
		if w.faulted.Load() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Collect stops workers of ended auctions whose room is empty and returns
// how many were stopped.
func (a *Arbiter) Collect() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for id, w := range a.workers {
		if w.collectable(a.registry) {
			delete(a.workers, id)
			w.stop()
			n++
		}
	}
	if n > 0 {
		a.logger.Debug("collected idle auction workers", "count", n)
	}
	return n
}

// Workers returns the number of running auction workers
func (a *Arbiter) Workers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.workers)
}

// Close stops every worker and waits for them to exit. Commands arriving
// afterwards are rejected as unavailable.
func (a *Arbiter) Close(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	workers := make([]*worker, 0, len(a.workers))
	for id, w := range a.workers {
		workers = append(workers, w)
		delete(a.workers, id)
		w.stop()
	}
	a.mu.Unlock()

	for _, w := range workers {
		select {
		case <-w.done:
		case <-ctx.Done():
			return fmt.Errorf("arbiter: workers did not stop: %w", ctx.Err())
		}
	}
	return nil
}
