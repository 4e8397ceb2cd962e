// Package scheduler closes auctions whose end time has passed.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/aaronwang/live-auction/auction-engine/internal/store"
)

// Arbiter is the subset of the arbiter the sweep drives
type Arbiter interface {
	EndAuction(ctx context.Context, auctionID string) (bool, error)
	Faulted() []string
	Reconcile(ctx context.Context, auctionID string) error
	Collect() int
}

// Result summarizes one sweep
type Result struct {
	Ended      int
	Reconciled int
	Collected  int
	Failed     int
}

// Scheduler periodically ends due auctions, retries faulted ones and
// collects idle auction workers.
type Scheduler struct {
	store    store.Store
	arbiter  Arbiter
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a scheduler. now may be nil.
func New(st store.Store, arb Arbiter, interval time.Duration, now func() time.Time, logger *slog.Logger) *Scheduler {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Scheduler{
		store:    st,
		arbiter:  arb,
		interval: interval,
		now:      now,
		logger:   logger,
	}
}

// Run sweeps on every tick until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("auction scheduler started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("auction scheduler stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs a single pass
func (s *Scheduler) Sweep(ctx context.Context) Result {
	var res Result

	for _, id := range s.arbiter.Faulted() {
		if err := s.arbiter.Reconcile(ctx, id); err != nil {
			s.logger.Warn("auction still unavailable", "auction_id", id, "error", err)
			res.Failed++
			continue
		}
		res.Reconciled++
	}

	due, err := s.store.ListEndingBy(ctx, s.now())
	if err != nil {
		s.logger.Error("failed to list ending auctions", "error", err)
		res.Failed++
	}
	for _, id := range due {
		ended, err := s.arbiter.EndAuction(ctx, id)
		if err != nil {
			s.logger.Error("failed to end auction", "auction_id", id, "error", err)
			res.Failed++
			continue
		}
		if ended {
			res.Ended++
		}
	}

	res.Collected = s.arbiter.Collect()
	return res
}
