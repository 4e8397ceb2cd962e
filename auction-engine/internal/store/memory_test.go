package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/aaronwang/live-auction/shared/models"
)

func newAuction(id string, end time.Time) *models.Auction {
	return &models.Auction{
		ID:              id,
		CurrentPrice:    1000,
		IncrementAmount: 100,
		EndTime:         end,
		Status:          models.AuctionStatusActive,
	}
}

func TestMemory_GetAuctionReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	assert.NoError(t, m.PutAuction(ctx, newAuction("a1", time.Now().Add(time.Hour))))

	a, err := m.GetAuction(ctx, "a1")
	assert.NoError(t, err)
	a.CurrentPrice = 5

	again, err := m.GetAuction(ctx, "a1")
	assert.NoError(t, err)
	check.Equal(t, 1000.0, again.CurrentPrice)
}

func TestMemory_GetAuctionNotFound(t *testing.T) {
	_, err := NewMemory().GetAuction(context.Background(), "missing")
	check.True(t, errors.Is(err, ErrNotFound))
}

func TestMemory_ApplyBidMarksOutbid(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a := newAuction("a1", time.Now().Add(time.Hour))
	assert.NoError(t, m.PutAuction(ctx, a))

	first := &models.Bid{ID: "b1", AuctionID: "a1", BidderID: "u1", Amount: 1100, Outcome: models.BidOutcomeAcceptedWinning}
	next := a.Clone()
	next.CurrentPrice, next.BidCount, next.WinningBidID = 1100, 1, "b1"
	assert.NoError(t, m.ApplyBid(ctx, BidUpdate{Auction: next, Bid: first}))

	outbid := *first
	outbid.MarkOutbid()
	second := &models.Bid{ID: "b2", AuctionID: "a1", BidderID: "u2", Amount: 1200, Outcome: models.BidOutcomeAcceptedWinning}
	next = next.Clone()
	next.CurrentPrice, next.BidCount, next.WinningBidID = 1200, 2, "b2"
	assert.NoError(t, m.ApplyBid(ctx, BidUpdate{Auction: next, Bid: second, Outbid: &outbid}))

	bids, err := m.ListBids(ctx, "a1")
	assert.NoError(t, err)
	assert.Equal(t, 2, len(bids))
	check.Equal(t, models.BidOutcomeAcceptedOutbid, bids[0].Outcome)
	check.Equal(t, models.BidOutcomeAcceptedWinning, bids[1].Outcome)

	stored, err := m.GetAuction(ctx, "a1")
	assert.NoError(t, err)
	check.Equal(t, 1200.0, stored.CurrentPrice)
	check.Equal(t, 2, stored.BidCount)
}

func TestMemory_ApplyBidGuards(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a := newAuction("a1", time.Now().Add(time.Hour))
	assert.NoError(t, m.PutAuction(ctx, a))

	// Not above the stored price
	low := &models.Bid{ID: "b1", AuctionID: "a1", Amount: 1000}
	check.True(t, errors.Is(m.ApplyBid(ctx, BidUpdate{Auction: a, Bid: low}), ErrConflict))

	// Ended auctions never accept
	assert.NoError(t, m.EndAuction(ctx, "a1"))
	high := &models.Bid{ID: "b2", AuctionID: "a1", Amount: 5000}
	check.True(t, errors.Is(m.ApplyBid(ctx, BidUpdate{Auction: a, Bid: high}), ErrConflict))

	// Injected failure
	m.FailApply(errors.New("disk full"))
	check.Error(t, m.ApplyBid(ctx, BidUpdate{Auction: a, Bid: high}))
}

func TestMemory_ListEndingBy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.NoError(t, m.PutAuction(ctx, newAuction("later", now.Add(time.Minute))))
	assert.NoError(t, m.PutAuction(ctx, newAuction("due-2", now)))
	assert.NoError(t, m.PutAuction(ctx, newAuction("due-1", now.Add(-time.Minute))))

	ended := newAuction("ended", now.Add(-time.Hour))
	ended.Status = models.AuctionStatusEnded
	assert.NoError(t, m.PutAuction(ctx, ended))

	ids, err := m.ListEndingBy(ctx, now)
	assert.NoError(t, err)
	check.Equal(t, []string{"due-1", "due-2"}, ids)
}

func TestMemory_CreateAuctionRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	assert.NoError(t, m.CreateAuction(ctx, newAuction("a1", time.Now().Add(time.Hour))))

	again := newAuction("a1", time.Now().Add(time.Hour))
	again.CurrentPrice = 1
	check.True(t, errors.Is(m.CreateAuction(ctx, again), ErrExists))

	stored, err := m.GetAuction(ctx, "a1")
	assert.NoError(t, err)
	check.Equal(t, 1000.0, stored.CurrentPrice)
}

func TestMemory_CreateAuctionConcurrentOneWins(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var created, exists atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.CreateAuction(ctx, newAuction("a1", time.Now().Add(time.Hour)))
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, ErrExists):
				exists.Add(1)
			}
		}()
	}
	wg.Wait()

	check.Equal(t, int32(1), created.Load())
	check.Equal(t, int32(19), exists.Load())
}

func TestMemory_PutAuctionDropsOldBids(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a := newAuction("a1", time.Now().Add(time.Hour))
	assert.NoError(t, m.PutAuction(ctx, a))

	next := a.Clone()
	next.CurrentPrice, next.BidCount, next.WinningBidID = 1100, 1, "b1"
	bid := &models.Bid{ID: "b1", AuctionID: "a1", BidderID: "u1", Amount: 1100, Outcome: models.BidOutcomeAcceptedWinning}
	assert.NoError(t, m.ApplyBid(ctx, BidUpdate{Auction: next, Bid: bid}))

	assert.NoError(t, m.PutAuction(ctx, newAuction("a1", time.Now().Add(time.Hour))))
	bids, err := m.ListBids(ctx, "a1")
	assert.NoError(t, err)
	check.Equal(t, 0, len(bids))
}
