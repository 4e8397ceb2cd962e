package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/aaronwang/live-auction/shared/models"
)

func TestDecodeAuction(t *testing.T) {
	end := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	h := map[string]string{
		"id":               "a1",
		"title":            "Vintage camera",
		"current_price":    "1250.5",
		"increment_amount": "50",
		"bid_count":        "3",
		"end_time":         "1772359200000",
		"status":           "active",
		"winning_bid_id":   "b3",
		"reserve_price":    "2000",
	}

	a, err := decodeAuction(h, []string{"u1", "u2"})
	assert.NoError(t, err)

	check.Equal(t, "a1", a.ID)
	check.Equal(t, 1250.5, a.CurrentPrice)
	check.Equal(t, 50.0, a.IncrementAmount)
	check.Equal(t, 3, a.BidCount)
	check.True(t, a.EndTime.Equal(end))
	check.Equal(t, models.AuctionStatusActive, a.Status)
	check.Equal(t, "b3", a.WinningBidID)
	check.Equal(t, 2, len(a.UniqueBidders))
	assert.NotNil(t, a.ReservePrice)
	check.Equal(t, 2000.0, *a.ReservePrice)
}

func TestDecodeAuction_InvalidPrice(t *testing.T) {
	_, err := decodeAuction(map[string]string{"id": "a1", "current_price": "abc"}, nil)
	check.Error(t, err)
}

func TestKeys(t *testing.T) {
	check.Equal(t, "auction:a1", auctionKey("a1"))
	check.Equal(t, "auction:a1:bidders", biddersKey("a1"))
	check.Equal(t, "auction:a1:bids", bidsKey("a1"))
	check.Equal(t, "1100.25", formatAmount(1100.25))
}

// newTestRedis connects to the Redis named by TEST_REDIS_ADDR (db 15) and
// skips the test when none is configured or reachable.
func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client, err := Connect(context.Background(), addr, os.Getenv("TEST_REDIS_PASSWORD"), 15)
	if err != nil {
		t.Skipf("redis unavailable at %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client)
}

// redisAuction returns an active auction under a fresh id whose keys are
// removed when the test finishes.
func redisAuction(t *testing.T, r *Redis, end time.Time) *models.Auction {
	t.Helper()
	a := newAuction("test-"+uuid.NewString(), end)
	t.Cleanup(func() {
		ctx := context.Background()
		r.client.Del(ctx, auctionKey(a.ID), biddersKey(a.ID), bidsKey(a.ID))
		r.client.ZRem(ctx, endingKey, a.ID)
	})
	return a
}

func acceptBid(a *models.Auction, id, bidder string, amount float64) (*models.Auction, *models.Bid) {
	next := a.Clone()
	next.CurrentPrice = amount
	next.BidCount++
	next.WinningBidID = id
	return next, &models.Bid{
		ID:        id,
		AuctionID: a.ID,
		BidderID:  bidder,
		Amount:    amount,
		Timestamp: time.Now().UTC(),
		Outcome:   models.BidOutcomeAcceptedWinning,
	}
}

func TestRedis_ApplyBid(t *testing.T) {
	ctx := context.Background()
	r := newTestRedis(t)
	a := redisAuction(t, r, time.Now().Add(time.Hour))
	assert.NoError(t, r.PutAuction(ctx, a))

	afterFirst, first := acceptBid(a, "b1", "u1", 1100)
	assert.NoError(t, r.ApplyBid(ctx, BidUpdate{Auction: afterFirst, Bid: first}))

	outbid := *first
	outbid.MarkOutbid()
	afterSecond, second := acceptBid(afterFirst, "b2", "u2", 1250.5)
	assert.NoError(t, r.ApplyBid(ctx, BidUpdate{Auction: afterSecond, Bid: second, Outbid: &outbid}))

	stored, err := r.GetAuction(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, 1250.5, stored.CurrentPrice)
	check.Equal(t, 2, stored.BidCount)
	check.Equal(t, "b2", stored.WinningBidID)
	check.Equal(t, 2, len(stored.UniqueBidders))

	bids, err := r.ListBids(ctx, a.ID)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(bids))
	check.Equal(t, "b1", bids[0].ID)
	check.Equal(t, models.BidOutcomeAcceptedOutbid, bids[0].Outcome)
	check.Equal(t, "b2", bids[1].ID)
	check.Equal(t, models.BidOutcomeAcceptedWinning, bids[1].Outcome)
}

func TestRedis_ApplyBidGuards(t *testing.T) {
	ctx := context.Background()
	r := newTestRedis(t)
	a := redisAuction(t, r, time.Now().Add(time.Hour))
	assert.NoError(t, r.PutAuction(ctx, a))

	afterFirst, first := acceptBid(a, "b1", "u1", 1100)
	assert.NoError(t, r.ApplyBid(ctx, BidUpdate{Auction: afterFirst, Bid: first}))

	// same or lower price than stored
	stale, low := acceptBid(a, "b2", "u2", 1100)
	check.True(t, errors.Is(r.ApplyBid(ctx, BidUpdate{Auction: stale, Bid: low}), ErrConflict))

	missing, orphan := acceptBid(newAuction("test-"+uuid.NewString(), a.EndTime), "b3", "u3", 5000)
	check.True(t, errors.Is(r.ApplyBid(ctx, BidUpdate{Auction: missing, Bid: orphan}), ErrNotFound))

	assert.NoError(t, r.EndAuction(ctx, a.ID))
	late, bid := acceptBid(afterFirst, "b4", "u4", 9000)
	check.True(t, errors.Is(r.ApplyBid(ctx, BidUpdate{Auction: late, Bid: bid}), ErrConflict))

	bids, err := r.ListBids(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, 1, len(bids))
}

func TestRedis_PutAuctionClearsOldBids(t *testing.T) {
	ctx := context.Background()
	r := newTestRedis(t)
	a := redisAuction(t, r, time.Now().Add(time.Hour))
	assert.NoError(t, r.PutAuction(ctx, a))

	next, bid := acceptBid(a, "b1", "u1", 1100)
	assert.NoError(t, r.ApplyBid(ctx, BidUpdate{Auction: next, Bid: bid}))

	assert.NoError(t, r.PutAuction(ctx, a))
	bids, err := r.ListBids(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, 0, len(bids))

	stored, err := r.GetAuction(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, 0, len(stored.UniqueBidders))
}

func TestRedis_CreateAuction(t *testing.T) {
	ctx := context.Background()
	r := newTestRedis(t)
	a := redisAuction(t, r, time.Now().Add(time.Hour))

	assert.NoError(t, r.CreateAuction(ctx, a))

	again := a.Clone()
	again.CurrentPrice = 1
	check.True(t, errors.Is(r.CreateAuction(ctx, again), ErrExists))

	stored, err := r.GetAuction(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, 1000.0, stored.CurrentPrice)
}

func TestRedis_EndAuctionAndEndingIndex(t *testing.T) {
	ctx := context.Background()
	r := newTestRedis(t)
	now := time.Now()
	due := redisAuction(t, r, now.Add(-time.Minute))
	later := redisAuction(t, r, now.Add(time.Hour))
	assert.NoError(t, r.PutAuction(ctx, due))
	assert.NoError(t, r.PutAuction(ctx, later))

	ids, err := r.ListEndingBy(ctx, now)
	assert.NoError(t, err)
	check.In(t, due.ID, ids)
	check.NotIn(t, later.ID, ids)

	assert.NoError(t, r.EndAuction(ctx, due.ID))
	stored, err := r.GetAuction(ctx, due.ID)
	assert.NoError(t, err)
	check.Equal(t, models.AuctionStatusEnded, stored.Status)

	ids, err = r.ListEndingBy(ctx, now)
	assert.NoError(t, err)
	check.NotIn(t, due.ID, ids)

	check.True(t, errors.Is(r.EndAuction(ctx, "test-"+uuid.NewString()), ErrNotFound))
}
