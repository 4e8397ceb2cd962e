package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/aaronwang/live-auction/shared/models"
)

type recorder struct {
	mu      sync.Mutex
	bids    []models.BidEvent
	ended   []models.AuctionEndedEvent
	fail    error
	release chan struct{}
}

func (r *recorder) PublishBid(_ context.Context, e models.BidEvent) error {
	if r.release != nil {
		<-r.release
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bids = append(r.bids, e)
	return r.fail
}

func (r *recorder) PublishAuctionEnded(_ context.Context, e models.AuctionEndedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, e)
	return r.fail
}

func TestAsync_ForwardsInOrder(t *testing.T) {
	rec := &recorder{}
	a := NewAsync(rec, 16, nil)

	for _, id := range []string{"b1", "b2", "b3"} {
		assert.NoError(t, a.PublishBid(context.Background(), models.BidEvent{BidID: id}))
	}
	assert.NoError(t, a.PublishAuctionEnded(context.Background(), models.AuctionEndedEvent{AuctionID: "a1"}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, a.Close(ctx))

	assert.Equal(t, 3, len(rec.bids))
	check.Equal(t, "b1", rec.bids[0].BidID)
	check.Equal(t, "b3", rec.bids[2].BidID)
	check.Equal(t, 1, len(rec.ended))

	check.True(t, errors.Is(a.PublishBid(context.Background(), models.BidEvent{}), ErrClosed))
}

func TestAsync_DropsWhenFull(t *testing.T) {
	rec := &recorder{release: make(chan struct{})}
	a := NewAsync(rec, 1, nil)

	// First event is taken by the forwarder and blocks on release,
	// the second fills the queue.
	assert.NoError(t, a.PublishBid(context.Background(), models.BidEvent{BidID: "b1"}))
	deadline := time.Now().Add(time.Second)
	for len(a.queue) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.NoError(t, a.PublishBid(context.Background(), models.BidEvent{BidID: "b2"}))

	err := a.PublishBid(context.Background(), models.BidEvent{BidID: "b3"})
	check.True(t, errors.Is(err, ErrQueueFull))

	close(rec.release)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, a.Close(ctx))
	check.Equal(t, 2, len(rec.bids))
}

func TestMulti_JoinsErrors(t *testing.T) {
	ok := &recorder{}
	bad := &recorder{fail: errors.New("broker down")}
	m := Multi{ok, bad}

	err := m.PublishBid(context.Background(), models.BidEvent{BidID: "b1"})
	check.Error(t, err)
	check.Equal(t, 1, len(ok.bids))
	check.Equal(t, 1, len(bad.bids))
}

func TestRelayChannel(t *testing.T) {
	check.Equal(t, "auction_events:a1", RelayChannel("a1"))
}

func TestParseRelayed(t *testing.T) {
	r, err := parseRelayed("auction_events:a1", `{"type":"bid.accepted","data":{"bid_id":"b1"}}`)
	assert.NoError(t, err)
	check.Equal(t, "a1", r.AuctionID)
	check.Equal(t, RelayTypeBid, r.Type)
	check.Equal(t, `{"bid_id":"b1"}`, string(r.Payload))

	_, err = parseRelayed("auction_events:a1", "not json")
	check.Error(t, err)
}
