package dispatch

import (
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/aaronwang/live-auction/auction-engine/internal/protocol"
	"github.com/aaronwang/live-auction/auction-engine/internal/room"
	"github.com/aaronwang/live-auction/shared/models"
)

func TestBroadcast_ReachesEveryMember(t *testing.T) {
	reg := room.NewRegistry(nil)
	d := New(reg, nil)

	c1 := room.NewConnection("c1", 4)
	c2 := room.NewConnection("c2", 4)
	other := room.NewConnection("c3", 4)
	reg.Join(c1, "a1")
	reg.Join(c2, "a1")
	reg.Join(other, "a2")

	n := d.Broadcast("a1", protocol.Event{Type: protocol.EventNewBid})
	check.Equal(t, 2, n)
	check.Equal(t, 1, len(c1.Outbound()))
	check.Equal(t, 1, len(c2.Outbound()))
	check.Equal(t, 0, len(other.Outbound()))
}

func TestBroadcast_SlowConnectionIsEvicted(t *testing.T) {
	reg := room.NewRegistry(nil)
	d := New(reg, nil)

	slow := room.NewConnection("slow", 1)
	fast := room.NewConnection("fast", 8)
	reg.Join(slow, "a1")
	reg.Join(fast, "a1")

	d.Broadcast("a1", protocol.Event{Type: protocol.EventNewBid})
	n := d.Broadcast("a1", protocol.Event{Type: protocol.EventNewBid})

	// Delivery to the healthy member is unaffected
	check.Equal(t, 1, n)
	check.Equal(t, 2, len(fast.Outbound()))
	check.True(t, slow.Closed())
	check.Equal(t, 1, reg.Count("a1"))
}

func TestSendBidHistory_Ordering(t *testing.T) {
	reg := room.NewRegistry(nil)
	d := New(reg, nil)
	c := room.NewConnection("c1", 4)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bids := []models.Bid{
		{ID: "b1", Amount: 1100, Timestamp: base},
		{ID: "b3", Amount: 1300, Timestamp: base.Add(2 * time.Second)},
		{ID: "b2", Amount: 1300, Timestamp: base.Add(time.Second)},
	}
	assert.True(t, d.SendBidHistory(c, "a1", bids))

	ev := <-c.Outbound()
	check.Equal(t, protocol.EventBidHistory, ev.Type)
	history, ok := ev.Data.(protocol.BidHistory)
	assert.True(t, ok)
	assert.Equal(t, 3, len(history.Bids))
	check.Equal(t, "b2", history.Bids[0].ID)
	check.Equal(t, "b3", history.Bids[1].ID)
	check.Equal(t, "b1", history.Bids[2].ID)

	// Input slice is untouched
	check.Equal(t, "b1", bids[0].ID)
}
