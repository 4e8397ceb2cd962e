// Package dispatch fans out arbitration outcomes to room members.
// Delivery is best-effort and at-most-once per event per joined connection.
package dispatch

import (
	"log/slog"

	"github.com/aaronwang/live-auction/auction-engine/internal/protocol"
	"github.com/aaronwang/live-auction/auction-engine/internal/room"
	"github.com/aaronwang/live-auction/shared/models"
)

// Dispatcher pushes events to connections through their bounded queues
type Dispatcher struct {
	registry *room.Registry
	logger   *slog.Logger
}

// New creates a dispatcher reading membership from registry
func New(registry *room.Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		logger:   logger,
	}
}

// Broadcast sends ev to every member of the auction's room and returns the
// number of connections it was queued for. Events are queued in call order,
// so callers that broadcast from one goroutine per auction preserve order.
func (d *Dispatcher) Broadcast(auctionID string, ev protocol.Event) int {
	members := d.registry.Members(auctionID)

	count := 0
	for _, conn := range members {
		if d.SendTo(conn, ev) {
			count++
		}
	}

	d.logger.Debug("broadcast", "auction_id", auctionID, "type", ev.Type, "delivered", count, "members", len(members))
	return count
}

// SendTo queues ev for a single connection. A connection whose queue is full
// is closed and dropped from its room rather than stalling the caller.
func (d *Dispatcher) SendTo(conn *room.Connection, ev protocol.Event) bool {
	if conn.Enqueue(ev) {
		return true
	}
	if !conn.Closed() {
		d.logger.Warn("outbound queue full, evicting connection", "conn_id", conn.ID, "type", ev.Type)
		conn.Close()
	}
	d.registry.Disconnect(conn)
	return false
}

// SendBidHistory orders the accepted bids highest amount first (earliest
// timestamp breaks ties) and sends them to the requesting connection only.
func (d *Dispatcher) SendBidHistory(conn *room.Connection, auctionID string, bids []models.Bid) bool {
	ordered := append([]models.Bid(nil), bids...)
	models.SortBidHistory(ordered)
	return d.SendTo(conn, protocol.NewBidHistoryEvent(auctionID, ordered))
}
