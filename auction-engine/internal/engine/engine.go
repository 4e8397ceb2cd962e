// Package engine routes decoded client commands to the arbiter and the room
// registry and answers the submitting connection.
package engine

import (
	"context"
	"log/slog"

	"github.com/aaronwang/live-auction/auction-engine/internal/arbiter"
	"github.com/aaronwang/live-auction/auction-engine/internal/dispatch"
	"github.com/aaronwang/live-auction/auction-engine/internal/protocol"
	"github.com/aaronwang/live-auction/auction-engine/internal/room"
	"github.com/aaronwang/live-auction/shared/models"
)

// CodeMalformedCommand is reported for commands that fail to decode
const CodeMalformedCommand = "MALFORMED_COMMAND"

// Engine handles commands from any transport
type Engine struct {
	arbiter    *arbiter.Arbiter
	registry   *room.Registry
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
}

// New creates an engine
func New(arb *arbiter.Arbiter, registry *room.Registry, dispatcher *dispatch.Dispatcher, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		arbiter:    arb,
		registry:   registry,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// HandleMessage decodes a raw frame and handles it. Malformed frames are
// answered with an error event.
func (e *Engine) HandleMessage(ctx context.Context, conn *room.Connection, data []byte) {
	cmd, err := protocol.DecodeCommand(data)
	if err != nil {
		e.logger.Debug("malformed command", "conn_id", conn.ID, "error", err)
		e.dispatcher.SendTo(conn, protocol.NewErrorEvent("", CodeMalformedCommand, err.Error()))
		return
	}
	e.Handle(ctx, conn, cmd)
}

// Handle executes one command on behalf of conn
func (e *Engine) Handle(ctx context.Context, conn *room.Connection, cmd protocol.Command) {
	switch cmd.Type {
	case protocol.CommandJoinAuction:
		if err := e.arbiter.Join(ctx, conn, cmd.AuctionID); err != nil {
			e.sendError(conn, cmd.AuctionID, err)
			return
		}
		e.logger.Debug("joined auction", "conn_id", conn.ID, "auction_id", cmd.AuctionID)

	case protocol.CommandLeaveAuction:
		if e.registry.Leave(conn, cmd.AuctionID) {
			e.logger.Debug("left auction", "conn_id", conn.ID, "auction_id", cmd.AuctionID)
		}

	case protocol.CommandPlaceBid:
		out, err := e.arbiter.SubmitBid(ctx, models.BidRequest{
			AuctionID:  cmd.AuctionID,
			BidderID:   cmd.BidderID,
			BidderName: cmd.BidderName,
			Amount:     cmd.Amount,
		})
		if err != nil {
			e.logger.Debug("bid rejected",
				"conn_id", conn.ID, "auction_id", cmd.AuctionID, "amount", cmd.Amount,
				"reason", arbiter.ReasonCode(err))
			e.dispatcher.SendTo(conn, protocol.NewBidErrorEvent(
				cmd.AuctionID, arbiter.ReasonCode(err), arbiter.Message(err), arbiter.MinimumBid(err)))
			return
		}
		e.dispatcher.SendTo(conn, protocol.NewBidSuccessEvent(out.Bid, out.Snapshot))

	case protocol.CommandGetBidHistory:
		bids, err := e.arbiter.History(ctx, cmd.AuctionID)
		if err != nil {
			e.sendError(conn, cmd.AuctionID, err)
			return
		}
		e.dispatcher.SendBidHistory(conn, cmd.AuctionID, bids)
	}
}

func (e *Engine) sendError(conn *room.Connection, auctionID string, err error) {
	code := arbiter.ReasonCode(err)
	if code == arbiter.CodeInternal {
		e.logger.Error("command failed", "conn_id", conn.ID, "auction_id", auctionID, "error", err)
	}
	e.dispatcher.SendTo(conn, protocol.NewErrorEvent(auctionID, code, arbiter.Message(err)))
}

// Disconnect drops the connection from every room and closes its queue
func (e *Engine) Disconnect(conn *room.Connection) {
	if left := e.registry.Disconnect(conn); left != "" {
		e.logger.Debug("connection left auction on disconnect", "conn_id", conn.ID, "auction_id", left)
	}
	conn.Close()
}
