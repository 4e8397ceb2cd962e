// Package protocol defines the typed messages exchanged between clients and
// the engine: inbound commands and outbound events.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aaronwang/live-auction/shared/models"
)

// CommandType identifies a client->engine message
type CommandType string

// CommandType constants
const (
	CommandJoinAuction   CommandType = "join-auction"
	CommandLeaveAuction  CommandType = "leave-auction"
	CommandPlaceBid      CommandType = "place-bid"
	CommandGetBidHistory CommandType = "get-bid-history"
)

// Command is one decoded client->engine message
type Command struct {
	Type       CommandType `json:"type"`
	AuctionID  string      `json:"auctionId"`
	BidderID   string      `json:"bidderId,omitempty"`
	BidderName string      `json:"bidderName,omitempty"`
	Amount     float64     `json:"amount,omitempty"`
}

// ErrMalformedCommand is returned by DecodeCommand for unusable input
var ErrMalformedCommand = errors.New("malformed command")

// DecodeCommand parses and validates a client message
func DecodeCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}

	switch cmd.Type {
	case CommandJoinAuction, CommandLeaveAuction, CommandGetBidHistory:
	case CommandPlaceBid:
		if cmd.BidderID == "" {
			return Command{}, fmt.Errorf("%w: bidderId is required", ErrMalformedCommand)
		}
	default:
		return Command{}, fmt.Errorf("%w: unknown type %q", ErrMalformedCommand, cmd.Type)
	}
	if cmd.AuctionID == "" {
		return Command{}, fmt.Errorf("%w: auctionId is required", ErrMalformedCommand)
	}
	return cmd, nil
}

// EventType identifies an engine->client message
type EventType string

// EventType constants
const (
	EventAuctionInfo  EventType = "auction-info"
	EventNewBid       EventType = "new-bid"
	EventBidSuccess   EventType = "bid-success"
	EventBidError     EventType = "bid-error"
	EventBidHistory   EventType = "bid-history"
	EventAuctionEnded EventType = "auction-ended"
	EventError        EventType = "error"
)

// Event is an engine->client message envelope
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// BidView is the client-facing shape of a bid
type BidView struct {
	ID         string            `json:"id"`
	AuctionID  string            `json:"auctionId"`
	BidderID   string            `json:"bidderId"`
	BidderName string            `json:"bidderName"`
	Amount     float64           `json:"amount"`
	Timestamp  time.Time         `json:"timestamp"`
	Outcome    models.BidOutcome `json:"outcome"`
}

// AuctionInfo is the join-time snapshot
type AuctionInfo struct {
	AuctionID       string               `json:"auctionId"`
	CurrentPrice    float64              `json:"currentPrice"`
	IncrementAmount float64              `json:"incrementAmount"`
	MinimumBid      float64              `json:"minimumBid"`
	BidsCount       int                  `json:"bidsCount"`
	UniqueBidders   int                  `json:"uniqueBidders"`
	Status          models.AuctionStatus `json:"status"`
	EndTime         time.Time            `json:"endTime"`
	TopBids         []BidView            `json:"topBids"`
}

// NewBid is broadcast to the whole room on every accepted bid
type NewBid struct {
	AuctionID  string    `json:"auctionId"`
	BidID      string    `json:"bidId"`
	Amount     float64   `json:"amount"`
	BidderName string    `json:"bidderName"`
	Timestamp  time.Time `json:"timestamp"`
	BidsCount  int       `json:"bidsCount"`
}

// BidSuccess acknowledges an accepted bid to its submitter
type BidSuccess struct {
	Message      string  `json:"message"`
	Bid          BidView `json:"bid"`
	CurrentPrice float64 `json:"currentPrice"`
	BidsCount    int     `json:"bidsCount"`
	MinimumBid   float64 `json:"minimumBid"`
}

// BidError reports a rejected bid to its submitter
type BidError struct {
	AuctionID  string  `json:"auctionId"`
	Message    string  `json:"message"`
	ReasonCode string  `json:"reasonCode"`
	MinimumBid float64 `json:"minimumBid,omitempty"`
}

// BidHistory answers a history request
type BidHistory struct {
	AuctionID string    `json:"auctionId"`
	Bids      []BidView `json:"bids"`
}

// AuctionEnded is broadcast once when the auction closes
type AuctionEnded struct {
	AuctionID       string  `json:"auctionId"`
	FinalPrice      float64 `json:"finalPrice"`
	WinningBidderID string  `json:"winningBidderId,omitempty"`
	WinningBidID    string  `json:"winningBidId,omitempty"`
	BidsCount       int     `json:"bidsCount"`
}

// Error reports a failed non-bid command
type Error struct {
	AuctionID  string `json:"auctionId,omitempty"`
	Message    string `json:"message"`
	ReasonCode string `json:"reasonCode"`
}

// ToBidView converts a stored bid to its client-facing shape
func ToBidView(b models.Bid) BidView {
	return BidView{
		ID:         b.ID,
		AuctionID:  b.AuctionID,
		BidderID:   b.BidderID,
		BidderName: b.BidderName,
		Amount:     b.Amount,
		Timestamp:  b.Timestamp,
		Outcome:    b.Outcome,
	}
}

// ToBidViews converts a slice of bids, preserving order
func ToBidViews(bids []models.Bid) []BidView {
	views := make([]BidView, len(bids))
	for i, b := range bids {
		views[i] = ToBidView(b)
	}
	return views
}

// NewAuctionInfoEvent builds an auction-info event from a snapshot
func NewAuctionInfoEvent(s models.AuctionSnapshot) Event {
	return Event{Type: EventAuctionInfo, Data: AuctionInfo{
		AuctionID:       s.AuctionID,
		CurrentPrice:    s.CurrentPrice,
		IncrementAmount: s.IncrementAmount,
		MinimumBid:      s.MinimumBid,
		BidsCount:       s.BidCount,
		UniqueBidders:   s.UniqueBidders,
		Status:          s.Status,
		EndTime:         s.EndTime,
		TopBids:         ToBidViews(s.TopBids),
	}}
}

// NewNewBidEvent builds the room-wide new-bid event
func NewNewBidEvent(b models.Bid, bidCount int) Event {
	return Event{Type: EventNewBid, Data: NewBid{
		AuctionID:  b.AuctionID,
		BidID:      b.ID,
		Amount:     b.Amount,
		BidderName: b.BidderName,
		Timestamp:  b.Timestamp,
		BidsCount:  bidCount,
	}}
}

// NewBidSuccessEvent builds the submitter acknowledgement
func NewBidSuccessEvent(b models.Bid, s models.AuctionSnapshot) Event {
	return Event{Type: EventBidSuccess, Data: BidSuccess{
		Message:      fmt.Sprintf("Bid of $%.2f placed successfully!", b.Amount),
		Bid:          ToBidView(b),
		CurrentPrice: s.CurrentPrice,
		BidsCount:    s.BidCount,
		MinimumBid:   s.MinimumBid,
	}}
}

// NewBidErrorEvent builds the submitter-only rejection
func NewBidErrorEvent(auctionID, reasonCode, message string, minimumBid float64) Event {
	return Event{Type: EventBidError, Data: BidError{
		AuctionID:  auctionID,
		Message:    message,
		ReasonCode: reasonCode,
		MinimumBid: minimumBid,
	}}
}

// NewBidHistoryEvent builds a history response; bids must already be ordered
func NewBidHistoryEvent(auctionID string, bids []models.Bid) Event {
	return Event{Type: EventBidHistory, Data: BidHistory{
		AuctionID: auctionID,
		Bids:      ToBidViews(bids),
	}}
}

// NewAuctionEndedEvent builds the room-wide close notification
func NewAuctionEndedEvent(e models.AuctionEndedEvent) Event {
	return Event{Type: EventAuctionEnded, Data: AuctionEnded{
		AuctionID:       e.AuctionID,
		FinalPrice:      e.FinalPrice,
		WinningBidderID: e.WinningBidderID,
		WinningBidID:    e.WinningBidID,
		BidsCount:       e.BidCount,
	}}
}

// NewErrorEvent builds a generic error event
func NewErrorEvent(auctionID, reasonCode, message string) Event {
	return Event{Type: EventError, Data: Error{
		AuctionID:  auctionID,
		Message:    message,
		ReasonCode: reasonCode,
	}}
}
