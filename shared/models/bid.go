package models

import "time"

// BidOutcome is the arbitration result recorded on a bid
type BidOutcome string

// BidOutcome constants. A bid moves at most once, from AcceptedWinning to
// AcceptedOutbid, when a later higher bid is accepted.
const (
	BidOutcomeAcceptedWinning BidOutcome = "accepted-winning"
	BidOutcomeAcceptedOutbid  BidOutcome = "accepted-then-outbid"
	BidOutcomeRejected        BidOutcome = "rejected"
)

// Bid represents a single bid on an auction
type Bid struct {
	ID         string     `json:"id"`
	AuctionID  string     `json:"auction_id"`
	BidderID   string     `json:"bidder_id"`
	BidderName string     `json:"bidder_name"`
	Amount     float64    `json:"amount"`
	Timestamp  time.Time  `json:"timestamp"`
	Outcome    BidOutcome `json:"outcome"`
}

// IsWinning reports whether the bid is the current winning bid
func (b *Bid) IsWinning() bool {
	return b.Outcome == BidOutcomeAcceptedWinning
}

// MarkOutbid transitions a winning bid to accepted-then-outbid.
// Bids in any other state are left untouched.
func (b *Bid) MarkOutbid() {
	if b.Outcome == BidOutcomeAcceptedWinning {
		b.Outcome = BidOutcomeAcceptedOutbid
	}
}

// BidRequest represents an incoming bid submission
type BidRequest struct {
	AuctionID  string  `json:"auction_id"`
	BidderID   string  `json:"bidder_id"`
	BidderName string  `json:"bidder_name"`
	Amount     float64 `json:"amount"`
}

// BidEvent represents an event that gets published when a bid is accepted
// This is sent to:
// 1. Redis Pub/Sub (optional relay for other services)
// 2. NATS JetStream (for archival to PostgreSQL)
type BidEvent struct {
	EventID       string    `json:"event_id"`
	AuctionID     string    `json:"auction_id"`
	BidID         string    `json:"bid_id"`
	BidderID      string    `json:"bidder_id"`
	BidderName    string    `json:"bidder_name"`
	Amount        float64   `json:"amount"`
	PreviousPrice float64   `json:"previous_price"`
	PreviousBidID string    `json:"previous_bid_id,omitempty"`
	BidCount      int       `json:"bid_count"`
	Increment     float64   `json:"increment_amount"`
	EndTime       time.Time `json:"end_time"`
	Timestamp     time.Time `json:"timestamp"`
}

// AuctionEndedEvent is published exactly once when an auction closes
type AuctionEndedEvent struct {
	EventID         string    `json:"event_id"`
	AuctionID       string    `json:"auction_id"`
	FinalPrice      float64   `json:"final_price"`
	BidCount        int       `json:"bid_count"`
	WinningBidID    string    `json:"winning_bid_id,omitempty"`
	WinningBidderID string    `json:"winning_bidder_id,omitempty"`
	EndedAt         time.Time `json:"ended_at"`
}
