package models

import (
	"sort"
	"time"
)

// AuctionStatus is the lifecycle state of an auction
type AuctionStatus string

// AuctionStatus constants
const (
	AuctionStatusActive AuctionStatus = "active"
	AuctionStatusEnded  AuctionStatus = "ended"
)

// Auction represents one item under live bidding.
// The engine never creates or deletes auctions; it only mutates price,
// counters and status of auctions handed to it by the listing workflow.
type Auction struct {
	ID              string        `json:"id"`
	Title           string        `json:"title,omitempty"`
	CurrentPrice    float64       `json:"current_price"`
	IncrementAmount float64       `json:"increment_amount"`
	BidCount        int           `json:"bid_count"`
	UniqueBidders   []string      `json:"unique_bidders"`
	EndTime         time.Time     `json:"end_time"`
	Status          AuctionStatus `json:"status"`
	ReservePrice    *float64      `json:"reserve_price,omitempty"` // informational only
	WinningBidID    string        `json:"winning_bid_id,omitempty"`
}

// IsEnded reports whether the auction is closed at the given instant,
// either because its status was flipped or because its end time passed.
func (a *Auction) IsEnded(now time.Time) bool {
	return a.Status == AuctionStatusEnded || !now.Before(a.EndTime)
}

// Clone returns a deep copy of the auction
func (a *Auction) Clone() *Auction {
	c := *a
	c.UniqueBidders = append([]string(nil), a.UniqueBidders...)
	if a.ReservePrice != nil {
		rp := *a.ReservePrice
		c.ReservePrice = &rp
	}
	return &c
}

// AuctionSnapshot is a point-in-time view of an auction sent to clients when
// they join a room.
type AuctionSnapshot struct {
	AuctionID       string        `json:"auction_id"`
	CurrentPrice    float64       `json:"current_price"`
	IncrementAmount float64       `json:"increment_amount"`
	MinimumBid      float64       `json:"minimum_bid"`
	BidCount        int           `json:"bid_count"`
	UniqueBidders   int           `json:"unique_bidders"`
	Status          AuctionStatus `json:"status"`
	EndTime         time.Time     `json:"end_time"`
	WinningBidID    string        `json:"winning_bid_id,omitempty"`
	TopBids         []Bid         `json:"top_bids"`
}

// SortBidHistory orders bids highest amount first; ties go to the earliest bid.
func SortBidHistory(bids []Bid) {
	sort.SliceStable(bids, func(i, j int) bool {
		if bids[i].Amount != bids[j].Amount {
			return bids[i].Amount > bids[j].Amount
		}
		return bids[i].Timestamp.Before(bids[j].Timestamp)
	})
}
