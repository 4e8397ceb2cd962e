// Package store defines the Auction State Store port: the durable home of
// auctions and their accepted bids. The engine keeps its own authoritative
// in-memory copy per active auction and writes through this interface.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/aaronwang/live-auction/shared/models"
)

// ErrNotFound is returned when an auction does not exist in the store
var ErrNotFound = errors.New("auction not found")

// ErrExists is returned by CreateAuction when the id is already taken
var ErrExists = errors.New("auction already exists")

// ErrConflict is returned when a guarded write finds the stored state
// different from what the caller arbitrated against
var ErrConflict = errors.New("auction state conflict")

// BidUpdate is the result of one accepted arbitration, written atomically
type BidUpdate struct {
	// Auction is the state after the bid was applied
	Auction *models.Auction
	// Bid is the newly accepted winning bid
	Bid *models.Bid
	// Outbid is the previously winning bid with its outcome already moved to
	// accepted-then-outbid (nil for the first bid)
	Outbid *models.Bid
}

// Store is the durable Auction State Store
type Store interface {
	// PutAuction registers or replaces an auction (listing workflow entry point)
	PutAuction(ctx context.Context, auction *models.Auction) error

	// CreateAuction registers a new auction, or returns ErrExists when the id
	// is already present. The check and the write are one atomic step.
	CreateAuction(ctx context.Context, auction *models.Auction) error

	// GetAuction returns the auction or ErrNotFound
	GetAuction(ctx context.Context, auctionID string) (*models.Auction, error)

	// ListBids returns all accepted bids for an auction in acceptance order
	ListBids(ctx context.Context, auctionID string) ([]models.Bid, error)

	// ApplyBid persists an accepted bid and the resulting auction state
	ApplyBid(ctx context.Context, update BidUpdate) error

	// EndAuction flips the auction to ended
	EndAuction(ctx context.Context, auctionID string) error

	// ListEndingBy returns ids of active auctions whose end time is <= t
	ListEndingBy(ctx context.Context, t time.Time) ([]string, error)
}
