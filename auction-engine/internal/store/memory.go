package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aaronwang/live-auction/shared/models"
)

// Memory is an in-process Store used for development and tests
type Memory struct {
	mu       sync.RWMutex
	auctions map[string]*models.Auction
	bids     map[string][]models.Bid

	// failApply, when set, makes ApplyBid return the error (fault injection)
	failApply error
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		auctions: make(map[string]*models.Auction),
		bids:     make(map[string][]models.Bid),
	}
}

// FailApply makes subsequent ApplyBid calls fail with err; nil restores normal behaviour
func (m *Memory) FailApply(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failApply = err
}

// PutAuction stores a copy of the auction, dropping any bids recorded under the same id
func (m *Memory) PutAuction(_ context.Context, auction *models.Auction) error {
	if auction == nil || auction.ID == "" {
		return fmt.Errorf("auction id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auctions[auction.ID] = auction.Clone()
	delete(m.bids, auction.ID)
	return nil
}

// CreateAuction stores a copy of the auction unless the id is taken
func (m *Memory) CreateAuction(_ context.Context, auction *models.Auction) error {
	if auction == nil || auction.ID == "" {
		return fmt.Errorf("auction id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.auctions[auction.ID]; ok {
		return ErrExists
	}
	m.auctions[auction.ID] = auction.Clone()
	delete(m.bids, auction.ID)
	return nil
}

// GetAuction returns a copy of the stored auction
func (m *Memory) GetAuction(_ context.Context, auctionID string) (*models.Auction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.auctions[auctionID]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

// ListBids returns a copy of the accepted bids in acceptance order
func (m *Memory) ListBids(_ context.Context, auctionID string) ([]models.Bid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Bid(nil), m.bids[auctionID]...), nil
}

// ApplyBid applies the update if the stored auction is still active and the
// stored price is lower than the new bid
func (m *Memory) ApplyBid(_ context.Context, update BidUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failApply != nil {
		return m.failApply
	}

	id := update.Auction.ID
	stored, ok := m.auctions[id]
	if !ok {
		return ErrNotFound
	}
	if stored.Status != models.AuctionStatusActive || update.Bid.Amount <= stored.CurrentPrice {
		return ErrConflict
	}

	bids := m.bids[id]
	if update.Outbid != nil {
		for i := range bids {
			if bids[i].ID == update.Outbid.ID {
				bids[i].Outcome = update.Outbid.Outcome
			}
		}
	}
	m.bids[id] = append(bids, *update.Bid)
	m.auctions[id] = update.Auction.Clone()
	return nil
}

// EndAuction marks the auction ended; ending an ended auction is a no-op
func (m *Memory) EndAuction(_ context.Context, auctionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auctions[auctionID]
	if !ok {
		return ErrNotFound
	}
	a.Status = models.AuctionStatusEnded
	return nil
}

// ListEndingBy returns active auctions with EndTime <= t, sorted by end time
func (m *Memory) ListEndingBy(_ context.Context, t time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var due []*models.Auction
	for _, a := range m.auctions {
		if a.Status == models.AuctionStatusActive && !a.EndTime.After(t) {
			due = append(due, a)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].EndTime.Before(due[j].EndTime) })

	ids := make([]string, len(due))
	for i, a := range due {
		ids[i] = a.ID
	}
	return ids, nil
}
