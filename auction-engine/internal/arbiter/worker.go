package arbiter

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aaronwang/live-auction/auction-engine/internal/protocol"
	"github.com/aaronwang/live-auction/auction-engine/internal/room"
	"github.com/aaronwang/live-auction/auction-engine/internal/store"
	"github.com/aaronwang/live-auction/shared/models"
)

var errWorkerStopped = errors.New("arbiter: auction worker stopped")

// state is the authoritative in-memory view of one auction
type state struct {
	auction *models.Auction
	bids    []models.Bid // accepted bids, acceptance order
	bidders map[string]struct{}
}

func newState(auction *models.Auction, bids []models.Bid) *state {
	s := &state{
		auction: auction,
		bids:    bids,
		bidders: make(map[string]struct{}, len(auction.UniqueBidders)),
	}
	for _, id := range auction.UniqueBidders {
		s.bidders[id] = struct{}{}
	}
	return s
}

// worker serializes every mutation and read of one auction on its own
// goroutine. Commands run in the order they were enqueued.
type worker struct {
	id    string
	arb   *Arbiter
	state *state
	fault error

	cmds     chan func()
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// mirrors readable from other goroutines
	ended   atomic.Bool
	faulted atomic.Bool
}

func newWorker(arb *Arbiter, id string, st *state) *worker {
	w := &worker{
		id:    id,
		arb:   arb,
		state: st,
		cmds:  make(chan func(), arb.queueSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	w.ended.Store(st.auction.Status == models.AuctionStatusEnded)
	return w
}

func (w *worker) run() {
	defer close(w.done)
	for {
		select {
		case <-w.quit:
			return
		case task := <-w.cmds:
			task()
		}
	}
}

func (w *worker) stop() {
	w.stopOnce.Do(func() { close(w.quit) })
}

// exec runs fn on the worker goroutine and waits for it to finish
func (w *worker) exec(ctx context.Context, fn func()) error {
	reply := make(chan error, 1)
	task := func() {
		defer func() {
			if r := recover(); r != nil {
				w.arb.logger.Error("auction worker panic", "auction_id", w.id, "panic", r)
				reply <- fmt.Errorf("arbiter: panic in auction %s: %v", w.id, r)
			}
		}()
		fn()
		reply <- nil
	}

	select {
	case w.cmds <- task:
	case <-w.quit:
		return errWorkerStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-w.done:
		select {
		case err := <-reply:
			return err
		default:
			return errWorkerStopped
		}
	}
}

func (w *worker) setFault(err error) {
	w.fault = err
	w.faulted.Store(err != nil)
}

func (w *worker) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), w.arb.storeTimeout)
}

// minimumBid is current price plus increment in exact decimal arithmetic
func minimumBid(a *models.Auction) decimal.Decimal {
	return decimal.NewFromFloat(a.CurrentPrice).Add(decimal.NewFromFloat(a.IncrementAmount))
}

func validAmount(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

func (w *worker) submit(req models.BidRequest) (*Outcome, error) {
	if w.fault != nil {
		return nil, unavailable()
	}

	st := w.state
	now := w.arb.now()
	if st.auction.IsEnded(now) {
		return nil, reject(ErrAuctionEnded, "Auction has ended")
	}
	if !validAmount(req.Amount) {
		return nil, reject(ErrInvalidAmount, "Bid amount must be a positive number")
	}

	minBid := minimumBid(st.auction)
	if decimal.NewFromFloat(req.Amount).LessThan(minBid) {
		minF := minBid.InexactFloat64()
		return nil, &RejectionError{
			Reason:     ErrBidTooLow,
			Message:    fmt.Sprintf("Bid too low. Minimum bid is $%.2f", minF),
			MinimumBid: minF,
		}
	}

	bid := models.Bid{
		ID:         uuid.NewString(),
		AuctionID:  w.id,
		BidderID:   req.BidderID,
		BidderName: req.BidderName,
		Amount:     req.Amount,
		Timestamp:  now,
		Outcome:    models.BidOutcomeAcceptedWinning,
	}

	next := st.auction.Clone()
	previousPrice := next.CurrentPrice
	previousBidID := next.WinningBidID
	next.CurrentPrice = req.Amount
	next.BidCount++
	next.WinningBidID = bid.ID
	if _, seen := st.bidders[req.BidderID]; !seen {
		next.UniqueBidders = append(next.UniqueBidders, req.BidderID)
	}

	var outbid *models.Bid
	if n := len(st.bids); n > 0 {
		prev := st.bids[n-1]
		prev.MarkOutbid()
		outbid = &prev
	}

	ctx, cancel := w.storeContext()
	err := w.arb.store.ApplyBid(ctx, store.BidUpdate{Auction: next, Bid: &bid, Outbid: outbid})
	cancel()
	if err != nil {
		w.setFault(err)
		w.arb.logger.Error("failed to persist bid, auction marked unavailable",
			"auction_id", w.id, "bid_id", bid.ID, "amount", bid.Amount, "error", err)
		return nil, unavailable()
	}

	if outbid != nil {
		st.bids[len(st.bids)-1] = *outbid
	}
	st.bids = append(st.bids, bid)
	st.bidders[req.BidderID] = struct{}{}
	st.auction = next

	w.arb.logger.Info("bid accepted",
		"auction_id", w.id, "bid_id", bid.ID, "bidder_id", bid.BidderID,
		"amount", bid.Amount, "previous_price", previousPrice, "bid_count", next.BidCount)

	w.announce(bid, next, next.BidCount, previousPrice, previousBidID)
	return &Outcome{Bid: bid, Snapshot: w.snapshot()}, nil
}

// announce pushes an accepted bid to the room and the event stream
func (w *worker) announce(bid models.Bid, a *models.Auction, bidCount int, previousPrice float64, previousBidID string) {
	w.arb.dispatcher.Broadcast(w.id, protocol.NewNewBidEvent(bid, bidCount))

	event := models.BidEvent{
		EventID:       uuid.NewString(),
		AuctionID:     w.id,
		BidID:         bid.ID,
		BidderID:      bid.BidderID,
		BidderName:    bid.BidderName,
		Amount:        bid.Amount,
		PreviousPrice: previousPrice,
		PreviousBidID: previousBidID,
		BidCount:      bidCount,
		Increment:     a.IncrementAmount,
		EndTime:       a.EndTime,
		Timestamp:     bid.Timestamp,
	}
	if err := w.arb.publisher.PublishBid(context.Background(), event); err != nil {
		w.arb.logger.Warn("failed to publish bid event", "auction_id", w.id, "bid_id", bid.ID, "error", err)
	}
}

func (w *worker) snapshot() models.AuctionSnapshot {
	a := w.state.auction

	top := append([]models.Bid(nil), w.state.bids...)
	models.SortBidHistory(top)
	if len(top) > w.arb.topBids {
		top = top[:w.arb.topBids]
	}

	status := a.Status
	if a.IsEnded(w.arb.now()) {
		status = models.AuctionStatusEnded
	}

	return models.AuctionSnapshot{
		AuctionID:       a.ID,
		CurrentPrice:    a.CurrentPrice,
		IncrementAmount: a.IncrementAmount,
		MinimumBid:      minimumBid(a).InexactFloat64(),
		BidCount:        a.BidCount,
		UniqueBidders:   len(w.state.bidders),
		Status:          status,
		EndTime:         a.EndTime,
		WinningBidID:    a.WinningBidID,
		TopBids:         top,
	}
}

func (w *worker) history() []models.Bid {
	bids := append([]models.Bid(nil), w.state.bids...)
	models.SortBidHistory(bids)
	return bids
}

// join registers conn and queues the snapshot before any later new-bid
// event for this auction.
func (w *worker) join(conn *room.Connection) {
	if left := w.arb.registry.Join(conn, w.id); left != "" {
		w.arb.logger.Debug("connection switched rooms", "conn_id", conn.ID, "from", left, "to", w.id)
	}
	w.arb.dispatcher.SendTo(conn, protocol.NewAuctionInfoEvent(w.snapshot()))
}

// end closes the auction exactly once. It returns nil when the auction was
// already ended.
func (w *worker) end() (*models.AuctionEndedEvent, error) {
	if w.state.auction.Status == models.AuctionStatusEnded {
		return nil, nil
	}
	if w.fault != nil {
		if err := w.reconcile(); err != nil {
			return nil, err
		}
		if w.state.auction.Status == models.AuctionStatusEnded {
			return nil, nil
		}
	}

	ctx, cancel := w.storeContext()
	err := w.arb.store.EndAuction(ctx, w.id)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to end auction %s: %w", w.id, err)
	}

	a := w.state.auction
	a.Status = models.AuctionStatusEnded
	w.ended.Store(true)

	event := models.AuctionEndedEvent{
		EventID:    uuid.NewString(),
		AuctionID:  w.id,
		FinalPrice: a.CurrentPrice,
		BidCount:   a.BidCount,
		EndedAt:    w.arb.now(),
	}
	if n := len(w.state.bids); n > 0 {
		winner := w.state.bids[n-1]
		event.WinningBidID = winner.ID
		event.WinningBidderID = winner.BidderID
	}

	w.arb.logger.Info("auction ended",
		"auction_id", w.id, "final_price", event.FinalPrice,
		"bid_count", event.BidCount, "winning_bidder_id", event.WinningBidderID)

	w.arb.dispatcher.Broadcast(w.id, protocol.NewAuctionEndedEvent(event))
	if err := w.arb.publisher.PublishAuctionEnded(context.Background(), event); err != nil {
		w.arb.logger.Warn("failed to publish auction ended event", "auction_id", w.id, "error", err)
	}
	return &event, nil
}

// reconcile reloads the auction from the store and clears any fault
func (w *worker) reconcile() error {
	ctx, cancel := w.storeContext()
	defer cancel()

	st, err := w.arb.load(ctx, w.id)
	if err != nil {
		return fmt.Errorf("failed to reconcile auction %s: %w", w.id, err)
	}
	prev := w.state
	w.state = st
	w.ended.Store(st.auction.Status == models.AuctionStatusEnded)
	if w.fault != nil {
		w.arb.logger.Info("auction reconciled from store",
			"auction_id", w.id, "current_price", st.auction.CurrentPrice, "bid_count", st.auction.BidCount)
	}
	w.setFault(nil)
	w.announceRecovered(prev, st)
	return nil
}

// announceRecovered notifies the room and the event stream about bids the
// store committed while the engine believed the write had failed, then
// resends the snapshot if anything moved.
func (w *worker) announceRecovered(prev, next *state) {
	known := make(map[string]struct{}, len(prev.bids))
	for _, b := range prev.bids {
		known[b.ID] = struct{}{}
	}

	recovered := 0
	for i, bid := range next.bids {
		if _, ok := known[bid.ID]; ok {
			continue
		}
		previousPrice, previousBidID := prev.auction.CurrentPrice, prev.auction.WinningBidID
		if i > 0 {
			previousPrice, previousBidID = next.bids[i-1].Amount, next.bids[i-1].ID
		}
		w.arb.logger.Info("bid recovered from store",
			"auction_id", w.id, "bid_id", bid.ID, "bidder_id", bid.BidderID, "amount", bid.Amount)
		w.announce(bid, next.auction, i+1, previousPrice, previousBidID)
		recovered++
	}

	pa, na := prev.auction, next.auction
	if recovered == 0 && pa.CurrentPrice == na.CurrentPrice && pa.BidCount == na.BidCount &&
		pa.Status == na.Status && pa.WinningBidID == na.WinningBidID {
		return
	}
	w.arb.dispatcher.Broadcast(w.id, protocol.NewAuctionInfoEvent(w.snapshot()))
}

// collectable reports whether the auction is over and nobody is watching
func (w *worker) collectable(registry *room.Registry) bool {
	return w.ended.Load() && registry.Count(w.id) == 0
}
