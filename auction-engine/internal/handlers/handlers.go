package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/aaronwang/live-auction/auction-engine/internal/arbiter"
	"github.com/aaronwang/live-auction/auction-engine/internal/room"
	"github.com/aaronwang/live-auction/auction-engine/internal/store"
	"github.com/aaronwang/live-auction/shared/models"
)

// Handler contains HTTP request handlers
type Handler struct {
	arbiter  *arbiter.Arbiter
	store    store.Store
	registry *room.Registry
	logger   *slog.Logger
	now      func() time.Time
}

// NewHandler creates a new HTTP handler
func NewHandler(arb *arbiter.Arbiter, st store.Store, registry *room.Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		arbiter:  arb,
		store:    st,
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}
}

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/stats/auctions/{id}", h.GetStats).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/auctions", h.CreateAuction).Methods("POST")
	api.HandleFunc("/auctions/{id}", h.GetAuction).Methods("GET")
	api.HandleFunc("/auctions/{id}/bids", h.GetBids).Methods("GET")
	api.HandleFunc("/auctions/{id}/bids", h.PlaceBid).Methods("POST")
	api.HandleFunc("/auctions/{id}/close", h.CloseAuction).Methods("POST")

	router.Use(h.loggingMiddleware)
	router.Use(corsMiddleware)

	return router
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": "auction-engine",
		"workers": h.arbiter.Workers(),
		"rooms":   h.registry.RoomCount(),
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// CreateAuctionRequest hands an active auction to the engine
type CreateAuctionRequest struct {
	ID              string    `json:"id"` // generated when empty
	Title           string    `json:"title"`
	StartingPrice   float64   `json:"starting_price"`
	IncrementAmount float64   `json:"increment_amount"`
	EndTime         time.Time `json:"end_time"`
	ReservePrice    *float64  `json:"reserve_price,omitempty"`
}

// problem returns a client-facing message for the first invalid field
func (req *CreateAuctionRequest) problem(now time.Time) string {
	switch {
	case req.StartingPrice < 0:
		return "Starting price must not be negative"
	case req.IncrementAmount <= 0:
		return "Increment amount must be positive"
	case !req.EndTime.After(now):
		return "End time must be in the future"
	}
	return ""
}

// CreateAuction registers a new active auction
func (h *Handler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var req CreateAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if msg := req.problem(h.now()); msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	auction := &models.Auction{
		ID:              req.ID,
		Title:           req.Title,
		CurrentPrice:    req.StartingPrice,
		IncrementAmount: req.IncrementAmount,
		UniqueBidders:   []string{},
		EndTime:         req.EndTime.UTC(),
		Status:          models.AuctionStatusActive,
		ReservePrice:    req.ReservePrice,
	}
	if err := h.store.CreateAuction(r.Context(), auction); errors.Is(err, store.ErrExists) {
		respondError(w, http.StatusConflict, "Auction already exists")
		return
	} else if err != nil {
		h.logger.Error("failed to store auction", "auction_id", req.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to create auction")
		return
	}

	h.logger.Info("auction registered", "auction_id", auction.ID, "end_time", auction.EndTime)
	respondJSON(w, http.StatusCreated, auction)
}

// GetAuction returns the auction's live snapshot
func (h *Handler) GetAuction(w http.ResponseWriter, r *http.Request) {
	snap, err := h.arbiter.Snapshot(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondArbiterError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// GetBids returns every accepted bid, highest first
func (h *Handler) GetBids(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["id"]
	bids, err := h.arbiter.History(r.Context(), auctionID)
	if err != nil {
		h.respondArbiterError(w, err)
		return
	}
	if bids == nil {
		bids = []models.Bid{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"auction_id": auctionID,
		"bids":       bids,
	})
}

// BidResponse is returned for HTTP bid submissions
type BidResponse struct {
	Success      bool        `json:"success"`
	Message      string      `json:"message"`
	ReasonCode   string      `json:"reason_code,omitempty"`
	Bid          *models.Bid `json:"bid,omitempty"`
	CurrentPrice float64     `json:"current_price,omitempty"`
	MinimumBid   float64     `json:"minimum_bid,omitempty"`
	BidCount     int         `json:"bid_count,omitempty"`
}

// PlaceBid handles bid placement requests
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	var req models.BidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.BidderID == "" {
		respondError(w, http.StatusBadRequest, "Bidder ID is required")
		return
	}
	req.AuctionID = mux.Vars(r)["id"]

	out, err := h.arbiter.SubmitBid(r.Context(), req)
	if err != nil {
		var re *arbiter.RejectionError
		if !errors.As(err, &re) {
			h.respondArbiterError(w, err)
			return
		}
		respondJSON(w, statusFor(err), BidResponse{
			Success:    false,
			Message:    re.Message,
			ReasonCode: re.Code(),
			MinimumBid: re.MinimumBid,
		})
		return
	}

	respondJSON(w, http.StatusCreated, BidResponse{
		Success:      true,
		Message:      "Bid placed successfully",
		Bid:          &out.Bid,
		CurrentPrice: out.Snapshot.CurrentPrice,
		MinimumBid:   out.Snapshot.MinimumBid,
		BidCount:     out.Snapshot.BidCount,
	})
}

// CloseAuction ends an auction ahead of its end time
func (h *Handler) CloseAuction(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["id"]
	ended, err := h.arbiter.EndAuction(r.Context(), auctionID)
	if err != nil {
		h.respondArbiterError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"auction_id": auctionID,
		"ended":      ended,
	})
}

// GetStats returns connection statistics for an auction room
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["id"]
	respondJSON(w, http.StatusOK, map[string]any{
		"auction_id":  auctionID,
		"subscribers": h.registry.Count(auctionID),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, arbiter.ErrAuctionNotFound):
		return http.StatusNotFound
	case errors.Is(err, arbiter.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, arbiter.ErrAuctionEnded), errors.Is(err, arbiter.ErrBidTooLow):
		return http.StatusConflict
	case errors.Is(err, arbiter.ErrAuctionUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) respondArbiterError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}
	respondJSON(w, status, map[string]string{
		"error":       arbiter.Message(err),
		"reason_code": arbiter.ReasonCode(err),
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{
		"error": message,
	})
}

// loggingMiddleware logs all HTTP requests
func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.logger.Debug("http request", "method", r.Method, "uri", r.RequestURI, "duration", time.Since(start))
	})
}

// corsMiddleware adds CORS headers (for development)
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
