// Package websocket is the client transport: it upgrades HTTP requests and
// moves frames between the socket and the engine.
package websocket

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/aaronwang/live-auction/auction-engine/internal/engine"
	"github.com/aaronwang/live-auction/auction-engine/internal/protocol"
	"github.com/aaronwang/live-auction/auction-engine/internal/room"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow all origins for development (use proper CORS in production)
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler accepts WebSocket sessions
type Handler struct {
	engine    *engine.Engine
	queueSize int
	logger    *slog.Logger

	// ctx bounds the commands of every session; cancelled on shutdown
	ctx context.Context
}

// NewHandler creates a handler. queueSize bounds each session's outbound
// queue.
func NewHandler(ctx context.Context, eng *engine.Engine, queueSize int, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		engine:    eng,
		queueSize: queueSize,
		logger:    logger,
		ctx:       ctx,
	}
}

// RegisterRoutes adds the WebSocket endpoints to router.
// /ws/auctions/{id} joins the auction right after the upgrade.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws", h.HandleWebSocket)
	router.HandleFunc("/ws/auctions/{id}", h.HandleWebSocket)
}

// HandleWebSocket upgrades the connection and starts its pumps
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["id"]

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", "error", err)
		return
	}

	client := &Client{
		conn:   conn,
		handle: room.NewConnection(uuid.New().String(), h.queueSize),
		logger: h.logger,
	}
	h.logger.Debug("websocket connected", "conn_id", client.handle.ID, "remote", r.RemoteAddr)

	go client.writePump()

	if auctionID != "" {
		h.engine.Handle(h.ctx, client.handle, protocol.Command{
			Type:      protocol.CommandJoinAuction,
			AuctionID: auctionID,
		})
	}
	go client.readPump(h.ctx, h)
}
