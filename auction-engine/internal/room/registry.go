// Package room tracks which client connections are subscribed to which
// auction. A connection belongs to at most one room at a time.
package room

import (
	"log/slog"
	"sync"
)

// Registry maintains auction -> connections membership.
// Its lock is independent of bid arbitration.
type Registry struct {
	mu          sync.RWMutex
	rooms       map[string]map[*Connection]struct{}
	memberships map[*Connection]string
	logger      *slog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		rooms:       make(map[string]map[*Connection]struct{}),
		memberships: make(map[*Connection]string),
		logger:      logger,
	}
}

// Join subscribes conn to auctionID, leaving any previous room first.
// It returns the room that was left ("" if none). Re-joining the same
// auction is a no-op.
func (r *Registry) Join(conn *Connection, auctionID string) (left string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.memberships[conn]; ok {
		if prev == auctionID {
			return ""
		}
		r.removeLocked(conn, prev)
		left = prev
	}

	members, ok := r.rooms[auctionID]
	if !ok {
		members = make(map[*Connection]struct{})
		r.rooms[auctionID] = members
	}
	members[conn] = struct{}{}
	r.memberships[conn] = auctionID

	r.logger.Debug("connection joined room", "conn_id", conn.ID, "auction_id", auctionID, "left", left)
	return left
}

// Leave removes conn from auctionID. Leaving a room one is not in is a no-op.
func (r *Registry) Leave(conn *Connection, auctionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.memberships[conn] != auctionID {
		return false
	}
	r.removeLocked(conn, auctionID)
	r.logger.Debug("connection left room", "conn_id", conn.ID, "auction_id", auctionID)
	return true
}

// Disconnect removes conn from whatever room it was in and returns that room
func (r *Registry) Disconnect(conn *Connection) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	auctionID, ok := r.memberships[conn]
	if !ok {
		return ""
	}
	r.removeLocked(conn, auctionID)
	r.logger.Debug("connection disconnected", "conn_id", conn.ID, "auction_id", auctionID)
	return auctionID
}

// removeLocked drops the membership and destroys empty rooms
func (r *Registry) removeLocked(conn *Connection, auctionID string) {
	delete(r.memberships, conn)
	if members, ok := r.rooms[auctionID]; ok {
		delete(members, conn)
		if len(members) == 0 {
			delete(r.rooms, auctionID)
		}
	}
}

// Members returns a snapshot of the connections in a room
func (r *Registry) Members(auctionID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[auctionID]
	out := make([]*Connection, 0, len(members))
	for c := range members {
		out = append(out, c)
	}
	return out
}

// Count returns the number of connections in a room
func (r *Registry) Count(auctionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[auctionID])
}

// RoomOf returns the auction conn is joined to
func (r *Registry) RoomOf(conn *Connection) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.memberships[conn]
	return id, ok
}

// RoomCount returns the number of non-empty rooms
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
