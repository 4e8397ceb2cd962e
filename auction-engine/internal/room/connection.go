package room

import (
	"sync"

	"github.com/aaronwang/live-auction/auction-engine/internal/protocol"
)

// Connection is a client session's subscription handle. Outbound events are
// queued on a bounded channel drained by the transport's write pump, so a
// slow client never blocks the producer.
type Connection struct {
	ID string

	mu     sync.Mutex
	send   chan protocol.Event
	closed bool
}

// NewConnection creates a handle with an outbound queue of the given size
func NewConnection(id string, queueSize int) *Connection {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Connection{
		ID:   id,
		send: make(chan protocol.Event, queueSize),
	}
}

// Outbound is read by the transport; it is closed when the connection closes
func (c *Connection) Outbound() <-chan protocol.Event {
	return c.send
}

// Enqueue queues an event without blocking. It returns false if the queue is
// full or the connection is closed.
func (c *Connection) Enqueue(ev protocol.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// Close closes the outbound queue. It is safe to call more than once.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Closed reports whether Close has been called
func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
