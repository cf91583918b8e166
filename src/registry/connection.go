package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/leadpulse/realtime/src/types"
)

// Conn is a single client's live stream: an identity, a bounded FIFO outbox,
// and connection metadata. The engine is always the producer side of the
// outbox; whatever owns the outbound transport drains it.
type Conn struct {
	ID     string
	UserID string

	outbox chan types.Notification
	meta   types.ClientMeta
	done   chan struct{}

	mu           sync.Mutex
	connectedAt  time.Time
	lastActivity time.Time
	closed       bool

	// consecutive reaper scans seen saturated; guarded by the owning
	// userState lock, only the reaper touches it.
	strikes int
}

func newConn(userID string, meta types.ClientMeta, queueSize int) *Conn {
	now := time.Now()
	return &Conn{
		ID:           uuid.New().String(),
		UserID:       userID,
		outbox:       make(chan types.Notification, queueSize),
		meta:         meta,
		done:         make(chan struct{}),
		connectedAt:  now,
		lastActivity: now,
	}
}

// Outbox returns the receive side of the connection's queue. Messages are
// delivered in enqueue order.
func (c *Conn) Outbox() <-chan types.Notification { return c.outbox }

// Done is closed when the connection is disconnected or evicted.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Closed reports whether the connection has been shut down.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Info returns a point-in-time snapshot of the connection's metadata.
func (c *Conn) Info() types.ConnInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return types.ConnInfo{
		ID:             c.ID,
		UserID:         c.UserID,
		ConnectedAt:    c.connectedAt,
		LastActivityAt: c.lastActivity,
		Meta:           c.meta,
		Queued:         len(c.outbox),
	}
}

func (c *Conn) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// close is idempotent. The outbox channel itself stays open so a concurrent
// send can never panic; undelivered messages are discarded with it.
func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}

func (c *Conn) saturated() bool { return len(c.outbox) >= cap(c.outbox) }
