package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cubetribe/klassenbuch-server/internal/domain/shared"
)

// connBufferSize bounds the per-connection outbound queue. A client that
// cannot drain this many frames is considered dead and gets closed.
const connBufferSize = 16

// Connection is one client's subscription to one or more course update
// streams. Frames are queued on a buffered channel; the transport goroutine
// (the SSE handler, or a test) drains Outbound until Done closes.
type Connection struct {
	ID        uuid.UUID
	CourseIDs []uuid.UUID

	// UserID identifies the subscriber for logging; zero for anonymous
	// board views.
	UserID uuid.UUID

	outbound chan Frame
	done     chan struct{}
	once     sync.Once

	mu       sync.Mutex
	lastSent time.Time
}

func newConnection(id, userID uuid.UUID, courseIDs []uuid.UUID) *Connection {
	return &Connection{
		ID:        id,
		CourseIDs: courseIDs,
		UserID:    userID,
		outbound:  make(chan Frame, connBufferSize),
		done:      make(chan struct{}),
		lastSent:  time.Now(),
	}
}

// Outbound is the frame stream the transport drains.
func (c *Connection) Outbound() <-chan Frame {
	return c.outbound
}

// Done closes when the connection is closed, from either side.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// send queues a frame without blocking. A full buffer or a closed
// connection returns ErrConnectionClosed; the registry treats both as a
// dead client.
func (c *Connection) send(f Frame) error {
	select {
	case <-c.done:
		return shared.ErrConnectionClosed
	default:
	}

	select {
	case c.outbound <- f:
		c.mu.Lock()
		c.lastSent = time.Now()
		c.mu.Unlock()
		return nil
	default:
		return shared.ErrConnectionClosed
	}
}

// Close is idempotent; closing twice is a no-op, not a panic.
func (c *Connection) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}

// LastSent reports when a frame was last queued successfully.
func (c *Connection) LastSent() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSent
}

func (c *Connection) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
