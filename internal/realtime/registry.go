package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cubetribe/klassenbuch-server/internal/domain/shared"
	"github.com/cubetribe/klassenbuch-server/pkg/logger"
)

// DefaultKeepaliveInterval is how often idle connections get a comment
// frame so proxies and load balancers keep the stream open.
const DefaultKeepaliveInterval = 30 * time.Second

// Registry tracks live connections grouped by course and fans broadcast
// messages out to them. It is an explicit dependency: construct one per
// process (or per test) and pass it where it is needed.
type Registry struct {
	mu       sync.RWMutex
	byID     map[uuid.UUID]*Connection
	byCourse map[uuid.UUID]map[*Connection]struct{}
	closed   bool

	keepalive time.Duration
	stop      chan struct{}
	wg        sync.WaitGroup

	log *logger.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithKeepaliveInterval overrides the keepalive cadence. Zero disables the
// keepalive loop entirely, which tests use to keep timing deterministic.
func WithKeepaliveInterval(d time.Duration) RegistryOption {
	return func(r *Registry) {
		r.keepalive = d
	}
}

// NewRegistry creates a registry and starts its keepalive loop.
func NewRegistry(log *logger.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		byID:      make(map[uuid.UUID]*Connection),
		byCourse:  make(map[uuid.UUID]map[*Connection]struct{}),
		keepalive: DefaultKeepaliveInterval,
		stop:      make(chan struct{}),
		log:       log.With(logger.Component("realtime_registry")),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.keepalive > 0 {
		r.wg.Add(1)
		go r.keepaliveLoop()
	}
	return r
}

// Register creates a connection subscribed to the given courses. The caller
// owns the transport side: drain Outbound until Done closes, then call
// Unregister. Registering an id that is already present closes and replaces
// the prior connection, so a reconnecting client never leaks its old entry.
func (r *Registry) Register(connID, userID uuid.UUID, courseIDs []uuid.UUID) (*Connection, error) {
	if len(courseIDs) == 0 {
		return nil, shared.WrapError("realtime", "Register", shared.ErrEmptyValue,
			"connection needs at least one course", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, shared.ErrRegistryClosed
	}

	if prior, ok := r.byID[connID]; ok {
		prior.Close()
		r.remove(prior)
	}

	conn := newConnection(connID, userID, courseIDs)
	r.byID[connID] = conn
	for _, courseID := range courseIDs {
		conns, ok := r.byCourse[courseID]
		if !ok {
			conns = make(map[*Connection]struct{})
			r.byCourse[courseID] = conns
		}
		conns[conn] = struct{}{}
	}

	r.log.Debug("connection registered",
		logger.ConnectionID(conn.ID.String()),
		logger.Int("courses", len(courseIDs)),
	)
	return conn, nil
}

// Unregister closes the connection and removes it from the course map.
// Safe to call more than once and for connections already pruned.
func (r *Registry) Unregister(conn *Connection) {
	conn.Close()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.remove(conn)
}

// remove expects r.mu held. The byID entry is only dropped when it still
// points at conn; a replacement registered under the same id stays.
func (r *Registry) remove(conn *Connection) {
	if current, ok := r.byID[conn.ID]; ok && current == conn {
		delete(r.byID, conn.ID)
	}
	for _, courseID := range conn.CourseIDs {
		conns, ok := r.byCourse[courseID]
		if !ok {
			continue
		}
		delete(conns, conn)
		if len(conns) == 0 {
			delete(r.byCourse, courseID)
		}
	}
	r.log.Debug("connection removed", logger.ConnectionID(conn.ID.String()))
}

// Publish fans a message out to every connection of its course. Publishing
// to a course with no connections is a silent no-op. A connection that
// cannot take the frame is closed and pruned; its failure never reaches the
// publisher. Implements shared.Publisher.
func (r *Registry) Publish(ctx context.Context, msg shared.BroadcastMessage) error {
	frame, err := DataFrame(msg)
	if err != nil {
		return err
	}

	courseID, err := uuid.Parse(msg.CourseID)
	if err != nil {
		return shared.WrapError("realtime", "Publish", shared.ErrInvalidID,
			"broadcast message has malformed course id", err)
	}

	r.mu.RLock()
	conns, ok := r.byCourse[courseID]
	if !ok || len(conns) == 0 {
		r.mu.RUnlock()
		return nil
	}
	targets := make([]*Connection, 0, len(conns))
	for conn := range conns {
		targets = append(targets, conn)
	}
	r.mu.RUnlock()

	var dead []*Connection
	for _, conn := range targets {
		if err := conn.send(frame); err != nil {
			dead = append(dead, conn)
		}
	}

	if len(dead) > 0 {
		r.mu.Lock()
		for _, conn := range dead {
			conn.Close()
			r.remove(conn)
		}
		r.mu.Unlock()
		r.log.Warn("pruned dead connections during publish",
			logger.CourseID(msg.CourseID),
			logger.Int("pruned", len(dead)),
			logger.Int("delivered", len(targets)-len(dead)),
		)
	}
	return nil
}

// CourseConnections reports how many connections a course currently has.
func (r *Registry) CourseConnections(courseID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byCourse[courseID])
}

// Close shuts the registry down: stops the keepalive loop, closes every
// connection and rejects further registrations. Idempotent.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.stop)

	for _, conn := range r.byID {
		conn.Close()
	}
	r.byID = make(map[uuid.UUID]*Connection)
	r.byCourse = make(map[uuid.UUID]map[*Connection]struct{})
	r.mu.Unlock()

	r.wg.Wait()
	r.log.Info("registry closed")
	return nil
}

func (r *Registry) keepaliveLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sendKeepalives()
		}
	}
}

// sendKeepalives pushes a comment frame to every connection. A connection
// whose buffer is still full after a whole keepalive interval has a client
// that stopped reading; it gets closed and pruned here.
func (r *Registry) sendKeepalives() {
	frame := KeepaliveFrame()

	r.mu.RLock()
	targets := make([]*Connection, 0, len(r.byID))
	for _, conn := range r.byID {
		targets = append(targets, conn)
	}
	r.mu.RUnlock()

	var dead []*Connection
	for _, conn := range targets {
		if err := conn.send(frame); err != nil {
			dead = append(dead, conn)
		}
	}

	if len(dead) > 0 {
		r.mu.Lock()
		for _, conn := range dead {
			conn.Close()
			r.remove(conn)
		}
		r.mu.Unlock()
		r.log.Info("pruned stale connections on keepalive",
			logger.Int("pruned", len(dead)),
		)
	}
}
