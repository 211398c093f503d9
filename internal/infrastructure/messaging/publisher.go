// Package messaging provides the broadcast publisher implementations
// behind shared.Publisher: a local one for single-instance deployments and
// a Redis-backed one that relays messages between instances.
package messaging

import (
	"context"

	"github.com/cubetribe/klassenbuch-server/internal/domain/shared"
	"github.com/cubetribe/klassenbuch-server/internal/realtime"
)

// LocalPublisher delivers broadcast messages straight into the in-process
// registry. It is the single-instance deployment mode; a horizontally
// scaled deployment swaps in RedisPublisher behind the same interface.
type LocalPublisher struct {
	registry *realtime.Registry
}

// NewLocalPublisher wraps the registry as a shared.Publisher.
func NewLocalPublisher(registry *realtime.Registry) *LocalPublisher {
	return &LocalPublisher{registry: registry}
}

// Publish fans the message out to local connections.
func (p *LocalPublisher) Publish(ctx context.Context, msg shared.BroadcastMessage) error {
	return p.registry.Publish(ctx, msg)
}

// Close is a no-op; the registry's lifecycle belongs to its owner.
func (p *LocalPublisher) Close() error {
	return nil
}
