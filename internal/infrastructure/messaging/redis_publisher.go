package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cubetribe/klassenbuch-server/internal/domain/shared"
	"github.com/cubetribe/klassenbuch-server/internal/realtime"
	"github.com/cubetribe/klassenbuch-server/pkg/circuitbreaker"
	"github.com/cubetribe/klassenbuch-server/pkg/logger"
)

// envelope wraps a broadcast message with the publishing instance's id so
// the forwarder can skip messages this process already delivered locally.
type envelope struct {
	Instance string                  `json:"instance"`
	Message  shared.BroadcastMessage `json:"message"`
}

// RedisPublisher relays broadcast messages between instances over a Redis
// pub/sub channel. Every Publish delivers locally first, then best-effort
// to the broker behind a circuit breaker; the forwarder goroutine feeds
// messages from other instances into the local registry.
type RedisPublisher struct {
	client     *redis.Client
	channel    string
	instanceID string
	registry   *realtime.Registry
	breaker    *circuitbreaker.CircuitBreaker
	log        *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisPublisher creates the publisher and verifies broker reachability.
func NewRedisPublisher(client *redis.Client, channel string, registry *realtime.Registry, log *logger.Logger) (*RedisPublisher, error) {
	if channel == "" {
		channel = "klassenbuch:broadcast"
	}

	log = log.With(logger.Component("redis_publisher"))

	p := &RedisPublisher{
		client:     client,
		channel:    channel,
		instanceID: uuid.NewString(),
		registry:   registry,
		log:        log,
	}
	p.breaker = circuitbreaker.BrokerBreaker(func(name string, from, to circuitbreaker.State) {
		log.Warn("broker circuit state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
	})
	return p, nil
}

// Start subscribes to the broker channel and runs the forwarder until ctx
// is canceled. Call once, before serving traffic.
func (p *RedisPublisher) Start(ctx context.Context) error {
	sub := p.client.Subscribe(ctx, p.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe to broadcast channel: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go p.forward(runCtx, sub)

	p.log.Info("broadcast forwarder started",
		logger.String("channel", p.channel),
		logger.String("instance", p.instanceID),
	)
	return nil
}

// Publish delivers locally, then relays to the broker. Broker failures are
// logged and swallowed; the write path must never block or fail because a
// peer instance cannot be reached.
func (p *RedisPublisher) Publish(ctx context.Context, msg shared.BroadcastMessage) error {
	if err := p.registry.Publish(ctx, msg); err != nil {
		return err
	}

	payload, err := json.Marshal(envelope{Instance: p.instanceID, Message: msg})
	if err != nil {
		return fmt.Errorf("encode broadcast envelope: %w", err)
	}

	err = p.breaker.Execute(ctx, func(ctx context.Context) error {
		return p.client.Publish(ctx, p.channel, payload).Err()
	})
	if err != nil {
		p.log.Warn("broker publish failed, delivered locally only",
			logger.CourseID(msg.CourseID),
			logger.Err(err),
		)
	}
	return nil
}

func (p *RedisPublisher) forward(ctx context.Context, sub *redis.PubSub) {
	defer p.wg.Done()
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok || m == nil {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
				p.log.Warn("malformed broker payload", logger.Err(err))
				continue
			}
			if env.Instance == p.instanceID {
				continue
			}
			if err := p.registry.Publish(ctx, env.Message); err != nil {
				p.log.Warn("local delivery of relayed message failed", logger.Err(err))
			}
		}
	}
}

// Close stops the forwarder. The Redis client is shared and stays open.
func (p *RedisPublisher) Close() error {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	return nil
}
