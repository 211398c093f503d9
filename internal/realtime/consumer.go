package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cubetribe/klassenbuch-server/internal/domain/shared"
	"github.com/cubetribe/klassenbuch-server/pkg/logger"
	"github.com/cubetribe/klassenbuch-server/pkg/retry"
)

// ConsumerState is the consumer's connection lifecycle state, exposed so a
// UI can show a disconnected indicator while reconnects are in flight.
type ConsumerState string

const (
	StateConnected    ConsumerState = "connected"
	StateReconnecting ConsumerState = "reconnecting"
	StatePolling      ConsumerState = "polling"
	StateStopped      ConsumerState = "stopped"
)

// Source opens one live stream attempt. The returned channel delivers
// decoded broadcast messages and closes when the stream drops; keepalive
// frames never appear on it.
type Source interface {
	Connect(ctx context.Context) (<-chan shared.BroadcastMessage, error)
}

// Fallback runs when the consumer gives up on the live stream. It blocks
// until the context is canceled.
type Fallback interface {
	Run(ctx context.Context) error
}

// MessageHandler receives one broadcast message. Handlers run on the
// consumer's goroutine and must not block.
type MessageHandler func(msg shared.BroadcastMessage)

// Consumer keeps a live stream open against a Source, reconnecting with
// multiplicative backoff. A successful connection resets the attempt
// counter; once the attempt budget is exhausted the consumer switches to
// its polling fallback (or returns ErrGiveUp when none is configured).
type Consumer struct {
	source   Source
	retrier  *retry.Retrier
	fallback Fallback

	maxAttempts int
	sleep       func(ctx context.Context, d time.Duration) error

	mu       sync.RWMutex
	handlers map[shared.MessageType][]MessageHandler
	state    ConsumerState
	attempts int

	onState func(ConsumerState)
	onError func(error)
	log     *logger.Logger
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithRetrier overrides the backoff schedule.
func WithRetrier(r *retry.Retrier) ConsumerOption {
	return func(c *Consumer) { c.retrier = r }
}

// WithMaxAttempts bounds consecutive failed connection attempts before the
// consumer gives up on the live stream.
func WithMaxAttempts(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithFallback installs the polling fallback used after give-up.
func WithFallback(f Fallback) ConsumerOption {
	return func(c *Consumer) { c.fallback = f }
}

// WithStateListener registers a callback for state changes.
func WithStateListener(fn func(ConsumerState)) ConsumerOption {
	return func(c *Consumer) { c.onState = fn }
}

// WithErrorListener registers a callback for transport errors: failed
// connection attempts and dropped streams. The callback runs on the
// consumer's goroutine and must not block.
func WithErrorListener(fn func(error)) ConsumerOption {
	return func(c *Consumer) { c.onError = fn }
}

// withSleepFunc replaces the backoff sleep; tests use it to observe delays
// without waiting them out.
func withSleepFunc(fn func(ctx context.Context, d time.Duration) error) ConsumerOption {
	return func(c *Consumer) { c.sleep = fn }
}

// NewConsumer creates a consumer for the given source.
func NewConsumer(source Source, log *logger.Logger, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		source:      source,
		retrier:     retry.StreamRetrier(),
		maxAttempts: 10,
		sleep:       sleepContext,
		handlers:    make(map[shared.MessageType][]MessageHandler),
		state:       StateStopped,
		log:         log.With(logger.Component("stream_consumer")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// On registers a handler for one message type. Multiple handlers per type
// are allowed; registration after Run has started is safe.
func (c *Consumer) On(msgType shared.MessageType, h MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[msgType] = append(c.handlers[msgType], h)
}

// State returns the current lifecycle state.
func (c *Consumer) State() ConsumerState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Attempts returns the current consecutive-failure count.
func (c *Consumer) Attempts() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.attempts
}

// Run drives the connect/consume/reconnect loop until ctx is canceled, the
// attempt budget runs out (ErrGiveUp without a fallback) or the fallback
// returns.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.setState(StateStopped)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgs, err := c.source.Connect(ctx)
		if err == nil {
			c.setState(StateConnected)
			c.resetAttempts()
			c.consume(ctx, msgs)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Stream dropped after a healthy session; fall through into
			// the reconnect path with a fresh failure count.
			err = errors.New("stream closed")
		}

		c.notifyError(err)

		attempt := c.recordFailure()
		if attempt >= c.maxAttempts {
			c.log.Warn("live stream retry budget exhausted",
				logger.Int("attempts", attempt),
				logger.Err(err),
			)
			if c.fallback == nil {
				return shared.ErrGiveUp
			}
			c.setState(StatePolling)
			return c.fallback.Run(ctx)
		}

		delay := c.retrier.Delay(attempt)
		c.setState(StateReconnecting)
		c.log.Debug("reconnecting to live stream",
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Err(err),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// consume dispatches messages until the channel closes or ctx cancels.
func (c *Consumer) consume(ctx context.Context, msgs <-chan shared.BroadcastMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			c.dispatch(msg)
		}
	}
}

func (c *Consumer) dispatch(msg shared.BroadcastMessage) {
	c.mu.RLock()
	handlers := c.handlers[msg.Type]
	c.mu.RUnlock()

	for _, h := range handlers {
		h(msg)
	}
}

func (c *Consumer) setState(s ConsumerState) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()

	if changed && c.onState != nil {
		c.onState(s)
	}
}

func (c *Consumer) notifyError(err error) {
	if c.onError != nil {
		c.onError(err)
	}
}

func (c *Consumer) resetAttempts() {
	c.mu.Lock()
	c.attempts = 0
	c.mu.Unlock()
}

func (c *Consumer) recordFailure() int {
	c.mu.Lock()
	c.attempts++
	n := c.attempts
	c.mu.Unlock()
	return n
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
