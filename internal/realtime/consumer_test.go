package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubetribe/klassenbuch-server/internal/domain/shared"
	"github.com/cubetribe/klassenbuch-server/pkg/retry"
)

// scriptedSource plays back a fixed sequence of connection outcomes.
type scriptedSource struct {
	mu       sync.Mutex
	script   []error // nil entry = successful connect
	calls    int
	attempts []int // consumer's failure counter observed at each connect

	consumer *Consumer
	streams  chan chan shared.BroadcastMessage
}

func newScriptedSource(script ...error) *scriptedSource {
	return &scriptedSource{
		script:  script,
		streams: make(chan chan shared.BroadcastMessage, len(script)+1),
	}
}

func (s *scriptedSource) Connect(ctx context.Context) (<-chan shared.BroadcastMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.consumer != nil {
		s.attempts = append(s.attempts, s.consumer.Attempts())
	}

	idx := s.calls
	s.calls++
	if idx >= len(s.script) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := s.script[idx]; err != nil {
		return nil, err
	}

	stream := make(chan shared.BroadcastMessage, 8)
	s.streams <- stream
	return stream, nil
}

func recordedDelays(delays *[]time.Duration, mu *sync.Mutex) ConsumerOption {
	return withSleepFunc(func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		*delays = append(*delays, d)
		mu.Unlock()
		return nil
	})
}

// deterministicRetrier has no jitter so delay growth is exactly
// multiplicative.
func deterministicRetrier() *retry.Retrier {
	return retry.New(
		retry.WithInitialDelay(100*time.Millisecond),
		retry.WithMaxDelay(10*time.Second),
		retry.WithMultiplier(2.0),
		retry.WithJitter(0),
	)
}

func TestConsumer_AttemptCounterResetsAfterSuccess(t *testing.T) {
	connErr := errors.New("connect refused")
	source := newScriptedSource(connErr, connErr, connErr, nil)

	var (
		delays []time.Duration
		mu     sync.Mutex
	)
	consumer := NewConsumer(source, testLogger(),
		WithRetrier(deterministicRetrier()),
		WithMaxAttempts(10),
		recordedDelays(&delays, &mu),
	)
	source.consumer = consumer

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	// Wait for the fourth connect (the successful one) to hand out a stream.
	var stream chan shared.BroadcastMessage
	select {
	case stream = <-source.streams:
	case <-time.After(time.Second):
		t.Fatal("consumer never reached the successful connect")
	}

	assert.Eventually(t, func() bool {
		return consumer.State() == StateConnected
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, consumer.Attempts(), "success must reset the failure counter")

	mu.Lock()
	require.Len(t, delays, 3, "three failures mean three backoff sleeps")
	assert.Greater(t, delays[2], delays[0],
		"backoff before the 4th attempt must exceed the backoff before the 2nd")
	assert.Equal(t, 100*time.Millisecond, delays[0])
	assert.Equal(t, 400*time.Millisecond, delays[2])
	mu.Unlock()

	// Failure counts observed at connect time: 0, 1, 2, 3.
	source.mu.Lock()
	assert.Equal(t, []int{0, 1, 2, 3}, source.attempts)
	source.mu.Unlock()

	close(stream)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop on cancel")
	}
}

func TestConsumer_DispatchesByMessageType(t *testing.T) {
	source := newScriptedSource(nil)

	consumer := NewConsumer(source, testLogger(), WithRetrier(deterministicRetrier()))

	var (
		mu       sync.Mutex
		behavior []shared.BroadcastMessage
		rewards  int
	)
	consumer.On(shared.MessageBehaviorEvent, func(msg shared.BroadcastMessage) {
		mu.Lock()
		behavior = append(behavior, msg)
		mu.Unlock()
	})
	consumer.On(shared.MessageRewardRedeemed, func(shared.BroadcastMessage) {
		mu.Lock()
		rewards++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = consumer.Run(ctx) }()

	stream := <-source.streams
	stream <- shared.NewBroadcast(shared.MessageBehaviorEvent, "c1", map[string]any{"delta": -5})
	stream <- shared.NewBroadcast(shared.MessageRewardRedeemed, "c1", nil)
	stream <- shared.NewBroadcast(shared.MessageStudentUpdated, "c1", nil) // no handler, dropped

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(behavior) == 1 && rewards == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, shared.MessageBehaviorEvent, behavior[0].Type)
	mu.Unlock()
}

func TestConsumer_GiveUpWithoutFallback(t *testing.T) {
	connErr := errors.New("connect refused")
	source := newScriptedSource(connErr, connErr, connErr)

	consumer := NewConsumer(source, testLogger(),
		WithRetrier(deterministicRetrier()),
		WithMaxAttempts(3),
		withSleepFunc(func(context.Context, time.Duration) error { return nil }),
	)

	err := consumer.Run(context.Background())
	assert.ErrorIs(t, err, shared.ErrGiveUp)
	assert.Equal(t, StateStopped, consumer.State())
}

func TestConsumer_ErrorListenerSeesTransportErrors(t *testing.T) {
	connErr := errors.New("connect refused")
	source := newScriptedSource(connErr, nil)

	var (
		mu   sync.Mutex
		errs []error
	)
	consumer := NewConsumer(source, testLogger(),
		WithRetrier(deterministicRetrier()),
		WithMaxAttempts(10),
		WithErrorListener(func(err error) {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}),
		withSleepFunc(func(context.Context, time.Duration) error { return nil }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	// Failed connect first, then a healthy stream that we drop.
	var stream chan shared.BroadcastMessage
	select {
	case stream = <-source.streams:
	case <-time.After(time.Second):
		t.Fatal("consumer never reached the successful connect")
	}
	close(stream)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(errs) >= 2
	}, time.Second, 5*time.Millisecond, "both the connect failure and the dropped stream must be reported")

	mu.Lock()
	assert.ErrorIs(t, errs[0], connErr)
	assert.EqualError(t, errs[1], "stream closed")
	mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop on cancel")
	}
}

type fallbackSpy struct {
	ran chan struct{}
}

func (f *fallbackSpy) Run(ctx context.Context) error {
	close(f.ran)
	<-ctx.Done()
	return ctx.Err()
}

func TestConsumer_GiveUpSwitchesToFallback(t *testing.T) {
	connErr := errors.New("connect refused")
	source := newScriptedSource(connErr, connErr)

	var states []ConsumerState
	var mu sync.Mutex
	spy := &fallbackSpy{ran: make(chan struct{})}

	consumer := NewConsumer(source, testLogger(),
		WithRetrier(deterministicRetrier()),
		WithMaxAttempts(2),
		WithFallback(spy),
		withSleepFunc(func(context.Context, time.Duration) error { return nil }),
		WithStateListener(func(s ConsumerState) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	select {
	case <-spy.ran:
	case <-time.After(time.Second):
		t.Fatal("fallback never started")
	}

	mu.Lock()
	assert.Contains(t, states, StatePolling)
	mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop on cancel")
	}
}
