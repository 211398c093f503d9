package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubetribe/klassenbuch-server/internal/domain/shared"
)

type fakeSnapshotSource struct {
	mu        sync.Mutex
	snapshots [][]StudentTile
	errs      []error
	calls     int
}

func (f *fakeSnapshotSource) Snapshot(context.Context) ([]StudentTile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := f.calls
	f.calls++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	if idx >= len(f.snapshots) {
		return f.snapshots[len(f.snapshots)-1], nil
	}
	return f.snapshots[idx], nil
}

func TestPoller_EmitsOnlyChangedStudents(t *testing.T) {
	courseID := uuid.New().String()
	sA := StudentTile{StudentID: "a", XP: 50, Level: 0, Color: "GREEN"}
	sB := StudentTile{StudentID: "b", XP: 80, Level: 0, Color: "BLUE"}
	sAChanged := StudentTile{StudentID: "a", XP: 40, Level: 0, Color: "YELLOW"}

	source := &fakeSnapshotSource{
		snapshots: [][]StudentTile{
			{sA, sB},        // baseline
			{sAChanged, sB}, // only a changed
		},
	}

	var (
		mu   sync.Mutex
		msgs []shared.BroadcastMessage
	)
	poller := NewPoller(source, courseID, func(msg shared.BroadcastMessage) {
		mu.Lock()
		msgs = append(msgs, msg)
		mu.Unlock()
	}, testLogger(), WithPollInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = poller.Run(ctx) }()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(msgs) >= 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, msgs)
	first := msgs[0]
	assert.Equal(t, shared.MessageStudentUpdated, first.Type)
	assert.Equal(t, courseID, first.CourseID)

	tile, ok := first.Data.(StudentTile)
	require.True(t, ok)
	assert.Equal(t, "a", tile.StudentID)
	assert.Equal(t, 40, tile.XP)
}

func TestPoller_BaselineSnapshotEmitsNothing(t *testing.T) {
	source := &fakeSnapshotSource{
		snapshots: [][]StudentTile{
			{{StudentID: "a", XP: 50, Color: "GREEN"}},
		},
	}

	var count int
	var mu sync.Mutex
	poller := NewPoller(source, uuid.New().String(), func(shared.BroadcastMessage) {
		mu.Lock()
		count++
		mu.Unlock()
	}, testLogger(), WithPollInterval(10*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = poller.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, count, "identical snapshots must not emit updates")
}

func TestPoller_DeactivatedStudentEmitsRemoval(t *testing.T) {
	courseID := uuid.New().String()
	sA := StudentTile{StudentID: "a", XP: 50, Color: "GREEN"}
	sB := StudentTile{StudentID: "b", XP: 80, Color: "BLUE"}

	source := &fakeSnapshotSource{
		snapshots: [][]StudentTile{
			{sA, sB}, // baseline
			{sA},     // b deactivated
		},
	}

	var (
		mu   sync.Mutex
		msgs []shared.BroadcastMessage
	)
	poller := NewPoller(source, courseID, func(msg shared.BroadcastMessage) {
		mu.Lock()
		msgs = append(msgs, msg)
		mu.Unlock()
	}, testLogger(), WithPollInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = poller.Run(ctx) }()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(msgs) >= 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, msgs, 1, "a vanished student must produce exactly one removal")
	removal := msgs[0]
	assert.Equal(t, shared.MessageStudentRemoved, removal.Type)
	assert.Equal(t, courseID, removal.CourseID)

	data, ok := removal.Data.(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "b", data["studentId"])
}

func TestPoller_FetchErrorSkipsTick(t *testing.T) {
	sA := StudentTile{StudentID: "a", XP: 50, Color: "GREEN"}
	sAChanged := StudentTile{StudentID: "a", XP: 60, Color: "GREEN"}

	source := &fakeSnapshotSource{
		snapshots: [][]StudentTile{{sA}, nil, {sAChanged}},
		errs:      []error{nil, errors.New("db down"), nil},
	}

	var (
		mu   sync.Mutex
		msgs []shared.BroadcastMessage
	)
	poller := NewPoller(source, uuid.New().String(), func(msg shared.BroadcastMessage) {
		mu.Lock()
		msgs = append(msgs, msg)
		mu.Unlock()
	}, testLogger(), WithPollInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = poller.Run(ctx) }()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(msgs) == 1
	}, time.Second, 5*time.Millisecond, "the change after the failed tick must still be detected")
}
