package realtime

import (
	"context"
	"time"

	"github.com/cubetribe/klassenbuch-server/internal/domain/shared"
	"github.com/cubetribe/klassenbuch-server/pkg/logger"
)

// DefaultPollInterval is the snapshot cadence of the polling fallback.
const DefaultPollInterval = 5 * time.Second

// StudentTile is one student's board state as seen by the polling fallback.
type StudentTile struct {
	StudentID string `json:"studentId"`
	XP        int    `json:"xp"`
	Level     int    `json:"level"`
	Color     string `json:"color"`
}

// SnapshotSource fetches the current board state for the poller's course.
type SnapshotSource interface {
	Snapshot(ctx context.Context) ([]StudentTile, error)
}

// Poller is the degraded mode behind the live stream: it fetches the board
// snapshot on an interval, diffs it against the previous one and synthesizes
// student-update messages for the same handlers the stream would feed.
// Implements Fallback.
type Poller struct {
	source   SnapshotSource
	courseID string
	interval time.Duration
	emit     MessageHandler
	log      *logger.Logger

	prev map[string]StudentTile
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithPollInterval overrides the snapshot cadence.
func WithPollInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// NewPoller creates a polling fallback that forwards synthesized messages
// to emit.
func NewPoller(source SnapshotSource, courseID string, emit MessageHandler, log *logger.Logger, opts ...PollerOption) *Poller {
	p := &Poller{
		source:   source,
		courseID: courseID,
		interval: DefaultPollInterval,
		emit:     emit,
		log:      log.With(logger.Component("board_poller")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls until ctx is canceled. Fetch errors are logged and skipped;
// the next tick tries again.
func (p *Poller) Run(ctx context.Context) error {
	// First snapshot immediately, so the board is fresh the moment the
	// fallback takes over.
	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	tiles, err := p.source.Snapshot(ctx)
	if err != nil {
		p.log.Warn("board snapshot fetch failed",
			logger.CourseID(p.courseID),
			logger.Err(err),
		)
		return
	}

	current := make(map[string]StudentTile, len(tiles))
	for _, tile := range tiles {
		current[tile.StudentID] = tile
	}

	// The very first snapshot only seeds the baseline; emitting updates
	// for every student on takeover would repaint the whole board.
	if p.prev == nil {
		p.prev = current
		return
	}

	for id, tile := range current {
		if old, ok := p.prev[id]; !ok || old != tile {
			p.emit(shared.NewBroadcast(shared.MessageStudentUpdated, p.courseID, tile))
		}
	}

	// Students gone from the snapshot (deactivated) get an explicit removal,
	// otherwise subscribers keep painting a stale tile.
	for id := range p.prev {
		if _, ok := current[id]; !ok {
			p.emit(shared.NewBroadcast(shared.MessageStudentRemoved, p.courseID, map[string]string{
				"studentId": id,
			}))
		}
	}
	p.prev = current
}
