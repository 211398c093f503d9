// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cubetribe/klassenbuch-server/internal/domain/behavior"
	"github.com/cubetribe/klassenbuch-server/internal/domain/course"
	"github.com/cubetribe/klassenbuch-server/internal/domain/shared"
	"github.com/cubetribe/klassenbuch-server/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// BOARD SNAPSHOT QUERY
// The full board state for one course: every active student's tile plus
// the most recent events. This is the polling fallback's data source and
// the initial render of the board page.
// ══════════════════════════════════════════════════════════════════════════════

// StudentTileView is one student on the board.
type StudentTileView struct {
	StudentID   string `json:"studentId"`
	DisplayName string `json:"displayName"`
	XP          int    `json:"xp"`
	Level       int    `json:"level"`
	Color       string `json:"color"`
}

// EventView is one recent event in the board's ticker.
type EventView struct {
	EventID   string    `json:"eventId"`
	StudentID string    `json:"studentId"`
	Kind      string    `json:"kind"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// BoardSnapshot is the complete course board state at one point in time.
type BoardSnapshot struct {
	CourseID     string            `json:"courseId"`
	CourseName   string            `json:"courseName"`
	Settings     course.Settings   `json:"settings"`
	Students     []StudentTileView `json:"students"`
	RecentEvents []EventView       `json:"recentEvents"`
	GeneratedAt  time.Time         `json:"generatedAt"`
}

// BoardCache caches snapshots between writes. A miss returns (nil, nil).
type BoardCache interface {
	Get(ctx context.Context, courseID string) (*BoardSnapshot, error)
	Set(ctx context.Context, courseID string, snapshot *BoardSnapshot) error
	Invalidate(ctx context.Context, courseID string) error
}

// GetBoardSnapshotQuery identifies the course.
type GetBoardSnapshotQuery struct {
	CourseID string

	// SkipCache forces a database read; the polling fallback uses it so
	// stale cache entries cannot mask recent writes.
	SkipCache bool
}

// GetBoardSnapshotHandler handles the GetBoardSnapshotQuery.
type GetBoardSnapshotHandler struct {
	students student.Repository
	courses  course.Repository
	events   behavior.EventRepository
	cache    BoardCache
}

// NewGetBoardSnapshotHandler creates a new GetBoardSnapshotHandler. cache
// may be nil; every read then goes to the database.
func NewGetBoardSnapshotHandler(
	students student.Repository,
	courses course.Repository,
	events behavior.EventRepository,
	cache BoardCache,
) *GetBoardSnapshotHandler {
	return &GetBoardSnapshotHandler{
		students: students,
		courses:  courses,
		events:   events,
		cache:    cache,
	}
}

// Handle builds the snapshot, serving from cache when possible. Cache
// failures fall through to the database; a read never fails because Redis
// is down.
func (h *GetBoardSnapshotHandler) Handle(ctx context.Context, q GetBoardSnapshotQuery) (*BoardSnapshot, error) {
	courseID, err := uuid.Parse(q.CourseID)
	if err != nil {
		return nil, shared.WrapError("query", "BoardSnapshot", shared.ErrInvalidID,
			"malformed course id", err)
	}

	if h.cache != nil && !q.SkipCache {
		if cached, err := h.cache.Get(ctx, q.CourseID); err == nil && cached != nil {
			return cached, nil
		}
	}

	crs, err := h.courses.GetByID(ctx, courseID)
	if err != nil {
		return nil, err
	}

	students, err := h.students.ListByCourse(ctx, courseID, true)
	if err != nil {
		return nil, fmt.Errorf("list course students: %w", err)
	}

	snapshot := &BoardSnapshot{
		CourseID:    crs.ID.String(),
		CourseName:  crs.Name,
		Settings:    crs.Settings,
		Students:    make([]StudentTileView, 0, len(students)),
		GeneratedAt: time.Now().UTC(),
	}
	for _, stu := range students {
		snapshot.Students = append(snapshot.Students, StudentTileView{
			StudentID:   stu.ID.String(),
			DisplayName: stu.DisplayName,
			XP:          stu.CurrentXP,
			Level:       stu.CurrentLevel,
			Color:       stu.CurrentColor.String(),
		})
	}

	if n := crs.Settings.BoardRecentEvents; n > 0 {
		events, err := h.events.ListByCourse(ctx, courseID, n)
		if err != nil {
			return nil, fmt.Errorf("list course events: %w", err)
		}
		snapshot.RecentEvents = make([]EventView, 0, len(events))
		for _, e := range events {
			snapshot.RecentEvents = append(snapshot.RecentEvents, EventView{
				EventID:   e.ID.String(),
				StudentID: e.StudentID.String(),
				Kind:      string(e.Kind()),
				Notes:     e.Notes,
				CreatedAt: e.CreatedAt,
			})
		}
	}

	if h.cache != nil {
		_ = h.cache.Set(ctx, q.CourseID, snapshot)
	}
	return snapshot, nil
}
