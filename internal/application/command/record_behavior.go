package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cubetribe/klassenbuch-server/internal/domain/behavior"
	"github.com/cubetribe/klassenbuch-server/internal/domain/shared"
	"github.com/cubetribe/klassenbuch-server/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD BEHAVIOR COMMAND
// Applies an XP delta to one student, appends the behavior event and
// broadcasts the new board state. This is the classbook's central write.
// ══════════════════════════════════════════════════════════════════════════════

const maxNotesLength = 500

// maxAbsDelta bounds a single XP change; larger swings go through
// settings-level resets, not individual events.
const maxAbsDelta = 1000

// RecordBehaviorCommand contains the data for one XP change.
type RecordBehaviorCommand struct {
	// CourseID is the course the student belongs to.
	CourseID string

	// StudentID is the affected student.
	StudentID string

	// Delta is the XP change, positive or negative. Zero is rejected.
	Delta int

	// Notes is an optional teacher note stored on the event.
	Notes string

	// Caller is the validated identity of the acting user.
	Caller shared.Identity
}

// Validate validates the command.
func (c RecordBehaviorCommand) Validate() error {
	if c.CourseID == "" {
		return fmt.Errorf("record_behavior: course_id is required")
	}
	if c.StudentID == "" {
		return fmt.Errorf("record_behavior: student_id is required")
	}
	if c.Delta == 0 {
		return fmt.Errorf("record_behavior: delta must be non-zero")
	}
	if c.Delta > maxAbsDelta || c.Delta < -maxAbsDelta {
		return fmt.Errorf("record_behavior: delta out of range: %d", c.Delta)
	}
	if len(c.Notes) > maxNotesLength {
		return fmt.Errorf("record_behavior: notes exceed %d characters", maxNotesLength)
	}
	return nil
}

// StudentStateView is the student board state carried in results and
// broadcast payloads.
type StudentStateView struct {
	StudentID   string `json:"studentId"`
	DisplayName string `json:"displayName"`
	XP          int    `json:"xp"`
	Level       int    `json:"level"`
	Color       string `json:"color"`
}

func stateView(s *student.Student) StudentStateView {
	return StudentStateView{
		StudentID:   s.ID.String(),
		DisplayName: s.DisplayName,
		XP:          s.CurrentXP,
		Level:       s.CurrentLevel,
		Color:       s.CurrentColor.String(),
	}
}

// BehaviorEventView is the broadcast payload for a recorded event.
type BehaviorEventView struct {
	EventID   string           `json:"eventId"`
	Kind      string           `json:"kind"`
	Delta     int              `json:"delta,omitempty"`
	Student   StudentStateView `json:"student"`
	CreatedAt time.Time        `json:"createdAt"`
}

// RecordBehaviorResult contains the outcome of the write.
type RecordBehaviorResult struct {
	EventID      string
	Student      StudentStateView
	LevelChanged bool
	ColorChanged bool
	RecordedAt   time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RecordBehaviorHandler handles the RecordBehaviorCommand.
type RecordBehaviorHandler struct {
	store     Store
	publisher shared.Publisher
	cache     BoardInvalidator
}

// NewRecordBehaviorHandler creates a new RecordBehaviorHandler.
func NewRecordBehaviorHandler(store Store, publisher shared.Publisher, cache BoardInvalidator) *RecordBehaviorHandler {
	return &RecordBehaviorHandler{
		store:     store,
		publisher: publisher,
		cache:     cache,
	}
}

// Handle executes the command. The transition and both writes (state and
// event) commit in one transaction; the broadcast goes out afterwards.
func (h *RecordBehaviorHandler) Handle(ctx context.Context, cmd RecordBehaviorCommand) (*RecordBehaviorResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("command", "RecordBehavior", shared.ErrValidation,
			"invalid command", err)
	}

	var (
		result *RecordBehaviorResult
		event  *behavior.Event
	)
	err := h.store.WithinTx(ctx, func(repos Repos) error {
		crs, err := loadCourseForWrite(ctx, repos, cmd.CourseID, cmd.Caller)
		if err != nil {
			return err
		}
		stu, err := loadCourseStudent(ctx, repos, crs, cmd.StudentID)
		if err != nil {
			return err
		}

		tr := behavior.ApplyXPChange(stu.CurrentXP, cmd.Delta, crs.Settings.Thresholds)
		stu.ApplyTransition(tr)

		event = behavior.NewEvent(stu.ID, crs.ID, cmd.Caller.UserID, behavior.XPChangePayload{
			Delta:    cmd.Delta,
			OldXP:    tr.OldXP,
			NewXP:    tr.NewXP,
			OldLevel: tr.OldLevel,
			NewLevel: tr.NewLevel,
			OldColor: tr.OldColor,
			NewColor: tr.NewColor,
		}, strings.TrimSpace(cmd.Notes))

		if err := repos.Students().UpdateState(ctx, stu); err != nil {
			return err
		}
		if err := repos.Events().Append(ctx, event); err != nil {
			return err
		}

		result = &RecordBehaviorResult{
			EventID:      event.ID.String(),
			Student:      stateView(stu),
			LevelChanged: tr.LevelChanged,
			ColorChanged: tr.ColorChanged,
			RecordedAt:   event.CreatedAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	invalidateBoard(ctx, h.cache, cmd.CourseID)
	publishAfterCommit(ctx, h.publisher, shared.NewBroadcast(
		shared.MessageBehaviorEvent, cmd.CourseID, BehaviorEventView{
			EventID:   result.EventID,
			Kind:      string(behavior.KindXPChange),
			Delta:     cmd.Delta,
			Student:   result.Student,
			CreatedAt: result.RecordedAt,
		}))

	return result, nil
}
