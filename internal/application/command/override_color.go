package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cubetribe/klassenbuch-server/internal/domain/behavior"
	"github.com/cubetribe/klassenbuch-server/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// OVERRIDE COLOR COMMAND
// Sets a student's color directly, bypassing the XP thresholds. The
// resulting color may diverge from the XP-derived one until the next XP
// change recomputes it.
// ══════════════════════════════════════════════════════════════════════════════

// OverrideColorCommand contains one manual color change.
type OverrideColorCommand struct {
	CourseID  string
	StudentID string

	// Color is the target color's wire value.
	Color string

	Notes  string
	Caller shared.Identity
}

// Validate validates the command.
func (c OverrideColorCommand) Validate() error {
	if c.CourseID == "" {
		return fmt.Errorf("override_color: course_id is required")
	}
	if c.StudentID == "" {
		return fmt.Errorf("override_color: student_id is required")
	}
	if _, err := behavior.ParseColor(c.Color); err != nil {
		return fmt.Errorf("override_color: %w", err)
	}
	if len(c.Notes) > maxNotesLength {
		return fmt.Errorf("override_color: notes exceed %d characters", maxNotesLength)
	}
	return nil
}

// OverrideColorResult contains the outcome.
type OverrideColorResult struct {
	EventID    string
	Student    StudentStateView
	RecordedAt time.Time
}

// OverrideColorHandler handles the OverrideColorCommand.
type OverrideColorHandler struct {
	store     Store
	publisher shared.Publisher
	cache     BoardInvalidator
}

// NewOverrideColorHandler creates a new OverrideColorHandler.
func NewOverrideColorHandler(store Store, publisher shared.Publisher, cache BoardInvalidator) *OverrideColorHandler {
	return &OverrideColorHandler{store: store, publisher: publisher, cache: cache}
}

// Handle executes the override.
func (h *OverrideColorHandler) Handle(ctx context.Context, cmd OverrideColorCommand) (*OverrideColorResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("command", "OverrideColor", shared.ErrValidation,
			"invalid command", err)
	}
	target, _ := behavior.ParseColor(cmd.Color)

	var result *OverrideColorResult
	err := h.store.WithinTx(ctx, func(repos Repos) error {
		crs, err := loadCourseForWrite(ctx, repos, cmd.CourseID, cmd.Caller)
		if err != nil {
			return err
		}
		stu, err := loadCourseStudent(ctx, repos, crs, cmd.StudentID)
		if err != nil {
			return err
		}

		tr := behavior.OverrideColor(stu.CurrentXP, stu.CurrentLevel, stu.CurrentColor, target)
		stu.ApplyTransition(tr)

		event := behavior.NewEvent(stu.ID, crs.ID, cmd.Caller.UserID,
			behavior.ColorChangePayload{
				OldColor: tr.OldColor,
				NewColor: tr.NewColor,
				Manual:   true,
			}, strings.TrimSpace(cmd.Notes))

		if err := repos.Students().UpdateState(ctx, stu); err != nil {
			return err
		}
		if err := repos.Events().Append(ctx, event); err != nil {
			return err
		}

		result = &OverrideColorResult{
			EventID:    event.ID.String(),
			Student:    stateView(stu),
			RecordedAt: event.CreatedAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	invalidateBoard(ctx, h.cache, cmd.CourseID)
	publishAfterCommit(ctx, h.publisher, shared.NewBroadcast(
		shared.MessageStudentUpdated, cmd.CourseID, BehaviorEventView{
			EventID:   result.EventID,
			Kind:      string(behavior.KindColorChange),
			Student:   result.Student,
			CreatedAt: result.RecordedAt,
		}))

	return result, nil
}
