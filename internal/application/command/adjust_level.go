package command

import (
	"context"
	"fmt"
	"time"

	"github.com/cubetribe/klassenbuch-server/internal/domain/behavior"
	"github.com/cubetribe/klassenbuch-server/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADJUST LEVEL COMMAND
// Applies a direct level delta, bypassing the XP thresholds. Clamped to
// the course's level range; XP and color are untouched.
// ══════════════════════════════════════════════════════════════════════════════

// AdjustLevelCommand contains one manual level change.
type AdjustLevelCommand struct {
	CourseID  string
	StudentID string

	// Delta is the level change, positive or negative. Zero is rejected.
	Delta int

	Caller shared.Identity
}

// Validate validates the command.
func (c AdjustLevelCommand) Validate() error {
	if c.CourseID == "" {
		return fmt.Errorf("adjust_level: course_id is required")
	}
	if c.StudentID == "" {
		return fmt.Errorf("adjust_level: student_id is required")
	}
	if c.Delta == 0 {
		return fmt.Errorf("adjust_level: delta must be non-zero")
	}
	return nil
}

// AdjustLevelResult contains the outcome.
type AdjustLevelResult struct {
	EventID    string
	Student    StudentStateView
	RecordedAt time.Time
}

// AdjustLevelHandler handles the AdjustLevelCommand.
type AdjustLevelHandler struct {
	store     Store
	publisher shared.Publisher
	cache     BoardInvalidator
}

// NewAdjustLevelHandler creates a new AdjustLevelHandler.
func NewAdjustLevelHandler(store Store, publisher shared.Publisher, cache BoardInvalidator) *AdjustLevelHandler {
	return &AdjustLevelHandler{store: store, publisher: publisher, cache: cache}
}

// Handle executes the adjustment. Courses with levels disabled reject it.
func (h *AdjustLevelHandler) Handle(ctx context.Context, cmd AdjustLevelCommand) (*AdjustLevelResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("command", "AdjustLevel", shared.ErrValidation,
			"invalid command", err)
	}

	var result *AdjustLevelResult
	err := h.store.WithinTx(ctx, func(repos Repos) error {
		crs, err := loadCourseForWrite(ctx, repos, cmd.CourseID, cmd.Caller)
		if err != nil {
			return err
		}
		if !crs.Settings.Thresholds.EnableLevels {
			return shared.NewDomainError("command", "AdjustLevel", shared.ErrInvalidState,
				"course has levels disabled")
		}
		stu, err := loadCourseStudent(ctx, repos, crs, cmd.StudentID)
		if err != nil {
			return err
		}

		tr := behavior.AdjustLevel(stu.CurrentXP, stu.CurrentLevel, cmd.Delta,
			crs.Settings.Thresholds.MaxLevel, stu.CurrentColor)
		stu.ApplyTransition(tr)

		event := behavior.NewEvent(stu.ID, crs.ID, cmd.Caller.UserID,
			behavior.LevelChangePayload{
				Delta:    cmd.Delta,
				OldLevel: tr.OldLevel,
				NewLevel: tr.NewLevel,
			}, "")

		if err := repos.Students().UpdateState(ctx, stu); err != nil {
			return err
		}
		if err := repos.Events().Append(ctx, event); err != nil {
			return err
		}

		result = &AdjustLevelResult{
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
			Kind:      string(behavior.KindLevelChange),
			Delta:     cmd.Delta,
			Student:   result.Student,
			CreatedAt: result.RecordedAt,
		}))

	return result, nil
}
