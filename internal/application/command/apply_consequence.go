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
// APPLY CONSEQUENCE COMMAND
// Applies a catalog consequence's XP penalty to a student. Unlike rewards,
// a penalty larger than the current XP is allowed and floors at zero.
// ══════════════════════════════════════════════════════════════════════════════

// ApplyConsequenceCommand contains one consequence application.
type ApplyConsequenceCommand struct {
	CourseID  string
	StudentID string

	// ConsequenceID references the external catalog entry.
	ConsequenceID string

	// PenaltyXP is the XP deducted. Must be positive.
	PenaltyXP int

	Notes  string
	Caller shared.Identity
}

// Validate validates the command.
func (c ApplyConsequenceCommand) Validate() error {
	if c.CourseID == "" {
		return fmt.Errorf("apply_consequence: course_id is required")
	}
	if c.StudentID == "" {
		return fmt.Errorf("apply_consequence: student_id is required")
	}
	if c.ConsequenceID == "" {
		return fmt.Errorf("apply_consequence: consequence_id is required")
	}
	if c.PenaltyXP <= 0 {
		return fmt.Errorf("apply_consequence: penalty must be positive, got %d", c.PenaltyXP)
	}
	if len(c.Notes) > maxNotesLength {
		return fmt.Errorf("apply_consequence: notes exceed %d characters", maxNotesLength)
	}
	return nil
}

// ApplyConsequenceResult contains the outcome.
type ApplyConsequenceResult struct {
	EventID      string
	Student      StudentStateView
	ColorChanged bool
	RecordedAt   time.Time
}

// ApplyConsequenceHandler handles the ApplyConsequenceCommand.
type ApplyConsequenceHandler struct {
	store     Store
	publisher shared.Publisher
	cache     BoardInvalidator
}

// NewApplyConsequenceHandler creates a new ApplyConsequenceHandler.
func NewApplyConsequenceHandler(store Store, publisher shared.Publisher, cache BoardInvalidator) *ApplyConsequenceHandler {
	return &ApplyConsequenceHandler{store: store, publisher: publisher, cache: cache}
}

// Handle executes the consequence.
func (h *ApplyConsequenceHandler) Handle(ctx context.Context, cmd ApplyConsequenceCommand) (*ApplyConsequenceResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("command", "ApplyConsequence", shared.ErrValidation,
			"invalid command", err)
	}

	var result *ApplyConsequenceResult
	err := h.store.WithinTx(ctx, func(repos Repos) error {
		crs, err := loadCourseForWrite(ctx, repos, cmd.CourseID, cmd.Caller)
		if err != nil {
			return err
		}
		stu, err := loadCourseStudent(ctx, repos, crs, cmd.StudentID)
		if err != nil {
			return err
		}

		tr := behavior.ApplyXPChange(stu.CurrentXP, -cmd.PenaltyXP, crs.Settings.Thresholds)
		stu.ApplyTransition(tr)

		event := behavior.NewEvent(stu.ID, crs.ID, cmd.Caller.UserID,
			behavior.ConsequenceAppliedPayload{
				ConsequenceID: cmd.ConsequenceID,
				PenaltyXP:     cmd.PenaltyXP,
				OldXP:         tr.OldXP,
				NewXP:         tr.NewXP,
				NewColor:      tr.NewColor,
			}, strings.TrimSpace(cmd.Notes))

		if err := repos.Students().UpdateState(ctx, stu); err != nil {
			return err
		}
		if err := repos.Events().Append(ctx, event); err != nil {
			return err
		}

		result = &ApplyConsequenceResult{
			EventID:      event.ID.String(),
			Student:      stateView(stu),
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
		shared.MessageConsequenceApplied, cmd.CourseID, BehaviorEventView{
			EventID:   result.EventID,
			Kind:      string(behavior.KindConsequenceApplied),
			Delta:     -cmd.PenaltyXP,
			Student:   result.Student,
			CreatedAt: result.RecordedAt,
		}))

	return result, nil
}
