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
// QUICK ACTION COMMAND
// Applies one XP delta to several students at once (whole class praise,
// group penalty). All students commit together or not at all.
// ══════════════════════════════════════════════════════════════════════════════

const maxQuickActionStudents = 50

// ApplyQuickActionCommand contains the batch XP change.
type ApplyQuickActionCommand struct {
	CourseID   string
	StudentIDs []string
	Delta      int
	Notes      string
	Caller     shared.Identity
}

// Validate validates the command.
func (c ApplyQuickActionCommand) Validate() error {
	if c.CourseID == "" {
		return fmt.Errorf("quick_action: course_id is required")
	}
	if len(c.StudentIDs) == 0 {
		return shared.ErrEmptyBatch
	}
	if len(c.StudentIDs) > maxQuickActionStudents {
		return fmt.Errorf("quick_action: at most %d students per action", maxQuickActionStudents)
	}
	if c.Delta == 0 {
		return fmt.Errorf("quick_action: delta must be non-zero")
	}
	if c.Delta > maxAbsDelta || c.Delta < -maxAbsDelta {
		return fmt.Errorf("quick_action: delta out of range: %d", c.Delta)
	}
	if len(c.Notes) > maxNotesLength {
		return fmt.Errorf("quick_action: notes exceed %d characters", maxNotesLength)
	}
	return nil
}

// ApplyQuickActionResult contains the per-student outcomes.
type ApplyQuickActionResult struct {
	Students   []StudentStateView
	RecordedAt time.Time
}

// ApplyQuickActionHandler handles the ApplyQuickActionCommand.
type ApplyQuickActionHandler struct {
	store     Store
	publisher shared.Publisher
	cache     BoardInvalidator
}

// NewApplyQuickActionHandler creates a new ApplyQuickActionHandler.
func NewApplyQuickActionHandler(store Store, publisher shared.Publisher, cache BoardInvalidator) *ApplyQuickActionHandler {
	return &ApplyQuickActionHandler{store: store, publisher: publisher, cache: cache}
}

// Handle executes the batch. One failed student (unknown, inactive, wrong
// course) rolls the whole batch back.
func (h *ApplyQuickActionHandler) Handle(ctx context.Context, cmd ApplyQuickActionCommand) (*ApplyQuickActionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("command", "QuickAction", shared.ErrValidation,
			"invalid command", err)
	}

	var (
		result *ApplyQuickActionResult
		events []*behavior.Event
	)
	err := h.store.WithinTx(ctx, func(repos Repos) error {
		crs, err := loadCourseForWrite(ctx, repos, cmd.CourseID, cmd.Caller)
		if err != nil {
			return err
		}

		notes := strings.TrimSpace(cmd.Notes)
		views := make([]StudentStateView, 0, len(cmd.StudentIDs))
		events = events[:0]

		for _, rawID := range cmd.StudentIDs {
			stu, err := loadCourseStudent(ctx, repos, crs, rawID)
			if err != nil {
				return err
			}

			tr := behavior.ApplyXPChange(stu.CurrentXP, cmd.Delta, crs.Settings.Thresholds)
			stu.ApplyTransition(tr)

			events = append(events, behavior.NewEvent(stu.ID, crs.ID, cmd.Caller.UserID,
				behavior.XPChangePayload{
					Delta:    cmd.Delta,
					OldXP:    tr.OldXP,
					NewXP:    tr.NewXP,
					OldLevel: tr.OldLevel,
					NewLevel: tr.NewLevel,
					OldColor: tr.OldColor,
					NewColor: tr.NewColor,
				}, notes))

			if err := repos.Students().UpdateState(ctx, stu); err != nil {
				return err
			}
			views = append(views, stateView(stu))
		}

		if err := repos.Events().AppendBatch(ctx, events); err != nil {
			return err
		}

		result = &ApplyQuickActionResult{
			Students:   views,
			RecordedAt: time.Now().UTC(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	invalidateBoard(ctx, h.cache, cmd.CourseID)
	for i, view := range result.Students {
		publishAfterCommit(ctx, h.publisher, shared.NewBroadcast(
			shared.MessageBehaviorEvent, cmd.CourseID, BehaviorEventView{
				EventID:   events[i].ID.String(),
				Kind:      string(behavior.KindXPChange),
				Delta:     cmd.Delta,
				Student:   view,
				CreatedAt: events[i].CreatedAt,
			}))
	}

	return result, nil
}
