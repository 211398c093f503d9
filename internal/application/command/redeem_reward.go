package command

import (
	"context"
	"fmt"
	"time"

	"github.com/cubetribe/klassenbuch-server/internal/domain/behavior"
	"github.com/cubetribe/klassenbuch-server/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REDEEM REWARD COMMAND
// Deducts a reward's XP cost from a student. The reward catalog itself is
// an external collaborator; this command receives the already-resolved
// reward id and cost.
// ══════════════════════════════════════════════════════════════════════════════

// RedeemRewardCommand contains one reward redemption.
type RedeemRewardCommand struct {
	CourseID  string
	StudentID string

	// RewardID references the external catalog entry.
	RewardID string

	// CostXP is the reward's price. Must be positive.
	CostXP int

	Caller shared.Identity
}

// Validate validates the command.
func (c RedeemRewardCommand) Validate() error {
	if c.CourseID == "" {
		return fmt.Errorf("redeem_reward: course_id is required")
	}
	if c.StudentID == "" {
		return fmt.Errorf("redeem_reward: student_id is required")
	}
	if c.RewardID == "" {
		return fmt.Errorf("redeem_reward: reward_id is required")
	}
	if c.CostXP <= 0 {
		return fmt.Errorf("redeem_reward: cost must be positive, got %d", c.CostXP)
	}
	return nil
}

// RedeemRewardResult contains the outcome.
type RedeemRewardResult struct {
	EventID    string
	Student    StudentStateView
	RecordedAt time.Time
}

// RedeemRewardHandler handles the RedeemRewardCommand.
type RedeemRewardHandler struct {
	store     Store
	publisher shared.Publisher
	cache     BoardInvalidator
}

// NewRedeemRewardHandler creates a new RedeemRewardHandler.
func NewRedeemRewardHandler(store Store, publisher shared.Publisher, cache BoardInvalidator) *RedeemRewardHandler {
	return &RedeemRewardHandler{store: store, publisher: publisher, cache: cache}
}

// Handle executes the redemption. A cost above the student's current XP is
// rejected; redemptions never push XP below zero.
func (h *RedeemRewardHandler) Handle(ctx context.Context, cmd RedeemRewardCommand) (*RedeemRewardResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("command", "RedeemReward", shared.ErrValidation,
			"invalid command", err)
	}

	var result *RedeemRewardResult
	err := h.store.WithinTx(ctx, func(repos Repos) error {
		crs, err := loadCourseForWrite(ctx, repos, cmd.CourseID, cmd.Caller)
		if err != nil {
			return err
		}
		stu, err := loadCourseStudent(ctx, repos, crs, cmd.StudentID)
		if err != nil {
			return err
		}

		if cmd.CostXP > stu.CurrentXP {
			return shared.ErrRewardTooLarge
		}

		tr := behavior.ApplyXPChange(stu.CurrentXP, -cmd.CostXP, crs.Settings.Thresholds)
		stu.ApplyTransition(tr)

		event := behavior.NewEvent(stu.ID, crs.ID, cmd.Caller.UserID,
			behavior.RewardRedeemedPayload{
				RewardID: cmd.RewardID,
				CostXP:   cmd.CostXP,
				OldXP:    tr.OldXP,
				NewXP:    tr.NewXP,
			}, "")

		if err := repos.Students().UpdateState(ctx, stu); err != nil {
			return err
		}
		if err := repos.Events().Append(ctx, event); err != nil {
			return err
		}

		result = &RedeemRewardResult{
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
		shared.MessageRewardRedeemed, cmd.CourseID, BehaviorEventView{
			EventID:   result.EventID,
			Kind:      string(behavior.KindRewardRedeemed),
			Delta:     -cmd.CostXP,
			Student:   result.Student,
			CreatedAt: result.RecordedAt,
		}))

	return result, nil
}
