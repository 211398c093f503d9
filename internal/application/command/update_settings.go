package command

import (
	"context"
	"fmt"
	"time"

	"github.com/cubetribe/klassenbuch-server/internal/domain/course"
	"github.com/cubetribe/klassenbuch-server/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE COURSE SETTINGS COMMAND
// Replaces a course's behavior configuration. Validation happens here, at
// save time; the engine never sees an invalid configuration.
// ══════════════════════════════════════════════════════════════════════════════

// UpdateCourseSettingsCommand contains the new settings document.
type UpdateCourseSettingsCommand struct {
	CourseID string
	Settings course.Settings
	Caller   shared.Identity
}

// Validate validates the command.
func (c UpdateCourseSettingsCommand) Validate() error {
	if c.CourseID == "" {
		return fmt.Errorf("update_settings: course_id is required")
	}
	return c.Settings.Validate()
}

// UpdateCourseSettingsResult contains the outcome.
type UpdateCourseSettingsResult struct {
	CourseID  string
	Settings  course.Settings
	UpdatedAt time.Time
}

// UpdateCourseSettingsHandler handles the UpdateCourseSettingsCommand.
type UpdateCourseSettingsHandler struct {
	store     Store
	publisher shared.Publisher
	cache     BoardInvalidator
}

// NewUpdateCourseSettingsHandler creates a new UpdateCourseSettingsHandler.
func NewUpdateCourseSettingsHandler(store Store, publisher shared.Publisher, cache BoardInvalidator) *UpdateCourseSettingsHandler {
	return &UpdateCourseSettingsHandler{store: store, publisher: publisher, cache: cache}
}

// Handle replaces the settings. Existing student states are not recomputed
// retroactively; the new thresholds apply from the next transition on.
func (h *UpdateCourseSettingsHandler) Handle(ctx context.Context, cmd UpdateCourseSettingsCommand) (*UpdateCourseSettingsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("command", "UpdateSettings", shared.ErrValidation,
			"invalid command", err)
	}

	var result *UpdateCourseSettingsResult
	err := h.store.WithinTx(ctx, func(repos Repos) error {
		crs, err := loadCourseForWrite(ctx, repos, cmd.CourseID, cmd.Caller)
		if err != nil {
			return err
		}

		if err := crs.UpdateSettings(cmd.Settings); err != nil {
			return err
		}
		if err := repos.Courses().UpdateSettings(ctx, crs); err != nil {
			return err
		}

		result = &UpdateCourseSettingsResult{
			CourseID:  crs.ID.String(),
			Settings:  crs.Settings,
			UpdatedAt: crs.UpdatedAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	invalidateBoard(ctx, h.cache, cmd.CourseID)
	publishAfterCommit(ctx, h.publisher, shared.NewBroadcast(
		shared.MessageGeneric, cmd.CourseID, map[string]any{
			"event":    "settings_updated",
			"courseId": cmd.CourseID,
		}))

	return result, nil
}
