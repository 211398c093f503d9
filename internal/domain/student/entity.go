// Package student contains the student aggregate: the per-student behavior
// state (XP, level, color) shown on the classroom board. State is mutated
// exclusively through behavior engine transitions, inside a persistence
// transaction; students are soft-deactivated, never deleted.
package student

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cubetribe/klassenbuch-server/internal/domain/behavior"
	"github.com/cubetribe/klassenbuch-server/internal/domain/shared"
)

// Student is one class member and their current board state.
type Student struct {
	ID          uuid.UUID
	CourseID    uuid.UUID
	DisplayName string

	CurrentXP    int
	CurrentLevel int
	CurrentColor behavior.Color

	// Active is the soft-delete flag; deactivated students keep their
	// history but disappear from the board.
	Active bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// New creates a student with the starting state derived from the course's
// threshold configuration.
func New(courseID uuid.UUID, displayName string, cfg behavior.ThresholdConfig) (*Student, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, shared.NewDomainError("student", "Create", shared.ErrEmptyValue,
			"display name is required")
	}

	now := time.Now().UTC()
	s := &Student{
		ID:           uuid.New(),
		CourseID:     courseID,
		DisplayName:  displayName,
		CurrentXP:    cfg.StartXP,
		CurrentColor: behavior.ComputeColor(cfg.StartXP, cfg.ColorBands),
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if cfg.EnableLevels {
		s.CurrentLevel = behavior.ComputeLevel(cfg.StartXP, cfg.LevelThreshold, cfg.MaxLevel)
	}
	return s, nil
}

// ApplyTransition moves the student to the transition's resulting state.
func (s *Student) ApplyTransition(t behavior.Transition) {
	s.CurrentXP = t.NewXP
	s.CurrentLevel = t.NewLevel
	s.CurrentColor = t.NewColor
	s.UpdatedAt = time.Now().UTC()
}

// Reset restores the starting state for the course's configuration.
// Used by the daily/weekly reset job.
func (s *Student) Reset(cfg behavior.ThresholdConfig) {
	s.CurrentXP = cfg.StartXP
	s.CurrentColor = behavior.ComputeColor(cfg.StartXP, cfg.ColorBands)
	if cfg.EnableLevels {
		s.CurrentLevel = behavior.ComputeLevel(cfg.StartXP, cfg.LevelThreshold, cfg.MaxLevel)
	} else {
		s.CurrentLevel = 0
	}
	s.UpdatedAt = time.Now().UTC()
}

// Deactivate soft-deletes the student.
func (s *Student) Deactivate() {
	s.Active = false
	s.UpdatedAt = time.Now().UTC()
}

// Reactivate restores a deactivated student.
func (s *Student) Reactivate() {
	s.Active = true
	s.UpdatedAt = time.Now().UTC()
}
