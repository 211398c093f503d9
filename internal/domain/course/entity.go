// Package course contains the course aggregate: a class with its teacher,
// its students and the behavior configuration (thresholds, color bands,
// reset policy) the behavior engine runs against.
package course

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cubetribe/klassenbuch-server/internal/domain/behavior"
	"github.com/cubetribe/klassenbuch-server/internal/domain/shared"
)

// ResetPolicy controls when a course's student states snap back to the
// configured starting XP.
type ResetPolicy string

const (
	ResetNone   ResetPolicy = "none"
	ResetDaily  ResetPolicy = "daily"
	ResetWeekly ResetPolicy = "weekly"
)

func (p ResetPolicy) Valid() bool {
	switch p {
	case ResetNone, ResetDaily, ResetWeekly:
		return true
	}
	return false
}

// Settings is the per-course behavior configuration. It is stored as a
// single JSONB document and versioned through UpdatedAt on the course row.
type Settings struct {
	Thresholds  behavior.ThresholdConfig `json:"thresholds"`
	ResetPolicy ResetPolicy              `json:"resetPolicy"`

	// BoardRecentEvents is how many recent events the board snapshot
	// carries alongside the student tiles.
	BoardRecentEvents int `json:"boardRecentEvents"`
}

// DefaultSettings returns the configuration new courses start with.
func DefaultSettings() Settings {
	return Settings{
		Thresholds:        behavior.DefaultThresholds(),
		ResetPolicy:       ResetNone,
		BoardRecentEvents: 20,
	}
}

// Validate checks the settings document, including the embedded threshold
// configuration.
func (s Settings) Validate() error {
	if err := s.Thresholds.Validate(); err != nil {
		return err
	}
	if !s.ResetPolicy.Valid() {
		return shared.NewDomainError("course", "Validate", shared.ErrValidation,
			"unknown reset policy: "+string(s.ResetPolicy))
	}
	if s.BoardRecentEvents < 0 || s.BoardRecentEvents > 200 {
		return shared.NewDomainError("course", "Validate", shared.ErrValueOutOfRange,
			"boardRecentEvents must be between 0 and 200")
	}
	return nil
}

// Course is one class.
type Course struct {
	ID      uuid.UUID
	Name    string
	Subject string

	// OwnerID is the teacher who created the course and may change its
	// settings and apply behavior actions.
	OwnerID uuid.UUID

	Settings Settings
	Archived bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// New creates a course with default settings.
func New(name, subject string, ownerID uuid.UUID) (*Course, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, shared.NewDomainError("course", "Create", shared.ErrEmptyValue,
			"course name is required")
	}

	now := time.Now().UTC()
	return &Course{
		ID:        uuid.New(),
		Name:      name,
		Subject:   strings.TrimSpace(subject),
		OwnerID:   ownerID,
		Settings:  DefaultSettings(),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// OwnedBy reports whether userID is the course teacher.
func (c *Course) OwnedBy(userID uuid.UUID) bool {
	return c.OwnerID == userID
}

// UpdateSettings validates and replaces the settings document.
func (c *Course) UpdateSettings(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	c.Settings = s
	c.UpdatedAt = time.Now().UTC()
	return nil
}
