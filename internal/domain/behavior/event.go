package behavior

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/cubetribe/klassenbuch-server/internal/domain/shared"
)

// EventKind discriminates behavior event payloads. Each kind carries its own
// payload struct so the write path is checked at compile time instead of
// probing optional fields.
type EventKind string

const (
	KindXPChange           EventKind = "xp_change"
	KindColorChange        EventKind = "color_change"
	KindLevelChange        EventKind = "level_change"
	KindRewardRedeemed     EventKind = "reward_redeemed"
	KindConsequenceApplied EventKind = "consequence_applied"
	KindNote               EventKind = "note"
)

// Valid reports whether the kind is known.
func (k EventKind) Valid() bool {
	switch k {
	case KindXPChange, KindColorChange, KindLevelChange,
		KindRewardRedeemed, KindConsequenceApplied, KindNote:
		return true
	}
	return false
}

// Payload is the closed set of behavior event payloads.
type Payload interface {
	Kind() EventKind
}

// XPChangePayload records a threshold-derived XP transition.
type XPChangePayload struct {
	Delta    int   `json:"delta"`
	OldXP    int   `json:"oldXP"`
	NewXP    int   `json:"newXP"`
	OldLevel int   `json:"oldLevel"`
	NewLevel int   `json:"newLevel"`
	OldColor Color `json:"oldColor"`
	NewColor Color `json:"newColor"`
}

func (XPChangePayload) Kind() EventKind { return KindXPChange }

// ColorChangePayload records a color change; Manual marks the override path
// where the new color may diverge from the XP-derived one.
type ColorChangePayload struct {
	OldColor Color `json:"oldColor"`
	NewColor Color `json:"newColor"`
	Manual   bool  `json:"manual"`
}

func (ColorChangePayload) Kind() EventKind { return KindColorChange }

// LevelChangePayload records a direct level adjustment.
type LevelChangePayload struct {
	Delta    int `json:"delta"`
	OldLevel int `json:"oldLevel"`
	NewLevel int `json:"newLevel"`
}

func (LevelChangePayload) Kind() EventKind { return KindLevelChange }

// RewardRedeemedPayload records an XP deduction for a catalog reward.
// The reward itself is an external entity referenced by id.
type RewardRedeemedPayload struct {
	RewardID string `json:"rewardId"`
	CostXP   int    `json:"costXP"`
	OldXP    int    `json:"oldXP"`
	NewXP    int    `json:"newXP"`
}

func (RewardRedeemedPayload) Kind() EventKind { return KindRewardRedeemed }

// ConsequenceAppliedPayload records an XP penalty for a catalog consequence.
type ConsequenceAppliedPayload struct {
	ConsequenceID string `json:"consequenceId"`
	PenaltyXP     int    `json:"penaltyXP"`
	OldXP         int    `json:"oldXP"`
	NewXP         int    `json:"newXP"`
	NewColor      Color  `json:"newColor"`
}

func (ConsequenceAppliedPayload) Kind() EventKind { return KindConsequenceApplied }

// NotePayload is a free-form teacher note with no state change.
type NotePayload struct {
	Text string `json:"text"`
}

func (NotePayload) Kind() EventKind { return KindNote }

// Event is one append-only record in a student's behavior log. Events are
// written once as a side effect of a state transition and never mutated or
// deleted afterwards.
type Event struct {
	ID        uuid.UUID
	StudentID uuid.UUID
	CourseID  uuid.UUID
	Payload   Payload
	Notes     string
	CreatedBy uuid.UUID
	CreatedAt time.Time
}

// NewEvent creates an event stamped with a fresh id and the current time.
func NewEvent(studentID, courseID, createdBy uuid.UUID, payload Payload, notes string) *Event {
	return &Event{
		ID:        uuid.New(),
		StudentID: studentID,
		CourseID:  courseID,
		Payload:   payload,
		Notes:     notes,
		CreatedBy: createdBy,
		CreatedAt: time.Now().UTC(),
	}
}

// Kind returns the payload's discriminator.
func (e *Event) Kind() EventKind {
	return e.Payload.Kind()
}

// DecodePayload reconstructs a typed payload from its stored kind and JSON.
// Returns ErrUnknownKind for a kind this version does not know.
func DecodePayload(kind EventKind, raw []byte) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch kind {
	case KindXPChange:
		var v XPChangePayload
		err = json.Unmarshal(raw, &v)
		p = v
	case KindColorChange:
		var v ColorChangePayload
		err = json.Unmarshal(raw, &v)
		p = v
	case KindLevelChange:
		var v LevelChangePayload
		err = json.Unmarshal(raw, &v)
		p = v
	case KindRewardRedeemed:
		var v RewardRedeemedPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case KindConsequenceApplied:
		var v ConsequenceAppliedPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case KindNote:
		var v NotePayload
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, shared.ErrUnknownKind
	}
	if err != nil {
		return nil, shared.WrapError("behavior", "Decode", shared.ErrInvalidFormat,
			"malformed event payload", err)
	}
	return p, nil
}

// HistoryFilter bounds a student-history listing.
type HistoryFilter struct {
	From  time.Time
	To    time.Time
	Kinds []EventKind
	Limit int
}

// EventRepository is the append-only store for behavior events.
type EventRepository interface {
	// Append stores a single event. Events are write-once.
	Append(ctx context.Context, event *Event) error

	// AppendBatch stores several events; callers run it inside a transaction
	// when the events belong to one atomic write.
	AppendBatch(ctx context.Context, events []*Event) error

	// ListByStudent returns a student's events, newest first.
	ListByStudent(ctx context.Context, studentID uuid.UUID, filter HistoryFilter) ([]*Event, error)

	// ListByCourse returns a course's most recent events, newest first.
	ListByCourse(ctx context.Context, courseID uuid.UUID, limit int) ([]*Event, error)
}
