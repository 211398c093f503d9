package query

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/cubetribe/klassenbuch-server/internal/domain/behavior"
	"github.com/cubetribe/klassenbuch-server/internal/domain/shared"
	"github.com/cubetribe/klassenbuch-server/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT HISTORY QUERY
// A student's behavior event log, newest first, optionally bounded by time
// range and event kinds.
// ══════════════════════════════════════════════════════════════════════════════

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// GetStudentHistoryQuery identifies the student and the bounds.
type GetStudentHistoryQuery struct {
	StudentID string
	From      time.Time
	To        time.Time
	Kinds     []string
	Limit     int
}

// HistoryEntry is one event in the listing. Payload carries the typed
// event data re-encoded as JSON for the response body.
type HistoryEntry struct {
	EventID   string          `json:"eventId"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Notes     string          `json:"notes,omitempty"`
	CreatedBy string          `json:"createdBy"`
	CreatedAt time.Time       `json:"createdAt"`
}

// StudentHistory is the query result.
type StudentHistory struct {
	StudentID   string         `json:"studentId"`
	DisplayName string         `json:"displayName"`
	Entries     []HistoryEntry `json:"entries"`
}

// GetStudentHistoryHandler handles the GetStudentHistoryQuery.
type GetStudentHistoryHandler struct {
	students student.Repository
	events   behavior.EventRepository
}

// NewGetStudentHistoryHandler creates a new GetStudentHistoryHandler.
func NewGetStudentHistoryHandler(students student.Repository, events behavior.EventRepository) *GetStudentHistoryHandler {
	return &GetStudentHistoryHandler{students: students, events: events}
}

// Handle lists the history. Unknown kind strings are rejected rather than
// silently matching nothing.
func (h *GetStudentHistoryHandler) Handle(ctx context.Context, q GetStudentHistoryQuery) (*StudentHistory, error) {
	studentID, err := uuid.Parse(q.StudentID)
	if err != nil {
		return nil, shared.WrapError("query", "StudentHistory", shared.ErrInvalidID,
			"malformed student id", err)
	}

	filter := behavior.HistoryFilter{
		From:  q.From,
		To:    q.To,
		Limit: q.Limit,
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultHistoryLimit
	}
	if filter.Limit > maxHistoryLimit {
		filter.Limit = maxHistoryLimit
	}
	for _, raw := range q.Kinds {
		kind := behavior.EventKind(raw)
		if !kind.Valid() {
			return nil, shared.ErrUnknownKind
		}
		filter.Kinds = append(filter.Kinds, kind)
	}

	stu, err := h.students.GetByID(ctx, studentID)
	if err != nil {
		return nil, err
	}

	events, err := h.events.ListByStudent(ctx, studentID, filter)
	if err != nil {
		return nil, err
	}

	history := &StudentHistory{
		StudentID:   stu.ID.String(),
		DisplayName: stu.DisplayName,
		Entries:     make([]HistoryEntry, 0, len(events)),
	}
	for _, e := range events {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, shared.WrapError("query", "StudentHistory", shared.ErrInvalidFormat,
				"encode event payload", err)
		}
		history.Entries = append(history.Entries, HistoryEntry{
			EventID:   e.ID.String(),
			Kind:      string(e.Kind()),
			Payload:   payload,
			Notes:     e.Notes,
			CreatedBy: e.CreatedBy.String(),
			CreatedAt: e.CreatedAt,
		})
	}
	return history, nil
}
