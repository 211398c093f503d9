package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cubetribe/klassenbuch-server/internal/domain/behavior"
)

// ══════════════════════════════════════════════════════════════════════════════
// BEHAVIOR EVENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// EventRepository implements behavior.EventRepository for PostgreSQL.
// Events are append-only; there is deliberately no update or delete.
type EventRepository struct {
	q Querier
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(q Querier) *EventRepository {
	return &EventRepository{q: q}
}

// Append stores a single event.
func (r *EventRepository) Append(ctx context.Context, event *behavior.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	query := `
		INSERT INTO behavior_events (id, student_id, course_id, kind, payload, notes, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.q.Exec(ctx, query,
		event.ID,
		event.StudentID,
		event.CourseID,
		string(event.Kind()),
		payload,
		event.Notes,
		event.CreatedBy,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append behavior event: %w", err)
	}
	return nil
}

// AppendBatch stores several events in one round trip.
func (r *EventRepository) AppendBatch(ctx context.Context, events []*behavior.Event) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([][]interface{}, 0, len(events))
	for _, event := range events {
		payload, err := json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal event payload: %w", err)
		}
		rows = append(rows, []interface{}{
			event.ID, event.StudentID, event.CourseID,
			string(event.Kind()), payload, event.Notes,
			event.CreatedBy, event.CreatedAt,
		})
	}

	query := `INSERT INTO behavior_events (id, student_id, course_id, kind, payload, notes, created_by, created_at) VALUES `
	args := make([]interface{}, 0, len(rows)*8)
	for i, row := range rows {
		if i > 0 {
			query += ", "
		}
		query += "("
		for j := range row {
			if j > 0 {
				query += ", "
			}
			query += "$" + strconv.Itoa(i*8+j+1)
		}
		query += ")"
		args = append(args, row...)
	}

	if _, err := r.q.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to append behavior events: %w", err)
	}
	return nil
}

// ListByStudent returns a student's events, newest first.
func (r *EventRepository) ListByStudent(ctx context.Context, studentID uuid.UUID, filter behavior.HistoryFilter) ([]*behavior.Event, error) {
	query := `
		SELECT id, student_id, course_id, kind, payload, notes, created_by, created_at
		FROM behavior_events
		WHERE student_id = $1
	`
	args := []interface{}{studentID}

	if !filter.From.IsZero() {
		args = append(args, filter.From)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	if len(filter.Kinds) > 0 {
		kinds := make([]string, 0, len(filter.Kinds))
		for _, k := range filter.Kinds {
			kinds = append(kinds, string(k))
		}
		args = append(args, kinds)
		query += fmt.Sprintf(" AND kind = ANY($%d)", len(args))
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list student events: %w", err)
	}
	defer rows.Close()

	return r.scanEvents(rows)
}

// ListByCourse returns a course's most recent events, newest first.
func (r *EventRepository) ListByCourse(ctx context.Context, courseID uuid.UUID, limit int) ([]*behavior.Event, error) {
	query := `
		SELECT id, student_id, course_id, kind, payload, notes, created_by, created_at
		FROM behavior_events
		WHERE course_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.q.Query(ctx, query, courseID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list course events: %w", err)
	}
	defer rows.Close()

	return r.scanEvents(rows)
}

// ─────────────────────────────────────────────────────────────────────────────
// Row mapping
// ─────────────────────────────────────────────────────────────────────────────

func (r *EventRepository) scanEvents(rows pgx.Rows) ([]*behavior.Event, error) {
	var out []*behavior.Event
	for rows.Next() {
		var (
			event   behavior.Event
			kind    string
			payload []byte
		)
		err := rows.Scan(
			&event.ID,
			&event.StudentID,
			&event.CourseID,
			&kind,
			&payload,
			&event.Notes,
			&event.CreatedBy,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan behavior event: %w", err)
		}

		decoded, err := behavior.DecodePayload(behavior.EventKind(kind), payload)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", event.ID, err)
		}
		event.Payload = decoded
		out = append(out, &event)
	}
	return out, rows.Err()
}
