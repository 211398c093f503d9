package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cubetribe/klassenbuch-server/internal/domain/course"
	"github.com/cubetribe/klassenbuch-server/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// COURSE REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

const courseColumns = `id, name, subject, owner_id, settings, archived, created_at, updated_at`

// CourseRepository implements course.Repository for PostgreSQL. The
// settings document lives in a JSONB column; its shape is validated in the
// domain before it ever reaches this layer.
type CourseRepository struct {
	q Querier
}

// NewCourseRepository creates a new CourseRepository.
func NewCourseRepository(q Querier) *CourseRepository {
	return &CourseRepository{q: q}
}

// Create creates a new course.
func (r *CourseRepository) Create(ctx context.Context, c *course.Course) error {
	settings, err := json.Marshal(c.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal course settings: %w", err)
	}

	query := `
		INSERT INTO courses (` + courseColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.q.Exec(ctx, query,
		c.ID,
		c.Name,
		c.Subject,
		c.OwnerID,
		settings,
		c.Archived,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrCourseExists
		}
		return fmt.Errorf("failed to create course: %w", err)
	}
	return nil
}

// GetByID returns a course by id.
func (r *CourseRepository) GetByID(ctx context.Context, id uuid.UUID) (*course.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses WHERE id = $1`
	return r.scanCourse(r.q.QueryRow(ctx, query, id))
}

// ListByOwner returns a teacher's courses, newest first.
func (r *CourseRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*course.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses
		WHERE owner_id = $1 AND NOT archived
		ORDER BY created_at DESC`

	rows, err := r.q.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	defer rows.Close()

	return r.scanCourses(rows)
}

// UpdateSettings persists the settings document and UpdatedAt.
func (r *CourseRepository) UpdateSettings(ctx context.Context, c *course.Course) error {
	settings, err := json.Marshal(c.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal course settings: %w", err)
	}

	tag, err := r.q.Exec(ctx,
		`UPDATE courses SET settings = $2, updated_at = $3 WHERE id = $1`,
		c.ID, settings, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update course settings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrCourseNotFound
	}
	return nil
}

// ListByResetPolicy returns non-archived courses with the given policy.
func (r *CourseRepository) ListByResetPolicy(ctx context.Context, policy course.ResetPolicy) ([]*course.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses
		WHERE NOT archived AND settings->>'resetPolicy' = $1`

	rows, err := r.q.Query(ctx, query, string(policy))
	if err != nil {
		return nil, fmt.Errorf("failed to list courses by reset policy: %w", err)
	}
	defer rows.Close()

	return r.scanCourses(rows)
}

// ─────────────────────────────────────────────────────────────────────────────
// Row mapping
// ─────────────────────────────────────────────────────────────────────────────

func (r *CourseRepository) scanCourse(row pgx.Row) (*course.Course, error) {
	var (
		c        course.Course
		settings []byte
	)
	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Subject,
		&c.OwnerID,
		&settings,
		&c.Archived,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrCourseNotFound
		}
		return nil, fmt.Errorf("failed to scan course: %w", err)
	}
	if err := json.Unmarshal(settings, &c.Settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal course settings: %w", err)
	}
	return &c, nil
}

func (r *CourseRepository) scanCourses(rows pgx.Rows) ([]*course.Course, error) {
	var out []*course.Course
	for rows.Next() {
		c, err := r.scanCourse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
