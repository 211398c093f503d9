package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cubetribe/klassenbuch-server/internal/domain/behavior"
	"github.com/cubetribe/klassenbuch-server/internal/domain/shared"
	"github.com/cubetribe/klassenbuch-server/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

const studentColumns = `id, course_id, display_name, current_xp, current_level,
	current_color, active, created_at, updated_at`

// StudentRepository implements student.Repository for PostgreSQL. It runs
// on a Querier so the same implementation serves pooled reads and
// transactional writes.
type StudentRepository struct {
	q Querier
}

// NewStudentRepository creates a new StudentRepository.
func NewStudentRepository(q Querier) *StudentRepository {
	return &StudentRepository{q: q}
}

// Create creates a new student.
func (r *StudentRepository) Create(ctx context.Context, s *student.Student) error {
	query := `
		INSERT INTO students (` + studentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.q.Exec(ctx, query,
		s.ID,
		s.CourseID,
		s.DisplayName,
		s.CurrentXP,
		s.CurrentLevel,
		s.CurrentColor.String(),
		s.Active,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrStudentExists
		}
		if IsForeignKeyViolation(err) {
			return shared.ErrCourseNotFound
		}
		return fmt.Errorf("failed to create student: %w", err)
	}
	return nil
}

// GetByID returns a student by id.
func (r *StudentRepository) GetByID(ctx context.Context, id uuid.UUID) (*student.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE id = $1`
	return r.scanStudent(r.q.QueryRow(ctx, query, id))
}

// GetByIDs returns the students for the given ids.
func (r *StudentRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*student.Student, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + studentColumns + ` FROM students WHERE id = ANY($1)`
	rows, err := r.q.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list students by ids: %w", err)
	}
	defer rows.Close()

	return r.scanStudents(rows)
}

// ListByCourse returns students of a course ordered by display name.
func (r *StudentRepository) ListByCourse(ctx context.Context, courseID uuid.UUID, activeOnly bool) ([]*student.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE course_id = $1`
	if activeOnly {
		query += ` AND active`
	}
	query += ` ORDER BY display_name`

	rows, err := r.q.Query(ctx, query, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list course students: %w", err)
	}
	defer rows.Close()

	return r.scanStudents(rows)
}

// UpdateState persists XP, level, color and the active flag.
func (r *StudentRepository) UpdateState(ctx context.Context, s *student.Student) error {
	query := `
		UPDATE students
		SET current_xp = $2, current_level = $3, current_color = $4,
		    active = $5, updated_at = $6
		WHERE id = $1
	`
	tag, err := r.q.Exec(ctx, query,
		s.ID,
		s.CurrentXP,
		s.CurrentLevel,
		s.CurrentColor.String(),
		s.Active,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update student state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrStudentNotFound
	}
	return nil
}

// Rename changes the display name.
func (r *StudentRepository) Rename(ctx context.Context, id uuid.UUID, displayName string) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE students SET display_name = $2, updated_at = now() WHERE id = $1`,
		id, displayName)
	if err != nil {
		return fmt.Errorf("failed to rename student: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrStudentNotFound
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Row mapping
// ─────────────────────────────────────────────────────────────────────────────

func (r *StudentRepository) scanStudent(row pgx.Row) (*student.Student, error) {
	var (
		s     student.Student
		color string
	)
	err := row.Scan(
		&s.ID,
		&s.CourseID,
		&s.DisplayName,
		&s.CurrentXP,
		&s.CurrentLevel,
		&color,
		&s.Active,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrStudentNotFound
		}
		return nil, fmt.Errorf("failed to scan student: %w", err)
	}
	s.CurrentColor = behavior.Color(color)
	return &s, nil
}

func (r *StudentRepository) scanStudents(rows pgx.Rows) ([]*student.Student, error) {
	var out []*student.Student
	for rows.Next() {
		s, err := r.scanStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
