package student

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence port for students.
type Repository interface {
	Create(ctx context.Context, s *Student) error
	GetByID(ctx context.Context, id uuid.UUID) (*Student, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*Student, error)

	// ListByCourse returns students of a course ordered by display name.
	// With activeOnly set, deactivated students are filtered out.
	ListByCourse(ctx context.Context, courseID uuid.UUID, activeOnly bool) ([]*Student, error)

	// UpdateState persists XP, level, color and the active flag.
	UpdateState(ctx context.Context, s *Student) error

	Rename(ctx context.Context, id uuid.UUID, displayName string) error
}
