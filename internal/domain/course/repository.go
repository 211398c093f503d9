package course

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence port for courses.
type Repository interface {
	Create(ctx context.Context, c *Course) error
	GetByID(ctx context.Context, id uuid.UUID) (*Course, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*Course, error)

	// UpdateSettings persists the settings document and UpdatedAt.
	UpdateSettings(ctx context.Context, c *Course) error

	// ListByResetPolicy returns non-archived courses with the given
	// policy; used by the scheduled reset job.
	ListByResetPolicy(ctx context.Context, policy ResetPolicy) ([]*Course, error)
}
