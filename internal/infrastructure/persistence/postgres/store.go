package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/cubetribe/klassenbuch-server/internal/application/command"
	"github.com/cubetribe/klassenbuch-server/internal/domain/behavior"
	"github.com/cubetribe/klassenbuch-server/internal/domain/course"
	"github.com/cubetribe/klassenbuch-server/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store implements command.Store on a Connection. Outside WithinTx the
// repositories run on the pool; inside, on the transaction.
type Store struct {
	conn *Connection
	repoSet
}

// repoSet binds the three repositories to one Querier.
type repoSet struct {
	students *StudentRepository
	courses  *CourseRepository
	events   *EventRepository
}

func newRepoSet(q Querier) repoSet {
	return repoSet{
		students: NewStudentRepository(q),
		courses:  NewCourseRepository(q),
		events:   NewEventRepository(q),
	}
}

func (r repoSet) Students() student.Repository     { return r.students }
func (r repoSet) Courses() course.Repository       { return r.courses }
func (r repoSet) Events() behavior.EventRepository { return r.events }

// NewStore creates a Store on the given connection.
func NewStore(conn *Connection) *Store {
	return &Store{
		conn:    conn,
		repoSet: newRepoSet(conn),
	}
}

// WithinTx runs fn with transaction-bound repositories. Everything fn
// writes commits together or rolls back together.
func (s *Store) WithinTx(ctx context.Context, fn func(r command.Repos) error) error {
	return s.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		return fn(newRepoSet(tx))
	})
}
