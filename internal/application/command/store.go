// Package command contains write operations (CQRS - Commands).
//
// Every state-mutating command follows the same shape: validate, load,
// run the behavior engine, persist atomically through Store.WithinTx, and
// only after the transaction committed hand the resulting broadcast
// message to the publisher. Broadcast failure never fails a command.
package command

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cubetribe/klassenbuch-server/internal/domain/behavior"
	"github.com/cubetribe/klassenbuch-server/internal/domain/course"
	"github.com/cubetribe/klassenbuch-server/internal/domain/shared"
	"github.com/cubetribe/klassenbuch-server/internal/domain/student"
)

// Repos bundles the repositories a command operates on. Inside WithinTx
// all of them run on the same transaction.
type Repos interface {
	Students() student.Repository
	Courses() course.Repository
	Events() behavior.EventRepository
}

// Store is the persistence boundary for commands.
type Store interface {
	Repos

	// WithinTx executes fn atomically: every repository write inside fn
	// commits together or not at all.
	WithinTx(ctx context.Context, fn func(r Repos) error) error
}

// BoardInvalidator drops a course's cached board snapshot after a write.
// Implemented by the Redis board cache; a nil-safe no-op in tests.
type BoardInvalidator interface {
	Invalidate(ctx context.Context, courseID string) error
}

// publishAfterCommit sends the broadcast message once the transaction has
// committed. Errors are swallowed: delivery is best effort and the durable
// write already succeeded.
func publishAfterCommit(ctx context.Context, pub shared.Publisher, msg shared.BroadcastMessage) {
	if pub == nil {
		return
	}
	_ = pub.Publish(ctx, msg)
}

// invalidateBoard drops the cached snapshot, best effort.
func invalidateBoard(ctx context.Context, cache BoardInvalidator, courseID string) {
	if cache == nil {
		return
	}
	_ = cache.Invalidate(ctx, courseID)
}

func parseID(raw, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, shared.WrapError("command", "ParseID", shared.ErrInvalidID,
			fmt.Sprintf("malformed %s", what), err)
	}
	return id, nil
}

// loadCourseForWrite fetches the course and authorizes the caller for a
// mutating action on it.
func loadCourseForWrite(ctx context.Context, repos Repos, courseID string, caller shared.Identity) (*course.Course, error) {
	id, err := parseID(courseID, "course id")
	if err != nil {
		return nil, err
	}

	crs, err := repos.Courses().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !caller.Role.CanWrite() {
		return nil, shared.ErrNotCourseTeacher
	}
	if caller.Role == shared.RoleTeacher && !crs.OwnedBy(caller.UserID) {
		return nil, shared.ErrNotCourseTeacher
	}
	return crs, nil
}

// loadCourseStudent fetches an active student and checks course membership.
func loadCourseStudent(ctx context.Context, repos Repos, crs *course.Course, studentID string) (*student.Student, error) {
	id, err := parseID(studentID, "student id")
	if err != nil {
		return nil, err
	}

	stu, err := repos.Students().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if stu.CourseID != crs.ID {
		return nil, shared.ErrStudentWrongCourse
	}
	if !stu.Active {
		return nil, shared.ErrStudentInactive
	}
	return stu, nil
}
