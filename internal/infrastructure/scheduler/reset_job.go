package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cubetribe/klassenbuch-server/internal/application/command"
	"github.com/cubetribe/klassenbuch-server/internal/domain/course"
	"github.com/cubetribe/klassenbuch-server/internal/domain/shared"
	"github.com/cubetribe/klassenbuch-server/pkg/logger"
	"github.com/cubetribe/klassenbuch-server/pkg/timeutil"
)

// ResetJob snaps student states back to the configured starting XP for
// courses with a daily or weekly reset policy. School days are Berlin
// days: the daily reset fires on the first tick after Berlin midnight,
// the weekly one on the first tick of a new Berlin week (Monday).
type ResetJob struct {
	store     command.Store
	publisher shared.Publisher
	cache     command.BoardInvalidator
	log       *logger.Logger

	now func() time.Time

	mu       sync.Mutex
	lastDay  time.Time
	lastWeek time.Time
}

// ResetJobOption configures a ResetJob.
type ResetJobOption func(*ResetJob)

// withClock replaces the time source; tests use it to cross day and week
// boundaries without waiting.
func withClock(now func() time.Time) ResetJobOption {
	return func(j *ResetJob) {
		j.now = now
		j.lastDay = timeutil.StartOfDay(now())
		j.lastWeek = timeutil.StartOfWeek(now())
	}
}

// NewResetJob creates a ResetJob. The current day and week count as
// already done, so a process restart mid-day does not re-reset boards.
func NewResetJob(store command.Store, publisher shared.Publisher, cache command.BoardInvalidator, log *logger.Logger, opts ...ResetJobOption) *ResetJob {
	now := timeutil.Now()
	j := &ResetJob{
		store:     store,
		publisher: publisher,
		cache:     cache,
		log:       log.With(logger.Component("reset_job")),
		now:       timeutil.Now,
		lastDay:   timeutil.StartOfDay(now),
		lastWeek:  timeutil.StartOfWeek(now),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Name implements Job.
func (j *ResetJob) Name() string { return "board_reset" }

// Interval implements Job. One minute keeps the reset within a minute of
// Berlin midnight without a cron dependency.
func (j *ResetJob) Interval() time.Duration { return time.Minute }

// Run implements Job.
func (j *ResetJob) Run(ctx context.Context) error {
	now := j.now()

	j.mu.Lock()
	day := timeutil.StartOfDay(now)
	week := timeutil.StartOfWeek(now)
	runDaily := day.After(j.lastDay)
	runWeekly := week.After(j.lastWeek)
	if runDaily {
		j.lastDay = day
	}
	if runWeekly {
		j.lastWeek = week
	}
	j.mu.Unlock()

	if runDaily {
		if err := j.resetCourses(ctx, course.ResetDaily); err != nil {
			return fmt.Errorf("daily reset: %w", err)
		}
	}
	if runWeekly {
		if err := j.resetCourses(ctx, course.ResetWeekly); err != nil {
			return fmt.Errorf("weekly reset: %w", err)
		}
	}
	return nil
}

func (j *ResetJob) resetCourses(ctx context.Context, policy course.ResetPolicy) error {
	courses, err := j.store.Courses().ListByResetPolicy(ctx, policy)
	if err != nil {
		return err
	}

	for _, crs := range courses {
		if err := j.resetCourse(ctx, crs); err != nil {
			// One broken course must not block the rest of the fleet.
			j.log.Error("course reset failed",
				logger.CourseID(crs.ID.String()),
				logger.Err(err),
			)
			continue
		}
	}
	j.log.Info("board reset completed",
		logger.String("policy", string(policy)),
		logger.Int("courses", len(courses)),
	)
	return nil
}

// resetCourse resets every active student of one course in a single
// transaction and broadcasts the fresh tiles afterwards.
func (j *ResetJob) resetCourse(ctx context.Context, crs *course.Course) error {
	type resetState struct {
		studentID string
		xp        int
		level     int
		color     string
	}
	var reset []resetState

	err := j.store.WithinTx(ctx, func(repos command.Repos) error {
		students, err := repos.Students().ListByCourse(ctx, crs.ID, true)
		if err != nil {
			return err
		}
		reset = reset[:0]
		for _, stu := range students {
			stu.Reset(crs.Settings.Thresholds)
			if err := repos.Students().UpdateState(ctx, stu); err != nil {
				return err
			}
			reset = append(reset, resetState{
				studentID: stu.ID.String(),
				xp:        stu.CurrentXP,
				level:     stu.CurrentLevel,
				color:     stu.CurrentColor.String(),
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	if j.cache != nil {
		_ = j.cache.Invalidate(ctx, crs.ID.String())
	}
	if j.publisher != nil {
		for _, st := range reset {
			_ = j.publisher.Publish(ctx, shared.NewBroadcast(
				shared.MessageStudentUpdated, crs.ID.String(), map[string]any{
					"studentId": st.studentID,
					"xp":        st.xp,
					"level":     st.level,
					"color":     st.color,
				}))
		}
	}
	return nil
}
