// Package scheduler runs periodic background jobs (the daily and weekly
// board resets). It is a plain ticker loop per job; jobs are expected to
// be idempotent because a restart can re-trigger them within a tick.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cubetribe/klassenbuch-server/pkg/logger"
)

// Job is one periodic unit of work.
type Job interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) error
}

// Scheduler drives registered jobs on their intervals.
type Scheduler struct {
	jobs []Job
	log  *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler.
func New(log *logger.Logger) *Scheduler {
	return &Scheduler{
		log: log.With(logger.Component("scheduler")),
	}
}

// AddJob registers a job. Call before Start.
func (s *Scheduler) AddJob(job Job) {
	s.jobs = append(s.jobs, job)
}

// Start launches one goroutine per job. Jobs run until Stop or ctx cancel.
func (s *Scheduler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.runJob(runCtx, job)
	}
	s.log.Info("scheduler started", logger.Int("jobs", len(s.jobs)))
}

// Stop cancels all jobs and waits for them to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			if err := job.Run(ctx); err != nil {
				s.log.Error("job failed",
					logger.String("job", job.Name()),
					logger.Err(err),
				)
				continue
			}
			s.log.Debug("job completed",
				logger.String("job", job.Name()),
				logger.Latency(time.Since(start)),
			)
		}
	}
}
