// Package cron runs jobs on cron-expression schedules. The expression
// grammar comes from robfig/cron with an optional seconds field; the loop
// itself is a plain timer so shutdown is a context cancel away.
package cron

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/zentrohq/zentro/internal/observability"
)

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule validates a cron expression. Descriptors like "@daily" are
// accepted.
func ParseSchedule(expr string) (cron.Schedule, error) {
	return parser.Parse(expr)
}

// Job is one scheduled unit of work. Errors are logged, never fatal to the
// scheduler.
type Job struct {
	Name     string
	Schedule cron.Schedule
	Run      func(ctx context.Context) error
}

// Scheduler drives registered jobs until stopped.
type Scheduler struct {
	logger *observability.Logger

	mu   sync.Mutex
	jobs []Job

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates an empty scheduler.
func NewScheduler(logger *observability.Logger) *Scheduler {
	return &Scheduler{logger: logger}
}

// Add registers a job. Must be called before Start.
func (s *Scheduler) Add(name, expr string, run func(ctx context.Context) error) error {
	schedule, err := ParseSchedule(expr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.jobs = append(s.jobs, Job{Name: name, Schedule: schedule, Run: run})
	s.mu.Unlock()
	return nil
}

// Start launches one goroutine per job. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	s.mu.Lock()
	jobs := make([]Job, len(s.jobs))
	copy(jobs, s.jobs)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			s.loop(runCtx, job)
		}(job)
	}
	go func() {
		wg.Wait()
		close(s.done)
	}()
}

// Stop cancels all job loops and waits for them to exit. In-flight runs
// observe the cancellation through their context.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	for {
		next := job.Schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		start := time.Now()
		if err := job.Run(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error(ctx, "scheduled job failed", "job", job.Name, "error", err)
			continue
		}
		s.logger.Info(ctx, "scheduled job finished",
			"job", job.Name, "duration_ms", time.Since(start).Milliseconds())
	}
}
