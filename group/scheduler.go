package group

import (
	"context"
	"sync"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"

	"github.com/git-pkgs/repositories/config"
)

// Scheduler runs jobs keyed by id on a cron expression.
type Scheduler interface {
	// Schedule installs job for id, replacing any job already scheduled
	// under that id.
	Schedule(id, expr string, job func()) error
	// Unschedule removes the job for id. Unknown ids are ignored.
	Unschedule(id string)
}

// CronScheduler is a Scheduler on top of robfig/cron. A job that is still
// running when its next activation comes up is skipped.
type CronScheduler struct {
	mu   sync.Mutex
	cron *cron.Cron
	jobs map[string]cron.EntryID
}

// NewCronScheduler returns a stopped scheduler.
func NewCronScheduler(log logr.Logger) *CronScheduler {
	return &CronScheduler{
		cron: cron.New(
			cron.WithLogger(log),
			cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
		),
		jobs: make(map[string]cron.EntryID),
	}
}

func (s *CronScheduler) Schedule(id, expr string, job func()) error {
	sched, err := config.ParseSchedule(expr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.jobs[id]; ok {
		s.cron.Remove(prev)
	}
	s.jobs[id] = s.cron.Schedule(sched, cron.FuncJob(job))
	return nil
}

func (s *CronScheduler) Unschedule(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.jobs[id]; ok {
		s.cron.Remove(prev)
		delete(s.jobs, id)
	}
}

// Scheduled reports whether a job is installed for id.
func (s *CronScheduler) Scheduled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[id]
	return ok
}

// Start runs the scheduler in its own goroutine.
func (s *CronScheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler. The returned context is done once running jobs
// have finished.
func (s *CronScheduler) Stop() context.Context {
	return s.cron.Stop()
}
