// Package scheduler provides scheduling primitives for the funnel engine.
//
// It wraps a cron scheduler for coarse background sweeps (conversation
// timeouts, idle-tenant cleanup) and a cancellable one-shot timer registry
// for per-conversation poll ticks.
package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler provides cron-based background job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler. Panics in jobs are
// recovered so one failing sweep cannot kill the others.
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// AddEvery schedules a task at a fixed interval.
func (s *Scheduler) AddEvery(interval time.Duration, task func()) error {
	_, err := s.cron.AddFunc("@every "+interval.String(), task)
	return err
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
