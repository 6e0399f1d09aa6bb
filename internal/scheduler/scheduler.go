// Package scheduler provides cron-based scheduling for CareLedger.
//
// Its main job is the hourly reminder sweep that nudges users who haven't
// logged a session yet today.
package scheduler

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// ReminderSweepSpec fires at the top of every hour; per-user local-time
// gating happens inside the sweep itself.
const ReminderSweepSpec = "0 * * * *"

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Standard 5-field cron parser (min, hour, dom, month, dow) with panic
	// recovery so one bad job cannot kill the process.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
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

// AddReminderSweep registers the hourly reminder job.
func (s *Scheduler) AddReminderSweep(sweep func()) error {
	if err := s.AddJob(ReminderSweepSpec, sweep); err != nil {
		return err
	}
	slog.Info("Scheduler.AddReminderSweep: hourly reminder sweep scheduled")
	return nil
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
