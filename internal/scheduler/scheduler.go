// Package scheduler provides scheduling logic for CoachPipe.
//
// It allows recurring jobs (such as per-session trigger polling) to be
// scheduled using cron expressions or fixed intervals, with per-job removal
// for session teardown.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Standard 5-field cron parser plus @every descriptors, with panic recovery.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns the entry ID for later removal, or an error if the expression
// is invalid.
func (s *Scheduler) AddJob(expr string, task func()) (cron.EntryID, error) {
	return s.cron.AddFunc(expr, task)
}

// AddEvery schedules a task on a fixed interval.
func (s *Scheduler) AddEvery(interval time.Duration, task func()) (cron.EntryID, error) {
	return s.AddJob(fmt.Sprintf("@every %s", interval), task)
}

// Remove cancels a scheduled job by its entry ID.
func (s *Scheduler) Remove(id cron.EntryID) {
	s.cron.Remove(id)
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
