// Package poller runs the recurring per-session trigger check on a fixed
// interval. Each session registers one job; cancellation is tied to session
// teardown rather than any implicit lifecycle.
package poller

import (
	"log/slog"
	"time"

	"github.com/SteadyPath/CoachPipe/internal/scheduler"
)

// DefaultInterval is the documented trigger-poll period.
const DefaultInterval = 30 * time.Second

// TriggerPoller schedules recurring background tasks on the shared cron
// scheduler. It satisfies flow.TickScheduler.
type TriggerPoller struct {
	sched    *scheduler.Scheduler
	interval time.Duration
}

// New creates a trigger poller on the given scheduler. A non-positive
// interval falls back to DefaultInterval.
func New(sched *scheduler.Scheduler, interval time.Duration) *TriggerPoller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	slog.Debug("Creating TriggerPoller", "interval", interval)
	return &TriggerPoller{sched: sched, interval: interval}
}

// Schedule registers a recurring task and returns its cancel function.
func (p *TriggerPoller) Schedule(task func()) (func(), error) {
	id, err := p.sched.AddEvery(p.interval, task)
	if err != nil {
		return nil, err
	}
	slog.Debug("TriggerPoller job scheduled", "entryID", id, "interval", p.interval)
	return func() {
		p.sched.Remove(id)
		slog.Debug("TriggerPoller job removed", "entryID", id)
	}, nil
}
