package flow

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/SteadyPath/CoachPipe/internal/locale"
	"github.com/SteadyPath/CoachPipe/internal/models"
)

// CountdownSeconds is the auto-dismiss countdown for a showing alert.
const CountdownSeconds = 10

// countdownInterval is how often the countdown decrements.
const countdownInterval = time.Second

// Errors returned by trigger-alert event methods.
var (
	// ErrAlertActive is returned by Show while an alert is already active.
	ErrAlertActive = errors.New("an alert is already active")
	// ErrNoActiveAlert is returned by event methods when no alert is showing.
	ErrNoActiveAlert = errors.New("no active alert")
)

// AlertSnapshot is a point-in-time view of the alert machine for inspection.
type AlertSnapshot struct {
	State        models.StateType     `json:"state"`
	Countdown    int                  `json:"countdown,omitempty"`
	Trigger      *models.Trigger      `json:"trigger,omitempty"`
	Intervention *models.Intervention `json:"intervention,omitempty"`
}

// TriggerAlertMachine owns the lifecycle of a single active trigger
// notification:
//
//	idle -> showing -> {dismissed | timed_out | handed_off}
//	               \-> help_shown -> {dismissed | handed_off}
//
// All events funnel through the mutex; the countdown is a cancellable
// scheduled tick owned by the machine, and an epoch counter discards stale
// ticks and late-arriving intervention fetches after any exit.
type TriggerAlertMachine struct {
	mu           sync.Mutex
	userID       string
	locale       string
	state        models.StateType
	trigger      *models.Trigger
	intervention *models.Intervention
	countdown    int
	timerID      string
	epoch        int

	timer    Timer
	coach    CoachService
	states   StateManager
	onClosed func() // clears the session's active-trigger slot
}

// NewTriggerAlertMachine creates an idle trigger-alert machine for a user.
// onClosed runs on every terminal transition and may be nil.
func NewTriggerAlertMachine(userID, loc string, timer Timer, coach CoachService, states StateManager, onClosed func()) *TriggerAlertMachine {
	return &TriggerAlertMachine{
		userID:   userID,
		locale:   loc,
		state:    models.StateAlertIdle,
		timer:    timer,
		coach:    coach,
		states:   states,
		onClosed: onClosed,
	}
}

// Show activates the alert for a trigger. It fails with ErrAlertActive unless
// the machine is idle or in a terminal state.
func (m *TriggerAlertMachine) Show(ctx context.Context, trigger models.Trigger) error {
	m.mu.Lock()
	if m.state == models.StateAlertShowing || m.state == models.StateAlertHelp {
		m.mu.Unlock()
		return ErrAlertActive
	}
	m.epoch++
	epoch := m.epoch
	m.state = models.StateAlertShowing
	m.trigger = &trigger
	m.intervention = nil
	m.countdown = CountdownSeconds
	m.scheduleTickLocked(epoch)
	m.mu.Unlock()

	m.persistState(ctx, models.StateAlertShowing)
	if data, err := json.Marshal(trigger); err == nil {
		if err := m.states.SetStateData(ctx, m.userID, models.FlowTypeTriggerAlert, models.DataKeyActiveTrigger, string(data)); err != nil {
			slog.Warn("TriggerAlert failed to persist active trigger", "error", err, "userID", m.userID)
		}
	}
	slog.Info("TriggerAlert showing", "userID", m.userID, "triggerID", trigger.ID, "riskLevel", trigger.RiskLevel)
	return nil
}

// scheduleTickLocked arms the next countdown tick. Caller holds the mutex.
func (m *TriggerAlertMachine) scheduleTickLocked(epoch int) {
	id, err := m.timer.ScheduleAfter(countdownInterval, func() { m.tick(epoch) })
	if err != nil {
		slog.Error("TriggerAlert failed to schedule countdown tick", "error", err, "userID", m.userID)
		return
	}
	m.timerID = id
}

// tick decrements the countdown. A stale epoch means the alert already
// exited showing and the tick is discarded.
func (m *TriggerAlertMachine) tick(epoch int) {
	m.mu.Lock()
	if m.epoch != epoch || m.state != models.StateAlertShowing {
		m.mu.Unlock()
		return
	}
	m.countdown--
	if m.countdown > 0 {
		m.scheduleTickLocked(epoch)
		m.mu.Unlock()
		return
	}
	// Countdown reached zero: auto-dismiss, identical to manual dismissal.
	m.closeLocked(models.StateAlertTimedOut)
	m.mu.Unlock()

	m.persistState(context.Background(), models.StateAlertTimedOut)
	slog.Info("TriggerAlert timed out", "userID", m.userID)
}

// RequestHelp handles "Get Help Now": it cancels the countdown, fetches an
// intervention for the active trigger, and displays it. A fetch failure
// yields the locale fallback intervention; the user is never left without
// guidance. If the alert is dismissed while the fetch is in flight, the late
// result is discarded and not shown.
func (m *TriggerAlertMachine) RequestHelp(ctx context.Context) (models.Intervention, error) {
	m.mu.Lock()
	if m.state != models.StateAlertShowing {
		m.mu.Unlock()
		return models.Intervention{}, ErrNoActiveAlert
	}
	m.cancelTimerLocked()
	m.state = models.StateAlertHelp
	epoch := m.epoch
	trigger := *m.trigger
	m.mu.Unlock()

	m.persistState(ctx, models.StateAlertHelp)

	triggerType := trigger.RelatedAddiction
	if triggerType == "" {
		triggerType = "general"
	}
	intervention, err := m.coach.Intervene(ctx, m.userID, triggerType, trigger.RiskLevel)
	if err != nil {
		slog.Warn("TriggerAlert intervention fetch failed, using fallback", "error", err, "userID", m.userID)
		intervention = locale.FallbackIntervention(m.locale)
	}

	m.mu.Lock()
	if m.epoch != epoch || m.state != models.StateAlertHelp {
		// The alert exited while the fetch was in flight; drop the result.
		m.mu.Unlock()
		slog.Debug("TriggerAlert discarding stale intervention result", "userID", m.userID)
		return intervention, nil
	}
	m.intervention = &intervention
	m.mu.Unlock()

	if data, err := json.Marshal(intervention); err == nil {
		if err := m.states.SetStateData(ctx, m.userID, models.FlowTypeTriggerAlert, models.DataKeyIntervention, string(data)); err != nil {
			slog.Warn("TriggerAlert failed to persist intervention", "error", err, "userID", m.userID)
		}
	}
	slog.Info("TriggerAlert intervention shown", "userID", m.userID, "interventionType", intervention.InterventionType)
	return intervention, nil
}

// TalkToCoach handles "Talk to Alex" from either the showing or help state:
// it returns the trigger for the chat handoff and closes the machine.
func (m *TriggerAlertMachine) TalkToCoach(ctx context.Context) (*models.Trigger, error) {
	m.mu.Lock()
	if m.state != models.StateAlertShowing && m.state != models.StateAlertHelp {
		m.mu.Unlock()
		return nil, ErrNoActiveAlert
	}
	trigger := m.trigger
	m.closeLocked(models.StateAlertHandedOff)
	m.mu.Unlock()

	m.persistState(ctx, models.StateAlertHandedOff)
	slog.Info("TriggerAlert handed off to chat", "userID", m.userID)
	return trigger, nil
}

// Dismiss closes the alert from any active state ("This helped" or manual
// dismissal). Dismissing an idle or already-closed alert is a no-op.
func (m *TriggerAlertMachine) Dismiss(ctx context.Context) {
	m.mu.Lock()
	if m.state != models.StateAlertShowing && m.state != models.StateAlertHelp {
		m.mu.Unlock()
		return
	}
	m.closeLocked(models.StateAlertDismissed)
	m.mu.Unlock()

	m.persistState(ctx, models.StateAlertDismissed)
	slog.Info("TriggerAlert dismissed", "userID", m.userID)
}

// closeLocked performs the shared terminal transition: cancel the countdown,
// invalidate in-flight work, clear the active trigger, and notify the
// session. Caller holds the mutex.
func (m *TriggerAlertMachine) closeLocked(terminal models.StateType) {
	m.cancelTimerLocked()
	m.epoch++
	m.state = terminal
	m.trigger = nil
	m.intervention = nil
	m.countdown = 0
	if m.onClosed != nil {
		// Run outside the lock; the callback may re-enter the session.
		go m.onClosed()
	}
}

// cancelTimerLocked stops the pending countdown tick. Caller holds the mutex.
func (m *TriggerAlertMachine) cancelTimerLocked() {
	if m.timerID != "" {
		if err := m.timer.Cancel(m.timerID); err != nil {
			slog.Warn("TriggerAlert timer cancel failed", "error", err, "userID", m.userID)
		}
		m.timerID = ""
	}
}

// persistState writes the current state through the state manager.
// Persistence failures are logged; the in-memory machine stays authoritative.
func (m *TriggerAlertMachine) persistState(ctx context.Context, state models.StateType) {
	if err := m.states.SetCurrentState(ctx, m.userID, models.FlowTypeTriggerAlert, state); err != nil {
		slog.Warn("TriggerAlert state persistence failed", "error", err, "userID", m.userID, "state", state)
	}
}

// Active reports whether the alert is currently displayed (showing or with
// an intervention). The poller skips its tick while this is true.
func (m *TriggerAlertMachine) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == models.StateAlertShowing || m.state == models.StateAlertHelp
}

// Snapshot returns a point-in-time view of the machine.
func (m *TriggerAlertMachine) Snapshot() AlertSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return AlertSnapshot{
		State:        m.state,
		Countdown:    m.countdown,
		Trigger:      m.trigger,
		Intervention: m.intervention,
	}
}
