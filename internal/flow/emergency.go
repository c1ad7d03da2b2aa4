package flow

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/SteadyPath/CoachPipe/internal/locale"
	"github.com/SteadyPath/CoachPipe/internal/models"
)

// ErrNoActiveEmergency is returned by exit methods when no escalation is active.
var ErrNoActiveEmergency = errors.New("no active emergency escalation")

// EmergencySnapshot is a point-in-time view of the emergency machine.
type EmergencySnapshot struct {
	State    models.StateType          `json:"state"`
	Response *models.EmergencyResponse `json:"response,omitempty"`
}

// EmergencyMachine owns the lifecycle of an emergency escalation:
//
//	idle -> loading -> {resolved | resolved_fallback} -> closed
//
// There is no auto-close timer: emergency context never vanishes except by
// an explicit user exit. Once active, the escalation supersedes the trigger
// alert until closed. An epoch counter discards fetch results that arrive
// after the escalation was closed.
type EmergencyMachine struct {
	mu       sync.Mutex
	userID   string
	locale   string
	contact  string // emergency contact phone number, may be empty
	state    models.StateType
	response *models.EmergencyResponse
	epoch    int

	coach    CoachService
	states   StateManager
	notifier CrisisNotifier // may be nil
}

// NewEmergencyMachine creates an idle emergency machine for a user.
func NewEmergencyMachine(userID, loc, contact string, coach CoachService, states StateManager, notifier CrisisNotifier) *EmergencyMachine {
	return &EmergencyMachine{
		userID:   userID,
		locale:   loc,
		contact:  contact,
		state:    models.StateEmergencyIdle,
		coach:    coach,
		states:   states,
		notifier: notifier,
	}
}

// Activate opens the escalation and fetches the emergency response. Location
// on the request is best-effort: its absence never blocks the fetch. On any
// fetch failure or a response with no resources, the locale fallback is shown
// instead, so the user never sees zero actionable contacts. Activating an
// already-active escalation returns the current response unchanged.
func (m *EmergencyMachine) Activate(ctx context.Context, req models.EmergencyRequest) models.EmergencyResponse {
	m.mu.Lock()
	if m.isActiveLocked() && m.response != nil {
		resp := *m.response
		m.mu.Unlock()
		return resp
	}
	m.epoch++
	epoch := m.epoch
	m.state = models.StateEmergencyLoading
	m.response = nil
	m.mu.Unlock()

	m.persistState(ctx, models.StateEmergencyLoading)
	slog.Info("Emergency escalation activated", "userID", m.userID, "crisisType", req.CrisisType, "severity", req.Severity)

	m.notifyContact(req.Severity)

	response, err := m.coach.EmergencyResponse(ctx, req)
	terminal := models.StateEmergencyResolved
	if err != nil || len(response.Resources) == 0 {
		if err != nil {
			slog.Warn("Emergency response fetch failed, using fallback", "error", err, "userID", m.userID)
		} else {
			slog.Warn("Emergency response had no resources, using fallback", "userID", m.userID)
		}
		response = locale.FallbackEmergencyResponse(m.locale)
		terminal = models.StateEmergencyFallback
	}

	m.mu.Lock()
	if m.epoch != epoch || m.state != models.StateEmergencyLoading {
		// Closed while the fetch was in flight; drop the late result.
		m.mu.Unlock()
		slog.Debug("Emergency discarding stale fetch result", "userID", m.userID)
		return response
	}
	m.state = terminal
	m.response = &response
	m.mu.Unlock()

	m.persistState(ctx, terminal)
	if data, err := json.Marshal(response); err == nil {
		if err := m.states.SetStateData(ctx, m.userID, models.FlowTypeEmergency, models.DataKeyEmergencyResult, string(data)); err != nil {
			slog.Warn("Emergency failed to persist response", "error", err, "userID", m.userID)
		}
	}
	slog.Info("Emergency escalation resolved", "userID", m.userID, "state", terminal, "resources", len(response.Resources))
	return response
}

// notifyContact sends the best-effort crisis SMS. Failures are logged and
// never delay or block the escalation path.
func (m *EmergencyMachine) notifyContact(severity models.Severity) {
	if m.notifier == nil || m.contact == "" {
		return
	}
	userID, contact, notifier := m.userID, m.contact, m.notifier
	go func() {
		if err := notifier.NotifyEmergencyContact(context.Background(), userID, contact, severity); err != nil {
			slog.Warn("Emergency contact notification failed", "error", err, "userID", userID)
		}
	}()
}

// ContinueWithCoach handles "Continue with Alex": it closes the escalation
// and returns the emergency-context message for the chat handoff.
func (m *EmergencyMachine) ContinueWithCoach(ctx context.Context) (string, error) {
	m.mu.Lock()
	if !m.isActiveLocked() {
		m.mu.Unlock()
		return "", ErrNoActiveEmergency
	}
	contextMessage := "The user just went through an emergency escalation and chose to continue talking. Be especially gentle, check in on their immediate safety, and keep the crisis resources in reach."
	m.closeLocked()
	m.mu.Unlock()

	m.persistState(ctx, models.StateEmergencyClosed)
	slog.Info("Emergency escalation handed off to chat", "userID", m.userID)
	return contextMessage, nil
}

// GettingHelp handles "I'm getting help": it closes the escalation with no
// further action. Closing an idle escalation is a no-op.
func (m *EmergencyMachine) GettingHelp(ctx context.Context) {
	m.mu.Lock()
	if !m.isActiveLocked() {
		m.mu.Unlock()
		return
	}
	m.closeLocked()
	m.mu.Unlock()

	m.persistState(ctx, models.StateEmergencyClosed)
	slog.Info("Emergency escalation closed", "userID", m.userID)
}

// closeLocked performs the terminal transition. Caller holds the mutex.
func (m *EmergencyMachine) closeLocked() {
	m.epoch++
	m.state = models.StateEmergencyClosed
	m.response = nil
}

// isActiveLocked reports whether the escalation is open. Caller holds the mutex.
func (m *EmergencyMachine) isActiveLocked() bool {
	switch m.state {
	case models.StateEmergencyLoading, models.StateEmergencyResolved, models.StateEmergencyFallback:
		return true
	}
	return false
}

// Active reports whether the escalation is open. While true, trigger alert
// display is suppressed.
func (m *EmergencyMachine) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isActiveLocked()
}

// Snapshot returns a point-in-time view of the machine.
func (m *EmergencyMachine) Snapshot() EmergencySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return EmergencySnapshot{State: m.state, Response: m.response}
}

// persistState writes the current state through the state manager.
func (m *EmergencyMachine) persistState(ctx context.Context, state models.StateType) {
	if err := m.states.SetCurrentState(ctx, m.userID, models.FlowTypeEmergency, state); err != nil {
		slog.Warn("Emergency state persistence failed", "error", err, "userID", m.userID, "state", state)
	}
}
