// Package flow implements the per-session crisis flows: the Trigger Alert
// state machine, the Emergency Escalation state machine, and the session
// coordinator that routes assessed messages between them.
package flow

import (
	"context"
	"time"

	"github.com/SteadyPath/CoachPipe/internal/models"
)

// StateManager defines the interface for persisting flow state.
type StateManager interface {
	// GetCurrentState retrieves the current state for a user in a flow
	GetCurrentState(ctx context.Context, userID string, flowType models.FlowType) (models.StateType, error)

	// SetCurrentState updates the current state for a user in a flow
	SetCurrentState(ctx context.Context, userID string, flowType models.FlowType, state models.StateType) error

	// GetStateData retrieves additional data associated with the user's state
	GetStateData(ctx context.Context, userID string, flowType models.FlowType, key models.DataKey) (string, error)

	// SetStateData stores additional data associated with the user's state
	SetStateData(ctx context.Context, userID string, flowType models.FlowType, key models.DataKey, value string) error

	// ResetState removes all state data for a user in a flow
	ResetState(ctx context.Context, userID string, flowType models.FlowType) error
}

// Timer defines the interface for scheduling delayed actions. Scheduled
// functions are owned by the state machine that scheduled them: every exit
// path must cancel its outstanding timers.
type Timer interface {
	// ScheduleAfter schedules a function to run after a delay and returns
	// a handle for cancellation.
	ScheduleAfter(delay time.Duration, fn func()) (string, error)

	// Cancel cancels a scheduled function. Cancelling an unknown or
	// already-fired timer is a no-op.
	Cancel(id string) error
}

// CoachService defines the coach operations the session flows depend on.
// coach.AlexCoach satisfies this interface.
type CoachService interface {
	Assess(ctx context.Context, userID, message, msgContext string) (models.Assessment, error)
	Intervene(ctx context.Context, userID, triggerType string, urgency models.Severity) (models.Intervention, error)
	EmergencyResponse(ctx context.Context, req models.EmergencyRequest) (models.EmergencyResponse, error)
	Chat(ctx context.Context, userID, message string) (string, error)
}

// CrisisNotifier notifies a user's registered emergency contact when
// Emergency Escalation activates. Implementations must be best-effort:
// errors are logged by the caller and never block the escalation path.
type CrisisNotifier interface {
	NotifyEmergencyContact(ctx context.Context, userID, contact string, severity models.Severity) error
}

// TickScheduler registers a recurring background task and returns a cancel
// function tied to session teardown. poller.TriggerPoller satisfies this.
type TickScheduler interface {
	Schedule(task func()) (cancel func(), err error)
}
