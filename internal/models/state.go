// Package models defines state management structures for CoachPipe flows.
package models

import "time"

// FlowType represents a specific type of session flow.
type FlowType string

// StateType represents a specific state within a flow.
type StateType string

// DataKey represents a key for storing state-specific data.
type DataKey string

// Flow type constants.
const (
	// FlowTypeTriggerAlert is the dismissible trigger-alert flow.
	FlowTypeTriggerAlert FlowType = "trigger_alert"
	// FlowTypeEmergency is the blocking emergency-escalation flow.
	FlowTypeEmergency FlowType = "emergency"
)

// State constants for the trigger-alert flow. HELP_SHOWN is the
// escalated-to-help branch while an intervention is displayed; DISMISSED,
// TIMED_OUT, and HANDED_OFF are the terminal states.
const (
	StateAlertIdle      StateType = "IDLE"
	StateAlertShowing   StateType = "SHOWING"
	StateAlertHelp      StateType = "HELP_SHOWN"
	StateAlertDismissed StateType = "DISMISSED"
	StateAlertTimedOut  StateType = "TIMED_OUT"
	StateAlertHandedOff StateType = "HANDED_OFF"
)

// State constants for the emergency-escalation flow.
const (
	StateEmergencyIdle     StateType = "IDLE"
	StateEmergencyLoading  StateType = "LOADING"
	StateEmergencyResolved StateType = "RESOLVED"
	StateEmergencyFallback StateType = "RESOLVED_FALLBACK"
	StateEmergencyClosed   StateType = "CLOSED"
)

// Data key constants shared by the session flows.
const (
	DataKeyActiveTrigger   DataKey = "activeTrigger"   // JSON of the trigger currently shown
	DataKeyCountdown       DataKey = "countdown"       // seconds remaining on the alert countdown
	DataKeyIntervention    DataKey = "intervention"    // JSON of the fetched intervention
	DataKeyEmergencyResult DataKey = "emergencyResult" // JSON of the emergency response shown
)

// FlowState represents the persisted state of a user in a flow.
type FlowState struct {
	UserID       string             `json:"user_id"`
	FlowType     FlowType           `json:"flow_type"`
	CurrentState StateType          `json:"current_state"`
	StateData    map[DataKey]string `json:"state_data,omitempty"` // Additional state-specific data
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}
