// Package models defines the core data structures for CoachPipe.
//
// It includes types for risk assessments, triggers, interventions, and
// emergency responses, which are shared across modules.
package models

import (
	"errors"
	"time"
)

// Severity is the ordinal risk level driving escalation decisions.
type Severity string

const (
	// SeverityLow indicates no actionable risk was detected.
	SeverityLow Severity = "low"
	// SeverityMedium indicates a mild risk signal worth surfacing.
	SeverityMedium Severity = "medium"
	// SeverityHigh indicates a serious risk signal.
	SeverityHigh Severity = "high"
	// SeverityCritical indicates an immediate crisis requiring escalation.
	SeverityCritical Severity = "critical"
)

// severityRank orders severities from least to most severe.
var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// IsValidSeverity checks if the given severity is one of the four ordinal levels.
func IsValidSeverity(s Severity) bool {
	_, ok := severityRank[s]
	return ok
}

// Rank returns the ordinal position of the severity (low=0 .. critical=3).
// Unknown severities rank below low so they never out-escalate a known level.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// MaxSeverity returns the more severe of a and b. Ties break toward a.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// CrisisType categorizes the dominant risk signal in a message.
type CrisisType string

const (
	// CrisisTypeSuicide indicates suicide-related language.
	CrisisTypeSuicide CrisisType = "suicide"
	// CrisisTypeSelfHarm indicates self-harm-related language.
	CrisisTypeSelfHarm CrisisType = "self_harm"
	// CrisisTypeRelapse indicates relapse or substance-use language.
	CrisisTypeRelapse CrisisType = "relapse"
	// CrisisTypeGeneral is the default when no category matches.
	CrisisTypeGeneral CrisisType = "general"
)

// RiskIndicator is a keyword or phrase match signaling possible risk in user text.
type RiskIndicator string

// Assessment is the per-message risk evaluation consumed by session routing.
// It is ephemeral and never persisted.
type Assessment struct {
	Severity          Severity        `json:"severity"`
	Indicators        []RiskIndicator `json:"indicators"`
	RequiresEmergency bool            `json:"requires_emergency"`
	CrisisType        CrisisType      `json:"crisis_type"`
}

// RequiresEscalation reports whether this assessment must open Emergency
// Escalation directly from chat.
func (a Assessment) RequiresEscalation() bool {
	return a.RequiresEmergency || a.Severity == SeverityCritical
}

// Trigger is a detected risk event tied to a user's recovery context,
// surfaced to the user as a dismissible alert.
type Trigger struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Trigger          string    `json:"trigger"`
	Context          string    `json:"context,omitempty"`
	RelatedAddiction string    `json:"related_addiction,omitempty"`
	RiskLevel        Severity  `json:"risk_level"`
	Consumed         bool      `json:"consumed"`
	DetectedAt       time.Time `json:"detected_at"`
}

// Intervention is coach-provided coping guidance offered in response to a Trigger.
type Intervention struct {
	InterventionType  string   `json:"intervention_type"`
	ImmediateAction   string   `json:"immediate_action"`
	Message           string   `json:"message"`
	CopingStrategy    string   `json:"coping_strategy"`
	FollowUpQuestions []string `json:"follow_up_questions,omitempty"`
}

// Resource is a single crisis contact offered during Emergency Escalation.
type Resource struct {
	Name        string `json:"name"`
	Contact     string `json:"contact"`
	Urgent      bool   `json:"urgent"`
	Description string `json:"description,omitempty"`
	Available   string `json:"available,omitempty"`
}

// EmergencyResponse holds the crisis resources shown during Emergency Escalation.
type EmergencyResponse struct {
	Message          string     `json:"message"`
	ImmediateActions []string   `json:"immediate_actions"`
	Resources        []Resource `json:"resources"`
	Severity         Severity   `json:"severity"`
	Emergency        bool       `json:"emergency"`
}

// UrgentResources returns only the resources flagged urgent, preserving order.
func (e EmergencyResponse) UrgentResources() []Resource {
	var urgent []Resource
	for _, r := range e.Resources {
		if r.Urgent {
			urgent = append(urgent, r)
		}
	}
	return urgent
}

// JournalEntry is a user's journal entry, scanned server-side for risk triggers.
type JournalEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title,omitempty"`
	Content   string    `json:"content"`
	Mood      string    `json:"mood,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Location is an optional best-effort user location attached to emergency requests.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validation constants for input validation
const (
	// MaxMessageLength defines the maximum allowed length for chat messages.
	MaxMessageLength = 8192
	// MaxJournalContentLength defines the maximum allowed length for journal entry content.
	MaxJournalContentLength = 65536
)

// Error variables for better error handling and testability
var (
	ErrEmptyUserID           = errors.New("user id cannot be empty")
	ErrEmptyMessage          = errors.New("message cannot be empty")
	ErrMessageTooLong        = errors.New("message exceeds maximum length")
	ErrEmptyJournalContent   = errors.New("journal content cannot be empty")
	ErrJournalContentTooLong = errors.New("journal content exceeds maximum length")
	ErrInvalidSeverity       = errors.New("invalid severity level")
	ErrSessionNotFound       = errors.New("session not found")
)

// ChatRequest represents an incoming chat message to assess and route.
type ChatRequest struct {
	UserID   string    `json:"user_id"`
	Message  string    `json:"message"`
	Context  string    `json:"context,omitempty"`
	Location *Location `json:"location,omitempty"`
}

// Validate performs validation on a ChatRequest.
func (r *ChatRequest) Validate() error {
	if r.UserID == "" {
		return ErrEmptyUserID
	}
	if r.Message == "" {
		return ErrEmptyMessage
	}
	if len(r.Message) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

// JournalEntryRequest represents the payload for creating a journal entry.
type JournalEntryRequest struct {
	UserID  string `json:"user_id"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
	Mood    string `json:"mood,omitempty"`
}

// Validate performs validation on a JournalEntryRequest.
func (r *JournalEntryRequest) Validate() error {
	if r.UserID == "" {
		return ErrEmptyUserID
	}
	if r.Content == "" {
		return ErrEmptyJournalContent
	}
	if len(r.Content) > MaxJournalContentLength {
		return ErrJournalContentTooLong
	}
	return nil
}

// EmergencyRequest represents the payload for explicitly activating
// Emergency Escalation with a known crisis type and severity.
type EmergencyRequest struct {
	UserID      string     `json:"user_id"`
	CrisisType  CrisisType `json:"crisis_type"`
	Severity    Severity   `json:"severity"`
	UserMessage string     `json:"user_message,omitempty"`
	Location    *Location  `json:"location,omitempty"`
}

// Validate performs validation on an EmergencyRequest.
func (r *EmergencyRequest) Validate() error {
	if r.UserID == "" {
		return ErrEmptyUserID
	}
	if r.Severity != "" && !IsValidSeverity(r.Severity) {
		return ErrInvalidSeverity
	}
	return nil
}

// SessionRequest represents the payload for opening a user session.
type SessionRequest struct {
	UserID           string `json:"user_id"`
	Locale           string `json:"locale,omitempty"`
	EmergencyContact string `json:"emergency_contact,omitempty"` // phone number for crisis SMS
}

// Validate performs validation on a SessionRequest.
func (r *SessionRequest) Validate() error {
	if r.UserID == "" {
		return ErrEmptyUserID
	}
	return nil
}

// ChatReply is the routing outcome for an assessed chat message.
type ChatReply struct {
	Reply      string      `json:"reply,omitempty"`
	Assessment *Assessment `json:"assessment,omitempty"`
	// Routing describes which surface the message activated: "chat",
	// "trigger_alert", or "emergency".
	Routing string `json:"routing"`
}

// Routing outcome constants for ChatReply.
const (
	RoutingChat         = "chat"
	RoutingTriggerAlert = "trigger_alert"
	RoutingEmergency    = "emergency"
)
