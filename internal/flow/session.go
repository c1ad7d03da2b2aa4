package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SteadyPath/CoachPipe/internal/models"
	"github.com/SteadyPath/CoachPipe/internal/risk"
	"github.com/SteadyPath/CoachPipe/internal/store"
)

// Session coordinates one user's crisis flows: the single active-trigger
// slot, one trigger-alert machine, one emergency machine, and the poller job
// handle. Emergency Escalation always takes precedence over the Trigger
// Alert: activating an escalation closes any showing alert, and alert
// display stays suppressed while the escalation is open.
type Session struct {
	userID string
	locale string

	alert     *TriggerAlertMachine
	emergency *EmergencyMachine
	coach     CoachService
	store     store.Store
	states    StateManager

	mu         sync.Mutex
	cancelPoll func()
	closed     bool
}

// UserID returns the session's user id.
func (s *Session) UserID() string { return s.userID }

// Alert returns the session's trigger-alert machine.
func (s *Session) Alert() *TriggerAlertMachine { return s.alert }

// Emergency returns the session's emergency machine.
func (s *Session) Emergency() *EmergencyMachine { return s.emergency }

// HandleMessage assesses an incoming chat message and routes it: critical or
// requires-emergency assessments open Emergency Escalation (suppressing any
// alert); medium or high assessments with indicators surface a Trigger
// Alert; everything else gets an ordinary chat reply.
func (s *Session) HandleMessage(ctx context.Context, req models.ChatRequest) (models.ChatReply, error) {
	assessment, err := s.coach.Assess(ctx, s.userID, req.Message, req.Context)
	if err != nil {
		// Assessment must never fail open: fall back to keyword detection.
		slog.Warn("Session assessment failed, using keyword detection", "error", err, "userID", s.userID)
		assessment = risk.Evaluate(req.Message, "")
	}

	if assessment.RequiresEscalation() {
		s.alert.Dismiss(ctx)
		response := s.emergency.Activate(ctx, models.EmergencyRequest{
			UserID:      s.userID,
			CrisisType:  assessment.CrisisType,
			Severity:    assessment.Severity,
			UserMessage: req.Message,
			Location:    req.Location,
		})
		return models.ChatReply{
			Reply:      response.Message,
			Assessment: &assessment,
			Routing:    models.RoutingEmergency,
		}, nil
	}

	if len(assessment.Indicators) > 0 && assessment.Severity.AtLeast(models.SeverityMedium) {
		trigger := triggerFromAssessment(s.userID, req.Message, assessment)
		if s.emergency.Active() {
			s.queueTrigger(trigger)
		} else if err := s.alert.Show(ctx, trigger); err == nil {
			return models.ChatReply{
				Assessment: &assessment,
				Routing:    models.RoutingTriggerAlert,
			}, nil
		} else {
			// Another surface won the slot; keep the trigger for the poller.
			s.queueTrigger(trigger)
		}
	}

	reply, err := s.coach.Chat(ctx, s.userID, req.Message)
	if err != nil {
		return models.ChatReply{}, fmt.Errorf("chat reply failed: %w", err)
	}
	return models.ChatReply{
		Reply:      reply,
		Assessment: &assessment,
		Routing:    models.RoutingChat,
	}, nil
}

// PollTick is the recurring trigger check. While an alert or escalation is
// showing the tick is a complete no-op. Otherwise the newest pending trigger
// for the user is consumed and handed to the alert machine. Every failure is
// logged and swallowed: a failed tick never stops future ticks.
func (s *Session) PollTick(ctx context.Context) {
	if s.emergency.Active() || s.alert.Active() {
		slog.Debug("Session poll tick skipped, surface active", "userID", s.userID)
		return
	}

	triggers, err := s.store.GetPendingTriggers(s.userID)
	if err != nil {
		slog.Warn("Session poll tick trigger fetch failed", "error", err, "userID", s.userID)
		return
	}
	if len(triggers) == 0 {
		return
	}

	// Show first, consume after: a trigger that could not be surfaced stays
	// pending for the next tick.
	trigger := triggers[0]
	if err := s.alert.Show(ctx, trigger); err != nil {
		slog.Debug("Session poll tick could not show alert", "error", err, "userID", s.userID)
		return
	}
	if err := s.store.MarkTriggerConsumed(trigger.ID); err != nil {
		slog.Warn("Session poll tick failed to consume trigger", "error", err, "userID", s.userID, "triggerID", trigger.ID)
	}
}

// queueTrigger records a trigger for the poller to surface later.
func (s *Session) queueTrigger(trigger models.Trigger) {
	if err := s.store.AddTrigger(trigger); err != nil {
		slog.Warn("Session failed to queue trigger", "error", err, "userID", s.userID)
	}
}

// AlertTalkToCoach handles "Talk to Alex" from the alert: the alert closes
// and the coach opens the conversation with the trigger context.
func (s *Session) AlertTalkToCoach(ctx context.Context) (string, error) {
	trigger, err := s.alert.TalkToCoach(ctx)
	if err != nil {
		return "", err
	}
	opening := "The user asked to talk after a trigger alert. Open the conversation gently and ask how they are doing right now."
	if trigger != nil {
		opening = fmt.Sprintf("The user asked to talk after a trigger alert about %q (risk level %s). Open the conversation gently and ask how they are doing right now.", trigger.Trigger, trigger.RiskLevel)
	}
	return s.coach.Chat(ctx, s.userID, opening)
}

// EmergencyContinueWithCoach handles "Continue with Alex" from the
// escalation: it closes and the coach replies with the emergency context.
func (s *Session) EmergencyContinueWithCoach(ctx context.Context) (string, error) {
	contextMessage, err := s.emergency.ContinueWithCoach(ctx)
	if err != nil {
		return "", err
	}
	return s.coach.Chat(ctx, s.userID, contextMessage)
}

// Close tears the session down: the poller job is cancelled, both machines
// close (cancelling their timers and invalidating in-flight fetches), and
// persisted flow state is cleared.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.cancelPoll
	s.cancelPoll = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.alert.Dismiss(ctx)
	s.emergency.GettingHelp(ctx)
	if err := s.states.ResetState(ctx, s.userID, models.FlowTypeTriggerAlert); err != nil {
		slog.Warn("Session close failed to reset alert state", "error", err, "userID", s.userID)
	}
	if err := s.states.ResetState(ctx, s.userID, models.FlowTypeEmergency); err != nil {
		slog.Warn("Session close failed to reset emergency state", "error", err, "userID", s.userID)
	}
	slog.Info("Session closed", "userID", s.userID)
}

// triggerFromAssessment builds the trigger surfaced for a medium/high
// chat-time assessment. Risk levels top out at high; critical assessments
// never reach this path.
func triggerFromAssessment(userID, message string, a models.Assessment) models.Trigger {
	riskLevel := a.Severity
	if riskLevel == models.SeverityCritical {
		riskLevel = models.SeverityHigh
	}
	related := "general"
	if a.CrisisType == models.CrisisTypeRelapse {
		related = "substance"
	}
	trigger := models.Trigger{
		ID:               uuid.NewString(),
		UserID:           userID,
		Context:          message,
		RelatedAddiction: related,
		RiskLevel:        riskLevel,
		DetectedAt:       time.Now(),
	}
	if len(a.Indicators) > 0 {
		trigger.Trigger = string(a.Indicators[0])
	}
	return trigger
}

// SessionManager owns the active sessions keyed by user id.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	coach    CoachService
	store    store.Store
	states   StateManager
	timer    Timer
	poller   TickScheduler  // may be nil; sessions then run without polling
	notifier CrisisNotifier // may be nil
}

// NewSessionManager creates a session manager with the given dependencies.
func NewSessionManager(coach CoachService, st store.Store, states StateManager, timer Timer, poller TickScheduler, notifier CrisisNotifier) *SessionManager {
	slog.Debug("Creating SessionManager", "poller_enabled", poller != nil, "notifier_enabled", notifier != nil)
	return &SessionManager{
		sessions: make(map[string]*Session),
		coach:    coach,
		store:    st,
		states:   states,
		timer:    timer,
		poller:   poller,
		notifier: notifier,
	}
}

// Open creates (or returns the existing) session for a user and starts its
// trigger poller job.
func (sm *SessionManager) Open(ctx context.Context, req models.SessionRequest) (*Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if existing, ok := sm.sessions[req.UserID]; ok {
		return existing, nil
	}

	session := &Session{
		userID: req.UserID,
		locale: req.Locale,
		coach:  sm.coach,
		store:  sm.store,
		states: sm.states,
	}
	session.alert = NewTriggerAlertMachine(req.UserID, req.Locale, sm.timer, sm.coach, sm.states, nil)
	session.emergency = NewEmergencyMachine(req.UserID, req.Locale, req.EmergencyContact, sm.coach, sm.states, sm.notifier)

	if sm.poller != nil {
		cancel, err := sm.poller.Schedule(func() { session.PollTick(context.Background()) })
		if err != nil {
			return nil, fmt.Errorf("failed to start trigger poller: %w", err)
		}
		session.cancelPoll = cancel
	}

	sm.sessions[req.UserID] = session
	slog.Info("Session opened", "userID", req.UserID, "locale", req.Locale)
	return session, nil
}

// Get returns the session for a user, if open.
func (sm *SessionManager) Get(userID string) (*Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	s, ok := sm.sessions[userID]
	return s, ok
}

// Close tears down the session for a user. Closing an unknown session
// returns models.ErrSessionNotFound.
func (sm *SessionManager) Close(ctx context.Context, userID string) error {
	sm.mu.Lock()
	session, ok := sm.sessions[userID]
	if ok {
		delete(sm.sessions, userID)
	}
	sm.mu.Unlock()

	if !ok {
		return models.ErrSessionNotFound
	}
	session.Close(ctx)
	return nil
}

// Shutdown closes every open session.
func (sm *SessionManager) Shutdown(ctx context.Context) {
	sm.mu.Lock()
	sessions := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		sessions = append(sessions, s)
	}
	sm.sessions = make(map[string]*Session)
	sm.mu.Unlock()

	for _, s := range sessions {
		s.Close(ctx)
	}
	slog.Info("SessionManager shut down", "count", len(sessions))
}
