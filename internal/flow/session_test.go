package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/SteadyPath/CoachPipe/internal/models"
	"github.com/SteadyPath/CoachPipe/internal/risk"
	"github.com/SteadyPath/CoachPipe/internal/store"
)

func newTestSession(t *testing.T, coach CoachService) (*Session, store.Store, *fakePoller) {
	t.Helper()
	st := store.NewInMemoryStore()
	states := NewStoreBasedStateManager(st)
	timer := newFakeTimer()
	if coach == nil {
		coach = &fakeCoach{}
	}
	poller := &fakePoller{}
	sm := NewSessionManager(coach, st, states, timer, poller, nil)
	session, err := sm.Open(context.Background(), models.SessionRequest{UserID: "u1", Locale: "en"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return session, st, poller
}

func TestHandleMessageRoutesChat(t *testing.T) {
	session, _, _ := newTestSession(t, nil)

	reply, err := session.HandleMessage(context.Background(), models.ChatRequest{
		UserID:  "u1",
		Message: "Had a good meeting today, feeling okay.",
	})
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if reply.Routing != models.RoutingChat {
		t.Errorf("expected chat routing, got %q", reply.Routing)
	}
	if reply.Reply == "" {
		t.Error("expected a chat reply")
	}
	if session.Alert().Active() || session.Emergency().Active() {
		t.Error("benign message must not activate any surface")
	}
}

func TestHandleMessageRoutesTriggerAlert(t *testing.T) {
	session, _, _ := newTestSession(t, nil)

	reply, err := session.HandleMessage(context.Background(), models.ChatRequest{
		UserID:  "u1",
		Message: "I'm using again",
	})
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if reply.Routing != models.RoutingTriggerAlert {
		t.Errorf("expected trigger_alert routing, got %q", reply.Routing)
	}
	if reply.Assessment == nil || reply.Assessment.Severity != models.SeverityMedium {
		t.Errorf("expected medium assessment, got %+v", reply.Assessment)
	}
	if !session.Alert().Active() {
		t.Error("expected an active alert")
	}
	if session.Emergency().Active() {
		t.Error("medium severity must not open emergency escalation")
	}

	snap := session.Alert().Snapshot()
	if snap.Trigger == nil || snap.Trigger.RelatedAddiction != "substance" {
		t.Errorf("expected relapse trigger context, got %+v", snap.Trigger)
	}
}

func TestHandleMessageRoutesEmergency(t *testing.T) {
	session, _, _ := newTestSession(t, nil)

	reply, err := session.HandleMessage(context.Background(), models.ChatRequest{
		UserID:  "u1",
		Message: "I want to kill myself",
	})
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if reply.Routing != models.RoutingEmergency {
		t.Errorf("expected emergency routing, got %q", reply.Routing)
	}
	if reply.Reply == "" {
		t.Error("expected the emergency response message as the reply")
	}
	if !session.Emergency().Active() {
		t.Error("expected an open emergency escalation")
	}
	if session.Alert().Active() {
		t.Error("trigger alert must not show during an emergency")
	}
}

func TestHandleMessageEmergencySupersedesAlert(t *testing.T) {
	session, _, _ := newTestSession(t, nil)
	ctx := context.Background()

	if _, err := session.HandleMessage(ctx, models.ChatRequest{UserID: "u1", Message: "I'm using again"}); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if !session.Alert().Active() {
		t.Fatal("expected a showing alert")
	}

	reply, err := session.HandleMessage(ctx, models.ChatRequest{UserID: "u1", Message: "I want to kill myself"})
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if reply.Routing != models.RoutingEmergency {
		t.Errorf("expected emergency routing, got %q", reply.Routing)
	}
	if session.Alert().Active() {
		t.Error("emergency escalation must dismiss the showing alert")
	}
	if !session.Emergency().Active() {
		t.Error("expected an open emergency escalation")
	}
}

func TestHandleMessageQueuesTriggerWhileSurfaceActive(t *testing.T) {
	session, st, _ := newTestSession(t, nil)
	ctx := context.Background()

	if _, err := session.HandleMessage(ctx, models.ChatRequest{UserID: "u1", Message: "I'm using again"}); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}

	// The alert is showing, so a second medium signal is queued for the poller
	// and the message falls through to chat.
	reply, err := session.HandleMessage(ctx, models.ChatRequest{UserID: "u1", Message: "I really want to drink"})
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if reply.Routing != models.RoutingChat {
		t.Errorf("expected chat routing while alert is showing, got %q", reply.Routing)
	}

	pending, err := st.GetPendingTriggers("u1")
	if err != nil {
		t.Fatalf("GetPendingTriggers failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 queued trigger, got %d", len(pending))
	}
	if pending[0].Trigger != "want to drink" {
		t.Errorf("unexpected queued trigger: %+v", pending[0])
	}
}

func TestHandleMessageQueuesTriggerWhenAlertWinsRace(t *testing.T) {
	// The alert appears while the message is still being assessed, so the
	// surface attempt loses the slot. The trigger must be queued, not dropped.
	var session *Session
	coach := &fakeCoach{
		assessFn: func(message string) (models.Assessment, error) {
			if err := session.Alert().Show(context.Background(), testTrigger("racing")); err != nil {
				t.Errorf("Show failed: %v", err)
			}
			return risk.Evaluate(message, ""), nil
		},
	}
	session, st, _ := newTestSession(t, coach)

	reply, err := session.HandleMessage(context.Background(), models.ChatRequest{
		UserID:  "u1",
		Message: "I really want to drink",
	})
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if reply.Routing != models.RoutingChat {
		t.Errorf("expected chat routing when the alert slot is taken, got %q", reply.Routing)
	}

	pending, err := st.GetPendingTriggers("u1")
	if err != nil {
		t.Fatalf("GetPendingTriggers failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected the losing trigger to be queued, got %d pending", len(pending))
	}
	if pending[0].Trigger != "want to drink" {
		t.Errorf("unexpected queued trigger: %+v", pending[0])
	}
	if snap := session.Alert().Snapshot(); snap.Trigger == nil || snap.Trigger.ID != "racing" {
		t.Errorf("showing trigger must not be replaced, got %+v", snap.Trigger)
	}
}

func TestHandleMessageAssessmentFailureFallsBackToKeywords(t *testing.T) {
	coach := &fakeCoach{
		assessFn: func(message string) (models.Assessment, error) {
			return models.Assessment{}, errors.New("model unavailable")
		},
	}
	session, _, _ := newTestSession(t, coach)

	reply, err := session.HandleMessage(context.Background(), models.ChatRequest{
		UserID:  "u1",
		Message: "I want to kill myself",
	})
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if reply.Routing != models.RoutingEmergency {
		t.Errorf("keyword fallback must still catch crisis language, got %q", reply.Routing)
	}
}

func TestPollTickSurfacesPendingTrigger(t *testing.T) {
	session, st, _ := newTestSession(t, nil)
	ctx := context.Background()

	if err := st.AddTrigger(testTrigger("t1")); err != nil {
		t.Fatalf("AddTrigger failed: %v", err)
	}

	session.PollTick(ctx)

	if !session.Alert().Active() {
		t.Error("expected the poller to surface the pending trigger")
	}
	pending, _ := st.GetPendingTriggers("u1")
	if len(pending) != 0 {
		t.Errorf("surfaced trigger must be consumed, %d still pending", len(pending))
	}
}

func TestPollTickNoOpWhileAlertShowing(t *testing.T) {
	session, st, _ := newTestSession(t, nil)
	ctx := context.Background()

	if err := session.Alert().Show(ctx, testTrigger("t1")); err != nil {
		t.Fatalf("Show failed: %v", err)
	}
	if err := st.AddTrigger(testTrigger("t2")); err != nil {
		t.Fatalf("AddTrigger failed: %v", err)
	}

	session.PollTick(ctx)

	pending, _ := st.GetPendingTriggers("u1")
	if len(pending) != 1 {
		t.Errorf("poll tick must be a no-op while an alert shows, %d pending", len(pending))
	}
	if snap := session.Alert().Snapshot(); snap.Trigger.ID != "t1" {
		t.Errorf("showing trigger must not be replaced, got %q", snap.Trigger.ID)
	}
}

func TestPollTickNoOpWhileEmergencyActive(t *testing.T) {
	session, st, _ := newTestSession(t, nil)
	ctx := context.Background()

	session.Emergency().Activate(ctx, testEmergencyRequest())
	if err := st.AddTrigger(testTrigger("t1")); err != nil {
		t.Fatalf("AddTrigger failed: %v", err)
	}

	session.PollTick(ctx)

	if session.Alert().Active() {
		t.Error("alert must stay suppressed during an emergency")
	}
	pending, _ := st.GetPendingTriggers("u1")
	if len(pending) != 1 {
		t.Errorf("trigger must stay pending during an emergency, got %d", len(pending))
	}
}

// fetchHookStore delegates to an inner store and runs a hook before returning
// pending triggers, simulating a surface appearing mid tick.
type fetchHookStore struct {
	store.Store
	onFetch func()
}

func (s *fetchHookStore) GetPendingTriggers(userID string) ([]models.Trigger, error) {
	if s.onFetch != nil {
		s.onFetch()
	}
	return s.Store.GetPendingTriggers(userID)
}

func TestPollTickKeepsTriggerWhenAlertWinsRace(t *testing.T) {
	session, st, _ := newTestSession(t, nil)
	ctx := context.Background()

	if err := st.AddTrigger(testTrigger("t1")); err != nil {
		t.Fatalf("AddTrigger failed: %v", err)
	}
	session.store = &fetchHookStore{Store: st, onFetch: func() {
		if err := session.Alert().Show(ctx, testTrigger("racing")); err != nil {
			t.Errorf("Show failed: %v", err)
		}
	}}

	session.PollTick(ctx)

	// The surface attempt lost, so the trigger must not be consumed.
	pending, err := st.GetPendingTriggers("u1")
	if err != nil {
		t.Fatalf("GetPendingTriggers failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "t1" {
		t.Fatalf("expected t1 to stay pending, got %+v", pending)
	}
	if snap := session.Alert().Snapshot(); snap.Trigger == nil || snap.Trigger.ID != "racing" {
		t.Errorf("showing trigger must not be replaced, got %+v", snap.Trigger)
	}
}

func TestPollTickEmptyQueue(t *testing.T) {
	session, _, _ := newTestSession(t, nil)

	session.PollTick(context.Background())

	if session.Alert().Active() {
		t.Error("an empty queue must not activate the alert")
	}
}

func TestAlertTalkToCoachHandoff(t *testing.T) {
	coach := &fakeCoach{}
	session, _, _ := newTestSession(t, coach)
	ctx := context.Background()

	if err := session.Alert().Show(ctx, testTrigger("t1")); err != nil {
		t.Fatalf("Show failed: %v", err)
	}
	reply, err := session.AlertTalkToCoach(ctx)
	if err != nil {
		t.Fatalf("AlertTalkToCoach failed: %v", err)
	}
	if reply == "" {
		t.Error("expected an opening chat reply")
	}
	if session.Alert().Active() {
		t.Error("alert should close on handoff")
	}
	if coach.chatCalls != 1 {
		t.Errorf("expected one chat call, got %d", coach.chatCalls)
	}
}

func TestEmergencyContinueWithCoachHandoff(t *testing.T) {
	session, _, _ := newTestSession(t, nil)
	ctx := context.Background()

	session.Emergency().Activate(ctx, testEmergencyRequest())
	reply, err := session.EmergencyContinueWithCoach(ctx)
	if err != nil {
		t.Fatalf("EmergencyContinueWithCoach failed: %v", err)
	}
	if reply == "" {
		t.Error("expected a chat reply after the emergency handoff")
	}
	if session.Emergency().Active() {
		t.Error("escalation should close on handoff")
	}
}

func TestSessionManagerLifecycle(t *testing.T) {
	st := store.NewInMemoryStore()
	states := NewStoreBasedStateManager(st)
	poller := &fakePoller{}
	sm := NewSessionManager(&fakeCoach{}, st, states, newFakeTimer(), poller, nil)
	ctx := context.Background()

	if _, err := sm.Open(ctx, models.SessionRequest{}); !errors.Is(err, models.ErrEmptyUserID) {
		t.Errorf("expected ErrEmptyUserID, got %v", err)
	}

	first, err := sm.Open(ctx, models.SessionRequest{UserID: "u1"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	again, err := sm.Open(ctx, models.SessionRequest{UserID: "u1"})
	if err != nil {
		t.Fatalf("repeat Open failed: %v", err)
	}
	if first != again {
		t.Error("opening an open session must return the existing session")
	}

	got, ok := sm.Get("u1")
	if !ok || got != first {
		t.Error("Get should return the open session")
	}
	if _, ok := sm.Get("unknown"); ok {
		t.Error("Get should miss for unknown users")
	}

	if err := sm.Close(ctx, "unknown"); !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	if err := sm.Close(ctx, "u1"); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !poller.wasCancelled() {
		t.Error("closing the session must cancel its poller job")
	}
	if _, ok := sm.Get("u1"); ok {
		t.Error("closed session should be removed")
	}
}

func TestSessionCloseTearsDownSurfaces(t *testing.T) {
	session, st, _ := newTestSession(t, nil)
	ctx := context.Background()

	if err := session.Alert().Show(ctx, testTrigger("t1")); err != nil {
		t.Fatalf("Show failed: %v", err)
	}
	session.Close(ctx)

	if session.Alert().Active() {
		t.Error("alert should be dismissed on session close")
	}
	alertState, _ := st.GetFlowState("u1", string(models.FlowTypeTriggerAlert))
	if alertState != nil {
		t.Errorf("persisted alert state should be reset, got %+v", alertState)
	}
	emergencyState, _ := st.GetFlowState("u1", string(models.FlowTypeEmergency))
	if emergencyState != nil {
		t.Errorf("persisted emergency state should be reset, got %+v", emergencyState)
	}

	// Close is idempotent.
	session.Close(ctx)
}

func TestSessionManagerShutdown(t *testing.T) {
	st := store.NewInMemoryStore()
	states := NewStoreBasedStateManager(st)
	sm := NewSessionManager(&fakeCoach{}, st, states, newFakeTimer(), &fakePoller{}, nil)
	ctx := context.Background()

	for _, id := range []string{"u1", "u2"} {
		if _, err := sm.Open(ctx, models.SessionRequest{UserID: id}); err != nil {
			t.Fatalf("Open %s failed: %v", id, err)
		}
	}

	sm.Shutdown(ctx)

	for _, id := range []string{"u1", "u2"} {
		if _, ok := sm.Get(id); ok {
			t.Errorf("session %s should be closed after shutdown", id)
		}
	}
}
