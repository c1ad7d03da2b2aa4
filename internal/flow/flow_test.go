package flow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/SteadyPath/CoachPipe/internal/models"
	"github.com/SteadyPath/CoachPipe/internal/risk"
	"github.com/SteadyPath/CoachPipe/internal/store"
)

// fakeCoach is a controllable CoachService. Unset function fields fall back
// to keyword assessment and canned content.
type fakeCoach struct {
	mu             sync.Mutex
	assessFn       func(message string) (models.Assessment, error)
	interveneFn    func() (models.Intervention, error)
	emergencyFn    func(req models.EmergencyRequest) (models.EmergencyResponse, error)
	chatFn         func(message string) (string, error)
	interveneCalls int
	emergencyCalls int
	chatCalls      int
}

func (c *fakeCoach) Assess(ctx context.Context, userID, message, msgContext string) (models.Assessment, error) {
	if c.assessFn != nil {
		return c.assessFn(message)
	}
	return risk.Evaluate(message, ""), nil
}

func (c *fakeCoach) Intervene(ctx context.Context, userID, triggerType string, urgency models.Severity) (models.Intervention, error) {
	c.mu.Lock()
	c.interveneCalls++
	c.mu.Unlock()
	if c.interveneFn != nil {
		return c.interveneFn()
	}
	return models.Intervention{
		InterventionType: "grounding",
		ImmediateAction:  "Name five things you can see.",
		Message:          "Let's ground ourselves for a moment.",
		CopingStrategy:   "5-4-3-2-1 sensory grounding",
	}, nil
}

func (c *fakeCoach) EmergencyResponse(ctx context.Context, req models.EmergencyRequest) (models.EmergencyResponse, error) {
	c.mu.Lock()
	c.emergencyCalls++
	c.mu.Unlock()
	if c.emergencyFn != nil {
		return c.emergencyFn(req)
	}
	return models.EmergencyResponse{
		Message:          "You are not alone. Help is available right now.",
		ImmediateActions: []string{"Call 988"},
		Resources: []models.Resource{
			{Name: "988 Lifeline", Contact: "988", Urgent: true},
		},
		Severity:  req.Severity,
		Emergency: true,
	}, nil
}

func (c *fakeCoach) Chat(ctx context.Context, userID, message string) (string, error) {
	c.mu.Lock()
	c.chatCalls++
	c.mu.Unlock()
	if c.chatFn != nil {
		return c.chatFn(message)
	}
	return "I hear you. Tell me more about that.", nil
}

// fakeTimer captures scheduled functions for manual firing.
type fakeTimer struct {
	mu      sync.Mutex
	nextID  int
	pending map[string]func()
}

func newFakeTimer() *fakeTimer {
	return &fakeTimer{pending: make(map[string]func())}
}

func (t *fakeTimer) ScheduleAfter(delay time.Duration, fn func()) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := fmt.Sprintf("fake_%d", t.nextID)
	t.pending[id] = fn
	return id, nil
}

func (t *fakeTimer) Cancel(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, id)
	return nil
}

// fire runs one pending function, if any, and reports whether one ran.
func (t *fakeTimer) fire() bool {
	t.mu.Lock()
	var fn func()
	for id, f := range t.pending {
		fn = f
		delete(t.pending, id)
		break
	}
	t.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}

func (t *fakeTimer) pendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// fakeNotifier records crisis notifications on a channel.
type notification struct {
	userID   string
	contact  string
	severity models.Severity
}

type fakeNotifier struct {
	calls chan notification
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{calls: make(chan notification, 4)}
}

func (n *fakeNotifier) NotifyEmergencyContact(ctx context.Context, userID, contact string, severity models.Severity) error {
	n.calls <- notification{userID: userID, contact: contact, severity: severity}
	return nil
}

// fakePoller implements TickScheduler and records the registered task.
type fakePoller struct {
	mu        sync.Mutex
	task      func()
	cancelled bool
}

func (p *fakePoller) Schedule(task func()) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.task = task
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.cancelled = true
	}, nil
}

func (p *fakePoller) wasCancelled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelled
}

// newTestStateManager builds a state manager over a fresh in-memory store.
func newTestStateManager() (StateManager, store.Store) {
	st := store.NewInMemoryStore()
	return NewStoreBasedStateManager(st), st
}

func TestStoreBasedStateManager(t *testing.T) {
	sm, _ := newTestStateManager()
	ctx := context.Background()

	// Absent state reads as empty, not an error.
	state, err := sm.GetCurrentState(ctx, "u1", models.FlowTypeTriggerAlert)
	if err != nil {
		t.Fatalf("GetCurrentState failed: %v", err)
	}
	if state != "" {
		t.Errorf("expected empty state, got %q", state)
	}

	if err := sm.SetCurrentState(ctx, "u1", models.FlowTypeTriggerAlert, models.StateAlertShowing); err != nil {
		t.Fatalf("SetCurrentState failed: %v", err)
	}
	state, _ = sm.GetCurrentState(ctx, "u1", models.FlowTypeTriggerAlert)
	if state != models.StateAlertShowing {
		t.Errorf("expected SHOWING, got %q", state)
	}

	if err := sm.SetStateData(ctx, "u1", models.FlowTypeTriggerAlert, models.DataKeyCountdown, "7"); err != nil {
		t.Fatalf("SetStateData failed: %v", err)
	}
	data, err := sm.GetStateData(ctx, "u1", models.FlowTypeTriggerAlert, models.DataKeyCountdown)
	if err != nil {
		t.Fatalf("GetStateData failed: %v", err)
	}
	if data != "7" {
		t.Errorf("expected countdown data 7, got %q", data)
	}

	// Data writes must not clobber the current state.
	state, _ = sm.GetCurrentState(ctx, "u1", models.FlowTypeTriggerAlert)
	if state != models.StateAlertShowing {
		t.Errorf("state lost after SetStateData: %q", state)
	}

	if err := sm.ResetState(ctx, "u1", models.FlowTypeTriggerAlert); err != nil {
		t.Fatalf("ResetState failed: %v", err)
	}
	state, _ = sm.GetCurrentState(ctx, "u1", models.FlowTypeTriggerAlert)
	if state != "" {
		t.Errorf("expected empty state after reset, got %q", state)
	}
}
