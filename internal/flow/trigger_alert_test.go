package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/SteadyPath/CoachPipe/internal/models"
)

func testTrigger(id string) models.Trigger {
	return models.Trigger{
		ID:               id,
		UserID:           "u1",
		Trigger:          "craving",
		Context:          "the cravings are back",
		RelatedAddiction: "substance",
		RiskLevel:        models.SeverityMedium,
	}
}

func newTestAlertMachine(t *testing.T, coach CoachService) (*TriggerAlertMachine, *fakeTimer) {
	t.Helper()
	states, _ := newTestStateManager()
	timer := newFakeTimer()
	if coach == nil {
		coach = &fakeCoach{}
	}
	return NewTriggerAlertMachine("u1", "en", timer, coach, states, nil), timer
}

func TestAlertShow(t *testing.T) {
	m, timer := newTestAlertMachine(t, nil)
	ctx := context.Background()

	if m.Active() {
		t.Fatal("new machine should be idle")
	}

	if err := m.Show(ctx, testTrigger("t1")); err != nil {
		t.Fatalf("Show failed: %v", err)
	}
	if !m.Active() {
		t.Error("expected active alert after Show")
	}

	snap := m.Snapshot()
	if snap.State != models.StateAlertShowing {
		t.Errorf("expected SHOWING, got %q", snap.State)
	}
	if snap.Countdown != CountdownSeconds {
		t.Errorf("expected countdown %d, got %d", CountdownSeconds, snap.Countdown)
	}
	if snap.Trigger == nil || snap.Trigger.ID != "t1" {
		t.Errorf("expected trigger t1 on snapshot, got %+v", snap.Trigger)
	}
	if timer.pendingCount() != 1 {
		t.Errorf("expected one scheduled countdown tick, got %d", timer.pendingCount())
	}

	// Only one alert may be active at a time.
	if err := m.Show(ctx, testTrigger("t2")); !errors.Is(err, ErrAlertActive) {
		t.Errorf("expected ErrAlertActive, got %v", err)
	}
	if snap := m.Snapshot(); snap.Trigger.ID != "t1" {
		t.Errorf("second Show must not replace the active trigger, got %q", snap.Trigger.ID)
	}
}

func TestAlertCountdownTimeout(t *testing.T) {
	m, timer := newTestAlertMachine(t, nil)
	ctx := context.Background()

	if err := m.Show(ctx, testTrigger("t1")); err != nil {
		t.Fatalf("Show failed: %v", err)
	}

	for i := 0; i < CountdownSeconds-1; i++ {
		if !timer.fire() {
			t.Fatalf("no pending tick at step %d", i)
		}
	}
	if !m.Active() {
		t.Fatal("alert should still be active with countdown remaining")
	}
	if snap := m.Snapshot(); snap.Countdown != 1 {
		t.Errorf("expected countdown 1, got %d", snap.Countdown)
	}

	// The final tick auto-dismisses, equivalent to manual dismissal.
	if !timer.fire() {
		t.Fatal("no final tick pending")
	}
	if m.Active() {
		t.Error("alert should be closed after countdown reaches zero")
	}
	snap := m.Snapshot()
	if snap.State != models.StateAlertTimedOut {
		t.Errorf("expected TIMED_OUT, got %q", snap.State)
	}
	if snap.Trigger != nil {
		t.Errorf("active trigger slot must be cleared, got %+v", snap.Trigger)
	}
	if timer.pendingCount() != 0 {
		t.Errorf("no ticks should remain after timeout, got %d", timer.pendingCount())
	}

	// The machine is reusable after a terminal state.
	if err := m.Show(ctx, testTrigger("t2")); err != nil {
		t.Errorf("Show after timeout failed: %v", err)
	}
}

func TestAlertDismiss(t *testing.T) {
	m, timer := newTestAlertMachine(t, nil)
	ctx := context.Background()

	// Dismissing an idle alert is a no-op.
	m.Dismiss(ctx)
	if snap := m.Snapshot(); snap.State != models.StateAlertIdle {
		t.Errorf("expected IDLE after no-op dismiss, got %q", snap.State)
	}

	if err := m.Show(ctx, testTrigger("t1")); err != nil {
		t.Fatalf("Show failed: %v", err)
	}
	m.Dismiss(ctx)
	if m.Active() {
		t.Error("alert should be closed after dismiss")
	}
	if snap := m.Snapshot(); snap.State != models.StateAlertDismissed {
		t.Errorf("expected DISMISSED, got %q", snap.State)
	}
	if timer.pendingCount() != 0 {
		t.Errorf("countdown should be cancelled on dismiss, got %d pending", timer.pendingCount())
	}

	// Dismiss is idempotent.
	m.Dismiss(ctx)
	if snap := m.Snapshot(); snap.State != models.StateAlertDismissed {
		t.Errorf("expected DISMISSED after repeat dismiss, got %q", snap.State)
	}
}

func TestAlertStaleTickDiscarded(t *testing.T) {
	m, timer := newTestAlertMachine(t, nil)
	ctx := context.Background()

	if err := m.Show(ctx, testTrigger("t1")); err != nil {
		t.Fatalf("Show failed: %v", err)
	}

	// Capture the pending tick as if it were already in flight, then dismiss.
	timer.mu.Lock()
	var tick func()
	for _, f := range timer.pending {
		tick = f
	}
	timer.mu.Unlock()
	if tick == nil {
		t.Fatal("expected a pending countdown tick")
	}
	m.Dismiss(ctx)

	before := m.Snapshot()
	tick()
	after := m.Snapshot()
	if after.State != before.State || after.Countdown != before.Countdown {
		t.Errorf("stale tick mutated machine: before %+v after %+v", before, after)
	}
}

func TestAlertRequestHelp(t *testing.T) {
	coach := &fakeCoach{}
	m, timer := newTestAlertMachine(t, coach)
	ctx := context.Background()

	// Help without a showing alert is an error.
	if _, err := m.RequestHelp(ctx); !errors.Is(err, ErrNoActiveAlert) {
		t.Errorf("expected ErrNoActiveAlert, got %v", err)
	}

	if err := m.Show(ctx, testTrigger("t1")); err != nil {
		t.Fatalf("Show failed: %v", err)
	}
	intervention, err := m.RequestHelp(ctx)
	if err != nil {
		t.Fatalf("RequestHelp failed: %v", err)
	}
	if intervention.Message == "" {
		t.Error("expected intervention content")
	}
	if coach.interveneCalls != 1 {
		t.Errorf("expected one intervention fetch, got %d", coach.interveneCalls)
	}

	snap := m.Snapshot()
	if snap.State != models.StateAlertHelp {
		t.Errorf("expected HELP_SHOWN, got %q", snap.State)
	}
	if snap.Intervention == nil || snap.Intervention.Message != intervention.Message {
		t.Errorf("expected intervention on snapshot, got %+v", snap.Intervention)
	}
	if timer.pendingCount() != 0 {
		t.Error("countdown must stop while an intervention is displayed")
	}
	if !m.Active() {
		t.Error("help state still counts as active")
	}
}

func TestAlertRequestHelpFallback(t *testing.T) {
	coach := &fakeCoach{
		interveneFn: func() (models.Intervention, error) {
			return models.Intervention{}, errors.New("upstream unavailable")
		},
	}
	m, _ := newTestAlertMachine(t, coach)
	ctx := context.Background()

	if err := m.Show(ctx, testTrigger("t1")); err != nil {
		t.Fatalf("Show failed: %v", err)
	}
	intervention, err := m.RequestHelp(ctx)
	if err != nil {
		t.Fatalf("RequestHelp must not fail when the fetch fails: %v", err)
	}
	if intervention.Message == "" || intervention.ImmediateAction == "" {
		t.Errorf("fallback intervention must carry guidance, got %+v", intervention)
	}
	if snap := m.Snapshot(); snap.State != models.StateAlertHelp {
		t.Errorf("expected HELP_SHOWN with fallback, got %q", snap.State)
	}
}

func TestAlertRequestHelpDiscardsLateResult(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	coach := &fakeCoach{
		interveneFn: func() (models.Intervention, error) {
			close(started)
			<-release
			return models.Intervention{Message: "late result"}, nil
		},
	}
	m, _ := newTestAlertMachine(t, coach)
	ctx := context.Background()

	if err := m.Show(ctx, testTrigger("t1")); err != nil {
		t.Fatalf("Show failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := m.RequestHelp(ctx); err != nil {
			t.Errorf("RequestHelp failed: %v", err)
		}
	}()

	<-started
	m.Dismiss(ctx)
	close(release)
	<-done

	snap := m.Snapshot()
	if snap.State != models.StateAlertDismissed {
		t.Errorf("expected DISMISSED, got %q", snap.State)
	}
	if snap.Intervention != nil {
		t.Errorf("late intervention result must be discarded, got %+v", snap.Intervention)
	}
}

func TestAlertTalkToCoach(t *testing.T) {
	m, timer := newTestAlertMachine(t, nil)
	ctx := context.Background()

	if _, err := m.TalkToCoach(ctx); !errors.Is(err, ErrNoActiveAlert) {
		t.Errorf("expected ErrNoActiveAlert, got %v", err)
	}

	if err := m.Show(ctx, testTrigger("t1")); err != nil {
		t.Fatalf("Show failed: %v", err)
	}
	trigger, err := m.TalkToCoach(ctx)
	if err != nil {
		t.Fatalf("TalkToCoach failed: %v", err)
	}
	if trigger == nil || trigger.ID != "t1" {
		t.Errorf("expected trigger for the chat handoff, got %+v", trigger)
	}
	if m.Active() {
		t.Error("alert should be closed after handoff")
	}
	if snap := m.Snapshot(); snap.State != models.StateAlertHandedOff {
		t.Errorf("expected HANDED_OFF, got %q", snap.State)
	}
	if timer.pendingCount() != 0 {
		t.Error("countdown should be cancelled on handoff")
	}
}

func TestAlertTalkToCoachFromHelp(t *testing.T) {
	m, _ := newTestAlertMachine(t, nil)
	ctx := context.Background()

	if err := m.Show(ctx, testTrigger("t1")); err != nil {
		t.Fatalf("Show failed: %v", err)
	}
	if _, err := m.RequestHelp(ctx); err != nil {
		t.Fatalf("RequestHelp failed: %v", err)
	}
	trigger, err := m.TalkToCoach(ctx)
	if err != nil {
		t.Fatalf("TalkToCoach from help failed: %v", err)
	}
	if trigger == nil || trigger.ID != "t1" {
		t.Errorf("expected trigger on handoff from help, got %+v", trigger)
	}
}
