package coach

import (
	"context"
	"testing"

	"github.com/SteadyPath/CoachPipe/internal/models"
)

func TestAssessFallbackOnly(t *testing.T) {
	c := NewAlexCoach()
	ctx := context.Background()

	tests := []struct {
		name          string
		message       string
		wantSeverity  models.Severity
		wantType      models.CrisisType
		wantEmergency bool
	}{
		{
			name:          "benign message",
			message:       "Slept well and made it to my meeting.",
			wantSeverity:  models.SeverityLow,
			wantType:      models.CrisisTypeGeneral,
			wantEmergency: false,
		},
		{
			name:          "relapse language",
			message:       "I'm using again",
			wantSeverity:  models.SeverityMedium,
			wantType:      models.CrisisTypeRelapse,
			wantEmergency: false,
		},
		{
			name:          "suicidal ideation",
			message:       "I've been feeling suicidal",
			wantSeverity:  models.SeverityHigh,
			wantType:      models.CrisisTypeSuicide,
			wantEmergency: false,
		},
		{
			name:          "explicit crisis language",
			message:       "I want to kill myself",
			wantSeverity:  models.SeverityCritical,
			wantType:      models.CrisisTypeSuicide,
			wantEmergency: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := c.Assess(ctx, "u1", tt.message, "")
			if err != nil {
				t.Fatalf("Assess failed: %v", err)
			}
			if a.Severity != tt.wantSeverity {
				t.Errorf("severity = %q, want %q", a.Severity, tt.wantSeverity)
			}
			if a.CrisisType != tt.wantType {
				t.Errorf("crisis type = %q, want %q", a.CrisisType, tt.wantType)
			}
			if a.RequiresEmergency != tt.wantEmergency {
				t.Errorf("requires emergency = %v, want %v", a.RequiresEmergency, tt.wantEmergency)
			}
		})
	}
}

func TestInterveneFallbackOnly(t *testing.T) {
	c := NewAlexCoach(WithLocale("en"))

	intervention, err := c.Intervene(context.Background(), "u1", "substance", models.SeverityMedium)
	if err != nil {
		t.Fatalf("Intervene failed: %v", err)
	}
	if intervention.Message == "" || intervention.ImmediateAction == "" {
		t.Errorf("fallback intervention must carry guidance, got %+v", intervention)
	}
	if intervention.InterventionType != "breathing_exercise" {
		t.Errorf("expected breathing exercise fallback, got %q", intervention.InterventionType)
	}
}

func TestInterveneLocalizedFallback(t *testing.T) {
	en, err := NewAlexCoach(WithLocale("en")).Intervene(context.Background(), "u1", "general", models.SeverityMedium)
	if err != nil {
		t.Fatalf("Intervene failed: %v", err)
	}
	es, err := NewAlexCoach(WithLocale("es")).Intervene(context.Background(), "u1", "general", models.SeverityMedium)
	if err != nil {
		t.Fatalf("Intervene failed: %v", err)
	}
	if en.Message == es.Message {
		t.Error("expected localized fallback content")
	}
}

func TestEmergencyResponseFallbackOnly(t *testing.T) {
	c := NewAlexCoach()

	response, err := c.EmergencyResponse(context.Background(), models.EmergencyRequest{
		UserID:     "u1",
		CrisisType: models.CrisisTypeSuicide,
		Severity:   models.SeverityCritical,
	})
	if err != nil {
		t.Fatalf("EmergencyResponse failed: %v", err)
	}
	if len(response.Resources) == 0 {
		t.Fatal("expected crisis resources from the locale table")
	}
	if len(response.UrgentResources()) == 0 {
		t.Error("expected at least one urgent resource")
	}
	if response.Severity != models.SeverityCritical {
		t.Errorf("expected critical severity, got %q", response.Severity)
	}
	if !response.Emergency {
		t.Error("expected emergency flag set")
	}
}

func TestChatFallbackOnly(t *testing.T) {
	c := NewAlexCoach()

	reply, err := c.Chat(context.Background(), "u1", "hello")
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if reply == "" {
		t.Error("expected a fallback chat reply")
	}
}

func TestParseModelAssessment(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    modelAssessment
		wantErr bool
	}{
		{
			name: "plain JSON",
			raw:  `{"severity": "high", "requires_emergency": false}`,
			want: modelAssessment{Severity: "high", RequiresEmergency: false},
		},
		{
			name: "fenced JSON",
			raw:  "```json\n{\"severity\": \"critical\", \"requires_emergency\": true}\n```",
			want: modelAssessment{Severity: "critical", RequiresEmergency: true},
		},
		{
			name:    "invalid severity",
			raw:     `{"severity": "extreme", "requires_emergency": false}`,
			wantErr: true,
		},
		{
			name:    "not JSON",
			raw:     "I think this is fine",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseModelAssessment(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Error("expected parse error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseModelAssessment failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("parseModelAssessment = %+v, want %+v", got, tt.want)
			}
		})
	}
}
