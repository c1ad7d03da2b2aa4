// Package coach implements the AI recovery coach behind the session flows:
// message assessment, chat replies, intervention generation, and emergency
// responses.
//
// Every operation degrades to deterministic keyword/locale fallback content
// when the GenAI client is absent or errors, so the crisis pipeline keeps
// working without network access. Crisis contact lists are always served
// from the curated locale tables, never model output.
package coach

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/SteadyPath/CoachPipe/internal/genai"
	"github.com/SteadyPath/CoachPipe/internal/locale"
	"github.com/SteadyPath/CoachPipe/internal/models"
	"github.com/SteadyPath/CoachPipe/internal/risk"
)

// Service defines the coach operations consumed by the session flows. The
// request/response shapes mirror the external crisis-assessment,
// intervention, and emergency-response contracts.
type Service interface {
	// Assess evaluates a user message for risk signals.
	Assess(ctx context.Context, userID, message, msgContext string) (models.Assessment, error)

	// Intervene produces coping guidance for an active trigger.
	Intervene(ctx context.Context, userID, triggerType string, urgency models.Severity) (models.Intervention, error)

	// EmergencyResponse produces crisis resources for an emergency escalation.
	EmergencyResponse(ctx context.Context, req models.EmergencyRequest) (models.EmergencyResponse, error)

	// Chat produces an ordinary conversational reply.
	Chat(ctx context.Context, userID, message string) (string, error)
}

// AlexCoach is the production Service implementation. A nil GenAI client is
// valid and yields fallback-only behavior.
type AlexCoach struct {
	ai      *genai.Client
	locales string // default locale for fallback content
}

// Opts holds configuration options for the coach service.
type Opts struct {
	AI     *genai.Client
	Locale string
}

// Option defines a configuration option for the coach service.
type Option func(*Opts)

// WithGenAI sets the GenAI client used for model-backed responses.
func WithGenAI(ai *genai.Client) Option {
	return func(o *Opts) { o.AI = ai }
}

// WithLocale sets the default locale for fallback content.
func WithLocale(loc string) Option {
	return func(o *Opts) { o.Locale = loc }
}

// NewAlexCoach creates the coach service.
func NewAlexCoach(opts ...Option) *AlexCoach {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Locale == "" {
		cfg.Locale = locale.DefaultLocale
	}
	slog.Debug("Creating AlexCoach", "genai_enabled", cfg.AI != nil, "locale", cfg.Locale)
	return &AlexCoach{ai: cfg.AI, locales: cfg.Locale}
}

// modelAssessment is the JSON shape requested from the model for assessments.
type modelAssessment struct {
	Severity          string `json:"severity"`
	RequiresEmergency bool   `json:"requires_emergency"`
}

const assessSystemPrompt = `You are a crisis triage assistant for an addiction recovery app.
Evaluate the user's message for risk of suicide, self-harm, or relapse.
Respond with JSON only: {"severity": "low"|"medium"|"high"|"critical", "requires_emergency": true|false}.
When in doubt, choose the more severe level.`

// Assess evaluates a user message for risk signals. Keyword matching always
// runs; a model-supplied severity takes precedence per the classifier
// contract, but a keyword-critical result keeps requires_emergency set so the
// model can never under-escalate an explicit crisis phrase.
func (c *AlexCoach) Assess(ctx context.Context, userID, message, msgContext string) (models.Assessment, error) {
	slog.Debug("AlexCoach Assess invoked", "userID", userID)

	keyword := risk.Evaluate(message, "")

	var modelSeverity models.Severity
	modelEmergency := false
	if c.ai != nil {
		userPrompt := message
		if msgContext != "" {
			userPrompt = fmt.Sprintf("Context: %s\n\nMessage: %s", msgContext, message)
		}
		raw, err := c.ai.GeneratePrompt(ctx, assessSystemPrompt, userPrompt)
		if err != nil {
			slog.Warn("AlexCoach Assess model call failed, using keyword assessment", "error", err, "userID", userID)
		} else if parsed, perr := parseModelAssessment(raw); perr != nil {
			slog.Warn("AlexCoach Assess model response unparseable, using keyword assessment", "error", perr, "userID", userID)
		} else {
			modelSeverity = models.Severity(parsed.Severity)
			modelEmergency = parsed.RequiresEmergency
		}
	}

	assessment := models.Assessment{
		Severity:   risk.Classify(keyword.Indicators, modelSeverity),
		Indicators: keyword.Indicators,
		CrisisType: keyword.CrisisType,
	}
	assessment.RequiresEmergency = modelEmergency ||
		assessment.Severity == models.SeverityCritical ||
		keyword.RequiresEmergency

	slog.Info("AlexCoach Assess completed", "userID", userID, "severity", assessment.Severity, "crisisType", assessment.CrisisType, "requiresEmergency", assessment.RequiresEmergency)
	return assessment, nil
}

// parseModelAssessment decodes the model's JSON, tolerating code fences.
func parseModelAssessment(raw string) (modelAssessment, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")

	var parsed modelAssessment
	if err := json.Unmarshal([]byte(strings.TrimSpace(cleaned)), &parsed); err != nil {
		return modelAssessment{}, fmt.Errorf("failed to parse model assessment: %w", err)
	}
	if !models.IsValidSeverity(models.Severity(parsed.Severity)) {
		return modelAssessment{}, fmt.Errorf("model returned invalid severity %q", parsed.Severity)
	}
	return parsed, nil
}

const interveneSystemPrompt = `You are Alex, a warm, non-judgmental addiction recovery coach.
Generate a short intervention for a user experiencing a trigger.
Respond with JSON only:
{"intervention_type": string, "immediate_action": string, "message": string, "coping_strategy": string, "follow_up_questions": [string]}.
Keep each field to one or two sentences. Never include medical advice.`

// Intervene produces coping guidance for an active trigger. Model failures
// fall back to the locale table's breathing exercise; the caller never
// receives an empty intervention.
func (c *AlexCoach) Intervene(ctx context.Context, userID, triggerType string, urgency models.Severity) (models.Intervention, error) {
	slog.Debug("AlexCoach Intervene invoked", "userID", userID, "triggerType", triggerType, "urgency", urgency)

	if c.ai == nil {
		return locale.FallbackIntervention(c.locales), nil
	}

	userPrompt := fmt.Sprintf("Trigger type: %s\nUrgency level: %s\nGenerate the intervention now.", triggerType, urgency)
	raw, err := c.ai.GeneratePrompt(ctx, interveneSystemPrompt, userPrompt)
	if err != nil {
		slog.Warn("AlexCoach Intervene model call failed, using fallback", "error", err, "userID", userID)
		return locale.FallbackIntervention(c.locales), nil
	}

	var intervention models.Intervention
	cleaned := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(raw), "```json"), "```"), "```"))
	if err := json.Unmarshal([]byte(cleaned), &intervention); err != nil || intervention.Message == "" {
		slog.Warn("AlexCoach Intervene model response unparseable, using fallback", "error", err, "userID", userID)
		return locale.FallbackIntervention(c.locales), nil
	}

	slog.Info("AlexCoach Intervene completed", "userID", userID, "interventionType", intervention.InterventionType)
	return intervention, nil
}

const emergencySystemPrompt = `You are Alex, an addiction recovery coach responding to a user in crisis.
Write a short, calm, supportive message (2-3 sentences) urging them to use the crisis resources shown alongside it.
Respond with the message text only, no JSON, no lists.`

// EmergencyResponse produces crisis resources for an emergency escalation.
// The resource list always comes from the curated locale table; only the
// accompanying message is model-generated. Any failure yields the full
// fallback response, which always contains at least one urgent resource.
func (c *AlexCoach) EmergencyResponse(ctx context.Context, req models.EmergencyRequest) (models.EmergencyResponse, error) {
	slog.Debug("AlexCoach EmergencyResponse invoked", "userID", req.UserID, "crisisType", req.CrisisType, "severity", req.Severity, "location_set", req.Location != nil)

	response := locale.FallbackEmergencyResponse(c.locales)
	if req.Severity != "" {
		response.Severity = models.MaxSeverity(response.Severity, req.Severity)
	}

	if c.ai != nil {
		userPrompt := fmt.Sprintf("Crisis type: %s\nSeverity: %s", req.CrisisType, req.Severity)
		if req.UserMessage != "" {
			userPrompt += "\nUser message: " + req.UserMessage
		}
		msg, err := c.ai.GeneratePrompt(ctx, emergencySystemPrompt, userPrompt)
		if err != nil {
			slog.Warn("AlexCoach EmergencyResponse model call failed, using fallback message", "error", err, "userID", req.UserID)
		} else if strings.TrimSpace(msg) != "" {
			response.Message = strings.TrimSpace(msg)
		}
	}

	slog.Info("AlexCoach EmergencyResponse completed", "userID", req.UserID, "resources", len(response.Resources))
	return response, nil
}

const chatSystemPrompt = `You are Alex, a warm, non-judgmental AI recovery coach.
Listen, validate feelings, and gently encourage healthy coping. Keep replies short and conversational.
Never diagnose and never discourage someone from seeking professional help.`

// Chat produces an ordinary conversational reply.
func (c *AlexCoach) Chat(ctx context.Context, userID, message string) (string, error) {
	slog.Debug("AlexCoach Chat invoked", "userID", userID)

	if c.ai == nil {
		return "I'm here with you. Tell me more about what's on your mind.", nil
	}
	reply, err := c.ai.GeneratePrompt(ctx, chatSystemPrompt, message)
	if err != nil {
		slog.Warn("AlexCoach Chat model call failed, using fallback reply", "error", err, "userID", userID)
		return "I'm here with you. Tell me more about what's on your mind.", nil
	}
	return reply, nil
}
