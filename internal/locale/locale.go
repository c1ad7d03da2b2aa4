// Package locale provides hardcoded fallback content for interventions and
// emergency responses, keyed by locale. The state machines stay
// language-agnostic by pulling all fallback strings from these tables.
package locale

import (
	"log/slog"

	"github.com/SteadyPath/CoachPipe/internal/models"
)

// DefaultLocale is used when a session has no locale or an unknown one.
const DefaultLocale = "en"

// fallbackInterventions is shown when an intervention fetch fails. The user
// must never be left without guidance, so the table always resolves.
var fallbackInterventions = map[string]models.Intervention{
	"en": {
		InterventionType: "breathing_exercise",
		ImmediateAction:  "Pause and take a slow, deep breath.",
		Message:          "Let's take a moment together. Breathe in for 4 counts, hold for 4, and breathe out for 6. Repeat this three times.",
		CopingStrategy:   "Grounding through breath: focus only on the air moving in and out until the urge softens.",
		FollowUpQuestions: []string{
			"How are you feeling after the breathing exercise?",
			"What was happening just before this feeling started?",
		},
	},
	"es": {
		InterventionType: "breathing_exercise",
		ImmediateAction:  "Haz una pausa y respira hondo lentamente.",
		Message:          "Tomemos un momento juntos. Inhala contando hasta 4, sostén 4 y exhala en 6. Repite tres veces.",
		CopingStrategy:   "Conexión a tierra a través de la respiración: concéntrate solo en el aire que entra y sale hasta que el impulso disminuya.",
		FollowUpQuestions: []string{
			"¿Cómo te sientes después del ejercicio de respiración?",
			"¿Qué estaba pasando justo antes de que empezara este sentimiento?",
		},
	},
}

// fallbackEmergencyResponses is shown when the emergency-response fetch fails.
// Each entry carries at minimum a suicide-prevention hotline, a crisis text
// line, and the local emergency number, so a network failure never leaves the
// user with zero actionable contacts.
var fallbackEmergencyResponses = map[string]models.EmergencyResponse{
	"en": {
		Message: "You are not alone. Please reach out to one of these resources right now. They are available 24/7 and want to help.",
		ImmediateActions: []string{
			"If you are in immediate danger, call 911 now.",
			"Call or text 988 to reach the Suicide & Crisis Lifeline.",
			"Stay with someone you trust, or ask someone to stay with you.",
		},
		Resources: []models.Resource{
			{Name: "988 Suicide & Crisis Lifeline", Contact: "988", Urgent: true, Description: "Free, confidential crisis support", Available: "24/7"},
			{Name: "Crisis Text Line", Contact: "Text HOME to 741741", Urgent: true, Description: "Text-based crisis counseling", Available: "24/7"},
			{Name: "Emergency Services", Contact: "911", Urgent: true, Description: "Immediate emergency assistance", Available: "24/7"},
			{Name: "SAMHSA National Helpline", Contact: "1-800-662-4357", Urgent: false, Description: "Substance use and mental health referrals", Available: "24/7"},
		},
		Severity:  models.SeverityCritical,
		Emergency: true,
	},
	"es": {
		Message: "No estás solo. Por favor comunícate con uno de estos recursos ahora mismo. Están disponibles 24/7 y quieren ayudarte.",
		ImmediateActions: []string{
			"Si estás en peligro inmediato, llama al 911 ahora.",
			"Llama o envía un mensaje de texto al 988 para la Línea de Prevención del Suicidio y Crisis.",
			"Quédate con alguien de confianza, o pide que alguien se quede contigo.",
		},
		Resources: []models.Resource{
			{Name: "Línea 988 de Prevención del Suicidio y Crisis", Contact: "988", Urgent: true, Description: "Apoyo confidencial y gratuito en crisis", Available: "24/7"},
			{Name: "Línea de Crisis por Texto", Contact: "Envía AYUDA al 741741", Urgent: true, Description: "Consejería de crisis por mensaje de texto", Available: "24/7"},
			{Name: "Servicios de Emergencia", Contact: "911", Urgent: true, Description: "Asistencia de emergencia inmediata", Available: "24/7"},
		},
		Severity:  models.SeverityCritical,
		Emergency: true,
	},
}

// normalize reduces a locale tag like "en-US" to its table key, falling back
// to DefaultLocale for unknown locales.
func normalize(loc string, table map[string]models.Intervention, emergencyTable map[string]models.EmergencyResponse) string {
	if loc == "" {
		return DefaultLocale
	}
	if len(loc) > 2 {
		loc = loc[:2]
	}
	if table != nil {
		if _, ok := table[loc]; ok {
			return loc
		}
	}
	if emergencyTable != nil {
		if _, ok := emergencyTable[loc]; ok {
			return loc
		}
	}
	slog.Debug("locale normalize: unknown locale, using default", "locale", loc)
	return DefaultLocale
}

// FallbackIntervention returns the hardcoded intervention for the locale.
func FallbackIntervention(loc string) models.Intervention {
	return fallbackInterventions[normalize(loc, fallbackInterventions, nil)]
}

// FallbackEmergencyResponse returns the hardcoded emergency response for the
// locale. The returned response always contains at least one urgent resource.
func FallbackEmergencyResponse(loc string) models.EmergencyResponse {
	return fallbackEmergencyResponses[normalize(loc, nil, fallbackEmergencyResponses)]
}
