// Package risk implements crisis-signal detection over free-form user text.
//
// It provides keyword/phrase matching against a curated vocabulary, ordinal
// severity classification, and crisis-type resolution. These are the inputs
// to the session routing decision: ordinary chat, trigger alert, or
// emergency escalation.
package risk

import (
	"log/slog"
	"strings"

	"github.com/SteadyPath/CoachPipe/internal/models"
)

// Vocabulary lists, grouped by crisis type. Matching is case-insensitive
// substring matching, so multi-word phrases match across whitespace as
// written here.
var (
	suicideIndicators = []models.RiskIndicator{
		"suicide",
		"suicidal",
		"kill myself",
		"end my life",
		"want to die",
		"better off dead",
		"end it all",
		"no reason to live",
	}

	selfHarmIndicators = []models.RiskIndicator{
		"self harm",
		"self-harm",
		"hurt myself",
		"cut myself",
		"cutting myself",
		"burn myself",
	}

	relapseIndicators = []models.RiskIndicator{
		"relapse",
		"relapsed",
		"using again",
		"want to use",
		"drinking again",
		"want to drink",
		"craving",
		"cravings",
		"one last time",
	}
)

// emergencyPhrases are explicit-intent phrases that force critical severity
// regardless of how many indicators matched.
var emergencyPhrases = []string{
	"kill myself",
	"end my life",
	"want to die",
	"end it all",
	"i have a plan",
	"tonight is the night",
}

// indicatorCategory maps each vocabulary entry to its crisis type for
// membership checks in Classify and ResolveType.
var indicatorCategory = map[models.RiskIndicator]models.CrisisType{}

func init() {
	for _, ind := range suicideIndicators {
		indicatorCategory[ind] = models.CrisisTypeSuicide
	}
	for _, ind := range selfHarmIndicators {
		indicatorCategory[ind] = models.CrisisTypeSelfHarm
	}
	for _, ind := range relapseIndicators {
		indicatorCategory[ind] = models.CrisisTypeRelapse
	}
}

// Match scans text for risk indicators. It returns the matched vocabulary
// entries in category order (suicide, self-harm, relapse). An empty result
// means no risk signal; it is not an error. Input of any length is scanned
// in full.
func Match(text string) []models.RiskIndicator {
	if text == "" {
		return nil
	}
	lower := strings.ToLower(text)

	var matched []models.RiskIndicator
	for _, group := range [][]models.RiskIndicator{suicideIndicators, selfHarmIndicators, relapseIndicators} {
		for _, ind := range group {
			if strings.Contains(lower, string(ind)) {
				matched = append(matched, ind)
			}
		}
	}
	matched = dropSubsumed(matched)
	if len(matched) > 0 {
		slog.Debug("risk.Match found indicators", "count", len(matched))
	}
	return matched
}

// dropSubsumed removes indicators that are substrings of another match, so a
// single mention ("cravings", "relapsed") counts as one signal rather than two.
func dropSubsumed(indicators []models.RiskIndicator) []models.RiskIndicator {
	if len(indicators) < 2 {
		return indicators
	}
	var kept []models.RiskIndicator
	for i, ind := range indicators {
		subsumed := false
		for j, other := range indicators {
			if i == j {
				continue
			}
			if len(other) > len(ind) && strings.Contains(string(other), string(ind)) {
				subsumed = true
				break
			}
		}
		if !subsumed {
			kept = append(kept, ind)
		}
	}
	return kept
}

// hasEmergencyLanguage reports whether text contains an explicit-intent phrase.
func hasEmergencyLanguage(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range emergencyPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// Classify maps an indicator set to a severity level. A valid model-supplied
// severity takes precedence over keyword-derived classification, but never
// below the floor the indicators themselves demand: any suicide or self-harm
// indicator means at least high, and multiple indicators or explicit
// emergency language mean critical regardless of what the model said.
// Without a model severity a single mild indicator means medium and none
// means low. Ties break toward the more severe level.
func Classify(indicators []models.RiskIndicator, modelSeverity models.Severity) models.Severity {
	floor := indicatorFloor(indicators)

	if models.IsValidSeverity(modelSeverity) {
		return models.MaxSeverity(modelSeverity, floor)
	}

	if len(indicators) == 0 {
		return models.SeverityLow
	}
	return models.MaxSeverity(models.SeverityMedium, floor)
}

// indicatorFloor is the minimum severity the indicator evidence alone
// demands, independent of any model opinion.
func indicatorFloor(indicators []models.RiskIndicator) models.Severity {
	floor := models.SeverityLow
	for _, ind := range indicators {
		switch indicatorCategory[ind] {
		case models.CrisisTypeSuicide, models.CrisisTypeSelfHarm:
			floor = models.MaxSeverity(floor, models.SeverityHigh)
		}
		if hasEmergencyLanguage(string(ind)) {
			floor = models.SeverityCritical
		}
	}
	if len(indicators) > 1 {
		floor = models.SeverityCritical
	}
	return floor
}

// ResolveType maps an indicator set to a single crisis type using first-match
// priority ordering: suicide first, then self-harm, then relapse, defaulting
// to general. Only one type is returned even when indicators span categories.
func ResolveType(indicators []models.RiskIndicator) models.CrisisType {
	priority := []models.CrisisType{
		models.CrisisTypeSuicide,
		models.CrisisTypeSelfHarm,
		models.CrisisTypeRelapse,
	}
	for _, ct := range priority {
		for _, ind := range indicators {
			if indicatorCategory[ind] == ct {
				return ct
			}
		}
	}
	return models.CrisisTypeGeneral
}

// Evaluate runs the full detection pipeline over text and returns a complete
// assessment. A valid modelSeverity overrides keyword-derived severity the
// same way Classify does.
func Evaluate(text string, modelSeverity models.Severity) models.Assessment {
	indicators := Match(text)
	severity := Classify(indicators, modelSeverity)
	assessment := models.Assessment{
		Severity:          severity,
		Indicators:        indicators,
		RequiresEmergency: severity == models.SeverityCritical,
		CrisisType:        ResolveType(indicators),
	}
	slog.Debug("risk.Evaluate completed", "severity", assessment.Severity, "crisisType", assessment.CrisisType, "indicators", len(indicators), "requiresEmergency", assessment.RequiresEmergency)
	return assessment
}
