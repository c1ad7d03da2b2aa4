// Package journal implements journal entry storage and the server-side risk
// detection that feeds the trigger poller: every saved entry is scanned for
// risk indicators and, on a match, a pending Trigger is recorded for the
// user's session to surface later.
package journal

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/SteadyPath/CoachPipe/internal/models"
	"github.com/SteadyPath/CoachPipe/internal/risk"
	"github.com/SteadyPath/CoachPipe/internal/store"
)

// contextExcerptRadius is the number of characters kept on each side of the
// first indicator match when building the trigger context excerpt.
const contextExcerptRadius = 60

// Service provides journal entry operations with trigger detection.
type Service struct {
	store store.Store
}

// NewService creates a journal service backed by the given store.
func NewService(st store.Store) *Service {
	slog.Debug("Creating journal Service")
	return &Service{store: st}
}

// AddEntry validates and persists a journal entry, then scans it for risk
// indicators. A detected trigger is persisted for the poller; failures in
// detection or trigger persistence never fail the journal write. The detected
// trigger, if any, is returned for observability.
func (s *Service) AddEntry(ctx context.Context, req models.JournalEntryRequest) (models.JournalEntry, *models.Trigger, error) {
	if err := req.Validate(); err != nil {
		return models.JournalEntry{}, nil, err
	}

	entry := models.JournalEntry{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Title:     req.Title,
		Content:   req.Content,
		Mood:      req.Mood,
		CreatedAt: time.Now(),
	}
	if err := s.store.AddJournalEntry(entry); err != nil {
		slog.Error("journal AddEntry store error", "error", err, "userID", req.UserID)
		return models.JournalEntry{}, nil, err
	}
	slog.Debug("journal AddEntry saved", "userID", req.UserID, "entryID", entry.ID)

	trigger := s.detect(entry)
	if trigger != nil {
		if err := s.store.AddTrigger(*trigger); err != nil {
			// Detection is best-effort; the entry is already saved.
			slog.Error("journal AddEntry trigger persistence failed", "error", err, "userID", req.UserID, "triggerID", trigger.ID)
			trigger = nil
		} else {
			slog.Info("journal AddEntry detected trigger", "userID", req.UserID, "triggerID", trigger.ID, "riskLevel", trigger.RiskLevel)
		}
	}
	return entry, trigger, nil
}

// Entries returns all journal entries for a user, newest first.
func (s *Service) Entries(ctx context.Context, userID string) ([]models.JournalEntry, error) {
	if userID == "" {
		return nil, models.ErrEmptyUserID
	}
	return s.store.GetJournalEntries(userID)
}

// detect scans entry content for risk indicators and builds a Trigger, or
// returns nil when nothing matched.
func (s *Service) detect(entry models.JournalEntry) *models.Trigger {
	indicators := risk.Match(entry.Content)
	if len(indicators) == 0 {
		return nil
	}

	crisisType := risk.ResolveType(indicators)
	severity := risk.Classify(indicators, "")
	// Trigger risk levels top out at high; critical chat-time assessments go
	// straight to emergency escalation instead of the alert path.
	riskLevel := severity
	if riskLevel == models.SeverityCritical {
		riskLevel = models.SeverityHigh
	}

	return &models.Trigger{
		ID:               uuid.NewString(),
		UserID:           entry.UserID,
		Trigger:          string(indicators[0]),
		Context:          excerpt(entry.Content, string(indicators[0])),
		RelatedAddiction: relatedAddiction(crisisType),
		RiskLevel:        riskLevel,
		DetectedAt:       time.Now(),
	}
}

// relatedAddiction maps a crisis type to the addiction-recovery context label
// carried on the trigger.
func relatedAddiction(ct models.CrisisType) string {
	switch ct {
	case models.CrisisTypeRelapse:
		return "substance"
	default:
		return "general"
	}
}

// excerpt returns the text around the first occurrence of the matched phrase.
func excerpt(content, phrase string) string {
	idx := strings.Index(strings.ToLower(content), strings.ToLower(phrase))
	if idx < 0 {
		return ""
	}
	start := idx - contextExcerptRadius
	if start < 0 {
		start = 0
	}
	end := idx + len(phrase) + contextExcerptRadius
	if end > len(content) {
		end = len(content)
	}
	return strings.TrimSpace(content[start:end])
}
