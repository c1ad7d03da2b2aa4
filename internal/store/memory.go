package store

import (
	"sync"
	"time"

	"github.com/SteadyPath/CoachPipe/internal/models"
)

// InMemoryStore is a simple in-memory store used in tests and single-process
// development runs. All operations are safe for concurrent use.
type InMemoryStore struct {
	mu         sync.RWMutex
	entries    []models.JournalEntry
	triggers   []models.Trigger
	flowStates map[string]models.FlowState // keyed by userID + "|" + flowType
}

// NewInMemoryStore creates a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		flowStates: make(map[string]models.FlowState),
	}
}

func flowKey(userID, flowType string) string {
	return userID + "|" + flowType
}

// AddJournalEntry persists a journal entry.
func (s *InMemoryStore) AddJournalEntry(entry models.JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// GetJournalEntries returns all journal entries for a user, newest first.
func (s *InMemoryStore) GetJournalEntries(userID string) ([]models.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.JournalEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].UserID == userID {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

// AddTrigger persists a detected risk trigger.
func (s *InMemoryStore) AddTrigger(trigger models.Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if trigger.DetectedAt.IsZero() {
		trigger.DetectedAt = time.Now()
	}
	s.triggers = append(s.triggers, trigger)
	return nil
}

// GetPendingTriggers returns unconsumed triggers for a user, newest first.
func (s *InMemoryStore) GetPendingTriggers(userID string) ([]models.Trigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Trigger
	for i := len(s.triggers) - 1; i >= 0; i-- {
		t := s.triggers[i]
		if t.UserID == userID && !t.Consumed {
			out = append(out, t)
		}
	}
	return out, nil
}

// MarkTriggerConsumed flags a trigger so the poller never surfaces it again.
func (s *InMemoryStore) MarkTriggerConsumed(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.triggers {
		if s.triggers[i].ID == id {
			s.triggers[i].Consumed = true
			return nil
		}
	}
	return nil
}

// GetFlowState retrieves the flow state for a user, or nil if absent.
func (s *InMemoryStore) GetFlowState(userID string, flowType string) (*models.FlowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.flowStates[flowKey(userID, flowType)]
	if !ok {
		return nil, nil
	}
	copied := state
	return &copied, nil
}

// SaveFlowState inserts or updates the flow state for a user.
func (s *InMemoryStore) SaveFlowState(state models.FlowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flowStates[flowKey(state.UserID, string(state.FlowType))] = state
	return nil
}

// DeleteFlowState removes the flow state for a user in a flow.
func (s *InMemoryStore) DeleteFlowState(userID string, flowType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flowStates, flowKey(userID, flowType))
	return nil
}

// Close releases any resources held by the store. It is a no-op.
func (s *InMemoryStore) Close() error {
	return nil
}
