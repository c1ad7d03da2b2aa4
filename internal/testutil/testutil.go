// Package testutil provides common test utilities and helpers for CoachPipe tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/SteadyPath/CoachPipe/internal/api"
	"github.com/SteadyPath/CoachPipe/internal/coach"
	"github.com/SteadyPath/CoachPipe/internal/flow"
	"github.com/SteadyPath/CoachPipe/internal/journal"
	"github.com/SteadyPath/CoachPipe/internal/models"
	"github.com/SteadyPath/CoachPipe/internal/store"
)

// NewTestServer creates a test API server with in-memory dependencies. The
// coach runs fallback-only and no poller or notifier is wired, so handler
// tests exercise deterministic behavior.
func NewTestServer() (*api.Server, store.Store) {
	st := store.NewInMemoryStore()
	coachSvc := coach.NewAlexCoach()
	states := flow.NewStoreBasedStateManager(st)
	timer := flow.NewSimpleTimer()
	sessions := flow.NewSessionManager(coachSvc, st, states, timer, nil, nil)
	journalSvc := journal.NewService(st)
	return api.NewServer(sessions, journalSvc, st, ""), st
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}

// AssertPendingTriggerCount validates the number of pending triggers for a user.
func AssertPendingTriggerCount(t *testing.T, st store.Store, userID string, expected int, context string) {
	t.Helper()
	triggers, err := st.GetPendingTriggers(userID)
	if err != nil {
		t.Fatalf("%s: failed to get pending triggers: %v", context, err)
	}
	if len(triggers) != expected {
		t.Errorf("%s: expected %d pending triggers, got %d", context, expected, len(triggers))
	}
}

// SeedTrigger adds a pending trigger to the store for testing.
func SeedTrigger(t *testing.T, st store.Store, trigger models.Trigger) {
	t.Helper()
	if err := st.AddTrigger(trigger); err != nil {
		t.Fatalf("failed to seed trigger: %v", err)
	}
}
