// Package api provides HTTP handlers for CoachPipe endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/SteadyPath/CoachPipe/internal/flow"
	"github.com/SteadyPath/CoachPipe/internal/models"
)

// userIDRequest is the minimal body for machine action endpoints.
type userIDRequest struct {
	UserID string `json:"user_id"`
}

// requireMethod enforces the HTTP method, writing the error response itself.
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		slog.Warn("Server: method not allowed", "method", r.Method, "path", r.URL.Path)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// decodeJSON decodes the request body, writing the error response itself.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		slog.Warn("Server: failed to decode JSON", "error", err, "path", r.URL.Path)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return false
	}
	return true
}

// session resolves the open session for a request, writing the error
// response itself when the session does not exist.
func (s *Server) session(w http.ResponseWriter, userID string) (*flow.Session, bool) {
	if userID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrEmptyUserID.Error()))
		return nil, false
	}
	session, ok := s.sessions.Get(userID)
	if !ok {
		writeJSONResponse(w, http.StatusNotFound, models.Error(models.ErrSessionNotFound.Error()))
		return nil, false
	}
	return session, true
}

// sessionsHandler opens (POST) or closes (DELETE) a user session.
func (s *Server) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req models.SessionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := req.Validate(); err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		if _, err := s.sessions.Open(r.Context(), req); err != nil {
			slog.Error("Server.sessionsHandler: failed to open session", "error", err, "userID", req.UserID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to open session"))
			return
		}
		slog.Info("Server.sessionsHandler: session opened", "userID", req.UserID)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session opened", nil))

	case http.MethodDelete:
		userID := r.URL.Query().Get("user_id")
		if err := s.sessions.Close(r.Context(), userID); err != nil {
			if errors.Is(err, models.ErrSessionNotFound) {
				writeJSONResponse(w, http.StatusNotFound, models.Error(err.Error()))
				return
			}
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to close session"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session closed", nil))

	default:
		w.Header().Set("Allow", "POST, DELETE")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// chatHandler assesses an incoming message and routes it to chat, trigger
// alert, or emergency escalation.
func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req models.ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	session, ok := s.session(w, req.UserID)
	if !ok {
		return
	}

	reply, err := session.HandleMessage(r.Context(), req)
	if err != nil {
		slog.Error("Server.chatHandler: failed to handle message", "error", err, "userID", req.UserID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}
	slog.Debug("Server.chatHandler: message routed", "userID", req.UserID, "routing", reply.Routing)
	writeJSONResponse(w, http.StatusOK, models.Success(reply))
}

// journalHandler creates (POST) or lists (GET) journal entries.
func (s *Server) journalHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req models.JournalEntryRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		entry, trigger, err := s.journal.AddEntry(r.Context(), req)
		if err != nil {
			if errors.Is(err, models.ErrEmptyUserID) || errors.Is(err, models.ErrEmptyJournalContent) || errors.Is(err, models.ErrJournalContentTooLong) {
				writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
				return
			}
			slog.Error("Server.journalHandler: failed to save entry", "error", err, "userID", req.UserID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save journal entry"))
			return
		}
		result := map[string]interface{}{"entry": entry}
		if trigger != nil {
			result["trigger_detected"] = true
		}
		writeJSONResponse(w, http.StatusOK, models.Recorded("Journal entry saved", result))

	case http.MethodGet:
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrEmptyUserID.Error()))
			return
		}
		entries, err := s.journal.Entries(r.Context(), userID)
		if err != nil {
			slog.Error("Server.journalHandler: failed to list entries", "error", err, "userID", userID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list journal entries"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(entries))

	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// triggersHandler returns the pending triggers for a user (the trigger-check
// contract used by clients that poll directly).
func (s *Server) triggersHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrEmptyUserID.Error()))
		return
	}
	triggers, err := s.store.GetPendingTriggers(userID)
	if err != nil {
		slog.Error("Server.triggersHandler: failed to fetch triggers", "error", err, "userID", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch triggers"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{"triggers": triggers}))
}

// alertStateHandler returns the trigger-alert machine snapshot.
func (s *Server) alertStateHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	session, ok := s.session(w, r.URL.Query().Get("user_id"))
	if !ok {
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(session.Alert().Snapshot()))
}

// alertHelpHandler handles "Get Help Now": the alert fetches and displays an
// intervention (or its fallback).
func (s *Server) alertHelpHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req userIDRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	session, ok := s.session(w, req.UserID)
	if !ok {
		return
	}
	intervention, err := session.Alert().RequestHelp(r.Context())
	if err != nil {
		writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{"intervention": intervention}))
}

// alertTalkHandler handles "Talk to Alex": the alert closes and the coach
// opens the conversation.
func (s *Server) alertTalkHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req userIDRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	session, ok := s.session(w, req.UserID)
	if !ok {
		return
	}
	reply, err := session.AlertTalkToCoach(r.Context())
	if err != nil {
		writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(models.ChatReply{Reply: reply, Routing: models.RoutingChat}))
}

// alertDismissHandler dismisses the active alert. Dismissing an inactive
// alert is a no-op, not an error.
func (s *Server) alertDismissHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req userIDRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	session, ok := s.session(w, req.UserID)
	if !ok {
		return
	}
	session.Alert().Dismiss(r.Context())
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Alert dismissed", nil))
}

// emergencyHandler explicitly activates Emergency Escalation (POST) or
// returns the escalation snapshot (GET).
func (s *Server) emergencyHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req models.EmergencyRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := req.Validate(); err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		session, ok := s.session(w, req.UserID)
		if !ok {
			return
		}
		// Emergency supersedes any showing alert.
		session.Alert().Dismiss(r.Context())
		response := session.Emergency().Activate(r.Context(), req)
		writeJSONResponse(w, http.StatusOK, models.Success(response))

	case http.MethodGet:
		session, ok := s.session(w, r.URL.Query().Get("user_id"))
		if !ok {
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(session.Emergency().Snapshot()))

	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// emergencyContinueHandler handles "Continue with Alex".
func (s *Server) emergencyContinueHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req userIDRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	session, ok := s.session(w, req.UserID)
	if !ok {
		return
	}
	reply, err := session.EmergencyContinueWithCoach(r.Context())
	if err != nil {
		writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(models.ChatReply{Reply: reply, Routing: models.RoutingChat}))
}

// emergencyCloseHandler handles "I'm getting help".
func (s *Server) emergencyCloseHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req userIDRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	session, ok := s.session(w, req.UserID)
	if !ok {
		return
	}
	session.Emergency().GettingHelp(r.Context())
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Escalation closed", nil))
}

// healthHandler reports liveness.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}
