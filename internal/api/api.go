// Package api provides HTTP handlers and the main API server logic for CoachPipe.
//
// It exposes RESTful endpoints for session lifecycle, chat assessment and
// routing, journaling, trigger checks, and the alert/emergency state machine
// actions. The API integrates with the flow, journal, and store modules.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/SteadyPath/CoachPipe/internal/flow"
	"github.com/SteadyPath/CoachPipe/internal/journal"
	"github.com/SteadyPath/CoachPipe/internal/store"
)

// DefaultAddr is the default API listen address.
const DefaultAddr = ":8080"

// Server wires the HTTP endpoints to the session manager and services.
type Server struct {
	sessions *flow.SessionManager
	journal  *journal.Service
	store    store.Store
	addr     string
}

// NewServer creates an API server. An empty addr falls back to DefaultAddr.
func NewServer(sessions *flow.SessionManager, journalSvc *journal.Service, st store.Store, addr string) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Server{
		sessions: sessions,
		journal:  journalSvc,
		store:    st,
		addr:     addr,
	}
}

// Handler returns the HTTP handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions", s.sessionsHandler)
	mux.HandleFunc("/chat", s.chatHandler)
	mux.HandleFunc("/journal", s.journalHandler)
	mux.HandleFunc("/triggers", s.triggersHandler)
	mux.HandleFunc("/alert", s.alertStateHandler)
	mux.HandleFunc("/alert/help", s.alertHelpHandler)
	mux.HandleFunc("/alert/talk", s.alertTalkHandler)
	mux.HandleFunc("/alert/dismiss", s.alertDismissHandler)
	mux.HandleFunc("/emergency", s.emergencyHandler)
	mux.HandleFunc("/emergency/continue", s.emergencyContinueHandler)
	mux.HandleFunc("/emergency/close", s.emergencyCloseHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Run starts the HTTP server and blocks until it exits.
func (s *Server) Run() error {
	slog.Info("CoachPipe API running", "addr", s.addr)
	return http.ListenAndServe(s.addr, s.Handler())
}

// shutdownTimeout bounds how long in-flight requests may run during shutdown.
const shutdownTimeout = 5 * time.Second

// RunUntil starts the HTTP server and blocks until the context is cancelled
// or the server fails, draining in-flight requests on cancellation.
func (s *Server) RunUntil(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.Handler()}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("CoachPipe API running", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("CoachPipe API shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
