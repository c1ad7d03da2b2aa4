// This file implements a PostgreSQL-backed store for journal entries,
// triggers, and flow state.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "embed"

	"github.com/SteadyPath/CoachPipe/internal/models"
	_ "github.com/lib/pq"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is a Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// AddJournalEntry persists a journal entry.
func (s *PostgresStore) AddJournalEntry(entry models.JournalEntry) error {
	_, err := s.db.Exec(`INSERT INTO journal_entries (id, user_id, title, content, mood, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.UserID, entry.Title, entry.Content, entry.Mood, entry.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AddJournalEntry failed", "error", err, "userID", entry.UserID)
		return fmt.Errorf("failed to insert journal entry for %s: %w", entry.UserID, err)
	}
	return nil
}

// GetJournalEntries returns all journal entries for a user, newest first.
func (s *PostgresStore) GetJournalEntries(userID string) ([]models.JournalEntry, error) {
	rows, err := s.db.Query(`SELECT id, user_id, title, content, mood, created_at FROM journal_entries WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		slog.Error("PostgresStore GetJournalEntries query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query journal entries: %w", err)
	}
	defer rows.Close()

	var entries []models.JournalEntry
	for rows.Next() {
		var e models.JournalEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Title, &e.Content, &e.Mood, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate journal entry rows: %w", err)
	}
	return entries, nil
}

// AddTrigger persists a detected risk trigger.
func (s *PostgresStore) AddTrigger(trigger models.Trigger) error {
	_, err := s.db.Exec(`INSERT INTO triggers (id, user_id, trigger_text, context, related_addiction, risk_level, consumed, detected_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		trigger.ID, trigger.UserID, trigger.Trigger, trigger.Context, trigger.RelatedAddiction, string(trigger.RiskLevel), trigger.Consumed, trigger.DetectedAt)
	if err != nil {
		slog.Error("PostgresStore AddTrigger failed", "error", err, "userID", trigger.UserID)
		return fmt.Errorf("failed to insert trigger for %s: %w", trigger.UserID, err)
	}
	return nil
}

// GetPendingTriggers returns unconsumed triggers for a user, newest first.
func (s *PostgresStore) GetPendingTriggers(userID string) ([]models.Trigger, error) {
	rows, err := s.db.Query(`SELECT id, user_id, trigger_text, context, related_addiction, risk_level, consumed, detected_at FROM triggers WHERE user_id = $1 AND consumed = FALSE ORDER BY detected_at DESC`, userID)
	if err != nil {
		slog.Error("PostgresStore GetPendingTriggers query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query triggers: %w", err)
	}
	defer rows.Close()

	var triggers []models.Trigger
	for rows.Next() {
		var t models.Trigger
		var risk string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Trigger, &t.Context, &t.RelatedAddiction, &risk, &t.Consumed, &t.DetectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trigger row: %w", err)
		}
		t.RiskLevel = models.Severity(risk)
		triggers = append(triggers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trigger rows: %w", err)
	}
	return triggers, nil
}

// MarkTriggerConsumed flags a trigger so the poller never surfaces it again.
func (s *PostgresStore) MarkTriggerConsumed(id string) error {
	_, err := s.db.Exec(`UPDATE triggers SET consumed = TRUE WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore MarkTriggerConsumed failed", "error", err, "id", id)
		return fmt.Errorf("failed to mark trigger %s consumed: %w", id, err)
	}
	return nil
}

// GetFlowState retrieves the flow state for a user, or nil if absent.
func (s *PostgresStore) GetFlowState(userID string, flowType string) (*models.FlowState, error) {
	row := s.db.QueryRow(`SELECT user_id, flow_type, current_state, state_data, created_at, updated_at FROM flow_states WHERE user_id = $1 AND flow_type = $2`, userID, flowType)

	var state models.FlowState
	var ft, current, data string
	err := row.Scan(&state.UserID, &ft, &current, &data, &state.CreatedAt, &state.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetFlowState scan failed", "error", err, "userID", userID, "flowType", flowType)
		return nil, fmt.Errorf("failed to get flow state: %w", err)
	}
	state.FlowType = models.FlowType(ft)
	state.CurrentState = models.StateType(current)
	if data != "" {
		if err := json.Unmarshal([]byte(data), &state.StateData); err != nil {
			return nil, fmt.Errorf("failed to decode state data: %w", err)
		}
	}
	return &state, nil
}

// SaveFlowState inserts or updates the flow state for a user.
func (s *PostgresStore) SaveFlowState(state models.FlowState) error {
	data, err := json.Marshal(state.StateData)
	if err != nil {
		return fmt.Errorf("failed to encode state data: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO flow_states (user_id, flow_type, current_state, state_data, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, flow_type) DO UPDATE SET current_state = EXCLUDED.current_state, state_data = EXCLUDED.state_data, updated_at = EXCLUDED.updated_at`,
		state.UserID, string(state.FlowType), string(state.CurrentState), string(data), state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveFlowState failed", "error", err, "userID", state.UserID, "flowType", state.FlowType)
		return fmt.Errorf("failed to save flow state: %w", err)
	}
	return nil
}

// DeleteFlowState removes the flow state for a user in a flow.
func (s *PostgresStore) DeleteFlowState(userID string, flowType string) error {
	_, err := s.db.Exec(`DELETE FROM flow_states WHERE user_id = $1 AND flow_type = $2`, userID, flowType)
	if err != nil {
		slog.Error("PostgresStore DeleteFlowState failed", "error", err, "userID", userID, "flowType", flowType)
		return fmt.Errorf("failed to delete flow state: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
