// This file implements an SQLite-backed store for journal entries, triggers,
// and flow state.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/SteadyPath/CoachPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is a Store backed by a local SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// AddJournalEntry persists a journal entry.
func (s *SQLiteStore) AddJournalEntry(entry models.JournalEntry) error {
	_, err := s.db.Exec(`INSERT INTO journal_entries (id, user_id, title, content, mood, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, entry.Title, entry.Content, entry.Mood, entry.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddJournalEntry failed", "error", err, "userID", entry.UserID)
		return fmt.Errorf("failed to insert journal entry for %s: %w", entry.UserID, err)
	}
	slog.Debug("SQLiteStore AddJournalEntry succeeded", "userID", entry.UserID, "id", entry.ID)
	return nil
}

// GetJournalEntries returns all journal entries for a user, newest first.
func (s *SQLiteStore) GetJournalEntries(userID string) ([]models.JournalEntry, error) {
	rows, err := s.db.Query(`SELECT id, user_id, title, content, mood, created_at FROM journal_entries WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		slog.Error("SQLiteStore GetJournalEntries query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query journal entries: %w", err)
	}
	defer rows.Close()

	var entries []models.JournalEntry
	for rows.Next() {
		var e models.JournalEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Title, &e.Content, &e.Mood, &e.CreatedAt); err != nil {
			slog.Error("SQLiteStore GetJournalEntries scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan journal entry row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate journal entry rows: %w", err)
	}
	slog.Debug("SQLiteStore GetJournalEntries succeeded", "userID", userID, "count", len(entries))
	return entries, nil
}

// AddTrigger persists a detected risk trigger.
func (s *SQLiteStore) AddTrigger(trigger models.Trigger) error {
	_, err := s.db.Exec(`INSERT INTO triggers (id, user_id, trigger_text, context, related_addiction, risk_level, consumed, detected_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		trigger.ID, trigger.UserID, trigger.Trigger, trigger.Context, trigger.RelatedAddiction, string(trigger.RiskLevel), trigger.Consumed, trigger.DetectedAt)
	if err != nil {
		slog.Error("SQLiteStore AddTrigger failed", "error", err, "userID", trigger.UserID)
		return fmt.Errorf("failed to insert trigger for %s: %w", trigger.UserID, err)
	}
	slog.Debug("SQLiteStore AddTrigger succeeded", "userID", trigger.UserID, "id", trigger.ID)
	return nil
}

// GetPendingTriggers returns unconsumed triggers for a user, newest first.
func (s *SQLiteStore) GetPendingTriggers(userID string) ([]models.Trigger, error) {
	rows, err := s.db.Query(`SELECT id, user_id, trigger_text, context, related_addiction, risk_level, consumed, detected_at FROM triggers WHERE user_id = ? AND consumed = 0 ORDER BY detected_at DESC`, userID)
	if err != nil {
		slog.Error("SQLiteStore GetPendingTriggers query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query triggers: %w", err)
	}
	defer rows.Close()

	var triggers []models.Trigger
	for rows.Next() {
		var t models.Trigger
		var risk string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Trigger, &t.Context, &t.RelatedAddiction, &risk, &t.Consumed, &t.DetectedAt); err != nil {
			slog.Error("SQLiteStore GetPendingTriggers scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan trigger row: %w", err)
		}
		t.RiskLevel = models.Severity(risk)
		triggers = append(triggers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trigger rows: %w", err)
	}
	slog.Debug("SQLiteStore GetPendingTriggers succeeded", "userID", userID, "count", len(triggers))
	return triggers, nil
}

// MarkTriggerConsumed flags a trigger so the poller never surfaces it again.
func (s *SQLiteStore) MarkTriggerConsumed(id string) error {
	_, err := s.db.Exec(`UPDATE triggers SET consumed = 1 WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore MarkTriggerConsumed failed", "error", err, "id", id)
		return fmt.Errorf("failed to mark trigger %s consumed: %w", id, err)
	}
	return nil
}

// GetFlowState retrieves the flow state for a user, or nil if absent.
func (s *SQLiteStore) GetFlowState(userID string, flowType string) (*models.FlowState, error) {
	row := s.db.QueryRow(`SELECT user_id, flow_type, current_state, state_data, created_at, updated_at FROM flow_states WHERE user_id = ? AND flow_type = ?`, userID, flowType)

	var state models.FlowState
	var ft, current, data string
	err := row.Scan(&state.UserID, &ft, &current, &data, &state.CreatedAt, &state.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetFlowState scan failed", "error", err, "userID", userID, "flowType", flowType)
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
func (s *SQLiteStore) SaveFlowState(state models.FlowState) error {
	data, err := json.Marshal(state.StateData)
	if err != nil {
		return fmt.Errorf("failed to encode state data: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO flow_states (user_id, flow_type, current_state, state_data, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, flow_type) DO UPDATE SET current_state = excluded.current_state, state_data = excluded.state_data, updated_at = excluded.updated_at`,
		state.UserID, string(state.FlowType), string(state.CurrentState), string(data), state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveFlowState failed", "error", err, "userID", state.UserID, "flowType", state.FlowType)
		return fmt.Errorf("failed to save flow state: %w", err)
	}
	return nil
}

// DeleteFlowState removes the flow state for a user in a flow.
func (s *SQLiteStore) DeleteFlowState(userID string, flowType string) error {
	_, err := s.db.Exec(`DELETE FROM flow_states WHERE user_id = ? AND flow_type = ?`, userID, flowType)
	if err != nil {
		slog.Error("SQLiteStore DeleteFlowState failed", "error", err, "userID", userID, "flowType", flowType)
		return fmt.Errorf("failed to delete flow state: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
