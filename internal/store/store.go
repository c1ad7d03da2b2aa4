// Package store provides storage backends for CoachPipe.
//
// It includes an in-memory store for tests and development, plus SQLite and
// PostgreSQL backends for persistent deployments. Stores hold journal
// entries, pending risk triggers, and flow state rows.
package store

import (
	"strings"

	"github.com/SteadyPath/CoachPipe/internal/models"
)

// Store defines the persistence operations shared by all backends.
type Store interface {
	// AddJournalEntry persists a journal entry.
	AddJournalEntry(entry models.JournalEntry) error

	// GetJournalEntries returns all journal entries for a user, newest first.
	GetJournalEntries(userID string) ([]models.JournalEntry, error)

	// AddTrigger persists a detected risk trigger.
	AddTrigger(trigger models.Trigger) error

	// GetPendingTriggers returns unconsumed triggers for a user, newest first.
	GetPendingTriggers(userID string) ([]models.Trigger, error)

	// MarkTriggerConsumed flags a trigger so the poller never surfaces it again.
	MarkTriggerConsumed(id string) error

	// GetFlowState retrieves the flow state for a user, or nil if absent.
	GetFlowState(userID string, flowType string) (*models.FlowState, error)

	// SaveFlowState inserts or updates the flow state for a user.
	SaveFlowState(state models.FlowState) error

	// DeleteFlowState removes the flow state for a user in a flow.
	DeleteFlowState(userID string, flowType string) error

	// Close releases any resources held by the store.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	// DSN is the database connection string (file path for SQLite, URL for Postgres).
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite". PostgreSQL DSNs
// use URL or key=value forms; everything else is treated as a SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}
