package state

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/logger"
)

// StopReasonInterrupted marks runs that were still open when the process
// last exited
const StopReasonInterrupted = "interrupted"

// Manager manages system state persistence and recovery
type Manager struct {
	db     *Database
	logger *logger.Logger
	mu     sync.RWMutex
}

// NewManager opens the database under the configured data dir
func NewManager(cfg *config.Config, log *logger.Logger) (*Manager, error) {
	db, err := NewDatabase(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	return &Manager{
		db:     db,
		logger: log,
	}, nil
}

// Close closes the state manager and database
func (m *Manager) Close() error {
	return m.db.Close()
}

// GetDB returns the database connection
func (m *Manager) GetDB() *sql.DB {
	return m.db.GetDB()
}

// Ping checks the database connection
func (m *Manager) Ping(ctx context.Context) error {
	return m.db.GetDB().PingContext(ctx)
}

// SaveSystemState saves a system state value
func (m *Manager) SaveSystemState(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := `
		INSERT INTO system_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`

	_, err := m.db.GetDB().ExecContext(ctx, query, key, value, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save system state: %w", err)
	}

	return nil
}

// GetSystemState retrieves a system state value
func (m *Manager) GetSystemState(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var value string
	query := `SELECT value FROM system_state WHERE key = ?`
	err := m.db.GetDB().QueryRowContext(ctx, query, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get system state: %w", err)
	}

	return value, nil
}

// RecoveredState represents the state recovered on startup
type RecoveredState struct {
	SystemState map[string]string
	Interrupted []string // Runs closed as interrupted
}

// RecoverState closes runs left open by an unclean exit and loads the
// system state
func (m *Manager) RecoverState(ctx context.Context) (*RecoveredState, error) {
	m.logger.Info("Recovering system state")

	interrupted, err := m.closeOpenRuns(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to recover runs: %w", err)
	}

	systemState, err := m.recoverSystemState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to recover system state: %w", err)
	}

	m.logger.Info("State recovery complete",
		"interrupted_runs", len(interrupted),
		"keys", len(systemState),
	)

	return &RecoveredState{
		SystemState: systemState,
		Interrupted: interrupted,
	}, nil
}

func (m *Manager) closeOpenRuns(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, err := m.db.GetDB().QueryContext(ctx, `SELECT id FROM runs WHERE stopped_at IS NULL`)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return ids, nil
	}

	_, err = m.db.GetDB().ExecContext(ctx,
		`UPDATE runs SET stopped_at = ?, stop_reason = ? WHERE stopped_at IS NULL`,
		time.Now(), StopReasonInterrupted,
	)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// recoverSystemState recovers system state
func (m *Manager) recoverSystemState(ctx context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := `SELECT key, value FROM system_state`
	rows, err := m.db.GetDB().QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	state := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		state[key] = value
	}

	return state, rows.Err()
}
