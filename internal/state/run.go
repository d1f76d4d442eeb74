package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Run is one persisted pipeline run
type Run struct {
	ID         string          `json:"id"`
	InputURL   string          `json:"input_url"`
	OutputURL  string          `json:"output_url"`
	Config     json.RawMessage `json:"config,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	StoppedAt  *time.Time      `json:"stopped_at,omitempty"`
	StopReason string          `json:"stop_reason,omitempty"`
	Error      string          `json:"error,omitempty"`
	Frames     int64           `json:"frames"`
	LastFPS    float64         `json:"last_fps"`
}

// Running reports whether the run has no recorded stop
func (r Run) Running() bool {
	return r.StoppedAt == nil
}

// RunResult is what is known about a run once it stops
type RunResult struct {
	StoppedAt  time.Time
	StopReason string
	Error      string
	Frames     int64
	LastFPS    float64
}

const runColumns = `id, input_url, output_url, config, started_at, stopped_at, stop_reason, error, frames, last_fps`

// SaveRunStarted records the start of a run
func (m *Manager) SaveRunStarted(ctx context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cfg interface{}
	if len(run.Config) > 0 {
		cfg = string(run.Config)
	}

	query := `
		INSERT INTO runs (id, input_url, output_url, config, started_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			input_url = excluded.input_url,
			output_url = excluded.output_url,
			config = excluded.config,
			started_at = excluded.started_at
	`
	_, err := m.db.GetDB().ExecContext(ctx, query,
		run.ID, run.InputURL, run.OutputURL, cfg, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// FinishRun records how a run ended. It returns sql.ErrNoRows when the run
// is unknown.
func (m *Manager) FinishRun(ctx context.Context, id string, result RunResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var runErr interface{}
	if result.Error != "" {
		runErr = result.Error
	}

	query := `
		UPDATE runs
		SET stopped_at = ?, stop_reason = ?, error = ?, frames = ?, last_fps = ?
		WHERE id = ?
	`
	res, err := m.db.GetDB().ExecContext(ctx, query,
		result.StoppedAt, result.StopReason, runErr, result.Frames, result.LastFPS, id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to finish run %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

// GetRun retrieves a run by ID. It returns nil when the run is unknown.
func (m *Manager) GetRun(ctx context.Context, id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row := m.db.GetDB().QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns lists the most recent runs first. A limit of zero or less
// returns every run.
func (m *Manager) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := m.db.GetDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// PruneRuns deletes all but the keep most recent runs
func (m *Manager) PruneRuns(ctx context.Context, keep int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := `
		DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC LIMIT ?
		)
	`
	res, err := m.db.GetDB().ExecContext(ctx, query, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var cfg, reason, runErr sql.NullString
	var stoppedAt sql.NullTime
	if err := row.Scan(
		&run.ID, &run.InputURL, &run.OutputURL, &cfg, &run.StartedAt,
		&stoppedAt, &reason, &runErr, &run.Frames, &run.LastFPS,
	); err != nil {
		return nil, err
	}
	if cfg.Valid && cfg.String != "" {
		run.Config = json.RawMessage(cfg.String)
	}
	if stoppedAt.Valid {
		run.StoppedAt = &stoppedAt.Time
	}
	run.StopReason = reason.String
	run.Error = runErr.String
	return &run, nil
}
