package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gateway-fm/chainbench/pkg/types"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

var _ Storage = (*SQLiteStorage)(nil)

// NewSQLiteStorage opens (or creates) the run history database.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL mode for concurrent reads while a run is being saved.
	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_cache_size=10000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStorage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStorage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		network TEXT NOT NULL,
		mode TEXT NOT NULL,
		operation TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		completed_at DATETIME NOT NULL,
		summary TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_runs_network ON runs(network, operation, mode, started_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// SaveRun persists a completed run summary. The full summary is stored as
// a JSON blob; the indexed columns exist only for lookup.
func (s *SQLiteStorage) SaveRun(ctx context.Context, summary types.RunSummary) error {
	blob, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (id, network, mode, operation, started_at, completed_at, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		summary.RunID,
		summary.Network,
		string(summary.Mode),
		summary.Operation,
		summary.StartedAt.UTC(),
		summary.CompletedAt.UTC(),
		string(blob),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// GetRun returns one run by ID, or nil if it does not exist.
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*types.RunSummary, error) {
	row := s.db.QueryRowContext(ctx, `SELECT summary FROM runs WHERE id = ?`, id)
	return scanSummary(row)
}

// ListRuns returns runs newest first.
func (s *SQLiteStorage) ListRuns(ctx context.Context, limit, offset int) (*PaginatedRuns, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count runs: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT summary FROM runs ORDER BY started_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	page := &PaginatedRuns{Total: total, Limit: limit, Offset: offset}
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		var summary types.RunSummary
		if err := json.Unmarshal([]byte(blob), &summary); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run: %w", err)
		}
		page.Runs = append(page.Runs, summary)
	}
	return page, rows.Err()
}

// LatestByNetwork returns the most recent run for a network recorded under
// the given operation and mode, or nil if none exists.
func (s *SQLiteStorage) LatestByNetwork(ctx context.Context, network, operation string, mode types.RunMode) (*types.RunSummary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT summary FROM runs
		WHERE network = ? AND operation = ? AND mode = ?
		ORDER BY started_at DESC LIMIT 1`,
		network, operation, string(mode),
	)
	return scanSummary(row)
}

// DeleteRun removes one run from history.
func (s *SQLiteStorage) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

func scanSummary(row *sql.Row) (*types.RunSummary, error) {
	var blob string
	if err := row.Scan(&blob); err != nil {
		// Missing rows are a nil summary, not an error; the handlers own
		// the not-found response.
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read run: %w", err)
	}
	var summary types.RunSummary
	if err := json.Unmarshal([]byte(blob), &summary); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &summary, nil
}

// Prune removes runs older than the retention window. Returns the number
// of runs removed.
func (s *SQLiteStorage) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UTC()
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return res.RowsAffected()
}
