// Package storage persists completed runs to SQLite, alongside (not
// instead of) the per-run JSON reports internal/sink writes. The run store
// offers history, filtering, and aggregate stats that scanning the sink's
// JSON files on disk would not support efficiently. The dashboard reads its
// stats; the control API's /control/runs routes read runs.Store instead.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// RunRecord is the historical, flattened form of a completed runs.Run.
type RunRecord struct {
	ID            string            `json:"id"`
	Operation     string            `json:"operation"`
	Target        string            `json:"target"`
	State         string            `json:"state"`
	StartedAt     time.Time         `json:"started_at"`
	FinishedAt    time.Time         `json:"finished_at"`
	DurationMs    int64             `json:"duration_ms"`
	Summary       json.RawMessage   `json:"summary,omitempty"`
	ArtifactPaths []string          `json:"artifact_paths,omitempty"`
	Error         string            `json:"error,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// SQLiteStore provides persistent storage for run history.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the SQLite database at dbPath
// and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Info("sqlite run store initialized", "path", dbPath)
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		operation TEXT NOT NULL,
		target TEXT NOT NULL,
		state TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		summary TEXT,
		artifact_paths TEXT,
		error TEXT,
		metadata TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_operation ON runs(operation);
	CREATE INDEX IF NOT EXISTS idx_runs_state ON runs(state);
	CREATE INDEX IF NOT EXISTS idx_runs_target ON runs(target);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveRun inserts or replaces one completed run's history row.
func (s *SQLiteStore) SaveRun(record RunRecord) error {
	artifacts, err := json.Marshal(record.ArtifactPaths)
	if err != nil {
		artifacts = []byte("[]")
	}
	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		metadata = []byte("{}")
	}
	summary := record.Summary
	if summary == nil {
		summary = json.RawMessage("null")
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO runs
		(id, operation, target, state, started_at, finished_at, duration_ms, summary, artifact_paths, error, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.Operation,
		record.Target,
		record.State,
		record.StartedAt,
		record.FinishedAt,
		record.DurationMs,
		string(summary),
		string(artifacts),
		record.Error,
		string(metadata),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// GetRun fetches one run by id, returning (nil, nil) if it doesn't exist.
func (s *SQLiteStore) GetRun(id string) (*RunRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, operation, target, state, started_at, finished_at, duration_ms, summary, artifact_paths, error, metadata
		FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// ListRunsOptions filters and paginates ListRuns.
type ListRunsOptions struct {
	Limit     int
	Offset    int
	Operation string
	State     string
	Since     *time.Time
	Until     *time.Time
}

// ListRuns retrieves run history rows, most recent first.
func (s *SQLiteStore) ListRuns(opts ListRunsOptions) ([]RunRecord, error) {
	query := `
		SELECT id, operation, target, state, started_at, finished_at, duration_ms, summary, artifact_paths, error, metadata
		FROM runs WHERE 1=1`
	var args []any

	if opts.Operation != "" {
		query += " AND operation = ?"
		args = append(args, opts.Operation)
	}
	if opts.State != "" {
		query += " AND state = ?"
		args = append(args, opts.State)
	}
	if opts.Since != nil {
		query += " AND started_at >= ?"
		args = append(args, *opts.Since)
	}
	if opts.Until != nil {
		query += " AND started_at <= ?"
		args = append(args, *opts.Until)
	}

	query += " ORDER BY started_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		record, err := scanRunRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// Stats summarizes run history.
type Stats struct {
	TotalRuns        int64            `json:"total_runs"`
	RunsByState      map[string]int64 `json:"runs_by_state"`
	RunsByOperation  map[string]int64 `json:"runs_by_operation"`
	AvgDurationMs    float64          `json:"avg_duration_ms"`
}

// GetStats aggregates run history, optionally since a cutoff time.
func (s *SQLiteStore) GetStats(since *time.Time) (*Stats, error) {
	stats := &Stats{
		RunsByState:     make(map[string]int64),
		RunsByOperation: make(map[string]int64),
	}

	where := "WHERE 1=1"
	var args []any
	if since != nil {
		where += " AND started_at >= ?"
		args = append(args, *since)
	}

	row := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*), COALESCE(AVG(duration_ms), 0) FROM runs %s", where), args...)
	if err := row.Scan(&stats.TotalRuns, &stats.AvgDurationMs); err != nil {
		return nil, fmt.Errorf("failed to get run stats: %w", err)
	}

	stateRows, err := s.db.Query(fmt.Sprintf("SELECT state, COUNT(*) FROM runs %s GROUP BY state", where), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get state breakdown: %w", err)
	}
	defer stateRows.Close()
	for stateRows.Next() {
		var state string
		var count int64
		if err := stateRows.Scan(&state, &count); err != nil {
			return nil, err
		}
		stats.RunsByState[state] = count
	}

	opRows, err := s.db.Query(fmt.Sprintf("SELECT operation, COUNT(*) FROM runs %s GROUP BY operation", where), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get operation breakdown: %w", err)
	}
	defer opRows.Close()
	for opRows.Next() {
		var op string
		var count int64
		if err := opRows.Scan(&op, &count); err != nil {
			return nil, err
		}
		stats.RunsByOperation[op] = count
	}

	return stats, nil
}

// Cleanup deletes run rows older than retentionDays (by finished_at).
func (s *SQLiteStore) Cleanup(retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	result, err := s.db.Exec("DELETE FROM runs WHERE finished_at IS NOT NULL AND finished_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up old runs: %w", err)
	}
	deleted, _ := result.RowsAffected()
	if deleted > 0 {
		slog.Info("cleaned up old runs", "deleted", deleted, "retention_days", retentionDays)
	}
	return deleted, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	record, err := scanRunRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return record, err
}

func scanRunRow(row rowScanner) (*RunRecord, error) {
	var record RunRecord
	var finishedAt sql.NullTime
	var summaryStr, artifactsStr, metadataStr sql.NullString

	err := row.Scan(
		&record.ID,
		&record.Operation,
		&record.Target,
		&record.State,
		&record.StartedAt,
		&finishedAt,
		&record.DurationMs,
		&summaryStr,
		&artifactsStr,
		&record.Error,
		&metadataStr,
	)
	if err != nil {
		return nil, err
	}

	if finishedAt.Valid {
		record.FinishedAt = finishedAt.Time
	}
	if summaryStr.Valid && summaryStr.String != "" && summaryStr.String != "null" {
		record.Summary = json.RawMessage(summaryStr.String)
	}
	if artifactsStr.Valid && artifactsStr.String != "" {
		_ = json.Unmarshal([]byte(artifactsStr.String), &record.ArtifactPaths)
	}
	if metadataStr.Valid && metadataStr.String != "" {
		_ = json.Unmarshal([]byte(metadataStr.String), &record.Metadata)
	}

	return &record, nil
}
