package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// History indexes deployment attempts in SQLite
type History struct {
	db *sql.DB
}

// NewHistory opens (and creates) the index at dbPath
func NewHistory(dbPath string) (*History, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	h := &History{db: db}

	if err := h.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return h, nil
}

// Close closes the database connection
func (h *History) Close() error {
	return h.db.Close()
}

func (h *History) initSchema() error {
	_, err := h.db.Exec(`
		CREATE TABLE IF NOT EXISTS deployments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			environment TEXT NOT NULL,
			branch TEXT NOT NULL,
			status TEXT NOT NULL,
			user TEXT NOT NULL,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			duration_seconds REAL,
			commit_hash TEXT,
			backup_path TEXT,
			reason TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	_, err = h.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_environment_started
		ON deployments(environment, started_at DESC)
	`)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// RecordDeployment stores a finished deployment attempt and returns its ID
func (h *History) RecordDeployment(ctx context.Context, d *Deployment) (int64, error) {
	startedAt := d.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	completed := time.Now()
	if d.CompletedAt != nil {
		completed = *d.CompletedAt
	}
	completedAt := completed.UTC().Format(time.RFC3339Nano)

	result, err := h.db.ExecContext(ctx, `
		INSERT INTO deployments
		(environment, branch, status, user, started_at, completed_at,
		 duration_seconds, commit_hash, backup_path, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		d.Environment,
		d.Branch,
		d.Status,
		d.User,
		startedAt.UTC().Format(time.RFC3339Nano),
		completedAt,
		d.DurationSeconds,
		d.CommitHash,
		d.BackupPath,
		d.Reason,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert deployment record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	return id, nil
}

const selectColumns = `
	SELECT id, environment, branch, status, user, started_at, completed_at,
	       duration_seconds, commit_hash, backup_path, reason
	FROM deployments`

// GetLatestDeployment returns the most recent deployment of an environment,
// or nil if there is none
func (h *History) GetLatestDeployment(ctx context.Context, environment string) (*Deployment, error) {
	row := h.db.QueryRowContext(ctx, selectColumns+`
		WHERE environment = ?
		ORDER BY id DESC
		LIMIT 1
	`, environment)

	d, err := scanDeployment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest deployment: %w", err)
	}

	return d, nil
}

// GetDeploymentHistory returns the newest deployments of an environment
func (h *History) GetDeploymentHistory(ctx context.Context, environment string, limit int) ([]Deployment, error) {
	rows, err := h.db.QueryContext(ctx, selectColumns+`
		WHERE environment = ?
		ORDER BY id DESC
		LIMIT ?
	`, environment, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query deployment history: %w", err)
	}
	defer rows.Close()

	return collect(rows)
}

// GetEnvironmentStatus combines the latest deployment and recent history
func (h *History) GetEnvironmentStatus(ctx context.Context, environment string, limit int) (*EnvironmentStatus, error) {
	recent, err := h.GetDeploymentHistory(ctx, environment, limit)
	if err != nil {
		return nil, err
	}

	status := &EnvironmentStatus{
		Environment:   environment,
		RecentHistory: recent,
	}
	if status.RecentHistory == nil {
		status.RecentHistory = []Deployment{}
	}
	if len(recent) > 0 {
		latest := recent[0]
		status.LatestDeployment = &latest
	}
	return status, nil
}

// GetAllEnvironmentsStatus returns the latest deployment for each environment
func (h *History) GetAllEnvironmentsStatus(ctx context.Context) (map[string]*Deployment, error) {
	rows, err := h.db.QueryContext(ctx, selectColumns+`
		WHERE id IN (SELECT MAX(id) FROM deployments GROUP BY environment)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query environments status: %w", err)
	}
	defer rows.Close()

	deployments, err := collect(rows)
	if err != nil {
		return nil, err
	}

	result := make(map[string]*Deployment, len(deployments))
	for i := range deployments {
		result[deployments[i].Environment] = &deployments[i]
	}
	return result, nil
}

// CountByStatus returns deployment counts keyed by environment then status
func (h *History) CountByStatus(ctx context.Context) (map[string]map[string]int, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT environment, status, COUNT(*)
		FROM deployments
		GROUP BY environment, status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count deployments: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]map[string]int)
	for rows.Next() {
		var env, status string
		var n int
		if err := rows.Scan(&env, &status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		if counts[env] == nil {
			counts[env] = make(map[string]int)
		}
		counts[env][status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return counts, nil
}

func collect(rows *sql.Rows) ([]Deployment, error) {
	var deployments []Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment record: %w", err)
		}
		deployments = append(deployments, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return deployments, nil
}

// scanner is implemented by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDeployment(s scanner) (*Deployment, error) {
	var d Deployment
	var startedAtStr string
	var completedAtStr sql.NullString

	err := s.Scan(
		&d.ID,
		&d.Environment,
		&d.Branch,
		&d.Status,
		&d.User,
		&startedAtStr,
		&completedAtStr,
		&d.DurationSeconds,
		&d.CommitHash,
		&d.BackupPath,
		&d.Reason,
	)
	if err != nil {
		return nil, err
	}

	startedAt, err := time.Parse(time.RFC3339Nano, startedAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at timestamp: %w", err)
	}
	d.StartedAt = startedAt

	if completedAtStr.Valid {
		completedAt, err := time.Parse(time.RFC3339Nano, completedAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse completed_at timestamp: %w", err)
		}
		d.CompletedAt = &completedAt
	}

	return &d, nil
}
