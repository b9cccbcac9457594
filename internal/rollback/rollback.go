// Package rollback runs rollback scripts behind a verify, backup, execute
// and validate sequence and keeps a capped history of every attempt.
package rollback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"opsgate/internal/backup"
	"opsgate/internal/environment"
)

// Status is the outcome of a rollback.
type Status string

const (
	StatusStarted          Status = "STARTED"
	StatusFailed           Status = "FAILED"
	StatusValidationFailed Status = "VALIDATION_FAILED"
	StatusExecutionFailed  Status = "EXECUTION_FAILED"
	StatusSuccess          Status = "SUCCESS"
	StatusError            Status = "ERROR"
)

// Safety check names, in execution order.
const (
	CheckScriptExists = "script_exists"
	CheckScriptSize   = "script_size"
	CheckSQLKeywords  = "sql_keywords"
	CheckBackup       = "create_backup"
	CheckExecute      = "execute"
	CheckValidate     = "validate"
)

// Record is one rollback attempt.
type Record struct {
	ID           string     `json:"id"`
	Script       string     `json:"script"`
	Environment  string     `json:"environment"`
	Reason       string     `json:"reason"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	SafetyChecks []string   `json:"safety_checks"`
	Warnings     []string   `json:"warnings,omitempty"`
	Status       Status     `json:"status"`
	Error        string     `json:"error,omitempty"`
	Backup       *string    `json:"backup"`
}

// Backuper takes the safety backup.
type Backuper interface {
	CreateKind(ctx context.Context, envName, kind string) (*backup.Artifact, error)
}

// Options configures a Manager.
type Options struct {
	Backups Backuper
	// BackupFirst requires a safety backup before execution.
	BackupFirst bool
	// Appliers maps an environment apply mode to its applier.
	Appliers     map[string]Applier
	HistoryPath  string
	HistoryLimit int
	// Timeout bounds backup, execution and validation together.
	Timeout time.Duration
	Now     func() time.Time
	Logger  *slog.Logger
}

// Manager executes rollbacks.
type Manager struct {
	opts    Options
	history *History
}

// NewManager creates a manager.
func NewManager(opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{opts: opts, history: NewHistory(opts.HistoryPath, opts.HistoryLimit)}
}

// History returns the stored records, oldest first.
func (m *Manager) History() ([]Record, error) {
	return m.history.Load()
}

// Execute runs script against env. The returned record is always non-nil and
// always persisted.
func (m *Manager) Execute(ctx context.Context, script string, env *environment.Environment, reason string) (rec *Record) {
	rec = &Record{
		ID:           uuid.NewString(),
		Script:       script,
		Environment:  env.Name,
		Reason:       reason,
		StartedAt:    m.opts.Now().UTC(),
		SafetyChecks: []string{},
		Status:       StatusStarted,
	}
	m.opts.Logger.Info("rollback started", "id", rec.ID, "environment", env.Name, "script", script, "reason", reason)

	defer func() {
		if r := recover(); r != nil {
			rec.Status = StatusError
			rec.Error = fmt.Sprintf("panic: %v", r)
		}
		m.finish(rec)
	}()

	if m.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.Timeout)
		defer cancel()
	}

	content, err := m.verify(rec, script)
	if err != nil {
		rec.Status = StatusFailed
		rec.Error = err.Error()
		return rec
	}

	if m.opts.BackupFirst {
		rec.SafetyChecks = append(rec.SafetyChecks, CheckBackup)
		artifact, err := m.safetyBackup(ctx, env)
		if err != nil {
			rec.Status = StatusFailed
			rec.Error = fmt.Sprintf("safety backup failed: %v", err)
			return rec
		}
		rec.Backup = &artifact.Path
	}

	applier, ok := m.opts.Appliers[env.RollbackApply]
	if !ok {
		rec.Status = StatusError
		rec.Error = fmt.Sprintf("no applier for rollback mode %q", env.RollbackApply)
		return rec
	}

	rec.SafetyChecks = append(rec.SafetyChecks, CheckExecute)
	if err := applier.Apply(ctx, SplitStatements(content)); err != nil {
		rec.Status = StatusExecutionFailed
		rec.Error = err.Error()
		return rec
	}

	rec.SafetyChecks = append(rec.SafetyChecks, CheckValidate)
	if err := applier.Validate(ctx); err != nil {
		rec.Status = StatusValidationFailed
		rec.Error = err.Error()
		return rec
	}

	rec.Status = StatusSuccess
	return rec
}

// verify checks the script and returns its content. A script without SQL
// keywords only produces a warning.
func (m *Manager) verify(rec *Record, script string) (string, error) {
	rec.SafetyChecks = append(rec.SafetyChecks, CheckScriptExists)
	info, err := os.Stat(script)
	if err != nil {
		return "", fmt.Errorf("rollback script not found: %s", script)
	}
	if info.IsDir() {
		return "", fmt.Errorf("rollback script is a directory: %s", script)
	}

	rec.SafetyChecks = append(rec.SafetyChecks, CheckScriptSize)
	if info.Size() < MinScriptSize {
		return "", fmt.Errorf("rollback script too small (%d bytes): %s", info.Size(), script)
	}

	data, err := os.ReadFile(script)
	if err != nil {
		return "", fmt.Errorf("failed to read rollback script: %w", err)
	}

	rec.SafetyChecks = append(rec.SafetyChecks, CheckSQLKeywords)
	content := string(data)
	if !LooksLikeSQL(content) {
		warning := "script contains no recognizable SQL keywords"
		rec.Warnings = append(rec.Warnings, warning)
		m.opts.Logger.Warn(warning, "id", rec.ID, "script", script)
	}
	return content, nil
}

func (m *Manager) safetyBackup(ctx context.Context, env *environment.Environment) (*backup.Artifact, error) {
	if m.opts.Backups == nil {
		return nil, errors.New("no backup manager configured")
	}
	kind := env.BackupKind
	if env.RollbackApply == environment.ApplyDatabase {
		kind = environment.BackupDatabase
	}
	if kind == "" {
		kind = environment.BackupFiles
	}
	return m.opts.Backups.CreateKind(ctx, env.Name, kind)
}

func (m *Manager) finish(rec *Record) {
	ended := m.opts.Now().UTC()
	rec.EndedAt = &ended

	if err := m.history.Append(*rec); err != nil {
		m.opts.Logger.Error("failed to write rollback history", "id", rec.ID, "error", err)
	}

	attrs := []any{"id", rec.ID, "environment", rec.Environment, "status", string(rec.Status),
		"duration", ended.Sub(rec.StartedAt).Round(time.Millisecond)}
	if rec.Error != "" {
		attrs = append(attrs, "error", rec.Error)
	}
	if rec.Status == StatusSuccess {
		m.opts.Logger.Info("rollback finished", attrs...)
	} else {
		m.opts.Logger.Error("rollback finished", attrs...)
	}
}
