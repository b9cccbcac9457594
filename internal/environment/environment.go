package environment

import "time"

// Environment names.
const (
	Development = "development"
	Staging     = "staging"
	Production  = "production"
)

// Rollback apply modes.
const (
	ApplyDryRun   = "dry-run"
	ApplyDatabase = "database"
)

// Backup kinds.
const (
	BackupFiles    = "files"
	BackupDatabase = "database"
)

// Environment is a validated deployment target. It is never mutated after loading.
type Environment struct {
	Name            string
	Branch          string
	RequireTests    bool
	TestCommand     []string
	RollbackEnabled bool
	BackupEnabled   bool
	BackupKind      string
	HealthURL       string
	RollbackApply   string
}

// IsProduction reports whether the environment is production.
func (e *Environment) IsProduction() bool {
	return e.Name == Production
}

// IsGuarded reports whether the environment is staging or production,
// which get health pre-checks and deployment-mode notes.
func (e *Environment) IsGuarded() bool {
	return e.Name == Staging || e.Name == Production
}

// EnvironmentConfig is the YAML form of an environment.
type EnvironmentConfig struct {
	Branch          string      `yaml:"branch"`
	RequireTests    bool        `yaml:"require_tests"`
	TestCommand     interface{} `yaml:"test_command"` // string or list
	RollbackEnabled bool        `yaml:"rollback_enabled"`
	BackupEnabled   *bool       `yaml:"backup_enabled"`
	BackupKind      string      `yaml:"backup_kind"`
	HealthURL       string      `yaml:"health_url"`
	RollbackApply   string      `yaml:"rollback_apply"`
}

// DeployConfig tunes the deployment orchestrator.
type DeployConfig struct {
	Remote               string `yaml:"remote"`
	SettleSeconds        int    `yaml:"settle_seconds"`
	GitTimeoutSeconds    int    `yaml:"git_timeout_seconds"`
	HealthTimeoutSeconds int    `yaml:"health_timeout_seconds"`
	TestTimeoutSeconds   int    `yaml:"test_timeout_seconds"`
}

// SettleDuration is the fixed wait between push and the health check.
func (d DeployConfig) SettleDuration() time.Duration {
	return time.Duration(d.SettleSeconds) * time.Second
}

// GitTimeout bounds each git invocation.
func (d DeployConfig) GitTimeout() time.Duration {
	return time.Duration(d.GitTimeoutSeconds) * time.Second
}

// HealthTimeout bounds each health request.
func (d DeployConfig) HealthTimeout() time.Duration {
	return time.Duration(d.HealthTimeoutSeconds) * time.Second
}

// TestTimeout bounds the pre-flight test command.
func (d DeployConfig) TestTimeout() time.Duration {
	return time.Duration(d.TestTimeoutSeconds) * time.Second
}

// SecurityConfig tunes the commit gate and secret scanner.
type SecurityConfig struct {
	ScanSecrets            *bool    `yaml:"scan_secrets"`
	ProtectedBranches      []string `yaml:"protected_branches"`
	Exclude                []string `yaml:"exclude"`
	DefaultDurationMinutes int      `yaml:"default_duration_minutes"`
	Actor                  string   `yaml:"actor"`
}

// ScanEnabled reports whether secret scanning runs in pre-flight.
func (s SecurityConfig) ScanEnabled() bool {
	return s.ScanSecrets == nil || *s.ScanSecrets
}

// BackupConfig tunes the backup manager.
type BackupConfig struct {
	Dir                  string   `yaml:"dir"`
	RetentionDays        int      `yaml:"retention_days"`
	Compress             *bool    `yaml:"compress"`
	Exclude              []string `yaml:"exclude"`
	DatabaseURL          string   `yaml:"database_url"`
	PgDumpTimeoutSeconds int      `yaml:"pg_dump_timeout_seconds"`
}

// CompressEnabled reports whether artifacts are gzip-compressed.
func (b BackupConfig) CompressEnabled() bool {
	return b.Compress == nil || *b.Compress
}

// PgDumpTimeout bounds a database dump.
func (b BackupConfig) PgDumpTimeout() time.Duration {
	return time.Duration(b.PgDumpTimeoutSeconds) * time.Second
}

// RollbackConfig tunes the rollback manager.
type RollbackConfig struct {
	CreateRollbackBackup *bool  `yaml:"create_rollback_backup"`
	TimeoutSeconds       int    `yaml:"timeout_seconds"`
	HistoryLimit         int    `yaml:"history_limit"`
	DatabaseURL          string `yaml:"database_url"`
}

// BackupFirst reports whether a safety backup precedes every rollback.
func (r RollbackConfig) BackupFirst() bool {
	return r.CreateRollbackBackup == nil || *r.CreateRollbackBackup
}

// Timeout bounds rollback execution.
func (r RollbackConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// ServerConfig configures the status server.
type ServerConfig struct {
	Host      string  `yaml:"host"`
	Port      int     `yaml:"port"`
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// Config represents the root configuration structure.
type Config struct {
	ProjectRoot  string                       `yaml:"project_root"`
	StateDir     string                       `yaml:"state_dir"`
	Deploy       DeployConfig                 `yaml:"deploy"`
	Security     SecurityConfig               `yaml:"security"`
	Backup       BackupConfig                 `yaml:"backup"`
	Rollback     RollbackConfig               `yaml:"rollback"`
	Server       ServerConfig                 `yaml:"server"`
	Environments map[string]EnvironmentConfig `yaml:"environments"`
}
