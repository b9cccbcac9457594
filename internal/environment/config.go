package environment

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"opsgate/internal/settings"
	"opsgate/pkg/cmdutil"
)

// ConfigFileName is the file searched for in the default config paths.
const ConfigFileName = "opsgate.yaml"

const (
	DefaultRemote               = "origin"
	DefaultSettleSeconds        = 30
	DefaultGitTimeoutSeconds    = 120
	DefaultHealthTimeoutSeconds = 10
	DefaultTestTimeoutSeconds   = 600
	DefaultDeployModeMinutes    = 30
	DefaultRetentionDays        = 7
	DefaultPgDumpTimeoutSeconds = 600
	DefaultRollbackTimeout      = 300
	DefaultRollbackHistoryLimit = 50
	DefaultServerPort           = 8090
)

// DefaultProtectedBranches may not receive direct commits outside deployment mode.
var DefaultProtectedBranches = []string{"master", "main", "production", "staging"}

// DefaultScanExclude lists files the secret scanner skips.
var DefaultScanExclude = []string{"*.tmp", "*_test.go", "test/**", "tests/**", ".env.example", "*.sample"}

var defaultBranches = map[string]string{
	Development: "develop",
	Staging:     "staging",
	Production:  "main",
}

var varRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadConfig loads and validates the configuration from a YAML file.
// ${VAR} references in values are expanded from the process environment;
// an unset variable is a fatal error.
func LoadConfig(configPath string) (*Config, map[string]*Environment, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	var missing []string
	expandNode(&root, &missing)
	if len(missing) > 0 {
		return nil, nil, fmt.Errorf("%w in %s: %s", settings.ErrMissingVariable, configPath, strings.Join(uniqueSorted(missing), ", "))
	}

	var config Config
	if len(root.Content) > 0 {
		if err := root.Decode(&config); err != nil {
			return nil, nil, fmt.Errorf("failed to decode YAML config: %w", err)
		}
	}

	if err := config.ApplyDefaults(); err != nil {
		return nil, nil, err
	}
	if errs := config.Validate(); len(errs) > 0 {
		return nil, nil, fmt.Errorf("invalid configuration:\n%s", strings.Join(errs, "\n"))
	}

	environments := make(map[string]*Environment)
	for name, envConfig := range config.Environments {
		errs := ValidateEnvironmentConfig(name, envConfig)
		if len(errs) > 0 {
			return nil, nil, fmt.Errorf("invalid configuration for environment '%s':\n%s",
				name, strings.Join(errs, "\n"))
		}
		environments[name] = buildEnvironment(name, envConfig)
	}

	if len(environments) == 0 {
		return nil, nil, fmt.Errorf("no environments configured in %s", configPath)
	}

	return &config, environments, nil
}

// Default returns a configuration with every default applied and no
// environments. Commands that only touch the state tree use it when no
// config file exists.
func Default() (*Config, error) {
	config := &Config{}
	if err := config.ApplyDefaults(); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyDefaults fills zero values and resolves paths to absolute form.
// Relative state and backup dirs are resolved against the project root.
func (c *Config) ApplyDefaults() error {
	if c.ProjectRoot == "" {
		c.ProjectRoot = "."
	}
	root, err := filepath.Abs(c.ProjectRoot)
	if err != nil {
		return fmt.Errorf("failed to resolve project_root: %w", err)
	}
	c.ProjectRoot = root

	if c.StateDir == "" {
		c.StateDir = ".opsgate"
	}
	c.StateDir = c.resolve(c.StateDir)

	if c.Deploy.Remote == "" {
		c.Deploy.Remote = DefaultRemote
	}
	if c.Deploy.SettleSeconds == 0 {
		c.Deploy.SettleSeconds = DefaultSettleSeconds
	}
	if c.Deploy.GitTimeoutSeconds == 0 {
		c.Deploy.GitTimeoutSeconds = DefaultGitTimeoutSeconds
	}
	if c.Deploy.HealthTimeoutSeconds == 0 {
		c.Deploy.HealthTimeoutSeconds = DefaultHealthTimeoutSeconds
	}
	if c.Deploy.TestTimeoutSeconds == 0 {
		c.Deploy.TestTimeoutSeconds = DefaultTestTimeoutSeconds
	}

	if len(c.Security.ProtectedBranches) == 0 {
		c.Security.ProtectedBranches = append([]string(nil), DefaultProtectedBranches...)
	}
	if c.Security.Exclude == nil {
		c.Security.Exclude = append([]string(nil), DefaultScanExclude...)
	}
	if c.Security.DefaultDurationMinutes == 0 {
		c.Security.DefaultDurationMinutes = DefaultDeployModeMinutes
	}

	if c.Backup.Dir == "" {
		c.Backup.Dir = filepath.Join(c.StateDir, "backups")
	}
	c.Backup.Dir = c.resolve(c.Backup.Dir)
	if c.Backup.RetentionDays == 0 {
		c.Backup.RetentionDays = DefaultRetentionDays
	}
	if c.Backup.PgDumpTimeoutSeconds == 0 {
		c.Backup.PgDumpTimeoutSeconds = DefaultPgDumpTimeoutSeconds
	}

	if c.Rollback.TimeoutSeconds == 0 {
		c.Rollback.TimeoutSeconds = DefaultRollbackTimeout
	}
	if c.Rollback.HistoryLimit == 0 {
		c.Rollback.HistoryLimit = DefaultRollbackHistoryLimit
	}

	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 5
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = 10
	}

	if c.Environments == nil {
		c.Environments = make(map[string]EnvironmentConfig)
	}
	return nil
}

// SetStateDir overrides the state directory, keeping a default backup dir
// inside it.
func (c *Config) SetStateDir(dir string) {
	oldDefault := filepath.Join(c.StateDir, "backups")
	c.StateDir = c.resolve(dir)
	if c.Backup.Dir == oldDefault {
		c.Backup.Dir = filepath.Join(c.StateDir, "backups")
	}
}

func (c *Config) resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(c.ProjectRoot, path)
}

// Validate checks the global sections and returns itemized errors.
func (c *Config) Validate() []string {
	var errors []string

	if c.Deploy.SettleSeconds < 0 {
		errors = append(errors, fmt.Sprintf("  - deploy.settle_seconds must not be negative, got %d", c.Deploy.SettleSeconds))
	}
	if c.Deploy.GitTimeoutSeconds < 0 || c.Deploy.HealthTimeoutSeconds < 0 || c.Deploy.TestTimeoutSeconds < 0 {
		errors = append(errors, "  - deploy timeouts must be positive integers")
	}
	if strings.HasPrefix(c.Deploy.Remote, "-") {
		errors = append(errors, fmt.Sprintf("  - deploy.remote cannot start with '-', got '%s'", c.Deploy.Remote))
	}
	if c.Security.DefaultDurationMinutes < 0 {
		errors = append(errors, "  - security.default_duration_minutes must be positive")
	}
	if c.Backup.RetentionDays < 0 {
		errors = append(errors, fmt.Sprintf("  - backup.retention_days must not be negative, got %d", c.Backup.RetentionDays))
	}
	if c.Rollback.TimeoutSeconds < 0 {
		errors = append(errors, "  - rollback.timeout_seconds must be positive")
	}
	if c.Rollback.HistoryLimit < 0 {
		errors = append(errors, "  - rollback.history_limit must be positive")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errors = append(errors, fmt.Sprintf("  - server.port out of range: %d", c.Server.Port))
	}

	return errors
}

// ValidateEnvironmentConfig validates a single environment configuration
func ValidateEnvironmentConfig(name string, config EnvironmentConfig) []string {
	var errors []string

	if _, known := defaultBranches[name]; !known {
		errors = append(errors, fmt.Sprintf("  - Environment '%s': name must be one of development, staging, production", name))
	}

	if strings.HasPrefix(config.Branch, "-") {
		errors = append(errors, fmt.Sprintf("  - Environment '%s': branch name cannot start with '-', got '%s'", name, config.Branch))
	}
	if strings.ContainsAny(config.Branch, " \t\n~^:?*[\\") {
		errors = append(errors, fmt.Sprintf("  - Environment '%s': branch name contains invalid characters: '%s'", name, config.Branch))
	}

	if config.HealthURL == "" {
		errors = append(errors, fmt.Sprintf("  - Environment '%s': missing required 'health_url' field", name))
	} else if u, err := url.Parse(config.HealthURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errors = append(errors, fmt.Sprintf("  - Environment '%s': health_url must be an http(s) URL, got '%s'", name, config.HealthURL))
	}

	if config.RequireTests {
		if config.TestCommand == nil {
			errors = append(errors, fmt.Sprintf("  - Environment '%s': require_tests is set but test_command is missing", name))
		} else if _, err := cmdutil.ParseCommandList(config.TestCommand); err != nil {
			errors = append(errors, fmt.Sprintf("  - Environment '%s': invalid test_command: %v", name, err))
		}
	}

	switch config.RollbackApply {
	case "", ApplyDryRun, ApplyDatabase:
	default:
		errors = append(errors, fmt.Sprintf("  - Environment '%s': rollback_apply must be dry-run or database, got '%s'", name, config.RollbackApply))
	}

	switch config.BackupKind {
	case "", BackupFiles, BackupDatabase:
	default:
		errors = append(errors, fmt.Sprintf("  - Environment '%s': backup_kind must be files or database, got '%s'", name, config.BackupKind))
	}

	return errors
}

func buildEnvironment(name string, config EnvironmentConfig) *Environment {
	branch := config.Branch
	if branch == "" {
		branch = defaultBranches[name]
	}

	backupEnabled := name != Development
	if config.BackupEnabled != nil {
		backupEnabled = *config.BackupEnabled
	}

	backupKind := config.BackupKind
	if backupKind == "" {
		backupKind = BackupFiles
	}

	apply := config.RollbackApply
	if apply == "" {
		apply = ApplyDryRun
		if name == Production {
			apply = ApplyDatabase
		}
	}

	var testCommand []string
	if config.TestCommand != nil {
		// Already validated.
		testCommand, _ = cmdutil.ParseCommandList(config.TestCommand)
	}

	return &Environment{
		Name:            name,
		Branch:          branch,
		RequireTests:    config.RequireTests,
		TestCommand:     testCommand,
		RollbackEnabled: config.RollbackEnabled,
		BackupEnabled:   backupEnabled,
		BackupKind:      backupKind,
		HealthURL:       config.HealthURL,
		RollbackApply:   apply,
	}
}

func expandNode(n *yaml.Node, missing *[]string) {
	if n.Kind == yaml.ScalarNode && strings.Contains(n.Value, "${") {
		n.Value = varRef.ReplaceAllStringFunc(n.Value, func(ref string) string {
			name := varRef.FindStringSubmatch(ref)[1]
			value, ok := os.LookupEnv(name)
			if !ok {
				*missing = append(*missing, name)
				return ""
			}
			return value
		})
		if n.Style == 0 {
			// Let plain scalars re-resolve (e.g. "${PORT}" into an int).
			n.Tag = ""
		}
		return
	}
	for _, child := range n.Content {
		expandNode(child, missing)
	}
}

func uniqueSorted(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
