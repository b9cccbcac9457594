package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"opsgate/internal/audit"
	"opsgate/internal/backup"
	"opsgate/internal/boundary"
	"opsgate/internal/deployment"
	"opsgate/internal/environment"
	"opsgate/internal/gate"
	"opsgate/internal/health"
	"opsgate/internal/history"
	"opsgate/internal/preflight"
	"opsgate/internal/security"
	"opsgate/internal/settings"
	"opsgate/internal/vcs"
	"opsgate/pkg/console"
	"opsgate/pkg/fileutil"
)

// app is the loaded configuration plus the constructors every command
// shares.
type app struct {
	settings *settings.Settings
	config   *environment.Config
	envs     *environment.Registry
	paths    environment.StatePaths
	logger   *slog.Logger
	out      *console.Printer

	hist       *history.History
	histOpened bool
}

// loadApp reads settings and the config file. With requireConfig false a
// missing config file falls back to the defaults with no environments.
func loadApp(requireConfig bool) (*app, error) {
	s, err := settings.Load()
	if err != nil {
		return nil, err
	}

	explicit := configFile
	if explicit == "" {
		explicit = s.ConfigPath
	}

	var (
		config *environment.Config
		envs   map[string]*environment.Environment
	)
	path := explicit
	if path == "" {
		path = fileutil.SearchPathsOptional(fileutil.DefaultConfigPaths(environment.ConfigFileName))
	} else if !fileutil.FileExists(path) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	switch {
	case path != "":
		config, envs, err = environment.LoadConfig(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
	case requireConfig:
		fmt.Fprintf(os.Stderr, "Error: No configuration file found in default locations:\n")
		for _, p := range fileutil.DefaultConfigPaths(environment.ConfigFileName) {
			fmt.Fprintf(os.Stderr, "  - %s\n", p)
		}
		fmt.Fprintf(os.Stderr, "Use --config flag to specify a custom location\n")
		return nil, fmt.Errorf("configuration file not found")
	default:
		if config, err = environment.Default(); err != nil {
			return nil, err
		}
	}

	switch {
	case stateDir != "":
		config.SetStateDir(stateDir)
	case s.StateDir != "":
		config.SetStateDir(s.StateDir)
	}
	paths := config.Paths()

	logger := slog.New(audit.NewLineHandler(paths.OrchestrationLog, parseLevel(s.LogLevel)))
	logger.Debug("configuration loaded", "config", path, "state_dir", paths.Root, "environments", len(envs))

	return &app{
		settings: s,
		config:   config,
		envs:     environment.NewRegistry(envs),
		paths:    paths,
		logger:   logger,
		out:      console.Stdout(),
	}, nil
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// environment resolves a configured environment by name.
func (a *app) environment(name string) (*environment.Environment, error) {
	if name == "" {
		return nil, fmt.Errorf("--env is required (configured: %s)", strings.Join(a.envs.List(), ", "))
	}
	return a.envs.Get(name)
}

func (a *app) gate() *gate.Gate {
	return gate.New(gate.NewFileStore(a.paths.DeploymentMode), nil, a.config.Security.ProtectedBranches, a.logger)
}

func (a *app) boundaryChecker() (*boundary.Checker, error) {
	policy, err := boundary.LoadPolicy(a.paths.Boundaries)
	if err != nil {
		return nil, err
	}
	return boundary.NewChecker(policy, boundary.Options{
		Root:              a.config.ProjectRoot,
		EmergencyStopFile: a.paths.EmergencyStop,
		ErrorLog:          a.paths.BoundaryErrors,
		Logger:            a.logger,
	}), nil
}

func (a *app) git() (*vcs.GitClient, error) {
	return vcs.NewGitClient(a.config.ProjectRoot, a.config.Deploy.GitTimeout())
}

func (a *app) scanner(lister security.StagedLister) (*security.Scanner, error) {
	return security.NewScanner(a.config.ProjectRoot, lister, a.config.Security.Exclude)
}

func (a *app) deploymentLog() *audit.DeploymentLog {
	return audit.NewDeploymentLog(a.paths.DeploymentsLog)
}

// backups creates the backup manager. DATABASE_URL fills in a missing
// backup.database_url.
func (a *app) backups() (*backup.Manager, error) {
	cfg := a.config.Backup
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = a.settings.DatabaseURL
	}
	return backup.NewManager(backup.Options{
		ProjectRoot: a.config.ProjectRoot,
		StateDir:    a.paths.Root,
		Config:      cfg,
		HistoryPath: a.paths.BackupHistory,
		Deployments: a.deploymentLog(),
		Logger:      a.logger,
	})
}

// historyIndex opens the sqlite index on first use. The index is optional:
// failures are logged and nil is returned.
func (a *app) historyIndex() *history.History {
	if a.histOpened {
		return a.hist
	}
	a.histOpened = true

	if err := security.CreateSecureDir(a.paths.Root, security.PermStateDir); err != nil {
		a.logger.Warn("history index unavailable", "error", err)
		return nil
	}
	hist, err := history.NewHistory(a.paths.HistoryDB)
	if err != nil {
		a.logger.Warn("history index unavailable", "db", a.paths.HistoryDB, "error", err)
		return nil
	}
	a.hist = hist
	return hist
}

// Close releases the history index.
func (a *app) Close() {
	if a.hist != nil {
		a.hist.Close()
	}
}

// ciStatus returns the GitHub status reader, or nil when GitHub is not
// configured.
func (a *app) ciStatus(ctx context.Context) preflight.CIStatus {
	if !a.settings.GithubEnabled() {
		return nil
	}
	owner, repo, err := a.settings.GithubOwnerRepo()
	if err != nil {
		a.logger.Warn("ci status disabled", "error", err)
		return nil
	}
	return preflight.NewGithubStatus(ctx, a.settings.GithubToken, owner, repo)
}

// orchestrator wires the deployment orchestrator.
func (a *app) orchestrator(ctx context.Context) (*deployment.Orchestrator, error) {
	git, err := a.git()
	if err != nil {
		return nil, err
	}
	backups, err := a.backups()
	if err != nil {
		return nil, err
	}
	checker := health.NewHTTPChecker(a.config.Deploy.HealthTimeout())
	modeGate := a.gate()

	opts := preflight.Options{
		VCS:    git,
		Runner: security.NewSandboxedExecutor(a.config.ProjectRoot, a.config.Deploy.TestTimeout()),
		Health: checker,
		Gate:   modeGate,
		CI:     a.ciStatus(ctx),
		Logger: a.logger,
	}
	if a.config.Security.ScanEnabled() {
		scanner, err := a.scanner(git)
		if err != nil {
			return nil, err
		}
		opts.Scanner = scanner
	}

	stop, err := a.boundaryChecker()
	if err != nil {
		a.logger.Warn("boundary policy unreadable", "error", err)
	}

	deployOpts := deployment.Options{
		ProjectRoot: a.config.ProjectRoot,
		Remote:      a.config.Deploy.Remote,
		Settle:      a.config.Deploy.SettleDuration(),
		VCS:         git,
		Preflight:   preflight.NewAggregator(opts),
		Backups:     backups,
		Health:      checker,
		Deployments: a.deploymentLog(),
		Mode:        modeGate,
		Envs:        a.envs,
		User:        a.settings.ActingUser(),
		Out:         a.out,
		Logger:      a.logger,
	}
	if stop != nil {
		deployOpts.Stop = stop
	}

	if hist := a.historyIndex(); hist != nil {
		deployOpts.History = hist
	}

	return deployment.New(deployOpts), nil
}
