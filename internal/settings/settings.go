// Package settings reads process-level settings from the environment.
package settings

import (
	"errors"
	"fmt"
	"os"
	"strings"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ErrMissingVariable is returned when a required environment variable is unset.
var ErrMissingVariable = errors.New("required environment variable not set")

// Settings holds values taken from environment variables.
// A .env file in the working directory is loaded first when present;
// variables already set in the process environment win.
type Settings struct {
	ConfigPath string `env:"OPSGATE_CONFIG" envDefault:""`
	StateDir   string `env:"OPSGATE_STATE_DIR" envDefault:""`
	Actor      string `env:"OPSGATE_ACTOR" envDefault:""`
	User       string `env:"USER" envDefault:""`
	LogLevel   string `env:"OPSGATE_LOG_LEVEL" envDefault:"info"`

	DatabaseURL      string `env:"DATABASE_URL" envDefault:""`
	GithubToken      string `env:"GITHUB_TOKEN" envDefault:""`
	GithubRepository string `env:"GITHUB_REPOSITORY" envDefault:""`
}

// Load parses settings from the environment after loading the given dotenv
// files. With no files, ./.env is tried. Missing dotenv files are ignored.
func Load(dotenvFiles ...string) (*Settings, error) {
	if len(dotenvFiles) == 0 {
		dotenvFiles = []string{".env"}
	}
	for _, file := range dotenvFiles {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	var s Settings
	if err := env.Parse(&s); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return &s, nil
}

// ActingUser returns the identity recorded in audit logs.
func (s *Settings) ActingUser() string {
	if s.Actor != "" {
		return s.Actor
	}
	if s.User != "" {
		return s.User
	}
	return "unknown"
}

// RequireDatabaseURL returns DATABASE_URL or ErrMissingVariable.
// Credentials are never defaulted.
func (s *Settings) RequireDatabaseURL() (string, error) {
	if strings.TrimSpace(s.DatabaseURL) == "" {
		return "", fmt.Errorf("%w: DATABASE_URL", ErrMissingVariable)
	}
	return s.DatabaseURL, nil
}

// GithubEnabled reports whether CI status lookups can be made.
func (s *Settings) GithubEnabled() bool {
	return s.GithubToken != "" && strings.Contains(s.GithubRepository, "/")
}

// GithubOwnerRepo splits GITHUB_REPOSITORY ("owner/name").
func (s *Settings) GithubOwnerRepo() (string, string, error) {
	owner, repo, ok := strings.Cut(s.GithubRepository, "/")
	if !ok || owner == "" || repo == "" {
		return "", "", fmt.Errorf("invalid GITHUB_REPOSITORY %q (expected owner/name)", s.GithubRepository)
	}
	return owner, repo, nil
}
