package install

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Hooks installed into the repository.
var Hooks = []string{"pre-commit", "post-commit"}

// Config holds installer settings.
type Config struct {
	// RepoRoot is the git work tree.
	RepoRoot string
	// StateDir is the opsgate state directory.
	StateDir string
	// Binary is the opsgate executable the hooks call.
	Binary string
	// Force replaces an existing <hook>.backup.
	Force bool
}

// FillDerivedValues resolves paths and the binary location.
func (c *Config) FillDerivedValues() error {
	if c.RepoRoot == "" {
		c.RepoRoot = "."
	}
	root, err := filepath.Abs(c.RepoRoot)
	if err != nil {
		return fmt.Errorf("resolving repository root: %w", err)
	}
	c.RepoRoot = root

	if c.StateDir != "" {
		if c.StateDir, err = filepath.Abs(c.StateDir); err != nil {
			return fmt.Errorf("resolving state dir: %w", err)
		}
	}

	if c.Binary == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locating opsgate binary: %w", err)
		}
		c.Binary = exe
	}
	return nil
}

// Validate ensures all required fields are set.
func (c *Config) Validate() error {
	var missing []string

	if c.RepoRoot == "" {
		missing = append(missing, "repo-root")
	}
	if c.StateDir == "" {
		missing = append(missing, "state-dir")
	}
	if c.Binary == "" {
		missing = append(missing, "binary")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if strings.ContainsAny(c.Binary+c.StateDir, "\"`$\\\n") {
		return fmt.Errorf("binary and state dir paths must not contain shell quoting characters")
	}
	return nil
}

// RelativeStateDir returns the state dir relative to the repo root in
// forward-slash form, or "" when it lives outside the repository.
func (c *Config) RelativeStateDir() string {
	rel, err := filepath.Rel(c.RepoRoot, c.StateDir)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	return filepath.ToSlash(rel)
}
