// Package install writes the opsgate git hooks and seeds the state tree.
package install

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"opsgate/internal/environment"
	"opsgate/internal/security"
	"opsgate/pkg/cmdutil"
	"opsgate/pkg/console"
	"opsgate/pkg/fileutil"
	"opsgate/pkg/templates"
)

// ErrBackupExists is returned when a foreign hook would overwrite an
// earlier backup.
var ErrBackupExists = errors.New("hook backup already exists")

type step struct {
	name string
	fn   func() error
}

// Installer manages the installation process.
type Installer struct {
	config *Config
	out    *console.Printer
}

// New creates a new installer instance.
func New(config *Config, out *console.Printer) *Installer {
	if out == nil {
		out = console.Stdout()
	}
	return &Installer{config: config, out: out}
}

// Run installs the hooks and prepares the state tree.
func (i *Installer) Run(ctx context.Context) error {
	c := i.config
	if err := c.FillDerivedValues(); err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return err
	}

	hooksDir, err := HooksDir(ctx, c.RepoRoot)
	if err != nil {
		i.out.Fail("Locating git hooks directory...")
		return err
	}

	steps := []step{
		{"creating state directories", i.createStateDirs},
		{"writing boundary policy", i.writePolicy},
	}
	for _, hook := range Hooks {
		steps = append(steps, step{"installing " + hook + " hook", func() error {
			return i.installHook(hooksDir, hook)
		}})
	}

	for _, step := range steps {
		if err := step.fn(); err != nil {
			i.out.Fail(capitalize(step.name) + "...")
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}

	i.printSuccessSummary(hooksDir)
	return nil
}

// Uninstall removes managed hooks and restores any backups.
func (i *Installer) Uninstall(ctx context.Context) error {
	c := i.config
	if err := c.FillDerivedValues(); err != nil {
		return err
	}

	hooksDir, err := HooksDir(ctx, c.RepoRoot)
	if err != nil {
		return err
	}

	for _, hook := range Hooks {
		path := filepath.Join(hooksDir, hook)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("reading %s hook: %w", hook, err)
		}
		if !templates.IsManaged(data) {
			i.out.Warn(fmt.Sprintf("Leaving foreign %s hook in place...", hook))
			continue
		}

		backup := path + ".backup"
		if fileutil.FileExists(backup) {
			if err := os.Rename(backup, path); err != nil {
				return fmt.Errorf("restoring %s hook: %w", hook, err)
			}
			i.out.OK(fmt.Sprintf("Restored previous %s hook...", hook))
			continue
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("removing %s hook: %w", hook, err)
		}
		i.out.OK(fmt.Sprintf("Removed %s hook...", hook))
	}
	return nil
}

// HooksDir asks git where hooks live, honoring core.hooksPath.
func HooksDir(ctx context.Context, repoRoot string) (string, error) {
	out, err := cmdutil.Output(ctx, repoRoot, 30*time.Second, "git", "rev-parse", "--git-path", "hooks")
	if err != nil {
		return "", fmt.Errorf("not a git repository: %w", err)
	}
	if !filepath.IsAbs(out) {
		out = filepath.Join(repoRoot, out)
	}
	return out, nil
}

func (i *Installer) createStateDirs() error {
	paths := environment.NewStatePaths(i.config.StateDir)
	for _, dir := range []string{
		filepath.Dir(paths.Boundaries),
		filepath.Dir(paths.DeploymentMode),
		filepath.Dir(paths.OrchestrationLog),
	} {
		if err := security.CreateSecureDir(dir, security.PermStateDir); err != nil {
			return err
		}
	}
	i.out.OK("Creating state directories...")
	return nil
}

func (i *Installer) writePolicy() error {
	path := environment.NewStatePaths(i.config.StateDir).Boundaries
	if fileutil.FileExists(path) {
		i.out.OK("Boundary policy already exists...")
		return nil
	}

	stateDir := i.config.RelativeStateDir()
	if stateDir == "" {
		// State lives outside the repository, nothing to protect there.
		stateDir = ".opsgate"
	}
	policy, err := templates.RenderPolicy(stateDir)
	if err != nil {
		return err
	}
	if err := fileutil.WriteFileAtomic(path, []byte(policy), security.PermStateFile); err != nil {
		return err
	}
	i.out.OK("Writing starter boundary policy...")
	return nil
}

func (i *Installer) installHook(hooksDir, hook string) error {
	script, err := templates.RenderHook(hook, i.config.Binary, i.config.StateDir)
	if err != nil {
		return err
	}

	path := filepath.Join(hooksDir, hook)
	existing, err := os.ReadFile(path)
	switch {
	case err == nil && !templates.IsManaged(existing):
		backup := path + ".backup"
		if fileutil.FileExists(backup) && !i.config.Force {
			return fmt.Errorf("%w: %s (use --force to replace it)", ErrBackupExists, backup)
		}
		if err := os.Rename(path, backup); err != nil {
			return fmt.Errorf("backing up existing hook: %w", err)
		}
		i.out.Warn(fmt.Sprintf("Existing %s hook moved to %s...", hook, filepath.Base(backup)))
	case err != nil && !os.IsNotExist(err):
		return fmt.Errorf("reading existing hook: %w", err)
	}

	if err := fileutil.WriteFileAtomic(path, []byte(script), security.PermHookScript); err != nil {
		return err
	}
	i.out.OK(fmt.Sprintf("Installing %s hook...", hook))
	return nil
}

func (i *Installer) printSuccessSummary(hooksDir string) {
	c := i.config

	i.out.Println()
	i.out.Println("Hooks installed:")
	for _, hook := range Hooks {
		i.out.Printf("  %s\n", filepath.Join(hooksDir, hook))
	}
	i.out.Printf("  Binary:     %s\n", c.Binary)
	i.out.Printf("  State:      %s\n", c.StateDir)
	i.out.Println()
	i.out.Println("Next Steps:")
	i.out.Println("  1. Review the boundary policy in control/boundaries.yaml")
	i.out.Println("  2. Open a deployment window: opsgate security enable-deploy --duration 30")
	i.out.Println()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
