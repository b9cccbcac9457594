package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"opsgate/internal/install"
)

var (
	securityDuration int
	securityAll      bool
	securityForce    bool
)

var securityCmd = &cobra.Command{
	Use:   "security {install|uninstall|scan|enable-deploy|disable-deploy|status}",
	Short: "Manage commit hooks, secret scanning and deployment mode",
	Long: `Manage the commit gate.

Actions:
  install         install the pre-commit and post-commit hooks and the state tree
  uninstall       remove the hooks, restoring any earlier hooks
  scan            scan staged files (or all tracked files with --all) for secrets
  enable-deploy   allow commits to protected branches for --duration minutes
  disable-deploy  end deployment mode
  status          show deployment mode, protected branches and emergency stop`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"install", "uninstall", "scan", "enable-deploy", "disable-deploy", "status"},
	RunE:      runSecurity,
}

func init() {
	securityCmd.Flags().IntVar(&securityDuration, "duration", 0, "Deployment mode window in minutes (default from config)")
	securityCmd.Flags().BoolVar(&securityAll, "all", false, "Scan all tracked files instead of staged files")
	securityCmd.Flags().BoolVar(&securityForce, "force", false, "Replace an existing hook backup on install")
}

func runSecurity(cmd *cobra.Command, args []string) error {
	a, err := loadApp(false)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	switch args[0] {
	case "install", "uninstall":
		installer := install.New(&install.Config{
			RepoRoot: a.config.ProjectRoot,
			StateDir: a.paths.Root,
			Force:    securityForce,
		}, a.out)
		if args[0] == "uninstall" {
			return installer.Uninstall(ctx)
		}
		if err := installer.Run(ctx); err != nil {
			return fmt.Errorf("installation failed: %w", err)
		}
		return nil

	case "scan":
		git, err := a.git()
		if err != nil {
			return err
		}
		scanner, err := a.scanner(git)
		if err != nil {
			return err
		}

		var files []string
		if securityAll {
			if files, err = git.TrackedFiles(ctx); err != nil {
				return err
			}
			if files == nil {
				files = []string{}
			}
		}
		findings, err := scanner.Scan(ctx, files)
		if err != nil {
			return fmt.Errorf("secret scan failed: %w", err)
		}
		if len(findings) == 0 {
			a.out.OK("No secrets found")
			return nil
		}
		for _, f := range findings {
			a.out.Fail(f.String())
		}
		a.logger.Warn("secret scan found credentials", "findings", len(findings))
		return &ExitError{Message: fmt.Sprintf("%d potential secret(s) found", len(findings))}

	case "enable-deploy":
		minutes := securityDuration
		if minutes <= 0 {
			minutes = a.config.Security.DefaultDurationMinutes
		}
		state, err := a.gate().Enable(time.Duration(minutes) * time.Minute)
		if err != nil {
			return fmt.Errorf("failed to enable deployment mode: %w", err)
		}
		a.out.OK(fmt.Sprintf("Deployment mode enabled until %s", state.ExpireAt.Local().Format("15:04:05")))
		return nil

	case "disable-deploy":
		if err := a.gate().Disable(); err != nil {
			return fmt.Errorf("failed to disable deployment mode: %w", err)
		}
		a.out.OK("Deployment mode disabled")
		return nil

	case "status":
		status, err := a.gate().Status()
		if err != nil {
			a.out.Warn(fmt.Sprintf("Deployment mode unreadable: %v", err))
		} else if status.Active {
			a.out.Warn(fmt.Sprintf("Deployment mode: enabled (%s remaining)", status.Remaining.Round(time.Second)))
		} else {
			a.out.OK("Deployment mode: disabled")
		}
		fmt.Printf("Protected branches: %s\n", strings.Join(a.config.Security.ProtectedBranches, ", "))

		checker, err := a.boundaryChecker()
		if err != nil {
			a.out.Fail(fmt.Sprintf("Boundary policy: %v", err))
			return nil
		}
		if checker.EmergencyStopActive() {
			a.out.Fail("Emergency stop: ACTIVE")
		} else {
			a.out.OK("Emergency stop: inactive")
		}
		return nil

	default:
		return fmt.Errorf("unknown security action %q", args[0])
	}
}
