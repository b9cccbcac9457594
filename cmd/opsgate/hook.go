package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"opsgate/internal/hooks"
)

var hookCmd = &cobra.Command{
	Use:   "hook {pre-commit|post-commit}",
	Short: "Run a git hook (called by the installed hook scripts)",
	Args:  cobra.ExactArgs(1),
	RunE:  runHook,
}

func runHook(cmd *cobra.Command, args []string) error {
	a, err := loadApp(false)
	if err != nil {
		return err
	}
	git, err := a.git()
	if err != nil {
		return err
	}
	checker, err := a.boundaryChecker()
	if err != nil {
		// Fail closed: a commit cannot be checked against an unreadable policy.
		fmt.Fprintf(cmd.ErrOrStderr(), "opsgate: %v\n", err)
		return &ExitError{Message: "opsgate: commit blocked"}
	}

	actor := a.settings.Actor
	if actor == "" {
		actor = a.config.Security.Actor
	}
	opts := hooks.Options{
		VCS:        git,
		Boundary:   checker,
		Gate:       a.gate(),
		Actor:      actor,
		CommitsLog: a.paths.CommitsLog,
		Logger:     a.logger,
	}
	if a.config.Security.ScanEnabled() {
		scanner, err := a.scanner(git)
		if err != nil {
			return err
		}
		opts.Scanner = scanner
	}
	runner := hooks.NewRunner(opts)

	stderr := cmd.ErrOrStderr()
	switch args[0] {
	case "pre-commit":
		verdict := runner.PreCommit(cmd.Context())
		if !verdict.Allowed {
			fmt.Fprintln(stderr, "opsgate: commit blocked")
			for _, v := range verdict.Violations {
				fmt.Fprintf(stderr, "  - %s\n", v)
			}
			return &ExitError{}
		}
		if len(verdict.Violations) > 0 {
			fmt.Fprintln(stderr, "opsgate: deployment mode active, allowing commit despite:")
			for _, v := range verdict.Violations {
				fmt.Fprintf(stderr, "  - %s\n", v)
			}
		}
		return nil

	case "post-commit":
		result, err := runner.PostCommit(cmd.Context())
		if err != nil {
			return err
		}
		if result.DeploymentMode {
			fmt.Fprintf(stderr, "opsgate: committed %s to %s in deployment mode\n", shortSHA(result.Commit), result.Branch)
		}
		return nil

	default:
		return fmt.Errorf("unknown hook %q", args[0])
	}
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
