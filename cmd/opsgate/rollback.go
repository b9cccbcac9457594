package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"opsgate/internal/environment"
	"opsgate/internal/rollback"
	"opsgate/pkg/console"
)

var (
	rollbackEnvironment string
	rollbackReason      string
	rollbackForce       bool
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback SCRIPT_PATH",
	Short: "Execute a rollback script with safety checks",
	Long: `Execute a rollback script against an environment.

The script is verified first (exists, non-trivial size, SQL keywords). A
safety backup is taken when rollback.create_rollback_backup is on. The
environment's rollback_apply mode decides whether statements are only logged
(dry-run) or applied to the database in one transaction.

Example:
  opsgate rollback migrations/0042_down.sql --environment staging --reason "bad migration"`,
	Args: cobra.ExactArgs(1),
	RunE: runRollback,
}

func init() {
	rollbackCmd.Flags().StringVar(&rollbackEnvironment, "environment", "", "Target environment")
	rollbackCmd.Flags().StringVar(&rollbackReason, "reason", "", "Reason recorded in the rollback history")
	rollbackCmd.Flags().BoolVar(&rollbackForce, "force", false, "Do not ask for confirmation")
	_ = rollbackCmd.MarkFlagRequired("environment")
	_ = rollbackCmd.MarkFlagRequired("reason")
}

func runRollback(cmd *cobra.Command, args []string) error {
	script := args[0]

	a, err := loadApp(false)
	if err != nil {
		return err
	}
	env, err := a.rollbackEnvironment(rollbackEnvironment)
	if err != nil {
		return err
	}

	if !rollbackForce && console.IsTerminal(os.Stdin) {
		question := fmt.Sprintf("Execute rollback %s on %s (%s)?", script, env.Name, env.RollbackApply)
		if !console.Confirm(os.Stdin, os.Stdout, question) {
			fmt.Println("Rollback cancelled")
			return nil
		}
	}

	backups, err := a.backups()
	if err != nil {
		return err
	}

	databaseURL := a.config.Rollback.DatabaseURL
	if databaseURL == "" {
		databaseURL = a.settings.DatabaseURL
	}

	manager := rollback.NewManager(rollback.Options{
		Backups:     backups,
		BackupFirst: a.config.Rollback.BackupFirst(),
		Appliers: map[string]rollback.Applier{
			environment.ApplyDryRun:   &rollback.DryRunApplier{Logger: a.logger},
			environment.ApplyDatabase: &rollback.PgApplier{DatabaseURL: databaseURL, Logger: a.logger},
		},
		HistoryPath:  a.paths.RollbackHistory,
		HistoryLimit: a.config.Rollback.HistoryLimit,
		Timeout:      a.config.Rollback.Timeout(),
		Logger:       a.logger,
	})

	rec := manager.Execute(cmd.Context(), script, env, rollbackReason)

	fmt.Printf("Rollback %s\n", rec.ID)
	fmt.Printf("  Checks:  %s\n", strings.Join(rec.SafetyChecks, ", "))
	if rec.Backup != nil {
		fmt.Printf("  Backup:  %s\n", *rec.Backup)
	}
	for _, w := range rec.Warnings {
		a.out.Warn(w)
	}

	if rec.Status != rollback.StatusSuccess {
		a.out.Fail(fmt.Sprintf("Rollback %s", rec.Status))
		return &ExitError{Message: rec.Error}
	}
	a.out.OK(fmt.Sprintf("Rollback %s", rec.Status))
	return nil
}

// rollbackEnvironment returns the configured environment, or a dry-run
// environment when no configuration exists at all.
func (a *app) rollbackEnvironment(name string) (*environment.Environment, error) {
	env, err := a.envs.Get(name)
	if err == nil {
		return env, nil
	}
	if errors.Is(err, environment.ErrUnknownEnvironment) && a.envs.Count() == 0 {
		return &environment.Environment{
			Name:          name,
			BackupKind:    environment.BackupFiles,
			RollbackApply: environment.ApplyDryRun,
		}, nil
	}
	return nil, err
}
