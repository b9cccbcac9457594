package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"opsgate/internal/environment"
)

var (
	backupEnvironment string
	backupKind        string
	backupDays        int
)

var backupCmd = &cobra.Command{
	Use:   "backup {create|cleanup|status}",
	Short: "Create, list and expire backups",
	Long: `Manage backup artifacts in the backup directory.

Actions:
  create   write a new artifact for --environment (kind from config or --kind)
  cleanup  delete artifacts older than the retention window, keeping any that
           a recent deployment record references
  status   list existing artifacts, newest first`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"create", "cleanup", "status"},
	RunE:      runBackup,
}

func init() {
	backupCmd.Flags().StringVar(&backupEnvironment, "environment", "", "Environment name")
	backupCmd.Flags().StringVar(&backupKind, "kind", "", "Backup kind: files or database")
	backupCmd.Flags().IntVar(&backupDays, "days", 0, "Retention in days for cleanup (default from config)")
}

func runBackup(cmd *cobra.Command, args []string) error {
	a, err := loadApp(false)
	if err != nil {
		return err
	}
	manager, err := a.backups()
	if err != nil {
		return err
	}

	switch args[0] {
	case "create":
		if backupEnvironment == "" {
			return fmt.Errorf("--environment is required")
		}
		kind, err := a.backupKindFor(backupEnvironment)
		if err != nil {
			return err
		}
		artifact, err := manager.CreateKind(cmd.Context(), backupEnvironment, kind)
		if err != nil {
			a.out.Fail("Creating backup...")
			return err
		}
		a.out.OK("Creating backup...")
		fmt.Printf("  Path:     %s\n", artifact.Path)
		fmt.Printf("  Kind:     %s\n", artifact.Kind)
		fmt.Printf("  Size:     %d bytes\n", artifact.Size)
		fmt.Printf("  Checksum: %s\n", artifact.Checksum)
		return nil

	case "cleanup":
		result, err := manager.Cleanup(backupDays)
		if err != nil {
			return fmt.Errorf("cleanup failed: %w", err)
		}
		for _, path := range result.Removed {
			fmt.Printf("  removed  %s\n", path)
		}
		for _, path := range result.Referenced {
			fmt.Printf("  kept     %s (referenced by a recent deployment)\n", path)
		}
		a.out.OK(fmt.Sprintf("Removed %d expired backup(s)", len(result.Removed)))
		return nil

	case "status":
		artifacts, err := manager.Status(backupEnvironment)
		if err != nil {
			return err
		}
		fmt.Printf("Backup directory: %s\n", manager.Dir())
		if len(artifacts) == 0 {
			fmt.Println("No backups found")
			return nil
		}
		for _, art := range artifacts {
			fmt.Printf("  %s  %-12s %-8s %10d  %s\n",
				art.CreatedAt.Local().Format("2006-01-02 15:04:05"), art.Environment, art.Kind, art.Size, art.Path)
		}
		return nil

	default:
		return fmt.Errorf("unknown backup action %q", args[0])
	}
}

// backupKindFor picks --kind, else the configured kind of env. Without a
// configured environment of that name the files kind is used.
func (a *app) backupKindFor(name string) (string, error) {
	if backupKind != "" {
		return backupKind, nil
	}
	env, err := a.envs.Get(name)
	if err != nil {
		if errors.Is(err, environment.ErrUnknownEnvironment) && a.envs.Count() == 0 {
			return environment.BackupFiles, nil
		}
		return "", err
	}
	if env.BackupKind == "" {
		return environment.BackupFiles, nil
	}
	return env.BackupKind, nil
}
