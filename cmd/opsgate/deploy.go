package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"opsgate/internal/deployment"
)

var (
	deployEnv    string
	deployFrom   string
	deployForce  bool
	deployBackup string
)

var deployCmd = &cobra.Command{
	Use:   "deploy {deploy|promote|rollback|status|test}",
	Short: "Deploy, promote, restore or inspect environments",
	Long: `Run deployment actions against a configured environment.

Actions:
  deploy    run pre-flight checks, back up, push the environment branch and
            verify health, rolling back automatically when enabled
  promote   merge --from's branch into --env's branch and deploy --env
  rollback  restore the backup given by --backup and verify health
  status    show deployment mode, emergency stop and recent deployments
  test      run only the pre-flight checks

Example:
  opsgate deploy deploy --env staging
  opsgate deploy promote --from staging --env production`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"deploy", "promote", "rollback", "status", "test"},
	RunE:      runDeploy,
}

func init() {
	deployCmd.Flags().StringVarP(&deployEnv, "env", "e", "", "Target environment")
	deployCmd.Flags().StringVar(&deployFrom, "from", "", "Source environment for promote")
	deployCmd.Flags().BoolVar(&deployForce, "force", false, "Skip pre-flight checks")
	deployCmd.Flags().StringVar(&deployBackup, "backup", "", "Backup artifact for rollback")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	action := args[0]
	switch action {
	case "deploy", "promote", "rollback", "status", "test":
	default:
		return fmt.Errorf("unknown deploy action %q (expected deploy, promote, rollback, status or test)", action)
	}

	a, err := loadApp(true)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	orch, err := a.orchestrator(ctx)
	if err != nil {
		return err
	}

	if action == "status" {
		overview, err := orch.Status(ctx)
		if err != nil {
			return err
		}
		printOverview(a, overview)
		return nil
	}

	env, err := a.environment(deployEnv)
	if err != nil {
		return err
	}

	switch action {
	case "deploy":
		fmt.Printf("Deploying %s (branch %s)...\n", env.Name, env.Branch)
		if !orch.Deploy(ctx, env, deployForce) {
			return &ExitError{Message: fmt.Sprintf("Deployment of %s failed", env.Name)}
		}
		fmt.Printf("\nDeployment of %s successful!\n", env.Name)

	case "promote":
		from, err := a.environment(deployFrom)
		if err != nil {
			return fmt.Errorf("--from: %w", err)
		}
		fmt.Printf("Promoting %s to %s...\n", from.Name, env.Name)
		if err := orch.Promote(ctx, from, env, deployForce); err != nil {
			if errors.Is(err, deployment.ErrPromotionFailed) {
				return &ExitError{Message: err.Error()}
			}
			return err
		}
		fmt.Printf("\nPromotion of %s to %s successful!\n", from.Name, env.Name)

	case "rollback":
		if deployBackup == "" {
			return fmt.Errorf("--backup is required for rollback")
		}
		fmt.Printf("Restoring %s from %s...\n", env.Name, deployBackup)
		if !orch.Restore(ctx, env, deployBackup) {
			return &ExitError{Message: fmt.Sprintf("Restore of %s failed", env.Name)}
		}
		fmt.Printf("\nRestore of %s successful!\n", env.Name)

	case "test":
		report := orch.Test(ctx, env)
		if !report.Allowed {
			return &ExitError{Message: "Pre-flight checks failed: " + report.Summary()}
		}
		fmt.Printf("\nPre-flight checks for %s passed\n", env.Name)
	}
	return nil
}

func printOverview(a *app, overview *deployment.Overview) {
	if overview.DeploymentMode != nil && overview.DeploymentMode.Active {
		a.out.Warn(fmt.Sprintf("Deployment mode: enabled (%s remaining)", overview.DeploymentMode.Remaining.Round(time.Second)))
	} else {
		a.out.OK("Deployment mode: disabled")
	}
	if overview.EmergencyStop {
		a.out.Fail("Emergency stop: ACTIVE")
	} else {
		a.out.OK("Emergency stop: inactive")
	}

	for _, status := range overview.Environments {
		fmt.Printf("\n%s\n", status.Environment)
		if status.LatestDeployment == nil {
			fmt.Println("  no deployments recorded")
			continue
		}
		for _, d := range status.RecentHistory {
			line := fmt.Sprintf("  %s  %-7s  %s", d.StartedAt.Local().Format("2006-01-02 15:04:05"), d.Status, d.User)
			if d.Reason != nil && *d.Reason != "" {
				line += "  " + *d.Reason
			}
			fmt.Println(line)
		}
	}
}
