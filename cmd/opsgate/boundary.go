package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"opsgate/internal/boundary"
)

var boundaryWorker string

var boundaryCheckCmd = &cobra.Command{
	Use:   "boundary-check --worker ID PATH",
	Short: "Check whether a worker may modify a path",
	Long: `Evaluate PATH against the boundary policy for the given worker.

Prints ALLOWED or DENIED on stdout and the denial reason on stderr. Exits 1
when access is denied.`,
	Args: cobra.ExactArgs(1),
	RunE: runBoundaryCheck,
}

func init() {
	boundaryCheckCmd.Flags().StringVarP(&boundaryWorker, "worker", "w", "", "Worker (actor) ID")
	_ = boundaryCheckCmd.MarkFlagRequired("worker")
}

func runBoundaryCheck(cmd *cobra.Command, args []string) error {
	a, err := loadApp(false)
	if err != nil {
		return err
	}

	// An unreadable policy denies everything.
	decision := boundary.Decision{Reason: boundary.ReasonPolicyUnreadable}
	if checker, err := a.boundaryChecker(); err != nil {
		a.logger.Error("boundary policy unreadable", "error", err)
		if err := boundary.AppendDenial(a.paths.BoundaryErrors, time.Now(), boundaryWorker, args[0], decision.Reason); err != nil {
			a.logger.Warn("failed to write boundary error log", "error", err)
		}
	} else {
		decision = checker.CheckAccess(boundaryWorker, args[0])
	}

	out := cmd.OutOrStdout()
	if decision.Allowed {
		fmt.Fprintln(out, "ALLOWED")
		return nil
	}
	fmt.Fprintln(out, "DENIED")
	fmt.Fprintln(cmd.ErrOrStderr(), decision.Reason)
	return &ExitError{}
}
