// Package preflight runs the checks that gate a deployment.
package preflight

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"opsgate/internal/environment"
	"opsgate/internal/health"
	"opsgate/internal/security"
	"opsgate/internal/vcs"
	"opsgate/pkg/cmdutil"
)

// Severity of a single check.
type Severity string

const (
	Pass Severity = "PASS"
	Warn Severity = "WARN"
	Fail Severity = "FAIL"
)

// Check names, in execution order.
const (
	CheckBranch      = "branch"
	CheckWorkingTree = "working_tree"
	CheckTests       = "tests"
	CheckSecrets     = "secrets"
	CheckHealth      = "health"
	CheckCIStatus    = "ci_status"
)

// maxOutputTail bounds how much test output is carried into a report.
const maxOutputTail = 2000

// CheckResult is the outcome of one check.
type CheckResult struct {
	Name     string   `json:"name"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Report aggregates every check. Allowed is false when any check failed.
type Report struct {
	Environment string        `json:"environment"`
	Checks      []CheckResult `json:"checks"`
	Allowed     bool          `json:"allowed"`
}

// Failures returns the failed checks.
func (r *Report) Failures() []CheckResult {
	var failed []CheckResult
	for _, c := range r.Checks {
		if c.Severity == Fail {
			failed = append(failed, c)
		}
	}
	return failed
}

// Summary joins the failed checks into one line.
func (r *Report) Summary() string {
	var parts []string
	for _, c := range r.Failures() {
		parts = append(parts, fmt.Sprintf("%s: %s", c.Name, c.Message))
	}
	return strings.Join(parts, "; ")
}

// Find returns the named check, if it ran.
func (r *Report) Find(name string) (CheckResult, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return CheckResult{}, false
}

// CommandRunner runs the test command.
type CommandRunner interface {
	Execute(ctx context.Context, cmdParts []string) (*cmdutil.Result, error)
}

// SecretScanner scans files for credentials.
type SecretScanner interface {
	Scan(ctx context.Context, files []string) ([]security.Finding, error)
}

// ModeGate reports whether deployment mode is active.
type ModeGate interface {
	IsActive() bool
}

// CIStatus reports the combined CI state of a ref, e.g. "success" or
// "pending".
type CIStatus interface {
	CombinedStatus(ctx context.Context, ref string) (string, error)
}

// Options wires the collaborators. Scanner and CI may be nil to disable
// their checks.
type Options struct {
	VCS     vcs.Client
	Runner  CommandRunner
	Scanner SecretScanner
	Health  health.Checker
	Gate    ModeGate
	CI      CIStatus
	Logger  *slog.Logger
}

// Aggregator runs every check in a fixed order without failing fast.
type Aggregator struct {
	opts Options
}

// NewAggregator creates an aggregator.
func NewAggregator(opts Options) *Aggregator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Aggregator{opts: opts}
}

// Run executes the checks for env.
func (a *Aggregator) Run(ctx context.Context, env *environment.Environment) *Report {
	report := &Report{Environment: env.Name}
	add := func(r CheckResult) {
		report.Checks = append(report.Checks, r)
		a.opts.Logger.Info("preflight check", "environment", env.Name, "check", r.Name,
			"severity", string(r.Severity), "message", r.Message)
	}

	add(a.checkBranch(ctx, env))
	add(a.checkWorkingTree(ctx))
	if env.RequireTests {
		add(a.checkTests(ctx, env))
	}
	if a.opts.Scanner != nil {
		add(a.checkSecrets(ctx, env))
	}
	if env.IsGuarded() {
		add(a.checkHealth(ctx, env))
	}
	if a.opts.CI != nil {
		add(a.checkCI(ctx, env))
	}

	report.Allowed = len(report.Failures()) == 0
	return report
}

func (a *Aggregator) checkBranch(ctx context.Context, env *environment.Environment) CheckResult {
	branch, err := a.opts.VCS.CurrentBranch(ctx)
	if err != nil {
		return CheckResult{CheckBranch, Fail, fmt.Sprintf("cannot determine current branch: %v", err)}
	}
	if branch == env.Branch {
		return CheckResult{CheckBranch, Pass, fmt.Sprintf("on %s", branch)}
	}

	msg := fmt.Sprintf("on %s, expected %s", branch, env.Branch)
	if env.IsProduction() {
		return CheckResult{CheckBranch, Fail, msg}
	}
	return CheckResult{CheckBranch, Warn, msg}
}

func (a *Aggregator) checkWorkingTree(ctx context.Context) CheckResult {
	clean, err := a.opts.VCS.IsClean(ctx)
	if err != nil {
		return CheckResult{CheckWorkingTree, Warn, fmt.Sprintf("cannot read status: %v", err)}
	}
	if !clean {
		return CheckResult{CheckWorkingTree, Warn, "uncommitted changes present"}
	}
	return CheckResult{CheckWorkingTree, Pass, "clean"}
}

func (a *Aggregator) checkTests(ctx context.Context, env *environment.Environment) CheckResult {
	if len(env.TestCommand) == 0 {
		return CheckResult{CheckTests, Fail, "tests required but no test_command configured"}
	}
	if a.opts.Runner == nil {
		return CheckResult{CheckTests, Fail, "no command runner configured"}
	}

	cmd := cmdutil.FormatCommand(env.TestCommand)
	result, err := a.opts.Runner.Execute(ctx, env.TestCommand)
	if err != nil || !result.OK() {
		msg := fmt.Sprintf("%s failed", cmd)
		if err != nil {
			msg = fmt.Sprintf("%s: %v", msg, err)
		}
		if tail := outputTail(result.Text()); tail != "" {
			msg += "\n" + tail
		}
		return CheckResult{CheckTests, Fail, msg}
	}
	return CheckResult{CheckTests, Pass, fmt.Sprintf("%s passed in %s", cmd, result.Duration.Round(time.Millisecond))}
}

func (a *Aggregator) checkSecrets(ctx context.Context, env *environment.Environment) CheckResult {
	files, err := a.opts.VCS.TrackedFiles(ctx)
	if err != nil {
		return CheckResult{CheckSecrets, Fail, fmt.Sprintf("cannot list files: %v", err)}
	}
	if files == nil {
		// nil would make the scanner fall back to the staged set
		files = []string{}
	}

	findings, err := a.opts.Scanner.Scan(ctx, files)
	if err != nil {
		return CheckResult{CheckSecrets, Fail, fmt.Sprintf("scan failed: %v", err)}
	}
	if len(findings) > 0 {
		lines := make([]string, 0, len(findings))
		for _, f := range findings {
			lines = append(lines, "  - "+f.String())
		}
		return CheckResult{CheckSecrets, Fail,
			fmt.Sprintf("%d potential secret(s) found:\n%s", len(findings), strings.Join(lines, "\n"))}
	}

	msg := fmt.Sprintf("%d files clean", len(files))
	if env.IsGuarded() && a.opts.Gate != nil && !a.opts.Gate.IsActive() {
		return CheckResult{CheckSecrets, Warn, msg + "; deployment mode is not active"}
	}
	return CheckResult{CheckSecrets, Pass, msg}
}

func (a *Aggregator) checkHealth(ctx context.Context, env *environment.Environment) CheckResult {
	if err := a.opts.Health.Check(ctx, env.HealthURL); err != nil {
		return CheckResult{CheckHealth, Warn, err.Error()}
	}
	return CheckResult{CheckHealth, Pass, fmt.Sprintf("%s healthy", env.HealthURL)}
}

func (a *Aggregator) checkCI(ctx context.Context, env *environment.Environment) CheckResult {
	state, err := a.opts.CI.CombinedStatus(ctx, env.Branch)
	if err != nil {
		return CheckResult{CheckCIStatus, Warn, fmt.Sprintf("cannot read CI status: %v", err)}
	}
	if state != "success" {
		return CheckResult{CheckCIStatus, Warn, fmt.Sprintf("CI status of %s is %s", env.Branch, state)}
	}
	return CheckResult{CheckCIStatus, Pass, fmt.Sprintf("CI status of %s is success", env.Branch)}
}

func outputTail(out string) string {
	if len(out) <= maxOutputTail {
		return out
	}
	return "..." + out[len(out)-maxOutputTail:]
}
