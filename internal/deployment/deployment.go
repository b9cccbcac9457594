// Package deployment sequences pre-flight checks, backup, push, settle,
// health verification and rollback for one environment, and records every
// attempt.
package deployment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"opsgate/internal/audit"
	"opsgate/internal/backup"
	"opsgate/internal/environment"
	"opsgate/internal/health"
	"opsgate/internal/history"
	"opsgate/internal/preflight"
	"opsgate/internal/vcs"
	"opsgate/pkg/console"
)

// Step is a state of a deployment run.
type Step string

const (
	StepBegin        Step = "BEGIN"
	StepPreflight    Step = "PREFLIGHT"
	StepBackup       Step = "BACKUP"
	StepPush         Step = "PUSH"
	StepWait         Step = "WAIT"
	StepHealthVerify Step = "HEALTH_VERIFY"
	StepRollback     Step = "ROLLBACK"
	StepSuccess      Step = "SUCCESS"
	StepFailed       Step = "FAILED"
	StepAborted      Step = "ABORTED"
	StepError        Step = "ERROR"
)

// ErrPromotionFailed is returned by Promote when the target deploy fails.
var ErrPromotionFailed = errors.New("promotion deploy failed")

// Preflight runs the pre-flight checks.
type Preflight interface {
	Run(ctx context.Context, env *environment.Environment) *preflight.Report
}

// Backups creates and restores artifacts.
type Backups interface {
	Create(ctx context.Context, env *environment.Environment) (*backup.Artifact, error)
	Lookup(path string) (*backup.Artifact, error)
	Restore(a *backup.Artifact, dest string) (int, error)
}

// Index mirrors deployment records for status queries.
type Index interface {
	RecordDeployment(ctx context.Context, d *history.Deployment) (int64, error)
	GetEnvironmentStatus(ctx context.Context, environment string, limit int) (*history.EnvironmentStatus, error)
}

// Options wires the orchestrator. History and Out may be nil.
type Options struct {
	ProjectRoot string
	Remote      string
	Settle      time.Duration
	VCS         vcs.Client
	Preflight   Preflight
	Backups     Backups
	Health      health.Checker
	Deployments *audit.DeploymentLog
	History     Index
	// Mode and Stop feed Status.
	Mode   ModeStatus
	Stop   StopFlag
	Envs   *environment.Registry
	User   string
	Now    func() time.Time
	Sleep  func(ctx context.Context, d time.Duration) error
	Out    *console.Printer
	Logger *slog.Logger
}

// Orchestrator runs deployments.
type Orchestrator struct {
	opts  Options
	locks *EnvLocks
}

// run is the mutable state of one attempt.
type run struct {
	env       *environment.Environment
	step      Step
	startedAt time.Time
	status    audit.Status
	reason    string
	backup    *string
	commit    string
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Remote == "" {
		opts.Remote = environment.DefaultRemote
	}
	if opts.User == "" {
		opts.User = "unknown"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{opts: opts, locks: NewEnvLocks()}
}

// Deploy runs the full sequence for env and reports whether it succeeded.
// force skips the pre-flight checks. A DeploymentRecord is written before
// returning, whatever the outcome.
func (o *Orchestrator) Deploy(ctx context.Context, env *environment.Environment, force bool) (ok bool) {
	r := o.begin(env)
	defer func() {
		if p := recover(); p != nil {
			o.fail(r, StepError, audit.StatusError, fmt.Sprintf("unexpected error during %s: %v", r.step, p))
			ok = false
		}
		o.record(ctx, r)
	}()

	if !o.locks.TryLock(env.Name) {
		o.fail(r, StepAborted, audit.StatusFailed, "another deployment of "+env.Name+" is in progress")
		return false
	}
	defer o.locks.Unlock(env.Name)

	o.snapshotRef(ctx, r)

	o.enter(r, StepPreflight)
	if force {
		o.warn(r, "pre-flight checks bypassed (--force)")
	} else {
		report := o.opts.Preflight.Run(ctx, env)
		o.printReport(report)
		if !report.Allowed {
			o.fail(r, StepAborted, audit.StatusFailed, "preflight denied: "+report.Summary())
			return false
		}
	}

	o.enter(r, StepBackup)
	artifact, err := o.opts.Backups.Create(ctx, env)
	if err != nil {
		o.fail(r, StepFailed, audit.StatusFailed, fmt.Sprintf("backup failed: %v", err))
		return false
	}
	if artifact != nil {
		r.backup = &artifact.Path
		o.ok(r, "backup created: "+artifact.Path)
	} else {
		o.ok(r, "backups disabled for "+env.Name)
	}

	o.enter(r, StepPush)
	previous, err := o.opts.VCS.RemoteHead(ctx, o.opts.Remote, env.Branch)
	if err != nil {
		o.opts.Logger.Warn("could not read remote head", "environment", env.Name, "error", err)
		previous = ""
	}
	refspec := env.Branch
	if env.IsProduction() {
		refspec = "HEAD:" + env.Branch
	}
	if err := o.opts.VCS.Push(ctx, o.opts.Remote, refspec); err != nil {
		o.fail(r, StepFailed, audit.StatusFailed, fmt.Sprintf("push failed: %v", err))
		return false
	}
	o.ok(r, fmt.Sprintf("pushed %s to %s", refspec, o.opts.Remote))

	o.enter(r, StepWait)
	if err := o.opts.Sleep(ctx, o.opts.Settle); err != nil {
		o.fail(r, StepFailed, audit.StatusFailed, fmt.Sprintf("interrupted while waiting for deploy: %v", err))
		return false
	}

	o.enter(r, StepHealthVerify)
	healthErr := o.opts.Health.Check(ctx, env.HealthURL)
	if healthErr == nil {
		r.status = audit.StatusSuccess
		o.enter(r, StepSuccess)
		o.ok(r, "health check passed: "+env.HealthURL)
		return true
	}

	reason := fmt.Sprintf("health check failed: %v", healthErr)
	switch {
	case !env.RollbackEnabled:
		reason += "; rollback disabled"
	case artifact == nil:
		reason += "; no backup to roll back to"
	default:
		o.enter(r, StepRollback)
		if err := o.rollback(ctx, env, artifact, previous); err != nil {
			reason += fmt.Sprintf("; rollback failed: %v", err)
		} else {
			reason += "; rolled back"
		}
	}
	o.fail(r, StepFailed, audit.StatusFailed, reason)
	return false
}

// rollback restores the pre-deploy backup and resets the remote branch to
// the head it had before the push.
func (o *Orchestrator) rollback(ctx context.Context, env *environment.Environment, artifact *backup.Artifact, previous string) error {
	var problems []string

	if artifact.Kind == environment.BackupFiles {
		if n, err := o.opts.Backups.Restore(artifact, o.opts.ProjectRoot); err != nil {
			problems = append(problems, fmt.Sprintf("restore: %v", err))
		} else {
			o.opts.Logger.Info("restored backup", "environment", env.Name, "files", n, "backup", artifact.Path)
		}
	} else {
		o.opts.Logger.Warn("database backup kept for manual restore", "environment", env.Name, "backup", artifact.Path)
	}

	if previous == "" {
		problems = append(problems, "no previous remote head recorded for "+env.Branch)
	} else if err := o.opts.VCS.ForcePushWithLease(ctx, o.opts.Remote, previous, env.Branch); err != nil {
		problems = append(problems, fmt.Sprintf("reset %s: %v", env.Branch, err))
	} else {
		o.opts.Logger.Info("reset remote branch", "environment", env.Name, "branch", env.Branch, "commit", previous)
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// Promote merges the from environment's branch into to's branch and
// deploys to.
func (o *Orchestrator) Promote(ctx context.Context, from, to *environment.Environment, force bool) error {
	if from.Name == to.Name {
		return fmt.Errorf("cannot promote %s to itself", from.Name)
	}
	o.opts.Logger.Info("promotion started", "from", from.Name, "to", to.Name)

	if err := o.opts.VCS.Fetch(ctx, o.opts.Remote); err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}
	if err := o.opts.VCS.Checkout(ctx, to.Branch); err != nil {
		return fmt.Errorf("checkout %s failed: %w", to.Branch, err)
	}
	if err := o.opts.VCS.Merge(ctx, o.opts.Remote+"/"+from.Branch); err != nil {
		return fmt.Errorf("merge %s into %s failed: %w", from.Branch, to.Branch, err)
	}

	if !o.Deploy(ctx, to, force) {
		return fmt.Errorf("%w: %s", ErrPromotionFailed, to.Name)
	}
	return nil
}

// Restore puts a backup back into the project root and verifies health.
func (o *Orchestrator) Restore(ctx context.Context, env *environment.Environment, backupPath string) (ok bool) {
	r := o.begin(env)
	r.backup = &backupPath
	defer func() {
		if p := recover(); p != nil {
			o.fail(r, StepError, audit.StatusError, fmt.Sprintf("unexpected error during %s: %v", r.step, p))
			ok = false
		}
		o.record(ctx, r)
	}()

	if !o.locks.TryLock(env.Name) {
		o.fail(r, StepAborted, audit.StatusFailed, "another deployment of "+env.Name+" is in progress")
		return false
	}
	defer o.locks.Unlock(env.Name)

	o.snapshotRef(ctx, r)

	o.enter(r, StepRollback)
	artifact, err := o.opts.Backups.Lookup(backupPath)
	if err != nil {
		o.fail(r, StepFailed, audit.StatusFailed, fmt.Sprintf("manual restore: %v", err))
		return false
	}
	r.backup = &artifact.Path
	n, err := o.opts.Backups.Restore(artifact, o.opts.ProjectRoot)
	if err != nil {
		o.fail(r, StepFailed, audit.StatusFailed, fmt.Sprintf("manual restore: %v", err))
		return false
	}
	o.ok(r, fmt.Sprintf("restored %d files from %s", n, artifact.Path))

	o.enter(r, StepHealthVerify)
	if err := o.opts.Health.Check(ctx, env.HealthURL); err != nil {
		o.fail(r, StepFailed, audit.StatusFailed, fmt.Sprintf("manual restore: health check failed: %v", err))
		return false
	}

	r.status = audit.StatusSuccess
	r.reason = "manual restore"
	o.enter(r, StepSuccess)
	return true
}

// Test runs only the pre-flight checks.
func (o *Orchestrator) Test(ctx context.Context, env *environment.Environment) *preflight.Report {
	report := o.opts.Preflight.Run(ctx, env)
	o.printReport(report)
	return report
}

func (o *Orchestrator) begin(env *environment.Environment) *run {
	r := &run{env: env, step: StepBegin, startedAt: o.opts.Now().UTC(), status: audit.StatusFailed}
	o.opts.Logger.Info("deployment step", "environment", env.Name, "step", string(StepBegin), "user", o.opts.User)
	return r
}

// snapshotRef captures the commit being deployed for the record.
func (o *Orchestrator) snapshotRef(ctx context.Context, r *run) {
	if commit, err := o.opts.VCS.HeadCommit(ctx); err == nil {
		r.commit = commit
	}
}

func (o *Orchestrator) enter(r *run, step Step) {
	r.step = step
	o.opts.Logger.Info("deployment step", "environment", r.env.Name, "step", string(step))
}

func (o *Orchestrator) fail(r *run, step Step, status audit.Status, reason string) {
	r.step = step
	r.status = status
	r.reason = reason
	o.opts.Logger.Error("deployment step", "environment", r.env.Name, "step", string(step), "reason", reason)
	if o.opts.Out != nil {
		o.opts.Out.Fail(reason)
	}
}

func (o *Orchestrator) ok(r *run, msg string) {
	o.opts.Logger.Info(msg, "environment", r.env.Name, "step", string(r.step))
	if o.opts.Out != nil {
		o.opts.Out.OK(msg)
	}
}

func (o *Orchestrator) warn(r *run, msg string) {
	o.opts.Logger.Warn(msg, "environment", r.env.Name, "step", string(r.step))
	if o.opts.Out != nil {
		o.opts.Out.Warn(msg)
	}
}

func (o *Orchestrator) printReport(report *preflight.Report) {
	if o.opts.Out == nil {
		return
	}
	for _, c := range report.Checks {
		line := fmt.Sprintf("%s: %s", c.Name, c.Message)
		switch c.Severity {
		case preflight.Pass:
			o.opts.Out.OK(line)
		case preflight.Warn:
			o.opts.Out.Warn(line)
		default:
			o.opts.Out.Fail(line)
		}
	}
}

// record writes the attempt to the deployment log and mirrors it into the
// history index. The log is the audit trail; index failures only warn.
func (o *Orchestrator) record(ctx context.Context, r *run) {
	now := o.opts.Now().UTC()
	rec := audit.DeploymentRecord{
		Timestamp:   now,
		Environment: r.env.Name,
		Status:      r.status,
		Backup:      r.backup,
		User:        o.opts.User,
		Reason:      r.reason,
	}
	if o.opts.Deployments != nil {
		if err := o.opts.Deployments.Append(rec); err != nil {
			o.opts.Logger.Error("failed to write deployment record", "environment", r.env.Name, "error", err)
		}
	}

	o.opts.Logger.Info("deployment finished", "environment", r.env.Name, "status", string(r.status),
		"step", string(r.step), "duration", now.Sub(r.startedAt).Round(time.Millisecond))

	if o.opts.History == nil {
		return
	}
	duration := now.Sub(r.startedAt).Seconds()
	d := &history.Deployment{
		Environment:     r.env.Name,
		Branch:          r.env.Branch,
		Status:          string(r.status),
		User:            o.opts.User,
		StartedAt:       r.startedAt,
		CompletedAt:     &now,
		DurationSeconds: &duration,
		BackupPath:      r.backup,
	}
	if r.commit != "" {
		d.CommitHash = &r.commit
	}
	if r.reason != "" {
		d.Reason = &r.reason
	}
	// Record even when the caller's context is already cancelled.
	if _, err := o.opts.History.RecordDeployment(context.WithoutCancel(ctx), d); err != nil {
		o.opts.Logger.Warn("failed to index deployment", "environment", r.env.Name, "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
