// Package hooks evaluates commits at pre-commit and post-commit time.
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"opsgate/internal/audit"
	"opsgate/internal/boundary"
	"opsgate/internal/security"
	"opsgate/internal/vcs"
	"opsgate/pkg/fileutil"
)

// SecretScanner finds secrets in the staged copy of files.
type SecretScanner interface {
	ScanStaged(ctx context.Context, files []string) ([]security.Finding, error)
}

// AccessChecker decides whether a path may be committed.
type AccessChecker interface {
	CheckAccess(actorID, path string) boundary.Decision
	CheckProtected(path string) boundary.Decision
}

// ModeGate exposes the deployment-mode flag.
type ModeGate interface {
	IsActive() bool
	CheckBranch(branch string) error
}

// Verdict is the outcome of the pre-commit evaluation.
type Verdict struct {
	Allowed        bool
	Violations     []string
	DeploymentMode bool
}

// PostCommitResult describes the recorded commit.
type PostCommitResult struct {
	Commit         string
	Branch         string
	DeploymentMode bool
}

// Options wires the collaborators of a Runner.
type Options struct {
	VCS VCS
	// Scanner may be nil when secret scanning is disabled.
	Scanner  SecretScanner
	Boundary AccessChecker
	Gate     ModeGate
	// Actor selects the boundary policy. Empty means only protected
	// paths are enforced.
	Actor      string
	CommitsLog string
	Now        func() time.Time
	Logger     *slog.Logger
}

// VCS is the subset of the git client the hooks need.
type VCS interface {
	CurrentBranch(ctx context.Context) (string, error)
	StagedFiles(ctx context.Context) ([]string, error)
	HeadCommit(ctx context.Context) (string, error)
}

var _ VCS = (vcs.Client)(nil)

// Runner evaluates commit hooks.
type Runner struct {
	opts Options
}

// NewRunner creates a hook runner.
func NewRunner(opts Options) *Runner {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{opts: opts}
}

// PreCommit gathers every violation of the staged change. With deployment
// mode active the commit is allowed and the violations are only logged.
// Failures to inspect the change count as violations.
func (r *Runner) PreCommit(ctx context.Context) Verdict {
	log := r.opts.Logger.With("hook", "pre-commit")
	verdict := Verdict{DeploymentMode: r.opts.Gate.IsActive()}

	branch, err := r.opts.VCS.CurrentBranch(ctx)
	if err != nil {
		verdict.Violations = append(verdict.Violations, fmt.Sprintf("cannot determine branch: %v", err))
	} else if err := r.opts.Gate.CheckBranch(branch); err != nil {
		verdict.Violations = append(verdict.Violations, err.Error())
	}

	staged, err := r.opts.VCS.StagedFiles(ctx)
	if err != nil {
		verdict.Violations = append(verdict.Violations, fmt.Sprintf("cannot list staged files: %v", err))
	}

	if r.opts.Scanner != nil && len(staged) > 0 {
		findings, err := r.opts.Scanner.ScanStaged(ctx, staged)
		if err != nil {
			verdict.Violations = append(verdict.Violations, fmt.Sprintf("secret scan failed: %v", err))
		}
		for _, f := range findings {
			verdict.Violations = append(verdict.Violations, "secret: "+f.String())
		}
	}

	for _, path := range staged {
		var d boundary.Decision
		if r.opts.Actor != "" {
			d = r.opts.Boundary.CheckAccess(r.opts.Actor, path)
		} else {
			d = r.opts.Boundary.CheckProtected(path)
		}
		if !d.Allowed {
			verdict.Violations = append(verdict.Violations, fmt.Sprintf("boundary: %s (%s)", path, d.Reason))
		}
	}

	switch {
	case len(verdict.Violations) == 0:
		verdict.Allowed = true
		log.Info("commit allowed", "files", len(staged), "deployment_mode", verdict.DeploymentMode)
	case verdict.DeploymentMode:
		verdict.Allowed = true
		for _, v := range verdict.Violations {
			log.Warn("violation ignored in deployment mode", "violation", v)
		}
	default:
		for _, v := range verdict.Violations {
			log.Error("commit blocked", "violation", v)
		}
	}
	return verdict
}

// PostCommit appends the new commit to the commit log.
func (r *Runner) PostCommit(ctx context.Context) (*PostCommitResult, error) {
	sha, err := r.opts.VCS.HeadCommit(ctx)
	if err != nil {
		return nil, err
	}
	branch, err := r.opts.VCS.CurrentBranch(ctx)
	if err != nil {
		return nil, err
	}

	result := &PostCommitResult{Commit: sha, Branch: branch, DeploymentMode: r.opts.Gate.IsActive()}
	line := fmt.Sprintf("[%s] commit=%s branch=%s deployment_mode=%t",
		r.opts.Now().UTC().Format(audit.TimeFormat), sha, branch, result.DeploymentMode)
	if err := fileutil.AppendLine(r.opts.CommitsLog, line); err != nil {
		return result, fmt.Errorf("failed to write commit log: %w", err)
	}
	return result, nil
}
