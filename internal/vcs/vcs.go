// Package vcs wraps the git operations the deployment flow needs.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"opsgate/internal/security"
	"opsgate/pkg/cmdutil"
)

// DefaultTimeout bounds every git invocation when none is configured.
const DefaultTimeout = 120 * time.Second

// ErrNotRepository is returned when the working directory is not a git
// checkout.
var ErrNotRepository = errors.New("not a git repository")

// Client is the git surface used by the hooks, the aggregator and the
// orchestrator.
type Client interface {
	CurrentBranch(ctx context.Context) (string, error)
	IsClean(ctx context.Context) (bool, error)
	StagedFiles(ctx context.Context) ([]string, error)
	// StagedContent returns the index copy of a repo-relative path.
	StagedContent(ctx context.Context, path string) (io.Reader, error)
	TrackedFiles(ctx context.Context) ([]string, error)
	HeadCommit(ctx context.Context) (string, error)
	// RemoteHead returns the commit of branch on remote, or "" when the
	// branch does not exist there.
	RemoteHead(ctx context.Context, remote, branch string) (string, error)
	Push(ctx context.Context, remote, refspec string) error
	// ForcePushWithLease resets branch on remote to sha.
	ForcePushWithLease(ctx context.Context, remote, sha, branch string) error
	Fetch(ctx context.Context, remote string) error
	Checkout(ctx context.Context, branch string) error
	Merge(ctx context.Context, ref string) error
}

// GitClient runs the git binary in a fixed working tree.
type GitClient struct {
	dir     string
	timeout time.Duration
}

// NewGitClient creates a client for the repository at dir.
func NewGitClient(dir string, timeout time.Duration) (*GitClient, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve repository path: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &GitClient{dir: abs, timeout: timeout}, nil
}

// Dir returns the repository path.
func (g *GitClient) Dir() string {
	return g.dir
}

func (g *GitClient) run(ctx context.Context, args ...string) (string, error) {
	parts := append([]string{"git"}, args...)
	result, err := cmdutil.Run(ctx, cmdutil.ExecOptions{
		Dir:     g.dir,
		Timeout: g.timeout,
		// Never block on a credential prompt.
		Env: []string{"GIT_TERMINAL_PROMPT=0"},
	}, parts)
	if err != nil {
		msg := strings.TrimSpace(string(result.Stderr))
		if strings.Contains(msg, "not a git repository") {
			return "", fmt.Errorf("%w: %s", ErrNotRepository, g.dir)
		}
		if msg != "" {
			return "", fmt.Errorf("git %s: %w: %s", args[0], err, msg)
		}
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return strings.TrimRight(string(result.Stdout), "\n"), nil
}

func (g *GitClient) CurrentBranch(ctx context.Context) (string, error) {
	branch, err := g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("getting current branch: %w", err)
	}
	return strings.TrimSpace(branch), nil
}

func (g *GitClient) IsClean(ctx context.Context) (bool, error) {
	out, err := g.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("getting status: %w", err)
	}
	return strings.TrimSpace(out) == "", nil
}

// StagedFiles lists added, copied, modified and renamed paths in the index.
// Deletions are excluded since there is no content to inspect.
func (g *GitClient) StagedFiles(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, "diff", "--cached", "--name-only", "--diff-filter=ACMR", "-z")
	if err != nil {
		return nil, fmt.Errorf("listing staged files: %w", err)
	}
	return splitNUL(out), nil
}

func (g *GitClient) StagedContent(ctx context.Context, path string) (io.Reader, error) {
	if path == "" {
		return nil, fmt.Errorf("empty staged path")
	}
	result, err := cmdutil.Run(ctx, cmdutil.ExecOptions{
		Dir:     g.dir,
		Timeout: g.timeout,
		Env:     []string{"GIT_TERMINAL_PROMPT=0"},
	}, []string{"git", "show", ":" + filepath.ToSlash(path)})
	if err != nil {
		if msg := strings.TrimSpace(string(result.Stderr)); msg != "" {
			return nil, fmt.Errorf("reading staged %s: %w: %s", path, err, msg)
		}
		return nil, fmt.Errorf("reading staged %s: %w", path, err)
	}
	return bytes.NewReader(result.Stdout), nil
}

// TrackedFiles lists every file in the index.
func (g *GitClient) TrackedFiles(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, "ls-files", "-z")
	if err != nil {
		return nil, fmt.Errorf("listing tracked files: %w", err)
	}
	return splitNUL(out), nil
}

func splitNUL(out string) []string {
	var files []string
	for _, name := range strings.Split(out, "\x00") {
		if name != "" {
			files = append(files, name)
		}
	}
	return files
}

func (g *GitClient) HeadCommit(ctx context.Context) (string, error) {
	sha, err := g.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	return strings.TrimSpace(sha), nil
}

func (g *GitClient) RemoteHead(ctx context.Context, remote, branch string) (string, error) {
	if err := security.ValidateRemoteName(remote); err != nil {
		return "", err
	}
	if err := security.ValidateBranchName(branch); err != nil {
		return "", err
	}

	out, err := g.run(ctx, "ls-remote", "--heads", remote, "refs/heads/"+branch)
	if err != nil {
		return "", fmt.Errorf("reading remote head: %w", err)
	}
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], nil
}

func (g *GitClient) Push(ctx context.Context, remote, refspec string) error {
	if err := security.ValidateRemoteName(remote); err != nil {
		return err
	}
	if err := validateRefspec(refspec); err != nil {
		return err
	}

	if _, err := g.run(ctx, "push", remote, refspec); err != nil {
		return fmt.Errorf("pushing %s to %s: %w", refspec, remote, err)
	}
	return nil
}

func (g *GitClient) ForcePushWithLease(ctx context.Context, remote, sha, branch string) error {
	if err := security.ValidateRemoteName(remote); err != nil {
		return err
	}
	if err := security.ValidateCommitSHA(sha); err != nil {
		return err
	}
	if err := security.ValidateBranchName(branch); err != nil {
		return err
	}

	refspec := sha + ":refs/heads/" + branch
	if _, err := g.run(ctx, "push", "--force-with-lease", remote, refspec); err != nil {
		return fmt.Errorf("force pushing %s: %w", branch, err)
	}
	return nil
}

func (g *GitClient) Fetch(ctx context.Context, remote string) error {
	if err := security.ValidateRemoteName(remote); err != nil {
		return err
	}
	if _, err := g.run(ctx, "fetch", remote); err != nil {
		return fmt.Errorf("fetching %s: %w", remote, err)
	}
	return nil
}

func (g *GitClient) Checkout(ctx context.Context, branch string) error {
	if err := security.ValidateBranchName(branch); err != nil {
		return err
	}
	if _, err := g.run(ctx, "checkout", branch); err != nil {
		return fmt.Errorf("checking out %s: %w", branch, err)
	}
	return nil
}

// Merge merges ref into the current branch. ref is a branch name or a
// remote-tracking name such as origin/staging.
func (g *GitClient) Merge(ctx context.Context, ref string) error {
	if err := security.ValidateBranchName(ref); err != nil {
		return err
	}
	if _, err := g.run(ctx, "merge", "--no-edit", ref); err != nil {
		return fmt.Errorf("merging %s: %w", ref, err)
	}
	return nil
}

// validateRefspec accepts "<branch>" or "HEAD:<branch>".
func validateRefspec(refspec string) error {
	src, dst, found := strings.Cut(refspec, ":")
	if !found {
		return security.ValidateBranchName(refspec)
	}
	if src != "HEAD" {
		if err := security.ValidateBranchName(src); err != nil {
			return err
		}
	}
	return security.ValidateBranchName(dst)
}
