package vcs

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_CONFIG_NOSYSTEM=1", "GIT_TERMINAL_PROMPT=0")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func commit(t *testing.T, dir, name, content string) string {
	t.Helper()
	writeFile(t, dir, name, content)
	git(t, dir, "add", name)
	git(t, dir, "commit", "-q", "-m", "update "+name)
	return git(t, dir, "rev-parse", "HEAD")
}

// newRepo creates a work tree on branch main with one commit and a bare
// origin.
func newRepo(t *testing.T) (string, string) {
	t.Helper()
	requireGit(t)

	base := t.TempDir()
	remote := filepath.Join(base, "origin.git")
	work := filepath.Join(base, "work")
	if err := os.MkdirAll(work, 0755); err != nil {
		t.Fatal(err)
	}

	git(t, base, "init", "-q", "--bare", remote)
	git(t, work, "init", "-q")
	git(t, work, "symbolic-ref", "HEAD", "refs/heads/main")
	git(t, work, "config", "user.email", "ci@example.com")
	git(t, work, "config", "user.name", "CI")
	git(t, work, "config", "commit.gpgsign", "false")
	git(t, work, "remote", "add", "origin", remote)
	commit(t, work, "README.md", "hello\n")
	return work, remote
}

func newClient(t *testing.T, dir string) *GitClient {
	t.Helper()
	c, err := NewGitClient(dir, 30*time.Second)
	if err != nil {
		t.Fatalf("NewGitClient() error: %v", err)
	}
	return c
}

func TestGitClient_BranchAndStatus(t *testing.T) {
	work, _ := newRepo(t)
	c := newClient(t, work)
	ctx := context.Background()

	branch, err := c.CurrentBranch(ctx)
	if err != nil {
		t.Fatalf("CurrentBranch() error: %v", err)
	}
	if branch != "main" {
		t.Errorf("Expected branch main, got %q", branch)
	}

	clean, err := c.IsClean(ctx)
	if err != nil {
		t.Fatalf("IsClean() error: %v", err)
	}
	if !clean {
		t.Error("Expected fresh repository to be clean")
	}

	writeFile(t, work, "scratch.txt", "dirty\n")
	clean, err = c.IsClean(ctx)
	if err != nil {
		t.Fatalf("IsClean() error: %v", err)
	}
	if clean {
		t.Error("Expected untracked file to make the tree dirty")
	}
}

func TestGitClient_StagedFiles(t *testing.T) {
	work, _ := newRepo(t)
	c := newClient(t, work)
	ctx := context.Background()

	files, err := c.StagedFiles(ctx)
	if err != nil {
		t.Fatalf("StagedFiles() error: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("Expected no staged files, got %v", files)
	}

	writeFile(t, work, "src/app.go", "package app\n")
	writeFile(t, work, "with space.txt", "x\n")
	writeFile(t, work, "unstaged.txt", "x\n")
	git(t, work, "add", "src/app.go", "with space.txt")
	git(t, work, "rm", "-q", "README.md")

	files, err = c.StagedFiles(ctx)
	if err != nil {
		t.Fatalf("StagedFiles() error: %v", err)
	}
	sort.Strings(files)
	want := []string{"src/app.go", "with space.txt"}
	if strings.Join(files, ",") != strings.Join(want, ",") {
		t.Errorf("Expected %v (deletions excluded), got %v", want, files)
	}

	tracked, err := c.TrackedFiles(ctx)
	if err != nil {
		t.Fatalf("TrackedFiles() error: %v", err)
	}
	sort.Strings(tracked)
	if strings.Join(tracked, ",") != strings.Join(want, ",") {
		t.Errorf("Expected tracked files %v, got %v", want, tracked)
	}
}

func TestGitClient_StagedContent(t *testing.T) {
	work, _ := newRepo(t)
	c := newClient(t, work)
	ctx := context.Background()

	writeFile(t, work, "config.py", "api_key = \"abcdefghijklmnopqrstuvwx\"\n")
	git(t, work, "add", "config.py")
	writeFile(t, work, "config.py", "print('clean')\n")

	r, err := c.StagedContent(ctx, "config.py")
	if err != nil {
		t.Fatalf("StagedContent() error: %v", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "api_key = \"abcdefghijklmnopqrstuvwx\"\n" {
		t.Errorf("Expected index copy, got %q", data)
	}

	if _, err := c.StagedContent(ctx, "not-staged.txt"); err == nil {
		t.Error("Expected error for a path missing from the index")
	}
}

func TestGitClient_PushAndForcePushWithLease(t *testing.T) {
	work, _ := newRepo(t)
	c := newClient(t, work)
	ctx := context.Background()

	head, err := c.RemoteHead(ctx, "origin", "main")
	if err != nil {
		t.Fatalf("RemoteHead() error: %v", err)
	}
	if head != "" {
		t.Errorf("Expected no remote head before first push, got %q", head)
	}

	first, err := c.HeadCommit(ctx)
	if err != nil {
		t.Fatalf("HeadCommit() error: %v", err)
	}
	if err := c.Push(ctx, "origin", "main"); err != nil {
		t.Fatalf("Push() error: %v", err)
	}

	second := commit(t, work, "app.txt", "v2\n")
	if err := c.Push(ctx, "origin", "HEAD:main"); err != nil {
		t.Fatalf("Push(HEAD:main) error: %v", err)
	}

	head, err = c.RemoteHead(ctx, "origin", "main")
	if err != nil {
		t.Fatalf("RemoteHead() error: %v", err)
	}
	if head != second {
		t.Errorf("Expected remote head %s, got %s", second, head)
	}

	if err := c.ForcePushWithLease(ctx, "origin", first, "main"); err != nil {
		t.Fatalf("ForcePushWithLease() error: %v", err)
	}
	head, err = c.RemoteHead(ctx, "origin", "main")
	if err != nil {
		t.Fatalf("RemoteHead() error: %v", err)
	}
	if head != first {
		t.Errorf("Expected remote head reset to %s, got %s", first, head)
	}
}

func TestGitClient_FetchCheckoutMerge(t *testing.T) {
	work, _ := newRepo(t)
	c := newClient(t, work)
	ctx := context.Background()

	if err := c.Push(ctx, "origin", "main"); err != nil {
		t.Fatalf("Push() error: %v", err)
	}
	git(t, work, "branch", "staging")

	feature := commit(t, work, "feature.txt", "feature\n")
	if err := c.Push(ctx, "origin", "main"); err != nil {
		t.Fatalf("Push() error: %v", err)
	}

	if err := c.Fetch(ctx, "origin"); err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if err := c.Checkout(ctx, "staging"); err != nil {
		t.Fatalf("Checkout() error: %v", err)
	}
	if err := c.Merge(ctx, "origin/main"); err != nil {
		t.Fatalf("Merge() error: %v", err)
	}

	head, err := c.HeadCommit(ctx)
	if err != nil {
		t.Fatalf("HeadCommit() error: %v", err)
	}
	if head != feature {
		t.Errorf("Expected fast-forward to %s, got %s", feature, head)
	}
	if branch, _ := c.CurrentBranch(ctx); branch != "staging" {
		t.Errorf("Expected to stay on staging, got %q", branch)
	}
}

func TestGitClient_NotRepository(t *testing.T) {
	requireGit(t)
	c := newClient(t, t.TempDir())

	_, err := c.CurrentBranch(context.Background())
	if !errors.Is(err, ErrNotRepository) {
		t.Errorf("Expected ErrNotRepository, got %v", err)
	}
}

func TestGitClient_RejectsUnsafeArguments(t *testing.T) {
	c := newClient(t, t.TempDir())
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"push option injection", func() error { return c.Push(ctx, "origin", "--mirror") }},
		{"push bad remote", func() error { return c.Push(ctx, "-origin", "main") }},
		{"push bad refspec source", func() error { return c.Push(ctx, "origin", "a..b:main") }},
		{"force push bad sha", func() error { return c.ForcePushWithLease(ctx, "origin", "HEAD~1", "main") }},
		{"checkout option", func() error { return c.Checkout(ctx, "--orphan") }},
		{"merge option", func() error { return c.Merge(ctx, "-Xtheirs") }},
		{"fetch bad remote", func() error { return c.Fetch(ctx, "origin;rm") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err == nil {
				t.Error("Expected validation error, got nil")
			}
		})
	}
}

func TestValidateRefspec(t *testing.T) {
	tests := []struct {
		refspec string
		valid   bool
	}{
		{"main", true},
		{"HEAD:main", true},
		{"feature/x:staging", true},
		{"HEAD:", false},
		{":main", false},
		{"HEAD:-f", false},
	}

	for _, tt := range tests {
		if err := validateRefspec(tt.refspec); (err == nil) != tt.valid {
			t.Errorf("validateRefspec(%q) error = %v, want valid %v", tt.refspec, err, tt.valid)
		}
	}
}
