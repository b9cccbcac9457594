package security

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	branchPattern = regexp.MustCompile(`^[a-zA-Z0-9/_.-]+$`)
	remotePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
	shaPattern    = regexp.MustCompile(`^[0-9a-f]{7,64}$`)
)

// ValidateBranchName ensures a branch name is safe to pass to git.
func ValidateBranchName(branch string) error {
	if branch == "" {
		return fmt.Errorf("branch name cannot be empty")
	}
	if strings.HasPrefix(branch, "-") {
		return fmt.Errorf("branch name cannot start with '-'")
	}
	if strings.Contains(branch, "..") || strings.HasSuffix(branch, ".lock") || strings.HasSuffix(branch, "/") {
		return fmt.Errorf("branch name is not a valid ref: %s", branch)
	}
	if !branchPattern.MatchString(branch) {
		return fmt.Errorf("branch name contains invalid characters")
	}
	return nil
}

// ValidateRemoteName ensures a remote name is safe to pass to git.
func ValidateRemoteName(remote string) error {
	if remote == "" {
		return fmt.Errorf("remote name cannot be empty")
	}
	if strings.HasPrefix(remote, "-") || !remotePattern.MatchString(remote) {
		return fmt.Errorf("invalid remote name: %s", remote)
	}
	return nil
}

// ValidateCommitSHA ensures a value is an abbreviated or full hex object name.
func ValidateCommitSHA(sha string) error {
	if !shaPattern.MatchString(sha) {
		return fmt.Errorf("invalid commit sha: %q", sha)
	}
	return nil
}

// SafeJoin joins an untrusted relative name onto base and rejects results
// that escape base. Absolute names are rejected too.
func SafeJoin(base, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("absolute path not allowed: %s", name)
	}

	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base path: %w", err)
	}

	target := filepath.Join(absBase, name)
	rel, err := filepath.Rel(absBase, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: '%s' is outside '%s'", name, absBase)
	}

	return target, nil
}

// RelativeTo resolves path against root and returns it relative to root in
// forward-slash form. Paths outside root are rejected.
func RelativeTo(root, path string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve root: %w", err)
	}

	target := path
	if !filepath.IsAbs(target) {
		target = filepath.Join(absRoot, target)
	}
	rel, err := filepath.Rel(absRoot, filepath.Clean(target))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path '%s' is outside '%s'", path, absRoot)
	}
	return filepath.ToSlash(rel), nil
}
