package vcs

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Fake is an in-memory Client shared by tests of the packages that drive
// git. Errors set on the Err* fields are returned by the matching method.
type Fake struct {
	mu sync.Mutex

	Branch  string
	Clean   bool
	Staged  []string
	Blobs   map[string]string // staged path -> index copy
	Tracked []string
	Head    string
	Remotes map[string]string // "<remote>/<branch>" -> sha

	ErrBranch error
	ErrStatus error
	ErrStaged error
	ErrPush   error
	ErrForce  error
	ErrFetch  error
	ErrMerge  error

	Calls []string
}

// NewFake returns a clean fake on branch with head sha.
func NewFake(branch, head string) *Fake {
	return &Fake{Branch: branch, Head: head, Clean: true, Blobs: map[string]string{}, Remotes: map[string]string{}}
}

func (f *Fake) record(format string, args ...interface{}) {
	f.Calls = append(f.Calls, fmt.Sprintf(format, args...))
}

// CallLog returns a copy of the recorded calls.
func (f *Fake) CallLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Calls...)
}

func (f *Fake) CurrentBranch(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Branch, f.ErrBranch
}

func (f *Fake) IsClean(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Clean, f.ErrStatus
}

func (f *Fake) StagedFiles(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Staged...), f.ErrStaged
}

func (f *Fake) StagedContent(_ context.Context, path string) (io.Reader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	blob, ok := f.Blobs[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, os.ErrNotExist)
	}
	return strings.NewReader(blob), nil
}

func (f *Fake) TrackedFiles(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Tracked...), nil
}

func (f *Fake) HeadCommit(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Head, nil
}

func (f *Fake) RemoteHead(_ context.Context, remote, branch string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Remotes[remote+"/"+branch], nil
}

func (f *Fake) Push(_ context.Context, remote, refspec string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("push %s %s", remote, refspec)
	if f.ErrPush != nil {
		return f.ErrPush
	}
	dst := refspec
	if i := strings.LastIndex(refspec, ":"); i >= 0 {
		dst = refspec[i+1:]
	}
	f.Remotes[remote+"/"+dst] = f.Head
	return nil
}

func (f *Fake) ForcePushWithLease(_ context.Context, remote, sha, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("force-push %s %s:%s", remote, sha, branch)
	if f.ErrForce != nil {
		return f.ErrForce
	}
	f.Remotes[remote+"/"+branch] = sha
	return nil
}

func (f *Fake) Fetch(_ context.Context, remote string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("fetch %s", remote)
	return f.ErrFetch
}

func (f *Fake) Checkout(_ context.Context, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("checkout %s", branch)
	f.Branch = branch
	return nil
}

func (f *Fake) Merge(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("merge %s", ref)
	return f.ErrMerge
}

var _ Client = (*Fake)(nil)
var _ Client = (*GitClient)(nil)
