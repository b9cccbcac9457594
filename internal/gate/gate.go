// Package gate implements the time-boxed deployment mode that relaxes
// commit-time protections while a deployment window is open.
package gate

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrProtectedBranch is returned when committing directly to a protected
// branch while deployment mode is inactive.
var ErrProtectedBranch = errors.New("direct commit to protected branch")

// DefaultDuration applies when Enable is given a non-positive duration.
const DefaultDuration = 30 * time.Minute

// Clock abstracts time for expiry checks.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// Status describes the current gate state.
type Status struct {
	Active    bool          `json:"active"`
	State     *State        `json:"state,omitempty"`
	Remaining time.Duration `json:"remaining_ns"`
}

// Gate owns the deployment-mode flag.
type Gate struct {
	store     Store
	clock     Clock
	protected map[string]bool
	logger    *slog.Logger
}

// New creates a gate. An empty protected list means no branch is protected.
func New(store Store, clock Clock, protected []string, logger *slog.Logger) *Gate {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	set := make(map[string]bool, len(protected))
	for _, b := range protected {
		set[b] = true
	}
	return &Gate{store: store, clock: clock, protected: set, logger: logger}
}

// Enable opens a deployment window of the given length.
func (g *Gate) Enable(d time.Duration) (*State, error) {
	if d <= 0 {
		d = DefaultDuration
	}
	now := g.clock.Now()
	state := State{Enabled: true, StartedAt: now, ExpireAt: now.Add(d)}
	if err := g.store.Set(state); err != nil {
		return nil, err
	}
	g.logger.Info("deployment mode enabled", "expire_at", state.ExpireAt.Format(time.RFC3339))
	return &state, nil
}

// Disable closes the window. Disabling an inactive gate is not an error.
func (g *Gate) Disable() error {
	if err := g.store.Clear(); err != nil {
		return err
	}
	g.logger.Info("deployment mode disabled")
	return nil
}

// IsActive reports whether deployment mode is on. An expired flag is
// cleared from the store and reported inactive. Unreadable state counts as
// inactive.
func (g *Gate) IsActive() bool {
	st, err := g.Status()
	if err != nil {
		g.logger.Warn("deployment mode unreadable, treating as disabled", "error", err)
		return false
	}
	return st.Active
}

// Status returns the state with the remaining window, expiring lazily.
func (g *Gate) Status() (*Status, error) {
	state, err := g.store.Get()
	if err != nil {
		return &Status{}, err
	}
	if state == nil || !state.Enabled {
		return &Status{}, nil
	}

	now := g.clock.Now()
	if state.Expired(now) {
		if err := g.store.Clear(); err != nil {
			return &Status{}, fmt.Errorf("failed to expire deployment mode: %w", err)
		}
		g.logger.Info("deployment mode expired", "expire_at", state.ExpireAt.Format(time.RFC3339))
		return &Status{}, nil
	}

	return &Status{Active: true, State: state, Remaining: state.ExpireAt.Sub(now)}, nil
}

// IsProtected reports whether branch is in the protected set.
func (g *Gate) IsProtected(branch string) bool {
	return g.protected[branch]
}

// CheckBranch denies direct commits to protected branches unless deployment
// mode is active.
func (g *Gate) CheckBranch(branch string) error {
	if !g.IsProtected(branch) || g.IsActive() {
		return nil
	}
	return fmt.Errorf("%w: %s (enable deployment mode first)", ErrProtectedBranch, branch)
}
