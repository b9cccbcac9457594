package gate

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestGate(t *testing.T) (*Gate, *fakeClock, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "status", "deployment_mode.json")
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	g := New(NewFileStore(path), clock, []string{"master", "main", "production", "staging"}, nil)
	return g, clock, path
}

func TestGate_EnableAndExpire(t *testing.T) {
	g, clock, path := newTestGate(t)

	if g.IsActive() {
		t.Fatal("Expected gate to start inactive")
	}

	state, err := g.Enable(30 * time.Minute)
	if err != nil {
		t.Fatalf("Enable() error: %v", err)
	}
	if !state.ExpireAt.Equal(clock.now.Add(30 * time.Minute)) {
		t.Errorf("Expected expiry 30m from now, got %v", state.ExpireAt)
	}
	if !g.IsActive() {
		t.Fatal("Expected gate to be active right after Enable")
	}

	clock.Advance(30 * time.Minute)
	if !g.IsActive() {
		t.Error("Expected gate to stay active exactly at expiry")
	}

	clock.Advance(time.Second)
	if g.IsActive() {
		t.Error("Expected gate to be inactive after expiry")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("Expected flag file to be removed on expiry, stat err = %v", err)
	}
}

func TestGate_Disable(t *testing.T) {
	g, _, path := newTestGate(t)

	if err := g.Disable(); err != nil {
		t.Fatalf("Disable() on inactive gate error: %v", err)
	}

	if _, err := g.Enable(time.Minute); err != nil {
		t.Fatalf("Enable() error: %v", err)
	}
	if err := g.Disable(); err != nil {
		t.Fatalf("Disable() error: %v", err)
	}
	if g.IsActive() {
		t.Error("Expected gate to be inactive after Disable")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Expected flag file to be removed by Disable")
	}
}

func TestGate_DefaultDuration(t *testing.T) {
	g, clock, _ := newTestGate(t)

	state, err := g.Enable(0)
	if err != nil {
		t.Fatalf("Enable() error: %v", err)
	}
	if got := state.ExpireAt.Sub(clock.now); got != DefaultDuration {
		t.Errorf("Expected default duration %v, got %v", DefaultDuration, got)
	}
}

func TestGate_Status(t *testing.T) {
	g, clock, _ := newTestGate(t)

	st, err := g.Status()
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if st.Active || st.State != nil {
		t.Errorf("Expected inactive empty status, got %+v", st)
	}

	if _, err := g.Enable(10 * time.Minute); err != nil {
		t.Fatalf("Enable() error: %v", err)
	}
	clock.Advance(4 * time.Minute)

	st, err = g.Status()
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if !st.Active {
		t.Fatal("Expected active status")
	}
	if st.Remaining != 6*time.Minute {
		t.Errorf("Expected 6m remaining, got %v", st.Remaining)
	}
}

func TestGate_CorruptStateIsInactive(t *testing.T) {
	g, _, path := newTestGate(t)

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0640); err != nil {
		t.Fatal(err)
	}

	if g.IsActive() {
		t.Error("Expected corrupt state to read as inactive")
	}
	if _, err := g.Status(); err == nil {
		t.Error("Expected Status() to report the parse error")
	}
}

func TestGate_CheckBranch(t *testing.T) {
	g, clock, _ := newTestGate(t)

	tests := []struct {
		branch  string
		active  bool
		wantErr bool
	}{
		{"main", false, true},
		{"master", false, true},
		{"production", false, true},
		{"staging", false, true},
		{"feature/login", false, false},
		{"main", true, false},
		{"staging", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.branch, func(t *testing.T) {
			if tt.active {
				if _, err := g.Enable(time.Hour); err != nil {
					t.Fatal(err)
				}
			} else if err := g.Disable(); err != nil {
				t.Fatal(err)
			}

			err := g.CheckBranch(tt.branch)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckBranch(%q) error = %v, wantErr %v", tt.branch, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrProtectedBranch) {
				t.Errorf("Expected ErrProtectedBranch, got %v", err)
			}
		})
	}

	// An expired window protects again.
	if _, err := g.Enable(time.Minute); err != nil {
		t.Fatal(err)
	}
	clock.Advance(2 * time.Minute)
	if err := g.CheckBranch("main"); !errors.Is(err, ErrProtectedBranch) {
		t.Errorf("Expected ErrProtectedBranch after expiry, got %v", err)
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "mode.json"))

	got, err := store.Get()
	if err != nil || got != nil {
		t.Fatalf("Expected nil state for missing file, got %+v, %v", got, err)
	}

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	want := State{Enabled: true, StartedAt: start, ExpireAt: start.Add(time.Hour)}
	if err := store.Set(want); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	got, err = store.Get()
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !got.Enabled || !got.StartedAt.Equal(want.StartedAt) || !got.ExpireAt.Equal(want.ExpireAt) {
		t.Errorf("Expected %+v, got %+v", want, got)
	}
}
