package preflight

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"opsgate/internal/environment"
	"opsgate/internal/health"
	"opsgate/internal/security"
	"opsgate/internal/vcs"
	"opsgate/pkg/cmdutil"
)

type fakeRunner struct {
	result *cmdutil.Result
	err    error
	calls  [][]string
}

func (r *fakeRunner) Execute(_ context.Context, parts []string) (*cmdutil.Result, error) {
	r.calls = append(r.calls, parts)
	return r.result, r.err
}

type fakeGate bool

func (g fakeGate) IsActive() bool { return bool(g) }

type fakeCI struct {
	state string
	err   error
}

func (c fakeCI) CombinedStatus(context.Context, string) (string, error) {
	return c.state, c.err
}

func healthy() health.Checker {
	return health.CheckerFunc(func(context.Context, string) error { return nil })
}

func unhealthy() health.Checker {
	return health.CheckerFunc(func(context.Context, string) error { return errors.New("connection refused") })
}

func env(name, branch string) *environment.Environment {
	return &environment.Environment{Name: name, Branch: branch, HealthURL: "http://localhost/health"}
}

func severities(r *Report) map[string]Severity {
	out := make(map[string]Severity)
	for _, c := range r.Checks {
		out[c.Name] = c.Severity
	}
	return out
}

func TestAggregator_OrderAndSkips(t *testing.T) {
	fake := vcs.NewFake("develop", "abc1234")
	agg := NewAggregator(Options{VCS: fake, Health: healthy()})

	report := agg.Run(context.Background(), env(environment.Development, "develop"))
	if !report.Allowed {
		t.Fatalf("Expected allowed report, got %+v", report)
	}
	var names []string
	for _, c := range report.Checks {
		names = append(names, c.Name)
	}
	// tests, secrets, health and ci_status are skipped for this setup
	if strings.Join(names, ",") != "branch,working_tree" {
		t.Errorf("Unexpected checks: %v", names)
	}

	prod := env(environment.Production, "main")
	prod.RequireTests = true
	prod.TestCommand = []string{"go", "test", "./..."}
	fake.Branch = "main"
	agg = NewAggregator(Options{
		VCS:     fake,
		Runner:  &fakeRunner{result: &cmdutil.Result{ExitCode: 0}},
		Scanner: mustScanner(t, t.TempDir()),
		Health:  healthy(),
		Gate:    fakeGate(true),
		CI:      fakeCI{state: "success"},
	})
	report = agg.Run(context.Background(), prod)
	names = nil
	for _, c := range report.Checks {
		names = append(names, c.Name)
	}
	want := "branch,working_tree,tests,secrets,health,ci_status"
	if strings.Join(names, ",") != want {
		t.Errorf("Expected order %s, got %v", want, names)
	}
	if !report.Allowed {
		t.Errorf("Expected allowed report, got %+v", report.Checks)
	}
}

func TestAggregator_Branch(t *testing.T) {
	tests := []struct {
		name string
		env  *environment.Environment
		want Severity
	}{
		{"production mismatch fails", env(environment.Production, "main"), Fail},
		{"staging mismatch warns", env(environment.Staging, "staging"), Warn},
		{"development mismatch warns", env(environment.Development, "develop"), Warn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := NewAggregator(Options{VCS: vcs.NewFake("feature/x", "abc1234"), Health: healthy()})
			report := agg.Run(context.Background(), tt.env)
			if got := severities(report)[CheckBranch]; got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
			if report.Allowed != (tt.want != Fail) {
				t.Errorf("Expected Allowed=%v, got %v", tt.want != Fail, report.Allowed)
			}
		})
	}
}

func TestAggregator_DirtyTreeWarns(t *testing.T) {
	fake := vcs.NewFake("develop", "abc1234")
	fake.Clean = false
	report := NewAggregator(Options{VCS: fake}).Run(context.Background(), env(environment.Development, "develop"))

	if got := severities(report)[CheckWorkingTree]; got != Warn {
		t.Errorf("Expected WARN for dirty tree, got %s", got)
	}
	if !report.Allowed {
		t.Error("A dirty tree alone must not deny")
	}
}

func TestAggregator_Tests(t *testing.T) {
	e := env(environment.Development, "develop")
	e.RequireTests = true
	e.TestCommand = []string{"pytest", "-q"}

	failing := &fakeRunner{
		result: &cmdutil.Result{ExitCode: 1, Output: []byte("1 failed, 10 passed")},
		err:    errors.New("command failed: exit status 1"),
	}
	report := NewAggregator(Options{VCS: vcs.NewFake("develop", "abc1234"), Runner: failing}).Run(context.Background(), e)

	check, ok := report.Find(CheckTests)
	if !ok || check.Severity != Fail {
		t.Fatalf("Expected failed tests check, got %+v", check)
	}
	if !strings.Contains(check.Message, "1 failed, 10 passed") {
		t.Errorf("Expected test output in message, got %q", check.Message)
	}
	if report.Allowed {
		t.Error("Failing tests must deny")
	}
	if len(failing.calls) != 1 || strings.Join(failing.calls[0], " ") != "pytest -q" {
		t.Errorf("Unexpected runner calls: %v", failing.calls)
	}

	e.TestCommand = nil
	report = NewAggregator(Options{VCS: vcs.NewFake("develop", "abc1234"), Runner: failing}).Run(context.Background(), e)
	if got := severities(report)[CheckTests]; got != Fail {
		t.Errorf("Expected FAIL without a test command, got %s", got)
	}
}

func TestAggregator_TestsWithSandboxedExecutor(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "run-tests.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho 'ok 3 tests'\nexit 0\n"), 0755); err != nil {
		t.Fatal(err)
	}

	runner := security.NewSandboxedExecutor(dir, 0)
	runner.AddAllowedCommand(script)

	e := env(environment.Development, "develop")
	e.RequireTests = true
	e.TestCommand = []string{script}

	report := NewAggregator(Options{VCS: vcs.NewFake("develop", "abc1234"), Runner: runner}).Run(context.Background(), e)
	if got := severities(report)[CheckTests]; got != Pass {
		t.Errorf("Expected PASS, got %s (%+v)", got, report.Checks)
	}

	e.TestCommand = []string{"rm", "-rf", "/"}
	report = NewAggregator(Options{VCS: vcs.NewFake("develop", "abc1234"), Runner: runner}).Run(context.Background(), e)
	check, _ := report.Find(CheckTests)
	if check.Severity != Fail || !strings.Contains(check.Message, "not allowed") {
		t.Errorf("Expected disallowed command to fail, got %+v", check)
	}
}

func TestAggregator_Secrets(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "config.py"), []byte("API_KEY = \"abcdef0123456789abcd\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "main.py"), []byte("print('hi')\n"), 0644); err != nil {
		t.Fatal(err)
	}

	fake := vcs.NewFake("staging", "abc1234")
	fake.Tracked = []string{"config.py", "main.py"}
	agg := NewAggregator(Options{VCS: fake, Scanner: mustScanner(t, root), Health: healthy(), Gate: fakeGate(true)})

	report := agg.Run(context.Background(), env(environment.Staging, "staging"))
	check, _ := report.Find(CheckSecrets)
	if check.Severity != Fail {
		t.Fatalf("Expected secrets FAIL, got %+v", check)
	}
	if !strings.Contains(check.Message, "config.py:1: api_key") {
		t.Errorf("Expected itemized finding, got %q", check.Message)
	}
	if report.Allowed {
		t.Error("Secret findings must deny")
	}

	fake.Tracked = []string{"main.py"}
	report = agg.Run(context.Background(), env(environment.Staging, "staging"))
	if got := severities(report)[CheckSecrets]; got != Pass {
		t.Errorf("Expected PASS with deployment mode active, got %s", got)
	}

	agg = NewAggregator(Options{VCS: fake, Scanner: mustScanner(t, root), Health: healthy(), Gate: fakeGate(false)})
	report = agg.Run(context.Background(), env(environment.Staging, "staging"))
	check, _ = report.Find(CheckSecrets)
	if check.Severity != Warn || !strings.Contains(check.Message, "deployment mode is not active") {
		t.Errorf("Expected WARN note for inactive deployment mode, got %+v", check)
	}
	if !report.Allowed {
		t.Error("The deployment-mode note must not deny")
	}
}

func TestAggregator_HealthWarnsOnlyForGuarded(t *testing.T) {
	fake := vcs.NewFake("staging", "abc1234")
	report := NewAggregator(Options{VCS: fake, Health: unhealthy()}).Run(context.Background(), env(environment.Staging, "staging"))

	check, ok := report.Find(CheckHealth)
	if !ok || check.Severity != Warn {
		t.Fatalf("Expected health WARN, got %+v", check)
	}
	if !report.Allowed {
		t.Error("A failed health pre-check must not deny")
	}

	fake.Branch = "develop"
	report = NewAggregator(Options{VCS: fake, Health: unhealthy()}).Run(context.Background(), env(environment.Development, "develop"))
	if _, ok := report.Find(CheckHealth); ok {
		t.Error("Expected no health check for development")
	}
}

func TestAggregator_CIStatus(t *testing.T) {
	tests := []struct {
		ci   fakeCI
		want Severity
	}{
		{fakeCI{state: "success"}, Pass},
		{fakeCI{state: "pending"}, Warn},
		{fakeCI{state: "failure"}, Warn},
		{fakeCI{err: errors.New("rate limited")}, Warn},
	}

	for _, tt := range tests {
		report := NewAggregator(Options{VCS: vcs.NewFake("develop", "abc1234"), CI: tt.ci}).
			Run(context.Background(), env(environment.Development, "develop"))
		if got := severities(report)[CheckCIStatus]; got != tt.want {
			t.Errorf("CI %+v: expected %s, got %s", tt.ci, tt.want, got)
		}
		if !report.Allowed {
			t.Errorf("CI %+v: ci_status must never deny", tt.ci)
		}
	}
}

func TestReport_Summary(t *testing.T) {
	r := &Report{Checks: []CheckResult{
		{CheckBranch, Fail, "on feature, expected main"},
		{CheckWorkingTree, Warn, "uncommitted changes present"},
		{CheckTests, Fail, "pytest failed"},
	}}
	want := "branch: on feature, expected main; tests: pytest failed"
	if got := r.Summary(); got != want {
		t.Errorf("Summary() = %q, want %q", got, want)
	}
}

func TestGithubStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/bot/commits/main/status" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Expected bearer token, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"state":"pending","total_count":2}`))
	}))
	defer srv.Close()

	gh := NewGithubStatus(context.Background(), "test-token", "acme", "bot")
	if err := gh.SetBaseURL(srv.URL); err != nil {
		t.Fatalf("SetBaseURL() error: %v", err)
	}

	state, err := gh.CombinedStatus(context.Background(), "main")
	if err != nil {
		t.Fatalf("CombinedStatus() error: %v", err)
	}
	if state != "pending" {
		t.Errorf("Expected pending, got %q", state)
	}

	if _, err := gh.CombinedStatus(context.Background(), "missing"); err == nil {
		t.Error("Expected error for unknown ref")
	}
}

func mustScanner(t *testing.T, root string) *security.Scanner {
	t.Helper()
	s, err := security.NewScanner(root, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	return s
}
