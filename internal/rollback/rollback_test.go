package rollback

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"opsgate/internal/backup"
	"opsgate/internal/environment"
)

type fakeBackuper struct {
	err   error
	kinds []string
}

func (b *fakeBackuper) CreateKind(_ context.Context, envName, kind string) (*backup.Artifact, error) {
	b.kinds = append(b.kinds, kind)
	if b.err != nil {
		return nil, b.err
	}
	return &backup.Artifact{Environment: envName, Kind: kind, Path: "/backups/" + envName + "_" + kind + ".tar.gz"}, nil
}

type fakeApplier struct {
	applyErr    error
	validateErr error
	panicOn     bool
	applied     [][]string
	validated   int
}

func (a *fakeApplier) Apply(_ context.Context, statements []string) error {
	if a.panicOn {
		panic("driver exploded")
	}
	a.applied = append(a.applied, statements)
	return a.applyErr
}

func (a *fakeApplier) Validate(context.Context) error {
	a.validated++
	return a.validateErr
}

func writeScript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rollback.sql")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestManager(t *testing.T, backups Backuper, applier Applier, backupFirst bool) (*Manager, string) {
	t.Helper()
	historyPath := filepath.Join(t.TempDir(), "logs", "rollback-history.json")
	m := NewManager(Options{
		Backups:     backups,
		BackupFirst: backupFirst,
		Appliers: map[string]Applier{
			environment.ApplyDryRun:   applier,
			environment.ApplyDatabase: applier,
		},
		HistoryPath: historyPath,
		Now:         func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	return m, historyPath
}

var stagingEnv = &environment.Environment{Name: "staging", BackupKind: environment.BackupFiles, RollbackApply: environment.ApplyDryRun}

const validScript = "UPDATE users SET plan = 'free' WHERE plan = 'trial';\nDELETE FROM sessions;\n"

func TestExecute_Success(t *testing.T) {
	backups := &fakeBackuper{}
	applier := &fakeApplier{}
	m, _ := newTestManager(t, backups, applier, true)

	rec := m.Execute(context.Background(), writeScript(t, validScript), stagingEnv, "bad migration")
	if rec.Status != StatusSuccess {
		t.Fatalf("Expected SUCCESS, got %s (%s)", rec.Status, rec.Error)
	}

	want := []string{CheckScriptExists, CheckScriptSize, CheckSQLKeywords, CheckBackup, CheckExecute, CheckValidate}
	if strings.Join(rec.SafetyChecks, ",") != strings.Join(want, ",") {
		t.Errorf("Expected checks %v, got %v", want, rec.SafetyChecks)
	}
	if rec.Backup == nil || *rec.Backup != "/backups/staging_files.tar.gz" {
		t.Errorf("Expected backup reference, got %v", rec.Backup)
	}
	if len(applier.applied) != 1 || len(applier.applied[0]) != 2 {
		t.Errorf("Expected 2 statements applied once, got %v", applier.applied)
	}
	if rec.EndedAt == nil {
		t.Error("Expected EndedAt to be set")
	}
}

func TestExecute_DatabaseModeBacksUpDatabase(t *testing.T) {
	backups := &fakeBackuper{}
	m, _ := newTestManager(t, backups, &fakeApplier{}, true)
	env := &environment.Environment{Name: "production", BackupKind: environment.BackupFiles, RollbackApply: environment.ApplyDatabase}

	rec := m.Execute(context.Background(), writeScript(t, validScript), env, "revert")
	if rec.Status != StatusSuccess {
		t.Fatalf("Expected SUCCESS, got %s", rec.Status)
	}
	if len(backups.kinds) != 1 || backups.kinds[0] != environment.BackupDatabase {
		t.Errorf("Expected a database safety backup, got %v", backups.kinds)
	}
}

func TestExecute_VerifyShortCircuits(t *testing.T) {
	tests := []struct {
		name   string
		script func(t *testing.T) string
	}{
		{"missing script", func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.sql") }},
		{"too small", func(t *testing.T) string { return writeScript(t, "DROP;") }},
		{"directory", func(t *testing.T) string { return t.TempDir() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backups := &fakeBackuper{}
			applier := &fakeApplier{}
			m, _ := newTestManager(t, backups, applier, true)

			rec := m.Execute(context.Background(), tt.script(t), stagingEnv, "test")
			if rec.Status != StatusFailed {
				t.Errorf("Expected FAILED, got %s", rec.Status)
			}
			if len(backups.kinds) != 0 || len(applier.applied) != 0 || applier.validated != 0 {
				t.Error("Expected no backup, execution or validation after failed verification")
			}
			for _, check := range rec.SafetyChecks {
				if check == CheckExecute || check == CheckValidate {
					t.Errorf("Unexpected check %s after failed verification", check)
				}
			}
		})
	}
}

func TestExecute_NonSQLIsWarningOnly(t *testing.T) {
	m, _ := newTestManager(t, &fakeBackuper{}, &fakeApplier{}, false)

	rec := m.Execute(context.Background(), writeScript(t, "echo this is not sql at all\n"), stagingEnv, "test")
	if rec.Status != StatusSuccess {
		t.Errorf("Expected SUCCESS despite heuristic warning, got %s", rec.Status)
	}
	if len(rec.Warnings) != 1 {
		t.Errorf("Expected one warning, got %v", rec.Warnings)
	}
	if rec.Backup != nil {
		t.Error("Expected no backup when BackupFirst is off")
	}
}

func TestExecute_BackupFailureFailsClosed(t *testing.T) {
	applier := &fakeApplier{}
	m, _ := newTestManager(t, &fakeBackuper{err: errors.New("disk full")}, applier, true)

	rec := m.Execute(context.Background(), writeScript(t, validScript), stagingEnv, "test")
	if rec.Status != StatusFailed {
		t.Errorf("Expected FAILED, got %s", rec.Status)
	}
	if !strings.Contains(rec.Error, "disk full") {
		t.Errorf("Expected backup error in record, got %q", rec.Error)
	}
	if len(applier.applied) != 0 {
		t.Error("Expected script not to run without its safety backup")
	}
}

func TestExecute_FailureStatuses(t *testing.T) {
	tests := []struct {
		name    string
		applier *fakeApplier
		want    Status
	}{
		{"execution failure", &fakeApplier{applyErr: errors.New("syntax error")}, StatusExecutionFailed},
		{"validation failure", &fakeApplier{validateErr: errors.New("table missing")}, StatusValidationFailed},
		{"panic", &fakeApplier{panicOn: true}, StatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, historyPath := newTestManager(t, &fakeBackuper{}, tt.applier, false)

			rec := m.Execute(context.Background(), writeScript(t, validScript), stagingEnv, "test")
			if rec.Status != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, rec.Status)
			}
			if rec.Error == "" {
				t.Error("Expected error message to be recorded")
			}

			records, err := NewHistory(historyPath, 0).Load()
			if err != nil {
				t.Fatal(err)
			}
			if len(records) != 1 || records[0].Status != tt.want {
				t.Errorf("Expected persisted %s record, got %+v", tt.want, records)
			}
		})
	}
}

func TestExecute_UnknownApplyMode(t *testing.T) {
	m, _ := newTestManager(t, &fakeBackuper{}, &fakeApplier{}, false)
	env := &environment.Environment{Name: "staging", RollbackApply: "shell"}

	rec := m.Execute(context.Background(), writeScript(t, validScript), env, "test")
	if rec.Status != StatusError {
		t.Errorf("Expected ERROR, got %s", rec.Status)
	}
}

func TestHistory_CappedAtLimit(t *testing.T) {
	m, historyPath := newTestManager(t, &fakeBackuper{}, &fakeApplier{}, false)
	script := writeScript(t, validScript)

	var ids []string
	for i := 0; i < DefaultHistoryLimit+5; i++ {
		rec := m.Execute(context.Background(), script, stagingEnv, "run")
		ids = append(ids, rec.ID)
	}

	records, err := NewHistory(historyPath, 0).Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != DefaultHistoryLimit {
		t.Fatalf("Expected %d records, got %d", DefaultHistoryLimit, len(records))
	}
	if records[0].ID != ids[5] {
		t.Errorf("Expected oldest entries evicted first, got first id %s", records[0].ID)
	}
	if records[len(records)-1].ID != ids[len(ids)-1] {
		t.Error("Expected newest entry last")
	}
}

func TestHistory_CorruptIsReplaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rollback-history.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	h := NewHistory(path, 3)
	if err := h.Append(Record{ID: "a", Status: StatusSuccess}); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	records, err := h.Load()
	if err != nil || len(records) != 1 {
		t.Errorf("Expected one record after replacing corrupt history, got %v (%v)", records, err)
	}
}

func TestDryRunApplier(t *testing.T) {
	a := &DryRunApplier{}
	if err := a.Apply(context.Background(), nil); err == nil {
		t.Error("Expected error for empty script")
	}
	if err := a.Apply(context.Background(), []string{"SELECT 1"}); err != nil {
		t.Errorf("Apply() error: %v", err)
	}
}

func TestPgApplier_NoURL(t *testing.T) {
	a := &PgApplier{}
	if err := a.Apply(context.Background(), []string{"SELECT 1"}); err == nil {
		t.Error("Expected error without database url")
	}
	if err := a.Validate(context.Background()); err == nil {
		t.Error("Expected error without database url")
	}
}
