package audit

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestDeploymentLog_AppendAndRead(t *testing.T) {
	log := NewDeploymentLog(filepath.Join(t.TempDir(), "logs", "deployments.log"))

	backup := "/srv/backups/files-staging.tar.gz"
	records := []DeploymentRecord{
		{Environment: "staging", Status: StatusSuccess, Backup: &backup, User: "alice"},
		{Environment: "production", Status: StatusFailed, User: "bob", Reason: "preflight denied: branch"},
	}
	for _, rec := range records {
		if err := log.Append(rec); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	got, err := log.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(got))
	}
	if got[0].BackupPath() != backup || got[0].Timestamp.IsZero() {
		t.Errorf("Unexpected first record: %+v", got[0])
	}
	if got[1].Backup != nil || got[1].Reason == "" {
		t.Errorf("Unexpected second record: %+v", got[1])
	}
}

func TestDeploymentLog_LineFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deployments.log")
	log := NewDeploymentLog(path)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := log.Append(DeploymentRecord{Timestamp: ts, Environment: "development", Status: StatusSuccess, User: "ci"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	want := `{"timestamp":"2026-03-01T12:00:00Z","environment":"development","status":"SUCCESS","backup":null,"user":"ci"}` + "\n"
	if string(data) != want {
		t.Errorf("Unexpected line:\n got %s\nwant %s", data, want)
	}
}

func TestDeploymentLog_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deployments.log")
	content := "not json\n" + `{"timestamp":"2026-03-01T12:00:00Z","environment":"staging","status":"ERROR","backup":null,"user":"x"}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0640); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	got, err := NewDeploymentLog(path).Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(got) != 1 || got[0].Status != StatusError {
		t.Errorf("Expected one ERROR record, got %+v", got)
	}
}

func TestDeploymentLog_MissingFile(t *testing.T) {
	got, err := NewDeploymentLog(filepath.Join(t.TempDir(), "absent.log")).Read()
	if err != nil || len(got) != 0 {
		t.Errorf("Expected empty read, got %v, %v", got, err)
	}
}

func TestReferencedBackups(t *testing.T) {
	log := NewDeploymentLog(filepath.Join(t.TempDir(), "deployments.log"))
	oldPath, newPath := "/b/old.tar.gz", "/b/new.tar.gz"
	now := time.Now().UTC()

	_ = log.Append(DeploymentRecord{Timestamp: now.Add(-30 * 24 * time.Hour), Environment: "staging", Status: StatusSuccess, Backup: &oldPath})
	_ = log.Append(DeploymentRecord{Timestamp: now.Add(-time.Hour), Environment: "staging", Status: StatusSuccess, Backup: &newPath})

	refs, err := log.ReferencedBackups(now.Add(-7 * 24 * time.Hour))
	if err != nil {
		t.Fatalf("ReferencedBackups() error = %v", err)
	}
	if refs[oldPath] || !refs[newPath] {
		t.Errorf("Unexpected references: %v", refs)
	}
}

var linePattern = regexp.MustCompile(`^\[\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z\] \[(INFO|WARNING|ERROR|DEBUG)\] `)

func TestLineHandler(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "orchestration.log")
	logger := slog.New(NewLineHandler(path, slog.LevelInfo))

	logger.Debug("hidden")
	logger.Info("deployment started", "environment", "staging", "force", false)
	logger.With("step", "HEALTH_VERIFY").Warn("health check failed", "error", errors.New("status 503"))
	logger.WithGroup("rollback").Error("rollback finished", "status", "FAILED")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected 3 lines (debug filtered), got %d: %q", len(lines), lines)
	}
	for _, line := range lines {
		if !linePattern.MatchString(line) {
			t.Errorf("Line does not match format: %q", line)
		}
	}

	if !strings.HasSuffix(lines[0], "[INFO] deployment started environment=staging force=false") {
		t.Errorf("Unexpected info line: %q", lines[0])
	}
	if !strings.Contains(lines[1], `[WARNING] health check failed step=HEALTH_VERIFY error="status 503"`) {
		t.Errorf("Unexpected warning line: %q", lines[1])
	}
	if !strings.Contains(lines[2], "[ERROR] rollback finished rollback.status=FAILED") {
		t.Errorf("Unexpected error line: %q", lines[2])
	}
}

func TestLineHandler_Enabled(t *testing.T) {
	h := NewLineHandler(filepath.Join(t.TempDir(), "x.log"), slog.LevelWarn)
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Info should be disabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("Error should be enabled at warn level")
	}
}
