package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateSecureFile(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name     string
		filename string
		perm     os.FileMode
	}{
		{"backup artifact", "files-production.tar.gz", PermBackupFile},
		{"log file", "orchestration.log", PermStateFile},
		{"hook script", "pre-commit", PermHookScript},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(tmpDir, tt.filename)
			file, err := CreateSecureFile(path, tt.perm)
			if err != nil {
				t.Fatalf("CreateSecureFile() error = %v", err)
			}
			file.Close()

			info, err := os.Stat(path)
			if err != nil {
				t.Fatalf("File was not created: %v", err)
			}
			if info.Mode().Perm() != tt.perm {
				t.Errorf("File permissions = %04o, want %04o", info.Mode().Perm(), tt.perm)
			}
		})
	}
}

func TestCreateSecureFile_Overwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifact")
	if err := os.WriteFile(path, []byte("old content"), 0644); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}

	file, err := CreateSecureFile(path, PermBackupFile)
	if err != nil {
		t.Fatalf("CreateSecureFile() error = %v", err)
	}
	file.Close()

	info, _ := os.Stat(path)
	if info.Size() != 0 {
		t.Errorf("Expected truncated file, got size %d", info.Size())
	}
	if info.Mode().Perm() != PermBackupFile {
		t.Errorf("Expected %04o, got %04o", PermBackupFile, info.Mode().Perm())
	}
}

func TestCreateSecureDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "logs")

	if err := CreateSecureDir(path, PermStateDir); err != nil {
		t.Fatalf("CreateSecureDir() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		t.Fatalf("Directory was not created: %v", err)
	}
	if info.Mode().Perm() != PermStateDir {
		t.Errorf("Directory permissions = %04o, want %04o", info.Mode().Perm(), PermStateDir)
	}

	// Existing directories get their mode corrected.
	if err := os.Chmod(path, 0777); err != nil {
		t.Fatalf("Chmod failed: %v", err)
	}
	if err := CreateSecureDir(path, PermStateDir); err != nil {
		t.Fatalf("CreateSecureDir() second call error = %v", err)
	}
	info, _ = os.Stat(path)
	if info.Mode().Perm() != PermStateDir {
		t.Errorf("Expected permissions fixed to %04o, got %04o", PermStateDir, info.Mode().Perm())
	}
}

func TestModeChecks(t *testing.T) {
	tests := []struct {
		perm         os.FileMode
		wantReadable bool
		wantWritable bool
	}{
		{0600, false, false},
		{0640, false, false},
		{0644, true, false},
		{0666, true, true},
		{0602, false, true},
	}

	for _, tt := range tests {
		if got := IsWorldReadable(tt.perm); got != tt.wantReadable {
			t.Errorf("IsWorldReadable(%04o) = %v, want %v", tt.perm, got, tt.wantReadable)
		}
		if got := IsWorldWritable(tt.perm); got != tt.wantWritable {
			t.Errorf("IsWorldWritable(%04o) = %v, want %v", tt.perm, got, tt.wantWritable)
		}
	}
}

func TestValidatePolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boundaries.yaml")
	if err := os.WriteFile(path, []byte("actors: {}\n"), 0644); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}

	if err := ValidatePolicyFile(path); err != nil {
		t.Errorf("Expected 0644 policy to be accepted, got %v", err)
	}

	if err := os.Chmod(path, 0666); err != nil {
		t.Fatalf("Chmod failed: %v", err)
	}
	if err := ValidatePolicyFile(path); err == nil {
		t.Error("Expected world-writable policy to be rejected")
	}

	if err := ValidatePolicyFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestValidateArtifactPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.sql.gz")
	if err := os.WriteFile(path, []byte("x"), 0600); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		t.Fatalf("Chmod failed: %v", err)
	}
	if err := ValidateArtifactPermissions(path); err != nil {
		t.Errorf("Expected 0600 artifact to pass, got %v", err)
	}

	if err := os.Chmod(path, 0644); err != nil {
		t.Fatalf("Chmod failed: %v", err)
	}
	if err := ValidateArtifactPermissions(path); err == nil {
		t.Error("Expected world-readable artifact to be reported")
	}
}
