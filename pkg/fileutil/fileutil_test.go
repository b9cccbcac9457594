package fileutil

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestSearchPaths(t *testing.T) {
	tmpDir := t.TempDir()

	file1 := filepath.Join(tmpDir, "file1.txt")
	file2 := filepath.Join(tmpDir, "file2.txt")
	if err := os.WriteFile(file1, []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	tests := []struct {
		name    string
		paths   []string
		want    string
		wantErr bool
	}{
		{"finds first existing file", []string{file2, file1}, file1, false},
		{"returns error when no files exist", []string{file2}, "", true},
		{"handles empty path list", []string{}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SearchPaths(tt.paths)
			if (err != nil) != tt.wantErr {
				t.Errorf("SearchPaths() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("SearchPaths() = %v, want %v", got, tt.want)
			}
			if SearchPathsOptional(tt.paths) != tt.want {
				t.Errorf("SearchPathsOptional() disagrees with SearchPaths()")
			}
		})
	}
}

func TestDefaultConfigPaths(t *testing.T) {
	paths := DefaultConfigPaths("opsgate.yaml")

	if len(paths) != 3 {
		t.Fatalf("DefaultConfigPaths() returned %d paths, want 3", len(paths))
	}
	for i, path := range paths {
		if !strings.HasSuffix(path, "opsgate.yaml") {
			t.Errorf("DefaultConfigPaths()[%d] = %v, should end with 'opsgate.yaml'", i, path)
		}
	}
	if !strings.HasPrefix(paths[2], SystemConfigDir) {
		t.Errorf("DefaultConfigPaths()[2] should start with %s, got %v", SystemConfigDir, paths[2])
	}
}

func TestFindConfig_Explicit(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "custom.yaml")
	if err := os.WriteFile(configFile, []byte("environments: {}"), 0644); err != nil {
		t.Fatalf("Failed to create config file: %v", err)
	}

	found, err := FindConfig(configFile, "opsgate.yaml")
	if err != nil {
		t.Fatalf("FindConfig() error = %v", err)
	}
	if found != configFile {
		t.Errorf("FindConfig() = %v, want %v", found, configFile)
	}

	if _, err := FindConfig(filepath.Join(tmpDir, "missing.yaml"), "opsgate.yaml"); err == nil {
		t.Error("FindConfig() should fail for a missing explicit path")
	}
}

func TestExistenceHelpers(t *testing.T) {
	tmpDir := t.TempDir()

	testFile := filepath.Join(tmpDir, "test.txt")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	testDir := filepath.Join(tmpDir, "testdir")
	if err := os.Mkdir(testDir, 0755); err != nil {
		t.Fatalf("Failed to create test directory: %v", err)
	}
	missing := filepath.Join(tmpDir, "nonexistent")

	tests := []struct {
		name     string
		path     string
		wantFile bool
		wantDir  bool
		wantPath bool
	}{
		{"file", testFile, true, false, true},
		{"directory", testDir, false, true, true},
		{"missing", missing, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FileExists(tt.path); got != tt.wantFile {
				t.Errorf("FileExists() = %v, want %v", got, tt.wantFile)
			}
			if got := DirExists(tt.path); got != tt.wantDir {
				t.Errorf("DirExists() = %v, want %v", got, tt.wantDir)
			}
			if got := PathExists(tt.path); got != tt.wantPath {
				t.Errorf("PathExists() = %v, want %v", got, tt.wantPath)
			}
		})
	}
}

func TestWriteFileAtomic(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "status", "deployment_mode.json")

	if err := WriteFileAtomic(path, []byte(`{"enabled":true}`), 0600); err != nil {
		t.Fatalf("WriteFileAtomic() error = %v", err)
	}
	if err := WriteFileAtomic(path, []byte(`{"enabled":false}`), 0600); err != nil {
		t.Fatalf("WriteFileAtomic() overwrite error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if string(data) != `{"enabled":false}` {
		t.Errorf("Expected overwritten content, got %q", data)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected mode 0600, got %o", info.Mode().Perm())
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected no leftover temp files, found %d entries", len(entries))
	}
}

func TestAppendLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "orchestration.log")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := AppendLine(path, "[2026-01-01T00:00:00Z] [INFO] line"); err != nil {
				t.Errorf("AppendLine() error = %v", err)
			}
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 20 {
		t.Fatalf("Expected 20 lines, got %d", len(lines))
	}
	for _, line := range lines {
		if line != "[2026-01-01T00:00:00Z] [INFO] line" {
			t.Errorf("Interleaved line: %q", line)
		}
	}
}

func TestRemoveIfExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "emergency-stop.flag")
	if err := RemoveIfExists(path); err != nil {
		t.Errorf("RemoveIfExists() on missing file error = %v", err)
	}
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}
	if err := RemoveIfExists(path); err != nil {
		t.Errorf("RemoveIfExists() error = %v", err)
	}
	if PathExists(path) {
		t.Error("Expected file to be removed")
	}
}
