package security

import (
	"fmt"
	"os"
)

const (
	// PermStateDir is for directories of the state tree and backup dir.
	PermStateDir os.FileMode = 0750

	// PermStateFile is for logs and flag files.
	PermStateFile os.FileMode = 0640

	// PermBackupFile is for backup artifacts, which may hold database contents.
	PermBackupFile os.FileMode = 0600

	// PermHookScript is for installed git hooks.
	PermHookScript os.FileMode = 0755
)

// CreateSecureFile creates a new file with the given permissions, bypassing
// the umask. An existing file is truncated.
func CreateSecureFile(path string, perm os.FileMode) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return nil, fmt.Errorf("failed to create secure file: %w", err)
	}

	if err := os.Chmod(path, perm); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to set file permissions: %w", err)
	}

	return file, nil
}

// CreateSecureDir creates a directory (and parents) and sets its permissions.
func CreateSecureDir(path string, perm os.FileMode) error {
	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("failed to create secure directory: %w", err)
	}

	if err := os.Chmod(path, perm); err != nil {
		return fmt.Errorf("failed to set directory permissions: %w", err)
	}

	return nil
}

// IsWorldWritable checks if a mode is writable by others.
func IsWorldWritable(perm os.FileMode) bool {
	return perm&0002 != 0
}

// IsWorldReadable checks if a mode is readable by others.
func IsWorldReadable(perm os.FileMode) bool {
	return perm&0004 != 0
}

// ValidatePolicyFile rejects control files anyone can rewrite. A world
// writable boundary policy or hook could silently widen access.
func ValidatePolicyFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	if perm := info.Mode().Perm(); IsWorldWritable(perm) {
		return fmt.Errorf("file %s is world-writable (%04o)", path, perm)
	}

	return nil
}

// ValidateArtifactPermissions reports backup artifacts readable by others.
func ValidateArtifactPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	perm := info.Mode().Perm()
	if IsWorldReadable(perm) || IsWorldWritable(perm) {
		return fmt.Errorf("backup %s is accessible by others (%04o)", path, perm)
	}

	return nil
}
