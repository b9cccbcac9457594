package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"opsgate/internal/environment"
	"opsgate/internal/security"
	"opsgate/pkg/fileutil"
)

// Artifact describes one backup file. It is never modified after creation.
type Artifact struct {
	ID          string    `json:"id"`
	Environment string    `json:"environment"`
	Path        string    `json:"path"`
	Checksum    string    `json:"checksum"`
	Size        int64     `json:"size"`
	Kind        string    `json:"kind"`
	Compressed  bool      `json:"compressed"`
	CreatedAt   time.Time `json:"created_at"`
}

// nameTimeLayout is the timestamp field of an artifact file name.
const nameTimeLayout = "20060102T150405Z"

// extension returns the file suffix for a kind.
func extension(kind string, compressed bool) string {
	ext := ".tar"
	if kind == environment.BackupDatabase {
		ext = ".sql"
	}
	if compressed {
		ext += ".gz"
	}
	return ext
}

// inferArtifact describes a file that is not in the history from its name,
// <env>_<kind>_<timestamp>_<id><ext>. The creation time comes from the name
// when it carries one, otherwise from the modification time.
func inferArtifact(path string, info os.FileInfo) (*Artifact, error) {
	name := filepath.Base(path)
	a := &Artifact{Path: path, Size: info.Size(), CreatedAt: info.ModTime().UTC()}

	var stem string
	switch {
	case strings.HasSuffix(name, ".tar.gz"):
		a.Kind, a.Compressed = environment.BackupFiles, true
		stem = strings.TrimSuffix(name, ".tar.gz")
	case strings.HasSuffix(name, ".tgz"):
		a.Kind, a.Compressed = environment.BackupFiles, true
		stem = strings.TrimSuffix(name, ".tgz")
	case strings.HasSuffix(name, ".tar"):
		a.Kind = environment.BackupFiles
		stem = strings.TrimSuffix(name, ".tar")
	case strings.HasSuffix(name, ".sql.gz"):
		a.Kind, a.Compressed = environment.BackupDatabase, true
		stem = strings.TrimSuffix(name, ".sql.gz")
	case strings.HasSuffix(name, ".sql"):
		a.Kind = environment.BackupDatabase
		stem = strings.TrimSuffix(name, ".sql")
	default:
		return nil, fmt.Errorf("unrecognized backup file type: %s", name)
	}

	if env, _, ok := strings.Cut(stem, "_"); ok {
		a.Environment = env
	}
	if fields := strings.Split(stem, "_"); len(fields) >= 4 {
		if ts, err := time.Parse(nameTimeLayout, fields[len(fields)-2]); err == nil {
			a.CreatedAt = ts
		}
	}
	return a, nil
}

// History is the JSON array at logs/backup-history.json.
type History struct {
	path string
}

// NewHistory creates a history stored at path.
func NewHistory(path string) *History {
	return &History{path: path}
}

// Load returns every entry. A missing file reads as empty.
func (h *History) Load() ([]Artifact, error) {
	data, err := os.ReadFile(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup history: %w", err)
	}

	var entries []Artifact
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse backup history: %w", err)
	}
	return entries, nil
}

// Save replaces the history.
func (h *History) Save(entries []Artifact) error {
	if entries == nil {
		entries = []Artifact{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode backup history: %w", err)
	}
	return fileutil.WriteFileAtomic(h.path, append(data, '\n'), security.PermStateFile)
}

// Append adds an entry and drops entries whose file is gone. Entries created
// before cutoff are dropped too unless keep names their path; a zero cutoff
// disables the age filter. Files are never removed here.
func (h *History) Append(a Artifact, cutoff time.Time, keep map[string]bool) error {
	entries, err := h.Load()
	if err != nil {
		return err
	}

	kept := entries[:0]
	for _, e := range entries {
		if !cutoff.IsZero() && e.CreatedAt.Before(cutoff) && !keep[e.Path] {
			continue
		}
		if _, err := os.Stat(e.Path); err == nil {
			kept = append(kept, e)
		}
	}
	return h.Save(append(kept, a))
}
