// Package backup creates, validates, restores and expires backup artifacts.
package backup

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"opsgate/internal/audit"
	"opsgate/internal/environment"
	"opsgate/internal/security"
	"opsgate/pkg/glob"
)

// checksumChunk is the read size used while hashing.
const checksumChunk = 64 * 1024

// DefaultExcludeDirs are never archived, at any depth.
var DefaultExcludeDirs = []string{".git", "node_modules", "__pycache__", ".cache", "venv"}

// Options configures a Manager.
type Options struct {
	ProjectRoot string
	StateDir    string
	Config      environment.BackupConfig
	// HistoryPath is logs/backup-history.json.
	HistoryPath string
	// Deployments protects referenced artifacts from cleanup. May be nil.
	Deployments *audit.DeploymentLog
	// Dumper produces database dumps. Defaults to pg_dump.
	Dumper Dumper
	Now    func() time.Time
	Logger *slog.Logger
}

// Manager owns the backup directory.
type Manager struct {
	opts    Options
	exclude []glob.Pattern
	history *History
}

// CleanupResult lists what Cleanup did.
type CleanupResult struct {
	Removed []string
	// Referenced are expired artifacts kept because a recent deployment
	// record points at them.
	Referenced []string
}

// NewManager creates a manager.
func NewManager(opts Options) (*Manager, error) {
	exclude, err := glob.CompileAll(opts.Config.Exclude)
	if err != nil {
		return nil, fmt.Errorf("invalid backup exclude: %w", err)
	}
	if opts.Dumper == nil {
		opts.Dumper = &PgDumper{DatabaseURL: opts.Config.DatabaseURL, Timeout: opts.Config.PgDumpTimeout()}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{opts: opts, exclude: exclude, history: NewHistory(opts.HistoryPath)}, nil
}

// Dir returns the backup directory.
func (m *Manager) Dir() string {
	return m.opts.Config.Dir
}

// Create backs up env according to its backup kind. It returns nil, nil
// when backups are disabled for env.
func (m *Manager) Create(ctx context.Context, env *environment.Environment) (*Artifact, error) {
	if !env.BackupEnabled {
		return nil, nil
	}
	kind := env.BackupKind
	if kind == "" {
		kind = environment.BackupFiles
	}
	return m.CreateKind(ctx, env.Name, kind)
}

// CreateKind writes a new artifact of the given kind, validates it and
// records it in the history.
func (m *Manager) CreateKind(ctx context.Context, envName, kind string) (*Artifact, error) {
	if kind != environment.BackupFiles && kind != environment.BackupDatabase {
		return nil, fmt.Errorf("unknown backup kind: %s", kind)
	}
	if err := security.CreateSecureDir(m.Dir(), security.PermStateDir); err != nil {
		return nil, err
	}

	now := m.opts.Now().UTC()
	id := uuid.NewString()
	compressed := m.opts.Config.CompressEnabled()
	name := fmt.Sprintf("%s_%s_%s_%s%s", envName, kind, now.Format(nameTimeLayout), id[:8], extension(kind, compressed))
	path := filepath.Join(m.Dir(), name)

	if err := m.write(ctx, path, kind, compressed); err != nil {
		return nil, err
	}

	checksum, err := Checksum(path)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat backup: %w", err)
	}

	artifact := &Artifact{
		ID:          id,
		Environment: envName,
		Path:        path,
		Checksum:    checksum,
		Size:        info.Size(),
		Kind:        kind,
		Compressed:  compressed,
		CreatedAt:   now,
	}
	if err := m.Validate(artifact); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("backup failed validation: %w", err)
	}

	cutoff, keep := m.historyWindow()
	if err := m.history.Append(*artifact, cutoff, keep); err != nil {
		m.opts.Logger.Warn("failed to update backup history", "error", err)
	}
	m.opts.Logger.Info("backup created", "environment", envName, "kind", kind,
		"path", path, "size", artifact.Size, "checksum", checksum)
	return artifact, nil
}

// historyWindow returns the retention cutoff for history entries and the
// paths still referenced by deployments inside it. The cutoff is zero when
// retention is unset or the deployment log cannot be read.
func (m *Manager) historyWindow() (time.Time, map[string]bool) {
	if m.opts.Config.RetentionDays <= 0 {
		return time.Time{}, nil
	}
	cutoff := m.cutoff(m.opts.Config.RetentionDays)
	if m.opts.Deployments == nil {
		return cutoff, nil
	}
	refs, err := m.opts.Deployments.ReferencedBackups(cutoff)
	if err != nil {
		m.opts.Logger.Warn("deployment log unreadable, keeping backup history", "error", err)
		return time.Time{}, nil
	}
	return cutoff, refs
}

// write produces the artifact through a temp file renamed into place.
func (m *Manager) write(ctx context.Context, path, kind string, compressed bool) (err error) {
	tmpPath := path + ".tmp"
	f, err := security.CreateSecureFile(tmpPath, security.PermBackupFile)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmpPath)
		}
	}()

	var w io.Writer = f
	var gz *gzip.Writer
	if compressed {
		gz = gzip.NewWriter(f)
		w = gz
	}

	switch kind {
	case environment.BackupFiles:
		var n int
		n, err = writeTar(w, m.opts.ProjectRoot, m.skip)
		if err != nil {
			return fmt.Errorf("failed to archive project: %w", err)
		}
		m.opts.Logger.Debug("archived project", "files", n)
	case environment.BackupDatabase:
		if err = m.opts.Dumper.Dump(ctx, w); err != nil {
			return err
		}
	}

	if gz != nil {
		if err = gz.Close(); err != nil {
			return fmt.Errorf("failed to finish compression: %w", err)
		}
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("failed to sync backup: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("failed to close backup: %w", err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to move backup into place: %w", err)
	}
	return nil
}

// skip leaves out dependency caches, VCS metadata, the state tree, the
// backup dir and configured patterns.
func (m *Manager) skip(rel string, isDir bool) bool {
	for _, seg := range strings.Split(rel, "/") {
		for _, name := range DefaultExcludeDirs {
			if seg == name {
				return true
			}
		}
	}

	for _, dir := range []string{m.opts.StateDir, m.Dir()} {
		if dir == "" {
			continue
		}
		inside, err := security.RelativeTo(m.opts.ProjectRoot, dir)
		if err != nil || inside == "." {
			continue
		}
		if rel == inside || strings.HasPrefix(rel, inside+"/") {
			return true
		}
	}

	for _, p := range m.exclude {
		if p.Match(rel) {
			return true
		}
	}
	return false
}

// Validate checks that an artifact exists, is not empty, matches its
// recorded checksum and that its content can be read.
func (m *Manager) Validate(a *Artifact) error {
	info, err := os.Stat(a.Path)
	if err != nil {
		return fmt.Errorf("backup not found: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("backup is empty: %s", a.Path)
	}

	if a.Checksum != "" {
		sum, err := Checksum(a.Path)
		if err != nil {
			return err
		}
		if sum != a.Checksum {
			return fmt.Errorf("checksum mismatch for %s: expected %s, got %s", a.Path, a.Checksum, sum)
		}
	}

	f, err := os.Open(a.Path)
	if err != nil {
		return fmt.Errorf("failed to open backup: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if a.Compressed {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("backup is not a valid gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	if a.Kind == environment.BackupFiles {
		if _, err := tar.NewReader(r).Next(); err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("archive is empty: %s", a.Path)
			}
			return fmt.Errorf("archive unreadable: %w", err)
		}
		return nil
	}

	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return fmt.Errorf("dump unreadable: %w", err)
	}
	return nil
}

// Checksum returns the hex SHA-256 of a file, read in 64 KiB chunks.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.CopyBuffer(h, f, make([]byte, checksumChunk)); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Restore extracts a files backup into dest and returns the number of
// files written.
func (m *Manager) Restore(a *Artifact, dest string) (int, error) {
	if a.Kind != environment.BackupFiles {
		return 0, fmt.Errorf("cannot restore %s backup %s into a directory", a.Kind, a.Path)
	}
	if err := m.Validate(a); err != nil {
		return 0, err
	}

	f, err := os.Open(a.Path)
	if err != nil {
		return 0, fmt.Errorf("failed to open backup: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if a.Compressed {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return 0, fmt.Errorf("backup is not a valid gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	n, err := extractTar(r, dest)
	if err != nil {
		return n, err
	}
	m.opts.Logger.Info("backup restored", "path", a.Path, "dest", dest, "files", n)
	return n, nil
}

// Lookup finds the artifact for path in the history, or describes it from
// its file name when it is not recorded.
func (m *Manager) Lookup(path string) (*Artifact, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	entries, err := m.history.Load()
	if err != nil {
		m.opts.Logger.Warn("backup history unreadable", "error", err)
	}
	for _, e := range entries {
		if e.Path == abs {
			a := e
			return &a, nil
		}
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("backup not found: %w", err)
	}
	return inferArtifact(abs, info)
}

// Status lists existing artifacts, newest first. An empty env lists all.
func (m *Manager) Status(env string) ([]Artifact, error) {
	entries, err := m.history.Load()
	if err != nil {
		return nil, err
	}

	var out []Artifact
	for _, e := range entries {
		if env != "" && e.Environment != env {
			continue
		}
		if _, err := os.Stat(e.Path); err != nil {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Cleanup deletes artifacts older than retentionDays unless a deployment
// record inside the retention window references them.
func (m *Manager) Cleanup(retentionDays int) (*CleanupResult, error) {
	if retentionDays <= 0 {
		retentionDays = m.opts.Config.RetentionDays
	}
	cutoff := m.cutoff(retentionDays)
	result := &CleanupResult{}

	referenced := map[string]bool{}
	if m.opts.Deployments != nil {
		refs, err := m.opts.Deployments.ReferencedBackups(cutoff)
		if err != nil {
			return nil, err
		}
		referenced = refs
	}

	entries, historyErr := m.history.Load()
	if historyErr != nil {
		m.opts.Logger.Warn("backup history unreadable, using file times", "error", historyErr)
	}
	created := make(map[string]time.Time, len(entries))
	for _, e := range entries {
		created[e.Path] = e.CreatedAt
	}

	files, err := os.ReadDir(m.Dir())
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, fmt.Errorf("failed to read backup dir: %w", err)
	}

	for _, f := range files {
		if f.IsDir() {
			continue
		}
		path := filepath.Join(m.Dir(), f.Name())
		info, err := f.Info()
		if err != nil {
			continue
		}
		// Only files named like artifacts are candidates.
		inferred, err := inferArtifact(path, info)
		if err != nil {
			continue
		}
		when, ok := created[path]
		if !ok {
			when = inferred.CreatedAt
		}
		if !when.Before(cutoff) {
			continue
		}
		if referenced[path] {
			result.Referenced = append(result.Referenced, path)
			continue
		}
		if err := os.Remove(path); err != nil {
			return result, fmt.Errorf("failed to remove %s: %w", path, err)
		}
		result.Removed = append(result.Removed, path)
		m.opts.Logger.Info("backup expired", "path", path)
	}

	if historyErr != nil {
		return result, nil
	}
	var remaining []Artifact
	for _, e := range entries {
		if _, err := os.Stat(e.Path); err == nil {
			remaining = append(remaining, e)
		}
	}
	if err := m.history.Save(remaining); err != nil {
		return result, err
	}
	return result, nil
}

func (m *Manager) cutoff(retentionDays int) time.Time {
	return m.opts.Now().UTC().AddDate(0, 0, -retentionDays)
}
