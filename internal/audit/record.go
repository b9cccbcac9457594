// Package audit holds the append-only logs of the state tree.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"opsgate/pkg/fileutil"
)

// Status is the final outcome of a deployment attempt.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	StatusError   Status = "ERROR"
)

// DeploymentRecord is one line of logs/deployments.log.
type DeploymentRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	Environment string    `json:"environment"`
	Status      Status    `json:"status"`
	Backup      *string   `json:"backup"`
	User        string    `json:"user"`
	Reason      string    `json:"reason,omitempty"`
}

// BackupPath returns the referenced backup or "".
func (r DeploymentRecord) BackupPath() string {
	if r.Backup == nil {
		return ""
	}
	return *r.Backup
}

// DeploymentLog appends records as JSON lines. Records are never rewritten.
type DeploymentLog struct {
	path string
}

// NewDeploymentLog creates a log writing to path.
func NewDeploymentLog(path string) *DeploymentLog {
	return &DeploymentLog{path: path}
}

// Path returns the log file location.
func (l *DeploymentLog) Path() string {
	return l.path
}

// Append writes one record.
func (l *DeploymentLog) Append(rec DeploymentRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode deployment record: %w", err)
	}
	return fileutil.AppendLine(l.path, string(data))
}

// Read returns all records in file order. Lines that fail to decode are
// skipped; a missing log reads as empty.
func (l *DeploymentLog) Read() ([]DeploymentRecord, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open deployment log: %w", err)
	}
	defer f.Close()

	var records []DeploymentRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec DeploymentRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read deployment log: %w", err)
	}
	return records, nil
}

// ReferencedBackups returns the backup paths referenced by records newer
// than since.
func (l *DeploymentLog) ReferencedBackups(since time.Time) (map[string]bool, error) {
	records, err := l.Read()
	if err != nil {
		return nil, err
	}
	refs := make(map[string]bool)
	for _, rec := range records {
		if rec.Backup != nil && rec.Timestamp.After(since) {
			refs[*rec.Backup] = true
		}
	}
	return refs, nil
}
