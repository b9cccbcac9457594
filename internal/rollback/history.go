package rollback

import (
	"encoding/json"
	"fmt"
	"os"

	"opsgate/internal/security"
	"opsgate/pkg/fileutil"
)

// DefaultHistoryLimit is the number of records kept.
const DefaultHistoryLimit = 50

// History is the JSON array at logs/rollback-history.json, newest last.
type History struct {
	path  string
	limit int
}

// NewHistory creates a history capped at limit records.
func NewHistory(path string, limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{path: path, limit: limit}
}

// Load returns the stored records. A missing file reads as empty.
func (h *History) Load() ([]Record, error) {
	data, err := os.ReadFile(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read rollback history: %w", err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse rollback history: %w", err)
	}
	return records, nil
}

// Append adds rec and evicts the oldest records beyond the limit. A corrupt
// history is replaced.
func (h *History) Append(rec Record) error {
	records, err := h.Load()
	if err != nil {
		records = nil
	}
	records = append(records, rec)
	if len(records) > h.limit {
		records = records[len(records)-h.limit:]
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode rollback history: %w", err)
	}
	return fileutil.WriteFileAtomic(h.path, append(data, '\n'), security.PermStateFile)
}
