package history

import "time"

// Deployment is one indexed deployment attempt. The JSON lines log stays
// the audit trail; this table serves status queries.
type Deployment struct {
	ID              int64      `json:"id"`
	Environment     string     `json:"environment"`
	Branch          string     `json:"branch"`
	Status          string     `json:"status"` // SUCCESS, FAILED, ERROR
	User            string     `json:"user"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds *float64   `json:"duration_seconds,omitempty"`
	CommitHash      *string    `json:"commit_hash,omitempty"`
	BackupPath      *string    `json:"backup_path,omitempty"`
	Reason          *string    `json:"reason,omitempty"`
}

// EnvironmentStatus is the latest state of one environment.
type EnvironmentStatus struct {
	Environment      string       `json:"environment"`
	LatestDeployment *Deployment  `json:"latest_deployment,omitempty"`
	RecentHistory    []Deployment `json:"recent_history"`
}
