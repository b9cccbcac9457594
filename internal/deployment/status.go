package deployment

import (
	"context"
	"fmt"

	"opsgate/internal/audit"
	"opsgate/internal/gate"
	"opsgate/internal/history"
)

// recentLimit is the number of deployments listed per environment.
const recentLimit = 5

// ModeStatus reports the deployment-mode gate.
type ModeStatus interface {
	Status() (*gate.Status, error)
}

// StopFlag reports the emergency stop.
type StopFlag interface {
	EmergencyStopActive() bool
}

// Overview is the combined state shown by `deploy status` and the status
// server.
type Overview struct {
	DeploymentMode *gate.Status                 `json:"deployment_mode"`
	EmergencyStop  bool                         `json:"emergency_stop"`
	Environments   []*history.EnvironmentStatus `json:"environments"`
}

// Status collects recent deployments of every configured environment and
// the gate state. Without a history index the deployment log is read.
func (o *Orchestrator) Status(ctx context.Context) (*Overview, error) {
	overview := &Overview{}

	if o.opts.Mode != nil {
		mode, err := o.opts.Mode.Status()
		if err != nil {
			return nil, fmt.Errorf("failed to read deployment mode: %w", err)
		}
		overview.DeploymentMode = mode
	}
	if o.opts.Stop != nil {
		overview.EmergencyStop = o.opts.Stop.EmergencyStopActive()
	}

	var names []string
	if o.opts.Envs != nil {
		names = o.opts.Envs.List()
	}

	var fromLog []audit.DeploymentRecord
	if o.opts.History == nil && o.opts.Deployments != nil {
		records, err := o.opts.Deployments.Read()
		if err != nil {
			return nil, err
		}
		fromLog = records
	}

	for _, name := range names {
		var status *history.EnvironmentStatus
		if o.opts.History != nil {
			s, err := o.opts.History.GetEnvironmentStatus(ctx, name, recentLimit)
			if err != nil {
				return nil, err
			}
			status = s
		} else {
			status = statusFromLog(name, fromLog)
		}
		overview.Environments = append(overview.Environments, status)
	}
	return overview, nil
}

// statusFromLog builds an environment status from log records, newest first.
func statusFromLog(env string, records []audit.DeploymentRecord) *history.EnvironmentStatus {
	status := &history.EnvironmentStatus{Environment: env, RecentHistory: []history.Deployment{}}
	for i := len(records) - 1; i >= 0 && len(status.RecentHistory) < recentLimit; i-- {
		rec := records[i]
		if rec.Environment != env {
			continue
		}
		completed := rec.Timestamp
		d := history.Deployment{
			Environment: rec.Environment,
			Status:      string(rec.Status),
			User:        rec.User,
			StartedAt:   rec.Timestamp,
			CompletedAt: &completed,
			BackupPath:  rec.Backup,
		}
		if rec.Reason != "" {
			reason := rec.Reason
			d.Reason = &reason
		}
		status.RecentHistory = append(status.RecentHistory, d)
	}
	if len(status.RecentHistory) > 0 {
		latest := status.RecentHistory[0]
		status.LatestDeployment = &latest
	}
	return status
}
