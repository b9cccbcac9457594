package environment

import "path/filepath"

// StatePaths locates the files of the state tree.
type StatePaths struct {
	Root             string
	EmergencyStop    string
	Boundaries       string
	DeploymentMode   string
	OrchestrationLog string
	DeploymentsLog   string
	RollbackHistory  string
	BackupHistory    string
	BoundaryErrors   string
	CommitsLog       string
	HistoryDB        string
}

// NewStatePaths lays out the state tree under root.
func NewStatePaths(root string) StatePaths {
	control := filepath.Join(root, "control")
	status := filepath.Join(root, "status")
	logs := filepath.Join(root, "logs")

	return StatePaths{
		Root:             root,
		EmergencyStop:    filepath.Join(control, "emergency-stop.flag"),
		Boundaries:       filepath.Join(control, "boundaries.yaml"),
		DeploymentMode:   filepath.Join(status, "deployment_mode.json"),
		OrchestrationLog: filepath.Join(logs, "orchestration.log"),
		DeploymentsLog:   filepath.Join(logs, "deployments.log"),
		RollbackHistory:  filepath.Join(logs, "rollback-history.json"),
		BackupHistory:    filepath.Join(logs, "backup-history.json"),
		BoundaryErrors:   filepath.Join(logs, "boundary-errors.log"),
		CommitsLog:       filepath.Join(logs, "commits.log"),
		HistoryDB:        filepath.Join(root, "history.db"),
	}
}

// Paths returns the state tree of the configuration.
func (c *Config) Paths() StatePaths {
	return NewStatePaths(c.StateDir)
}
