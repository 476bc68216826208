package domain

import "time"

// DeployMethod selects the execution backend for a project.
type DeployMethod string

const (
	MethodDocker DeployMethod = "docker"
	MethodPM2    DeployMethod = "pm2"
	MethodManual DeployMethod = "manual"
)

// DeploymentStatus is the project-level deployment state persisted on the
// project record.
type DeploymentStatus string

const (
	DeployPending    DeploymentStatus = "pending"
	DeployInProgress DeploymentStatus = "in_progress"
	DeployCompleted  DeploymentStatus = "completed"
	DeployFailed     DeploymentStatus = "failed"
)

// DeploymentConfig holds a project's deployment settings and latest outcome.
type DeploymentConfig struct {
	Method         DeployMethod
	Status         DeploymentStatus
	Version        string
	LastDeployedAt *time.Time
	SourcePath     string
	Branch         string
	LastError      string
}

// AttemptState tracks a single deployment attempt through its lifecycle.
type AttemptState string

const (
	AttemptPending    AttemptState = "pending"
	AttemptInProgress AttemptState = "in_progress"
	AttemptCompleted  AttemptState = "completed"
	AttemptFailed     AttemptState = "failed"
	AttemptCancelled  AttemptState = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s AttemptState) Terminal() bool {
	switch s {
	case AttemptCompleted, AttemptFailed, AttemptCancelled:
		return true
	}
	return false
}

// Cancellable reports whether the attempt may still be cancelled.
func (s AttemptState) Cancellable() bool {
	return s == AttemptPending || s == AttemptInProgress
}

// RollbackEligible reports whether the attempt may serve as a rollback target.
func (s AttemptState) RollbackEligible() bool {
	return s == AttemptCompleted || s == AttemptFailed
}

// AttemptTrigger records what initiated an attempt.
type AttemptTrigger string

const (
	TriggerDeploy   AttemptTrigger = "deploy"
	TriggerRestart  AttemptTrigger = "restart"
	TriggerRollback AttemptTrigger = "rollback"
)

// DeploymentAttempt captures one orchestration invocation. Rollbacks are new
// attempts referencing the attempt they revert, never mutations of it.
type DeploymentAttempt struct {
	ID               string
	ProjectID        string
	RequestedVersion string
	Method           DeployMethod
	Trigger          AttemptTrigger
	State            AttemptState
	RolledBackFrom   *string
	Error            string
	RequestedBy      string
	StartedAt        time.Time
	CompletedAt      *time.Time
	UpdatedAt        time.Time
}

// AttemptStatusUpdate captures a state transition for an attempt.
type AttemptStatusUpdate struct {
	AttemptID   string
	State       AttemptState
	Error       string
	CompletedAt *time.Time
}

// ProjectDeploymentUpdate captures the deployment sub-fields the orchestrator
// owns on the project record, applied as one atomic update.
type ProjectDeploymentUpdate struct {
	ProjectID  string
	Status     DeploymentStatus
	Version    string
	Error      string
	DeployedAt *time.Time
}
