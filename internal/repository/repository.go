package repository

import (
	"context"

	"github.com/umbrellaops/umbrella/internal/domain"
)

// ProjectRepository persists project configuration and observed state.
// Monitoring and deployment sub-fields are disjoint and each update is a
// single atomic statement so racing writers cannot lose each other's fields.
type ProjectRepository interface {
	GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
	ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error)
	ListMonitoredProjects(ctx context.Context) ([]domain.Project, error)
	UpdateMonitoringStatus(ctx context.Context, update domain.MonitoringUpdate) error
	UpdateDeploymentState(ctx context.Context, update domain.ProjectDeploymentUpdate) error
	UpsertNotificationChannels(ctx context.Context, projectID string, sealed []byte) error
}

// AttemptRepository stores deployment attempt history.
type AttemptRepository interface {
	CreateAttempt(ctx context.Context, attempt *domain.DeploymentAttempt) error
	// TransitionAttempt applies the update only while the attempt is still
	// non-terminal; returns ErrInvalidTransition otherwise.
	TransitionAttempt(ctx context.Context, update domain.AttemptStatusUpdate) error
	GetAttemptByID(ctx context.Context, attemptID string) (*domain.DeploymentAttempt, error)
	ListAttemptsByProject(ctx context.Context, projectID string, limit int) ([]domain.DeploymentAttempt, error)
	GetInProgressAttempt(ctx context.Context, projectID string) (*domain.DeploymentAttempt, error)
	GetLastCompletedBefore(ctx context.Context, projectID string, attemptID string) (*domain.DeploymentAttempt, error)
}

// MemberRepository answers project authorization questions. Account and
// session management live in the external auth service; this subsystem only
// consults membership grants.
type MemberRepository interface {
	HasProjectPermission(ctx context.Context, projectID, userID, permission string) (bool, error)
}
