// Package deploy orchestrates project deployments across backends.
package deploy

import (
	"context"

	"github.com/umbrellaops/umbrella/internal/domain"
)

// Backend executes deployment commands for one method.
type Backend interface {
	// Deploy builds and starts the project at the requested version.
	Deploy(ctx context.Context, project domain.Project, attempt domain.DeploymentAttempt) error
	// Restart restarts the running process without changing versions.
	Restart(ctx context.Context, project domain.Project) error
	// Logs returns the most recent lines of runtime output.
	Logs(ctx context.Context, project domain.Project, tail int) (string, error)
}
