package deploy

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/umbrellaops/umbrella/internal/domain"
	"github.com/umbrellaops/umbrella/internal/execx"
)

// PM2Backend manages node processes through the pm2 process manager.
type PM2Backend struct {
	runner       execx.Runner
	projectsPath string
}

// NewPM2Backend builds a backend over a command runner.
func NewPM2Backend(runner execx.Runner, projectsPath string) *PM2Backend {
	return &PM2Backend{runner: runner, projectsPath: projectsPath}
}

// Deploy restarts the managed process, starting it fresh when pm2 does not
// know it yet.
func (b *PM2Backend) Deploy(ctx context.Context, project domain.Project, _ domain.DeploymentAttempt) error {
	script := fmt.Sprintf("pm2 restart %s || pm2 start npm --name %s -- start", project.Slug, project.Slug)
	result, err := b.runner.Run(ctx, execx.Command{
		Name: "sh",
		Args: []string{"-c", script},
		Dir:  b.sourceDir(project),
	})
	if err != nil {
		return fmt.Errorf("run pm2: %w", err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("pm2 exited with status %d: %s", result.ExitCode, result.Stderr)
	}
	return nil
}

func (b *PM2Backend) Restart(ctx context.Context, project domain.Project) error {
	return b.Deploy(ctx, project, domain.DeploymentAttempt{})
}

func (b *PM2Backend) Logs(ctx context.Context, project domain.Project, tail int) (string, error) {
	if tail <= 0 {
		tail = 100
	}
	result, err := b.runner.Run(ctx, execx.Command{
		Name: "pm2",
		Args: []string{"logs", project.Slug, "--lines", strconv.Itoa(tail), "--nostream"},
	})
	if err != nil {
		return "", fmt.Errorf("run pm2 logs: %w", err)
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("pm2 logs exited with status %d: %s", result.ExitCode, result.Stderr)
	}
	return result.Stdout, nil
}

func (b *PM2Backend) sourceDir(project domain.Project) string {
	if project.Deployment.SourcePath != "" {
		return project.Deployment.SourcePath
	}
	return filepath.Join(b.projectsPath, project.Slug)
}
