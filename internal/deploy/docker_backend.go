package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/umbrellaops/umbrella/internal/docker"
	"github.com/umbrellaops/umbrella/internal/domain"
)

// DockerBackend deploys projects as containers via the Docker daemon. The
// image tag and container name are both the project slug.
type DockerBackend struct {
	client       *docker.Client
	projectsPath string
	logger       *slog.Logger
}

// NewDockerBackend builds a backend over an established Docker client.
func NewDockerBackend(client *docker.Client, projectsPath string, logger *slog.Logger) *DockerBackend {
	return &DockerBackend{client: client, projectsPath: projectsPath, logger: logger}
}

func (b *DockerBackend) Deploy(ctx context.Context, project domain.Project, attempt domain.DeploymentAttempt) error {
	dir := b.sourceDir(project)
	tag := project.Slug

	log := b.logger.With("project_id", project.ID, "deployment_id", attempt.ID)
	if err := b.client.BuildImage(ctx, dir, tag, nil, func(line string) {
		log.Debug("image build", "output", line)
	}); err != nil {
		return fmt.Errorf("build image %s: %w", tag, err)
	}

	// Replace the previous container before starting the new one.
	if err := b.client.RemoveContainer(ctx, project.Slug); err != nil {
		return fmt.Errorf("remove old container: %w", err)
	}
	if _, err := b.client.RunContainer(ctx, project.Slug, tag, nil, nil); err != nil {
		return fmt.Errorf("start container %s: %w", project.Slug, err)
	}
	return nil
}

func (b *DockerBackend) Restart(ctx context.Context, project domain.Project) error {
	if err := b.client.RestartContainer(ctx, project.Slug); err != nil {
		return fmt.Errorf("restart container %s: %w", project.Slug, err)
	}
	return nil
}

func (b *DockerBackend) Logs(ctx context.Context, project domain.Project, tail int) (string, error) {
	return b.client.ContainerLogs(ctx, project.Slug, tail)
}

func (b *DockerBackend) sourceDir(project domain.Project) string {
	if project.Deployment.SourcePath != "" {
		return project.Deployment.SourcePath
	}
	return filepath.Join(b.projectsPath, project.Slug)
}
