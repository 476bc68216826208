package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/umbrellaops/umbrella/internal/domain"
)

// ManualBackend covers projects deployed by hand. Deploying and restarting
// only record the state change; logs are read from the project's logs
// directory.
type ManualBackend struct {
	projectsPath string
	logger       *slog.Logger
}

// NewManualBackend builds the no-op backend.
func NewManualBackend(projectsPath string, logger *slog.Logger) *ManualBackend {
	return &ManualBackend{projectsPath: projectsPath, logger: logger}
}

func (b *ManualBackend) Deploy(_ context.Context, project domain.Project, attempt domain.DeploymentAttempt) error {
	b.logger.Info("manual deployment recorded",
		"project_id", project.ID,
		"deployment_id", attempt.ID,
		"version", attempt.RequestedVersion)
	return nil
}

func (b *ManualBackend) Restart(_ context.Context, project domain.Project) error {
	b.logger.Info("manual restart recorded", "project_id", project.ID)
	return nil
}

// Logs returns the tail of the newest .log file under the project's logs
// directory.
func (b *ManualBackend) Logs(_ context.Context, project domain.Project, tail int) (string, error) {
	dir := filepath.Join(b.projectsPath, project.Slug, "logs")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "No log files found", nil
		}
		return "", fmt.Errorf("read logs directory: %w", err)
	}

	var logFiles []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".log") {
			logFiles = append(logFiles, entry.Name())
		}
	}
	if len(logFiles) == 0 {
		return "No log files found", nil
	}
	sort.Strings(logFiles)
	newest := logFiles[len(logFiles)-1]

	data, err := os.ReadFile(filepath.Join(dir, newest))
	if err != nil {
		return "", fmt.Errorf("read log file: %w", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if tail > 0 && len(lines) > tail {
		lines = lines[len(lines)-tail:]
	}
	return strings.Join(lines, "\n"), nil
}
