package repository

import (
	"context"
	"sync"
	"time"

	"github.com/umbrellaops/umbrella/internal/domain"
)

// ProjectCache is a read-through cache over a ProjectRepository. Single-record
// reads are served from cache within the TTL; every write invalidates the
// cached record before hitting the store. List queries always read through.
type ProjectCache struct {
	inner ProjectRepository
	ttl   time.Duration
	now   func() time.Time

	mu      sync.RWMutex
	entries map[string]cachedProject
}

type cachedProject struct {
	project domain.Project
	loaded  time.Time
}

// NewProjectCache wraps a repository with a TTL cache. A non-positive TTL
// disables caching and returns the repository unchanged.
func NewProjectCache(inner ProjectRepository, ttl time.Duration) ProjectRepository {
	if ttl <= 0 {
		return inner
	}
	return &ProjectCache{
		inner:   inner,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cachedProject),
	}
}

func (c *ProjectCache) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	c.mu.RLock()
	entry, ok := c.entries[projectID]
	c.mu.RUnlock()
	if ok && c.now().Sub(entry.loaded) < c.ttl {
		copied := entry.project
		return &copied, nil
	}

	project, err := c.inner.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.entries[projectID] = cachedProject{project: *project, loaded: c.now()}
	c.mu.Unlock()
	copied := *project
	return &copied, nil
}

func (c *ProjectCache) ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error) {
	return c.inner.ListProjectsByOwner(ctx, ownerID)
}

func (c *ProjectCache) ListMonitoredProjects(ctx context.Context) ([]domain.Project, error) {
	return c.inner.ListMonitoredProjects(ctx)
}

func (c *ProjectCache) UpdateMonitoringStatus(ctx context.Context, update domain.MonitoringUpdate) error {
	c.invalidate(update.ProjectID)
	return c.inner.UpdateMonitoringStatus(ctx, update)
}

func (c *ProjectCache) UpdateDeploymentState(ctx context.Context, update domain.ProjectDeploymentUpdate) error {
	c.invalidate(update.ProjectID)
	return c.inner.UpdateDeploymentState(ctx, update)
}

func (c *ProjectCache) UpsertNotificationChannels(ctx context.Context, projectID string, sealed []byte) error {
	c.invalidate(projectID)
	return c.inner.UpsertNotificationChannels(ctx, projectID, sealed)
}

func (c *ProjectCache) invalidate(projectID string) {
	c.mu.Lock()
	delete(c.entries, projectID)
	c.mu.Unlock()
}
