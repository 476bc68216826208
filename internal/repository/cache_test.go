package repository

import (
	"context"
	"testing"
	"time"

	"github.com/umbrellaops/umbrella/internal/domain"
)

type countingRepo struct {
	gets     int
	projects map[string]domain.Project
}

func (r *countingRepo) GetProjectByID(_ context.Context, projectID string) (*domain.Project, error) {
	r.gets++
	p, ok := r.projects[projectID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := p
	return &copied, nil
}

func (r *countingRepo) ListProjectsByOwner(context.Context, string) ([]domain.Project, error) {
	return nil, nil
}

func (r *countingRepo) ListMonitoredProjects(context.Context) ([]domain.Project, error) {
	return nil, nil
}

func (r *countingRepo) UpdateMonitoringStatus(context.Context, domain.MonitoringUpdate) error {
	return nil
}

func (r *countingRepo) UpdateDeploymentState(context.Context, domain.ProjectDeploymentUpdate) error {
	return nil
}

func (r *countingRepo) UpsertNotificationChannels(context.Context, string, []byte) error {
	return nil
}

func TestProjectCacheServesWithinTTL(t *testing.T) {
	inner := &countingRepo{projects: map[string]domain.Project{"p1": {ID: "p1", Name: "One"}}}
	cache := NewProjectCache(inner, time.Minute).(*ProjectCache)

	base := time.Now()
	cache.now = func() time.Time { return base }

	ctx := context.Background()
	if _, err := cache.GetProjectByID(ctx, "p1"); err != nil {
		t.Fatalf("first get: %v", err)
	}
	if _, err := cache.GetProjectByID(ctx, "p1"); err != nil {
		t.Fatalf("second get: %v", err)
	}
	if inner.gets != 1 {
		t.Fatalf("expected 1 store read, got %d", inner.gets)
	}

	cache.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := cache.GetProjectByID(ctx, "p1"); err != nil {
		t.Fatalf("get after expiry: %v", err)
	}
	if inner.gets != 2 {
		t.Fatalf("expired entry must read through, got %d reads", inner.gets)
	}
}

func TestProjectCacheInvalidatesOnWrite(t *testing.T) {
	inner := &countingRepo{projects: map[string]domain.Project{"p1": {ID: "p1"}}}
	cache := NewProjectCache(inner, time.Minute).(*ProjectCache)
	ctx := context.Background()

	if _, err := cache.GetProjectByID(ctx, "p1"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := cache.UpdateDeploymentState(ctx, domain.ProjectDeploymentUpdate{ProjectID: "p1", Status: domain.DeployCompleted}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := cache.GetProjectByID(ctx, "p1"); err != nil {
		t.Fatalf("get after write: %v", err)
	}
	if inner.gets != 2 {
		t.Fatalf("write must invalidate the cached record, got %d reads", inner.gets)
	}
}

func TestProjectCacheDisabledWithZeroTTL(t *testing.T) {
	inner := &countingRepo{projects: map[string]domain.Project{}}
	wrapped := NewProjectCache(inner, 0)
	if wrapped != ProjectRepository(inner) {
		t.Fatalf("zero TTL must return the inner repository unchanged")
	}
}
