package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/umbrellaops/umbrella/internal/domain"
	"github.com/umbrellaops/umbrella/internal/events"
	"github.com/umbrellaops/umbrella/internal/repository"
)

// Service errors surfaced to the route layer.
var (
	ErrPermissionDenied  = errors.New("permission denied")
	ErrDeployInProgress  = errors.New("deployment already in progress")
	ErrInvalidTransition = errors.New("deployment attempt state does not allow this operation")
	ErrNoRollbackTarget  = errors.New("no completed deployment to roll back to")
)

// PermDeploy is the membership grant required for every orchestration
// operation.
const PermDeploy = "deploy"

type inflightAttempt struct {
	attemptID string
	cancel    context.CancelFunc
}

// Service orchestrates deployment attempts. Per-project execution is
// serialized: a second request while an attempt is live is rejected, never
// queued.
type Service struct {
	projects repository.ProjectRepository
	attempts repository.AttemptRepository
	members  repository.MemberRepository
	backends map[domain.DeployMethod]Backend
	events   events.Publisher
	logger   *slog.Logger
	timeout  time.Duration

	mu       sync.Mutex
	inflight map[string]inflightAttempt

	now func() time.Time
	// afterAttempt, when set, is invoked once the async execution settles.
	afterAttempt func(attemptID string)
}

// New builds the orchestrator.
func New(
	projects repository.ProjectRepository,
	attempts repository.AttemptRepository,
	members repository.MemberRepository,
	backends map[domain.DeployMethod]Backend,
	publisher events.Publisher,
	logger *slog.Logger,
	commandTimeout time.Duration,
) *Service {
	if commandTimeout <= 0 {
		commandTimeout = 5 * time.Minute
	}
	return &Service{
		projects: projects,
		attempts: attempts,
		members:  members,
		backends: backends,
		events:   publisher,
		logger:   logger,
		timeout:  commandTimeout,
		inflight: make(map[string]inflightAttempt),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Deploy starts a new deployment attempt for the project. The attempt runs
// asynchronously; the returned value reflects its initial in_progress state.
func (s *Service) Deploy(ctx context.Context, projectID, userID, version string) (*domain.DeploymentAttempt, error) {
	return s.start(ctx, projectID, userID, version, domain.TriggerDeploy, nil)
}

// Restart re-runs the project's process without changing the recorded
// version. It is serialized with deployments on the same project.
func (s *Service) Restart(ctx context.Context, projectID, userID string) (*domain.DeploymentAttempt, error) {
	return s.start(ctx, projectID, userID, "", domain.TriggerRestart, nil)
}

// Rollback starts a new attempt targeting the version of the most recent
// completed attempt before the given one. Only completed or failed attempts
// can be rolled back; the source attempt keeps its terminal record untouched.
func (s *Service) Rollback(ctx context.Context, attemptID, userID string) (*domain.DeploymentAttempt, error) {
	source, err := s.attempts.GetAttemptByID(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("load attempt: %w", err)
	}
	if err := s.authorize(ctx, source.ProjectID, userID); err != nil {
		return nil, err
	}
	if !source.State.RollbackEligible() {
		return nil, ErrInvalidTransition
	}
	target, err := s.attempts.GetLastCompletedBefore(ctx, source.ProjectID, attemptID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoRollbackTarget
		}
		return nil, fmt.Errorf("find rollback target: %w", err)
	}
	return s.start(ctx, source.ProjectID, userID, target.RequestedVersion, domain.TriggerRollback, &attemptID)
}

// Cancel marks a live attempt cancelled and stops its execution. Terminal
// attempts are rejected.
func (s *Service) Cancel(ctx context.Context, attemptID, userID string) error {
	attempt, err := s.attempts.GetAttemptByID(ctx, attemptID)
	if err != nil {
		return fmt.Errorf("load attempt: %w", err)
	}
	if err := s.authorize(ctx, attempt.ProjectID, userID); err != nil {
		return err
	}
	if !attempt.State.Cancellable() {
		return ErrInvalidTransition
	}

	completed := s.now()
	err = s.attempts.TransitionAttempt(ctx, domain.AttemptStatusUpdate{
		AttemptID:   attemptID,
		State:       domain.AttemptCancelled,
		Error:       "deployment cancelled",
		CompletedAt: &completed,
	})
	if err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			return ErrInvalidTransition
		}
		return fmt.Errorf("cancel attempt: %w", err)
	}

	s.mu.Lock()
	if live, ok := s.inflight[attempt.ProjectID]; ok && live.attemptID == attemptID {
		live.cancel()
		delete(s.inflight, attempt.ProjectID)
	}
	s.mu.Unlock()

	// The project record mirrors the cancellation as a failed deployment.
	if err := s.projects.UpdateDeploymentState(ctx, domain.ProjectDeploymentUpdate{
		ProjectID: attempt.ProjectID,
		Status:    domain.DeployFailed,
		Version:   attempt.RequestedVersion,
		Error:     "deployment cancelled",
	}); err != nil {
		s.logger.Error("record cancellation on project", "project_id", attempt.ProjectID, "error", err)
	}

	attempt.State = domain.AttemptCancelled
	attempt.Error = "deployment cancelled"
	attempt.CompletedAt = &completed
	s.events.Publish(attempt.ProjectID, events.DeploymentCompleted(*attempt))
	s.logger.Info("deployment cancelled", "project_id", attempt.ProjectID, "deployment_id", attemptID, "user_id", userID)
	return nil
}

// Status returns the attempt by ID.
func (s *Service) Status(ctx context.Context, attemptID, userID string) (*domain.DeploymentAttempt, error) {
	attempt, err := s.attempts.GetAttemptByID(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, attempt.ProjectID, userID); err != nil {
		return nil, err
	}
	return attempt, nil
}

// History lists recent attempts for a project, newest first.
func (s *Service) History(ctx context.Context, projectID, userID string, limit int) ([]domain.DeploymentAttempt, error) {
	if err := s.authorize(ctx, projectID, userID); err != nil {
		return nil, err
	}
	return s.attempts.ListAttemptsByProject(ctx, projectID, limit)
}

// Logs fetches recent runtime output through the project's backend.
func (s *Service) Logs(ctx context.Context, projectID, userID string, tail int) (string, error) {
	if err := s.authorize(ctx, projectID, userID); err != nil {
		return "", err
	}
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return "", fmt.Errorf("load project: %w", err)
	}
	backend, err := s.backendFor(project.Deployment.Method)
	if err != nil {
		return "", err
	}
	return backend.Logs(ctx, *project, tail)
}

func (s *Service) start(ctx context.Context, projectID, userID, version string, trigger domain.AttemptTrigger, rolledBackFrom *string) (*domain.DeploymentAttempt, error) {
	if err := s.authorize(ctx, projectID, userID); err != nil {
		return nil, err
	}
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	backend, err := s.backendFor(project.Deployment.Method)
	if err != nil {
		return nil, err
	}
	if trigger == domain.TriggerDeploy && version == "" {
		version = "1.0.0"
	}
	if trigger == domain.TriggerRestart {
		version = project.Deployment.Version
	}

	now := s.now()
	attempt := &domain.DeploymentAttempt{
		ID:               uuid.NewString(),
		ProjectID:        projectID,
		RequestedVersion: version,
		Method:           project.Deployment.Method,
		Trigger:          trigger,
		State:            domain.AttemptPending,
		RolledBackFrom:   rolledBackFrom,
		RequestedBy:      userID,
		StartedAt:        now,
		UpdatedAt:        now,
	}

	// Claim the project slot before any persistence so two concurrent
	// requests cannot both proceed.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	s.mu.Lock()
	if _, busy := s.inflight[projectID]; busy {
		s.mu.Unlock()
		cancel()
		return nil, ErrDeployInProgress
	}
	s.inflight[projectID] = inflightAttempt{attemptID: attempt.ID, cancel: cancel}
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		if live, ok := s.inflight[projectID]; ok && live.attemptID == attempt.ID {
			delete(s.inflight, projectID)
		}
		s.mu.Unlock()
		cancel()
	}

	// A live row can outlast the in-memory slot when a previous process died
	// mid-attempt; the store is the durable arbiter of serialization.
	if live, err := s.attempts.GetInProgressAttempt(ctx, projectID); err == nil {
		release()
		s.logger.Warn("live attempt already recorded",
			"project_id", projectID,
			"deployment_id", live.ID)
		return nil, ErrDeployInProgress
	} else if !errors.Is(err, repository.ErrNotFound) {
		release()
		return nil, fmt.Errorf("check live attempts: %w", err)
	}

	if err := s.attempts.CreateAttempt(ctx, attempt); err != nil {
		release()
		return nil, fmt.Errorf("create attempt: %w", err)
	}
	if err := s.attempts.TransitionAttempt(ctx, domain.AttemptStatusUpdate{
		AttemptID: attempt.ID,
		State:     domain.AttemptInProgress,
	}); err != nil {
		release()
		return nil, fmt.Errorf("mark attempt in progress: %w", err)
	}
	attempt.State = domain.AttemptInProgress

	// The project shows in_progress before the backend runs so readers
	// never observe a live attempt against a settled project.
	if err := s.projects.UpdateDeploymentState(ctx, domain.ProjectDeploymentUpdate{
		ProjectID: projectID,
		Status:    domain.DeployInProgress,
		Version:   version,
	}); err != nil {
		release()
		return nil, fmt.Errorf("mark project deploying: %w", err)
	}

	s.events.Publish(projectID, events.DeploymentStarted(*attempt))
	s.logger.Info("deployment started",
		"project_id", projectID,
		"deployment_id", attempt.ID,
		"trigger", trigger,
		"version", version,
		"user_id", userID)

	go s.execute(runCtx, release, backend, *project, *attempt)

	result := *attempt
	return &result, nil
}

func (s *Service) execute(ctx context.Context, release func(), backend Backend, project domain.Project, attempt domain.DeploymentAttempt) {
	// The slot is released before the completion hook fires so observers of
	// a settled attempt never find the project still claimed.
	defer s.notifyAfterAttempt(attempt.ID)
	defer release()

	var runErr error
	if attempt.Trigger == domain.TriggerRestart {
		runErr = backend.Restart(ctx, project)
	} else {
		runErr = backend.Deploy(ctx, project, attempt)
	}

	completed := s.now()
	update := domain.AttemptStatusUpdate{
		AttemptID:   attempt.ID,
		State:       domain.AttemptCompleted,
		CompletedAt: &completed,
	}
	projectUpdate := domain.ProjectDeploymentUpdate{
		ProjectID:  attempt.ProjectID,
		Status:     domain.DeployCompleted,
		Version:    attempt.RequestedVersion,
		DeployedAt: &completed,
	}
	if runErr != nil {
		update.State = domain.AttemptFailed
		update.Error = runErr.Error()
		projectUpdate.Status = domain.DeployFailed
		projectUpdate.Error = runErr.Error()
		projectUpdate.DeployedAt = nil
	}

	// Store errors and context cancellation race against Cancel; a terminal
	// attempt keeps its first outcome.
	storeCtx, cancelStore := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancelStore()

	if err := s.attempts.TransitionAttempt(storeCtx, update); err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			s.logger.Info("attempt already settled", "deployment_id", attempt.ID)
			return
		}
		s.logger.Error("record attempt outcome", "deployment_id", attempt.ID, "error", err)
		return
	}

	if err := s.projects.UpdateDeploymentState(storeCtx, projectUpdate); err != nil {
		s.logger.Error("record project deployment state", "project_id", attempt.ProjectID, "error", err)
	}

	attempt.State = update.State
	attempt.Error = update.Error
	attempt.CompletedAt = update.CompletedAt
	s.events.Publish(attempt.ProjectID, events.DeploymentCompleted(attempt))

	if runErr != nil {
		s.logger.Error("deployment failed",
			"project_id", attempt.ProjectID,
			"deployment_id", attempt.ID,
			"error", runErr)
	} else {
		s.logger.Info("deployment completed",
			"project_id", attempt.ProjectID,
			"deployment_id", attempt.ID,
			"version", attempt.RequestedVersion)
	}
}

func (s *Service) notifyAfterAttempt(attemptID string) {
	if s.afterAttempt != nil {
		s.afterAttempt(attemptID)
	}
}

func (s *Service) authorize(ctx context.Context, projectID, userID string) error {
	allowed, err := s.members.HasProjectPermission(ctx, projectID, userID, PermDeploy)
	if err != nil {
		return fmt.Errorf("check permission: %w", err)
	}
	if !allowed {
		return ErrPermissionDenied
	}
	return nil
}

func (s *Service) backendFor(method domain.DeployMethod) (Backend, error) {
	backend, ok := s.backends[method]
	if !ok {
		return nil, fmt.Errorf("unsupported deployment method %q", method)
	}
	return backend, nil
}
