package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/umbrellaops/umbrella/internal/domain"
	"github.com/umbrellaops/umbrella/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.ProjectRepository = (*Repository)(nil)
	_ repository.AttemptRepository = (*Repository)(nil)
	_ repository.MemberRepository  = (*Repository)(nil)
)

const projectColumns = `id, name, slug, owner_id, health,
	monitoring_enabled, monitoring_target_url, monitoring_check_interval_seconds,
	monitoring_last_check_at, monitoring_last_status, monitoring_last_response_ms,
	monitoring_checks_total, monitoring_checks_up, monitoring_alerts_enabled, alert_channels,
	deploy_method, deploy_status, deploy_version, deploy_last_deployed_at,
	deploy_source_path, deploy_branch, deploy_last_error,
	created_at, updated_at`

// GetProjectByID fetches project details.
func (r *Repository) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, projectID)
	project, err := scanProject(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		if isInvalidInput(err) {
			return nil, repository.ErrInvalidArgument
		}
		return nil, err
	}
	return project, nil
}

// ListProjectsByOwner returns projects for the provided owner.
func (r *Repository) ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE owner_id = $1 ORDER BY created_at DESC`
	return r.listProjects(ctx, query, ownerID)
}

// ListMonitoredProjects returns projects eligible for uptime checks.
func (r *Repository) ListMonitoredProjects(ctx context.Context) ([]domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects
		WHERE monitoring_enabled = TRUE AND COALESCE(monitoring_target_url, '') <> ''
		ORDER BY created_at ASC`
	return r.listProjects(ctx, query)
}

func (r *Repository) listProjects(ctx context.Context, query string, args ...any) ([]domain.Project, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := make([]domain.Project, 0)
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *project)
	}
	return projects, rows.Err()
}

// UpdateMonitoringStatus applies one probe observation atomically: latest
// status, response time, check timestamp, lifetime counters, and the derived
// health all land in a single statement.
func (r *Repository) UpdateMonitoringStatus(ctx context.Context, update domain.MonitoringUpdate) error {
	const query = `UPDATE projects
		SET monitoring_last_status = $2,
			monitoring_last_response_ms = $3,
			monitoring_last_check_at = $4,
			monitoring_checks_total = monitoring_checks_total + 1,
			monitoring_checks_up = monitoring_checks_up + CASE WHEN $2 = 'up' THEN 1 ELSE 0 END,
			health = $5,
			updated_at = NOW()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query,
		update.ProjectID,
		string(update.Status),
		int64PtrToNil(update.ResponseMS),
		update.CheckedAt,
		string(update.Health),
	)
	if err != nil {
		if isInvalidInput(err) {
			return repository.ErrInvalidArgument
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpdateDeploymentState applies the orchestrator-owned deployment sub-fields
// atomically, leaving monitoring fields untouched.
func (r *Repository) UpdateDeploymentState(ctx context.Context, update domain.ProjectDeploymentUpdate) error {
	const query = `UPDATE projects
		SET deploy_status = $2,
			deploy_version = COALESCE($3, deploy_version),
			deploy_last_error = $4,
			deploy_last_deployed_at = COALESCE($5, deploy_last_deployed_at),
			updated_at = NOW()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query,
		update.ProjectID,
		string(update.Status),
		emptyToNil(update.Version),
		update.Error,
		timePtrToNil(update.DeployedAt),
	)
	if err != nil {
		if isInvalidInput(err) {
			return repository.ErrInvalidArgument
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpsertNotificationChannels stores the sealed channel list for a project.
func (r *Repository) UpsertNotificationChannels(ctx context.Context, projectID string, sealed []byte) error {
	const query = `UPDATE projects SET alert_channels = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, projectID, bytesToNil(sealed))
	if err != nil {
		if isInvalidInput(err) {
			return repository.ErrInvalidArgument
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CreateAttempt inserts a deployment attempt record.
func (r *Repository) CreateAttempt(ctx context.Context, attempt *domain.DeploymentAttempt) error {
	const query = `INSERT INTO deployment_attempts
		(id, project_id, requested_version, method, trigger, state, rolled_back_from, error, requested_by, started_at, completed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.pool.Exec(ctx, query,
		attempt.ID,
		attempt.ProjectID,
		attempt.RequestedVersion,
		string(attempt.Method),
		string(attempt.Trigger),
		string(attempt.State),
		stringPtrToNil(attempt.RolledBackFrom),
		attempt.Error,
		emptyToNil(attempt.RequestedBy),
		attempt.StartedAt,
		attempt.CompletedAt,
		attempt.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23503":
				return repository.ErrNotFound
			case "23514", "22P02", "23505":
				return repository.ErrInvalidArgument
			}
		}
	}
	return err
}

// TransitionAttempt moves an attempt forward only while it is non-terminal,
// making completion and cancellation race-safe.
func (r *Repository) TransitionAttempt(ctx context.Context, update domain.AttemptStatusUpdate) error {
	const query = `UPDATE deployment_attempts
		SET state = $2,
			error = COALESCE(NULLIF($3, ''), error),
			completed_at = COALESCE($4, completed_at),
			updated_at = NOW()
		WHERE id = $1 AND state IN ('pending', 'in_progress')`
	tag, err := r.pool.Exec(ctx, query,
		update.AttemptID,
		string(update.State),
		update.Error,
		timePtrToNil(update.CompletedAt),
	)
	if err != nil {
		if isInvalidInput(err) {
			return repository.ErrInvalidArgument
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		exists, err := r.attemptExists(ctx, update.AttemptID)
		if err != nil {
			return err
		}
		if !exists {
			return repository.ErrNotFound
		}
		return repository.ErrInvalidTransition
	}
	return nil
}

func (r *Repository) attemptExists(ctx context.Context, attemptID string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM deployment_attempts WHERE id = $1)`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, attemptID).Scan(&exists); err != nil {
		if isInvalidInput(err) {
			return false, repository.ErrInvalidArgument
		}
		return false, err
	}
	return exists, nil
}

const attemptColumns = `id, project_id, requested_version, method, trigger, state,
	rolled_back_from, error, requested_by, started_at, completed_at, updated_at`

// GetAttemptByID fetches an attempt by identifier.
func (r *Repository) GetAttemptByID(ctx context.Context, attemptID string) (*domain.DeploymentAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM deployment_attempts WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, attemptID)
	attempt, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		if isInvalidInput(err) {
			return nil, repository.ErrInvalidArgument
		}
		return nil, err
	}
	return attempt, nil
}

// ListAttemptsByProject fetches recent attempts for a project, newest first.
func (r *Repository) ListAttemptsByProject(ctx context.Context, projectID string, limit int) ([]domain.DeploymentAttempt, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + attemptColumns + ` FROM deployment_attempts
		WHERE project_id = $1 ORDER BY started_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := make([]domain.DeploymentAttempt, 0)
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *attempt)
	}
	return attempts, rows.Err()
}

// GetInProgressAttempt returns the active attempt for a project, if any.
func (r *Repository) GetInProgressAttempt(ctx context.Context, projectID string) (*domain.DeploymentAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM deployment_attempts
		WHERE project_id = $1 AND state IN ('pending', 'in_progress')
		ORDER BY started_at DESC LIMIT 1`
	row := r.pool.QueryRow(ctx, query, projectID)
	attempt, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return attempt, nil
}

// GetLastCompletedBefore finds the most recent completed attempt that started
// before the referenced attempt, used to pick a rollback target version.
func (r *Repository) GetLastCompletedBefore(ctx context.Context, projectID string, attemptID string) (*domain.DeploymentAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM deployment_attempts
		WHERE project_id = $1
			AND state = 'completed'
			AND started_at < (SELECT started_at FROM deployment_attempts WHERE id = $2)
		ORDER BY started_at DESC LIMIT 1`
	row := r.pool.QueryRow(ctx, query, projectID, attemptID)
	attempt, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return attempt, nil
}

// HasProjectPermission reports whether the user owns the project or holds an
// explicit membership grant for the permission.
func (r *Repository) HasProjectPermission(ctx context.Context, projectID, userID, permission string) (bool, error) {
	const query = `SELECT EXISTS(
		SELECT 1 FROM projects WHERE id = $1 AND owner_id = $2
		UNION ALL
		SELECT 1 FROM project_members WHERE project_id = $1 AND user_id = $2 AND $3 = ANY(permissions)
	)`
	var allowed bool
	if err := r.pool.QueryRow(ctx, query, projectID, userID, permission).Scan(&allowed); err != nil {
		if isInvalidInput(err) {
			return false, repository.ErrInvalidArgument
		}
		return false, err
	}
	return allowed, nil
}

func scanProject(row pgx.Row) (*domain.Project, error) {
	var (
		p               domain.Project
		lastCheckAt     sql.NullTime
		lastResponseMS  sql.NullInt64
		channels        []byte
		intervalSeconds int
		lastDeployedAt  sql.NullTime
		sourcePath      sql.NullString
		branch          sql.NullString
		lastError       sql.NullString
		targetURL       sql.NullString
	)
	if err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Slug,
		&p.OwnerID,
		&p.Health,
		&p.Monitoring.Enabled,
		&targetURL,
		&intervalSeconds,
		&lastCheckAt,
		&p.Monitoring.LastStatus,
		&lastResponseMS,
		&p.Monitoring.ChecksTotal,
		&p.Monitoring.ChecksUp,
		&p.Monitoring.AlertsEnabled,
		&channels,
		&p.Deployment.Method,
		&p.Deployment.Status,
		&p.Deployment.Version,
		&lastDeployedAt,
		&sourcePath,
		&branch,
		&lastError,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if targetURL.Valid {
		p.Monitoring.TargetURL = targetURL.String
	}
	p.Monitoring.CheckInterval = time.Duration(intervalSeconds) * time.Second
	if lastCheckAt.Valid {
		value := lastCheckAt.Time.UTC()
		p.Monitoring.LastCheckAt = &value
	}
	if lastResponseMS.Valid {
		value := lastResponseMS.Int64
		p.Monitoring.LastResponseMS = &value
	}
	if len(channels) > 0 {
		p.Monitoring.ChannelsSealed = append([]byte(nil), channels...)
	}
	if lastDeployedAt.Valid {
		value := lastDeployedAt.Time.UTC()
		p.Deployment.LastDeployedAt = &value
	}
	if sourcePath.Valid {
		p.Deployment.SourcePath = sourcePath.String
	}
	if branch.Valid {
		p.Deployment.Branch = branch.String
	}
	if lastError.Valid {
		p.Deployment.LastError = lastError.String
	}
	return &p, nil
}

func scanAttempt(row pgx.Row) (*domain.DeploymentAttempt, error) {
	var (
		a              domain.DeploymentAttempt
		rolledBackFrom sql.NullString
		requestedBy    sql.NullString
		completedAt    sql.NullTime
	)
	if err := row.Scan(
		&a.ID,
		&a.ProjectID,
		&a.RequestedVersion,
		&a.Method,
		&a.Trigger,
		&a.State,
		&rolledBackFrom,
		&a.Error,
		&requestedBy,
		&a.StartedAt,
		&completedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if rolledBackFrom.Valid {
		value := rolledBackFrom.String
		a.RolledBackFrom = &value
	}
	if requestedBy.Valid {
		a.RequestedBy = requestedBy.String
	}
	if completedAt.Valid {
		value := completedAt.Time.UTC()
		a.CompletedAt = &value
	}
	return &a, nil
}

func isInvalidInput(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "22P02", "23514":
			return true
		}
	}
	return false
}

func emptyToNil(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func stringPtrToNil(v *string) any {
	if v == nil {
		return nil
	}
	if strings.TrimSpace(*v) == "" {
		return nil
	}
	return *v
}

func int64PtrToNil(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func timePtrToNil(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}

func bytesToNil(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
