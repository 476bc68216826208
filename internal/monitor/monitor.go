package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/umbrellaops/umbrella/internal/alerts"
	"github.com/umbrellaops/umbrella/internal/domain"
	"github.com/umbrellaops/umbrella/internal/events"
	"github.com/umbrellaops/umbrella/internal/notify"
	"github.com/umbrellaops/umbrella/internal/repository"
)

const defaultTick = 30 * time.Second

// Config tunes the monitoring loop.
type Config struct {
	// TickInterval is the scheduler resolution; per-project intervals are
	// evaluated against it.
	TickInterval time.Duration
	// DefaultInterval applies to monitored projects without their own
	// check interval.
	DefaultInterval time.Duration
	// MaxInflight bounds concurrent probes across all projects.
	MaxInflight int
	// AlertOnRecovery emits an alert when a project transitions back up.
	AlertOnRecovery bool
	// RealertInterval re-alerts a still-down project after this duration.
	// Zero disables re-alerting.
	RealertInterval time.Duration
	// ChannelKey decrypts stored notification channel configs.
	ChannelKey string
}

// Monitor drives scheduled health checks. Each tick it probes the projects
// whose interval has elapsed, persists the observation, streams the update
// and dispatches alerts on down transitions.
type Monitor struct {
	projects   repository.ProjectRepository
	prober     Prober
	ledger     alerts.Ledger
	dispatcher *notify.Dispatcher
	events     events.Publisher
	logger     *slog.Logger
	metrics    *metrics
	cfg        Config

	sem chan struct{}

	mu          sync.Mutex
	inflight    map[string]struct{}
	lastAlertAt map[string]time.Time

	now func() time.Time
	// afterCheck, when set, is invoked once a project's check settles.
	afterCheck func(projectID string)
}

// New constructs the monitor.
func New(
	projects repository.ProjectRepository,
	prober Prober,
	ledger alerts.Ledger,
	dispatcher *notify.Dispatcher,
	publisher events.Publisher,
	logger *slog.Logger,
	cfg Config,
) *Monitor {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTick
	}
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = 5 * time.Minute
	}
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = 16
	}
	return &Monitor{
		projects:    projects,
		prober:      prober,
		ledger:      ledger,
		dispatcher:  dispatcher,
		events:      publisher,
		logger:      logger.With("component", "monitor"),
		metrics:     newMetrics(),
		cfg:         cfg,
		sem:         make(chan struct{}, cfg.MaxInflight),
		inflight:    make(map[string]struct{}),
		lastAlertAt: make(map[string]time.Time),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Run executes the monitoring loop until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	m.logger.Info("monitor started", "tick", m.cfg.TickInterval, "max_inflight", m.cfg.MaxInflight)
	m.runIteration(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopped")
			return
		case <-ticker.C:
			m.runIteration(ctx)
		}
	}
}

func (m *Monitor) runIteration(ctx context.Context) {
	projects, err := m.projects.ListMonitoredProjects(ctx)
	if err != nil {
		m.logger.Warn("failed to list monitored projects", "error", err)
		return
	}

	now := m.now()
	for _, project := range projects {
		if !m.due(project, now) {
			continue
		}
		if !m.claim(project.ID) {
			// Previous check still running; skip this round rather than
			// stacking probes against a slow endpoint.
			continue
		}
		select {
		case m.sem <- struct{}{}:
		case <-ctx.Done():
			m.release(project.ID)
			return
		}
		go func(project domain.Project) {
			defer func() {
				<-m.sem
				m.release(project.ID)
				if m.afterCheck != nil {
					m.afterCheck(project.ID)
				}
			}()
			m.checkProject(ctx, project)
		}(project)
	}
}

func (m *Monitor) due(project domain.Project, now time.Time) bool {
	if !project.Monitoring.Enabled || project.Monitoring.TargetURL == "" {
		return false
	}
	interval := project.Monitoring.CheckInterval
	if interval <= 0 {
		interval = m.cfg.DefaultInterval
	}
	last := project.Monitoring.LastCheckAt
	if last == nil {
		return true
	}
	return now.Sub(*last) >= interval
}

func (m *Monitor) claim(projectID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inflight[projectID]; busy {
		return false
	}
	m.inflight[projectID] = struct{}{}
	return true
}

func (m *Monitor) release(projectID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight, projectID)
}

func (m *Monitor) checkProject(ctx context.Context, project domain.Project) {
	start := m.now()
	result := m.prober.Probe(ctx, project.Monitoring.TargetURL)
	m.metrics.recordCheck(string(result.Status), time.Duration(result.ResponseMS)*time.Millisecond)

	update := domain.NewMonitoringUpdate(project.ID, result.Status, result.ResponseMS, start)
	if err := m.projects.UpdateMonitoringStatus(ctx, update); err != nil {
		m.logger.Error("persist monitoring status", "project_id", project.ID, "error", err)
		// The observation is still streamed; persistence catches up on the
		// next check.
	}

	m.events.Publish(project.ID, events.HealthUpdate(update))

	m.logger.Debug("health check",
		"project_id", project.ID,
		"status", result.Status,
		"response_ms", result.ResponseMS)

	m.handleAlerting(ctx, project, result, start)
}

func (m *Monitor) handleAlerting(ctx context.Context, project domain.Project, result ProbeResult, checkedAt time.Time) {
	if !project.Monitoring.AlertsEnabled {
		return
	}

	previous := project.Monitoring.LastStatus
	wentDown := result.Status == domain.UptimeDown && previous != domain.UptimeDown
	recovered := m.cfg.AlertOnRecovery && result.Status == domain.UptimeUp && previous == domain.UptimeDown

	stillDown := false
	if result.Status == domain.UptimeDown && previous == domain.UptimeDown && m.cfg.RealertInterval > 0 {
		m.mu.Lock()
		last, ok := m.lastAlertAt[project.ID]
		m.mu.Unlock()
		stillDown = !ok || checkedAt.Sub(last) >= m.cfg.RealertInterval
	}

	if !wentDown && !recovered && !stillDown {
		return
	}

	alert := domain.Alert{
		ProjectID:   project.ID,
		Project:     project.Name,
		Status:      result.Status,
		Error:       result.Err,
		TriggeredAt: checkedAt,
	}

	if err := m.ledger.Append(ctx, alert); err != nil {
		m.logger.Error("append alert", "project_id", project.ID, "error", err)
	}
	m.events.Publish(project.ID, events.ProjectAlert(alert))
	m.metrics.recordAlert()

	m.mu.Lock()
	m.lastAlertAt[project.ID] = checkedAt
	m.mu.Unlock()

	channels, err := notify.DecodeChannels(project.Monitoring.ChannelsSealed, m.cfg.ChannelKey)
	if err != nil {
		m.logger.Error("decode notification channels", "project_id", project.ID, "error", err)
		return
	}
	if len(channels) == 0 {
		return
	}
	m.dispatcher.Dispatch(ctx, channels, alert)

	m.logger.Info("alert dispatched",
		"project_id", project.ID,
		"status", result.Status,
		"channels", len(channels))
}
