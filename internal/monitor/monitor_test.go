package monitor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/umbrellaops/umbrella/internal/alerts"
	"github.com/umbrellaops/umbrella/internal/domain"
	"github.com/umbrellaops/umbrella/internal/events"
	"github.com/umbrellaops/umbrella/internal/notify"
	"github.com/umbrellaops/umbrella/internal/repository"
)

type fakeProjectRepo struct {
	mu       sync.Mutex
	projects []domain.Project
	updates  []domain.MonitoringUpdate
}

func (r *fakeProjectRepo) GetProjectByID(_ context.Context, projectID string) (*domain.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.projects {
		if p.ID == projectID {
			copy := p
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeProjectRepo) ListProjectsByOwner(context.Context, string) ([]domain.Project, error) {
	return nil, nil
}

func (r *fakeProjectRepo) ListMonitoredProjects(context.Context) ([]domain.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Project, len(r.projects))
	copy(out, r.projects)
	return out, nil
}

func (r *fakeProjectRepo) UpdateMonitoringStatus(_ context.Context, update domain.MonitoringUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
	for i, p := range r.projects {
		if p.ID == update.ProjectID {
			checked := update.CheckedAt
			r.projects[i].Monitoring.LastStatus = update.Status
			r.projects[i].Monitoring.LastCheckAt = &checked
		}
	}
	return nil
}

func (r *fakeProjectRepo) UpdateDeploymentState(context.Context, domain.ProjectDeploymentUpdate) error {
	return nil
}

func (r *fakeProjectRepo) UpsertNotificationChannels(context.Context, string, []byte) error {
	return nil
}

func (r *fakeProjectRepo) updateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

type fakeProber struct {
	mu      sync.Mutex
	results map[string]ProbeResult
	probes  map[string]int
	block   chan struct{}
}

func (p *fakeProber) Probe(ctx context.Context, targetURL string) ProbeResult {
	p.mu.Lock()
	if p.probes == nil {
		p.probes = make(map[string]int)
	}
	p.probes[targetURL]++
	result := p.results[targetURL]
	block := p.block
	p.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}
	return result
}

func (p *fakeProber) count(targetURL string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.probes[targetURL]
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *fakePublisher) Publish(_ string, event events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *fakePublisher) countType(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type recordingSender struct {
	mu    sync.Mutex
	calls int
}

func (s *recordingSender) Send(context.Context, domain.NotificationChannel, domain.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

const channelKey = "monitor-test-key"

type monitorFixture struct {
	monitor   *Monitor
	projects  *fakeProjectRepo
	prober    *fakeProber
	ledger    alerts.Ledger
	publisher *fakePublisher
	sender    *recordingSender
	done      chan string
}

func newMonitorFixture(t *testing.T, cfg Config, projects ...domain.Project) *monitorFixture {
	t.Helper()
	repo := &fakeProjectRepo{projects: projects}
	prober := &fakeProber{results: make(map[string]ProbeResult)}
	ledger := alerts.NewMemoryLedger(100)
	publisher := &fakePublisher{}
	sender := &recordingSender{}
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	dispatcher := notify.NewDispatcher(map[domain.ChannelType]notify.Sender{domain.ChannelSlack: sender}, logger, 1, time.Millisecond)

	cfg.ChannelKey = channelKey
	m := New(repo, prober, ledger, dispatcher, publisher, logger, cfg)

	done := make(chan string, 16)
	m.afterCheck = func(projectID string) { done <- projectID }

	return &monitorFixture{monitor: m, projects: repo, prober: prober, ledger: ledger, publisher: publisher, sender: sender, done: done}
}

func (f *monitorFixture) waitChecks(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-f.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("check %d did not settle in time", i+1)
		}
	}
}

func monitoredProject(id, target string) domain.Project {
	return domain.Project{
		ID:   id,
		Name: "Project " + id,
		Slug: "project-" + id,
		Monitoring: domain.MonitoringConfig{
			Enabled:       true,
			TargetURL:     target,
			CheckInterval: time.Minute,
			AlertsEnabled: true,
		},
	}
}

func sealedSlackChannel(t *testing.T) []byte {
	t.Helper()
	sealed, err := notify.SealChannels([]domain.NotificationChannel{
		{Type: domain.ChannelSlack, Config: map[string]string{"webhook_url": "http://hooks.test"}},
	}, channelKey)
	if err != nil {
		t.Fatalf("seal channels: %v", err)
	}
	return sealed
}

func TestIterationProbesDueProjects(t *testing.T) {
	project := monitoredProject("p1", "http://p1.test/health")
	f := newMonitorFixture(t, Config{}, project)
	f.prober.results["http://p1.test/health"] = ProbeResult{Status: domain.UptimeUp, ResponseMS: 12}

	f.monitor.runIteration(context.Background())
	f.waitChecks(t, 1)

	if got := f.prober.count("http://p1.test/health"); got != 1 {
		t.Fatalf("expected 1 probe, got %d", got)
	}
	if f.projects.updateCount() != 1 {
		t.Fatalf("expected persisted update")
	}
	if f.publisher.countType(events.TypeHealthUpdate) != 1 {
		t.Fatalf("expected health update event")
	}
}

func TestIterationSkipsDisabledAndNotDue(t *testing.T) {
	now := time.Now().UTC()
	disabled := monitoredProject("p1", "http://p1.test")
	disabled.Monitoring.Enabled = false
	recent := monitoredProject("p2", "http://p2.test")
	recent.Monitoring.LastCheckAt = &now

	f := newMonitorFixture(t, Config{}, disabled, recent)
	f.monitor.runIteration(context.Background())

	if f.prober.count("http://p1.test") != 0 {
		t.Fatalf("disabled project must never be probed")
	}
	if f.prober.count("http://p2.test") != 0 {
		t.Fatalf("recently checked project must wait for its interval")
	}
}

func TestDownTransitionTriggersAlert(t *testing.T) {
	project := monitoredProject("p1", "http://p1.test")
	project.Monitoring.LastStatus = domain.UptimeUp
	project.Monitoring.ChannelsSealed = sealedSlackChannel(t)

	f := newMonitorFixture(t, Config{}, project)
	f.prober.results["http://p1.test"] = ProbeResult{Status: domain.UptimeDown, Err: "connection refused"}

	f.monitor.runIteration(context.Background())
	f.waitChecks(t, 1)

	recent, err := f.ledger.Recent(context.Background(), "p1", 10)
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(recent))
	}
	if recent[0].Error != "connection refused" {
		t.Fatalf("alert must carry probe error, got %q", recent[0].Error)
	}
	if f.publisher.countType(events.TypeProjectAlert) != 1 {
		t.Fatalf("expected project alert event")
	}
	if f.sender.count() != 1 {
		t.Fatalf("expected 1 notification, got %d", f.sender.count())
	}
}

func TestRepeatedDownDoesNotRealertByDefault(t *testing.T) {
	project := monitoredProject("p1", "http://p1.test")
	project.Monitoring.LastStatus = domain.UptimeUp
	project.Monitoring.ChannelsSealed = sealedSlackChannel(t)
	project.Monitoring.CheckInterval = time.Nanosecond

	f := newMonitorFixture(t, Config{}, project)
	f.prober.results["http://p1.test"] = ProbeResult{Status: domain.UptimeDown, Err: "refused"}

	f.monitor.runIteration(context.Background())
	f.waitChecks(t, 1)
	f.monitor.runIteration(context.Background())
	f.waitChecks(t, 1)

	if f.sender.count() != 1 {
		t.Fatalf("still-down project must alert once, got %d", f.sender.count())
	}
}

func TestRealertAfterInterval(t *testing.T) {
	project := monitoredProject("p1", "http://p1.test")
	project.Monitoring.LastStatus = domain.UptimeDown
	project.Monitoring.ChannelsSealed = sealedSlackChannel(t)
	project.Monitoring.CheckInterval = time.Nanosecond

	f := newMonitorFixture(t, Config{RealertInterval: time.Hour}, project)
	f.prober.results["http://p1.test"] = ProbeResult{Status: domain.UptimeDown, Err: "refused"}

	base := time.Now().UTC()
	current := base
	var mu sync.Mutex
	f.monitor.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}

	f.monitor.runIteration(context.Background())
	f.waitChecks(t, 1)
	if f.sender.count() != 1 {
		t.Fatalf("first still-down check must alert under realert policy, got %d", f.sender.count())
	}

	mu.Lock()
	current = base.Add(10 * time.Minute)
	mu.Unlock()
	f.monitor.runIteration(context.Background())
	f.waitChecks(t, 1)
	if f.sender.count() != 1 {
		t.Fatalf("realert must wait for the interval, got %d", f.sender.count())
	}

	mu.Lock()
	current = base.Add(2 * time.Hour)
	mu.Unlock()
	f.monitor.runIteration(context.Background())
	f.waitChecks(t, 1)
	if f.sender.count() != 2 {
		t.Fatalf("expected realert after interval, got %d", f.sender.count())
	}
}

func TestRecoveryAlertWhenEnabled(t *testing.T) {
	project := monitoredProject("p1", "http://p1.test")
	project.Monitoring.LastStatus = domain.UptimeDown
	project.Monitoring.ChannelsSealed = sealedSlackChannel(t)

	f := newMonitorFixture(t, Config{AlertOnRecovery: true}, project)
	f.prober.results["http://p1.test"] = ProbeResult{Status: domain.UptimeUp, ResponseMS: 20}

	f.monitor.runIteration(context.Background())
	f.waitChecks(t, 1)

	if f.sender.count() != 1 {
		t.Fatalf("expected recovery alert, got %d", f.sender.count())
	}
	recent, _ := f.ledger.Recent(context.Background(), "p1", 10)
	if len(recent) != 1 || recent[0].Status != domain.UptimeUp {
		t.Fatalf("recovery alert must record up status: %+v", recent)
	}
}

func TestAlertsDisabledSuppressesDispatch(t *testing.T) {
	project := monitoredProject("p1", "http://p1.test")
	project.Monitoring.AlertsEnabled = false
	project.Monitoring.LastStatus = domain.UptimeUp

	f := newMonitorFixture(t, Config{}, project)
	f.prober.results["http://p1.test"] = ProbeResult{Status: domain.UptimeDown, Err: "refused"}

	f.monitor.runIteration(context.Background())
	f.waitChecks(t, 1)

	if f.sender.count() != 0 {
		t.Fatalf("alerts disabled must suppress notifications")
	}
	if f.publisher.countType(events.TypeHealthUpdate) != 1 {
		t.Fatalf("health updates still stream when alerts are off")
	}
}

func TestOverlappingCheckSkipped(t *testing.T) {
	project := monitoredProject("p1", "http://p1.test")
	project.Monitoring.CheckInterval = time.Nanosecond

	f := newMonitorFixture(t, Config{}, project)
	f.prober.block = make(chan struct{})
	f.prober.results["http://p1.test"] = ProbeResult{Status: domain.UptimeUp}

	f.monitor.runIteration(context.Background())
	// Second iteration arrives while the first probe is still running.
	f.monitor.runIteration(context.Background())

	close(f.prober.block)
	f.waitChecks(t, 1)

	if got := f.prober.count("http://p1.test"); got != 1 {
		t.Fatalf("overlapping check must be skipped, got %d probes", got)
	}
}
