package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/umbrellaops/umbrella/internal/alerts"
	"github.com/umbrellaops/umbrella/internal/app/migrate"
	"github.com/umbrellaops/umbrella/internal/deploy"
	"github.com/umbrellaops/umbrella/internal/docker"
	"github.com/umbrellaops/umbrella/internal/domain"
	"github.com/umbrellaops/umbrella/internal/events"
	"github.com/umbrellaops/umbrella/internal/execx"
	"github.com/umbrellaops/umbrella/internal/httpx"
	"github.com/umbrellaops/umbrella/internal/monitor"
	"github.com/umbrellaops/umbrella/internal/notify"
	"github.com/umbrellaops/umbrella/internal/repository"
	"github.com/umbrellaops/umbrella/internal/repository/postgres"
	"github.com/umbrellaops/umbrella/internal/ws"
	"github.com/umbrellaops/umbrella/pkg/config"
	"github.com/umbrellaops/umbrella/pkg/logger"
)

func main() {
	cfg := config.Load()
	log := logger.New("umbrella", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	var projects repository.ProjectRepository = repository.NewProjectCache(repo, cfg.ProjectCacheTTL)

	hub := ws.NewHub()
	defer hub.Close()
	publisher := events.NewHubPublisher(hub, log)

	ledger := alerts.Ledger(alerts.NewMemoryLedger(cfg.AlertHistoryLimit))
	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		redisLedger, err := alerts.NewRedisLedger(addr, cfg.RedisPassword, cfg.RedisDB, cfg.AlertHistoryLimit, log)
		if err != nil {
			log.Warn("redis alert ledger unavailable, using memory", "error", err)
		} else {
			ledger = redisLedger
		}
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RedisPassword, cfg.RedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable, using memory", "error", err)
		} else {
			limiter = redisLimiter
		}
	}
	defer ledger.Close()

	senders := map[domain.ChannelType]notify.Sender{
		domain.ChannelSlack:    notify.NewWebhookSender(0),
		domain.ChannelDiscord:  notify.NewWebhookSender(0),
		domain.ChannelTelegram: notify.NewWebhookSender(0),
		domain.ChannelWebhook:  notify.NewWebhookSender(0),
		domain.ChannelEmail:    notify.NewEmailSender(cfg.SMTPAddr, cfg.SMTPFrom),
	}
	dispatcher := notify.NewDispatcher(senders, log, cfg.NotifyMaxAttempts, cfg.NotifyBackoff)

	runnerExec := execx.NewLocal()
	backends := map[domain.DeployMethod]deploy.Backend{
		domain.MethodPM2:    deploy.NewPM2Backend(runnerExec, cfg.ProjectsPath),
		domain.MethodManual: deploy.NewManualBackend(cfg.ProjectsPath, log),
	}
	dockerClient, err := docker.New(cfg.DockerHost)
	if err != nil {
		log.Warn("docker unavailable, docker deployments disabled", "error", err)
	} else {
		defer dockerClient.Close()
		if err := dockerClient.Ping(ctx); err != nil {
			log.Warn("docker daemon unreachable, docker deployments disabled", "error", err)
		} else {
			backends[domain.MethodDocker] = deploy.NewDockerBackend(dockerClient, cfg.ProjectsPath, log)
		}
	}

	deploySvc := deploy.New(projects, repo, repo, backends, publisher, log, cfg.DeployCommandTimeout)

	mon := monitor.New(projects, monitor.NewHTTPProber(cfg.MonitorProbeTimeout), ledger, dispatcher, publisher, log, monitor.Config{
		TickInterval:    cfg.MonitorTickInterval,
		DefaultInterval: cfg.MonitorDefaultInterval,
		MaxInflight:     cfg.MonitorMaxInflight,
		AlertOnRecovery: cfg.AlertOnRecovery,
		RealertInterval: cfg.RealertInterval,
		ChannelKey:      cfg.ChannelEncryptionKey,
	})
	go mon.Run(ctx)

	router := httpx.NewRouter(log, deploySvc, projects, repo, ledger, hub, limiter, cfg.JWTSecret, cfg.ChannelEncryptionKey, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
