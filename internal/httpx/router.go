package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/umbrellaops/umbrella/internal/alerts"
	"github.com/umbrellaops/umbrella/internal/deploy"
	"github.com/umbrellaops/umbrella/internal/domain"
	"github.com/umbrellaops/umbrella/internal/notify"
	"github.com/umbrellaops/umbrella/internal/repository"
	"github.com/umbrellaops/umbrella/internal/ws"
)

// Router wires HTTP endpoints to the orchestration services.
type Router struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	deploy    *deploy.Service
	projects  repository.ProjectRepository
	members   repository.MemberRepository
	ledger    alerts.Ledger
	hub       *ws.Hub
	upgrader  websocket.Upgrader
	limiter   RateLimiter
	jwtSecret string
	// channelKey seals notification channel configs before storage.
	channelKey string
	dbHealth   func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault    = time.Minute
	rateWindowRealtime   = 30 * time.Second
	rateLimitDeployWrite = 30
	rateLimitUserRead    = 120
	rateLimitStream      = 30
	healthCheckTimeout   = 2 * time.Second
	sseHeartbeatInterval = 25 * time.Second
	permView             = "view"
	permEdit             = "edit"
)

// NewRouter assembles routes with dependencies.
func NewRouter(
	logger *slog.Logger,
	deploySvc *deploy.Service,
	projects repository.ProjectRepository,
	members repository.MemberRepository,
	ledger alerts.Ledger,
	hub *ws.Hub,
	limiter RateLimiter,
	jwtSecret string,
	channelKey string,
	dbHealth func(context.Context) error,
) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger,
		deploy:   deploySvc,
		projects: projects,
		members:  members,
		ledger:   ledger,
		hub:      hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:    limiter,
		jwtSecret:  jwtSecret,
		channelKey: channelKey,
		dbHealth:   dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/deploy/", r.audit("/deploy/", r.handlerAuthRate("/deploy/", rateLimitDeployWrite, rateWindowDefault, r.handleDeploy)))
	r.mux.HandleFunc("/projects/", r.audit("/projects/", r.handlerAuthRate("/projects/", rateLimitUserRead, rateWindowDefault, r.handleProjectSubroutes)))
	r.mux.HandleFunc("/ws/projects", r.audit("/ws/projects", r.handlerAuthRate("/ws/projects", rateLimitStream, rateWindowRealtime, r.handleProjectsWS)))
	r.mux.HandleFunc("/events/projects", r.audit("/events/projects", r.handlerAuthRate("/events/projects", rateLimitStream, rateWindowRealtime, r.handleProjectsSSE)))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	status := "ok"
	payload := map[string]string{"status": status}
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			payload["status"] = status
			payload["database"] = err.Error()
		}
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

// handleDeploy dispatches /deploy/ subroutes:
//
//	POST /deploy/{projectID}
//	POST /deploy/{projectID}/restart
//	GET  /deploy/status/{deploymentID}
//	GET  /deploy/history/{projectID}
//	GET  /deploy/logs/{projectID}
//	POST /deploy/cancel/{deploymentID}
//	POST /deploy/rollback/{deploymentID}
func (r *Router) handleDeploy(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	trimmed := strings.TrimPrefix(req.URL.Path, "/deploy/")
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		r.notFound(w)
		return
	}

	switch parts[0] {
	case "status":
		if len(parts) != 2 {
			r.notFound(w)
			return
		}
		r.handleDeployStatus(w, req, parts[1], info.UserID)
	case "history":
		if len(parts) != 2 {
			r.notFound(w)
			return
		}
		r.handleDeployHistory(w, req, parts[1], info.UserID)
	case "logs":
		if len(parts) != 2 {
			r.notFound(w)
			return
		}
		r.handleDeployLogs(w, req, parts[1], info.UserID)
	case "cancel":
		if len(parts) != 2 {
			r.notFound(w)
			return
		}
		r.handleDeployCancel(w, req, parts[1], info.UserID)
	case "rollback":
		if len(parts) != 2 {
			r.notFound(w)
			return
		}
		r.handleDeployRollback(w, req, parts[1], info.UserID)
	default:
		projectID := parts[0]
		if len(parts) == 2 && parts[1] == "restart" {
			r.handleDeployRestart(w, req, projectID, info.UserID)
			return
		}
		if len(parts) != 1 {
			r.notFound(w)
			return
		}
		r.handleDeployStart(w, req, projectID, info.UserID)
	}
}

func (r *Router) handleDeployStart(w http.ResponseWriter, req *http.Request, projectID, userID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Version string `json:"version"`
	}
	if req.Body != nil && req.ContentLength != 0 {
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	attempt, err := r.deploy.Deploy(req.Context(), projectID, userID, payload.Version)
	if err != nil {
		r.writeDeployError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, attemptPayload(*attempt))
}

func (r *Router) handleDeployRestart(w http.ResponseWriter, req *http.Request, projectID, userID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	attempt, err := r.deploy.Restart(req.Context(), projectID, userID)
	if err != nil {
		r.writeDeployError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, attemptPayload(*attempt))
}

func (r *Router) handleDeployStatus(w http.ResponseWriter, req *http.Request, deploymentID, userID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	attempt, err := r.deploy.Status(req.Context(), deploymentID, userID)
	if err != nil {
		r.writeDeployError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attemptPayload(*attempt))
}

func (r *Router) handleDeployHistory(w http.ResponseWriter, req *http.Request, projectID, userID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	limit := queryInt(req, "limit", 20)
	history, err := r.deploy.History(req.Context(), projectID, userID, limit)
	if err != nil {
		r.writeDeployError(w, err)
		return
	}
	payload := make([]map[string]any, 0, len(history))
	for _, attempt := range history {
		payload = append(payload, attemptPayload(attempt))
	}
	writeJSON(w, http.StatusOK, map[string]any{"deployments": payload})
}

func (r *Router) handleDeployLogs(w http.ResponseWriter, req *http.Request, projectID, userID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	lines := queryInt(req, "lines", 100)
	output, err := r.deploy.Logs(req.Context(), projectID, userID, lines)
	if err != nil {
		r.writeDeployError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": output})
}

func (r *Router) handleDeployCancel(w http.ResponseWriter, req *http.Request, deploymentID, userID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if err := r.deploy.Cancel(req.Context(), deploymentID, userID); err != nil {
		r.writeDeployError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (r *Router) handleDeployRollback(w http.ResponseWriter, req *http.Request, deploymentID, userID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	attempt, err := r.deploy.Rollback(req.Context(), deploymentID, userID)
	if err != nil {
		r.writeDeployError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, attemptPayload(*attempt))
}

// handleProjectSubroutes covers project-scoped monitoring endpoints:
//
//	GET /projects/
//	GET /projects/{projectID}/alerts
//	PUT /projects/{projectID}/channels
func (r *Router) handleProjectSubroutes(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	trimmed := strings.TrimPrefix(req.URL.Path, "/projects/")
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	if len(parts) == 1 && parts[0] == "" {
		r.handleProjectList(w, req, info.UserID)
		return
	}
	if len(parts) != 2 || parts[0] == "" {
		r.notFound(w)
		return
	}
	projectID := parts[0]

	switch parts[1] {
	case "alerts":
		r.handleProjectAlerts(w, req, projectID, info.UserID)
	case "channels":
		r.handleProjectChannels(w, req, projectID, info.UserID)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleProjectList(w http.ResponseWriter, req *http.Request, userID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	owned, err := r.projects.ListProjectsByOwner(req.Context(), userID)
	if err != nil {
		r.logger.Error("list projects", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list projects")
		return
	}
	payload := make([]map[string]any, 0, len(owned))
	for _, project := range owned {
		payload = append(payload, projectPayload(project))
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": payload})
}

func (r *Router) handleProjectAlerts(w http.ResponseWriter, req *http.Request, projectID, userID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if !r.requirePermission(w, req.Context(), projectID, userID, permView) {
		return
	}
	limit := queryInt(req, "limit", 0)
	recent, err := r.ledger.Recent(req.Context(), projectID, limit)
	if err != nil {
		r.logger.Error("read alert history", "project_id", projectID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read alert history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": recent})
}

func (r *Router) handleProjectChannels(w http.ResponseWriter, req *http.Request, projectID, userID string) {
	if req.Method != http.MethodPut {
		r.methodNotAllowed(w)
		return
	}
	if !r.requirePermission(w, req.Context(), projectID, userID, permEdit) {
		return
	}
	var payload struct {
		Channels []domain.NotificationChannel `json:"channels"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	for _, channel := range payload.Channels {
		switch channel.Type {
		case domain.ChannelEmail, domain.ChannelSlack, domain.ChannelDiscord, domain.ChannelTelegram, domain.ChannelWebhook:
		default:
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported channel type %q", channel.Type))
			return
		}
	}
	sealed, err := notify.SealChannels(payload.Channels, r.channelKey)
	if err != nil {
		r.logger.Error("seal notification channels", "project_id", projectID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store channels")
		return
	}
	if err := r.projects.UpsertNotificationChannels(req.Context(), projectID, sealed); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		r.logger.Error("store notification channels", "project_id", projectID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store channels")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": len(payload.Channels)})
}

func (r *Router) handleProjectsWS(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for project websocket", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	projectID := req.URL.Query().Get("project_id")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "project_id query parameter required")
		return
	}
	if !r.requirePermission(w, req.Context(), projectID, info.UserID, permView) {
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(projectID, client)
	go func() {
		defer func() {
			r.hub.Unregister(projectID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleProjectsSSE(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	projectID := req.URL.Query().Get("project_id")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "project_id query parameter required")
		return
	}
	if !r.requirePermission(w, req.Context(), projectID, info.UserID, permView) {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	r.hub.Register(projectID, client)
	defer func() {
		r.hub.Unregister(projectID, client)
		client.Close()
	}()

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-req.Context().Done():
			return
		case <-heartbeat.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) requirePermission(w http.ResponseWriter, ctx context.Context, projectID, userID, permission string) bool {
	allowed, err := r.members.HasProjectPermission(ctx, projectID, userID, permission)
	if err != nil {
		r.logger.Error("permission check failed", "project_id", projectID, "error", err)
		writeError(w, http.StatusInternalServerError, "authorization check failed")
		return false
	}
	if !allowed {
		writeError(w, http.StatusForbidden, "access denied")
		return false
	}
	return true
}

func (r *Router) writeDeployError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, deploy.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "access denied")
	case errors.Is(err, deploy.ErrDeployInProgress):
		writeError(w, http.StatusConflict, "deployment already in progress")
	case errors.Is(err, deploy.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "deployment attempt state does not allow this operation")
	case errors.Is(err, deploy.ErrNoRollbackTarget):
		writeError(w, http.StatusConflict, "no completed deployment to roll back to")
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, repository.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "invalid request")
	default:
		r.logger.Error("deploy handler error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func projectPayload(project domain.Project) map[string]any {
	payload := map[string]any{
		"id":               project.ID,
		"name":             project.Name,
		"slug":             project.Slug,
		"health":           project.Health,
		"uptimePercentage": project.Monitoring.UptimePercentage(),
		"deployStatus":     project.Deployment.Status,
		"version":          project.Deployment.Version,
	}
	if project.Monitoring.LastStatus != "" {
		payload["lastStatus"] = project.Monitoring.LastStatus
	}
	if project.Monitoring.LastCheckAt != nil {
		payload["lastCheckAt"] = project.Monitoring.LastCheckAt
	}
	return payload
}

func attemptPayload(attempt domain.DeploymentAttempt) map[string]any {
	payload := map[string]any{
		"id":          attempt.ID,
		"projectId":   attempt.ProjectID,
		"version":     attempt.RequestedVersion,
		"method":      attempt.Method,
		"trigger":     attempt.Trigger,
		"state":       attempt.State,
		"startedAt":   attempt.StartedAt,
		"updatedAt":   attempt.UpdatedAt,
		"requestedBy": attempt.RequestedBy,
	}
	if attempt.Error != "" {
		payload["error"] = attempt.Error
	}
	if attempt.CompletedAt != nil {
		payload["completedAt"] = attempt.CompletedAt
	}
	if attempt.RolledBackFrom != nil {
		payload["rolledBackFrom"] = *attempt.RolledBackFrom
	}
	return payload
}

func queryInt(req *http.Request, name string, fallback int) int {
	raw := req.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			fields = append(fields, "user_id", info.UserID)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
