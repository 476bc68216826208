package events

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/umbrellaops/umbrella/internal/domain"
	"github.com/umbrellaops/umbrella/internal/ws"
)

// Event types understood by streaming subscribers.
const (
	TypeHealthUpdate        = "project-health-update"
	TypeProjectAlert        = "project-alert"
	TypeDeploymentStarted   = "deployment-started"
	TypeDeploymentCompleted = "deployment-completed"
)

// Event is the envelope carried over websocket and SSE streams.
type Event struct {
	Type string    `json:"type"`
	Data any       `json:"data"`
	TS   time.Time `json:"ts"`
}

// Publisher delivers events to realtime subscribers of a project.
type Publisher interface {
	Publish(projectID string, event Event)
}

// HubPublisher publishes events through the websocket hub.
type HubPublisher struct {
	hub *ws.Hub
	log *slog.Logger
}

// NewHubPublisher builds a hub-backed publisher.
func NewHubPublisher(hub *ws.Hub, logger *slog.Logger) *HubPublisher {
	return &HubPublisher{hub: hub, log: logger}
}

// Publish serializes the event and broadcasts it to the project channel.
func (p *HubPublisher) Publish(projectID string, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.log.Error("event marshal failed", "type", event.Type, "error", err)
		return
	}
	p.hub.Broadcast(projectID, payload)
}

// HealthUpdate builds a project-health-update event from a monitoring result.
func HealthUpdate(update domain.MonitoringUpdate) Event {
	return Event{
		Type: TypeHealthUpdate,
		Data: map[string]any{
			"projectId":    update.ProjectID,
			"status":       update.Status,
			"health":       update.Health,
			"responseTime": update.ResponseMS,
			"checkedAt":    update.CheckedAt,
		},
		TS: time.Now().UTC(),
	}
}

// ProjectAlert builds a project-alert event for a health transition.
func ProjectAlert(alert domain.Alert) Event {
	return Event{
		Type: TypeProjectAlert,
		Data: alert,
		TS:   time.Now().UTC(),
	}
}

// DeploymentStarted builds a deployment-started event for a new attempt.
func DeploymentStarted(attempt domain.DeploymentAttempt) Event {
	return Event{
		Type: TypeDeploymentStarted,
		Data: map[string]any{
			"deploymentId": attempt.ID,
			"projectId":    attempt.ProjectID,
			"version":      attempt.RequestedVersion,
			"method":       attempt.Method,
			"trigger":      attempt.Trigger,
			"startedAt":    attempt.StartedAt,
		},
		TS: time.Now().UTC(),
	}
}

// DeploymentCompleted builds a deployment-completed event with the final state.
func DeploymentCompleted(attempt domain.DeploymentAttempt) Event {
	data := map[string]any{
		"deploymentId": attempt.ID,
		"projectId":    attempt.ProjectID,
		"version":      attempt.RequestedVersion,
		"state":        attempt.State,
		"completedAt":  attempt.CompletedAt,
	}
	if attempt.Error != "" {
		data["error"] = attempt.Error
	}
	return Event{Type: TypeDeploymentCompleted, Data: data, TS: time.Now().UTC()}
}
