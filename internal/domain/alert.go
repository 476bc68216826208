package domain

import "time"

// Alert records one health-alert event for a project.
type Alert struct {
	ProjectID   string       `json:"project_id"`
	Project     string       `json:"project"`
	Status      UptimeStatus `json:"status"`
	Error       string       `json:"error,omitempty"`
	TriggeredAt time.Time    `json:"triggered_at"`
}
