package domain

import "time"

// HealthState is the derived operational status of a project. It is a pure
// function of the last observed uptime status and is never set directly.
type HealthState string

const (
	HealthHealthy  HealthState = "healthy"
	HealthWarning  HealthState = "warning"
	HealthCritical HealthState = "critical"
	HealthOffline  HealthState = "offline"
)

// UptimeStatus classifies the outcome of the most recent reachability probe.
type UptimeStatus string

const (
	UptimeUp      UptimeStatus = "up"
	UptimeDown    UptimeStatus = "down"
	UptimeUnknown UptimeStatus = "unknown"
)

// HealthForStatus derives project health from the latest uptime status.
// All health mutations go through this single path.
func HealthForStatus(status UptimeStatus) HealthState {
	switch status {
	case UptimeDown:
		return HealthCritical
	case UptimeUnknown:
		return HealthWarning
	default:
		return HealthHealthy
	}
}

// Project describes a managed project and its desired/observed state.
type Project struct {
	ID         string
	Name       string
	Slug       string
	OwnerID    string
	Health     HealthState
	Monitoring MonitoringConfig
	Deployment DeploymentConfig
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// MonitoringConfig captures uptime-check configuration and latest observations.
type MonitoringConfig struct {
	Enabled        bool
	TargetURL      string
	CheckInterval  time.Duration
	LastCheckAt    *time.Time
	LastStatus     UptimeStatus
	LastResponseMS *int64
	ChecksTotal    int64
	ChecksUp       int64
	AlertsEnabled  bool
	// ChannelsSealed holds the AES-GCM sealed JSON channel list. Decoded
	// only by the notification dispatcher, which owns the key.
	ChannelsSealed []byte
}

// UptimePercentage reports the share of successful checks over the project
// lifetime, or 0 before the first check.
func (m MonitoringConfig) UptimePercentage() float64 {
	if m.ChecksTotal <= 0 {
		return 0
	}
	return float64(m.ChecksUp) / float64(m.ChecksTotal) * 100
}

// ChannelType identifies a notification delivery mechanism.
type ChannelType string

const (
	ChannelEmail    ChannelType = "email"
	ChannelSlack    ChannelType = "slack"
	ChannelDiscord  ChannelType = "discord"
	ChannelTelegram ChannelType = "telegram"
	ChannelWebhook  ChannelType = "webhook"
)

// NotificationChannel pairs a channel type with its delivery configuration.
type NotificationChannel struct {
	Type   ChannelType       `json:"type"`
	Config map[string]string `json:"config"`
}

// MonitoringUpdate is an atomic per-project monitoring observation. Health is
// derived at construction so no caller can pair a stale health with a fresh
// status.
type MonitoringUpdate struct {
	ProjectID  string
	Status     UptimeStatus
	ResponseMS *int64
	CheckedAt  time.Time
	Health     HealthState
}

// NewMonitoringUpdate builds a MonitoringUpdate with derived health. A probe
// that never reached the network carries no response time.
func NewMonitoringUpdate(projectID string, status UptimeStatus, responseMS int64, checkedAt time.Time) MonitoringUpdate {
	update := MonitoringUpdate{
		ProjectID: projectID,
		Status:    status,
		CheckedAt: checkedAt.UTC(),
		Health:    HealthForStatus(status),
	}
	if status != UptimeUnknown {
		update.ResponseMS = &responseMS
	}
	return update
}
