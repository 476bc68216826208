package config

import "time"

// AppConfig holds runtime configuration for the monitoring and deployment service.
type AppConfig struct {
	Environment string
	Addr        string
	LogLevel    string

	DatabaseURL   string
	MigrationsDir string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret            string
	ChannelEncryptionKey string

	MonitorTickInterval    time.Duration
	MonitorDefaultInterval time.Duration
	MonitorProbeTimeout    time.Duration
	MonitorMaxInflight     int

	AlertHistoryLimit int
	AlertOnRecovery   bool
	RealertInterval   time.Duration

	NotifyMaxAttempts int
	NotifyBackoff     time.Duration
	SMTPAddr          string
	SMTPFrom          string

	ProjectsPath         string
	DockerHost           string
	DeployCommandTimeout time.Duration

	ProjectCacheTTL time.Duration
}

// Load constructs an AppConfig from environment variables.
func Load() AppConfig {
	return AppConfig{
		Environment:            GetString("APP_ENV", "development"),
		Addr:                   GetString("API_ADDR", ":4000"),
		LogLevel:               GetString("LOG_LEVEL", "info"),
		DatabaseURL:            GetString("DATABASE_URL", "postgres://umbrella:umbrella@db:5432/umbrella?sslmode=disable"),
		MigrationsDir:          GetString("DB_MIGRATIONS_DIR", "./db/migrations"),
		RedisAddr:              GetString("REDIS_ADDR", ""),
		RedisPassword:          GetString("REDIS_PASSWORD", ""),
		RedisDB:                GetInt("REDIS_DB", 0),
		JWTSecret:              GetString("JWT_SECRET", "supersecuresecret"),
		ChannelEncryptionKey:   GetString("CHANNEL_ENCRYPTION_KEY", "supersecuresecret"),
		MonitorTickInterval:    GetSeconds("MONITOR_TICK_SECONDS", 30*time.Second),
		MonitorDefaultInterval: GetSeconds("MONITOR_DEFAULT_INTERVAL_SECONDS", 300*time.Second),
		MonitorProbeTimeout:    GetSeconds("MONITOR_PROBE_TIMEOUT_SECONDS", 10*time.Second),
		MonitorMaxInflight:     GetInt("MONITOR_MAX_INFLIGHT", 16),
		AlertHistoryLimit:      GetInt("ALERT_HISTORY_LIMIT", 100),
		AlertOnRecovery:        GetBool("ALERT_ON_RECOVERY", false),
		RealertInterval:        GetSeconds("REALERT_INTERVAL_SECONDS", 0),
		NotifyMaxAttempts:      GetInt("NOTIFY_MAX_ATTEMPTS", 3),
		NotifyBackoff:          time.Duration(GetInt("NOTIFY_BACKOFF_MS", 500)) * time.Millisecond,
		SMTPAddr:               GetString("SMTP_ADDR", ""),
		SMTPFrom:               GetString("SMTP_FROM", "alerts@umbrella.local"),
		ProjectsPath:           GetString("PROJECTS_PATH", "/srv/projects"),
		DockerHost:             GetString("DOCKER_HOST_OVERRIDE", ""),
		DeployCommandTimeout:   GetSeconds("DEPLOY_COMMAND_TIMEOUT_SECONDS", 300*time.Second),
		ProjectCacheTTL:        GetSeconds("PROJECT_CACHE_TTL_SECONDS", 30*time.Second),
	}
}
