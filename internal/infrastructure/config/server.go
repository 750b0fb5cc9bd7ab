package config

import "time"

// ServerConfig holds the HTTP intake/admin server configuration
type ServerConfig struct {
	// Listen address, host:port
	Address string `mapstructure:"address" validate:"required"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// Expose /metrics in Prometheus format
	MetricsEnabled bool `mapstructure:"metrics_enabled"`
}

// ReaperConfig holds the background janitor configuration
type ReaperConfig struct {
	// Sweep interval in milliseconds
	IntervalMs int `mapstructure:"interval_ms" validate:"min=1"`

	// WebhookEvents stuck in processing longer than this are failed
	StuckEventMs int `mapstructure:"stuck_event_ms" validate:"min=1"`

	// SyncLocks held longer than this are force-released
	LockTTLMs int `mapstructure:"lock_ttl_ms" validate:"min=1"`

	// Retention sweeps
	SnapshotRetentionDays int `mapstructure:"snapshot_retention_days" validate:"min=1"`
	EventRetentionDays    int `mapstructure:"event_retention_days" validate:"min=1"`
}
