package config

// QueueConfig holds the durable job queue configuration
type QueueConfig struct {
	// Redis connection URL, e.g. redis://localhost:6379/0
	BackendURL string `mapstructure:"backend_url"`

	// Key namespace prefix
	KeyPrefix string `mapstructure:"key_prefix"`

	// Worker counts per queue
	WebhookConcurrency int `mapstructure:"webhook_concurrency" validate:"min=1"`
	LineConcurrency    int `mapstructure:"line_concurrency" validate:"min=1"`

	// Retry budget per job, per queue. The line queue gets a deeper budget
	// because its jobs contend for per-line locks and survive FTP hiccups.
	WebhookMaxAttempts int `mapstructure:"webhook_max_attempts" validate:"min=1"`
	LineMaxAttempts    int `mapstructure:"line_max_attempts" validate:"min=1"`

	// Retry backoff in milliseconds (base, cap)
	BackoffBaseMs int `mapstructure:"backoff_base_ms" validate:"min=1"`
	BackoffMaxMs  int `mapstructure:"backoff_max_ms" validate:"min=1"`

	// Per-job execution timeout in milliseconds
	JobTimeoutMs int `mapstructure:"job_timeout_ms" validate:"min=1"`

	// Heartbeat publish interval in milliseconds
	HeartbeatMs int `mapstructure:"heartbeat_ms" validate:"min=1"`

	// Jobs with no heartbeat for this long are returned to waiting
	StalledMs int `mapstructure:"stalled_ms" validate:"min=1"`
}
