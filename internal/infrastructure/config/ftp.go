package config

// FTPConfig holds provider FTP server and connection pool configuration
type FTPConfig struct {
	Host     string `mapstructure:"host"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`

	// Explicit TLS (AUTH TLS) on the control connection
	UseTLS bool `mapstructure:"use_tls"`

	// Number of pooled sessions
	PoolSize int `mapstructure:"pool_size" validate:"min=1"`

	// Per-operation timeout in milliseconds (list/download)
	OpTimeoutMs int `mapstructure:"op_timeout_ms" validate:"min=1"`

	// Recycle sessions older than this many milliseconds
	MaxSessionLifetimeMs int `mapstructure:"max_session_lifetime_ms" validate:"min=0"`

	// Circuit breaker: failures within the rolling window that open the circuit
	CircuitThreshold int `mapstructure:"circuit_threshold" validate:"min=1"`

	// Rolling failure window in milliseconds
	CircuitWindowMs int `mapstructure:"circuit_window_ms" validate:"min=1"`

	// How long the circuit stays open before a half-open probe
	CircuitCoolOffMs int `mapstructure:"circuit_cooloff_ms" validate:"min=1"`
}
