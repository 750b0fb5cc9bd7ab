package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the main configuration struct combining all sub-configs
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Database DatabaseConfig `mapstructure:"database"`
	FTP      FTPConfig      `mapstructure:"ftp"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Server   ServerConfig   `mapstructure:"server"`
	Slack    SlackConfig    `mapstructure:"slack"`
	Reaper   ReaperConfig   `mapstructure:"reaper"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	// Environment: development, staging, production
	Env string `mapstructure:"env" validate:"required,oneof=development staging production test"`

	// PID file location for the daemon
	PIDFile string `mapstructure:"pid_file"`
}

// SlackConfig holds the notification sink settings
type SlackConfig struct {
	// Incoming webhook URL; notifications are disabled when empty
	WebhookURL string `mapstructure:"webhook_url"`

	// Channel override (optional, the webhook's default is used when empty)
	Channel string `mapstructure:"channel"`
}

// LoadConfig loads configuration from multiple sources with priority:
// 1. Environment variables (highest priority)
// 2. Config file (config.yaml)
// 3. Defaults (lowest priority)
func LoadConfig(configPath string) (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/cruisesync")
	}

	v.SetEnvPrefix("CRUISESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional - don't error if missing)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Well-known deployment variables accepted without the prefix
	applyEnvOverrides(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	SetDefaults(&cfg)

	if err := ValidateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides maps the operational environment variables onto config
// keys. These names predate the CRUISESYNC_ prefix and stay supported.
func applyEnvOverrides(v *viper.Viper) {
	overrides := map[string]string{
		"APP_ENV":                   "app.env",
		"DB_URL":                    "database.url",
		"DATABASE_URL":              "database.url",
		"DB_POOL_MAX":               "database.pool.max_open",
		"FTP_HOST":                  "ftp.host",
		"FTP_USER":                  "ftp.user",
		"FTP_PASSWORD":              "ftp.password",
		"FTP_POOL_SIZE":             "ftp.pool_size",
		"FTP_OP_TIMEOUT_MS":         "ftp.op_timeout_ms",
		"FTP_CIRCUIT_THRESHOLD":     "ftp.circuit_threshold",
		"FTP_CIRCUIT_COOLOFF_MS":    "ftp.circuit_cooloff_ms",
		"QUEUE_BACKEND_URL":         "queue.backend_url",
		"QUEUE_WEBHOOK_CONCURRENCY": "queue.webhook_concurrency",
		"QUEUE_LINE_CONCURRENCY":    "queue.line_concurrency",
		"DEDUP_WINDOW_SEC":          "sync.dedup_window_sec",
		"MAX_INLINE_BATCH":          "sync.max_inline_batch",
		"DISCOVERY_WINDOW_MONTHS":   "sync.discovery_window_months",
		"SLACK_WEBHOOK_URL":         "slack.webhook_url",
	}
	for env, key := range overrides {
		if val := os.Getenv(env); val != "" {
			v.Set(key, val)
		}
	}
}

// MustLoadConfig loads configuration and panics on error (for use in main.go)
func MustLoadConfig(configPath string) *Config {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// IsProduction reports whether the app runs with production requirements
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
