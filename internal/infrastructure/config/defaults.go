package config

import "time"

// SetDefaults sets default values for all configuration fields
func SetDefaults(cfg *Config) {
	// App defaults
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.PIDFile == "" {
		cfg.App.PIDFile = "/tmp/cruisesync-daemon.pid"
	}

	// Database defaults
	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "cruisesync"
	}
	if cfg.Database.Name == "" {
		cfg.Database.Name = "cruisesync"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.Pool.MaxOpen == 0 {
		cfg.Database.Pool.MaxOpen = 25
	}
	if cfg.Database.Pool.MaxIdle == 0 {
		cfg.Database.Pool.MaxIdle = 5
	}
	if cfg.Database.Pool.MaxLifetime == 0 {
		cfg.Database.Pool.MaxLifetime = 5 * time.Minute
	}

	// FTP defaults
	if cfg.FTP.PoolSize == 0 {
		cfg.FTP.PoolSize = 3
	}
	if cfg.FTP.OpTimeoutMs == 0 {
		cfg.FTP.OpTimeoutMs = 30_000
	}
	if cfg.FTP.MaxSessionLifetimeMs == 0 {
		cfg.FTP.MaxSessionLifetimeMs = 600_000
	}
	if cfg.FTP.CircuitThreshold == 0 {
		cfg.FTP.CircuitThreshold = 5
	}
	if cfg.FTP.CircuitWindowMs == 0 {
		cfg.FTP.CircuitWindowMs = 60_000
	}
	if cfg.FTP.CircuitCoolOffMs == 0 {
		cfg.FTP.CircuitCoolOffMs = 60_000
	}

	// Queue defaults
	if cfg.Queue.KeyPrefix == "" {
		cfg.Queue.KeyPrefix = "cruisesync"
	}
	if cfg.Queue.WebhookConcurrency == 0 {
		cfg.Queue.WebhookConcurrency = 2
	}
	if cfg.Queue.LineConcurrency == 0 {
		cfg.Queue.LineConcurrency = 4
	}
	if cfg.Queue.WebhookMaxAttempts == 0 {
		cfg.Queue.WebhookMaxAttempts = 3
	}
	if cfg.Queue.LineMaxAttempts == 0 {
		cfg.Queue.LineMaxAttempts = 5
	}
	if cfg.Queue.BackoffBaseMs == 0 {
		cfg.Queue.BackoffBaseMs = 5_000
	}
	if cfg.Queue.BackoffMaxMs == 0 {
		cfg.Queue.BackoffMaxMs = 600_000
	}
	if cfg.Queue.JobTimeoutMs == 0 {
		cfg.Queue.JobTimeoutMs = 600_000
	}
	if cfg.Queue.HeartbeatMs == 0 {
		cfg.Queue.HeartbeatMs = 10_000
	}
	if cfg.Queue.StalledMs == 0 {
		cfg.Queue.StalledMs = 60_000
	}

	// Sync defaults
	if cfg.Sync.DedupWindowSec == 0 {
		cfg.Sync.DedupWindowSec = 300
	}
	if cfg.Sync.DiscoveryWindowMonths == 0 {
		cfg.Sync.DiscoveryWindowMonths = 24
	}
	if cfg.Sync.MaxInlineBatch == 0 {
		cfg.Sync.MaxInlineBatch = 500
	}
	if cfg.Sync.BatchSize == 0 {
		cfg.Sync.BatchSize = 100
	}
	if cfg.Sync.PriceEpsilon == 0 {
		cfg.Sync.PriceEpsilon = 0.01
	}
	if cfg.Sync.RelockBackoffMs == 0 {
		cfg.Sync.RelockBackoffMs = 30_000
	}
	if cfg.Sync.QueueHighWaterMark == 0 {
		cfg.Sync.QueueHighWaterMark = 50
	}
	if cfg.Sync.DrainRatePerSec == 0 {
		cfg.Sync.DrainRatePerSec = 5
	}
	if cfg.Sync.DrainBatchSize == 0 {
		cfg.Sync.DrainBatchSize = 200
	}
	if cfg.Sync.DrainIntervalMs == 0 {
		cfg.Sync.DrainIntervalMs = 300_000
	}

	// Server defaults
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	// Reaper defaults
	if cfg.Reaper.IntervalMs == 0 {
		cfg.Reaper.IntervalMs = 60_000
	}
	if cfg.Reaper.StuckEventMs == 0 {
		cfg.Reaper.StuckEventMs = 3_600_000
	}
	if cfg.Reaper.LockTTLMs == 0 {
		cfg.Reaper.LockTTLMs = 7_200_000
	}
	if cfg.Reaper.SnapshotRetentionDays == 0 {
		cfg.Reaper.SnapshotRetentionDays = 90
	}
	if cfg.Reaper.EventRetentionDays == 0 {
		cfg.Reaper.EventRetentionDays = 30
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}
