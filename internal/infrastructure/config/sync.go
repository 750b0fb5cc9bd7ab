package config

// SyncConfig holds the ingestion pipeline tunables
type SyncConfig struct {
	// Webhook deduplication window in seconds
	DedupWindowSec int `mapstructure:"dedup_window_sec" validate:"min=1"`

	// Discovery walks current month plus this many following months
	DiscoveryWindowMonths int `mapstructure:"discovery_window_months" validate:"min=1"`

	// Lines with more discovered files than this take the deferred path
	MaxInlineBatch int `mapstructure:"max_inline_batch" validate:"min=1"`

	// Upserts committed per transaction
	BatchSize int `mapstructure:"batch_size" validate:"min=1"`

	// Price change detection threshold in currency units
	PriceEpsilon float64 `mapstructure:"price_epsilon" validate:"gt=0"`

	// Re-queue delay in milliseconds when the per-line lock is contended
	RelockBackoffMs int `mapstructure:"relock_backoff_ms" validate:"min=1"`

	// cruise-line-processing depth above which large lines defer immediately
	QueueHighWaterMark int `mapstructure:"queue_high_water_mark" validate:"min=1"`

	// Deferred drain throttle: sailings re-processed per second
	DrainRatePerSec float64 `mapstructure:"drain_rate_per_sec" validate:"gt=0"`

	// Sailings drained per batch-sync run
	DrainBatchSize int `mapstructure:"drain_batch_size" validate:"min=1"`

	// How often the batch-sync drain runs, in milliseconds
	DrainIntervalMs int `mapstructure:"drain_interval_ms" validate:"min=1"`
}
