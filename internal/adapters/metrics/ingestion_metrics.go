package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// IngestionMetricsCollector implements both recorder interfaces on top of
// Prometheus vectors. One instance is registered at startup and installed
// as the global collector.
type IngestionMetricsCollector struct {
	webhooksReceivedTotal *prometheus.CounterVec
	filesProcessedTotal   *prometheus.CounterVec
	normalizedFormsTotal  *prometheus.CounterVec
	priceSnapshotsTotal   *prometheus.CounterVec
	batchDurationSeconds  *prometheus.HistogramVec
	jobRetriesTotal       *prometheus.CounterVec
	jobsDeadLetteredTotal *prometheus.CounterVec
	lockContentionTotal   *prometheus.CounterVec
	circuitTransitions    *prometheus.CounterVec
}

// NewIngestionMetricsCollector creates the pipeline metrics collector
func NewIngestionMetricsCollector() *IngestionMetricsCollector {
	return &IngestionMetricsCollector{
		webhooksReceivedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhooks_received_total",
				Help:      "Webhook admissions by event type and outcome (pending, skipped, rejected)",
			},
			[]string{"event_type", "outcome"},
		),

		filesProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "files_processed_total",
				Help:      "Provider files handled by line and outcome (persisted, normalization_failed, download_failed)",
			},
			[]string{"line_id", "outcome"},
		),

		normalizedFormsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "normalized_forms_total",
				Help:      "Raw payload forms seen by the normalizer",
			},
			[]string{"form"},
		),

		priceSnapshotsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "price_snapshots_total",
				Help:      "Observed price changes by line",
			},
			[]string{"line_id"},
		),

		batchDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "batch_duration_seconds",
				Help:      "End-to-end duration of one line batch",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"line_id", "deferred"},
		),

		jobRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "job_retries_total",
				Help:      "Failed attempts re-queued with backoff",
			},
			[]string{"queue"},
		),

		jobsDeadLetteredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "jobs_dead_lettered_total",
				Help:      "Jobs whose attempt budget was exhausted",
			},
			[]string{"queue"},
		),

		lockContentionTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "lock_contention_total",
				Help:      "Per-line sync lock collisions",
			},
			[]string{"line_id"},
		),

		circuitTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "ftp_circuit_transitions_total",
				Help:      "FTP circuit breaker state transitions",
			},
			[]string{"state"},
		),
	}
}

// Register registers all vectors with the given registry
func (c *IngestionMetricsCollector) Register(registry *prometheus.Registry) error {
	collectors := []prometheus.Collector{
		c.webhooksReceivedTotal,
		c.filesProcessedTotal,
		c.normalizedFormsTotal,
		c.priceSnapshotsTotal,
		c.batchDurationSeconds,
		c.jobRetriesTotal,
		c.jobsDeadLetteredTotal,
		c.lockContentionTotal,
		c.circuitTransitions,
	}
	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

func (c *IngestionMetricsCollector) RecordWebhookReceived(eventType string, outcome string) {
	c.webhooksReceivedTotal.WithLabelValues(eventType, outcome).Inc()
}

func (c *IngestionMetricsCollector) RecordFileProcessed(lineID int, outcome string) {
	c.filesProcessedTotal.WithLabelValues(strconv.Itoa(lineID), outcome).Inc()
}

func (c *IngestionMetricsCollector) RecordNormalizedForm(form string) {
	c.normalizedFormsTotal.WithLabelValues(form).Inc()
}

func (c *IngestionMetricsCollector) RecordPriceSnapshot(lineID int) {
	c.priceSnapshotsTotal.WithLabelValues(strconv.Itoa(lineID)).Inc()
}

func (c *IngestionMetricsCollector) RecordBatchCompleted(lineID int, deferred bool, durationSeconds float64) {
	c.batchDurationSeconds.WithLabelValues(strconv.Itoa(lineID), strconv.FormatBool(deferred)).Observe(durationSeconds)
}

func (c *IngestionMetricsCollector) RecordJobRetry(queue string) {
	c.jobRetriesTotal.WithLabelValues(queue).Inc()
}

func (c *IngestionMetricsCollector) RecordJobDeadLettered(queue string) {
	c.jobsDeadLetteredTotal.WithLabelValues(queue).Inc()
}

func (c *IngestionMetricsCollector) RecordLockContention(lineID int) {
	c.lockContentionTotal.WithLabelValues(strconv.Itoa(lineID)).Inc()
}

func (c *IngestionMetricsCollector) RecordCircuitState(state string) {
	c.circuitTransitions.WithLabelValues(state).Inc()
}
