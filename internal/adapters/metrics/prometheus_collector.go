package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// Namespace for all metrics
	namespace = "cruisesync"
	// Subsystem for pipeline metrics
	subsystem = "ingestion"
)

var (
	// Registry is the global Prometheus registry for all metrics
	Registry *prometheus.Registry

	// globalIntakeCollector is set by SetGlobalIntakeCollector() when metrics are enabled
	globalIntakeCollector IntakeMetricsRecorder

	// globalPipelineCollector is set by SetGlobalPipelineCollector() when metrics are enabled
	globalPipelineCollector PipelineMetricsRecorder
)

// IntakeMetricsRecorder records webhook admission events
type IntakeMetricsRecorder interface {
	RecordWebhookReceived(eventType string, outcome string)
}

// PipelineMetricsRecorder records line-batch processing events
type PipelineMetricsRecorder interface {
	RecordFileProcessed(lineID int, outcome string)
	RecordNormalizedForm(form string)
	RecordPriceSnapshot(lineID int)
	RecordBatchCompleted(lineID int, deferred bool, durationSeconds float64)
	RecordJobRetry(queue string)
	RecordJobDeadLettered(queue string)
	RecordLockContention(lineID int)
	RecordCircuitState(state string)
}

// InitRegistry initializes the Prometheus registry.
// Should be called once at application startup if metrics are enabled.
func InitRegistry() {
	Registry = prometheus.NewRegistry()
}

// GetRegistry returns the global Prometheus registry, nil when disabled
func GetRegistry() *prometheus.Registry {
	return Registry
}

// IsEnabled returns true if metrics collection is enabled
func IsEnabled() bool {
	return Registry != nil
}

// SetGlobalIntakeCollector sets the global intake metrics collector
func SetGlobalIntakeCollector(collector IntakeMetricsRecorder) {
	globalIntakeCollector = collector
}

// SetGlobalPipelineCollector sets the global pipeline metrics collector
func SetGlobalPipelineCollector(collector PipelineMetricsRecorder) {
	globalPipelineCollector = collector
}

// RecordWebhookReceived records a webhook admission outcome globally
func RecordWebhookReceived(eventType string, outcome string) {
	if globalIntakeCollector != nil {
		globalIntakeCollector.RecordWebhookReceived(eventType, outcome)
	}
}

// RecordFileProcessed records one provider file outcome globally
func RecordFileProcessed(lineID int, outcome string) {
	if globalPipelineCollector != nil {
		globalPipelineCollector.RecordFileProcessed(lineID, outcome)
	}
}

// RecordNormalizedForm records which raw form a file arrived in globally
func RecordNormalizedForm(form string) {
	if globalPipelineCollector != nil {
		globalPipelineCollector.RecordNormalizedForm(form)
	}
}

// RecordPriceSnapshot records an observed price change globally
func RecordPriceSnapshot(lineID int) {
	if globalPipelineCollector != nil {
		globalPipelineCollector.RecordPriceSnapshot(lineID)
	}
}

// RecordBatchCompleted records a finished line batch globally
func RecordBatchCompleted(lineID int, deferred bool, durationSeconds float64) {
	if globalPipelineCollector != nil {
		globalPipelineCollector.RecordBatchCompleted(lineID, deferred, durationSeconds)
	}
}

// RecordJobRetry records a re-queued failed attempt globally
func RecordJobRetry(queue string) {
	if globalPipelineCollector != nil {
		globalPipelineCollector.RecordJobRetry(queue)
	}
}

// RecordJobDeadLettered records an exhausted job globally
func RecordJobDeadLettered(queue string) {
	if globalPipelineCollector != nil {
		globalPipelineCollector.RecordJobDeadLettered(queue)
	}
}

// RecordLockContention records a per-line lock collision globally
func RecordLockContention(lineID int) {
	if globalPipelineCollector != nil {
		globalPipelineCollector.RecordLockContention(lineID)
	}
}

// RecordCircuitState records an FTP circuit breaker transition globally
func RecordCircuitState(state string) {
	if globalPipelineCollector != nil {
		globalPipelineCollector.RecordCircuitState(state)
	}
}
