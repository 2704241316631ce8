package etl

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics accumulates counters across one job's lifetime. Counter fields use
// atomics so concurrently extracting sources can update them without locks.
type Metrics struct {
	extracted        atomic.Int64
	transformed      atomic.Int64
	transformDropped atomic.Int64
	validationPass   atomic.Int64
	validationFail   atomic.Int64
	quarantined      atomic.Int64
	dedupUnique      atomic.Int64
	dedupMerged      atomic.Int64
	dedupSkipped     atomic.Int64
	loaded           atomic.Int64
	failed           atomic.Int64

	processingNanos  atomic.Int64
	processedBatches atomic.Int64
}

func (m *Metrics) AddExtracted(n int)        { m.extracted.Add(int64(n)) }
func (m *Metrics) AddTransformed(n int)      { m.transformed.Add(int64(n)) }
func (m *Metrics) AddTransformDropped(n int) { m.transformDropped.Add(int64(n)) }
func (m *Metrics) AddValidationPass(n int)   { m.validationPass.Add(int64(n)) }
func (m *Metrics) AddValidationFail(n int)   { m.validationFail.Add(int64(n)) }
func (m *Metrics) AddQuarantined(n int)      { m.quarantined.Add(int64(n)) }
func (m *Metrics) AddDedupUnique(n int)      { m.dedupUnique.Add(int64(n)) }
func (m *Metrics) AddDedupMerged(n int)      { m.dedupMerged.Add(int64(n)) }
func (m *Metrics) AddDedupSkipped(n int)     { m.dedupSkipped.Add(int64(n)) }
func (m *Metrics) AddLoaded(n int)           { m.loaded.Add(int64(n)) }
func (m *Metrics) AddFailed(n int)           { m.failed.Add(int64(n)) }

// ObserveBatch records the wall-clock duration of one batch pass.
func (m *Metrics) ObserveBatch(d time.Duration) {
	m.processingNanos.Add(int64(d))
	m.processedBatches.Add(1)
}

// MetricsSnapshot is the JSON-facing read-only view of Metrics.
type MetricsSnapshot struct {
	RecordsExtracted        int64   `json:"recordsExtracted"`
	RecordsTransformed      int64   `json:"recordsTransformed"`
	RecordsTransformDropped int64   `json:"recordsTransformDropped"`
	RecordsValidated        int64   `json:"recordsValidated"`
	RecordsValidationFailed int64   `json:"recordsValidationFailed"`
	RecordsQuarantined      int64   `json:"recordsQuarantined"`
	RecordsDedupUnique      int64   `json:"recordsDedupUnique"`
	RecordsDedupMerged      int64   `json:"recordsDedupMerged"`
	RecordsDedupSkipped     int64   `json:"recordsDedupSkipped"`
	RecordsLoaded           int64   `json:"recordsLoaded"`
	RecordsFailed           int64   `json:"recordsFailed"`
	AverageProcessingTimeMs float64 `json:"averageProcessingTimeMs"`
}

// Snapshot returns a consistent-enough point-in-time copy of the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		RecordsExtracted:        m.extracted.Load(),
		RecordsTransformed:      m.transformed.Load(),
		RecordsTransformDropped: m.transformDropped.Load(),
		RecordsValidated:        m.validationPass.Load(),
		RecordsValidationFailed: m.validationFail.Load(),
		RecordsQuarantined:      m.quarantined.Load(),
		RecordsDedupUnique:      m.dedupUnique.Load(),
		RecordsDedupMerged:      m.dedupMerged.Load(),
		RecordsDedupSkipped:     m.dedupSkipped.Load(),
		RecordsLoaded:           m.loaded.Load(),
		RecordsFailed:           m.failed.Load(),
	}
	if batches := m.processedBatches.Load(); batches > 0 {
		s.AverageProcessingTimeMs = float64(m.processingNanos.Load()) / float64(batches) / float64(time.Millisecond)
	}
	return s
}

// Add merges another snapshot into this one, for aggregate-across-jobs views.
func (s MetricsSnapshot) Add(o MetricsSnapshot) MetricsSnapshot {
	s.RecordsExtracted += o.RecordsExtracted
	s.RecordsTransformed += o.RecordsTransformed
	s.RecordsTransformDropped += o.RecordsTransformDropped
	s.RecordsValidated += o.RecordsValidated
	s.RecordsValidationFailed += o.RecordsValidationFailed
	s.RecordsQuarantined += o.RecordsQuarantined
	s.RecordsDedupUnique += o.RecordsDedupUnique
	s.RecordsDedupMerged += o.RecordsDedupMerged
	s.RecordsDedupSkipped += o.RecordsDedupSkipped
	s.RecordsLoaded += o.RecordsLoaded
	s.RecordsFailed += o.RecordsFailed
	return s
}

// LogValue implements slog.LogValuer so a snapshot logs as a group.
func (s MetricsSnapshot) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("extracted", s.RecordsExtracted),
		slog.Int64("transformed", s.RecordsTransformed),
		slog.Int64("validated", s.RecordsValidated),
		slog.Int64("quarantined", s.RecordsQuarantined),
		slog.Int64("loaded", s.RecordsLoaded),
		slog.Int64("failed", s.RecordsFailed),
	)
}
