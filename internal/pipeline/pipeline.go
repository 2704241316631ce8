// Package pipeline drives one job from sources to sink: a strict
// extract -> transform -> validate -> deduplicate -> load state machine,
// executed per batch, with retry and quarantine policy.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"gridflow/internal/dedupe"
	"gridflow/internal/etl"
	"gridflow/internal/sources"
	"gridflow/internal/storage"
	"gridflow/internal/transform"
	"gridflow/internal/validate"
)

// RecordSink receives loaded batches. The sqlite record store satisfies it.
type RecordSink interface {
	UpsertBatch(ctx context.Context, records []*etl.DataRecord) error
}

// QuarantineSink persists records that fail validation under the quarantine
// policy.
type QuarantineSink interface {
	Add(ctx context.Context, qr storage.QuarantinedRecord) error
}

// Stats is the read-only pipeline state snapshot served alongside metrics.
type Stats struct {
	Metrics     etl.MetricsSnapshot `json:"metrics"`
	Duplicates  map[string]int      `json:"duplicates"`
	Quarantined int                 `json:"quarantined"`
	Accepted    int                 `json:"accepted"`
}

// Orchestrator owns one job's in-flight records and dedup cache. It is not
// reused across jobs; Clear releases its memory once the job terminates.
type Orchestrator struct {
	jobID     string
	cfg       etl.PipelineConfig
	registry  *sources.Registry
	engine    *transform.Engine
	validator *validate.Validator
	detector  *dedupe.Detector
	sink      RecordSink
	quarSink  QuarantineSink
	metrics   *etl.Metrics

	mu          sync.Mutex
	accepted    []*etl.DataRecord
	acceptedIdx map[string]int
	quarantined []storage.QuarantinedRecord
}

// New builds an orchestrator bound to one immutable job config. Validation
// rules from the config's transformation set are registered here, so a
// malformed rule fails the job before any extraction happens.
func New(jobID string, cfg etl.PipelineConfig, registry *sources.Registry, sink RecordSink, quarSink QuarantineSink) (*Orchestrator, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}

	v := validate.New()
	for st, rule := range cfg.Transformations {
		if err := v.RegisterRules(st, rule.Validations); err != nil {
			return nil, err
		}
	}

	return &Orchestrator{
		jobID:       jobID,
		cfg:         cfg,
		registry:    registry,
		engine:      transform.New(cfg.Transformations),
		validator:   v,
		detector:    dedupe.New(cfg.Dedup),
		sink:        sink,
		quarSink:    quarSink,
		metrics:     &etl.Metrics{},
		acceptedIdx: make(map[string]int),
	}, nil
}

// Run drains every configured source. Sources run concurrently up to the
// configured parallelism; batches within one source run sequentially so the
// dedup index sees records in extraction order. An extraction failure aborts
// the job only when the source is marked required; a fail-policy batch abort
// fails the job regardless. Siblings are never cancelled early, so partial
// metrics from already-loaded batches survive.
func (o *Orchestrator) Run(ctx context.Context) error {
	srcs := make([]etl.DataSource, len(o.cfg.Sources))
	copy(srcs, o.cfg.Sources)
	sort.SliceStable(srcs, func(i, j int) bool { return srcs[i].Priority > srcs[j].Priority })

	slog.Info("Pipeline run starting",
		"job_id", o.jobID, "pipeline", o.cfg.Name, "sources", len(srcs), "parallelism", o.cfg.Parallelism)

	var g errgroup.Group
	g.SetLimit(o.cfg.Parallelism)

	sourceErrs := make([]error, len(srcs))
	for i, src := range srcs {
		g.Go(func() error {
			sourceErrs[i] = o.processSource(ctx, src)
			return nil
		})
	}
	g.Wait()

	var jobErr error
	for i, err := range sourceErrs {
		if err == nil {
			continue
		}
		// Fail-policy aborts are deterministic record failures, not source
		// outages; they fail the job no matter how the source is flagged.
		if etl.IsValidation(err) || etl.IsTransform(err) {
			slog.Error("Fail policy aborted the job", "job_id", o.jobID, "source", srcs[i].ID, "error", err)
			if jobErr == nil {
				jobErr = err
			}
			continue
		}
		if srcs[i].Required {
			slog.Error("Required source failed, job aborts", "job_id", o.jobID, "source", srcs[i].ID, "error", err)
			if jobErr == nil {
				jobErr = err
			}
		} else {
			slog.Warn("Optional source failed, continuing", "job_id", o.jobID, "source", srcs[i].ID, "error", err)
		}
	}

	if jobErr != nil {
		return jobErr
	}
	slog.Info("Pipeline run completed", "job_id", o.jobID, "metrics", o.metrics.Snapshot())
	return nil
}

func (o *Orchestrator) processSource(ctx context.Context, src etl.DataSource) error {
	extractor, err := o.registry.Lookup(src.Type)
	if err != nil {
		return err
	}

	var records []*etl.DataRecord
	err = withRetry(ctx, o.cfg.Retry, src.ID, func() error {
		var exErr error
		records, exErr = extractor.Extract(ctx, src)
		return exErr
	})
	if err != nil {
		o.metrics.AddFailed(1)
		return err
	}

	o.metrics.AddExtracted(len(records))
	slog.Debug("Source extracted", "job_id", o.jobID, "source", src.ID, "records", len(records))

	for start := 0; start < len(records); start += o.cfg.BatchSize {
		end := min(start+o.cfg.BatchSize, len(records))
		if err := o.processBatch(ctx, records[start:end], src); err != nil {
			return err
		}
	}
	return nil
}

// processBatch runs one batch through transform, validate, dedupe, and load.
func (o *Orchestrator) processBatch(ctx context.Context, batch []*etl.DataRecord, src etl.DataSource) error {
	started := time.Now()
	defer func() { o.metrics.ObserveBatch(time.Since(started)) }()

	// Transform. From here on record data holds only target-schema fields.
	survivors := batch[:0:len(batch)]
	for _, rec := range batch {
		if err := o.engine.Apply(rec, src.Type); err != nil {
			if etl.IsTransform(err) && o.cfg.ErrorHandling.OnTransformError == etl.OnErrorSkip {
				o.metrics.AddTransformDropped(1)
				slog.Debug("Dropped record on transform error", "job_id", o.jobID, "record", rec.ID, "error", err)
				continue
			}
			return fmt.Errorf("batch aborted: %w", err)
		}
		o.metrics.AddTransformed(1)
		survivors = append(survivors, rec)
	}
	o.engine.PostProcess(survivors, src.Type)

	// Validate.
	valid := survivors[:0:len(survivors)]
	for _, rec := range survivors {
		status := o.validator.ValidateRecord(rec, src.Type)
		rec.Meta.QualityScore = o.validator.QualityScore(rec, src.Type)
		if status.Valid {
			o.metrics.AddValidationPass(1)
			valid = append(valid, rec)
			continue
		}

		o.metrics.AddValidationFail(1)
		switch o.cfg.ErrorHandling.OnValidationError {
		case etl.OnErrorSkip:
			slog.Debug("Dropped invalid record", "job_id", o.jobID, "record", rec.ID)
		case etl.OnErrorFail:
			return fmt.Errorf("batch aborted: %w", &etl.ValidationError{RecordID: rec.ID, Errors: status.Errors})
		default:
			if err := o.quarantineRecord(ctx, rec, status.Errors); err != nil {
				return err
			}
		}
	}

	// Deduplicate against everything accepted so far in this job. The index
	// and the accepted list share one lock; concurrently extracting sources
	// serialize here and nowhere else.
	loadBatch := o.dedupeBatch(valid)
	if len(loadBatch) == 0 {
		return nil
	}

	// Load, retrying transient sink failures.
	err := withRetry(ctx, o.cfg.Retry, src.ID, func() error {
		return o.sink.UpsertBatch(ctx, loadBatch)
	})
	if err != nil {
		o.metrics.AddFailed(len(loadBatch))
		return err
	}
	o.metrics.AddLoaded(len(loadBatch))
	return nil
}

func (o *Orchestrator) dedupeBatch(batch []*etl.DataRecord) []*etl.DataRecord {
	o.mu.Lock()
	defer o.mu.Unlock()

	loadBatch := make([]*etl.DataRecord, 0, len(batch))
	for _, rec := range batch {
		result := o.detector.Check(rec, o.accepted)
		if !result.IsDuplicate {
			o.acceptedIdx[rec.ID] = len(o.accepted)
			o.accepted = append(o.accepted, rec)
			o.metrics.AddDedupUnique(1)
			loadBatch = append(loadBatch, rec)
			continue
		}

		idx, ok := o.acceptedIdx[result.ExistingID]
		if !ok {
			// Index points at a record this job never accepted; treat as new.
			o.acceptedIdx[rec.ID] = len(o.accepted)
			o.accepted = append(o.accepted, rec)
			o.metrics.AddDedupUnique(1)
			loadBatch = append(loadBatch, rec)
			continue
		}

		resolved := o.detector.Resolve(rec, o.accepted[idx])
		if resolved == nil {
			o.metrics.AddDedupSkipped(1)
			continue
		}
		o.accepted[idx] = resolved
		o.metrics.AddDedupMerged(1)
		// Re-load the reconciled record; the sink upsert keeps it one row.
		loadBatch = append(loadBatch, resolved)
	}
	return loadBatch
}

func (o *Orchestrator) quarantineRecord(ctx context.Context, rec *etl.DataRecord, errs []etl.FieldError) error {
	qr := storage.QuarantinedRecord{
		Record:        rec,
		JobID:         o.jobID,
		Errors:        errs,
		QuarantinedAt: time.Now().UTC(),
	}
	if o.quarSink != nil {
		if err := o.quarSink.Add(ctx, qr); err != nil {
			return fmt.Errorf("failed to persist quarantined record %s: %w", rec.ID, err)
		}
	}
	o.mu.Lock()
	o.quarantined = append(o.quarantined, qr)
	o.mu.Unlock()
	o.metrics.AddQuarantined(1)
	slog.Info("Record quarantined", "job_id", o.jobID, "record", rec.ID, "errors", len(errs))
	return nil
}

// Metrics returns a point-in-time snapshot of the job's counters.
func (o *Orchestrator) Metrics() etl.MetricsSnapshot {
	return o.metrics.Snapshot()
}

// PipelineStats returns counters plus dedup cache stats and quarantine size.
func (o *Orchestrator) PipelineStats() Stats {
	o.mu.Lock()
	accepted := len(o.accepted)
	quarantined := len(o.quarantined)
	o.mu.Unlock()
	return Stats{
		Metrics:     o.metrics.Snapshot(),
		Duplicates:  o.detector.CacheStats(),
		Quarantined: quarantined,
		Accepted:    accepted,
	}
}

// Clear releases the dedup cache, the accepted-record arena, and the
// quarantine buffer. Must be called when the job reaches a terminal state.
func (o *Orchestrator) Clear() {
	o.mu.Lock()
	o.accepted = nil
	o.acceptedIdx = make(map[string]int)
	o.quarantined = nil
	o.mu.Unlock()
	o.detector.ClearCache()
}
