package etl

import (
	"time"
)

// SourceType selects the extraction strategy for a configured source.
type SourceType string

const (
	SourceAPI     SourceType = "api"
	SourceFile    SourceType = "file"
	SourceScraper SourceType = "scraper"
)

// DataSource describes one external provider. Priority breaks ties when
// multiple sources cover the same entity; Required controls whether retry
// exhaustion on this source fails the whole job.
type DataSource struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Type            SourceType        `json:"type"`
	Priority        int               `json:"priority"`
	Required        bool              `json:"required"`
	Endpoint        string            `json:"endpoint,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	Query           map[string]string `json:"query,omitempty"`
	Path            string            `json:"path,omitempty"`
	Selector        string            `json:"selector,omitempty"`
	UpdateFrequency string            `json:"updateFrequency,omitempty"`
	Description     string            `json:"description,omitempty"`
}

// TransformFunc converts one resolved source value into its target value.
// Implementations must be pure and must not panic on out-of-domain input;
// clamp or return a sentinel instead.
type TransformFunc func(any) any

// Mapping moves one source field (dot-path) to one target field.
type Mapping struct {
	SourceField string        `json:"sourceField"`
	TargetField string        `json:"targetField"`
	Required    bool          `json:"required"`
	Default     any           `json:"default,omitempty"`
	Transform   TransformFunc `json:"-"`
}

// PostStep is a cross-record post-processing step. Apply receives the current
// batch and returns one partial update map per record, merged shallowly.
type PostStep struct {
	Order int                                  `json:"order"`
	Name  string                               `json:"name"`
	Apply func([]*DataRecord) []map[string]any `json:"-"`
}

// RuleType enumerates the declarative validation predicates.
type RuleType string

const (
	RuleRequired    RuleType = "required"
	RuleDataType    RuleType = "type"
	RuleRange       RuleType = "range"
	RuleRegex       RuleType = "regex"
	RuleEnum        RuleType = "enum"
	RuleConsistency RuleType = "consistency"
)

// Rule is one declarative validation predicate over a single field. Critical
// failures invalidate the record; non-critical failures become warnings.
// Required rules are always critical.
type Rule struct {
	Field    string   `json:"field"`
	Type     RuleType `json:"type"`
	Critical bool     `json:"critical"`
	DataType string   `json:"dataType,omitempty"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Pattern  string   `json:"pattern,omitempty"`
	Values   []string `json:"values,omitempty"`
	// Consistency: this field's numeric value must satisfy Op against OtherField.
	OtherField string `json:"otherField,omitempty"`
	Op         string `json:"op,omitempty"` // lte | gte | eq
	Message    string `json:"message,omitempty"`
}

// TransformationRule bundles everything the pipeline needs to normalize one
// source type: ordered field mappings, validation rules, and ordered
// post-processing steps.
type TransformationRule struct {
	Mappings       []Mapping  `json:"mappings"`
	Validations    []Rule     `json:"validations,omitempty"`
	PostProcessing []PostStep `json:"postProcessing,omitempty"`
}

// FieldError describes one rule failure on one field.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationStatus is the per-record validation verdict. It never mutates the
// record it describes.
type ValidationStatus struct {
	Valid    bool         `json:"isValid"`
	Errors   []FieldError `json:"errors,omitempty"`
	Warnings []FieldError `json:"warnings,omitempty"`
}

// DedupStrategy selects how record identity is decided.
type DedupStrategy string

const (
	DedupHash       DedupStrategy = "hash"
	DedupKey        DedupStrategy = "key"
	DedupSimilarity DedupStrategy = "similarity"
)

// DedupAction selects how a detected duplicate is reconciled.
type DedupAction string

const (
	ActionSkip    DedupAction = "skip"
	ActionMerge   DedupAction = "merge"
	ActionReplace DedupAction = "replace"
)

// DuplicateDetectionConfig configures the detector for one pipeline. Key
// strategy with merge action is the default: providers frequently re-publish
// the same fact with an updated value.
type DuplicateDetectionConfig struct {
	Strategy  DedupStrategy `json:"strategy"`
	KeyFields []string      `json:"keyFields,omitempty"`
	Action    DedupAction   `json:"action"`
}

// DuplicateResult is the detector's verdict for one record.
type DuplicateResult struct {
	IsDuplicate bool    `json:"isDuplicate"`
	ExistingID  string  `json:"existingRecordId,omitempty"`
	Similarity  float64 `json:"similarityScore,omitempty"`
}

// RetryPolicy bounds retries of transient extract/load failures.
// Delay for attempt n is InitialDelay * BackoffMultiplier^n, capped at MaxDelay.
type RetryPolicy struct {
	MaxRetries        int           `json:"maxRetries"`
	BackoffMultiplier float64       `json:"backoffMultiplier"`
	InitialDelay      time.Duration `json:"initialDelay"`
	MaxDelay          time.Duration `json:"maxDelay"`
}

// ErrorPolicy values for per-record failures.
const (
	OnErrorQuarantine = "quarantine"
	OnErrorSkip       = "skip"
	OnErrorFail       = "fail"
)

// ErrorHandling governs what happens to records that fail transform or
// validation.
type ErrorHandling struct {
	OnValidationError string `json:"onValidationError"` // quarantine | skip | fail
	OnTransformError  string `json:"onTransformError"`  // skip | fail
	QuarantineTable   string `json:"quarantineTable,omitempty"`
}

// PipelineConfig is the immutable configuration for one job execution.
// Transformations are keyed by source type; the function-valued fields do not
// cross the queue and are re-bound by the worker from the pipeline catalog.
type PipelineConfig struct {
	Name            string                            `json:"name"`
	Sources         []DataSource                      `json:"sources"`
	Transformations map[SourceType]TransformationRule `json:"-"`
	BatchSize       int                               `json:"batchSize"`
	Parallelism     int                               `json:"parallelism"`
	Retry           RetryPolicy                       `json:"retryPolicy"`
	ErrorHandling   ErrorHandling                     `json:"errorHandling"`
	Dedup           DuplicateDetectionConfig          `json:"deduplication"`
}

// JobStatus is the job lifecycle state machine: queued -> running ->
// {completed | failed}. No transition skips running.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is the durable lifecycle entity for one pipeline execution. It lives in
// the status store, not in process memory beyond the worker's lifetime.
type Job struct {
	JobID         string           `json:"jobId"`
	PipelineName  string           `json:"pipelineName"`
	Sources       []string         `json:"sources"`
	Status        JobStatus        `json:"status"`
	StartTime     time.Time        `json:"startTime"`
	CompletedTime *time.Time       `json:"completedTime,omitempty"`
	Metrics       *MetricsSnapshot `json:"metrics,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// QueueMessageType identifies ETL job dispatch messages on the queue.
const QueueMessageType = "etl-job"

// QueueMessage is the queue contract between coordinator and worker. The
// consumer acknowledges only after terminal status is persisted.
type QueueMessage struct {
	Type   string         `json:"type"`
	JobID  string         `json:"jobId"`
	Config PipelineConfig `json:"config"`
}
