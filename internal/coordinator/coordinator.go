// Package coordinator is the public entry point for starting ETL jobs,
// tracking their status, and exposing metrics. It owns the Job lifecycle and
// is the sole writer of job status.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"gridflow/internal/etl"
	"gridflow/internal/pipeline"
	"gridflow/internal/queue"
	"gridflow/internal/sources"
)

// JobRequest is the job submission body.
type JobRequest struct {
	JobID        string      `json:"jobId"`
	PipelineName string      `json:"pipelineName"`
	Sources      []string    `json:"sources"`
	Options      *JobOptions `json:"options,omitempty"`
}

// JobOptions are per-request overrides of the pipeline template.
type JobOptions struct {
	BatchSize   int `json:"batchSize,omitempty"`
	Parallelism int `json:"parallelism,omitempty"`
}

// Coordinator dispatches accepted jobs to the queue and processes them as a
// queue consumer. Orchestrator instances live only while their job runs.
type Coordinator struct {
	catalog   map[string]etl.DataSource
	pipelines map[string]etl.PipelineConfig
	jobs      queue.JobQueue
	status    queue.StatusStore
	registry  *sources.Registry
	sink      pipeline.RecordSink
	quarSink  pipeline.QuarantineSink

	mu     sync.RWMutex
	active map[string]*pipeline.Orchestrator
}

func New(jobs queue.JobQueue, status queue.StatusStore, registry *sources.Registry, sink pipeline.RecordSink, quarSink pipeline.QuarantineSink) *Coordinator {
	return &Coordinator{
		catalog:   make(map[string]etl.DataSource),
		pipelines: make(map[string]etl.PipelineConfig),
		jobs:      jobs,
		status:    status,
		registry:  registry,
		sink:      sink,
		quarSink:  quarSink,
		active:    make(map[string]*pipeline.Orchestrator),
	}
}

// RegisterSource adds one source to the catalog, replacing any entry with the
// same id.
func (c *Coordinator) RegisterSource(src etl.DataSource) {
	c.catalog[src.ID] = src
}

// RegisterPipeline adds a pipeline template that job requests can reference
// by name. Its transformation set travels with every job started from it.
func (c *Coordinator) RegisterPipeline(cfg etl.PipelineConfig) {
	c.pipelines[cfg.Name] = cfg
}

// StartJob validates the request, persists the initial queued status, and
// enqueues the job for asynchronous execution. Unknown source ids reject the
// whole request: a typo must not silently shrink job scope.
func (c *Coordinator) StartJob(ctx context.Context, req JobRequest) (*etl.Job, error) {
	if req.JobID == "" {
		return nil, etl.NewConfigurationError("jobId is required")
	}
	if req.PipelineName == "" {
		return nil, etl.NewConfigurationError("pipelineName is required")
	}
	if len(req.Sources) == 0 {
		return nil, etl.NewConfigurationError("at least one source is required")
	}

	if existing, err := c.status.Get(ctx, req.JobID); err == nil && !existing.Status.Terminal() {
		return nil, etl.NewConfigurationError("job %s already exists with status %s", req.JobID, existing.Status)
	}

	template, ok := c.pipelines[req.PipelineName]
	if !ok {
		return nil, etl.NewConfigurationError("unknown pipeline %q", req.PipelineName)
	}

	cfg := template
	cfg.Sources = make([]etl.DataSource, 0, len(req.Sources))
	for _, id := range req.Sources {
		src, ok := c.catalog[id]
		if !ok {
			return nil, etl.NewConfigurationError("unknown source %q", id)
		}
		cfg.Sources = append(cfg.Sources, src)
	}
	if req.Options != nil {
		if req.Options.BatchSize > 0 {
			cfg.BatchSize = req.Options.BatchSize
		}
		if req.Options.Parallelism > 0 {
			cfg.Parallelism = req.Options.Parallelism
		}
	}

	job := &etl.Job{
		JobID:        req.JobID,
		PipelineName: req.PipelineName,
		Sources:      req.Sources,
		Status:       etl.StatusQueued,
		StartTime:    time.Now().UTC(),
	}
	if err := c.status.Put(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist job status: %w", err)
	}

	msg := etl.QueueMessage{Type: etl.QueueMessageType, JobID: job.JobID, Config: cfg}
	if err := c.jobs.Enqueue(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to enqueue job %s: %w", job.JobID, err)
	}

	slog.Info("Job accepted", "job_id", job.JobID, "pipeline", req.PipelineName, "sources", len(req.Sources))
	return job, nil
}

// ProcessMessage executes one dequeued job: transitions status to running,
// drives the orchestrator, then persists the terminal status before
// returning. Orchestrator state is always released, success or not.
func (c *Coordinator) ProcessMessage(ctx context.Context, msg etl.QueueMessage) error {
	if msg.Type != etl.QueueMessageType {
		return fmt.Errorf("unexpected queue message type %q", msg.Type)
	}

	job, err := c.status.Get(ctx, msg.JobID)
	if err != nil {
		job = &etl.Job{
			JobID:        msg.JobID,
			PipelineName: msg.Config.Name,
			Status:       etl.StatusQueued,
		}
	}

	// Function-valued transform fields do not cross the queue; re-bind the
	// transformation set from the registered template.
	cfg := msg.Config
	if template, ok := c.pipelines[cfg.Name]; ok {
		cfg.Transformations = template.Transformations
	}

	job.Status = etl.StatusRunning
	job.StartTime = time.Now().UTC()
	if err := c.status.Put(ctx, job); err != nil {
		return fmt.Errorf("failed to mark job %s running: %w", msg.JobID, err)
	}

	orch, err := pipeline.New(msg.JobID, cfg, c.registry, c.sink, c.quarSink)
	if err != nil {
		c.finishJob(ctx, job, nil, err)
		return err
	}

	c.mu.Lock()
	c.active[msg.JobID] = orch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.active, msg.JobID)
		c.mu.Unlock()
		orch.Clear()
	}()

	runErr := orch.Run(ctx)
	c.finishJob(ctx, job, orch, runErr)
	return runErr
}

func (c *Coordinator) finishJob(ctx context.Context, job *etl.Job, orch *pipeline.Orchestrator, runErr error) {
	now := time.Now().UTC()
	job.CompletedTime = &now
	if orch != nil {
		snapshot := orch.Metrics()
		job.Metrics = &snapshot
	}
	if runErr != nil {
		job.Status = etl.StatusFailed
		job.Error = runErr.Error()
	} else {
		job.Status = etl.StatusCompleted
	}

	if err := c.status.Put(ctx, job); err != nil {
		slog.Error("Failed to persist terminal job status", "job_id", job.JobID, "error", err)
	}
	slog.Info("Job finished", "job_id", job.JobID, "status", job.Status)
}

// RunWorker consumes the queue until the context is cancelled. Terminal
// status is persisted inside ProcessMessage before the next dequeue, which is
// the acknowledge point for at-least-once delivery.
func (c *Coordinator) RunWorker(ctx context.Context) {
	for {
		msg, err := c.jobs.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("Worker dequeue failed", "error", err)
			continue
		}
		if err := c.ProcessMessage(ctx, msg); err != nil {
			slog.Error("Job execution failed", "job_id", msg.JobID, "error", err)
		}
	}
}

// JobStatus returns the persisted status, enriched with live metrics when the
// job is currently held by an active orchestrator.
func (c *Coordinator) JobStatus(ctx context.Context, jobID string) (*etl.Job, error) {
	job, err := c.status.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	orch, running := c.active[jobID]
	c.mu.RUnlock()
	if running {
		snapshot := orch.Metrics()
		job.Metrics = &snapshot
	}
	return job, nil
}

// JobStats returns the live pipeline stats for an actively running job.
func (c *Coordinator) JobStats(jobID string) (pipeline.Stats, bool) {
	c.mu.RLock()
	orch, ok := c.active[jobID]
	c.mu.RUnlock()
	if !ok {
		return pipeline.Stats{}, false
	}
	return orch.PipelineStats(), true
}

// AggregateMetrics sums counters across all actively running jobs.
func (c *Coordinator) AggregateMetrics() etl.MetricsSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var agg etl.MetricsSnapshot
	for _, orch := range c.active {
		agg = agg.Add(orch.Metrics())
	}
	return agg
}

// AvailableSources returns the static source catalog, ordered by id.
func (c *Coordinator) AvailableSources() []etl.DataSource {
	out := make([]etl.DataSource, 0, len(c.catalog))
	for _, src := range c.catalog {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
