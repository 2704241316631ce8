// Package queue provides the job dispatch queue and the durable job status
// store. Both are narrow interfaces over at-least-once primitives: the redis
// backend serves multi-node deployments, the memory backend serves tests and
// single-node runs.
package queue

import (
	"context"
	"errors"
	"time"

	"gridflow/internal/etl"
)

// ErrNotFound is returned by StatusStore.Get for unknown or expired jobs.
var ErrNotFound = errors.New("job status not found")

// StatusTTL bounds how long a terminal job status stays queryable. Clients
// must poll within this window.
const StatusTTL = 24 * time.Hour

// JobQueue delivers queue messages at least once. Dequeue blocks until a
// message arrives or the context is done.
type JobQueue interface {
	Enqueue(ctx context.Context, msg etl.QueueMessage) error
	Dequeue(ctx context.Context) (etl.QueueMessage, error)
	Close() error
}

// StatusStore holds job status with a bounded TTL. Writes to one jobId come
// from a single logical owner at a time, so atomic put semantics suffice.
type StatusStore interface {
	Put(ctx context.Context, job *etl.Job) error
	Get(ctx context.Context, jobID string) (*etl.Job, error)
	Close() error
}
