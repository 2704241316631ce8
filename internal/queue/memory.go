package queue

import (
	"context"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"gridflow/internal/etl"
)

// MemoryQueue is a channel-backed JobQueue for tests and single-node runs.
type MemoryQueue struct {
	ch     chan etl.QueueMessage
	closed chan struct{}
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 128
	}
	return &MemoryQueue{
		ch:     make(chan etl.QueueMessage, size),
		closed: make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, msg etl.QueueMessage) error {
	select {
	case q.ch <- msg:
		return nil
	case <-q.closed:
		return errors.New("queue closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (etl.QueueMessage, error) {
	select {
	case msg := <-q.ch:
		return msg, nil
	case <-q.closed:
		return etl.QueueMessage{}, errors.New("queue closed")
	case <-ctx.Done():
		return etl.QueueMessage{}, ctx.Err()
	}
}

func (q *MemoryQueue) Close() error {
	close(q.closed)
	return nil
}

// MemoryStatusStore keeps job status in an expiring in-process cache with the
// same TTL semantics as the redis store.
type MemoryStatusStore struct {
	cache *gocache.Cache
}

func NewMemoryStatusStore(ttl time.Duration) *MemoryStatusStore {
	if ttl == 0 {
		ttl = StatusTTL
	}
	return &MemoryStatusStore{
		cache: gocache.New(ttl, ttl/2),
	}
}

func (s *MemoryStatusStore) Put(ctx context.Context, job *etl.Job) error {
	copied := *job
	s.cache.Set(job.JobID, &copied, gocache.DefaultExpiration)
	return nil
}

func (s *MemoryStatusStore) Get(ctx context.Context, jobID string) (*etl.Job, error) {
	v, ok := s.cache.Get(jobID)
	if !ok {
		return nil, ErrNotFound
	}
	job := *(v.(*etl.Job))
	return &job, nil
}

func (s *MemoryStatusStore) Close() error {
	s.cache.Flush()
	return nil
}
