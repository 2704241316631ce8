package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"gridflow/internal/etl"
)

const (
	jobListKey      = "gridflow:jobs"
	statusKeyPrefix = "gridflow:status:"
	popTimeout      = 5 * time.Second
)

// RedisQueue dispatches jobs over a redis list. BRPOP removes the message on
// delivery; the worker persists terminal status before returning, which is
// the acknowledge point for at-least-once semantics.
type RedisQueue struct {
	client *redis.Client
}

func NewRedisQueue(addr string) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	slog.Info("Redis queue connected", "addr", addr)
	return &RedisQueue{client: client}, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, msg etl.QueueMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode queue message: %w", err)
	}
	if err := q.client.LPush(ctx, jobListKey, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", msg.JobID, err)
	}
	slog.Debug("Enqueued job", "job_id", msg.JobID)
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (etl.QueueMessage, error) {
	for {
		res, err := q.client.BRPop(ctx, popTimeout, jobListKey).Result()
		if errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return etl.QueueMessage{}, ctx.Err()
			}
			continue
		}
		if err != nil {
			return etl.QueueMessage{}, fmt.Errorf("failed to dequeue: %w", err)
		}

		var msg etl.QueueMessage
		if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
			slog.Error("Dropping undecodable queue message", "error", err)
			continue
		}
		return msg, nil
	}
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// RedisStatusStore keeps job status under per-job keys with the standard TTL
// applied on every write, so terminal statuses expire on their own.
type RedisStatusStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStatusStore(addr string, ttl time.Duration) (*RedisStatusStore, error) {
	if ttl == 0 {
		ttl = StatusTTL
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &RedisStatusStore{client: client, ttl: ttl}, nil
}

func (s *RedisStatusStore) Put(ctx context.Context, job *etl.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job status: %w", err)
	}
	if err := s.client.Set(ctx, statusKeyPrefix+job.JobID, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store status for job %s: %w", job.JobID, err)
	}
	return nil
}

func (s *RedisStatusStore) Get(ctx context.Context, jobID string) (*etl.Job, error) {
	payload, err := s.client.Get(ctx, statusKeyPrefix+jobID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read status for job %s: %w", jobID, err)
	}

	var job etl.Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return nil, fmt.Errorf("failed to decode status for job %s: %w", jobID, err)
	}
	return &job, nil
}

func (s *RedisStatusStore) Close() error {
	return s.client.Close()
}
