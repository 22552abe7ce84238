package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrEmpty is returned by Pop when no job id is waiting.
var ErrEmpty = errors.New("queue: empty")

// DefaultKey is the list producers push pending job ids onto.
const DefaultKey = "pending_jobs"

// RedisQueue hands pending job ids from producers to workers through a
// single Redis list. Producers LPUSH, workers RPOP, which gives FIFO order.
type RedisQueue struct {
	client redis.Cmdable
	key    string
}

// NewRedisQueue builds a queue over the given list key. An empty key falls
// back to DefaultKey.
func NewRedisQueue(client redis.Cmdable, key string) *RedisQueue {
	if key == "" {
		key = DefaultKey
	}
	return &RedisQueue{client: client, key: key}
}

// Key returns the list key backing the queue.
func (q *RedisQueue) Key() string { return q.key }

// Pop removes and returns the oldest id. RPOP is a single atomic command, so
// concurrent callers never receive the same id.
func (q *RedisQueue) Pop(ctx context.Context) (string, error) {
	jobID, err := q.client.RPop(ctx, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrEmpty
	}
	if err != nil {
		return "", fmt.Errorf("pop %s: %w", q.key, err)
	}
	return jobID, nil
}

// Push appends a job id for the workers to pick up.
func (q *RedisQueue) Push(ctx context.Context, jobID string) error {
	if jobID == "" {
		return errors.New("queue: empty job id")
	}
	if err := q.client.LPush(ctx, q.key, jobID).Err(); err != nil {
		return fmt.Errorf("push %s: %w", q.key, err)
	}
	return nil
}

// Depth returns the number of ids waiting.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("depth %s: %w", q.key, err)
	}
	return n, nil
}
