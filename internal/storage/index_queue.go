package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// IndexQueueKey is the Redis list holding pending embedding jobs
const IndexQueueKey = "index:embeddings"

// IndexJob asks the indexer to embed one badge image
type IndexJob struct {
	ImageID    string    `json:"imageId"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// IndexQueue is a FIFO of embedding jobs backed by a Redis list
type IndexQueue struct {
	redis *RedisCache
	key   string
}

// NewIndexQueue creates a queue on the default key
func NewIndexQueue(redis *RedisCache) *IndexQueue {
	return &IndexQueue{redis: redis, key: IndexQueueKey}
}

// Enqueue appends a job. Attempt defaults to 1.
func (q *IndexQueue) Enqueue(ctx context.Context, job IndexJob) error {
	if job.ImageID == "" {
		return errors.New("index job requires an image id")
	}
	if job.Attempt <= 0 {
		job.Attempt = 1
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal index job: %w", err)
	}
	if err := q.redis.Client().LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue index job: %w", err)
	}
	return nil
}

// EnqueueImage is a convenience for a first-attempt job
func (q *IndexQueue) EnqueueImage(ctx context.Context, imageID string) error {
	return q.Enqueue(ctx, IndexJob{ImageID: imageID})
}

// Dequeue blocks up to timeout for the next job. It returns (nil, nil) when
// the timeout elapses with nothing queued.
func (q *IndexQueue) Dequeue(ctx context.Context, timeout time.Duration) (*IndexJob, error) {
	res, err := q.redis.Client().BRPop(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue index job: %w", err)
	}
	// BRPOP returns [key, value]
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply of length %d", len(res))
	}

	var job IndexJob
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal index job: %w", err)
	}
	return &job, nil
}

// Len returns the number of queued jobs
func (q *IndexQueue) Len(ctx context.Context) (int64, error) {
	return q.redis.Client().LLen(ctx, q.key).Result()
}
