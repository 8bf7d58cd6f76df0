package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const queueKey = "classify:jobs"

// Job is one pending classification request.
type Job struct {
	SubmissionID string    `json:"submission_id"`
	Attempts     int       `json:"attempts"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}

// Queue is the durable Redis-backed job queue.
type Queue struct {
	client *redis.Client
}

func NewQueue(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Queue{client: client}, nil
}

// NewQueueWithClient wraps an existing Redis client, used by tests.
func NewQueueWithClient(client *redis.Client) *Queue {
	return &Queue{client: client}
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// Enqueue pushes a submission onto the queue. Callers treat errors as
// log-only; classification is never on a request's critical path.
func (q *Queue) Enqueue(ctx context.Context, submissionID string) error {
	return q.push(ctx, Job{SubmissionID: submissionID, EnqueuedAt: time.Now()})
}

func (q *Queue) push(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, queueKey, data).Err(); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next job. Returns ok=false when the
// queue stayed empty.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (Job, bool, error) {
	values, err := q.client.BLPop(ctx, timeout, queueKey).Result()
	if errors.Is(err, redis.Nil) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, fmt.Errorf("dequeue job: %w", err)
	}
	if len(values) != 2 {
		return Job{}, false, fmt.Errorf("unexpected blpop reply of %d values", len(values))
	}

	var job Job
	if err := json.Unmarshal([]byte(values[1]), &job); err != nil {
		return Job{}, false, fmt.Errorf("unmarshal job: %w", err)
	}
	return job, true, nil
}
