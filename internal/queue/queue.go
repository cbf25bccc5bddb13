// Package queue implements a Redis-backed, priority-ordered FIFO job queue
// with blocking completion notification and stalled-job reaping, the
// dispatcher's single point of contact with the job store.
//
// Grounded on internal/orchestrator/kafka.go's worker-pool/channel shape,
// adapted from a Kafka consumer-group model to a Redis list/hash model, and
// on internal/skills/redis_cache.go / internal/orchestrator/dedupe.go's
// Redis client idioms, over github.com/redis/go-redis/v9.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Priority selects which of a kind's three waiting lists a job joins.
// The dequeue loop drains high before normal before low.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

var priorityOrder = []Priority{PriorityHigh, PriorityNormal, PriorityLow}

const (
	completedRingSize = 100
	failedRingSize    = 500

	defaultAttempts       = 3
	defaultBackoffSeconds = 2
	defaultTimeout        = 90 * time.Second
)

// kindTimeouts is the hard per-kind timeout table (§5): exceeding it fails
// a job terminally regardless of attempts remaining.
var kindTimeouts = map[string]time.Duration{
	"audio": 120 * time.Second,
	"image": 60 * time.Second,
	"ocr":   60 * time.Second,
	"llm":   90 * time.Second,
}

// ProviderAttempt records one hop of a job's provider fallback chain, kept
// for the observability trail exposed by GET /api/v1/queues/stats.
type ProviderAttempt struct {
	Provider          string `json:"provider"`
	Outcome           string `json:"outcome"`
	Err               string `json:"err,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

// Job is a unit of dispatchable work belonging to one kind (audio, image,
// ocr, llm). Payload is an opaque, kind-specific JSON blob.
type Job struct {
	ID               string            `json:"id"`
	Kind             string            `json:"kind"`
	Payload          json.RawMessage   `json:"payload"`
	Priority         Priority          `json:"priority"`
	Status           Status            `json:"status"`
	Result           json.RawMessage   `json:"result,omitempty"`
	Error            string            `json:"error,omitempty"`
	Attempts         int               `json:"attempts"`
	MaxAttempts      int               `json:"max_attempts"`
	BackoffSeconds   int               `json:"backoff_seconds"`
	TimeoutMs        int               `json:"timeout_ms"`
	ProviderAttempts []ProviderAttempt `json:"provider_attempts,omitempty"`
	EnqueuedAt       time.Time         `json:"enqueued_at"`
	LockedAt         time.Time         `json:"locked_at,omitempty"`
	WorkerID         string            `json:"worker_id,omitempty"`
}

// EnqueueOptions carries spec.md §4.B's enqueue contract fields beyond
// kind/payload: `{priority, timeoutMs, attempts, backoff}`. A zero value in
// any field falls back to its default (attempts=3, backoff=2s, timeoutMs
// from the per-kind hard-timeout table, priority=normal).
type EnqueueOptions struct {
	Priority       Priority
	TimeoutMs      int
	Attempts       int
	BackoffSeconds int
}

// Stats summarizes queue depth for one kind.
type Stats struct {
	Kind      string `json:"kind"`
	Waiting   int64  `json:"waiting"`
	Active    int64  `json:"active"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
}

// Queue is a Redis-backed job queue. One Queue instance serves all kinds;
// keys are namespaced by kind.
type Queue struct {
	client     redis.UniversalClient
	resultTTL  time.Duration
	stallAfter time.Duration
}

// New constructs a Queue over an existing Redis client.
func New(client redis.UniversalClient, resultTTL, stallAfter time.Duration) *Queue {
	if resultTTL <= 0 {
		resultTTL = time.Hour
	}
	if stallAfter <= 0 {
		stallAfter = time.Minute
	}
	return &Queue{client: client, resultTTL: resultTTL, stallAfter: stallAfter}
}

func waitingKey(kind string, p Priority) string { return fmt.Sprintf("queue:%s:waiting:%s", kind, p) }
func activeKey(kind string) string              { return fmt.Sprintf("queue:%s:active", kind) }
func resultKey(jobID string) string             { return fmt.Sprintf("queue:result:%s", jobID) }
func doneChannel(jobID string) string           { return fmt.Sprintf("jobresult:%s", jobID) }
func completedListKey(kind string) string       { return fmt.Sprintf("queue:%s:completed", kind) }
func failedListKey(kind string) string          { return fmt.Sprintf("queue:%s:failed", kind) }

// Enqueue RPUSHes the job envelope onto its kind+priority waiting list,
// per spec.md §4.B: `enqueue(kind, payload, {priority, timeoutMs, attempts,
// backoff}) -> JobHandle`.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload json.RawMessage, opts EnqueueOptions) (*Job, error) {
	priority := opts.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	backoff := opts.BackoffSeconds
	if backoff <= 0 {
		backoff = defaultBackoffSeconds
	}
	timeoutMs := opts.TimeoutMs
	if timeoutMs <= 0 {
		timeout := defaultTimeout
		if d, ok := kindTimeouts[kind]; ok {
			timeout = d
		}
		timeoutMs = int(timeout.Milliseconds())
	}

	job := &Job{
		ID:             uuid.NewString(),
		Kind:           kind,
		Payload:        payload,
		Priority:       priority,
		Status:         StatusQueued,
		MaxAttempts:    attempts,
		BackoffSeconds: backoff,
		TimeoutMs:      timeoutMs,
		EnqueuedAt:     time.Now().UTC(),
	}
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("queue: marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, waitingKey(kind, priority), data).Err(); err != nil {
		return nil, fmt.Errorf("queue: enqueue: %w", err)
	}
	return job, nil
}

// Dequeue blocks (respecting ctx) until a waiting job of kind is available,
// LPOPing high before normal before low, then marks it active and records
// the owning worker.
func (q *Queue) Dequeue(ctx context.Context, kind, workerID string, pollInterval time.Duration) (*Job, error) {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		for _, p := range priorityOrder {
			raw, err := q.client.LPop(ctx, waitingKey(kind, p)).Bytes()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				return nil, fmt.Errorf("queue: dequeue: %w", err)
			}
			var job Job
			if err := json.Unmarshal(raw, &job); err != nil {
				log.Warn().Err(err).Str("kind", kind).Msg("queue_dequeue_decode_error")
				continue
			}
			job.Status = StatusActive
			job.Attempts++
			job.LockedAt = time.Now().UTC()
			job.WorkerID = workerID
			if err := q.setActive(ctx, &job); err != nil {
				return nil, err
			}
			return &job, nil
		}

		select {
		case <-ctx.Done():
			return nil, nil
		case <-ticker.C:
		}
	}
}

func (q *Queue) setActive(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal active job: %w", err)
	}
	return q.client.HSet(ctx, activeKey(job.Kind), job.ID, data).Err()
}

// Heartbeat refreshes a job's lock timestamp so the stall reaper leaves it
// alone. Workers call this periodically while processing long jobs.
func (q *Queue) Heartbeat(ctx context.Context, job *Job) error {
	job.LockedAt = time.Now().UTC()
	return q.setActive(ctx, job)
}

// Complete marks a job finished with a result, pushes it onto its kind's
// ring-bounded completed list, and publishes completion so any blocked
// Await callers wake immediately.
func (q *Queue) Complete(ctx context.Context, job *Job, result json.RawMessage) error {
	job.Status = StatusCompleted
	job.Result = result
	job.Error = ""
	return q.finish(ctx, job, completedListKey(job.Kind), completedRingSize)
}

// Fail marks a job failed with an error message, pushes it onto its kind's
// ring-bounded failed list, and publishes completion.
func (q *Queue) Fail(ctx context.Context, job *Job, cause error) error {
	job.Status = StatusFailed
	job.Error = cause.Error()
	return q.finish(ctx, job, failedListKey(job.Kind), failedRingSize)
}

// Requeue returns a job that failed but still has attempts remaining to
// the front of its kind+priority waiting list, per §4.B's "retries use
// exponential backoff starting at 2s, default 3 attempts" guarantee. The
// caller (the dispatcher) is responsible for sleeping the backoff delay
// before calling this.
func (q *Queue) Requeue(ctx context.Context, job *Job) error {
	job.Status = StatusQueued
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal requeued job: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.HDel(ctx, activeKey(job.Kind), job.ID)
	pipe.LPush(ctx, waitingKey(job.Kind, job.Priority), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: requeue: %w", err)
	}
	return nil
}

func (q *Queue) finish(ctx context.Context, job *Job, ringKey string, ringSize int64) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal finished job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.HDel(ctx, activeKey(job.Kind), job.ID)
	pipe.Set(ctx, resultKey(job.ID), data, q.resultTTL)
	pipe.LPush(ctx, ringKey, data)
	pipe.LTrim(ctx, ringKey, 0, ringSize-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: finish: %w", err)
	}
	return q.client.Publish(ctx, doneChannel(job.ID), string(job.Status)).Err()
}

// Await blocks until job reaches a terminal status or ctx is cancelled. It
// checks the result key, then subscribes, then re-checks, so a completion
// landing between the initial check and the subscribe call is never missed.
func (q *Queue) Await(ctx context.Context, jobID string) (*Job, error) {
	if job, ok, err := q.getResult(ctx, jobID); err != nil {
		return nil, err
	} else if ok {
		return job, nil
	}

	sub := q.client.Subscribe(ctx, doneChannel(jobID))
	defer sub.Close()

	if job, ok, err := q.getResult(ctx, jobID); err != nil {
		return nil, err
	} else if ok {
		return job, nil
	}

	ch := sub.Channel()
	select {
	case <-ch:
		job, _, err := q.getResult(ctx, jobID)
		return job, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *Queue) getResult(ctx context.Context, jobID string) (*Job, bool, error) {
	raw, err := q.client.Get(ctx, resultKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, err
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, false, fmt.Errorf("queue: decode result: %w", err)
	}
	return &job, true, nil
}

// Stats reports queue depth for one kind.
func (q *Queue) Stats(ctx context.Context, kind string) (Stats, error) {
	var waiting int64
	for _, p := range priorityOrder {
		n, err := q.client.LLen(ctx, waitingKey(kind, p)).Result()
		if err != nil {
			return Stats{}, err
		}
		waiting += n
	}
	active, err := q.client.HLen(ctx, activeKey(kind)).Result()
	if err != nil {
		return Stats{}, err
	}
	completed, err := q.client.LLen(ctx, completedListKey(kind)).Result()
	if err != nil {
		return Stats{}, err
	}
	failed, err := q.client.LLen(ctx, failedListKey(kind)).Result()
	if err != nil {
		return Stats{}, err
	}
	return Stats{Kind: kind, Waiting: waiting, Active: active, Completed: completed, Failed: failed}, nil
}

// ReapStalled moves active jobs whose lock timestamp is older than the
// configured stall timeout back onto the front of their kind's high-priority
// waiting list, whatever their original priority, so they are retried ahead
// of newly enqueued work.
func (q *Queue) ReapStalled(ctx context.Context, kind string) (int, error) {
	entries, err := q.client.HGetAll(ctx, activeKey(kind)).Result()
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-q.stallAfter)
	reaped := 0
	for jobID, raw := range entries {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			log.Warn().Err(err).Str("job_id", jobID).Msg("queue_reap_decode_error")
			q.client.HDel(ctx, activeKey(kind), jobID)
			continue
		}
		if job.LockedAt.After(cutoff) {
			continue
		}
		job.Status = StatusQueued
		data, err := json.Marshal(job)
		if err != nil {
			return reaped, fmt.Errorf("queue: marshal reaped job: %w", err)
		}
		pipe := q.client.TxPipeline()
		pipe.LPush(ctx, waitingKey(kind, PriorityHigh), data)
		pipe.HDel(ctx, activeKey(kind), jobID)
		if _, err := pipe.Exec(ctx); err != nil {
			return reaped, fmt.Errorf("queue: requeue stalled job: %w", err)
		}
		log.Warn().Str("job_id", jobID).Str("kind", kind).Int("attempts", job.Attempts).Msg("queue_job_stalled_requeued")
		reaped++
	}
	return reaped, nil
}
