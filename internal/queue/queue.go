// Package queue implements a durable, prioritized, retrying job queue with
// deterministic de-duplication, backed by Redis sorted sets and hashes.
// See DESIGN.md for why an AMQP-based transport was dropped in favor of
// this.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arjunmehta/hlsvod/internal/config"
	"github.com/arjunmehta/hlsvod/internal/metrics"
	"github.com/arjunmehta/hlsvod/pkg/models"
)

const (
	readyKey     = "queue:ready"
	delayedKey   = "queue:delayed"
	activeKey    = "queue:active"
	jobKeyPrefix = "queue:job:"

	visibilityTimeout = 5 * time.Minute
	maxBackoff        = time.Hour
)

// EnqueueOptions customizes one Enqueue call.
type EnqueueOptions struct {
	Priority models.Priority
	JobID    string // deterministic id; empty generates a random one
	Delay    time.Duration
}

// JobRecord is the Redis hash payload backing one queued job. It is the
// queue's own bookkeeping, independent of (but keyed the same as) the
// Repository's TranscodingJob row: the queue is the source of truth for
// in-flight state, the relational store is the source of truth for
// historical and business state.
type JobRecord struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	Priority     models.Priority `json:"priority"`
	Status       string          `json:"status"` // waiting|active|delayed|completed|failed
	AttemptCount int             `json:"attempt_count"`
	MaxAttempts  int             `json:"max_attempts"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
	NextRetryAt  *time.Time      `json:"next_retry_at,omitempty"`
}

// Queue is the Redis-backed JobQueue.
type Queue struct {
	client *redis.Client

	enqueueScript  *redis.Script
	dequeueScript  *redis.Script
	completeScript *redis.Script
}

// New dials Redis and constructs a Queue. The caller owns a single Queue
// per process; a background dispatcher is started by StartDispatcher.
func New(cfg config.RedisConfig) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("queue: failed to connect to redis: %w", err)
	}

	return NewWithClient(client), nil
}

// NewWithClient builds a Queue around an existing client, used by tests
// against miniredis.
func NewWithClient(client *redis.Client) *Queue {
	return &Queue{
		client:         client,
		enqueueScript:  redis.NewScript(enqueueLua),
		dequeueScript:  redis.NewScript(dequeueLua),
		completeScript: redis.NewScript(completeLua),
	}
}

// Close releases the underlying Redis connection.
func (q *Queue) Close() error {
	return q.client.Close()
}

// score packs priority and a monotonically increasing FIFO tiebreak into
// one sortable float: lower priority numbers (spec: "lower number = higher
// priority") sort first, then insertion order within a priority. seq is a
// UnixNano timestamp, so one priority step outweighs 1e15ns (about 11.6
// days) of enqueue-time difference; jobs enqueued further apart than that
// sort by age rather than by priority.
func score(priority models.Priority, seq int64) float64 {
	return float64(priority)*1e15 + float64(seq)
}

// enqueueLua de-duplicates on the job's hash key: if a non-terminal job
// already exists under this id, it is left untouched and the call is a
// no-op returning the existing job's handle.
const enqueueLua = `
local jobKey = KEYS[1]
local readyKey = KEYS[2]
local id = ARGV[1]
local payload = ARGV[2]
local scoreVal = tonumber(ARGV[3])

local existing = redis.call('HGET', jobKey, 'status')
if existing and existing ~= 'completed' and existing ~= 'failed' then
	return 0
end

redis.call('HSET', jobKey, 'record', payload, 'status', 'waiting')
redis.call('ZADD', readyKey, scoreVal, id)
return 1
`

// dequeueLua atomically pops the lowest-scoring ready member, moves it to
// the active set with a visibility deadline, and flips its status, so two
// workers can never observe the same handle.
const dequeueLua = `
local readyKey = KEYS[1]
local activeKey = KEYS[2]
local jobKeyPrefix = ARGV[1]
local deadline = tonumber(ARGV[2])

local ids = redis.call('ZRANGE', readyKey, 0, 0)
if #ids == 0 then
	return false
end
local id = ids[1]
redis.call('ZREM', readyKey, id)
redis.call('ZADD', activeKey, deadline, id)
redis.call('HSET', jobKeyPrefix .. id, 'status', 'active')
return redis.call('HGET', jobKeyPrefix .. id, 'record')
`

// completeLua removes a job from the active set and marks it terminal.
const completeLua = `
local activeKey = KEYS[1]
local jobKeyPrefix = ARGV[1]
local id = ARGV[2]
local status = ARGV[3]

redis.call('ZREM', activeKey, id)
redis.call('HSET', jobKeyPrefix .. id, 'status', status)
return 1
`

// Enqueue inserts a new job, or returns the existing handle if a
// non-terminal job already occupies opts.JobID (deterministic-id
// de-duplication).
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload interface{}, opts EnqueueOptions) (*JobHandle, error) {
	if opts.Priority == 0 {
		opts.Priority = models.PriorityNormal
	}
	if opts.JobID == "" {
		opts.JobID = fmt.Sprintf("%s-%d", jobType, time.Now().UnixNano())
	}
	if opts.Delay > 0 {
		return q.enqueueDelayed(ctx, jobType, payload, opts)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("queue: failed to marshal payload: %w", err)
	}
	rec := JobRecord{
		ID:          opts.JobID,
		Type:        jobType,
		Payload:     body,
		Priority:    opts.Priority,
		Status:      "waiting",
		MaxAttempts: models.DefaultMaxAttempts,
		EnqueuedAt:  time.Now(),
	}
	recJSON, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("queue: failed to marshal record: %w", err)
	}

	seq := time.Now().UnixNano()
	created, err := q.enqueueScript.Run(ctx, q.client,
		[]string{jobKeyPrefix + opts.JobID, readyKey},
		opts.JobID, recJSON, score(opts.Priority, seq),
	).Int()
	if err != nil {
		return nil, fmt.Errorf("queue: enqueue failed: %w", err)
	}

	if created == 0 {
		existing, err := q.loadRecord(ctx, opts.JobID)
		if err != nil {
			return nil, err
		}
		return &JobHandle{q: q, record: existing}, nil
	}
	return &JobHandle{q: q, record: &rec}, nil
}

func (q *Queue) enqueueDelayed(ctx context.Context, jobType string, payload interface{}, opts EnqueueOptions) (*JobHandle, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("queue: failed to marshal payload: %w", err)
	}
	readyAt := time.Now().Add(opts.Delay)
	rec := JobRecord{
		ID:          opts.JobID,
		Type:        jobType,
		Payload:     body,
		Priority:    opts.Priority,
		Status:      "delayed",
		MaxAttempts: models.DefaultMaxAttempts,
		EnqueuedAt:  time.Now(),
		NextRetryAt: &readyAt,
	}
	recJSON, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	if err := q.client.HSet(ctx, jobKeyPrefix+opts.JobID, "record", recJSON, "status", "delayed").Err(); err != nil {
		return nil, fmt.Errorf("queue: failed to stage delayed job: %w", err)
	}
	if err := q.client.ZAdd(ctx, delayedKey, redis.Z{Score: float64(readyAt.Unix()), Member: opts.JobID}).Err(); err != nil {
		return nil, fmt.Errorf("queue: failed to schedule delayed job: %w", err)
	}
	return &JobHandle{q: q, record: &rec}, nil
}

func (q *Queue) loadRecord(ctx context.Context, jobID string) (*JobRecord, error) {
	raw, err := q.client.HGet(ctx, jobKeyPrefix+jobID, "record").Bytes()
	if err != nil {
		return nil, fmt.Errorf("queue: failed to load job %s: %w", jobID, err)
	}
	var rec JobRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("queue: failed to decode job %s: %w", jobID, err)
	}
	return &rec, nil
}

// Dequeue pulls the head of the ready set, respecting priority then FIFO.
// Only that head is examined: if its type is not among types, it is put
// back in the ready set and the call returns nil, nil, as it does when
// nothing is ready.
func (q *Queue) Dequeue(ctx context.Context, types []string) (*JobHandle, error) {
	deadline := time.Now().Add(visibilityTimeout).Unix()
	raw, err := q.dequeueScript.Run(ctx, q.client,
		[]string{readyKey, activeKey},
		jobKeyPrefix, deadline,
	).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: dequeue failed: %w", err)
	}
	str, ok := raw.(string)
	if !ok {
		return nil, nil
	}

	var rec JobRecord
	if err := json.Unmarshal([]byte(str), &rec); err != nil {
		return nil, fmt.Errorf("queue: failed to decode dequeued job: %w", err)
	}

	if len(types) > 0 && !containsType(types, rec.Type) {
		// Not a type this caller handles; make it visible again
		// immediately. A multi-type consumer with a narrow type
		// filter is expected to retry.
		q.client.ZRem(ctx, activeKey, rec.ID)
		q.client.ZAdd(ctx, readyKey, redis.Z{Score: score(rec.Priority, time.Now().UnixNano()), Member: rec.ID})
		q.client.HSet(ctx, jobKeyPrefix+rec.ID, "status", "waiting")
		return nil, nil
	}

	rec.AttemptCount++
	rec.Status = "active"
	recJSON, _ := json.Marshal(rec)
	q.client.HSet(ctx, jobKeyPrefix+rec.ID, "record", recJSON)

	return &JobHandle{q: q, record: &rec}, nil
}

func containsType(types []string, t string) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

// GetProgress returns the percent complete last recorded for jobID.
func (q *Queue) GetProgress(ctx context.Context, jobID string) (float64, error) {
	v, err := q.client.HGet(ctx, jobKeyPrefix+jobID, "progress").Float64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

// SetProgress records the current progress percentage for jobID.
func (q *Queue) SetProgress(ctx context.Context, jobID string, percent float64) error {
	return q.client.HSet(ctx, jobKeyPrefix+jobID, "progress", percent).Err()
}

// Stats reports observability counts for the queue.
type Stats struct {
	Waiting   int64
	Active    int64
	Delayed   int64
	Completed int64
	Failed    int64
}

// Stats returns a point-in-time snapshot of queue depth counters.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	waiting, err := q.client.ZCard(ctx, readyKey).Result()
	if err != nil {
		return Stats{}, err
	}
	active, err := q.client.ZCard(ctx, activeKey).Result()
	if err != nil {
		return Stats{}, err
	}
	delayed, err := q.client.ZCard(ctx, delayedKey).Result()
	if err != nil {
		return Stats{}, err
	}
	completed, err := q.client.Get(ctx, "queue:stats:completed").Int64()
	if err != nil && err != redis.Nil {
		return Stats{}, err
	}
	failed, err := q.client.Get(ctx, "queue:stats:failed").Int64()
	if err != nil && err != redis.Nil {
		return Stats{}, err
	}
	return Stats{Waiting: waiting, Active: active, Delayed: delayed, Completed: completed, Failed: failed}, nil
}

// StartDispatcher launches the background goroutine that (a) promotes
// delayed jobs whose time has come into the ready set, and (b) requeues
// active jobs past their visibility deadline — the crash-recovery
// mechanism that reclaims work from a worker that died mid-job. It runs
// until ctx is cancelled.
func (q *Queue) StartDispatcher(ctx context.Context, tick time.Duration) {
	if tick <= 0 {
		tick = time.Second
	}
	go func() {
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				q.promoteDelayed(ctx)
				q.reclaimExpired(ctx)
				q.reportStats(ctx)
			}
		}
	}()
}

// reportStats refreshes the queue-depth gauges from a Stats snapshot on
// each dispatcher tick.
func (q *Queue) reportStats(ctx context.Context) {
	stats, err := q.Stats(ctx)
	if err != nil {
		metrics.RecordError("queue", "stats_failed")
		return
	}
	metrics.JobsQueueDepth.Set(float64(stats.Waiting + stats.Delayed))
	metrics.JobsInProgress.Set(float64(stats.Active))
}

func (q *Queue) promoteDelayed(ctx context.Context) {
	now := float64(time.Now().Unix())
	ids, err := q.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil {
		return
	}
	for _, id := range ids {
		rec, err := q.loadRecord(ctx, id)
		if err != nil {
			continue
		}
		q.client.ZRem(ctx, delayedKey, id)
		rec.Status = "waiting"
		recJSON, _ := json.Marshal(rec)
		q.client.HSet(ctx, jobKeyPrefix+id, "record", recJSON, "status", "waiting")
		q.client.ZAdd(ctx, readyKey, redis.Z{Score: score(rec.Priority, time.Now().UnixNano()), Member: id})
	}
}

func (q *Queue) reclaimExpired(ctx context.Context) {
	now := float64(time.Now().Unix())
	ids, err := q.client.ZRangeByScore(ctx, activeKey, &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil {
		return
	}
	for _, id := range ids {
		rec, err := q.loadRecord(ctx, id)
		if err != nil {
			continue
		}
		q.client.ZRem(ctx, activeKey, id)
		rec.Status = "waiting"
		recJSON, _ := json.Marshal(rec)
		q.client.HSet(ctx, jobKeyPrefix+id, "record", recJSON, "status", "waiting")
		q.client.ZAdd(ctx, readyKey, redis.Z{Score: score(rec.Priority, time.Now().UnixNano()), Member: id})
	}
}

// JobHandle represents one dequeued job owned exclusively by the caller
// until Complete or Fail is called.
type JobHandle struct {
	q      *Queue
	record *JobRecord
}

// ID returns the job's deterministic or generated identifier.
func (h *JobHandle) ID() string { return h.record.ID }

// Type returns the job's registered type.
func (h *JobHandle) Type() string { return h.record.Type }

// AttemptCount returns how many times this job has been dequeued.
func (h *JobHandle) AttemptCount() int { return h.record.AttemptCount }

// Payload unmarshals the job's payload into v.
func (h *JobHandle) Payload(v interface{}) error {
	return json.Unmarshal(h.record.Payload, v)
}

// Complete marks the job terminally successful.
func (h *JobHandle) Complete(ctx context.Context) error {
	if err := h.q.completeScript.Run(ctx, h.q.client,
		[]string{activeKey}, jobKeyPrefix, h.record.ID, "completed",
	).Err(); err != nil {
		return fmt.Errorf("queue: failed to complete job %s: %w", h.record.ID, err)
	}
	h.q.client.Incr(ctx, "queue:stats:completed")
	return nil
}

// FailOptions controls retry scheduling on JobHandle.Fail.
type FailOptions struct {
	Retry bool
}

// Fail marks the attempt failed. With Retry and attempts remaining, the
// next attempt is scheduled with exponential backoff (2^attempt seconds,
// capped at one hour); otherwise the job is marked terminally failed.
func (h *JobHandle) Fail(ctx context.Context, cause error, opts FailOptions) error {
	_ = cause
	if opts.Retry && h.record.AttemptCount < h.record.MaxAttempts {
		backoff := time.Duration(1<<uint(h.record.AttemptCount)) * time.Second
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		readyAt := time.Now().Add(backoff)
		h.record.Status = "delayed"
		h.record.NextRetryAt = &readyAt
		recJSON, err := json.Marshal(h.record)
		if err != nil {
			return err
		}
		pipe := h.q.client.TxPipeline()
		pipe.ZRem(ctx, activeKey, h.record.ID)
		pipe.HSet(ctx, jobKeyPrefix+h.record.ID, "record", recJSON, "status", "delayed")
		pipe.ZAdd(ctx, delayedKey, redis.Z{Score: float64(readyAt.Unix()), Member: h.record.ID})
		_, err = pipe.Exec(ctx)
		return err
	}

	if err := h.q.completeScript.Run(ctx, h.q.client,
		[]string{activeKey}, jobKeyPrefix, h.record.ID, "failed",
	).Err(); err != nil {
		return fmt.Errorf("queue: failed to mark job %s failed: %w", h.record.ID, err)
	}
	h.q.client.Incr(ctx, "queue:stats:failed")
	return nil
}
