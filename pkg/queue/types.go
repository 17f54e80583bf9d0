// Package queue provides a Redis-backed, at-least-once, FIFO-within-priority
// job queue with delayed jobs, exponential backoff and a dead-letter queue
// (C3). Each named queue is independent: producers push jobs with an
// optional delay and a caller-chosen id for deduplication; a WorkerPool
// pulls, executes and retires jobs for one queue.
package queue

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for queue operations.
var (
	// ErrNoJobsAvailable indicates the ready list was empty when polled.
	ErrNoJobsAvailable = errors.New("no jobs available")

	// ErrDuplicateJob indicates a job with this id was already enqueued
	// within the dedup window, whatever state that job is in now. Enqueue
	// does not return it: a duplicate enqueue is a successful no-op.
	ErrDuplicateJob = errors.New("duplicate job id")
)

// Required queue names (§4.3). Names double as the Redis key namespace.
const (
	QueueUpdates            = "updates"
	QueueAgentTurns         = "agent-turns"
	QueueApprovalTimeouts   = "approval-timeouts"
	QueueApprovalCountdowns = "approval-countdowns"
	QueueRetryDeadletter    = "retry-deadletter"
)

// DefaultMaxAttempts per queue, per §4.3's required-queues table.
var DefaultMaxAttempts = map[string]int{
	QueueUpdates:            5,
	QueueAgentTurns:         5,
	QueueApprovalTimeouts:   1,
	QueueApprovalCountdowns: 1,
	QueueRetryDeadletter:    0,
}

// Job is a single unit of work on a queue.
type Job struct {
	ID          string // producer-chosen, deduplicates across re-enqueue attempts
	Queue       string // queue name
	Payload     []byte // opaque handler-defined payload (typically JSON)
	Attempt     int    // 1-based: this is the Nth delivery attempt
	MaxAttempts int    // from DefaultMaxAttempts unless overridden at enqueue time
	EnqueuedAt  time.Time

	raw string // exact Redis list element, for Ack/Retry removal
}

// Handler processes one job delivery. Returning nil retires the job;
// returning an error schedules a retry with exponential backoff, or moves
// the job to the dead-letter queue once MaxAttempts is exhausted. Handlers
// must be idempotent: at-least-once delivery means the same job id can be
// delivered more than once (e.g. after a crash between execute and ack).
type Handler func(ctx context.Context, job *Job) error

// EnqueueOptions customizes a single Enqueue call.
type EnqueueOptions struct {
	// Delay defers visibility until now+Delay. Zero means immediately ready.
	Delay time.Duration
	// MaxAttempts overrides DefaultMaxAttempts for this queue, if non-zero.
	MaxAttempts int
}

// Backoff computes the exponential backoff delay before attempt N+1, given
// a job currently on its Nth (1-based) attempt: base 1s, factor 2 (§4.3).
func Backoff(attempt int) time.Duration {
	const base = time.Second
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// PoolHealth contains health information for an entire worker pool.
type PoolHealth struct {
	IsHealthy     bool           `json:"is_healthy"`
	Queue         string         `json:"queue"`
	ActiveWorkers int            `json:"active_workers"`
	TotalWorkers  int            `json:"total_workers"`
	ReadyDepth    int64          `json:"ready_depth"`
	DelayedDepth  int64          `json:"delayed_depth"`
	DeadDepth     int64          `json:"dead_depth"`
	WorkerStats   []WorkerHealth `json:"worker_stats"`
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"` // "idle" or "working"
	CurrentJobID  string    `json:"current_job_id,omitempty"`
	JobsProcessed int       `json:"jobs_processed"`
	LastActivity  time.Time `json:"last_activity"`
}
