package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// wireJob is the JSON envelope stored in Redis for a single job.
type wireJob struct {
	ID          string `json:"id"`
	Payload     []byte `json:"payload"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	EnqueuedAt  int64  `json:"enqueued_at"` // unix millis
}

// Broker is a single named Redis queue: a ready list for immediately
// deliverable jobs, a processing list holding jobs currently claimed by a
// worker, a delayed sorted set scored by availability time, one expiring
// dedup key per job id, and a dead-letter list for attempt-budget
// exhaustion.
//
// The shape mirrors a classic "reliable queue" built on Redis lists
// (RPOPLPUSH-style claim, explicit ack-by-removal) generalized with a ZSET
// for delayed delivery, which plain blocking list ops can't express.
type Broker struct {
	rdb  redis.UniversalClient
	name string

	readyKey      string
	processingKey string
	delayedKey    string
	dedupKey      string
	deadLetterKey string

	// deadletter, when set, is the shared retry-deadletter broker (§4.3)
	// that Retry pushes exhausted jobs onto instead of this broker's own
	// deadLetterKey list. Left nil for the retry-deadletter broker itself,
	// which has nowhere further to forward to.
	deadletter *Broker
}

// NewBroker creates a Broker for the given queue name.
func NewBroker(rdb redis.UniversalClient, queueName string) *Broker {
	prefix := "q:" + queueName
	return &Broker{
		rdb:           rdb,
		name:          queueName,
		readyKey:      prefix + ":ready",
		processingKey: prefix + ":processing",
		delayedKey:    prefix + ":delayed",
		dedupKey:      prefix + ":dedup",
		deadLetterKey: prefix + ":dead",
	}
}

// Name returns the queue name this broker serves.
func (b *Broker) Name() string { return b.name }

// SetDeadletterTarget wires target as the shared queue this broker forwards
// retry-exhausted jobs onto, per §4.3's required retry-deadletter queue.
// Without a target, Retry falls back to this broker's own private
// deadLetterKey list — the behavior the retry-deadletter broker itself
// keeps, since it has nothing further to forward to.
func (b *Broker) SetDeadletterTarget(target *Broker) {
	b.deadletter = target
}

// enqueueScript atomically checks dedup, then either pushes to the ready
// list (delay<=0) or adds to the delayed zset (delay>0). Returns 1 if
// enqueued, 0 if the id was a duplicate.
var enqueueScript = redis.NewScript(`
local dedup_key = KEYS[1]
local ready_key = KEYS[2]
local delayed_key = KEYS[3]
local job_id = ARGV[1]
local payload = ARGV[2]
local available_at = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local dedup_ttl = tonumber(ARGV[5])

if redis.call("SET", dedup_key .. ":" .. job_id, "1", "NX", "EX", dedup_ttl) == false then
  return 0
end

if available_at <= now then
  redis.call("LPUSH", ready_key, payload)
else
  redis.call("ZADD", delayed_key, available_at, payload)
end
return 1
`)

// dedupTTL bounds how long a job id is remembered for deduplication
// purposes; 24h comfortably covers the longest delayed-job horizon used by
// any required queue (the 5-minute approval timeout/countdown jobs).
const dedupTTL = 24 * time.Hour

// Enqueue inserts a job. If jobID has already been enqueued (and is still
// within the dedup window), Enqueue is a no-op and returns nil — the
// producer-side dedup guarantee required by §4.3.
func (b *Broker) Enqueue(ctx context.Context, jobID string, payload []byte, opts EnqueueOptions) error {
	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts[b.name]
	}

	now := time.Now()
	availableAt := now
	if opts.Delay > 0 {
		availableAt = now.Add(opts.Delay)
	}

	wire := wireJob{
		ID:          jobID,
		Payload:     payload,
		Attempt:     0,
		MaxAttempts: maxAttempts,
		EnqueuedAt:  now.UnixMilli(),
	}
	encoded, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", jobID, err)
	}

	res, err := enqueueScript.Run(ctx, b.rdb,
		[]string{b.dedupKey, b.readyKey, b.delayedKey},
		jobID, encoded, availableAt.UnixMilli(), now.UnixMilli(), int(dedupTTL.Seconds()),
	).Int()
	if err != nil {
		return fmt.Errorf("enqueue job %s on %s: %w", jobID, b.name, err)
	}
	if res == 0 {
		return nil // duplicate: treated as a successful no-op by callers
	}
	return nil
}

// promoteDueScript moves delayed jobs whose score <= now from the delayed
// zset to the ready list, atomically, and returns the count moved.
var promoteDueScript = redis.NewScript(`
local delayed_key = KEYS[1]
local ready_key = KEYS[2]
local now = tonumber(ARGV[1])
local batch = tonumber(ARGV[2])

local due = redis.call("ZRANGEBYSCORE", delayed_key, "-inf", now, "LIMIT", 0, batch)
for _, payload in ipairs(due) do
  redis.call("ZREM", delayed_key, payload)
  redis.call("LPUSH", ready_key, payload)
end
return #due
`)

// PromoteDue moves any delayed jobs now due for delivery onto the ready
// list. Callers run this on a short ticker; it is the mechanism by which
// delayed jobs (approval timeouts, countdown refreshes) eventually reach a
// worker.
func (b *Broker) PromoteDue(ctx context.Context, batch int) (int, error) {
	n, err := promoteDueScript.Run(ctx, b.rdb,
		[]string{b.delayedKey, b.readyKey}, time.Now().UnixMilli(), batch,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("promote due jobs on %s: %w", b.name, err)
	}
	return n, nil
}

// Claim blocks up to timeout for a ready job, atomically moving it to the
// processing list (visible there until Ack or Retry/DeadLetter removes it).
// Returns ErrNoJobsAvailable on timeout.
func (b *Broker) Claim(ctx context.Context, timeout time.Duration) (*Job, error) {
	raw, err := b.rdb.BRPopLPush(ctx, b.readyKey, b.processingKey, timeout).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNoJobsAvailable
		}
		return nil, fmt.Errorf("claim job from %s: %w", b.name, err)
	}

	var wire wireJob
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		// Malformed payload: drop it from processing so it doesn't wedge the
		// queue, and surface the error to the caller.
		b.rdb.LRem(ctx, b.processingKey, 1, raw)
		return nil, fmt.Errorf("decode job from %s: %w", b.name, err)
	}
	wire.Attempt++

	job := &Job{
		ID:          wire.ID,
		Queue:       b.name,
		Payload:     wire.Payload,
		Attempt:     wire.Attempt,
		MaxAttempts: wire.MaxAttempts,
		EnqueuedAt:  time.UnixMilli(wire.EnqueuedAt),
	}
	// Stash the raw envelope (pre-increment) so Ack/Retry can remove the
	// exact list element LPUSH/BRPOPLPUSH placed in the processing list.
	job.raw = raw
	return job, nil
}

// Ack removes a successfully processed job from the processing list.
func (b *Broker) Ack(ctx context.Context, job *Job) error {
	if err := b.rdb.LRem(ctx, b.processingKey, 1, job.raw).Err(); err != nil {
		return fmt.Errorf("ack job %s on %s: %w", job.ID, b.name, err)
	}
	return nil
}

// deadWireJob is the JSON envelope pushed to a dead-letter destination: the
// original job plus the queue it fell off of and the error that exhausted
// its retry budget.
type deadWireJob struct {
	wireJob
	OriginQueue string `json:"origin_queue"`
	LastError   string `json:"last_error"`
}

// Retry removes a job from processing and, if it has attempts remaining,
// re-enqueues it into the delayed set with exponential backoff; otherwise it
// dead-letters the job: onto the shared retry-deadletter broker if one was
// wired via SetDeadletterTarget, or this broker's own private dead-letter
// list otherwise.
//
// MaxAttempts == 0 means the queue was configured with no retry budget at
// all (QueueRetryDeadletter itself): dead-letter on the very first failure,
// not "unlimited retries".
func (b *Broker) Retry(ctx context.Context, job *Job, cause error) error {
	if job.Attempt >= job.MaxAttempts {
		if _, err := b.rdb.LRem(ctx, b.processingKey, 1, job.raw).Result(); err != nil {
			return fmt.Errorf("retry job %s on %s: %w", job.ID, b.name, err)
		}
		return b.deadLetter(ctx, job, cause)
	}

	wire := wireJob{
		ID:          job.ID,
		Payload:     job.Payload,
		Attempt:     job.Attempt,
		MaxAttempts: job.MaxAttempts,
		EnqueuedAt:  job.EnqueuedAt.UnixMilli(),
	}
	encoded, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("marshal retry envelope for job %s: %w", job.ID, err)
	}

	pipe := b.rdb.TxPipeline()
	pipe.LRem(ctx, b.processingKey, 1, job.raw)
	availableAt := time.Now().Add(Backoff(job.Attempt)).UnixMilli()
	pipe.ZAdd(ctx, b.delayedKey, redis.Z{Score: float64(availableAt), Member: encoded})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("retry job %s on %s: %w", job.ID, b.name, err)
	}
	return nil
}

// deadLetter forwards job to b.deadletter (the shared retry-deadletter
// broker) if one is wired, so it gets worked like any other job; otherwise
// it falls back to pushing onto this broker's own private dead-letter list.
func (b *Broker) deadLetter(ctx context.Context, job *Job, cause error) error {
	dead := deadWireJob{
		wireJob: wireJob{
			ID:          job.ID,
			Payload:     job.Payload,
			Attempt:     job.Attempt,
			MaxAttempts: job.MaxAttempts,
			EnqueuedAt:  job.EnqueuedAt.UnixMilli(),
		},
		OriginQueue: b.name,
		LastError:   errString(cause),
	}
	encoded, err := json.Marshal(dead)
	if err != nil {
		return fmt.Errorf("marshal dead-letter envelope for job %s: %w", job.ID, err)
	}

	if b.deadletter != nil {
		if err := b.deadletter.Enqueue(ctx, job.ID, encoded, EnqueueOptions{}); err != nil {
			return fmt.Errorf("forward job %s from %s to %s: %w", job.ID, b.name, b.deadletter.name, err)
		}
		return nil
	}

	if err := b.rdb.LPush(ctx, b.deadLetterKey, encoded).Err(); err != nil {
		return fmt.Errorf("dead-letter job %s on %s: %w", job.ID, b.name, err)
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Depths reports the current size of the ready list, delayed set, and
// dead-letter list, for Health().
func (b *Broker) Depths(ctx context.Context) (ready, delayed, dead int64, err error) {
	pipe := b.rdb.Pipeline()
	readyCmd := pipe.LLen(ctx, b.readyKey)
	delayedCmd := pipe.ZCard(ctx, b.delayedKey)
	deadCmd := pipe.LLen(ctx, b.deadLetterKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, 0, fmt.Errorf("query depths for %s: %w", b.name, err)
	}
	return readyCmd.Val(), delayedCmd.Val(), deadCmd.Val(), nil
}
