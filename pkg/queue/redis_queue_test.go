package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T, queueName string) (*Broker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewBroker(rdb, queueName), mr
}

func TestEnqueueAndClaim_Immediate(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBroker(t, QueueUpdates)

	require.NoError(t, b.Enqueue(ctx, "update-1", []byte(`{"n":1}`), EnqueueOptions{}))

	job, err := b.Claim(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "update-1", job.ID)
	assert.Equal(t, 1, job.Attempt)
	assert.Equal(t, DefaultMaxAttempts[QueueUpdates], job.MaxAttempts)
	assert.Equal(t, []byte(`{"n":1}`), job.Payload)
}

func TestEnqueue_DuplicateIDIsNoOp(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBroker(t, QueueUpdates)

	require.NoError(t, b.Enqueue(ctx, "update-1", []byte("a"), EnqueueOptions{}))
	require.NoError(t, b.Enqueue(ctx, "update-1", []byte("b"), EnqueueOptions{}))

	ready, _, _, err := b.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ready, "second enqueue of the same id must not add a second entry")
}

func TestClaim_NoJobsAvailable(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBroker(t, QueueUpdates)

	_, err := b.Claim(ctx, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoJobsAvailable)
}

func TestAck_RemovesFromProcessing(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBroker(t, QueueUpdates)

	require.NoError(t, b.Enqueue(ctx, "update-1", []byte("a"), EnqueueOptions{}))
	job, err := b.Claim(ctx, time.Second)
	require.NoError(t, err)

	require.NoError(t, b.Ack(ctx, job))

	ready, delayed, dead, err := b.Depths(ctx)
	require.NoError(t, err)
	assert.Zero(t, ready)
	assert.Zero(t, delayed)
	assert.Zero(t, dead)
}

func TestRetry_SingleAttemptBudgetDeadLettersOnFirstFailure(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBroker(t, QueueApprovalTimeouts) // MaxAttempts = 1

	require.NoError(t, b.Enqueue(ctx, "to-1", []byte("a"), EnqueueOptions{}))
	job, err := b.Claim(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, job.MaxAttempts)

	require.NoError(t, b.Retry(ctx, job, assertErr("boom")))

	_, _, dead, err := b.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dead, "exhausting the single attempt must dead-letter the job")
}

func TestRetry_BelowAttemptBudgetGoesToDelayed(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBroker(t, QueueUpdates) // MaxAttempts = 5

	require.NoError(t, b.Enqueue(ctx, "update-1", []byte("a"), EnqueueOptions{}))
	job, err := b.Claim(ctx, time.Second)
	require.NoError(t, err)

	require.NoError(t, b.Retry(ctx, job, assertErr("transient")))

	_, delayed, dead, err := b.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), delayed)
	assert.Zero(t, dead)
}

func TestEnqueue_DelayedJobIsNotImmediatelyReady(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBroker(t, QueueApprovalCountdowns)

	require.NoError(t, b.Enqueue(ctx, "countdown-1", []byte("a"), EnqueueOptions{Delay: time.Hour}))

	ready, delayed, _, err := b.Depths(ctx)
	require.NoError(t, err)
	assert.Zero(t, ready)
	assert.Equal(t, int64(1), delayed)
}

func TestPromoteDue_MovesExpiredDelayedJobsToReady(t *testing.T) {
	ctx := context.Background()
	b, mr := newTestBroker(t, QueueApprovalCountdowns)

	require.NoError(t, b.Enqueue(ctx, "countdown-1", []byte("a"), EnqueueOptions{Delay: time.Second}))
	mr.FastForward(2 * time.Second)

	n, err := b.PromoteDue(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ready, delayed, _, err := b.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ready)
	assert.Zero(t, delayed)
}

func TestBackoff_DoublesPerAttempt(t *testing.T) {
	assert.Equal(t, time.Second, Backoff(1))
	assert.Equal(t, 2*time.Second, Backoff(2))
	assert.Equal(t, 4*time.Second, Backoff(3))
	assert.Equal(t, 8*time.Second, Backoff(4))
}

func TestRetry_ExhaustedJobForwardsToDeadletterTarget(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	updates := NewBroker(rdb, QueueUpdates)
	deadletter := NewBroker(rdb, QueueRetryDeadletter)
	updates.SetDeadletterTarget(deadletter)

	require.NoError(t, updates.Enqueue(ctx, "update-1", []byte("a"), EnqueueOptions{MaxAttempts: 1}))
	job, err := updates.Claim(ctx, time.Second)
	require.NoError(t, err)

	require.NoError(t, updates.Retry(ctx, job, assertErr("boom")))

	_, _, updatesDead, err := updates.Depths(ctx)
	require.NoError(t, err)
	assert.Zero(t, updatesDead, "the exhausted job must not sit on updates' own private dead list")

	deadReady, _, _, err := deadletter.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deadReady, "the exhausted job must be forwarded as a ready job on the shared deadletter broker")

	deadJob, err := deadletter.Claim(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "update-1", deadJob.ID)

	var envelope deadWireJob
	require.NoError(t, json.Unmarshal(deadJob.Payload, &envelope))
	assert.Equal(t, QueueUpdates, envelope.OriginQueue)
	assert.Equal(t, "boom", envelope.LastError)
}

func TestRetry_DeadletterBrokerItselfUsesPrivateList(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBroker(t, QueueRetryDeadletter) // MaxAttempts = 0, no target wired

	require.NoError(t, b.Enqueue(ctx, "dead-1", []byte("a"), EnqueueOptions{}))
	job, err := b.Claim(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, 0, job.MaxAttempts)

	require.NoError(t, b.Retry(ctx, job, assertErr("terminal")))

	_, _, dead, err := b.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dead, "a job already on the terminal queue with no target falls back to its own dead list")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
