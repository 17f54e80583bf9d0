// Package chatlock provides a per-(chat[, thread]) distributed mutex (C5)
// on the shared Redis store, serializing all turn work within a single
// chat/thread scope while allowing unrelated chats to proceed in parallel.
package chatlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockBusy is returned by Acquire when the lock could not be obtained
// after exhausting the retry budget. The enclosing queue job may retry per
// its own policy (§4.5).
var ErrLockBusy = errors.New("chat lock busy")

const (
	lockTTL         = 90 * time.Second
	acquireRetries  = 60
	acquireInterval = 250 * time.Millisecond
)

// heartbeatEvery is a var, not a const, so tests can shrink it instead of
// sleeping 10s of real wall-clock time to observe a heartbeat tick.
var heartbeatEvery = 10 * time.Second

// Locker acquires and releases chat/thread locks on Redis.
type Locker struct {
	rdb redis.UniversalClient
}

// New creates a Locker.
func New(rdb redis.UniversalClient) *Locker {
	return &Locker{rdb: rdb}
}

// Lock represents a held lock; call Release when the protected work
// finishes. The heartbeat goroutine started by Acquire stops automatically
// on Release or when ctx is cancelled.
type Lock struct {
	locker *Locker
	key    string
	token  string

	cancel      context.CancelFunc
	wg          sync.WaitGroup
	releaseOnce sync.Once
}

// key returns the Redis key for a (chatID, threadID) scope. threadID may
// be empty.
func key(chatID, threadID string) string {
	if threadID == "" {
		return fmt.Sprintf("chatlock:%s", chatID)
	}
	return fmt.Sprintf("chatlock:%s:%s", chatID, threadID)
}

var acquireScript = redis.NewScript(`
return redis.call("SET", KEYS[1], ARGV[1], "NX", "PX", ARGV[2])
`)

// Acquire blocks (retrying at acquireInterval, up to acquireRetries times)
// until the lock for (chatID, threadID) is held, or returns ErrLockBusy.
// The returned Lock owns a background heartbeat goroutine that extends the
// TTL every 10s for as long as ctx remains alive; callers must call
// Release when done, and should derive ctx so it's cancelled no later than
// the protected work's own deadline.
func (l *Locker) Acquire(ctx context.Context, chatID, threadID string) (*Lock, error) {
	k := key(chatID, threadID)
	token := uuid.NewString()

	for attempt := 0; attempt < acquireRetries; attempt++ {
		res, err := acquireScript.Run(ctx, l.rdb, []string{k}, token, lockTTL.Milliseconds()).Result()
		if err == nil && res == "OK" {
			lockCtx, cancel := context.WithCancel(ctx)
			lk := &Lock{locker: l, key: k, token: token, cancel: cancel}
			lk.wg.Add(1)
			go lk.heartbeatLoop(lockCtx)
			return lk, nil
		}
		if err != nil && err != redis.Nil {
			slog.Warn("chat lock acquire attempt failed", "key", k, "attempt", attempt, "error", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(acquireInterval):
		}
	}
	return nil, ErrLockBusy
}

// releaseScript deletes the key only if it still holds our token
// (compare-and-delete), so a lock that already expired and was reacquired
// by someone else is never torn down from under them.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Release stops the heartbeat and deletes the lock key if we still hold
// it. Safe to call multiple times; release failures are logged and
// non-fatal (§4.5 — the lock will reacquire at the next cycle, or expire
// on its own via TTL).
func (l *Lock) Release(ctx context.Context) {
	l.releaseOnce.Do(func() {
		l.cancel()
		l.wg.Wait()

		if err := releaseScript.Run(ctx, l.locker.rdb, []string{l.key}, l.token).Err(); err != nil {
			slog.Warn("chat lock release failed (non-fatal)", "key", l.key, "error", err)
		}
	})
}

// extendScript extends the TTL only if we still hold the lock, so a
// heartbeat racing a concurrent takeover never extends someone else's lock.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

func (l *Lock) heartbeatLoop(ctx context.Context) {
	defer l.wg.Done()
	ticker := time.NewTicker(heartbeatEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := extendScript.Run(ctx, l.locker.rdb, []string{l.key}, l.token, lockTTL.Milliseconds()).Int()
			if err != nil {
				// Heartbeat failures log once per miss and the work
				// continues: the lock either reacquires at next cycle or
				// expires safely (§4.5).
				slog.Warn("chat lock heartbeat failed", "key", l.key, "error", err)
				continue
			}
			if ok == 0 {
				slog.Warn("chat lock heartbeat found the lock no longer ours", "key", l.key)
			}
		}
	}
}
