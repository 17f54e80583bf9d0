// Package ratelimit implements multi-dimensional fixed-window rate limiting
// (C4): a per-chat anti-flood counter plus per-user burst/minute/daily
// quotas with a trusted-tier multiplier, backed by atomic Redis counters.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Window names identify which counter a Decision's Reason refers to.
const (
	WindowChatMinute = "chat_minute"
	WindowUserBurst  = "user_burst"
	WindowUserMinute = "user_minute"
	WindowUserDaily  = "user_daily"

	ReasonStorageError = "storage_error"
	ReasonAllowed      = ""
)

// Config holds the limits applied before any trusted-tier multiplier.
type Config struct {
	ChatMinuteMax int           // anti-flood cap, tier-independent
	UserBurstMax  int           // per BurstWindow
	BurstWindow   time.Duration // default 10s
	UserMinuteMax int
	UserDailyMax  int

	TrustedMultiplier int           // default 5
	TrustedUserIDs    map[string]bool
	NoticeCooldown    time.Duration // default 20s
}

// DefaultConfig returns the limits named in §4.4, before tier adjustment.
func DefaultConfig() Config {
	return Config{
		ChatMinuteMax:     20,
		UserBurstMax:      3,
		BurstWindow:       10 * time.Second,
		UserMinuteMax:     10,
		UserDailyMax:      200,
		TrustedMultiplier: 5,
		TrustedUserIDs:    map[string]bool{},
		NoticeCooldown:    20 * time.Second,
	}
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool
	// Reason names the first exceeded counter (WindowChatMinute etc.) when
	// denied, or ReasonStorageError on fail-open, or ReasonAllowed.
	Reason string
	// Counts holds {count, ttl_seconds} for every counter checked, keyed by
	// window name, for observability.
	Counts map[string]Count
	// NotifyUser reports whether the notice-suppression cooldown allows a
	// user-visible deny notice to be emitted for this decision.
	NotifyUser bool
}

// Count is a single counter's value and remaining TTL.
type Count struct {
	Value int64
	TTL   time.Duration
}

// Limiter evaluates admission decisions against Redis-backed counters.
type Limiter struct {
	rdb redis.UniversalClient
	cfg Config
}

// New creates a Limiter.
func New(rdb redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{rdb: rdb, cfg: cfg}
}

// incrScript performs an atomic INCR-then-EXPIRE-if-new on a counter key:
// §4.4 requires this be a single round trip to avoid a race window between
// the increment and the TTL assignment.
var incrScript = redis.NewScript(`
local key = KEYS[1]
local ttl_seconds = tonumber(ARGV[1])
local count = redis.call("INCR", key)
if count == 1 then
  redis.call("EXPIRE", key, ttl_seconds)
end
local ttl = redis.call("TTL", key)
return {count, ttl}
`)

func (l *Limiter) incr(ctx context.Context, key string, ttl time.Duration) (Count, error) {
	res, err := incrScript.Run(ctx, l.rdb, []string{key}, int(ttl.Seconds())).Result()
	if err != nil {
		return Count{}, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return Count{}, fmt.Errorf("unexpected rate limit script result: %#v", res)
	}
	count, _ := toInt64(vals[0])
	ttlSeconds, _ := toInt64(vals[1])
	return Count{Value: count, TTL: time.Duration(ttlSeconds) * time.Second}, nil
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	default:
		return 0, false
	}
}

// CheckChatFlood increments and evaluates only the chat anti-flood counter
// (§4.7 step 2, and non-turn commands which are exempt from the user-turn
// quota but still subject to this gate).
func (l *Limiter) CheckChatFlood(ctx context.Context, chatID string) Decision {
	key := fmt.Sprintf("ratelimit:chat:%s:minute", chatID)
	c, err := l.incr(ctx, key, time.Minute)
	if err != nil {
		return l.failOpen(WindowChatMinute, err)
	}

	d := Decision{Counts: map[string]Count{WindowChatMinute: c}}
	if c.Value > int64(l.cfg.ChatMinuteMax) {
		d.Reason = WindowChatMinute
		return l.withNotice(ctx, chatID, WindowChatMinute, d)
	}
	d.Allowed = true
	return d
}

// CheckUserTurn increments and evaluates the three per-user counters
// (burst, minute, daily), applying the trusted-tier multiplier to the
// per-user limits. The first exceeded counter, in burst→minute→daily
// order, determines Reason. It does not touch the chat flood counter:
// callers run CheckChatFlood separately (§4.7 step 2) and that call
// already increments and gates ratelimit:chat:<id>:minute for the same
// update, so incrementing it again here would double-count every turn.
func (l *Limiter) CheckUserTurn(ctx context.Context, userID, chatID string) Decision {
	mult := 1
	if l.cfg.TrustedUserIDs[userID] {
		mult = l.cfg.TrustedMultiplier
		if mult < 1 {
			mult = 1
		}
	}

	counts := map[string]Count{}

	burstKey := fmt.Sprintf("ratelimit:user:%s:burst", userID)
	burst, err := l.incr(ctx, burstKey, l.cfg.BurstWindow)
	if err != nil {
		return l.failOpen(WindowUserBurst, err)
	}
	counts[WindowUserBurst] = burst

	minuteKey := fmt.Sprintf("ratelimit:user:%s:minute", userID)
	minute, err := l.incr(ctx, minuteKey, time.Minute)
	if err != nil {
		return l.failOpen(WindowUserMinute, err)
	}
	counts[WindowUserMinute] = minute

	dailyKey := fmt.Sprintf("ratelimit:user:%s:daily", userID)
	daily, err := l.incr(ctx, dailyKey, secondsUntilMidnightUTC()+5*time.Minute)
	if err != nil {
		return l.failOpen(WindowUserDaily, err)
	}
	counts[WindowUserDaily] = daily

	d := Decision{Counts: counts}

	switch {
	case burst.Value > int64(l.cfg.UserBurstMax*mult):
		d.Reason = WindowUserBurst
	case minute.Value > int64(l.cfg.UserMinuteMax*mult):
		d.Reason = WindowUserMinute
	case daily.Value > int64(l.cfg.UserDailyMax*mult):
		d.Reason = WindowUserDaily
	}

	if d.Reason != "" {
		return l.withNotice(ctx, userID, d.Reason, d)
	}
	d.Allowed = true
	return d
}

func (l *Limiter) failOpen(window string, err error) Decision {
	slog.Warn("rate limit storage error, failing open", "window", window, "error", err)
	return Decision{
		Allowed:    true,
		Reason:     ReasonStorageError,
		NotifyUser: false,
	}
}

// noticeScript sets a cooldown key with NX+EX, returning 1 if it was newly
// set (meaning a notice should be shown) or 0 if still cooling down.
var noticeScript = redis.NewScript(`
if redis.call("SET", KEYS[1], "1", "NX", "EX", ARGV[1]) then
  return 1
end
return 0
`)

func (l *Limiter) withNotice(ctx context.Context, userID, reason string, d Decision) Decision {
	key := fmt.Sprintf("ratelimit:notice:%s:%s", userID, reason)
	res, err := noticeScript.Run(ctx, l.rdb, []string{key}, int(l.cfg.NoticeCooldown.Seconds())).Int()
	if err != nil {
		// Fail open on the notice-suppression check too: better an extra
		// notice than a silently dropped deny.
		slog.Warn("notice cooldown check failed", "reason", reason, "error", err)
		d.NotifyUser = true
		return d
	}
	d.NotifyUser = res == 1
	return d
}

func secondsUntilMidnightUTC() time.Duration {
	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	return midnight.Sub(now)
}

// exemptCommands is the explicit allow-list of commands exempt from the
// user-turn quota (still subject to chat-flood), per §4.4 / §4.7 step 3.
var exemptCommands = map[string]bool{
	"/start":    true,
	"/settings": true,
	"/network":  true,
	"/wallet":   true,
	"/cancel":   true,
}

// IsExemptCommand reports whether cmd (the leading token of a message,
// lowercased) is on the turn-quota exemption allow-list.
func IsExemptCommand(cmd string) bool {
	return exemptCommands[cmd]
}
