package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return New(rdb, cfg), mr
}

func TestCheckUserTurn_AllowsWithinLimits(t *testing.T) {
	cfg := DefaultConfig()
	l, _ := newTestLimiter(t, cfg)

	d := l.CheckUserTurn(context.Background(), "user-1", "chat-1")
	assert.True(t, d.Allowed)
	assert.Empty(t, d.Reason)
}

func TestCheckUserTurn_DeniesOnBurstExceeded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UserBurstMax = 2
	l, _ := newTestLimiter(t, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d := l.CheckUserTurn(ctx, "user-1", "chat-1")
		require.True(t, d.Allowed)
	}

	d := l.CheckUserTurn(ctx, "user-1", "chat-1")
	assert.False(t, d.Allowed)
	assert.Equal(t, WindowUserBurst, d.Reason)
}

func TestCheckUserTurn_TrustedUserGetsMultiplier(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UserBurstMax = 2
	cfg.TrustedMultiplier = 3
	cfg.TrustedUserIDs = map[string]bool{"vip": true}
	l, _ := newTestLimiter(t, cfg)
	ctx := context.Background()

	// 6 = 2 * 3 should all be allowed for the trusted user.
	for i := 0; i < 6; i++ {
		d := l.CheckUserTurn(ctx, "vip", "chat-1")
		require.True(t, d.Allowed, "attempt %d should be allowed under trusted multiplier", i+1)
	}
	d := l.CheckUserTurn(ctx, "vip", "chat-1")
	assert.False(t, d.Allowed)
}

func TestCheckChatFlood_TierIndependent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ChatMinuteMax = 2
	cfg.TrustedUserIDs = map[string]bool{"vip": true}
	l, _ := newTestLimiter(t, cfg)
	ctx := context.Background()

	require.True(t, l.CheckChatFlood(ctx, "chat-1").Allowed)
	require.True(t, l.CheckChatFlood(ctx, "chat-1").Allowed)
	d := l.CheckChatFlood(ctx, "chat-1")
	assert.False(t, d.Allowed, "chat flood cap applies regardless of any user's trust tier")
}

func TestCheckChatFlood_NoticeSuppressionIsPerChat(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ChatMinuteMax = 1
	cfg.NoticeCooldown = 20 * time.Second
	l, _ := newTestLimiter(t, cfg)
	ctx := context.Background()

	require.True(t, l.CheckChatFlood(ctx, "chat-a").Allowed)
	d1 := l.CheckChatFlood(ctx, "chat-a")
	require.False(t, d1.Allowed)
	assert.True(t, d1.NotifyUser, "chat-a's first denial should notify")

	require.True(t, l.CheckChatFlood(ctx, "chat-b").Allowed)
	d2 := l.CheckChatFlood(ctx, "chat-b")
	require.False(t, d2.Allowed)
	assert.True(t, d2.NotifyUser, "chat-b's first denial must notify too, not be suppressed by chat-a's cooldown")
}

func TestNoticeSuppression_CooldownPreventsRepeatNotice(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UserBurstMax = 0
	cfg.NoticeCooldown = 20 * time.Second
	l, _ := newTestLimiter(t, cfg)
	ctx := context.Background()

	d1 := l.CheckUserTurn(ctx, "user-1", "chat-1")
	assert.False(t, d1.Allowed)
	assert.True(t, d1.NotifyUser, "first denial in the cooldown window should notify")

	d2 := l.CheckUserTurn(ctx, "user-1", "chat-1")
	assert.False(t, d2.Allowed)
	assert.False(t, d2.NotifyUser, "second denial within cooldown should be suppressed")
}

func TestFailOpen_OnStorageError(t *testing.T) {
	cfg := DefaultConfig()
	l, mr := newTestLimiter(t, cfg)
	mr.Close() // simulate a storage outage

	d := l.CheckUserTurn(context.Background(), "user-1", "chat-1")
	assert.True(t, d.Allowed, "storage errors must fail open")
	assert.Equal(t, ReasonStorageError, d.Reason)
}

func TestCheckUserTurn_DoesNotDoubleCountChatFlood(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ChatMinuteMax = 2
	l, _ := newTestLimiter(t, cfg)
	ctx := context.Background()

	require.True(t, l.CheckChatFlood(ctx, "chat-1").Allowed)
	d := l.CheckUserTurn(ctx, "user-1", "chat-1")
	require.True(t, d.Allowed)
	_, touched := d.Counts[WindowChatMinute]
	assert.False(t, touched, "CheckUserTurn must not increment the chat flood counter CheckChatFlood already owns")

	// A second CheckChatFlood call should still see exactly 2 increments
	// (one from the call above, one here), not 3 from a phantom bump by
	// the CheckUserTurn call in between.
	d2 := l.CheckChatFlood(ctx, "chat-1")
	assert.True(t, d2.Allowed, "two increments stay within a cap of 2; a phantom third from CheckUserTurn would trip it")
}

func TestIsExemptCommand(t *testing.T) {
	assert.True(t, IsExemptCommand("/start"))
	assert.True(t, IsExemptCommand("/cancel"))
	assert.False(t, IsExemptCommand("/help"))
	assert.False(t, IsExemptCommand("hello"))
}

func TestDailyWindow_TTLCoversUntilMidnightPlusGrace(t *testing.T) {
	cfg := DefaultConfig()
	l, _ := newTestLimiter(t, cfg)

	d := l.CheckUserTurn(context.Background(), "user-1", "chat-1")
	require.True(t, d.Allowed)
	daily := d.Counts[WindowUserDaily]
	assert.Greater(t, daily.TTL, time.Duration(0))
	assert.LessOrEqual(t, daily.TTL, 24*time.Hour+5*time.Minute)
}
