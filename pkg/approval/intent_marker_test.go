package approval

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

// TestConsumeIntentMarker_FirstTapAwaitsSecond exercises the cautious-mode
// double-tap: the first tap records the marker and reports unconfirmed.
func TestConsumeIntentMarker_FirstTapAwaitsSecond(t *testing.T) {
	e := &Engine{rdb: newTestRedis(t)}
	ctx := context.Background()

	confirmed, err := e.consumeIntentMarker(ctx, "apr_1", "user_1")
	require.NoError(t, err)
	if confirmed {
		t.Fatal("first tap should not confirm")
	}
}

// TestConsumeIntentMarker_SecondTapWithinTTLConfirms covers the happy path
// of scenario 5: tap, then tap again within the window.
func TestConsumeIntentMarker_SecondTapWithinTTLConfirms(t *testing.T) {
	e := &Engine{rdb: newTestRedis(t)}
	ctx := context.Background()

	_, err := e.consumeIntentMarker(ctx, "apr_1", "user_1")
	require.NoError(t, err)

	confirmed, err := e.consumeIntentMarker(ctx, "apr_1", "user_1")
	require.NoError(t, err)
	if !confirmed {
		t.Fatal("second tap within TTL should confirm")
	}
}

// TestConsumeIntentMarker_ConfirmConsumesTheMarker ensures a third tap
// starts a fresh window rather than reusing the already-consumed marker.
func TestConsumeIntentMarker_ConfirmConsumesTheMarker(t *testing.T) {
	e := &Engine{rdb: newTestRedis(t)}
	ctx := context.Background()

	_, _ = e.consumeIntentMarker(ctx, "apr_1", "user_1")
	confirmed, _ := e.consumeIntentMarker(ctx, "apr_1", "user_1")
	require.True(t, confirmed)

	third, err := e.consumeIntentMarker(ctx, "apr_1", "user_1")
	require.NoError(t, err)
	if third {
		t.Fatal("third tap should start a fresh window, not reuse the consumed marker")
	}
}

// TestConsumeIntentMarker_DifferentActorsDoNotShareAMarker ensures one
// user's tap cannot be completed by a different actor.
func TestConsumeIntentMarker_DifferentActorsDoNotShareAMarker(t *testing.T) {
	e := &Engine{rdb: newTestRedis(t)}
	ctx := context.Background()

	_, err := e.consumeIntentMarker(ctx, "apr_1", "user_1")
	require.NoError(t, err)

	confirmed, err := e.consumeIntentMarker(ctx, "apr_1", "user_2")
	require.NoError(t, err)
	if confirmed {
		t.Fatal("a different actor's tap must not confirm user_1's marker")
	}
}

// TestConsumeIntentMarker_MarkerExpiresAfterTTL simulates the marker aging
// out by fast-forwarding miniredis past the 30s TTL.
func TestConsumeIntentMarker_MarkerExpiresAfterTTL(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	e := &Engine{rdb: rdb}
	ctx := context.Background()

	_, err = e.consumeIntentMarker(ctx, "apr_1", "user_1")
	require.NoError(t, err)

	mr.FastForward(intentMarkerTTL + time.Second)

	confirmed, err := e.consumeIntentMarker(ctx, "apr_1", "user_1")
	require.NoError(t, err)
	if confirmed {
		t.Fatal("an expired marker must not confirm")
	}
}
