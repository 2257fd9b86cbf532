package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestNewRedisTokenBucketValidation(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })

	_, err := NewRedisTokenBucket(nil, 10, time.Minute, "")
	require.Error(t, err)
	_, err = NewRedisTokenBucket(client, 0, time.Minute, "")
	require.Error(t, err)
	_, err = NewRedisTokenBucket(client, 10, 0, "")
	require.Error(t, err)

	l, err := NewRedisTokenBucket(client, 120, time.Minute, " ")
	require.NoError(t, err)
	require.Equal(t, DefaultKeyPrefix, l.keyPrefix)
	require.Equal(t, 2*time.Minute, l.ttl)
	require.InDelta(t, 120.0/60000.0, l.refillPerMS, 1e-12)
}

func TestAllowNRejectsCostAboveCapacity(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })

	l, err := NewRedisTokenBucket(client, 3, time.Second, "test")
	require.NoError(t, err)

	_, err = l.AllowN(context.Background(), "user", 4)
	require.ErrorIs(t, err, ErrCostTooHigh)
}

func TestToInt64(t *testing.T) {
	for _, in := range []any{int64(7), 7, 7.9, "7"} {
		got, err := toInt64(in)
		require.NoError(t, err)
		require.Equal(t, int64(7), got)
	}
	_, err := toInt64("seven")
	require.Error(t, err)
	_, err = toInt64([]byte("7"))
	require.Error(t, err)
}

func TestParseDecision(t *testing.T) {
	d, err := parseDecision([]any{int64(0), int64(3), int64(1250)})
	require.NoError(t, err)
	require.Equal(t, Decision{Allowed: false, Remaining: 3, RetryAfter: 1250 * time.Millisecond}, d)

	d, err = parseDecision([]any{int64(1), "9", int64(0)})
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, int64(9), d.Remaining)

	_, err = parseDecision([]any{int64(1)})
	require.Error(t, err)
	_, err = parseDecision([]any{int64(1), "x", int64(0)})
	require.ErrorContains(t, err, "parse remaining value")
}

func TestKeyDefaultsSubject(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })

	l, err := NewRedisTokenBucket(client, 1, time.Second, "rf")
	require.NoError(t, err)
	require.Equal(t, "rf:anonymous", l.key("  "))
	require.Equal(t, "rf:user-1:/v1/jobs", l.key("user-1:/v1/jobs"))
}
