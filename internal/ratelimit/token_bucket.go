package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces bucket keys when the caller does not.
const DefaultKeyPrefix = "rasterflow:ratelimit"

// ErrCostTooHigh is returned when a single request costs more than a full
// bucket.
var ErrCostTooHigh = errors.New("request cost exceeds bucket capacity")

// Decision is the outcome of one AllowN call.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// takeTokens refills the bucket for the time elapsed since its last update,
// then debits ARGV[4] tokens if they are available.
//
// KEYS[1] bucket hash; ARGV capacity, refill/ms, now ms, cost, ttl ms.
// Returns {allowed, floor(tokens), retry_after_ms}.
var takeTokens = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or capacity
local ts = tonumber(state[2]) or now

tokens = math.min(capacity, tokens + math.max(0, now - ts) * refill)

local allowed, wait = 0, 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  wait = math.ceil((cost - tokens) / refill)
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "ts", now)
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return {allowed, math.floor(tokens), wait}
`)

// RedisTokenBucket keeps one token bucket per subject in Redis so every API
// replica draws from the same budget.
type RedisTokenBucket struct {
	client      redis.UniversalClient
	capacity    int64
	refillPerMS float64
	ttl         time.Duration
	keyPrefix   string
	now         func() time.Time
}

// NewRedisTokenBucket allows capacity tokens per window, refilled
// continuously.
func NewRedisTokenBucket(client redis.UniversalClient, capacity int, window time.Duration, keyPrefix string) (*RedisTokenBucket, error) {
	switch {
	case client == nil:
		return nil, fmt.Errorf("redis client is required")
	case capacity <= 0:
		return nil, fmt.Errorf("capacity must be positive")
	case window <= 0:
		return nil, fmt.Errorf("window must be positive")
	}
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = DefaultKeyPrefix
	}

	return &RedisTokenBucket{
		client:      client,
		capacity:    int64(capacity),
		refillPerMS: float64(capacity) / float64(max(window.Milliseconds(), 1)),
		ttl:         2 * window,
		keyPrefix:   keyPrefix,
		now:         time.Now,
	}, nil
}

// AllowN debits cost tokens from subject's bucket. A cost larger than the
// bucket capacity can never be satisfied and is rejected without a round trip.
func (l *RedisTokenBucket) AllowN(ctx context.Context, subject string, cost int) (Decision, error) {
	cost = max(cost, 1)
	if int64(cost) > l.capacity {
		return Decision{}, fmt.Errorf("%w: cost %d exceeds capacity %d", ErrCostTooHigh, cost, l.capacity)
	}

	raw, err := takeTokens.Run(ctx, l.client, []string{l.key(subject)},
		l.capacity,
		l.refillPerMS,
		l.now().UTC().UnixMilli(),
		cost,
		l.ttl.Milliseconds(),
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("run token bucket script: %w", err)
	}
	return parseDecision(raw)
}

func (l *RedisTokenBucket) key(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}
	return l.keyPrefix + ":" + subject
}

func parseDecision(raw any) (Decision, error) {
	values, ok := raw.([]any)
	if !ok || len(values) != 3 {
		return Decision{}, fmt.Errorf("invalid token bucket response %v", raw)
	}

	var fields [3]int64
	for i, name := range []string{"allowed", "remaining", "retry-after"} {
		v, err := toInt64(values[i])
		if err != nil {
			return Decision{}, fmt.Errorf("parse %s value: %w", name, err)
		}
		fields[i] = v
	}

	return Decision{
		Allowed:    fields[0] == 1,
		Remaining:  fields[1],
		RetryAfter: time.Duration(fields[2]) * time.Millisecond,
	}, nil
}

func toInt64(in any) (int64, error) {
	switch v := in.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", in)
	}
}
