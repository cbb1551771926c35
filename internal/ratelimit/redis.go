package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript runs the bucket transition inside Redis so concurrent callers on
// the same key never race. KEYS[1] is the bucket hash; ARGV is capacity,
// window in ms, now in ms, ttl in ms. Returns {allowed, remaining}.
var takeScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local tokens = tonumber(redis.call('HGET', KEYS[1], 'tokens'))
local last = tonumber(redis.call('HGET', KEYS[1], 'last_refill_ms'))
if tokens == nil or last == nil then
	tokens = capacity
	last = now
end
if now - last >= window then
	tokens = capacity
	last = now
end

local allowed = 0
if tokens > 0 then
	tokens = tokens - 1
	allowed = 1
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'last_refill_ms', last)
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
end
return {allowed, tokens}
`)

// RedisStore shares buckets between instances. Each bucket is a hash
// {tokens, last_refill_ms}.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore expires idle buckets after ttl; use at least the limiter
// window so an expired bucket is indistinguishable from a refilled one.
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStore) Take(ctx context.Context, key string, p Policy, now time.Time) (Result, error) {
	vals, err := takeScript.Run(ctx, r.client, []string{r.prefix + key},
		p.Capacity, p.Window.Milliseconds(), now.UnixMilli(), r.ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Result{}, err
	}
	if len(vals) != 2 {
		return Result{}, fmt.Errorf("bucket %s: unexpected script reply %v", key, vals)
	}
	return Result{Allowed: vals[0] == 1, Remaining: int(vals[1])}, nil
}
