package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindow trims expired entries and records the event only when it fits, so
// rejected lookups do not push the window forward. It returns the admission flag,
// the count after the call and the millisecond timestamp when the oldest entry expires.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[5])
local count = redis.call('ZCARD', key)
local allowed = 0
if count < max then
	redis.call('ZADD', key, ARGV[1], ARGV[4])
	count = count + 1
	allowed = 1
end
redis.call('PEXPIRE', key, ARGV[2])

local reset = tonumber(ARGV[1]) + window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then
	reset = tonumber(oldest[2]) + window
end
return {allowed, count, reset}
`)

// RedisLimiter is a sliding window limiter over Redis sorted sets, shared by every
// API replica so the USPS quota is enforced cluster wide.
type RedisLimiter struct {
	Client redis.UniversalClient
	Prefix string
}

// Allow implements Limiter. Reset reports when the oldest counted lookup leaves the window.
func (l RedisLimiter) Allow(ctx context.Context, key string, window time.Duration, max int) (bool, int, time.Time, error) {
	now := time.Now()
	if l.Client == nil || max <= 0 || window <= 0 {
		return true, max, now.Add(window), nil
	}

	windowMS := window.Milliseconds()
	if windowMS < 1 {
		windowMS = 1
	}
	member := fmt.Sprintf("%d:%s", now.UnixMilli(), uuid.NewString())
	vals, err := slidingWindow.Run(ctx, l.Client, []string{l.Prefix + key},
		now.UnixMilli(), windowMS, max, member, now.UnixMilli()-windowMS).Int64Slice()
	if err != nil {
		return false, 0, now.Add(window), fmt.Errorf("ratelimit: redis window: %w", err)
	}
	if len(vals) != 3 {
		return false, 0, now.Add(window), fmt.Errorf("ratelimit: redis window: unexpected reply length %d", len(vals))
	}

	remaining := max - int(vals[1])
	if remaining < 0 {
		remaining = 0
	}
	return vals[0] == 1, remaining, time.UnixMilli(vals[2]), nil
}
