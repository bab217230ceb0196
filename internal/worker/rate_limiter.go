package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-pipeline/internal/pkg/logger"
)

// SendRateLimiter throttles batch sends with an atomic Redis Lua script.
// A GET then INCR sequence would race between workers; the script checks
// and increments in one round trip.
//
// A nil Redis client disables limiting entirely, so single-node deploys
// can run without Redis.
type SendRateLimiter struct {
	redis       *redis.Client
	limitScript *redis.Script

	// PerMinute caps messages per campaign per minute.
	PerMinute int
}

const sendLimitLuaScript = `
local key = KEYS[1]
local increment = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local current = tonumber(redis.call("GET", key) or "0")

if current + increment > limit then
    return {0, current}
end

local newVal = redis.call("INCRBY", key, increment)
if newVal == increment then
    redis.call("EXPIRE", key, ttl)
end

return {1, newVal}
`

// NewSendRateLimiter creates a limiter. client may be nil.
func NewSendRateLimiter(client *redis.Client, perMinute int) *SendRateLimiter {
	if perMinute <= 0 {
		perMinute = 6000
	}
	return &SendRateLimiter{
		redis:       client,
		limitScript: redis.NewScript(sendLimitLuaScript),
		PerMinute:   perMinute,
	}
}

// NewSendRateLimiterFromURL connects to Redis and verifies the connection.
func NewSendRateLimiterFromURL(redisURL string, perMinute int) (*SendRateLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewSendRateLimiter(client, perMinute), nil
}

// Allow reports whether a batch of n sends for the campaign fits inside
// the current minute's budget, incrementing the counter when it does.
func (rl *SendRateLimiter) Allow(ctx context.Context, campaignID string, n int) (bool, error) {
	if rl.redis == nil {
		return true, nil
	}

	now := time.Now()
	key := fmt.Sprintf("sendlimit:%s:%d", campaignID, now.Unix()/60)

	result, err := rl.limitScript.Run(ctx, rl.redis,
		[]string{key},
		n,
		rl.PerMinute,
		120, // two-minute TTL outlives the bucket
	).Slice()
	if err != nil {
		// Redis being down should degrade to unlimited sending, not block
		// campaigns.
		logger.Warn("rate limit check failed, allowing", "error", err)
		return true, nil
	}

	allowed, ok := result[0].(int64)
	if !ok {
		return true, nil
	}
	return allowed == 1, nil
}

// Close closes the underlying Redis connection.
func (rl *SendRateLimiter) Close() error {
	if rl.redis == nil {
		return nil
	}
	return rl.redis.Close()
}
