// Package redis implements ratelimit.Limiter on Redis so the bucket state
// is shared across processes.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/sweetpotato0/ragline/ratelimit"
)

// Config holds Redis limiter configuration
type Config struct {
	Addr     string
	Password string
	DB       int
	Capacity float64
	Rate     float64
	Prefix   string
}

// DefaultConfig returns default Redis limiter configuration
func DefaultConfig() *Config {
	return &Config{
		Addr:     "localhost:6379",
		Capacity: ratelimit.DefaultCapacity,
		Rate:     ratelimit.DefaultRefillRate,
		Prefix:   "ragline:ratelimit:",
	}
}

// refillScript refills then spends one token atomically.
// KEYS[1] = bucket key; ARGV = capacity, rate, now (unix millis), ttl seconds.
const refillScript = `
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', KEYS[1], 'tokens', 'last_refill')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then
	tokens = capacity
	last = now
end

local elapsed = (now - last) / 1000.0
tokens = math.floor(math.min(capacity, tokens + elapsed * rate))

local allowed = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
end

redis.call('HMSET', KEYS[1], 'tokens', tokens, 'last_refill', now)
redis.call('EXPIRE', KEYS[1], ttl)
return {allowed, tokens}
`

// Limiter is a Redis-backed token bucket.
type Limiter struct {
	config *Config
	client *goredis.Client
	script *goredis.Script
}

// New creates a Redis limiter and verifies connectivity.
func New(ctx context.Context, config *Config) (*Limiter, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Capacity <= 0 {
		config.Capacity = ratelimit.DefaultCapacity
	}
	if config.Rate <= 0 {
		config.Rate = ratelimit.DefaultRefillRate
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Limiter{
		config: config,
		client: client,
		script: goredis.NewScript(refillScript),
	}, nil
}

// Close releases the Redis connection.
func (l *Limiter) Close() error {
	return l.client.Close()
}

// Allow implements ratelimit.Limiter.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, int, error) {
	// Bucket idles out after a full refill worth of inactivity.
	ttl := int(l.config.Capacity/l.config.Rate) + 1
	res, err := l.script.Run(ctx, l.client,
		[]string{l.config.Prefix + key},
		l.config.Capacity, l.config.Rate, time.Now().UnixMilli(), ttl).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit script: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("ratelimit script: unexpected reply %v", res)
	}
	allowed, _ := res[0].(int64)
	remaining, _ := res[1].(int64)
	return allowed == 1, int(remaining), nil
}
