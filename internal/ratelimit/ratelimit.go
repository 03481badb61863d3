// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vidloom Contributors

// Package ratelimit provides a Redis token-bucket limiter shared by every
// API replica.
package ratelimit

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// DefaultPrefix namespaces limiter keys in Redis.
const DefaultPrefix = "accounts:ratelimit:"

const defaultTimeout = 250 * time.Millisecond

// The bucket is refilled and debited in one script so concurrent replicas
// never see a partial update. Returns {allowed, wait_ms, remaining}.
const tokenBucketLua = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local data = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil then
  tokens = burst
end
if ts == nil or ts > now then
  ts = now
end

tokens = math.min(burst, tokens + ((now - ts) * rate) / 1000.0)

local allowed = 0
local wait_ms = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
else
  wait_ms = math.ceil((1 - tokens) * 1000.0 / rate)
end

redis.call("HSET", key, "tokens", tostring(tokens), "ts", tostring(now))
redis.call("PEXPIRE", key, math.ceil((burst / rate) * 1000.0 * 2))

return {allowed, wait_ms, math.floor(tokens)}
`

// Config describes one bucket shape.
type Config struct {
	// Rate is the refill rate in tokens per second.
	Rate float64
	// Burst is the bucket capacity.
	Burst int
	// Prefix is prepended to every key. Defaults to DefaultPrefix.
	Prefix string
	// Timeout bounds each Redis round trip. Defaults to 250ms.
	Timeout time.Duration
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock used to timestamp refills.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// Limiter enforces a token bucket per key.
type Limiter struct {
	rdb    redis.Scripter
	cfg    Config
	logger *slog.Logger
	script *redis.Script
	now    func() time.Time
}

// New creates a Limiter. A nil logger uses slog.Default.
func New(rdb redis.Scripter, cfg Config, logger *slog.Logger, opts ...Option) (*Limiter, error) {
	if rdb == nil {
		return nil, oops.Code("RATELIMIT_INVALID_CONFIG").Errorf("redis client is required")
	}
	if cfg.Rate <= 0 || cfg.Burst <= 0 {
		return nil, oops.Code("RATELIMIT_INVALID_CONFIG").
			With("rate", cfg.Rate).
			With("burst", cfg.Burst).
			Errorf("rate and burst must be positive")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &Limiter{
		rdb:    rdb,
		cfg:    cfg,
		logger: logger,
		script: redis.NewScript(tokenBucketLua),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Allow takes one token from key's bucket. Redis failures allow the request
// and are logged; a nil Limiter allows everything.
func (l *Limiter) Allow(ctx context.Context, key string) Decision {
	if l == nil {
		return Decision{Allowed: true}
	}

	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	res, err := l.script.Run(ctx, l.rdb,
		[]string{l.cfg.Prefix + key},
		l.cfg.Rate, l.cfg.Burst, l.now().UnixMilli(),
	).Int64Slice()
	if err != nil || len(res) < 3 {
		l.logger.WarnContext(ctx, "rate limiter unavailable, allowing request",
			"key", key,
			"error", err)
		return Decision{Allowed: true}
	}

	return Decision{
		Allowed:    res[0] == 1,
		RetryAfter: time.Duration(res[1]) * time.Millisecond,
		Remaining:  int(res[2]),
	}
}

// RetryAfterSeconds renders d for a Retry-After header, rounding up so
// clients never retry early.
func (d Decision) RetryAfterSeconds() string {
	secs := int64((d.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

// Connect dials Redis and verifies the connection.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close() //nolint:errcheck // ping error takes precedence
		return nil, oops.Code("RATELIMIT_CONNECT_FAILED").With("addr", addr).Wrap(err)
	}
	return client, nil
}
