// Package ratelimit provides a Redis-backed fixed-window rate limiter for
// the public signing surface, where requests are authenticated by nothing
// more than a capability token.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
-- KEYS[1] = window counter key
-- ARGV[1] = limit (int)
-- ARGV[2] = ttl_ms (int)
--
-- Returns the remaining allowance after this request, or -1 when rejected.
local current = redis.call('INCR', KEYS[1])
if current == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
else
  -- Ensure TTL exists even if the key somehow lost it
  if redis.call('PTTL', KEYS[1]) < 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[2])
  end
end

if current > tonumber(ARGV[1]) then
  return -1
end
return tonumber(ARGV[1]) - current
`)

// Decision is the outcome of one allowance check.
type Decision struct {
	Allowed   bool
	Remaining int

	// RetryAfter is an upper bound on how long the caller should back off;
	// the window may roll over sooner.
	RetryAfter time.Duration
}

// Allower is what the HTTP middleware consumes. A nil Allower disables
// limiting.
type Allower interface {
	Allow(ctx context.Context, subject string) (Decision, error)
}

// Limiter counts requests per subject in fixed windows.
//
// Safety properties:
// - Atomic count-and-check using Lua.
// - Window keys expire on their own; a crashed process leaks nothing.
type Limiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	prefix string
}

func New(rdb *redis.Client, limit int, window time.Duration) (*Limiter, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be > 0")
	}
	return &Limiter{rdb: rdb, limit: limit, window: window, prefix: "ratelimit:"}, nil
}

// Allow consumes one unit of the subject's allowance for the current window.
func (l *Limiter) Allow(ctx context.Context, subject string) (Decision, error) {
	if subject == "" {
		return Decision{}, fmt.Errorf("subject is required")
	}
	bucket := time.Now().UnixMilli() / l.window.Milliseconds()
	key := fmt.Sprintf("%s%s:%d", l.prefix, subject, bucket)

	res, err := fixedWindowScript.Run(ctx, l.rdb, []string{key}, l.limit, l.window.Milliseconds()).Int()
	if err != nil {
		return Decision{}, err
	}
	if res < 0 {
		return Decision{Allowed: false, Remaining: 0, RetryAfter: l.window}, nil
	}
	return Decision{Allowed: true, Remaining: res}, nil
}
