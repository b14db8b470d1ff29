// Package ratelimit provides Redis-backed request limits for chat, upload
// and public share resolution.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Returns {count, pttl} for the window key.
var hitScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {count, redis.call("PTTL", KEYS[1])}
`)

// Hit is one counted event.
type Hit struct {
	Count   int64
	ResetIn time.Duration
}

// Counter keeps fixed-window counters in Redis. Windows are aligned to
// multiples of their length so every replica agrees on boundaries.
type Counter struct {
	client redis.Scripter
	now    func() time.Time
}

func NewCounter(client redis.Scripter) *Counter {
	return &Counter{client: client, now: time.Now}
}

// Hit counts one event for key in the current window.
func (c *Counter) Hit(ctx context.Context, key string, window time.Duration) (Hit, error) {
	windowMs := window.Milliseconds()
	if windowMs <= 0 {
		return Hit{}, errors.New("window must be at least 1ms")
	}
	nowMs := c.now().UTC().UnixMilli()
	slot := nowMs / windowMs
	ttl := windowMs - nowMs%windowMs
	res, err := hitScript.Run(ctx, c.client, []string{fmt.Sprintf("%s:%d", key, slot)}, ttl).Int64Slice()
	if err != nil {
		return Hit{}, err
	}
	if len(res) != 2 {
		return Hit{}, fmt.Errorf("unexpected counter reply %v", res)
	}
	resetIn := time.Duration(res[1]) * time.Millisecond
	if resetIn <= 0 {
		resetIn = time.Duration(ttl) * time.Millisecond
	}
	return Hit{Count: res[0], ResetIn: resetIn}, nil
}

// Decision is the outcome of a limit check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// FixedWindowLimiter allows limit requests per key per window.
type FixedWindowLimiter struct {
	counter *Counter
	prefix  string
	limit   int
	window  time.Duration
}

func NewFixedWindowLimiter(counter *Counter, prefix string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	if counter == nil {
		return nil, errors.New("rate limiter requires a counter")
	}
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, errors.New("rate limiter requires a key prefix")
	}
	return &FixedWindowLimiter{counter: counter, prefix: prefix, limit: limit, window: window}, nil
}

// Check counts the request. Callers should deny on error.
func (l *FixedWindowLimiter) Check(ctx context.Context, key string) (Decision, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	hit, err := l.counter.Hit(ctx, l.prefix+":"+key, l.window)
	if err != nil {
		return Decision{Limit: l.limit, RetryAfter: l.window}, fmt.Errorf("rate limit %s: %w", l.prefix, err)
	}
	d := Decision{
		Allowed:   hit.Count <= int64(l.limit),
		Limit:     l.limit,
		Remaining: max(l.limit-int(hit.Count), 0),
	}
	if !d.Allowed {
		d.RetryAfter = hit.ResetIn
	}
	return d, nil
}
