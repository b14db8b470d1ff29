package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newCounter(t *testing.T) (*Counter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCounter(client), mr
}

func TestFixedWindowLimiter(t *testing.T) {
	counter, _ := newCounter(t)
	limiter, err := NewFixedWindowLimiter(counter, "test:share", 2, time.Second)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	ctx := context.Background()

	want := []Decision{
		{Allowed: true, Limit: 2, Remaining: 1},
		{Allowed: true, Limit: 2, Remaining: 0},
	}
	for i, w := range want {
		d, err := limiter.Check(ctx, "ip-1")
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if d != w {
			t.Fatalf("check %d = %+v, want %+v", i, d, w)
		}
	}
	d, err := limiter.Check(ctx, "ip-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if d.Allowed || d.Remaining != 0 || d.RetryAfter <= 0 || d.RetryAfter > time.Second {
		t.Fatalf("third check = %+v, want blocked with retry within window", d)
	}
	if d, _ := limiter.Check(ctx, "ip-2"); !d.Allowed {
		t.Fatal("other key should pass")
	}
}

func TestFixedWindowLimiterNextWindow(t *testing.T) {
	counter, _ := newCounter(t)
	now := time.Date(2025, 1, 1, 10, 0, 30, 0, time.UTC)
	counter.now = func() time.Time { return now }
	limiter, err := NewFixedWindowLimiter(counter, "test:chat", 1, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	ctx := context.Background()

	if d, _ := limiter.Check(ctx, "u1"); !d.Allowed {
		t.Fatal("first request should pass")
	}
	d, _ := limiter.Check(ctx, "u1")
	if d.Allowed || d.RetryAfter != 30*time.Second {
		t.Fatalf("second check = %+v, want blocked for 30s", d)
	}
	now = now.Add(time.Minute)
	if d, _ := limiter.Check(ctx, "u1"); !d.Allowed {
		t.Fatal("next window should pass")
	}
}

func TestCounterSetsWindowExpiry(t *testing.T) {
	counter, mr := newCounter(t)
	counter.now = func() time.Time { return time.Date(2025, 1, 1, 10, 0, 45, 0, time.UTC) }

	hit, err := counter.Hit(context.Background(), "alerts:user_token:127.0.0.1", time.Minute)
	if err != nil {
		t.Fatalf("hit: %v", err)
	}
	if hit.Count != 1 || hit.ResetIn != 15*time.Second {
		t.Fatalf("hit = %+v, want count 1 reset 15s", hit)
	}
	keys := mr.Keys()
	if len(keys) != 1 {
		t.Fatalf("keys = %v, want one", keys)
	}
	if ttl := mr.TTL(keys[0]); ttl != 15*time.Second {
		t.Fatalf("ttl = %v, want 15s", ttl)
	}
}

func TestFixedWindowLimiterFailsClosed(t *testing.T) {
	counter, mr := newCounter(t)
	limiter, err := NewFixedWindowLimiter(counter, "test:upload", 1, time.Second)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	mr.Close()
	d, err := limiter.Check(context.Background(), "ip-1")
	if err == nil || d.Allowed {
		t.Fatalf("check = %+v, %v; want error and denial", d, err)
	}
}

func TestNewFixedWindowLimiterValidates(t *testing.T) {
	counter, _ := newCounter(t)
	cases := []struct {
		name    string
		counter *Counter
		prefix  string
		limit   int
		window  time.Duration
	}{
		{"nil counter", nil, "p", 1, time.Second},
		{"zero limit", counter, "p", 0, time.Second},
		{"zero window", counter, "p", 1, 0},
		{"blank prefix", counter, " ", 1, time.Second},
	}
	for _, tc := range cases {
		if _, err := NewFixedWindowLimiter(tc.counter, tc.prefix, tc.limit, tc.window); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}
