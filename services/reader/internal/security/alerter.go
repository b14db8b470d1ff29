// Package security counts denied audit events per client and flags bursts,
// such as password guessing against a share link.
package security

import (
	"context"
	"strings"
	"time"

	"pdfreader/internal/ratelimit"
)

const defaultPrefix = "pdfreader:reader:alerts"

type rule struct {
	threshold int64
	window    time.Duration
}

// Rules are keyed by "event" or "event/reason"; the more specific key wins.
var rules = map[string]rule{
	"share_resolve/password":  {threshold: 10, window: 5 * time.Minute},
	"share_resolve/not_found": {threshold: 30, window: 5 * time.Minute},
	"user_token":              {threshold: 25, window: 5 * time.Minute},
	"rate_limit":              {threshold: 20, window: time.Minute},
}

// Alert is the outcome of one observation.
type Alert struct {
	Triggered bool
	Count     int64
	Threshold int64
	Window    time.Duration
}

// Alerter counts denied events per client in fixed windows.
type Alerter struct {
	counter *ratelimit.Counter
	prefix  string
}

// NewAlerter returns nil without a counter; a nil Alerter observes nothing.
func NewAlerter(counter *ratelimit.Counter, prefix string) *Alerter {
	if counter == nil {
		return nil
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Alerter{counter: counter, prefix: prefix}
}

// Observe counts a denied event from clientIP.
func (a *Alerter) Observe(ctx context.Context, event, reason, clientIP string) (Alert, error) {
	if a == nil {
		return Alert{}, nil
	}
	name, rl, ok := lookupRule(event, reason)
	if !ok {
		return Alert{}, nil
	}
	if clientIP = strings.TrimSpace(clientIP); clientIP == "" {
		clientIP = "unknown"
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	hit, err := a.counter.Hit(ctx, a.prefix+":"+segment(name)+":"+segment(clientIP), rl.window)
	if err != nil {
		return Alert{}, err
	}
	return Alert{
		Triggered: hit.Count >= rl.threshold,
		Count:     hit.Count,
		Threshold: rl.threshold,
		Window:    rl.window,
	}, nil
}

func lookupRule(event, reason string) (string, rule, bool) {
	event = strings.TrimSpace(event)
	if reason = strings.TrimSpace(reason); reason != "" {
		if rl, ok := rules[event+"/"+reason]; ok {
			return event + "/" + reason, rl, true
		}
	}
	rl, ok := rules[event]
	return event, rl, ok
}

func segment(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "none"
	}
	return strings.NewReplacer(":", "_", "/", ".", " ", "_").Replace(in)
}
