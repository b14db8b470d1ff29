package ai

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	// CredentialBuffer is how long before expiry a cached credential is dropped.
	CredentialBuffer = 300 * time.Second
	// DefaultCredentialLifetime applies when the exchange reports no expiry.
	DefaultCredentialLifetime = 1800 * time.Second
)

var errEmptyToken = errors.New("empty access token")

// CredentialCache holds the single provider credential of the process.
// Concurrent refreshes may both hit the exchange; the last one wins.
type CredentialCache struct {
	exchanger CredentialExchanger
	secret    string

	now      func() time.Time
	buffer   time.Duration
	lifetime time.Duration

	mu  sync.RWMutex
	cur *Credential
}

// CacheOption customizes a CredentialCache.
type CacheOption func(*CredentialCache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) CacheOption {
	return func(c *CredentialCache) { c.now = now }
}

// WithBuffer overrides CredentialBuffer.
func WithBuffer(d time.Duration) CacheOption {
	return func(c *CredentialCache) { c.buffer = d }
}

// WithDefaultLifetime overrides DefaultCredentialLifetime.
func WithDefaultLifetime(d time.Duration) CacheOption {
	return func(c *CredentialCache) { c.lifetime = d }
}

// NewCredentialCache builds a cache that refreshes through exchanger.
func NewCredentialCache(exchanger CredentialExchanger, secret string, opts ...CacheOption) *CredentialCache {
	c := &CredentialCache{
		exchanger: exchanger,
		secret:    strings.TrimSpace(secret),
		now:       time.Now,
		buffer:    CredentialBuffer,
		lifetime:  DefaultCredentialLifetime,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns a usable token, exchanging the secret when the cached one is
// missing or about to expire.
func (c *CredentialCache) Token(ctx context.Context) (string, error) {
	now := c.now()
	c.mu.RLock()
	cur := c.cur
	c.mu.RUnlock()
	if cur != nil && !cur.Expired(now, c.buffer) {
		slog.Debug("using cached provider token")
		return cur.Token, nil
	}

	if c.secret == "" {
		return "", ErrMissingSecret
	}
	slog.Info("requesting new provider token")
	cred, err := c.exchanger.ExchangeCredential(ctx, c.secret)
	if err != nil {
		slog.Error("provider token request failed", "err", err)
		return "", &CredentialError{Err: err}
	}
	if cred.Token == "" {
		return "", &CredentialError{Err: errEmptyToken}
	}
	issued := c.now()
	if cred.IssuedAt.IsZero() {
		cred.IssuedAt = issued
	}
	if cred.ExpiresAt.IsZero() {
		cred.ExpiresAt = issued.Add(c.lifetime)
	}
	c.mu.Lock()
	c.cur = &cred
	c.mu.Unlock()
	slog.Info("provider token obtained", "expires_at", cred.ExpiresAt.UTC().Format(time.RFC3339))
	return cred.Token, nil
}

// Invalidate drops the cached credential.
func (c *CredentialCache) Invalidate() {
	c.mu.Lock()
	c.cur = nil
	c.mu.Unlock()
	slog.Info("provider token cache cleared")
}

// Peek returns the cached credential without refreshing it.
func (c *CredentialCache) Peek() (Credential, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cur == nil {
		return Credential{}, false
	}
	return *c.cur, true
}
