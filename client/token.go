package client

import (
	"context"
	"sync"
	"time"
)

// tokenCache holds a process-wide bearer token with expiry tracking.
// The zero value is an empty cache ready for use.
type tokenCache struct {
	mu        sync.Mutex
	value     string
	expiresAt time.Time
}

// Get returns the cached token, fetching a new one when absent or past its
// expiry instant. The lock is held across the whole check-fetch-store
// sequence, so concurrent callers with an empty cache trigger exactly one
// fetch. A zero expiresAt means the token does not expire by wall clock.
func (c *tokenCache) Get(ctx context.Context, fetch func(context.Context) (string, time.Time, error)) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value != "" && (c.expiresAt.IsZero() || time.Now().Before(c.expiresAt)) {
		return c.value, nil
	}
	value, expiresAt, err := fetch(ctx)
	if err != nil {
		return "", err
	}
	c.value, c.expiresAt = value, expiresAt
	return value, nil
}

// Invalidate clears the cached token so the next Get re-fetches. Called when
// a provider signals an authentication failure.
func (c *tokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value, c.expiresAt = "", time.Time{}
}

// Process-wide caches, one per credentialed provider, matching the token's
// process lifetime. Adapters hold a pointer so tests can substitute their own.
var (
	ernieAccessToken    tokenCache
	vertexAIAccessToken tokenCache
)
