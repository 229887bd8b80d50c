// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

package metadata

import (
	"context"
	"sync"
	"time"
)

// TenantSizeLimiter resolves a tenant's MaxObjectSizeBytes cap for
// objectlifecycle.SizeLimiter, caching lookups briefly so every upload
// doesn't round-trip to the control-plane database (same caching shape as
// Store.pools, keyed by tenant instead of by connection).
type TenantSizeLimiter struct {
	registry *TenantRegistry
	ttl      time.Duration

	mu    sync.Mutex
	cache map[string]cachedLimit
}

type cachedLimit struct {
	limit   *int64
	fetched time.Time
}

// NewTenantSizeLimiter constructs a TenantSizeLimiter. A zero ttl defaults
// to 30s.
func NewTenantSizeLimiter(registry *TenantRegistry, ttl time.Duration) *TenantSizeLimiter {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &TenantSizeLimiter{registry: registry, ttl: ttl, cache: map[string]cachedLimit{}}
}

// MaxObjectSize implements objectlifecycle.SizeLimiter.
func (l *TenantSizeLimiter) MaxObjectSize(ctx context.Context, tenantID, bucketID string) (int64, bool) {
	l.mu.Lock()
	if c, ok := l.cache[tenantID]; ok && time.Since(c.fetched) < l.ttl {
		l.mu.Unlock()
		if c.limit == nil {
			return 0, false
		}
		return *c.limit, true
	}
	l.mu.Unlock()

	t, err := l.registry.GetTenant(ctx, tenantID)
	if err != nil {
		return 0, false
	}

	l.mu.Lock()
	l.cache[tenantID] = cachedLimit{limit: t.MaxObjectSizeBytes, fetched: time.Now()}
	l.mu.Unlock()

	if t.MaxObjectSizeBytes == nil {
		return 0, false
	}
	return *t.MaxObjectSizeBytes, true
}
