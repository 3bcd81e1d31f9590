package gitctx

import (
	"context"
	"sync"
	"time"

	"github.com/drblury/hookd/internal/runtime/envelope"
	loggingpkg "github.com/drblury/hookd/internal/runtime/logging"
	"github.com/drblury/hookd/internal/runtime/metrics"
)

type cachedEntry struct {
	repo      envelope.RepoContext
	fetchedAt time.Time
}

// Cache keeps one RepoContext per repository root for ttl. The root lookup
// itself is never cached so a moved working directory is noticed at once.
//
// Entries are immutable snapshots replaced under the write lock. Concurrent
// misses for the same root may each resolve; the last write wins.
type Cache struct {
	resolver *Resolver
	ttl      time.Duration
	logger   loggingpkg.ServiceLogger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]cachedEntry
}

// CacheOption customises a Cache.
type CacheOption func(*Cache)

// WithClock overrides the time source used for TTL checks.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCache wraps resolver with a TTL cache keyed by repository root.
func NewCache(resolver *Resolver, ttl time.Duration, logger loggingpkg.ServiceLogger, m *metrics.Metrics, opts ...CacheOption) *Cache {
	if logger == nil {
		logger = loggingpkg.NewNopServiceLogger()
	}
	c := &Cache{
		resolver: resolver,
		ttl:      ttl,
		logger:   logger,
		metrics:  metrics.OrNew(m),
		now:      time.Now,
		entries:  make(map[string]cachedEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrResolve returns the context for the repository containing dir,
// resolving it when absent or older than the TTL.
func (c *Cache) GetOrResolve(ctx context.Context, dir string) (envelope.RepoContext, bool) {
	root, ok := c.resolver.Root(ctx, dir)
	if !ok {
		return envelope.RepoContext{}, false
	}

	if repo, hit := c.lookup(root); hit {
		c.metrics.CacheHits.Inc()
		c.logger.Debug("using cached repo context", loggingpkg.LogFields{"git_root": root})
		return repo, true
	}

	c.metrics.CacheMisses.Inc()
	repo, ok := c.resolver.ResolveRoot(ctx, root)
	if !ok {
		return envelope.RepoContext{}, false
	}

	c.mu.Lock()
	c.entries[root] = cachedEntry{repo: repo, fetchedAt: c.now()}
	c.mu.Unlock()

	return repo, true
}

func (c *Cache) lookup(root string) (envelope.RepoContext, bool) {
	c.mu.RLock()
	entry, ok := c.entries[root]
	c.mu.RUnlock()

	if !ok || c.now().Sub(entry.fetchedAt) >= c.ttl {
		return envelope.RepoContext{}, false
	}
	return entry.repo, true
}

// Len reports how many repository roots are cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
