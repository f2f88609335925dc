// ABOUTME: Acting user resolution for audit commits
// ABOUTME: Caches username to user id lookups, including unknown usernames

package identity

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nainya/entityversion/internal/metrics"
	"github.com/nainya/entityversion/pkg/metadata"
	"github.com/nainya/entityversion/pkg/query"
	"github.com/nainya/entityversion/pkg/storage"
)

// DefaultCacheSize bounds a cache built with a non-positive size.
const DefaultCacheSize = 1024

type cacheEntry struct {
	userID string
	found  bool
}

// Cache maps usernames to user ids. A miss is cached as a negative entry.
type Cache struct {
	entries *lru.Cache[string, cacheEntry]
}

// NewCache creates a bounded cache holding up to size usernames.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("create user cache: %w", err)
	}
	return &Cache{entries: entries}, nil
}

// Get reports the cached id of username. found is false for negative entries;
// ok is false when username was never cached.
func (c *Cache) Get(username string) (userID string, found, ok bool) {
	e, ok := c.entries.Get(username)
	return e.userID, e.found, ok
}

// Add caches a lookup result. An empty userID records a negative entry.
func (c *Cache) Add(username, userID string) {
	c.entries.Add(username, cacheEntry{userID: userID, found: userID != ""})
}

// Len returns the number of cached usernames.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Resolver turns a principal into a user id.
type Resolver struct {
	users   storage.Searcher
	cache   *Cache
	metrics *metrics.Metrics
}

// Option configures a Resolver
type Option func(*Resolver)

// WithMetrics records lookup outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// NewResolver creates a resolver searching users and caching into cache.
func NewResolver(users storage.Searcher, cache *Cache, opts ...Option) *Resolver {
	r := &Resolver{users: users, cache: cache}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the principal's user id, or nil for anonymous and unknown principals.
func (r *Resolver) Resolve(ctx context.Context, p *storage.Principal) (*string, error) {
	if p == nil {
		return nil, nil
	}
	if p.UserID != "" {
		id := p.UserID
		return &id, nil
	}
	if p.Username == "" {
		return nil, nil
	}

	if id, found, ok := r.cache.Get(p.Username); ok {
		r.metrics.RecordUserLookup("hit")
		if !found {
			return nil, nil
		}
		return &id, nil
	}

	r.metrics.RecordUserLookup("search")
	criteria := query.NewCriteria().
		Where(metadata.UserEntity+".username", p.Username).
		WithLimit(1)
	ids, err := r.users.Search(ctx, metadata.UserEntity, criteria, storage.DefaultContext())
	if err != nil {
		return nil, fmt.Errorf("resolve user %s: %w", p.Username, err)
	}

	if len(ids) == 0 {
		r.cache.Add(p.Username, "")
		return nil, nil
	}
	r.cache.Add(p.Username, ids[0])
	id := ids[0]
	return &id, nil
}
