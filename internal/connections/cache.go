package connections

import (
	"context"
	"errors"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"gorm.io/gorm"

	"github.com/angelmondragon/chatdesk-backend/pkg/db/models"
	"github.com/angelmondragon/chatdesk-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/chatdesk-backend/pkg/errors"
)

const (
	defaultCacheSize = 1024
	defaultCacheTTL  = 30 * time.Second
)

type cacheEntry struct {
	conn      models.Connection
	expiresAt time.Time
}

// Registry resolves provider instances to connections through a small
// read-through LRU. Misses are never cached, so a freshly registered
// instance is visible on its first callback.
type Registry struct {
	repo  Repository
	cache *lru.Cache
	ttl   time.Duration
	now   func() time.Time
}

func NewRegistry(repo Repository, size int, ttl time.Duration) (*Registry, error) {
	if repo == nil {
		return nil, errors.New("connections repository required")
	}
	if size <= 0 {
		size = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Registry{repo: repo, cache: cache, ttl: ttl, now: time.Now}, nil
}

func cacheKey(provider enums.ProviderKind, instanceName string) string {
	return string(provider) + "|" + instanceName
}

// Resolve returns a copy of the connection registered for the instance, or a
// NOT_FOUND error.
func (r *Registry) Resolve(ctx context.Context, provider enums.ProviderKind, instanceName string) (*models.Connection, error) {
	instanceName = strings.TrimSpace(instanceName)
	key := cacheKey(provider, instanceName)

	if val, ok := r.cache.Get(key); ok {
		entry := val.(cacheEntry)
		if r.now().Before(entry.expiresAt) {
			conn := entry.conn
			return &conn, nil
		}
		r.cache.Remove(key)
	}

	conn, err := r.repo.FindByInstance(ctx, provider, instanceName)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "instance not registered")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve connection")
	}

	r.cache.Add(key, cacheEntry{conn: *conn, expiresAt: r.now().Add(r.ttl)})
	copied := *conn
	return &copied, nil
}

// Invalidate drops a cached entry after the connection row changes.
func (r *Registry) Invalidate(provider enums.ProviderKind, instanceName string) {
	r.cache.Remove(cacheKey(provider, strings.TrimSpace(instanceName)))
}
