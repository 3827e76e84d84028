// Package usercache fronts UserStore.GetOrCreateUser with an in-memory LRU
// so a hot (app_name, external_user_id) pair submitting many jobs in quick
// succession doesn't round-trip to Postgres on every submission.
package usercache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/relayhook/dispatcher/internal/domain"
	"github.com/relayhook/dispatcher/internal/repository"
)

const defaultSize = 4096

// Cache wraps a repository.UserStore with a bounded LRU keyed on
// "app_name\x00external_user_id".
type Cache struct {
	store repository.UserStore
	cache *lru.Cache[string, *domain.AppUser]
}

func New(store repository.UserStore) (*Cache, error) {
	return NewWithSize(store, defaultSize)
}

func NewWithSize(store repository.UserStore, size int) (*Cache, error) {
	c, err := lru.New[string, *domain.AppUser](size)
	if err != nil {
		return nil, fmt.Errorf("create user lru: %w", err)
	}
	return &Cache{store: store, cache: c}, nil
}

func cacheKey(appName, externalUserID string) string {
	return appName + "\x00" + externalUserID
}

// GetOrCreateUser satisfies repository.UserStore, serving from the LRU
// first. On a miss it falls through to the store and caches the result —
// the store's own uniqueness guard is still the source of truth, this is
// purely a read-through cache.
func (c *Cache) GetOrCreateUser(ctx context.Context, appName, externalUserID string) (*domain.AppUser, error) {
	key := cacheKey(appName, externalUserID)
	if u, ok := c.cache.Get(key); ok {
		return u, nil
	}

	u, err := c.store.GetOrCreateUser(ctx, appName, externalUserID)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, u)
	return u, nil
}
