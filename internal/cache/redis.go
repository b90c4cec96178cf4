package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/fjod/gig_cart/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL = 15 * time.Minute
	maxJitter  = 5 * time.Minute

	// entryVersion is bumped whenever the cached layout changes; entries
	// written with another version are treated as misses.
	entryVersion = 1
)

type entry struct {
	Version int          `json:"v"`
	Cart    *domain.Cart `json:"cart"`
}

// RedisCache stores Draft carts as JSON under cart:<userID>.
type RedisCache struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRedisCache(client redis.UniversalClient, baseTTL time.Duration) *RedisCache {
	if baseTTL <= 0 {
		baseTTL = defaultTTL
	}
	return &RedisCache{rdb: client, ttl: baseTTL}
}

// Get returns ErrCacheMiss for absent, outdated and undecodable entries.
// Undecodable entries are evicted on the way out.
func (r *RedisCache) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	raw, err := r.rdb.Get(ctx, cacheKey(userID)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, ErrCacheMiss
	case err != nil:
		return nil, fmt.Errorf("read cached cart for %s: %w", userID, err)
	}

	var e entry
	if decodeErr := json.Unmarshal(raw, &e); decodeErr != nil || e.Cart == nil {
		_ = r.rdb.Del(ctx, cacheKey(userID)).Err()
		return nil, fmt.Errorf("%w: evicted undecodable entry for %s", ErrCacheMiss, userID)
	}
	if e.Version != entryVersion || e.Cart.UserID != userID {
		return nil, ErrCacheMiss
	}
	return e.Cart, nil
}

// Set caches a Draft cart. Submitted carts are never cached; passing
// one drops whatever is stored for the user instead.
func (r *RedisCache) Set(ctx context.Context, userID string, cart *domain.Cart) error {
	if cart == nil || !cart.IsDraft() {
		return r.Delete(ctx, userID)
	}

	payload, err := json.Marshal(entry{Version: entryVersion, Cart: cart})
	if err != nil {
		return fmt.Errorf("encode cart %s: %w", cart.ID, err)
	}

	// spread expiry so carts cached together do not expire together
	expiry := r.ttl + rand.N(maxJitter)
	if err := r.rdb.Set(ctx, cacheKey(userID), payload, expiry).Err(); err != nil {
		return fmt.Errorf("write cached cart for %s: %w", userID, err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, userID string) error {
	if err := r.rdb.Del(ctx, cacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("evict cached cart for %s: %w", userID, err)
	}
	return nil
}

func cacheKey(userID string) string {
	return "cart:" + userID
}
