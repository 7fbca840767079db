package directory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mmynk/closeout/internal/models"
)

// Ensure RedisCache implements Resolver
var _ Resolver = (*RedisCache)(nil)

// RedisCache wraps a Resolver with a cache-aside layer. Directory data
// changes rarely while closure alerts resolve the same accounts in
// bursts, so hits skip the ledger round-trips entirely. Cache failures
// fall through to the inner resolver.
type RedisCache struct {
	inner Resolver
	rdb   *redis.Client
	ttl   time.Duration
}

// NewRedisCache creates a caching resolver around inner.
func NewRedisCache(inner Resolver, rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{
		inner: inner,
		rdb:   rdb,
		ttl:   ttl,
	}
}

// ResolveAccount returns the cached identity when fresh, resolving and
// caching it otherwise. Unresolved accounts are not cached.
func (c *RedisCache) ResolveAccount(ctx context.Context, accountID string) (*models.ParticipantIdentity, error) {
	cacheKey := "directory:identity:" + accountID
	cached, err := c.rdb.Get(ctx, cacheKey).Result()
	if err == nil {
		var identity models.ParticipantIdentity
		if json.Unmarshal([]byte(cached), &identity) == nil {
			return &identity, nil
		}
	}

	identity, err := c.inner.ResolveAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	identityJSON, _ := json.Marshal(identity)
	c.rdb.Set(ctx, cacheKey, identityJSON, c.ttl)

	return identity, nil
}
