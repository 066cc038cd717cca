package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	grantsVersionKey = "rbac:grants:version"
	grantsKeyPrefix  = "rbac:grants"
)

// Cache stores resolved Grants in Redis. Keys embed a global version so one
// Bump invalidates every user.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper. A nil client yields a disabled cache.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, grantsVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, grantsVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, grantsVersionKey).Int64()
	}
	return ver, err
}

// Get loads cached grants. The bool is false on a miss.
func (c *Cache) Get(ctx context.Context, userID int64) (Grants, bool, error) {
	if c == nil {
		return Grants{}, false, nil
	}
	key, err := c.key(ctx, userID)
	if err != nil {
		return Grants{}, false, err
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Grants{}, false, nil
	}
	if err != nil {
		return Grants{}, false, err
	}
	var grants Grants
	if err := json.Unmarshal(payload, &grants); err != nil {
		return Grants{}, false, err
	}
	return grants, true, nil
}

// Put stores grants under the current version.
func (c *Cache) Put(ctx context.Context, grants Grants) error {
	if c == nil {
		return nil
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return err
	}
	return c.PutAt(ctx, ver, grants)
}

// PutAt stores grants under ver, the version read before the grants were
// loaded. A Bump in between leaves the entry under a key no reader uses.
func (c *Cache) PutAt(ctx context.Context, ver int64, grants Grants) error {
	if c == nil {
		return nil
	}
	key := versionedKey(ver, grants.UserID)
	raw, err := json.Marshal(grants)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, c.ttl).Err()
}

// Bump invalidates the cache by incrementing the global version.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.client.Incr(ctx, grantsVersionKey).Err()
}

func (c *Cache) key(ctx context.Context, userID int64) (string, error) {
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return versionedKey(ver, userID), nil
}

func versionedKey(ver, userID int64) string {
	return fmt.Sprintf("%s:%d:%d", grantsKeyPrefix, ver, userID)
}
