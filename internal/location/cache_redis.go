package location

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sandeepkv93/guardian-location-service/internal/domain"
)

type RedisPositionCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisPositionCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisPositionCache {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "guardian"
	}
	return &RedisPositionCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisPositionCache) Put(ctx context.Context, ownerID string, pos domain.Position) error {
	raw, err := json.Marshal(pos)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.positionKey(ownerID), raw, c.ttl).Err()
}

func (c *RedisPositionCache) Latest(ctx context.Context, ownerID string) (domain.Position, bool, error) {
	raw, err := c.client.Get(ctx, c.positionKey(ownerID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Position{}, false, nil
		}
		return domain.Position{}, false, err
	}
	var pos domain.Position
	if err := json.Unmarshal(raw, &pos); err != nil {
		return domain.Position{}, false, err
	}
	return pos, true, nil
}

func (c *RedisPositionCache) SetPermission(ctx context.Context, ownerID string, granted bool) error {
	v := "0"
	if granted {
		v = "1"
	}
	return c.client.Set(ctx, c.permissionKey(ownerID), v, 0).Err()
}

func (c *RedisPositionCache) Permission(ctx context.Context, ownerID string) (bool, bool, error) {
	v, err := c.client.Get(ctx, c.permissionKey(ownerID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, false, nil
		}
		return false, false, err
	}
	return v == "1", true, nil
}

func (c *RedisPositionCache) positionKey(ownerID string) string {
	return c.prefix + ":pos:" + ownerID
}

func (c *RedisPositionCache) permissionKey(ownerID string) string {
	return c.prefix + ":perm:" + ownerID
}
