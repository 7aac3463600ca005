package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"example.com/backstage/eventsearch/config"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

const scanBatch = 100

// NewRedisClient creates a redis client and checks the connection
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	return client, nil
}

type redisCache struct {
	name       string
	client     *redis.Client
	prefix     string
	expiration time.Duration
	counters
}

func newRedisCache(client *redis.Client, name, keyPrefix string, cc CacheConfig) *redisCache {
	return &redisCache{
		name:       name,
		client:     client,
		prefix:     keyPrefix + name + ":",
		expiration: cc.Expiration,
	}
}

func (c *redisCache) Name() string {
	return c.name
}

func (c *redisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			c.miss()
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "failed to get value from Redis")
	}
	c.hit()
	return data, true, nil
}

func (c *redisCache) Put(ctx context.Context, key string, value []byte) error {
	if err := c.client.Set(ctx, c.prefix+key, value, c.expiration).Err(); err != nil {
		return errors.Wrap(err, "failed to set value in Redis")
	}
	c.put()
	return nil
}

func (c *redisCache) Remove(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return errors.Wrap(err, "failed to delete value from Redis")
	}
	c.remove()
	return nil
}

func (c *redisCache) Entries(ctx context.Context) (map[string][]byte, error) {
	keys, err := c.keys(ctx)
	if err != nil {
		return nil, err
	}

	entries := make(map[string][]byte, len(keys))
	for _, key := range keys {
		data, err := c.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue // expired between SCAN and GET
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to read cache entry from Redis")
		}
		entries[strings.TrimPrefix(key, c.prefix)] = data
	}
	return entries, nil
}

func (c *redisCache) Clear(ctx context.Context) error {
	keys, err := c.keys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrap(err, "failed to clear cache in Redis")
	}
	return nil
}

func (c *redisCache) Stats() Stats {
	return c.snapshot()
}

func (c *redisCache) keys(ctx context.Context) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", scanBatch).Result()
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan cache keys in Redis")
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}
