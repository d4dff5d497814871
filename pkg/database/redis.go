package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rolebridge/pkg/config"
	"github.com/redis/go-redis/v9"
)

// Redis Redis 连接，内存模式下同时持有 miniredis 实例
type Redis struct {
	*redis.Client
	mini *miniredis.Miniredis
}

// OpenRedis 初始化Redis连接
func OpenRedis(ctx context.Context, cfg *config.RedisConfig) (*Redis, error) {
	if cfg.Mode == "memory" {
		mini, err := miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("start memory redis: %w", err)
		}
		return &Redis{
			Client: redis.NewClient(&redis.Options{Addr: mini.Addr()}),
			mini:   mini,
		}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{Client: client}, nil
}

// Close 关闭Redis连接
func (r *Redis) Close() error {
	err := r.Client.Close()
	if r.mini != nil {
		r.mini.Close()
	}
	return err
}

// Cache Redis缓存操作封装
type Cache struct {
	client redis.UniversalClient
	prefix string
}

// NewCache 创建缓存实例
func NewCache(client redis.UniversalClient, prefix string) *Cache {
	return &Cache{
		client: client,
		prefix: prefix,
	}
}

// Key 生成带前缀的key
func (c *Cache) Key(key string) string {
	if c.prefix == "" {
		return key
	}
	return fmt.Sprintf("%s:%s", c.prefix, key)
}

// SetNX 设置缓存(不存在时)
func (c *Cache) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return c.client.SetNX(ctx, c.Key(key), value, expiration).Result()
}

// Get 获取缓存
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, c.Key(key)).Result()
}

// Set 设置缓存
func (c *Cache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, c.Key(key), value, expiration).Err()
}

// Delete 删除缓存
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.Key(k)
	}
	return c.client.Del(ctx, full...).Err()
}

// Keys 按前缀扫描，返回去掉缓存前缀后的key
func (c *Cache) Keys(ctx context.Context, prefix string) ([]string, error) {
	var (
		cursor uint64
		out    []string
	)
	strip := c.Key("")
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.Key(prefix)+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			out = append(out, strings.TrimPrefix(k, strip))
		}
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

// DelIfEqual 仅当值匹配时删除，用于释放自己持有的标记
func (c *Cache) DelIfEqual(ctx context.Context, key string, value string) (bool, error) {
	n, err := delIfEqual.Run(ctx, c.client, []string{c.Key(key)}, value).Int64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

var delIfEqual = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)
