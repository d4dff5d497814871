package syncevent

import (
	"context"
	"time"

	"github.com/rolebridge/pkg/database"
)

// Claimer 事件认领
// 认领只是减少多进程重复处理的提示，不是互斥保证
type Claimer interface {
	TryClaim(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

// RedisClaimer 基于 SET NX PX 的认领，进程崩溃后由过期时间释放
type RedisClaimer struct {
	cache *database.Cache
	node  string
	ttl   time.Duration
}

// NewRedisClaimer 创建认领器
func NewRedisClaimer(cache *database.Cache, node string, ttl time.Duration) *RedisClaimer {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisClaimer{cache: cache, node: node, ttl: ttl}
}

// TryClaim 尝试认领
func (c *RedisClaimer) TryClaim(ctx context.Context, id string) (bool, error) {
	return c.cache.SetNX(ctx, id, c.node, c.ttl)
}

// Release 释放本节点持有的认领
func (c *RedisClaimer) Release(ctx context.Context, id string) error {
	_, err := c.cache.DelIfEqual(ctx, id, c.node)
	return err
}

// NopClaimer 总是认领成功
type NopClaimer struct{}

func (NopClaimer) TryClaim(context.Context, string) (bool, error) { return true, nil }
func (NopClaimer) Release(context.Context, string) error         { return nil }
