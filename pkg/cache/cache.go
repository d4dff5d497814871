package cache

import (
	"sync"
)

// Cache 进程内泛型缓存，条目不过期，需要时由调用方 Clear
type Cache[K comparable, V any] struct {
	items map[K]V
	mu    sync.RWMutex
}

// New 创建缓存
func New[K comparable, V any]() *Cache[K, V] {
	return &Cache[K, V]{
		items: make(map[K]V),
	}
}

// Get 获取缓存
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	v, ok := c.items[key]
	c.mu.RUnlock()
	return v, ok
}

// GetOrCompute 获取缓存，不存在时计算并写入
// 并发首次计算可能重复执行 compute，结果以先写入者为准
func (c *Cache[K, V]) GetOrCompute(key K, compute func() V) V {
	if v, ok := c.Get(key); ok {
		return v
	}

	v := compute()

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.items[key]; ok {
		return existing
	}
	c.items[key] = v
	return v
}

// Count 获取缓存数量
func (c *Cache[K, V]) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Clear 清空所有缓存
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	c.items = make(map[K]V)
	c.mu.Unlock()
}
