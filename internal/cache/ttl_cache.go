package cache

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/utrading/utrading-agent-hub/internal/monitor"
)

// TTLCache 有界 TTL 缓存，命中时刷新过期时间
// 达到上限时先清理过期项，仍满则拒绝写入（调用方照常使用新建的值）
type TTLCache[V any] struct {
	name       string
	cache      *cache.Cache
	ttl        time.Duration
	maxEntries int
	mu         sync.Mutex // 串行化容量检查与写入
}

// NewTTLCache onEvict 在过期或删除时调用，可为 nil
func NewTTLCache[V any](name string, ttl time.Duration, maxEntries int, onEvict func(key string, v V)) *TTLCache[V] {
	c := &TTLCache[V]{
		name:       name,
		cache:      cache.New(ttl, ttl/2+time.Second),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
	if onEvict != nil {
		c.cache.OnEvicted(func(key string, v interface{}) {
			if val, ok := v.(V); ok {
				onEvict(key, val)
			}
		})
	}
	return c
}

// Get 命中时顺延 TTL
func (c *TTLCache[V]) Get(key string) (V, bool) {
	var zero V

	v, exp, ok := c.cache.GetWithExpiration(key)
	if !ok {
		monitor.IncCacheMiss(c.name)
		return zero, false
	}
	val, ok := v.(V)
	if !ok {
		return zero, false
	}

	// 仅在剩余时间过半时刷新，减少锁竞争
	if !exp.IsZero() && time.Until(exp) < c.ttl/2 {
		c.cache.Set(key, val, cache.DefaultExpiration)
	}
	monitor.IncCacheHit(c.name)
	return val, true
}

// Set 返回 false 表示缓存已满未写入
func (c *TTLCache[V]) Set(key string, v V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxEntries > 0 {
		if _, exists := c.cache.Get(key); !exists && c.cache.ItemCount() >= c.maxEntries {
			c.cache.DeleteExpired()
			if c.cache.ItemCount() >= c.maxEntries {
				return false
			}
		}
	}

	c.cache.Set(key, v, cache.DefaultExpiration)
	return true
}

func (c *TTLCache[V]) Delete(key string) {
	c.cache.Delete(key)
}

func (c *TTLCache[V]) Len() int {
	return c.cache.ItemCount()
}

// Flush 清空缓存，不触发 onEvict
func (c *TTLCache[V]) Flush() {
	c.cache.Flush()
}

// Stats 获取统计信息
func (c *TTLCache[V]) Stats() map[string]any {
	return map[string]any{
		"item_count":  c.cache.ItemCount(),
		"max_entries": c.maxEntries,
		"ttl_minutes": c.ttl.Minutes(),
	}
}
