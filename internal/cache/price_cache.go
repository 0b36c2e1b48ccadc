package cache

import (
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

// PriceCache 代币价格与情绪快照缓存，使用 go-cache 实现 TTL 自动过期
type PriceCache struct {
	cache *cache.Cache
	ttl   time.Duration
}

// Quote 价格快照
type Quote struct {
	Price      float64
	Sentiment  float64
	Volatility float64
	At         time.Time
}

// NewPriceCache 清理间隔自动设为 2×TTL
func NewPriceCache(ttl time.Duration) *PriceCache {
	return &PriceCache{
		cache: cache.New(ttl, ttl*2),
		ttl:   ttl,
	}
}

func (c *PriceCache) Get(token string) (Quote, bool) {
	v, ok := c.cache.Get(priceKey(token))
	if !ok {
		return Quote{}, false
	}
	return v.(Quote), true
}

func (c *PriceCache) Set(token string, q Quote) {
	c.cache.Set(priceKey(token), q, cache.DefaultExpiration)
}

// priceKey 地址与符号均不区分大小写
func priceKey(token string) string {
	return strings.ToLower(token)
}

// Stats 获取统计信息
func (c *PriceCache) Stats() map[string]any {
	return map[string]any{
		"item_count":  c.cache.ItemCount(),
		"ttl_seconds": c.ttl.Seconds(),
	}
}
