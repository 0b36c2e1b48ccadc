package cache

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// InFlight 防止同一键并发执行（进程内）
// 占用不会过期，持有者必须调用 Release
type InFlight struct {
	cache *cache.Cache
}

func NewInFlight() *InFlight {
	return &InFlight{cache: cache.New(cache.NoExpiration, 0)}
}

// Acquire 已被占用时返回 false
func (f *InFlight) Acquire(key string) bool {
	return f.cache.Add(key, time.Now(), cache.DefaultExpiration) == nil
}

func (f *InFlight) Release(key string) {
	f.cache.Delete(key)
}
