package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLCache_BoundRefusesNewKeys(t *testing.T) {
	c := NewTTLCache[string]("test", time.Minute, 2, nil)

	assert.True(t, c.Set("a", "1"))
	assert.True(t, c.Set("b", "2"))
	assert.False(t, c.Set("c", "3"))
	// 已存在的键可以覆盖
	assert.True(t, c.Set("a", "x"))

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "x", v)
	assert.Equal(t, 2, c.Len())
}

func TestTTLCache_ExpiredMakesRoom(t *testing.T) {
	c := NewTTLCache[string]("test", 50*time.Millisecond, 1, nil)

	assert.True(t, c.Set("a", "1"))
	time.Sleep(80 * time.Millisecond)
	assert.True(t, c.Set("b", "2"))

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestTTLCache_SlidingExpiration(t *testing.T) {
	c := NewTTLCache[string]("test", 200*time.Millisecond, 0, nil)
	c.Set("a", "1")

	// 每次在过半后访问，持续顺延
	for i := 0; i < 4; i++ {
		time.Sleep(120 * time.Millisecond)
		_, ok := c.Get("a")
		require.True(t, ok, "iteration %d", i)
	}
}

func TestTTLCache_OnEvict(t *testing.T) {
	var mu sync.Mutex
	var evicted []string
	c := NewTTLCache[int]("test", time.Minute, 0, func(key string, v int) {
		mu.Lock()
		evicted = append(evicted, key)
		mu.Unlock()
	})

	c.Set("a", 1)
	c.Delete("a")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a"}, evicted)
}

func TestPriceCache(t *testing.T) {
	c := NewPriceCache(100 * time.Millisecond)

	c.Set("0xABC", Quote{Price: 2500})
	q, ok := c.Get("0xabc")
	require.True(t, ok)
	assert.Equal(t, 2500.0, q.Price)

	time.Sleep(150 * time.Millisecond)
	_, ok = c.Get("0xabc")
	assert.False(t, ok)
}

func TestInFlight(t *testing.T) {
	f := NewInFlight()

	assert.True(t, f.Acquire("decision:1"))
	assert.False(t, f.Acquire("decision:1"))

	// 长时间的链上流程期间占用不能失效
	_, exp, ok := f.cache.GetWithExpiration("decision:1")
	require.True(t, ok)
	assert.True(t, exp.IsZero())

	f.Release("decision:1")
	assert.True(t, f.Acquire("decision:1"))
}
