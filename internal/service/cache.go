package service

import (
	"DealerWatch/internal/metrics"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// TTLCache 显式持有的带过期时间的缓存，由调用方创建并注入
type TTLCache[V any] struct {
	name string
	lru  *expirable.LRU[string, V]
}

func NewTTLCache[V any](name string, size int, ttl time.Duration) *TTLCache[V] {
	if size <= 0 {
		size = 256
	}
	return &TTLCache[V]{
		name: name,
		lru:  expirable.NewLRU[string, V](size, nil, ttl),
	}
}

func (c *TTLCache[V]) Get(key string) (V, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		metrics.CacheRequestsTotal.WithLabelValues(c.name, "hit").Inc()
	} else {
		metrics.CacheRequestsTotal.WithLabelValues(c.name, "miss").Inc()
	}
	return v, ok
}

func (c *TTLCache[V]) Add(key string, v V) {
	c.lru.Add(key, v)
}

// Purge 清空，数据写入后失效统计缓存用
func (c *TTLCache[V]) Purge() {
	c.lru.Purge()
}

func (c *TTLCache[V]) Len() int {
	return c.lru.Len()
}

// SetKey 与顺序无关的集合键：排序后 SHA-256
func SetKey(parts []string) string {
	sorted := append([]string{}, parts...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(sum[:])
}
