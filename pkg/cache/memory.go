package cache

import (
	"context"
	"encoding/json"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache 进程内缓存 (go-cache)，保存 JSON 编码后的字节，
// 和 RedisCache 一样读出的是副本
type MemoryCache struct {
	store *gocache.Cache
}

// NewMemoryCache ttl 传 0 的写入使用 defaultTTL
func NewMemoryCache(defaultTTL, sweep time.Duration) *MemoryCache {
	return &MemoryCache{store: gocache.New(defaultTTL, sweep)}
}

func (m *MemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	m.store.Set(key, raw, ttl)
	return nil
}

func (m *MemoryCache) Get(_ context.Context, key string, target interface{}) error {
	cached, ok := m.store.Get(key)
	if !ok {
		return ErrMiss
	}
	raw, ok := cached.([]byte)
	if !ok {
		m.store.Delete(key)
		return ErrMiss
	}
	return json.Unmarshal(raw, target)
}

func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.store.Delete(key)
	return nil
}

// Len 当前条目数 (含已过期未清理的)
func (m *MemoryCache) Len() int {
	return m.store.ItemCount()
}
