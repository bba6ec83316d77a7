package cache

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// MultiLevelCache L1 本地内存 + L2 Redis。
// 本地副本的存活时间不超过 localTTL，也不超过写入 TTL 的一半，
// 多实例之间最多读到 localTTL 内的旧值
type MultiLevelCache struct {
	local    Cache
	remote   Cache
	localTTL time.Duration
	log      *zap.Logger
}

func NewMultiLevelCache(local, remote Cache, localTTL time.Duration, log *zap.Logger) *MultiLevelCache {
	if log == nil {
		log = zap.NewNop()
	}
	if localTTL <= 0 {
		localTTL = time.Minute
	}
	return &MultiLevelCache{local: local, remote: remote, localTTL: localTTL, log: log.Named("cache")}
}

func (m *MultiLevelCache) localFor(ttl time.Duration) time.Duration {
	if ttl > 0 && ttl/2 < m.localTTL {
		return ttl / 2
	}
	return m.localTTL
}

func (m *MultiLevelCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := m.remote.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	if err := m.local.Set(ctx, key, value, m.localFor(ttl)); err != nil {
		m.log.Warn("写入本地缓存失败", zap.String("key", key), zap.Error(err))
	}
	return nil
}

func (m *MultiLevelCache) Get(ctx context.Context, key string, target interface{}) error {
	if m.local.Get(ctx, key, target) == nil {
		return nil
	}

	err := m.remote.Get(ctx, key, target)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			m.log.Warn("读取 Redis 缓存失败", zap.String("key", key), zap.Error(err))
		}
		return err
	}
	// 远端剩余 TTL 未知，回填只用 localTTL
	_ = m.local.Set(ctx, key, target, m.localTTL)
	return nil
}

func (m *MultiLevelCache) Delete(ctx context.Context, key string) error {
	_ = m.local.Delete(ctx, key)
	return m.remote.Delete(ctx, key)
}
