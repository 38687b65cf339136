// Package cache 提供进程内、按 key 合并并发加载的缓存。
package cache

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cache 缓存成功加载的值。同一 key 的并发加载只会执行一次 fallback，
// 加载失败的结果不会被缓存。
type Cache[V any] struct {
	mu     sync.RWMutex
	values map[string]V
	group  singleflight.Group
}

func New[V any]() *Cache[V] {
	return &Cache[V]{values: make(map[string]V)}
}

type GetResult uint8

const (
	GetResultFromCache    GetResult = 0
	GetResultFromFallback GetResult = 1
	NoResultGot           GetResult = 2
)

// Get 返回 key 对应的缓存值，未命中时调用 fallback 加载。
func (c *Cache[V]) Get(key string, fallback func() (V, error)) (V, GetResult, error) {
	return c.GetContext(context.Background(), key, fallback)
}

// GetContext 与 Get 相同，但 ctx 结束时立即返回 ctx 的错误。
// 进行中的加载不会因此中止，其他等待者仍会拿到结果，成功的结果照常缓存。
func (c *Cache[V]) GetContext(ctx context.Context, key string, fallback func() (V, error)) (V, GetResult, error) {
	var zero V
	if value, ok := c.Peek(key); ok {
		return value, GetResultFromCache, nil
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		if value, ok := c.Peek(key); ok {
			return value, nil
		}
		v, err := fallback()
		if err != nil {
			return nil, err
		}
		c.Set(key, v)
		return v, nil
	})
	select {
	case <-ctx.Done():
		return zero, NoResultGot, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return zero, NoResultGot, r.Err
		}
		return r.Val.(V), GetResultFromFallback, nil
	}
}

// Peek 只读取缓存，不触发加载。
func (c *Cache[V]) Peek(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	c.values[key] = value
	c.mu.Unlock()
}

func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.values, key)
	c.mu.Unlock()
}

func (c *Cache[V]) Clear() {
	c.mu.Lock()
	c.values = make(map[string]V)
	c.mu.Unlock()
}
