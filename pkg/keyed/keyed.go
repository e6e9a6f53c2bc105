// Package keyed 提供按 key 单例化的实例缓存
//
// 同一个 key 在并发首次访问时只会创建并初始化一次实例，
// 所有等待者共享同一个初始化结果（成功的实例或相同的错误）。
// 初始化失败不会被缓存，下一次调用会重新创建。
package keyed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ixugo/goddd/pkg/conc"
	"golang.org/x/sync/singleflight"
)

// ErrClosed 缓存已关闭
var ErrClosed = errors.New("keyed: cache closed")

// Initializer 可异步初始化的实例
type Initializer[K any] interface {
	Initialize(ctx context.Context, key K) error
}

// Cache 按 key 缓存已完成初始化的实例
type Cache[K comparable, V Initializer[K]] struct {
	newFn    func(K) V
	keyFn    func(K) string
	teardown func(V)

	items  conc.Map[string, V]
	size   atomic.Int64
	rm     sync.Mutex
	group  singleflight.Group
	closed atomic.Bool
}

type Option[K comparable, V Initializer[K]] func(*Cache[K, V])

// WithKeyFunc 自定义 key 格式化函数，同一组 key 必须得到同一个字符串
func WithKeyFunc[K comparable, V Initializer[K]](fn func(K) string) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.keyFn = fn
	}
}

// WithTeardown 实例被移除或缓存关闭时调用
func WithTeardown[K comparable, V Initializer[K]](fn func(V)) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.teardown = fn
	}
}

// New 创建缓存，newFn 只负责构造，初始化由 Initialize 完成
func New[K comparable, V Initializer[K]](newFn func(K) V, opts ...Option[K, V]) *Cache[K, V] {
	c := Cache[K, V]{
		newFn: newFn,
		keyFn: func(k K) string { return fmt.Sprint(k) },
	}
	for _, opt := range opts {
		opt(&c)
	}
	return &c
}

// Key 返回 key 的格式化结果
func (c *Cache[K, V]) Key(key K) string {
	return c.keyFn(key)
}

// GetOrCreate 获取已初始化的实例，不存在时创建
//
// 初始化过程与首个调用者的 ctx 解绑，会一直运行到成功或失败；
// 每个调用者可以通过自己的 ctx 提前放弃等待。
func (c *Cache[K, V]) GetOrCreate(ctx context.Context, key K) (V, error) {
	var zero V
	if c.closed.Load() {
		return zero, ErrClosed
	}
	k := c.keyFn(key)
	if v, ok := c.items.Load(k); ok {
		return v, nil
	}

	ch := c.group.DoChan(k, func() (any, error) {
		// 上一轮 flight 可能在本次 Load 之后才写入
		if v, ok := c.items.Load(k); ok {
			return v, nil
		}
		v := c.newFn(key)
		if err := v.Initialize(context.WithoutCancel(ctx), key); err != nil {
			return nil, err
		}
		// 与 Close 互斥，关闭后不再写入
		c.rm.Lock()
		if c.closed.Load() {
			c.rm.Unlock()
			if c.teardown != nil {
				c.teardown(v)
			}
			return nil, ErrClosed
		}
		c.items.Store(k, v)
		c.size.Add(1)
		c.rm.Unlock()
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return zero, r.Err
		}
		return r.Val.(V), nil
	}
}

// Get 仅查询已完成初始化的实例
func (c *Cache[K, V]) Get(key K) (V, bool) {
	return c.items.Load(c.keyFn(key))
}

// Remove 移除实例并执行 teardown，不存在时为 no-op
func (c *Cache[K, V]) Remove(key K) bool {
	return c.removeKey(c.keyFn(key))
}

func (c *Cache[K, V]) removeKey(k string) bool {
	c.rm.Lock()
	v, ok := c.items.Load(k)
	if !ok {
		c.rm.Unlock()
		return false
	}
	c.items.Delete(k)
	c.size.Add(-1)
	c.rm.Unlock()
	if c.teardown != nil {
		c.teardown(v)
	}
	return true
}

// Range 遍历已初始化的实例，fn 返回 false 时停止
func (c *Cache[K, V]) Range(fn func(key string, value V) bool) {
	c.items.Range(fn)
}

// Len 已初始化的实例数量
func (c *Cache[K, V]) Len() int {
	return int(c.size.Load())
}

// Clear 移除全部实例，缓存仍可继续使用
func (c *Cache[K, V]) Clear() int {
	keys := make([]string, 0, c.Len())
	c.items.Range(func(k string, _ V) bool {
		keys = append(keys, k)
		return true
	})
	var n int
	for _, k := range keys {
		if c.removeKey(k) {
			n++
		}
	}
	return n
}

// Close 关闭缓存并移除全部实例
func (c *Cache[K, V]) Close() {
	c.rm.Lock()
	swapped := c.closed.CompareAndSwap(false, true)
	c.rm.Unlock()
	if !swapped {
		return
	}
	c.Clear()
}
