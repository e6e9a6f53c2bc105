package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
)

// Provider 地址解析器，每种后端协议一个实现
type Provider interface {
	// Name 注册名称
	Name() string
	// CanHandle scheme 匹配且路径第一段为 camera，不得有副作用
	CanHandle(u *url.URL) bool
	// Resolve 解析地址得到流句柄，失败时不返回部分结果
	Resolve(ctx context.Context, raw string) ([]Stream, error)
}

// Registry provider 注册表，按注册顺序匹配
type Registry struct {
	m         sync.RWMutex
	providers []Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := Registry{}
	for _, p := range providers {
		r.Register(p)
	}
	return &r
}

// Register 同名 provider 会被替换
func (r *Registry) Register(p Provider) {
	r.m.Lock()
	defer r.m.Unlock()
	for i, v := range r.providers {
		if v.Name() == p.Name() {
			r.providers[i] = p
			return
		}
	}
	r.providers = append(r.providers, p)
	slog.Debug("provider registered", "name", p.Name())
}

// Names 已注册的 provider 名称
func (r *Registry) Names() []string {
	r.m.RLock()
	defer r.m.RUnlock()
	out := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p.Name())
	}
	return out
}

// Lookup 返回第一个可以处理该地址的 provider
func (r *Registry) Lookup(u *url.URL) (Provider, bool) {
	r.m.RLock()
	defer r.m.RUnlock()
	for _, p := range r.providers {
		if p.CanHandle(u) {
			return p, true
		}
	}
	return nil, false
}

// Resolve 分发到匹配的 provider
func (r *Registry) Resolve(ctx context.Context, raw string) ([]Stream, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err)
	}
	p, ok := r.Lookup(u)
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrNoProvider, u.Redacted())
	}
	return p.Resolve(ctx, raw)
}
