package unifiadapter

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"time"

	"github.com/gowvp/viewport/internal/core/backend"
	"github.com/gowvp/viewport/pkg/keyed"
	"github.com/gowvp/viewport/pkg/protect"
	"github.com/ixugo/goddd/pkg/conc"
)

const Scheme = "unifi"

var _ backend.Provider = (*Provider)(nil)

// Provider 解析 unifi:// 地址
//
// 相同 (host, username, password) 共享一个已登录的 NVR 会话，
// 并发首次访问只会登录一次。
type Provider struct {
	sessions *keyed.Cache[backend.SessionKey, *NVR]
}

// NewProvider channel 为实时流使用的码流通道，0 为主码流
func NewProvider(newClient ClientFactory, channel int) *Provider {
	return &Provider{
		sessions: keyed.New(NewNVR(newClient, channel),
			keyed.WithKeyFunc[backend.SessionKey, *NVR](backend.SessionKey.String),
			keyed.WithTeardown[backend.SessionKey](func(n *NVR) { n.Close() }),
		),
	}
}

func (p *Provider) Name() string { return Scheme }

// CanHandle implements backend.Provider.
func (p *Provider) CanHandle(u *url.URL) bool {
	return backend.IsCameraURL(u, Scheme)
}

// Resolve implements backend.Provider.
func (p *Provider) Resolve(ctx context.Context, raw string) ([]backend.Stream, error) {
	loc, err := backend.ParseLocator(raw)
	if err != nil {
		return nil, err
	}
	if loc.Scheme != Scheme {
		return nil, fmt.Errorf("%w: unsupported scheme '%s'", backend.ErrValidation, loc.Scheme)
	}

	nvr, err := p.sessions.GetOrCreate(ctx, loc.Key())
	if err != nil {
		return nil, err
	}

	cameras, err := backend.SelectCameras(nvr.Cameras(), loc.Selector, loc.Host)
	if err != nil {
		return nil, err
	}

	base := loc.Base()
	out := make([]backend.Stream, 0, len(cameras))
	for _, c := range cameras {
		out = append(out, backend.NewHandle(base, c, &source{nvr: nvr, cameraID: c.ID}))
	}
	slog.DebugContext(ctx, "unifi resolved", "host", loc.Host, "selector", loc.Selector, "streams", len(out))
	return out, nil
}

// Sessions 已就绪的会话
func (p *Provider) Sessions() []SessionInfo {
	out := make([]SessionInfo, 0, p.sessions.Len())
	p.sessions.Range(func(_ string, n *NVR) bool {
		out = append(out, n.Info())
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Host == out[j].Host {
			return out[i].Username < out[j].Username
		}
		return out[i].Host < out[j].Host
	})
	return out
}

// Session 查询已缓存的会话
func (p *Provider) Session(key backend.SessionKey) (*NVR, bool) {
	return p.sessions.Get(key)
}

// Invalidate 移除会话，下次解析时重新登录
func (p *Provider) Invalidate(key backend.SessionKey) bool {
	return p.sessions.Remove(key)
}

// InvalidateAll 移除全部会话
func (p *Provider) InvalidateAll() int {
	return p.sessions.Clear()
}

// Close 关闭全部会话
func (p *Provider) Close() {
	p.sessions.Close()
}

// StartKeepalive 定期探测会话，超时未响应的会话从缓存中移除
func (p *Provider) StartKeepalive(ctx context.Context, interval, timeout time.Duration) {
	if interval <= 0 {
		return
	}
	if timeout < interval {
		timeout = 3 * interval
	}
	go conc.Timer(ctx, interval, interval, func() {
		p.keepalive(ctx, timeout)
	})
}

func (p *Provider) keepalive(ctx context.Context, timeout time.Duration) {
	now := time.Now()
	p.sessions.Range(func(_ string, n *NVR) bool {
		if err := n.Ping(ctx); err != nil {
			slog.WarnContext(ctx, "nvr keepalive", "host", n.Key().Host, "err", err)
		}
		if since := now.Sub(n.KeepaliveAt()); since > timeout {
			slog.WarnContext(ctx, "nvr session expired", "host", n.Key().Host, "since", since)
			p.sessions.Remove(n.Key())
		}
		return true
	})
}

// source 将流句柄挂载到会话的实时流订阅上
type source struct {
	nvr      *NVR
	cameraID string
}

func (s *source) Open(ctx context.Context, sink backend.Sink) (func(), error) {
	sub, err := s.nvr.AddListener(ctx, s.cameraID, sink)
	if err != nil {
		return nil, err
	}
	sink.SetContainer(protect.ContainerFMP4)
	sink.SetEndpoint(sub.Endpoint())
	// 实时流断开或会话被移除时同步停止流句柄
	go func() {
		<-sub.Done()
		sink.Stop()
	}()
	return func() { s.nvr.RemoveListener(sink) }, nil
}
