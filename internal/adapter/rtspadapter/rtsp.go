package rtspadapter

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/gowvp/viewport/internal/core/backend"
)

const ContainerRTSP = "rtsp"

var _ backend.Provider = (*Adapter)(nil)

// Adapter rtsp:// 与 rtsps:// 地址直接作为流地址，不需要登录后端
type Adapter struct{}

func NewAdapter() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Name() string { return "rtsp" }

// CanHandle implements backend.Provider.
func (a *Adapter) CanHandle(u *url.URL) bool {
	if u == nil || u.Host == "" {
		return false
	}
	return strings.EqualFold(u.Scheme, "rtsp") || strings.EqualFold(u.Scheme, "rtsps")
}

// Resolve implements backend.Provider.
func (a *Adapter) Resolve(_ context.Context, raw string) ([]backend.Stream, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", backend.ErrValidation, err)
	}
	if !a.CanHandle(u) {
		return nil, fmt.Errorf("%w: '%s' is not a rtsp url", backend.ErrValidation, u.Redacted())
	}

	// 摄像头 ID 使用不含账号的地址，保证同一路流 ID 稳定
	plain := *u
	plain.User = nil
	camera := backend.Camera{ID: plain.String(), Name: streamName(u)}
	base := strings.ToLower(u.Scheme) + "://" + u.Host
	return []backend.Stream{backend.NewHandle(base, camera, passthrough(raw))}, nil
}

func passthrough(endpoint string) backend.Source {
	return backend.SourceFunc(func(_ context.Context, sink backend.Sink) (func(), error) {
		sink.SetContainer(ContainerRTSP)
		sink.SetEndpoint(endpoint)
		return func() {}, nil
	})
}

// streamName 取路径最后一段，路径为空时使用 host
func streamName(u *url.URL) string {
	p := strings.Trim(u.Path, "/")
	if p == "" {
		return u.Host
	}
	return path.Base(p)
}
