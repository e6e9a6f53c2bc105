package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/wire"
	"github.com/gowvp/viewport/internal/adapter/onvifadapter"
	"github.com/gowvp/viewport/internal/adapter/rtspadapter"
	"github.com/gowvp/viewport/internal/adapter/unifiadapter"
	"github.com/gowvp/viewport/internal/conf"
	"github.com/gowvp/viewport/internal/core/backend"
	"github.com/gowvp/viewport/pkg/protect"
)

var (
	// ProviderBackendSet 流解析与管理，命令行与 HTTP 服务共用
	ProviderBackendSet = wire.NewSet(
		NewUnifiProvider, NewOnvifProvider, rtspadapter.NewAdapter,
		NewRegistry, NewManager,
	)
	ProviderSet = wire.NewSet(
		wire.Struct(new(Usecase), "*"),
		NewHTTPHandler,
		NewStreamAPI,
		NewSessionAPI,
	)
)

type Usecase struct {
	Conf       *conf.Bootstrap
	Manager    *backend.Manager
	StreamAPI  StreamAPI
	SessionAPI SessionAPI
}

// NewHTTPHandler 生成Gin框架路由内容
func NewHTTPHandler(uc *Usecase) http.Handler {
	if !uc.Conf.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	g := gin.New()
	g.NoRoute(func(c *gin.Context) {
		c.JSON(404, "来到了无人的荒漠")
	})
	setupRouter(g, uc)
	return g
}

// NewUnifiProvider 创建 UniFi Protect 解析器并启动会话保活
func NewUnifiProvider(bc *conf.Bootstrap) (*unifiadapter.Provider, func()) {
	p := unifiadapter.NewProvider(unifiadapter.NewClientFactory(protect.Config{
		RequestTimeout:     bc.Protect.RequestTimeout.Duration(),
		InsecureSkipVerify: bc.Protect.InsecureSkipVerify,
	}), bc.Protect.Channel)
	ctx, cancel := context.WithCancel(context.Background())
	p.StartKeepalive(ctx, bc.Keepalive.Interval.Duration(), bc.Keepalive.Timeout.Duration())
	return p, func() {
		cancel()
		p.Close()
	}
}

// NewOnvifProvider 创建 ONVIF 解析器并启动设备保活
func NewOnvifProvider(bc *conf.Bootstrap) (*onvifadapter.Provider, func()) {
	p := onvifadapter.NewProvider(bc.Onvif.RequestTimeout.Duration())
	ctx, cancel := context.WithCancel(context.Background())
	p.StartKeepalive(ctx, bc.Keepalive.Interval.Duration(), bc.Keepalive.Timeout.Duration())
	return p, func() {
		cancel()
		p.Close()
	}
}

// NewRegistry 按顺序注册解析器，先注册的优先匹配
func NewRegistry(unifi *unifiadapter.Provider, onvif *onvifadapter.Provider, rtsp *rtspadapter.Adapter) *backend.Registry {
	return backend.NewRegistry(unifi, onvif, rtsp)
}

func NewManager(registry *backend.Registry) (*backend.Manager, func()) {
	m := backend.NewManager(registry)
	return m, m.Shutdown
}
