package unifiadapter

import (
	"context"

	"github.com/gowvp/viewport/pkg/protect"
)

// ProtectAPI 会话依赖的控制器能力，便于测试替换
type ProtectAPI interface {
	Login(ctx context.Context, host, username, password string) error
	FetchBootstrap(ctx context.Context) error
	Bootstrap() *protect.Bootstrap
	CreateLivestream() Livestream
	Ping(ctx context.Context) error
	Logout(ctx context.Context) error
}

// Livestream 实时流订阅
type Livestream interface {
	OnCodec(fn func(codec string))
	OnMessage(fn func(data []byte))
	Start(ctx context.Context, cameraID string, channel int) error
	Stop() error
	Endpoint() string
	// Done 连接关闭（主动停止或被控制器断开）时 close
	Done() <-chan struct{}
}

// ClientFactory 每个会话创建独立的客户端
type ClientFactory func() ProtectAPI

// NewClientFactory 基于 pkg/protect 的实现
func NewClientFactory(cfg protect.Config) ClientFactory {
	return func() ProtectAPI {
		return protectClient{Client: protect.NewClient(cfg)}
	}
}

type protectClient struct {
	*protect.Client
}

func (c protectClient) CreateLivestream() Livestream {
	return c.Client.CreateLivestream()
}
