package unifiadapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gowvp/viewport/internal/core/backend"
	"github.com/jinzhu/copier"
)

var ErrSessionNotReady = errors.New("nvr session not ready")

// State 会话状态
type State int32

const (
	StateUninitialized State = iota
	StateAuthenticating
	StateReady
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Listener 接收实时流的编码声明与媒体数据，backend.Sink 满足该接口
type Listener interface {
	SetCodec(codec string)
	Write(data []byte)
}

// NVR 一个已登录的控制器会话，持有摄像头目录与实时流订阅
type NVR struct {
	newClient ClientFactory
	channel   int
	log       *slog.Logger

	m           sync.RWMutex
	key         backend.SessionKey
	state       State
	api         ProtectAPI
	cameras     []backend.Camera
	subs        map[Listener][]*Subscription
	keepaliveAt time.Time
}

// NewNVR 返回给 keyed 缓存使用的构造函数，channel 为实时流码流通道
func NewNVR(newClient ClientFactory, channel int) func(backend.SessionKey) *NVR {
	return func(key backend.SessionKey) *NVR {
		return &NVR{
			newClient: newClient,
			channel:   channel,
			log:       slog.With("host", key.Host, "username", key.Username),
			subs:      make(map[Listener][]*Subscription),
		}
	}
}

// Initialize 登录并拉取摄像头目录，只能调用一次
func (n *NVR) Initialize(ctx context.Context, key backend.SessionKey) error {
	n.m.Lock()
	if n.state != StateUninitialized {
		state := n.state
		n.m.Unlock()
		return fmt.Errorf("nvr session already %s", state)
	}
	n.key = key
	n.state = StateAuthenticating
	api := n.newClient()
	n.api = api
	n.m.Unlock()

	n.log.InfoContext(ctx, "nvr login")
	if err := api.Login(ctx, key.Host, key.Username, key.Password); err != nil {
		n.setState(StateFailed)
		n.log.ErrorContext(ctx, "nvr login", "err", err)
		return fmt.Errorf("%w: %s@%s: %w", backend.ErrAuthentication, key.Username, key.Host, err)
	}

	if err := api.FetchBootstrap(ctx); err != nil {
		n.setState(StateFailed)
		n.log.ErrorContext(ctx, "nvr bootstrap", "err", err)
		n.logout()
		return fmt.Errorf("%w: %s: %w", backend.ErrBootstrap, key.Host, err)
	}
	b := api.Bootstrap()
	if b == nil {
		n.setState(StateFailed)
		n.logout()
		return fmt.Errorf("%w: %s: empty bootstrap", backend.ErrBootstrap, key.Host)
	}
	cameras := make([]backend.Camera, 0, len(b.Cameras))
	if err := copier.Copy(&cameras, &b.Cameras); err != nil {
		n.setState(StateFailed)
		n.logout()
		return fmt.Errorf("%w: %s: %w", backend.ErrBootstrap, key.Host, err)
	}

	n.m.Lock()
	n.cameras = cameras
	n.state = StateReady
	n.keepaliveAt = time.Now()
	n.m.Unlock()
	n.log.InfoContext(ctx, "nvr ready", "nvr", b.NVR.Name, "cameras", len(cameras))
	return nil
}

func (n *NVR) setState(s State) {
	n.m.Lock()
	defer n.m.Unlock()
	n.state = s
}

func (n *NVR) State() State {
	n.m.RLock()
	defer n.m.RUnlock()
	return n.state
}

func (n *NVR) Key() backend.SessionKey {
	n.m.RLock()
	defer n.m.RUnlock()
	return n.key
}

// Cameras 摄像头目录快照，未就绪时为 nil
func (n *NVR) Cameras() []backend.Camera {
	n.m.RLock()
	defer n.m.RUnlock()
	if n.state != StateReady {
		return nil
	}
	out := make([]backend.Camera, len(n.cameras))
	copy(out, n.cameras)
	return out
}

// AddListener 为摄像头创建一条新的实时流并挂载 listener
// 相同摄像头的多次订阅不会合并
func (n *NVR) AddListener(ctx context.Context, cameraID string, l Listener) (*Subscription, error) {
	n.m.RLock()
	api, state := n.api, n.state
	n.m.RUnlock()
	if state != StateReady {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotReady, state)
	}

	log := n.log.With("camera_id", cameraID)
	ls := api.CreateLivestream()
	ls.OnCodec(func(codec string) {
		log.Info("livestream codec", "codec", codec)
		l.SetCodec(codec)
	})
	ls.OnMessage(l.Write)
	if err := ls.Start(ctx, cameraID, n.channel); err != nil {
		return nil, fmt.Errorf("start livestream %s: %w", cameraID, err)
	}

	sub := Subscription{nvr: n, listener: l, cameraID: cameraID, ls: ls}
	n.m.Lock()
	if state := n.state; state != StateReady {
		n.m.Unlock()
		sub.stop()
		return nil, fmt.Errorf("%w: %s", ErrSessionNotReady, state)
	}
	n.subs[l] = append(n.subs[l], &sub)
	n.m.Unlock()
	log.DebugContext(ctx, "listener added")
	return &sub, nil
}

// RemoveListener 停止该 listener 的全部订阅，未知 listener 为 no-op
func (n *NVR) RemoveListener(l Listener) {
	n.m.Lock()
	subs := n.subs[l]
	delete(n.subs, l)
	n.m.Unlock()
	for _, s := range subs {
		s.stop()
	}
}

func (n *NVR) detach(sub *Subscription) {
	n.m.Lock()
	defer n.m.Unlock()
	subs := n.subs[sub.listener]
	for i, s := range subs {
		if s == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(n.subs, sub.listener)
		return
	}
	n.subs[sub.listener] = subs
}

// Ping 探测会话，成功时刷新心跳时间
func (n *NVR) Ping(ctx context.Context) error {
	n.m.RLock()
	api, state := n.api, n.state
	n.m.RUnlock()
	if state != StateReady {
		return fmt.Errorf("%w: %s", ErrSessionNotReady, state)
	}
	if err := api.Ping(ctx); err != nil {
		return err
	}
	n.m.Lock()
	n.keepaliveAt = time.Now()
	n.m.Unlock()
	return nil
}

func (n *NVR) KeepaliveAt() time.Time {
	n.m.RLock()
	defer n.m.RUnlock()
	return n.keepaliveAt
}

// Close 停止全部订阅并注销登录，作为缓存的 teardown
func (n *NVR) Close() {
	n.m.Lock()
	if n.state == StateClosed {
		n.m.Unlock()
		return
	}
	prev := n.state
	n.state = StateClosed
	subs := n.subs
	n.subs = make(map[Listener][]*Subscription)
	n.m.Unlock()

	for _, list := range subs {
		for _, s := range list {
			s.stop()
		}
	}
	if prev == StateReady {
		n.logout()
	}
	n.log.Info("nvr session closed")
}

func (n *NVR) logout() {
	n.m.RLock()
	api := n.api
	n.m.RUnlock()
	if api == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := api.Logout(ctx); err != nil {
		n.log.Warn("nvr logout", "err", err)
	}
}

// SessionInfo 会话概要，不包含密码
type SessionInfo struct {
	Host          string    `json:"host"`
	Username      string    `json:"username"`
	State         string    `json:"state"`
	Cameras       int       `json:"cameras"`
	Subscriptions int       `json:"subscriptions"`
	KeepaliveAt   time.Time `json:"keepalive_at"`
}

func (n *NVR) Info() SessionInfo {
	n.m.RLock()
	defer n.m.RUnlock()
	var subs int
	for _, list := range n.subs {
		subs += len(list)
	}
	return SessionInfo{
		Host:          n.key.Host,
		Username:      n.key.Username,
		State:         n.state.String(),
		Cameras:       len(n.cameras),
		Subscriptions: subs,
		KeepaliveAt:   n.keepaliveAt,
	}
}

// Subscription 一条实时流订阅，Cancel 可重复调用
type Subscription struct {
	nvr      *NVR
	listener Listener
	cameraID string
	ls       Livestream
	once     sync.Once
}

func (s *Subscription) CameraID() string { return s.cameraID }

func (s *Subscription) Endpoint() string { return s.ls.Endpoint() }

// Done 实时流结束时 close
func (s *Subscription) Done() <-chan struct{} { return s.ls.Done() }

// Cancel 停止订阅并从会话中移除
func (s *Subscription) Cancel() {
	s.nvr.detach(s)
	s.stop()
}

func (s *Subscription) stop() {
	s.once.Do(func() {
		if err := s.ls.Stop(); err != nil {
			s.nvr.log.Warn("stop livestream", "camera_id", s.cameraID, "err", err)
		}
	})
}
