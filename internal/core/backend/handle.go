package backend

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	ErrSubscriberExists   = errors.New("subscriber already exists")
	ErrSubscriberNotFound = errors.New("subscriber not found")
	ErrStreamStopped      = errors.New("stream stopped")
)

// State 流句柄状态
type State int32

const (
	StateCreated State = iota
	StateStarting
	StateActive
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Stream 提供给消费方（转码器、播放器）的流句柄
type Stream interface {
	ID() string
	Name() string
	Codec() string
	Container() string
	Endpoint() string
	State() State
	Info() StreamInfo

	// Start 仅在 Created 状态生效，其它状态为 no-op
	Start(ctx context.Context) error
	// Stop 在 Starting/Active 状态生效，可重复调用
	Stop()

	Subscribe(id string, buffer int) (<-chan []byte, error)
	Unsubscribe(id string) error
}

// Sink 接收来源推送的流信息与媒体数据
type Sink interface {
	SetCodec(codec string)
	SetContainer(container string)
	SetEndpoint(endpoint string)
	Write(data []byte)
	// Stop 来源中断时调用，流进入 Stopped
	Stop()
}

// Source 流的数据来源，由各协议适配器实现
// Open 成功后返回的 closer 用于注销，Stop 时调用
type Source interface {
	Open(ctx context.Context, sink Sink) (closer func(), err error)
}

// SourceFunc 函数形式的 Source
type SourceFunc func(ctx context.Context, sink Sink) (func(), error)

func (f SourceFunc) Open(ctx context.Context, sink Sink) (func(), error) {
	return f(ctx, sink)
}

// StreamInfo 流的快照信息
type StreamInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Locator   string `json:"locator"`
	CameraID  string `json:"camera_id"`
	Codec     string `json:"codec"`
	Container string `json:"container"`
	Endpoint  string `json:"endpoint"`
	State     string `json:"state"`
	Sent      uint64 `json:"sent"`
	Dropped   uint64 `json:"dropped"`
}

// StreamID 由地址与摄像头 ID 派生的稳定 ID
func StreamID(base, cameraID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(base+"/"+cameraID)).String()
}

var (
	_ Stream = (*Handle)(nil)
	_ Sink   = (*Handle)(nil)
)

// Handle 通用的流句柄状态机 Created -> Starting -> Active -> Stopped
type Handle struct {
	id      string
	camera  Camera
	locator string
	source  Source
	log     *slog.Logger

	m         sync.RWMutex
	state     State
	codec     string
	container string
	endpoint  string
	closer    func()
	aborted   bool
	subs      map[string]chan []byte

	sent, dropped atomic.Uint64
}

// NewHandle locator 为不含账号密码的地址
func NewHandle(locator string, camera Camera, source Source) *Handle {
	id := StreamID(locator, camera.ID)
	return &Handle{
		id:      id,
		camera:  camera,
		locator: locator,
		source:  source,
		log:     slog.With("stream", id, "camera", camera.Name),
		subs:    make(map[string]chan []byte),
	}
}

func (h *Handle) ID() string { return h.id }

func (h *Handle) Name() string { return h.camera.Name }

func (h *Handle) Camera() Camera { return h.camera }

func (h *Handle) Codec() string {
	h.m.RLock()
	defer h.m.RUnlock()
	return h.codec
}

func (h *Handle) Container() string {
	h.m.RLock()
	defer h.m.RUnlock()
	return h.container
}

func (h *Handle) Endpoint() string {
	h.m.RLock()
	defer h.m.RUnlock()
	return h.endpoint
}

func (h *Handle) State() State {
	h.m.RLock()
	defer h.m.RUnlock()
	return h.state
}

func (h *Handle) Info() StreamInfo {
	h.m.RLock()
	defer h.m.RUnlock()
	return StreamInfo{
		ID:        h.id,
		Name:      h.camera.Name,
		Locator:   h.locator,
		CameraID:  h.camera.ID,
		Codec:     h.codec,
		Container: h.container,
		Endpoint:  redact(h.endpoint),
		State:     h.state.String(),
		Sent:      h.sent.Load(),
		Dropped:   h.dropped.Load(),
	}
}

// Start 打开数据来源，失败时回到 Created 以便重试
// 启动期间被 Stop 时释放来源并返回 ErrStreamStopped
func (h *Handle) Start(ctx context.Context) error {
	h.m.Lock()
	if h.state != StateCreated {
		h.m.Unlock()
		return nil
	}
	h.state = StateStarting
	h.m.Unlock()

	h.log.DebugContext(ctx, "starting stream")
	closer, err := h.source.Open(ctx, h)
	if err != nil {
		h.m.Lock()
		h.state = StateCreated
		h.aborted = false
		h.m.Unlock()
		h.log.ErrorContext(ctx, "start stream", "err", err)
		return err
	}

	h.m.Lock()
	if h.aborted {
		// 启动期间被停止或来源已中断
		h.state = StateStopped
		h.closeSubs()
		h.m.Unlock()
		if closer != nil {
			closer()
		}
		h.log.WarnContext(ctx, "stream stopped while starting")
		return ErrStreamStopped
	}
	h.state = StateActive
	h.closer = closer
	h.m.Unlock()
	h.log.InfoContext(ctx, "stream started")
	return nil
}

// Stop 注销数据来源并关闭全部订阅
func (h *Handle) Stop() {
	h.m.Lock()
	if h.state == StateStarting {
		h.aborted = true
		h.m.Unlock()
		return
	}
	if h.state != StateActive {
		h.m.Unlock()
		return
	}
	h.state = StateStopped
	closer := h.closer
	h.closer = nil
	h.closeSubs()
	h.m.Unlock()

	if closer != nil {
		closer()
	}
	h.log.Info("stream stopped")
}

func (h *Handle) closeSubs() {
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}

// SetCodec implements Sink.
func (h *Handle) SetCodec(codec string) {
	h.m.Lock()
	defer h.m.Unlock()
	h.codec = codec
}

// SetContainer implements Sink.
func (h *Handle) SetContainer(container string) {
	h.m.Lock()
	defer h.m.Unlock()
	h.container = container
}

// SetEndpoint implements Sink.
func (h *Handle) SetEndpoint(endpoint string) {
	h.m.Lock()
	defer h.m.Unlock()
	h.endpoint = endpoint
}

// Write implements Sink. 非阻塞分发，订阅方消费不及时则丢弃
func (h *Handle) Write(data []byte) {
	h.m.RLock()
	defer h.m.RUnlock()
	if h.state == StateStopped {
		return
	}
	for _, ch := range h.subs {
		select {
		case ch <- data:
			h.sent.Add(1)
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe 订阅媒体数据，流停止时 channel 被关闭
func (h *Handle) Subscribe(id string, buffer int) (<-chan []byte, error) {
	h.m.Lock()
	defer h.m.Unlock()
	if h.state == StateStopped {
		return nil, ErrStreamStopped
	}
	if _, ok := h.subs[id]; ok {
		return nil, ErrSubscriberExists
	}
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan []byte, buffer)
	h.subs[id] = ch
	return ch, nil
}

// Unsubscribe 取消订阅并关闭 channel
func (h *Handle) Unsubscribe(id string) error {
	h.m.Lock()
	defer h.m.Unlock()
	ch, ok := h.subs[id]
	if !ok {
		return ErrSubscriberNotFound
	}
	close(ch)
	delete(h.subs, id)
	return nil
}

// redact 隐藏流地址中的密码
func redact(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.User == nil {
		return endpoint
	}
	return u.Redacted()
}
