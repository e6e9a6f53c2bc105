package protect

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const ContainerFMP4 = "fmp4"

var ErrLivestreamStarted = errors.New("protect: livestream already started")

// Livestream 单个摄像头的实时流，fMP4 分片通过 websocket 二进制帧推送
//
// 用法示例:
//
//	ls := cli.CreateLivestream()
//	ls.OnCodec(func(codec string) {})
//	ls.OnMessage(func(data []byte) {})
//	err := ls.Start(ctx, cameraID, 0)
//	defer ls.Stop()
type Livestream struct {
	client *Client

	m         sync.Mutex
	onCodec   []func(string)
	onMessage []func([]byte)
	conn      *websocket.Conn
	endpoint  string
	started   bool

	stopOnce sync.Once
	doneOnce sync.Once
	done     chan struct{}
}

func newLivestream(c *Client) *Livestream {
	return &Livestream{
		client: c,
		done:   make(chan struct{}),
	}
}

// OnCodec 注册编码声明回调
func (l *Livestream) OnCodec(fn func(codec string)) {
	l.m.Lock()
	defer l.m.Unlock()
	l.onCodec = append(l.onCodec, fn)
}

// OnMessage 注册媒体数据回调
func (l *Livestream) OnMessage(fn func(data []byte)) {
	l.m.Lock()
	defer l.m.Unlock()
	l.onMessage = append(l.onMessage, fn)
}

// Start 连接摄像头的实时流，channel 为码流通道
func (l *Livestream) Start(ctx context.Context, cameraID string, channel int) error {
	l.m.Lock()
	if l.started {
		l.m.Unlock()
		return ErrLivestreamStarted
	}
	l.started = true
	l.m.Unlock()

	host := l.client.Host()
	if host == "" {
		return ErrNotLoggedIn
	}
	endpoint := buildLivestreamURL(host, cameraID, channel)

	dialer := websocket.Dialer{
		HandshakeTimeout: l.client.cfg.RequestTimeout,
		Jar:              l.client.cli.Jar,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: l.client.cfg.InsecureSkipVerify}, // nolint
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, l.client.header())
	if err != nil {
		if resp != nil {
			return fmt.Errorf("protect: livestream dial status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("protect: livestream dial: %w", err)
	}

	l.m.Lock()
	l.conn = conn
	l.endpoint = endpoint
	l.m.Unlock()

	select {
	case <-l.done:
		// Stop 先于连接建立完成
		return conn.Close()
	default:
	}
	go l.readLoop(conn)
	return nil
}

// Endpoint websocket 地址，Start 成功前为空
func (l *Livestream) Endpoint() string {
	l.m.Lock()
	defer l.m.Unlock()
	return l.endpoint
}

// Done 连接关闭时 close
func (l *Livestream) Done() <-chan struct{} {
	return l.done
}

// Stop 关闭实时流，可重复调用
func (l *Livestream) Stop() error {
	var err error
	l.stopOnce.Do(func() {
		l.m.Lock()
		conn := l.conn
		l.m.Unlock()
		if conn == nil {
			l.finish()
			return
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = conn.Close()
	})
	return err
}

func (l *Livestream) readLoop(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
		l.finish()
	}()
	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !errors.Is(err, websocket.ErrCloseSent) {
				slog.Debug("livestream read", "endpoint", l.Endpoint(), "err", err)
			}
			return
		}
		switch typ {
		case websocket.TextMessage:
			var msg codecMessage
			if err := json.Unmarshal(data, &msg); err != nil || msg.Codec == "" {
				continue
			}
			l.m.Lock()
			fns := l.onCodec
			l.m.Unlock()
			for _, fn := range fns {
				fn(msg.Codec)
			}
		case websocket.BinaryMessage:
			l.m.Lock()
			fns := l.onMessage
			l.m.Unlock()
			for _, fn := range fns {
				fn(data)
			}
		}
	}
}

func (l *Livestream) finish() {
	l.doneOnce.Do(func() { close(l.done) })
}

func buildLivestreamURL(host, cameraID string, channel int) string {
	q := url.Values{}
	q.Set("camera", cameraID)
	q.Set("channel", strconv.Itoa(channel))
	q.Set("chunkSize", "4096")
	q.Set("extendedVideoMetadata", "true")
	q.Set("fragmentDurationMillis", "100")
	q.Set("progressive", "")
	q.Set("requestId", uuid.NewString())
	q.Set("type", ContainerFMP4)
	u := url.URL{
		Scheme:   "wss",
		Host:     host,
		Path:     wsLivestream,
		RawQuery: q.Encode(),
	}
	return u.String()
}
