package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/gowvp/viewport/internal/conf"
	"github.com/gowvp/viewport/internal/core/backend"
	"github.com/ixugo/goddd/pkg/reason"
	"github.com/ixugo/goddd/pkg/web"
)

const liveWriteTimeout = 10 * time.Second

type StreamAPI struct {
	manager  *backend.Manager
	buffer   int
	upgrader websocket.Upgrader
}

func NewStreamAPI(manager *backend.Manager, bc *conf.Bootstrap) StreamAPI {
	return StreamAPI{
		manager: manager,
		buffer:  bc.Stream.Buffer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func registerStream(r gin.IRouter, api StreamAPI, mid ...gin.HandlerFunc) {
	group := r.Group("/streams", mid...)
	group.POST("", web.WrapH(api.openStreams))
	group.GET("", gzip.Gzip(gzip.DefaultCompression), web.WrapH(api.findStreams))
	group.GET("/:id", web.WrapH(api.getStream))
	group.DELETE("/:id", web.WrapH(api.closeStream))
	// 实时流转发，不经过 gzip
	group.GET("/:id/live", api.live)
}

type openStreamsInput struct {
	URLs []string `json:"urls" binding:"required,min=1"`
}

type findStreamsOutput struct {
	Items []backend.StreamInfo `json:"items"`
	Total int                  `json:"total"`
}

// openStreams 解析地址并启动流，任一地址失败则整体失败
func (a StreamAPI) openStreams(c *gin.Context, in *openStreamsInput) (findStreamsOutput, error) {
	streams, err := a.manager.Open(c.Request.Context(), in.URLs)
	if err != nil {
		return findStreamsOutput{}, toReason(err)
	}
	return newFindStreamsOutput(streams), nil
}

func (a StreamAPI) findStreams(_ *gin.Context, _ *struct{}) (findStreamsOutput, error) {
	return newFindStreamsOutput(a.manager.List()), nil
}

func (a StreamAPI) getStream(c *gin.Context, _ *struct{}) (backend.StreamInfo, error) {
	s, err := a.manager.Get(c.Param("id"))
	if err != nil {
		return backend.StreamInfo{}, toReason(err)
	}
	return s.Info(), nil
}

func (a StreamAPI) closeStream(c *gin.Context, _ *struct{}) (gin.H, error) {
	id := c.Param("id")
	if err := a.manager.Close(id); err != nil {
		return nil, toReason(err)
	}
	return gin.H{"id": id}, nil
}

// live 通过 websocket 转发流消息，首帧为流信息 JSON，之后为二进制媒体数据
func (a StreamAPI) live(c *gin.Context) {
	s, err := a.manager.Get(c.Param("id"))
	if err != nil {
		web.Fail(c, toReason(err))
		return
	}

	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.WarnContext(c.Request.Context(), "live upgrade", "err", err)
		return
	}
	defer conn.Close()

	subID := uuid.NewString()
	ch, err := s.Subscribe(subID, a.buffer)
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, err.Error()))
		return
	}
	defer func() { _ = s.Unsubscribe(subID) }()

	log := slog.With("stream", s.ID(), "subscriber", subID)
	log.Info("live subscriber connected")
	defer log.Info("live subscriber disconnected")

	if err := conn.WriteJSON(s.Info()); err != nil {
		return
	}

	// 读取客户端消息以感知断开
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case data, ok := <-ch:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream stopped"))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				log.Debug("live write", "err", err)
				return
			}
		}
	}
}

func newFindStreamsOutput(streams []backend.Stream) findStreamsOutput {
	items := make([]backend.StreamInfo, 0, len(streams))
	for _, s := range streams {
		items = append(items, s.Info())
	}
	return findStreamsOutput{Items: items, Total: len(items)}
}

// toReason 将解析错误转换为接口错误
func toReason(err error) error {
	switch {
	case errors.Is(err, backend.ErrStreamNotFound):
		return reason.ErrNotFound.SetMsg(err.Error())
	case errors.Is(err, backend.ErrValidation),
		errors.Is(err, backend.ErrNoProvider),
		errors.Is(err, backend.ErrCameraNotFound),
		errors.Is(err, backend.ErrAmbiguousCamera),
		errors.Is(err, backend.ErrAuthentication):
		return reason.ErrBadRequest.SetMsg(err.Error())
	}
	return reason.ErrServer.SetMsg(err.Error())
}
