package api

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gowvp/viewport/internal/adapter/onvifadapter"
	"github.com/gowvp/viewport/internal/adapter/unifiadapter"
	"github.com/ixugo/goddd/pkg/web"
)

// SessionAPI 已缓存的后端会话
type SessionAPI struct {
	unifi *unifiadapter.Provider
	onvif *onvifadapter.Provider
}

func NewSessionAPI(unifi *unifiadapter.Provider, onvif *onvifadapter.Provider) SessionAPI {
	return SessionAPI{unifi: unifi, onvif: onvif}
}

func registerSession(r gin.IRouter, api SessionAPI, mid ...gin.HandlerFunc) {
	group := r.Group("/sessions", mid...)
	group.GET("", gzip.Gzip(gzip.DefaultCompression), web.WrapH(api.findSessions))
	group.DELETE("", web.WrapH(api.delSessions))
}

type findSessionsOutput struct {
	Unifi []unifiadapter.SessionInfo `json:"unifi"`
	Onvif []onvifadapter.DeviceInfo  `json:"onvif"`
}

func (a SessionAPI) findSessions(_ *gin.Context, _ *struct{}) (findSessionsOutput, error) {
	return findSessionsOutput{
		Unifi: a.unifi.Sessions(),
		Onvif: a.onvif.Devices(),
	}, nil
}

// delSessions 移除全部会话，下次解析时重新登录
func (a SessionAPI) delSessions(_ *gin.Context, _ *struct{}) (gin.H, error) {
	n := a.unifi.InvalidateAll() + a.onvif.InvalidateAll()
	return gin.H{"removed": n}, nil
}
