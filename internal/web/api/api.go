package api

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/ixugo/goddd/pkg/web"
)

var startRuntime = time.Now()

func setupRouter(r *gin.Engine, uc *Usecase) {
	r.Use(
		// 格式化输出到控制台，然后记录到日志
		gin.CustomRecovery(func(c *gin.Context, err any) {
			slog.ErrorContext(c.Request.Context(), "panic", "err", err, "stack", string(debug.Stack()))
			c.AbortWithStatus(http.StatusInternalServerError)
		}),
		web.Logger(web.IgnoreMethod(http.MethodOptions)),
	)

	if uc.Conf.Server.HTTP.Cors {
		r.Use(cors.New(cors.Config{
			AllowMethods: []string{"GET", "POST", "DELETE", "HEAD", "OPTIONS"},
			AllowHeaders: []string{
				"Accept", "Content-Length", "Content-Type", "Accept-Language",
				"Origin", "Authorization", "Referer", "User-Agent",
				"Accept-Encoding", "Cache-Control", "Pragma", "X-Requested-With",
				"Sec-WebSocket-Key", "Sec-WebSocket-Version", "Sec-WebSocket-Extensions",
			},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
			AllowOriginFunc: func(_ string) bool {
				return true
			},
		}))
	}

	r.GET("/health", web.WrapH(uc.getHealth))
	registerStream(r, uc.StreamAPI)
	registerSession(r, uc.SessionAPI)
}

type getHealthOutput struct {
	Version   string    `json:"version"`
	StartAt   time.Time `json:"start_at"`
	Providers []string  `json:"providers"`
	Streams   int       `json:"streams"`
}

func (uc *Usecase) getHealth(_ *gin.Context, _ *struct{}) (getHealthOutput, error) {
	return getHealthOutput{
		Version:   uc.Conf.BuildVersion,
		StartAt:   startRuntime,
		Providers: uc.Manager.Registry().Names(),
		Streams:   len(uc.Manager.List()),
	}, nil
}
