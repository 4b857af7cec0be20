package hertzws

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/hertz-contrib/websocket"
	"github.com/rs/zerolog"

	"cowatch/internal/bridge"
)

// Handler 页面事件套接字处理器
type Handler struct {
	core     bridge.Core
	upgrader websocket.HertzUpgrader
	log      zerolog.Logger
}

// NewHandler 创建新的事件套接字处理器
func NewHandler(core bridge.Core, log zerolog.Logger) *Handler {
	return &Handler{
		core: core,
		log:  log,
		upgrader: websocket.HertzUpgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(ctx *app.RequestContext) bool {
				return true
			},
		},
	}
}

// HandleWebSocket 升级连接并在其上转发总线事件
func (h *Handler) HandleWebSocket(c context.Context, ctx *app.RequestContext) {
	err := h.upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		bridge.Serve(c, conn, h.core, h.log)
	})
	if err != nil {
		h.log.Warn().Err(err).Str("remote", ctx.RemoteAddr().String()).Msg("event socket upgrade failed")
	}
}
