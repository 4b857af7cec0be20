package hertzapi

import (
	"context"
	"strings"

	"github.com/RanFeng/ilog"
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/rs/zerolog"

	"cowatch/internal/bridge"
	"cowatch/internal/hertzws"
	"cowatch/internal/state"
)

// NewRouter 初始化Hertz路由
func NewRouter(h *server.Hertz, core bridge.Core, log zerolog.Logger) *server.Hertz {
	wsHandler := hertzws.NewHandler(core, log)

	h.Use(recoveryMiddleware())
	h.Use(loggerMiddleware())

	// 健康检查接口
	h.GET("/healthz", func(c context.Context, ctx *app.RequestContext) {
		ctx.String(consts.StatusOK, "ok")
	})

	api := h.Group("/api")
	{
		api.GET("/state", handleState(core))

		// 房间相关接口
		roomsGroup := api.Group("/rooms")
		{
			roomsGroup.POST("/host", handleHostRoom(core))
			roomsGroup.POST("/join/:roomId", handleJoinRoom(core))
			roomsGroup.POST("/disconnect", handleDisconnectRoom(core))
		}

		// 协作方接口
		api.POST("/client", handleCollectClient(core))
		api.POST("/modules", handleModuleStatus(core))
		api.POST("/tab", handleTab(core))
		api.POST("/tab/switch", handleSwitchTab(core))
		api.POST("/page/true", handleTruePage(core))
		api.POST("/navigation", handleNavigation(core))
		api.POST("/navigation/confirm", handleConfirmNavigation(core))
	}

	// 事件套接字
	h.GET("/ws/events", wsHandler.HandleWebSocket)

	return h
}

// recoveryMiddleware 恢复中间件
func recoveryMiddleware() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		defer func() {
			if err := recover(); err != nil {
				ilog.EventInfo(c, "panic", "path", string(ctx.Path()), "error", err)
				ctx.String(consts.StatusInternalServerError, "Internal Server Error")
			}
		}()
		ctx.Next(c)
	}
}

// loggerMiddleware 日志中间件
func loggerMiddleware() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		ctx.Next(c)
		ilog.EventInfo(c, "request", "method", string(ctx.Method()), "path", string(ctx.Path()),
			"status", ctx.Response.StatusCode())
	}
}

// handleState 获取会话快照
func handleState(core bridge.Core) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		ctx.JSON(consts.StatusOK, core.GetState())
	}
}

// handleHostRoom 创建房间处理函数
func handleHostRoom(core bridge.Core) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		var payload bridge.HostRoomRequest
		if err := ctx.Bind(&payload); err != nil {
			respondBadRequest(ctx, "Invalid request body")
			return
		}
		ilog.EventInfo(c, "HostRoom", "name", payload.Name)
		respond(ctx, core.HostRoom(payload.Name))
	}
}

// handleJoinRoom 加入房间处理函数
func handleJoinRoom(core bridge.Core) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		roomID := ctx.Param("roomId")
		ilog.EventInfo(c, "JoinRoom", "roomID", roomID)
		respond(ctx, core.JoinRoom(roomID))
	}
}

// handleDisconnectRoom 离开房间处理函数
func handleDisconnectRoom(core bridge.Core) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		respond(ctx, core.DisconnectRoom())
	}
}

// handleCollectClient 记录页面采集到的用户信息
func handleCollectClient(core bridge.Core) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		var payload bridge.CollectClientRequest
		if err := ctx.Bind(&payload); err != nil {
			respondBadRequest(ctx, "Invalid request body")
			return
		}
		core.CollectClient(state.Identity{Name: payload.Name, Image: payload.Image}, payload.Status)
		respond(ctx, nil)
	}
}

// handleModuleStatus 上报子系统状态
func handleModuleStatus(core bridge.Core) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		var payload bridge.ModuleStatusRequest
		if err := ctx.Bind(&payload); err != nil {
			respondBadRequest(ctx, "Invalid request body")
			return
		}
		if strings.TrimSpace(payload.System) == "" || payload.Status == "" {
			respondBadRequest(ctx, "System and status are required")
			return
		}
		ilog.EventInfo(c, "ModuleStatus", "system", payload.System, "status", payload.Status)
		core.ModuleStatus(payload.System, payload.Status)
		respond(ctx, nil)
	}
}

// handleTab 标签页仲裁结果
func handleTab(core bridge.Core) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		var payload bridge.TabRequest
		if err := ctx.Bind(&payload); err != nil {
			respondBadRequest(ctx, "Invalid request body")
			return
		}
		ilog.EventInfo(c, "SetPrimary", "isPrimary", payload.IsPrimary)
		core.SetPrimary(payload.IsPrimary)
		ctx.JSON(consts.StatusOK, core.GetState())
	}
}

func handleSwitchTab(core bridge.Core) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		core.SwitchActiveTab()
		respond(ctx, nil)
	}
}

// handleTruePage 显示真实页面
func handleTruePage(core bridge.Core) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		var payload bridge.TruePageRequest
		if err := ctx.Bind(&payload); err != nil {
			respondBadRequest(ctx, "Invalid request body")
			return
		}
		respond(ctx, core.ShowTruePage(payload.VideoID))
	}
}

// handleNavigation 判断页面控件是否需要确认
func handleNavigation(core bridge.Core) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		var payload bridge.NavigationRequest
		if err := ctx.Bind(&payload); err != nil {
			respondBadRequest(ctx, "Invalid request body")
			return
		}
		ctx.JSON(consts.StatusOK, bridge.NavigationResponse{Decision: core.CheckNavigation(payload.Control)})
	}
}

func handleConfirmNavigation(core bridge.Core) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		respond(ctx, core.ConfirmNavigation())
	}
}

// respond 返回受理结果或错误
func respond(ctx *app.RequestContext, err error) {
	if err != nil {
		status, resp := bridge.StatusOf(err)
		ctx.JSON(status, resp)
		return
	}
	ctx.JSON(consts.StatusAccepted, bridge.Accepted)
}

func respondBadRequest(ctx *app.RequestContext, message string) {
	ctx.JSON(consts.StatusBadRequest, bridge.ErrorResponse{Code: "invalid_request", Message: message})
}
