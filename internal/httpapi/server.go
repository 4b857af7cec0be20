package httpapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"cowatch/internal/bridge"
	"cowatch/internal/state"
	"cowatch/internal/ws"
)

// Server is the collaborator bridge on echo.
type Server struct {
	core   bridge.Core
	ws     *ws.Handler
	router *echo.Echo
}

// NewServer registers the bridge routes. metrics may be nil.
func NewServer(core bridge.Core, metrics http.Handler, log zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	server := &Server{
		core:   core,
		ws:     ws.NewHandler(core, log),
		router: e,
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}

	api := e.Group("/api")
	api.GET("/state", server.handleState)
	api.POST("/rooms/host", server.handleHostRoom)
	api.POST("/rooms/join/:roomId", server.handleJoinRoom)
	api.POST("/rooms/disconnect", server.handleDisconnectRoom)
	api.POST("/client", server.handleCollectClient)
	api.POST("/modules", server.handleModuleStatus)
	api.POST("/tab", server.handleTab)
	api.POST("/tab/switch", server.handleSwitchTab)
	api.POST("/page/true", server.handleTruePage)
	api.POST("/navigation", server.handleNavigation)
	api.POST("/navigation/confirm", server.handleConfirmNavigation)
	e.GET("/ws/events", server.handleWebSocket)

	return server
}

func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) handleState(c echo.Context) error {
	return c.JSON(http.StatusOK, s.core.GetState())
}

func (s *Server) handleHostRoom(c echo.Context) error {
	var payload bridge.HostRoomRequest
	if err := c.Bind(&payload); err != nil {
		return respondBadRequest(c, "invalid request body")
	}
	return respond(c, s.core.HostRoom(payload.Name))
}

func (s *Server) handleJoinRoom(c echo.Context) error {
	return respond(c, s.core.JoinRoom(c.Param("roomId")))
}

func (s *Server) handleDisconnectRoom(c echo.Context) error {
	return respond(c, s.core.DisconnectRoom())
}

func (s *Server) handleCollectClient(c echo.Context) error {
	var payload bridge.CollectClientRequest
	if err := c.Bind(&payload); err != nil {
		return respondBadRequest(c, "invalid request body")
	}
	s.core.CollectClient(state.Identity{Name: payload.Name, Image: payload.Image}, payload.Status)
	return respond(c, nil)
}

func (s *Server) handleModuleStatus(c echo.Context) error {
	var payload bridge.ModuleStatusRequest
	if err := c.Bind(&payload); err != nil {
		return respondBadRequest(c, "invalid request body")
	}
	if strings.TrimSpace(payload.System) == "" || payload.Status == "" {
		return respondBadRequest(c, "system and status are required")
	}
	s.core.ModuleStatus(payload.System, payload.Status)
	return respond(c, nil)
}

func (s *Server) handleTab(c echo.Context) error {
	var payload bridge.TabRequest
	if err := c.Bind(&payload); err != nil {
		return respondBadRequest(c, "invalid request body")
	}
	s.core.SetPrimary(payload.IsPrimary)
	return c.JSON(http.StatusOK, s.core.GetState())
}

func (s *Server) handleSwitchTab(c echo.Context) error {
	s.core.SwitchActiveTab()
	return respond(c, nil)
}

func (s *Server) handleTruePage(c echo.Context) error {
	var payload bridge.TruePageRequest
	if err := c.Bind(&payload); err != nil {
		return respondBadRequest(c, "invalid request body")
	}
	return respond(c, s.core.ShowTruePage(payload.VideoID))
}

func (s *Server) handleNavigation(c echo.Context) error {
	var payload bridge.NavigationRequest
	if err := c.Bind(&payload); err != nil {
		return respondBadRequest(c, "invalid request body")
	}
	return c.JSON(http.StatusOK, bridge.NavigationResponse{Decision: s.core.CheckNavigation(payload.Control)})
}

func (s *Server) handleConfirmNavigation(c echo.Context) error {
	return respond(c, s.core.ConfirmNavigation())
}

func (s *Server) handleWebSocket(c echo.Context) error {
	// The socket handler owns the connection from here; echo must not write a response.
	s.ws.ServeHTTP(c.Response(), c.Request())
	return nil
}

func respond(c echo.Context, err error) error {
	if err != nil {
		status, resp := bridge.StatusOf(err)
		return c.JSON(status, resp)
	}
	return c.JSON(http.StatusAccepted, bridge.Accepted)
}

func respondBadRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, bridge.ErrorResponse{Code: "invalid_request", Message: message})
}
