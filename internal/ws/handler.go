package ws

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"cowatch/internal/bridge"
)

// Handler upgrades the page's event socket.
type Handler struct {
	core     bridge.Core
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewHandler(core bridge.Core, log zerolog.Logger) *Handler {
	return &Handler{
		core: core,
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already answered the request.
		h.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("event socket upgrade failed")
		return
	}
	bridge.Serve(r.Context(), conn, h.core, h.log)
}
