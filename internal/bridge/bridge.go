package bridge

import (
	"errors"
	"net/http"

	"cowatch/internal/core"
	"cowatch/internal/events"
	"cowatch/internal/gateway"
	"cowatch/internal/protocol"
	"cowatch/internal/reflection"
	"cowatch/internal/state"
)

// Core is everything the collaborators may ask of the core.
type Core interface {
	GetState() state.PublicSnapshot
	HostRoom(name string) error
	JoinRoom(roomID string) error
	DisconnectRoom() error
	CollectClient(identity state.Identity, status protocol.Status)
	ModuleStatus(system string, status protocol.Status)
	SetPrimary(isPrimary bool)
	SwitchActiveTab()
	ShowTruePage(videoID string) error
	CheckNavigation(control string) reflection.Decision
	ConfirmNavigation() error
	Bus() *events.Bus
	Sink
}

// Sink takes the page's reports about its player.
type Sink interface {
	ObservePlayer(snap protocol.Reflection)
	ObserveDetails(d protocol.VideoDetails)
	ObserveAd(showing bool)
}

type HostRoomRequest struct {
	Name string `json:"name"`
}

type CollectClientRequest struct {
	Name   string          `json:"name"`
	Image  string          `json:"image"`
	Status protocol.Status `json:"status"`
}

type ModuleStatusRequest struct {
	System string          `json:"system"`
	Status protocol.Status `json:"status"`
}

type TabRequest struct {
	IsPrimary bool `json:"isPrimary"`
}

type TruePageRequest struct {
	VideoID string `json:"videoId"`
}

type NavigationRequest struct {
	Control string `json:"control"`
}

type NavigationResponse struct {
	Decision reflection.Decision `json:"decision"`
}

type Ack struct {
	Status string `json:"status"`
}

// Accepted answers requests whose outcome arrives later on the event socket.
var Accepted = Ack{Status: "accepted"}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StatusOf maps a core error to an HTTP status and a stable code.
func StatusOf(err error) (int, ErrorResponse) {
	resp := ErrorResponse{Message: err.Error()}
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, gateway.ErrInvalidRoomName), errors.Is(err, gateway.ErrInvalidRoomID),
		errors.Is(err, core.ErrNoVideo):
		status, resp.Code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, gateway.ErrNotConnected):
		status, resp.Code = http.StatusServiceUnavailable, "not_connected"
	case errors.Is(err, gateway.ErrNotAuthorized):
		status, resp.Code = http.StatusConflict, "not_authorized"
	case errors.Is(err, gateway.ErrNotInRoom):
		status, resp.Code = http.StatusConflict, "not_in_room"
	case errors.Is(err, gateway.ErrNotPrimary):
		status, resp.Code = http.StatusConflict, "not_primary"
	case errors.Is(err, reflection.ErrNothingToConfirm):
		status, resp.Code = http.StatusConflict, "nothing_to_confirm"
	case errors.Is(err, gateway.ErrRateLimited):
		status, resp.Code = http.StatusTooManyRequests, "rate_limited"
	default:
		resp.Code = "request_failed"
	}
	return status, resp
}
