package gateway

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"cowatch/internal/protocol"
	"cowatch/internal/state"
)

var (
	ErrNotConnected    = errors.New("no server connection")
	ErrNotAuthorized   = errors.New("no client set up before privileged action")
	ErrNotInRoom       = errors.New("not in a room")
	ErrNotPrimary      = errors.New("not the primary tab")
	ErrRateLimited     = errors.New("outbound rate limit reached")
	ErrInvalidRoomName = errors.New("room name must be 3 to 50 characters")
	ErrInvalidRoomID   = errors.New("room id is required")
)

// Sender writes one encoded frame to the relay.
type Sender interface {
	Send(data []byte) error
}

// Observer is told the outcome of every request.
type Observer interface {
	Outbound(actionType protocol.ActionType, result string)
}

type nopObserver struct{}

func (nopObserver) Outbound(protocol.ActionType, string) {}

type Options struct {
	// ReflectionRate limits SendReflection frames per second. Zero disables the limit.
	ReflectionRate  float64
	ReflectionBurst int
	Observer        Observer
}

// Gateway checks preconditions against the session before anything reaches the relay. A
// failed guard drops the request: it is logged and returned, never queued or retried.
type Gateway struct {
	store    *state.Store
	sender   Sender
	log      zerolog.Logger
	validate *validator.Validate
	limiter  *rate.Limiter
	obs      Observer
}

func New(store *state.Store, sender Sender, opts Options, log zerolog.Logger) *Gateway {
	g := &Gateway{
		store:    store,
		sender:   sender,
		log:      log,
		validate: validator.New(),
		obs:      opts.Observer,
	}
	if g.obs == nil {
		g.obs = nopObserver{}
	}
	if opts.ReflectionRate > 0 {
		burst := opts.ReflectionBurst
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(opts.ReflectionRate), burst)
	}
	return g
}

func needsClient(actionType protocol.ActionType) bool {
	switch actionType {
	case protocol.ActionHostRoom, protocol.ActionJoinRoom, protocol.ActionDisconnectRoom,
		protocol.ActionSendReflection, protocol.ActionSendVideoDetails, protocol.ActionPing,
		protocol.ActionAttemptReconnect:
		return true
	}
	return false
}

func needsRoom(actionType protocol.ActionType) bool {
	return actionType == protocol.ActionSendReflection || actionType == protocol.ActionSendVideoDetails
}

func (g *Gateway) check(actionType protocol.ActionType) error {
	sess := g.store.Snapshot()
	if sess.ServerStatus != state.ServerConnected {
		return ErrNotConnected
	}
	if actionType == protocol.ActionAuthorize && !sess.IsPrimaryTab {
		return ErrNotPrimary
	}
	if needsClient(actionType) && sess.Client == nil {
		return ErrNotAuthorized
	}
	if needsRoom(actionType) && sess.RoomID() == "" {
		return ErrNotInRoom
	}
	return nil
}

// Request guards, encodes and sends one client request.
func (g *Gateway) Request(actionType protocol.ActionType, payload any) error {
	if err := g.check(actionType); err != nil {
		return g.drop(actionType, "guard", err)
	}
	if actionType == protocol.ActionSendReflection && g.limiter != nil && !g.limiter.Allow() {
		return g.drop(actionType, "rate_limited", ErrRateLimited)
	}
	data, err := protocol.Encode(actionType, payload)
	if err != nil {
		return g.drop(actionType, "encode", err)
	}
	if err := g.sender.Send(data); err != nil {
		return g.drop(actionType, "send", fmt.Errorf("send %s: %w", actionType, err))
	}
	if actionType == protocol.ActionAuthorize {
		g.log.Info().Str("actionType", string(actionType)).Msg("request sent")
	} else {
		g.log.Debug().Str("actionType", string(actionType)).RawJSON("frame", data).Msg("request sent")
	}
	g.obs.Outbound(actionType, "sent")
	return nil
}

func (g *Gateway) drop(actionType protocol.ActionType, result string, err error) error {
	g.log.Warn().Err(err).Str("actionType", string(actionType)).Msg("request dropped")
	g.obs.Outbound(actionType, result)
	return err
}

// Authorize presents the collected identity and the cached private token.
func (g *Gateway) Authorize(req protocol.AuthorizeRequest) error {
	return g.Request(protocol.ActionAuthorize, req)
}

// ValidateRoomName trims name and enforces the 3..50 character rule.
func (g *Gateway) ValidateRoomName(name string) (string, error) {
	req := protocol.HostRoomRequest{Name: strings.TrimSpace(name)}
	if err := g.validate.Struct(req); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRoomName, err)
	}
	return req.Name, nil
}

func (g *Gateway) HostRoom(name string) error {
	trimmed, err := g.ValidateRoomName(name)
	if err != nil {
		return g.drop(protocol.ActionHostRoom, "invalid", err)
	}
	return g.Request(protocol.ActionHostRoom, protocol.HostRoomRequest{Name: trimmed})
}

func (g *Gateway) JoinRoom(roomID string) error {
	req := protocol.JoinRoomRequest{RoomID: strings.TrimSpace(roomID)}
	if err := g.validate.Struct(req); err != nil {
		return g.drop(protocol.ActionJoinRoom, "invalid", fmt.Errorf("%w: %v", ErrInvalidRoomID, err))
	}
	return g.Request(protocol.ActionJoinRoom, req)
}

func (g *Gateway) DisconnectRoom() error {
	return g.Request(protocol.ActionDisconnectRoom, nil)
}

func (g *Gateway) SendReflection(r protocol.Reflection) error {
	return g.Request(protocol.ActionSendReflection, r)
}

func (g *Gateway) SendVideoDetails(d protocol.VideoDetails) error {
	return g.Request(protocol.ActionSendVideoDetails, d)
}

func (g *Gateway) Ping(p protocol.PingPong) error {
	return g.Request(protocol.ActionPing, p)
}

// AttemptReconnect asks the relay to restore a previous room membership.
func (g *Gateway) AttemptReconnect() error {
	return g.Request(protocol.ActionAttemptReconnect, nil)
}
