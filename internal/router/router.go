package router

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"cowatch/internal/protocol"
)

type ResolutionStrategy string

const (
	ReturnToInitial   ResolutionStrategy = "returnToInitial"
	StayOnCurrentView ResolutionStrategy = "stayOnCurrentView"
	DisplayOnInput    ResolutionStrategy = "displayOnInput"
)

// ErrorCodeRoomNameInvalid is the structured code a relay may send instead of relying on
// the message text.
const ErrorCodeRoomNameInvalid = "room_name_invalid"

const roomNamePrefix = "The room name"

// ConnectionError is what the UI sees for a failed request or a lost connection.
type ConnectionError struct {
	Message            string              `json:"error"`
	ActionType         protocol.ActionType `json:"actionType"`
	ResolutionStrategy ResolutionStrategy  `json:"resolutionStrategy"`
}

func (e ConnectionError) Error() string {
	return string(e.ActionType) + ": " + e.Message
}

// Resolve picks the view transition for a failed response.
func Resolve(in protocol.InboundEnvelope) ResolutionStrategy {
	switch in.ActionType {
	case protocol.ActionJoinRoom, protocol.ActionReflectRoom:
		return StayOnCurrentView
	case protocol.ActionHostRoom:
		if in.ErrorCode == ErrorCodeRoomNameInvalid {
			return DisplayOnInput
		}
		if in.ErrorCode == "" && strings.HasPrefix(in.ErrorMessage, roomNamePrefix) {
			return DisplayOnInput
		}
	}
	return ReturnToInitial
}

// Handler consumes the envelope of one successful response.
type Handler func(in protocol.InboundEnvelope) error

type Router struct {
	log zerolog.Logger

	mu       sync.RWMutex
	handlers map[protocol.ActionType]Handler
	onError  func(ConnectionError)
}

func New(log zerolog.Logger) *Router {
	return &Router{log: log, handlers: make(map[protocol.ActionType]Handler)}
}

// Register installs the handler for actionType, replacing any earlier one.
func (r *Router) Register(actionType protocol.ActionType, h Handler) {
	r.mu.Lock()
	r.handlers[actionType] = h
	r.mu.Unlock()
}

// OnError sets the sink for response errors.
func (r *Router) OnError(fn func(ConnectionError)) {
	r.mu.Lock()
	r.onError = fn
	r.mu.Unlock()
}

// Dispatch decodes one frame and routes it. Frames of unknown types are dropped without
// error. The returned error covers malformed frames and handler failures only.
func (r *Router) Dispatch(data []byte) (protocol.ActionType, error) {
	in, err := protocol.Decode(data)
	if err != nil {
		r.log.Error().Err(err).Msg("inbound frame rejected")
		return "", err
	}
	r.log.Debug().Str("actionType", string(in.ActionType)).Str("status", string(in.Status)).Msg("inbound")

	r.mu.RLock()
	h, ok := r.handlers[in.ActionType]
	onError := r.onError
	r.mu.RUnlock()

	if !in.OK() {
		cerr := ConnectionError{
			Message:            in.ErrorMessage,
			ActionType:         in.ActionType,
			ResolutionStrategy: Resolve(in),
		}
		r.log.Error().Str("actionType", string(in.ActionType)).Str("error", in.ErrorMessage).
			Str("resolution", string(cerr.ResolutionStrategy)).Msg("relay returned an error")
		if onError != nil {
			onError(cerr)
		}
		return in.ActionType, nil
	}
	if !ok {
		r.log.Debug().Str("actionType", string(in.ActionType)).Msg("no handler registered")
		return in.ActionType, nil
	}
	if err := h(in); err != nil {
		r.log.Error().Err(err).Str("actionType", string(in.ActionType)).Msg("handler failed")
		return in.ActionType, err
	}
	return in.ActionType, nil
}
