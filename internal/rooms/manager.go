package rooms

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"cowatch/internal/events"
	"cowatch/internal/protocol"
	"cowatch/internal/router"
	"cowatch/internal/state"
)

var ErrNotInRoom = errors.New("not in a room")

// Manager applies the relay's room-membership responses to the session and tells the room
// UI and the player interceptor about each change.
type Manager struct {
	store    *state.Store
	bus      events.Publisher
	sanitize *Sanitizer
	log      zerolog.Logger

	mu     sync.RWMutex
	onRole func(state.Session)
}

func NewManager(store *state.Store, bus events.Publisher, sanitize *Sanitizer, log zerolog.Logger) *Manager {
	if sanitize == nil {
		sanitize = NewSanitizer()
	}
	return &Manager{store: store, bus: bus, sanitize: sanitize, log: log}
}

// OnRoleChanged is called after every membership change with the resulting session.
func (m *Manager) OnRoleChanged(fn func(state.Session)) {
	m.mu.Lock()
	m.onRole = fn
	m.mu.Unlock()
}

func (m *Manager) Register(r *router.Router) {
	r.Register(protocol.ActionHostRoom, m.handleHostRoom)
	r.Register(protocol.ActionJoinRoom, m.handleJoinRoom)
	r.Register(protocol.ActionUpdateRoom, m.handleUpdateRoom)
	r.Register(protocol.ActionDisconnectRoom, m.handleDisconnectRoom)
}

func (m *Manager) handleHostRoom(in protocol.InboundEnvelope) error {
	room, err := protocol.Unwrap[protocol.Room](in)
	if err != nil {
		return err
	}
	sess := m.store.EnteredRoom(state.ClientHost, m.sanitize.Room(room))
	m.log.Info().Str("roomID", room.RoomID).Msg("hosting room")
	m.announce(sess)
	return nil
}

func (m *Manager) handleJoinRoom(in protocol.InboundEnvelope) error {
	resp, err := protocol.Unwrap[protocol.JoinRoomResponse](in)
	if err != nil {
		return err
	}
	status := state.ClientViewer
	if resp.ClientType == protocol.ClientTypeHost {
		status = state.ClientHost
	}
	sess := m.store.EnteredRoom(status, m.sanitize.Room(resp.Room))
	m.log.Info().Str("roomID", resp.Room.RoomID).Str("status", string(status)).Msg("joined room")
	m.announce(sess)
	return nil
}

func (m *Manager) handleUpdateRoom(in protocol.InboundEnvelope) error {
	room, err := protocol.Unwrap[protocol.Room](in)
	if err != nil {
		return err
	}
	sess, applied := m.store.RoomUpdated(m.sanitize.Room(room))
	if !applied {
		m.log.Debug().Str("roomID", room.RoomID).Str("status", string(sess.ClientStatus)).Msg("stale room update ignored")
		return nil
	}
	m.announce(sess)
	return nil
}

func (m *Manager) handleDisconnectRoom(protocol.InboundEnvelope) error {
	sess := m.store.LeftRoom()
	m.log.Info().Msg("left room")
	m.announce(sess)
	return nil
}

// Announce republishes the current membership, e.g. after the tab's primary status moved.
func (m *Manager) Announce() {
	m.announce(m.store.Snapshot())
}

func (m *Manager) announce(sess state.Session) {
	m.bus.Publish(events.SendRoomUIUpdateRoom, UpdateOf(sess))
	m.bus.Publish(events.SendPlayerInterceptorClientStatus, InterceptorStatusOf(sess))
	m.mu.RLock()
	onRole := m.onRole
	m.mu.RUnlock()
	if onRole != nil {
		onRole(sess)
	}
}

// Current returns the room the session is in.
func (m *Manager) Current() (protocol.Room, state.ClientStatus, error) {
	sess := m.store.Snapshot()
	if sess.Room == nil {
		return protocol.Room{}, sess.ClientStatus, ErrNotInRoom
	}
	return *sess.Room, sess.ClientStatus, nil
}
