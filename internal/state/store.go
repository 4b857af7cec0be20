package state

import (
	"sync"

	"cowatch/internal/protocol"
)

// Store owns the one Session. Every logical transition has its own method; readers get
// copies.
type Store struct {
	mu      sync.RWMutex
	session Session
}

func NewStore() *Store {
	return &Store{
		session: Session{
			ServerStatus:      ServerConnecting,
			ClientStatus:      ClientDisconnected,
			IsShowingTruePage: true,
			Systems:           make(map[string]protocol.Status),
		},
	}
}

// Snapshot returns a deep copy of the current session.
func (s *Store) Snapshot() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.clone()
}

// Update applies fn under the write lock and returns the resulting copy.
func (s *Store) Update(fn func(*Session)) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.session)
	return s.session.clone()
}

func (s *Store) Connecting() Session {
	return s.Update(func(sess *Session) { sess.ServerStatus = ServerConnecting })
}

func (s *Store) Connected() Session {
	return s.Update(func(sess *Session) { sess.ServerStatus = ServerConnected })
}

func (s *Store) Failed() Session {
	return s.Update(func(sess *Session) { sess.ServerStatus = ServerFailed })
}

// ConnectionLost returns the session to the initial view: no authorization, no room.
func (s *Store) ConnectionLost() Session {
	return s.Update(func(sess *Session) {
		sess.ServerStatus = ServerConnecting
		sess.ClientStatus = ClientDisconnected
		sess.Client = nil
		sess.Room = nil
		sess.IsShowingTruePage = true
	})
}

func (s *Store) Collected(identity Identity) Session {
	return s.Update(func(sess *Session) { sess.Identity = identity })
}

func (s *Store) Authorized(client Client) Session {
	return s.Update(func(sess *Session) {
		sess.Client = &client
		sess.ClientStatus = ClientInactive
	})
}

// EnteredRoom replaces the room wholesale. status must be host or viewer.
func (s *Store) EnteredRoom(status ClientStatus, room protocol.Room) Session {
	return s.Update(func(sess *Session) {
		sess.ClientStatus = status
		sess.Room = cloneRoom(room)
	})
}

// RoomUpdated replaces the room unless the session is not in one, in which case the
// broadcast is stale and ignored.
func (s *Store) RoomUpdated(room protocol.Room) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.session.ClientStatus.InRoom() {
		return s.session.clone(), false
	}
	s.session.Room = cloneRoom(room)
	return s.session.clone(), true
}

func (s *Store) LeftRoom() Session {
	return s.Update(func(sess *Session) {
		sess.ClientStatus = ClientInactive
		sess.Room = nil
		sess.IsShowingTruePage = true
	})
}

// Reflected tracks the reflected video id. A change means the visible page no longer
// matches the room.
func (s *Store) Reflected(videoID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session.VideoID == videoID {
		return s.session.clone(), false
	}
	s.session.VideoID = videoID
	s.session.IsShowingTruePage = false
	return s.session.clone(), true
}

func (s *Store) ShowTruePage(videoID string) Session {
	return s.Update(func(sess *Session) {
		sess.VideoID = videoID
		sess.IsShowingTruePage = true
	})
}

// PrimaryChanged records the tab arbiter's decision. Losing primary gives up the relay
// connection, the role and the room.
func (s *Store) PrimaryChanged(isPrimary bool) Session {
	return s.Update(func(sess *Session) {
		sess.IsPrimaryTab = isPrimary
		if !isPrimary {
			sess.ServerStatus = ServerConnecting
			sess.ClientStatus = ClientDisconnected
			sess.Client = nil
			sess.Room = nil
		}
	})
}

// ModuleStatus records one system's health and reports whether every reported system is ok.
func (s *Store) ModuleStatus(system string, status protocol.Status) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.Systems[system] = status
	return s.session.clone(), s.session.SystemsOK()
}
