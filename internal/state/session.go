package state

import "cowatch/internal/protocol"

type ServerStatus string

const (
	ServerConnecting ServerStatus = "connecting"
	ServerConnected  ServerStatus = "connected"
	ServerFailed     ServerStatus = "failed"
)

type ClientStatus string

const (
	ClientDisconnected ClientStatus = "disconnected"
	ClientInactive     ClientStatus = "inactive"
	ClientHost         ClientStatus = "host"
	ClientViewer       ClientStatus = "viewer"
)

// InRoom reports whether the status implies room membership.
func (c ClientStatus) InRoom() bool {
	return c == ClientHost || c == ClientViewer
}

// Identity is what the page collector scraped before authorization.
type Identity struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

// Client is the authorized identity. PrivateToken never leaves the core except in the
// Authorize request.
type Client struct {
	Name         string
	Image        string
	PublicToken  string
	PrivateToken string
}

// Session is the single record of client state.
type Session struct {
	ServerStatus      ServerStatus
	ClientStatus      ClientStatus
	Identity          Identity
	Client            *Client
	Room              *protocol.Room
	VideoID           string
	IsShowingTruePage bool
	IsPrimaryTab      bool
	Systems           map[string]protocol.Status
}

// RoomID is empty when the session holds no room.
func (s Session) RoomID() string {
	if s.Room == nil {
		return ""
	}
	return s.Room.RoomID
}

// SystemsOK reports whether every system that reported its health is ok. No reports
// counts as ok.
func (s Session) SystemsOK() bool {
	for _, st := range s.Systems {
		if st != protocol.StatusOK {
			return false
		}
	}
	return true
}

func (s Session) clone() Session {
	out := s
	if s.Client != nil {
		c := *s.Client
		out.Client = &c
	}
	if s.Room != nil {
		out.Room = cloneRoom(*s.Room)
	}
	out.Systems = make(map[string]protocol.Status, len(s.Systems))
	for k, v := range s.Systems {
		out.Systems[k] = v
	}
	return out
}

func cloneRoom(room protocol.Room) *protocol.Room {
	if room.Viewers != nil {
		viewers := make([]protocol.ClientRecord, len(room.Viewers))
		copy(viewers, room.Viewers)
		room.Viewers = viewers
	}
	return &room
}

// PublicClient is the UI-safe projection of Client.
type PublicClient struct {
	Name        string `json:"name"`
	Image       string `json:"image"`
	PublicToken string `json:"publicToken"`
}

// PublicSnapshot is what crosses into the room UI.
type PublicSnapshot struct {
	ServerStatus      ServerStatus               `json:"serverStatus"`
	ClientStatus      ClientStatus               `json:"clientStatus"`
	Client            *PublicClient              `json:"client"`
	Room              *protocol.Room             `json:"room"`
	VideoID           string                     `json:"videoId"`
	IsShowingTruePage bool                       `json:"isShowingTruePage"`
	IsPrimaryTab      bool                       `json:"isPrimaryTab"`
	Systems           map[string]protocol.Status `json:"systems"`
}

func (s Session) Public() PublicSnapshot {
	snap := PublicSnapshot{
		ServerStatus:      s.ServerStatus,
		ClientStatus:      s.ClientStatus,
		Room:              s.Room,
		VideoID:           s.VideoID,
		IsShowingTruePage: s.IsShowingTruePage,
		IsPrimaryTab:      s.IsPrimaryTab,
		Systems:           s.Systems,
	}
	if s.Client != nil {
		snap.Client = &PublicClient{Name: s.Client.Name, Image: s.Client.Image, PublicToken: s.Client.PublicToken}
	}
	return snap
}
