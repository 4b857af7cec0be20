package rooms

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"cowatch/internal/protocol"
	"cowatch/internal/state"
)

// Sanitizer strips markup from relay-provided text before it reaches the UI.
type Sanitizer struct {
	policy *bluemonday.Policy
}

func NewSanitizer() *Sanitizer {
	return &Sanitizer{policy: bluemonday.StrictPolicy()}
}

// Text returns plain text: tags removed, entities decoded.
func (s *Sanitizer) Text(in string) string {
	if in == "" {
		return ""
	}
	decoded := html.UnescapeString(in)
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(decoded)))
}

func (s *Sanitizer) Client(c protocol.ClientRecord) protocol.ClientRecord {
	c.Name = s.Text(c.Name)
	return c
}

func (s *Sanitizer) Room(room protocol.Room) protocol.Room {
	room.Host = s.Client(room.Host)
	room.Settings.Name = s.Text(room.Settings.Name)
	if room.Viewers != nil {
		viewers := make([]protocol.ClientRecord, len(room.Viewers))
		for i, v := range room.Viewers {
			viewers[i] = s.Client(v)
		}
		room.Viewers = viewers
	}
	return room
}

func (s *Sanitizer) Details(d protocol.VideoDetails) protocol.VideoDetails {
	d.Title = s.Text(d.Title)
	d.Author = s.Text(d.Author)
	d.SubscriberCount = s.Text(d.SubscriberCount)
	d.LikeCount = s.Text(d.LikeCount)
	return d
}

// RoomUpdate is the room UI's view of membership.
type RoomUpdate struct {
	Room   *protocol.Room     `json:"room"`
	Status state.ClientStatus `json:"status"`
}

// InterceptorStatus is what the player interceptor needs to pick its role.
type InterceptorStatus struct {
	ClientStatus      state.ClientStatus `json:"clientStatus"`
	IsPrimaryTab      bool               `json:"isPrimaryTab"`
	IsShowingTruePage bool               `json:"isShowingTruePage"`
	VideoID           string             `json:"videoId"`
}

func UpdateOf(sess state.Session) RoomUpdate {
	return RoomUpdate{Room: sess.Room, Status: sess.ClientStatus}
}

func InterceptorStatusOf(sess state.Session) InterceptorStatus {
	return InterceptorStatus{
		ClientStatus:      sess.ClientStatus,
		IsPrimaryTab:      sess.IsPrimaryTab,
		IsShowingTruePage: sess.IsShowingTruePage,
		VideoID:           sess.VideoID,
	}
}
