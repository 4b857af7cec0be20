package protocol

// ActionType is the string discriminator carried by every envelope.
type ActionType string

// Client → relay.
const (
	ActionAuthorize        ActionType = "Authorize"
	ActionHostRoom         ActionType = "HostRoom"
	ActionJoinRoom         ActionType = "JoinRoom"
	ActionDisconnectRoom   ActionType = "DisconnectRoom"
	ActionSendReflection   ActionType = "SendReflection"
	ActionSendVideoDetails ActionType = "SendVideoDetails"
	ActionPing             ActionType = "Ping"
	ActionAttemptReconnect ActionType = "AttemptReconnect"
)

// Relay → client. Authorize, HostRoom, JoinRoom and DisconnectRoom are shared with the
// request side.
const (
	ActionUpdateRoom          ActionType = "UpdateRoom"
	ActionReflectRoom         ActionType = "ReflectRoom"
	ActionReflectVideoDetails ActionType = "ReflectVideoDetails"
	ActionPong                ActionType = "Pong"
)

type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// ClientType mirrors the relay's numeric client role.
type ClientType int

const (
	ClientTypeInactive ClientType = iota
	ClientTypeHost
	ClientTypeViewer
)

type AuthorizeRequest struct {
	Name         string `json:"name"`
	Image        string `json:"image"`
	PrivateToken string `json:"privateToken"`
}

type AuthorizeResponse struct {
	Name         string `json:"name"`
	Image        string `json:"image"`
	PublicToken  string `json:"publicToken"`
	PrivateToken string `json:"privateToken"`
}

// ClientRecord is the public view of a room participant.
type ClientRecord struct {
	Name        string `json:"name"`
	Image       string `json:"image"`
	PublicToken string `json:"publicToken"`
}

type RoomSettings struct {
	Name string `json:"name"`
}

type Room struct {
	RoomID    string         `json:"roomID"`
	Host      ClientRecord   `json:"host"`
	Viewers   []ClientRecord `json:"viewers"`
	Settings  RoomSettings   `json:"settings"`
	CreatedAt int64          `json:"createdAt"`
}

type HostRoomRequest struct {
	Name string `json:"name" validate:"min=3,max=50"`
}

type JoinRoomRequest struct {
	RoomID string `json:"roomID" validate:"required"`
}

type JoinRoomResponse struct {
	Room       Room       `json:"room"`
	ClientType ClientType `json:"clientType"`
}

// Reflection is the compact snapshot a host publishes and viewers mirror.
type Reflection struct {
	ID    string      `json:"id"`
	State PlayerState `json:"state"`
	Time  float64     `json:"time"`
}

type VideoDetails struct {
	Title           string `json:"title"`
	Author          string `json:"author"`
	AuthorImage     string `json:"authorImage"`
	SubscriberCount string `json:"subscriberCount"`
	LikeCount       string `json:"likeCount"`
}

type PingPong struct {
	Timestamp int64 `json:"timestamp"`
}
