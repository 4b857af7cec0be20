package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func roundTrip[T any](t *testing.T, actionType ActionType, payload T) {
	t.Helper()
	data, err := Encode(actionType, payload)
	if err != nil {
		t.Fatalf("Encode(%s) failed: %v", actionType, err)
	}
	inbound, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode(%s) failed: %v", actionType, err)
	}
	if inbound.ActionType != actionType {
		t.Errorf("actionType mismatch: expected %s, got %s", actionType, inbound.ActionType)
	}
	got, err := Unwrap[T](inbound)
	if err != nil {
		t.Fatalf("Unwrap(%s) failed: %v", actionType, err)
	}
	if diff := cmp.Diff(payload, got); diff != "" {
		t.Errorf("%s round trip mismatch (-want +got):\n%s", actionType, diff)
	}
}

// TestRoundTrip 覆盖协议表中的每种消息
func TestRoundTrip(t *testing.T) {
	host := ClientRecord{Name: "Host", Image: "https://img/host.png", PublicToken: "pub-host"}
	room := Room{
		RoomID:    "room_42",
		Host:      host,
		Viewers:   []ClientRecord{{Name: "Viewer", Image: "https://img/v.png", PublicToken: "pub-v"}},
		Settings:  RoomSettings{Name: "Study Session"},
		CreatedAt: 1700000000000,
	}

	roundTrip(t, ActionAuthorize, AuthorizeRequest{Name: "Host", Image: "https://img/host.png", PrivateToken: "secret"})
	roundTrip(t, ActionAuthorize, AuthorizeResponse{Name: "Host", Image: "https://img/host.png", PublicToken: "pub", PrivateToken: "secret"})
	roundTrip(t, ActionHostRoom, HostRoomRequest{Name: "Study Session"})
	roundTrip(t, ActionHostRoom, room)
	roundTrip(t, ActionJoinRoom, JoinRoomRequest{RoomID: "room_42"})
	roundTrip(t, ActionJoinRoom, JoinRoomResponse{Room: room, ClientType: ClientTypeViewer})
	roundTrip(t, ActionUpdateRoom, room)
	roundTrip(t, ActionDisconnectRoom, struct{}{})
	roundTrip(t, ActionSendReflection, Reflection{ID: "dQw4w9WgXcQ", State: StatePlaying, Time: 42.5})
	roundTrip(t, ActionReflectRoom, Reflection{ID: "dQw4w9WgXcQ", State: StatePaused, Time: 0})
	roundTrip(t, ActionSendVideoDetails, VideoDetails{Title: "t", Author: "a", AuthorImage: "i", SubscriberCount: "1K", LikeCount: "10"})
	roundTrip(t, ActionReflectVideoDetails, VideoDetails{Title: "t", Author: "a"})
	roundTrip(t, ActionPing, PingPong{Timestamp: 1700000000123})
	roundTrip(t, ActionPong, PingPong{Timestamp: 1700000000456})
}

// TestActionIsString 外层 action 字段必须是字符串
func TestActionIsString(t *testing.T) {
	data, err := Encode(ActionJoinRoom, JoinRoomRequest{RoomID: "abc"})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		t.Fatalf("unmarshal outer failed: %v", err)
	}
	var action string
	if err := json.Unmarshal(outer["action"], &action); err != nil {
		t.Fatalf("action should be a JSON string, got %s", outer["action"])
	}
	if action != `{"roomID":"abc"}` {
		t.Errorf("unexpected inner payload %s", action)
	}
	if _, ok := outer["status"]; ok {
		t.Error("requests should not carry a status")
	}
}

// TestNilPayload 空 payload 编码为空字符串
func TestNilPayload(t *testing.T) {
	data, err := Encode(ActionDisconnectRoom, nil)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if string(data) != `{"actionType":"DisconnectRoom","action":""}` {
		t.Errorf("unexpected frame %s", data)
	}
	inbound, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	payload, err := inbound.Payload()
	if err != nil || payload != nil {
		t.Errorf("expected nil payload, got %q (%v)", payload, err)
	}
}

// TestNestedObjectAction 兼容 action 为嵌套对象的中继
func TestNestedObjectAction(t *testing.T) {
	frame := []byte(`{"actionType":"Pong","action":{"timestamp":99},"status":"ok","errorMessage":""}`)
	inbound, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	pong, err := Unwrap[PingPong](inbound)
	if err != nil {
		t.Fatalf("Unwrap failed: %v", err)
	}
	if pong.Timestamp != 99 {
		t.Errorf("expected timestamp 99, got %d", pong.Timestamp)
	}
	if !inbound.OK() {
		t.Error("status ok should be OK")
	}
}

// TestErrorStatus 错误状态的解析
func TestErrorStatus(t *testing.T) {
	frame := []byte(`{"actionType":"JoinRoom","action":null,"status":"error","errorMessage":"The room you're trying to join doesn't exist"}`)
	inbound, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if inbound.OK() {
		t.Error("error status should not be OK")
	}
	if inbound.ErrorMessage == "" {
		t.Error("errorMessage should be populated")
	}
}

// TestDecodeMalformed 非法帧
func TestDecodeMalformed(t *testing.T) {
	for _, frame := range []string{`not json`, `{}`, `{"action":"x"}`} {
		if _, err := Decode([]byte(frame)); !errors.Is(err, ErrMalformed) {
			t.Errorf("Decode(%q): expected ErrMalformed, got %v", frame, err)
		}
	}

	inbound := InboundEnvelope{ActionType: ActionPong, Action: json.RawMessage(`"{broken"`)}
	if _, err := Unwrap[PingPong](inbound); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed for broken inner payload, got %v", err)
	}
}
