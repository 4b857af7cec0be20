package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformed = errors.New("malformed envelope")

// Envelope is the outbound frame. Action holds the payload already encoded as a JSON
// string, so the payload travels double-encoded.
type Envelope struct {
	ActionType   ActionType `json:"actionType"`
	Action       string     `json:"action"`
	Status       Status     `json:"status,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	ErrorCode    string     `json:"errorCode,omitempty"`
}

// InboundEnvelope is the outer parse of a received frame. Action is kept raw because the
// relay sends it either as a JSON string or as a nested object.
type InboundEnvelope struct {
	ActionType   ActionType      `json:"actionType"`
	Action       json.RawMessage `json:"action"`
	Status       Status          `json:"status"`
	ErrorMessage string          `json:"errorMessage"`
	ErrorCode    string          `json:"errorCode"`
}

// NewEnvelope encodes payload into the action string. A nil payload yields an empty action.
func NewEnvelope(actionType ActionType, payload any) (Envelope, error) {
	envelope := Envelope{ActionType: actionType}
	if payload == nil {
		return envelope, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", actionType, err)
	}
	envelope.Action = string(data)
	return envelope, nil
}

// Encode builds the full wire frame for a request.
func Encode(actionType ActionType, payload any) ([]byte, error) {
	envelope, err := NewEnvelope(actionType, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope)
}

// Decode performs the outer parse.
func Decode(data []byte) (InboundEnvelope, error) {
	var inbound InboundEnvelope
	if err := json.Unmarshal(data, &inbound); err != nil {
		return InboundEnvelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if inbound.ActionType == "" {
		return InboundEnvelope{}, fmt.Errorf("%w: missing actionType", ErrMalformed)
	}
	return inbound, nil
}

// OK reports whether the frame carries a successful response. A missing status is ok.
func (in InboundEnvelope) OK() bool {
	return in.Status == "" || in.Status == StatusOK
}

// Payload returns the inner JSON document, unwrapping the string form. Empty or null
// actions yield nil.
func (in InboundEnvelope) Payload() ([]byte, error) {
	raw := bytes.TrimSpace(in.Action)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] != '"' {
		return raw, nil
	}
	var inner string
	if err := json.Unmarshal(raw, &inner); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if inner == "" {
		return nil, nil
	}
	return []byte(inner), nil
}

// Unwrap performs the inner parse into T. An empty action decodes to the zero value.
func Unwrap[T any](in InboundEnvelope) (T, error) {
	var out T
	payload, err := in.Payload()
	if err != nil {
		return out, err
	}
	if payload == nil {
		return out, nil
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, fmt.Errorf("%w: %s payload: %v", ErrMalformed, in.ActionType, err)
	}
	return out, nil
}
