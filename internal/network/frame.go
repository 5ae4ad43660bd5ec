package network

import (
	"encoding/json"
	"fmt"
)

// Frame types exchanged over the websocket. Frames are JSON objects
// discriminated by "type".
const (
	TypeSetClientState  = "set-client-state"
	TypePing            = "ping"
	TypePong            = "pong"
	TypeMessage         = "message"
	TypeClientMessage   = "client-message"
	TypeUserAction      = "user-action"
	TypeRequestActions  = "request-actions"
	TypeGetRoleData     = "get-role-data"
	TypeProjectResponse = "project-response"
	TypeEvict           = "evict"
	TypeRoomState       = "room-state"
)

// Frame is the wire representation. Only the fields relevant to the type are
// populated; unknown fields are preserved in Content for relayed frames.
type Frame struct {
	Type string `json:"type"`

	// set-client-state
	State    *ClientState `json:"state,omitempty"`
	Username string       `json:"username,omitempty"`

	// message / client-message / user-action
	SourceAddress string          `json:"sourceAddress,omitempty"`
	Addresses     []string        `json:"addresses,omitempty"`
	Content       json.RawMessage `json:"content,omitempty"`

	// get-role-data / project-response
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`

	// room-state
	Room *RoomState `json:"room,omitempty"`
}

// Encode marshals a frame for the outbound channel.
func (f *Frame) Encode() ([]byte, error) {
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Type, err)
	}
	return raw, nil
}

// mustEncode is for server-built frames whose marshalling cannot fail.
func mustEncode(f *Frame) []byte {
	raw, err := f.Encode()
	if err != nil {
		panic(err)
	}
	return raw
}
