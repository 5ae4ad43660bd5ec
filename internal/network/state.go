package network

import (
	"strings"

	"github.com/google/uuid"
)

// NewClientID mints a browser client identifier. The leading underscore
// distinguishes generated IDs from usernames in logs and traces.
func NewClientID() string {
	return "_" + uuid.NewString()
}

// ValidClientID reports whether the ID has the generated shape.
func ValidClientID(id string) bool {
	return strings.HasPrefix(id, "_")
}

// ClientState is where a connected client currently lives: inside a project
// role (browser) or at an external app address. The zero value is unknown.
type ClientState struct {
	Browser  *BrowserState  `json:"browser,omitempty" bson:"browser,omitempty"`
	External *ExternalState `json:"external,omitempty" bson:"external,omitempty"`
}

// BrowserState places a client at a role in a project.
type BrowserState struct {
	ProjectID string `json:"projectId" bson:"projectId"`
	RoleID    string `json:"roleId" bson:"roleId"`
}

// ExternalState places a client at an app-family address, e.g. a mobile
// runtime registered as "bot@TicTacToe #PyBlox".
type ExternalState struct {
	Address string `json:"address" bson:"address"`
	AppID   string `json:"appId" bson:"appId"`
}

// ExternalClient is the listing entry for GET /network.
type ExternalClient struct {
	Username string `json:"username,omitempty"`
	Address  string `json:"address"`
	AppID    string `json:"appId"`
}

// RoomState is the occupancy snapshot broadcast to a project's occupants.
// Version increases monotonically per project, so clients can discard
// out-of-order snapshots.
type RoomState struct {
	ID      string              `json:"id"`
	Owner   string              `json:"owner"`
	Name    string              `json:"name"`
	Roles   map[string]RoleState `json:"roles"`
	Version uint64              `json:"version"`
}

// RoleState is one role's slice of a RoomState.
type RoleState struct {
	Name      string          `json:"name"`
	Occupants []OccupantState `json:"occupants"`
}

// OccupantState names one client in a role.
type OccupantState struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}
