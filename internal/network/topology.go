package network

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/netsblox/cloud/internal/metrics"
	"github.com/netsblox/cloud/internal/project"
)

// DisconnectReason says how a websocket ended; it drives the project
// lifecycle transition of any room the client leaves empty.
type DisconnectReason int

const (
	// Away is a normal close: the user left.
	Away DisconnectReason = iota
	// Broken is an abnormal close: the project is retained for recovery.
	BrokenConnection
	// Evicted is a server-forced close.
	Evicted
)

// ErrClientNotFound is returned for operations on unknown client IDs.
var ErrClientNotFound = errors.New("client not connected")

// externalKey builds the lookup key for an externally registered address.
// The address segment compares case-insensitively; the username does not.
func externalKey(address, username string) string {
	return strings.ToLower(address) + "@" + username
}

// Sink is the outbound half of a connected client. Send must not block; it
// reports false when the client's queue is full, which the topology treats
// as a broken connection.
type Sink interface {
	Send(frame []byte) bool
	Close()
}

// ProjectStore is the metadata read surface the topology needs.
type ProjectStore interface {
	Get(ctx context.Context, id string) (*project.Metadata, error)
	GetByName(ctx context.Context, owner, name string) (*project.Metadata, error)
}

// Lifecycle receives occupancy-driven project transitions.
type Lifecycle interface {
	MarkTransient(ctx context.Context, id string, timeout time.Duration) error
	MarkBroken(ctx context.Context, id string, retention time.Duration) error
	Reopen(ctx context.Context, id string) error
}

// Topology is the process-wide registry of live clients and their occupancy.
// The mutex guards the maps only; store calls always happen outside it.
type Topology struct {
	projects  ProjectStore
	lifecycle Lifecycle
	metrics   *metrics.Metrics
	log       zerolog.Logger

	inactivityTimeout time.Duration
	brokenRetention   time.Duration

	mu        sync.RWMutex
	clients   map[string]Sink
	states    map[string]ClientState
	usernames map[string]string
	// rooms: projectID → roleID → occupant client IDs.
	rooms map[string]map[string][]string
	// external: appID → app address → clientID.
	external map[string]map[string]string
	// seqs fences the resolver cache and versions room-state broadcasts.
	seqs map[string]uint64
}

// NewTopology creates an empty topology.
func NewTopology(projects ProjectStore, lifecycle Lifecycle, m *metrics.Metrics, inactivityTimeout, brokenRetention time.Duration, logger zerolog.Logger) *Topology {
	return &Topology{
		projects:          projects,
		lifecycle:         lifecycle,
		metrics:           m,
		log:               logger.With().Str("component", "topology").Logger(),
		inactivityTimeout: inactivityTimeout,
		brokenRetention:   brokenRetention,
		clients:           make(map[string]Sink),
		states:            make(map[string]ClientState),
		usernames:         make(map[string]string),
		rooms:             make(map[string]map[string][]string),
		external:          make(map[string]map[string]string),
		seqs:              make(map[string]uint64),
	}
}

// Connect registers a freshly accepted websocket in the Unknown state.
func (t *Topology) Connect(clientID string, sink Sink) {
	t.mu.Lock()
	t.clients[clientID] = sink
	count := len(t.clients)
	t.mu.Unlock()

	t.metrics.ConnectedClients.Set(float64(count))
	t.log.Debug().Str("client", clientID).Msg("Client connected")
}

// SetState moves a client into a project role or an external address,
// replacing any previous placement. Reopening a project cancels a pending
// deletion.
func (t *Topology) SetState(ctx context.Context, clientID string, state ClientState, username string) error {
	t.mu.Lock()
	if _, ok := t.clients[clientID]; !ok {
		t.mu.Unlock()
		return ErrClientNotFound
	}

	var newProject string
	if state.Browser != nil {
		newProject = state.Browser.ProjectID
	}
	left := t.resetStateLocked(clientID, newProject)

	delete(t.usernames, clientID)
	if username != "" {
		t.usernames[clientID] = username
	}

	var joined string
	switch {
	case state.Browser != nil:
		room, ok := t.rooms[state.Browser.ProjectID]
		if !ok {
			room = make(map[string][]string)
			t.rooms[state.Browser.ProjectID] = room
		}
		room[state.Browser.RoleID] = append(room[state.Browser.RoleID], clientID)
		t.seqs[state.Browser.ProjectID]++
		joined = state.Browser.ProjectID
	case state.External != nil:
		// App IDs compare case-insensitively; addresses parse them
		// lowercased, so register them the same way.
		appID := strings.ToLower(state.External.AppID)
		if appID == "" {
			appID = DefaultApp
		}
		net, ok := t.external[appID]
		if !ok {
			net = make(map[string]string)
			t.external[appID] = net
		}
		net[externalKey(state.External.Address, username)] = clientID
		state.External.AppID = appID
	}
	t.states[clientID] = state
	roomCount := len(t.rooms)
	t.mu.Unlock()

	t.metrics.ActiveRooms.Set(float64(roomCount))

	if joined != "" {
		if err := t.lifecycle.Reopen(ctx, joined); err != nil && !errors.Is(err, project.ErrNotFound) {
			t.log.Warn().Err(err).Str("project", joined).Msg("Failed to reopen project")
		}
		t.broadcastRoomState(ctx, joined)
	}
	if left != "" && left != joined {
		t.handleRoomDeparture(ctx, left, Away)
	}
	return nil
}

// Disconnect removes a client entirely. The reason decides what happens to a
// project the client leaves without occupants.
func (t *Topology) Disconnect(ctx context.Context, clientID string, reason DisconnectReason) {
	t.mu.Lock()
	sink, ok := t.clients[clientID]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.clients, clientID)
	left := t.resetStateLocked(clientID, "")
	delete(t.usernames, clientID)
	count := len(t.clients)
	roomCount := len(t.rooms)
	t.mu.Unlock()

	sink.Close()
	t.metrics.ConnectedClients.Set(float64(count))
	t.metrics.ActiveRooms.Set(float64(roomCount))
	t.log.Debug().Str("client", clientID).Msg("Client disconnected")

	if left != "" {
		t.handleRoomDeparture(ctx, left, reason)
	}

	roleRequests.cancelClient(clientID)
}

// resetStateLocked removes the client's current placement. It returns the
// project ID the client left, or "". Caller holds t.mu.
func (t *Topology) resetStateLocked(clientID, newProject string) string {
	state, ok := t.states[clientID]
	if !ok {
		return ""
	}
	delete(t.states, clientID)

	switch {
	case state.Browser != nil:
		projectID := state.Browser.ProjectID
		room, ok := t.rooms[projectID]
		if !ok {
			return ""
		}
		occupants := room[state.Browser.RoleID]
		for i, id := range occupants {
			if id == clientID {
				occupants[i] = occupants[len(occupants)-1]
				occupants = occupants[:len(occupants)-1]
				break
			}
		}
		if len(occupants) == 0 {
			delete(room, state.Browser.RoleID)
		} else {
			room[state.Browser.RoleID] = occupants
		}
		t.seqs[projectID]++
		if len(room) == 0 && projectID != newProject {
			delete(t.rooms, projectID)
		}
		return projectID

	case state.External != nil:
		net, ok := t.external[state.External.AppID]
		if !ok {
			return ""
		}
		username := t.usernames[clientID]
		delete(net, externalKey(state.External.Address, username))
		if len(net) == 0 {
			delete(t.external, state.External.AppID)
		}
	}
	return ""
}

// handleRoomDeparture drives lifecycle transitions and notifies remaining
// occupants after a client left a project.
func (t *Topology) handleRoomDeparture(ctx context.Context, projectID string, reason DisconnectReason) {
	t.mu.RLock()
	room, stillOccupied := t.rooms[projectID]
	empty := !stillOccupied || len(room) == 0
	t.mu.RUnlock()

	if reason == BrokenConnection {
		if err := t.lifecycle.MarkBroken(ctx, projectID, t.brokenRetention); err != nil && !errors.Is(err, project.ErrNotFound) {
			t.log.Warn().Err(err).Str("project", projectID).Msg("Failed to mark project broken")
		}
	} else if empty {
		if err := t.lifecycle.MarkTransient(ctx, projectID, t.inactivityTimeout); err != nil && !errors.Is(err, project.ErrNotFound) {
			t.log.Warn().Err(err).Str("project", projectID).Msg("Failed to mark project transient")
		}
	}

	if !empty {
		t.broadcastRoomState(ctx, projectID)
	}
}

// Send enqueues a frame on a client's outbound channel. Backpressure drops
// the client, converting slow consumers into reconnects.
func (t *Topology) Send(ctx context.Context, clientID string, frame []byte) error {
	t.mu.RLock()
	sink, ok := t.clients[clientID]
	t.mu.RUnlock()
	if !ok {
		return ErrClientNotFound
	}
	if !sink.Send(frame) {
		t.log.Warn().Str("client", clientID).Msg("Outbound queue full, dropping client")
		t.Disconnect(ctx, clientID, BrokenConnection)
		return ErrClientNotFound
	}
	return nil
}

// Evict sends the eviction notice and then disconnects the client.
func (t *Topology) Evict(ctx context.Context, clientID string) error {
	t.mu.RLock()
	_, ok := t.clients[clientID]
	t.mu.RUnlock()
	if !ok {
		return ErrClientNotFound
	}
	_ = t.Send(ctx, clientID, mustEncode(&Frame{Type: TypeEvict}))
	t.Disconnect(ctx, clientID, Away)
	return nil
}

// DisconnectUser closes every websocket owned by the username. Used when an
// account is deleted or banned mid-session.
func (t *Topology) DisconnectUser(ctx context.Context, username string) {
	t.mu.RLock()
	var ids []string
	for id, name := range t.usernames {
		if name == username {
			ids = append(ids, id)
		}
	}
	t.mu.RUnlock()
	for _, id := range ids {
		t.Disconnect(ctx, id, Away)
	}
}

// Close disconnects every client. Called on server shutdown so sockets end
// with a Going Away close instead of a dropped connection.
func (t *Topology) Close(ctx context.Context) {
	t.mu.RLock()
	ids := make([]string, 0, len(t.clients))
	for id := range t.clients {
		ids = append(ids, id)
	}
	t.mu.RUnlock()
	for _, id := range ids {
		t.Disconnect(ctx, id, Away)
	}
}

// broadcastRoomState pushes a fresh occupancy snapshot to every occupant.
// The metadata read happens outside the lock; the version is the room seq.
func (t *Topology) broadcastRoomState(ctx context.Context, projectID string) {
	state, recipients := t.buildRoomState(ctx, projectID)
	if state == nil {
		return
	}
	frame := mustEncode(&Frame{Type: TypeRoomState, Room: state})
	for _, id := range recipients {
		_ = t.Send(ctx, id, frame)
	}
}

// RoomState returns the current occupancy snapshot for a project.
func (t *Topology) RoomState(ctx context.Context, projectID string) (*RoomState, error) {
	state, _ := t.buildRoomState(ctx, projectID)
	if state == nil {
		return nil, project.ErrNotFound
	}
	return state, nil
}

func (t *Topology) buildRoomState(ctx context.Context, projectID string) (*RoomState, []string) {
	t.mu.RLock()
	room, ok := t.rooms[projectID]
	if !ok {
		t.mu.RUnlock()
		return nil, nil
	}
	occupancy := make(map[string][]OccupantState, len(room))
	var recipients []string
	for roleID, occupants := range room {
		for _, id := range occupants {
			occupancy[roleID] = append(occupancy[roleID], OccupantState{
				ID:   id,
				Name: t.usernames[id],
			})
			recipients = append(recipients, id)
		}
	}
	version := t.seqs[projectID]
	t.mu.RUnlock()

	meta, err := t.projects.Get(ctx, projectID)
	if err != nil {
		if !errors.Is(err, project.ErrNotFound) {
			t.log.Warn().Err(err).Str("project", projectID).Msg("Failed to load room metadata")
		}
		return nil, nil
	}

	state := &RoomState{
		ID:      projectID,
		Owner:   meta.Owner,
		Name:    meta.Name,
		Roles:   make(map[string]RoleState, len(meta.Roles)),
		Version: version,
	}
	for roleID, role := range meta.Roles {
		state.Roles[roleID] = RoleState{
			Name:      role.Name,
			Occupants: occupancy[roleID],
		}
	}
	return state, recipients
}

// Seq returns the room mutation counter used to fence resolver entries.
func (t *Topology) Seq(projectID string) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.seqs[projectID]
}

// InvalidateProject bumps the project's sequence (dropping resolver entries)
// and re-broadcasts room state. Called after renames and collaborator
// changes.
func (t *Topology) InvalidateProject(ctx context.Context, projectID string) {
	t.mu.Lock()
	t.seqs[projectID]++
	t.mu.Unlock()
	t.broadcastRoomState(ctx, projectID)
}

// Occupants returns the client IDs at a role.
func (t *Topology) Occupants(projectID, roleID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	occupants := t.rooms[projectID][roleID]
	out := make([]string, len(occupants))
	copy(out, occupants)
	return out
}

// ExternalLookup finds the client registered at an app-family address. The
// address segment matches case-insensitively; the username segment does not.
func (t *Topology) ExternalLookup(appID, address, username string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.external[appID][externalKey(address, username)]
	return id, ok
}

// ClientUsername returns the username attached to a client, if any.
func (t *Topology) ClientUsername(clientID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	name, ok := t.usernames[clientID]
	return name, ok
}

// ClientState returns the client's current placement.
func (t *Topology) ClientState(clientID string) (ClientState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	state, ok := t.states[clientID]
	return state, ok
}

// ActiveRooms lists the projects with at least one occupant.
func (t *Topology) ActiveRooms() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rooms := make([]string, 0, len(t.rooms))
	for id := range t.rooms {
		rooms = append(rooms, id)
	}
	return rooms
}

// ExternalClients lists every connected external client.
func (t *Topology) ExternalClients() []ExternalClient {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []ExternalClient
	for id, state := range t.states {
		if state.External == nil {
			continue
		}
		out = append(out, ExternalClient{
			Username: t.usernames[id],
			Address:  state.External.Address,
			AppID:    state.External.AppID,
		})
	}
	return out
}

// OnlineUsers returns the online subset of the given usernames, or every
// online user when the list is empty.
func (t *Topology) OnlineUsers(fromNames []string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	online := make(map[string]struct{}, len(t.usernames))
	for _, name := range t.usernames {
		online[name] = struct{}{}
	}
	if len(fromNames) == 0 {
		out := make([]string, 0, len(online))
		for name := range online {
			out = append(out, name)
		}
		return out
	}
	var out []string
	for _, name := range fromNames {
		if _, ok := online[name]; ok {
			out = append(out, name)
		}
	}
	return out
}
