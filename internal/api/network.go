package api

import (
	"context"
	"encoding/json"

	"github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/netsblox/cloud/internal/auth"
	"github.com/netsblox/cloud/internal/httputil"
	"github.com/netsblox/cloud/internal/invite"
	"github.com/netsblox/cloud/internal/network"
	"github.com/netsblox/cloud/internal/project"
	"github.com/netsblox/cloud/internal/user"
)

// NetworkHandler serves the overlay endpoints and the websocket upgrade.
type NetworkHandler struct {
	auth     *auth.Service
	topology *network.Topology
	router   *network.Router
	projects *project.Service
	invites  invite.Repository
	recorder *network.MongoRecorder

	outboundQueue int

	log zerolog.Logger
}

// NewNetworkHandler creates the network handler.
func NewNetworkHandler(
	authSvc *auth.Service,
	topology *network.Topology,
	router *network.Router,
	projects *project.Service,
	invites invite.Repository,
	recorder *network.MongoRecorder,
	outboundQueue int,
	logger zerolog.Logger,
) *NetworkHandler {
	return &NetworkHandler{
		auth:          authSvc,
		topology:      topology,
		router:        router,
		projects:      projects,
		invites:       invites,
		recorder:      recorder,
		outboundQueue: outboundQueue,
		log:           logger.With().Str("handler", "network").Logger(),
	}
}

// Connect handles GET /network/{clientId}/connect: the websocket upgrade.
// The session identity is captured at upgrade time; set-client-state frames
// cannot claim someone else's username.
func (h *NetworkHandler) Connect(c fiber.Ctx) error {
	clientID := c.Params("clientId")
	if !network.ValidClientID(clientID) {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid client ID")
	}
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	username := auth.From(c).Username
	return websocket.New(func(conn *websocket.Conn) {
		client := network.NewClient(clientID, username, conn.Conn, h.topology, h.router, h.outboundQueue, h.log)
		client.Run(context.Background())
	})(c)
}

// ListExternal handles GET /network: every connected external client.
func (h *NetworkHandler) ListExternal(c fiber.Ctx) error {
	if _, err := h.auth.TryAdmin(c, auth.From(c)); err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, h.topology.ExternalClients())
}

// Room handles GET /network/id/{id}: the occupancy snapshot.
func (h *NetworkHandler) Room(c fiber.Ctx) error {
	meta, err := h.projects.Repo().Get(c, c.Params("id"))
	if err != nil {
		return mapError(c, h.log, err)
	}
	if _, err := h.auth.TryViewProject(c, auth.From(c), meta); err != nil {
		return mapError(c, h.log, err)
	}
	room, err := h.topology.RoomState(c, meta.ID)
	if err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, room)
}

// ClientState handles GET /network/{clientId}/state: placement and identity
// of one client, for authorized services hosts.
func (h *NetworkHandler) ClientState(c fiber.Ctx) error {
	p := auth.From(c)
	if !p.IsHost() && !p.Role.IsPrivileged() {
		return mapError(c, h.log, auth.ErrForbidden)
	}
	clientID := c.Params("clientId")
	state, ok := h.topology.ClientState(clientID)
	if !ok {
		return mapError(c, h.log, network.ErrClientNotFound)
	}
	username, _ := h.topology.ClientUsername(clientID)
	return httputil.Success(c, fiber.Map{
		"id":       clientID,
		"username": username,
		"state":    state,
	})
}

// InviteOccupant handles POST /network/id/{id}/occupants/invite with body
// {username, roleId}.
func (h *NetworkHandler) InviteOccupant(c fiber.Ctx) error {
	var body struct {
		Username string `json:"username"`
		RoleID   string `json:"roleId"`
	}
	if err := c.Bind().Body(&body); err != nil || body.Username == "" || body.RoleID == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "username and roleId are required")
	}

	meta, err := h.projects.Repo().Get(c, c.Params("id"))
	if err != nil {
		return mapError(c, h.log, err)
	}
	p := auth.From(c)
	if _, err := h.auth.TryEditProject(c, p, meta); err != nil {
		return mapError(c, h.log, err)
	}
	if _, ok := meta.Roles[body.RoleID]; !ok {
		return mapError(c, h.log, project.ErrRoleNotFound)
	}

	inv := &invite.OccupantInvite{
		ProjectID: meta.ID,
		RoleID:    body.RoleID,
		Inviter:   p.Username,
		Username:  user.Canonical(body.Username),
	}
	if err := h.invites.CreateOccupant(c, inv); err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, inv)
}

// Evict handles POST /network/clients/{clientId}/evict.
func (h *NetworkHandler) Evict(c fiber.Ctx) error {
	clientID := c.Params("clientId")
	username, _ := h.topology.ClientUsername(clientID)

	var meta *project.Metadata
	if state, ok := h.topology.ClientState(clientID); ok && state.Browser != nil {
		meta, _ = h.projects.Repo().Get(c, state.Browser.ProjectID)
	}

	w, err := h.auth.TryEvictClient(c, auth.From(c), clientID, username, meta)
	if err != nil {
		return mapError(c, h.log, err)
	}
	if err := h.topology.Evict(c, w.ClientID()); err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, fiber.Map{"evicted": true})
}

// StartTrace handles POST /network/id/{id}/trace.
func (h *NetworkHandler) StartTrace(c fiber.Ctx) error {
	meta, err := h.projects.Repo().Get(c, c.Params("id"))
	if err != nil {
		return mapError(c, h.log, err)
	}
	if _, err := h.auth.TryEditProject(c, auth.From(c), meta); err != nil {
		return mapError(c, h.log, err)
	}
	trace, err := h.projects.Repo().StartTrace(c, meta.ID)
	if err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, trace)
}

// GetTrace handles GET /network/id/{id}/trace/{traceId}. An open trace is
// stopped by the read, so the capture is a stable prefix.
func (h *NetworkHandler) GetTrace(c fiber.Ctx) error {
	meta, err := h.projects.Repo().Get(c, c.Params("id"))
	if err != nil {
		return mapError(c, h.log, err)
	}
	if _, err := h.auth.TryViewProject(c, auth.From(c), meta); err != nil {
		return mapError(c, h.log, err)
	}

	traceID := c.Params("traceId")
	found := false
	for _, t := range meta.Traces {
		if t.ID == traceID {
			found = true
			if t.EndTime == nil {
				if err := h.projects.Repo().StopTrace(c, meta.ID, traceID); err != nil {
					return mapError(c, h.log, err)
				}
			}
			break
		}
	}
	if !found {
		return httputil.Fail(c, fiber.StatusNotFound, httputil.CodeNotFound, "Trace not found")
	}

	messages, err := h.recorder.ListTrace(c, meta.ID, traceID)
	if err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, messages)
}

// DeleteTrace handles DELETE /network/id/{id}/trace/{traceId}.
func (h *NetworkHandler) DeleteTrace(c fiber.Ctx) error {
	meta, err := h.projects.Repo().Get(c, c.Params("id"))
	if err != nil {
		return mapError(c, h.log, err)
	}
	if _, err := h.auth.TryEditProject(c, auth.From(c), meta); err != nil {
		return mapError(c, h.log, err)
	}
	traceID := c.Params("traceId")
	if err := h.projects.Repo().RemoveTrace(c, meta.ID, traceID); err != nil {
		return mapError(c, h.log, err)
	}
	h.recorder.ForgetTrace(traceID)
	return httputil.Success(c, fiber.Map{"deleted": true})
}

// SendMessage handles POST /network/messages: authorized services hosts and
// moderators inject overlay messages with a server-asserted source.
func (h *NetworkHandler) SendMessage(c fiber.Ctx) error {
	var body struct {
		Sender    string          `json:"sender"`
		Addresses []string        `json:"addresses"`
		Type      string          `json:"type"`
		Content   json.RawMessage `json:"content"`
	}
	if err := c.Bind().Body(&body); err != nil || len(body.Addresses) == 0 {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "At least one address is required")
	}
	w, err := h.auth.TrySendMessage(c, auth.From(c), body.Sender)
	if err != nil {
		return mapError(c, h.log, err)
	}
	delivered := h.router.RouteFromServices(c, w.Sender(), body.Addresses, body.Type, body.Content)
	return httputil.Success(c, fiber.Map{"recipients": delivered})
}
