package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/netsblox/cloud/internal/auth"
	"github.com/netsblox/cloud/internal/friend"
	"github.com/netsblox/cloud/internal/httputil"
	"github.com/netsblox/cloud/internal/network"
	"github.com/netsblox/cloud/internal/user"
)

// FriendHandler serves the social-graph endpoints. Every route acts on
// behalf of the {user} path segment, so each handler first proves the caller
// may act as that account.
type FriendHandler struct {
	auth     *auth.Service
	friends  *friend.Service
	users    user.Repository
	topology *network.Topology
	log      zerolog.Logger
}

// NewFriendHandler creates the friend handler.
func NewFriendHandler(authSvc *auth.Service, friends *friend.Service, users user.Repository, topology *network.Topology, logger zerolog.Logger) *FriendHandler {
	return &FriendHandler{
		auth:     authSvc,
		friends:  friends,
		users:    users,
		topology: topology,
		log:      logger.With().Str("handler", "friends").Logger(),
	}
}

// List handles GET /friends/{user}.
func (h *FriendHandler) List(c fiber.Ctx) error {
	w, err := h.actAs(c)
	if err != nil {
		return mapError(c, h.log, err)
	}
	friends, err := h.friends.Friends(c, w.Username())
	if err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, friends)
}

// Online handles GET /friends/{user}/online.
func (h *FriendHandler) Online(c fiber.Ctx) error {
	w, err := h.actAs(c)
	if err != nil {
		return mapError(c, h.log, err)
	}
	friends, err := h.friends.Friends(c, w.Username())
	if err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, h.topology.OnlineUsers(friends))
}

// Invites handles GET /friends/{user}/invites.
func (h *FriendHandler) Invites(c fiber.Ctx) error {
	w, err := h.actAs(c)
	if err != nil {
		return mapError(c, h.log, err)
	}
	invites, err := h.friends.Invites(c, w.Username())
	if err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, invites)
}

// Invite handles POST /friends/{user}/invite/{other}. A block in either
// direction surfaces as Forbidden; a reverse pending invite auto-approves.
func (h *FriendHandler) Invite(c fiber.Ctx) error {
	w, err := h.actAs(c)
	if err != nil {
		return mapError(c, h.log, err)
	}
	other := user.Canonical(c.Params("other"))
	if other == w.Username() {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Cannot friend yourself")
	}
	if _, err := h.users.GetByUsername(c, other); err != nil {
		return mapError(c, h.log, err)
	}
	outcome, err := h.friends.SendInvite(c, w.Username(), other)
	if err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, fiber.Map{"outcome": outcome})
}

// Respond handles POST /friends/{user}/respond/{inviter} with body
// {"response": "accept"|"reject"}.
func (h *FriendHandler) Respond(c fiber.Ctx) error {
	var body struct {
		Response string `json:"response"`
	}
	if err := c.Bind().Body(&body); err != nil ||
		(body.Response != "accept" && body.Response != "reject") {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "response must be \"accept\" or \"reject\"")
	}
	w, err := h.actAs(c)
	if err != nil {
		return mapError(c, h.log, err)
	}
	inviter := user.Canonical(c.Params("inviter"))
	if err := h.friends.RespondToInvite(c, inviter, w.Username(), body.Response == "accept"); err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, fiber.Map{"response": body.Response})
}

// Unfriend handles DELETE /friends/{user}/{other}.
func (h *FriendHandler) Unfriend(c fiber.Ctx) error {
	w, err := h.actAs(c)
	if err != nil {
		return mapError(c, h.log, err)
	}
	if err := h.friends.Unfriend(c, w.Username(), user.Canonical(c.Params("other"))); err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, fiber.Map{"removed": true})
}

// Block handles POST /friends/{user}/block/{other}.
func (h *FriendHandler) Block(c fiber.Ctx) error {
	w, err := h.actAs(c)
	if err != nil {
		return mapError(c, h.log, err)
	}
	if err := h.friends.Block(c, w.Username(), user.Canonical(c.Params("other"))); err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, fiber.Map{"blocked": true})
}

// Unblock handles POST /friends/{user}/unblock/{other}.
func (h *FriendHandler) Unblock(c fiber.Ctx) error {
	w, err := h.actAs(c)
	if err != nil {
		return mapError(c, h.log, err)
	}
	if err := h.friends.Unblock(c, w.Username(), user.Canonical(c.Params("other"))); err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, fiber.Map{"unblocked": true})
}

func (h *FriendHandler) actAs(c fiber.Ctx) (auth.EditUser, error) {
	return h.auth.TryEditUser(c, auth.From(c), user.Canonical(c.Params("user")))
}
