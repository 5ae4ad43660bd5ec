package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/netsblox/cloud/internal/auth"
	"github.com/netsblox/cloud/internal/group"
	"github.com/netsblox/cloud/internal/httputil"
	"github.com/netsblox/cloud/internal/servicehost"
	"github.com/netsblox/cloud/internal/user"
)

// GroupHandler serves class-group endpoints.
type GroupHandler struct {
	auth   *auth.Service
	groups group.Repository
	users  user.Repository
	hosts  servicehost.Repository
	log    zerolog.Logger
}

// NewGroupHandler creates the group handler.
func NewGroupHandler(authSvc *auth.Service, groups group.Repository, users user.Repository, hosts servicehost.Repository, logger zerolog.Logger) *GroupHandler {
	return &GroupHandler{
		auth:   authSvc,
		groups: groups,
		users:  users,
		hosts:  hosts,
		log:    logger.With().Str("handler", "groups").Logger(),
	}
}

// Create handles POST /groups.
func (h *GroupHandler) Create(c fiber.Ctx) error {
	p := auth.From(c)
	if p.Username == "" {
		return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "Login required")
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := c.Bind().Body(&body); err != nil || body.Name == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Group name is required")
	}
	g, err := h.groups.Create(c, p.Username, body.Name)
	if err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, g)
}

// List handles GET /groups (the caller's own groups).
func (h *GroupHandler) List(c fiber.Ctx) error {
	p := auth.From(c)
	if p.Username == "" {
		return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "Login required")
	}
	groups, err := h.groups.ListByOwner(c, p.Username)
	if err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, groups)
}

// Get handles GET /groups/{id}.
func (h *GroupHandler) Get(c fiber.Ctx) error {
	w, err := h.auth.TryViewGroup(c, auth.From(c), c.Params("id"))
	if err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, w.Group())
}

// Update handles PATCH /groups/{id}.
func (h *GroupHandler) Update(c fiber.Ctx) error {
	var body struct {
		Name string `json:"name"`
	}
	if err := c.Bind().Body(&body); err != nil || body.Name == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Group name is required")
	}
	w, err := h.auth.TryEditGroup(c, auth.From(c), c.Params("id"))
	if err != nil {
		return mapError(c, h.log, err)
	}
	if err := h.groups.Rename(c, w.Group().ID, body.Name); err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, fiber.Map{"renamed": true})
}

// Delete handles DELETE /groups/{id}. Members drop back to ungrouped status
// and the group's host assignments go away with it.
func (h *GroupHandler) Delete(c fiber.Ctx) error {
	w, err := h.auth.TryEditGroup(c, auth.From(c), c.Params("id"))
	if err != nil {
		return mapError(c, h.log, err)
	}
	id := w.Group().ID
	if err := h.users.ClearGroup(c, id); err != nil {
		return mapError(c, h.log, err)
	}
	if err := h.hosts.SetGroupHosts(c, id, nil); err != nil {
		return mapError(c, h.log, err)
	}
	if err := h.groups.Delete(c, id); err != nil {
		return mapError(c, h.log, err)
	}
	h.log.Info().Str("group", id).Msg("Group deleted")
	return httputil.Success(c, fiber.Map{"deleted": true})
}

// Members handles GET /groups/{id}/members.
func (h *GroupHandler) Members(c fiber.Ctx) error {
	w, err := h.auth.TryViewGroup(c, auth.From(c), c.Params("id"))
	if err != nil {
		return mapError(c, h.log, err)
	}
	members, err := h.users.ListByGroup(c, w.Group().ID)
	if err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, members)
}
