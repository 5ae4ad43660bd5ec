package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/netsblox/cloud/internal/auth"
	"github.com/netsblox/cloud/internal/group"
	"github.com/netsblox/cloud/internal/httputil"
	"github.com/netsblox/cloud/internal/servicehost"
	"github.com/netsblox/cloud/internal/user"
)

// ServicesHandler serves service-host registration and settings endpoints.
type ServicesHandler struct {
	auth   *auth.Service
	hosts  servicehost.Repository
	users  user.Repository
	groups group.Repository
	log    zerolog.Logger
}

// NewServicesHandler creates the services handler.
func NewServicesHandler(authSvc *auth.Service, hosts servicehost.Repository, users user.Repository, groups group.Repository, logger zerolog.Logger) *ServicesHandler {
	return &ServicesHandler{
		auth:   authSvc,
		hosts:  hosts,
		users:  users,
		groups: groups,
		log:    logger.With().Str("handler", "services").Logger(),
	}
}

// UserHosts handles GET /services/hosts/user/{user}.
func (h *ServicesHandler) UserHosts(c fiber.Ctx) error {
	w, err := h.auth.TryViewUser(c, auth.From(c), user.Canonical(c.Params("user")))
	if err != nil {
		return mapError(c, h.log, err)
	}
	hosts, err := h.hosts.GetUserHosts(c, w.User().Username)
	if err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, hosts)
}

// SetUserHosts handles POST /services/hosts/user/{user}.
func (h *ServicesHandler) SetUserHosts(c fiber.Ctx) error {
	var hosts []servicehost.Host
	if err := c.Bind().Body(&hosts); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid request body")
	}
	w, err := h.auth.TryEditUser(c, auth.From(c), user.Canonical(c.Params("user")))
	if err != nil {
		return mapError(c, h.log, err)
	}
	if err := h.hosts.SetUserHosts(c, w.Username(), hosts); err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, hosts)
}

// ClearUserHosts handles DELETE /services/hosts/user/{user}.
func (h *ServicesHandler) ClearUserHosts(c fiber.Ctx) error {
	w, err := h.auth.TryEditUser(c, auth.From(c), user.Canonical(c.Params("user")))
	if err != nil {
		return mapError(c, h.log, err)
	}
	if err := h.hosts.SetUserHosts(c, w.Username(), nil); err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, fiber.Map{"cleared": true})
}

// AllUserHosts handles GET /services/hosts/all/{user}: the merged view an
// editor session sees (deployment defaults + own + group).
func (h *ServicesHandler) AllUserHosts(c fiber.Ctx) error {
	w, err := h.auth.TryViewUser(c, auth.From(c), user.Canonical(c.Params("user")))
	if err != nil {
		return mapError(c, h.log, err)
	}
	merged, err := h.visibleHosts(c, w.User())
	if err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, merged)
}

// visibleHosts merges defaults, user hosts, and group hosts for the account.
func (h *ServicesHandler) visibleHosts(c fiber.Ctx, u *user.User) ([]servicehost.Host, error) {
	defaults, err := h.defaultHosts(c)
	if err != nil {
		return nil, err
	}
	userHosts, err := h.hosts.GetUserHosts(c, u.Username)
	if err != nil {
		return nil, err
	}
	var groupHosts []servicehost.Host
	if u.GroupID != nil {
		groupHosts, err = h.hosts.GetGroupHosts(c, *u.GroupID)
		if err != nil {
			return nil, err
		}
	}
	return servicehost.Visible(defaults, userHosts, groupHosts), nil
}

// defaultHosts exposes the publicly visible authorized hosts as defaults.
func (h *ServicesHandler) defaultHosts(c fiber.Ctx) ([]servicehost.Host, error) {
	authorized, err := h.hosts.ListAuthorized(c)
	if err != nil {
		return nil, err
	}
	var defaults []servicehost.Host
	for _, a := range authorized {
		if a.Visibility == servicehost.VisibilityPublic {
			defaults = append(defaults, servicehost.Host{URL: a.URL})
		}
	}
	return defaults, nil
}

// GroupHosts handles GET /services/hosts/group/{id}.
func (h *ServicesHandler) GroupHosts(c fiber.Ctx) error {
	w, err := h.auth.TryViewGroup(c, auth.From(c), c.Params("id"))
	if err != nil {
		return mapError(c, h.log, err)
	}
	hosts, err := h.hosts.GetGroupHosts(c, w.Group().ID)
	if err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, hosts)
}

// SetGroupHosts handles POST /services/hosts/group/{id}.
func (h *ServicesHandler) SetGroupHosts(c fiber.Ctx) error {
	var hosts []servicehost.Host
	if err := c.Bind().Body(&hosts); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid request body")
	}
	w, err := h.auth.TryEditGroup(c, auth.From(c), c.Params("id"))
	if err != nil {
		return mapError(c, h.log, err)
	}
	if err := h.hosts.SetGroupHosts(c, w.Group().ID, hosts); err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, hosts)
}

// ClearGroupHosts handles DELETE /services/hosts/group/{id}.
func (h *ServicesHandler) ClearGroupHosts(c fiber.Ctx) error {
	w, err := h.auth.TryEditGroup(c, auth.From(c), c.Params("id"))
	if err != nil {
		return mapError(c, h.log, err)
	}
	if err := h.hosts.SetGroupHosts(c, w.Group().ID, nil); err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, fiber.Map{"cleared": true})
}

// UserSettings handles GET /services/settings/user/{user}/{host}. Settings
// bodies are opaque to the cloud; the services host owns their schema.
func (h *ServicesHandler) UserSettings(c fiber.Ctx) error {
	w, err := h.auth.TryViewUser(c, auth.From(c), user.Canonical(c.Params("user")))
	if err != nil {
		return mapError(c, h.log, err)
	}
	settings := w.User().ServiceSettings[c.Params("host")]
	return c.SendString(settings)
}

// SetUserSettings handles POST /services/settings/user/{user}/{host}.
func (h *ServicesHandler) SetUserSettings(c fiber.Ctx) error {
	w, err := h.auth.TryEditUser(c, auth.From(c), user.Canonical(c.Params("user")))
	if err != nil {
		return mapError(c, h.log, err)
	}
	if err := h.users.SetServiceSettings(c, w.Username(), c.Params("host"), string(c.Body())); err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, fiber.Map{"updated": true})
}

// DeleteUserSettings handles DELETE /services/settings/user/{user}/{host}.
func (h *ServicesHandler) DeleteUserSettings(c fiber.Ctx) error {
	w, err := h.auth.TryEditUser(c, auth.From(c), user.Canonical(c.Params("user")))
	if err != nil {
		return mapError(c, h.log, err)
	}
	if err := h.users.DeleteServiceSettings(c, w.Username(), c.Params("host")); err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, fiber.Map{"deleted": true})
}

// GroupSettings handles GET /services/settings/group/{id}/{host}.
func (h *ServicesHandler) GroupSettings(c fiber.Ctx) error {
	w, err := h.auth.TryViewGroup(c, auth.From(c), c.Params("id"))
	if err != nil {
		return mapError(c, h.log, err)
	}
	return c.SendString(w.Group().ServiceSettings[c.Params("host")])
}

// SetGroupSettings handles POST /services/settings/group/{id}/{host}.
func (h *ServicesHandler) SetGroupSettings(c fiber.Ctx) error {
	w, err := h.auth.TryEditGroup(c, auth.From(c), c.Params("id"))
	if err != nil {
		return mapError(c, h.log, err)
	}
	if err := h.groups.SetServiceSettings(c, w.Group().ID, c.Params("host"), string(c.Body())); err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, fiber.Map{"updated": true})
}

// DeleteGroupSettings handles DELETE /services/settings/group/{id}/{host}.
func (h *ServicesHandler) DeleteGroupSettings(c fiber.Ctx) error {
	w, err := h.auth.TryEditGroup(c, auth.From(c), c.Params("id"))
	if err != nil {
		return mapError(c, h.log, err)
	}
	if err := h.groups.DeleteServiceSettings(c, w.Group().ID, c.Params("host")); err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, fiber.Map{"deleted": true})
}

// ListAuthorized handles GET /services/hosts/authorized (admin).
func (h *ServicesHandler) ListAuthorized(c fiber.Ctx) error {
	if _, err := h.auth.TryManageHost(c, auth.From(c)); err != nil {
		return mapError(c, h.log, err)
	}
	hosts, err := h.hosts.ListAuthorized(c)
	if err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, hosts)
}

// Authorize handles POST /services/hosts/authorized (admin). The minted
// secret is returned exactly once.
func (h *ServicesHandler) Authorize(c fiber.Ctx) error {
	var body struct {
		ID         string                 `json:"id"`
		URL        string                 `json:"url"`
		Visibility servicehost.Visibility `json:"visibility"`
	}
	if err := c.Bind().Body(&body); err != nil || body.URL == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "A host url is required")
	}
	if _, err := h.auth.TryManageHost(c, auth.From(c)); err != nil {
		return mapError(c, h.log, err)
	}

	if body.ID == "" {
		body.ID = uuid.NewString()
	}
	if body.Visibility == "" {
		body.Visibility = servicehost.VisibilityPrivate
	}
	host := &servicehost.AuthorizedHost{
		ID:         body.ID,
		URL:        body.URL,
		Secret:     uuid.NewString(),
		Visibility: body.Visibility,
	}
	if err := h.hosts.Authorize(c, host); err != nil {
		return mapError(c, h.log, err)
	}
	h.log.Info().Str("host", host.ID).Msg("Services host authorized")
	return httputil.SuccessStatus(c, fiber.StatusCreated, fiber.Map{
		"id":     host.ID,
		"secret": host.Secret,
	})
}

// Revoke handles DELETE /services/hosts/authorized/{id} (admin).
func (h *ServicesHandler) Revoke(c fiber.Ctx) error {
	if _, err := h.auth.TryManageHost(c, auth.From(c)); err != nil {
		return mapError(c, h.log, err)
	}
	if err := h.hosts.Revoke(c, c.Params("id")); err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, fiber.Map{"revoked": true})
}
