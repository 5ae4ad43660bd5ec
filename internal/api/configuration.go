package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/netsblox/cloud/internal/auth"
	"github.com/netsblox/cloud/internal/httputil"
	"github.com/netsblox/cloud/internal/network"
	"github.com/netsblox/cloud/internal/servicehost"
	"github.com/netsblox/cloud/internal/user"
)

// ConfigurationHandler serves the client bootstrap endpoint.
type ConfigurationHandler struct {
	services *ServicesHandler
	users    user.Repository

	serverName string
	publicURL  string

	log zerolog.Logger
}

// NewConfigurationHandler creates the bootstrap handler.
func NewConfigurationHandler(services *ServicesHandler, users user.Repository, serverName, publicURL string, logger zerolog.Logger) *ConfigurationHandler {
	return &ConfigurationHandler{
		services:   services,
		users:      users,
		serverName: serverName,
		publicURL:  publicURL,
		log:        logger.With().Str("handler", "configuration").Logger(),
	}
}

// Get handles GET /configuration. Every editor session starts here: it
// mints the session's client ID and lists the services hosts the session
// may call.
func (h *ConfigurationHandler) Get(c fiber.Ctx) error {
	p := auth.From(c)

	var hosts []servicehost.Host
	if p.Username != "" {
		u, err := h.users.GetByUsername(c, p.Username)
		if err != nil && !errors.Is(err, user.ErrNotFound) {
			return mapError(c, h.log, err)
		}
		if u != nil {
			hosts, err = h.services.visibleHosts(c, u)
			if err != nil {
				return mapError(c, h.log, err)
			}
		}
	} else {
		var err error
		hosts, err = h.services.defaultHosts(c)
		if err != nil {
			return mapError(c, h.log, err)
		}
	}

	return httputil.Success(c, fiber.Map{
		"clientId":      network.NewClientID(),
		"username":      p.Username,
		"cloudUrl":      h.publicURL,
		"serverName":    h.serverName,
		"servicesHosts": hosts,
	})
}
