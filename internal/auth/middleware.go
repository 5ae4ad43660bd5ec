package auth

import (
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/netsblox/cloud/internal/httputil"
	"github.com/netsblox/cloud/internal/servicehost"
	"github.com/netsblox/cloud/internal/user"
)

// principalKey is the Locals slot the middleware fills.
const principalKey = "principal"

// Middleware resolves the request's Principal from, in order: the session
// cookie (or Bearer token), then the X-Authorization services-host secret.
// It never rejects on its own; handlers that need credentials use the Try*
// constructors, so public routes stay cheap.
func Middleware(secret string, users user.Repository, hosts servicehost.Repository) fiber.Handler {
	return func(c fiber.Ctx) error {
		if p, ok := sessionPrincipal(c, secret, users); ok {
			c.Locals(principalKey, p)
		} else if p, ok := hostPrincipal(c, hosts); ok {
			c.Locals(principalKey, p)
		}
		return c.Next()
	}
}

// From returns the Principal resolved by Middleware, zero when anonymous.
func From(c fiber.Ctx) Principal {
	if p, ok := c.Locals(principalKey).(Principal); ok {
		return p
	}
	return Principal{}
}

// Require rejects anonymous requests. Use after Middleware on routes whose
// handlers assume a logged-in user before any witness check.
func Require() fiber.Handler {
	return func(c fiber.Ctx) error {
		if From(c).Username == "" && !From(c).IsHost() {
			return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "Login required")
		}
		return c.Next()
	}
}

func sessionPrincipal(c fiber.Ctx, secret string, users user.Repository) (Principal, bool) {
	token := c.Cookies(CookieName)
	if token == "" {
		header := c.Get("Authorization")
		const prefix = "Bearer "
		if strings.HasPrefix(header, prefix) {
			token = header[len(prefix):]
		}
	}
	if token == "" {
		return Principal{}, false
	}

	username, err := ValidateSessionToken(token, secret)
	if err != nil {
		return Principal{}, false
	}
	// Sessions outlive account changes; re-read the role and drop sessions
	// of deleted or banned accounts.
	u, err := users.GetByUsername(c, username)
	if err != nil {
		return Principal{}, false
	}
	return Principal{Username: u.Username, Role: u.Role}, true
}

func hostPrincipal(c fiber.Ctx, hosts servicehost.Repository) (Principal, bool) {
	header := c.Get("X-Authorization")
	if header == "" {
		return Principal{}, false
	}
	// Header is "<hostID>:<secret>".
	id, secret, ok := strings.Cut(header, ":")
	if !ok {
		return Principal{}, false
	}
	host, err := hosts.GetAuthorized(c, id)
	if err != nil || host.Secret != secret {
		return Principal{}, false
	}
	return Principal{HostID: host.ID}, true
}
