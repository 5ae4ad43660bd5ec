package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/netsblox/cloud/internal/auth"
	"github.com/netsblox/cloud/internal/email"
	"github.com/netsblox/cloud/internal/filter"
	"github.com/netsblox/cloud/internal/friend"
	"github.com/netsblox/cloud/internal/httputil"
	"github.com/netsblox/cloud/internal/metrics"
	"github.com/netsblox/cloud/internal/network"
	"github.com/netsblox/cloud/internal/user"
)

// UserHandler serves account endpoints.
type UserHandler struct {
	auth      *auth.Service
	users     user.Repository
	friends   *friend.Service
	topology  *network.Topology
	tokens    *auth.ResetTokens
	mailer    email.Mailer
	profanity filter.Text

	loginThrottle *auth.Throttle
	resetThrottle *auth.Throttle

	sessionSecret string
	sessionTTL    time.Duration
	publicURL     string

	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewUserHandler creates the account handler.
func NewUserHandler(
	authSvc *auth.Service,
	users user.Repository,
	friends *friend.Service,
	topology *network.Topology,
	tokens *auth.ResetTokens,
	mailer email.Mailer,
	profanity filter.Text,
	loginThrottle, resetThrottle *auth.Throttle,
	sessionSecret string,
	sessionTTL time.Duration,
	publicURL string,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *UserHandler {
	return &UserHandler{
		auth:          authSvc,
		users:         users,
		friends:       friends,
		topology:      topology,
		tokens:        tokens,
		mailer:        mailer,
		profanity:     profanity,
		loginThrottle: loginThrottle,
		resetThrottle: resetThrottle,
		sessionSecret: sessionSecret,
		sessionTTL:    sessionTTL,
		publicURL:     publicURL,
		metrics:       m,
		log:           logger.With().Str("handler", "users").Logger(),
	}
}

// Create handles POST /users/create. The password arrives pre-hashed by the
// client; the server adds the per-account salt.
func (h *UserHandler) Create(c fiber.Ctx) error {
	var body struct {
		Username string  `json:"username"`
		Email    string  `json:"email"`
		Password string  `json:"password"`
		GroupID  *string `json:"groupId,omitempty"`
		Role     string  `json:"role,omitempty"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid request body")
	}

	username := user.Canonical(body.Username)
	if !user.ValidUsername(username) || h.profanity.IsInappropriate(username) {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid username")
	}
	if body.Email == "" || body.Password == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Email and password are required")
	}

	if err := h.loginThrottle.Allow(c, "signup:"+c.IP()); err != nil {
		return mapError(c, h.log, err)
	}

	role := user.RoleUser
	p := auth.From(c)
	if body.Role != "" {
		// Only admins mint privileged accounts.
		if _, err := h.auth.TryAdmin(c, p); err != nil {
			return mapError(c, h.log, err)
		}
		role = user.Role(body.Role)
	}
	if body.GroupID != nil {
		// Creating a member account requires control of the group.
		if _, err := h.auth.TryEditGroup(c, p, *body.GroupID); err != nil {
			return mapError(c, h.log, err)
		}
	}

	salt, err := auth.NewSalt()
	if err != nil {
		return mapError(c, h.log, err)
	}
	created, err := h.users.Create(c, user.CreateParams{
		Username: username,
		Email:    body.Email,
		Hash:     auth.HashPassword(body.Password, salt),
		Salt:     salt,
		Role:     role,
		GroupID:  body.GroupID,
	})
	if err != nil {
		return mapError(c, h.log, err)
	}

	h.metrics.AccountsCreated.Inc()
	h.log.Info().Str("username", created.Username).Msg("Account created")
	return httputil.SuccessStatus(c, fiber.StatusCreated, created)
}

// Login handles POST /users/login. Successful logins set the session cookie.
func (h *UserHandler) Login(c fiber.Ctx) error {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid request body")
	}

	username := user.Canonical(body.Username)
	throttleKey := "login:" + username + ":" + c.IP()
	if err := h.loginThrottle.Allow(c, throttleKey); err != nil {
		return mapError(c, h.log, err)
	}

	u, err := h.users.GetByUsername(c, username)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "Invalid credentials")
		}
		return mapError(c, h.log, err)
	}
	if !auth.VerifyPassword(body.Password, u.Salt, u.Hash) {
		return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "Invalid credentials")
	}

	token, err := auth.NewSessionToken(u.Username, h.sessionSecret, h.sessionTTL)
	if err != nil {
		return mapError(c, h.log, err)
	}
	_ = h.loginThrottle.Reset(c, throttleKey)
	h.setSessionCookie(c, token, h.sessionTTL)

	h.metrics.Logins.Inc()
	return httputil.Success(c, u)
}

// Logout handles POST /users/logout.
func (h *UserHandler) Logout(c fiber.Ctx) error {
	h.setSessionCookie(c, "", -time.Hour)
	return httputil.Success(c, fiber.Map{"loggedOut": true})
}

// WhoAmI handles GET /users/whoami.
func (h *UserHandler) WhoAmI(c fiber.Ctx) error {
	p := auth.From(c)
	if p.Username == "" {
		return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "Login required")
	}
	return httputil.Success(c, fiber.Map{"username": p.Username, "role": p.Role})
}

// List handles GET /users (admin only).
func (h *UserHandler) List(c fiber.Ctx) error {
	if _, err := h.auth.TryAdmin(c, auth.From(c)); err != nil {
		return mapError(c, h.log, err)
	}
	users, err := h.users.List(c)
	if err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, users)
}

// Get handles GET /users/{name}.
func (h *UserHandler) Get(c fiber.Ctx) error {
	w, err := h.auth.TryViewUser(c, auth.From(c), user.Canonical(c.Params("name")))
	if err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, w.User())
}

// Delete handles POST /users/{name}/delete. Live sessions of the account are
// closed and its friend links removed.
func (h *UserHandler) Delete(c fiber.Ctx) error {
	w, err := h.auth.TryEditUser(c, auth.From(c), user.Canonical(c.Params("name")))
	if err != nil {
		return mapError(c, h.log, err)
	}
	if err := h.users.Delete(c, w.Username()); err != nil {
		return mapError(c, h.log, err)
	}
	if err := h.friends.Purge(c, w.Username()); err != nil {
		return mapError(c, h.log, err)
	}
	h.topology.DisconnectUser(c, w.Username())
	h.log.Info().Str("username", w.Username()).Msg("Account deleted")
	return httputil.Success(c, fiber.Map{"deleted": true})
}

// SetPassword handles POST /users/{name}/password. Three shapes share the
// route:
//   - empty body: mail a one-time reset token (throttled);
//   - {password, token}: redeem the token and set the password;
//   - {password} with a session: ordinary password change.
func (h *UserHandler) SetPassword(c fiber.Ctx) error {
	username := user.Canonical(c.Params("name"))
	var body struct {
		Password string `json:"password"`
		Token    string `json:"token"`
	}
	if len(c.Body()) > 0 {
		if err := c.Bind().Body(&body); err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid request body")
		}
	}

	if body.Password == "" {
		return h.requestReset(c, username)
	}

	if body.Token != "" {
		if err := h.tokens.Redeem(c, username, body.Token); err != nil {
			return mapError(c, h.log, err)
		}
	} else {
		if _, err := h.auth.TryEditUser(c, auth.From(c), username); err != nil {
			return mapError(c, h.log, err)
		}
	}

	salt, err := auth.NewSalt()
	if err != nil {
		return mapError(c, h.log, err)
	}
	if err := h.users.SetPassword(c, username, auth.HashPassword(body.Password, salt), salt); err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, fiber.Map{"updated": true})
}

// requestReset issues a reset token and mails it. The response does not
// reveal whether the account exists.
func (h *UserHandler) requestReset(c fiber.Ctx, username string) error {
	if err := h.resetThrottle.Allow(c, "reset:"+username); err != nil {
		return mapError(c, h.log, err)
	}

	u, err := h.users.GetByUsername(c, username)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return httputil.Success(c, fiber.Map{"sent": true})
		}
		return mapError(c, h.log, err)
	}

	token, err := h.tokens.Issue(c, u.Username)
	if err != nil {
		return mapError(c, h.log, err)
	}
	if err := h.mailer.SendPasswordReset(u.Email, u.Username, token, h.publicURL); err != nil {
		h.log.Warn().Err(err).Str("username", u.Username).Msg("Failed to send reset email")
	}
	return httputil.Success(c, fiber.Map{"sent": true})
}

// Ban handles POST /users/{name}/ban. The account record moves to the banned
// list and its live sessions are closed.
func (h *UserHandler) Ban(c fiber.Ctx) error {
	w, err := h.auth.TryBanUser(c, auth.From(c), user.Canonical(c.Params("name")))
	if err != nil {
		return mapError(c, h.log, err)
	}
	banned, err := h.users.Ban(c, w.Username())
	if err != nil {
		return mapError(c, h.log, err)
	}
	h.topology.DisconnectUser(c, w.Username())
	h.log.Info().Str("username", w.Username()).Msg("Account banned")
	return httputil.Success(c, banned)
}

// Unban handles POST /users/{name}/unban.
func (h *UserHandler) Unban(c fiber.Ctx) error {
	w, err := h.auth.TryBanUser(c, auth.From(c), c.Params("name"))
	if err != nil && !errors.Is(err, user.ErrNotFound) {
		return mapError(c, h.log, err)
	}
	// The account record is gone while banned, so the witness lookup can
	// miss; moderators unban by name.
	username := user.Canonical(c.Params("name"))
	if err == nil {
		username = w.Username()
	} else if p := auth.From(c); !p.Role.IsPrivileged() {
		return mapError(c, h.log, auth.ErrForbidden)
	}
	if err := h.users.Unban(c, username); err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, fiber.Map{"unbanned": true})
}

// Link handles POST /users/{name}/link.
func (h *UserHandler) Link(c fiber.Ctx) error {
	var body user.LinkedAccount
	if err := c.Bind().Body(&body); err != nil || body.Strategy == "" || body.ID == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid request body")
	}
	w, err := h.auth.TryEditUser(c, auth.From(c), user.Canonical(c.Params("name")))
	if err != nil {
		return mapError(c, h.log, err)
	}
	if err := h.users.AddLinkedAccount(c, w.Username(), body); err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, fiber.Map{"linked": true})
}

// Unlink handles DELETE /users/{name}/link/{strategy}/{id}.
func (h *UserHandler) Unlink(c fiber.Ctx) error {
	w, err := h.auth.TryEditUser(c, auth.From(c), user.Canonical(c.Params("name")))
	if err != nil {
		return mapError(c, h.log, err)
	}
	account := user.LinkedAccount{Strategy: c.Params("strategy"), ID: c.Params("id")}
	if err := h.users.RemoveLinkedAccount(c, w.Username(), account); err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, fiber.Map{"unlinked": true})
}

func (h *UserHandler) setSessionCookie(c fiber.Ctx, token string, ttl time.Duration) {
	c.Cookie(&fiber.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}
