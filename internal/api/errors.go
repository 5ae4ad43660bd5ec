package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/rs/zerolog"

	"github.com/netsblox/cloud/internal/auth"
	"github.com/netsblox/cloud/internal/friend"
	"github.com/netsblox/cloud/internal/group"
	"github.com/netsblox/cloud/internal/httputil"
	"github.com/netsblox/cloud/internal/invite"
	"github.com/netsblox/cloud/internal/library"
	"github.com/netsblox/cloud/internal/network"
	"github.com/netsblox/cloud/internal/project"
	"github.com/netsblox/cloud/internal/servicehost"
	"github.com/netsblox/cloud/internal/user"
)

// mapError converts domain sentinels to the HTTP error taxonomy. Handlers
// call it for any error they did not map themselves; anything unrecognised
// is logged with the request ID and surfaced as an opaque internal error.
func mapError(c fiber.Ctx, log zerolog.Logger, err error) error {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "Login required")
	case errors.Is(err, auth.ErrForbidden):
		return httputil.Fail(c, fiber.StatusForbidden, httputil.CodeForbidden, "Not allowed")
	case errors.Is(err, auth.ErrThrottled):
		return httputil.Fail(c, fiber.StatusTooManyRequests, httputil.CodeRateLimited, "Too many attempts, try again later")
	case errors.Is(err, auth.ErrInvalidToken):
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid or expired token")

	case errors.Is(err, user.ErrNotFound),
		errors.Is(err, group.ErrNotFound),
		errors.Is(err, project.ErrNotFound),
		errors.Is(err, project.ErrRoleNotFound),
		errors.Is(err, friend.ErrNotFound),
		errors.Is(err, library.ErrNotFound),
		errors.Is(err, invite.ErrNotFound),
		errors.Is(err, servicehost.ErrNotFound),
		errors.Is(err, network.ErrClientNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, httputil.CodeNotFound, "Not found")

	case errors.Is(err, user.ErrNotBanned):
		return httputil.Fail(c, fiber.StatusNotFound, httputil.CodeNotFound, "Account is not banned")

	case errors.Is(err, user.ErrAlreadyExists),
		errors.Is(err, user.ErrBanned),
		errors.Is(err, group.ErrAlreadyExists),
		errors.Is(err, friend.ErrAlreadyExists),
		errors.Is(err, invite.ErrAlreadyExists),
		errors.Is(err, servicehost.ErrAlreadyExists):
		return httputil.Fail(c, fiber.StatusConflict, httputil.CodeConflict, err.Error())

	case errors.Is(err, friend.ErrBlocked):
		return httputil.Fail(c, fiber.StatusForbidden, httputil.CodeForbidden, "User is not accepting invites")

	case errors.Is(err, project.ErrStaleWrite):
		return httputil.Fail(c, fiber.StatusPreconditionFailed, httputil.CodePreconditionFailed, "Project was modified concurrently, retry")
	case errors.Is(err, project.ErrLastRole):
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Cannot delete the last role")

	case errors.Is(err, network.ErrRoleFetchTimeout), errors.Is(err, network.ErrRoleVacant):
		return httputil.Fail(c, fiber.StatusGatewayTimeout, httputil.CodeRoleFetchTimeout, "No occupant answered in time")
	case errors.Is(err, network.ErrClientGone):
		return httputil.Fail(c, fiber.StatusGone, httputil.CodeClientGone, "Client disconnected")

	default:
		reqID := requestid.FromContext(c)
		log.Error().Err(err).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Str("requestId", reqID).
			Msg("Unhandled error")
		return httputil.FailInternal(c, reqID)
	}
}
