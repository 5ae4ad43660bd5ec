package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/netsblox/cloud/internal/auth"
	"github.com/netsblox/cloud/internal/httputil"
	"github.com/netsblox/cloud/internal/library"
	"github.com/netsblox/cloud/internal/user"
)

// LibraryHandler serves block-library endpoints.
type LibraryHandler struct {
	auth      *auth.Service
	libraries *library.Service
	log       zerolog.Logger
}

// NewLibraryHandler creates the library handler.
func NewLibraryHandler(authSvc *auth.Service, libraries *library.Service, logger zerolog.Logger) *LibraryHandler {
	return &LibraryHandler{
		auth:      authSvc,
		libraries: libraries,
		log:       logger.With().Str("handler", "libraries").Logger(),
	}
}

// Community handles GET /libraries/community.
func (h *LibraryHandler) Community(c fiber.Ctx) error {
	list, err := h.libraries.ListCommunity(c)
	if err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, list)
}

// Pending handles GET /libraries/community/pending: the moderation queue.
func (h *LibraryHandler) Pending(c fiber.Ctx) error {
	if _, err := h.auth.TryModerateLibrary(c, auth.From(c), nil); err != nil {
		return mapError(c, h.log, err)
	}
	list, err := h.libraries.ListPendingApproval(c)
	if err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, list)
}

// ListUser handles GET /libraries/user/{user}. Outsiders see only the
// public entries.
func (h *LibraryHandler) ListUser(c fiber.Ctx) error {
	owner := user.Canonical(c.Params("user"))
	list, err := h.libraries.ListByOwner(c, owner)
	if err != nil {
		return mapError(c, h.log, err)
	}
	if _, err := h.auth.TryEditLibrary(c, auth.From(c), owner, ""); err != nil {
		public := list[:0]
		for _, lib := range list {
			if lib.State == library.Public {
				public = append(public, lib)
			}
		}
		list = public
	}
	return httputil.Success(c, list)
}

// Get handles GET /libraries/user/{user}/{name}.
func (h *LibraryHandler) Get(c fiber.Ctx) error {
	owner := user.Canonical(c.Params("user"))
	lib, err := h.libraries.Get(c, owner, c.Params("name"))
	if err != nil {
		return mapError(c, h.log, err)
	}
	if lib.State != library.Public {
		if _, err := h.auth.TryEditLibrary(c, auth.From(c), owner, lib.Name); err != nil {
			return mapError(c, h.log, err)
		}
	}
	return httputil.Success(c, lib)
}

// Save handles POST /libraries/user/{user}/{name}.
func (h *LibraryHandler) Save(c fiber.Ctx) error {
	var body struct {
		Notes  string `json:"notes"`
		Blocks string `json:"blocks"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid request body")
	}
	w, err := h.auth.TryEditLibrary(c, auth.From(c), user.Canonical(c.Params("user")), c.Params("name"))
	if err != nil {
		return mapError(c, h.log, err)
	}
	lib, err := h.libraries.Save(c, w.Owner(), w.Name(), body.Notes, body.Blocks)
	if err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, lib)
}

// Delete handles DELETE /libraries/user/{user}/{name}.
func (h *LibraryHandler) Delete(c fiber.Ctx) error {
	w, err := h.auth.TryEditLibrary(c, auth.From(c), user.Canonical(c.Params("user")), c.Params("name"))
	if err != nil {
		return mapError(c, h.log, err)
	}
	if err := h.libraries.Delete(c, w.Owner(), w.Name()); err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, fiber.Map{"deleted": true})
}

// Publish handles POST /libraries/user/{user}/{name}/publish. The response
// says whether the library went straight to the gallery or into moderation.
func (h *LibraryHandler) Publish(c fiber.Ctx) error {
	w, err := h.auth.TryEditLibrary(c, auth.From(c), user.Canonical(c.Params("user")), c.Params("name"))
	if err != nil {
		return mapError(c, h.log, err)
	}
	state, err := h.libraries.Publish(c, w.Owner(), w.Name())
	if err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, fiber.Map{"state": state})
}

// Unpublish handles POST /libraries/user/{user}/{name}/unpublish.
func (h *LibraryHandler) Unpublish(c fiber.Ctx) error {
	w, err := h.auth.TryEditLibrary(c, auth.From(c), user.Canonical(c.Params("user")), c.Params("name"))
	if err != nil {
		return mapError(c, h.log, err)
	}
	if err := h.libraries.Unpublish(c, w.Owner(), w.Name()); err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, fiber.Map{"state": library.Private})
}

// Approve handles POST /libraries/community/{owner}/{name}/approve with an
// optional body {"approve": false} to reject.
func (h *LibraryHandler) Approve(c fiber.Ctx) error {
	body := struct {
		Approve *bool `json:"approve"`
	}{}
	if len(c.Body()) > 0 {
		if err := c.Bind().Body(&body); err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid request body")
		}
	}
	approve := body.Approve == nil || *body.Approve

	owner := user.Canonical(c.Params("owner"))
	lib, err := h.libraries.Get(c, owner, c.Params("name"))
	if err != nil {
		return mapError(c, h.log, err)
	}
	if _, err := h.auth.TryModerateLibrary(c, auth.From(c), lib); err != nil {
		return mapError(c, h.log, err)
	}
	if err := h.libraries.Moderate(c, owner, lib.Name, approve); err != nil {
		return mapError(c, h.log, err)
	}
	state := library.Private
	if approve {
		state = library.Public
	}
	return httputil.Success(c, fiber.Map{"state": state})
}
