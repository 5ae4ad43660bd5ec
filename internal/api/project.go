package api

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/netsblox/cloud/internal/auth"
	"github.com/netsblox/cloud/internal/filter"
	"github.com/netsblox/cloud/internal/httputil"
	"github.com/netsblox/cloud/internal/invite"
	"github.com/netsblox/cloud/internal/network"
	"github.com/netsblox/cloud/internal/project"
	"github.com/netsblox/cloud/internal/user"
)

// ProjectHandler serves project metadata and content endpoints.
type ProjectHandler struct {
	auth     *auth.Service
	projects *project.Service
	invites  invite.Repository
	topology *network.Topology
	approval filter.Text

	roleFetchTimeout time.Duration

	log zerolog.Logger
}

// NewProjectHandler creates the project handler.
func NewProjectHandler(
	authSvc *auth.Service,
	projects *project.Service,
	invites invite.Repository,
	topology *network.Topology,
	approval filter.Text,
	roleFetchTimeout time.Duration,
	logger zerolog.Logger,
) *ProjectHandler {
	return &ProjectHandler{
		auth:             authSvc,
		projects:         projects,
		invites:          invites,
		topology:         topology,
		approval:         approval,
		roleFetchTimeout: roleFetchTimeout,
		log:              logger.With().Str("handler", "projects").Logger(),
	}
}

// Create handles POST /projects. Anonymous clients own their scratch
// projects through their generated client ID, so opening the editor never
// requires an account.
func (h *ProjectHandler) Create(c fiber.Ctx) error {
	var body struct {
		Name      string             `json:"name"`
		ClientID  string             `json:"clientId"`
		Roles     []project.RoleData `json:"roles"`
		SaveState project.SaveState  `json:"saveState"`
	}
	if len(c.Body()) > 0 {
		if err := c.Bind().Body(&body); err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid request body")
		}
	}

	owner := auth.From(c).Username
	if owner == "" {
		if !network.ValidClientID(body.ClientID) {
			return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "A clientId is required for anonymous projects")
		}
		owner = body.ClientID
	}
	state := body.SaveState
	if state == "" {
		state = project.Created
	}

	meta, err := h.projects.Create(c, owner, body.Name, body.Roles, state)
	if err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, meta)
}

// Get handles GET /projects/id/{id}.
func (h *ProjectHandler) Get(c fiber.Ctx) error {
	w, err := h.viewWitness(c)
	if err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, w.Metadata())
}

// ListOwn handles GET /projects/user/{owner}.
func (h *ProjectHandler) ListOwn(c fiber.Ctx) error {
	owner := user.Canonical(c.Params("owner"))
	if _, err := h.auth.TryViewUser(c, auth.From(c), owner); err != nil {
		return mapError(c, h.log, err)
	}
	list, err := h.projects.Repo().ListByOwner(c, owner)
	if err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, list)
}

// ListShared handles GET /projects/shared/{user}.
func (h *ProjectHandler) ListShared(c fiber.Ctx) error {
	username := user.Canonical(c.Params("user"))
	if _, err := h.auth.TryViewUser(c, auth.From(c), username); err != nil {
		return mapError(c, h.log, err)
	}
	list, err := h.projects.Repo().ListSharedWith(c, username)
	if err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, list)
}

// ListCommunity handles GET /projects/community: the public gallery.
func (h *ProjectHandler) ListCommunity(c fiber.Ctx) error {
	list, err := h.projects.Repo().ListPublic(c)
	if err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, list)
}

// Update handles PATCH /projects/id/{id}: rename, publish-state change, and
// save-state change share the route.
func (h *ProjectHandler) Update(c fiber.Ctx) error {
	var body struct {
		Name      *string               `json:"name,omitempty"`
		State     *project.PublishState `json:"state,omitempty"`
		SaveState *project.SaveState    `json:"saveState,omitempty"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid request body")
	}

	w, err := h.editWitness(c)
	if err != nil {
		return mapError(c, h.log, err)
	}
	meta := w.Metadata()

	result := fiber.Map{}
	if body.Name != nil {
		if !project.ValidName(*body.Name) {
			return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid project name")
		}
		stored, err := h.projects.Repo().Rename(c, meta.ID, *body.Name)
		if err != nil {
			return mapError(c, h.log, err)
		}
		h.topology.InvalidateProject(c, meta.ID)
		result["name"] = stored
	}

	if body.State != nil {
		state := *body.State
		// Publishing content that trips the text filter goes to the
		// moderation queue instead.
		if state == project.Public && h.approval.IsInappropriate(meta.Name) {
			state = project.PendingApproval
		}
		if err := h.projects.Repo().SetPublishState(c, meta.ID, state); err != nil {
			return mapError(c, h.log, err)
		}
		result["state"] = state
	}

	if body.SaveState != nil {
		switch *body.SaveState {
		case project.Saved:
			if err := h.projects.Persist(c, meta.ID); err != nil {
				return mapError(c, h.log, err)
			}
		case project.Created:
			if err := h.projects.Reopen(c, meta.ID); err != nil {
				return mapError(c, h.log, err)
			}
		default:
			return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "saveState must be \"saved\" or \"created\"")
		}
		result["saveState"] = *body.SaveState
	}

	return httputil.Success(c, result)
}

// Delete handles DELETE /projects/id/{id}.
func (h *ProjectHandler) Delete(c fiber.Ctx) error {
	meta, err := h.projects.Repo().Get(c, c.Params("id"))
	if err != nil {
		return mapError(c, h.log, err)
	}
	if _, err := h.auth.TryDeleteProject(c, h.principalOrOwner(c, meta), meta); err != nil {
		return mapError(c, h.log, err)
	}
	if err := h.projects.Delete(c, meta.ID); err != nil {
		return mapError(c, h.log, err)
	}
	if err := h.invites.DeleteProjectCollaborations(c, meta.ID); err != nil {
		h.log.Warn().Err(err).Str("project", meta.ID).Msg("Failed to clear collaboration invites")
	}
	h.log.Info().Str("project", meta.ID).Msg("Project deleted")
	return httputil.Success(c, fiber.Map{"deleted": true})
}

// Latest handles GET /projects/id/{id}/latest. Occupied roles answer with
// their live content; vacant roles fall back to the stored blobs.
func (h *ProjectHandler) Latest(c fiber.Ctx) error {
	w, err := h.viewWitness(c)
	if err != nil {
		return mapError(c, h.log, err)
	}
	meta := w.Metadata()

	roles := make(map[string]any, len(meta.Roles))
	for roleID := range meta.Roles {
		data, err := h.roleContent(c, meta, roleID)
		if err != nil {
			return mapError(c, h.log, err)
		}
		roles[roleID] = data
	}
	return httputil.Success(c, fiber.Map{
		"id":    meta.ID,
		"name":  meta.Name,
		"owner": meta.Owner,
		"roles": roles,
	})
}

// RoleLatest handles GET /projects/id/{id}/{roleId}/latest.
func (h *ProjectHandler) RoleLatest(c fiber.Ctx) error {
	w, err := h.viewWitness(c)
	if err != nil {
		return mapError(c, h.log, err)
	}
	data, err := h.roleContent(c, w.Metadata(), c.Params("roleId"))
	if err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, data)
}

// roleContent prefers a live snapshot from an occupant over the stored blobs.
func (h *ProjectHandler) roleContent(c fiber.Ctx, meta *project.Metadata, roleID string) (any, error) {
	if _, ok := meta.Roles[roleID]; !ok {
		return nil, project.ErrRoleNotFound
	}
	if len(h.topology.Occupants(meta.ID, roleID)) > 0 {
		data, err := h.topology.FetchRoleData(c, meta.ID, roleID, h.roleFetchTimeout)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, network.ErrRoleVacant) && !errors.Is(err, network.ErrClientGone) {
			return nil, err
		}
		// The occupant vanished mid-request; the stored copy still serves.
	}
	return h.projects.GetRoleData(c, meta, roleID)
}

// SaveRole handles POST /projects/id/{id}/{roleId}.
func (h *ProjectHandler) SaveRole(c fiber.Ctx) error {
	var body project.RoleData
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid request body")
	}
	w, err := h.editWitness(c)
	if err != nil {
		return mapError(c, h.log, err)
	}
	if err := h.projects.SaveRole(c, w.Metadata().ID, c.Params("roleId"), body); err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, fiber.Map{"saved": true})
}

// AddRole handles POST /projects/id/{id}/roles.
func (h *ProjectHandler) AddRole(c fiber.Ctx) error {
	var body project.RoleData
	if err := c.Bind().Body(&body); err != nil || body.Name == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Role name is required")
	}
	w, err := h.editWitness(c)
	if err != nil {
		return mapError(c, h.log, err)
	}
	roleID, err := h.projects.AddRole(c, w.Metadata().ID, body)
	if err != nil {
		return mapError(c, h.log, err)
	}
	h.topology.InvalidateProject(c, w.Metadata().ID)
	return httputil.SuccessStatus(c, fiber.StatusCreated, fiber.Map{"roleId": roleID})
}

// RenameRole handles PATCH /projects/id/{id}/{roleId}.
func (h *ProjectHandler) RenameRole(c fiber.Ctx) error {
	var body struct {
		Name string `json:"name"`
	}
	if err := c.Bind().Body(&body); err != nil || body.Name == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Role name is required")
	}
	w, err := h.editWitness(c)
	if err != nil {
		return mapError(c, h.log, err)
	}
	if err := h.projects.Repo().RenameRole(c, w.Metadata().ID, c.Params("roleId"), body.Name); err != nil {
		return mapError(c, h.log, err)
	}
	h.topology.InvalidateProject(c, w.Metadata().ID)
	return httputil.Success(c, fiber.Map{"renamed": true})
}

// RemoveRole handles DELETE /projects/id/{id}/{roleId}.
func (h *ProjectHandler) RemoveRole(c fiber.Ctx) error {
	w, err := h.editWitness(c)
	if err != nil {
		return mapError(c, h.log, err)
	}
	meta := w.Metadata()
	if len(meta.Roles) <= 1 {
		return mapError(c, h.log, project.ErrLastRole)
	}
	if err := h.projects.RemoveRole(c, meta.ID, c.Params("roleId")); err != nil {
		return mapError(c, h.log, err)
	}
	h.topology.InvalidateProject(c, meta.ID)
	return httputil.Success(c, fiber.Map{"removed": true})
}

// Thumbnail handles GET /projects/id/{id}/thumbnail?aspectRatio=.
func (h *ProjectHandler) Thumbnail(c fiber.Ctx) error {
	w, err := h.viewWitness(c)
	if err != nil {
		return mapError(c, h.log, err)
	}
	meta := w.Metadata()

	ratio := 0.0
	if raw := c.Query("aspectRatio"); raw != "" {
		ratio, err = strconv.ParseFloat(raw, 64)
		if err != nil || ratio <= 0 {
			return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "aspectRatio must be a positive number")
		}
	}

	// The first role carrying a thumbnail wins.
	for roleID := range meta.Roles {
		data, err := h.projects.GetRoleData(c, meta, roleID)
		if err != nil {
			continue
		}
		png, err := project.Thumbnail(data.Code, ratio)
		if errors.Is(err, project.ErrNoThumbnail) {
			continue
		}
		if err != nil {
			return mapError(c, h.log, err)
		}
		c.Set(fiber.HeaderContentType, "image/png")
		return c.Send(png)
	}
	return httputil.Fail(c, fiber.StatusNotFound, httputil.CodeNotFound, "Project has no thumbnail")
}

// InviteCollaborator handles POST /projects/id/{id}/collaborators/invite/{user}.
func (h *ProjectHandler) InviteCollaborator(c fiber.Ctx) error {
	w, err := h.editWitness(c)
	if err != nil {
		return mapError(c, h.log, err)
	}
	receiver := user.Canonical(c.Params("user"))
	inv, err := h.invites.CreateCollaboration(c, auth.From(c).Username, receiver, w.Metadata().ID)
	if err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, inv)
}

// ListCollaborationInvites handles GET /projects/collaboration-invites/{user}.
func (h *ProjectHandler) ListCollaborationInvites(c fiber.Ctx) error {
	username := user.Canonical(c.Params("user"))
	if _, err := h.auth.TryViewUser(c, auth.From(c), username); err != nil {
		return mapError(c, h.log, err)
	}
	list, err := h.invites.ListCollaborations(c, username)
	if err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, list)
}

// RespondCollaborationInvite handles POST /projects/collaboration-invites/{id}.
// Acceptance adds the receiver to the collaborator list; either answer
// consumes the invite.
func (h *ProjectHandler) RespondCollaborationInvite(c fiber.Ctx) error {
	var body struct {
		State invite.CollaborationState `json:"state"`
	}
	if err := c.Bind().Body(&body); err != nil ||
		(body.State != invite.CollaborationAccepted && body.State != invite.CollaborationRejected) {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "state must be \"accepted\" or \"rejected\"")
	}

	inv, err := h.invites.GetCollaboration(c, c.Params("id"))
	if err != nil {
		return mapError(c, h.log, err)
	}
	p := auth.From(c)
	if p.Username != inv.Receiver && !p.Role.IsPrivileged() {
		return mapError(c, h.log, auth.ErrForbidden)
	}

	answered, err := h.invites.RespondCollaboration(c, inv.ID, body.State)
	if err != nil {
		return mapError(c, h.log, err)
	}
	if body.State == invite.CollaborationAccepted {
		if err := h.projects.Repo().AddCollaborator(c, inv.ProjectID, inv.Receiver); err != nil {
			return mapError(c, h.log, err)
		}
		h.topology.InvalidateProject(c, inv.ProjectID)
	}
	return httputil.Success(c, answered)
}

// ListCollaborators handles GET /projects/id/{id}/collaborators.
func (h *ProjectHandler) ListCollaborators(c fiber.Ctx) error {
	w, err := h.viewWitness(c)
	if err != nil {
		return mapError(c, h.log, err)
	}
	return httputil.Success(c, w.Metadata().Collaborators)
}

// RemoveCollaborator handles DELETE /projects/id/{id}/collaborators/{user}.
func (h *ProjectHandler) RemoveCollaborator(c fiber.Ctx) error {
	w, err := h.editWitness(c)
	if err != nil {
		return mapError(c, h.log, err)
	}
	if err := h.projects.Repo().RemoveCollaborator(c, w.Metadata().ID, user.Canonical(c.Params("user"))); err != nil {
		return mapError(c, h.log, err)
	}
	h.topology.InvalidateProject(c, w.Metadata().ID)
	return httputil.Success(c, fiber.Map{"removed": true})
}

func (h *ProjectHandler) viewWitness(c fiber.Ctx) (auth.ViewProject, error) {
	meta, err := h.projects.Repo().Get(c, c.Params("id"))
	if err != nil {
		return auth.ViewProject{}, err
	}
	return h.auth.TryViewProject(c, h.principalOrOwner(c, meta), meta)
}

func (h *ProjectHandler) editWitness(c fiber.Ctx) (auth.EditProject, error) {
	meta, err := h.projects.Repo().Get(c, c.Params("id"))
	if err != nil {
		return auth.EditProject{}, err
	}
	return h.auth.TryEditProject(c, h.principalOrOwner(c, meta), meta)
}

// principalOrOwner lets an anonymous client act on the scratch projects it
// owns through its client ID (passed as the clientId query parameter).
func (h *ProjectHandler) principalOrOwner(c fiber.Ctx, meta *project.Metadata) auth.Principal {
	p := auth.From(c)
	if p.Username == "" && !p.IsHost() {
		if clientID := c.Query("clientId"); network.ValidClientID(clientID) && clientID == meta.Owner {
			p.Username = clientID
		}
	}
	return p
}
