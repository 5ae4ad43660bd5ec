package auth

import (
	"context"
	"errors"

	"github.com/netsblox/cloud/internal/group"
	"github.com/netsblox/cloud/internal/library"
	"github.com/netsblox/cloud/internal/project"
	"github.com/netsblox/cloud/internal/user"
)

var (
	// ErrUnauthorized means no valid credentials accompanied the request.
	ErrUnauthorized = errors.New("not authenticated")
	// ErrForbidden means the credentials do not cover the attempted action.
	ErrForbidden = errors.New("not allowed")
)

// Principal is the authenticated caller: a logged-in user, or a services
// host that presented its shared secret (HostID set, Username empty).
type Principal struct {
	Username string
	Role     user.Role
	HostID   string
}

// IsHost reports whether the principal is an authorized services host.
func (p Principal) IsHost() bool { return p.HostID != "" }

// Service issues witnesses. All policy decisions concentrate here.
type Service struct {
	users  user.Repository
	groups group.Repository
}

// NewService creates the authorization service.
func NewService(users user.Repository, groups group.Repository) *Service {
	return &Service{users: users, groups: groups}
}

// TryViewProject allows owners, collaborators, moderators, service hosts,
// and anyone at all when the project is public.
func (s *Service) TryViewProject(ctx context.Context, p Principal, meta *project.Metadata) (ViewProject, error) {
	if meta.State == project.Public {
		return ViewProject{metadata: meta}, nil
	}
	if p.IsHost() || s.canEditProject(ctx, p, meta) {
		return ViewProject{metadata: meta}, nil
	}
	return ViewProject{}, s.denied(p)
}

// TryEditProject allows owners, collaborators, moderators, and the owner's
// group teacher.
func (s *Service) TryEditProject(ctx context.Context, p Principal, meta *project.Metadata) (EditProject, error) {
	if s.canEditProject(ctx, p, meta) {
		return EditProject{metadata: meta}, nil
	}
	return EditProject{}, s.denied(p)
}

// TryDeleteProject allows owners, moderators, and the owner's group teacher.
// Collaborators may edit but not delete.
func (s *Service) TryDeleteProject(ctx context.Context, p Principal, meta *project.Metadata) (DeleteProject, error) {
	if p.Username == meta.Owner || p.Role.IsPrivileged() || s.ownsGroupOf(ctx, p, meta.Owner) {
		return DeleteProject{metadata: meta}, nil
	}
	return DeleteProject{}, s.denied(p)
}

// TryViewUser allows the account holder, moderators, service hosts, and the
// account's group teacher.
func (s *Service) TryViewUser(ctx context.Context, p Principal, username string) (ViewUser, error) {
	target, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return ViewUser{}, err
	}
	if p.IsHost() || s.canEditUser(ctx, p, target) {
		return ViewUser{user: target}, nil
	}
	return ViewUser{}, s.denied(p)
}

// TryEditUser allows the account holder, moderators, and the account's
// group teacher.
func (s *Service) TryEditUser(ctx context.Context, p Principal, username string) (EditUser, error) {
	target, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return EditUser{}, err
	}
	if s.canEditUser(ctx, p, target) {
		return EditUser{username: target.Username}, nil
	}
	return EditUser{}, s.denied(p)
}

// TryBanUser allows moderators to ban ordinary users; banning a privileged
// account takes an admin.
func (s *Service) TryBanUser(ctx context.Context, p Principal, username string) (BanUser, error) {
	target, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return BanUser{}, err
	}
	if p.Role == user.RoleAdmin {
		return BanUser{username: target.Username}, nil
	}
	if p.Role == user.RoleModerator && !target.Role.IsPrivileged() {
		return BanUser{username: target.Username}, nil
	}
	return BanUser{}, s.denied(p)
}

// TryViewGroup allows the owner and moderators.
func (s *Service) TryViewGroup(ctx context.Context, p Principal, groupID string) (ViewGroup, error) {
	g, err := s.groups.Get(ctx, groupID)
	if err != nil {
		return ViewGroup{}, err
	}
	if p.Username == g.Owner || p.Role.IsPrivileged() {
		return ViewGroup{group: g}, nil
	}
	return ViewGroup{}, s.denied(p)
}

// TryEditGroup allows the owner and moderators.
func (s *Service) TryEditGroup(ctx context.Context, p Principal, groupID string) (EditGroup, error) {
	g, err := s.groups.Get(ctx, groupID)
	if err != nil {
		return EditGroup{}, err
	}
	if p.Username == g.Owner || p.Role.IsPrivileged() {
		return EditGroup{group: g}, nil
	}
	return EditGroup{}, s.denied(p)
}

// TryEditLibrary allows the owner and moderators.
func (s *Service) TryEditLibrary(ctx context.Context, p Principal, owner, name string) (EditLibrary, error) {
	if p.Username == owner || p.Role.IsPrivileged() {
		return EditLibrary{owner: owner, name: name}, nil
	}
	return EditLibrary{}, s.denied(p)
}

// TryModerateLibrary allows moderators to act on the approval queue.
func (s *Service) TryModerateLibrary(ctx context.Context, p Principal, lib *library.Library) (ModerateLibrary, error) {
	if p.Role.IsPrivileged() {
		return ModerateLibrary{library: lib}, nil
	}
	return ModerateLibrary{}, s.denied(p)
}

// TryManageHost allows admins to manage global registrations; users and
// group owners manage their own host lists through TryEditUser/TryEditGroup.
func (s *Service) TryManageHost(ctx context.Context, p Principal) (ManageHost, error) {
	if p.Role == user.RoleAdmin {
		return ManageHost{}, nil
	}
	return ManageHost{}, s.denied(p)
}

// TrySendMessage allows authorized hosts and moderators to inject overlay
// messages with a server-asserted sender.
func (s *Service) TrySendMessage(ctx context.Context, p Principal, sender string) (SendMessage, error) {
	if p.IsHost() || p.Role.IsPrivileged() {
		return SendMessage{sender: sender}, nil
	}
	if p.Username != "" && p.Username == sender {
		return SendMessage{sender: sender}, nil
	}
	return SendMessage{}, s.denied(p)
}

// TryEvictClient allows the project owner, collaborators, and moderators to
// evict an occupant; users may always evict their own clients.
func (s *Service) TryEvictClient(ctx context.Context, p Principal, clientID, clientUsername string, meta *project.Metadata) (EvictClient, error) {
	if p.Username != "" && p.Username == clientUsername {
		return EvictClient{clientID: clientID}, nil
	}
	if meta != nil && s.canEditProject(ctx, p, meta) {
		return EvictClient{clientID: clientID}, nil
	}
	return EvictClient{}, s.denied(p)
}

// TryAdmin allows admins only.
func (s *Service) TryAdmin(ctx context.Context, p Principal) (Admin, error) {
	if p.Role == user.RoleAdmin {
		return Admin{username: p.Username}, nil
	}
	return Admin{}, s.denied(p)
}

func (s *Service) canEditProject(ctx context.Context, p Principal, meta *project.Metadata) bool {
	if p.Username == "" {
		return false
	}
	if p.Username == meta.Owner || p.Role.IsPrivileged() || meta.HasCollaborator(p.Username) {
		return true
	}
	return s.ownsGroupOf(ctx, p, meta.Owner)
}

func (s *Service) canEditUser(ctx context.Context, p Principal, target *user.User) bool {
	if p.Username == "" {
		return false
	}
	if p.Username == target.Username || p.Role.IsPrivileged() {
		return true
	}
	if target.GroupID != nil {
		if g, err := s.groups.Get(ctx, *target.GroupID); err == nil && g.Owner == p.Username {
			return true
		}
	}
	return false
}

// ownsGroupOf reports whether p owns the group that username belongs to.
func (s *Service) ownsGroupOf(ctx context.Context, p Principal, username string) bool {
	if p.Username == "" {
		return false
	}
	target, err := s.users.GetByUsername(ctx, username)
	if err != nil || target.GroupID == nil {
		return false
	}
	g, err := s.groups.Get(ctx, *target.GroupID)
	return err == nil && g.Owner == p.Username
}

// denied distinguishes "who are you" from "you may not".
func (s *Service) denied(p Principal) error {
	if p.Username == "" && !p.IsHost() {
		return ErrUnauthorized
	}
	return ErrForbidden
}
