package auth

import (
	"github.com/netsblox/cloud/internal/group"
	"github.com/netsblox/cloud/internal/library"
	"github.com/netsblox/cloud/internal/project"
	"github.com/netsblox/cloud/internal/user"
)

// Witness types prove that an authorization check happened. Their fields are
// unexported, so the Try* constructors in this package are the only way to
// obtain a usable value; handlers accept the witness instead of re-checking
// permissions at each layer.

// ViewProject grants read access to a project's metadata and content.
type ViewProject struct {
	metadata *project.Metadata
}

// Metadata returns the project this witness covers.
func (w ViewProject) Metadata() *project.Metadata { return w.metadata }

// EditProject grants write access to a project.
type EditProject struct {
	metadata *project.Metadata
}

func (w EditProject) Metadata() *project.Metadata { return w.metadata }

// DeleteProject grants permission to delete a project.
type DeleteProject struct {
	metadata *project.Metadata
}

func (w DeleteProject) Metadata() *project.Metadata { return w.metadata }

// ViewUser grants read access to an account, including private fields.
type ViewUser struct {
	user *user.User
}

func (w ViewUser) User() *user.User { return w.user }

// EditUser grants write access to an account.
type EditUser struct {
	username string
}

func (w EditUser) Username() string { return w.username }

// BanUser grants permission to ban the named account.
type BanUser struct {
	username string
}

func (w BanUser) Username() string { return w.username }

// ViewGroup grants read access to a group and its members.
type ViewGroup struct {
	group *group.Group
}

func (w ViewGroup) Group() *group.Group { return w.group }

// EditGroup grants write access to a group.
type EditGroup struct {
	group *group.Group
}

func (w EditGroup) Group() *group.Group { return w.group }

// EditLibrary grants write access to a user's library.
type EditLibrary struct {
	owner string
	name  string
}

func (w EditLibrary) Owner() string { return w.owner }
func (w EditLibrary) Name() string  { return w.name }

// ModerateLibrary grants access to the community moderation queue.
type ModerateLibrary struct {
	library *library.Library
}

func (w ModerateLibrary) Library() *library.Library { return w.library }

// ManageHost grants permission to edit service-host registrations.
type ManageHost struct {
	marker struct{}
}

// SendMessage grants permission to inject a message into the overlay on
// behalf of the named sender.
type SendMessage struct {
	sender string
}

func (w SendMessage) Sender() string { return w.sender }

// EvictClient grants permission to disconnect the named client from its
// room.
type EvictClient struct {
	clientID string
}

func (w EvictClient) ClientID() string { return w.clientID }

// Admin proves the caller holds the admin role.
type Admin struct {
	username string
}

func (w Admin) Username() string { return w.username }
