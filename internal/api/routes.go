// Package api holds the HTTP handlers: thin adapters that bind requests,
// obtain authorization witnesses, call the domain services, and map errors.
package api

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/rs/zerolog"

	"github.com/netsblox/cloud/internal/auth"
	"github.com/netsblox/cloud/internal/config"
	"github.com/netsblox/cloud/internal/email"
	"github.com/netsblox/cloud/internal/filter"
	"github.com/netsblox/cloud/internal/friend"
	"github.com/netsblox/cloud/internal/group"
	"github.com/netsblox/cloud/internal/invite"
	"github.com/netsblox/cloud/internal/library"
	"github.com/netsblox/cloud/internal/metrics"
	"github.com/netsblox/cloud/internal/network"
	"github.com/netsblox/cloud/internal/project"
	"github.com/netsblox/cloud/internal/servicehost"
	"github.com/netsblox/cloud/internal/user"
)

// Deps bundles everything the route table needs.
type Deps struct {
	Config *config.Config
	Log    zerolog.Logger

	Auth      *auth.Service
	Users     user.Repository
	Groups    group.Repository
	Projects  *project.Service
	Friends   *friend.Service
	Libraries *library.Service
	Invites   invite.Repository
	Hosts     servicehost.Repository

	Topology *network.Topology
	Router   *network.Router
	Recorder *network.MongoRecorder

	ResetTokens   *auth.ResetTokens
	Mailer        email.Mailer
	Profanity     filter.Text
	LoginThrottle *auth.Throttle
	ResetThrottle *auth.Throttle

	Metrics *metrics.Metrics

	MongoPinger Pinger
	RedisPinger Pinger
}

// RegisterRoutes mounts the full HTTP surface on the app.
func RegisterRoutes(app *fiber.App, d Deps) {
	users := NewUserHandler(d.Auth, d.Users, d.Friends, d.Topology, d.ResetTokens, d.Mailer, d.Profanity,
		d.LoginThrottle, d.ResetThrottle,
		d.Config.Session.Secret, d.Config.Session.MaxAge, d.Config.PublicURL, d.Metrics, d.Log)
	groups := NewGroupHandler(d.Auth, d.Groups, d.Users, d.Hosts, d.Log)
	projects := NewProjectHandler(d.Auth, d.Projects, d.Invites, d.Topology, d.Profanity,
		d.Config.Network.RoleFetchTimeout, d.Log)
	friends := NewFriendHandler(d.Auth, d.Friends, d.Users, d.Topology, d.Log)
	libraries := NewLibraryHandler(d.Auth, d.Libraries, d.Log)
	services := NewServicesHandler(d.Auth, d.Hosts, d.Users, d.Groups, d.Log)
	netHandler := NewNetworkHandler(d.Auth, d.Topology, d.Router, d.Projects, d.Invites,
		d.Recorder, d.Config.Network.OutboundQueue, d.Log)
	configuration := NewConfigurationHandler(services, d.Users, d.Config.ServerName, d.Config.PublicURL, d.Log)
	health := &HealthHandler{Mongo: d.MongoPinger, Redis: d.RedisPinger}

	app.Get("/health", health.Health)
	app.Get("/configuration", configuration.Get)

	// Credential endpoints get a tighter limiter on top of the Redis
	// throttles: the limiter caps request volume per IP, the throttles cap
	// guesses per account.
	authLimiter := limiter.New(limiter.Config{
		Max:        d.Config.Limits.AuthCount,
		Expiration: time.Duration(d.Config.Limits.AuthWindowSeconds) * time.Second,
	})

	app.Post("/users/create", users.Create, authLimiter)
	app.Post("/users/login", users.Login, authLimiter)
	app.Post("/users/logout", users.Logout)
	app.Get("/users/whoami", users.WhoAmI)
	app.Get("/users", users.List)
	app.Get("/users/:name", users.Get)
	app.Post("/users/:name/delete", users.Delete)
	app.Post("/users/:name/password", users.SetPassword, authLimiter)
	app.Post("/users/:name/ban", users.Ban)
	app.Post("/users/:name/unban", users.Unban)
	app.Post("/users/:name/link", users.Link)
	app.Delete("/users/:name/link/:strategy/:id", users.Unlink)

	app.Post("/groups", groups.Create)
	app.Get("/groups", groups.List)
	app.Get("/groups/:id", groups.Get)
	app.Patch("/groups/:id", groups.Update)
	app.Delete("/groups/:id", groups.Delete)
	app.Get("/groups/:id/members", groups.Members)

	app.Post("/projects", projects.Create)
	app.Get("/projects/community", projects.ListCommunity)
	app.Get("/projects/user/:owner", projects.ListOwn)
	app.Get("/projects/shared/:user", projects.ListShared)
	app.Get("/projects/collaboration-invites/:user", projects.ListCollaborationInvites)
	app.Post("/projects/collaboration-invites/:id", projects.RespondCollaborationInvite)
	app.Get("/projects/id/:id", projects.Get)
	app.Patch("/projects/id/:id", projects.Update)
	app.Delete("/projects/id/:id", projects.Delete)
	app.Get("/projects/id/:id/latest", projects.Latest)
	app.Get("/projects/id/:id/thumbnail", projects.Thumbnail)
	app.Post("/projects/id/:id/roles", projects.AddRole)
	app.Get("/projects/id/:id/collaborators", projects.ListCollaborators)
	app.Post("/projects/id/:id/collaborators/invite/:user", projects.InviteCollaborator)
	app.Delete("/projects/id/:id/collaborators/:user", projects.RemoveCollaborator)
	app.Get("/projects/id/:id/:roleId/latest", projects.RoleLatest)
	app.Post("/projects/id/:id/:roleId", projects.SaveRole)
	app.Patch("/projects/id/:id/:roleId", projects.RenameRole)
	app.Delete("/projects/id/:id/:roleId", projects.RemoveRole)

	app.Get("/friends/:user", friends.List)
	app.Get("/friends/:user/online", friends.Online)
	app.Get("/friends/:user/invites", friends.Invites)
	app.Post("/friends/:user/invite/:other", friends.Invite)
	app.Post("/friends/:user/respond/:inviter", friends.Respond)
	app.Post("/friends/:user/block/:other", friends.Block)
	app.Post("/friends/:user/unblock/:other", friends.Unblock)
	app.Delete("/friends/:user/:other", friends.Unfriend)

	app.Get("/libraries/community", libraries.Community)
	app.Get("/libraries/community/pending", libraries.Pending)
	app.Post("/libraries/community/:owner/:name/approve", libraries.Approve)
	app.Get("/libraries/user/:user", libraries.ListUser)
	app.Get("/libraries/user/:user/:name", libraries.Get)
	app.Post("/libraries/user/:user/:name", libraries.Save)
	app.Delete("/libraries/user/:user/:name", libraries.Delete)
	app.Post("/libraries/user/:user/:name/publish", libraries.Publish)
	app.Post("/libraries/user/:user/:name/unpublish", libraries.Unpublish)

	app.Get("/services/hosts/authorized", services.ListAuthorized)
	app.Post("/services/hosts/authorized", services.Authorize)
	app.Delete("/services/hosts/authorized/:id", services.Revoke)
	app.Get("/services/hosts/all/:user", services.AllUserHosts)
	app.Get("/services/hosts/user/:user", services.UserHosts)
	app.Post("/services/hosts/user/:user", services.SetUserHosts)
	app.Delete("/services/hosts/user/:user", services.ClearUserHosts)
	app.Get("/services/hosts/group/:id", services.GroupHosts)
	app.Post("/services/hosts/group/:id", services.SetGroupHosts)
	app.Delete("/services/hosts/group/:id", services.ClearGroupHosts)
	app.Get("/services/settings/user/:user/:host", services.UserSettings)
	app.Post("/services/settings/user/:user/:host", services.SetUserSettings)
	app.Delete("/services/settings/user/:user/:host", services.DeleteUserSettings)
	app.Get("/services/settings/group/:id/:host", services.GroupSettings)
	app.Post("/services/settings/group/:id/:host", services.SetGroupSettings)
	app.Delete("/services/settings/group/:id/:host", services.DeleteGroupSettings)

	app.Get("/network", netHandler.ListExternal)
	app.Post("/network/messages", netHandler.SendMessage)
	app.Get("/network/id/:id", netHandler.Room)
	app.Post("/network/id/:id/occupants/invite", netHandler.InviteOccupant)
	app.Post("/network/id/:id/trace", netHandler.StartTrace)
	app.Get("/network/id/:id/trace/:traceId", netHandler.GetTrace)
	app.Delete("/network/id/:id/trace/:traceId", netHandler.DeleteTrace)
	app.Post("/network/clients/:clientId/evict", netHandler.Evict)
	app.Get("/network/:clientId/state", netHandler.ClientState)
	app.Get("/network/:clientId/connect", netHandler.Connect)
}
