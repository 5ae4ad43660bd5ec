// Package servicehost manages the RPC service hosts visible to an editor
// session and the authorized hosts allowed to call privileged cloud APIs.
package servicehost

import (
	"context"
	"errors"
	"time"
)

// Host is a services endpoint offered to the editor.
type Host struct {
	URL        string   `bson:"url" json:"url"`
	Categories []string `bson:"categories" json:"categories"`
}

// Visibility controls whether an authorized host shows up in public listings.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// AuthorizedHost is a registered services server. It authenticates to the
// cloud with its secret (the X-Authorization header) and may then query
// client state and per-user settings.
type AuthorizedHost struct {
	ID         string     `bson:"id" json:"id"`
	URL        string     `bson:"url" json:"url"`
	Secret     string     `bson:"secret" json:"-"`
	Visibility Visibility `bson:"visibility" json:"visibility"`
	CreatedAt  time.Time  `bson:"createdAt" json:"createdAt"`
}

var (
	ErrNotFound      = errors.New("service host not found")
	ErrAlreadyExists = errors.New("service host id already registered")
)

// Repository is the persistence surface for host registrations. Per-user and
// per-group host lists live on those records; this repository holds the
// deployment-wide sets.
type Repository interface {
	SetUserHosts(ctx context.Context, username string, hosts []Host) error
	GetUserHosts(ctx context.Context, username string) ([]Host, error)
	SetGroupHosts(ctx context.Context, groupID string, hosts []Host) error
	GetGroupHosts(ctx context.Context, groupID string) ([]Host, error)

	Authorize(ctx context.Context, host *AuthorizedHost) error
	GetAuthorized(ctx context.Context, id string) (*AuthorizedHost, error)
	ListAuthorized(ctx context.Context) ([]AuthorizedHost, error)
	Revoke(ctx context.Context, id string) error
}

// Visible merges the host lists that apply to a session: deployment-wide
// defaults, the user's own hosts, and the user's group hosts. Later lists
// override earlier entries with the same URL.
func Visible(defaults, userHosts, groupHosts []Host) []Host {
	seen := make(map[string]int)
	var merged []Host
	for _, list := range [][]Host{defaults, userHosts, groupHosts} {
		for _, h := range list {
			if idx, ok := seen[h.URL]; ok {
				merged[idx] = h
				continue
			}
			seen[h.URL] = len(merged)
			merged = append(merged, h)
		}
	}
	return merged
}
