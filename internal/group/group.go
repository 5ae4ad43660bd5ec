// Package group manages classes: named member sets owned by a teacher
// account. Members inherit the group's service settings and are deleted
// back to ungrouped status when the group goes away.
package group

import (
	"context"
	"errors"
	"time"
)

// Group is a named collection of member accounts under a single owner.
// Names are unique per owner, not globally.
type Group struct {
	ID              string            `bson:"id" json:"id"`
	Owner           string            `bson:"owner" json:"owner"`
	Name            string            `bson:"name" json:"name"`
	ServiceSettings map[string]string `bson:"serviceSettings" json:"-"`
	CreatedAt       time.Time         `bson:"createdAt" json:"createdAt"`
}

var (
	ErrNotFound      = errors.New("group not found")
	ErrAlreadyExists = errors.New("group name already in use")
)

// Repository is the persistence surface for groups.
type Repository interface {
	Create(ctx context.Context, owner, name string) (*Group, error)
	Get(ctx context.Context, id string) (*Group, error)
	GetByName(ctx context.Context, owner, name string) (*Group, error)
	ListByOwner(ctx context.Context, owner string) ([]Group, error)
	Rename(ctx context.Context, id, name string) error
	Delete(ctx context.Context, id string) error

	SetServiceSettings(ctx context.Context, id, hostID, settings string) error
	DeleteServiceSettings(ctx context.Context, id, hostID string) error
}
