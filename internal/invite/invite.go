// Package invite manages the two invitation kinds: collaboration invites
// (long-lived, one per project/receiver pair) and occupant invites
// (short-lived pointers at a specific role, expired by a TTL index).
package invite

import (
	"context"
	"errors"
	"time"
)

// CollaborationState is the receiver's response to a collaboration invite.
type CollaborationState string

const (
	CollaborationPending  CollaborationState = "pending"
	CollaborationAccepted CollaborationState = "accepted"
	CollaborationRejected CollaborationState = "rejected"
)

// CollaborationInvite asks the receiver to become a project collaborator.
// At most one exists per (project, receiver).
type CollaborationInvite struct {
	ID        string             `bson:"id" json:"id"`
	Sender    string             `bson:"sender" json:"sender"`
	Receiver  string             `bson:"receiver" json:"receiver"`
	ProjectID string             `bson:"projectId" json:"projectId"`
	State     CollaborationState `bson:"state" json:"state"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
}

// OccupantInvite asks a user to join a specific role in a live room. The
// record expires on its own; acting on it requires the room to still exist.
type OccupantInvite struct {
	ProjectID string    `bson:"projectId" json:"projectId"`
	RoleID    string    `bson:"roleId" json:"roleId"`
	Inviter   string    `bson:"inviter" json:"inviter"`
	Username  string    `bson:"username" json:"username"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

var (
	ErrNotFound      = errors.New("invite not found")
	ErrAlreadyExists = errors.New("invite already exists")
)

// Repository is the persistence surface for invitations.
type Repository interface {
	CreateCollaboration(ctx context.Context, sender, receiver, projectID string) (*CollaborationInvite, error)
	GetCollaboration(ctx context.Context, id string) (*CollaborationInvite, error)
	ListCollaborations(ctx context.Context, receiver string) ([]CollaborationInvite, error)
	// RespondCollaboration records the receiver's answer and removes the
	// invite so the pair can be re-invited later.
	RespondCollaboration(ctx context.Context, id string, state CollaborationState) (*CollaborationInvite, error)
	DeleteProjectCollaborations(ctx context.Context, projectID string) error

	CreateOccupant(ctx context.Context, inv *OccupantInvite) error
	GetOccupant(ctx context.Context, projectID, roleID, username string) (*OccupantInvite, error)
	ListOccupants(ctx context.Context, username string) ([]OccupantInvite, error)
	DeleteOccupant(ctx context.Context, projectID, roleID, username string) error
}
