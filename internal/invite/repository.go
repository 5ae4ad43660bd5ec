package invite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/netsblox/cloud/internal/mongodb"
)

// MongoRepository implements Repository on the collaborationInvites and
// occupantInvites collections. Occupant invites rely on the TTL index set
// up at startup; nothing here deletes them on a timer.
type MongoRepository struct {
	collaborations *mongo.Collection
	occupants      *mongo.Collection
}

// NewMongoRepository creates a MongoDB-backed invite repository.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collaborations: db.Collection("collaborationInvites"),
		occupants:      db.Collection("occupantInvites"),
	}
}

// CreateCollaboration inserts an invite. The (projectId, receiver) unique
// index turns duplicates into ErrAlreadyExists.
func (r *MongoRepository) CreateCollaboration(ctx context.Context, sender, receiver, projectID string) (*CollaborationInvite, error) {
	inv := &CollaborationInvite{
		ID:        uuid.NewString(),
		Sender:    sender,
		Receiver:  receiver,
		ProjectID: projectID,
		State:     CollaborationPending,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := r.collaborations.InsertOne(ctx, inv); err != nil {
		if mongodb.IsDuplicateKey(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("insert collaboration invite: %w", err)
	}
	return inv, nil
}

// GetCollaboration returns the invite with the given ID.
func (r *MongoRepository) GetCollaboration(ctx context.Context, id string) (*CollaborationInvite, error) {
	var inv CollaborationInvite
	if err := r.collaborations.FindOne(ctx, bson.M{"id": id}).Decode(&inv); err != nil {
		if mongodb.IsNoDocuments(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query collaboration invite: %w", err)
	}
	return &inv, nil
}

// ListCollaborations returns the pending invites addressed to receiver.
func (r *MongoRepository) ListCollaborations(ctx context.Context, receiver string) ([]CollaborationInvite, error) {
	cursor, err := r.collaborations.Find(ctx, bson.M{"receiver": receiver, "state": CollaborationPending})
	if err != nil {
		return nil, fmt.Errorf("list collaboration invites: %w", err)
	}
	var invites []CollaborationInvite
	if err := cursor.All(ctx, &invites); err != nil {
		return nil, fmt.Errorf("decode collaboration invites: %w", err)
	}
	return invites, nil
}

// RespondCollaboration removes the invite and returns it stamped with the
// receiver's answer. Deleting keeps the unique index free for re-invites.
func (r *MongoRepository) RespondCollaboration(ctx context.Context, id string, state CollaborationState) (*CollaborationInvite, error) {
	var inv CollaborationInvite
	err := r.collaborations.FindOneAndDelete(ctx, bson.M{"id": id}).Decode(&inv)
	if err != nil {
		if mongodb.IsNoDocuments(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("respond to collaboration invite: %w", err)
	}
	inv.State = state
	return &inv, nil
}

// DeleteProjectCollaborations drops every invite pointing at a project.
// Called when the project is deleted.
func (r *MongoRepository) DeleteProjectCollaborations(ctx context.Context, projectID string) error {
	if _, err := r.collaborations.DeleteMany(ctx, bson.M{"projectId": projectID}); err != nil {
		return fmt.Errorf("delete project invites: %w", err)
	}
	return nil
}

// CreateOccupant upserts the short-lived role invite, refreshing its TTL
// window when re-sent.
func (r *MongoRepository) CreateOccupant(ctx context.Context, inv *OccupantInvite) error {
	inv.CreatedAt = time.Now().UTC()
	_, err := r.occupants.ReplaceOne(ctx,
		bson.M{"projectId": inv.ProjectID, "roleId": inv.RoleID, "username": inv.Username},
		inv,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert occupant invite: %w", err)
	}
	return nil
}

// GetOccupant returns the live invite for (project, role, username).
func (r *MongoRepository) GetOccupant(ctx context.Context, projectID, roleID, username string) (*OccupantInvite, error) {
	var inv OccupantInvite
	err := r.occupants.FindOne(ctx, bson.M{
		"projectId": projectID,
		"roleId":    roleID,
		"username":  username,
	}).Decode(&inv)
	if err != nil {
		if mongodb.IsNoDocuments(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query occupant invite: %w", err)
	}
	return &inv, nil
}

// ListOccupants returns the unexpired role invites addressed to username.
func (r *MongoRepository) ListOccupants(ctx context.Context, username string) ([]OccupantInvite, error) {
	cursor, err := r.occupants.Find(ctx, bson.M{"username": username})
	if err != nil {
		return nil, fmt.Errorf("list occupant invites: %w", err)
	}
	var invites []OccupantInvite
	if err := cursor.All(ctx, &invites); err != nil {
		return nil, fmt.Errorf("decode occupant invites: %w", err)
	}
	return invites, nil
}

// DeleteOccupant removes a role invite once it has been used or declined.
func (r *MongoRepository) DeleteOccupant(ctx context.Context, projectID, roleID, username string) error {
	res, err := r.occupants.DeleteOne(ctx, bson.M{
		"projectId": projectID,
		"roleId":    roleID,
		"username":  username,
	})
	if err != nil {
		return fmt.Errorf("delete occupant invite: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}
