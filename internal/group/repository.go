package group

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/netsblox/cloud/internal/mongodb"
)

// MongoRepository implements Repository on the groups collection.
type MongoRepository struct {
	groups *mongo.Collection
	log    zerolog.Logger
}

// NewMongoRepository creates a MongoDB-backed group repository.
func NewMongoRepository(db *mongo.Database, logger zerolog.Logger) *MongoRepository {
	return &MongoRepository{
		groups: db.Collection("groups"),
		log:    logger.With().Str("component", "groups").Logger(),
	}
}

// Create inserts a group. The (owner, name) pair is unique; duplicates
// surface as ErrAlreadyExists.
func (r *MongoRepository) Create(ctx context.Context, owner, name string) (*Group, error) {
	g := &Group{
		ID:              uuid.NewString(),
		Owner:           owner,
		Name:            name,
		ServiceSettings: map[string]string{},
		CreatedAt:       time.Now().UTC(),
	}
	if _, err := r.groups.InsertOne(ctx, g); err != nil {
		if mongodb.IsDuplicateKey(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("insert group: %w", err)
	}
	return g, nil
}

// Get returns the group with the given ID.
func (r *MongoRepository) Get(ctx context.Context, id string) (*Group, error) {
	var g Group
	if err := r.groups.FindOne(ctx, bson.M{"id": id}).Decode(&g); err != nil {
		if mongodb.IsNoDocuments(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query group: %w", err)
	}
	return &g, nil
}

// GetByName returns the owner's group with the given name.
func (r *MongoRepository) GetByName(ctx context.Context, owner, name string) (*Group, error) {
	var g Group
	if err := r.groups.FindOne(ctx, bson.M{"owner": owner, "name": name}).Decode(&g); err != nil {
		if mongodb.IsNoDocuments(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query group by name: %w", err)
	}
	return &g, nil
}

// ListByOwner returns all groups belonging to the owner.
func (r *MongoRepository) ListByOwner(ctx context.Context, owner string) ([]Group, error) {
	cursor, err := r.groups.Find(ctx, bson.M{"owner": owner})
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	var groups []Group
	if err := cursor.All(ctx, &groups); err != nil {
		return nil, fmt.Errorf("decode groups: %w", err)
	}
	return groups, nil
}

// Rename changes the group's display name, subject to the same per-owner
// uniqueness as Create.
func (r *MongoRepository) Rename(ctx context.Context, id, name string) error {
	res, err := r.groups.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": bson.M{"name": name}})
	if err != nil {
		if mongodb.IsDuplicateKey(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("rename group: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the group record. Clearing member assignments is the
// caller's job so the two writes can be logged together.
func (r *MongoRepository) Delete(ctx context.Context, id string) error {
	res, err := r.groups.DeleteOne(ctx, bson.M{"id": id})
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	r.log.Info().Str("group", id).Msg("Group deleted")
	return nil
}

// SetServiceSettings stores a service host's settings blob for the group.
func (r *MongoRepository) SetServiceSettings(ctx context.Context, id, hostID, settings string) error {
	res, err := r.groups.UpdateOne(ctx, bson.M{"id": id},
		bson.M{"$set": bson.M{"serviceSettings." + hostID: settings}})
	if err != nil {
		return fmt.Errorf("update group settings: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteServiceSettings removes a service host's settings entry.
func (r *MongoRepository) DeleteServiceSettings(ctx context.Context, id, hostID string) error {
	res, err := r.groups.UpdateOne(ctx, bson.M{"id": id},
		bson.M{"$unset": bson.M{"serviceSettings." + hostID: ""}})
	if err != nil {
		return fmt.Errorf("update group settings: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
