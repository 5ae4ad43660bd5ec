package library

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/netsblox/cloud/internal/mongodb"
)

// MongoRepository implements Repository on the libraries collection.
type MongoRepository struct {
	libraries *mongo.Collection
}

// NewMongoRepository creates a MongoDB-backed library repository.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{libraries: db.Collection("libraries")}
}

// Upsert writes the library keyed by (owner, name).
func (r *MongoRepository) Upsert(ctx context.Context, lib *Library) error {
	_, err := r.libraries.ReplaceOne(ctx,
		bson.M{"owner": lib.Owner, "name": lib.Name},
		lib,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert library: %w", err)
	}
	return nil
}

// Get returns the library with the given owner and name.
func (r *MongoRepository) Get(ctx context.Context, owner, name string) (*Library, error) {
	var lib Library
	if err := r.libraries.FindOne(ctx, bson.M{"owner": owner, "name": name}).Decode(&lib); err != nil {
		if mongodb.IsNoDocuments(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query library: %w", err)
	}
	return &lib, nil
}

// ListByOwner returns all libraries owned by the user.
func (r *MongoRepository) ListByOwner(ctx context.Context, owner string) ([]Library, error) {
	return r.list(ctx, bson.M{"owner": owner})
}

// ListPublic returns the community gallery.
func (r *MongoRepository) ListPublic(ctx context.Context) ([]Library, error) {
	return r.list(ctx, bson.M{"state": Public})
}

// ListPendingApproval returns the moderation queue.
func (r *MongoRepository) ListPendingApproval(ctx context.Context) ([]Library, error) {
	return r.list(ctx, bson.M{"state": PendingApproval})
}

func (r *MongoRepository) list(ctx context.Context, filter bson.M) ([]Library, error) {
	cursor, err := r.libraries.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list libraries: %w", err)
	}
	var libraries []Library
	if err := cursor.All(ctx, &libraries); err != nil {
		return nil, fmt.Errorf("decode libraries: %w", err)
	}
	return libraries, nil
}

// SetState updates the publication state.
func (r *MongoRepository) SetState(ctx context.Context, owner, name string, state State) error {
	res, err := r.libraries.UpdateOne(ctx,
		bson.M{"owner": owner, "name": name},
		bson.M{"$set": bson.M{"state": state}})
	if err != nil {
		return fmt.Errorf("update library state: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the library.
func (r *MongoRepository) Delete(ctx context.Context, owner, name string) error {
	res, err := r.libraries.DeleteOne(ctx, bson.M{"owner": owner, "name": name})
	if err != nil {
		return fmt.Errorf("delete library: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}
