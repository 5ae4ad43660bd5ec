package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Connect creates a Mongo client for the given URI and verifies connectivity
// with a ping before returning the named database handle.
func Connect(ctx context.Context, uri, database string) (*mongo.Client, *mongo.Database, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("ping mongodb: %w", err)
	}

	return client, client.Database(database), nil
}

// EnsureIndexes creates the unique and TTL indexes every collection relies
// on. Index creation is idempotent, so this runs on every startup.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	type spec struct {
		collection string
		models     []mongo.IndexModel
	}

	unique := options.Index().SetUnique(true)
	specs := []spec{
		{"users", []mongo.IndexModel{
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "email", Value: 1}}},
		}},
		{"bannedAccounts", []mongo.IndexModel{
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "email", Value: 1}}},
		}},
		{"groups", []mongo.IndexModel{
			{Keys: bson.D{{Key: "owner", Value: 1}, {Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
		}},
		{"projectMetadata", []mongo.IndexModel{
			{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "owner", Value: 1}, {Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
		}},
		{"libraries", []mongo.IndexModel{
			{Keys: bson.D{{Key: "owner", Value: 1}, {Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
		}},
		{"friendLinks", []mongo.IndexModel{
			{Keys: bson.D{{Key: "sender", Value: 1}, {Key: "recipient", Value: 1}}},
		}},
		{"collaborationInvites", []mongo.IndexModel{
			{Keys: bson.D{{Key: "projectId", Value: 1}, {Key: "receiver", Value: 1}}, Options: options.Index().SetUnique(true)},
		}},
		{"occupantInvites", []mongo.IndexModel{
			{Keys: bson.D{{Key: "createdAt", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(15 * 60)},
			{Keys: bson.D{{Key: "username", Value: 1}, {Key: "projectId", Value: 1}}},
		}},
		{"recordedMessages", []mongo.IndexModel{
			{Keys: bson.D{{Key: "createdAt", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(7 * 24 * 60 * 60)},
			{Keys: bson.D{{Key: "projectId", Value: 1}, {Key: "traceId", Value: 1}, {Key: "seq", Value: 1}}},
		}},
		{"passwordTokens", []mongo.IndexModel{
			{Keys: bson.D{{Key: "createdAt", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(60 * 60)},
			{Keys: bson.D{{Key: "username", Value: 1}}},
		}},
		{"authorizedServices", []mongo.IndexModel{
			{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		}},
	}

	for _, s := range specs {
		if _, err := db.Collection(s.collection).Indexes().CreateMany(ctx, s.models); err != nil {
			return fmt.Errorf("create indexes for %s: %w", s.collection, err)
		}
	}
	return nil
}
