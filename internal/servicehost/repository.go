package servicehost

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/netsblox/cloud/internal/mongodb"
)

// MongoRepository implements Repository. User and group host lists live in
// the serviceHosts collection keyed by owner; authorized hosts have their
// own collection with a unique id index.
type MongoRepository struct {
	hosts      *mongo.Collection
	authorized *mongo.Collection
}

// NewMongoRepository creates a MongoDB-backed service-host repository.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		hosts:      db.Collection("serviceHosts"),
		authorized: db.Collection("authorizedServices"),
	}
}

type hostsDoc struct {
	Kind  string `bson:"kind"` // "user" or "group"
	Owner string `bson:"owner"`
	Hosts []Host `bson:"hosts"`
}

// SetUserHosts replaces the user's personal host list.
func (r *MongoRepository) SetUserHosts(ctx context.Context, username string, hosts []Host) error {
	return r.setHosts(ctx, "user", username, hosts)
}

// GetUserHosts returns the user's personal host list.
func (r *MongoRepository) GetUserHosts(ctx context.Context, username string) ([]Host, error) {
	return r.getHosts(ctx, "user", username)
}

// SetGroupHosts replaces the group's host list.
func (r *MongoRepository) SetGroupHosts(ctx context.Context, groupID string, hosts []Host) error {
	return r.setHosts(ctx, "group", groupID, hosts)
}

// GetGroupHosts returns the group's host list.
func (r *MongoRepository) GetGroupHosts(ctx context.Context, groupID string) ([]Host, error) {
	return r.getHosts(ctx, "group", groupID)
}

func (r *MongoRepository) setHosts(ctx context.Context, kind, owner string, hosts []Host) error {
	if hosts == nil {
		hosts = []Host{}
	}
	_, err := r.hosts.ReplaceOne(ctx,
		bson.M{"kind": kind, "owner": owner},
		hostsDoc{Kind: kind, Owner: owner, Hosts: hosts},
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("replace host list: %w", err)
	}
	return nil
}

func (r *MongoRepository) getHosts(ctx context.Context, kind, owner string) ([]Host, error) {
	var doc hostsDoc
	err := r.hosts.FindOne(ctx, bson.M{"kind": kind, "owner": owner}).Decode(&doc)
	if err != nil {
		if mongodb.IsNoDocuments(err) {
			return []Host{}, nil
		}
		return nil, fmt.Errorf("query host list: %w", err)
	}
	return doc.Hosts, nil
}

// Authorize registers a services server. IDs are caller-chosen and unique.
func (r *MongoRepository) Authorize(ctx context.Context, host *AuthorizedHost) error {
	if host.CreatedAt.IsZero() {
		host.CreatedAt = time.Now().UTC()
	}
	if _, err := r.authorized.InsertOne(ctx, host); err != nil {
		if mongodb.IsDuplicateKey(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert authorized host: %w", err)
	}
	return nil
}

// GetAuthorized returns the registration with the given ID.
func (r *MongoRepository) GetAuthorized(ctx context.Context, id string) (*AuthorizedHost, error) {
	var host AuthorizedHost
	if err := r.authorized.FindOne(ctx, bson.M{"id": id}).Decode(&host); err != nil {
		if mongodb.IsNoDocuments(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query authorized host: %w", err)
	}
	return &host, nil
}

// ListAuthorized returns every registered services server.
func (r *MongoRepository) ListAuthorized(ctx context.Context) ([]AuthorizedHost, error) {
	cursor, err := r.authorized.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("list authorized hosts: %w", err)
	}
	var hosts []AuthorizedHost
	if err := cursor.All(ctx, &hosts); err != nil {
		return nil, fmt.Errorf("decode authorized hosts: %w", err)
	}
	return hosts, nil
}

// Revoke removes a registration. The host's secret stops working
// immediately.
func (r *MongoRepository) Revoke(ctx context.Context, id string) error {
	res, err := r.authorized.DeleteOne(ctx, bson.M{"id": id})
	if err != nil {
		return fmt.Errorf("delete authorized host: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}
