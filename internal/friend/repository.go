package friend

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/netsblox/cloud/internal/mongodb"
)

// MongoRepository implements Repository on the friendLinks collection.
type MongoRepository struct {
	links *mongo.Collection
}

// NewMongoRepository creates a MongoDB-backed friend repository.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{links: db.Collection("friendLinks")}
}

// Get returns the exact directed link sender → recipient.
func (r *MongoRepository) Get(ctx context.Context, sender, recipient string) (*Link, error) {
	var link Link
	err := r.links.FindOne(ctx, bson.M{"sender": sender, "recipient": recipient}).Decode(&link)
	if err != nil {
		if mongodb.IsNoDocuments(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query friend link: %w", err)
	}
	return &link, nil
}

// GetBetween returns the link between the two users in either direction.
// Blocked links win when both directions somehow exist.
func (r *MongoRepository) GetBetween(ctx context.Context, a, b string) (*Link, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"sender": a, "recipient": b},
		bson.M{"sender": b, "recipient": a},
	}}
	cursor, err := r.links.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query friend links: %w", err)
	}
	var links []Link
	if err := cursor.All(ctx, &links); err != nil {
		return nil, fmt.Errorf("decode friend links: %w", err)
	}
	if len(links) == 0 {
		return nil, ErrNotFound
	}
	for i := range links {
		if links[i].State == Blocked {
			return &links[i], nil
		}
	}
	return &links[0], nil
}

// ListFriends returns usernames approved in either direction.
func (r *MongoRepository) ListFriends(ctx context.Context, username string) ([]string, error) {
	filter := bson.M{
		"state": Approved,
		"$or": bson.A{
			bson.M{"sender": username},
			bson.M{"recipient": username},
		},
	}
	cursor, err := r.links.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	var links []Link
	if err := cursor.All(ctx, &links); err != nil {
		return nil, fmt.Errorf("decode friends: %w", err)
	}
	friends := make([]string, 0, len(links))
	for _, link := range links {
		if link.Sender == username {
			friends = append(friends, link.Recipient)
		} else {
			friends = append(friends, link.Sender)
		}
	}
	return friends, nil
}

// ListInvites returns the pending invites addressed to recipient.
func (r *MongoRepository) ListInvites(ctx context.Context, recipient string) ([]Link, error) {
	cursor, err := r.links.Find(ctx, bson.M{"recipient": recipient, "state": Pending})
	if err != nil {
		return nil, fmt.Errorf("list invites: %w", err)
	}
	var links []Link
	if err := cursor.All(ctx, &links); err != nil {
		return nil, fmt.Errorf("decode invites: %w", err)
	}
	return links, nil
}

// Upsert writes the link keyed by (sender, recipient).
func (r *MongoRepository) Upsert(ctx context.Context, link *Link) error {
	_, err := r.links.ReplaceOne(ctx,
		bson.M{"sender": link.Sender, "recipient": link.Recipient},
		link,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert friend link: %w", err)
	}
	return nil
}

// DeleteAllFor removes every link naming username on either side with a
// single DeleteMany. Zero matches is not an error.
func (r *MongoRepository) DeleteAllFor(ctx context.Context, username string) error {
	_, err := r.links.DeleteMany(ctx, bson.M{"$or": bson.A{
		bson.M{"sender": username},
		bson.M{"recipient": username},
	}})
	if err != nil {
		return fmt.Errorf("delete friend links: %w", err)
	}
	return nil
}

// Delete removes the directed link sender → recipient.
func (r *MongoRepository) Delete(ctx context.Context, sender, recipient string) error {
	res, err := r.links.DeleteOne(ctx, bson.M{"sender": sender, "recipient": recipient})
	if err != nil {
		return fmt.Errorf("delete friend link: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}
