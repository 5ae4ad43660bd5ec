package user

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/netsblox/cloud/internal/mongodb"
)

// MongoRepository implements Repository on the users and bannedAccounts
// collections.
type MongoRepository struct {
	users  *mongo.Collection
	banned *mongo.Collection
	log    zerolog.Logger
}

// NewMongoRepository creates a MongoDB-backed user repository.
func NewMongoRepository(db *mongo.Database, logger zerolog.Logger) *MongoRepository {
	return &MongoRepository{
		users:  db.Collection("users"),
		banned: db.Collection("bannedAccounts"),
		log:    logger.With().Str("component", "users").Logger(),
	}
}

// Create inserts a new account. Usernames and emails belonging to banned
// accounts are refused even though the original records are gone.
func (r *MongoRepository) Create(ctx context.Context, params CreateParams) (*User, error) {
	username := Canonical(params.Username)

	banned, err := r.IsBanned(ctx, username, params.Email)
	if err != nil {
		return nil, err
	}
	if banned {
		return nil, ErrBanned
	}

	role := params.Role
	if role == "" {
		role = RoleUser
	}

	u := &User{
		Username:        username,
		Email:           params.Email,
		Hash:            params.Hash,
		Salt:            params.Salt,
		Role:            role,
		GroupID:         params.GroupID,
		LinkedAccounts:  []LinkedAccount{},
		ServiceSettings: map[string]string{},
		CreatedAt:       time.Now().UTC(),
	}

	if _, err := r.users.InsertOne(ctx, u); err != nil {
		if mongodb.IsDuplicateKey(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// GetByUsername returns the account with the given (case-folded) username.
func (r *MongoRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := r.users.FindOne(ctx, bson.M{"username": Canonical(username)}).Decode(&u)
	if err != nil {
		if mongodb.IsNoDocuments(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user by username: %w", err)
	}
	return &u, nil
}

// GetByEmail returns every account registered under the given email.
func (r *MongoRepository) GetByEmail(ctx context.Context, email string) ([]User, error) {
	cursor, err := r.users.Find(ctx, bson.M{"email": email})
	if err != nil {
		return nil, fmt.Errorf("query users by email: %w", err)
	}
	var users []User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return users, nil
}

// Exists reports whether the username is taken.
func (r *MongoRepository) Exists(ctx context.Context, username string) (bool, error) {
	count, err := r.users.CountDocuments(ctx, bson.M{"username": Canonical(username)})
	if err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	return count > 0, nil
}

// List returns every account. Admin-only surface.
func (r *MongoRepository) List(ctx context.Context) ([]User, error) {
	cursor, err := r.users.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	var users []User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return users, nil
}

// ListByGroup returns the members of a group.
func (r *MongoRepository) ListByGroup(ctx context.Context, groupID string) ([]User, error) {
	cursor, err := r.users.Find(ctx, bson.M{"groupId": groupID})
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	var users []User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("decode group members: %w", err)
	}
	return users, nil
}

// SetPassword replaces the stored hash and salt.
func (r *MongoRepository) SetPassword(ctx context.Context, username, hash, salt string) error {
	return r.updateOne(ctx, username, bson.M{"$set": bson.M{"hash": hash, "salt": salt}})
}

// SetRole changes the site-wide privilege level.
func (r *MongoRepository) SetRole(ctx context.Context, username string, role Role) error {
	return r.updateOne(ctx, username, bson.M{"$set": bson.M{"role": role}})
}

// SetGroup assigns or clears an account's group membership.
func (r *MongoRepository) SetGroup(ctx context.Context, username string, groupID *string) error {
	if groupID == nil {
		return r.updateOne(ctx, username, bson.M{"$unset": bson.M{"groupId": ""}})
	}
	return r.updateOne(ctx, username, bson.M{"$set": bson.M{"groupId": *groupID}})
}

// ClearGroup nulls the membership of every account in the group. Called when
// a group is deleted.
func (r *MongoRepository) ClearGroup(ctx context.Context, groupID string) error {
	_, err := r.users.UpdateMany(ctx,
		bson.M{"groupId": groupID},
		bson.M{"$unset": bson.M{"groupId": ""}},
	)
	if err != nil {
		return fmt.Errorf("clear group membership: %w", err)
	}
	return nil
}

// AddLinkedAccount attaches an external login strategy to the account.
func (r *MongoRepository) AddLinkedAccount(ctx context.Context, username string, account LinkedAccount) error {
	taken, err := r.GetByLinkedAccount(ctx, account)
	if err != nil && err != ErrNotFound {
		return err
	}
	if taken != nil {
		return ErrAlreadyExists
	}
	return r.updateOne(ctx, username, bson.M{"$addToSet": bson.M{"linkedAccounts": account}})
}

// RemoveLinkedAccount detaches an external login strategy.
func (r *MongoRepository) RemoveLinkedAccount(ctx context.Context, username string, account LinkedAccount) error {
	return r.updateOne(ctx, username, bson.M{"$pull": bson.M{"linkedAccounts": account}})
}

// GetByLinkedAccount finds the account holding the given strategy link.
func (r *MongoRepository) GetByLinkedAccount(ctx context.Context, account LinkedAccount) (*User, error) {
	var u User
	err := r.users.FindOne(ctx, bson.M{"linkedAccounts": bson.M{"$elemMatch": bson.M{
		"strategy": account.Strategy,
		"id":       account.ID,
	}}}).Decode(&u)
	if err != nil {
		if mongodb.IsNoDocuments(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user by linked account: %w", err)
	}
	return &u, nil
}

// SetServiceSettings stores a service host's settings blob for the account.
func (r *MongoRepository) SetServiceSettings(ctx context.Context, username, hostID, settings string) error {
	return r.updateOne(ctx, username, bson.M{"$set": bson.M{"serviceSettings." + hostID: settings}})
}

// DeleteServiceSettings removes a service host's settings entry.
func (r *MongoRepository) DeleteServiceSettings(ctx context.Context, username, hostID string) error {
	return r.updateOne(ctx, username, bson.M{"$unset": bson.M{"serviceSettings." + hostID: ""}})
}

// Ban copies the identifying fields into bannedAccounts and removes the
// account record. Both keys stay reserved until an explicit unban.
func (r *MongoRepository) Ban(ctx context.Context, username string) (*BannedAccount, error) {
	u, err := r.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	record := &BannedAccount{
		Username: u.Username,
		Email:    u.Email,
		BannedAt: time.Now().UTC(),
	}
	if _, err := r.banned.InsertOne(ctx, record); err != nil {
		if mongodb.IsDuplicateKey(err) {
			return nil, ErrBanned
		}
		return nil, fmt.Errorf("insert banned account: %w", err)
	}
	if _, err := r.users.DeleteOne(ctx, bson.M{"username": u.Username}); err != nil {
		return nil, fmt.Errorf("delete banned user: %w", err)
	}

	r.log.Info().Str("username", u.Username).Msg("Account banned")
	return record, nil
}

// Unban releases a banned username and email for re-registration.
func (r *MongoRepository) Unban(ctx context.Context, username string) error {
	res, err := r.banned.DeleteOne(ctx, bson.M{"username": Canonical(username)})
	if err != nil {
		return fmt.Errorf("delete banned account: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotBanned
	}
	return nil
}

// IsBanned reports whether either identifier belongs to a banned account.
func (r *MongoRepository) IsBanned(ctx context.Context, username, email string) (bool, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"username": Canonical(username)},
		bson.M{"email": email},
	}}
	count, err := r.banned.CountDocuments(ctx, filter)
	if err != nil {
		return false, fmt.Errorf("count banned accounts: %w", err)
	}
	return count > 0, nil
}

// Delete removes the account record.
func (r *MongoRepository) Delete(ctx context.Context, username string) error {
	res, err := r.users.DeleteOne(ctx, bson.M{"username": Canonical(username)})
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRepository) updateOne(ctx context.Context, username string, update bson.M) error {
	res, err := r.users.UpdateOne(ctx, bson.M{"username": Canonical(username)}, update)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
