package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/netsblox/cloud/internal/mongodb"
)

// ErrInvalidToken covers unknown, used, and expired reset tokens.
var ErrInvalidToken = errors.New("invalid or expired token")

// resetToken is a one-time password-reset credential. The collection has a
// TTL index on createdAt, so expiry needs no sweeper.
type resetToken struct {
	Username  string    `bson:"username"`
	Token     string    `bson:"token"`
	CreatedAt time.Time `bson:"createdAt"`
}

// ResetTokens issues and redeems one-time password-reset tokens.
type ResetTokens struct {
	tokens *mongo.Collection
}

// NewResetTokens creates the token store on the passwordTokens collection.
func NewResetTokens(db *mongo.Database) *ResetTokens {
	return &ResetTokens{tokens: db.Collection("passwordTokens")}
}

// Issue replaces any outstanding token for the user with a fresh one.
func (r *ResetTokens) Issue(ctx context.Context, username string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	token := hex.EncodeToString(buf)

	if _, err := r.tokens.DeleteMany(ctx, bson.M{"username": username}); err != nil {
		return "", fmt.Errorf("clear old tokens: %w", err)
	}
	_, err := r.tokens.InsertOne(ctx, resetToken{
		Username:  username,
		Token:     token,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("insert reset token: %w", err)
	}
	return token, nil
}

// Redeem consumes the token. It succeeds at most once per Issue.
func (r *ResetTokens) Redeem(ctx context.Context, username, token string) error {
	res, err := r.tokens.DeleteOne(ctx, bson.M{"username": username, "token": token})
	if err != nil {
		if mongodb.IsNoDocuments(err) {
			return ErrInvalidToken
		}
		return fmt.Errorf("redeem reset token: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrInvalidToken
	}
	return nil
}
