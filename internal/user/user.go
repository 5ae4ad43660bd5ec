// Package user manages accounts: creation, lookup, banning, linked login
// strategies, and per-user service settings.
package user

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
)

// Role is the site-wide privilege level of an account.
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// IsPrivileged reports whether the role grants moderation powers.
func (r Role) IsPrivileged() bool {
	return r == RoleModerator || r == RoleAdmin
}

// LinkedAccount ties an account to an external login strategy.
type LinkedAccount struct {
	Strategy string `bson:"strategy" json:"strategy"`
	ID       string `bson:"id" json:"id"`
}

// User is the stored account record. Usernames are case-folded before
// storage so lookups are case-insensitive.
type User struct {
	Username        string            `bson:"username" json:"username"`
	Email           string            `bson:"email" json:"email"`
	Hash            string            `bson:"hash" json:"-"`
	Salt            string            `bson:"salt" json:"-"`
	Role            Role              `bson:"role" json:"role"`
	GroupID         *string           `bson:"groupId,omitempty" json:"groupId,omitempty"`
	LinkedAccounts  []LinkedAccount   `bson:"linkedAccounts" json:"linkedAccounts"`
	ServiceSettings map[string]string `bson:"serviceSettings" json:"-"`
	CreatedAt       time.Time         `bson:"createdAt" json:"createdAt"`
}

// BannedAccount preserves the identifying fields of a banned user so that
// the username and email cannot be re-registered.
type BannedAccount struct {
	Username string    `bson:"username" json:"username"`
	Email    string    `bson:"email" json:"email"`
	BannedAt time.Time `bson:"bannedAt" json:"bannedAt"`
}

// CreateParams is the input for Repository.Create.
type CreateParams struct {
	Username string
	Email    string
	Hash     string
	Salt     string
	Role     Role
	GroupID  *string
}

var (
	ErrNotFound      = errors.New("user not found")
	ErrAlreadyExists = errors.New("username or email already registered")
	ErrBanned        = errors.New("account is banned")
	ErrNotBanned     = errors.New("account is not banned")
)

// Repository is the persistence surface for accounts.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByEmail(ctx context.Context, email string) ([]User, error)
	Exists(ctx context.Context, username string) (bool, error)
	List(ctx context.Context) ([]User, error)
	ListByGroup(ctx context.Context, groupID string) ([]User, error)

	SetPassword(ctx context.Context, username, hash, salt string) error
	SetRole(ctx context.Context, username string, role Role) error
	SetGroup(ctx context.Context, username string, groupID *string) error
	ClearGroup(ctx context.Context, groupID string) error

	AddLinkedAccount(ctx context.Context, username string, account LinkedAccount) error
	RemoveLinkedAccount(ctx context.Context, username string, account LinkedAccount) error
	GetByLinkedAccount(ctx context.Context, account LinkedAccount) (*User, error)

	SetServiceSettings(ctx context.Context, username, hostID, settings string) error
	DeleteServiceSettings(ctx context.Context, username, hostID string) error

	Ban(ctx context.Context, username string) (*BannedAccount, error)
	Unban(ctx context.Context, username string) error
	IsBanned(ctx context.Context, username, email string) (bool, error)
	Delete(ctx context.Context, username string) error
}

// Canonical folds a username to its stored form.
func Canonical(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

var usernamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-]{2,24}$`)

// ValidUsername rejects names that would collide with generated client IDs
// or break address parsing. Usernames start with a letter and stay short.
func ValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}
