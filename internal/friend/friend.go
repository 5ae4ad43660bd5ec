// Package friend manages the friendship graph: invites, approvals, and
// blocks. A block always wins over a pending or approved link in either
// direction.
package friend

import (
	"context"
	"errors"
	"time"
)

// State is the lifecycle of a friend link.
type State string

const (
	Pending  State = "pending"
	Approved State = "approved"
	Blocked  State = "blocked"
)

// Link is a directed edge from sender to recipient. Approved links count as
// friendship in both directions; a blocked link suppresses contact in both
// directions regardless of who created it.
type Link struct {
	Sender    string    `bson:"sender" json:"sender"`
	Recipient string    `bson:"recipient" json:"recipient"`
	State     State     `bson:"state" json:"state"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// InviteOutcome tells the caller what SendInvite actually did.
type InviteOutcome string

const (
	// InviteSent means a fresh pending invite now awaits the recipient.
	InviteSent InviteOutcome = "sent"
	// InviteApproved means a reverse pending invite existed, so the pair
	// became friends immediately.
	InviteApproved InviteOutcome = "approved"
)

var (
	ErrNotFound      = errors.New("friend link not found")
	ErrAlreadyExists = errors.New("friend link already exists")
	// ErrBlocked means a block in either direction forbids contact.
	ErrBlocked = errors.New("user is blocked")
)

// Repository is the persistence surface for friend links.
type Repository interface {
	Get(ctx context.Context, sender, recipient string) (*Link, error)
	// GetBetween returns the link in either direction, if any.
	GetBetween(ctx context.Context, a, b string) (*Link, error)
	ListFriends(ctx context.Context, username string) ([]string, error)
	ListInvites(ctx context.Context, recipient string) ([]Link, error)
	Upsert(ctx context.Context, link *Link) error
	Delete(ctx context.Context, sender, recipient string) error
	// DeleteAllFor removes every link touching username, in one query.
	DeleteAllFor(ctx context.Context, username string) error
}

// Service applies the invite/block rules on top of the repository.
type Service struct {
	repo Repository
}

// NewService creates the friend service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Friends returns the usernames linked to username by an approved link in
// either direction.
func (s *Service) Friends(ctx context.Context, username string) ([]string, error) {
	return s.repo.ListFriends(ctx, username)
}

// Invites returns the pending invites addressed to username.
func (s *Service) Invites(ctx context.Context, username string) ([]Link, error) {
	return s.repo.ListInvites(ctx, username)
}

// Purge removes every link touching username, whichever side it sits on.
// Called when the account is deleted.
func (s *Service) Purge(ctx context.Context, username string) error {
	return s.repo.DeleteAllFor(ctx, username)
}

// SendInvite creates or resolves a friend invite from sender to recipient.
// A reverse pending invite auto-approves; a block in either direction is
// ErrBlocked until the block owner lifts it.
func (s *Service) SendInvite(ctx context.Context, sender, recipient string) (InviteOutcome, error) {
	existing, err := s.repo.GetBetween(ctx, sender, recipient)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", err
	}
	now := time.Now().UTC()

	if existing != nil {
		switch existing.State {
		case Blocked:
			return "", ErrBlocked
		case Approved:
			return InviteApproved, nil
		case Pending:
			if existing.Sender == recipient {
				// They already asked us; that's mutual consent.
				existing.State = Approved
				existing.UpdatedAt = now
				if err := s.repo.Upsert(ctx, existing); err != nil {
					return "", err
				}
				return InviteApproved, nil
			}
			return InviteSent, nil
		}
	}

	link := &Link{
		Sender:    sender,
		Recipient: recipient,
		State:     Pending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Upsert(ctx, link); err != nil {
		return "", err
	}
	return InviteSent, nil
}

// RespondToInvite approves or rejects a pending invite addressed to
// recipient. Rejection removes the link so the sender may try again later.
func (s *Service) RespondToInvite(ctx context.Context, sender, recipient string, approve bool) error {
	link, err := s.repo.Get(ctx, sender, recipient)
	if err != nil {
		return err
	}
	if link.State != Pending {
		return ErrNotFound
	}
	if !approve {
		return s.repo.Delete(ctx, sender, recipient)
	}
	link.State = Approved
	link.UpdatedAt = time.Now().UTC()
	return s.repo.Upsert(ctx, link)
}

// Unfriend removes an approved link between the two users.
func (s *Service) Unfriend(ctx context.Context, username, friend string) error {
	link, err := s.repo.GetBetween(ctx, username, friend)
	if err != nil {
		return err
	}
	if link.State != Approved {
		return ErrNotFound
	}
	return s.repo.Delete(ctx, link.Sender, link.Recipient)
}

// Block replaces any existing link between the users with a block owned by
// username.
func (s *Service) Block(ctx context.Context, username, target string) error {
	existing, err := s.repo.GetBetween(ctx, username, target)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if existing != nil {
		if existing.State == Blocked && existing.Sender != username {
			// Both directions blocked reduces to the existing record.
			return nil
		}
		if err := s.repo.Delete(ctx, existing.Sender, existing.Recipient); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	now := time.Now().UTC()
	return s.repo.Upsert(ctx, &Link{
		Sender:    username,
		Recipient: target,
		State:     Blocked,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// Unblock removes username's block on target. Blocks created by the other
// side stay.
func (s *Service) Unblock(ctx context.Context, username, target string) error {
	link, err := s.repo.Get(ctx, username, target)
	if err != nil {
		return err
	}
	if link.State != Blocked {
		return ErrNotFound
	}
	return s.repo.Delete(ctx, username, target)
}

// IsBlocked reports whether contact between the two users is suppressed.
func (s *Service) IsBlocked(ctx context.Context, a, b string) (bool, error) {
	link, err := s.repo.GetBetween(ctx, a, b)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return link.State == Blocked, nil
}

// AreFriends reports whether an approved link exists between the two users.
func (s *Service) AreFriends(ctx context.Context, a, b string) (bool, error) {
	link, err := s.repo.GetBetween(ctx, a, b)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return link.State == Approved, nil
}
