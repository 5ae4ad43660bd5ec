// Package library manages user block libraries and the community gallery
// moderation queue.
package library

import (
	"context"
	"errors"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/netsblox/cloud/internal/filter"
)

// State is the publication state of a library.
type State string

const (
	Private         State = "private"
	PendingApproval State = "pendingApproval"
	Public          State = "public"
)

// Library is a named bundle of blocks XML with free-form notes. Names are
// unique per owner.
type Library struct {
	Owner     string    `bson:"owner" json:"owner"`
	Name      string    `bson:"name" json:"name"`
	Notes     string    `bson:"notes" json:"notes"`
	Blocks    string    `bson:"blocks" json:"blocks"`
	State     State     `bson:"state" json:"state"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

var (
	ErrNotFound = errors.New("library not found")
)

// Repository is the persistence surface for libraries.
type Repository interface {
	Upsert(ctx context.Context, lib *Library) error
	Get(ctx context.Context, owner, name string) (*Library, error)
	ListByOwner(ctx context.Context, owner string) ([]Library, error)
	ListPublic(ctx context.Context) ([]Library, error)
	ListPendingApproval(ctx context.Context) ([]Library, error)
	SetState(ctx context.Context, owner, name string, state State) error
	Delete(ctx context.Context, owner, name string) error
}

// Service sanitises library content on write and routes publications through
// the moderation queue when the text filter objects.
type Service struct {
	repo      Repository
	approval  filter.Text
	sanitizer *bluemonday.Policy
}

// NewService creates the library service. The text filter decides which
// publications need a moderator's eye.
func NewService(repo Repository, approval filter.Text) *Service {
	return &Service{
		repo:      repo,
		approval:  approval,
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// Save stores a library under (owner, name), stripping markup from the
// notes. A public library edited in place goes back through moderation.
func (s *Service) Save(ctx context.Context, owner, name, notes, blocks string) (*Library, error) {
	now := time.Now().UTC()
	lib := &Library{
		Owner:     owner,
		Name:      name,
		Notes:     s.sanitizer.Sanitize(notes),
		Blocks:    blocks,
		State:     Private,
		UpdatedAt: now,
	}

	existing, err := s.repo.Get(ctx, owner, name)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		lib.CreatedAt = existing.CreatedAt
		if existing.State == Public || existing.State == PendingApproval {
			lib.State = s.publicationState(lib)
		}
	} else {
		lib.CreatedAt = now
	}

	if err := s.repo.Upsert(ctx, lib); err != nil {
		return nil, err
	}
	return lib, nil
}

// Get returns one library.
func (s *Service) Get(ctx context.Context, owner, name string) (*Library, error) {
	return s.repo.Get(ctx, owner, name)
}

// ListByOwner returns all of the owner's libraries.
func (s *Service) ListByOwner(ctx context.Context, owner string) ([]Library, error) {
	return s.repo.ListByOwner(ctx, owner)
}

// ListCommunity returns the approved public libraries.
func (s *Service) ListCommunity(ctx context.Context) ([]Library, error) {
	return s.repo.ListPublic(ctx)
}

// ListPendingApproval returns the moderation queue.
func (s *Service) ListPendingApproval(ctx context.Context) ([]Library, error) {
	return s.repo.ListPendingApproval(ctx)
}

// Publish submits the library to the gallery. Clean text goes public
// immediately; flagged text waits for moderation. The resulting state is
// returned so the client can explain the delay.
func (s *Service) Publish(ctx context.Context, owner, name string) (State, error) {
	lib, err := s.repo.Get(ctx, owner, name)
	if err != nil {
		return "", err
	}
	state := s.publicationState(lib)
	if err := s.repo.SetState(ctx, owner, name, state); err != nil {
		return "", err
	}
	return state, nil
}

// Unpublish withdraws the library from the gallery.
func (s *Service) Unpublish(ctx context.Context, owner, name string) error {
	return s.repo.SetState(ctx, owner, name, Private)
}

// Moderate records a moderator's decision on a pending library.
func (s *Service) Moderate(ctx context.Context, owner, name string, approve bool) error {
	state := Private
	if approve {
		state = Public
	}
	return s.repo.SetState(ctx, owner, name, state)
}

// Delete removes the library.
func (s *Service) Delete(ctx context.Context, owner, name string) error {
	return s.repo.Delete(ctx, owner, name)
}

func (s *Service) publicationState(lib *Library) State {
	if s.approval.IsInappropriate(lib.Name) || s.approval.IsInappropriate(lib.Notes) {
		return PendingApproval
	}
	return Public
}
