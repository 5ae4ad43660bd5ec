package project

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/netsblox/cloud/internal/blob"
	"github.com/netsblox/cloud/internal/metrics"
)

// maxSaveRetries bounds the optimistic-write retry loop in SaveRole.
const maxSaveRetries = 3

// Service coordinates metadata and blob writes so neither store is left
// pointing at the other's garbage. Blob writes commit before the metadata
// update; old keys are deleted only after the metadata no longer references
// them. Failures in between leave orphaned blobs for the reconciler, never
// dangling metadata.
type Service struct {
	repo    Repository
	blobs   blob.Store
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewService creates the project service.
func NewService(repo Repository, blobs blob.Store, m *metrics.Metrics, logger zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		blobs:   blobs,
		metrics: m,
		log:     logger.With().Str("component", "projects").Logger(),
	}
}

// Repo exposes the underlying repository for read paths that need no blob
// coordination.
func (s *Service) Repo() Repository { return s.repo }

// Create stores a new project with the given roles. An empty role list gets
// a single default role so the project is always openable.
func (s *Service) Create(ctx context.Context, owner, name string, roles []RoleData, state SaveState) (*Metadata, error) {
	if name == "" {
		name = DefaultName
	}
	if !ValidName(name) {
		return nil, fmt.Errorf("invalid project name %q", name)
	}
	if len(roles) == 0 {
		roles = []RoleData{{Name: "myRole"}}
	}

	meta := &Metadata{
		Owner:     owner,
		Name:      name,
		SaveState: state,
		Roles:     make(map[string]RoleMetadata, len(roles)),
	}
	var written []string
	for _, role := range roles {
		stored, err := s.writeRole(ctx, role)
		if err != nil {
			s.discard(ctx, written)
			return nil, err
		}
		written = append(written, stored.CodeKey, stored.MediaKey)
		meta.Roles[uuid.NewString()] = stored
	}

	created, err := s.repo.Create(ctx, meta)
	if err != nil {
		s.discard(ctx, written)
		return nil, err
	}
	return created, nil
}

// SaveRole replaces a role's content. The new blobs land first, then the
// metadata flips over guarded by the updated stamp, then the superseded
// blobs go away.
func (s *Service) SaveRole(ctx context.Context, id, roleID string, data RoleData) error {
	stored, err := s.writeRole(ctx, data)
	if err != nil {
		return err
	}

	for attempt := 0; attempt < maxSaveRetries; attempt++ {
		meta, err := s.repo.Get(ctx, id)
		if err != nil {
			s.discard(ctx, []string{stored.CodeKey, stored.MediaKey})
			return err
		}
		old, ok := meta.Roles[roleID]
		if !ok {
			s.discard(ctx, []string{stored.CodeKey, stored.MediaKey})
			return ErrRoleNotFound
		}
		if stored.Name == "" {
			stored.Name = old.Name
		}

		err = s.repo.UpsertRole(ctx, id, roleID, stored, meta.Updated)
		if errors.Is(err, ErrStaleWrite) {
			continue
		}
		if err != nil {
			s.discard(ctx, []string{stored.CodeKey, stored.MediaKey})
			return err
		}

		s.discard(ctx, []string{old.CodeKey, old.MediaKey})
		s.metrics.ProjectsSaved.Inc()
		return nil
	}
	s.discard(ctx, []string{stored.CodeKey, stored.MediaKey})
	return ErrStaleWrite
}

// AddRole appends a fresh role to the project.
func (s *Service) AddRole(ctx context.Context, id string, data RoleData) (string, error) {
	stored, err := s.writeRole(ctx, data)
	if err != nil {
		return "", err
	}
	roleID := uuid.NewString()
	for attempt := 0; attempt < maxSaveRetries; attempt++ {
		meta, err := s.repo.Get(ctx, id)
		if err != nil {
			s.discard(ctx, []string{stored.CodeKey, stored.MediaKey})
			return "", err
		}
		err = s.repo.UpsertRole(ctx, id, roleID, stored, meta.Updated)
		if errors.Is(err, ErrStaleWrite) {
			continue
		}
		if err != nil {
			s.discard(ctx, []string{stored.CodeKey, stored.MediaKey})
			return "", err
		}
		return roleID, nil
	}
	s.discard(ctx, []string{stored.CodeKey, stored.MediaKey})
	return "", ErrStaleWrite
}

// RemoveRole deletes a role and its blobs.
func (s *Service) RemoveRole(ctx context.Context, id, roleID string) error {
	meta, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	old, ok := meta.Roles[roleID]
	if !ok {
		return ErrRoleNotFound
	}
	if err := s.repo.RemoveRole(ctx, id, roleID); err != nil {
		return err
	}
	s.discard(ctx, []string{old.CodeKey, old.MediaKey})
	return nil
}

// GetRoleData fetches a role's full content from the blob store.
func (s *Service) GetRoleData(ctx context.Context, meta *Metadata, roleID string) (*RoleData, error) {
	role, ok := meta.Roles[roleID]
	if !ok {
		return nil, ErrRoleNotFound
	}
	code, err := s.blobs.Get(ctx, role.CodeKey)
	if err != nil {
		return nil, fmt.Errorf("fetch role code: %w", err)
	}
	media, err := s.blobs.Get(ctx, role.MediaKey)
	if err != nil {
		return nil, fmt.Errorf("fetch role media: %w", err)
	}
	return &RoleData{Name: role.Name, Code: string(code), Media: string(media)}, nil
}

// Delete removes the project and then its blobs. A crash between the two
// leaves orphans for the reconciler.
func (s *Service) Delete(ctx context.Context, id string) error {
	meta, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.discard(ctx, meta.BlobKeys())
	return nil
}

// MarkTransient schedules the project for deletion after the timeout unless
// it is reopened or already saved.
func (s *Service) MarkTransient(ctx context.Context, id string, timeout time.Duration) error {
	meta, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if meta.SaveState == Saved {
		return nil
	}
	deleteAt := time.Now().UTC().Add(timeout)
	return s.repo.SetSaveState(ctx, id, Transient, &deleteAt)
}

// MarkBroken retains an abnormally closed project for the given window.
func (s *Service) MarkBroken(ctx context.Context, id string, retention time.Duration) error {
	meta, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if meta.SaveState == Saved {
		return nil
	}
	deleteAt := time.Now().UTC().Add(retention)
	return s.repo.SetSaveState(ctx, id, Broken, &deleteAt)
}

// Reopen cancels any pending deletion when a client comes back.
func (s *Service) Reopen(ctx context.Context, id string) error {
	meta, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if meta.SaveState != Transient && meta.SaveState != Broken {
		return nil
	}
	return s.repo.SetSaveState(ctx, id, Created, nil)
}

// Persist marks the project saved. Idempotent.
func (s *Service) Persist(ctx context.Context, id string) error {
	return s.repo.SetSaveState(ctx, id, Saved, nil)
}

func (s *Service) writeRole(ctx context.Context, data RoleData) (RoleMetadata, error) {
	codeKey := "projects/" + uuid.NewString()
	mediaKey := "projects/" + uuid.NewString()
	if err := s.blobs.Put(ctx, codeKey, []byte(data.Code)); err != nil {
		return RoleMetadata{}, fmt.Errorf("store role code: %w", err)
	}
	if err := s.blobs.Put(ctx, mediaKey, []byte(data.Media)); err != nil {
		s.discard(ctx, []string{codeKey})
		return RoleMetadata{}, fmt.Errorf("store role media: %w", err)
	}
	return RoleMetadata{Name: data.Name, CodeKey: codeKey, MediaKey: mediaKey}, nil
}

// discard best-effort deletes blob keys. Failures are logged and left to
// the reconciler.
func (s *Service) discard(ctx context.Context, keys []string) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := s.blobs.Delete(ctx, key); err != nil && !errors.Is(err, blob.ErrNotFound) {
			s.log.Warn().Err(err).Str("key", key).Msg("Failed to delete blob")
		}
	}
}
