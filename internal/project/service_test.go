package project

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/netsblox/cloud/internal/blob"
	"github.com/netsblox/cloud/internal/metrics"
)

// fakeRepo is an in-memory Repository for service tests.
type fakeRepo struct {
	mu       sync.Mutex
	projects map[string]*Metadata

	// failNextUpsert simulates one concurrent writer.
	failNextUpsert int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{projects: map[string]*Metadata{}}
}

func (f *fakeRepo) Create(ctx context.Context, meta *Metadata) (*Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	taken := map[string]struct{}{}
	for _, p := range f.projects {
		if p.Owner == meta.Owner {
			taken[p.Name] = struct{}{}
		}
	}
	meta.Name = UniqueName(meta.Name, taken)
	meta.Updated = time.Now().UTC()
	if meta.SaveState == "" {
		meta.SaveState = Created
	}
	copied := *meta
	f.projects[meta.ID] = &copied
	return meta, nil
}

func (f *fakeRepo) Get(ctx context.Context, id string) (*Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	meta, ok := f.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *meta
	copied.Roles = map[string]RoleMetadata{}
	for k, v := range meta.Roles {
		copied.Roles[k] = v
	}
	return &copied, nil
}

func (f *fakeRepo) GetByName(ctx context.Context, owner, name string) (*Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.projects {
		if p.Owner == owner && p.Name == name {
			copied := *p
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeRepo) ListByOwner(ctx context.Context, owner string) ([]Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Metadata
	for _, p := range f.projects {
		if p.Owner == owner {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListSharedWith(ctx context.Context, collaborator string) ([]Metadata, error) {
	return nil, nil
}

func (f *fakeRepo) ListPublic(ctx context.Context) ([]Metadata, error) { return nil, nil }

func (f *fakeRepo) Rename(ctx context.Context, id, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	meta, ok := f.projects[id]
	if !ok {
		return "", ErrNotFound
	}
	taken := map[string]struct{}{}
	for _, p := range f.projects {
		if p.Owner == meta.Owner && p.ID != id {
			taken[p.Name] = struct{}{}
		}
	}
	meta.Name = UniqueName(name, taken)
	return meta.Name, nil
}

func (f *fakeRepo) RenameRole(ctx context.Context, id, roleID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	meta, ok := f.projects[id]
	if !ok {
		return ErrNotFound
	}
	role, ok := meta.Roles[roleID]
	if !ok {
		return ErrRoleNotFound
	}
	role.Name = name
	meta.Roles[roleID] = role
	return nil
}

func (f *fakeRepo) SetPublishState(ctx context.Context, id string, state PublishState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	meta, ok := f.projects[id]
	if !ok {
		return ErrNotFound
	}
	meta.State = state
	return nil
}

func (f *fakeRepo) SetSaveState(ctx context.Context, id string, state SaveState, deleteAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	meta, ok := f.projects[id]
	if !ok {
		return ErrNotFound
	}
	meta.SaveState = state
	meta.DeleteAt = deleteAt
	return nil
}

func (f *fakeRepo) UpsertRole(ctx context.Context, id, roleID string, role RoleMetadata, expected time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	meta, ok := f.projects[id]
	if !ok {
		return ErrNotFound
	}
	if f.failNextUpsert > 0 {
		f.failNextUpsert--
		meta.Updated = time.Now().UTC().Add(time.Millisecond)
		return ErrStaleWrite
	}
	if !meta.Updated.Equal(expected) {
		return ErrStaleWrite
	}
	if meta.Roles == nil {
		meta.Roles = map[string]RoleMetadata{}
	}
	role.Updated = time.Now().UTC()
	meta.Roles[roleID] = role
	meta.Updated = role.Updated
	return nil
}

func (f *fakeRepo) RemoveRole(ctx context.Context, id, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	meta, ok := f.projects[id]
	if !ok {
		return ErrNotFound
	}
	if _, ok := meta.Roles[roleID]; !ok {
		return ErrRoleNotFound
	}
	if len(meta.Roles) == 1 {
		return ErrLastRole
	}
	delete(meta.Roles, roleID)
	return nil
}

func (f *fakeRepo) AddCollaborator(ctx context.Context, id, username string) error    { return nil }
func (f *fakeRepo) RemoveCollaborator(ctx context.Context, id, username string) error { return nil }

func (f *fakeRepo) StartTrace(ctx context.Context, id string) (*TraceMetadata, error) {
	return &TraceMetadata{ID: uuid.NewString(), StartTime: time.Now().UTC()}, nil
}
func (f *fakeRepo) StopTrace(ctx context.Context, id, traceID string) error   { return nil }
func (f *fakeRepo) RemoveTrace(ctx context.Context, id, traceID string) error { return nil }

func (f *fakeRepo) ListExpired(ctx context.Context, now time.Time) ([]Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Metadata
	for _, p := range f.projects {
		if (p.SaveState == Transient || p.SaveState == Broken) &&
			p.DeleteAt != nil && !p.DeleteAt.After(now) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeRepo) ReferencedBlobKeys(ctx context.Context) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := map[string]struct{}{}
	for _, p := range f.projects {
		for _, k := range p.BlobKeys() {
			keys[k] = struct{}{}
		}
	}
	return keys, nil
}

func (f *fakeRepo) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.projects[id]; !ok {
		return ErrNotFound
	}
	delete(f.projects, id)
	return nil
}

func newTestService(repo *fakeRepo, store blob.Store) *Service {
	return NewService(repo, store, metrics.New(), zerolog.Nop())
}

func TestUniqueName(t *testing.T) {
	taken := map[string]struct{}{
		"game":     {},
		"game (2)": {},
	}
	tests := []struct {
		base string
		want string
	}{
		{"fresh", "fresh"},
		{"game", "game (3)"},
		{"game (2)", "game (2) (2)"},
	}
	for _, tt := range tests {
		if got := UniqueName(tt.base, taken); got != tt.want {
			t.Errorf("UniqueName(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestValidName(t *testing.T) {
	for name, want := range map[string]bool{
		"my project":   true,
		"":             false,
		"   ":          false,
		"role@project": false,
		"tagged#app":   false,
	} {
		if got := ValidName(name); got != want {
			t.Errorf("ValidName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestCreateResolvesNameCollision(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, blob.NewMemoryStore())
	ctx := context.Background()

	first, err := svc.Create(ctx, "brian", "game", nil, Created)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.Name != "game" {
		t.Fatalf("first name = %q, want game", first.Name)
	}

	second, err := svc.Create(ctx, "brian", "game", nil, Created)
	if err != nil {
		t.Fatalf("create duplicate: %v", err)
	}
	if second.Name != "game (2)" {
		t.Fatalf("second name = %q, want \"game (2)\"", second.Name)
	}
}

func TestSaveRoleReplacesBlobs(t *testing.T) {
	repo := newFakeRepo()
	store := blob.NewMemoryStore()
	svc := newTestService(repo, store)
	ctx := context.Background()

	meta, err := svc.Create(ctx, "brian", "game", []RoleData{{Name: "myRole", Code: "<v1>", Media: "<m1>"}}, Created)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var roleID string
	var oldRole RoleMetadata
	for id, role := range meta.Roles {
		roleID, oldRole = id, role
	}

	if err := svc.SaveRole(ctx, meta.ID, roleID, RoleData{Name: "myRole", Code: "<v2>", Media: "<m2>"}); err != nil {
		t.Fatalf("save role: %v", err)
	}

	updated, err := repo.Get(ctx, meta.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	newRole := updated.Roles[roleID]
	if newRole.CodeKey == oldRole.CodeKey {
		t.Error("code key was not rotated")
	}
	if _, err := store.Get(ctx, oldRole.CodeKey); !errors.Is(err, blob.ErrNotFound) {
		t.Errorf("old code blob still present (err=%v)", err)
	}
	code, err := store.Get(ctx, newRole.CodeKey)
	if err != nil {
		t.Fatalf("get new code blob: %v", err)
	}
	if string(code) != "<v2>" {
		t.Errorf("stored code = %q, want <v2>", code)
	}
}

func TestSaveRoleRetriesStaleWrite(t *testing.T) {
	repo := newFakeRepo()
	store := blob.NewMemoryStore()
	svc := newTestService(repo, store)
	ctx := context.Background()

	meta, err := svc.Create(ctx, "brian", "game", []RoleData{{Name: "myRole", Code: "<v1>"}}, Created)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var roleID string
	for id := range meta.Roles {
		roleID = id
	}

	repo.failNextUpsert = 1
	if err := svc.SaveRole(ctx, meta.ID, roleID, RoleData{Name: "myRole", Code: "<v2>"}); err != nil {
		t.Fatalf("save role after one conflict: %v", err)
	}
}

func TestMarkTransientSkipsSavedProjects(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, blob.NewMemoryStore())
	ctx := context.Background()

	meta, err := svc.Create(ctx, "brian", "game", nil, Created)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Persist(ctx, meta.ID); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := svc.MarkTransient(ctx, meta.ID, 15*time.Minute); err != nil {
		t.Fatalf("mark transient: %v", err)
	}

	got, _ := repo.Get(ctx, meta.ID)
	if got.SaveState != Saved {
		t.Errorf("save state = %q, saved projects must not become transient", got.SaveState)
	}
	if got.DeleteAt != nil {
		t.Error("deleteAt set on a saved project")
	}
}

func TestReopenCancelsPendingDelete(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, blob.NewMemoryStore())
	ctx := context.Background()

	meta, err := svc.Create(ctx, "brian", "game", nil, Created)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.MarkTransient(ctx, meta.ID, time.Minute); err != nil {
		t.Fatalf("mark transient: %v", err)
	}
	got, _ := repo.Get(ctx, meta.ID)
	if got.SaveState != Transient || got.DeleteAt == nil {
		t.Fatalf("expected transient with deleteAt, got %q %v", got.SaveState, got.DeleteAt)
	}

	if err := svc.Reopen(ctx, meta.ID); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, _ = repo.Get(ctx, meta.ID)
	if got.SaveState != Created {
		t.Errorf("save state = %q, want created", got.SaveState)
	}
	if got.DeleteAt != nil {
		t.Error("deleteAt survived reopen")
	}
}

func TestDeleteRemovesBlobs(t *testing.T) {
	repo := newFakeRepo()
	store := blob.NewMemoryStore()
	svc := newTestService(repo, store)
	ctx := context.Background()

	meta, err := svc.Create(ctx, "brian", "game", []RoleData{{Name: "myRole", Code: "<v1>", Media: "<m1>"}}, Created)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	keys := meta.BlobKeys()
	if len(keys) != 2 {
		t.Fatalf("expected 2 blob keys, got %d", len(keys))
	}

	if err := svc.Delete(ctx, meta.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	for _, key := range keys {
		if _, err := store.Get(ctx, key); !errors.Is(err, blob.ErrNotFound) {
			t.Errorf("blob %s still present (err=%v)", key, err)
		}
	}
	if _, err := repo.Get(ctx, meta.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("metadata still present (err=%v)", err)
	}
}

func TestRemoveLastRoleRefused(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, blob.NewMemoryStore())
	ctx := context.Background()

	meta, err := svc.Create(ctx, "brian", "game", nil, Created)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var roleID string
	for id := range meta.Roles {
		roleID = id
	}
	if err := svc.RemoveRole(ctx, meta.ID, roleID); !errors.Is(err, ErrLastRole) {
		t.Errorf("removing the only role: err = %v, want ErrLastRole", err)
	}
}
