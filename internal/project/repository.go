package project

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/netsblox/cloud/internal/mongodb"
)

// MongoRepository implements Repository on the projectMetadata collection.
// Reads by ID go through an LRU cache; every mutation evicts the entry so
// the cache never outlives the document state.
type MongoRepository struct {
	projects *mongo.Collection
	cache    *lru.Cache[string, Metadata]
	log      zerolog.Logger
}

// NewMongoRepository creates a MongoDB-backed project repository with a
// metadata cache of the given size.
func NewMongoRepository(db *mongo.Database, cacheSize int, logger zerolog.Logger) (*MongoRepository, error) {
	cache, err := lru.New[string, Metadata](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("metadata cache: %w", err)
	}
	return &MongoRepository{
		projects: db.Collection("projectMetadata"),
		cache:    cache,
		log:      logger.With().Str("component", "projects").Logger(),
	}, nil
}

// Create inserts a project. Collisions with the owner's existing project
// names are resolved by appending the smallest free " (k)" suffix.
func (r *MongoRepository) Create(ctx context.Context, meta *Metadata) (*Metadata, error) {
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if meta.OriginTime.IsZero() {
		meta.OriginTime = now
	}
	meta.Updated = now
	if meta.State == "" {
		meta.State = Private
	}
	if meta.SaveState == "" {
		meta.SaveState = Created
	}
	if meta.Roles == nil {
		meta.Roles = map[string]RoleMetadata{}
	}
	if meta.Collaborators == nil {
		meta.Collaborators = []string{}
	}
	if meta.Traces == nil {
		meta.Traces = []TraceMetadata{}
	}

	// The unique (owner, name) index backs resolveName: losing the race for
	// a name surfaces as a duplicate-key error, so pick again and retry.
	for attempt := 0; attempt < nameRetries; attempt++ {
		name, err := r.resolveName(ctx, meta.Owner, meta.Name, "")
		if err != nil {
			return nil, err
		}
		stored := *meta
		stored.Name = name
		if _, err := r.projects.InsertOne(ctx, &stored); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				continue
			}
			return nil, fmt.Errorf("insert project: %w", err)
		}
		return &stored, nil
	}
	return nil, fmt.Errorf("insert project %q: name contention not resolved", meta.Name)
}

// Get returns the project with the given ID, from cache when possible.
func (r *MongoRepository) Get(ctx context.Context, id string) (*Metadata, error) {
	if meta, ok := r.cache.Get(id); ok {
		return &meta, nil
	}
	var meta Metadata
	if err := r.projects.FindOne(ctx, bson.M{"id": id}).Decode(&meta); err != nil {
		if mongodb.IsNoDocuments(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query project: %w", err)
	}
	r.cache.Add(id, meta)
	return &meta, nil
}

// GetByName returns the owner's project with the given name.
func (r *MongoRepository) GetByName(ctx context.Context, owner, name string) (*Metadata, error) {
	var meta Metadata
	if err := r.projects.FindOne(ctx, bson.M{"owner": owner, "name": name}).Decode(&meta); err != nil {
		if mongodb.IsNoDocuments(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query project by name: %w", err)
	}
	r.cache.Add(meta.ID, meta)
	return &meta, nil
}

// ListByOwner returns all of the owner's projects.
func (r *MongoRepository) ListByOwner(ctx context.Context, owner string) ([]Metadata, error) {
	return r.list(ctx, bson.M{"owner": owner})
}

// ListSharedWith returns projects that name the user as a collaborator.
func (r *MongoRepository) ListSharedWith(ctx context.Context, collaborator string) ([]Metadata, error) {
	return r.list(ctx, bson.M{"collaborators": collaborator})
}

// ListPublic returns projects published to the community gallery.
func (r *MongoRepository) ListPublic(ctx context.Context) ([]Metadata, error) {
	return r.list(ctx, bson.M{"state": Public})
}

func (r *MongoRepository) list(ctx context.Context, filter bson.M) ([]Metadata, error) {
	cursor, err := r.projects.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	var projects []Metadata
	if err := cursor.All(ctx, &projects); err != nil {
		return nil, fmt.Errorf("decode projects: %w", err)
	}
	return projects, nil
}

// Rename changes the display name, resolving collisions the same way Create
// does, and returns the stored name.
func (r *MongoRepository) Rename(ctx context.Context, id, name string) (string, error) {
	meta, err := r.Get(ctx, id)
	if err != nil {
		return "", err
	}
	for attempt := 0; attempt < nameRetries; attempt++ {
		stored, err := r.resolveName(ctx, meta.Owner, name, id)
		if err != nil {
			return "", err
		}
		res, err := r.projects.UpdateOne(ctx, bson.M{"id": id},
			bson.M{"$set": bson.M{"name": stored, "updated": time.Now().UTC()}})
		r.cache.Remove(id)
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				continue
			}
			return "", fmt.Errorf("rename project: %w", err)
		}
		if res.MatchedCount == 0 {
			return "", ErrNotFound
		}
		return stored, nil
	}
	return "", fmt.Errorf("rename project %q: name contention not resolved", name)
}

// RenameRole changes a role's display name.
func (r *MongoRepository) RenameRole(ctx context.Context, id, roleID, name string) error {
	res, err := r.projects.UpdateOne(ctx,
		bson.M{"id": id, "roles." + roleID: bson.M{"$exists": true}},
		bson.M{"$set": bson.M{
			"roles." + roleID + ".name": name,
			"updated":                   time.Now().UTC(),
		}})
	if err != nil {
		return fmt.Errorf("rename role: %w", err)
	}
	r.cache.Remove(id)
	if res.MatchedCount == 0 {
		return ErrRoleNotFound
	}
	return nil
}

// SetPublishState updates the publish state.
func (r *MongoRepository) SetPublishState(ctx context.Context, id string, state PublishState) error {
	return r.update(ctx, id, bson.M{"$set": bson.M{"state": state}})
}

// SetSaveState moves the project through its lifecycle. A nil deleteAt
// clears any pending deletion.
func (r *MongoRepository) SetSaveState(ctx context.Context, id string, state SaveState, deleteAt *time.Time) error {
	update := bson.M{"$set": bson.M{"saveState": state}}
	if deleteAt == nil {
		update["$unset"] = bson.M{"deleteAt": ""}
	} else {
		update["$set"].(bson.M)["deleteAt"] = deleteAt.UTC()
	}
	return r.update(ctx, id, update)
}

// UpsertRole writes role metadata guarded by the project's updated stamp.
func (r *MongoRepository) UpsertRole(ctx context.Context, id, roleID string, role RoleMetadata, expected time.Time) error {
	now := time.Now().UTC()
	role.Updated = now
	res, err := r.projects.UpdateOne(ctx,
		bson.M{"id": id, "updated": expected},
		bson.M{"$set": bson.M{
			"roles." + roleID: role,
			"updated":         now,
		}})
	if err != nil {
		return fmt.Errorf("upsert role: %w", err)
	}
	r.cache.Remove(id)
	if res.MatchedCount == 0 {
		// Distinguish a missing project from a concurrent write.
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return getErr
		}
		return ErrStaleWrite
	}
	return nil
}

// RemoveRole deletes a role entry. A project always keeps at least one role.
func (r *MongoRepository) RemoveRole(ctx context.Context, id, roleID string) error {
	meta, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, ok := meta.Roles[roleID]; !ok {
		return ErrRoleNotFound
	}
	if len(meta.Roles) == 1 {
		return ErrLastRole
	}
	return r.update(ctx, id, bson.M{
		"$unset": bson.M{"roles." + roleID: ""},
		"$set":   bson.M{"updated": time.Now().UTC()},
	})
}

// AddCollaborator grants shared edit access.
func (r *MongoRepository) AddCollaborator(ctx context.Context, id, username string) error {
	return r.update(ctx, id, bson.M{"$addToSet": bson.M{"collaborators": username}})
}

// RemoveCollaborator revokes shared edit access.
func (r *MongoRepository) RemoveCollaborator(ctx context.Context, id, username string) error {
	return r.update(ctx, id, bson.M{"$pull": bson.M{"collaborators": username}})
}

// StartTrace opens a new capture window on the project.
func (r *MongoRepository) StartTrace(ctx context.Context, id string) (*TraceMetadata, error) {
	trace := TraceMetadata{ID: uuid.NewString(), StartTime: time.Now().UTC()}
	if err := r.update(ctx, id, bson.M{"$push": bson.M{"networkTraces": trace}}); err != nil {
		return nil, err
	}
	return &trace, nil
}

// StopTrace closes a capture window.
func (r *MongoRepository) StopTrace(ctx context.Context, id, traceID string) error {
	now := time.Now().UTC()
	res, err := r.projects.UpdateOne(ctx,
		bson.M{"id": id, "networkTraces.id": traceID},
		bson.M{"$set": bson.M{"networkTraces.$.endTime": now}})
	if err != nil {
		return fmt.Errorf("stop trace: %w", err)
	}
	r.cache.Remove(id)
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoveTrace deletes a capture window's metadata. The recorded messages
// expire on their own TTL.
func (r *MongoRepository) RemoveTrace(ctx context.Context, id, traceID string) error {
	return r.update(ctx, id, bson.M{"$pull": bson.M{"networkTraces": bson.M{"id": traceID}}})
}

// ListExpired returns sweepable projects: transient or broken with an
// elapsed deleteAt.
func (r *MongoRepository) ListExpired(ctx context.Context, now time.Time) ([]Metadata, error) {
	return r.list(ctx, bson.M{
		"saveState": bson.M{"$in": bson.A{Transient, Broken}},
		"deleteAt":  bson.M{"$lte": now.UTC()},
	})
}

// ReferencedBlobKeys collects every blob key held by any project. The blob
// reconciler subtracts this set from the bucket listing.
func (r *MongoRepository) ReferencedBlobKeys(ctx context.Context) (map[string]struct{}, error) {
	cursor, err := r.projects.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	keys := make(map[string]struct{})
	for cursor.Next(ctx) {
		var meta Metadata
		if err := cursor.Decode(&meta); err != nil {
			return nil, fmt.Errorf("decode project: %w", err)
		}
		for _, key := range meta.BlobKeys() {
			keys[key] = struct{}{}
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return keys, nil
}

// Delete removes the metadata record. Blob cleanup is the service's job.
func (r *MongoRepository) Delete(ctx context.Context, id string) error {
	res, err := r.projects.DeleteOne(ctx, bson.M{"id": id})
	r.cache.Remove(id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// nameRetries bounds how often a writer re-resolves a name after losing a
// duplicate-key race on the unique (owner, name) index.
const nameRetries = 3

// resolveName picks a free name for the owner, ignoring the project being
// renamed (excludeID). The unique (owner, name) index enforces the result;
// callers retry on duplicate-key errors.
func (r *MongoRepository) resolveName(ctx context.Context, owner, base, excludeID string) (string, error) {
	cursor, err := r.projects.Find(ctx, bson.M{"owner": owner})
	if err != nil {
		return "", fmt.Errorf("list owner projects: %w", err)
	}
	var existing []Metadata
	if err := cursor.All(ctx, &existing); err != nil {
		return "", fmt.Errorf("decode owner projects: %w", err)
	}
	taken := make(map[string]struct{}, len(existing))
	for _, p := range existing {
		if p.ID == excludeID {
			continue
		}
		taken[p.Name] = struct{}{}
	}
	return UniqueName(base, taken), nil
}

func (r *MongoRepository) update(ctx context.Context, id string, update bson.M) error {
	res, err := r.projects.UpdateOne(ctx, bson.M{"id": id}, update)
	r.cache.Remove(id)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
