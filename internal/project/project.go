// Package project manages project metadata, role content, and the save-state
// lifecycle. Metadata lives in the document store; role code and media move
// through the blob store under content-addressed keys.
package project

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PublishState controls who may view a project.
type PublishState string

const (
	Private         PublishState = "private"
	PendingApproval PublishState = "pendingApproval"
	Public          PublishState = "public"
)

// SaveState tracks where a project sits in its lifecycle.
type SaveState string

const (
	// Created projects are open in a browser and have never been saved.
	Created SaveState = "created"
	// Transient projects lost their last occupant and are waiting for the
	// sweeper unless someone reopens them.
	Transient SaveState = "transient"
	// Broken projects closed abnormally; they are retained for a while so
	// the user can recover unsaved work.
	Broken SaveState = "broken"
	// Saved projects are permanent until explicitly deleted.
	Saved SaveState = "saved"
)

// RoleMetadata points at the stored content of a single role.
type RoleMetadata struct {
	Name     string    `bson:"name" json:"name"`
	CodeKey  string    `bson:"codeKey" json:"-"`
	MediaKey string    `bson:"mediaKey" json:"-"`
	Updated  time.Time `bson:"updated" json:"updated"`
}

// TraceMetadata records one network-trace capture window on a project.
type TraceMetadata struct {
	ID        string     `bson:"id" json:"id"`
	StartTime time.Time  `bson:"startTime" json:"startTime"`
	EndTime   *time.Time `bson:"endTime,omitempty" json:"endTime,omitempty"`
}

// Metadata is the stored project record. Role content is referenced by blob
// keys; RoleData carries the actual XML.
type Metadata struct {
	ID            string                  `bson:"id" json:"id"`
	Owner         string                  `bson:"owner" json:"owner"`
	Name          string                  `bson:"name" json:"name"`
	Updated       time.Time               `bson:"updated" json:"updated"`
	OriginTime    time.Time               `bson:"originTime" json:"originTime"`
	State         PublishState            `bson:"state" json:"state"`
	SaveState     SaveState               `bson:"saveState" json:"saveState"`
	DeleteAt      *time.Time              `bson:"deleteAt,omitempty" json:"-"`
	Collaborators []string                `bson:"collaborators" json:"collaborators"`
	Traces        []TraceMetadata         `bson:"networkTraces" json:"networkTraces"`
	Roles         map[string]RoleMetadata `bson:"roles" json:"roles"`
}

// RoleID returns the ID of the role with the given name, or false.
func (m *Metadata) RoleID(name string) (string, bool) {
	for id, role := range m.Roles {
		if role.Name == name {
			return id, true
		}
	}
	return "", false
}

// HasCollaborator reports whether username is on the collaborator list.
func (m *Metadata) HasCollaborator(username string) bool {
	for _, c := range m.Collaborators {
		if c == username {
			return true
		}
	}
	return false
}

// BlobKeys returns every blob key referenced by the project.
func (m *Metadata) BlobKeys() []string {
	keys := make([]string, 0, 2*len(m.Roles))
	for _, role := range m.Roles {
		if role.CodeKey != "" {
			keys = append(keys, role.CodeKey)
		}
		if role.MediaKey != "" {
			keys = append(keys, role.MediaKey)
		}
	}
	return keys
}

// RoleData is the full content of one role.
type RoleData struct {
	Name  string `json:"name"`
	Code  string `json:"code"`
	Media string `json:"media"`
}

var (
	ErrNotFound     = errors.New("project not found")
	ErrRoleNotFound = errors.New("role not found")
	ErrStaleWrite   = errors.New("project modified concurrently")
	ErrLastRole     = errors.New("cannot delete the last role")
)

// Repository is the persistence surface for project metadata.
type Repository interface {
	// Create inserts a project, resolving name collisions against the
	// owner's existing projects. The stored name is returned via the
	// metadata.
	Create(ctx context.Context, meta *Metadata) (*Metadata, error)
	Get(ctx context.Context, id string) (*Metadata, error)
	GetByName(ctx context.Context, owner, name string) (*Metadata, error)
	ListByOwner(ctx context.Context, owner string) ([]Metadata, error)
	ListSharedWith(ctx context.Context, collaborator string) ([]Metadata, error)
	ListPublic(ctx context.Context) ([]Metadata, error)

	// Rename resolves collisions the same way Create does and returns the
	// stored name.
	Rename(ctx context.Context, id, name string) (string, error)
	RenameRole(ctx context.Context, id, roleID, name string) error

	SetPublishState(ctx context.Context, id string, state PublishState) error
	SetSaveState(ctx context.Context, id string, state SaveState, deleteAt *time.Time) error

	// UpsertRole writes role metadata if the project's updated stamp still
	// matches expected. A mismatch returns ErrStaleWrite and the caller
	// retries against fresh metadata.
	UpsertRole(ctx context.Context, id, roleID string, role RoleMetadata, expected time.Time) error
	RemoveRole(ctx context.Context, id, roleID string) error

	AddCollaborator(ctx context.Context, id, username string) error
	RemoveCollaborator(ctx context.Context, id, username string) error

	StartTrace(ctx context.Context, id string) (*TraceMetadata, error)
	StopTrace(ctx context.Context, id, traceID string) error
	RemoveTrace(ctx context.Context, id, traceID string) error

	// ListExpired returns transient and broken projects whose deleteAt has
	// passed. The sweeper feeds these to Service.Delete.
	ListExpired(ctx context.Context, now time.Time) ([]Metadata, error)
	// ReferencedBlobKeys returns every blob key any project references.
	ReferencedBlobKeys(ctx context.Context) (map[string]struct{}, error)

	Delete(ctx context.Context, id string) error
}

// UniqueName returns base if it is not taken, otherwise the smallest
// "base (k)" with k starting at 2 that is free.
func UniqueName(base string, taken map[string]struct{}) string {
	if _, ok := taken[base]; !ok {
		return base
	}
	for k := 2; ; k++ {
		candidate := fmt.Sprintf("%s (%d)", base, k)
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
	}
}

// DefaultName is used when a client opens a project without naming it.
const DefaultName = "untitled"

// ValidName rejects names that would break address parsing: '@' separates
// address segments and '#' starts an app tag.
func ValidName(name string) bool {
	if strings.TrimSpace(name) == "" {
		return false
	}
	return !strings.ContainsAny(name, "@#")
}
