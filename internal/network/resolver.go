package network

import (
	"context"
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/netsblox/cloud/internal/project"
)

// BrowserAddress is a resolved overlay location: a role slot in a project.
type BrowserAddress struct {
	ProjectID string
	RoleID    string
}

type resolution struct {
	addresses []BrowserAddress
	projectID string
	// seq is the topology sequence for projectID at resolution time. The
	// entry is stale once the room mutates.
	seq uint64
}

// Resolver turns parsed addresses into live client IDs. Database answers are
// memoised in an LRU fenced by the topology sequence number, so occupancy
// changes and renames never serve stale routes.
type Resolver struct {
	topology *Topology
	projects ProjectStore

	mu    sync.Mutex
	cache *lru.Cache[string, resolution]
}

// NewResolver creates a resolver with the given cache capacity.
func NewResolver(topology *Topology, projects ProjectStore, cacheSize int) (*Resolver, error) {
	cache, err := lru.New[string, resolution](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Resolver{topology: topology, projects: projects, cache: cache}, nil
}

// Resolve returns the client IDs a parsed address currently names. The
// sender is excluded for the "others in room" role tag.
func (r *Resolver) Resolve(ctx context.Context, addr Address, sender string) []string {
	var clientIDs []string
	for _, appID := range addr.AppIDs {
		if appID != DefaultApp {
			if id, ok := r.topology.ExternalLookup(appID, addr.Target, addr.Owner); ok {
				clientIDs = append(clientIDs, id)
			}
			continue
		}

		role, _ := addr.RoleAndProject()
		excludeSender := role == OthersInRoom
		for _, browser := range r.resolveBrowser(ctx, addr) {
			for _, id := range r.topology.Occupants(browser.ProjectID, browser.RoleID) {
				if excludeSender && id == sender {
					continue
				}
				clientIDs = append(clientIDs, id)
			}
		}
	}
	return clientIDs
}

// resolveBrowser maps the address to role slots, consulting the cache first.
func (r *Resolver) resolveBrowser(ctx context.Context, addr Address) []BrowserAddress {
	key := addr.AppString()

	r.mu.Lock()
	if entry, ok := r.cache.Get(key); ok {
		if r.topology.Seq(entry.projectID) == entry.seq {
			r.mu.Unlock()
			return entry.addresses
		}
		r.cache.Remove(key)
	}
	r.mu.Unlock()

	addresses, projectID := r.resolveFromStore(ctx, addr)
	if len(addresses) > 0 {
		r.mu.Lock()
		r.cache.Add(key, resolution{
			addresses: addresses,
			projectID: projectID,
			seq:       r.topology.Seq(projectID),
		})
		r.mu.Unlock()
	}
	return addresses
}

func (r *Resolver) resolveFromStore(ctx context.Context, addr Address) ([]BrowserAddress, string) {
	role, projectTag := addr.RoleAndProject()

	meta, err := r.projects.GetByName(ctx, addr.Owner, projectTag)
	if errors.Is(err, project.ErrNotFound) {
		// The project tag may be an opaque ID rather than a name.
		meta, err = r.projects.Get(ctx, projectTag)
	}
	if err != nil {
		return nil, ""
	}

	var roleNames []string
	switch role {
	case "", EveryoneInRoom, OthersInRoom, AnyRole:
		for _, r := range meta.Roles {
			roleNames = append(roleNames, r.Name)
		}
	default:
		roleNames = []string{role}
	}

	nameToID := make(map[string]string, len(meta.Roles))
	for id, r := range meta.Roles {
		nameToID[r.Name] = id
	}

	var addresses []BrowserAddress
	for _, name := range roleNames {
		if roleID, ok := nameToID[name]; ok {
			addresses = append(addresses, BrowserAddress{ProjectID: meta.ID, RoleID: roleID})
		}
	}
	return addresses, meta.ID
}

// SourceAddress reverse-resolves a client into its canonical address for
// server-asserted message sources and trace records.
func (r *Resolver) SourceAddress(ctx context.Context, clientID string) string {
	state, ok := r.topology.ClientState(clientID)
	if !ok {
		return ""
	}
	switch {
	case state.Browser != nil:
		meta, err := r.projects.Get(ctx, state.Browser.ProjectID)
		if err != nil {
			return ""
		}
		role, ok := meta.Roles[state.Browser.RoleID]
		if !ok {
			return ""
		}
		return role.Name + "@" + meta.Name + "@" + meta.Owner
	case state.External != nil:
		username, _ := r.topology.ClientUsername(clientID)
		return state.External.Address + "@" + username + " #" + state.External.AppID
	}
	return ""
}
