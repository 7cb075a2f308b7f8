package repo

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/guts-org/guts-node/objstore"
	"github.com/guts-org/guts-node/refstore"
)

// ErrNotFound is returned when a repository or organization key is
// unknown.
var ErrNotFound = errors.New("repo: not found")

// ErrAlreadyExists is returned by Create when the key is already taken.
var ErrAlreadyExists = errors.New("repo: already exists")

// NewObjectStoreFunc constructs a fresh per-repository object store. The
// registry is storage-backend-agnostic: it is handed a constructor so
// callers can back repositories with in-memory stores (tests) or tiered
// storage (production) without the registry itself depending on either.
type NewObjectStoreFunc func(key string) objstore.Store

// Registry is the keyed collection of repositories ("owner/name") and
// organizations, maintaining an owner→repos secondary index the way the
// original in-process event indexer did for asset ownership.
type Registry struct {
	mu          sync.RWMutex
	repos       map[string]*Repository
	byOwner     map[string][]string // owner -> sorted repo keys
	orgs        map[string]*Organization
	newStore    NewObjectStoreFunc
}

// NewRegistry creates an empty registry. newStore is invoked once per
// repository created.
func NewRegistry(newStore NewObjectStoreFunc) *Registry {
	return &Registry{
		repos:    make(map[string]*Repository),
		byOwner:  make(map[string][]string),
		orgs:     make(map[string]*Organization),
		newStore: newStore,
	}
}

// Create registers a new repository, initializing HEAD to a symbolic
// reference to refs/heads/<defaultBranch> (main if empty).
func (r *Registry) Create(owner, name, description, defaultBranch, visibility string) (*Repository, error) {
	key := owner + "/" + name
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.repos[key]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, key)
	}
	if defaultBranch == "" {
		defaultBranch = "main"
	}
	rp := &Repository{
		Owner:       owner,
		Name:        name,
		Description: description,
		Visibility:  visibility,
		Objects:     r.newStore(key),
		Refs:        refstore.New(),
	}
	if err := rp.Refs.SetSymbolic("HEAD", "refs/heads/"+defaultBranch); err != nil {
		return nil, err
	}
	r.repos[key] = rp
	r.byOwner[owner] = insertSorted(r.byOwner[owner], key)
	return rp, nil
}

func insertSorted(keys []string, key string) []string {
	i := sort.SearchStrings(keys, key)
	if i < len(keys) && keys[i] == key {
		return keys
	}
	keys = append(keys, "")
	copy(keys[i+1:], keys[i:])
	keys[i] = key
	return keys
}

// Get returns the repository for "owner/name", creating it if autoCreate
// is set and it does not exist (the "push to new URL" semantics of
// receive-pack).
func (r *Registry) Get(key string, autoCreate bool) (*Repository, error) {
	r.mu.RLock()
	rp, ok := r.repos[key]
	r.mu.RUnlock()
	if ok {
		return rp, nil
	}
	if !autoCreate {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	owner, name, err := splitKey(key)
	if err != nil {
		return nil, err
	}
	return r.Create(owner, name, "", "main", "public")
}

func splitKey(key string) (owner, name string, err error) {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return key[:i], key[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("repo: malformed key %q", key)
}

// Delete marks the repository deleted without freeing its storage (per
// §9's open question, DeleteRepository is recorded but does not reclaim
// objects).
func (r *Registry) Delete(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rp, ok := r.repos[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	rp.Deleted = true
	return nil
}

// List returns every repository key owned by owner, sorted.
func (r *Registry) List(owner string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.byOwner[owner]))
	copy(out, r.byOwner[owner])
	return out
}

// Count returns the total number of registered repositories (including
// deleted ones, which are never purged).
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.repos)
}

// AllKeysSorted returns every repository key in sorted order, for
// deterministic state-root computation.
func (r *Registry) AllKeysSorted() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.repos))
	for k := range r.repos {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ---- Organizations ----

// CreateOrganization registers a new organization keyed by name.
func (r *Registry) CreateOrganization(name, displayName, creator string) (*Organization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orgs[name]; exists {
		return nil, fmt.Errorf("%w: organization %s", ErrAlreadyExists, name)
	}
	org := &Organization{Key: name, Name: name, DisplayName: displayName, Creator: creator, Teams: make(map[string]*Team)}
	r.orgs[name] = org
	return org, nil
}

// GetOrganization looks up an organization by key.
func (r *Registry) GetOrganization(key string) (*Organization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	org, ok := r.orgs[key]
	if !ok {
		return nil, fmt.Errorf("%w: organization %s", ErrNotFound, key)
	}
	return org, nil
}

// CreateTeam adds a team to an organization.
func (org *Organization) CreateTeam(name string) (*Team, error) {
	org.mu.Lock()
	defer org.mu.Unlock()
	if _, exists := org.Teams[name]; exists {
		return nil, fmt.Errorf("%w: team %s", ErrAlreadyExists, name)
	}
	t := &Team{Name: name, Members: make(map[string]struct{})}
	org.Teams[name] = t
	return t, nil
}

// AddMember adds member to team within org.
func (org *Organization) AddMember(team, member string) error {
	org.mu.Lock()
	defer org.mu.Unlock()
	t, ok := org.Teams[team]
	if !ok {
		return fmt.Errorf("%w: team %s", ErrNotFound, team)
	}
	t.Members[member] = struct{}{}
	return nil
}
