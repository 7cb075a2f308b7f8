// Package refstore implements the mutable named-reference store: direct
// references to objects and symbolic references to other reference
// names, with bounded-depth resolution.
package refstore

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/guts-org/guts-node/objstore"
)

// MaxSymbolicDepth bounds symbolic-reference chain resolution to prevent
// loops.
const MaxSymbolicDepth = 8

// ErrNotFound is returned when a reference name is unknown.
var ErrNotFound = fmt.Errorf("refstore: reference not found")

// ErrBrokenSymbolicRef is returned when a symbolic chain exceeds
// MaxSymbolicDepth or ends at a missing name.
var ErrBrokenSymbolicRef = fmt.Errorf("refstore: broken symbolic reference chain")

// Reference is a sum type: exactly one of Target (direct) or Symbolic
// (symbolic) is set.
type Reference struct {
	Target   objstore.ObjectID // set when this is a direct reference
	Symbolic string            // set when this is a symbolic reference (target ref name)
}

// IsSymbolic reports whether r is a symbolic reference.
func (r Reference) IsSymbolic() bool { return r.Symbolic != "" }

// RefStore is a thread-safe map of reference name to Reference, guarded
// by one reader/writer lock. Writes to the same name are linearizable.
type RefStore struct {
	mu   sync.RWMutex
	refs map[string]Reference
}

// New creates an empty reference store.
func New() *RefStore {
	return &RefStore{refs: make(map[string]Reference)}
}

// Set writes a direct reference name -> id.
func (s *RefStore) Set(name string, id objstore.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs[name] = Reference{Target: id}
	return nil
}

// SetSymbolic writes a symbolic reference name -> targetName.
func (s *RefStore) SetSymbolic(name, targetName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs[name] = Reference{Symbolic: targetName}
	return nil
}

// Get returns the raw (possibly symbolic) reference stored at name.
func (s *RefStore) Get(name string) (Reference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.refs[name]
	if !ok {
		return Reference{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return ref, nil
}

// Resolve follows a symbolic chain starting from ref to a Direct
// reference's ObjectID, bounded by MaxSymbolicDepth.
func (s *RefStore) Resolve(ref Reference) (objstore.ObjectID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveLocked(ref, 0)
}

func (s *RefStore) resolveLocked(ref Reference, depth int) (objstore.ObjectID, error) {
	if !ref.IsSymbolic() {
		return ref.Target, nil
	}
	if depth >= MaxSymbolicDepth {
		return "", ErrBrokenSymbolicRef
	}
	next, ok := s.refs[ref.Symbolic]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrBrokenSymbolicRef, ref.Symbolic)
	}
	return s.resolveLocked(next, depth+1)
}

// ResolveHEAD is shorthand for Resolve(Get("HEAD")).
func (s *RefStore) ResolveHEAD() (objstore.ObjectID, error) {
	ref, err := s.Get("HEAD")
	if err != nil {
		return "", err
	}
	return s.Resolve(ref)
}

// CurrentBranch returns X if HEAD is symbolic pointing to
// "refs/heads/X", and ok=false otherwise.
func (s *RefStore) CurrentBranch() (branch string, ok bool) {
	ref, err := s.Get("HEAD")
	if err != nil || !ref.IsSymbolic() {
		return "", false
	}
	const prefix = "refs/heads/"
	if !strings.HasPrefix(ref.Symbolic, prefix) {
		return "", false
	}
	return strings.TrimPrefix(ref.Symbolic, prefix), true
}

// Delete removes a reference by name, reporting whether it existed.
func (s *RefStore) Delete(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refs[name]; !ok {
		return false
	}
	delete(s.refs, name)
	return true
}

// List returns every reference name with the given prefix, sorted.
func (s *RefStore) List(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for name := range s.refs {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// ListAll returns every reference name, sorted.
func (s *RefStore) ListAll() []string { return s.List("") }

// ListAllDirect returns the (name, ObjectID) pairs for every direct
// reference, sorted by name — used by the wiring layer to build
// RepoAnnounce/ref-advertisement payloads.
func (s *RefStore) ListAllDirect() []struct {
	Name string
	ID   objstore.ObjectID
} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []struct {
		Name string
		ID   objstore.ObjectID
	}
	for name, ref := range s.refs {
		if !ref.IsSymbolic() {
			out = append(out, struct {
				Name string
				ID   objstore.ObjectID
			}{Name: name, ID: ref.Target})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
