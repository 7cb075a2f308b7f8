package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/guts-org/guts-node/block"
	"github.com/guts-org/guts-node/objstore"
)

// ErrNotFound is returned by DB.Get for a missing key.
var ErrNotFound = errors.New("storage: not found")

// LevelDB implements DB using LevelDB.
type LevelDB struct {
	db *leveldb.DB
}

var _ DB = (*LevelDB)(nil)

// NewLevelDB opens (or creates) a LevelDB database at path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %q: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Get(key []byte) ([]byte, error) {
	val, err := l.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return val, err
}

func (l *LevelDB) Set(key, value []byte) error {
	return l.db.Put(key, value, nil)
}

func (l *LevelDB) Delete(key []byte) error {
	return l.db.Delete(key, nil)
}

func (l *LevelDB) NewIterator(prefix []byte) Iterator {
	return l.db.NewIterator(util.BytesPrefix(prefix), nil)
}

// NewBatch returns an empty atomic write buffer. goleveldb's own *Batch
// already tracks deletes alongside puts, so levelBatch is a thin adapter
// to the DB-level Batch interface rather than a reimplementation.
func (l *LevelDB) NewBatch() Batch {
	return &levelBatch{db: l.db, batch: new(leveldb.Batch)}
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}

type levelBatch struct {
	db    *leveldb.DB
	batch *leveldb.Batch
}

func (b *levelBatch) Set(key, value []byte) { b.batch.Put(key, value) }
func (b *levelBatch) Delete(key []byte)      { b.batch.Delete(key) }
func (b *levelBatch) Write() error           { return b.db.Write(b.batch, nil) }
func (b *levelBatch) Reset()                 { b.batch.Reset() }

// ---- objstore.Store implementation (cold tier) ----

// ObjectStore implements objstore.Store on top of a per-repository
// LevelDB key prefix, serving as the cold (durable) tier beneath
// storagetier.HybridStorage.
type ObjectStore struct {
	db     DB
	prefix []byte
}

// NewObjectStore wraps db as an objstore.Store, namespacing every key
// under "obj:<repoKey>:".
func NewObjectStore(db DB, repoKey string) *ObjectStore {
	return &ObjectStore{db: db, prefix: []byte("obj:" + repoKey + ":")}
}

var _ objstore.Store = (*ObjectStore)(nil)

func (s *ObjectStore) key(id objstore.ObjectID) []byte {
	return append(append([]byte{}, s.prefix...), []byte(id)...)
}

func (s *ObjectStore) Put(obj *objstore.GitObject) (objstore.ObjectID, error) {
	if err := obj.Verify(); err != nil {
		return "", err
	}
	if s.Contains(obj.ID) {
		return obj.ID, nil
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("storage: marshal object: %w", err)
	}
	if err := s.db.Set(s.key(obj.ID), data); err != nil {
		return "", fmt.Errorf("storage: put object %s: %w", obj.ID, err)
	}
	return obj.ID, nil
}

func (s *ObjectStore) Get(id objstore.ObjectID) (*objstore.GitObject, error) {
	data, err := s.db.Get(s.key(id))
	if errors.Is(err, ErrNotFound) {
		return nil, objstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get object %s: %w", id, err)
	}
	var obj objstore.GitObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("storage: decode object %s: %w", id, err)
	}
	return &obj, nil
}

func (s *ObjectStore) Contains(id objstore.ObjectID) bool {
	_, err := s.db.Get(s.key(id))
	return err == nil
}

func (s *ObjectStore) Delete(id objstore.ObjectID) bool {
	if !s.Contains(id) {
		return false
	}
	return s.db.Delete(s.key(id)) == nil
}

func (s *ObjectStore) Len() int {
	it := s.db.NewIterator(s.prefix)
	defer it.Release()
	n := 0
	for it.Next() {
		n++
	}
	return n
}

func (s *ObjectStore) ListObjects() []objstore.ObjectID {
	it := s.db.NewIterator(s.prefix)
	defer it.Release()
	var out []objstore.ObjectID
	for it.Next() {
		out = append(out, objstore.ObjectID(it.Key()[len(s.prefix):]))
	}
	return out
}

func (s *ObjectStore) BatchGet(ids []objstore.ObjectID) []*objstore.GitObject {
	out := make([]*objstore.GitObject, len(ids))
	for i, id := range ids {
		if obj, err := s.Get(id); err == nil {
			out[i] = obj
		}
	}
	return out
}

func (s *ObjectStore) Flush() error { return nil }

// ---- finalized-block persistence ----

// FinalizedStore durably records every finalized block and the chain tip,
// the restart-recovery substrate for the BFT engine's height/parent state.
type FinalizedStore struct {
	db DB
}

// NewFinalizedStore wraps db for finalized-block persistence.
func NewFinalizedStore(db DB) *FinalizedStore {
	return &FinalizedStore{db: db}
}

// PutFinalized persists a finalized block, indexed by height and
// recorded as the new chain tip.
func (s *FinalizedStore) PutFinalized(f *block.Finalized) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("storage: marshal finalized block: %w", err)
	}
	key := fmt.Sprintf("finalized:%020d", f.Block.Header.Height)
	b := s.db.NewBatch()
	b.Set([]byte(key), data)
	b.Set([]byte("chain:tip"), []byte(f.Block.ID()))
	return b.Write()
}

// GetFinalizedByHeight returns the finalized block recorded at height.
func (s *FinalizedStore) GetFinalizedByHeight(height uint64) (*block.Finalized, error) {
	key := fmt.Sprintf("finalized:%020d", height)
	data, err := s.db.Get([]byte(key))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var f block.Finalized
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Tip returns the block ID of the most recently finalized block, or "" if
// none has been persisted.
func (s *FinalizedStore) Tip() (string, error) {
	val, err := s.db.Get([]byte("chain:tip"))
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(val), nil
}
