// Package storage is the durable cold tier beneath storagetier.HybridStorage:
// the "obj:<repoKey>:" object namespace (package objstore's Store interface,
// via ObjectStore) and the "finalized:<height>" / "chain:tip" keys written
// through FinalizedStore (the node reads the tip at startup only to decide
// whether to write genesis; the engine does not read them back). DB is kept
// backend-neutral on purpose — every key this package writes is namespaced
// by prefix rather than by table/column-family, so swapping LevelDB for
// another embedded KV engine touches only this file and leveldb.go.
package storage

// Batch is an atomic write buffer spanning both of this package's
// namespaces (object puts and finalized-block/tip writes can share one
// batch). All operations are applied together via Write() or discarded
// together on error, preventing a crash from leaving a finalized block
// persisted without its matching chain-tip update, or vice versa.
type Batch interface {
	Set(key, value []byte)
	Delete(key []byte)
	Write() error
	Reset()
}

// DB is the backend-neutral key-value store ObjectStore and FinalizedStore
// are built on. NewIterator(prefix) is how ObjectStore does namespaced
// prefix scans (ListObjects, Len) without depending on a concrete storage
// engine; FinalizedStore only reads single keys.
type DB interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	NewIterator(prefix []byte) Iterator
	NewBatch() Batch
	Close() error
}

// Iterator walks the key-value pairs under one of this package's prefixes
// ("obj:<repoKey>:" or "finalized:").
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Release()
	Error() error
}
