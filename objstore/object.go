// Package objstore implements the content-addressed git object model: the
// immutable Blob/Tree/Commit/Tag objects keyed by their SHA-1 object ID,
// and the loose-object (zlib-deflated "<type> <len>\0<data>") wire format.
package objstore

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"io"

	"github.com/guts-org/guts-node/crypto"
)

// Type is the object kind.
type Type string

const (
	TypeBlob   Type = "blob"
	TypeTree   Type = "tree"
	TypeCommit Type = "commit"
	TypeTag    Type = "tag"
)

// ObjectID is the hex-encoded 20-byte SHA-1 object identity.
type ObjectID string

// ZeroID is the all-zero object ID, used in pack protocol wire formats
// (e.g. ref deletion, empty-repo advertisement).
const ZeroID ObjectID = "0000000000000000000000000000000000000000"

// GitObject is an immutable content-addressed git object. Once
// constructed via New, it is owned exclusively by the object store it is
// inserted into.
type GitObject struct {
	ObjType Type
	Data    []byte
	ID      ObjectID
}

// New constructs a GitObject, computing its ID as
// SHA1("<type> <len>\0" || data).
func New(typ Type, data []byte) *GitObject {
	return &GitObject{ObjType: typ, Data: data, ID: computeID(typ, data)}
}

func computeID(typ Type, data []byte) ObjectID {
	header := fmt.Sprintf("%s %d\x00", typ, len(data))
	full := append([]byte(header), data...)
	return ObjectID(crypto.ObjectHashHex(full))
}

// Verify reports whether o.ID matches the recomputed hash of its type and
// data — the fatal-integrity check used after decompression.
func (o *GitObject) Verify() error {
	want := computeID(o.ObjType, o.Data)
	if want != o.ID {
		return fmt.Errorf("objstore: id mismatch: stored %s computed %s", o.ID, want)
	}
	return nil
}

// Compress produces the zlib-deflated loose-object blob:
// "<type> <len>\0<data>", deflated.
func Compress(o *GitObject) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	header := fmt.Sprintf("%s %d\x00", o.ObjType, len(o.Data))
	if _, err := w.Write([]byte(header)); err != nil {
		return nil, fmt.Errorf("objstore: compress header: %w", err)
	}
	if _, err := w.Write(o.Data); err != nil {
		return nil, fmt.Errorf("objstore: compress data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("objstore: compress close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress parses a zlib-deflated loose-object blob, validating the
// header and reconstructing the GitObject. Fails on header malformation
// or a declared-length mismatch.
func Decompress(blob []byte) (*GitObject, error) {
	r, err := zlib.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("objstore: zlib open: %w", err)
	}
	defer r.Close()
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("objstore: zlib read: %w", err)
	}
	nul := bytes.IndexByte(raw, 0)
	if nul < 0 {
		return nil, errors.New("objstore: malformed loose object: no header terminator")
	}
	header := string(raw[:nul])
	data := raw[nul+1:]
	var typ string
	var size int
	if _, err := fmt.Sscanf(header, "%s %d", &typ, &size); err != nil {
		return nil, fmt.Errorf("objstore: malformed header %q: %w", header, err)
	}
	if size != len(data) {
		return nil, fmt.Errorf("objstore: size mismatch: header says %d, got %d", size, len(data))
	}
	obj := New(Type(typ), data)
	return obj, nil
}
