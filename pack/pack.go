package pack

import (
	"bytes"
	"compress/zlib"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/guts-org/guts-node/objstore"
)

// Magic is the 4-byte pack file signature.
const Magic = "PACK"

// Version is the pack format version this implementation emits and
// accepts.
const Version uint32 = 2

// typeCode maps an object Type to git's pack entry type code. Delta
// encoding is not implemented (spec's MVP scope): every object is stored
// full, using codes 1-4.
var typeCode = map[objstore.Type]byte{
	objstore.TypeCommit: 1,
	objstore.TypeTree:   2,
	objstore.TypeBlob:   3,
	objstore.TypeTag:    4,
}

var codeType = map[byte]objstore.Type{
	1: objstore.TypeCommit,
	2: objstore.TypeTree,
	3: objstore.TypeBlob,
	4: objstore.TypeTag,
}

// Build serializes objs into a pack byte stream: 12-byte header, then one
// (type,size) varint + zlib-deflated-data entry per object, then a
// trailing 20-byte SHA-1 over everything preceding it.
func Build(objs []*objstore.GitObject) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(Magic)
	var versionBuf [4]byte
	binary.BigEndian.PutUint32(versionBuf[:], Version)
	buf.Write(versionBuf[:])
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(objs)))
	buf.Write(countBuf[:])

	for _, obj := range objs {
		code, ok := typeCode[obj.ObjType]
		if !ok {
			return nil, fmt.Errorf("pack: unknown object type %q", obj.ObjType)
		}
		writeEntryHeader(&buf, code, len(obj.Data))
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(obj.Data); err != nil {
			return nil, fmt.Errorf("pack: deflate: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("pack: deflate close: %w", err)
		}
	}

	sum := sha1.Sum(buf.Bytes())
	buf.Write(sum[:])
	return buf.Bytes(), nil
}

// writeEntryHeader writes git's varint (type, size) entry header: the
// first byte holds 3 type bits and the low 4 size bits with a
// continuation bit in the MSB; subsequent bytes hold 7 size bits each.
func writeEntryHeader(buf *bytes.Buffer, typeCode byte, size int) {
	first := (typeCode << 4) | byte(size&0x0f)
	size >>= 4
	if size > 0 {
		first |= 0x80
	}
	buf.WriteByte(first)
	for size > 0 {
		b := byte(size & 0x7f)
		size >>= 7
		if size > 0 {
			b |= 0x80
		}
		buf.WriteByte(b)
	}
}

func readEntryHeader(r io.ByteReader) (typ byte, size int, err error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, 0, err
	}
	typ = (first >> 4) & 0x7
	size = int(first & 0x0f)
	shift := 4
	cont := first&0x80 != 0
	for cont {
		b, err := r.ReadByte()
		if err != nil {
			return 0, 0, err
		}
		size |= int(b&0x7f) << shift
		shift += 7
		cont = b&0x80 != 0
	}
	return typ, size, nil
}

// Parse validates a pack byte stream, inserts every object into store,
// and verifies the trailing SHA-1. Returns the inserted object IDs in
// pack order.
func Parse(data []byte, store objstore.Store) ([]objstore.ObjectID, error) {
	if len(data) < 12+20 {
		return nil, fmt.Errorf("pack: stream too short (%d bytes)", len(data))
	}
	body, trailer := data[:len(data)-20], data[len(data)-20:]
	if string(body[:4]) != Magic {
		return nil, fmt.Errorf("pack: bad magic %q", body[:4])
	}
	version := binary.BigEndian.Uint32(body[4:8])
	if version != Version {
		return nil, fmt.Errorf("pack: unsupported version %d", version)
	}
	count := binary.BigEndian.Uint32(body[8:12])

	sum := sha1.Sum(body)
	if !bytes.Equal(sum[:], trailer) {
		return nil, fmt.Errorf("pack: trailing SHA-1 mismatch")
	}

	r := bytes.NewReader(body[12:])
	br := byteReader{r}
	ids := make([]objstore.ObjectID, 0, count)
	for i := uint32(0); i < count; i++ {
		code, size, err := readEntryHeader(br)
		if err != nil {
			return nil, fmt.Errorf("pack: entry %d header: %w", i, err)
		}
		typ, ok := codeType[code]
		if !ok {
			return nil, fmt.Errorf("pack: entry %d: unknown type code %d", i, code)
		}
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("pack: entry %d: zlib open: %w", i, err)
		}
		inflated, err := io.ReadAll(io.LimitReader(zr, int64(size)+1))
		zr.Close()
		if err != nil {
			return nil, fmt.Errorf("pack: entry %d: inflate: %w", i, err)
		}
		if len(inflated) != size {
			return nil, fmt.Errorf("pack: entry %d: declared size %d, got %d", i, size, len(inflated))
		}
		obj := objstore.New(typ, inflated)
		if _, err := store.Put(obj); err != nil {
			return nil, fmt.Errorf("pack: entry %d: store: %w", i, err)
		}
		ids = append(ids, obj.ID)
	}
	return ids, nil
}

// byteReader adapts *bytes.Reader for readEntryHeader's io.ByteReader
// requirement while keeping zlib.NewReader's offset in sync (both read
// from the same underlying *bytes.Reader).
type byteReader struct{ *bytes.Reader }
