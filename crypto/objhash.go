package crypto

import (
	"crypto/sha1"
	"encoding/hex"
)

// ObjectHash returns the SHA-1 digest of data as used for git object
// identity. Transaction and block IDs use Hash/HashBytes (SHA-256); only
// the content-addressed object store uses SHA-1, matching git's own
// loose-object format.
func ObjectHash(data []byte) [20]byte {
	return sha1.Sum(data)
}

// ObjectHashHex returns the lowercase hex encoding of ObjectHash(data).
func ObjectHashHex(data []byte) string {
	h := sha1.Sum(data)
	return hex.EncodeToString(h[:])
}
