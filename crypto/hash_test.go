package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashIsDeterministicAndHex(t *testing.T) {
	a := Hash([]byte("payload"))
	b := Hash([]byte("payload"))
	require.Equal(t, a, b)
	require.Len(t, a, 64)
	_, err := hex.DecodeString(a)
	require.NoError(t, err)
}

func TestHashBytesMatchesHash(t *testing.T) {
	data := []byte("payload")
	require.Equal(t, Hash(data), hex.EncodeToString(HashBytes(data)))
}

func TestHashDiffersOnInputChange(t *testing.T) {
	require.NotEqual(t, Hash([]byte("a")), Hash([]byte("b")))
}
