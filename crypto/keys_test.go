package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateKeyPairRoundTrip(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	require.NoError(t, err)
	require.Len(t, pub.Hex(), 64)
	require.Equal(t, pub.Hex(), priv.Public().Hex())
}

func TestFingerprintIsStableAndShort(t *testing.T) {
	_, pub, err := GenerateKeyPair()
	require.NoError(t, err)

	fp := pub.Fingerprint()
	require.Len(t, fp, 16)
	require.Equal(t, fp, pub.Fingerprint(), "Fingerprint must be deterministic")
	require.NotEqual(t, pub.Hex(), fp, "Fingerprint is a digest of the key, not the key itself")
}

func TestPubKeyFromHexRejectsWrongLength(t *testing.T) {
	_, err := PubKeyFromHex("deadbeef")
	require.Error(t, err)
}

func TestPrivKeyFromHexRoundTrip(t *testing.T) {
	priv, _, err := GenerateKeyPair()
	require.NoError(t, err)

	decoded, err := PrivKeyFromHex(priv.Hex())
	require.NoError(t, err)
	require.Equal(t, priv, decoded)
}
