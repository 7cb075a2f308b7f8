package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	require.NoError(t, err)

	data := []byte("hello guts")
	sig := Sign(priv, data)
	require.NoError(t, Verify(pub, data, sig))
}

func TestVerifyRejectsTamperedData(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	require.NoError(t, err)

	sig := Sign(priv, []byte("original"))
	require.Error(t, Verify(pub, []byte("tampered"), sig))
}

func TestVerifyRejectsMalformedSignatureHex(t *testing.T) {
	_, pub, err := GenerateKeyPair()
	require.NoError(t, err)

	require.Error(t, Verify(pub, []byte("data"), "not-hex"))
}
