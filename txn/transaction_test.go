package txn

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/guts-org/guts-node/crypto"
)

func signedTx(t *testing.T) (*Transaction, crypto.PrivateKey) {
	t.Helper()
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	tx, err := New(CreateRepository, pub.Hex(), CreateRepositoryPayload{
		Owner: "alice", Name: "guts", DefaultBranch: "main", Visibility: "public",
	})
	require.NoError(t, err)
	tx.Sign(priv)
	return tx, priv
}

func TestSignProducesVerifiableTransaction(t *testing.T) {
	tx, _ := signedTx(t)
	require.NotEmpty(t, tx.ID)
	require.NotEmpty(t, tx.Signature)
	require.NoError(t, tx.VerifySignature())
}

// TestIDCoversSignature pins the id := SHA-256(canonical_serialization(tx))
// invariant: the signature is part of what ID hashes over, so two
// transactions that differ only in Signature must have different IDs.
func TestIDCoversSignature(t *testing.T) {
	tx, priv := signedTx(t)
	originalID := tx.ID
	originalSig := tx.Signature

	// Re-sign with a different key; signature changes, payload doesn't.
	otherPriv, otherPub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	_ = otherPub
	tx.Signature = crypto.Sign(otherPriv, []byte(tx.preimageHash()))
	require.NotEqual(t, originalSig, tx.Signature)

	recomputed := tx.canonicalID()
	require.NotEqual(t, originalID, recomputed, "ID must depend on Signature")

	_ = priv
}

func TestVerifySignatureRejectsTamperedPayload(t *testing.T) {
	tx, _ := signedTx(t)
	tx.Payload = []byte(`{"owner":"mallory","name":"guts","default_branch":"main","visibility":"public"}`)
	require.Error(t, tx.VerifySignature())
}

func TestVerifySignatureRejectsForgedID(t *testing.T) {
	tx, _ := signedTx(t)
	tx.ID = "0000000000000000000000000000000000000000000000000000000000000000"
	require.Error(t, tx.VerifySignature())
}

func TestVerifySignatureRejectsMissingSigner(t *testing.T) {
	tx, _ := signedTx(t)
	tx.Signer = ""
	require.Error(t, tx.VerifySignature())
}

func TestDecodePayloadRoundTrip(t *testing.T) {
	tx, _ := signedTx(t)
	payload, err := Decode[CreateRepositoryPayload](tx)
	require.NoError(t, err)
	require.Equal(t, "guts", payload.Name)
	require.Equal(t, "alice", payload.Owner)
}
