package block

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/guts-org/guts-node/crypto"
	"github.com/guts-org/guts-node/txn"
)

func makeSignedTx(t *testing.T, name string) *txn.Transaction {
	t.Helper()
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	tx, err := txn.New(txn.CreateRepository, pub.Hex(), txn.CreateRepositoryPayload{
		Owner: "alice", Name: name, DefaultBranch: "main", Visibility: "public",
	})
	require.NoError(t, err)
	tx.Sign(priv)
	return tx
}

func TestComputeTxRootEmptyIsZeroParent(t *testing.T) {
	require.Equal(t, ZeroParent, ComputeTxRoot(nil))
}

func TestComputeTxRootDeterministic(t *testing.T) {
	txs := []*txn.Transaction{makeSignedTx(t, "a"), makeSignedTx(t, "b"), makeSignedTx(t, "c")}
	root1 := ComputeTxRoot(txs)
	root2 := ComputeTxRoot(txs)
	require.Equal(t, root1, root2)
	require.Len(t, root1, 64)
}

// TestComputeTxRootUsesRawIDBytes pins the leaf rule against the ported
// compute_tx_root behavior: the leaf is the transaction ID's raw 32 bytes,
// not a SHA-256 of the hex string.
func TestComputeTxRootUsesRawIDBytes(t *testing.T) {
	tx := makeSignedTx(t, "solo")
	root := ComputeTxRoot([]*txn.Transaction{tx})

	want := hex.EncodeToString(mustHexDecode(t, tx.ID))
	require.Equal(t, want, root)

	wrongLeaf := crypto.HashBytes([]byte(tx.ID))
	wrongRoot := hex.EncodeToString(wrongLeaf)
	require.NotEqual(t, wrongRoot, root, "root must not be a hash of the hex ID string")
}

func TestComputeTxRootChangesWithTxSet(t *testing.T) {
	a := ComputeTxRoot([]*txn.Transaction{makeSignedTx(t, "a")})
	b := ComputeTxRoot([]*txn.Transaction{makeSignedTx(t, "b")})
	require.NotEqual(t, a, b)
}

func TestComputeTxRootOddCountDuplicatesLast(t *testing.T) {
	txs := []*txn.Transaction{makeSignedTx(t, "a"), makeSignedTx(t, "b"), makeSignedTx(t, "c")}
	root := ComputeTxRoot(txs)

	// Manually combine per the pairwise rule: level0 = [a,b,c] -> level1 =
	// [H(a||b), H(c||c)] -> level2 = [H(H(a||b) || H(c||c))].
	la := mustHexDecode(t, txs[0].ID)
	lb := mustHexDecode(t, txs[1].ID)
	lc := mustHexDecode(t, txs[2].ID)
	h1 := crypto.HashBytes(append(append([]byte{}, la...), lb...))
	h2 := crypto.HashBytes(append(append([]byte{}, lc...), lc...))
	want := hex.EncodeToString(crypto.HashBytes(append(append([]byte{}, h1...), h2...)))
	require.Equal(t, want, root)
}

func TestBlockSignAndVerify(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	b := Genesis(pub.Hex(), 1000, "")
	b.Sign(priv)
	require.NoError(t, b.VerifySignature(pub))
}

func TestBlockVerifyIntegrityCatchesTxCountMismatch(t *testing.T) {
	txs := []*txn.Transaction{makeSignedTx(t, "a")}
	b := New(1, ZeroParent, "producer", 1000, txs, "")
	b.Header.TxCount = 2
	require.Error(t, b.VerifyIntegrity())
}

func TestBlockVerifyIntegrityCatchesTxRootTamper(t *testing.T) {
	txs := []*txn.Transaction{makeSignedTx(t, "a")}
	b := New(1, ZeroParent, "producer", 1000, txs, "")
	b.Header.TxRoot = ZeroParent
	require.Error(t, b.VerifyIntegrity())
}

func mustHexDecode(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}
