package mempool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/guts-org/guts-node/crypto"
	"github.com/guts-org/guts-node/txn"
)

func signedTx(t *testing.T, name string) *txn.Transaction {
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

func TestAddRejectsDuplicate(t *testing.T) {
	mp := New(Config{})
	tx := signedTx(t, "repo")

	require.NoError(t, mp.Add(tx))
	require.ErrorIs(t, mp.Add(tx), ErrDuplicateTransaction)
	require.Equal(t, 1, mp.Size())
}

func TestAddRejectsUnsignedTransaction(t *testing.T) {
	mp := New(Config{})
	tx := signedTx(t, "repo")
	tx.Signature = ""

	require.Error(t, mp.Add(tx))
	require.Equal(t, 0, mp.Size())
}

func TestGetForProposalPreservesFIFOOrder(t *testing.T) {
	mp := New(Config{})
	first := signedTx(t, "first")
	second := signedTx(t, "second")
	third := signedTx(t, "third")

	require.NoError(t, mp.Add(first))
	require.NoError(t, mp.Add(second))
	require.NoError(t, mp.Add(third))

	got := mp.GetForProposal()
	require.Len(t, got, 3)
	require.Equal(t, first.ID, got[0].ID)
	require.Equal(t, second.ID, got[1].ID)
	require.Equal(t, third.ID, got[2].ID)
}

func TestGetForProposalRespectsPerBlockCap(t *testing.T) {
	mp := New(Config{MaxTransactionsPerBlock: 2})
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, mp.Add(signedTx(t, name)))
	}
	require.Len(t, mp.GetForProposal(), 2)
}

func TestAddEvictsOldestAtCapacity(t *testing.T) {
	mp := New(Config{MaxTransactions: 2})
	first := signedTx(t, "a")
	second := signedTx(t, "b")
	third := signedTx(t, "c")

	require.NoError(t, mp.Add(first))
	require.NoError(t, mp.Add(second))
	require.NoError(t, mp.Add(third))

	require.Equal(t, 2, mp.Size())
	require.False(t, mp.Contains(first.ID), "oldest entry should have been evicted")
	require.True(t, mp.Contains(second.ID))
	require.True(t, mp.Contains(third.ID))
}

func TestRemoveBatchPreservesRemainderOrder(t *testing.T) {
	mp := New(Config{})
	first := signedTx(t, "a")
	second := signedTx(t, "b")
	third := signedTx(t, "c")
	require.NoError(t, mp.Add(first))
	require.NoError(t, mp.Add(second))
	require.NoError(t, mp.Add(third))

	mp.RemoveBatch([]string{second.ID})

	got := mp.GetForProposal()
	require.Len(t, got, 2)
	require.Equal(t, first.ID, got[0].ID)
	require.Equal(t, third.ID, got[1].ID)
}

func TestReapExpiredRemovesOnlyOldEntries(t *testing.T) {
	mp := New(Config{MaxTransactionAge: 20 * time.Millisecond})
	stale := signedTx(t, "stale")
	require.NoError(t, mp.Add(stale))

	time.Sleep(25 * time.Millisecond)
	fresh := signedTx(t, "fresh")
	require.NoError(t, mp.Add(fresh))

	n := mp.ReapExpired()
	require.Equal(t, 1, n)
	require.Equal(t, 1, mp.Size())
	require.True(t, mp.Contains(fresh.ID))
	require.False(t, mp.Contains(stale.ID))
}

func TestStatsOnEmptyPool(t *testing.T) {
	mp := New(Config{})
	require.Equal(t, Stats{}, mp.Stats())
}

func TestStatsCountsAndAverages(t *testing.T) {
	mp := New(Config{})
	tx := signedTx(t, "a")
	require.NoError(t, mp.Add(tx))
	mp.GetForProposal()

	stats := mp.Stats()
	require.Equal(t, 1, stats.Count)
	require.Equal(t, float64(1), stats.AvgProposeCount)
}
