package refstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/guts-org/guts-node/objstore"
)

func TestSetAndResolveDirectReference(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("refs/heads/main", objstore.ObjectID("deadbeef")))

	ref, err := s.Get("refs/heads/main")
	require.NoError(t, err)
	require.False(t, ref.IsSymbolic())

	id, err := s.Resolve(ref)
	require.NoError(t, err)
	require.Equal(t, objstore.ObjectID("deadbeef"), id)
}

func TestResolveHEADFollowsSymbolicChain(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("refs/heads/main", objstore.ObjectID("deadbeef")))
	require.NoError(t, s.SetSymbolic("HEAD", "refs/heads/main"))

	id, err := s.ResolveHEAD()
	require.NoError(t, err)
	require.Equal(t, objstore.ObjectID("deadbeef"), id)
}

func TestResolveDetectsBrokenSymbolicRef(t *testing.T) {
	s := New()
	require.NoError(t, s.SetSymbolic("HEAD", "refs/heads/missing"))

	_, err := s.ResolveHEAD()
	require.ErrorIs(t, err, ErrBrokenSymbolicRef)
}

func TestResolveDetectsSymbolicCycle(t *testing.T) {
	s := New()
	require.NoError(t, s.SetSymbolic("a", "b"))
	require.NoError(t, s.SetSymbolic("b", "a"))

	ref, err := s.Get("a")
	require.NoError(t, err)
	_, err = s.Resolve(ref)
	require.ErrorIs(t, err, ErrBrokenSymbolicRef)
}

func TestCurrentBranchFromHEAD(t *testing.T) {
	s := New()
	require.NoError(t, s.SetSymbolic("HEAD", "refs/heads/develop"))

	branch, ok := s.CurrentBranch()
	require.True(t, ok)
	require.Equal(t, "develop", branch)
}

func TestCurrentBranchFalseWhenDetached(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("HEAD", objstore.ObjectID("deadbeef")))

	_, ok := s.CurrentBranch()
	require.False(t, ok)
}

// TestListAllDirectForAdvertisement pins the ref-advertisement contract:
// only direct references are advertised, sorted, symbolic refs excluded.
func TestListAllDirectForAdvertisement(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("refs/heads/main", objstore.ObjectID("aaaa")))
	require.NoError(t, s.Set("refs/heads/feature", objstore.ObjectID("bbbb")))
	require.NoError(t, s.SetSymbolic("HEAD", "refs/heads/main"))

	direct := s.ListAllDirect()
	require.Len(t, direct, 2)
	require.Equal(t, "refs/heads/feature", direct[0].Name)
	require.Equal(t, objstore.ObjectID("bbbb"), direct[0].ID)
	require.Equal(t, "refs/heads/main", direct[1].Name)
	require.Equal(t, objstore.ObjectID("aaaa"), direct[1].ID)
}

func TestListPrefixFiltering(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("refs/heads/main", objstore.ObjectID("aaaa")))
	require.NoError(t, s.Set("refs/tags/v1", objstore.ObjectID("bbbb")))

	heads := s.List("refs/heads/")
	require.Equal(t, []string{"refs/heads/main"}, heads)
	require.Len(t, s.ListAll(), 2)
}

func TestDeleteReportsExistence(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("refs/heads/main", objstore.ObjectID("aaaa")))

	require.True(t, s.Delete("refs/heads/main"))
	require.False(t, s.Delete("refs/heads/main"))
	_, err := s.Get("refs/heads/main")
	require.ErrorIs(t, err, ErrNotFound)
}
