package pack

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/guts-org/guts-node/objstore"
)

func TestBuildParseRoundTrip(t *testing.T) {
	objs := []*objstore.GitObject{
		objstore.New(objstore.TypeBlob, []byte("hello world")),
		objstore.New(objstore.TypeTree, []byte("100644 blob deadbeef\tfile.txt\n")),
		objstore.New(objstore.TypeCommit, []byte("tree deadbeef\nauthor a <a@b> 0 +0000\n\nmsg\n")),
	}

	data, err := Build(objs)
	require.NoError(t, err)
	require.Equal(t, Magic, string(data[:4]))

	store := objstore.NewMemStore()
	ids, err := Parse(data, store)
	require.NoError(t, err)
	require.Len(t, ids, len(objs))

	for i, obj := range objs {
		require.Equal(t, obj.ID, ids[i])
		got, err := store.Get(obj.ID)
		require.NoError(t, err)
		require.Equal(t, obj.Data, got.Data)
		require.Equal(t, obj.ObjType, got.ObjType)
	}
}

func TestParseRejectsBadMagic(t *testing.T) {
	data, err := Build(nil)
	require.NoError(t, err)
	data[0] = 'X'
	_, err = Parse(data, objstore.NewMemStore())
	require.Error(t, err)
}

func TestParseRejectsTamperedTrailer(t *testing.T) {
	objs := []*objstore.GitObject{objstore.New(objstore.TypeBlob, []byte("data"))}
	data, err := Build(objs)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff

	_, err = Parse(data, objstore.NewMemStore())
	require.Error(t, err)
}

func TestParseRejectsShortStream(t *testing.T) {
	_, err := Parse([]byte("short"), objstore.NewMemStore())
	require.Error(t, err)
}

func TestBuildEmptyObjectList(t *testing.T) {
	data, err := Build(nil)
	require.NoError(t, err)

	ids, err := Parse(data, objstore.NewMemStore())
	require.NoError(t, err)
	require.Empty(t, ids)
}
