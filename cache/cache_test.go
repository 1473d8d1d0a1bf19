package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/secure-systems-lab/go-securesystemslib/cjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tufcore/tufcore/metadata"
)

func writeRoot(t *testing.T, dir string) {
	t.Helper()
	root := metadata.Root(time.Now().Add(time.Hour))
	require.NoError(t, root.ToFile(filepath.Join(dir, "root.json"), false))
}

func TestLoadRequiresRoot(t *testing.T) {
	dir := t.TempDir()
	c := New(dir)
	_, err := c.Load()
	assert.Error(t, err)
}

func TestLoadWithOnlyRoot(t *testing.T) {
	dir := t.TempDir()
	writeRoot(t, dir)
	c := New(dir)

	info, err := c.Load()
	require.NoError(t, err)
	assert.Nil(t, info.Timestamp)
	assert.Nil(t, info.Snapshot)
	assert.Nil(t, info.Mirrors)
	assert.Equal(t, int64(1), info.Root.Get().Signed.Version)
}

func TestCommitAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeRoot(t, dir)
	c := New(dir)

	snap := metadata.Snapshot(time.Now().Add(time.Hour))
	snap.Signed.Meta = map[string]metadata.MetaFiles{
		"root.json": {Version: 1, Length: 10, Hashes: metadata.Hashes{"sha256": metadata.HexBytes{1}}},
	}
	// ToBytes writes SignedBytes verbatim, so re-canonicalize after
	// changing the payload.
	signedBytes, err := cjson.EncodeCanonical(snap.Signed)
	require.NoError(t, err)
	snap.SignedBytes = signedBytes
	data, err := snap.ToBytes(false)
	require.NoError(t, err)
	require.NoError(t, c.Commit(metadata.SNAPSHOT, data))

	info, err := c.Load()
	require.NoError(t, err)
	require.NotNil(t, info.Snapshot)
	assert.Equal(t, int64(1), info.Snapshot.Get().Signed.Version)
	require.NotNil(t, info.InfoRoot)
	assert.Equal(t, int64(10), info.InfoRoot.Length)
}

func TestClearCacheRetainsRootAndIndex(t *testing.T) {
	dir := t.TempDir()
	writeRoot(t, dir)
	c := New(dir)

	ts := metadata.Timestamp(time.Now().Add(time.Hour))
	tsBytes, err := ts.ToBytes(false)
	require.NoError(t, err)
	require.NoError(t, c.Commit(metadata.TIMESTAMP, tsBytes))
	require.NoError(t, c.Commit(metadata.INDEX, []byte("tar-bytes")))

	require.NoError(t, c.ClearCache())

	_, ok := c.GetCached(metadata.TIMESTAMP)
	assert.False(t, ok)
	_, ok = c.GetCached(metadata.ROOT)
	assert.True(t, ok)
	_, ok = c.GetCached(metadata.INDEX)
	assert.True(t, ok)
}

func TestCommitIsAtomic(t *testing.T) {
	dir := t.TempDir()
	writeRoot(t, dir)
	c := New(dir)

	require.NoError(t, c.Commit(metadata.MIRRORS, []byte("v1")))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), "tufcore_tmp_")
	}
}
