package index

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTar(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name, Mode: 0644, Size: int64(len(content)), Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func TestLookupAndReadAt(t *testing.T) {
	raw := buildTar(t, map[string]string{
		"package/a.json": `{"path":"a.tar.gz"}`,
		"package/b.json": `{"path":"b.tar.gz"}`,
	})
	r, err := NewReader(raw)
	require.NoError(t, err)

	offset, ok := r.Lookup("package/b.json")
	require.True(t, ok)
	entry, err := r.ReadAt(offset)
	require.NoError(t, err)
	assert.Equal(t, "package/b.json", entry.Path)
	assert.Equal(t, `{"path":"b.tar.gz"}`, string(entry.Data))

	_, ok = r.Lookup("package/missing.json")
	assert.False(t, ok)
}

func TestNewReaderHandlesGzip(t *testing.T) {
	raw := buildTar(t, map[string]string{"package/a.json": "content"})
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write(raw)
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	r, err := NewReader(buf.Bytes())
	require.NoError(t, err)
	offset, ok := r.Lookup("package/a.json")
	require.True(t, ok)
	entry, err := r.ReadAt(offset)
	require.NoError(t, err)
	assert.Equal(t, "content", string(entry.Data))
}

func TestReadAtOutOfRange(t *testing.T) {
	raw := buildTar(t, map[string]string{"package/a.json": "content"})
	r, err := NewReader(raw)
	require.NoError(t, err)
	_, err = r.ReadAt(int64(len(raw) + 1000))
	assert.Error(t, err)
}
