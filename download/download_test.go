package download

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tufcore/tufcore/cache"
	tuferrors "github.com/tufcore/tufcore/errors"
	"github.com/tufcore/tufcore/index"
	"github.com/tufcore/tufcore/internal/simulator"
	"github.com/tufcore/tufcore/repository"
)

func newDownloaderHarness(t *testing.T) (*simulator.RepositorySimulator, *PackageDownloader) {
	t.Helper()
	sim, err := simulator.New()
	require.NoError(t, err)
	require.NoError(t, sim.AddPackage("widget", []byte("widget tarball contents")))
	require.NoError(t, sim.PublishSnapshot())
	require.NoError(t, sim.PublishTimestamp())

	idx, err := index.NewReader(sim.IndexBytes())
	require.NoError(t, err)

	cc := cache.New(t.TempDir())
	repo := repository.New(sim, cc, idx)
	targetDir := t.TempDir()
	return sim, NewPackageDownloader(repo, cc, targetDir)
}

func TestDownloadResolvesAndVerifies(t *testing.T) {
	_, d := newDownloaderHarness(t)

	path, err := d.Download(0, "widget")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "widget tarball contents", string(data))
	assert.Equal(t, filepath.Base(path), "widget")
}

func TestDownloadShortCircuitsOnCacheHit(t *testing.T) {
	sim, d := newDownloaderHarness(t)

	_, err := d.Download(0, "widget")
	require.NoError(t, err)

	// Remove the package from the simulator entirely: if Download
	// reached the network again it would fail to resolve it.
	sim.RemovePackage("widget")

	path, ok := d.FindCached("widget")
	require.True(t, ok)
	second, err := d.Download(0, "widget")
	require.NoError(t, err)
	assert.Equal(t, path, second)
}

func TestDownloadUnknownPackage(t *testing.T) {
	_, d := newDownloaderHarness(t)

	_, err := d.Download(0, "does-not-exist")
	require.Error(t, err)
	var invalid tuferrors.InvalidPackage
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "does-not-exist", invalid.PackageID)
}
