package updater

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/sigstore/sigstore/pkg/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tufcore/tufcore/cache"
	"github.com/tufcore/tufcore/config"
	tuferrors "github.com/tufcore/tufcore/errors"
	"github.com/tufcore/tufcore/fetcher"
	"github.com/tufcore/tufcore/internal/simulator"
	"github.com/tufcore/tufcore/metadata"
	"github.com/tufcore/tufcore/repository"
)

// countingFetcher wraps a RemoteFetcher and counts GetRemote calls, so
// tests can assert on the number of remote requests an iteration made.
type countingFetcher struct {
	fetcher.RemoteFetcher
	count int
}

func (c *countingFetcher) GetRemote(attemptNr int, rf fetcher.RemoteFile) (fetcher.Format, string, fetcher.StagedHandle, error) {
	c.count++
	return c.RemoteFetcher.GetRemote(attemptNr, rf)
}

func newHarness(t *testing.T) (*simulator.RepositorySimulator, *countingFetcher, *repository.Repository, *cache.MetadataCache, *config.UpdaterConfig) {
	t.Helper()
	sim, err := simulator.New()
	require.NoError(t, err)

	cf := &countingFetcher{RemoteFetcher: sim}
	dir := t.TempDir()
	cc := cache.New(dir)
	repo := repository.New(cf, cc, nil)
	cfg := config.New(dir, t.TempDir(), t.TempDir())

	boot := NewBootstrapper(repo, cfg)
	require.NoError(t, boot.TrustOnFirstUse(cc))

	return sim, cf, repo, cc, cfg
}

func TestScenarioNoUpdates(t *testing.T) {
	_, cf, repo, cc, cfg := newHarness(t)
	d := NewDriver(repo, cc, cfg)

	result, err := d.CheckForUpdates(nil)
	require.NoError(t, err)
	assert.Equal(t, HasUpdates, result)

	cf.count = 0
	result, err = d.CheckForUpdates(nil)
	require.NoError(t, err)
	assert.Equal(t, NoUpdates, result)
	assert.Equal(t, 1, cf.count)
}

func TestScenarioSnapshotChangedRootUnchanged(t *testing.T) {
	sim, cf, repo, cc, cfg := newHarness(t)
	d := NewDriver(repo, cc, cfg)
	_, err := d.CheckForUpdates(nil)
	require.NoError(t, err)

	require.NoError(t, sim.AddPackage("foo", []byte("package contents")))
	sim.MDSnapshot.Signed.Version++
	require.NoError(t, sim.PublishSnapshot())
	sim.MDTimestamp.Signed.Version++
	require.NoError(t, sim.PublishTimestamp())

	rootVersionBefore := sim.MDRoot.Signed.Version
	cf.count = 0
	result, err := d.CheckForUpdates(nil)
	require.NoError(t, err)
	assert.Equal(t, HasUpdates, result)
	assert.Equal(t, 3, cf.count)
	assert.Equal(t, rootVersionBefore, sim.MDRoot.Signed.Version)
}

func TestScenarioRootRotationViaSnapshot(t *testing.T) {
	sim, _, repo, cc, cfg := newHarness(t)
	d := NewDriver(repo, cc, cfg)
	_, err := d.CheckForUpdates(nil)
	require.NoError(t, err)

	sim.MDRoot.Signed.Version++
	require.NoError(t, sim.PublishRoot())
	sim.MDSnapshot.Signed.Version++
	require.NoError(t, sim.PublishSnapshot())
	sim.MDTimestamp.Signed.Version++
	require.NoError(t, sim.PublishTimestamp())

	result, err := d.CheckForUpdates(nil)
	require.NoError(t, err)
	assert.Equal(t, HasUpdates, result)

	cached, err := cc.Load()
	require.NoError(t, err)
	assert.Equal(t, int64(2), cached.Root.Get().Signed.Version)
}

func TestScenarioSignatureFailureTriggersRootRefresh(t *testing.T) {
	sim, _, repo, cc, cfg := newHarness(t)
	d := NewDriver(repo, cc, cfg)
	_, err := d.CheckForUpdates(nil)
	require.NoError(t, err)

	// Re-sign the snapshot with a key the trusted root does not
	// recognize, simulating a compromised or misconfigured signer.
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	_ = pub
	wrongSigner, err := signature.LoadSigner(priv, crypto.Hash(0))
	require.NoError(t, err)
	sim.Signers[metadata.SNAPSHOT] = map[string]signature.Signer{"untrusted-key": wrongSigner}
	sim.MDSnapshot.Signed.Version++
	require.NoError(t, sim.PublishSnapshot())
	sim.MDTimestamp.Signed.Version++
	require.NoError(t, sim.PublishTimestamp())

	_, err = d.CheckForUpdates(nil)
	require.Error(t, err)
	var loopErr tuferrors.VerificationLoop
	require.ErrorAs(t, err, &loopErr)
	assert.Len(t, loopErr.History, cfg.MaxRestarts)
	for _, e := range loopErr.History {
		var verr tuferrors.VerificationError
		require.ErrorAs(t, e, &verr)
		assert.Equal(t, tuferrors.KindSignatures, verr.Kind)
	}
}

func TestScenarioReplayAttack(t *testing.T) {
	sim, _, repo, cc, cfg := newHarness(t)
	d := NewDriver(repo, cc, cfg)
	_, err := d.CheckForUpdates(nil)
	require.NoError(t, err)

	// Advance timestamp and snapshot, refresh (a changed snapshot makes
	// the driver commit the new timestamp), then roll the timestamp
	// version back: the cached trusted timestamp is now ahead of what
	// the server claims.
	sim.MDSnapshot.Signed.Version++
	require.NoError(t, sim.PublishSnapshot())
	sim.MDTimestamp.Signed.Version += 2
	require.NoError(t, sim.PublishTimestamp())
	_, err = d.CheckForUpdates(nil)
	require.NoError(t, err)

	sim.MDTimestamp.Signed.Version--
	require.NoError(t, sim.PublishTimestamp())

	_, err = d.CheckForUpdates(nil)
	require.Error(t, err)
	var loopErr tuferrors.VerificationLoop
	require.ErrorAs(t, err, &loopErr)
	require.NotEmpty(t, loopErr.History)
	var verr tuferrors.VerificationError
	require.ErrorAs(t, loopErr.History[0], &verr)
	assert.Equal(t, tuferrors.KindVersion, verr.Kind)
}

func TestScenarioBootstrapPinnedKeys(t *testing.T) {
	sim, err := simulator.New()
	require.NoError(t, err)
	dir := t.TempDir()
	cc := cache.New(dir)
	repo := repository.New(sim, cc, nil)
	cfg := config.New(dir, t.TempDir(), t.TempDir())

	// Three pinned fingerprints, but the simulator's root is only
	// signed by its one generated root key: simulate a 3rd-party
	// fingerprint set by adding two more trusted-but-absent key IDs.
	rootKeyID := sim.MDRoot.Signed.Roles[metadata.ROOT].KeyIDs[0]
	pinned := []string{rootKeyID, "fingerprint-b", "fingerprint-c"}

	boot := NewBootstrapper(repo, cfg)
	err = boot.FromPinnedFingerprints(cc, pinned, 3)
	require.Error(t, err)
	var verr tuferrors.VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, tuferrors.KindSignatures, verr.Kind)

	err = boot.FromPinnedFingerprints(cc, pinned, 1)
	require.NoError(t, err)
	_, ok := cc.GetCached(metadata.ROOT)
	assert.True(t, ok)
}
