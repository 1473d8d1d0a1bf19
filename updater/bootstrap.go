package updater

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/tufcore/tufcore/cache"
	"github.com/tufcore/tufcore/config"
	tuferrors "github.com/tufcore/tufcore/errors"
	"github.com/tufcore/tufcore/fetcher"
	"github.com/tufcore/tufcore/metadata"
	"github.com/tufcore/tufcore/repository"
	"github.com/tufcore/tufcore/trust"
)

// Bootstrapper performs the one-shot, out-of-band root acquisition a
// client needs before Driver.CheckForUpdates can run at all: either a
// pinned set of root-key fingerprints (the normal path) or trust on
// first use (threshold zero). The initial root is fetched over the
// network rather than read from an embedded file.
type Bootstrapper struct {
	repo   *repository.Repository
	engine *trust.Engine
	cfg    *config.UpdaterConfig
}

// NewBootstrapper constructs a Bootstrapper over the given
// collaborators.
func NewBootstrapper(repo *repository.Repository, cfg *config.UpdaterConfig) *Bootstrapper {
	return &Bootstrapper{repo: repo, engine: trust.NewEngine(), cfg: cfg}
}

// TrustOnFirstUse bootstraps from whatever root document the remote
// currently serves, with no external validation beyond the fact that
// it parses as a Root document. Callers that care about supply-chain
// integrity should prefer FromPinnedFingerprints.
func (b *Bootstrapper) TrustOnFirstUse(cc *cache.MetadataCache) error {
	return b.fromFingerprints(cc, nil, 0)
}

// FromPinnedFingerprints bootstraps by fetching the current root and
// requiring at least threshold valid signatures from keyIDs, which the
// caller is expected to have obtained out of band (e.g. compiled into
// the binary, or fetched over a separately-trusted channel).
func (b *Bootstrapper) FromPinnedFingerprints(cc *cache.MetadataCache, keyIDs []string, threshold int) error {
	if threshold <= 0 {
		return fmt.Errorf("bootstrap: threshold must be positive for pinned-fingerprint bootstrap")
	}
	return b.fromFingerprints(cc, keyIDs, threshold)
}

func (b *Bootstrapper) fromFingerprints(cc *cache.MetadataCache, keyIDs []string, threshold int) error {
	if _, ok := cc.GetCached(metadata.ROOT); ok {
		return fmt.Errorf("bootstrap: cache already has a root document; refusing to overwrite")
	}

	_, _, handle, err := b.repo.GetRemote(0, fetcher.RemoteFile{Name: "1.root.json", MaxLength: b.cfg.RootMaxLength})
	if err != nil {
		return tuferrors.SomeRemoteError{Cause: err}
	}
	defer handle.Discard()

	data, err := handle.Read()
	if err != nil {
		return err
	}
	root, err := metadata.FromBytes[metadata.RootType](data)
	if err != nil {
		return tuferrors.NewDeserialization("1.root.json", err)
	}

	trusted, err := trust.VerifyFingerprints(b.engine, keyIDs, threshold, root)
	if err != nil {
		return err
	}

	if err := cc.Commit(metadata.ROOT, data); err != nil {
		return fmt.Errorf("bootstrap: committing initial root: %w", err)
	}
	if err := cc.ClearCache(); err != nil {
		return fmt.Errorf("bootstrap: clearing cache after initial commit: %w", err)
	}
	log.Infof("bootstrapped root at version %d (threshold %d)", trusted.Get().Signed.Version, threshold)
	return nil
}
