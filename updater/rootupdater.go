package updater

import (
	"bytes"
	"errors"
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

// RootUpdater implements the root-refresh sub-protocol: it walks
// forward from the currently trusted root version, verifying each
// candidate under both the preceding root's threshold (continuity) and
// its own (self-consistency), persisting each verified step, and gates
// ClearCache on whether the root actually changed.
type RootUpdater struct {
	repo   *repository.Repository
	engine *trust.Engine
	cfg    *config.UpdaterConfig
}

// NewRootUpdater constructs a RootUpdater over the given collaborators.
func NewRootUpdater(repo *repository.Repository, engine *trust.Engine, cfg *config.UpdaterConfig) *RootUpdater {
	return &RootUpdater{repo: repo, engine: engine, cfg: cfg}
}

// Refresh fetches and verifies root versions sequentially, starting
// one past the currently cached version, until the remote reports no
// newer version (HTTP 404/403) or MaxRootRotations versions have been
// consumed. The cache is cleared only if the root changed: a refresh
// triggered by a snapshot-declared root FileInfo counts as a change
// without comparison, any other refresh compares the old and new root
// bytes. Clearing both frees the next iteration to re-download
// the index against a fresh snapshot, and defends against a
// timestamp/snapshot signing-key compromise that pinned
// version = MaxInt, which would otherwise permanently block updates.
func (u *RootUpdater) Refresh(attemptNr int, reason RootUpdateReason, cc *cache.MetadataCache) error {
	cached, err := cc.Load()
	if err != nil {
		return fmt.Errorf("rootupdater: loading cached info: %w", err)
	}

	originalBytes := append([]byte(nil), cached.Root.Get().SignedBytes...)
	current := cached.Root
	changed := reason.FileInfo != nil // a snapshot-declared new root hash is changed by assumption

	nextVersion := current.Get().Signed.Version + 1
	upperBound := nextVersion + u.cfg.MaxRootRotations

	for v := nextVersion; v < upperBound; v++ {
		name := fmt.Sprintf("%d.root.json", v)
		_, _, handle, err := u.repo.GetRemote(attemptNr, fetcher.RemoteFile{Name: name, MaxLength: u.cfg.RootMaxLength})
		if err != nil {
			var httpErr tuferrors.ErrDownloadHTTP
			if errors.As(err, &httpErr) && (httpErr.StatusCode == 404 || httpErr.StatusCode == 403) {
				log.Debugf("no root version %d available, stopping root refresh", v)
				break
			}
			return fmt.Errorf("rootupdater: fetching %s: %w", name, err)
		}

		data, err := handle.Read()
		if err != nil {
			handle.Discard()
			return fmt.Errorf("rootupdater: reading staged %s: %w", name, err)
		}

		if v == nextVersion && reason.FileInfo != nil {
			if !trust.VerifyFileInfo(*reason.FileInfo, data) {
				handle.Discard()
				return tuferrors.NewFileInfo(name)
			}
		}

		staged, err := metadata.FromBytes[metadata.RootType](data)
		if err != nil {
			handle.Discard()
			return tuferrors.NewDeserialization(name, err)
		}

		next, err := trust.VerifyRootSuccession(u.engine, current, staged)
		if err != nil {
			handle.Discard()
			return err
		}

		if err := cc.Commit(metadata.ROOT, data); err != nil {
			handle.Discard()
			return fmt.Errorf("rootupdater: committing %s: %w", name, err)
		}
		handle.Discard()
		current = next
		log.Infof("root advanced to version %d", v)
	}

	if reason.FileInfo == nil {
		changed = !bytes.Equal(originalBytes, current.Get().SignedBytes)
	}

	if changed {
		log.Info("root changed, clearing cached timestamp/snapshot/mirrors")
		if err := cc.ClearCache(); err != nil {
			return fmt.Errorf("rootupdater: clearing cache: %w", err)
		}
	}
	return nil
}
