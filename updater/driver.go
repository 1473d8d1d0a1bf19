package updater

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tufcore/tufcore/cache"
	"github.com/tufcore/tufcore/config"
	tuferrors "github.com/tufcore/tufcore/errors"
	"github.com/tufcore/tufcore/fetcher"
	"github.com/tufcore/tufcore/index"
	"github.com/tufcore/tufcore/metadata"
	"github.com/tufcore/tufcore/repository"
	"github.com/tufcore/tufcore/trust"
)

// Driver is the top-level update state machine: timestamp->
// snapshot->(root rotation?)->mirrors->index, wrapped in a
// bounded-retry loop rather than a single linear pass.
type Driver struct {
	repo   *repository.Repository
	cache  *cache.MetadataCache
	engine *trust.Engine
	cfg    *config.UpdaterConfig
	root   *RootUpdater
}

// NewDriver constructs a Driver over the given collaborators.
func NewDriver(repo *repository.Repository, cc *cache.MetadataCache, cfg *config.UpdaterConfig) *Driver {
	engine := trust.NewEngine()
	return &Driver{
		repo:   repo,
		cache:  cc,
		engine: engine,
		cfg:    cfg,
		root:   NewRootUpdater(repo, engine, cfg),
	}
}

// CheckForUpdates runs the bounded-retry update loop. now, if
// provided, is used for every expiry check and is threaded through
// unchanged on every retry (a live clock should be sampled once by the
// caller, not re-sampled per iteration, so that slow retries cannot
// extend a document's effective lifetime).
func (d *Driver) CheckForUpdates(now *time.Time) (Result, error) {
	var history []error

	for attempt := 0; attempt < d.cfg.MaxRestarts; attempt++ {
		var result Result
		var iterErr error

		mirrorErr := d.repo.WithMirror(func() error {
			result, iterErr = d.runIteration(attempt, now)
			return nil
		})
		if mirrorErr != nil {
			return Result(0), mirrorErr
		}
		if iterErr == nil {
			return result, nil
		}

		if _, ok := iterErr.(tuferrors.RootUpdated); ok {
			log.Info("root was updated mid-iteration, restarting")
			history = append(history, iterErr)
			continue
		}
		if ve, ok := iterErr.(tuferrors.VerificationError); ok {
			log.Infof("iteration failed verification (%v), refreshing root and retrying", ve)
			history = append(history, iterErr)
			_, rootErr := cache.WithLockedCache(d.cache, func() (struct{}, error) {
				return struct{}{}, d.root.Refresh(attempt, RootUpdateReason{Err: iterErr}, d.cache)
			})
			if rootErr != nil {
				return Result(0), rootErr
			}
			continue
		}
		if _, ok := iterErr.(tuferrors.Recoverable); ok {
			// A transient failure (e.g. SomeRemoteError) is not itself
			// evidence that the root is stale, so it is retried without
			// invoking RootUpdater.
			log.Infof("iteration failed with a recoverable error (%v), retrying", iterErr)
			history = append(history, iterErr)
			continue
		}

		// A fatal error indicates a broken local invariant rather than
		// an adversarial sequence the retry loop can work around.
		return Result(0), iterErr
	}

	log.Warnf("exceeded retry ceiling of %d attempts", d.cfg.MaxRestarts)
	return Result(0), tuferrors.VerificationLoop{History: history}
}

// runIteration performs one pass of the refresh algorithm: load cache,
// fetch+verify timestamp, short-circuit on an unchanged snapshot hash,
// fetch+verify snapshot, detect a root change and defer to
// RootUpdater, fetch+verify mirrors and the package index if changed,
// then commit. It stages files as it goes and discards every staged
// handle on every exit path; commits write the bytes already read from
// the handles.
func (d *Driver) runIteration(attempt int, now *time.Time) (Result, error) {
	return cache.WithLockedCache(d.cache, func() (Result, error) {
		return d.runIterationLocked(attempt, now)
	})
}

// runIterationLocked is runIteration's body, run with the cache's lock
// held across the whole load-verify-commit window so a concurrent
// checkForUpdates or downloadPackage call sharing the same
// MetadataCache cannot interleave with it.
func (d *Driver) runIterationLocked(attempt int, now *time.Time) (Result, error) {
	var staged []fetcher.StagedHandle
	discardAll := func() {
		for _, h := range staged {
			h.Discard()
		}
	}
	defer discardAll()

	// 1. Load CachedInfo.
	cached, err := d.cache.Load()
	if err != nil {
		return Result(0), err
	}

	// 2. Fetch and verify Timestamp.
	tsFormat, _, tsHandle, err := d.repo.GetRemote(attempt, fetcher.RemoteFile{Name: "timestamp.json", MaxLength: d.cfg.TimestampMaxLength})
	_ = tsFormat
	if err != nil {
		return Result(0), tuferrors.SomeRemoteError{Cause: err}
	}
	staged = append(staged, tsHandle)
	tsData, err := tsHandle.Read()
	if err != nil {
		return Result(0), err
	}
	newTimestamp, err := metadata.FromBytes[metadata.TimestampType](tsData)
	if err != nil {
		return Result(0), tuferrors.NewDeserialization("timestamp.json", err)
	}
	var priorTSVersion *int64
	if cached.Timestamp != nil {
		v := cached.Timestamp.Get().Signed.Version
		priorTSVersion = &v
	}
	trustedTimestamp, err := trust.VerifyRole(d.engine, cached.Root, metadata.TIMESTAMP, newTimestamp, priorTSVersion, now)
	if err != nil {
		return Result(0), err
	}

	// 3. Compare snapshot FileInfo; short-circuit if unchanged.
	newInfoSnapshot := trustedTimestamp.Get().Signed.SnapshotMeta().AsFileInfo()
	if cached.InfoSnapshot != nil && cached.InfoSnapshot.Equal(newInfoSnapshot) {
		log.Debug("timestamp unchanged snapshot hash, no updates")
		return NoUpdates, nil
	}

	// 4. Fetch and verify Snapshot.
	snapFormat, _, snapHandle, err := d.repo.GetRemote(attempt, fetcher.RemoteFile{Name: "snapshot.json", MaxLength: d.cfg.SnapshotMaxLength})
	_ = snapFormat
	if err != nil {
		return Result(0), tuferrors.SomeRemoteError{Cause: err}
	}
	staged = append(staged, snapHandle)
	snapData, err := snapHandle.Read()
	if err != nil {
		return Result(0), err
	}
	if !trust.VerifyFileInfo(newInfoSnapshot, snapData) {
		return Result(0), tuferrors.NewFileInfo("snapshot.json")
	}
	newSnapshot, err := metadata.FromBytes[metadata.SnapshotType](snapData)
	if err != nil {
		return Result(0), tuferrors.NewDeserialization("snapshot.json", err)
	}
	var priorSnapVersion *int64
	if cached.Snapshot != nil {
		v := cached.Snapshot.Get().Signed.Version
		priorSnapVersion = &v
	}
	trustedSnapshot, err := trust.VerifyRole(d.engine, cached.Root, metadata.SNAPSHOT, newSnapshot, priorSnapVersion, now)
	if err != nil {
		return Result(0), err
	}

	// 5. Detect root change. Absence of a cached root FileInfo means
	// this is the first post-bootstrap iteration: treat root as
	// unchanged so it doesn't loop forever comparing against nothing.
	newInfoRoot := trustedSnapshot.Get().Signed.RootMeta()
	if newInfoRoot.Version != 0 && cached.InfoRoot != nil {
		fi := newInfoRoot.AsFileInfo()
		if !cached.InfoRoot.Equal(fi) {
			log.Info("snapshot declares a new root, deferring to root updater")
			if err := d.root.Refresh(attempt, RootUpdateReason{FileInfo: &fi}, d.cache); err != nil {
				return Result(0), err
			}
			return Result(0), tuferrors.RootUpdated{}
		}
	}

	// 6. Detect mirrors change.
	var mirrorsData []byte
	mirrorsChanged := false
	newInfoMirrors := trustedSnapshot.Get().Signed.MirrorsMeta()
	if newInfoMirrors.Version != 0 {
		fi := newInfoMirrors.AsFileInfo()
		if cached.InfoMirrors == nil || !cached.InfoMirrors.Equal(fi) {
			mirrorsChanged = true
			_, _, mHandle, err := d.repo.GetRemote(attempt, fetcher.RemoteFile{Name: "mirrors.json", MaxLength: d.cfg.MirrorsMaxLength})
			if err != nil {
				return Result(0), tuferrors.SomeRemoteError{Cause: err}
			}
			staged = append(staged, mHandle)
			mirrorsData, err = mHandle.Read()
			if err != nil {
				return Result(0), err
			}
			if !trust.VerifyFileInfo(fi, mirrorsData) {
				return Result(0), tuferrors.NewFileInfo("mirrors.json")
			}
			newMirrors, err := metadata.FromBytes[metadata.MirrorsType](mirrorsData)
			if err != nil {
				return Result(0), tuferrors.NewDeserialization("mirrors.json", err)
			}
			if err := rejectPartialMirrors(newMirrors); err != nil {
				return Result(0), err
			}
			trustedMirrors, err := trust.VerifyRole(d.engine, cached.Root, metadata.MIRRORS, newMirrors, nil, now)
			if err != nil {
				return Result(0), err
			}
			d.repo.UpdateMirrors(urlBasesOf(trustedMirrors.Get().Signed))
		}
	}

	// 7. Detect index change.
	var indexData []byte
	indexChanged := false
	newInfoIndex := trustedSnapshot.Get().Signed.IndexMeta()
	if newInfoIndex.Version != 0 {
		fi := newInfoIndex.AsFileInfo()
		if cached.InfoIndex == nil || !cached.InfoIndex.Equal(fi) {
			indexChanged = true
			_, _, iHandle, err := d.repo.GetRemote(attempt, fetcher.RemoteFile{Name: "index.tar", MaxLength: d.cfg.IndexMaxLength})
			if err != nil {
				return Result(0), tuferrors.SomeRemoteError{Cause: err}
			}
			staged = append(staged, iHandle)
			indexData, err = iHandle.Read()
			if err != nil {
				return Result(0), err
			}
			if !trust.VerifyFileInfo(fi, indexData) {
				return Result(0), tuferrors.NewFileInfo("index.tar")
			}
		}
	}

	// 8. Commit all staged artifacts.
	tsBytes, err := trustedTimestamp.Get().ToBytes(false)
	if err != nil {
		return Result(0), err
	}
	if err := d.cache.Commit(metadata.TIMESTAMP, tsBytes); err != nil {
		return Result(0), err
	}
	snapBytes, err := trustedSnapshot.Get().ToBytes(false)
	if err != nil {
		return Result(0), err
	}
	if err := d.cache.Commit(metadata.SNAPSHOT, snapBytes); err != nil {
		return Result(0), err
	}
	if mirrorsChanged {
		if err := d.cache.Commit(metadata.MIRRORS, mirrorsData); err != nil {
			return Result(0), err
		}
	}
	if indexChanged {
		idx, err := index.NewReader(indexData)
		if err != nil {
			return Result(0), tuferrors.InvalidFileInIndex{IndexFile: "index.tar", Cause: err}
		}
		if err := d.cache.Commit(metadata.INDEX, indexData); err != nil {
			return Result(0), err
		}
		d.repo.SetIndex(idx)
	}

	return HasUpdates, nil
}

// urlBasesOf extracts the download origins from a verified Mirrors
// role document, in the order they were declared.
func urlBasesOf(m metadata.MirrorsType) []string {
	urlBases := make([]string, 0, len(m.Mirrors))
	for _, mirror := range m.Mirrors {
		urlBases = append(urlBases, mirror.URLBase)
	}
	return urlBases
}

// rejectPartialMirrors enforces an only-full-mirrors policy: unknown
// mirror-content variants are rejected outright rather than silently
// ignored.
func rejectPartialMirrors(m *metadata.Metadata[metadata.MirrorsType]) error {
	for _, mirror := range m.Signed.Mirrors {
		for _, kind := range mirror.MetaContent {
			if kind != metadata.MirrorContentFull {
				return tuferrors.NewFileInfo("mirrors.json")
			}
		}
	}
	return nil
}
