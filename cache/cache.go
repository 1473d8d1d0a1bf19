// Package cache maintains the locally-trusted copies of root,
// timestamp, snapshot and mirrors metadata, and the derived CachedInfo
// snapshot the update driver re-reads every iteration.
//
// Commits are atomic (temp-file-then-rename), and a file already
// present in the cache is re-admitted as trusted without
// re-verification: the chain of trust is anchored at the root, which
// was itself either bootstrapped or verified by a predecessor.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/tufcore/tufcore/metadata"
	"github.com/tufcore/tufcore/trust"
)

// CachedInfo is the per-iteration snapshot of local trusted state.
type CachedInfo struct {
	Root      trust.Trusted[*metadata.Metadata[metadata.RootType]]
	Timestamp *trust.Trusted[*metadata.Metadata[metadata.TimestampType]]
	Snapshot  *trust.Trusted[*metadata.Metadata[metadata.SnapshotType]]
	Mirrors   *trust.Trusted[*metadata.Metadata[metadata.MirrorsType]]

	InfoSnapshot *metadata.FileInfo
	InfoRoot     *metadata.FileInfo
	InfoMirrors  *metadata.FileInfo
	InfoIndex    *metadata.FileInfo
}

// MetadataCache is the sole mutable state of the update protocol. The
// update driver holds WithLockedCache across each iteration's
// verification-then-commit window and across each root refresh, and
// the package downloader across its whole download. Commit and
// ClearCache take no lock of their own, and the lock belongs to this
// value: two MetadataCache values over one directory do not exclude
// each other.
type MetadataCache struct {
	mu  sync.Mutex
	dir string
}

// New opens (without creating) a metadata cache rooted at dir. dir
// must already contain a root.json; see updater.Bootstrapper for
// first-time initialization.
func New(dir string) *MetadataCache {
	return &MetadataCache{dir: dir}
}

// WithLockedCache serializes commit operations: concurrent invocations
// on the same MetadataCache are blocked until the lock is
// released, which happens on every exit path of action including
// panics propagated past this call.
func WithLockedCache[R any](c *MetadataCache, action func() (R, error)) (R, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return action()
}

// Load reads the current CachedInfo from disk. It is called at the
// start of every update-driver iteration since a previous iteration
// (or the root refresh that followed it) may have mutated the cache.
func (c *MetadataCache) Load() (*CachedInfo, error) {
	rootPath := c.path(metadata.ROOT)
	root, err := metadata.FromFile[metadata.RootType](rootPath)
	if err != nil {
		return nil, fmt.Errorf("cache: root metadata is required and must be present: %w", err)
	}
	info := &CachedInfo{Root: LocalAdmit(root)}

	if ts, err := metadata.FromFile[metadata.TimestampType](c.path(metadata.TIMESTAMP)); err == nil {
		trusted := LocalAdmit(ts)
		info.Timestamp = &trusted
		if m := ts.Signed.SnapshotMeta(); m.Version != 0 {
			fi := m.AsFileInfo()
			info.InfoSnapshot = &fi
		}
	}
	if snap, err := metadata.FromFile[metadata.SnapshotType](c.path(metadata.SNAPSHOT)); err == nil {
		trusted := LocalAdmit(snap)
		info.Snapshot = &trusted
		if m := snap.Signed.RootMeta(); m.Version != 0 {
			fi := m.AsFileInfo()
			info.InfoRoot = &fi
		}
		if m := snap.Signed.MirrorsMeta(); m.Version != 0 {
			fi := m.AsFileInfo()
			info.InfoMirrors = &fi
		}
		if m := snap.Signed.IndexMeta(); m.Version != 0 {
			fi := m.AsFileInfo()
			info.InfoIndex = &fi
		}
	}
	if mirrors, err := metadata.FromFile[metadata.MirrorsType](c.path(metadata.MIRRORS)); err == nil {
		trusted := LocalAdmit(mirrors)
		info.Mirrors = &trusted
	}
	return info, nil
}

// LocalAdmit re-admits a value already present in the cache as
// Trusted without re-verifying signatures: it was verified at the
// moment it entered the cache, and the chain of trust is anchored at
// the root regardless of when a given file was last re-checked.
func LocalAdmit[T any](v T) trust.Trusted[T] {
	return trust.LocalFileAdmit(v)
}

// GetCachedRoot returns the path to the locally cached root document.
func (c *MetadataCache) GetCachedRoot() string { return c.path(metadata.ROOT) }

// GetCached returns the path to role's cached document, if present.
func (c *MetadataCache) GetCached(role string) (string, bool) {
	p := c.path(role)
	if _, err := os.Stat(p); err != nil {
		return "", false
	}
	return p, true
}

// Commit atomically persists data as role's cached document, writing
// to a temp file in the same directory and renaming over the target
// so a crash mid-write cannot leave a partially-written file visible.
func (c *MetadataCache) Commit(role string, data []byte) error {
	target := c.path(role)
	tmp, err := os.CreateTemp(c.dir, "tufcore_tmp_*")
	if err != nil {
		return fmt.Errorf("cache: creating temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("cache: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cache: renaming into place: %w", err)
	}
	log.Debugf("committed %s to cache", role)
	return nil
}

// ClearCache drops the cached timestamp, snapshot and mirrors
// documents but retains root and the package index.
func (c *MetadataCache) ClearCache() error {
	for _, role := range []string{metadata.TIMESTAMP, metadata.SNAPSHOT, metadata.MIRRORS} {
		p := c.path(role)
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("cache: clearing %s: %w", role, err)
		}
	}
	log.Info("cache cleared: timestamp, snapshot and mirrors removed")
	return nil
}

func (c *MetadataCache) path(role string) string {
	if role == metadata.INDEX {
		return filepath.Join(c.dir, "index.tar")
	}
	return filepath.Join(c.dir, fmt.Sprintf("%s.json", role))
}
