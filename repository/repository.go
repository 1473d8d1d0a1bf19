// Package repository provides the thin collaborator facade the update
// driver talks to: mirror-scoped remote fetches, cache path lookups,
// and access to the package index reader. It composes the fetcher and
// cache packages rather than duplicating their logic.
package repository

import (
	log "github.com/sirupsen/logrus"

	"github.com/tufcore/tufcore/cache"
	"github.com/tufcore/tufcore/fetcher"
	"github.com/tufcore/tufcore/index"
)

// Repository is the external collaborator the update driver and
// downloader talk to for remote fetches, cache access, and the package
// index.
type Repository struct {
	Fetcher fetcher.RemoteFetcher
	Cache   *cache.MetadataCache
	Index   index.Reader
}

// New builds a Repository from its three collaborators.
func New(f fetcher.RemoteFetcher, c *cache.MetadataCache, idx index.Reader) *Repository {
	return &Repository{Fetcher: f, Cache: c, Index: idx}
}

// GetRemote delegates to the configured fetcher.
func (r *Repository) GetRemote(attemptNr int, rf fetcher.RemoteFile) (fetcher.Format, string, fetcher.StagedHandle, error) {
	return r.Fetcher.GetRemote(attemptNr, rf)
}

// GetCached delegates to the configured cache.
func (r *Repository) GetCached(role string) (string, bool) { return r.Cache.GetCached(role) }

// GetCachedRoot delegates to the configured cache.
func (r *Repository) GetCachedRoot() string { return r.Cache.GetCachedRoot() }

// ClearCache delegates to the configured cache.
func (r *Repository) ClearCache() error { return r.Cache.ClearCache() }

// WithMirror delegates to the configured fetcher, pinning one mirror
// for the duration of action.
func (r *Repository) WithMirror(action func() error) error { return r.Fetcher.WithMirror(action) }

// UpdateMirrors pushes a freshly-verified Mirrors role document's
// origins into the configured fetcher, if it supports runtime mirror
// replacement. Fetchers that don't (e.g. a test fake) silently ignore
// the update.
func (r *Repository) UpdateMirrors(urlBases []string) {
	if setter, ok := r.Fetcher.(fetcher.MirrorSetter); ok {
		setter.SetMirrors(urlBases)
	}
}

// WithIndex runs callback against the current index reader. It is a
// scoped accessor so callers never hold a reference to the reader
// across an index swap triggered by a concurrent refresh.
func (r *Repository) WithIndex(callback func(index.Reader) error) error {
	return callback(r.Index)
}

// GetIndexIdx returns the current index reader directly, for callers
// that need to perform multiple lookups without the overhead of a
// closure per call.
func (r *Repository) GetIndexIdx() index.Reader { return r.Index }

// SetIndex swaps in a freshly-downloaded index reader after a
// successful refresh cycle.
func (r *Repository) SetIndex(idx index.Reader) { r.Index = idx }

// Log emits a message at info level.
func (r *Repository) Log(message string) { log.Info(message) }
