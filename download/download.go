// Package download implements package-artifact retrieval against the
// trusted package index: a flat index.Reader.Lookup rather than a
// delegation tree walk, since this client has no Targets role or
// delegations.
package download

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/tufcore/tufcore/cache"
	tuferrors "github.com/tufcore/tufcore/errors"
	"github.com/tufcore/tufcore/fetcher"
	"github.com/tufcore/tufcore/index"
	"github.com/tufcore/tufcore/metadata"
	"github.com/tufcore/tufcore/repository"
)

// targetsEntry is the small JSON document recorded per package in the
// index: the tarball's download path and its expected FileInfo. The
// whole index is verified en bloc by the snapshot's index hash (open
// question in the design notes on per-package signing); this struct
// is not itself separately signed.
type targetsEntry struct {
	Path string             `json:"path"`
	Info metadata.FileInfo `json:"info"`
}

// PackageDownloader resolves a package identifier against the trusted
// index and retrieves its artifact, verifying the artifact's hash
// against the FileInfo recorded in the index entry before it is
// admitted to the target directory.
type PackageDownloader struct {
	repo      *repository.Repository
	cache     *cache.MetadataCache
	targetDir string
}

// NewPackageDownloader constructs a PackageDownloader over the given
// collaborators.
func NewPackageDownloader(repo *repository.Repository, cc *cache.MetadataCache, targetDir string) *PackageDownloader {
	return &PackageDownloader{repo: repo, cache: cc, targetDir: targetDir}
}

// FindCached reports the local path of packageID's artifact if it has
// already been downloaded and verified, so a repeat request never
// touches the network.
func (d *PackageDownloader) FindCached(packageID string) (string, bool) {
	path := filepath.Join(d.targetDir, packageID)
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

// Download resolves packageID against the current package index,
// fetches its artifact from the locked-in mirror, verifies it against
// the index-declared FileInfo, and writes it into the target
// directory. The caller is expected to already be inside a
// repo.WithMirror scope matching the one used to fetch the index
// itself, so both the index lookup and the artifact fetch target the
// same origin.
func (d *PackageDownloader) Download(attemptNr int, packageID string) (string, error) {
	if path, ok := d.FindCached(packageID); ok {
		log.Debugf("package %s already cached at %s", packageID, path)
		return path, nil
	}

	return cache.WithLockedCache(d.cache, func() (string, error) {
		return d.downloadLocked(attemptNr, packageID)
	})
}

// downloadLocked is Download's body, run with the cache's lock held
// across the whole resolve-fetch-verify-write window so a concurrent
// checkForUpdates or downloadPackage call sharing the same
// MetadataCache cannot interleave with it.
func (d *PackageDownloader) downloadLocked(attemptNr int, packageID string) (string, error) {
	var entry index.Entry
	err := d.repo.WithIndex(func(idx index.Reader) error {
		if idx == nil {
			return tuferrors.InvalidPackage{PackageID: packageID}
		}
		offset, ok := idx.Lookup(layoutPath(packageID))
		if !ok {
			return tuferrors.InvalidPackage{PackageID: packageID}
		}
		var err error
		entry, err = idx.ReadAt(offset)
		return err
	})
	if err != nil {
		return "", err
	}

	var targets targetsEntry
	if err := json.Unmarshal(entry.Data, &targets); err != nil {
		return "", tuferrors.InvalidFileInIndex{IndexFile: layoutPath(packageID), Cause: err}
	}

	// The tarball's repository-relative path is derived independently
	// from the repository layout, not trusted blindly from the index
	// entry: if the verified targets document doesn't list the path
	// the layout expects, this is an unknown-target condition, not a
	// transport error.
	expectedPath := tarballLayoutPath(packageID)
	if targets.Path != expectedPath {
		return "", tuferrors.NewUnknownTarget(expectedPath)
	}

	_, _, handle, err := d.repo.GetRemote(attemptNr, fetcher.RemoteFile{Name: targets.Path, MaxLength: targets.Info.Length})
	if err != nil {
		return "", tuferrors.SomeRemoteError{Cause: err}
	}
	defer handle.Discard()

	if !handle.Verify(targets.Info) {
		return "", tuferrors.NewFileInfo(targets.Path)
	}

	dest := filepath.Join(d.targetDir, packageID)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("download: preparing target directory: %w", err)
	}
	if err := handle.CopyTo(dest); err != nil {
		return "", err
	}
	log.Infof("downloaded package %s to %s", packageID, dest)
	return dest, nil
}

// layoutPath derives the deterministic index path for a package
// identifier. The index lays targets metadata out by package name,
// one JSON document per package.
func layoutPath(packageID string) string {
	return "package/" + packageID + ".json"
}

// tarballLayoutPath derives the repository-relative path the
// package's tarball is expected to live at, independently of whatever
// path string the index entry itself records.
func tarballLayoutPath(packageID string) string {
	return packageID + ".tar.gz"
}
