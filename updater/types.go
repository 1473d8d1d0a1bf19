// Package updater implements the top-level update state machine: the
// bounded-retry driver loop, the root-rotation sub-protocol, and
// one-shot bootstrap.
package updater

import (
	"github.com/tufcore/tufcore/metadata"
)

// Result is the outcome of a successful CheckForUpdates call.
type Result int

const (
	// NoUpdates means the cached snapshot FileInfo already matched
	// the remote timestamp's: nothing was fetched beyond the
	// timestamp, and no file in the cache changed.
	NoUpdates Result = iota
	// HasUpdates means one or more metadata files, and possibly the
	// package index, were fetched, verified and committed.
	HasUpdates
)

func (r Result) String() string {
	if r == HasUpdates {
		return "HasUpdates"
	}
	return "NoUpdates"
}

// RootUpdateReason describes why RootUpdater.Refresh was invoked:
// either a new snapshot declared a different root FileInfo (in which
// case the root is assumed changed), or a VerificationError occurred
// elsewhere and the driver's failure pathway assumes the local root
// may be stale.
type RootUpdateReason struct {
	// FileInfo is non-nil when the snapshot role advertised a new
	// root hash; the freshly staged root is checked against it before
	// anything else.
	FileInfo *metadata.FileInfo
	// Err is the VerificationError that triggered this refresh, when
	// FileInfo is nil.
	Err error
}
