// Package fetcher defines the RemoteFetcher collaborator contract and
// its HTTP-backed implementation: selecting a mirror, downloading an
// artifact to a staging location, and promoting or discarding the
// staged file.
package fetcher

import "github.com/tufcore/tufcore/metadata"

// Format identifies which encoding of a requested artifact was
// actually delivered by the remote. Only the package index is
// currently available in more than one encoding.
type Format int

const (
	FormatPlain Format = iota
	FormatGzip
)

// RemoteFile identifies an artifact to fetch: its logical name (e.g.
// "timestamp.json", "2.root.json", "index.tar"), and an optional
// MaxLength (zero means unbounded) that implementations use to reject
// an oversized body.
type RemoteFile struct {
	Name     string
	MaxLength int64
}

// StagedHandle is a downloaded artifact held in temporary storage,
// pending verification. It is visible only to the caller that
// requested it and is deleted on any exit path; CopyTo is the only way
// its content reaches a durable location.
type StagedHandle interface {
	// Verify reports whether the staged content matches expected.
	Verify(expected metadata.FileInfo) bool
	// Read returns the staged content.
	Read() ([]byte, error)
	// CopyTo commits the staged content to dest, and is the only
	// operation that survives past Discard.
	CopyTo(dest string) error
	// Discard deletes the staged file. Safe to call multiple times.
	Discard() error
}

// RemoteFetcher is the external collaborator that performs network
// I/O. The verification core never talks to the network directly.
type RemoteFetcher interface {
	// GetRemote downloads remoteFile from the currently selected
	// mirror and returns which format was delivered, the resolved
	// path it was fetched from (for logging), and a staging handle.
	GetRemote(attemptNr int, remoteFile RemoteFile) (Format, string, StagedHandle, error)
	// WithMirror scopes all fetches issued inside action to a single,
	// consistently-chosen mirror, so that a checkForUpdates call never
	// mixes responses from different mirrors that might disagree.
	WithMirror(action func() error) error
}

// MirrorSetter is implemented by RemoteFetcher implementations that
// can have their mirror set replaced at runtime, so a freshly verified
// Mirrors role document can take effect on a later WithMirror call. It
// is a separate, optional interface rather than a RemoteFetcher method
// since not every implementation (e.g. a test fake) needs to support
// it.
type MirrorSetter interface {
	SetMirrors(urlBases []string)
}
