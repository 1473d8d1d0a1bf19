// Package errors defines tufcore's stable, comparable error taxonomy.
// Each variant is a distinct exported struct type implementing error;
// callers branch on variant with errors.As, never on a formatted
// message string.
package errors

import "fmt"

// Recoverable is implemented by errors that participate in the update
// driver's bounded-retry loop.
type Recoverable interface {
	error
	recoverable()
}

// Fatal is implemented by errors that indicate a broken local
// invariant rather than a remote attack, and are surfaced without
// retry.
type Fatal interface {
	error
	fatal()
}

// VerificationError is the umbrella type for every signature, version,
// expiry, file-info or deserialization failure produced while
// evaluating a role document. The driver reacts identically to any
// Kind: it logs, triggers a root refresh, and retries the iteration.
type VerificationError struct {
	Kind  VerificationErrorKind
	Role  string
	Path  string
	Cause error
}

// VerificationErrorKind enumerates the distinct verification failure
// reasons named in the external error surface.
type VerificationErrorKind int

const (
	KindSignatures VerificationErrorKind = iota
	KindVersion
	KindExpired
	KindFileInfo
	KindUnknownTarget
	KindDeserialization
)

func (e VerificationError) Error() string {
	switch e.Kind {
	case KindSignatures:
		return fmt.Sprintf("verification: insufficient valid signatures for role %s", e.Role)
	case KindVersion:
		return fmt.Sprintf("verification: version rollback detected for role %s", e.Role)
	case KindExpired:
		return fmt.Sprintf("verification: role %s metadata has expired", e.Role)
	case KindFileInfo:
		return fmt.Sprintf("verification: file info mismatch for %s", e.Path)
	case KindUnknownTarget:
		return fmt.Sprintf("verification: unknown target %s", e.Path)
	case KindDeserialization:
		return fmt.Sprintf("verification: failed to deserialize %s: %v", e.Path, e.Cause)
	default:
		return "verification: unknown error"
	}
}

func (e VerificationError) Unwrap() error { return e.Cause }
func (VerificationError) recoverable()    {}

// Convenience constructors mirroring the external error surface names.

func NewSignatures(role string) error { return VerificationError{Kind: KindSignatures, Role: role} }
func NewVersion(role string) error    { return VerificationError{Kind: KindVersion, Role: role} }
func NewExpired(role string) error    { return VerificationError{Kind: KindExpired, Role: role} }
func NewFileInfo(path string) error   { return VerificationError{Kind: KindFileInfo, Path: path} }
func NewUnknownTarget(path string) error {
	return VerificationError{Kind: KindUnknownTarget, Path: path}
}
func NewDeserialization(path string, cause error) error {
	return VerificationError{Kind: KindDeserialization, Path: path, Cause: cause}
}

// RootUpdated signals that root rotation happened mid-iteration; the
// driver must abort the current iteration before committing any
// staged files and restart.
type RootUpdated struct{}

func (RootUpdated) Error() string { return "verification: root metadata was updated, restarting" }
func (RootUpdated) recoverable()  {}

// VerificationLoop reports that the bounded-retry ceiling was exceeded.
// History holds one entry per failed iteration, in order.
type VerificationLoop struct {
	History []error
}

func (e VerificationLoop) Error() string {
	return fmt.Sprintf("verification: exceeded retry ceiling after %d attempts", len(e.History))
}
func (VerificationLoop) recoverable() {}

// InvalidPackage reports that a package identifier has no entry in the
// trusted index.
type InvalidPackage struct {
	PackageID string
}

func (e InvalidPackage) Error() string { return fmt.Sprintf("package %s not found in index", e.PackageID) }
func (InvalidPackage) recoverable()    {}

// SomeRemoteError wraps a transport-level failure (network, HTTP
// status, timeout) that is not itself evidence of tampering.
type SomeRemoteError struct {
	Cause error
}

func (e SomeRemoteError) Error() string { return fmt.Sprintf("remote error: %v", e.Cause) }
func (e SomeRemoteError) Unwrap() error { return e.Cause }
func (SomeRemoteError) recoverable()    {}

// LocalFileCorrupted indicates the local cache holds a file that
// cannot be parsed as its expected type. This is a broken local
// invariant, not an attack in progress, and is never retried.
type LocalFileCorrupted struct {
	Path  string
	Cause error
}

func (e LocalFileCorrupted) Error() string {
	return fmt.Sprintf("local file %s is corrupted: %v", e.Path, e.Cause)
}
func (e LocalFileCorrupted) Unwrap() error { return e.Cause }
func (LocalFileCorrupted) fatal()          {}

// InvalidFileInIndex indicates the package index itself could not be
// read at the location the caller requested.
type InvalidFileInIndex struct {
	IndexFile string
	Cause     error
}

func (e InvalidFileInIndex) Error() string {
	return fmt.Sprintf("invalid file %s in index: %v", e.IndexFile, e.Cause)
}
func (e InvalidFileInIndex) Unwrap() error { return e.Cause }
func (InvalidFileInIndex) fatal()          {}

// ErrDownloadHTTP records a non-2xx HTTP response from a remote fetch.
// The status code distinguishes "404/403 means no newer version" from
// other failures during root rotation probing.
type ErrDownloadHTTP struct {
	StatusCode int
	URL        string
}

func (e ErrDownloadHTTP) Error() string {
	return fmt.Sprintf("download failed with HTTP %d: %s", e.StatusCode, e.URL)
}
