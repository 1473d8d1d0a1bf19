// Package trust implements the verification core: signature-threshold
// checking, version-monotonicity, expiry, and file-hash comparison.
// Every Trusted[T] value in the rest of this module was produced here
// or admitted as a previously-trusted local file (see cache package).
package trust

import (
	"bytes"
	"crypto"
	"fmt"
	"time"

	"github.com/sigstore/sigstore/pkg/signature"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	tuferrors "github.com/tufcore/tufcore/errors"
	"github.com/tufcore/tufcore/metadata"
)

// Trusted wraps a value that has passed verification. It has no
// exported constructor: the only way to obtain one is through this
// package's VerifyRole / VerifyFingerprints, or through the cache
// package's local-file admission policy, both of which are themselves
// anchored back to a verified Root.
type Trusted[T any] struct {
	value T
}

// Get returns the wrapped value.
func (t Trusted[T]) Get() T { return t.value }

// admit is the only place a Trusted[T] is constructed; it is
// unexported, and code outside this package reaches it only through
// LocalFileAdmit (which cache.LocalAdmit calls).
func admit[T any](v T) Trusted[T] { return Trusted[T]{value: v} }

// LocalFileAdmit constructs a Trusted[T] for content that is already
// present in the metadata cache, without re-running signature
// verification: a cached file was verified at the moment it entered
// the cache, and the chain of trust is anchored at the root, which was
// itself either bootstrapped or verified by a strictly older trusted
// root. Re-verifying cached content on every read adds cost without
// adding safety. This is the only admission path exported outside this
// package; everything else goes through VerifyRole or
// VerifyFingerprints.
func LocalFileAdmit[T any](v T) Trusted[T] { return admit(v) }

// Engine evaluates trust. It holds no state: every method takes the
// trusted context it needs as an explicit argument, so callers cannot
// accidentally verify against stale context.
type Engine struct{}

// NewEngine constructs a stateless trust evaluation engine.
func NewEngine() *Engine { return &Engine{} }

// VerifyRole checks signed's signatures against trustedRoot's
// authorized key set and threshold for role, then its version against
// priorVersion (if provided) and its expiry against now (if provided).
// On success it returns a Trusted[T] wrapper; a failed check is a
// tuferrors.VerificationError identifying which check failed, and a
// root that declares no such role is reported as a plain error.
func VerifyRole[T metadata.Roles](
	e *Engine,
	trustedRoot Trusted[*metadata.Metadata[metadata.RootType]],
	role string,
	signed *metadata.Metadata[T],
	priorVersion *int64,
	now *time.Time,
) (Trusted[*metadata.Metadata[T]], error) {
	var zero Trusted[*metadata.Metadata[T]]

	root := trustedRoot.Get()
	roleDef, ok := root.Signed.Roles[role]
	if !ok {
		return zero, fmt.Errorf("trust: root declares no role %s", role)
	}
	if err := verifySignatures(root.Signed.Keys, roleDef, signed.SignedBytes, signed.Signatures); err != nil {
		log.Infof("verification of %s failed: %v", role, err)
		return zero, err
	}

	genericSigned := any(signed.Signed).(metadata.Signed)
	if priorVersion != nil && genericSigned.GetVersion() < *priorVersion {
		log.Infof("%s version %d is older than trusted version %d", role, genericSigned.GetVersion(), *priorVersion)
		return zero, tuferrors.NewVersion(role)
	}
	if now != nil && !genericSigned.GetExpires().After(*now) {
		log.Infof("%s expired at %s (reference time %s)", role, genericSigned.GetExpires(), *now)
		return zero, tuferrors.NewExpired(role)
	}
	log.Debugf("verified %s at version %d", role, genericSigned.GetVersion())
	return admit(signed), nil
}

// VerifyFingerprints verifies signed (expected to be a Root document)
// against a caller-supplied set of pinned key fingerprints and
// threshold, independent of any previously trusted Root. threshold may
// be zero, meaning trust-on-first-use: any signature count (including
// zero) is accepted as long as the document parses. This is used only
// during bootstrap.
func VerifyFingerprints(
	e *Engine,
	pinnedKeyIDs []string,
	threshold int,
	signed *metadata.Metadata[metadata.RootType],
) (Trusted[*metadata.Metadata[metadata.RootType]], error) {
	var zero Trusted[*metadata.Metadata[metadata.RootType]]

	if threshold == 0 {
		log.Infof("bootstrapping root with trust-on-first-use (threshold 0)")
		return admit(signed), nil
	}

	pinned := map[string]bool{}
	for _, id := range pinnedKeyIDs {
		pinned[id] = true
	}
	valid := map[string]bool{}
	for _, sig := range signed.Signatures {
		if !pinned[sig.KeyID] {
			continue
		}
		key, ok := signed.Signed.Keys[sig.KeyID]
		if !ok {
			continue
		}
		if err := verifyOne(key, signed.SignedBytes, sig); err == nil {
			valid[sig.KeyID] = true
		}
	}
	if len(valid) < threshold {
		return zero, tuferrors.NewSignatures(metadata.ROOT)
	}
	return admit(signed), nil
}

// VerifyFileInfo reports whether artifact's length and hashes satisfy
// expected.
func VerifyFileInfo(expected metadata.FileInfo, artifact []byte) bool {
	return expected.VerifyLengthHashes(artifact) == nil
}

// VerifyRootSuccession verifies that newRoot is an acceptable
// replacement for oldRoot: it must satisfy oldRoot's root-role
// threshold (continuity) AND its own root-role threshold
// (self-consistency). Both must hold or the replacement is rejected.
func VerifyRootSuccession(
	e *Engine,
	oldRoot Trusted[*metadata.Metadata[metadata.RootType]],
	newRoot *metadata.Metadata[metadata.RootType],
) (Trusted[*metadata.Metadata[metadata.RootType]], error) {
	var zero Trusted[*metadata.Metadata[metadata.RootType]]

	old := oldRoot.Get()
	oldRoleDef, ok := old.Signed.Roles[metadata.ROOT]
	if !ok {
		return zero, fmt.Errorf("trust: old root declares no root role")
	}
	if err := verifySignatures(old.Signed.Keys, oldRoleDef, newRoot.SignedBytes, newRoot.Signatures); err != nil {
		log.Infof("new root failed continuity check under old root threshold: %v", err)
		return zero, err
	}

	newRoleDef, ok := newRoot.Signed.Roles[metadata.ROOT]
	if !ok {
		return zero, fmt.Errorf("trust: new root declares no root role")
	}
	if err := verifySignatures(newRoot.Signed.Keys, newRoleDef, newRoot.SignedBytes, newRoot.Signatures); err != nil {
		log.Infof("new root failed self-consistency check: %v", err)
		return zero, err
	}
	if newRoot.Signed.Version < old.Signed.Version {
		return zero, tuferrors.NewVersion(metadata.ROOT)
	}
	return admit(newRoot), nil
}

// verifySignatures counts distinct valid signatures from keys
// authorized for roleDef and requires the count to reach the
// threshold.
func verifySignatures(keys map[string]*metadata.Key, roleDef *metadata.Role, signedBytes []byte, sigs []Signature) error {
	var valid []string
	for _, sig := range sigs {
		if !slices.Contains(roleDef.KeyIDs, sig.KeyID) {
			continue
		}
		key, ok := keys[sig.KeyID]
		if !ok {
			continue
		}
		if err := verifyOne(key, signedBytes, sig); err != nil {
			log.Debugf("signature from key %s did not verify: %v", sig.KeyID, err)
			continue
		}
		if !slices.Contains(valid, sig.KeyID) {
			valid = append(valid, sig.KeyID)
		}
	}
	if len(valid) < roleDef.Threshold {
		return tuferrors.VerificationError{Kind: tuferrors.KindSignatures}
	}
	return nil
}

// Signature is a type alias kept local so the signature of
// verifySignatures/verifyOne doesn't leak an import cycle back into
// metadata for a type it already defines.
type Signature = metadata.Signature

func verifyOne(key *metadata.Key, signedBytes []byte, sig metadata.Signature) error {
	pub, err := key.ToPublicKey()
	if err != nil {
		return err
	}
	hashAlg := crypto.Hash(0)
	if key.Type != metadata.KeyTypeEd25519 {
		hashAlg = crypto.SHA256
	}
	verifier, err := signature.LoadVerifier(pub, hashAlg)
	if err != nil {
		return err
	}
	return verifier.VerifySignature(bytes.NewReader(sig.Signature), bytes.NewReader(signedBytes))
}
