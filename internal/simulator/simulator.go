// Package simulator provides an in-memory RepositorySimulator used by
// the updater and download package tests to drive adversarial scenarios
// (rollback attempts, key rotation, expired metadata) without a real
// network, grounded in the rdimitrov/go-tuf-metadata
// testutils/simulators.RepositorySimulator pattern referenced from
// this module's updater tests (sim.MDRoot.Signed.Version += 1;
// sim.PublishRoot()).
package simulator

import (
	"archive/tar"
	"bytes"
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/secure-systems-lab/go-securesystemslib/cjson"
	"github.com/sigstore/sigstore/pkg/signature"

	tuferrors "github.com/tufcore/tufcore/errors"
	"github.com/tufcore/tufcore/fetcher"
	"github.com/tufcore/tufcore/metadata"
)

// SafeExpiry is far enough in the future that tests don't need to
// reason about clock skew unless they are specifically exercising
// expiry.
var SafeExpiry = time.Now().UTC().Add(365 * 24 * time.Hour)

// RepositorySimulator holds one evolving, signable copy of every role
// document plus a package index, and implements fetcher.RemoteFetcher
// directly over that in-memory state.
type RepositorySimulator struct {
	MDRoot      *metadata.Metadata[metadata.RootType]
	MDTimestamp *metadata.Metadata[metadata.TimestampType]
	MDSnapshot  *metadata.Metadata[metadata.SnapshotType]
	MDMirrors   *metadata.Metadata[metadata.MirrorsType]

	Signers map[string]map[string]signature.Signer // role -> keyID -> signer

	rootVersions map[int64][]byte // published root versions, by version number, for root-rotation probing
	indexEntries map[string][]byte
	indexBytes   []byte

	packages map[string][]byte // remote file name -> tarball bytes, populated by AddPackage
}

// New constructs a simulator with one freshly generated, self-signed
// threshold-1 key per role, an initial root at version 1, and a
// published timestamp/snapshot/mirrors chain pointing at it.
func New() (*RepositorySimulator, error) {
	s := &RepositorySimulator{
		Signers:      map[string]map[string]signature.Signer{},
		rootVersions: map[int64][]byte{},
		indexEntries: map[string][]byte{},
		packages:     map[string][]byte{},
	}

	root := metadata.Root(SafeExpiry)
	for _, role := range metadata.TOP_LEVEL_ROLE_NAMES {
		keyID, key, err := s.newKey(role)
		if err != nil {
			return nil, err
		}
		root.Signed.Roles[role] = &metadata.Role{KeyIDs: []string{keyID}, Threshold: 1}
		root.Signed.Keys[keyID] = key
	}
	s.MDRoot = root

	s.MDTimestamp = metadata.Timestamp(SafeExpiry)
	s.MDSnapshot = metadata.Snapshot(SafeExpiry)
	s.MDMirrors = metadata.Mirrors(SafeExpiry)

	if err := s.rebuildIndex(); err != nil {
		return nil, err
	}
	if err := s.PublishRoot(); err != nil {
		return nil, err
	}
	if err := s.PublishMirrors(); err != nil {
		return nil, err
	}
	if err := s.PublishSnapshot(); err != nil {
		return nil, err
	}
	if err := s.PublishTimestamp(); err != nil {
		return nil, err
	}
	return s, nil
}

// newKey generates a fresh ed25519 signer for role, registering it as
// that role's sole signer (any prior signer set for the role is
// replaced, but is left usable by the caller for crafting
// incorrectly-signed test fixtures).
func (s *RepositorySimulator) newKey(role string) (string, *metadata.Key, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", nil, err
	}
	signer, err := signature.LoadSigner(priv, crypto.Hash(0))
	if err != nil {
		return "", nil, err
	}
	key, err := metadata.KeyFromPublicKey(pub)
	if err != nil {
		return "", nil, err
	}
	s.Signers[role] = map[string]signature.Signer{key.ID(): signer}
	return key.ID(), key, nil
}

// RotateKey replaces role's signer set with a single freshly generated
// key and updates the (not-yet-published) root's key store and role
// entry to match, exercising the root-succession path. Call
// PublishRoot afterward.
func (s *RepositorySimulator) RotateKey(role string) error {
	keyID, key, err := s.newKey(role)
	if err != nil {
		return err
	}
	for kid := range s.MDRoot.Signed.Keys {
		if kid == keyID {
			continue
		}
		if _, used := s.roleUsing(kid); !used {
			delete(s.MDRoot.Signed.Keys, kid)
		}
	}
	s.MDRoot.Signed.Keys[keyID] = key
	s.MDRoot.Signed.Roles[role] = &metadata.Role{KeyIDs: []string{keyID}, Threshold: 1}
	return nil
}

func (s *RepositorySimulator) roleUsing(keyID string) (string, bool) {
	for role, def := range s.MDRoot.Signed.Roles {
		for _, id := range def.KeyIDs {
			if id == keyID {
				return role, true
			}
		}
	}
	return "", false
}

// PublishRoot re-canonicalizes and re-signs MDRoot with root's current
// signer set, and records it under its version for GetRemote.
func (s *RepositorySimulator) PublishRoot() error {
	fresh := metadata.Root(s.MDRoot.Signed.Expires)
	fresh.Signed = s.MDRoot.Signed
	if err := s.signInto(metadata.ROOT, fresh.Signed, fresh); err != nil {
		return err
	}
	s.MDRoot = fresh
	data, err := fresh.ToBytes(false)
	if err != nil {
		return err
	}
	s.rootVersions[fresh.Signed.Version] = data
	return nil
}

// PublishTimestamp points MDTimestamp at the current MDSnapshot and
// re-signs it.
func (s *RepositorySimulator) PublishTimestamp() error {
	snapBytes, err := s.MDSnapshot.ToBytes(false)
	if err != nil {
		return err
	}
	fi := fileInfoOf(snapBytes)
	s.MDTimestamp.Signed.Meta = map[string]metadata.MetaFiles{
		"snapshot.json": {Length: fi.Length, Hashes: fi.Hashes, Version: s.MDSnapshot.Signed.Version},
	}
	return s.signInto(metadata.TIMESTAMP, s.MDTimestamp.Signed, s.MDTimestamp)
}

// PublishSnapshot points MDSnapshot at the current root, mirrors and
// index artifacts and re-signs it.
func (s *RepositorySimulator) PublishSnapshot() error {
	rootBytes, err := s.MDRoot.ToBytes(false)
	if err != nil {
		return err
	}
	mirrorsBytes, err := s.MDMirrors.ToBytes(false)
	if err != nil {
		return err
	}
	rootFI := fileInfoOf(rootBytes)
	mirrorsFI := fileInfoOf(mirrorsBytes)
	indexFI := fileInfoOf(s.indexBytes)
	s.MDSnapshot.Signed.Meta = map[string]metadata.MetaFiles{
		"root.json":    {Length: rootFI.Length, Hashes: rootFI.Hashes, Version: s.MDRoot.Signed.Version},
		"mirrors.json": {Length: mirrorsFI.Length, Hashes: mirrorsFI.Hashes, Version: s.MDMirrors.Signed.Version},
		"index.tar":    {Length: indexFI.Length, Hashes: indexFI.Hashes, Version: 1},
	}
	return s.signInto(metadata.SNAPSHOT, s.MDSnapshot.Signed, s.MDSnapshot)
}

// PublishMirrors re-signs MDMirrors as-is.
func (s *RepositorySimulator) PublishMirrors() error {
	return s.signInto(metadata.MIRRORS, s.MDMirrors.Signed, s.MDMirrors)
}

func (s *RepositorySimulator) signInto(role string, payload interface{}, target interface {
	ClearSignatures()
	Sign(signer signature.Signer) (*metadata.Signature, error)
}) error {
	target.ClearSignatures()
	canonical, err := cjson.EncodeCanonical(payload)
	if err != nil {
		return err
	}
	switch v := target.(type) {
	case *metadata.Metadata[metadata.RootType]:
		v.SignedBytes = canonical
	case *metadata.Metadata[metadata.TimestampType]:
		v.SignedBytes = canonical
	case *metadata.Metadata[metadata.SnapshotType]:
		v.SignedBytes = canonical
	case *metadata.Metadata[metadata.MirrorsType]:
		v.SignedBytes = canonical
	default:
		return fmt.Errorf("simulator: unsupported role document type")
	}
	for _, signer := range s.Signers[role] {
		if _, err := target.Sign(signer); err != nil {
			return err
		}
	}
	return nil
}

// AddPackage registers a package tarball under the index at
// "package/<name>.json" pointing at remote file "<name>.tar.gz", and
// rebuilds the index archive. Callers must call PublishSnapshot and
// PublishTimestamp afterward for the change to become visible.
func (s *RepositorySimulator) AddPackage(name string, content []byte) error {
	remoteName := name + ".tar.gz"
	s.packages[remoteName] = content
	entry, err := json.Marshal(struct {
		Path string            `json:"path"`
		Info metadata.FileInfo `json:"info"`
	}{Path: remoteName, Info: fileInfoOf(content)})
	if err != nil {
		return err
	}
	s.indexEntries[fmt.Sprintf("package/%s.json", name)] = entry
	return s.rebuildIndex()
}

// IndexBytes returns the current serialized index archive, for tests
// that need to build an index.Reader directly without going through a
// full driver refresh cycle.
func (s *RepositorySimulator) IndexBytes() []byte { return s.indexBytes }

// RemovePackage drops name's tarball and index entry and rebuilds the
// index archive. It does not itself republish snapshot/timestamp.
func (s *RepositorySimulator) RemovePackage(name string) error {
	delete(s.packages, name+".tar.gz")
	delete(s.indexEntries, fmt.Sprintf("package/%s.json", name))
	return s.rebuildIndex()
}

func (s *RepositorySimulator) rebuildIndex() error {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for path, data := range s.indexEntries {
		hdr := &tar.Header{Name: path, Mode: 0644, Size: int64(len(data)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if _, err := tw.Write(data); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	s.indexBytes = buf.Bytes()
	return nil
}

// GetRemote implements fetcher.RemoteFetcher by serving whatever is
// currently published under name. A request for an unpublished
// "<n>.root.json" is reported as an HTTP 404, matching a real server's
// response and letting RootUpdater's probing loop stop normally.
func (s *RepositorySimulator) GetRemote(attemptNr int, rf fetcher.RemoteFile) (fetcher.Format, string, fetcher.StagedHandle, error) {
	data, ok := s.lookup(rf.Name)
	if !ok {
		var version int64
		if n, err := fmt.Sscanf(rf.Name, "%d.root.json", &version); err == nil && n == 1 {
			return fetcher.FormatPlain, rf.Name, nil, tuferrors.ErrDownloadHTTP{StatusCode: 404, URL: rf.Name}
		}
		return fetcher.FormatPlain, rf.Name, nil, fmt.Errorf("simulator: no such remote file %s", rf.Name)
	}
	return fetcher.FormatPlain, rf.Name, &memHandle{data: data}, nil
}

// WithMirror runs action directly: the simulator has exactly one
// origin.
func (s *RepositorySimulator) WithMirror(action func() error) error { return action() }

func (s *RepositorySimulator) lookup(name string) ([]byte, bool) {
	switch name {
	case "timestamp.json":
		data, err := s.MDTimestamp.ToBytes(false)
		return data, err == nil
	case "snapshot.json":
		data, err := s.MDSnapshot.ToBytes(false)
		return data, err == nil
	case "mirrors.json":
		data, err := s.MDMirrors.ToBytes(false)
		return data, err == nil
	case "index.tar":
		return s.indexBytes, true
	}
	var version int64
	if n, err := fmt.Sscanf(name, "%d.root.json", &version); err == nil && n == 1 {
		data, ok := s.rootVersions[version]
		return data, ok
	}
	if data, ok := s.packages[name]; ok {
		return data, true
	}
	return nil, false
}

// fileInfoOf computes a FileInfo over data using sha256, the only
// digest algorithm the simulator needs to exercise VerifyFileInfo's
// hash-comparison path.
func fileInfoOf(data []byte) metadata.FileInfo {
	sum := sha256.Sum256(data)
	return metadata.FileInfo{Length: int64(len(data)), Hashes: metadata.Hashes{"sha256": sum[:]}}
}

// memHandle is an in-memory fetcher.StagedHandle.
type memHandle struct {
	data []byte
}

func (h *memHandle) Verify(expected metadata.FileInfo) bool {
	return expected.VerifyLengthHashes(h.data) == nil
}
func (h *memHandle) Read() ([]byte, error) { return h.data, nil }
func (h *memHandle) CopyTo(dest string) error {
	return os.WriteFile(dest, h.data, 0644)
}
func (h *memHandle) Discard() error { return nil }
