package trust

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/sigstore/sigstore/pkg/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tuferrors "github.com/tufcore/tufcore/errors"
	"github.com/tufcore/tufcore/metadata"
)

func newTestKey(t *testing.T) (signature.Signer, *metadata.Key) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := signature.LoadSigner(priv, crypto.Hash(0))
	require.NoError(t, err)
	key, err := metadata.KeyFromPublicKey(pub)
	require.NoError(t, err)
	return signer, key
}

func buildTrustedRoot(t *testing.T, role string, threshold int, signers []signature.Signer, keys []*metadata.Key) Trusted[*metadata.Metadata[metadata.RootType]] {
	t.Helper()
	root := metadata.Root(time.Now().Add(time.Hour))
	ids := make([]string, len(keys))
	for i, k := range keys {
		root.Signed.Keys[k.ID()] = k
		ids[i] = k.ID()
	}
	root.Signed.Roles[role] = &metadata.Role{KeyIDs: ids, Threshold: threshold}
	return LocalFileAdmit(root)
}

func TestVerifyRoleThreshold(t *testing.T) {
	s1, k1 := newTestKey(t)
	s2, k2 := newTestKey(t)
	trustedRoot := buildTrustedRoot(t, metadata.SNAPSHOT, 2, []signature.Signer{s1, s2}, []*metadata.Key{k1, k2})

	snap := metadata.Snapshot(time.Now().Add(time.Hour))
	engine := NewEngine()

	_, err := VerifyRole(engine, trustedRoot, metadata.SNAPSHOT, snap, nil, nil)
	var verr tuferrors.VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, tuferrors.KindSignatures, verr.Kind)

	_, err = snap.Sign(s1)
	require.NoError(t, err)
	_, err = VerifyRole(engine, trustedRoot, metadata.SNAPSHOT, snap, nil, nil)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, tuferrors.KindSignatures, verr.Kind)

	_, err = snap.Sign(s2)
	require.NoError(t, err)
	trusted, err := VerifyRole(engine, trustedRoot, metadata.SNAPSHOT, snap, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), trusted.Get().Signed.Version)
}

func TestVerifyRoleRejectsVersionRollback(t *testing.T) {
	s1, k1 := newTestKey(t)
	trustedRoot := buildTrustedRoot(t, metadata.SNAPSHOT, 1, []signature.Signer{s1}, []*metadata.Key{k1})

	snap := metadata.Snapshot(time.Now().Add(time.Hour))
	_, err := snap.Sign(s1)
	require.NoError(t, err)

	engine := NewEngine()
	prior := int64(5)
	_, err = VerifyRole(engine, trustedRoot, metadata.SNAPSHOT, snap, &prior, nil)
	var verr tuferrors.VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, tuferrors.KindVersion, verr.Kind)
}

func TestVerifyRoleRejectsExpired(t *testing.T) {
	s1, k1 := newTestKey(t)
	trustedRoot := buildTrustedRoot(t, metadata.TIMESTAMP, 1, []signature.Signer{s1}, []*metadata.Key{k1})

	past := time.Now().Add(-time.Hour)
	ts := metadata.Timestamp(past)
	_, err := ts.Sign(s1)
	require.NoError(t, err)

	engine := NewEngine()
	now := time.Now()
	_, err = VerifyRole(engine, trustedRoot, metadata.TIMESTAMP, ts, nil, &now)
	var verr tuferrors.VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, tuferrors.KindExpired, verr.Kind)
}

func TestVerifyFingerprintsTrustOnFirstUse(t *testing.T) {
	root := metadata.Root()
	engine := NewEngine()
	trusted, err := VerifyFingerprints(engine, nil, 0, root)
	require.NoError(t, err)
	assert.Equal(t, root, trusted.Get())
}

func TestVerifyFingerprintsPinned(t *testing.T) {
	s1, k1 := newTestKey(t)
	root := metadata.Root()
	root.Signed.Keys[k1.ID()] = k1
	_, err := root.Sign(s1)
	require.NoError(t, err)

	engine := NewEngine()
	_, err = VerifyFingerprints(engine, []string{k1.ID()}, 1, root)
	require.NoError(t, err)

	_, err = VerifyFingerprints(engine, []string{"unknown-key"}, 1, root)
	assert.Error(t, err)
}

func TestVerifyFileInfo(t *testing.T) {
	data := []byte("hello world")
	fi := metadata.FileInfo{Length: int64(len(data))}
	assert.False(t, VerifyFileInfo(fi, data)) // no hashes recorded, FileInfo requires them

	withHash := mustFileInfo(t, data)
	assert.True(t, VerifyFileInfo(withHash, data))
	assert.False(t, VerifyFileInfo(withHash, []byte("tampered")))
}

func mustFileInfo(t *testing.T, data []byte) metadata.FileInfo {
	t.Helper()
	sum := sha256.Sum256(data)
	fi := metadata.FileInfo{Length: int64(len(data)), Hashes: metadata.Hashes{"sha256": sum[:]}}
	return fi
}

func TestVerifyRootSuccession(t *testing.T) {
	s1, k1 := newTestKey(t)
	oldRoot := metadata.Root(time.Now().Add(time.Hour))
	oldRoot.Signed.Keys[k1.ID()] = k1
	oldRoot.Signed.Roles[metadata.ROOT] = &metadata.Role{KeyIDs: []string{k1.ID()}, Threshold: 1}
	_, err := oldRoot.Sign(s1)
	require.NoError(t, err)
	trustedOld := LocalFileAdmit(oldRoot)

	newRoot := metadata.Root(time.Now().Add(2 * time.Hour))
	newRoot.Signed.Version = 2
	newRoot.Signed.Keys[k1.ID()] = k1
	newRoot.Signed.Roles[metadata.ROOT] = &metadata.Role{KeyIDs: []string{k1.ID()}, Threshold: 1}
	_, err = newRoot.Sign(s1)
	require.NoError(t, err)

	engine := NewEngine()
	trustedNew, err := VerifyRootSuccession(engine, trustedOld, newRoot)
	require.NoError(t, err)
	assert.Equal(t, int64(2), trustedNew.Get().Signed.Version)

	olderRoot := metadata.Root(time.Now().Add(time.Hour))
	olderRoot.Signed.Version = 1
	olderRoot.Signed.Keys[k1.ID()] = k1
	olderRoot.Signed.Roles[metadata.ROOT] = &metadata.Role{KeyIDs: []string{k1.ID()}, Threshold: 1}
	_, err = olderRoot.Sign(s1)
	require.NoError(t, err)
	_, err = VerifyRootSuccession(engine, trustedNew, olderRoot)
	var verr tuferrors.VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, tuferrors.KindVersion, verr.Kind)
}
