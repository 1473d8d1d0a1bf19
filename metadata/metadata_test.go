// Copyright 2022-2023 VMware, Inc.
//
// This product is licensed to you under the BSD-2 license (the "License").
// You may not use this product except in compliance with the BSD-2 License.
// This product may include a number of subcomponents with separate copyright
// notices and license terms. Your use of these subcomponents is subject to
// the terms and conditions of the subcomponent's license, as noted in the
// LICENSE file.
//
// SPDX-License-Identifier: BSD-2-Clause

package metadata

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/sigstore/sigstore/pkg/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootDefaultValues(t *testing.T) {
	meta := Root()
	assert.NotNil(t, meta)
	assert.GreaterOrEqual(t, []time.Time{time.Now().UTC()}[0], meta.Signed.Expires)

	expire := time.Now().AddDate(0, 0, 2).UTC()
	meta = Root(expire)
	assert.Equal(t, expire, meta.Signed.Expires)
	assert.Equal(t, ROOT, meta.Signed.Type)
	assert.Equal(t, SPECIFICATION_VERSION, meta.Signed.SpecVersion)
	assert.Equal(t, int64(1), meta.Signed.Version)
	assert.True(t, meta.Signed.ConsistentSnapshot)
	for _, role := range TOP_LEVEL_ROLE_NAMES {
		assert.Contains(t, meta.Signed.Roles, role)
	}
}

func TestTimestampDefaultValues(t *testing.T) {
	meta := Timestamp()
	assert.Equal(t, TIMESTAMP, meta.Signed.Type)
	assert.Equal(t, int64(1), meta.Signed.SnapshotMeta().Version)
}

func TestSignRecordsKeyIDAndClear(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := signature.LoadSigner(priv, crypto.Hash(0))
	require.NoError(t, err)

	meta := Snapshot()
	sig, err := meta.Sign(signer)
	require.NoError(t, err)
	assert.Len(t, meta.Signatures, 1)
	assert.Equal(t, sig.KeyID, meta.Signatures[0].KeyID)

	key, err := KeyFromPublicKey(pub)
	require.NoError(t, err)
	assert.Equal(t, key.ID(), sig.KeyID)

	meta.ClearSignatures()
	assert.Empty(t, meta.Signatures)
}

func TestToBytesFromBytesRoundTrip(t *testing.T) {
	meta := Mirrors()
	data, err := meta.ToBytes(false)
	require.NoError(t, err)

	reloaded, err := FromBytes[MirrorsType](data)
	require.NoError(t, err)
	assert.Equal(t, meta.Signed.Version, reloaded.Signed.Version)
	assert.Equal(t, meta.SignedBytes, reloaded.SignedBytes)
}

func TestFromBytesRejectsWrongType(t *testing.T) {
	meta := Snapshot()
	data, err := meta.ToBytes(false)
	require.NoError(t, err)

	_, err = FromBytes[RootType](data)
	assert.Error(t, err)
}

func TestFromBytesRejectsDuplicateSignatures(t *testing.T) {
	meta := Timestamp()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	_ = pub
	signer, err := signature.LoadSigner(priv, crypto.Hash(0))
	require.NoError(t, err)
	_, err = meta.Sign(signer)
	require.NoError(t, err)
	meta.Signatures = append(meta.Signatures, meta.Signatures[0])

	data, err := meta.ToBytes(false)
	require.NoError(t, err)
	_, err = FromBytes[TimestampType](data)
	assert.Error(t, err)
}

func TestIsExpired(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	meta := Snapshot(past)
	assert.True(t, meta.IsExpired(time.Now()))
	assert.False(t, meta.IsExpired(past.Add(-time.Minute)))
}
