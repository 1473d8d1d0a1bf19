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
	"bytes"
	"crypto"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"os"
	"time"

	"github.com/secure-systems-lab/go-securesystemslib/cjson"
	"github.com/sigstore/sigstore/pkg/signature"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// Metadata is the envelope around a signed payload of type T: the raw
// canonical bytes that were actually signed, the parsed payload for
// convenient field access, and the list of signatures over those bytes.
//
// SignedBytes is kept separate from the parsed Signed field because
// signature verification must run against the exact bytes that came
// over the wire, not a re-marshaled copy of the Go struct - re-encoding
// (even canonically) risks silently accepting a document whose
// unrecognized fields were dropped by json.Unmarshal.
type Metadata[T Roles] struct {
	Signed      T
	SignedBytes []byte
	Signatures  []Signature
}

// Root returns a new, unsigned Root metadata instance with an empty key
// store and threshold-1 roles, expiring at expires (or now if omitted).
func Root(expires ...time.Time) *Metadata[RootType] {
	if len(expires) == 0 {
		expires = []time.Time{time.Now().UTC()}
	}
	roles := map[string]*Role{}
	for _, r := range TOP_LEVEL_ROLE_NAMES {
		roles[r] = &Role{KeyIDs: []string{}, Threshold: 1}
	}
	signed := RootType{
		Type:               ROOT,
		SpecVersion:        SPECIFICATION_VERSION,
		Version:            1,
		Expires:            expires[0],
		Keys:               map[string]*Key{},
		Roles:              roles,
		ConsistentSnapshot: true,
	}
	log.Debugf("created a metadata of type %s expiring at %s", ROOT, expires[0])
	return newUnsigned(signed)
}

// Snapshot returns a new, unsigned Snapshot metadata instance.
func Snapshot(expires ...time.Time) *Metadata[SnapshotType] {
	if len(expires) == 0 {
		expires = []time.Time{time.Now().UTC()}
	}
	signed := SnapshotType{
		Type:        SNAPSHOT,
		SpecVersion: SPECIFICATION_VERSION,
		Version:     1,
		Expires:     expires[0],
		Meta:        map[string]MetaFiles{},
	}
	return newUnsigned(signed)
}

// Timestamp returns a new, unsigned Timestamp metadata instance.
func Timestamp(expires ...time.Time) *Metadata[TimestampType] {
	if len(expires) == 0 {
		expires = []time.Time{time.Now().UTC()}
	}
	signed := TimestampType{
		Type:        TIMESTAMP,
		SpecVersion: SPECIFICATION_VERSION,
		Version:     1,
		Expires:     expires[0],
		Meta: map[string]MetaFiles{
			"snapshot.json": {Version: 1},
		},
	}
	return newUnsigned(signed)
}

// Mirrors returns a new, unsigned Mirrors metadata instance.
func Mirrors(expires ...time.Time) *Metadata[MirrorsType] {
	if len(expires) == 0 {
		expires = []time.Time{time.Now().UTC()}
	}
	signed := MirrorsType{
		Type:        MIRRORS,
		SpecVersion: SPECIFICATION_VERSION,
		Version:     1,
		Expires:     expires[0],
		Mirrors:     []Mirror{},
	}
	return newUnsigned(signed)
}

func newUnsigned[T Roles](signed T) *Metadata[T] {
	payload, err := cjson.EncodeCanonical(signed)
	if err != nil {
		// only reachable if a *Type gains a field cjson cannot encode
		panic(fmt.Sprintf("metadata: failed to canonicalize new payload: %v", err))
	}
	return &Metadata[T]{Signed: signed, SignedBytes: payload, Signatures: []Signature{}}
}

// FromFile loads and parses metadata from a local file.
func FromFile[T Roles](name string) (*Metadata[T], error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("metadata: opening %s: %w", name, err)
	}
	return FromBytes[T](data)
}

// FromBytes parses metadata from bytes, checking that the "_type"
// discriminator in the signed payload matches T and that no key ID
// signs more than once.
func FromBytes[T Roles](data []byte) (*Metadata[T], error) {
	var env rawEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("metadata: invalid envelope: %w", err)
	}
	if err := checkType[T](env.Signed); err != nil {
		return nil, err
	}
	if err := checkUniqueSignatures(env.Signatures); err != nil {
		return nil, err
	}
	var signed T
	if err := json.Unmarshal(env.Signed, &signed); err != nil {
		return nil, fmt.Errorf("metadata: invalid signed payload: %w", err)
	}
	return &Metadata[T]{Signed: signed, SignedBytes: []byte(env.Signed), Signatures: env.Signatures}, nil
}

// ToBytes serializes the envelope (SignedBytes verbatim, plus
// Signatures) back to wire format.
func (meta *Metadata[T]) ToBytes(pretty bool) ([]byte, error) {
	env := rawEnvelope{Signed: meta.SignedBytes, Signatures: meta.Signatures}
	if pretty {
		return json.MarshalIndent(env, "", "\t")
	}
	return json.Marshal(env)
}

// ToFile writes the envelope to a local file.
func (meta *Metadata[T]) ToFile(name string, pretty bool) error {
	data, err := meta.ToBytes(pretty)
	if err != nil {
		return err
	}
	return os.WriteFile(name, data, 0644)
}

// Sign signs the canonical SignedBytes with signer and appends the
// resulting Signature to the envelope.
func (meta *Metadata[T]) Sign(signer signature.Signer) (*Signature, error) {
	sb, err := signer.SignMessage(bytes.NewReader(meta.SignedBytes))
	if err != nil {
		return nil, fmt.Errorf("metadata: signing failed: %w", err)
	}
	pub, err := signer.PublicKey()
	if err != nil {
		return nil, err
	}
	key, err := KeyFromPublicKey(pub)
	if err != nil {
		return nil, err
	}
	sig := Signature{KeyID: key.ID(), Signature: sb}
	meta.Signatures = append(meta.Signatures, sig)
	log.Infof("signed metadata with key ID %s", key.ID())
	return &sig, nil
}

// ClearSignatures drops all signatures from the envelope.
func (meta *Metadata[T]) ClearSignatures() {
	meta.Signatures = []Signature{}
}

// IsExpired reports whether referenceTime is strictly after the
// payload's Expires timestamp.
func (meta *Metadata[T]) IsExpired(referenceTime time.Time) bool {
	return referenceTime.After(any(meta.Signed).(Signed).GetExpires())
}

// ID returns the TUF key ID: the hex sha256 of the canonical key
// encoding.
func (k *Key) ID() string {
	payload, err := cjson.EncodeCanonical(k)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// ToPublicKey decodes the key's stored public key material.
func (k *Key) ToPublicKey() (crypto.PublicKey, error) {
	return decodePEMOrRaw(k.KeyValPub, k.Type)
}

// KeyFromPublicKey builds a Key entry from a crypto.PublicKey, used
// when recording the identity of a freshly-generated signer.
func KeyFromPublicKey(pub crypto.PublicKey) (*Key, error) {
	pemBytes, keyType, scheme, err := encodePublicKey(pub)
	if err != nil {
		return nil, err
	}
	return &Key{Type: keyType, Scheme: scheme, KeyValPub: pemBytes}, nil
}

// VerifyLengthHashes checks whether data matches the expected length
// and hashes of a MetaFiles entry. Hashes and length are optional for
// MetaFiles: a zero value for either is treated as "not constrained."
func (f MetaFiles) VerifyLengthHashes(data []byte) error {
	if len(f.Hashes) > 0 {
		if err := verifyHashes(data, f.Hashes); err != nil {
			return err
		}
	}
	if f.Length != 0 {
		if err := verifyLength(data, f.Length); err != nil {
			return err
		}
	}
	return nil
}

// VerifyLengthHashes checks whether data matches the expected length
// and hashes of a FileInfo. Unlike MetaFiles, both are mandatory: a
// FileInfo with no recorded hash algorithm never verifies, since that
// would accept any content of the right length.
func (f FileInfo) VerifyLengthHashes(data []byte) error {
	if len(f.Hashes) == 0 {
		return fmt.Errorf("metadata: file info has no hashes to verify against")
	}
	if err := verifyHashes(data, f.Hashes); err != nil {
		return err
	}
	return verifyLength(data, f.Length)
}

func checkUniqueSignatures(sigs []Signature) error {
	var seen []string
	for _, sig := range sigs {
		if slices.Contains(seen, sig.KeyID) {
			return fmt.Errorf("metadata: multiple signatures found for key ID %s", sig.KeyID)
		}
		seen = append(seen, sig.KeyID)
	}
	return nil
}

func checkType[T Roles](signed json.RawMessage) error {
	var m struct {
		Type string `json:"_type"`
	}
	if err := json.Unmarshal(signed, &m); err != nil {
		return fmt.Errorf("metadata: invalid signed payload: %w", err)
	}
	var want string
	switch any(new(T)).(type) {
	case *RootType:
		want = ROOT
	case *TimestampType:
		want = TIMESTAMP
	case *SnapshotType:
		want = SNAPSHOT
	case *MirrorsType:
		want = MIRRORS
	default:
		return fmt.Errorf("metadata: unrecognized generic type parameter")
	}
	if m.Type != want {
		return fmt.Errorf("metadata: expected type %s, got %s", want, m.Type)
	}
	return nil
}

func verifyLength(data []byte, length int64) error {
	n, err := io.Copy(io.Discard, bytes.NewReader(data))
	if err != nil {
		return err
	}
	if n != length {
		return fmt.Errorf("metadata: length mismatch: expected %d, got %d", length, n)
	}
	return nil
}

func verifyHashes(data []byte, hashes Hashes) error {
	for alg, want := range hashes {
		var h hash.Hash
		switch alg {
		case "sha256":
			h = sha256.New()
		case "sha512":
			h = sha512.New()
		default:
			return fmt.Errorf("metadata: unsupported hash algorithm %s", alg)
		}
		h.Write(data)
		if !bytes.Equal(h.Sum(nil), want) {
			return fmt.Errorf("metadata: hash mismatch for algorithm %s", alg)
		}
	}
	return nil
}
