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

// Package metadata defines the four top-level role documents (root,
// timestamp, snapshot, mirrors), their signed payloads, and the generic
// envelope that carries a signed payload alongside its signatures.
package metadata

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Role names, used both as the "_type" discriminator in the signed payload
// and as map keys into a Root's Roles and a KeyEnv.
const (
	ROOT      = "root"
	TIMESTAMP = "timestamp"
	SNAPSHOT  = "snapshot"
	MIRRORS   = "mirrors"
	// INDEX names the cached package index artifact. It is not a
	// signed role document in its own right - its file info is
	// recorded by Snapshot - but it is cached and cleared alongside
	// the role documents.
	INDEX = "index"
)

// TOP_LEVEL_ROLE_NAMES enumerates the roles in trust-chain order.
var TOP_LEVEL_ROLE_NAMES = [4]string{ROOT, TIMESTAMP, SNAPSHOT, MIRRORS}

// SPECIFICATION_VERSION is carried in every signed payload for forward
// compatibility checks by newer clients; this client does not yet reject
// on mismatch, only records it.
const SPECIFICATION_VERSION = "1.0.0"

// Roles constrains the generic parameter of Metadata[T] to the four
// known signed-payload shapes.
type Roles interface {
	RootType | TimestampType | SnapshotType | MirrorsType
}

// HexBytes is a byte slice that marshals to/from a hex string in JSON,
// used for signature and hash digest bytes.
type HexBytes []byte

// String returns the lowercase hex encoding, used for equality checks
// that must not depend on byte-slice identity.
func (h HexBytes) String() string { return hex.EncodeToString(h) }

// MarshalJSON encodes h as a hex string, matching the wire format of
// every other TUF implementation's signature and hash digests.
func (h HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h))
}

// UnmarshalJSON decodes a hex string into h.
func (h *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("metadata: invalid hex bytes: %w", err)
	}
	*h = decoded
	return nil
}

// Hashes maps a hash algorithm name ("sha256", "sha512") to its digest.
type Hashes map[string]HexBytes

// FileInfo describes an artifact's expected length and digests. Two
// FileInfo values are considered equal (see Equal) when their lengths
// match and at least one hash algorithm is present on both sides with
// a matching digest.
type FileInfo struct {
	Length int64  `json:"length"`
	Hashes Hashes `json:"hashes"`
}

// Equal reports whether two FileInfo values describe the same file:
// same length AND at least one overlapping hash algorithm with a
// matching digest. Two FileInfo values with no common hash algorithm
// are never considered equal, even with matching length.
func (f FileInfo) Equal(other FileInfo) bool {
	if f.Length != other.Length {
		return false
	}
	for alg, digest := range f.Hashes {
		otherDigest, ok := other.Hashes[alg]
		if ok && digest.String() == otherDigest.String() {
			return true
		}
	}
	return false
}

// Key is a public key entry in a Root's key store.
type Key struct {
	Type      string `json:"keytype"`
	Scheme    string `json:"scheme"`
	KeyValPub string `json:"keyval_public"`
}

// Signature is one entry in a Metadata[T] envelope's Signatures list.
type Signature struct {
	KeyID     string   `json:"keyid"`
	Signature HexBytes `json:"sig"`
	Method    string   `json:"method,omitempty"`
}

// Role records the authorized key set and signature threshold for one
// of the four top-level roles, as declared by the trusted Root.
type Role struct {
	KeyIDs    []string `json:"keyids"`
	Threshold int      `json:"threshold"`
}

// RootType is the signed payload of the Root role: the trust anchor for
// every other role, including itself.
type RootType struct {
	Type               string           `json:"_type"`
	SpecVersion        string           `json:"spec_version"`
	Version            int64            `json:"version"`
	Expires            time.Time        `json:"expires"`
	Keys               map[string]*Key  `json:"keys"`
	Roles              map[string]*Role `json:"roles"`
	ConsistentSnapshot bool             `json:"consistent_snapshot"`
}

// MetaFiles is the FileInfo plus version recorded by Timestamp (for
// Snapshot) and by Snapshot (for Root, Mirrors and the package Index).
type MetaFiles struct {
	Length  int64    `json:"length,omitempty"`
	Hashes  Hashes   `json:"hashes,omitempty"`
	Version int64    `json:"version"`
}

// AsFileInfo adapts a MetaFiles entry to a FileInfo for use with
// FileInfo.Equal and hash verification.
func (m MetaFiles) AsFileInfo() FileInfo {
	return FileInfo{Length: m.Length, Hashes: m.Hashes}
}

// TimestampType is the signed payload of the Timestamp role: points at
// the current Snapshot by version, length and hash.
type TimestampType struct {
	Type        string               `json:"_type"`
	SpecVersion string               `json:"spec_version"`
	Version     int64                `json:"version"`
	Expires     time.Time            `json:"expires"`
	Meta        map[string]MetaFiles `json:"meta"`
}

// SnapshotMeta returns the snapshot.json entry from a Timestamp.
func (t TimestampType) SnapshotMeta() MetaFiles {
	return t.Meta["snapshot.json"]
}

// SnapshotType is the signed payload of the Snapshot role: points at
// the current Root, Mirrors and package Index by version, length and
// hash.
type SnapshotType struct {
	Type        string               `json:"_type"`
	SpecVersion string               `json:"spec_version"`
	Version     int64                `json:"version"`
	Expires     time.Time            `json:"expires"`
	Meta        map[string]MetaFiles `json:"meta"`
}

// RootMeta, MirrorsMeta and IndexMeta extract the corresponding entries
// from a Snapshot. A zero MetaFiles (Version == 0) means the entry is
// absent; callers should check Version before treating it as present.
func (s SnapshotType) RootMeta() MetaFiles    { return s.Meta["root.json"] }
func (s SnapshotType) MirrorsMeta() MetaFiles { return s.Meta["mirrors.json"] }
func (s SnapshotType) IndexMeta() MetaFiles   { return s.Meta["index.tar"] }

// Mirror is one alternate download origin.
type Mirror struct {
	URLBase   string   `json:"url_base"`
	MetaPath  string   `json:"metapath"`
	TargetsPath string `json:"targetspath"`
	MetaContent []string `json:"meta_content"`
}

// MirrorsType is the signed payload of the Mirrors role: the optional
// list of alternate download origins. Only the "full mirror" content
// variant is accepted; any other declared content kind is rejected by
// the update driver rather than silently ignored (see open question in
// the design notes on partial-mirror policy).
type MirrorsType struct {
	Type        string    `json:"_type"`
	SpecVersion string    `json:"spec_version"`
	Version     int64     `json:"version"`
	Expires     time.Time `json:"expires"`
	Mirrors     []Mirror  `json:"mirrors"`
}

// MirrorContentFull is the only mirror-content variant this client
// understands. Declaring any other value in a Mirror's MetaContent is
// a verification error.
const MirrorContentFull = "full"

// Signed is implemented by every *Type payload above, used to extract
// the common fields a signature/version/expiry check needs without a
// type switch at every call site.
type Signed interface {
	GetVersion() int64
	GetExpires() time.Time
	GetType() string
}

func (r RootType) GetVersion() int64      { return r.Version }
func (r RootType) GetExpires() time.Time  { return r.Expires }
func (r RootType) GetType() string        { return r.Type }
func (t TimestampType) GetVersion() int64     { return t.Version }
func (t TimestampType) GetExpires() time.Time { return t.Expires }
func (t TimestampType) GetType() string       { return t.Type }
func (s SnapshotType) GetVersion() int64      { return s.Version }
func (s SnapshotType) GetExpires() time.Time  { return s.Expires }
func (s SnapshotType) GetType() string        { return s.Type }
func (m MirrorsType) GetVersion() int64       { return m.Version }
func (m MirrorsType) GetExpires() time.Time   { return m.Expires }
func (m MirrorsType) GetType() string         { return m.Type }

// rawEnvelope mirrors the on-wire shape of Metadata[T] but keeps the
// signed payload as a json.RawMessage, so canonical-JSON signing and
// verification always run against the exact wire bytes rather than a
// re-serialized Go struct.
type rawEnvelope struct {
	Signed     json.RawMessage `json:"signed"`
	Signatures []Signature     `json:"signatures"`
}
