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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileInfoEqual(t *testing.T) {
	a := FileInfo{Length: 10, Hashes: Hashes{"sha256": HexBytes{1, 2, 3}}}
	b := FileInfo{Length: 10, Hashes: Hashes{"sha256": HexBytes{1, 2, 3}, "sha512": HexBytes{9, 9}}}
	assert.True(t, a.Equal(b))
	assert.True(t, b.Equal(a))

	c := FileInfo{Length: 10, Hashes: Hashes{"sha256": HexBytes{9, 9, 9}}}
	assert.False(t, a.Equal(c))

	d := FileInfo{Length: 11, Hashes: Hashes{"sha256": HexBytes{1, 2, 3}}}
	assert.False(t, a.Equal(d))

	e := FileInfo{Length: 10, Hashes: Hashes{"sha512": HexBytes{1, 2, 3}}}
	assert.False(t, a.Equal(e))
}

func TestHexBytesJSONRoundTrip(t *testing.T) {
	h := HexBytes{0xde, 0xad, 0xbe, 0xef}
	data, err := json.Marshal(h)
	assert.NoError(t, err)
	assert.Equal(t, `"deadbeef"`, string(data))

	var out HexBytes
	assert.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, h, out)
}

func TestMetaFilesAsFileInfo(t *testing.T) {
	m := MetaFiles{Length: 5, Hashes: Hashes{"sha256": HexBytes{1}}, Version: 3}
	fi := m.AsFileInfo()
	assert.Equal(t, int64(5), fi.Length)
	assert.Equal(t, HexBytes{1}, fi.Hashes["sha256"])
}

func TestSnapshotMetaAccessorsAbsent(t *testing.T) {
	var snap SnapshotType
	snap.Meta = map[string]MetaFiles{}
	assert.Equal(t, int64(0), snap.RootMeta().Version)
	assert.Equal(t, int64(0), snap.MirrorsMeta().Version)
	assert.Equal(t, int64(0), snap.IndexMeta().Version)
}
