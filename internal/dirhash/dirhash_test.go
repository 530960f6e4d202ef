// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dirhash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNameIsDeterministic(t *testing.T) {
	a := Name("readme.txt")
	b := Name("readme.txt")
	assert.Equal(t, a, b)
}

func TestNameDiffersByFilename(t *testing.T) {
	assert.NotEqual(t, Name("a"), Name("b"))
}

func TestMajorLowBitAlwaysClear(t *testing.T) {
	for _, name := range []string{"", "x", "a-much-longer-filename-than-32-bytes-long.dat", "exactly-32-bytes-long-string!!!"} {
		h := Name(name)
		assert.Zero(t, h.Major&1, "name %q", name)
	}
}

func TestEmptyNameIsBareSeed(t *testing.T) {
	h := Name("")
	assert.Equal(t, defaultSeed[1]&^1, h.Major)
	assert.Equal(t, defaultSeed[2], h.Minor)
}

func TestKeyCompositesMajorAndMinor(t *testing.T) {
	h := Hash{Major: 0xAABBCCDD, Minor: 0x11223344}
	assert.Equal(t, uint64(0xAABBCCDD11223344), h.Key())
}

func TestNameOver32BytesMatchesChunkedSeed(t *testing.T) {
	// Longer-than-one-chunk names exercise the multi-chunk transform path:
	// the seed is folded through one transform per 32-byte chunk, each chunk
	// padded from the length still outstanding at its start.
	long := "this-filename-is-definitely-longer-than-thirty-two-bytes.ext"
	h := Name(long)
	assert.NotZero(t, h.Major)

	buf := defaultSeed
	halfMD4Transform(&buf, str2hashbuf([]byte(long[:32]), len(long)))
	halfMD4Transform(&buf, str2hashbuf([]byte(long[32:]), len(long)-32))
	assert.Equal(t, buf[1]&^1, h.Major)
	assert.Equal(t, buf[2], h.Minor)
}

func TestLegacyHashIsDeterministicAndLowBitClear(t *testing.T) {
	a := NameVersioned("readme.txt", Legacy, defaultSeed)
	b := NameVersioned("readme.txt", Legacy, defaultSeed)
	assert.Equal(t, a, b)
	assert.Zero(t, a.Major&1)
}

func TestLegacyHashDiffersFromHalfMD4(t *testing.T) {
	legacy := NameVersioned("readme.txt", Legacy, defaultSeed)
	md4 := NameVersioned("readme.txt", HalfMD4, defaultSeed)
	assert.NotEqual(t, legacy.Major, md4.Major)
}

func TestLegacyHashDiffersByFilename(t *testing.T) {
	assert.NotEqual(t,
		NameVersioned("a", Legacy, defaultSeed).Major,
		NameVersioned("b", Legacy, defaultSeed).Major)
}
