// Copyright 2026 The Hashcore Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hashctx

import (
	"github.com/cespare/xxhash/v2"
	metro "github.com/dgryski/go-metro"
)

// nullSentinelByte is the fixed non-zero byte written into every byte of a
// key's value slot when it evaluates to NULL (spec.md §4.1, Open Question
// #1: "a repeated FNV seed"). Repeating a single byte fills a slot of any
// width.
const nullSentinelByte = 0xcb // top byte of the FNV-1 64-bit offset basis, 0xcbf29ce484222325

// FillNullSentinel writes the NULL sentinel pattern into dst.
func FillNullSentinel(dst []byte) {
	for i := range dst {
		dst[i] = nullSentinelByte
	}
}

// hashBytes mixes seed into the hash of buf. Level 0 uses xxhash (a CRC-
// class fast non-cryptographic hash, the portable Go equivalent of the
// teacher's CRC32 intrinsic path in pkg/container/hashtable/hash.go);
// levels >= 1 use go-metro (a Murmur-class hash, as spec.md §4.2 requires
// a different family so re-hashing a spilled partition actually
// redistributes rows). cespare/xxhash/v2 has no native seed parameter, so
// the seed is mixed into the digest afterwards the way
// daviszhen-plan/hash.go's CombineHashScalar mixes two hashes.
func hashBytes(level int, seed uint64, buf []byte) uint32 {
	if level == 0 {
		h := xxhash.Sum64(buf)
		h = (h ^ seed) * 0xbf58476d1ce4e5b9
		return uint32(h >> 32)
	}
	h := metro.Hash64(buf, seed)
	return uint32(h >> 32)
}

// combine folds an additional hashed segment into an accumulator, used
// when hashing the fixed prefix and then each variable-length payload in
// turn (spec.md §4.2).
func combine(level int, seed uint64, acc uint32, buf []byte) uint32 {
	segment := hashBytes(level, seed, buf)
	// CombineHashScalar-style multiplicative mix, per daviszhen-plan/hash.go.
	return uint32((uint64(acc)*0xbf58476d1ce4e5b9)^uint64(segment)) + uint32(seed)
}
