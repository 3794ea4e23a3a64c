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

// Package hashtable is the open-addressed hash table described in
// spec.md §3/§4.3: a power-of-two bucket array with a probing scheme
// fixed at construction, cached per-bucket hashes, and optional
// duplicate chains for join semantics.
package hashtable

// TupleSlot is either a direct tuple reference (when the table stores
// tuples by reference) or a block-addressed index into an external
// RowSpool (spec.md §3). Exactly one of Tuple or (BlockID,Offset) is
// meaningful, selected by Config.StoresTuples.
type TupleSlot struct {
	Tuple   any
	BlockID int32
	Offset  int32
}

func (s TupleSlot) IsZero() bool {
	return s.Tuple == nil && s.BlockID == 0 && s.Offset == 0
}

// ProbingScheme is a tagged variant selected once at construction
// (spec.md §9: prefer a tagged variant over per-row virtual dispatch).
type ProbingScheme int

const (
	Linear ProbingScheme = iota
	Quadratic
)

// step returns the i-th probe offset (i starts at 0) for the scheme.
func (p ProbingScheme) step(i uint64) uint64 {
	if p == Quadratic {
		return i * (i + 1) / 2
	}
	return i
}

// bucket is the fixed-width cell stored in the bucket array. Field order
// mirrors spec.md §3: a filled flag, a matched flag used by outer/anti
// joins, a has_duplicates flag that reinterprets data as a chain head, a
// cached 32-bit hash, and the slot itself.
type bucket struct {
	filled        bool
	matched       bool
	hasDuplicates bool
	hash          uint32
	data          TupleSlot
	dupHead       nodeRef
}

// KeyComparator lets HashTable ask "does the row I'm currently
// inserting/probing equal the row referenced by this stored slot?"
// without HashTable itself knowing how to resolve a slot into key values
// — that's HashContext's job, bound to the current row by the caller
// (GroupAggregator/EquiJoin) before each Insert/Probe call.
type KeyComparator interface {
	Equals(stored TupleSlot) bool
}
