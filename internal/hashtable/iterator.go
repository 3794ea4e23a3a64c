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

package hashtable

// Iterator walks either a single matching bucket plus its duplicate chain
// (the result of Probe) or every filled bucket in the table (Begin), per
// spec.md §4.3. It always returns a stable TupleSlot; the caller resolves
// it through a tuple pointer or the row-spool.
type Iterator struct {
	ht        *HashTable
	bucketIdx uint64
	node      nodeRef
	atHead    bool
	end       bool
}

func (it Iterator) Valid() bool { return !it.end }

// Slot returns the slot at the iterator's current position.
func (it Iterator) Slot() TupleSlot {
	b := &it.ht.buckets[it.bucketIdx]
	if b.hasDuplicates {
		return it.ht.arena.Get(it.node).slot
	}
	return b.data
}

// Matched reports the matched bit of the iterator's current position.
func (it Iterator) Matched() bool {
	b := &it.ht.buckets[it.bucketIdx]
	if b.hasDuplicates {
		return it.ht.arena.Get(it.node).matched
	}
	return b.matched
}

// SetMatched sets the matched bit of the iterator's current position.
// Matched bits are monotone within a probe phase (spec.md §3): callers
// never clear one except via HashTable.ResetMatched.
func (it Iterator) SetMatched() {
	b := &it.ht.buckets[it.bucketIdx]
	if b.hasDuplicates {
		it.ht.arena.Get(it.node).matched = true
		return
	}
	b.matched = true
}

// Next advances within the current bucket's duplicate chain. It returns
// false once the chain is exhausted; the caller then knows there are no
// more rows with this key. The iterator's current position is always
// node (dupHead on the first call, since Probe seeds it that way), so Next
// must step to node.next rather than re-seed node — re-seeding would
// re-visit the head.
func (it *Iterator) Next() bool {
	b := &it.ht.buckets[it.bucketIdx]
	if !b.hasDuplicates {
		return false
	}
	it.atHead = false
	n := it.ht.arena.Get(it.node)
	if n.next.isNil() {
		return false
	}
	it.node = n.next
	return true
}

// Begin returns an iterator positioned at the first filled bucket, for
// whole-table iteration (e.g. aggregation output).
func (ht *HashTable) Begin() Iterator {
	for i := uint64(0); i < ht.numBuckets; i++ {
		if ht.buckets[i].filled {
			return Iterator{ht: ht, bucketIdx: i, atHead: true, node: nilRef}
		}
	}
	return Iterator{ht: ht, end: true}
}

// NextBucket advances a whole-table iterator to the next filled bucket,
// ignoring duplicate chains (used by aggregation, which never has
// duplicates per bucket).
func (it *Iterator) NextBucket() bool {
	for i := it.bucketIdx + 1; i < it.ht.numBuckets; i++ {
		if it.ht.buckets[i].filled {
			it.bucketIdx = i
			it.atHead = true
			it.node = nilRef
			return true
		}
	}
	it.end = true
	return false
}

// FirstUnmatched walks to the first unmatched bucket (or duplicate node
// within a bucket), per spec.md §4.3's iteration contract for outer/anti
// joins. It's the join-side counterpart to Begin/NextBucket which is
// match-agnostic.
func (ht *HashTable) FirstUnmatched() Iterator {
	it := ht.Begin()
	if !it.Valid() {
		return it
	}
	if !it.unmatchedAtCurrentChainPosition() {
		it.NextUnmatched()
	}
	return it
}

func (it *Iterator) unmatchedAtCurrentChainPosition() bool {
	it.atHead = false
	b := &it.ht.buckets[it.bucketIdx]
	if !b.hasDuplicates {
		return !b.matched
	}
	if it.node.isNil() {
		it.node = b.dupHead
	}
	return !it.ht.arena.Get(it.node).matched
}

// FirstMatched walks to the first matched bucket (or duplicate node within
// a bucket); the counterpart to FirstUnmatched used by RightSemi's
// build-side output (a build row is emitted once per matched row, not once
// per probe that matched it — spec.md §4.4.b).
func (ht *HashTable) FirstMatched() Iterator {
	it := ht.Begin()
	if !it.Valid() {
		return it
	}
	if !it.matchedAtCurrentChainPosition() {
		it.NextMatched()
	}
	return it
}

func (it *Iterator) matchedAtCurrentChainPosition() bool {
	it.atHead = false
	b := &it.ht.buckets[it.bucketIdx]
	if !b.hasDuplicates {
		return b.matched
	}
	if it.node.isNil() {
		it.node = b.dupHead
	}
	return it.ht.arena.Get(it.node).matched
}

// NextMatched advances to the next matched position across buckets and
// duplicate chains.
func (it *Iterator) NextMatched() bool {
	for {
		b := &it.ht.buckets[it.bucketIdx]
		if b.hasDuplicates {
			if it.atHead {
				it.atHead = false
				it.node = b.dupHead
			} else if !it.node.isNil() {
				it.node = it.ht.arena.Get(it.node).next
			}
			for !it.node.isNil() {
				if it.ht.arena.Get(it.node).matched {
					return true
				}
				it.node = it.ht.arena.Get(it.node).next
			}
		} else if it.atHead {
			it.atHead = false
			if b.matched {
				return true
			}
		}
		if !it.NextBucket() {
			return false
		}
	}
}

// NextUnmatched advances to the next unmatched position across buckets
// and duplicate chains.
func (it *Iterator) NextUnmatched() bool {
	for {
		b := &it.ht.buckets[it.bucketIdx]
		if b.hasDuplicates {
			if it.atHead {
				it.atHead = false
				it.node = b.dupHead
			} else if !it.node.isNil() {
				it.node = it.ht.arena.Get(it.node).next
			}
			for !it.node.isNil() {
				if !it.ht.arena.Get(it.node).matched {
					return true
				}
				it.node = it.ht.arena.Get(it.node).next
			}
		} else if it.atHead {
			it.atHead = false
			if !b.matched {
				return true
			}
		}
		if !it.NextBucket() {
			return false
		}
	}
}
