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

import (
	"github.com/matrixorigin/hashcore/internal/memtracker"
	"github.com/matrixorigin/hashcore/internal/moerr"
	"github.com/matrixorigin/hashcore/internal/obs"
)

const (
	maxFillNumerator   = 3
	maxFillDenominator = 4
	bucketSize         = 32 // approximate bytes per bucket, for budget accounting
)

// Config is the immutable configuration fixed at construction (spec.md §9:
// no process-global mutable state; tunables are a value passed in).
type Config struct {
	StoresDuplicates bool
	StoresTuples     bool
	Probing          ProbingScheme
	// MaxBuckets bounds CheckAndResize; 0 means unlimited.
	MaxBuckets uint64
	// BlockBytes sizes duplicate-node arena pages beyond the first two
	// (spec.md §4.3: "buffer manager block size").
	BlockBytes int64
}

// Stats holds the observable counters spec.md §4.3 requires.
type Stats struct {
	Probes       int64
	FailedProbes int64
	Collisions   int64
	TravelLength int64
	Resizes      int64
}

// HashTable is the open-addressed table of spec.md §3/§4.3.
type HashTable struct {
	cfg        Config
	buckets    []bucket
	numBuckets uint64
	mask       uint64
	numFilled  uint64
	arena      *arena
	tracker    *memtracker.Tracker
	metrics    *obs.Metrics
	stats      Stats
	closed     bool
}

const minBuckets = 8

// New allocates a table with at least minInitialBuckets buckets (rounded
// up to a power of two), reserving the bucket array against tracker.
func New(cfg Config, tracker *memtracker.Tracker, metrics *obs.Metrics, minInitialBuckets uint64) (*HashTable, error) {
	n := nextPowerOfTwo(minInitialBuckets)
	if n < minBuckets {
		n = minBuckets
	}
	if tracker != nil && !tracker.TryConsume(int64(n) * bucketSize) {
		return nil, moerr.NewMemoryBudget(int64(n) * bucketSize)
	}
	ht := &HashTable{
		cfg:        cfg,
		buckets:    make([]bucket, n),
		numBuckets: n,
		mask:       n - 1,
		tracker:    tracker,
		metrics:    metrics,
	}
	if cfg.StoresDuplicates {
		ht.arena = newArena(tracker, cfg.BlockBytes)
	}
	if metrics != nil {
		metrics.HashBuckets.Add(int64(n))
	}
	return ht, nil
}

func nextPowerOfTwo(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	p := uint64(1)
	for p < n {
		p <<= 1
	}
	return p
}

func (ht *HashTable) NumBuckets() uint64 { return ht.numBuckets }
func (ht *HashTable) NumFilled() uint64  { return ht.numFilled }
func (ht *HashTable) Stats() Stats       { return ht.stats }

// MemoryBytes estimates the table's current footprint (buckets + arena
// pages), used by spill_partition to pick the largest resident partition.
func (ht *HashTable) MemoryBytes() int64 {
	n := int64(ht.numBuckets) * bucketSize
	if ht.arena != nil {
		for _, p := range ht.arena.pages {
			n += int64(cap(p)) * nodeSize
		}
	}
	return n
}

// find locates the bucket that either already holds key (per cmp) or is
// the first empty bucket the probe sequence would occupy. It never
// returns an index past the probe sequence length, matching §4.3's
// "probe failed; consider resize" contract for quadratic probing.
func (ht *HashTable) find(hash uint32, cmp KeyComparator) (idx uint64, found bool, ok bool) {
	start := uint64(hash) & ht.mask
	for i := uint64(0); ; i++ {
		if i > ht.numBuckets {
			// Quadratic probing fails once i exceeds num_buckets even if
			// the table isn't full (spec.md §4.3); linear probing hits
			// this only if every bucket is occupied, which the 0.75 fill
			// invariant should prevent.
			ht.stats.FailedProbes++
			return 0, false, false
		}
		idx = (start + ht.cfg.Probing.step(i)) & ht.mask
		ht.stats.Probes++
		b := &ht.buckets[idx]
		if !b.filled {
			return idx, false, true
		}
		if b.hash == hash {
			if cmp.Equals(b.data) {
				return idx, true, true
			}
			ht.stats.Collisions++
			if ht.metrics != nil {
				ht.metrics.HashCollisions.Add(1)
			}
		}
		ht.stats.TravelLength++
	}
}

// Insert implements spec.md §4.3's Insert: occupy an empty bucket, merge
// into a duplicate chain on an exact key match when StoresDuplicates, or
// fail (BucketNotFound) so the caller resizes/spills.
//
// inserted reports whether a brand-new key was occupied (as opposed to a
// duplicate merge); callers use this to decide whether to allocate a new
// intermediate tuple (aggregation) or always push into the chain (join
// build).
func (ht *HashTable) Insert(hash uint32, slot TupleSlot, cmp KeyComparator) (inserted bool, foundSlot TupleSlot, err error) {
	idx, found, ok := ht.find(hash, cmp)
	if !ok {
		return false, TupleSlot{}, moerr.NewBucketNotFound()
	}
	b := &ht.buckets[idx]
	if !found {
		b.filled = true
		b.hash = hash
		b.data = slot
		ht.numFilled++
		return true, slot, nil
	}
	if !ht.cfg.StoresDuplicates {
		return false, b.data, nil
	}
	if err := ht.pushDuplicate(b, slot); err != nil {
		return false, TupleSlot{}, err
	}
	return false, b.data, nil
}

func (ht *HashTable) pushDuplicate(b *bucket, slot TupleSlot) error {
	ref, node, err := ht.arena.Alloc()
	if err != nil {
		return err
	}
	if !b.hasDuplicates {
		// promote: move the single existing entry into the chain head,
		// then push the new slot as a second node.
		headRef, headNode, err := ht.arena.Alloc()
		if err != nil {
			return err
		}
		headNode.slot = b.data
		headNode.next = nilRef
		b.dupHead = headRef
		b.hasDuplicates = true
	}
	node.slot = slot
	node.next = b.dupHead
	b.dupHead = ref
	return nil
}

// Probe implements spec.md §4.3's Probe: walk the probe sequence from
// hash & mask, returning an iterator positioned at the matching bucket,
// or an end iterator if the key is absent.
func (ht *HashTable) Probe(hash uint32, cmp KeyComparator) Iterator {
	idx, found, ok := ht.find(hash, cmp)
	if !ok || !found {
		return Iterator{ht: ht, end: true}
	}
	return Iterator{ht: ht, bucketIdx: idx, node: ht.buckets[idx].dupHead, atHead: true}
}

// CheckAndResize implements spec.md §4.3: doubles num_buckets until
// (num_filled + additionalRows) <= maxFill * num_buckets, honoring an
// optional caller maximum, and rebuilds by reinserting cached hashes
// without re-evaluating any key.
func (ht *HashTable) CheckAndResize(additionalRows uint64) (bool, error) {
	target := ht.numFilled + additionalRows
	newCount := ht.numBuckets
	for newCount*maxFillNumerator < target*maxFillDenominator {
		newCount <<= 1
	}
	if newCount == ht.numBuckets {
		return true, nil
	}
	if ht.cfg.MaxBuckets > 0 && newCount > ht.cfg.MaxBuckets {
		return false, nil
	}
	if ht.tracker != nil {
		delta := int64(newCount-ht.numBuckets) * bucketSize
		if !ht.tracker.TryConsume(delta) {
			return false, nil
		}
	}

	old := ht.buckets
	oldSize := ht.numBuckets
	ht.buckets = make([]bucket, newCount)
	ht.numBuckets = newCount
	ht.mask = newCount - 1
	ht.numFilled = 0
	ht.stats.Resizes++

	for i := uint64(0); i < oldSize; i++ {
		ob := &old[i]
		if !ob.filled {
			continue
		}
		start := uint64(ob.hash) & ht.mask
		var idx uint64
		for j := uint64(0); ; j++ {
			idx = (start + ht.cfg.Probing.step(j)) & ht.mask
			if !ht.buckets[idx].filled {
				break
			}
		}
		ht.buckets[idx] = *ob
		ht.numFilled++
	}
	if ht.tracker != nil {
		ht.tracker.Release(int64(oldSize) * bucketSize)
	}
	if ht.metrics != nil {
		ht.metrics.HashBuckets.Add(int64(newCount) - int64(oldSize))
	}
	return true, nil
}

// ForEachSlot calls fn once for every slot currently stored — a bucket's
// direct data, or every node in its duplicate chain when it has one — in
// bucket order. Used to drain a table's contents before closing it (e.g.
// spilling a resident partition), where the probe/output iteration order
// spec.md §4.3 defines for Probe/Begin doesn't matter.
func (ht *HashTable) ForEachSlot(fn func(TupleSlot)) {
	for i := range ht.buckets {
		b := &ht.buckets[i]
		if !b.filled {
			continue
		}
		if !b.hasDuplicates {
			fn(b.data)
			continue
		}
		for ref := b.dupHead; !ref.isNil(); {
			n := ht.arena.Get(ref)
			fn(n.slot)
			ref = n.next
		}
	}
}

// ResetMatched clears every matched bit, bucket- and node-level, at the
// start of a new probe phase (spec.md's bucket state machine: matched
// bits are monotone within a phase, cleared only by a whole-table reset
// between phases).
func (ht *HashTable) ResetMatched() {
	for i := range ht.buckets {
		b := &ht.buckets[i]
		b.matched = false
		if b.hasDuplicates {
			for ref := b.dupHead; !ref.isNil(); {
				n := ht.arena.Get(ref)
				n.matched = false
				ref = n.next
			}
		}
	}
}

// Close releases the bucket array and duplicate arena. Idempotent.
func (ht *HashTable) Close() {
	if ht.closed {
		return
	}
	ht.closed = true
	if ht.tracker != nil {
		ht.tracker.Release(int64(ht.numBuckets) * bucketSize)
	}
	if ht.arena != nil {
		ht.arena.Close()
	}
	ht.buckets = nil
}
