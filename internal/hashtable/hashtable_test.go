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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/hashcore/internal/obs"
)

// intCmp compares by a plain int64 stored directly in TupleSlot.Tuple;
// used so these tests don't need internal/exprctx or internal/hashctx.
type intCmp struct{ want int64 }

func (c intCmp) Equals(stored TupleSlot) bool { return stored.Tuple.(int64) == c.want }

func hashOf(v int64) uint32 { return uint32(v)*2654435761 + 1 }

func TestInsertAndProbe(t *testing.T) {
	ht, err := New(Config{Probing: Linear}, nil, &obs.Metrics{}, 8)
	require.NoError(t, err)
	defer ht.Close()

	inserted, _, err := ht.Insert(hashOf(1), TupleSlot{Tuple: int64(1)}, intCmp{1})
	require.NoError(t, err)
	require.True(t, inserted)

	it := ht.Probe(hashOf(1), intCmp{1})
	require.True(t, it.Valid())
	require.Equal(t, int64(1), it.Slot().Tuple.(int64))

	it = ht.Probe(hashOf(2), intCmp{2})
	require.False(t, it.Valid())
}

func TestDuplicateChainVisitsEachNodeExactlyOnce(t *testing.T) {
	ht, err := New(Config{Probing: Linear, StoresDuplicates: true}, nil, &obs.Metrics{}, 8)
	require.NoError(t, err)
	defer ht.Close()

	// Three rows share the same key (and so the same hash bucket), forming
	// a duplicate chain: dupHead -> 3rd inserted -> 2nd -> 1st.
	for _, v := range []int64{10, 10, 10} {
		_, _, err := ht.Insert(hashOf(1), TupleSlot{Tuple: v}, dupInsertCmp{key: 1})
		require.NoError(t, err)
	}

	it := ht.Probe(hashOf(1), dupInsertCmp{key: 1})
	require.True(t, it.Valid())

	seen := 0
	for {
		seen++
		it.SetMatched()
		if !it.Next() {
			break
		}
	}
	require.Equal(t, 3, seen, "each duplicate-chain node must be visited exactly once, not the head twice")
}

// dupInsertCmp treats every slot carrying the same key as equal,
// regardless of the distinct payload each duplicate row carries.
type dupInsertCmp struct{ key int64 }

func (c dupInsertCmp) Equals(TupleSlot) bool { return true }

func TestCheckAndResizeGrowsAndRehashes(t *testing.T) {
	ht, err := New(Config{Probing: Linear}, nil, &obs.Metrics{}, 8)
	require.NoError(t, err)
	defer ht.Close()

	for i := int64(0); i < 20; i++ {
		ok, err := ht.CheckAndResize(1)
		require.NoError(t, err)
		require.True(t, ok)
		_, _, err = ht.Insert(hashOf(i), TupleSlot{Tuple: i}, intCmp{i})
		require.NoError(t, err)
	}
	require.Equal(t, uint64(20), ht.NumFilled())
	for i := int64(0); i < 20; i++ {
		it := ht.Probe(hashOf(i), intCmp{i})
		require.True(t, it.Valid(), "key %d should survive resize", i)
		require.Equal(t, i, it.Slot().Tuple.(int64))
	}
}

func TestFirstUnmatchedAndFirstMatched(t *testing.T) {
	ht, err := New(Config{Probing: Linear}, nil, &obs.Metrics{}, 8)
	require.NoError(t, err)
	defer ht.Close()

	for i := int64(0); i < 4; i++ {
		_, _, err := ht.Insert(hashOf(i), TupleSlot{Tuple: i}, intCmp{i})
		require.NoError(t, err)
	}
	// Mark two of the four rows matched.
	for _, i := range []int64{1, 3} {
		it := ht.Probe(hashOf(i), intCmp{i})
		require.True(t, it.Valid())
		it.SetMatched()
	}

	var unmatched, matched []int64
	for it := ht.FirstUnmatched(); it.Valid(); {
		unmatched = append(unmatched, it.Slot().Tuple.(int64))
		if !it.NextUnmatched() {
			break
		}
	}
	for it := ht.FirstMatched(); it.Valid(); {
		matched = append(matched, it.Slot().Tuple.(int64))
		if !it.NextMatched() {
			break
		}
	}
	require.ElementsMatch(t, []int64{0, 2}, unmatched)
	require.ElementsMatch(t, []int64{1, 3}, matched)
}

// TestFirstUnmatchedWithDuplicateChainInLowestBucket guards against
// Begin's iterator reading the wrong arena node when the first filled
// bucket it lands on is itself a duplicate chain.
func TestFirstUnmatchedWithDuplicateChainInLowestBucket(t *testing.T) {
	ht, err := New(Config{Probing: Linear, StoresDuplicates: true}, nil, &obs.Metrics{}, 8)
	require.NoError(t, err)
	defer ht.Close()

	for i := int64(0); i < 3; i++ {
		_, _, err := ht.Insert(hashOf(0), TupleSlot{Tuple: i}, dupInsertCmp{})
		require.NoError(t, err)
	}

	it := ht.Probe(hashOf(0), dupInsertCmp{})
	require.True(t, it.Valid())
	it.SetMatched()

	var unmatched, matched []int64
	for fu := ht.FirstUnmatched(); fu.Valid(); {
		unmatched = append(unmatched, fu.Slot().Tuple.(int64))
		if !fu.NextUnmatched() {
			break
		}
	}
	for fm := ht.FirstMatched(); fm.Valid(); {
		matched = append(matched, fm.Slot().Tuple.(int64))
		if !fm.NextMatched() {
			break
		}
	}
	require.Len(t, matched, 1, "exactly one of the three duplicate rows was probed and matched")
	require.Len(t, unmatched, 2, "the other two duplicate rows must still surface as unmatched")
}

func TestHashCollisionIsPropagatedToMetrics(t *testing.T) {
	metrics := &obs.Metrics{}
	ht, err := New(Config{Probing: Linear}, nil, metrics, 8)
	require.NoError(t, err)
	defer ht.Close()

	const sharedHash = uint32(1)
	_, _, err = ht.Insert(sharedHash, TupleSlot{Tuple: int64(1)}, intCmp{1})
	require.NoError(t, err)

	// A second key that collides on sharedHash but isn't equal must record
	// a collision before probing lands it in its own bucket.
	_, _, err = ht.Insert(sharedHash, TupleSlot{Tuple: int64(2)}, intCmp{2})
	require.NoError(t, err)

	require.Greater(t, metrics.HashCollisions.Load(), int64(0))
}

func TestQuadraticProbingFindsKeysAcrossResizes(t *testing.T) {
	ht, err := New(Config{Probing: Quadratic}, nil, &obs.Metrics{}, 8)
	require.NoError(t, err)
	defer ht.Close()

	for i := int64(0); i < 6; i++ {
		_, _, err := ht.Insert(hashOf(i), TupleSlot{Tuple: i}, intCmp{i})
		require.NoError(t, err)
		ok, err := ht.CheckAndResize(1)
		require.NoError(t, err)
		require.True(t, ok)
	}
	for i := int64(0); i < 6; i++ {
		it := ht.Probe(hashOf(i), intCmp{i})
		require.True(t, it.Valid())
	}
}
