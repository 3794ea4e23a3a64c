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

package partition

import (
	"github.com/matrixorigin/hashcore/internal/exprctx"
	"github.com/matrixorigin/hashcore/internal/hashtable"
	"github.com/matrixorigin/hashcore/internal/memtracker"
	"github.com/matrixorigin/hashcore/internal/rowspool"
)

// DrainFunc re-encodes one slot still resident in a partition's hash table
// at the moment it's spilled, so its caller (GroupAggregator, EquiJoin) can
// route it into whichever spool preserves the work already done on it —
// a partial aggregate or a raw build row — instead of letting Spill drop
// it when the table is closed. The partition argument is always the one
// being spilled, so a method value like (*GroupAggregator).drainGroupToSpool
// satisfies this without needing to close over which partition is largest.
type DrainFunc func(*Partition, hashtable.TupleSlot) error

// IntermediateTuple is a GroupAggregator's per-group state record
// (spec.md GLOSSARY): a materialized copy of the group's key values (so it
// survives independent of the input row that produced it, and a later probe
// can compare against it without re-reading any input) plus one AggState
// per aggregate expression. Variable-length key values carry a defensive
// copy of their bytes in Keys[i].Buf.
type IntermediateTuple struct {
	KeyNulls []bool
	Keys     []exprctx.Value
	Aggs     []AggState
}

// Partition is one of a PartitionedOperator's FANOUT buckets of rows,
// selected by the top bits of a seeded hash (spec.md §3 GLOSSARY). It
// owns a hash table while resident, and one or two row-spools for its
// entire lifetime.
type Partition struct {
	Level uint32
	ID    uint32

	HT *hashtable.HashTable

	// BuildSpool is the join build-side spool (and, for aggregation, is
	// unused: aggregation uses AggSpool instead).
	BuildSpool *rowspool.Spool
	// ProbeSpool buffers probe rows for a spilled join partition.
	ProbeSpool *rowspool.Spool
	// AggSpool buffers raw input rows for a spilled aggregation
	// partition (they bypass aggregation entirely until repartitioned,
	// per spec.md §4.4.a).
	AggSpool *rowspool.Spool
	// GroupSpool holds the groups that were already resident in HT at the
	// moment this partition spilled, serialized via AggState.Serialize so
	// their partial work survives (spec.md §4.4.a, §8 property 1). It is
	// always drained before AggSpool on repartition, so a post-spill raw
	// row sharing a group's key folds into the partial state recovered
	// here rather than starting a fresh group.
	GroupSpool *rowspool.Spool

	Tracker *memtracker.Tracker

	IsSpilled bool
	isClosed  bool
}

// MemoryBytes is the footprint spill_partition compares across resident
// partitions: hash table bytes plus the bytes of its build, aggregate and
// group spools (the probe spool is not counted).
func (p *Partition) MemoryBytes() int64 {
	var n int64
	if p.HT != nil {
		n += p.HT.MemoryBytes()
	}
	if p.BuildSpool != nil {
		n += p.BuildSpool.MemoryBytes()
	}
	if p.AggSpool != nil {
		n += p.AggSpool.MemoryBytes()
	}
	if p.GroupSpool != nil {
		n += p.GroupSpool.MemoryBytes()
	}
	return n
}

func (p *Partition) IsResident() bool { return p.HT != nil }

func (p *Partition) IsEmpty() bool {
	if p.HT != nil && p.HT.NumFilled() > 0 {
		return false
	}
	if p.BuildSpool != nil && p.BuildSpool.RowCount() > 0 {
		return false
	}
	if p.AggSpool != nil && p.AggSpool.RowCount() > 0 {
		return false
	}
	if p.GroupSpool != nil && p.GroupSpool.RowCount() > 0 {
		return false
	}
	if p.ProbeSpool != nil && p.ProbeSpool.RowCount() > 0 {
		return false
	}
	return true
}

// Spill releases this partition's hash table and unpins its spools,
// flipping IsSpilled (spec.md §4.4's spill_partition). drain is called
// once per slot still resident in HT before it's closed, so whatever the
// caller already folded into that slot — a partial aggregate, a build
// row — is preserved rather than dropped with the table; drain may be
// nil for a partition known to hold nothing worth preserving (e.g. one
// that was never resident to begin with).
func (p *Partition) Spill(drain DrainFunc) error {
	if p.HT != nil {
		if drain != nil {
			var drainErr error
			p.HT.ForEachSlot(func(slot hashtable.TupleSlot) {
				if drainErr == nil {
					drainErr = drain(p, slot)
				}
			})
			if drainErr != nil {
				return drainErr
			}
		}
		p.HT.Close()
		p.HT = nil
	}
	if p.BuildSpool != nil {
		p.BuildSpool.Unpin(true)
	}
	if p.AggSpool != nil {
		p.AggSpool.Unpin(true)
	}
	if p.GroupSpool != nil {
		p.GroupSpool.Unpin(true)
	}
	p.IsSpilled = true
	return nil
}

// Close tears the partition down, idempotently.
func (p *Partition) Close() {
	if p.isClosed {
		return
	}
	p.isClosed = true
	if p.HT != nil {
		p.HT.Close()
		p.HT = nil
	}
	if p.BuildSpool != nil {
		_ = p.BuildSpool.Close()
	}
	if p.ProbeSpool != nil {
		_ = p.ProbeSpool.Close()
	}
	if p.AggSpool != nil {
		_ = p.AggSpool.Close()
	}
	if p.GroupSpool != nil {
		_ = p.GroupSpool.Close()
	}
	if p.Tracker != nil {
		p.Tracker.Close()
	}
}
