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
	"bytes"

	"github.com/axiomhq/hyperloglog"

	"github.com/matrixorigin/hashcore/internal/exprctx"
	"github.com/matrixorigin/hashcore/internal/hashctx"
	"github.com/matrixorigin/hashcore/internal/hashtable"
	"github.com/matrixorigin/hashcore/internal/memtracker"
	"github.com/matrixorigin/hashcore/internal/moerr"
)

const (
	defaultStreamingCacheBuckets    = 4096
	defaultReductionFactorThreshold = 0.5
)

// Result is one output row: one Value per group key, plus either a
// Finalize Value or a Serialize []byte per aggregate (or both, per
// Config.NeedsFinalize/NeedsSerialize), in the order GroupAggregator was
// configured with.
type Result struct {
	Keys     []exprctx.Value
	Aggs     []exprctx.Value
	AggBytes [][]byte
}

// GroupAggregator implements spec.md §4.4.a: find-or-insert grouping on top
// of the shared partitioned hash-table/spill algorithm in core, with an
// optional streaming pre-aggregation front end.
type GroupAggregator struct {
	core

	keys         []exprctx.Expr
	keyCtx       *hashctx.Context
	aggFactories []AggFactory
	htCfg        hashtable.Config

	partitions []*Partition
	level      uint32

	streaming    bool
	streamHT     *hashtable.HashTable
	streamTrk    *memtracker.Tracker
	sketch       *hyperloglog.Sketch
	rowsSeen     int64
	reductionTh  float64

	finished bool
	outCur   *outputCursor
	closed   bool
}

// outputCursor walks the done queue's partitions (and, after a
// repartition, any newly-produced resident partitions) one hash table at a
// time, yielding a Result per filled bucket.
type outputCursor struct {
	partitions []*Partition
	pIdx       int
	it         hashtable.Iterator
	itValid    bool
}

func NewGroupAggregator(cfg Config, keys []exprctx.Expr, aggs []AggFactory, tracker *memtracker.Tracker) (*GroupAggregator, error) {
	g := &GroupAggregator{
		core:         newCore(cfg, tracker),
		keys:         keys,
		aggFactories: aggs,
		htCfg:        htConfig(cfg, false, true),
	}
	g.keyCtx = hashctx.New(hashctx.Config{
		StoresNulls: cfg.StoresNulls,
		FindsNulls:  cfg.FindsNulls,
		InitialSeed: cfg.InitialSeed,
	}, keys, 1)

	if cfg.StreamingPreAgg {
		g.streaming = true
		g.reductionTh = cfg.ReductionFactorThreshold
		if g.reductionTh <= 0 {
			g.reductionTh = defaultReductionFactorThreshold
		}
		cacheBuckets := cfg.StreamingCacheBuckets
		if cacheBuckets == 0 {
			cacheBuckets = defaultStreamingCacheBuckets
		}
		g.streamTrk = tracker.NewChild(0)
		streamCfg := g.htCfg
		streamCfg.MaxBuckets = cacheBuckets
		streamHT, err := hashtable.New(streamCfg, g.streamTrk, g.metrics, cacheBuckets)
		if err != nil {
			return nil, err
		}
		g.streamHT = streamHT
		g.sketch = hyperloglog.New()
	} else {
		partitions, err := g.createPartitions(0, g.htCfg, false)
		if err != nil {
			return nil, err
		}
		g.partitions = partitions
	}
	g.level = 0
	return g, nil
}

// Consume feeds one input row into the aggregator. In streaming
// pre-aggregation mode (spec.md §4.4.a) a row that the streaming table
// can't absorb is handed back to the caller as passThrough rather than
// aggregated here: the streaming front end never partitions or spills,
// mirroring a dedicated pre-agg node that simply forwards what it can't
// reduce to a downstream full aggregator. In plain mode passThrough is
// always nil and every row is aggregated by this call.
func (g *GroupAggregator) Consume(row exprctx.Row) (passThrough exprctx.Row, err error) {
	hasNull := g.keyCtx.EvalRow(row, 0)
	if hasNull {
		// StoresNulls is false and this row carries a NULL key: it never
		// groups with anything (spec.md §4.2, §8 property 6).
		return nil, nil
	}
	hash := g.keyCtx.HashRow(0, int(g.level))

	if g.streaming {
		handled, err := g.consumeStreaming(row, hash)
		if err != nil {
			return nil, err
		}
		if !handled {
			return row, nil
		}
		return nil, nil
	}
	return nil, g.consumePartitioned(row, hash)
}

func (g *GroupAggregator) consumeStreaming(row exprctx.Row, hash uint32) (handled bool, err error) {
	g.rowsSeen++
	if g.sketch != nil {
		g.sketch.InsertHash(uint64(hash))
	}

	cmp := &groupKeyComparator{keys: g.keys, row: row, storesNulls: g.cfg.StoresNulls, findsNulls: g.cfg.FindsNulls}
	it := g.streamHT.Probe(hash, cmp)
	if it.Valid() {
		tup := it.Slot().Tuple.(*IntermediateTuple)
		for _, a := range tup.Aggs {
			a.Update(row)
		}
		return true, nil
	}

	if g.sketch != nil && g.rowsSeen > 0 {
		rEst := float64(g.sketch.Estimate()) / float64(g.rowsSeen)
		g.metrics.SetReductionFactorEstimate(rEst)
		g.metrics.SetReductionFactorThreshold(g.reductionTh)
		if rEst > g.reductionTh {
			// Too many distinct keys relative to rows seen: expanding the
			// streaming table further is unlikely to pay for itself.
			// Hand this row back to the caller as pass-through instead.
			g.metrics.RowsPassedThrough.Add(1)
			return false, nil
		}
	}

	ok, err := g.streamHT.CheckAndResize(1)
	if err != nil && !moerr.IsRecoverable(err) {
		return false, err
	}
	if err != nil || !ok {
		// Streaming pre-aggregation never spills (spec.md §4.4.a); once it
		// can't grow, new keys pass straight through.
		g.metrics.RowsPassedThrough.Add(1)
		return false, nil
	}

	tup := newIntermediateTuple(row, g.keys, g.aggFactories)
	if _, _, err := g.streamHT.Insert(hash, hashtable.TupleSlot{Tuple: tup}, cmp); err != nil {
		return false, err
	}
	return true, nil
}

func (g *GroupAggregator) consumePartitioned(row exprctx.Row, hash uint32) error {
	pid := partitionIDFromHash(hash, g.cfg.NumPartitioningBits)
	p := g.partitions[pid]

	if p.IsSpilled {
		return g.spoolRawRow(p, row)
	}

	cmp := &groupKeyComparator{keys: g.keys, row: row, storesNulls: g.cfg.StoresNulls, findsNulls: g.cfg.FindsNulls}
	it := p.HT.Probe(hash, cmp)
	if it.Valid() {
		tup := it.Slot().Tuple.(*IntermediateTuple)
		for _, a := range tup.Aggs {
			a.Update(row)
		}
		return nil
	}

	ok, err := p.HT.CheckAndResize(1)
	if err != nil && !moerr.IsRecoverable(err) {
		return err
	}
	if err != nil || !ok {
		if _, serr := g.spillPartition(g.partitions, g.drainGroupToSpool); serr != nil {
			return serr
		}
		if p.IsSpilled {
			return g.spoolRawRow(p, row)
		}
		ok, err = p.HT.CheckAndResize(1)
		if err != nil {
			return err
		}
		if !ok {
			return moerr.NewMemoryLimitTooLow(g.tracker.Limit())
		}
	}

	tup := newIntermediateTuple(row, g.keys, g.aggFactories)
	_, _, err = p.HT.Insert(hash, hashtable.TupleSlot{Tuple: tup}, cmp)
	return err
}

func (g *GroupAggregator) spoolRawRow(p *Partition, row exprctx.Row) error {
	if p.AggSpool == nil {
		p.AggSpool = newSpool(p.Tracker, g.cfg.SpillDir)
	}
	buf := g.cfg.Codec.Encode(row)
	_, _, err := p.AggSpool.AddRow(buf)
	return err
}

// drainGroupToSpool is the DrainFunc a spilling partition's resident
// groups are routed through: each is serialized (keys plus every
// AggState's Serialize bytes) into GroupSpool rather than lost when HT
// closes (spec.md §4.4.a, §8 property 1).
func (g *GroupAggregator) drainGroupToSpool(p *Partition, slot hashtable.TupleSlot) error {
	return g.spoolGroup(p, slot.Tuple.(*IntermediateTuple))
}

func (g *GroupAggregator) spoolGroup(p *Partition, tup *IntermediateTuple) error {
	if p.GroupSpool == nil {
		p.GroupSpool = newSpool(p.Tracker, g.cfg.SpillDir)
	}
	_, _, err := p.GroupSpool.AddRow(encodeGroup(tup))
	return err
}

// Finished signals end of input: it drains the streaming table's groups
// into the output queue alongside every resident/spilled level-0
// partition, recursively repartitioning any spilled partition up to
// MaxPartitionDepth, then prepares Next for iteration (spec.md §4.4).
func (g *GroupAggregator) Finished() error {
	if g.finished {
		return nil
	}
	g.finished = true

	// g.partitions is nil in streaming mode (no partitioned fallback
	// lives inside this aggregator, per Consume's doc comment), so the
	// moves and repartition loop below are no-ops there.
	g.moveHashPartitions(g.partitions)
	g.partitions = nil

	for {
		sp := g.popSpilled()
		if sp == nil {
			break
		}
		if err := g.repartition(sp); err != nil {
			return err
		}
	}

	results := append([]*Partition{}, g.doneQueue...)
	if g.streaming && g.streamHT != nil {
		streamPartition := &Partition{HT: g.streamHT, Tracker: g.streamTrk}
		results = append(results, streamPartition)
	}
	g.outCur = &outputCursor{partitions: results}
	return nil
}

// repartition implements spec.md §4.4's recursive step: replay a spilled
// partition's spooled rows through FANOUT new partitions at level+1, one
// seed deeper, then fold the result back into the shared queues.
func (g *GroupAggregator) repartition(p *Partition) error {
	nextLevel := p.Level + 1
	if nextLevel > g.cfg.MaxPartitionDepth {
		return moerr.NewMaxPartitionDepth(nextLevel, g.cfg.MaxPartitionDepth)
	}

	var beforeRows int64
	if p.GroupSpool != nil {
		beforeRows += int64(p.GroupSpool.RowCount())
	}
	if p.AggSpool != nil {
		beforeRows += int64(p.AggSpool.RowCount())
	}

	children, err := g.createPartitions(nextLevel, g.htCfg, false)
	if err != nil {
		return err
	}
	g.metrics.NumRepartitions.Add(1)

	if beforeRows > 0 {
		// Pre-size every child for its expected share of the rows about to
		// be redistributed, so the drain loop below isn't paying for a
		// CheckAndResize on most inserts.
		perChild := uint64(beforeRows)/uint64(len(children)) + 1
		if err := g.checkAndResizeAll(children, perChild, g.drainGroupToSpool); err != nil {
			return err
		}
	}

	// GroupSpool drains before AggSpool: a group recovered here re-enters
	// a child's hash table exactly where its partial state belongs, so any
	// raw row processed afterward that shares its key folds into it
	// instead of starting a second, disjoint group for the same key.
	if p.GroupSpool != nil {
		p.GroupSpool.PrepareForRead()
		batch := make([][]byte, 256)
		for {
			n := p.GroupSpool.GetNext(batch)
			if n == 0 {
				break
			}
			for i := 0; i < n; i++ {
				tup := decodeGroup(batch[i], g.aggFactories)
				hasNull := g.keyCtx.EvalValues(tup.Keys, tup.KeyNulls, 0)
				if hasNull {
					continue
				}
				hash := g.keyCtx.HashRow(0, int(nextLevel))
				pid := partitionIDFromHash(hash, g.cfg.NumPartitioningBits)
				if err := g.consumeGroupIntoChild(children[pid], tup, hash); err != nil {
					return err
				}
			}
		}
	}

	if p.AggSpool != nil {
		p.AggSpool.PrepareForRead()
		batch := make([][]byte, 256)
		for {
			n := p.AggSpool.GetNext(batch)
			if n == 0 {
				break
			}
			for i := 0; i < n; i++ {
				row := g.cfg.Codec.Decode(batch[i])
				hasNull := g.keyCtx.EvalRow(row, 0)
				if hasNull {
					continue
				}
				hash := g.keyCtx.HashRow(0, int(nextLevel))
				pid := partitionIDFromHash(hash, g.cfg.NumPartitioningBits)
				if err := g.consumeIntoChild(children[pid], row, hash); err != nil {
					return err
				}
			}
		}
	}
	p.Close()

	var afterRows int64
	for _, c := range children {
		afterRows += int64(rowsIn(c))
	}
	if beforeRows > 0 && afterRows >= beforeRows {
		return moerr.NewRepartitionIneffective(nextLevel, beforeRows, afterRows)
	}

	g.moveHashPartitions(children)
	return nil
}

func rowsIn(p *Partition) int64 {
	var n int64
	if p.HT != nil {
		n += int64(p.HT.NumFilled())
	}
	if p.AggSpool != nil {
		n += int64(p.AggSpool.RowCount())
	}
	if p.GroupSpool != nil {
		n += int64(p.GroupSpool.RowCount())
	}
	return n
}

func (g *GroupAggregator) consumeIntoChild(p *Partition, row exprctx.Row, hash uint32) error {
	if p.IsSpilled {
		return g.spoolRawRow(p, row)
	}
	cmp := &groupKeyComparator{keys: g.keys, row: row, storesNulls: g.cfg.StoresNulls, findsNulls: g.cfg.FindsNulls}
	it := p.HT.Probe(hash, cmp)
	if it.Valid() {
		tup := it.Slot().Tuple.(*IntermediateTuple)
		for _, a := range tup.Aggs {
			a.Update(row)
		}
		return nil
	}
	ok, err := p.HT.CheckAndResize(1)
	if err != nil && !moerr.IsRecoverable(err) {
		return err
	}
	if err != nil || !ok {
		if err := p.Spill(g.drainGroupToSpool); err != nil {
			return err
		}
		g.metrics.SpilledPartitions.Add(1)
		return g.spoolRawRow(p, row)
	}
	tup := newIntermediateTuple(row, g.keys, g.aggFactories)
	_, _, err = p.HT.Insert(hash, hashtable.TupleSlot{Tuple: tup}, cmp)
	return err
}

// consumeGroupIntoChild inserts a group recovered from a spilled
// partition's GroupSpool into a repartition child. Every group
// replayed from one spilled partition's table has a key no other group
// from the same spool can repeat — that table held at most one entry per
// key, and it was drained exactly once on the way to GroupSpool — so this
// always takes Insert's new-key path, never a merge.
func (g *GroupAggregator) consumeGroupIntoChild(p *Partition, tup *IntermediateTuple, hash uint32) error {
	if p.IsSpilled {
		return g.spoolGroup(p, tup)
	}
	ok, err := p.HT.CheckAndResize(1)
	if err != nil && !moerr.IsRecoverable(err) {
		return err
	}
	if err != nil || !ok {
		if err := p.Spill(g.drainGroupToSpool); err != nil {
			return err
		}
		g.metrics.SpilledPartitions.Add(1)
		return g.spoolGroup(p, tup)
	}
	cmp := &groupValueComparator{keys: g.keys, keyNulls: tup.KeyNulls, keyVals: tup.Keys, storesNulls: g.cfg.StoresNulls}
	_, _, err = p.HT.Insert(hash, hashtable.TupleSlot{Tuple: tup}, cmp)
	return err
}

// Next returns the next finalized group, or nil when exhausted. Finished
// must be called first.
func (g *GroupAggregator) Next() (*Result, error) {
	if g.outCur == nil {
		return nil, moerr.NewUnsupported("Next called before Finished")
	}
	for {
		if !g.outCur.itValid {
			if g.outCur.pIdx >= len(g.outCur.partitions) {
				return nil, nil
			}
			p := g.outCur.partitions[g.outCur.pIdx]
			if p.HT == nil {
				g.outCur.pIdx++
				continue
			}
			g.outCur.it = p.HT.Begin()
			g.outCur.itValid = true
			if !g.outCur.it.Valid() {
				g.outCur.itValid = false
				g.outCur.pIdx++
				continue
			}
			return g.finalizeSlot(g.outCur.it.Slot()), nil
		}
		if g.outCur.it.NextBucket() {
			return g.finalizeSlot(g.outCur.it.Slot()), nil
		}
		g.outCur.itValid = false
		g.outCur.pIdx++
	}
}

// finalizeSlot converts a resident group into output. When NeedsSerialize
// is set (this aggregator is a partial stage in a larger distributed
// plan, per spec.md §6's config fields), the output carries each
// AggState's Serialize bytes instead of — or, with NeedsFinalize also
// set, alongside — its Finalize value, so an upstream stage can merge
// partial accumulators rather than re-deriving them from Finalize output.
func (g *GroupAggregator) finalizeSlot(slot hashtable.TupleSlot) *Result {
	tup := slot.Tuple.(*IntermediateTuple)
	res := &Result{Keys: tup.Keys}
	if g.cfg.NeedsSerialize {
		res.AggBytes = make([][]byte, len(tup.Aggs))
		for i, a := range tup.Aggs {
			res.AggBytes[i] = a.Serialize()
		}
	}
	if g.cfg.NeedsFinalize || !g.cfg.NeedsSerialize {
		res.Aggs = make([]exprctx.Value, len(tup.Aggs))
		for i, a := range tup.Aggs {
			res.Aggs[i] = a.Finalize()
		}
	}
	return res
}

// Close tears down every partition, the streaming table, and the shared
// tracker children, idempotently.
func (g *GroupAggregator) Close() {
	if g.closed {
		return
	}
	g.closed = true
	for _, p := range g.partitions {
		p.Close()
	}
	for _, p := range g.doneQueue {
		p.Close()
	}
	for _, p := range g.spillQueue {
		p.Close()
	}
	if g.streamHT != nil {
		g.streamHT.Close()
	}
	if g.streamTrk != nil {
		g.streamTrk.Close()
	}
}

// groupKeyComparator compares a live input row's key values against an
// already-materialized IntermediateTuple, without re-reading any other
// row (spec.md §4.3's KeyComparator contract).
type groupKeyComparator struct {
	keys        []exprctx.Expr
	row         exprctx.Row
	storesNulls bool
	findsNulls  []bool
}

func (c *groupKeyComparator) Equals(stored hashtable.TupleSlot) bool {
	tup := stored.Tuple.(*IntermediateTuple)
	for i, k := range c.keys {
		val, isNull := k.Eval(c.row)
		if isNull != tup.KeyNulls[i] {
			return false
		}
		if isNull {
			if !c.storesNulls {
				return false
			}
			// GROUP BY groups NULLs together; no FindsNulls gate here,
			// unlike the join side's semi/anti variants.
			continue
		}
		if k.Type().IsVarLen() {
			if !bytes.Equal(val.Buf, tup.Keys[i].Buf) {
				return false
			}
			continue
		}
		switch k.Type().ID {
		case exprctx.Int64:
			if val.I64 != tup.Keys[i].I64 {
				return false
			}
		case exprctx.Float64:
			if val.F64 != tup.Keys[i].F64 {
				return false
			}
		case exprctx.Bool:
			if val.B != tup.Keys[i].B {
				return false
			}
		}
	}
	return true
}

// groupValueComparator compares a group's already-materialized key values
// (recovered from a spilled partition's GroupSpool, where the input row
// that produced them no longer exists) against a stored IntermediateTuple,
// the value-based counterpart to groupKeyComparator's row-based Equals.
type groupValueComparator struct {
	keys        []exprctx.Expr
	keyNulls    []bool
	keyVals     []exprctx.Value
	storesNulls bool
}

func (c *groupValueComparator) Equals(stored hashtable.TupleSlot) bool {
	tup := stored.Tuple.(*IntermediateTuple)
	for i, k := range c.keys {
		if c.keyNulls[i] != tup.KeyNulls[i] {
			return false
		}
		if c.keyNulls[i] {
			if !c.storesNulls {
				return false
			}
			continue
		}
		val := c.keyVals[i]
		if k.Type().IsVarLen() {
			if !bytes.Equal(val.Buf, tup.Keys[i].Buf) {
				return false
			}
			continue
		}
		switch k.Type().ID {
		case exprctx.Int64:
			if val.I64 != tup.Keys[i].I64 {
				return false
			}
		case exprctx.Float64:
			if val.F64 != tup.Keys[i].F64 {
				return false
			}
		case exprctx.Bool:
			if val.B != tup.Keys[i].B {
				return false
			}
		}
	}
	return true
}

// newIntermediateTuple starts a new group from row: its key values plus a
// fresh AggState per factory, already updated with row itself.
func newIntermediateTuple(row exprctx.Row, keys []exprctx.Expr, factories []AggFactory) *IntermediateTuple {
	nulls := make([]bool, len(keys))
	vals := make([]exprctx.Value, len(keys))
	for i, k := range keys {
		v, isNull := k.Eval(row)
		nulls[i] = isNull
		if !isNull && k.Type().IsVarLen() {
			v.Buf = append([]byte(nil), v.Buf...)
		}
		vals[i] = v
	}
	aggs := make([]AggState, len(factories))
	for i, f := range factories {
		aggs[i] = f()
		aggs[i].Update(row)
	}
	return &IntermediateTuple{KeyNulls: nulls, Keys: vals, Aggs: aggs}
}
