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

	"github.com/matrixorigin/hashcore/internal/exprctx"
	"github.com/matrixorigin/hashcore/internal/hashctx"
	"github.com/matrixorigin/hashcore/internal/hashtable"
	"github.com/matrixorigin/hashcore/internal/memtracker"
	"github.com/matrixorigin/hashcore/internal/moerr"
)

// JoinOp names the nine equi-join variants spec.md §4.4.b enumerates.
type JoinOp int

const (
	Inner JoinOp = iota
	LeftOuter
	RightOuter
	FullOuter
	LeftSemi
	RightSemi
	LeftAnti
	RightAnti
	NullAwareLeftAnti
)

func (op JoinOp) isLeftDriven() bool {
	switch op {
	case LeftOuter, LeftSemi, LeftAnti, NullAwareLeftAnti:
		return true
	default:
		return false
	}
}

func (op JoinOp) needsProbeUnmatched() bool {
	switch op {
	case LeftOuter, FullOuter, LeftAnti, NullAwareLeftAnti:
		return true
	default:
		return false
	}
}

func (op JoinOp) needsBuildUnmatched() bool {
	switch op {
	case RightOuter, FullOuter, RightAnti:
		return true
	default:
		return false
	}
}

// emitsProbeMatch reports whether a probe-side match is emitted directly
// from ProbeResults. RightSemi is deliberately excluded: it must emit each
// matched build row exactly once, not once per probe row that matched it,
// so it's produced from the build-side matched walk instead (spec.md
// §4.4.b).
func (op JoinOp) emitsProbeMatch() bool {
	switch op {
	case Inner, LeftOuter, RightOuter, FullOuter, LeftSemi:
		return true
	default:
		return false
	}
}

func (op JoinOp) needsBuildMatched() bool {
	return op == RightSemi
}

// JoinRow is one probe-side output: the probe row paired with the matching
// build row, or a nil BuildRow for an outer/anti result with no match.
type JoinRow struct {
	ProbeRow exprctx.Row
	BuildRow exprctx.Row
}

// EquiJoin implements spec.md §4.4.b: build phase buffers the build side
// into a partitioned hash table, probe phase streams probe rows against it,
// with recursive repartitioning of any partition that spills and a
// dedicated O(build*probe) fallback for the null-aware left anti variant.
type EquiJoin struct {
	core

	op        JoinOp
	buildKeys []exprctx.Expr
	probeKeys []exprctx.Expr
	buildCtx  *hashctx.Context
	probeCtx  *hashctx.Context
	htCfg     hashtable.Config

	partitions []*Partition
	level      uint32

	phase        joinPhase
	nullSideRows []exprctx.Row // build rows with a NULL join key, for the O(B*P) fallback

	outCur   *joinOutputCursor
	closed   bool
}

type joinPhase int

const (
	phaseBuild joinPhase = iota
	phaseProbe
	phaseDone
)

func NewEquiJoin(cfg Config, op JoinOp, buildKeys, probeKeys []exprctx.Expr, tracker *memtracker.Tracker) (*EquiJoin, error) {
	j := &EquiJoin{
		core:      newCore(cfg, tracker),
		op:        op,
		buildKeys: buildKeys,
		probeKeys: probeKeys,
		htCfg:     htConfig(cfg, true, true),
	}
	hctxCfg := hashctx.Config{StoresNulls: cfg.StoresNulls, FindsNulls: cfg.FindsNulls, InitialSeed: cfg.InitialSeed}
	j.buildCtx = hashctx.New(hctxCfg, buildKeys, 1)
	j.probeCtx = hashctx.New(hctxCfg, probeKeys, 1)

	partitions, err := j.createPartitions(0, j.htCfg, false)
	if err != nil {
		return nil, err
	}
	j.partitions = partitions
	return j, nil
}

// ConsumeBuild feeds one build-side row during the build phase.
func (j *EquiJoin) ConsumeBuild(row exprctx.Row) error {
	if j.phase != phaseBuild {
		return moerr.NewUnsupported("ConsumeBuild called after build phase ended")
	}
	hasNull := j.buildCtx.EvalRow(row, 0)
	if j.op == NullAwareLeftAnti && !hasNull {
		// EvalRow reports a NULL key only when StoresNulls is false; the
		// null-aware anti join needs to see one either way.
		for i := range j.buildKeys {
			hasNull = hasNull || j.buildCtx.Cache().IsNull(0, i)
		}
	}
	if hasNull {
		if j.op == NullAwareLeftAnti {
			// A NULL-keyed build row can't be proven unequal to any probe
			// row (spec.md §4.4.b), so it's kept aside for a per-probe
			// O(build_nulls) comparison instead of going through the hash
			// table at all.
			if len(j.nullSideRows) >= maxNullAwareSideRows {
				return moerr.NewNullAwareAntiJoinOverflow("build", len(j.nullSideRows))
			}
			j.nullSideRows = append(j.nullSideRows, row)
			return nil
		}
		if !j.cfg.StoresNulls {
			return nil
		}
	}
	hash := j.buildCtx.HashRow(0, int(j.level))
	return j.insertBuildRow(row, hash)
}

func (j *EquiJoin) insertBuildRow(row exprctx.Row, hash uint32) error {
	pid := partitionIDFromHash(hash, j.cfg.NumPartitioningBits)
	p := j.partitions[pid]
	j.metrics.BuildRowsPartitioned.Add(1)

	if p.IsSpilled {
		return j.spoolBuildRow(p, row)
	}

	ok, err := p.HT.CheckAndResize(1)
	if err != nil && !moerr.IsRecoverable(err) {
		return err
	}
	if err != nil || !ok {
		if _, serr := j.spillPartition(j.partitions, j.drainBuildRowToSpool); serr != nil {
			return serr
		}
		if p.IsSpilled {
			return j.spoolBuildRow(p, row)
		}
		if ok, err = p.HT.CheckAndResize(1); err != nil {
			return err
		}
		if !ok {
			return moerr.NewMemoryLimitTooLow(j.tracker.Limit())
		}
	}

	cmp := &joinKeyComparator{keys: j.buildKeys, storedKeys: j.buildKeys, row: row, storesNulls: j.cfg.StoresNulls, findsNulls: j.cfg.FindsNulls, forceNullEquality: true}
	_, _, err = p.HT.Insert(hash, hashtable.TupleSlot{Tuple: row}, cmp)
	return err
}

func (j *EquiJoin) spoolBuildRow(p *Partition, row exprctx.Row) error {
	if p.BuildSpool == nil {
		p.BuildSpool = newSpool(p.Tracker, j.cfg.SpillDir)
	}
	_, _, err := p.BuildSpool.AddRow(j.cfg.Codec.Encode(row))
	return err
}

// drainBuildRowToSpool is the DrainFunc a spilling partition's resident
// build rows are routed through: each is re-encoded into BuildSpool
// before HT closes, so rows already inserted (including every row in a
// duplicate chain) survive the spill instead of being dropped (spec.md
// §8 property 2).
func (j *EquiJoin) drainBuildRowToSpool(p *Partition, slot hashtable.TupleSlot) error {
	return j.spoolBuildRow(p, slot.Tuple.(exprctx.Row))
}

// FinishBuild ends the build phase and begins the probe phase.
func (j *EquiJoin) FinishBuild() {
	j.phase = phaseProbe
}

// ProbeResults returns every JoinRow produced by probing row against the
// build side (a slice rather than one result, since inner/semi/outer joins
// may match a build-side duplicate chain many times).
func (j *EquiJoin) ProbeResults(row exprctx.Row) ([]JoinRow, error) {
	if j.phase != phaseProbe {
		return nil, moerr.NewUnsupported("ProbeResults called outside probe phase")
	}
	hasNull := j.probeCtx.EvalRow(row, 0)
	if j.op == NullAwareLeftAnti && !hasNull {
		// Same as ConsumeBuild: detect a NULL key whatever StoresNulls says.
		for i := range j.probeKeys {
			hasNull = hasNull || j.probeCtx.Cache().IsNull(0, i)
		}
	}
	if j.op == NullAwareLeftAnti && hasNull {
		// A NULL-keyed probe row can't be proven to not match anything
		// either, so it never appears in the anti-join output (spec.md §8
		// scenario (e)).
		return nil, nil
	}
	if hasNull {
		if !j.cfg.StoresNulls {
			return j.unmatchedProbeResult(row), nil
		}
	}
	if j.op == NullAwareLeftAnti {
		for _, br := range j.nullSideRows {
			if nullAwareRowsMatch(j.probeKeys, j.buildKeys, row, br) {
				// A NULL on the build side means "can't prove inequality",
				// which for NOT IN-style semantics suppresses the probe row
				// just as a real match would.
				return nil, nil
			}
		}
	}
	hash := j.probeCtx.HashRow(0, int(j.level))
	j.metrics.ProbeRowsPartitioned.Add(1)

	pid := partitionIDFromHash(hash, j.cfg.NumPartitioningBits)
	p := j.partitions[pid]

	if p.IsSpilled {
		return nil, j.spoolProbeRow(p, row)
	}

	return j.probeAgainstResident(p, row, hash), nil
}

// probeAgainstResident probes a resident partition's hash table with row
// and returns the JoinRows the op dictates. It's the shared match loop
// behind both top-level ProbeResults and repartition's probe-spool replay:
// both feed a row and its current-level hash into the same build-side
// hash table once the owning partition is known to be resident.
func (j *EquiJoin) probeAgainstResident(p *Partition, row exprctx.Row, hash uint32) []JoinRow {
	cmp := &joinKeyComparator{keys: j.probeKeys, storedKeys: j.buildKeys, row: row, storesNulls: j.cfg.StoresNulls, findsNulls: j.cfg.FindsNulls}
	it := p.HT.Probe(hash, cmp)
	if !it.Valid() {
		return j.unmatchedProbeResult(row)
	}

	var out []JoinRow
	for {
		it.SetMatched()
		if j.op.emitsProbeMatch() {
			out = append(out, JoinRow{ProbeRow: row, BuildRow: it.Slot().Tuple.(exprctx.Row)})
			if j.op == LeftSemi {
				break
			}
		}
		// RightSemi/LeftAnti/RightAnti/NullAwareLeftAnti: a probe match
		// means either nothing is emitted from the probe side (anti), or
		// the emission is deferred to the build-side matched walk
		// (RightSemi) — marking matched here is enough either way.
		if !it.Next() {
			break
		}
	}
	return out
}

func (j *EquiJoin) unmatchedProbeResult(row exprctx.Row) []JoinRow {
	if j.op.needsProbeUnmatched() {
		return []JoinRow{{ProbeRow: row}}
	}
	return nil
}

func (j *EquiJoin) spoolProbeRow(p *Partition, row exprctx.Row) error {
	if p.ProbeSpool == nil {
		p.ProbeSpool = newSpool(p.Tracker, j.cfg.SpillDir)
	}
	_, _, err := p.ProbeSpool.AddRow(j.cfg.Codec.Encode(row))
	return err
}

// FinishProbe ends the probe phase: every resident partition is ready for
// build-unmatched output (right outer/full outer/right anti), and every
// spilled partition recursively repartitions its spooled build+probe rows.
// The returned JoinRows are the probe-side matches and unmatched-probe
// emissions produced while replaying those repartitioned probe spools —
// repartitioning happens entirely inside FinishProbe, after the caller has
// already stopped feeding rows through ProbeResults, so this is the only
// place they can surface.
func (j *EquiJoin) FinishProbe() ([]JoinRow, error) {
	if j.phase != phaseProbe {
		return nil, moerr.NewUnsupported("FinishProbe called outside probe phase")
	}
	j.phase = phaseDone

	j.moveHashPartitions(j.partitions)
	j.partitions = nil

	var out []JoinRow
	for {
		sp := j.popSpilled()
		if sp == nil {
			break
		}
		rows, err := j.repartition(sp)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}

	j.outCur = &joinOutputCursor{partitions: j.doneQueue, op: j.op}
	return out, nil
}

func (j *EquiJoin) repartition(p *Partition) ([]JoinRow, error) {
	nextLevel := p.Level + 1
	if nextLevel > j.cfg.MaxPartitionDepth {
		return nil, moerr.NewMaxPartitionDepth(nextLevel, j.cfg.MaxPartitionDepth)
	}

	var beforeRows int64
	if p.BuildSpool != nil {
		beforeRows += int64(p.BuildSpool.RowCount())
	}
	if p.ProbeSpool != nil {
		beforeRows += int64(p.ProbeSpool.RowCount())
	}

	children, err := j.createPartitions(nextLevel, j.htCfg, false)
	if err != nil {
		return nil, err
	}
	j.metrics.NumRepartitions.Add(1)

	if beforeRows > 0 {
		// Pre-size every child for its expected share of the build rows
		// about to be redistributed, so the drain loop below isn't paying
		// for a CheckAndResize on most inserts.
		perChild := uint64(beforeRows)/uint64(len(children)) + 1
		if err := j.checkAndResizeAll(children, perChild, j.drainBuildRowToSpool); err != nil {
			return nil, err
		}
	}

	if p.BuildSpool != nil {
		p.BuildSpool.PrepareForRead()
		batch := make([][]byte, 256)
		for {
			n := p.BuildSpool.GetNext(batch)
			if n == 0 {
				break
			}
			for i := 0; i < n; i++ {
				row := j.cfg.Codec.Decode(batch[i])
				hasNull := j.buildCtx.EvalRow(row, 0)
				if hasNull && !j.cfg.StoresNulls {
					continue
				}
				hash := j.buildCtx.HashRow(0, int(nextLevel))
				cpid := partitionIDFromHash(hash, j.cfg.NumPartitioningBits)
				if err := j.insertBuildRowInto(children[cpid], row, hash); err != nil {
					return nil, err
				}
			}
		}
	}

	var afterRows int64
	for _, c := range children {
		if c.HT != nil {
			afterRows += int64(c.HT.NumFilled())
		}
	}

	var out []JoinRow
	if p.ProbeSpool != nil {
		// Probe rows replay after the build side has fully settled, so any
		// child that's still resident has a complete hash table to probe
		// against immediately — its matches (and unmatched-probe/anti
		// emissions) surface here instead of being dropped. A child that
		// itself spilled during the build drain above gets its probe rows
		// re-spooled instead; FinishProbe's popSpilled/repartition loop
		// will recurse into it the same way it recursed into p.
		p.ProbeSpool.PrepareForRead()
		batch := make([][]byte, 256)
		for {
			n := p.ProbeSpool.GetNext(batch)
			if n == 0 {
				break
			}
			for i := 0; i < n; i++ {
				row := j.cfg.Codec.Decode(batch[i])
				hasNull := j.probeCtx.EvalRow(row, 0)
				if hasNull && !j.cfg.StoresNulls {
					continue
				}
				hash := j.probeCtx.HashRow(0, int(nextLevel))
				cpid := partitionIDFromHash(hash, j.cfg.NumPartitioningBits)
				c := children[cpid]
				if c.IsSpilled {
					if c.ProbeSpool == nil {
						c.ProbeSpool = newSpool(c.Tracker, j.cfg.SpillDir)
					}
					if _, _, err := c.ProbeSpool.AddRow(batch[i]); err != nil {
						return nil, err
					}
					continue
				}
				out = append(out, j.probeAgainstResident(c, row, hash)...)
			}
		}
	}

	p.Close()

	if beforeRows > 0 && afterRows >= beforeRows {
		return nil, moerr.NewRepartitionIneffective(nextLevel, beforeRows, afterRows)
	}

	j.moveHashPartitions(children)
	return out, nil
}

func (j *EquiJoin) insertBuildRowInto(p *Partition, row exprctx.Row, hash uint32) error {
	if p.IsSpilled {
		return j.spoolBuildRow(p, row)
	}
	ok, err := p.HT.CheckAndResize(1)
	if err != nil && !moerr.IsRecoverable(err) {
		return err
	}
	if err != nil || !ok {
		if err := p.Spill(j.drainBuildRowToSpool); err != nil {
			return err
		}
		j.metrics.SpilledPartitions.Add(1)
		return j.spoolBuildRow(p, row)
	}
	cmp := &joinKeyComparator{keys: j.buildKeys, storedKeys: j.buildKeys, row: row, storesNulls: j.cfg.StoresNulls, findsNulls: j.cfg.FindsNulls, forceNullEquality: true}
	_, _, err = p.HT.Insert(hash, hashtable.TupleSlot{Tuple: row}, cmp)
	return err
}

// maxNullAwareSideRows bounds how many NULL-keyed build rows the
// null-aware left anti join will carry outside the hash table; each probe
// row pays a linear scan over this set (spec.md §4.4.b's O(build*probe)
// fallback, amortized per probe row rather than run as a separate pass).
const maxNullAwareSideRows = 1 << 20

// nullAwareRowsMatch treats a NULL in either side's key as a wildcard that
// matches anything, per SQL's NOT IN semantics (spec.md §4.4.b).
func nullAwareRowsMatch(probeKeys, buildKeys []exprctx.Expr, probeRow, buildRow exprctx.Row) bool {
	for i := range probeKeys {
		pv, pNull := probeKeys[i].Eval(probeRow)
		bv, bNull := buildKeys[i].Eval(buildRow)
		if pNull || bNull {
			continue
		}
		if probeKeys[i].Type().IsVarLen() {
			if !bytes.Equal(pv.Buf, bv.Buf) {
				return false
			}
			continue
		}
		switch probeKeys[i].Type().ID {
		case exprctx.Int64:
			if pv.I64 != bv.I64 {
				return false
			}
		case exprctx.Float64:
			if pv.F64 != bv.F64 {
				return false
			}
		case exprctx.Bool:
			if pv.B != bv.B {
				return false
			}
		}
	}
	return true
}

// joinOutputCursor walks the resident build-side partitions for
// build-unmatched output (right outer/full outer/right anti).
type joinOutputCursor struct {
	partitions []*Partition
	op         JoinOp
	pIdx       int
	it         hashtable.Iterator
	itValid    bool
}

// NextBuildUnmatched yields the next build row never matched by any probe
// row, or nil when exhausted. Only meaningful for ops with
// needsBuildUnmatched() (right outer/full outer/right anti); FinishProbe
// must be called first.
func (j *EquiJoin) NextBuildUnmatched() (exprctx.Row, error) {
	if !j.op.needsBuildUnmatched() {
		return nil, nil
	}
	return j.nextBuildSide(false)
}

// NextBuildMatched yields the next build row matched by at least one probe
// row, each exactly once, or nil when exhausted. Only meaningful for
// RightSemi; FinishProbe must be called first.
func (j *EquiJoin) NextBuildMatched() (exprctx.Row, error) {
	if !j.op.needsBuildMatched() {
		return nil, nil
	}
	return j.nextBuildSide(true)
}

func (j *EquiJoin) nextBuildSide(matched bool) (exprctx.Row, error) {
	if j.outCur == nil {
		return nil, moerr.NewUnsupported("build-side output requested before FinishProbe")
	}
	for {
		if !j.outCur.itValid {
			if j.outCur.pIdx >= len(j.outCur.partitions) {
				return nil, nil
			}
			p := j.outCur.partitions[j.outCur.pIdx]
			if p.HT == nil {
				j.outCur.pIdx++
				continue
			}
			if matched {
				j.outCur.it = p.HT.FirstMatched()
			} else {
				j.outCur.it = p.HT.FirstUnmatched()
			}
			j.outCur.itValid = true
			if !j.outCur.it.Valid() {
				j.outCur.itValid = false
				j.outCur.pIdx++
				continue
			}
			return j.outCur.it.Slot().Tuple.(exprctx.Row), nil
		}
		var advanced bool
		if matched {
			advanced = j.outCur.it.NextMatched()
		} else {
			advanced = j.outCur.it.NextUnmatched()
		}
		if advanced {
			return j.outCur.it.Slot().Tuple.(exprctx.Row), nil
		}
		j.outCur.itValid = false
		j.outCur.pIdx++
	}
}

// Close tears down every partition and the shared queues, idempotently.
func (j *EquiJoin) Close() {
	if j.closed {
		return
	}
	j.closed = true
	for _, p := range j.partitions {
		p.Close()
	}
	for _, p := range j.doneQueue {
		p.Close()
	}
	for _, p := range j.spillQueue {
		p.Close()
	}
}

// joinKeyComparator compares a live probe (or build) row against another
// live row already stored in the hash table (spec.md §4.3's
// KeyComparator), re-evaluating both sides' key expressions rather than
// going through the shared packed cache, since the stored side here is a
// real Row, not a cached batch of them. keys extracts c.row's columns;
// storedKeys extracts the stored row's columns — they differ whenever the
// join predicate isn't on matching column positions (a.x = b.y), so a
// probe-side comparator must evaluate the stored build row with
// buildKeys, not probeKeys.
type joinKeyComparator struct {
	keys              []exprctx.Expr
	storedKeys        []exprctx.Expr
	row               exprctx.Row
	storesNulls       bool
	findsNulls        []bool
	forceNullEquality bool
}

func (c *joinKeyComparator) Equals(stored hashtable.TupleSlot) bool {
	storedRow := stored.Tuple.(exprctx.Row)
	for i, k := range c.keys {
		pv, pNull := k.Eval(c.row)
		sv, sNull := c.storedKeys[i].Eval(storedRow)
		if pNull || sNull {
			if !c.storesNulls {
				return false
			}
			if pNull != sNull {
				return false
			}
			findsNull := c.forceNullEquality
			if !findsNull && i < len(c.findsNulls) {
				findsNull = c.findsNulls[i]
			}
			if !findsNull {
				return false
			}
			continue
		}
		if k.Type().IsVarLen() {
			if !bytes.Equal(pv.Buf, sv.Buf) {
				return false
			}
			continue
		}
		switch k.Type().ID {
		case exprctx.Int64:
			if pv.I64 != sv.I64 {
				return false
			}
		case exprctx.Float64:
			if pv.F64 != sv.F64 {
				return false
			}
		case exprctx.Bool:
			if pv.B != sv.B {
				return false
			}
		}
	}
	return true
}
