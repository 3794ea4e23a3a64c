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

package hashcore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/hashcore/internal/exprctx"
)

func int64Key(ordinal int) Expr {
	return exprctx.ColumnExpr{Ordinal: ordinal, Typ: exprctx.TypeDescriptor{ID: exprctx.Int64, FixedWidth: 8}}
}

func baseConfig(operatorID string) Config {
	return Config{
		OperatorID:          operatorID,
		NumPartitioningBits: 2,
		MaxPartitionDepth:   6,
		BatchSize:           1,
		InitialSeed:         0x9e3779b9,
		StoresNulls:         true,
		Codec:               exprctx.SliceCodec{},
		Metrics:             NewMetrics(),
	}
}

// TestGroupAggregatorBasic covers a handful of rows that never spill: plain
// group-by-sum over three distinct keys.
func TestGroupAggregatorBasic(t *testing.T) {
	cfg := baseConfig("agg-basic")
	tracker := NewTracker(0)
	defer tracker.Close()

	agg, err := NewGroupAggregator(cfg, []Expr{int64Key(0)}, []AggFactory{SumAgg(1)}, tracker)
	require.NoError(t, err)
	defer agg.Close()

	rows := []exprctx.SliceRow{
		{int64(1), int64(10)},
		{int64(2), int64(20)},
		{int64(1), int64(5)},
		{int64(3), int64(7)},
		{int64(2), int64(3)},
	}
	for _, r := range rows {
		passThrough, err := agg.Consume(r)
		require.NoError(t, err)
		require.Nil(t, passThrough)
	}
	require.NoError(t, agg.Finished())

	sums := map[int64]int64{}
	for {
		res, err := agg.Next()
		require.NoError(t, err)
		if res == nil {
			break
		}
		sums[res.Keys[0].I64] = res.Aggs[0].I64
	}
	require.Equal(t, map[int64]int64{1: 15, 2: 23, 3: 7}, sums)

	snap := cfg.Metrics.Snapshot()
	require.Zero(t, snap.SpilledPartitions)
}

// TestGroupAggregatorSpills drives enough distinct keys through a tight
// memory budget to force at least one partition to spill and be
// recursively repartitioned, and checks every key still shows up exactly
// once in the final output (spec.md §8 scenario (b)).
func TestGroupAggregatorSpills(t *testing.T) {
	const numKeys = 20_000
	cfg := baseConfig("agg-spill")
	tracker := NewTracker(512 * 1024)
	defer tracker.Close()

	agg, err := NewGroupAggregator(cfg, []Expr{int64Key(0)}, []AggFactory{SumAgg(1)}, tracker)
	require.NoError(t, err)
	defer agg.Close()

	for i := 0; i < numKeys; i++ {
		passThrough, err := agg.Consume(exprctx.SliceRow{int64(i), int64(1)})
		require.NoError(t, err)
		require.Nil(t, passThrough)
	}
	require.NoError(t, agg.Finished())

	seen := map[int64]bool{}
	for {
		res, err := agg.Next()
		require.NoError(t, err)
		if res == nil {
			break
		}
		k := res.Keys[0].I64
		require.False(t, seen[k], "key %d produced twice", k)
		seen[k] = true
		require.Equal(t, int64(1), res.Aggs[0].I64)
	}
	require.Len(t, seen, numKeys)

	snap := cfg.Metrics.Snapshot()
	require.Greater(t, snap.SpilledPartitions, int64(0), "expected at least one spilled partition")
}

// TestEquiJoinInnerDuplicateBuildKey covers the duplicate build-side
// chain (spec.md §8 scenario (c)): two build rows share key 1, so a probe
// row with key 1 must join against both.
func TestEquiJoinInnerDuplicateBuildKey(t *testing.T) {
	cfg := baseConfig("join-inner")
	tracker := NewTracker(0)
	defer tracker.Close()

	j, err := NewEquiJoin(cfg, Inner, []Expr{int64Key(0)}, []Expr{int64Key(0)}, tracker)
	require.NoError(t, err)
	defer j.Close()

	build := []exprctx.SliceRow{{int64(1), "a"}, {int64(1), "b"}, {int64(2), "c"}}
	for _, r := range build {
		require.NoError(t, j.ConsumeBuild(r))
	}
	j.FinishBuild()

	out, err := j.ProbeResults(exprctx.SliceRow{int64(1), "x"})
	require.NoError(t, err)
	var got []string
	for _, jr := range out {
		got = append(got, jr.BuildRow.Column(1).(string))
	}
	require.ElementsMatch(t, []string{"a", "b"}, got)

	out, err = j.ProbeResults(exprctx.SliceRow{int64(3), "y"})
	require.NoError(t, err)
	require.Empty(t, out)

	replayed, err := j.FinishProbe()
	require.NoError(t, err)
	require.Empty(t, replayed, "nothing spilled, so FinishProbe has no probe rows to replay")
}

// TestEquiJoinInnerDifferentJoinColumns covers a join predicate on
// non-matching column positions (a.x = b.y): the build key comes from
// column 0 while the probe key comes from column 1, so a comparator that
// evaluated both sides with the same expression would compare the wrong
// column of the stored build row and miss every match.
func TestEquiJoinInnerDifferentJoinColumns(t *testing.T) {
	cfg := baseConfig("join-inner-different-columns")
	tracker := NewTracker(0)
	defer tracker.Close()

	j, err := NewEquiJoin(cfg, Inner, []Expr{int64Key(0)}, []Expr{int64Key(1)}, tracker)
	require.NoError(t, err)
	defer j.Close()

	build := []exprctx.SliceRow{{int64(1), "build-a"}, {int64(2), "build-b"}}
	for _, r := range build {
		require.NoError(t, j.ConsumeBuild(r))
	}
	j.FinishBuild()

	out, err := j.ProbeResults(exprctx.SliceRow{"probe-x", int64(1)})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "build-a", out[0].BuildRow.Column(1))

	out, err = j.ProbeResults(exprctx.SliceRow{"probe-y", int64(2)})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "build-b", out[0].BuildRow.Column(1))

	replayed, err := j.FinishProbe()
	require.NoError(t, err)
	require.Empty(t, replayed)
}

// TestEquiJoinInnerSpillsAndReplaysProbeMatches drives enough distinct
// build keys through a tight memory budget to force at least one
// partition to spill during the build phase, then probes every key and
// checks each still produces exactly one match — whether the match came
// back directly from ProbeResults (partition still resident at probe
// time) or from FinishProbe's replay of a spilled partition's probe
// spool against its repartitioned children.
func TestEquiJoinInnerSpillsAndReplaysProbeMatches(t *testing.T) {
	const numKeys = 20_000
	cfg := baseConfig("join-inner-spill")
	tracker := NewTracker(512 * 1024)
	defer tracker.Close()

	j, err := NewEquiJoin(cfg, Inner, []Expr{int64Key(0)}, []Expr{int64Key(0)}, tracker)
	require.NoError(t, err)
	defer j.Close()

	for i := 0; i < numKeys; i++ {
		require.NoError(t, j.ConsumeBuild(exprctx.SliceRow{int64(i), int64(i)}))
	}
	j.FinishBuild()

	matched := map[int64]int{}
	for i := 0; i < numKeys; i++ {
		out, err := j.ProbeResults(exprctx.SliceRow{int64(i)})
		require.NoError(t, err)
		for _, jr := range out {
			matched[jr.BuildRow.Column(1).(int64)]++
		}
	}

	replayed, err := j.FinishProbe()
	require.NoError(t, err)
	for _, jr := range replayed {
		matched[jr.BuildRow.Column(1).(int64)]++
	}

	snap := cfg.Metrics.Snapshot()
	require.Greater(t, snap.SpilledPartitions, int64(0), "expected at least one spilled partition")

	for i := 0; i < numKeys; i++ {
		require.Equal(t, 1, matched[int64(i)], "key %d must match exactly once", i)
	}
	require.Len(t, matched, numKeys)
}

// TestEquiJoinLeftOuterUnmatchedProbeRow covers spec.md §8 scenario (d): a
// probe row with no build match still emits one row, with a nil BuildRow.
func TestEquiJoinLeftOuterUnmatchedProbeRow(t *testing.T) {
	cfg := baseConfig("join-left-outer")
	tracker := NewTracker(0)
	defer tracker.Close()

	j, err := NewEquiJoin(cfg, LeftOuter, []Expr{int64Key(0)}, []Expr{int64Key(0)}, tracker)
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.ConsumeBuild(exprctx.SliceRow{int64(1), "a"}))
	j.FinishBuild()

	out, err := j.ProbeResults(exprctx.SliceRow{int64(1), "x"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].BuildRow)
	require.Equal(t, "a", out[0].BuildRow.Column(1))

	out, err = j.ProbeResults(exprctx.SliceRow{int64(2), "y"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Nil(t, out[0].BuildRow)
	require.Equal(t, "y", out[0].ProbeRow.Column(1))

	replayed, err := j.FinishProbe()
	require.NoError(t, err)
	require.Empty(t, replayed, "nothing spilled, so FinishProbe has no probe rows to replay")
}

// TestEquiJoinNullAwareLeftAnti covers spec.md §8 scenario (e): a NULL
// probe key must never appear in the anti-join output (SQL NOT IN
// semantics), while a genuinely absent non-null key does.
func TestEquiJoinNullAwareLeftAnti(t *testing.T) {
	cfg := baseConfig("join-null-aware-anti")
	tracker := NewTracker(0)
	defer tracker.Close()

	j, err := NewEquiJoin(cfg, NullAwareLeftAnti, []Expr{int64Key(0)}, []Expr{int64Key(0)}, tracker)
	require.NoError(t, err)
	defer j.Close()

	build := []exprctx.SliceRow{{int64(1)}, {int64(2)}}
	for _, r := range build {
		require.NoError(t, j.ConsumeBuild(r))
	}
	j.FinishBuild()

	var emitted []int64
	for _, r := range []exprctx.SliceRow{{int64(1)}, {int64(3)}, {nil}} {
		out, err := j.ProbeResults(r)
		require.NoError(t, err)
		for _, jr := range out {
			emitted = append(emitted, jr.ProbeRow.Column(0).(int64))
		}
	}
	replayed, err := j.FinishProbe()
	require.NoError(t, err)
	for _, jr := range replayed {
		emitted = append(emitted, jr.ProbeRow.Column(0).(int64))
	}
	require.Equal(t, []int64{3}, emitted)
}

// TestStreamingPreAggPassesThroughWithoutSpilling covers spec.md §8
// scenario (f): a streaming-mode GroupAggregator never creates partitions
// and never spills, handing back rows it can't absorb for the caller to
// feed into a separate downstream aggregator; the combined output still
// aggregates every input row exactly once.
func TestStreamingPreAggPassesThroughWithoutSpilling(t *testing.T) {
	const numRows = 5000
	cfg := baseConfig("streaming-pre-agg")
	cfg.StreamingPreAgg = true
	cfg.StreamingCacheBuckets = 64
	cfg.ReductionFactorThreshold = 0.5
	streamTracker := NewTracker(0)
	defer streamTracker.Close()

	pre, err := NewGroupAggregator(cfg, []Expr{int64Key(0)}, []AggFactory{SumAgg(1)}, streamTracker)
	require.NoError(t, err)
	defer pre.Close()

	fullCfg := baseConfig("streaming-pre-agg-downstream")
	fullTracker := NewTracker(0)
	defer fullTracker.Close()
	full, err := NewGroupAggregator(fullCfg, []Expr{int64Key(0)}, []AggFactory{SumAgg(1)}, fullTracker)
	require.NoError(t, err)
	defer full.Close()

	for i := 0; i < numRows; i++ {
		row := exprctx.SliceRow{int64(i), int64(1)}
		passThrough, err := pre.Consume(row)
		require.NoError(t, err)
		if passThrough != nil {
			_, err := full.Consume(passThrough)
			require.NoError(t, err)
		}
	}
	require.NoError(t, pre.Finished())
	require.NoError(t, full.Finished())

	total := 0
	for _, agg := range []*GroupAggregator{pre, full} {
		for {
			res, err := agg.Next()
			require.NoError(t, err)
			if res == nil {
				break
			}
			total++
		}
	}
	require.Equal(t, numRows, total)

	snap := cfg.Metrics.Snapshot()
	require.Zero(t, snap.SpilledPartitions, "streaming pre-agg must never spill")
}
