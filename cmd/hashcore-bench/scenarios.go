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

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matrixorigin/hashcore/internal/exprctx"
	"github.com/matrixorigin/hashcore/pkg/hashcore"
)

func int64Key(ordinal int) hashcore.Expr {
	return exprctx.ColumnExpr{Ordinal: ordinal, Typ: exprctx.TypeDescriptor{ID: exprctx.Int64, FixedWidth: 8}}
}

func baseConfig(operatorID string) hashcore.Config {
	return hashcore.Config{
		OperatorID:          operatorID,
		NumPartitioningBits: 2,
		MaxPartitionDepth:   6,
		BatchSize:           1,
		InitialSeed:         0x9e3779b9,
		StoresNulls:         true,
		Codec:               exprctx.SliceCodec{},
		Metrics:             hashcore.NewMetrics(),
	}
}

func printSnapshot(label string, m hashcore.MetricsSnapshot) {
	fmt.Printf("%s metrics: partitions=%d spilled=%d repartitions=%d maxLevel=%d buildRows=%d probeRows=%d passedThrough=%d buckets=%d\n",
		label, m.PartitionsCreated, m.SpilledPartitions, m.NumRepartitions, m.MaxPartitionLevel,
		m.BuildRowsPartitioned, m.ProbeRowsPartitioned, m.RowsPassedThrough, m.HashBuckets)
}

func aggBasicCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "agg-basic",
		Short: "select k, sum(v) group by k over a handful of rows, no spill",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, args []string) error { return runAggBasic() },
	}
}

func runAggBasic() error {
	cfg := baseConfig("agg-basic")
	metrics := cfg.Metrics
	tracker := hashcore.NewTracker(0)
	defer tracker.Close()

	agg, err := hashcore.NewGroupAggregator(cfg, []hashcore.Expr{int64Key(0)}, []hashcore.AggFactory{hashcore.SumAgg(1)}, tracker)
	if err != nil {
		return err
	}
	defer agg.Close()

	rows := []exprctx.SliceRow{
		{int64(1), int64(10)},
		{int64(2), int64(20)},
		{int64(1), int64(5)},
		{int64(3), int64(7)},
		{int64(2), int64(3)},
	}
	for _, r := range rows {
		if _, err := agg.Consume(r); err != nil {
			return err
		}
	}
	if err := agg.Finished(); err != nil {
		return err
	}
	for {
		res, err := agg.Next()
		if err != nil {
			return err
		}
		if res == nil {
			break
		}
		fmt.Printf("k=%d sum=%d\n", res.Keys[0].I64, res.Aggs[0].I64)
	}
	printSnapshot("agg-basic", metrics.Snapshot())
	return nil
}

func aggSpillCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "agg-spill",
		Short: "same aggregation with 1e5 distinct keys and a budget sized for ~1e4",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, args []string) error { return runAggSpill() },
	}
}

func runAggSpill() error {
	const numKeys = 100_000
	cfg := baseConfig("agg-spill")
	metrics := cfg.Metrics
	// Sized to comfortably hold ~1e4 groups' hash-table and IntermediateTuple
	// footprint, forcing the rest to spill and repartition.
	tracker := hashcore.NewTracker(2 << 20)
	defer tracker.Close()

	agg, err := hashcore.NewGroupAggregator(cfg, []hashcore.Expr{int64Key(0)}, []hashcore.AggFactory{hashcore.SumAgg(1)}, tracker)
	if err != nil {
		return err
	}
	defer agg.Close()

	for i := 0; i < numKeys; i++ {
		if _, err := agg.Consume(exprctx.SliceRow{int64(i), int64(i)}); err != nil {
			return err
		}
	}
	if err := agg.Finished(); err != nil {
		return err
	}
	groups := 0
	for {
		res, err := agg.Next()
		if err != nil {
			return err
		}
		if res == nil {
			break
		}
		groups++
	}
	fmt.Printf("produced %d groups (expected %d)\n", groups, numKeys)
	printSnapshot("agg-spill", metrics.Snapshot())
	return nil
}

func joinInnerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "join-inner",
		Short: "inner join with a duplicate build-side key",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, args []string) error { return runJoinInner() },
	}
}

func runJoinInner() error {
	cfg := baseConfig("join-inner")
	metrics := cfg.Metrics
	tracker := hashcore.NewTracker(0)
	defer tracker.Close()

	j, err := hashcore.NewEquiJoin(cfg, hashcore.Inner, []hashcore.Expr{int64Key(0)}, []hashcore.Expr{int64Key(0)}, tracker)
	if err != nil {
		return err
	}
	defer j.Close()

	build := []exprctx.SliceRow{{int64(1), "a"}, {int64(1), "b"}, {int64(2), "c"}}
	for _, r := range build {
		if err := j.ConsumeBuild(r); err != nil {
			return err
		}
	}
	j.FinishBuild()

	probe := []exprctx.SliceRow{{int64(1), "x"}, {int64(3), "y"}}
	for _, r := range probe {
		out, err := j.ProbeResults(r)
		if err != nil {
			return err
		}
		for _, jr := range out {
			pv := jr.ProbeRow.Column(1)
			bv := jr.BuildRow.Column(1)
			fmt.Printf("probe=%v build=%v\n", pv, bv)
		}
	}
	replayed, err := j.FinishProbe()
	if err != nil {
		return err
	}
	for _, jr := range replayed {
		pv := jr.ProbeRow.Column(1)
		bv := jr.BuildRow.Column(1)
		fmt.Printf("probe=%v build=%v\n", pv, bv)
	}
	printSnapshot("join-inner", metrics.Snapshot())
	return nil
}

func joinLeftOuterCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "join-left-outer",
		Short: "left outer join where one probe row has no build match",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, args []string) error { return runJoinLeftOuter() },
	}
}

func runJoinLeftOuter() error {
	cfg := baseConfig("join-left-outer")
	metrics := cfg.Metrics
	tracker := hashcore.NewTracker(0)
	defer tracker.Close()

	j, err := hashcore.NewEquiJoin(cfg, hashcore.LeftOuter, []hashcore.Expr{int64Key(0)}, []hashcore.Expr{int64Key(0)}, tracker)
	if err != nil {
		return err
	}
	defer j.Close()

	if err := j.ConsumeBuild(exprctx.SliceRow{int64(1), "a"}); err != nil {
		return err
	}
	j.FinishBuild()

	probe := []exprctx.SliceRow{{int64(1), "x"}, {int64(2), "y"}}
	for _, r := range probe {
		out, err := j.ProbeResults(r)
		if err != nil {
			return err
		}
		for _, jr := range out {
			pv := jr.ProbeRow.Column(1)
			var bv any
			if jr.BuildRow != nil {
				bv = jr.BuildRow.Column(1)
			}
			fmt.Printf("probe=%v build=%v\n", pv, bv)
		}
	}
	replayed, err := j.FinishProbe()
	if err != nil {
		return err
	}
	for _, jr := range replayed {
		pv := jr.ProbeRow.Column(1)
		var bv any
		if jr.BuildRow != nil {
			bv = jr.BuildRow.Column(1)
		}
		fmt.Printf("probe=%v build=%v\n", pv, bv)
	}
	printSnapshot("join-left-outer", metrics.Snapshot())
	return nil
}

func joinNullAwareAntiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "join-null-aware-anti",
		Short: "NOT IN-style left anti join with a NULL-keyed probe row",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, args []string) error { return runJoinNullAwareAnti() },
	}
}

func runJoinNullAwareAnti() error {
	cfg := baseConfig("join-null-aware-anti")
	metrics := cfg.Metrics
	tracker := hashcore.NewTracker(0)
	defer tracker.Close()

	j, err := hashcore.NewEquiJoin(cfg, hashcore.NullAwareLeftAnti, []hashcore.Expr{int64Key(0)}, []hashcore.Expr{int64Key(0)}, tracker)
	if err != nil {
		return err
	}
	defer j.Close()

	build := []exprctx.SliceRow{{int64(1)}, {int64(2)}}
	for _, r := range build {
		if err := j.ConsumeBuild(r); err != nil {
			return err
		}
	}
	j.FinishBuild()

	probe := []exprctx.SliceRow{{int64(1)}, {int64(3)}, {nil}}
	for _, r := range probe {
		out, err := j.ProbeResults(r)
		if err != nil {
			return err
		}
		for _, jr := range out {
			fmt.Printf("probe=%v\n", jr.ProbeRow.Column(0))
		}
	}
	replayed, err := j.FinishProbe()
	if err != nil {
		return err
	}
	for _, jr := range replayed {
		fmt.Printf("probe=%v\n", jr.ProbeRow.Column(0))
	}
	printSnapshot("join-null-aware-anti", metrics.Snapshot())
	return nil
}

func streamingPassthroughCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "streaming-passthrough",
		Short: "streaming pre-aggregation over ~1e6 near-unique keys and a tiny cache budget",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, args []string) error { return runStreamingPassthrough() },
	}
}

func runStreamingPassthrough() error {
	const numRows = 1_000_000
	cfg := baseConfig("streaming-passthrough")
	cfg.StreamingPreAgg = true
	cfg.StreamingCacheBuckets = 4096 // bounded to ~1e3 resident groups
	cfg.ReductionFactorThreshold = 0.5
	streamMetrics := cfg.Metrics
	streamTracker := hashcore.NewTracker(0)
	defer streamTracker.Close()

	pre, err := hashcore.NewGroupAggregator(cfg, []hashcore.Expr{int64Key(0)}, []hashcore.AggFactory{hashcore.SumAgg(1)}, streamTracker)
	if err != nil {
		return err
	}
	defer pre.Close()

	// A second, plain GroupAggregator plays the downstream full-aggregation
	// node's role: every row the streaming front end can't reduce lands
	// here instead, so the combined output still aggregates every input row
	// exactly once (spec.md §8 scenario (f)).
	fullCfg := baseConfig("streaming-passthrough-downstream")
	fullTracker := hashcore.NewTracker(0)
	defer fullTracker.Close()
	full, err := hashcore.NewGroupAggregator(fullCfg, []hashcore.Expr{int64Key(0)}, []hashcore.AggFactory{hashcore.SumAgg(1)}, fullTracker)
	if err != nil {
		return err
	}
	defer full.Close()

	for i := 0; i < numRows; i++ {
		// Every row carries its own distinct key, so no two rows share a
		// group.
		k := int64(i)
		row := exprctx.SliceRow{k, int64(1)}
		passThrough, err := pre.Consume(row)
		if err != nil {
			return err
		}
		if passThrough != nil {
			if _, err := full.Consume(passThrough); err != nil {
				return err
			}
		}
	}
	if err := pre.Finished(); err != nil {
		return err
	}
	if err := full.Finished(); err != nil {
		return err
	}

	groups := 0
	for {
		res, err := pre.Next()
		if err != nil {
			return err
		}
		if res == nil {
			break
		}
		groups++
	}
	for {
		res, err := full.Next()
		if err != nil {
			return err
		}
		if res == nil {
			break
		}
		groups++
	}
	fmt.Printf("combined output groups=%d (expected %d)\n", groups, numRows)
	printSnapshot("streaming-passthrough (pre-agg)", streamMetrics.Snapshot())
	printSnapshot("streaming-passthrough (downstream)", fullCfg.Metrics.Snapshot())
	return nil
}
