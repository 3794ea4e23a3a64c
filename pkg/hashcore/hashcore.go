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

// Package hashcore is the public entry point to the hybrid-hash
// aggregation and equi-join core: GroupAggregator and EquiJoin, built on
// top of the partitioning and spill machinery in internal/partition.
package hashcore

import (
	"go.uber.org/zap"

	"github.com/matrixorigin/hashcore/internal/exprctx"
	"github.com/matrixorigin/hashcore/internal/memtracker"
	"github.com/matrixorigin/hashcore/internal/obs"
	"github.com/matrixorigin/hashcore/internal/partition"
)

// Re-exported so callers never need to import the internal packages
// directly.
type (
	Config         = partition.Config
	JoinOp         = partition.JoinOp
	JoinRow        = partition.JoinRow
	Result         = partition.Result
	AggState       = partition.AggState
	AggFactory     = partition.AggFactory
	GroupAggregator = partition.GroupAggregator
	EquiJoin       = partition.EquiJoin
	Row            = exprctx.Row
	Value          = exprctx.Value
	Expr           = exprctx.Expr
	Codec          = exprctx.Codec
)

const (
	Inner             = partition.Inner
	LeftOuter         = partition.LeftOuter
	RightOuter        = partition.RightOuter
	FullOuter         = partition.FullOuter
	LeftSemi          = partition.LeftSemi
	RightSemi         = partition.RightSemi
	LeftAnti          = partition.LeftAnti
	RightAnti         = partition.RightAnti
	NullAwareLeftAnti = partition.NullAwareLeftAnti
)

// NewTracker builds a root memory budget tracker; limitBytes of 0 means
// unlimited (spec.md §5).
func NewTracker(limitBytes int64) *memtracker.Tracker {
	return memtracker.NewRoot(limitBytes)
}

// NewLogger wraps a caller-supplied zap.Logger for the obs package's
// stable per-operator field convention; pass nil for a no-op sink.
func NewLogger(base *zap.Logger, operatorID string) *zap.Logger {
	if base == nil {
		return obs.NewNop()
	}
	return obs.Operator(base, operatorID)
}

// NewMetrics allocates a fresh counter set for one operator instance.
func NewMetrics() *obs.Metrics { return &obs.Metrics{} }

type MetricsSnapshot = obs.Snapshot

// NewGroupAggregator builds a GroupAggregator over keys, computing one
// AggState per factory in aggs for every distinct key combination.
func NewGroupAggregator(cfg Config, keys []Expr, aggs []AggFactory, tracker *memtracker.Tracker) (*GroupAggregator, error) {
	return partition.NewGroupAggregator(cfg, keys, aggs, tracker)
}

// SumAgg/CountAgg re-export the two reference aggregate functions that ship
// with this module; production callers typically supply their own
// AggFactory implementations instead.
func SumAgg(col int) AggFactory   { return partition.NewSumAgg(col) }
func CountAgg(col int) AggFactory { return partition.NewCountAgg(col) }

// NewEquiJoin builds an EquiJoin of the given op over buildKeys/probeKeys.
func NewEquiJoin(cfg Config, op JoinOp, buildKeys, probeKeys []Expr, tracker *memtracker.Tracker) (*EquiJoin, error) {
	return partition.NewEquiJoin(cfg, op, buildKeys, probeKeys, tracker)
}
