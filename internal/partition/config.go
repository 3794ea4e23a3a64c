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

// Package partition implements the hybrid-hash partitioning and spill
// algorithm shared by GroupAggregator and EquiJoin (spec.md §4.4), on top
// of internal/hashtable, internal/hashctx, and internal/rowspool.
package partition

import (
	"go.uber.org/zap"

	"github.com/matrixorigin/hashcore/internal/exprctx"
	"github.com/matrixorigin/hashcore/internal/hashtable"
	"github.com/matrixorigin/hashcore/internal/obs"
)

// Config is the immutable, caller-built configuration for one
// PartitionedOperator instance (spec.md §9: no process-global tunables).
type Config struct {
	OperatorID string

	NumPartitioningBits uint32 // FANOUT = 1 << NumPartitioningBits
	MaxPartitionDepth   uint32
	BatchSize           int
	InitialSeed         uint32
	QuadraticProbing    bool
	MaxBucketsPerTable  uint64 // 0 = unlimited
	SpillDir            string

	StoresNulls bool
	FindsNulls  []bool

	// Codec round-trips a Row through a spilled RowSpool.
	Codec exprctx.Codec

	// Aggregator-only.
	StreamingPreAgg bool
	NeedsFinalize   bool
	NeedsSerialize  bool
	// StreamingCacheBuckets bounds the streaming pre-aggregation hash
	// table's bucket count; 0 means use the default (spec.md §4.4.a).
	StreamingCacheBuckets uint64
	// ReductionFactorThreshold gates whether streaming pre-aggregation
	// keeps expanding its hash table for a new key or passes the row
	// through unaggregated; 0 means use the default.
	ReductionFactorThreshold float64

	Logger  *zap.Logger
	Metrics *obs.Metrics
}

func (c Config) Fanout() uint32 {
	return uint32(1) << c.NumPartitioningBits
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return obs.NewNop()
	}
	return obs.Operator(c.Logger, c.OperatorID)
}

func (c Config) metrics() *obs.Metrics {
	if c.Metrics == nil {
		return &obs.Metrics{}
	}
	return c.Metrics
}

// partitionIDFromHash extracts the top NumPartitioningBits of hash as the
// partition id, leaving the remaining bits for intra-partition bucket
// indexing (spec.md §4.4).
func partitionIDFromHash(hash uint32, bits uint32) uint32 {
	if bits == 0 {
		return 0
	}
	return hash >> (32 - bits)
}

func htConfig(cfg Config, storesDuplicates, storesTuples bool) hashtable.Config {
	scheme := hashtable.Linear
	if cfg.QuadraticProbing {
		scheme = hashtable.Quadratic
	}
	return hashtable.Config{
		StoresDuplicates: storesDuplicates,
		StoresTuples:     storesTuples,
		Probing:          scheme,
		MaxBuckets:       cfg.MaxBucketsPerTable,
	}
}
