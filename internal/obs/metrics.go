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

// Package obs carries the ambient logging and metrics stack shared by every
// component of the core: a zap sink and the stable counter set from
// spec.md §6.
package obs

import "sync/atomic"

// Metrics is the stable counter set emitted by a PartitionedOperator and by
// the HashTable instances it owns. Names match spec.md §6 exactly.
type Metrics struct {
	HashBuckets                     atomic.Int64
	PartitionsCreated                atomic.Int64
	MaxPartitionLevel                atomic.Int64
	SpilledPartitions                atomic.Int64
	BuildRowsPartitioned              atomic.Int64
	ProbeRowsPartitioned              atomic.Int64
	NumRepartitions                   atomic.Int64
	LargestPartitionPercent           atomic.Int64 // stored as integer percent *100
	HashCollisions                    atomic.Int64
	ReductionFactorEstimate           atomic.Int64 // stored as integer *1000
	ReductionFactorThresholdToExpand  atomic.Int64 // stored as integer *1000
	RowsPassedThrough                 atomic.Int64
}

// Snapshot is a point-in-time copy for logging / tests.
type Snapshot struct {
	HashBuckets                    int64
	PartitionsCreated               int64
	MaxPartitionLevel               int64
	SpilledPartitions               int64
	BuildRowsPartitioned             int64
	ProbeRowsPartitioned             int64
	NumRepartitions                  int64
	LargestPartitionPercent          float64
	HashCollisions                   int64
	ReductionFactorEstimate          float64
	ReductionFactorThresholdToExpand float64
	RowsPassedThrough                int64
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		HashBuckets:                      m.HashBuckets.Load(),
		PartitionsCreated:                 m.PartitionsCreated.Load(),
		MaxPartitionLevel:                 m.MaxPartitionLevel.Load(),
		SpilledPartitions:                 m.SpilledPartitions.Load(),
		BuildRowsPartitioned:               m.BuildRowsPartitioned.Load(),
		ProbeRowsPartitioned:               m.ProbeRowsPartitioned.Load(),
		NumRepartitions:                    m.NumRepartitions.Load(),
		LargestPartitionPercent:            float64(m.LargestPartitionPercent.Load()) / 100,
		HashCollisions:                     m.HashCollisions.Load(),
		ReductionFactorEstimate:            float64(m.ReductionFactorEstimate.Load()) / 1000,
		ReductionFactorThresholdToExpand:   float64(m.ReductionFactorThresholdToExpand.Load()) / 1000,
		RowsPassedThrough:                  m.RowsPassedThrough.Load(),
	}
}

func (m *Metrics) SetMaxLevel(level int64) {
	for {
		cur := m.MaxPartitionLevel.Load()
		if level <= cur {
			return
		}
		if m.MaxPartitionLevel.CompareAndSwap(cur, level) {
			return
		}
	}
}

func (m *Metrics) SetLargestPartitionPercent(pct float64) {
	m.LargestPartitionPercent.Store(int64(pct * 100))
}

func (m *Metrics) SetReductionFactorEstimate(r float64) {
	m.ReductionFactorEstimate.Store(int64(r * 1000))
}

func (m *Metrics) SetReductionFactorThreshold(r float64) {
	m.ReductionFactorThresholdToExpand.Store(int64(r * 1000))
}
