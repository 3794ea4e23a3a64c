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

package obs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnapshotCopiesCounters(t *testing.T) {
	m := &Metrics{}
	m.HashBuckets.Add(4)
	m.PartitionsCreated.Add(4)
	m.SpilledPartitions.Add(1)
	m.RowsPassedThrough.Add(10)

	snap := m.Snapshot()
	require.Equal(t, int64(4), snap.HashBuckets)
	require.Equal(t, int64(4), snap.PartitionsCreated)
	require.Equal(t, int64(1), snap.SpilledPartitions)
	require.Equal(t, int64(10), snap.RowsPassedThrough)

	// Mutating the live counters afterwards must not retroactively change
	// an already-taken snapshot.
	m.SpilledPartitions.Add(1)
	require.Equal(t, int64(1), snap.SpilledPartitions)
}

func TestSetMaxLevelIsMonotone(t *testing.T) {
	m := &Metrics{}
	m.SetMaxLevel(3)
	m.SetMaxLevel(1)
	m.SetMaxLevel(5)
	m.SetMaxLevel(4)
	require.Equal(t, int64(5), m.MaxPartitionLevel.Load())
}

func TestPercentAndFactorScalingRoundTrip(t *testing.T) {
	m := &Metrics{}
	m.SetLargestPartitionPercent(87.5)
	m.SetReductionFactorEstimate(0.125)
	m.SetReductionFactorThreshold(0.5)

	snap := m.Snapshot()
	require.InDelta(t, 87.5, snap.LargestPartitionPercent, 0.01)
	require.InDelta(t, 0.125, snap.ReductionFactorEstimate, 0.001)
	require.InDelta(t, 0.5, snap.ReductionFactorThresholdToExpand, 0.001)
}

func TestOperatorLoggerDoesNotPanicOnNilBase(t *testing.T) {
	require.NotPanics(t, func() {
		_ = Operator(nil, "agg-basic")
	})
}
