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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/hashcore/internal/exprctx"
)

func TestSumAggIgnoresNullInputs(t *testing.T) {
	a := NewSumAgg(0)()
	a.Update(exprctx.SliceRow{int64(3)})
	a.Update(exprctx.SliceRow{nil})
	a.Update(exprctx.SliceRow{int64(4)})
	require.Equal(t, int64(7), a.Finalize().I64)
}

func TestSumAggOfAllNullsIsNullNotZero(t *testing.T) {
	a := NewSumAgg(0)()
	a.Update(exprctx.SliceRow{nil})
	require.Equal(t, exprctx.Value{}, a.Finalize())
}

func TestSumAggSerializeDeserializeRoundTrip(t *testing.T) {
	a := NewSumAgg(0)().(*SumAgg)
	a.Update(exprctx.SliceRow{int64(41)})
	a.Update(exprctx.SliceRow{int64(1)})

	b := NewSumAgg(0)().(*SumAgg)
	b.Deserialize(a.Serialize())
	require.Equal(t, a.Finalize(), b.Finalize())
}

func TestCountAggStarCountsAllRowsIncludingNull(t *testing.T) {
	a := NewCountAgg(-1)()
	a.Update(exprctx.SliceRow{nil})
	a.Update(exprctx.SliceRow{int64(1)})
	require.Equal(t, int64(2), a.Finalize().I64)
}

func TestCountAggColumnSkipsNull(t *testing.T) {
	a := NewCountAgg(0)()
	a.Update(exprctx.SliceRow{nil})
	a.Update(exprctx.SliceRow{int64(1)})
	a.Update(exprctx.SliceRow{int64(2)})
	require.Equal(t, int64(2), a.Finalize().I64)
}

func TestCountAggSerializeDeserializeRoundTrip(t *testing.T) {
	a := NewCountAgg(0)().(*CountAgg)
	a.Update(exprctx.SliceRow{int64(1)})
	a.Update(exprctx.SliceRow{int64(1)})

	b := NewCountAgg(0)().(*CountAgg)
	b.Deserialize(a.Serialize())
	require.Equal(t, a.Finalize(), b.Finalize())
}

func TestAggCloneStartsFromZero(t *testing.T) {
	a := NewSumAgg(0)().(*SumAgg)
	a.Update(exprctx.SliceRow{int64(100)})

	clone := a.Clone()
	require.Equal(t, exprctx.Value{}, clone.Finalize(), "a cloned AggState must start unpopulated, not copy the source's accumulated value")
}
