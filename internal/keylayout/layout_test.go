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

package keylayout

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/hashcore/internal/exprctx"
)

func TestComputeAllFixedWidth(t *testing.T) {
	l := Compute([]exprctx.TypeDescriptor{
		{ID: exprctx.Int64, FixedWidth: 8},
		{ID: exprctx.Bool, FixedWidth: 1},
	})
	require.Equal(t, 9, l.FixedSize)
	require.Equal(t, []int{0, 8}, l.Offsets)
	require.Equal(t, -1, l.VarTailOffset)
	require.False(t, l.HasVarLen())
	require.Equal(t, 2, l.NumKeys())
}

func TestComputePutsVarLenHeadersAfterFixedKeys(t *testing.T) {
	l := Compute([]exprctx.TypeDescriptor{
		{ID: exprctx.Bytes},
		{ID: exprctx.Int64, FixedWidth: 8},
	})
	// Fixed key (index 1) is packed first regardless of declared order,
	// then the var-len header for index 0 follows.
	require.Equal(t, 0, l.Offsets[1])
	require.Equal(t, 8, l.VarTailOffset)
	require.Equal(t, 8, l.Offsets[0])
	require.Equal(t, 24, l.FixedSize) // 8 fixed + 16-byte {ptr,len} header
	require.True(t, l.HasVarLen())
}

func TestNewCacheCapacityBoundedByMaxCacheBytes(t *testing.T) {
	l := Compute([]exprctx.TypeDescriptor{{ID: exprctx.Int64, FixedWidth: 8}})
	c := NewCache(l, 1_000_000)
	require.LessOrEqual(t, c.Capacity(), MaxCacheBytes/8)
}

func TestNewCacheCapacityAtLeastOne(t *testing.T) {
	l := Compute([]exprctx.TypeDescriptor{{ID: exprctx.Bytes}})
	// A zero batch size should still leave room for at least one row.
	c := NewCache(l, 0)
	require.Equal(t, 1, c.Capacity())
}

func TestCacheWriteAndReadCursors(t *testing.T) {
	l := Compute([]exprctx.TypeDescriptor{{ID: exprctx.Int64, FixedWidth: 8}})
	c := NewCache(l, 4)
	require.Equal(t, 4, c.Capacity())

	c.BeginWrite()
	for row := 0; row < 3; row++ {
		c.SetHash(c.WriteCursor(), uint32(row))
		if row < 2 {
			require.True(t, c.Advance())
		}
	}
	c.EndWrite()
	require.Equal(t, 2, c.WriteCursor())

	c.ResetForRead()
	seen := 0
	for c.HasMore() {
		seen++
		if !c.AdvanceRead() {
			break
		}
	}
	require.Equal(t, 2, seen)
}

func TestCacheNullAndVarPayloadRoundTrip(t *testing.T) {
	l := Compute([]exprctx.TypeDescriptor{{ID: exprctx.Bytes}})
	c := NewCache(l, 4)

	c.SetNull(0, 0, true)
	require.True(t, c.IsNull(0, 0))

	c.SetVarPayload(1, 0, []byte("payload"))
	require.Equal(t, []byte("payload"), c.VarPayload(1, 0))
}
