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

package rowspool

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/hashcore/internal/memtracker"
)

func TestAddRowAndRowAtRoundTrip(t *testing.T) {
	s := New(nil, "")
	defer s.Close()

	ok, _, err := s.AddRow([]byte("hello"))
	require.NoError(t, err)
	require.True(t, ok)

	blockID, offset := s.LastAddr()
	require.Equal(t, []byte("hello"), s.RowAt(blockID, offset))
	require.Equal(t, 1, s.RowCount())
}

func TestAddRowFailsWhenTrackerBudgetExhausted(t *testing.T) {
	tracker := memtracker.NewRoot(4)
	defer tracker.Close()
	s := New(tracker, "")
	defer s.Close()

	ok, _, err := s.AddRow([]byte("x"))
	require.NoError(t, err)
	require.True(t, ok)

	_, _, err = s.AddRow([]byte("this row is too big for the remaining budget"))
	require.Error(t, err)
}

func TestSpillAndReloadPreservesRows(t *testing.T) {
	s := New(nil, t.TempDir())
	defer s.Close()

	var rows [][]byte
	for i := 0; i < 10; i++ {
		rows = append(rows, []byte(fmt.Sprintf("row-%d", i)))
	}
	for _, r := range rows {
		_, _, err := s.AddRow(r)
		require.NoError(t, err)
	}

	// New blocks start pinned, and Spill skips pinned blocks.
	s.Unpin(true)
	require.NoError(t, s.Spill(0))

	s.PrepareForRead()
	batch := make([][]byte, len(rows))
	n := s.GetNext(batch)
	require.Equal(t, len(rows), n)
	for i, r := range rows {
		require.Equal(t, r, batch[i])
	}
}

func TestSpillIsANoOpWhilePinned(t *testing.T) {
	s := New(nil, t.TempDir())
	defer s.Close()

	_, _, err := s.AddRow([]byte("pinned-row"))
	require.NoError(t, err)

	s.Pin(true)
	require.NoError(t, s.Spill(0))

	// The block must still be readable in-memory since Spill no-ops on a
	// pinned block rather than writing it to disk.
	s.PrepareForRead()
	batch := make([][]byte, 1)
	n := s.GetNext(batch)
	require.Equal(t, 1, n)
	require.Equal(t, []byte("pinned-row"), batch[0])

	s.Unpin(true)
}

func TestNewBlockSwitchesToLargeAfterTwoBlocks(t *testing.T) {
	s := New(nil, "")
	defer s.Close()

	for i := 0; i < smallBlockRows+1; i++ {
		_, _, err := s.AddRow([]byte("r"))
		require.NoError(t, err)
	}
	require.False(t, s.usingLarge, "second block must still be small-sized")

	for i := 0; i < smallBlockRows+1; i++ {
		_, _, err := s.AddRow([]byte("r"))
		require.NoError(t, err)
	}
	require.True(t, s.usingLarge, "a third block should switch to the large buffer size")
}
