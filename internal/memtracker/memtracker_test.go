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

package memtracker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTryConsumeRespectsLimit(t *testing.T) {
	tr := NewRoot(100)
	require.True(t, tr.TryConsume(60))
	require.True(t, tr.TryConsume(40))
	require.False(t, tr.TryConsume(1))
	require.Equal(t, int64(100), tr.Consumed())
}

func TestUnlimitedRootNeverFails(t *testing.T) {
	tr := NewRoot(0)
	require.True(t, tr.TryConsume(1<<40))
	require.False(t, tr.LimitExceeded())
}

func TestReleaseGivesBackBudget(t *testing.T) {
	tr := NewRoot(100)
	require.True(t, tr.TryConsume(100))
	require.False(t, tr.TryConsume(1))
	tr.Release(50)
	require.True(t, tr.TryConsume(50))
	require.Equal(t, int64(100), tr.Consumed())
}

func TestChildConsumptionPropagatesToParent(t *testing.T) {
	parent := NewRoot(100)
	child := parent.NewChild(0)

	require.True(t, child.TryConsume(80))
	require.Equal(t, int64(80), parent.Consumed())

	// Parent's own limit still gates the child.
	require.False(t, child.TryConsume(30))
	require.Equal(t, int64(80), parent.Consumed(), "failed child consume must not leave a partial reservation on the parent")
}

func TestChildFailureUnwindsPartialParentReservation(t *testing.T) {
	parent := NewRoot(50)
	child := parent.NewChild(1000) // child's own limit is generous; parent's is the binding one

	require.True(t, parent.TryConsume(50))
	require.False(t, child.TryConsume(1))
	require.Equal(t, int64(50), parent.Consumed())
	require.Equal(t, int64(0), child.Consumed())
}

func TestCloseReleasesEverythingIdempotently(t *testing.T) {
	parent := NewRoot(100)
	child := parent.NewChild(0)
	require.True(t, child.TryConsume(40))
	require.Equal(t, int64(40), parent.Consumed())

	child.Close()
	require.Equal(t, int64(0), parent.Consumed())
	require.Equal(t, int64(0), child.Consumed())

	child.Close() // idempotent
	require.Equal(t, int64(0), parent.Consumed())
}

func TestLimitExceededIsLocalOnly(t *testing.T) {
	tr := NewRoot(-1) // treated as unlimited, same as 0, per tryConsumeLocal
	require.True(t, tr.TryConsume(1))
	require.False(t, tr.LimitExceeded())

	tr2 := NewRoot(10)
	require.True(t, tr2.TryConsume(10))
	require.False(t, tr2.LimitExceeded())
}
