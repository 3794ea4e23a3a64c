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

package moerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsRecoverableOnlyForMemoryBudget(t *testing.T) {
	require.True(t, IsRecoverable(NewMemoryBudget(128)))
	require.False(t, IsRecoverable(NewMemoryLimitTooLow(128)))
	require.False(t, IsRecoverable(NewMaxPartitionDepth(3, 3)))
	require.False(t, IsRecoverable(errors.New("not an *Error at all")))
}

func TestWithDetailAppendsOperatorAndInvariant(t *testing.T) {
	base := NewBucketNotFound()
	require.Empty(t, base.Detail())

	withDetail := base.WithDetail("agg-basic", "find-or-insert")
	require.Equal(t, "operator=agg-basic invariant=find-or-insert", withDetail.Detail())
	require.Contains(t, withDetail.Error(), withDetail.Detail())

	// WithDetail must not mutate the receiver.
	require.Empty(t, base.Detail())
}

func TestChildErrorUnwraps(t *testing.T) {
	cause := errors.New("boom")
	wrapped := NewChildError(cause)
	require.Equal(t, cause, errors.Unwrap(wrapped))
	require.ErrorIs(t, wrapped, cause)
}

func TestCodeStringCoversEveryCode(t *testing.T) {
	codes := []Code{
		MemoryBudget, MemoryLimitTooLow, MaxPartitionDepth, RepartitionIneffective,
		Unsupported, ChildError, Cancelled, BucketNotFound, NullAwareAntiJoinOverflow,
	}
	for _, c := range codes {
		require.NotEqual(t, "Unknown", c.String(), "code %d missing from String()", c)
	}
	require.Equal(t, "Unknown", Code(0).String())
}
