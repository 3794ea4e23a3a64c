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

// Package memtracker implements the per-operator memory budget gate that
// every hash-table, data-page, and spool-buffer acquisition in the core
// goes through (spec.md §5, §6). A failed TryConsume never panics; it
// signals the caller to take the spill path.
package memtracker

import "sync/atomic"

// Tracker is a hierarchical memory budget. A query fragment owns one root
// tracker; each PartitionedOperator instance owns a child; each partition
// may own a grandchild. Consuming against a child also consumes against
// every ancestor, and release walks back up the same way.
type Tracker struct {
	parent    *Tracker
	limit     int64 // 0 means unlimited
	consumed  atomic.Int64
}

func NewRoot(limitBytes int64) *Tracker {
	return &Tracker{limit: limitBytes}
}

func (t *Tracker) NewChild(limitBytes int64) *Tracker {
	return &Tracker{parent: t, limit: limitBytes}
}

// TryConsume attempts to reserve n bytes against this tracker and every
// ancestor. On failure it unwinds any partial reservation already made on
// ancestors before returning false, so a failed TryConsume is always a
// no-op as observed from outside.
func (t *Tracker) TryConsume(n int64) bool {
	if n <= 0 {
		return true
	}
	if !t.tryConsumeLocal(n) {
		return false
	}
	if t.parent != nil && !t.parent.TryConsume(n) {
		t.consumed.Add(-n)
		return false
	}
	return true
}

func (t *Tracker) tryConsumeLocal(n int64) bool {
	if t.limit <= 0 {
		t.consumed.Add(n)
		return true
	}
	for {
		cur := t.consumed.Load()
		if cur+n > t.limit {
			return false
		}
		if t.consumed.CompareAndSwap(cur, cur+n) {
			return true
		}
	}
}

func (t *Tracker) Release(n int64) {
	if n <= 0 {
		return
	}
	t.consumed.Add(-n)
	if t.parent != nil {
		t.parent.Release(n)
	}
}

func (t *Tracker) Consumed() int64 { return t.consumed.Load() }

func (t *Tracker) Limit() int64 { return t.limit }

// LimitExceeded reports whether this tracker (not ancestors) is currently
// over its own limit; used as a cheap local check before a bulk operation
// decides whether to request more.
func (t *Tracker) LimitExceeded() bool {
	return t.limit > 0 && t.consumed.Load() > t.limit
}

// Close releases everything this tracker ever reserved, idempotently.
func (t *Tracker) Close() {
	n := t.consumed.Swap(0)
	if n != 0 && t.parent != nil {
		t.parent.Release(n)
	}
}
