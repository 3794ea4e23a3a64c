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

package hashtable

import (
	"github.com/matrixorigin/hashcore/internal/memtracker"
	"github.com/matrixorigin/hashcore/internal/moerr"
)

// duplicateNode is the arena-allocated per-duplicate-row record
// (spec.md §3). next chains to the following node in the same bucket's
// list; matched/slot mirror the bucket-level fields for join semantics.
type duplicateNode struct {
	next    nodeRef
	matched bool
	slot    TupleSlot
}

// nodeRef is a stable (page, offset) index rather than a raw pointer, per
// spec.md §9's arena design note: the arena may grow its page slice, and
// handing out Go pointers into a slice that can be reallocated would be
// unsafe, so every reference into the arena is a pair of small integers.
type nodeRef struct {
	page   int32
	offset int32
}

var nilRef = nodeRef{page: -1, offset: -1}

func (r nodeRef) isNil() bool { return r.page < 0 }

const nodeSize = 32 // approximate bytes per duplicateNode, for budget accounting

// firstPageBytes/secondPageBytes keep small queries cheap; after that,
// pages are sized to the buffer manager's block size (spec.md §4.3).
const (
	firstPageBytes  = 64 * 1024
	secondPageBytes = 512 * 1024
)

// arena is the secondary data-page allocator for duplicate-chain nodes.
// Pages are never freed individually; they are released together at
// Close (spec.md §4.3).
type arena struct {
	pages       [][]duplicateNode
	blockBytes  int64
	tracker     *memtracker.Tracker
	lastPageLen int
}

func newArena(tracker *memtracker.Tracker, blockBytes int64) *arena {
	return &arena{tracker: tracker, blockBytes: blockBytes}
}

func (a *arena) pageCapacity(pageIdx int) int {
	switch pageIdx {
	case 0:
		return firstPageBytes / nodeSize
	case 1:
		return secondPageBytes / nodeSize
	default:
		if a.blockBytes <= 0 {
			return secondPageBytes / nodeSize
		}
		return int(a.blockBytes) / nodeSize
	}
}

// Alloc reserves one duplicateNode slot and returns a stable reference to
// it, consuming memory against the arena's tracker. Growth never moves
// already-issued references: each page, once allocated, never reallocates.
func (a *arena) Alloc() (nodeRef, *duplicateNode, error) {
	if len(a.pages) == 0 || a.lastPageLen >= cap(a.pages[len(a.pages)-1]) {
		pageCap := a.pageCapacity(len(a.pages))
		if a.tracker != nil && !a.tracker.TryConsume(int64(pageCap)*nodeSize) {
			return nilRef, nil, moerr.NewMemoryBudget(int64(pageCap) * nodeSize)
		}
		a.pages = append(a.pages, make([]duplicateNode, 0, pageCap))
		a.lastPageLen = 0
	}
	pageIdx := len(a.pages) - 1
	page := a.pages[pageIdx]
	page = append(page, duplicateNode{next: nilRef})
	a.pages[pageIdx] = page
	a.lastPageLen = len(page)
	return nodeRef{page: int32(pageIdx), offset: int32(len(page) - 1)}, &page[len(page)-1], nil
}

func (a *arena) Get(ref nodeRef) *duplicateNode {
	if ref.isNil() {
		return nil
	}
	return &a.pages[ref.page][ref.offset]
}

// Close releases every page's memory as one unit, idempotently.
func (a *arena) Close() {
	if a.tracker != nil {
		for _, p := range a.pages {
			a.tracker.Release(int64(cap(p)) * nodeSize)
		}
	}
	a.pages = nil
	a.lastPageLen = 0
}
