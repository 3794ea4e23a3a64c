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

// MaxCacheBytes bounds how much memory a single ExprValuesCache may hold,
// independent of the requested batch size (spec.md §3).
const MaxCacheBytes = 256 * 1024

// VarPayload is the out-of-band storage for a variable-length key's bytes.
// The packed header in the fixed region records only the length;
// HashContext reads the bytes themselves through Cache.VarPayload.
type VarPayload struct {
	Data []byte
}

// Cache is the per-batch scratch buffer described in spec.md §3/§4.1:
// packed key bytes, per-key null flags, and precomputed row hashes for up
// to Capacity rows, plus a write/read cursor pair.
type Cache struct {
	layout   Layout
	capacity int

	values [][]byte       // capacity x FixedSize
	nulls  [][]bool       // capacity x NumKeys
	hashes []uint32        // capacity
	vars   [][]VarPayload // capacity x NumKeys, only entries for var-len keys are used

	writeCursor int
	readCursor  int
	readEnd     int
}

// NewCache sizes itself to min(batchSize, MAX_CACHE_BYTES/fixed_size), at
// least 1 row, per spec.md §3.
func NewCache(layout Layout, batchSize int) *Cache {
	capacity := batchSize
	if layout.FixedSize > 0 {
		if byBytes := MaxCacheBytes / layout.FixedSize; byBytes < capacity {
			capacity = byBytes
		}
	}
	if capacity < 1 {
		capacity = 1
	}

	c := &Cache{
		layout:   layout,
		capacity: capacity,
		values:   make([][]byte, capacity),
		nulls:    make([][]bool, capacity),
		hashes:   make([]uint32, capacity),
		vars:     make([][]VarPayload, capacity),
	}
	nk := layout.NumKeys()
	for i := 0; i < capacity; i++ {
		c.values[i] = make([]byte, layout.FixedSize)
		c.nulls[i] = make([]bool, nk)
		c.vars[i] = make([]VarPayload, nk)
	}
	return c
}

func (c *Cache) Layout() Layout { return c.layout }
func (c *Cache) Capacity() int  { return c.capacity }

// BeginWrite resets the write cursor to the start of the cache.
func (c *Cache) BeginWrite() { c.writeCursor = 0 }

// Advance moves the write cursor to the next row. It returns false when
// the cache is full and the caller must flush/partition before writing
// more rows.
func (c *Cache) Advance() bool {
	c.writeCursor++
	return c.writeCursor < c.capacity
}

func (c *Cache) EndWrite() { c.readEnd = c.writeCursor }

// WriteCursor is the row currently being filled by HashContext.EvalRow.
func (c *Cache) WriteCursor() int { return c.writeCursor }

// ValueRowBytes returns the first n bytes of row's packed value buffer,
// used to hash either the whole fixed region (no var-len keys) or just
// the fixed prefix up to VarTailOffset.
func (c *Cache) ValueRowBytes(row, n int) []byte {
	return c.values[row][:n]
}

func (c *Cache) ValuePtr(row, key int) []byte {
	off := c.layout.Offsets[key]
	width := c.keyWidth(key)
	return c.values[row][off : off+width]
}

func (c *Cache) keyWidth(key int) int {
	if c.layout.Types[key].IsVarLen() {
		return 16
	}
	return c.layout.Types[key].FixedWidth
}

func (c *Cache) SetNull(row, key int, isNull bool) { c.nulls[row][key] = isNull }
func (c *Cache) IsNull(row, key int) bool           { return c.nulls[row][key] }

func (c *Cache) SetVarPayload(row, key int, data []byte) { c.vars[row][key] = VarPayload{Data: data} }
func (c *Cache) VarPayload(row, key int) []byte           { return c.vars[row][key].Data }

func (c *Cache) SetHash(row int, h uint32) { c.hashes[row] = h }
func (c *Cache) Hash(row int) uint32       { return c.hashes[row] }

// Reset clears iteration state without touching the buffers themselves
// (contents are overwritten on the next write pass).
func (c *Cache) Reset() {
	c.writeCursor = 0
	c.readCursor = 0
	c.readEnd = 0
}

// ResetForRead records the current write endpoint as the read endpoint,
// then rewinds the read cursor to the start, per spec.md §4.1.
func (c *Cache) ResetForRead() {
	c.readEnd = c.writeCursor
	c.readCursor = 0
}

func (c *Cache) ReadCursor() int   { return c.readCursor }
func (c *Cache) ReadEnd() int      { return c.readEnd }
func (c *Cache) HasMore() bool     { return c.readCursor < c.readEnd }
func (c *Cache) AdvanceRead() bool { c.readCursor++; return c.readCursor < c.readEnd }
