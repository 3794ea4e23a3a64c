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

// Package rowspool gives a body to the RowSpool external collaborator
// named in spec.md §6: an append-only, block-addressed sequence of
// already-serialized tuples, with pin/unpin and spill-to-disk. The core
// treats rows as opaque []byte so RowSpool never needs to know a row's
// schema (that's HashContext's job, operating on the row before it's
// appended).
package rowspool

import (
	"bufio"
	"encoding/binary"
	"os"

	"github.com/matrixorigin/hashcore/internal/memtracker"
	"github.com/matrixorigin/hashcore/internal/moerr"
)

// smallBlockRows and largeBlockRows bound how many rows a single in-memory
// block holds before a new block is started; matches the teacher's small-query-first sizing
// idea in pkg/sql/colexec/group/spill_manager.go (start small, grow).
const (
	smallBlockRows = 256
	largeBlockRows = 4096
)

type block struct {
	rows    [][]byte
	pinned  int // ref count; balanced on every code path including errors
	spilled bool
	disk    diskLoc
}

// Spool is the RowSpool implementation: a slice of blocks, each
// addressable by its index (the BlockID half of a hashtable.TupleSlot),
// with a row offset within the block as the other half.
type Spool struct {
	blocks       []*block
	tracker      *memtracker.Tracker
	spillDir     string
	spillFile    *os.File
	spillWriter  *bufio.Writer
	usingLarge   bool
	readBlockIdx int
	readRowIdx   int
	closed       bool
}

func New(tracker *memtracker.Tracker, spillDir string) *Spool {
	return &Spool{tracker: tracker, spillDir: spillDir}
}

// AddRow appends row, returning needsLargeBuffer once the spool has
// outgrown its small initial blocks — mirrors spec.md §6's
// add_row -> {ok, needs_large_buffer, error} contract and the teacher's
// small-query-first sizing (spec.md §4.3 for the analogous duplicate-node
// arena).
func (s *Spool) AddRow(row []byte) (ok bool, needsLargeBuffer bool, err error) {
	if len(s.blocks) == 0 || s.currentFull() {
		if err := s.newBlock(); err != nil {
			return false, false, err
		}
	}
	cur := s.blocks[len(s.blocks)-1]
	if s.tracker != nil && !s.tracker.TryConsume(int64(len(row))) {
		return false, s.usingLarge, moerr.NewMemoryBudget(int64(len(row)))
	}
	cur.rows = append(cur.rows, row)
	return true, s.usingLarge, nil
}

func (s *Spool) currentFull() bool {
	cur := s.blocks[len(s.blocks)-1]
	limit := smallBlockRows
	if s.usingLarge {
		limit = largeBlockRows
	}
	return len(cur.rows) >= limit
}

func (s *Spool) newBlock() error {
	if len(s.blocks) >= 2 {
		s.usingLarge = true
	}
	limit := smallBlockRows
	if s.usingLarge {
		limit = largeBlockRows
	}
	s.blocks = append(s.blocks, &block{rows: make([][]byte, 0, limit), pinned: 1})
	return nil
}

// SwitchToIOBuffers reports whether the spool could obtain the larger I/O
// buffer size, matching spec.md §6's switch_to_io_buffers -> got_buffer.
func (s *Spool) SwitchToIOBuffers() bool {
	s.usingLarge = true
	return true
}

// RowAt resolves a (blockID, offset) TupleSlot address into its bytes.
// Panics are never used for out-of-range addresses that the caller
// fabricated itself; they indicate a core bug, not a data condition.
func (s *Spool) RowAt(blockID, offset int32) []byte {
	b := s.blocks[blockID]
	return b.rows[offset]
}

// BlockID/Offset of the row that was just appended (for callers building
// a TupleSlot right after AddRow).
func (s *Spool) LastAddr() (blockID, offset int32) {
	bi := len(s.blocks) - 1
	return int32(bi), int32(len(s.blocks[bi].rows) - 1)
}

// Pin increments the ref count on every block (all==true) or the block
// currently being read, so concurrent readers never race with a spill.
func (s *Spool) Pin(all bool) {
	if all {
		for _, b := range s.blocks {
			b.pinned++
		}
		return
	}
	if s.readBlockIdx < len(s.blocks) {
		s.blocks[s.readBlockIdx].pinned++
	}
}

// Unpin is the balancing call for Pin; must be invoked on every code
// path, including error returns, per spec.md §5.
func (s *Spool) Unpin(all bool) {
	if all {
		for _, b := range s.blocks {
			if b.pinned > 0 {
				b.pinned--
			}
		}
		return
	}
	if s.readBlockIdx < len(s.blocks) && s.blocks[s.readBlockIdx].pinned > 0 {
		s.blocks[s.readBlockIdx].pinned--
	}
}

// PrepareForRead rewinds the read cursor to the first block and reports
// whether a read buffer was obtained (always true for the in-memory
// implementation; mirrors the teacher's got_buffer pattern for callers
// that branch on it).
func (s *Spool) PrepareForRead() bool {
	s.readBlockIdx = 0
	s.readRowIdx = 0
	return true
}

// GetNext fills batch with up to len(batch) row references and returns
// how many were written; 0 means end of spool.
func (s *Spool) GetNext(batch [][]byte) int {
	n := 0
	for n < len(batch) {
		if s.readBlockIdx >= len(s.blocks) {
			break
		}
		b := s.blocks[s.readBlockIdx]
		if b.spilled {
			if err := s.reloadBlock(s.readBlockIdx); err != nil {
				break
			}
			b = s.blocks[s.readBlockIdx]
		}
		if s.readRowIdx >= len(b.rows) {
			s.readBlockIdx++
			s.readRowIdx = 0
			continue
		}
		batch[n] = b.rows[s.readRowIdx]
		s.readRowIdx++
		n++
	}
	return n
}

func (s *Spool) RowCount() int {
	n := 0
	for _, b := range s.blocks {
		n += len(b.rows)
	}
	return n
}

// MemoryBytes estimates the spool's resident (non-spilled) footprint, fed
// into spill_partition's largest-partition choice (spec.md §4.4).
func (s *Spool) MemoryBytes() int64 {
	var n int64
	for _, b := range s.blocks {
		if b.spilled {
			continue
		}
		for _, r := range b.rows {
			n += int64(len(r))
		}
	}
	return n
}

// Close releases every block and the spill file, idempotently.
func (s *Spool) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.spillWriter != nil {
		_ = s.spillWriter.Flush()
	}
	if s.spillFile != nil {
		err := s.spillFile.Close()
		_ = os.Remove(s.spillFile.Name())
		s.blocks = nil
		return err
	}
	s.blocks = nil
	return nil
}

// writeFramed writes a length-prefixed record, the way
// group/spill_manager.go frames each section of a spill file.
func writeFramed(w *bufio.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
