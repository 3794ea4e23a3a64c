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
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/pierrec/lz4/v4"

	"github.com/matrixorigin/hashcore/internal/moerr"
)

type diskLoc struct {
	offset     int64
	compLen    int32
	rawLen     int32
	rowCount   int32
}

// Spill writes block blockIdx to the spool's spill file (lz4-compressed,
// length-framed, the way group/spill_manager.go frames its spill file's
// sections) and releases the block's in-memory rows. The block remains
// addressable: GetNext transparently reloads it.
func (s *Spool) Spill(blockIdx int) error {
	b := s.blocks[blockIdx]
	if b.spilled || b.pinned > 0 {
		return nil
	}
	if err := s.ensureSpillFile(); err != nil {
		return err
	}

	raw := encodeRows(b.rows)
	comp := make([]byte, lz4.CompressBlockBound(len(raw)))
	n, err := lz4.CompressBlock(raw, comp, nil)
	if err != nil {
		return moerr.NewUnsupported("lz4 compression failed: " + err.Error())
	}
	comp = comp[:n]

	offset, err := s.spillFile.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	if err := writeFramed(s.spillWriter, comp); err != nil {
		return err
	}
	if err := s.spillWriter.Flush(); err != nil {
		return err
	}

	freed := 0
	for _, r := range b.rows {
		freed += len(r)
	}
	if s.tracker != nil {
		s.tracker.Release(int64(freed))
	}

	b.disk = diskLoc{offset: offset, compLen: int32(n), rawLen: int32(len(raw)), rowCount: int32(len(b.rows))}
	b.rows = nil
	b.spilled = true
	return nil
}

func (s *Spool) ensureSpillFile() error {
	if s.spillFile != nil {
		return nil
	}
	f, err := os.CreateTemp(s.spillDir, "hashcore-spool-*.spill")
	if err != nil {
		return err
	}
	s.spillFile = f
	s.spillWriter = bufio.NewWriter(f)
	return nil
}

// reloadBlock reads a spilled block back into memory for GetNext; the
// in-memory rows are not re-pinned automatically — callers that need the
// block to stay resident must Pin before relying on it surviving a
// subsequent spill of some other block.
func (s *Spool) reloadBlock(blockIdx int) error {
	b := s.blocks[blockIdx]
	if !b.spilled {
		return nil
	}
	comp := make([]byte, b.disk.compLen)
	if _, err := s.spillFile.ReadAt(comp, b.disk.offset+4); err != nil {
		return err
	}
	raw := make([]byte, b.disk.rawLen)
	if _, err := lz4.UncompressBlock(comp, raw); err != nil {
		return err
	}
	b.rows = decodeRows(raw, int(b.disk.rowCount))
	b.spilled = false
	return nil
}

func encodeRows(rows [][]byte) []byte {
	var total int
	for _, r := range rows {
		total += 4 + len(r)
	}
	buf := make([]byte, total)
	off := 0
	for _, r := range rows {
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(r)))
		off += 4
		copy(buf[off:], r)
		off += len(r)
	}
	return buf
}

func decodeRows(buf []byte, count int) [][]byte {
	rows := make([][]byte, 0, count)
	off := 0
	for off < len(buf) {
		l := int(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		rows = append(rows, buf[off:off+l])
		off += l
	}
	return rows
}
