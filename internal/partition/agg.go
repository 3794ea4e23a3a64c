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
	"bytes"
	"encoding/gob"

	"github.com/matrixorigin/hashcore/internal/exprctx"
)

func init() {
	gob.Register(exprctx.Value{})
}

// serializedGroup is the wire form of an IntermediateTuple written to a
// partition's GroupSpool when it spills with groups already resident:
// the materialized key values plus each aggregate's Serialize() bytes,
// round-tripped through Deserialize at repartition time instead of
// replaying the input rows that produced them (those rows are gone —
// only the accumulated state is kept, per spec.md §4.4.a).
type serializedGroup struct {
	KeyNulls []bool
	Keys     []exprctx.Value
	AggBytes [][]byte
}

func encodeGroup(tup *IntermediateTuple) []byte {
	sg := serializedGroup{KeyNulls: tup.KeyNulls, Keys: tup.Keys, AggBytes: make([][]byte, len(tup.Aggs))}
	for i, a := range tup.Aggs {
		sg.AggBytes[i] = a.Serialize()
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(sg); err != nil {
		panic(err) // encoding scalars and []byte accumulator state never fails
	}
	return buf.Bytes()
}

func decodeGroup(buf []byte, factories []AggFactory) *IntermediateTuple {
	var sg serializedGroup
	if err := gob.NewDecoder(bytes.NewReader(buf)).Decode(&sg); err != nil {
		panic(err)
	}
	aggs := make([]AggState, len(factories))
	for i, f := range factories {
		a := f()
		a.Deserialize(sg.AggBytes[i])
		aggs[i] = a
	}
	return &IntermediateTuple{KeyNulls: sg.KeyNulls, Keys: sg.Keys, Aggs: aggs}
}

// AggState is the aggregate-function state contract spec.md §1 treats as
// an external collaborator ("the expression subsystem... evaluators
// returning typed values"); GroupAggregator clones one instance per
// group and drives it through Update/Finalize/Serialize.
type AggState interface {
	Clone() AggState
	Update(row exprctx.Row)
	Finalize() exprctx.Value
	// Serialize/Deserialize round-trip the accumulator's bytes when its
	// owning partition is spilled mid-aggregation (spec.md §4.4.a: a
	// spilled partition stops aggregating, but work already folded into
	// resident groups before the spill is preserved, not discarded).
	Serialize() []byte
	Deserialize([]byte)
}

// AggFactory builds a fresh, zero-valued AggState for one aggregate
// expression; newIntermediateTuple and decodeGroup call it once per
// aggregate column for every group they build.
type AggFactory func() AggState

// SumAgg is the reference AggState used by tests and by
// cmd/hashcore-bench's scenarios (spec.md §8 example (a): sum(v)).
type SumAgg struct {
	Col   int
	sum   int64
	valid bool
}

func NewSumAgg(col int) AggFactory {
	return func() AggState { return &SumAgg{Col: col} }
}

func (a *SumAgg) Clone() AggState { return &SumAgg{Col: a.Col} }

func (a *SumAgg) Update(row exprctx.Row) {
	v := row.Column(a.Col)
	if v == nil {
		return
	}
	a.sum += v.(int64)
	a.valid = true
}

func (a *SumAgg) Finalize() exprctx.Value {
	if !a.valid {
		return exprctx.Value{}
	}
	return exprctx.Value{I64: a.sum}
}

func (a *SumAgg) Serialize() []byte {
	buf := make([]byte, 9)
	putUint64(buf, uint64(a.sum))
	if a.valid {
		buf[8] = 1
	}
	return buf
}

func (a *SumAgg) Deserialize(b []byte) {
	a.sum = int64(getUint64(b))
	a.valid = b[8] == 1
}

// CountAgg counts non-NULL occurrences of Col (Col < 0 means COUNT(*)).
type CountAgg struct {
	Col   int
	count int64
}

func NewCountAgg(col int) AggFactory {
	return func() AggState { return &CountAgg{Col: col} }
}

func (a *CountAgg) Clone() AggState { return &CountAgg{Col: a.Col} }

func (a *CountAgg) Update(row exprctx.Row) {
	if a.Col < 0 || row.Column(a.Col) != nil {
		a.count++
	}
}

func (a *CountAgg) Finalize() exprctx.Value { return exprctx.Value{I64: a.count} }

func (a *CountAgg) Serialize() []byte {
	buf := make([]byte, 8)
	putUint64(buf, uint64(a.count))
	return buf
}

func (a *CountAgg) Deserialize(b []byte) { a.count = int64(getUint64(b)) }

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func getUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
