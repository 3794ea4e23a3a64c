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

package exprctx

import (
	"bytes"
	"encoding/gob"
)

func init() {
	gob.Register(int64(0))
	gob.Register(float64(0))
	gob.Register(false)
	gob.Register([]byte(nil))
}

// Codec turns a Row into the opaque []byte a RowSpool stores and back.
// The core never interprets these bytes itself (spec.md §6 keeps RowSpool
// and the expression subsystem as named external collaborators); it only
// needs to round-trip a row through a spill.
type Codec interface {
	Encode(row Row) []byte
	Decode(buf []byte) Row
}

// SliceCodec is the reference Codec for SliceRow, used by tests and by
// cmd/hashcore-bench. It leans on encoding/gob the way a production
// system would lean on its own row-serialization library; this module
// has no row schema of its own to hand-rolled-encode.
type SliceCodec struct{}

func (SliceCodec) Encode(row Row) []byte {
	sr := row.(SliceRow)
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode([]any(sr)); err != nil {
		panic(err) // encoding a key/value row of scalars never fails
	}
	return buf.Bytes()
}

func (SliceCodec) Decode(buf []byte) Row {
	var vals []any
	if err := gob.NewDecoder(bytes.NewReader(buf)).Decode(&vals); err != nil {
		panic(err)
	}
	return SliceRow(vals)
}
