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

// Package keylayout computes the packed fixed-length layout for a list of
// key expressions and provides the batched scratch cache (ExprValuesCache)
// that HashContext evaluates keys into. Mirrors spec.md §3/§4.1.
package keylayout

import "github.com/matrixorigin/hashcore/internal/exprctx"

// varHeaderSize is the width in bytes of the {ptr, len} header a
// variable-length key reserves in the fixed region. The payload itself is
// never copied into the packed buffer (spec.md §3).
const varHeaderSize = 16

// Layout is the pure value computed once from an ordered key expression
// list: how many bytes each key occupies in the packed region, and where
// the variable-length headers begin.
type Layout struct {
	FixedSize    int
	Offsets      []int
	VarTailOffset int // -1 if no variable-length keys
	Types        []exprctx.TypeDescriptor
}

// Compute lays out keys in order: every fixed-width key occupies its
// natural size contiguously, then every variable-length key's {ptr,len}
// header follows. This keeps VarTailOffset meaningful as "hash this many
// bytes with one call, then handle the tail specially" (spec.md §4.2).
func Compute(types []exprctx.TypeDescriptor) Layout {
	offsets := make([]int, len(types))
	fixedOrder := make([]int, 0, len(types))
	varOrder := make([]int, 0, len(types))
	for i, t := range types {
		if t.IsVarLen() {
			varOrder = append(varOrder, i)
		} else {
			fixedOrder = append(fixedOrder, i)
		}
	}

	off := 0
	for _, i := range fixedOrder {
		offsets[i] = off
		off += types[i].FixedWidth
	}
	varTail := -1
	if len(varOrder) > 0 {
		varTail = off
	}
	for _, i := range varOrder {
		offsets[i] = off
		off += varHeaderSize
	}

	return Layout{
		FixedSize:     off,
		Offsets:       offsets,
		VarTailOffset: varTail,
		Types:         append([]exprctx.TypeDescriptor(nil), types...),
	}
}

func (l Layout) HasVarLen() bool { return l.VarTailOffset >= 0 }

func (l Layout) NumKeys() int { return len(l.Offsets) }
