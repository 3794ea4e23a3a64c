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

// Package hashctx is the expression-evaluation and hashing side-car
// described in spec.md §4.2: it evaluates key expressions into a packed
// cache row and computes a seeded hash over that row. It has no equality
// operation; internal/partition's key comparators compare rows directly.
package hashctx

import (
	"encoding/binary"
	"math"

	"github.com/matrixorigin/hashcore/internal/exprctx"
	"github.com/matrixorigin/hashcore/internal/keylayout"
)

// Config is the immutable per-HashContext configuration (spec.md §6): no
// process-global tunables, everything flows in through here.
type Config struct {
	// StoresNulls: false means a NULL-containing key never inserts or
	// matches (spec.md §4.2, §8 property 6).
	StoresNulls bool
	// FindsNulls[i]: whether a NULL in key column i matches another NULL
	// on the probe side. Ignored when StoresNulls is false.
	FindsNulls []bool
	InitialSeed uint32
}

// Context binds a Layout + Cache + the key expression list + Config into
// the operations spec.md §4.2 defines.
type Context struct {
	cfg    Config
	layout keylayout.Layout
	cache  *keylayout.Cache
	keys   []exprctx.Expr
	seeds  [MaxDepth + 1]uint64
}

func New(cfg Config, keys []exprctx.Expr, batchSize int) *Context {
	types := make([]exprctx.TypeDescriptor, len(keys))
	for i, k := range keys {
		types[i] = k.Type()
	}
	layout := keylayout.Compute(types)
	return &Context{
		cfg:    cfg,
		layout: layout,
		cache:  keylayout.NewCache(layout, batchSize),
		keys:   keys,
		seeds:  SeedTable(cfg.InitialSeed),
	}
}

func (c *Context) Cache() *keylayout.Cache { return c.cache }
func (c *Context) Layout() keylayout.Layout { return c.layout }
func (c *Context) Seed(level int) uint64 { return c.seeds[level] }

// EvalRow evaluates every key expression on row and writes the result
// into cache row cacheRow: a packed value (or the NULL sentinel) plus the
// per-key null flag. It returns true ("has_null") the moment it finds a
// NULL key while StoresNulls is false, short-circuiting further
// evaluation (spec.md §4.2).
func (c *Context) EvalRow(row exprctx.Row, cacheRow int) bool {
	for i, key := range c.keys {
		val, isNull := key.Eval(row)
		c.cache.SetNull(cacheRow, i, isNull)
		dst := c.cache.ValuePtr(cacheRow, i)
		typ := key.Type()

		if isNull {
			FillNullSentinel(dst)
			if !c.cfg.StoresNulls {
				return true
			}
			continue
		}
		writeValue(dst, typ, val)
		if typ.IsVarLen() {
			c.cache.SetVarPayload(cacheRow, i, val.Buf)
		}
	}
	return false
}

// EvalValues writes already-materialized key values and null flags into
// cache row cacheRow, the same way EvalRow does but skipping Expr.Eval
// entirely. It's used to re-hash a group recovered from a spilled
// partition's serialized state (spec.md §4.4.a): the input row that
// originally produced those values is gone, but the values themselves
// were kept, so there's nothing left to evaluate.
func (c *Context) EvalValues(vals []exprctx.Value, nulls []bool, cacheRow int) bool {
	for i, key := range c.keys {
		isNull := nulls[i]
		c.cache.SetNull(cacheRow, i, isNull)
		dst := c.cache.ValuePtr(cacheRow, i)
		typ := key.Type()

		if isNull {
			FillNullSentinel(dst)
			if !c.cfg.StoresNulls {
				return true
			}
			continue
		}
		writeValue(dst, typ, vals[i])
		if typ.IsVarLen() {
			c.cache.SetVarPayload(cacheRow, i, vals[i].Buf)
		}
	}
	return false
}

func writeValue(dst []byte, typ exprctx.TypeDescriptor, val exprctx.Value) {
	switch typ.ID {
	case exprctx.Int64:
		binary.LittleEndian.PutUint64(dst, uint64(val.I64))
	case exprctx.Float64:
		binary.LittleEndian.PutUint64(dst, math.Float64bits(val.F64))
	case exprctx.Bool:
		if val.B {
			dst[0] = 1
		} else {
			dst[0] = 0
		}
	case exprctx.Bytes:
		// {ptr,len} header: ptr is a logical pointer into the payload
		// owned by the caller's row/intermediate tuple, not a real
		// unsafe.Pointer, since the packed cache never owns variable data
		// (spec.md §3). We store the length; the actual bytes live in
		// cache.vars, set by the caller after writeValue.
		binary.LittleEndian.PutUint64(dst[8:], uint64(len(val.Buf)))
	}
}

// HashRow computes the seeded hash of cache row cacheRow at the given
// partition level and stores it back into the cache, per spec.md §4.2: if
// there are no variable-length keys, hash the whole fixed region in one
// call; otherwise hash the fixed prefix then each variable payload (or its
// sentinel) in turn.
func (c *Context) HashRow(cacheRow int, level int) uint32 {
	seed := c.seeds[level]
	var h uint32

	if !c.layout.HasVarLen() {
		h = hashBytes(level, seed, c.cache.ValueRowBytes(cacheRow, c.layout.FixedSize))
		c.cache.SetHash(cacheRow, h)
		return h
	}

	prefix := c.cache.ValueRowBytes(cacheRow, c.layout.VarTailOffset)
	h = hashBytes(level, seed, prefix)
	for i, typ := range c.layout.Types {
		if !typ.IsVarLen() {
			continue
		}
		if c.cache.IsNull(cacheRow, i) {
			sentinel := make([]byte, 8)
			FillNullSentinel(sentinel)
			h = combine(level, seed, h, sentinel)
			continue
		}
		h = combine(level, seed, h, c.cache.VarPayload(cacheRow, i))
	}
	c.cache.SetHash(cacheRow, h)
	return h
}

