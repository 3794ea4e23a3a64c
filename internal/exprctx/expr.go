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

// Package exprctx gives a minimal body to the expression-evaluation
// collaborator spec.md §6 leaves external ("Expr.eval(row) -> (value,
// is_null)"). The hash aggregation/join core only ever calls Eval/Type; it
// never inspects how an Expr computes its result.
package exprctx

// TypeID is the small set of scalar kinds the core's key path needs to
// know about: whether a key is fixed-width (and how wide) or variable.
type TypeID int

const (
	Int64 TypeID = iota
	Float64
	Bool
	Bytes // variable-length
)

type TypeDescriptor struct {
	ID TypeID
	// FixedWidth is the byte size of ID's natural representation; ignored
	// for Bytes, which is always a {ptr,len} header in the packed buffer.
	FixedWidth int
}

func (t TypeDescriptor) IsVarLen() bool { return t.ID == Bytes }

// Value is a decoded scalar. Exactly one field is meaningful, selected by
// the producing Expr's TypeDescriptor.
type Value struct {
	I64 int64
	F64 float64
	B   bool
	Buf []byte
}

// Row is the unit of input the core consumes from a child operator. It is
// opaque beyond letting an Expr pull a column out of it; RowSpool stores
// Rows by value or by spool index depending on HashTable configuration.
type Row interface {
	// Column returns the raw column value at ordinal i for evaluators that
	// need direct access rather than going through an Expr tree.
	Column(i int) any
}

// Expr is the out-of-scope expression-subsystem contract (spec.md §6).
type Expr interface {
	Eval(row Row) (Value, bool)
	Type() TypeDescriptor
}

// ColumnExpr is the one concrete Expr this module provides: project column
// Ordinal out of a Row, typed as Typ. Production callers supply their own
// richer Expr implementations; this one exists so tests can build rows
// without a full expression subsystem, mirroring how
// pkg/sql/colexec/group/group.go leans on colexec.NewExpressionExecutor
// for a single column reference without a general evaluator tree.
type ColumnExpr struct {
	Ordinal int
	Typ     TypeDescriptor
}

func (c ColumnExpr) Type() TypeDescriptor { return c.Typ }

func (c ColumnExpr) Eval(row Row) (Value, bool) {
	v := row.Column(c.Ordinal)
	if v == nil {
		return Value{}, true
	}
	switch c.Typ.ID {
	case Int64:
		return Value{I64: v.(int64)}, false
	case Float64:
		return Value{F64: v.(float64)}, false
	case Bool:
		return Value{B: v.(bool)}, false
	case Bytes:
		b := v.([]byte)
		if b == nil {
			return Value{}, true
		}
		return Value{Buf: b}, false
	default:
		return Value{}, true
	}
}

// Row wraps a plain slice of columns; the simplest possible Row
// implementation, used pervasively by tests.
type SliceRow []any

func (r SliceRow) Column(i int) any { return r[i] }
