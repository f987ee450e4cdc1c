// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

package codegen

import (
	"fmt"

	"github.com/SnellerInc/tilegen/tir"
)

// Error is an internal-consistency violation
// found while lowering a function. Lowering of
// the function stops at the first Error.
type Error struct {
	// Func is the function being lowered.
	Func string
	// Op and Value identify the instruction
	// being lowered; Value is tir.NoValue for
	// errors that are not tied to one instruction.
	Op    tir.Op
	Value tir.ValueID
	// Invariant names the broken precondition.
	Invariant string
	// Detail is a human-readable description.
	Detail string
}

func (e *Error) Error() string {
	if e.Value == tir.NoValue {
		return fmt.Sprintf("codegen: %s: %s: %s", e.Func, e.Invariant, e.Detail)
	}
	return fmt.Sprintf("codegen: %s: %s %%%d: %s: %s", e.Func, e.Op, e.Value, e.Invariant, e.Detail)
}

// invariant names
const (
	errLayout     = "missing layout"
	errAxes       = "missing axes"
	errIndex      = "index mismatch"
	errKind       = "layout kind"
	errAlloc      = "missing allocation"
	errUnsupport  = "unsupported"
	errTarget     = "target mismatch"
	errOrder      = "lowering order"
	errTerminator = "missing terminator"
	errShape      = "shape mismatch"
)

// fatalf aborts lowering of the current function.
func (g *Generator) fatalf(v *tir.Value, invariant, format string, args ...any) {
	e := &Error{
		Invariant: invariant,
		Detail:    fmt.Sprintf(format, args...),
	}
	if g.fn != nil {
		e.Func = g.fn.Name
	}
	if v != nil {
		e.Op = v.Op
		e.Value = v.ID
	}
	panic(e)
}
