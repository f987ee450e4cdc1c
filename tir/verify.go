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

package tir

import (
	"errors"
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/SnellerInc/tilegen/ints"
)

// Verify checks the structural and type
// invariants of f. It returns every problem
// found, joined into one error.
func Verify(f *Function) error {
	var errs []error
	fail := func(v *Value, format string, args ...any) {
		errs = append(errs, fmt.Errorf("%s: %s: %s", f.Name, v.Ref(), fmt.Sprintf(format, args...)))
	}
	defined := make([]bool, len(f.Values))
	preds := f.Preds()
	for _, blk := range f.Blocks {
		if len(blk.Insts) == 0 {
			errs = append(errs, fmt.Errorf("%s: block %s is empty", f.Name, blk.Name))
			continue
		}
		nonphi := false
		for i, id := range blk.Insts {
			v := f.Values[id]
			if v.Op == OpPhi && nonphi {
				fail(v, "phi after a non-phi instruction in block %s", blk.Name)
			}
			nonphi = nonphi || v.Op != OpPhi
			if v.Block != blk.ID {
				fail(v, "listed in block %s but owned by %d", blk.Name, v.Block)
			}
			last := i == len(blk.Insts)-1
			if v.Op.IsTerminator() != last {
				if last {
					fail(v, "block %s does not end with a terminator", blk.Name)
				} else {
					fail(v, "terminator in the middle of block %s", blk.Name)
				}
			}
			if v.Op == OpArgument && blk.ID != 0 {
				fail(v, "argument outside the entry block")
			}
			if v.Op == OpPhi {
				checkPhi(f, v, preds[blk.ID], fail)
			} else {
				for _, a := range v.Args {
					if a <= 0 || int(a) >= len(f.Values) {
						fail(v, "argument %d out of range", a)
						continue
					}
					if f.Values[a].Block == blk.ID && !defined[a] {
						fail(v, "uses %s before its definition", f.Values[a].Ref())
					}
				}
			}
			if err := checkValue(f, v); err != nil {
				fail(v, "%s", err)
			}
			for _, t := range v.Targets {
				if t < 0 || int(t) >= len(f.Blocks) {
					fail(v, "branch target %d out of range", t)
				}
			}
			defined[id] = true
		}
	}
	return errors.Join(errs...)
}

func checkPhi(f *Function, v *Value, preds []BlockID, fail func(*Value, string, ...any)) {
	if len(v.Args) != len(v.Preds) {
		fail(v, "%d incoming values for %d incoming blocks", len(v.Args), len(v.Preds))
		return
	}
	for i, a := range v.Args {
		if a <= 0 || int(a) >= len(f.Values) {
			fail(v, "incoming value %d out of range", a)
			continue
		}
		if !f.Values[a].Type.Equal(v.Type) {
			fail(v, "incoming %s has type %s", f.Values[a].Ref(), f.Values[a].Type)
		}
		if !slices.Contains(preds, v.Preds[i]) {
			fail(v, "block %d is not a predecessor", v.Preds[i])
		}
	}
	for _, p := range preds {
		if !slices.Contains(v.Preds, p) {
			fail(v, "no incoming value for predecessor %d", p)
		}
	}
}

func sameShape(a, b Type) bool { return slices.Equal(a.Shape, b.Shape) }

func checkValue(f *Function, v *Value) error {
	info := &opinfos[v.Op]
	if v.Op == OpInvalid || v.Op >= opMax {
		return fmt.Errorf("invalid op")
	}
	if info.nargs >= 0 && len(v.Args) != info.nargs {
		return fmt.Errorf("expected %d arguments, got %d", info.nargs, len(v.Args))
	}
	for _, a := range v.Args {
		if a <= 0 || int(a) >= len(f.Values) {
			return nil // reported by the caller
		}
	}
	arg := func(i int) Type { return f.Values[v.Args[i]].Type }
	switch v.Op {
	case OpConstInt:
		if !v.Type.Elem.IsInt() || v.Type.IsTile() {
			return fmt.Errorf("integer constant of type %s", v.Type)
		}
	case OpConstFloat:
		if !v.Type.Elem.IsFloat() || v.Type.IsTile() {
			return fmt.Errorf("float constant of type %s", v.Type)
		}
	case OpBinary:
		x, y := arg(0), arg(1)
		if !x.Equal(y) {
			return fmt.Errorf("operand types %s and %s differ", x, y)
		}
		if v.BinOp().IsFloat() != x.Elem.IsFloat() {
			return fmt.Errorf("%s on %s", v.BinOp(), x)
		}
	case OpICmp, OpFCmp:
		x, y := arg(0), arg(1)
		if !x.Equal(y) {
			return fmt.Errorf("operand types %s and %s differ", x, y)
		}
		if (v.Op == OpFCmp) != v.Pred().IsFloat() {
			return fmt.Errorf("predicate %s on %s", v.Pred(), v.Op)
		}
	case OpCast:
		if !sameShape(arg(0), v.Type) {
			return fmt.Errorf("cast changes shape")
		}
	case OpSelect:
		c, x, y := arg(0), arg(1), arg(2)
		if c.Elem != I1 || !x.Equal(y) || !sameShape(c, x) {
			return fmt.Errorf("select(%s, %s, %s)", c, x, y)
		}
	case OpExp, OpLog, OpSqrt:
		if !arg(0).Elem.IsFloat() {
			return fmt.Errorf("%s of %s", v.Op, arg(0))
		}
	case OpGEP:
		p, o := arg(0), arg(1)
		if p.Elem != Ptr || !o.Elem.IsInt() {
			return fmt.Errorf("getelementptr(%s, %s)", p, o)
		}
		if p.IsTile() && o.IsTile() && !sameShape(p, o) {
			return fmt.Errorf("getelementptr shapes %s and %s differ", p, o)
		}
	case OpLoad, OpMaskedLoad, OpMaskedLoadAsync:
		p := arg(0)
		if p.Elem != Ptr || !v.Type.Equal(p.Deref()) {
			return fmt.Errorf("%s of %s yields %s", v.Op, p, v.Type)
		}
		if v.Op != OpLoad {
			if m := arg(1); m.Elem != I1 || !sameShape(m, p) {
				return fmt.Errorf("mask %s for %s", m, p)
			}
			if o := arg(2); !o.Equal(v.Type) {
				return fmt.Errorf("fill value %s for %s", o, v.Type)
			}
		}
	case OpStore, OpMaskedStore:
		p, x := arg(0), arg(1)
		if p.Elem != Ptr || !x.Equal(p.Deref()) {
			return fmt.Errorf("%s of %s through %s", v.Op, x, p)
		}
		if v.Op == OpMaskedStore {
			if m := arg(2); m.Elem != I1 || !sameShape(m, p) {
				return fmt.Errorf("mask %s for %s", m, p)
			}
		}
	case OpAsyncWait:
		if v.Imm < 0 {
			return fmt.Errorf("negative group count")
		}
	case OpCopyToShared, OpCopyFromShared, OpRecoalesce:
		if !arg(0).IsTile() {
			return fmt.Errorf("%s of scalar", v.Op)
		}
	case OpReduce:
		x, id := arg(0), arg(1)
		if v.Axis < 0 || v.Axis >= x.Rank() {
			return fmt.Errorf("axis %d out of range for %s", v.Axis, x)
		}
		if id.IsTile() || id.Elem != x.Elem {
			return fmt.Errorf("identity %s for %s", id, x)
		}
		if v.ReduceOp().IsFloat() != x.Elem.IsFloat() {
			return fmt.Errorf("%s reduction of %s", v.ReduceOp(), x)
		}
	case OpDot:
		a, b, c := arg(0), arg(1), arg(2)
		if a.Rank() != 2 || b.Rank() != 2 || c.Rank() != 2 {
			return fmt.Errorf("dot operands must be 2-D")
		}
		if a.Shape[1] != b.Shape[0] || a.Shape[0] != c.Shape[0] || b.Shape[1] != c.Shape[1] {
			return fmt.Errorf("dot(%s, %s, %s) shapes do not agree", a, b, c)
		}
		if a.Elem != b.Elem {
			return fmt.Errorf("dot operand kinds %s and %s", a.Elem, b.Elem)
		}
	case OpSplat:
		if arg(0).IsTile() {
			return fmt.Errorf("splat of tile")
		}
	case OpBroadcast:
		x := arg(0)
		if x.Rank() != v.Type.Rank() {
			return fmt.Errorf("broadcast %s to %s", x, v.Type)
		}
		for i, d := range x.Shape {
			if d != 1 && d != v.Type.Shape[i] {
				return fmt.Errorf("broadcast %s to %s", x, v.Type)
			}
		}
	case OpReshape:
		if arg(0).NumElems() != v.Type.NumElems() {
			return fmt.Errorf("reshape %s to %s", arg(0), v.Type)
		}
	case OpDowncast:
		if arg(0).NumElems() != 1 {
			return fmt.Errorf("downcast of %s", arg(0))
		}
	case OpTrans:
		x := arg(0)
		if len(v.Perm) != x.Rank() {
			return fmt.Errorf("permutation %v for %s", v.Perm, x)
		}
		seen := make([]bool, len(v.Perm))
		for _, p := range v.Perm {
			if p < 0 || p >= len(seen) || seen[p] {
				return fmt.Errorf("invalid permutation %v", v.Perm)
			}
			seen[p] = true
		}
	case OpMakeRange:
		if v.Type.Rank() != 1 || v.Type.Elem != I32 {
			return fmt.Errorf("make_range of type %s", v.Type)
		}
	case OpProgramID, OpNumPrograms:
		if v.Axis < 0 || v.Axis > 2 {
			return fmt.Errorf("grid axis %d", v.Axis)
		}
	case OpAtomicAdd:
		p, x, m := arg(0), arg(1), arg(2)
		if p.Elem != Ptr || p.Pointee != x.Elem || !sameShape(p, x) || !sameShape(m, x) || m.Elem != I1 {
			return fmt.Errorf("atomic_add(%s, %s, %s)", p, x, m)
		}
	case OpAtomicCAS, OpAtomicExch:
		p := arg(0)
		if p.IsTile() || p.Elem != Ptr {
			return fmt.Errorf("%s through %s", v.Op, p)
		}
		for i := 1; i < len(v.Args); i++ {
			if a := arg(i); a.IsTile() || a.Elem != p.Pointee {
				return fmt.Errorf("%s operand %s", v.Op, a)
			}
		}
	case OpCondBr:
		if c := arg(0); c.Elem != I1 || c.IsTile() {
			return fmt.Errorf("branch on %s", c)
		}
		if len(v.Targets) != 2 {
			return fmt.Errorf("cond_br with %d targets", len(v.Targets))
		}
	case OpBr:
		if len(v.Targets) != 1 {
			return fmt.Errorf("br with %d targets", len(v.Targets))
		}
	case OpAllocConst:
		if v.Name == "" || v.Imm <= 0 {
			return fmt.Errorf("alloc_const needs a name and a size")
		}
	}
	if v.Type.IsTile() {
		for _, d := range v.Type.Shape {
			if d <= 0 {
				return fmt.Errorf("non-positive dim in %s", v.Type)
			}
		}
		if n := v.Type.NumElems(); !ints.IsPow2(n) {
			return fmt.Errorf("tile with %d elements is not a power of two", n)
		}
	}
	return nil
}
