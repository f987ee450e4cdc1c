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
	"golang.org/x/exp/slices"
)

func (f *Function) typeOf(id ValueID) Type { return f.Value(id).Type }

// Arg adds a kernel parameter.
// Parameters must be added to the entry block.
func (f *Function) Arg(name string, t Type) ValueID {
	id := f.add(&Value{Op: OpArgument, Type: t, Imm: int64(len(f.Params)), Name: name})
	f.Params = append(f.Params, id)
	return id
}

// ConstInt returns a scalar integer constant.
func (f *Function) ConstInt(k Kind, x int64) ValueID {
	return f.emit(&Value{Op: OpConstInt, Type: Scalar(k), Imm: x})
}

// ConstFloat returns a scalar float constant.
func (f *Function) ConstFloat(k Kind, x float64) ValueID {
	return f.emit(&Value{Op: OpConstFloat, Type: Scalar(k), Float: x})
}

// Undef returns an undefined value of type t.
func (f *Function) Undef(t Type) ValueID {
	return f.add(&Value{Op: OpUndef, Type: t})
}

// AllocConst declares a named read-only
// array of n elements of kind k in constant
// memory and returns a pointer to it.
func (f *Function) AllocConst(name string, k Kind, n int) ValueID {
	return f.add(&Value{Op: OpAllocConst, Type: PtrTo(k), Imm: int64(n), Name: name})
}

// Binary returns x op y.
func (f *Function) Binary(op BinOp, x, y ValueID) ValueID {
	return f.emit(&Value{Op: OpBinary, Sub: uint8(op), Type: f.typeOf(x), Args: []ValueID{x, y}})
}

func (f *Function) cmpType(x ValueID) Type {
	return Type{Elem: I1, Shape: slices.Clone(f.typeOf(x).Shape)}
}

// ICmp returns the integer comparison of x and y.
func (f *Function) ICmp(p Pred, x, y ValueID) ValueID {
	return f.emit(&Value{Op: OpICmp, Sub: uint8(p), Type: f.cmpType(x), Args: []ValueID{x, y}})
}

// FCmp returns the float comparison of x and y.
func (f *Function) FCmp(p Pred, x, y ValueID) ValueID {
	return f.emit(&Value{Op: OpFCmp, Sub: uint8(p), Type: f.cmpType(x), Args: []ValueID{x, y}})
}

// Cast converts x to a value of kind to
// (pointee for IntToPtr) with the same shape.
func (f *Function) Cast(c CastKind, x ValueID, to Kind) ValueID {
	t := f.typeOf(x)
	out := Type{Elem: to, Shape: slices.Clone(t.Shape)}
	if c == IntToPtr {
		out.Elem, out.Pointee = Ptr, to
	}
	return f.emit(&Value{Op: OpCast, Sub: uint8(c), Type: out, Args: []ValueID{x}})
}

// Select returns c ? x : y element-wise.
func (f *Function) Select(c, x, y ValueID) ValueID {
	return f.emit(&Value{Op: OpSelect, Type: f.typeOf(x), Args: []ValueID{c, x, y}})
}

func (f *Function) unary(op Op, x ValueID) ValueID {
	return f.emit(&Value{Op: op, Type: f.typeOf(x), Args: []ValueID{x}})
}

// Exp returns e**x.
func (f *Function) Exp(x ValueID) ValueID { return f.unary(OpExp, x) }

// Log returns the natural logarithm of x.
func (f *Function) Log(x ValueID) ValueID { return f.unary(OpLog, x) }

// Sqrt returns the square root of x.
func (f *Function) Sqrt(x ValueID) ValueID { return f.unary(OpSqrt, x) }

// GEP offsets ptr by off elements.
func (f *Function) GEP(ptr, off ValueID) ValueID {
	pt := f.typeOf(ptr)
	if ot := f.typeOf(off); ot.IsTile() {
		pt.Shape = slices.Clone(ot.Shape)
	}
	return f.emit(&Value{Op: OpGEP, Type: pt, Args: []ValueID{ptr, off}})
}

// Load reads through the pointer (tile) ptr.
func (f *Function) Load(ptr ValueID) ValueID {
	return f.add(&Value{Op: OpLoad, Type: f.typeOf(ptr).Deref(), Args: []ValueID{ptr}})
}

// Store writes val through ptr.
func (f *Function) Store(ptr, val ValueID) ValueID {
	return f.add(&Value{Op: OpStore, Type: Scalar(Void), Args: []ValueID{ptr, val}})
}

// MaskedLoad reads through ptr where mask is
// set and yields other elsewhere.
func (f *Function) MaskedLoad(ptr, mask, other ValueID) ValueID {
	return f.add(&Value{Op: OpMaskedLoad, Type: f.typeOf(ptr).Deref(), Args: []ValueID{ptr, mask, other}})
}

// MaskedStore writes val through ptr where mask is set.
func (f *Function) MaskedStore(ptr, val, mask ValueID) ValueID {
	return f.add(&Value{Op: OpMaskedStore, Type: Scalar(Void), Args: []ValueID{ptr, val, mask}})
}

// MaskedLoadAsync issues an asynchronous copy
// from global memory into a shared-memory tile.
// The result may only be read after a matching
// AsyncWait.
func (f *Function) MaskedLoadAsync(ptr, mask, other ValueID) ValueID {
	return f.add(&Value{Op: OpMaskedLoadAsync, Type: f.typeOf(ptr).Deref(), Args: []ValueID{ptr, mask, other}})
}

// AsyncWait blocks until at most n async
// copy groups are still in flight.
func (f *Function) AsyncWait(n int) ValueID {
	return f.add(&Value{Op: OpAsyncWait, Type: Scalar(Void), Imm: int64(n)})
}

// CopyToShared moves a distributed tile
// into shared memory.
func (f *Function) CopyToShared(x ValueID) ValueID {
	return f.add(&Value{Op: OpCopyToShared, Type: f.typeOf(x), Args: []ValueID{x}})
}

// CopyFromShared reads a shared tile back
// into a distributed layout.
func (f *Function) CopyFromShared(x ValueID) ValueID {
	return f.add(&Value{Op: OpCopyFromShared, Type: f.typeOf(x), Args: []ValueID{x}})
}

// Recoalesce converts between two
// distributed layouts of the same tile.
func (f *Function) Recoalesce(x ValueID) ValueID {
	return f.add(&Value{Op: OpRecoalesce, Type: f.typeOf(x), Args: []ValueID{x}})
}

// Reduce combines x along axis with op, using
// the scalar identity for missing elements.
// Reducing the only axis of a 1-D tile yields
// a scalar.
func (f *Function) Reduce(op ReduceOp, x ValueID, axis int, identity ValueID) ValueID {
	t := f.typeOf(x)
	out := Type{Elem: t.Elem}
	if axis >= 0 && axis < len(t.Shape) && len(t.Shape) > 1 {
		out.Shape = slices.Delete(slices.Clone(t.Shape), axis, axis+1)
	}
	return f.add(&Value{Op: OpReduce, Sub: uint8(op), Type: out, Axis: axis, Args: []ValueID{x, identity}})
}

// Dot returns a*b + c.
func (f *Function) Dot(a, b, c ValueID) ValueID {
	return f.add(&Value{Op: OpDot, Type: f.typeOf(c), Args: []ValueID{a, b, c}})
}

// Splat replicates the scalar x into a tile.
func (f *Function) Splat(x ValueID, shape ...int) ValueID {
	return f.emit(&Value{Op: OpSplat, Type: f.typeOf(x).WithShape(shape...), Args: []ValueID{x}})
}

// Broadcast expands the size-1 dims of x.
func (f *Function) Broadcast(x ValueID, shape ...int) ValueID {
	return f.emit(&Value{Op: OpBroadcast, Type: f.typeOf(x).WithShape(shape...), Args: []ValueID{x}})
}

// Reshape reinterprets x with a new shape
// holding the same number of elements.
func (f *Function) Reshape(x ValueID, shape ...int) ValueID {
	return f.emit(&Value{Op: OpReshape, Type: f.typeOf(x).WithShape(shape...), Args: []ValueID{x}})
}

// Downcast converts a single-element tile to a scalar.
func (f *Function) Downcast(x ValueID) ValueID {
	return f.add(&Value{Op: OpDowncast, Type: f.typeOf(x).Scalar(), Args: []ValueID{x}})
}

// Trans permutes the dims of x.
func (f *Function) Trans(x ValueID, perm ...int) ValueID {
	t := f.typeOf(x)
	shape := make([]int, len(perm))
	for i, p := range perm {
		if p >= 0 && p < len(t.Shape) {
			shape[i] = t.Shape[p]
		}
	}
	return f.add(&Value{Op: OpTrans, Type: t.WithShape(shape...), Perm: slices.Clone(perm), Args: []ValueID{x}})
}

// MakeRange returns the i32 tile [start, end).
func (f *Function) MakeRange(start, end int) ValueID {
	return f.emit(&Value{Op: OpMakeRange, Type: Tile(I32, end-start), Imm: int64(start)})
}

// ProgramID returns the block index along axis.
func (f *Function) ProgramID(axis int) ValueID {
	return f.emit(&Value{Op: OpProgramID, Type: Scalar(I32), Axis: axis})
}

// NumPrograms returns the grid size along axis.
func (f *Function) NumPrograms(axis int) ValueID {
	return f.emit(&Value{Op: OpNumPrograms, Type: Scalar(I32), Axis: axis})
}

// AtomicAdd adds val to *ptr where mask is set.
// A scalar AtomicAdd yields the old value;
// a tile AtomicAdd yields nothing.
func (f *Function) AtomicAdd(ptr, val, mask ValueID) ValueID {
	t := f.typeOf(val)
	if t.IsTile() {
		t = Scalar(Void)
	}
	return f.add(&Value{Op: OpAtomicAdd, Type: t, Args: []ValueID{ptr, val, mask}})
}

// AtomicCAS compares *ptr with cmp and
// stores val on equality, yielding the old value.
func (f *Function) AtomicCAS(ptr, cmp, val ValueID) ValueID {
	return f.add(&Value{Op: OpAtomicCAS, Type: f.typeOf(val), Args: []ValueID{ptr, cmp, val}})
}

// AtomicExch stores val to *ptr, yielding the old value.
func (f *Function) AtomicExch(ptr, val ValueID) ValueID {
	return f.add(&Value{Op: OpAtomicExch, Type: f.typeOf(val), Args: []ValueID{ptr, val}})
}

// Phi adds an empty phi of type t to the
// current block; see AddIncoming.
func (f *Function) Phi(t Type) ValueID {
	return f.add(&Value{Op: OpPhi, Type: t})
}

// AddIncoming adds the edge (pred, x) to phi.
func (f *Function) AddIncoming(phi, x ValueID, pred BlockID) {
	v := f.Value(phi)
	v.Args = append(v.Args, x)
	v.Preds = append(v.Preds, pred)
}

// Br ends the current block with a jump to dst.
func (f *Function) Br(dst BlockID) ValueID {
	return f.add(&Value{Op: OpBr, Type: Scalar(Void), Targets: []BlockID{dst}})
}

// CondBr ends the current block with a
// conditional branch on the scalar cond.
func (f *Function) CondBr(cond ValueID, yes, no BlockID) ValueID {
	return f.add(&Value{Op: OpCondBr, Type: Scalar(Void), Args: []ValueID{cond}, Targets: []BlockID{yes, no}})
}

// Ret ends the current block.
func (f *Function) Ret() ValueID {
	return f.add(&Value{Op: OpRet, Type: Scalar(Void)})
}

// Barrier adds an explicit block-wide barrier.
func (f *Function) Barrier() ValueID {
	return f.add(&Value{Op: OpBarrier, Type: Scalar(Void)})
}
