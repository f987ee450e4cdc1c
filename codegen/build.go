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

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/SnellerInc/tilegen/ints"
	"github.com/SnellerInc/tilegen/tir"
)

// address spaces
const (
	spaceGeneric  = 0
	spaceGlobal   = 1
	spaceShared   = 3
	spaceConstant = 4
)

func ptrType(elem types.Type, space int) *types.PointerType {
	p := types.NewPointer(elem)
	p.AddrSpace = types.AddrSpace(space)
	return p
}

// elemType returns the LLVM type of a scalar kind;
// pointers are global pointers.
func elemType(k, pointee tir.Kind) types.Type {
	switch k {
	case tir.I1:
		return types.I1
	case tir.I8:
		return types.I8
	case tir.I16:
		return types.I16
	case tir.I32:
		return types.I32
	case tir.I64:
		return types.I64
	case tir.F16:
		return types.Half
	case tir.F32:
		return types.Float
	case tir.F64:
		return types.Double
	case tir.Void:
		return types.Void
	case tir.Ptr:
		return ptrType(elemType(pointee, tir.KindInvalid), spaceGlobal)
	}
	panic(fmt.Sprintf("codegen: no LLVM type for %s", k))
}

// scalarType returns the per-lane LLVM type of t.
func scalarType(t tir.Type) types.Type {
	return elemType(t.Elem, t.Pointee)
}

// typeSuffix is the overload suffix of t in
// intrinsic names (f32, v4f16, ...)
func typeSuffix(t types.Type) string {
	switch t := t.(type) {
	case *types.IntType:
		return fmt.Sprintf("i%d", t.BitSize)
	case *types.FloatType:
		switch t.Kind {
		case types.FloatKindHalf:
			return "f16"
		case types.FloatKindFloat:
			return "f32"
		case types.FloatKindDouble:
			return "f64"
		}
	case *types.VectorType:
		return fmt.Sprintf("v%d%s", t.Len, typeSuffix(t.ElemType))
	case *types.PointerType:
		return fmt.Sprintf("p%d%s", uint64(t.AddrSpace), typeSuffix(t.ElemType))
	}
	panic(fmt.Sprintf("codegen: no intrinsic suffix for %s", t))
}

// typeBytes returns the store size of a scalar type
func typeBytes(t types.Type) int64 {
	switch t := t.(type) {
	case *types.IntType:
		return max(int64(t.BitSize)/8, 1)
	case *types.FloatType:
		switch t.Kind {
		case types.FloatKindHalf:
			return 2
		case types.FloatKindDouble:
			return 8
		}
		return 4
	case *types.PointerType:
		return 8
	case *types.VectorType:
		return int64(t.Len) * typeBytes(t.ElemType)
	}
	panic(fmt.Sprintf("codegen: no size for %s", t))
}

func i32(x int64) *constant.Int { return constant.NewInt(types.I32, x) }

func i1(b bool) *constant.Int { return constant.NewBool(b) }

// constInt returns the value of an integer constant.
func constInt(v value.Value) (int64, bool) {
	if c, ok := v.(*constant.Int); ok && c.X.IsInt64() {
		return c.X.Int64(), true
	}
	return 0, false
}

// integer helpers used for index arithmetic;
// they fold constants so that index expressions
// stay small

func (g *Generator) add(x, y value.Value) value.Value {
	a, aok := constInt(x)
	b, bok := constInt(y)
	switch {
	case aok && bok:
		return constant.NewInt(x.Type().(*types.IntType), a+b)
	case aok && a == 0:
		return y
	case bok && b == 0:
		return x
	}
	return g.blk.NewAdd(x, y)
}

func (g *Generator) sub(x, y value.Value) value.Value {
	a, aok := constInt(x)
	b, bok := constInt(y)
	switch {
	case aok && bok:
		return constant.NewInt(x.Type().(*types.IntType), a-b)
	case bok && b == 0:
		return x
	}
	return g.blk.NewSub(x, y)
}

func (g *Generator) mul(x value.Value, c int64) value.Value {
	if a, ok := constInt(x); ok {
		return constant.NewInt(x.Type().(*types.IntType), a*c)
	}
	switch {
	case c == 0:
		return constant.NewInt(x.Type().(*types.IntType), 0)
	case c == 1:
		return x
	case ints.IsPow2(c):
		return g.blk.NewShl(x, constant.NewInt(x.Type().(*types.IntType), int64(ints.Log2(c))))
	}
	return g.blk.NewMul(x, constant.NewInt(x.Type().(*types.IntType), c))
}

func (g *Generator) addc(x value.Value, c int64) value.Value {
	return g.add(x, constant.NewInt(x.Type().(*types.IntType), c))
}

// udiv and urem by a power of two
func (g *Generator) udiv(x value.Value, c int64) value.Value {
	if !ints.IsPow2(c) {
		g.fatalf(g.cur, errUnsupport, "division by %d is not a power of two", c)
	}
	if a, ok := constInt(x); ok {
		return constant.NewInt(x.Type().(*types.IntType), a/c)
	}
	if c == 1 {
		return x
	}
	return g.blk.NewLShr(x, constant.NewInt(x.Type().(*types.IntType), int64(ints.Log2(c))))
}

func (g *Generator) urem(x value.Value, c int64) value.Value {
	if !ints.IsPow2(c) {
		g.fatalf(g.cur, errUnsupport, "remainder by %d is not a power of two", c)
	}
	if a, ok := constInt(x); ok {
		return constant.NewInt(x.Type().(*types.IntType), a%c)
	}
	if c == 1 {
		return constant.NewInt(x.Type().(*types.IntType), 0)
	}
	return g.blk.NewAnd(x, constant.NewInt(x.Type().(*types.IntType), c-1))
}

func (g *Generator) xor(x, y value.Value) value.Value {
	a, aok := constInt(x)
	b, bok := constInt(y)
	switch {
	case aok && bok:
		return constant.NewInt(x.Type().(*types.IntType), a^b)
	case aok && a == 0:
		return y
	case bok && b == 0:
		return x
	}
	return g.blk.NewXor(x, y)
}

func (g *Generator) eq(x value.Value, c int64) value.Value {
	if a, ok := constInt(x); ok {
		return i1(a == c)
	}
	return g.blk.NewICmp(enum.IPredEQ, x, constant.NewInt(x.Type().(*types.IntType), c))
}

func (g *Generator) ult(x value.Value, c int64) value.Value {
	if a, ok := constInt(x); ok {
		return i1(uint64(a) < uint64(c))
	}
	return g.blk.NewICmp(enum.IPredULT, x, constant.NewInt(x.Type().(*types.IntType), c))
}

// and1 is the conjunction of two predicates
func (g *Generator) and1(x, y value.Value) value.Value {
	a, aok := constInt(x)
	b, bok := constInt(y)
	switch {
	case aok && a != 0:
		return y
	case bok && b != 0:
		return x
	case (aok && a == 0) || (bok && b == 0):
		return i1(false)
	}
	return g.blk.NewAnd(x, y)
}

// intrinsic returns the declaration of name,
// adding it to the module on first use
func (g *Generator) intrinsic(name string, ret types.Type, params ...types.Type) *ir.Func {
	if f, ok := g.decls[name]; ok {
		return f
	}
	ps := make([]*ir.Param, len(params))
	for i := range params {
		ps[i] = ir.NewParam("", params[i])
	}
	f := g.mod.NewFunc(name, ret, ps...)
	g.decls[name] = f
	return f
}

func (g *Generator) call(name string, ret types.Type, args ...value.Value) *ir.InstCall {
	params := make([]types.Type, len(args))
	for i := range args {
		params[i] = args[i].Type()
	}
	return g.blk.NewCall(g.intrinsic(name, ret, params...), args...)
}

// sreg reads a special register
func (g *Generator) sreg(name string) value.Value {
	return g.call("llvm.nvvm.read.ptx.sreg."+name, types.I32)
}

// gep offsets ptr by idx elements, keeping
// the address space of ptr
func (g *Generator) gep(ptr, idx value.Value) value.Value {
	pt := ptr.Type().(*types.PointerType)
	if c, ok := constInt(idx); ok && c == 0 {
		return ptr
	}
	inst := g.blk.NewGetElementPtr(pt.ElemType, ptr, idx)
	inst.Typ = pt
	return inst
}

// cast ptr to a pointer to elem in the same space
func (g *Generator) recast(ptr value.Value, elem types.Type) value.Value {
	pt := ptr.Type().(*types.PointerType)
	if pt.ElemType.Equal(elem) {
		return ptr
	}
	return g.blk.NewBitCast(ptr, ptrType(elem, int(pt.AddrSpace)))
}

// newBlock adds an LLVM block owned by the
// tile-IR block being lowered
func (g *Generator) newBlock(suffix string) *ir.Block {
	g.nblocks++
	name := fmt.Sprintf("%s.%s%d", g.fn.Blocks[g.tblk].Name, suffix, g.nblocks)
	b := g.f.NewBlock(name)
	g.meta.Blocks[g.tblk] = append(g.meta.Blocks[g.tblk], b)
	return b
}

// phi appends a phi of type typ with no
// incomings yet; ir.NewPhi derives the type
// from the first incoming
func (g *Generator) phi(typ types.Type) *ir.InstPhi {
	phi := &ir.InstPhi{Typ: typ}
	g.blk.Insts = append(g.blk.Insts, phi)
	return phi
}

// guard emits body in a block that only runs
// when cond holds and moves the insertion point
// to the join block
func (g *Generator) guard(cond value.Value, suffix string, body func()) {
	if c, ok := constInt(cond); ok {
		if c != 0 {
			body()
		}
		return
	}
	then := g.newBlock(suffix)
	join := g.newBlock(suffix + ".join")
	g.blk.NewCondBr(cond, then, join)
	g.blk = then
	body()
	g.blk.NewBr(join)
	g.blk = join
}
