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
	"math"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/SnellerInc/tilegen/internal/f16"
	"github.com/SnellerInc/tilegen/tir"
)

// operand returns element key of x; scalars
// are uniform and match every key
func (g *Generator) operand(x tir.ValueID, key idxkey) value.Value {
	if !g.fn.Value(x).Type.IsTile() {
		return g.scalar(x)
	}
	return g.get(x, key)
}

// elementwise returns the index tuples of v,
// which every tile operand must share
func (g *Generator) elementwise(v *tir.Value, args ...tir.ValueID) []idxkey {
	ids := []tir.ValueID{v.ID}
	for _, a := range args {
		if g.fn.Value(a).Type.IsTile() {
			ids = append(ids, a)
		}
	}
	if v.Type.IsTile() {
		return g.sameIndices(ids...)
	}
	return g.indices(v.ID)
}

func lowerArgument(g *Generator, v *tir.Value) {
	g.set(v.ID, idxkey{}, g.f.Params[v.Imm])
}

func lowerConstInt(g *Generator, v *tir.Value) {
	var c constant.Constant
	if v.Type.Elem == tir.I1 {
		c = constant.NewBool(v.Imm != 0)
	} else {
		c = constant.NewInt(scalarType(v.Type).(*types.IntType), v.Imm)
	}
	g.set(v.ID, idxkey{}, c)
}

func lowerConstFloat(g *Generator, v *tir.Value) {
	g.set(v.ID, idxkey{}, floatConst(v.Type.Elem, v.Float))
}

// floatConst returns x rounded to kind k
func floatConst(k tir.Kind, x float64) *constant.Float {
	switch k {
	case tir.F16:
		return constant.NewFloat(types.Half, float64(f16.Round(float32(x))))
	case tir.F32:
		return constant.NewFloat(types.Float, float64(float32(x)))
	}
	return constant.NewFloat(types.Double, x)
}

func lowerUndef(g *Generator, v *tir.Value) {
	if g.isShared(v.ID) {
		g.base(v.ID)
		return
	}
	u := constant.NewUndef(scalarType(v.Type))
	for _, key := range g.indices(v.ID) {
		g.set(v.ID, key, u)
	}
}

// lowerAllocConst declares the constant array
// once per module and yields a pointer to its
// first element
func lowerAllocConst(g *Generator, v *tir.Value) {
	elem := elemType(v.Type.Pointee, tir.KindInvalid)
	var gl *ir.Global
	for _, x := range g.mod.Globals {
		if x.Name() == v.Name {
			gl = x
		}
	}
	content := types.NewArray(uint64(v.Imm), elem)
	if gl == nil {
		gl = g.mod.NewGlobal(v.Name, content)
		gl.Linkage = enum.LinkageExternal
		gl.Immutable = true
		gl.AddrSpace = spaceConstant
		gl.Typ = ptrType(content, spaceConstant)
	} else if !gl.ContentType.Equal(content) {
		g.fatalf(v, errShape, "constant @%s is declared as %s, not %s", v.Name, gl.ContentType, content)
	}
	gep := g.blk.NewGetElementPtr(content, gl, i32(0), i32(0))
	gep.InBounds = true
	gep.Typ = ptrType(elem, spaceConstant)
	g.set(v.ID, idxkey{}, gep)
}

func lowerBinary(g *Generator, v *tir.Value) {
	x, y := v.Args[0], v.Args[1]
	for _, key := range g.elementwise(v, x, y) {
		g.set(v.ID, key, g.binop(v, v.BinOp(), g.operand(x, key), g.operand(y, key)))
	}
}

func (g *Generator) binop(v *tir.Value, op tir.BinOp, x, y value.Value) value.Value {
	switch op {
	case tir.Add:
		return g.blk.NewAdd(x, y)
	case tir.Sub:
		return g.blk.NewSub(x, y)
	case tir.Mul:
		return g.blk.NewMul(x, y)
	case tir.SDiv:
		return g.blk.NewSDiv(x, y)
	case tir.UDiv:
		return g.blk.NewUDiv(x, y)
	case tir.SRem:
		return g.blk.NewSRem(x, y)
	case tir.URem:
		return g.blk.NewURem(x, y)
	case tir.Shl:
		return g.blk.NewShl(x, y)
	case tir.LShr:
		return g.blk.NewLShr(x, y)
	case tir.AShr:
		return g.blk.NewAShr(x, y)
	case tir.And:
		return g.blk.NewAnd(x, y)
	case tir.Or:
		return g.blk.NewOr(x, y)
	case tir.Xor:
		return g.blk.NewXor(x, y)
	case tir.FAdd:
		return g.blk.NewFAdd(x, y)
	case tir.FSub:
		return g.blk.NewFSub(x, y)
	case tir.FMul:
		return g.blk.NewFMul(x, y)
	case tir.FDiv:
		return g.blk.NewFDiv(x, y)
	case tir.FRem:
		return g.blk.NewFRem(x, y)
	}
	g.fatalf(v, errUnsupport, "binary op %s", op)
	return nil
}

var ipreds = [...]enum.IPred{
	tir.EQ:  enum.IPredEQ,
	tir.NE:  enum.IPredNE,
	tir.SLT: enum.IPredSLT,
	tir.SLE: enum.IPredSLE,
	tir.SGT: enum.IPredSGT,
	tir.SGE: enum.IPredSGE,
	tir.ULT: enum.IPredULT,
	tir.ULE: enum.IPredULE,
	tir.UGT: enum.IPredUGT,
	tir.UGE: enum.IPredUGE,
}

var fpreds = [...]enum.FPred{
	tir.OEQ - tir.OEQ: enum.FPredOEQ,
	tir.ONE - tir.OEQ: enum.FPredONE,
	tir.OLT - tir.OEQ: enum.FPredOLT,
	tir.OLE - tir.OEQ: enum.FPredOLE,
	tir.OGT - tir.OEQ: enum.FPredOGT,
	tir.OGE - tir.OEQ: enum.FPredOGE,
}

func lowerCmp(g *Generator, v *tir.Value) {
	x, y := v.Args[0], v.Args[1]
	p := v.Pred()
	for _, key := range g.elementwise(v, x, y) {
		a, b := g.operand(x, key), g.operand(y, key)
		var r value.Value
		if v.Op == tir.OpFCmp {
			r = g.blk.NewFCmp(fpreds[p-tir.OEQ], a, b)
		} else {
			r = g.blk.NewICmp(ipreds[p], a, b)
		}
		g.set(v.ID, key, r)
	}
}

func lowerCast(g *Generator, v *tir.Value) {
	x := v.Args[0]
	to := scalarType(v.Type)
	for _, key := range g.elementwise(v, x) {
		g.set(v.ID, key, g.cast(v, v.CastKind(), g.operand(x, key), to))
	}
}

func (g *Generator) cast(v *tir.Value, c tir.CastKind, x value.Value, to types.Type) value.Value {
	if x.Type().Equal(to) {
		return x
	}
	switch c {
	case tir.Trunc:
		return g.blk.NewTrunc(x, to)
	case tir.ZExt:
		return g.blk.NewZExt(x, to)
	case tir.SExt:
		return g.blk.NewSExt(x, to)
	case tir.FPTrunc:
		return g.blk.NewFPTrunc(x, to)
	case tir.FPExt:
		return g.blk.NewFPExt(x, to)
	case tir.FPToSI:
		return g.blk.NewFPToSI(x, to)
	case tir.FPToUI:
		return g.blk.NewFPToUI(x, to)
	case tir.SIToFP:
		return g.blk.NewSIToFP(x, to)
	case tir.UIToFP:
		return g.blk.NewUIToFP(x, to)
	case tir.PtrToInt:
		return g.blk.NewPtrToInt(x, to)
	case tir.IntToPtr:
		return g.blk.NewIntToPtr(x, to)
	case tir.Bitcast:
		return g.blk.NewBitCast(x, to)
	}
	g.fatalf(v, errUnsupport, "cast %s", c)
	return nil
}

func lowerSelect(g *Generator, v *tir.Value) {
	c, x, y := v.Args[0], v.Args[1], v.Args[2]
	for _, key := range g.elementwise(v, c, x, y) {
		g.set(v.ID, key, g.blk.NewSelect(g.operand(c, key), g.operand(x, key), g.operand(y, key)))
	}
}

// transcendental functions are computed in
// f32 with the approximate base-2 intrinsics;
// f16 inputs are widened first
func lowerMath(g *Generator, v *tir.Value) {
	x := v.Args[0]
	for _, key := range g.elementwise(v, x) {
		g.set(v.ID, key, g.math(v, g.operand(x, key)))
	}
}

func (g *Generator) math(v *tir.Value, x value.Value) value.Value {
	if v.Type.Elem == tir.F64 {
		var name string
		switch v.Op {
		case tir.OpExp:
			name = "llvm.exp.f64"
		case tir.OpLog:
			name = "llvm.log.f64"
		default:
			name = "llvm.sqrt.f64"
		}
		return g.call(name, types.Double, x)
	}
	half := v.Type.Elem == tir.F16
	if half {
		x = g.blk.NewFPExt(x, types.Float)
	}
	var r value.Value
	switch v.Op {
	case tir.OpExp:
		s := g.blk.NewFMul(x, floatConst(tir.F32, math.Log2E))
		r = g.call("llvm.nvvm.ex2.approx.f", types.Float, s)
	case tir.OpLog:
		l := g.call("llvm.nvvm.lg2.approx.f", types.Float, x)
		r = g.blk.NewFMul(l, floatConst(tir.F32, math.Ln2))
	default:
		r = g.call("llvm.sqrt.f32", types.Float, x)
	}
	if half {
		r = g.blk.NewFPTrunc(r, types.Half)
	}
	return r
}

func lowerGEP(g *Generator, v *tir.Value) {
	p, off := v.Args[0], v.Args[1]
	for _, key := range g.elementwise(v, p, off) {
		g.set(v.ID, key, g.gep(g.operand(p, key), g.operand(off, key)))
	}
}
