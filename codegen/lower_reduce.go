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
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/value"

	"github.com/SnellerInc/tilegen/analysis"
	"github.com/SnellerInc/tilegen/ints"
	"github.com/SnellerInc/tilegen/tir"
)

func (g *Generator) combine(op tir.ReduceOp, a, b value.Value) value.Value {
	switch op {
	case tir.RedAdd:
		return g.blk.NewAdd(a, b)
	case tir.RedFAdd:
		return g.blk.NewFAdd(a, b)
	case tir.RedMin:
		return g.blk.NewSelect(g.blk.NewICmp(enum.IPredSLT, a, b), a, b)
	case tir.RedMax:
		return g.blk.NewSelect(g.blk.NewICmp(enum.IPredSGT, a, b), a, b)
	case tir.RedUMin:
		return g.blk.NewSelect(g.blk.NewICmp(enum.IPredULT, a, b), a, b)
	case tir.RedUMax:
		return g.blk.NewSelect(g.blk.NewICmp(enum.IPredUGT, a, b), a, b)
	case tir.RedFMin:
		return g.blk.NewSelect(g.blk.NewFCmp(enum.FPredOLT, a, b), a, b)
	case tir.RedFMax:
		return g.blk.NewSelect(g.blk.NewFCmp(enum.FPredOGT, a, b), a, b)
	case tir.RedAnd:
		return g.blk.NewAnd(a, b)
	case tir.RedOr:
		return g.blk.NewOr(a, b)
	case tir.RedXor:
		return g.blk.NewXor(a, b)
	}
	g.fatalf(g.cur, errUnsupport, "reduction %s", op)
	return nil
}

func lowerReduce(g *Generator, v *tir.Value) {
	x := g.fn.Value(v.Args[0])
	l := g.layout(x.ID)
	switch l.Kind() {
	case analysis.KindScanline:
	case analysis.KindMMA:
		g.fatalf(v, errUnsupport, "reduction of a tensor-core accumulator")
	default:
		g.fatalf(v, errKind, "reduction of a %s tile", l.Kind())
	}
	if x.Type.Rank() == 1 && x.Type.Elem.Bits() == 32 {
		g.reduce1d(v, x)
		return
	}
	g.reducend(v, x, l.(*analysis.Scanline))
}

// reduce1d reduces within each warp with
// butterfly shuffles and then across warps
// through one scratch slot per warp
func (g *Generator) reduce1d(v, x *tir.Value) {
	op := v.ReduceOp()
	id := g.scalar(v.Args[1])
	elem := scalarType(x.Type)
	acc := id
	for _, key := range g.indices(x.ID) {
		acc = g.combine(op, acc, g.get(x.ID, key))
	}
	acc = g.blk.NewSelect(g.primary(x.ID), acc, id)
	suffix := "i32"
	if x.Type.Elem.IsFloat() {
		suffix = "f32"
	}
	for s := g.tgt.WarpSize / 2; s >= 1; s /= 2 {
		other := g.call("llvm.nvvm.shfl.sync.bfly."+suffix, elem,
			i32(-1), acc, i32(int64(s)), i32(0x1f))
		acc = g.combine(op, acc, other)
	}
	g.guard(g.eq(g.lane, 0), "red", func() {
		g.blk.NewStore(acc, g.scratchAddr(v, g.warp, elem))
	})
	g.barrier()
	res := id
	for w := 0; w < g.numWarps; w++ {
		ld := g.blk.NewLoad(elem, g.scratchAddr(v, i32(int64(w)), elem))
		res = g.combine(op, res, ld)
	}
	g.barrier()
	g.set(v.ID, idxkey{}, res)
}

// reducend folds locally, then combines the
// partial results of the threads along the
// reduced dim with a tree in scratch memory
func (g *Generator) reducend(v, x *tir.Value, l *analysis.Scanline) {
	op := v.ReduceOp()
	id := g.scalar(v.Args[1])
	elem := scalarType(x.Type)
	d := v.Axis

	threads := 1
	var tax value.Value = i32(0)
	if a := g.axesOf(x.ID)[d]; a != analysis.Unit {
		ld := l.DimOf(a)
		threads = l.MTS[ld]
		tax = g.threads[l.ID].coords[ld]
	}
	if !ints.IsPow2(threads) {
		g.fatalf(v, errUnsupport, "%d threads along the reduced dim", threads)
	}

	var outs []idxkey
	accs := make(map[idxkey]value.Value)
	for _, key := range g.indices(x.ID) {
		ok := key.drop(d)
		acc, seen := accs[ok]
		if !seen {
			acc = id
			outs = append(outs, ok)
		}
		accs[ok] = g.combine(op, acc, g.get(x.ID, key))
	}
	if v.Type.IsTile() {
		if n := len(g.indices(v.ID)); n != len(outs) {
			g.fatalf(v, errIndex, "%d partial results for %d lane elements", len(outs), n)
		}
	}
	outer := func(ok idxkey) value.Value {
		if !v.Type.IsTile() {
			return i32(0)
		}
		return g.linear(v.ID, ok)
	}
	slot := func(ok idxkey, t value.Value) value.Value {
		return g.add(g.mul(outer(ok), int64(threads)), t)
	}

	pri := g.primary(x.ID)
	g.guard(pri, "red", func() {
		for _, ok := range outs {
			g.blk.NewStore(accs[ok], g.scratchAddr(v, slot(ok, tax), elem))
		}
	})
	g.barrier()
	for s := threads / 2; s >= 1; s /= 2 {
		s := s
		g.guard(g.and1(g.ult(tax, int64(s)), pri), "tree", func() {
			for _, ok := range outs {
				dst := g.scratchAddr(v, slot(ok, tax), elem)
				a := g.blk.NewLoad(elem, dst)
				b := g.blk.NewLoad(elem, g.scratchAddr(v, slot(ok, g.addc(tax, int64(s))), elem))
				g.blk.NewStore(g.combine(op, a, b), dst)
			}
		})
		g.barrier()
	}
	for _, ok := range outs {
		g.set(v.ID, ok, g.blk.NewLoad(elem, g.scratchAddr(v, slot(ok, i32(0)), elem)))
	}
	g.barrier()
}
