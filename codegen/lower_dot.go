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
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/SnellerInc/tilegen/analysis"
	"github.com/SnellerInc/tilegen/target"
	"github.com/SnellerInc/tilegen/tir"
)

// dotStrategy is the matrix-multiply lowering
// used for tensor-core accumulators
type dotStrategy int

const (
	dotFMA dotStrategy = iota
	dotMMA884
	dotMMA16816
)

func selectDot(tgt *target.Target) dotStrategy {
	switch tgt.TensorCore {
	case target.MMA884:
		return dotMMA884
	case target.MMA16816:
		return dotMMA16816
	}
	return dotFMA
}

func (d dotStrategy) gen() target.Generation {
	switch d {
	case dotMMA884:
		return target.MMA884
	case dotMMA16816:
		return target.MMA16816
	}
	return target.NoTensorCore
}

// operand roles
const (
	roleA = iota
	roleB
)

type offsetKey struct {
	layout   int
	base     value.Value
	row, col value.Value
	role     uint8
	blk      tir.BlockID
}

// operandPtr returns the address of element
// (row, col) of the shared dot operand id
func (g *Generator) operandPtr(id tir.ValueID, row, col value.Value, role uint8) value.Value {
	sh := g.sharedLayout(id)
	k := offsetKey{layout: sh.ID, base: g.base(id), row: row, col: col, role: role, blk: g.tblk}
	if p, ok := g.offsets[k]; ok {
		return p
	}
	p := g.sharedPtr(id, []value.Value{row, col})
	g.offsets[k] = p
	return p
}

func lowerDot(g *Generator, v *tir.Value) {
	a, b, c := v.Args[0], v.Args[1], v.Args[2]
	if !g.isShared(a) || !g.isShared(b) {
		g.fatalf(v, errKind, "dot operands must be in shared memory")
	}
	if g.isShared(c) || g.isShared(v.ID) {
		g.fatalf(v, errKind, "dot accumulator must be distributed")
	}
	g.sameIndices(v.ID, c)
	mma, ok := g.layout(v.ID).(*analysis.MMA)
	if !ok {
		g.fmadot(v)
		return
	}
	if g.dot == dotFMA || mma.Gen != g.dot.gen() {
		g.fatalf(v, errTarget, "%s accumulator on a target using %s", mma.Gen, g.dot.gen())
	}
	if g.fn.Value(a).Type.Elem != tir.F16 || g.fn.Value(b).Type.Elem != tir.F16 || v.Type.Elem != tir.F32 {
		g.fatalf(v, errUnsupport, "tensor-core dot of %s x %s into %s",
			g.fn.Value(a).Type.Elem, g.fn.Value(b).Type.Elem, v.Type.Elem)
	}
	g.mmadot(v, mma)
}

// fmadot computes every accumulator element
// with one fused multiply-add per k
func (g *Generator) fmadot(v *tir.Value) {
	a, b, c := v.Args[0], v.Args[1], v.Args[2]
	K := g.fn.Value(a).Type.Shape[1]
	aelem := scalarType(g.fn.Value(a).Type)
	belem := scalarType(g.fn.Value(b).Type)
	acct := types.Type(types.Float)
	fma := "llvm.fma.f32"
	if v.Type.Elem == tir.F64 {
		acct, fma = types.Double, "llvm.fma.f64"
	}
	out := scalarType(v.Type)
	widen := func(x value.Value) value.Value {
		if x.Type().Equal(acct) {
			return x
		}
		return g.blk.NewFPExt(x, acct)
	}
	type opkey struct {
		coord value.Value
		k     int
	}
	as := make(map[opkey]value.Value)
	bs := make(map[opkey]value.Value)
	for _, key := range g.indices(v.ID) {
		row, col := g.coord(v.ID, key, 0), g.coord(v.ID, key, 1)
		acc := widen(g.get(c, key))
		for k := 0; k < K; k++ {
			kv := i32(int64(k))
			x, ok := as[opkey{row, k}]
			if !ok {
				x = widen(g.blk.NewLoad(aelem, g.operandPtr(a, row, kv, roleA)))
				as[opkey{row, k}] = x
			}
			y, ok := bs[opkey{col, k}]
			if !ok {
				y = widen(g.blk.NewLoad(belem, g.operandPtr(b, kv, col, roleB)))
				bs[opkey{col, k}] = y
			}
			acc = g.call(fma, acct, x, y, acc)
		}
		if !acc.Type().Equal(out) {
			acc = g.blk.NewFPTrunc(acc, out)
		}
		g.set(v.ID, key, acc)
	}
}

// fragment holds the lane-dependent warp-tile
// coordinates of the A and B fragments
type fragment struct {
	gen        target.Generation
	aRow, bCol value.Value
	aK, bK     []value.Value
}

func (g *Generator) fragments(gen target.Generation) *fragment {
	na, nb, _ := gen.Regs()
	f := &fragment{gen: gen, aK: make([]value.Value, na), bK: make([]value.Value, nb)}
	switch gen {
	case target.MMA884:
		qp := g.udiv(g.urem(g.lane, 16), 4)
		qpm, qpn := g.urem(qp, 2), g.udiv(qp, 2)
		local := g.add(g.urem(g.lane, 4), g.mul(g.udiv(g.lane, 16), 4))
		f.aRow = g.add(g.mul(qpm, 8), local)
		f.bCol = g.add(g.mul(qpn, 8), local)
		for i := range f.aK {
			f.aK[i] = i32(int64(i))
		}
		for i := range f.bK {
			f.bK[i] = i32(int64(i))
		}
	case target.MMA16816:
		gid := g.udiv(g.lane, 4)
		tig2 := g.mul(g.urem(g.lane, 4), 2)
		f.aRow = gid
		f.bCol = gid
		for i := range f.aK {
			f.aK[i] = g.addc(tig2, int64(i&1+8*(i>>2)))
		}
		for i := range f.bK {
			f.bK[i] = g.addc(tig2, int64(i&1+8*(i>>1)))
		}
	}
	return f
}

// aRowOf returns the warp-tile row of A
// element i of the fragment
func (f *fragment) aRowOf(g *Generator, i int) value.Value {
	if f.gen == target.MMA16816 {
		return g.addc(f.aRow, int64(8*((i>>1)&1)))
	}
	return f.aRow
}

// mmadot issues one tensor-core instruction per
// warp tile, repetition and k-step
func (g *Generator) mmadot(v *tir.Value, l *analysis.MMA) {
	a, b, c := v.Args[0], v.Args[1], v.Args[2]
	gen := l.Gen
	wt := gen.WarpTile()
	K := g.fn.Value(a).Type.Shape[1]
	if K%wt.K != 0 {
		g.fatalf(v, errShape, "k=%d is not a multiple of %d", K, wt.K)
	}
	reps0, reps1 := l.Reps()
	tc := g.threads[l.ID]
	wm, wn := tc.coords[0], tc.coords[1]
	na, nb, nc := gen.Regs()
	f := g.fragments(gen)
	half2 := types.NewVector(2, types.Half)
	fields := make([]types.Type, nc)
	for i := range fields {
		fields[i] = types.Float
	}
	ret := types.NewStruct(fields...)
	axes := g.axesOf(v.ID)
	colsPerRep := len(gen.LaneCols(0))
	ckey := func(r0, r1, i int) idxkey {
		rp, cp := gen.AccumPos(i)
		var k idxkey
		k[0] = mkent(axes[0], r0*2+rp)
		k[1] = mkent(axes[1], r1*colsPerRep+cp)
		return k
	}
	acc := make(map[idxkey]value.Value)
	for _, key := range g.indices(v.ID) {
		acc[key] = g.get(c, key)
	}
	load2 := func(id tir.ValueID, rc [2][2]value.Value, role uint8) value.Value {
		var vec value.Value = constant.NewUndef(half2)
		for j := 0; j < 2; j++ {
			x := g.blk.NewLoad(types.Half, g.operandPtr(id, rc[j][0], rc[j][1], role))
			vec = g.blk.NewInsertElement(vec, x, i32(int64(j)))
		}
		return vec
	}
	for ks := 0; ks < K/wt.K; ks++ {
		k0 := int64(ks * wt.K)
		afrag := make([][]value.Value, reps0)
		for r := 0; r < reps0; r++ {
			rowBase := g.addc(g.mul(wm, int64(wt.M)), int64(r*wt.M*l.WPT[0]))
			regs := make([]value.Value, na/2)
			for j := range regs {
				var rc [2][2]value.Value
				for e := 0; e < 2; e++ {
					i := 2*j + e
					rc[e] = [2]value.Value{g.add(rowBase, f.aRowOf(g, i)), g.addc(f.aK[i], k0)}
				}
				regs[j] = load2(a, rc, roleA)
			}
			afrag[r] = regs
		}
		bfrag := make([][]value.Value, reps1)
		for r := 0; r < reps1; r++ {
			colBase := g.addc(g.mul(wn, int64(wt.N)), int64(r*wt.N*l.WPT[1]))
			regs := make([]value.Value, nb/2)
			for j := range regs {
				var rc [2][2]value.Value
				for e := 0; e < 2; e++ {
					i := 2*j + e
					rc[e] = [2]value.Value{g.addc(f.bK[i], k0), g.add(colBase, f.bCol)}
				}
				regs[j] = load2(b, rc, roleB)
			}
			bfrag[r] = regs
		}
		for r0 := 0; r0 < reps0; r0++ {
			for r1 := 0; r1 < reps1; r1++ {
				args := make([]value.Value, 0, na/2+nb/2+nc)
				args = append(args, afrag[r0]...)
				args = append(args, bfrag[r1]...)
				for i := 0; i < nc; i++ {
					x, ok := acc[ckey(r0, r1, i)]
					if !ok {
						g.fatalf(v, errIndex, "accumulator has no element %d of repetition (%d, %d)", i, r0, r1)
					}
					args = append(args, x)
				}
				d := g.call(gen.Intrinsic(), ret, args...)
				for i := 0; i < nc; i++ {
					acc[ckey(r0, r1, i)] = g.blk.NewExtractValue(d, uint64(i))
				}
			}
		}
	}
	for key, x := range acc {
		g.set(v.ID, key, x)
	}
}
