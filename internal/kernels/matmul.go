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

package kernels

import (
	"github.com/SnellerInc/tilegen/analysis"
	"github.com/SnellerInc/tilegen/target"
	"github.com/SnellerInc/tilegen/tir"
)

// MatMul shape.
const (
	MatM = 16
	MatN = 16
	MatK = 16
)

// MatMul builds c = a*b for row-major f16 matrices
// a (16x16) and b (16x16) into the f32 matrix c.
// Both operands are staged through shared memory;
// a uses a swizzled layout. The accumulator uses
// the tensor-core layout of the target unless fma
// is set or the target has no tensor cores.
//
// Arguments: a, b *f16, c *f32.
func MatMul(cfg Config, fma bool) (*Kernel, error) {
	name := "matmul"
	if fma {
		name = "matmul_fma"
	}
	b := newBuilder(name, cfg)
	f, an := b.f, b.an
	a := f.Arg("a", tir.PtrTo(tir.F16))
	bm := f.Arg("b", tir.PtrTo(tir.F16))
	c := f.Arg("c", tir.PtrTo(tir.F32))

	operand := func(ptr tir.ValueID, name string, rows, cols int) (tir.ValueID, *analysis.Shared) {
		l := an.Scanline([]int{rows, cols}, nil, []int{8, 4}, []int{1, 4})
		offs := b.offsets2d(l, name, cols)
		sp := f.Splat(ptr, rows, cols)
		p := f.GEP(sp, offs)
		v := f.Load(p)
		an.Bind(l, sp, p, v)
		an.SetFacts(p, analysis.Facts{Contiguity: []int{1, 4}, Divisibility: []int{1, 4}})
		sh := an.Shared(tir.F16, []int{rows, cols}, nil)
		s := f.CopyToShared(v)
		an.Bind(sh, s)
		return s, sh
	}
	sa, la := operand(a, "a", MatM, MatK)
	sb, _ := operand(bm, "b", MatK, MatN)
	an.SetSwizzle(la, analysis.Swizzle{Vec: 4, PerPhase: 1, MaxPhase: 4})

	var acc analysis.Layout
	if gen := cfg.Target.TensorCore; !fma && gen != target.NoTensorCore {
		acc = an.MMA(gen, []int{MatM, MatN}, 1, 1)
	} else {
		acc = an.Scanline([]int{MatM, MatN}, nil, []int{8, 4}, []int{1, 2})
	}
	zero := f.Splat(b.f32(0), MatM, MatN)
	d := f.Dot(sa, sb, zero)
	an.Bind(acc, zero, d)
	offs := b.offsets2d(acc, "c", MatN)
	sc := f.Splat(c, MatM, MatN)
	pc := f.GEP(sc, offs)
	an.Bind(acc, sc, pc)
	f.Store(pc, d)
	f.Ret()
	return b.done()
}

// Transpose shape.
const (
	TransRows = 16
	TransCols = 32
)

// Transpose builds y = transpose(x) for the row-major
// 16x32 f32 matrix x. The transposed tile is
// recoalesced so that the stores of y are
// contiguous per thread.
//
// Arguments: x *f32, y *f32.
func Transpose(cfg Config) (*Kernel, error) {
	const m, n = TransRows, TransCols
	b := newBuilder("transpose", cfg)
	f, an := b.f, b.an
	x := f.Arg("x", tir.PtrTo(tir.F32))
	y := f.Arg("y", tir.PtrTo(tir.F32))

	lx := an.Scanline([]int{m, n}, nil, []int{8, 4}, []int{1, 4})
	offs := b.offsets2d(lx, "x", n)
	sx := f.Splat(x, m, n)
	px := f.GEP(sx, offs)
	v := f.Load(px)
	an.Bind(lx, sx, px, v)
	t := f.Trans(v, 1, 0)
	an.BindDims(lx, t, 1, 0)

	ly := an.Scanline([]int{n, m}, nil, []int{8, 4}, []int{1, 4})
	r := f.Recoalesce(t)
	an.Bind(ly, r)
	offy := b.offsets2d(ly, "y", m)
	sy := f.Splat(y, n, m)
	py := f.GEP(sy, offy)
	an.Bind(ly, sy, py)
	an.SetFacts(py, analysis.Facts{Contiguity: []int{1, 4}, Divisibility: []int{1, 4}})
	f.Store(py, r)
	f.Ret()
	return b.done()
}
