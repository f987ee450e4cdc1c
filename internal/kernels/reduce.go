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
	"fmt"

	"github.com/SnellerInc/tilegen/tir"
)

func identity(b *builder, k tir.Kind, op tir.ReduceOp) (tir.ValueID, error) {
	switch op {
	case tir.RedAdd, tir.RedOr, tir.RedXor, tir.RedUMax:
		return b.f.ConstInt(k, 0), nil
	case tir.RedFAdd:
		return b.f.ConstFloat(k, 0), nil
	case tir.RedMax:
		return b.f.ConstInt(k, -1<<(k.Bits()-1)), nil
	case tir.RedMin:
		return b.f.ConstInt(k, 1<<(k.Bits()-1)-1), nil
	}
	return tir.NoValue, fmt.Errorf("kernels: no identity for %s", op)
}

// Reduce1D builds *out = op(x[0:n]) with two
// elements per thread.
//
// Arguments: x, out *k.
func Reduce1D(cfg Config, k tir.Kind, op tir.ReduceOp) (*Kernel, error) {
	threads := cfg.threads()
	n := threads * 2
	b := newBuilder(fmt.Sprintf("reduce_%s_%s", op, k), cfg)
	f := b.f
	x := f.Arg("x", tir.PtrTo(k))
	out := f.Arg("out", tir.PtrTo(k))
	id, err := identity(b, k, op)
	if err != nil {
		return nil, err
	}
	v := f.Load(f.GEP(f.Splat(x, n), f.MakeRange(0, n)))
	f.Store(out, f.Reduce(op, v, 0, id))
	f.Ret()

	b.bindRest(b.an.Scanline([]int{n}, nil, []int{threads}, []int{2}))
	return b.done()
}

// Reduce2D shape.
const (
	ReduceRows = 32
	ReduceCols = 16
)

// Reduce2D builds the f32 sums of the row-major
// 32x16 matrix x along axis; out receives 16
// column sums for axis 0 and 32 row sums for
// axis 1.
//
// Arguments: x, out *f32.
func Reduce2D(cfg Config, axis int) (*Kernel, error) {
	const m, n = ReduceRows, ReduceCols
	if axis != 0 && axis != 1 {
		return nil, fmt.Errorf("kernels: reduce axis %d", axis)
	}
	b := newBuilder(fmt.Sprintf("reduce_axis%d", axis), cfg)
	f, an := b.f, b.an
	x := f.Arg("x", tir.PtrTo(tir.F32))
	out := f.Arg("out", tir.PtrTo(tir.F32))

	l := an.Scanline([]int{m, n}, nil, []int{8, 4}, []int{1, 2})
	offs := b.offsets2d(l, "x", n)
	px := f.GEP(f.Splat(x, m, n), offs)
	v := f.Load(px)
	an.Bind(l, px, v, f.Value(px).Args[0])

	keep := 1 - axis
	red := f.Reduce(tir.RedFAdd, v, axis, b.f32(0))
	an.BindDims(l, red, keep)
	size := l.Shape[keep]
	ro := f.Named("out").MakeRange(0, size)
	an.BindDims(l, ro, keep)
	po := f.GEP(f.Splat(out, size), ro)
	an.BindDims(l, po, keep)
	an.BindDims(l, f.Value(po).Args[0], keep)
	f.Store(po, red)
	f.Ret()
	return b.done()
}
