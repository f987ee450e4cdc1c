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
	"github.com/SnellerInc/tilegen/tir"
)

// VectorAdd builds z[i] = x[i] + y[i] over blocks
// of four elements per thread. The pointers are
// known to be contiguous and aligned, so each
// thread moves its elements as one vector.
//
// Arguments: x, y, z *f32.
func VectorAdd(cfg Config) (*Kernel, error) {
	const nts = 4
	threads := cfg.threads()
	n := threads * nts
	b := newBuilder("vector_add", cfg)
	f := b.f
	x := f.Arg("x", tir.PtrTo(tir.F32))
	y := f.Arg("y", tir.PtrTo(tir.F32))
	z := f.Arg("z", tir.PtrTo(tir.F32))
	start := f.Binary(tir.Mul, f.ProgramID(0), b.i32(n))
	offs := f.Binary(tir.Add, f.Splat(start, n), f.MakeRange(0, n))
	px := f.GEP(f.Splat(x, n), offs)
	py := f.GEP(f.Splat(y, n), offs)
	pz := f.GEP(f.Splat(z, n), offs)
	f.Store(pz, f.Binary(tir.FAdd, f.Load(px), f.Load(py)))
	f.Ret()

	l := b.an.Scanline([]int{n}, nil, []int{threads}, []int{nts})
	b.bindRest(l)
	aligned := analysis.Facts{Contiguity: []int{nts}, Divisibility: []int{nts}}
	for _, p := range []tir.ValueID{px, py, pz} {
		b.an.SetFacts(p, aligned)
	}
	return b.done()
}

// MaskedCopy builds dst[i] = src[i] for i < count,
// one element per thread; masked-off lanes of
// the load yield -1 but are never stored.
//
// Arguments: src, dst *f32, count i32.
func MaskedCopy(cfg Config) (*Kernel, error) {
	n := cfg.threads()
	b := newBuilder("masked_copy", cfg)
	f := b.f
	src := f.Arg("src", tir.PtrTo(tir.F32))
	dst := f.Arg("dst", tir.PtrTo(tir.F32))
	count := f.Arg("count", tir.Scalar(tir.I32))
	start := f.Binary(tir.Mul, f.ProgramID(0), b.i32(n))
	offs := f.Binary(tir.Add, f.Splat(start, n), f.MakeRange(0, n))
	mask := f.ICmp(tir.SLT, offs, f.Splat(count, n))
	v := f.MaskedLoad(f.GEP(f.Splat(src, n), offs), mask, f.Splat(b.f32(-1), n))
	f.MaskedStore(f.GEP(f.Splat(dst, n), offs), v, mask)
	f.Ret()

	b.bindRest(b.an.Scanline([]int{n}, nil, []int{n}, []int{1}))
	return b.done()
}

// MaskedScale builds dst[i] = 2*src[i] for i < count
// over blocks of four contiguous, aligned elements
// per thread. The mask is not known to be constant
// over a thread's elements.
//
// Arguments: src, dst *f32, count i32.
func MaskedScale(cfg Config) (*Kernel, error) {
	const nts = 4
	threads := cfg.threads()
	n := threads * nts
	b := newBuilder("masked_scale", cfg)
	f := b.f
	src := f.Arg("src", tir.PtrTo(tir.F32))
	dst := f.Arg("dst", tir.PtrTo(tir.F32))
	count := f.Arg("count", tir.Scalar(tir.I32))
	start := f.Binary(tir.Mul, f.ProgramID(0), b.i32(n))
	offs := f.Binary(tir.Add, f.Splat(start, n), f.MakeRange(0, n))
	mask := f.ICmp(tir.SLT, offs, f.Splat(count, n))
	ps := f.GEP(f.Splat(src, n), offs)
	pd := f.GEP(f.Splat(dst, n), offs)
	v := f.MaskedLoad(ps, mask, f.Splat(b.f32(0), n))
	f.MaskedStore(pd, f.Binary(tir.FMul, v, f.Splat(b.f32(2), n)), mask)
	f.Ret()

	b.bindRest(b.an.Scanline([]int{n}, nil, []int{threads}, []int{nts}))
	aligned := analysis.Facts{Contiguity: []int{nts}, Divisibility: []int{nts}}
	b.an.SetFacts(ps, aligned)
	b.an.SetFacts(pd, aligned)
	return b.done()
}

// Math builds y[i] = x[i] > 0 ? sqrt(x[i]) + log(x[i]) : exp(x[i]).
//
// Arguments: x, y *f32.
func Math(cfg Config) (*Kernel, error) {
	const nts = 2
	threads := cfg.threads()
	n := threads * nts
	b := newBuilder("math", cfg)
	f := b.f
	x := f.Arg("x", tir.PtrTo(tir.F32))
	y := f.Arg("y", tir.PtrTo(tir.F32))
	offs := f.MakeRange(0, n)
	v := f.Load(f.GEP(f.Splat(x, n), offs))
	pos := f.FCmp(tir.OGT, v, f.Splat(b.f32(0), n))
	r := f.Select(pos, f.Binary(tir.FAdd, f.Sqrt(v), f.Log(v)), f.Exp(v))
	f.Store(f.GEP(f.Splat(y, n), offs), r)
	f.Ret()

	b.bindRest(b.an.Scanline([]int{n}, nil, []int{threads}, []int{nts}))
	return b.done()
}

// LookupSize is the number of entries of
// the constant table read by Lookup.
const LookupSize = 16

// Lookup builds y[i] = lut[i % 16] + float(i) where lut
// is a constant-memory table named "lut".
//
// Arguments: y *f32.
func Lookup(cfg Config) (*Kernel, error) {
	n := cfg.threads()
	b := newBuilder("lookup", cfg)
	f := b.f
	y := f.Arg("y", tir.PtrTo(tir.F32))
	lut := f.AllocConst("lut", tir.F32, LookupSize)
	offs := f.MakeRange(0, n)
	idx := f.Binary(tir.URem, offs, f.Splat(b.i32(LookupSize), n))
	v := f.Load(f.GEP(lut, idx))
	r := f.Binary(tir.FAdd, v, f.Cast(tir.SIToFP, offs, tir.F32))
	f.Store(f.GEP(f.Splat(y, n), offs), r)
	f.Ret()

	b.bindRest(b.an.Scanline([]int{n}, nil, []int{n}, []int{1}))
	return b.done()
}
