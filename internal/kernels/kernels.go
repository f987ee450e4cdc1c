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

// Package kernels is a catalog of small tile-IR
// kernels with their analysis results bound.
// The kernels cover every lowering rule of the
// code generator and are shared by its tests
// and by the tiledump command.
package kernels

import (
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/SnellerInc/tilegen/analysis"
	"github.com/SnellerInc/tilegen/target"
	"github.com/SnellerInc/tilegen/tir"
)

// Config parameterizes a kernel builder.
type Config struct {
	Target   *target.Target
	NumWarps int
}

func (c Config) numWarps() int {
	if c.NumWarps > 0 {
		return c.NumWarps
	}
	return c.Target.NumWarps
}

func (c Config) threads() int { return c.Target.Threads(c.numWarps()) }

// Kernel is a tile-IR function together with
// the analyses the code generator consumes.
type Kernel struct {
	Func *tir.Function
	An   *analysis.Set
	// NumWarps is the block size the
	// analyses were allocated for.
	NumWarps int
}

// Builder builds a kernel for a configuration.
type Builder func(cfg Config) (*Kernel, error)

var catalog = map[string]Builder{
	"atomics":         Atomics,
	"diamond":         Diamond,
	"lookup":          Lookup,
	"masked_copy":     MaskedCopy,
	"masked_scale":    MaskedScale,
	"math":            Math,
	"matmul":          matmul(false),
	"matmul_fma":      matmul(true),
	"pipeline":        pipeline(true),
	"pipeline_nowait": pipeline(false),
	"reduce1d":        reduce1d(tir.F32, tir.RedFAdd),
	"reduce1d_i64":    reduce1d(tir.I64, tir.RedMax),
	"reduce_cols":     reduce2d(0),
	"reduce_rows":     reduce2d(1),
	"transpose":       Transpose,
	"vector_add":      VectorAdd,
}

func matmul(fma bool) Builder {
	return func(cfg Config) (*Kernel, error) { return MatMul(cfg, fma) }
}

func pipeline(wait bool) Builder {
	return func(cfg Config) (*Kernel, error) { return Pipeline(cfg, PipelineIters, wait) }
}

func reduce1d(k tir.Kind, op tir.ReduceOp) Builder {
	return func(cfg Config) (*Kernel, error) { return Reduce1D(cfg, k, op) }
}

func reduce2d(axis int) Builder {
	return func(cfg Config) (*Kernel, error) { return Reduce2D(cfg, axis) }
}

// Names returns the names of every kernel
// in the catalog in sorted order.
func Names() []string {
	lst := maps.Keys(catalog)
	slices.Sort(lst)
	return lst
}

// Build builds the named kernel.
func Build(name string, cfg Config) (*Kernel, error) {
	b, ok := catalog[name]
	if !ok {
		return nil, fmt.Errorf("kernels: unknown kernel %q", name)
	}
	if cfg.Target == nil {
		return nil, fmt.Errorf("kernels: %s: no target", name)
	}
	return b(cfg)
}

// builder holds a function under construction
type builder struct {
	f   *tir.Function
	an  *analysis.Set
	cfg Config
}

func newBuilder(name string, cfg Config) *builder {
	f := tir.NewFunction(name)
	return &builder{f: f, an: analysis.New(f), cfg: cfg}
}

func (b *builder) i32(x int) tir.ValueID { return b.f.ConstInt(tir.I32, int64(x)) }

func (b *builder) f32(x float64) tir.ValueID { return b.f.ConstFloat(tir.F32, x) }

// bindRest binds every tile value that has
// no layout yet and has the rank of l
func (b *builder) bindRest(l analysis.Layout) {
	rank := l.Geom().Rank()
	for _, v := range b.f.Values[1:] {
		if !v.Type.IsTile() || v.Type.Rank() != rank {
			continue
		}
		if _, ok := b.an.Layouts[v.ID]; !ok {
			b.an.Bind(l, v.ID)
		}
	}
}

// offsets2d returns the row-major offsets
// i*stride + j of the 2-D tile laid out by l
func (b *builder) offsets2d(l analysis.Layout, name string, stride int) tir.ValueID {
	f, an := b.f, b.an
	shape := l.Geom().Shape
	m, n := shape[0], shape[1]
	rm := f.Named(name + ".i").MakeRange(0, m)
	an.BindDims(l, rm, 0)
	rn := f.Named(name + ".j").MakeRange(0, n)
	an.BindDims(l, rn, 1)
	col := f.Reshape(rm, m, 1)
	step := f.Named(name + ".stride").Splat(b.i32(stride), m, 1)
	scaled := f.Binary(tir.Mul, col, step)
	an.Bind(l, col, step, scaled)
	row := f.Reshape(rn, 1, n)
	an.Bind(l, row)
	sb, rb := f.Broadcast(scaled, m, n), f.Broadcast(row, m, n)
	off := f.Binary(tir.Add, sb, rb)
	an.Bind(l, sb, rb, off)
	return off
}

func (b *builder) done() (*Kernel, error) {
	if err := tir.Verify(b.f); err != nil {
		return nil, err
	}
	nw := b.cfg.numWarps()
	if err := b.an.Allocate(nw); err != nil {
		return nil, fmt.Errorf("%s: %w", b.f.Name, err)
	}
	return &Kernel{Func: b.f, An: b.an, NumWarps: nw}, nil
}
