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
	"github.com/SnellerInc/tilegen/tir"
)

// PipelineIters is the trip count of the
// catalog's pipelined kernels.
const PipelineIters = 4

// Pipeline builds out[i] = sum over j < iters of
// x[j*n + i] where n is the number of threads.
// Each row is copied asynchronously into a
// double-buffered shared tile one iteration
// ahead of the reads that consume it. When wait
// is false the AsyncWait is omitted, so the reads
// of the buffer race with the copies that fill it.
//
// Arguments: x, out *f32.
func Pipeline(cfg Config, iters int, wait bool) (*Kernel, error) {
	n := cfg.threads()
	name := "pipeline"
	if !wait {
		name = "pipeline_nowait"
	}
	b := newBuilder(name, cfg)
	f, an := b.f, b.an
	x := f.Arg("x", tir.PtrTo(tir.F32))
	out := f.Arg("out", tir.PtrTo(tir.F32))

	loop := f.NewBlock("loop")
	exit := f.NewBlock("exit")

	rng := f.MakeRange(0, n)
	all := f.Splat(f.ConstInt(tir.I1, 1), n)
	zero := f.Splat(b.f32(0), n)
	first := f.MaskedLoadAsync(f.GEP(f.Splat(x, n), rng), all, zero)
	start := b.i32(0)
	entry := f.Current()
	f.Br(loop)

	f.SetBlock(loop)
	tile := tir.Tile(tir.F32, n)
	i := f.Phi(tir.Scalar(tir.I32))
	buf := f.Phi(tile)
	acc := f.Phi(tile)
	if wait {
		f.AsyncWait(0)
	}
	sum := f.Binary(tir.FAdd, acc, f.CopyFromShared(buf))
	next := f.Binary(tir.Add, i, b.i32(1))
	more := f.ICmp(tir.SLT, next, b.i32(iters))
	row := f.GEP(x, f.Binary(tir.Mul, next, b.i32(n)))
	latch := f.MaskedLoadAsync(f.GEP(f.Splat(row, n), rng), f.Splat(more, n), zero)
	f.CondBr(more, loop, exit)

	f.AddIncoming(i, start, entry)
	f.AddIncoming(i, next, loop)
	f.AddIncoming(buf, first, entry)
	f.AddIncoming(buf, latch, loop)
	f.AddIncoming(acc, zero, entry)
	f.AddIncoming(acc, sum, loop)

	f.SetBlock(exit)
	f.Store(f.GEP(f.Splat(out, n), rng), sum)
	f.Ret()

	sh := an.Shared(tir.F32, []int{n}, nil)
	an.DoubleBuffer(sh, 2, buf, first, latch)
	b.bindRest(an.Scanline([]int{n}, nil, []int{n}, []int{1}))
	return b.done()
}

// Diamond builds y = flag != 0 ? x + 1 : x * 2,
// with the two arms in separate blocks joined
// by a phi.
//
// Arguments: x, y *f32, flag i32.
func Diamond(cfg Config) (*Kernel, error) {
	n := cfg.threads()
	b := newBuilder("diamond", cfg)
	f := b.f
	x := f.Arg("x", tir.PtrTo(tir.F32))
	y := f.Arg("y", tir.PtrTo(tir.F32))
	flag := f.Arg("flag", tir.Scalar(tir.I32))
	yes := f.NewBlock("then")
	no := f.NewBlock("else")
	join := f.NewBlock("join")

	rng := f.MakeRange(0, n)
	v := f.Load(f.GEP(f.Splat(x, n), rng))
	f.CondBr(f.ICmp(tir.NE, flag, b.i32(0)), yes, no)

	f.SetBlock(yes)
	inc := f.Binary(tir.FAdd, v, f.Splat(b.f32(1), n))
	f.Br(join)

	f.SetBlock(no)
	dbl := f.Binary(tir.FMul, v, f.Splat(b.f32(2), n))
	f.Br(join)

	f.SetBlock(join)
	r := f.Phi(tir.Tile(tir.F32, n))
	f.AddIncoming(r, inc, yes)
	f.AddIncoming(r, dbl, no)
	f.Store(f.GEP(f.Splat(y, n), rng), r)
	f.Ret()

	b.bindRest(b.an.Scanline([]int{n}, nil, []int{n}, []int{1}))
	return b.done()
}

// Atomics builds a kernel exercising every atomic:
//
//	acc[i] += x[i]                (tile add)
//	tickets[pid] = add(counter, 1) (scalar add)
//	owner[pid] = cas(lock, 0, pid+1)
//	prev[pid] = exch(last, pid)
//
// Arguments: x, acc *f32, counter, tickets,
// lock, owner, last, prev *i32.
func Atomics(cfg Config) (*Kernel, error) {
	n := cfg.threads()
	b := newBuilder("atomics", cfg)
	f := b.f
	x := f.Arg("x", tir.PtrTo(tir.F32))
	acc := f.Arg("acc", tir.PtrTo(tir.F32))
	counter := f.Arg("counter", tir.PtrTo(tir.I32))
	tickets := f.Arg("tickets", tir.PtrTo(tir.I32))
	lock := f.Arg("lock", tir.PtrTo(tir.I32))
	owner := f.Arg("owner", tir.PtrTo(tir.I32))
	last := f.Arg("last", tir.PtrTo(tir.I32))
	prev := f.Arg("prev", tir.PtrTo(tir.I32))

	rng := f.MakeRange(0, n)
	v := f.Load(f.GEP(f.Splat(x, n), rng))
	yes := f.ConstInt(tir.I1, 1)
	f.AtomicAdd(f.GEP(f.Splat(acc, n), rng), v, f.Splat(yes, n))

	pid := f.ProgramID(0)
	t := f.AtomicAdd(counter, b.i32(1), yes)
	f.Store(f.GEP(tickets, pid), t)
	o := f.AtomicCAS(lock, b.i32(0), f.Binary(tir.Add, pid, b.i32(1)))
	f.Store(f.GEP(owner, pid), o)
	p := f.AtomicExch(last, pid)
	f.Store(f.GEP(prev, pid), p)
	f.Ret()

	b.bindRest(b.an.Scanline([]int{n}, nil, []int{n}, []int{1}))
	return b.done()
}
