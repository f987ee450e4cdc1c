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

package simt

import (
	"math"
	"strconv"
	"strings"

	"github.com/llir/llvm/ir"

	"github.com/SnellerInc/tilegen/internal/f16"
	"github.com/SnellerInc/tilegen/target"
)

const (
	sregPrefix  = "llvm.nvvm.read.ptx.sreg."
	shflPrefix  = "llvm.nvvm.shfl.sync.bfly."
	mmaPrefix   = "llvm.nvvm.mma."
	asyncPrefix = "llvm.nvvm.cp.async.ca.shared.global."
)

func (t *thread) call(inst *ir.InstCall) {
	f, ok := inst.Callee.(*ir.Func)
	if !ok {
		panic(fault("indirect call in %s", t.blk.Name()))
	}
	name := f.Name()
	args := inst.Args
	switch {
	case strings.HasPrefix(name, sregPrefix):
		t.set(inst, t.sreg(strings.TrimPrefix(name, sregPrefix)))
	case name == "llvm.nvvm.barrier0":
		t.state = atBarrier
	case strings.HasPrefix(name, shflPrefix), strings.HasPrefix(name, mmaPrefix):
		t.state = atCollective
		t.wait = inst
	case strings.HasPrefix(name, asyncPrefix):
		n, err := strconv.Atoi(strings.TrimPrefix(name, asyncPrefix))
		if err != nil {
			panic(fault("bad async copy %s", name))
		}
		space, off := split(t.eval(args[0])[0])
		if space != spaceShared {
			panic(fault("async copy into address space %d", space))
		}
		data := t.load(t.eval(args[1])[0], n)
		t.b.shared.issue(t.id, off, n)
		t.open = append(t.open, asyncCopy{dst: off, data: data})
	case name == "llvm.nvvm.cp.async.commit.group":
		t.groups = append(t.groups, t.open)
		t.open = nil
	case name == "llvm.nvvm.cp.async.wait.group":
		t.flushAsync(int(t.eval(args[0])[0]), false)
	case name == "llvm.nvvm.cp.async.wait.all":
		t.flushAsync(0, true)
	case strings.HasPrefix(name, "llvm.masked.load."):
		t.maskedLoad(inst)
	case strings.HasPrefix(name, "llvm.masked.store."):
		t.maskedStore(inst)
	default:
		t.math(inst, name)
	}
}

func (t *thread) sreg(name string) uint64 {
	b := t.b
	axis := map[byte]int{'x': 0, 'y': 1, 'z': 2}
	switch {
	case name == "tid.x":
		return uint64(t.id)
	case name == "laneid":
		return uint64(t.lane)
	case strings.HasPrefix(name, "ctaid.") && len(name) == 7:
		return uint64(b.idx[axis[name[6]]])
	case strings.HasPrefix(name, "nctaid.") && len(name) == 8:
		return uint64(b.m.cfg.Grid[axis[name[7]]])
	case name == "ntid.x":
		return uint64(len(b.threads))
	}
	panic(fault("unknown special register %s", name))
}

// flushAsync completes the oldest committed
// copy groups until at most n remain in flight
func (t *thread) flushAsync(n int, all bool) {
	if all && len(t.open) > 0 {
		t.groups = append(t.groups, t.open)
		t.open = nil
	}
	for len(t.groups) > n {
		for _, c := range t.groups[0] {
			t.b.shared.land(t.id, c.dst, c.data)
		}
		t.groups = t.groups[1:]
	}
}

func (t *thread) maskedLoad(inst *ir.InstCall) {
	typ := inst.Type()
	elem := scalarOf(typ)
	es := sizeOf(elem)
	p := t.eval(inst.Args[0])[0]
	mask := t.eval(inst.Args[2])
	out := append([]uint64(nil), t.eval(inst.Args[3])...)
	for i := range out {
		if mask[i]&1 != 0 {
			out[i] = decode(t.load(p+uint64(i*es), es), elem)[0]
		}
	}
	t.set(inst, out...)
}

func (t *thread) maskedStore(inst *ir.InstCall) {
	val := t.eval(inst.Args[0])
	elem := scalarOf(inst.Args[0].Type())
	es := sizeOf(elem)
	p := t.eval(inst.Args[1])[0]
	mask := t.eval(inst.Args[3])
	for i := range val {
		if mask[i]&1 != 0 {
			t.store(p+uint64(i*es), encode(val[i:i+1], elem))
		}
	}
}

func (t *thread) math(inst *ir.InstCall, name string) {
	fargs := make([]float64, len(inst.Args))
	for i, a := range inst.Args {
		fargs[i] = decodeFloat(t.eval(a)[0], floatKind(a.Type()))
	}
	var r float64
	switch name {
	case "llvm.nvvm.ex2.approx.f":
		r = math.Exp2(fargs[0])
	case "llvm.nvvm.lg2.approx.f":
		r = math.Log2(fargs[0])
	case "llvm.sqrt.f32", "llvm.sqrt.f64":
		r = math.Sqrt(fargs[0])
	case "llvm.exp.f64":
		r = math.Exp(fargs[0])
	case "llvm.log.f64":
		r = math.Log(fargs[0])
	case "llvm.fma.f32", "llvm.fma.f64":
		r = math.FMA(fargs[0], fargs[1], fargs[2])
	default:
		panic(fault("unsupported call to %s", name))
	}
	t.set(inst, encodeFloat(r, floatKind(inst.Type())))
}

// warpCall completes a warp-wide call once
// every lane of warp is waiting on it
func warpCall(warp []*thread, call *ir.InstCall) {
	name := call.Callee.(*ir.Func).Name()
	switch {
	case strings.HasPrefix(name, shflPrefix):
		shuffle(warp, call)
	case strings.Contains(name, "m16n8k16"):
		mma(warp, call, target.MMA16816)
	case strings.Contains(name, "m8n8k4"):
		mma(warp, call, target.MMA884)
	default:
		panic(fault("unsupported warp-wide call %s", name))
	}
}

func shuffle(warp []*thread, call *ir.InstCall) {
	out := make([]uint64, len(warp))
	for lane, t := range warp {
		src := lane ^ int(t.eval(call.Args[2])[0])
		if src >= len(warp) {
			src = lane
		}
		out[lane] = warp[src].eval(call.Args[1])[0]
	}
	for lane, t := range warp {
		t.set(call, out[lane])
	}
}

// mma computes D = A*B + C for every group of
// lanes issuing one matrix multiply; the
// fragments are placed by the lane maps of gen
func mma(warp []*thread, call *ir.InstCall, gen target.Generation) {
	na, nb, nc := gen.Regs()
	wt := gen.WarpTile()
	var groups [][]int
	if gen == target.MMA884 {
		for qp := 0; qp < 4; qp++ {
			var g []int
			for j := 0; j < 4; j++ {
				g = append(g, qp*4+j)
			}
			for j := 0; j < 4; j++ {
				g = append(g, 16+qp*4+j)
			}
			groups = append(groups, g)
		}
	} else {
		g := make([]int, len(warp))
		for i := range g {
			g[i] = i
		}
		groups = append(groups, g)
	}
	half := func(t *thread, reg, elem int) float32 {
		return f16.ToFloat32(uint16(t.eval(call.Args[reg])[elem]))
	}
	results := make([][]uint64, len(warp))
	for _, grp := range groups {
		a := make([]float32, wt.M*wt.K)
		b := make([]float32, wt.K*wt.N)
		for _, lane := range grp {
			t := warp[lane]
			for i := 0; i < na; i++ {
				r, k := gen.FragA(lane, i)
				a[r*wt.K+k] = half(t, i/2, i%2)
			}
			for i := 0; i < nb; i++ {
				k, c := gen.FragB(lane, i)
				b[k*wt.N+c] = half(t, na/2+i/2, i%2)
			}
		}
		for _, lane := range grp {
			t := warp[lane]
			out := make([]uint64, nc)
			for i := 0; i < nc; i++ {
				r, c := gen.FragC(lane, i)
				acc := math.Float32frombits(uint32(t.eval(call.Args[na/2+nb/2+i])[0]))
				for k := 0; k < wt.K; k++ {
					acc += a[r*wt.K+k] * b[k*wt.N+c]
				}
				out[i] = uint64(math.Float32bits(acc))
			}
			results[lane] = out
		}
	}
	for lane, t := range warp {
		t.set(call, results[lane]...)
	}
}
