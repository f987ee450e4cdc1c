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
	"encoding/binary"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/llir/llvm/ir"
	"golang.org/x/exp/slices"

	"github.com/SnellerInc/tilegen/analysis"
	"github.com/SnellerInc/tilegen/internal/f16"
	"github.com/SnellerInc/tilegen/internal/kernels"
	"github.com/SnellerInc/tilegen/simt"
	"github.com/SnellerInc/tilegen/target"
	"github.com/SnellerInc/tilegen/tir"
)

// device runs lowered kernels on the simulator
type device struct {
	t   *testing.T
	tgt *target.Target
	mem *simt.Memory
	// consts is passed to every launch
	consts map[string][]byte
	trace  func(simt.Access)
}

func newDevice(t *testing.T, tname string) *device {
	return &device{t: t, tgt: lookup(t, tname), mem: simt.NewMemory()}
}

func (d *device) floats(vals []float32) uint64 {
	p := d.mem.Alloc(4 * len(vals))
	d.mem.WriteFloat32s(p, vals)
	return p
}

func (d *device) ints(vals []int32) uint64 {
	p := d.mem.Alloc(4 * len(vals))
	d.mem.WriteInt32s(p, vals)
	return p
}

func (d *device) launch(out *Kernel, grid int, args ...uint64) error {
	return simt.Launch(out.Func, simt.Config{
		Grid:        [3]int{grid, 1, 1},
		NumWarps:    out.Meta.NumWarps,
		WarpSize:    d.tgt.WarpSize,
		SharedBytes: out.Meta.SharedBytes,
		Constants:   d.consts,
		Trace:       d.trace,
	}, d.mem, args...)
}

// run builds, lowers and launches a catalog kernel
func (d *device) run(name string, grid int, args ...uint64) *kernels.Kernel {
	d.t.Helper()
	k := build(d.t, d.tgt, name, 0)
	if err := d.launch(lower(d.t, d.tgt, k), grid, args...); err != nil {
		d.t.Fatalf("%s on %s: %s", name, d.tgt.Name, err)
	}
	return k
}

func iota32(n int, scale float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i) * scale
	}
	return out
}

func fill(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func close32(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol*math.Max(1, math.Abs(b))
}

func checkFloats(t *testing.T, what string, got, want []float32, tol float64) {
	t.Helper()
	for i := range want {
		if !close32(float64(got[i]), float64(want[i]), tol) {
			t.Errorf("%s[%d]: expected %g, got %g", what, i, want[i], got[i])
			return
		}
	}
}

func forTargets(t *testing.T, fn func(t *testing.T, d *device)) {
	for _, name := range target.Presets() {
		t.Run(name, func(t *testing.T) { fn(t, newDevice(t, name)) })
	}
}

func TestVectorAdd(t *testing.T) {
	forTargets(t, func(t *testing.T, d *device) {
		const grid = 2
		n := d.tgt.Threads(d.tgt.NumWarps) * 4 * grid
		x, y := iota32(n, 1), iota32(n, 0.5)
		px, py, pz := d.floats(x), d.floats(y), d.mem.Alloc(4*n)
		d.run("vector_add", grid, px, py, pz)
		want := make([]float32, n)
		for i := range want {
			want[i] = x[i] + y[i]
		}
		checkFloats(t, "z", d.mem.Float32s(pz, n), want, 0)
	})
}

func TestMaskedCopy(t *testing.T) {
	forTargets(t, func(t *testing.T, d *device) {
		const grid = 2
		n := d.tgt.Threads(d.tgt.NumWarps) * grid
		count := n - 37
		src := d.floats(iota32(n, 1))
		dst := d.floats(fill(n, 7))
		d.run("masked_copy", grid, src, dst, simt.I32(int32(count)))
		got := d.mem.Float32s(dst, n)
		for i := range got {
			want := float32(7)
			if i < count {
				want = float32(i)
			}
			if got[i] != want {
				t.Fatalf("dst[%d]: expected %g, got %g", i, want, got[i])
			}
		}
	})
}

func TestMaskedScale(t *testing.T) {
	forTargets(t, func(t *testing.T, d *device) {
		const grid = 2
		n := d.tgt.Threads(d.tgt.NumWarps) * 4 * grid
		// the bound splits a vector
		count := n - 6
		x := iota32(n, 1)
		src := d.floats(x)
		dst := d.floats(fill(n, 7))
		d.run("masked_scale", grid, src, dst, simt.I32(int32(count)))
		want := fill(n, 7)
		for i := 0; i < count; i++ {
			want[i] = 2 * x[i]
		}
		checkFloats(t, "dst", d.mem.Float32s(dst, n), want, 0)
	})
}

func TestMath(t *testing.T) {
	forTargets(t, func(t *testing.T, d *device) {
		n := d.tgt.Threads(d.tgt.NumWarps) * 2
		x := make([]float32, n)
		for i := range x {
			x[i] = float32(i-n/2) / 8
		}
		px, py := d.floats(x), d.mem.Alloc(4*n)
		d.run("math", 1, px, py)
		want := make([]float32, n)
		for i, v := range x {
			f := float64(v)
			if v > 0 {
				want[i] = float32(math.Sqrt(f) + math.Log(f))
			} else {
				want[i] = float32(math.Exp(f))
			}
		}
		checkFloats(t, "y", d.mem.Float32s(py, n), want, 1e-5)
	})
}

func TestLookup(t *testing.T) {
	forTargets(t, func(t *testing.T, d *device) {
		n := d.tgt.Threads(d.tgt.NumWarps)
		lut := make([]byte, 4*kernels.LookupSize)
		for i := 0; i < kernels.LookupSize; i++ {
			binary.LittleEndian.PutUint32(lut[4*i:], math.Float32bits(float32(100*i)))
		}
		d.consts = map[string][]byte{"lut": lut}
		py := d.mem.Alloc(4 * n)
		d.run("lookup", 1, py)
		want := make([]float32, n)
		for i := range want {
			want[i] = float32(100*(i%kernels.LookupSize) + i)
		}
		checkFloats(t, "y", d.mem.Float32s(py, n), want, 0)
	})
}

func TestReduce1D(t *testing.T) {
	forTargets(t, func(t *testing.T, d *device) {
		n := d.tgt.Threads(d.tgt.NumWarps) * 2
		x := iota32(n, 0.25)
		px, pout := d.floats(x), d.mem.Alloc(4)
		d.run("reduce1d", 1, px, pout)
		var sum float64
		for _, v := range x {
			sum += float64(v)
		}
		if got := d.mem.Float32s(pout, 1)[0]; !close32(float64(got), sum, 1e-6) {
			t.Errorf("expected %g, got %g", sum, got)
		}

		// 64-bit elements take the shared-memory tree
		r := rand.New(rand.NewSource(int64(n)))
		buf := make([]byte, 8*n)
		best := int64(math.MinInt64)
		for i := 0; i < n; i++ {
			v := r.Int63() - 1<<62
			best = max(best, v)
			binary.LittleEndian.PutUint64(buf[8*i:], uint64(v))
		}
		px = d.mem.Alloc(len(buf))
		copy(d.mem.Bytes(px, len(buf)), buf)
		pout = d.mem.Alloc(8)
		d.run("reduce1d_i64", 1, px, pout)
		if got := int64(binary.LittleEndian.Uint64(d.mem.Bytes(pout, 8))); got != best {
			t.Errorf("i64 max: expected %d, got %d", best, got)
		}
	})
}

func TestReduce2D(t *testing.T) {
	const m, n = kernels.ReduceRows, kernels.ReduceCols
	forTargets(t, func(t *testing.T, d *device) {
		x := iota32(m*n, 1)
		px := d.floats(x)
		rows, cols := d.mem.Alloc(4*m), d.mem.Alloc(4*n)
		d.run("reduce_rows", 1, px, rows)
		d.run("reduce_cols", 1, px, cols)
		wantRows := make([]float32, m)
		wantCols := make([]float32, n)
		for i := 0; i < m; i++ {
			for j := 0; j < n; j++ {
				wantRows[i] += x[i*n+j]
				wantCols[j] += x[i*n+j]
			}
		}
		checkFloats(t, "rows", d.mem.Float32s(rows, m), wantRows, 1e-6)
		checkFloats(t, "cols", d.mem.Float32s(cols, n), wantCols, 1e-6)
	})
}

func TestTranspose(t *testing.T) {
	const m, n = kernels.TransRows, kernels.TransCols
	forTargets(t, func(t *testing.T, d *device) {
		x := iota32(m*n, 1)
		px, py := d.floats(x), d.mem.Alloc(4*m*n)
		d.run("transpose", 1, px, py)
		want := make([]float32, m*n)
		for i := 0; i < m; i++ {
			for j := 0; j < n; j++ {
				want[j*m+i] = x[i*n+j]
			}
		}
		checkFloats(t, "y", d.mem.Float32s(py, m*n), want, 0)
	})
}

// stripBarriers removes every barrier from fn
func stripBarriers(fn *ir.Func) int {
	n := 0
	for _, blk := range fn.Blocks {
		blk.Insts = slices.DeleteFunc(blk.Insts, func(inst ir.Instruction) bool {
			c, ok := inst.(*ir.InstCall)
			if !ok {
				return false
			}
			callee, ok := c.Callee.(*ir.Func)
			if ok && callee.Name() == barrierName {
				n++
				return true
			}
			return false
		})
	}
	return n
}

func TestRaceWithoutBarriers(t *testing.T) {
	for _, kname := range []string{"transpose", "reduce_cols", "matmul"} {
		d := newDevice(t, "simt")
		k := build(t, d.tgt, kname, 0)
		out := lower(t, d.tgt, k)
		if stripBarriers(out.Func) == 0 {
			t.Fatalf("%s: no barriers to remove", kname)
		}
		args := make([]uint64, len(k.Func.Params))
		for i := range args {
			args[i] = d.mem.Alloc(4096)
		}
		err := d.launch(out, 1, args...)
		var race *simt.RaceError
		if !errors.As(err, &race) {
			t.Errorf("%s: expected a race, got %v", kname, err)
		}
	}
}

func f16s(n int, r *rand.Rand) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = f16.Round(float32(r.Intn(17)-8) / 4)
	}
	return out
}

func TestMatMul(t *testing.T) {
	const M, N, K = kernels.MatM, kernels.MatN, kernels.MatK
	r := rand.New(rand.NewSource(1))
	a, b := f16s(M*K, r), f16s(K*N, r)
	want := make([]float32, M*N)
	for i := 0; i < M; i++ {
		for j := 0; j < N; j++ {
			var acc float64
			for k := 0; k < K; k++ {
				acc += float64(a[i*K+k]) * float64(b[k*N+j])
			}
			want[i*N+j] = float32(acc)
		}
	}
	// every strategy must agree with the reference
	testcases := []struct {
		target, kernel string
	}{
		{"simt", "matmul"},
		{"sm70", "matmul"},
		{"sm80", "matmul"},
		{"sm80", "matmul_fma"},
	}
	for _, tc := range testcases {
		t.Run(tc.target+"/"+tc.kernel, func(t *testing.T) {
			d := newDevice(t, tc.target)
			pa, pb := d.mem.Alloc(2*M*K), d.mem.Alloc(2*K*N)
			d.mem.WriteFloat16s(pa, a)
			d.mem.WriteFloat16s(pb, b)
			pc := d.mem.Alloc(4 * M * N)
			d.run(tc.kernel, 1, pa, pb, pc)
			checkFloats(t, "c", d.mem.Float32s(pc, M*N), want, 1e-3)
		})
	}
}

func TestPipeline(t *testing.T) {
	const iters = kernels.PipelineIters
	forTargets(t, func(t *testing.T, d *device) {
		n := d.tgt.Threads(d.tgt.NumWarps)
		x := iota32(iters*n, 1)
		px, pout := d.floats(x), d.mem.Alloc(4*n)
		d.run("pipeline", 1, px, pout)
		want := make([]float32, n)
		for j := 0; j < iters; j++ {
			for i := range want {
				want[i] += x[j*n+i]
			}
		}
		checkFloats(t, "out", d.mem.Float32s(pout, n), want, 0)
	})
}

// without a wait the reads of the buffer
// overtake the asynchronous copies filling it
func TestPipelineWithoutWait(t *testing.T) {
	const iters = kernels.PipelineIters
	d := newDevice(t, "sm80")
	n := d.tgt.Threads(d.tgt.NumWarps)
	px := d.floats(fill(iters*n, 1))
	pout := d.mem.Alloc(4 * n)
	k := build(t, d.tgt, "pipeline_nowait", 0)
	err := d.launch(lower(t, d.tgt, k), 1, px, pout)
	var race *simt.RaceError
	if !errors.As(err, &race) {
		t.Fatalf("expected a race, got %v", err)
	}
	if !race.Async || race.Thread != race.Other {
		t.Errorf("unexpected race %+v", race)
	}
}

// the slot filled during an iteration is never
// the slot read by it, and it is the slot read
// by the next one
func TestPipelineSlots(t *testing.T) {
	const iters = kernels.PipelineIters
	forTargets(t, func(t *testing.T, d *device) {
		n := d.tgt.Threads(d.tgt.NumWarps)
		px, pout := d.floats(iota32(iters*n, 1)), d.mem.Alloc(4*n)
		var reads, fills []int
		d.trace = func(a simt.Access) {
			if a.Thread != 1 {
				return
			}
			switch a.Kind {
			case simt.Read:
				reads = append(reads, a.Offset)
			case simt.Write, simt.CopyIssue:
				fills = append(fills, a.Offset)
			}
		}
		d.run("pipeline", 1, px, pout)
		// one fill ahead of every read, plus the
		// masked-off fill of the last iteration
		if len(reads) != iters || len(fills) != iters+1 {
			t.Fatalf("expected %d reads and %d fills, got %v and %v", iters, iters+1, reads, fills)
		}
		for i, r := range reads {
			if r != fills[i] {
				t.Errorf("iteration %d: read offset %d, expected the earlier fill at %d", i, r, fills[i])
			}
			if fills[i+1] == r {
				t.Errorf("iteration %d: offset %d is both read and filled", i, r)
			}
		}
	})
}

func TestDiamond(t *testing.T) {
	forTargets(t, func(t *testing.T, d *device) {
		n := d.tgt.Threads(d.tgt.NumWarps)
		x := iota32(n, 1)
		px := d.floats(x)
		for _, flag := range []int32{0, 1} {
			py := d.mem.Alloc(4 * n)
			d.run("diamond", 1, px, py, simt.I32(flag))
			want := make([]float32, n)
			for i, v := range x {
				if flag != 0 {
					want[i] = v + 1
				} else {
					want[i] = v * 2
				}
			}
			checkFloats(t, "y", d.mem.Float32s(py, n), want, 0)
		}
	})
}

func TestAtomics(t *testing.T) {
	forTargets(t, func(t *testing.T, d *device) {
		const grid = 4
		n := d.tgt.Threads(d.tgt.NumWarps)
		x := iota32(n, 1)
		px := d.floats(x)
		acc := d.mem.Alloc(4 * n)
		counter := d.ints([]int32{0})
		tickets := d.mem.Alloc(4 * grid)
		lock := d.ints([]int32{0})
		owner := d.mem.Alloc(4 * grid)
		last := d.ints([]int32{-1})
		prev := d.mem.Alloc(4 * grid)
		d.run("atomics", grid, px, acc, counter, tickets, lock, owner, last, prev)

		want := make([]float32, n)
		for i, v := range x {
			want[i] = grid * v
		}
		checkFloats(t, "acc", d.mem.Float32s(acc, n), want, 0)
		if got := d.mem.Int32s(counter, 1)[0]; got != grid {
			t.Errorf("counter: expected %d, got %d", grid, got)
		}
		// blocks run in order on the simulator
		testcases := []struct {
			name string
			p    uint64
			want []int32
		}{
			{"tickets", tickets, []int32{0, 1, 2, 3}},
			{"owner", owner, []int32{0, 1, 1, 1}},
			{"prev", prev, []int32{-1, 0, 1, 2}},
		}
		for _, tc := range testcases {
			if got := d.mem.Int32s(tc.p, grid); !slices.Equal(got, tc.want) {
				t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
			}
		}
	})
}

// the two slots of a double buffer and every
// other shared region are disjoint
func TestSharedRegions(t *testing.T) {
	tgt := lookup(t, "sm80")
	for _, name := range kernels.Names() {
		k := build(t, tgt, name, 0)
		type span struct{ start, end int }
		var spans []span
		for _, l := range k.An.All() {
			sh, ok := l.(*analysis.Shared)
			if !ok {
				continue
			}
			r, _ := k.An.SharedRegion(sh)
			spans = append(spans, span{r.Offset, r.End()})
		}
		for _, r := range k.An.Scratch {
			spans = append(spans, span{r.Offset, r.End()})
		}
		slices.SortFunc(spans, func(a, b span) int { return a.start - b.start })
		for i := 1; i < len(spans); i++ {
			if spans[i].start < spans[i-1].end {
				t.Errorf("%s: regions %v and %v overlap", name, spans[i-1], spans[i])
			}
		}
		if n := len(spans); n > 0 && spans[n-1].end > k.An.SharedBytes {
			t.Errorf("%s: %d shared bytes do not cover %v", name, k.An.SharedBytes, spans[n-1])
		}
	}
	k := build(t, tgt, "pipeline", 0)
	for _, v := range k.Func.Values[1:] {
		if v.Op != tir.OpPhi || !v.Type.IsTile() {
			continue
		}
		sh, ok := k.An.Layouts[v.ID].(*analysis.Shared)
		if !ok {
			continue
		}
		if sh.Buffer == nil {
			t.Fatalf("%s: expected a buffered shared layout", v.Ref())
		}
		if r, _ := k.An.SharedRegion(sh); r.Size != 2*sh.SlotBytes() {
			t.Errorf("expected two slots of %d bytes, got %d bytes", sh.SlotBytes(), r.Size)
		}
	}
}
