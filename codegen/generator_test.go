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
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/llir/llvm/ir"

	"github.com/SnellerInc/tilegen/analysis"
	"github.com/SnellerInc/tilegen/internal/kernels"
	"github.com/SnellerInc/tilegen/target"
	"github.com/SnellerInc/tilegen/tir"
)

func lookup(t testing.TB, name string) *target.Target {
	t.Helper()
	tgt, ok := target.Lookup(name)
	if !ok {
		t.Fatalf("no target %q", name)
	}
	return tgt
}

func build(t testing.TB, tgt *target.Target, name string, numWarps int) *kernels.Kernel {
	t.Helper()
	k, err := kernels.Build(name, kernels.Config{Target: tgt, NumWarps: numWarps})
	if err != nil {
		t.Fatalf("building %s: %s", name, err)
	}
	return k
}

func lower(t testing.TB, tgt *target.Target, k *kernels.Kernel) *Kernel {
	t.Helper()
	g, err := New(tgt, Options{NumWarps: k.NumWarps})
	if err != nil {
		t.Fatal(err)
	}
	out, err := g.Lower(ir.NewModule(), k.Func, k.An)
	if err != nil {
		t.Fatalf("lowering %s for %s: %s", k.Func.Name, tgt.Name, err)
	}
	return out
}

// every catalog kernel lowers on every target
// and uses the intrinsics the target implies
func TestLowerCatalog(t *testing.T) {
	for _, tname := range target.Presets() {
		tgt := lookup(t, tname)
		for _, kname := range kernels.Names() {
			t.Run(tname+"/"+kname, func(t *testing.T) {
				out := lower(t, tgt, build(t, tgt, kname, 0))
				text := out.Func.LLString()
				if out.Meta.NumWarps != tgt.NumWarps {
					t.Errorf("expected %d warps, got %d", tgt.NumWarps, out.Meta.NumWarps)
				}
				want := map[string]bool{}
				switch kname {
				case "matmul":
					if tgt.TensorCore != target.NoTensorCore {
						want[tgt.TensorCore.Intrinsic()] = true
					} else {
						want["llvm.fma.f32"] = true
					}
				case "matmul_fma":
					want["llvm.fma.f32"] = true
				case "pipeline", "pipeline_nowait":
					want["cp.async"] = tgt.AsyncCopy
				case "masked_copy":
					want["llvm.masked.load"] = !tgt.Predication
					want["llvm.masked.store"] = false
				case "masked_scale":
					// per-lane masks keep the full vector
					want["llvm.masked.load.v4f32"] = !tgt.Predication
					want["llvm.masked.store.v4f32"] = !tgt.Predication
					want["<4 x float>"] = !tgt.Predication
				case "reduce1d":
					want["shfl.sync.bfly"] = true
				case "transpose", "reduce_rows", "reduce_cols", "atomics":
					want[barrierName] = true
				case "vector_add":
					want["<4 x float>"] = true
				}
				for s, ok := range want {
					if got := strings.Contains(text, s); got != ok {
						t.Errorf("%q in output: expected %v, got %v", s, ok, got)
					}
				}
			})
		}
	}
}

// phis are typed up front and receive their
// incomings once every block is lowered
func TestPhis(t *testing.T) {
	for _, tname := range target.Presets() {
		tgt := lookup(t, tname)
		for _, kname := range []string{"diamond", "pipeline"} {
			out := lower(t, tgt, build(t, tgt, kname, 0))
			preds := make(map[*ir.Block]int)
			for _, blk := range out.Func.Blocks {
				for _, succ := range blk.Term.Succs() {
					preds[succ]++
				}
			}
			n := 0
			for _, blk := range out.Func.Blocks {
				for _, inst := range blk.Insts {
					phi, ok := inst.(*ir.InstPhi)
					if !ok {
						continue
					}
					n++
					if len(phi.Incs) != preds[blk] {
						t.Errorf("%s/%s: phi in %s has %d incomings, expected %d", tname, kname, blk.Name(), len(phi.Incs), preds[blk])
					}
					for _, inc := range phi.Incs {
						if !inc.X.Type().Equal(phi.Typ) {
							t.Errorf("%s/%s: phi of type %s takes %s", tname, kname, phi.Typ, inc.X.Type())
						}
					}
				}
			}
			if n == 0 {
				t.Errorf("%s/%s: no phis", tname, kname)
			}
		}
	}
}

func TestFingerprint(t *testing.T) {
	tgt := lookup(t, "sm80")
	k := build(t, tgt, "matmul", 0)
	a := lower(t, tgt, k)
	b := lower(t, tgt, k)
	if a.Meta.Fingerprint != b.Meta.Fingerprint {
		t.Error("lowering the same function twice gave different fingerprints")
	}
	if a.Meta.PassID == b.Meta.PassID {
		t.Error("expected distinct pass IDs")
	}
	other := lower(t, tgt, build(t, tgt, "matmul_fma", 0))
	if other.Meta.Fingerprint == a.Meta.Fingerprint {
		t.Error("different functions share a fingerprint")
	}
}

func TestLowerError(t *testing.T) {
	tgt := lookup(t, "simt")
	k := build(t, tgt, "vector_add", 0)
	var load tir.ValueID
	for _, v := range k.Func.Values[1:] {
		if v.Op == tir.OpLoad {
			load = v.ID
			break
		}
	}
	delete(k.An.Layouts, load)

	var logged []string
	Errorf = func(f string, args ...any) {
		logged = append(logged, fmt.Sprintf(f, args...))
	}
	defer func() { Errorf = nil }()

	g, err := New(tgt, Options{})
	if err != nil {
		t.Fatal(err)
	}
	mod := ir.NewModule()
	out, err := g.Lower(mod, k.Func, k.An)
	if out != nil {
		t.Error("expected no kernel")
	}
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if e.Invariant != errLayout || e.Value != load || e.Op != tir.OpLoad {
		t.Errorf("unexpected error %+v", e)
	}
	for _, f := range mod.Funcs {
		if f.Name() == k.Func.Name {
			t.Error("partially lowered function left in the module")
		}
	}
	if len(logged) != 1 || !strings.Contains(logged[0], errLayout) {
		t.Errorf("expected one logged error, got %q", logged)
	}

	// the same generator still works afterwards
	k = build(t, tgt, "vector_add", 0)
	if _, err := g.Lower(mod, k.Func, k.An); err != nil {
		t.Fatal(err)
	}
}

func TestLowerMismatch(t *testing.T) {
	testcases := []struct {
		target, kernel string
		invariant      string
	}{
		// mma layouts of another generation
		{"sm80", "matmul", errTarget},
		{"simt", "matmul", errTarget},
	}
	for _, tc := range testcases {
		k := build(t, lookup(t, "sm70"), tc.kernel, 0)
		tgt := lookup(t, tc.target)
		g, err := New(tgt, Options{NumWarps: k.NumWarps})
		if err != nil {
			t.Fatal(err)
		}
		_, err = g.Lower(ir.NewModule(), k.Func, k.An)
		var e *Error
		if !errors.As(err, &e) || e.Invariant != tc.invariant {
			t.Errorf("%s on %s: expected %q, got %v", tc.kernel, tc.target, tc.invariant, err)
		}
	}
}

func TestSharedBudget(t *testing.T) {
	tgt := *lookup(t, "sm80")
	k := build(t, &tgt, "matmul", 0)
	tgt.SharedMemory = k.An.SharedBytes - 1
	g, err := New(&tgt, Options{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = g.Lower(ir.NewModule(), k.Func, k.An)
	var e *Error
	if !errors.As(err, &e) || e.Invariant != errAlloc {
		t.Errorf("expected %q, got %v", errAlloc, err)
	}
}

func TestIndices(t *testing.T) {
	tgt := lookup(t, "simt")
	k := build(t, tgt, "vector_add", 0)
	out := lower(t, tgt, k)
	threads := tgt.Threads(k.NumWarps)
	for id, l := range k.An.Layouts {
		v := k.Func.Value(id)
		sl, ok := l.(*analysis.Scanline)
		if !ok || !v.Type.IsTile() {
			continue
		}
		idx, ok := out.Meta.Indices[id]
		if !ok {
			t.Errorf("%s: no indices", v.Ref())
			continue
		}
		// every thread holds a distinct part of the tile
		if got := len(idx) * threads; got != v.Type.NumElems() {
			t.Errorf("%s: %d tuples over %d threads cover %d elements", v.Ref(), len(idx), threads, v.Type.NumElems())
		}
		for i, key := range idx {
			if len(key) != 1 || key[0].Axis != sl.Axes[0] || key[0].Pos != i {
				t.Errorf("%s: tuple %d is %v", v.Ref(), i, key)
			}
		}
	}
}

func TestIndexKey(t *testing.T) {
	var k idxkey
	k[0] = mkent(3, 1)
	k[1] = mkent(analysis.Unit, 0)
	k[2] = mkent(0, 2)
	got := k.export(3)
	want := Index{{3, 1}, {analysis.Unit, 0}, {0, 2}}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("dim %d: expected %v, got %v", i, want[i], got[i])
		}
	}
	d := k.drop(1)
	if d[0] != k[0] || d[1] != k[2] || d[2] != (keyent{}) {
		t.Errorf("drop(1) = %v", d.export(3))
	}
	if (idxkey{}).export(2)[1].Axis != analysis.Unit {
		t.Error("the zero key should use the unit axis")
	}
}

func TestBarrierPlacement(t *testing.T) {
	tgt := lookup(t, "simt")
	testcases := []struct {
		kernel string
		// number of barriers the planner adds,
		// not counting those of scratch users
		planned int
	}{
		{"vector_add", 0},
		{"matmul", 1},
		{"pipeline", 1},
	}
	for _, tc := range testcases {
		k := build(t, tgt, tc.kernel, 0)
		g, err := New(tgt, Options{})
		if err != nil {
			t.Fatal(err)
		}
		g.reset(ir.NewModule(), k.Func, k.An)
		need := g.planBarriers()
		n := 0
		for _, ok := range need {
			if ok {
				n++
			}
		}
		if n != tc.planned {
			t.Errorf("%s: expected %d barriers, got %d", tc.kernel, tc.planned, n)
		}
	}
}
