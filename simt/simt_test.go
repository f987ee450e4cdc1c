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
	"errors"
	"strings"
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
)

// kernel is a hand-built test function taking
// one global i32 pointer
type kernel struct {
	mod  *ir.Module
	fn   *ir.Func
	out  *ir.Param
	blk  *ir.Block
	tid  value.Value
	smem *ir.Global
}

func newKernel(name string) *kernel {
	k := &kernel{mod: ir.NewModule()}
	k.out = ir.NewParam("out", ptrTo(types.I32, spaceGlobal))
	k.fn = k.mod.NewFunc(name, types.Void, k.out)
	k.blk = k.fn.NewBlock("entry")
	k.tid = k.blk.NewCall(k.decl("llvm.nvvm.read.ptx.sreg.tid.x", types.I32))
	return k
}

func ptrTo(elem types.Type, space int) *types.PointerType {
	p := types.NewPointer(elem)
	p.AddrSpace = types.AddrSpace(space)
	return p
}

func (k *kernel) decl(name string, ret types.Type, params ...types.Type) *ir.Func {
	for _, f := range k.mod.Funcs {
		if f.Name() == name {
			return f
		}
	}
	ps := make([]*ir.Param, len(params))
	for i, t := range params {
		ps[i] = ir.NewParam("", t)
	}
	return k.mod.NewFunc(name, ret, ps...)
}

func (k *kernel) barrier() {
	k.blk.NewCall(k.decl("llvm.nvvm.barrier0", types.Void))
}

// shared returns an i32 pointer to shared word idx
func (k *kernel) shared(idx value.Value) value.Value {
	if k.smem == nil {
		content := types.NewArray(0, types.I8)
		k.smem = k.mod.NewGlobal(sharedMemName, content)
		k.smem.Linkage = enum.LinkageExternal
		k.smem.AddrSpace = spaceShared
		k.smem.Typ = ptrTo(content, spaceShared)
	}
	p := k.blk.NewGetElementPtr(k.smem.ContentType, k.smem, constant.NewInt(types.I32, 0),
		k.blk.NewMul(idx, constant.NewInt(types.I32, 4)))
	p.Typ = ptrTo(types.I8, spaceShared)
	return k.blk.NewBitCast(p, ptrTo(types.I32, spaceShared))
}

// result stores x to out[tid] and returns
func (k *kernel) result(x value.Value) {
	k.blk.NewStore(x, k.blk.NewGetElementPtr(types.I32, k.out, k.tid))
	k.blk.NewRet(nil)
}

func run(t *testing.T, k *kernel, warps, shared int) ([]int32, error) {
	t.Helper()
	mem := NewMemory()
	n := warps * 32
	out := mem.Alloc(4 * n)
	err := Launch(k.fn, Config{NumWarps: warps, WarpSize: 32, SharedBytes: shared}, mem, out)
	return mem.Int32s(out, n), err
}

func TestThreadIDs(t *testing.T) {
	k := newKernel("tids")
	k.result(k.tid)
	got, err := run(t, k, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range got {
		if v != int32(i) {
			t.Fatalf("out[%d]: expected %d, got %d", i, i, v)
		}
	}
}

// each thread publishes its ID and reads its
// neighbor's, with and without a barrier between
func neighbor(sync bool) *kernel {
	k := newKernel("neighbor")
	k.blk.NewStore(k.tid, k.shared(k.tid))
	if sync {
		k.barrier()
	}
	next := k.blk.NewURem(k.blk.NewAdd(k.tid, constant.NewInt(types.I32, 1)), constant.NewInt(types.I32, 64))
	k.result(k.blk.NewLoad(types.I32, k.shared(next)))
	return k
}

func TestBarrier(t *testing.T) {
	got, err := run(t, neighbor(true), 2, 256)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range got {
		if want := int32((i + 1) % 64); v != want {
			t.Fatalf("out[%d]: expected %d, got %d", i, want, v)
		}
	}

	_, err = run(t, neighbor(false), 2, 256)
	var race *RaceError
	if !errors.As(err, &race) {
		t.Fatalf("expected a race, got %v", err)
	}
	// thread 0 runs first and reads word 1
	// before thread 1 writes it
	if !race.Write || race.Thread != 1 || race.Offset != 4 {
		t.Errorf("unexpected race %+v", race)
	}
}

// threads rewriting their own word never race
func TestNoSelfRace(t *testing.T) {
	k := newKernel("self")
	p := k.shared(k.tid)
	k.blk.NewStore(k.tid, p)
	x := k.blk.NewLoad(types.I32, p)
	k.blk.NewStore(k.blk.NewAdd(x, x), p)
	k.result(k.blk.NewLoad(types.I32, p))
	got, err := run(t, k, 1, 128)
	if err != nil {
		t.Fatal(err)
	}
	if got[5] != 10 {
		t.Errorf("expected 10, got %d", got[5])
	}
}

func TestShuffle(t *testing.T) {
	k := newKernel("bfly")
	shfl := k.decl("llvm.nvvm.shfl.sync.bfly.i32", types.I32, types.I32, types.I32, types.I32, types.I32)
	var acc value.Value = k.tid
	for s := int64(16); s > 0; s /= 2 {
		y := k.blk.NewCall(shfl, constant.NewInt(types.I32, -1), acc,
			constant.NewInt(types.I32, s), constant.NewInt(types.I32, 0x1f))
		acc = k.blk.NewAdd(acc, y)
	}
	k.result(acc)
	got, err := run(t, k, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range got {
		// sum of the lane IDs of the warp
		want := int32(496 + 1024*(i/32))
		if v != want {
			t.Fatalf("out[%d]: expected %d, got %d", i, want, v)
		}
	}
}

// each thread copies out[tid] asynchronously
// into shared word tid and reads it back
func asyncCopyKernel(wait bool) *kernel {
	k := newKernel("async")
	src := k.blk.NewBitCast(k.blk.NewGetElementPtr(types.I32, k.out, k.tid), ptrTo(types.I8, spaceGlobal))
	dst := k.shared(k.tid)
	k.blk.NewCall(k.decl("llvm.nvvm.cp.async.ca.shared.global.4", types.Void,
		ptrTo(types.I8, spaceShared), ptrTo(types.I8, spaceGlobal)),
		k.blk.NewBitCast(dst, ptrTo(types.I8, spaceShared)), src)
	k.blk.NewCall(k.decl("llvm.nvvm.cp.async.commit.group", types.Void))
	if wait {
		k.blk.NewCall(k.decl("llvm.nvvm.cp.async.wait.group", types.Void, types.I32), constant.NewInt(types.I32, 0))
	}
	k.result(k.blk.NewAdd(k.blk.NewLoad(types.I32, dst), constant.NewInt(types.I32, 1)))
	return k
}

func TestAsyncCopy(t *testing.T) {
	const n = 32
	launch := func(k *kernel, trace func(Access)) ([]int32, error) {
		mem := NewMemory()
		out := mem.Alloc(4 * n)
		src := make([]int32, n)
		for i := range src {
			src[i] = int32(100 + i)
		}
		mem.WriteInt32s(out, src)
		err := Launch(k.fn, Config{NumWarps: 1, WarpSize: 32, SharedBytes: 4 * n, Trace: trace}, mem, out)
		return mem.Int32s(out, n), err
	}

	var kinds []AccessKind
	got, err := launch(asyncCopyKernel(true), func(a Access) {
		if a.Thread == 3 {
			if a.Offset != 12 || a.Size != 4 {
				t.Errorf("unexpected access %+v", a)
			}
			kinds = append(kinds, a.Kind)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range got {
		if want := int32(101 + i); v != want {
			t.Fatalf("out[%d]: expected %d, got %d", i, want, v)
		}
	}
	want := []AccessKind{CopyIssue, CopyDone, Read}
	if len(kinds) != len(want) {
		t.Fatalf("expected accesses %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("expected accesses %v, got %v", want, kinds)
		}
	}

	_, err = launch(asyncCopyKernel(false), nil)
	var race *RaceError
	if !errors.As(err, &race) {
		t.Fatalf("expected a race, got %v", err)
	}
	if !race.Async || race.Thread != 0 || race.Other != 0 || race.Offset != 0 {
		t.Errorf("unexpected race %+v", race)
	}
}

// thread 0 waits at a barrier while the rest
// of its warp waits on a shuffle
func TestDeadlock(t *testing.T) {
	k := newKernel("deadlock")
	cond := k.blk.NewICmp(enum.IPredEQ, k.tid, constant.NewInt(types.I32, 0))
	wait := k.fn.NewBlock("wait")
	shfl := k.fn.NewBlock("shfl")
	done := k.fn.NewBlock("done")
	k.blk.NewCondBr(cond, wait, shfl)
	k.blk = wait
	k.barrier()
	k.blk.NewBr(done)
	k.blk = shfl
	k.blk.NewCall(k.decl("llvm.nvvm.shfl.sync.bfly.i32", types.I32, types.I32, types.I32, types.I32, types.I32),
		constant.NewInt(types.I32, -1), k.tid, constant.NewInt(types.I32, 1), constant.NewInt(types.I32, 0x1f))
	k.blk.NewBr(done)
	k.blk = done
	k.result(k.tid)
	_, err := run(t, k, 1, 0)
	if !errors.Is(err, errDeadlock) {
		t.Fatalf("expected a deadlock, got %v", err)
	}
}

// an access claiming more alignment than
// its address has faults
func TestAlignment(t *testing.T) {
	k := newKernel("align")
	ld := k.blk.NewLoad(types.I32, k.blk.NewGetElementPtr(types.I32, k.out, k.tid))
	ld.Align = 8
	k.result(ld)
	_, err := run(t, k, 1, 0)
	if err == nil || !strings.Contains(err.Error(), "not aligned") {
		t.Fatalf("expected an alignment fault, got %v", err)
	}
	ld.Align = 4
	if _, err := run(t, k, 1, 0); err != nil {
		t.Fatal(err)
	}
}

func TestStepLimit(t *testing.T) {
	k := newKernel("spin")
	loop := k.fn.NewBlock("loop")
	k.blk.NewBr(loop)
	loop.NewBr(loop)
	mem := NewMemory()
	err := Launch(k.fn, Config{NumWarps: 1, WarpSize: 32, MaxSteps: 100}, mem, mem.Alloc(128))
	if err == nil {
		t.Fatal("expected the step limit to stop the launch")
	}
}

func TestLaunchArgs(t *testing.T) {
	k := newKernel("args")
	k.result(k.tid)
	if err := Launch(k.fn, Config{NumWarps: 1, WarpSize: 32}, NewMemory()); err == nil {
		t.Error("expected an argument count error")
	}
	decl := ir.NewModule().NewFunc("decl", types.Void)
	if err := Launch(decl, Config{NumWarps: 1, WarpSize: 32}, NewMemory()); err == nil {
		t.Error("expected an error for a declaration")
	}
}

func TestMemory(t *testing.T) {
	mem := NewMemory()
	a := mem.Alloc(3)
	b := mem.Alloc(8)
	_, aoff := split(a)
	_, boff := split(b)
	if aoff%16 != 0 || boff%16 != 0 || boff < aoff+3 {
		t.Errorf("unexpected allocations at %d and %d", aoff, boff)
	}
	mem.WriteFloat16s(b, []float32{1.5, -2, 0.1})
	got := mem.Float16s(b, 3)
	if got[0] != 1.5 || got[1] != -2 || got[2] == 0.1 || got[2] < 0.0999 || got[2] > 0.1001 {
		t.Errorf("half round trip: %v", got)
	}
	if F32(1) != 0x3f800000 || I32(-1) != 0xffffffff {
		t.Error("argument encoding")
	}
}
