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
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/SnellerInc/tilegen/tir"
)

const barrierName = "llvm.nvvm.barrier0"

// barrier emits a block-wide barrier unless
// the previous instruction already is one
func (g *Generator) barrier() {
	if n := len(g.blk.Insts); n > 0 {
		if c, ok := g.blk.Insts[n-1].(*ir.InstCall); ok {
			if f, ok := c.Callee.(*ir.Func); ok && f.Name() == barrierName {
				return
			}
		}
	}
	g.call(barrierName, types.Void)
}

func lowerBarrier(g *Generator, v *tir.Value) {
	g.barrier()
}

func lowerPhi(g *Generator, v *tir.Value) {
	if g.isShared(v.ID) {
		g.lowerSharedPhi(v)
		return
	}
	typ := scalarType(v.Type)
	for _, key := range g.indices(v.ID) {
		g.set(v.ID, key, g.phi(typ))
	}
	g.later(func() {
		g.cur = v
		keys := g.indices(v.ID)
		for i, x := range v.Args {
			if g.fn.Value(x).Type.IsTile() {
				g.sameIndices(v.ID, x)
			}
			pred := g.last[v.Preds[i]]
			for _, key := range keys {
				phi := g.get(v.ID, key).(*ir.InstPhi)
				phi.Incs = append(phi.Incs, ir.NewIncoming(g.operand(x, key), pred))
			}
		}
		g.cur = nil
	})
}

func lowerBr(g *Generator, v *tir.Value) {
	g.blk.NewBr(g.blocks[v.Targets[0]])
}

func lowerCondBr(g *Generator, v *tir.Value) {
	g.blk.NewCondBr(g.scalar(v.Args[0]), g.blocks[v.Targets[0]], g.blocks[v.Targets[1]])
}

func lowerRet(g *Generator, v *tir.Value) {
	g.blk.NewRet(nil)
}

func lowerAtomic(g *Generator, v *tir.Value) {
	if g.fn.Value(v.Args[0]).Type.IsTile() {
		g.atomicTile(v)
		return
	}
	g.atomicScalar(v)
}

func (g *Generator) rmw(v *tir.Value, ptr, x value.Value) value.Value {
	op := enum.AtomicOpAdd
	switch {
	case v.Op == tir.OpAtomicExch:
		op = enum.AtomicOpXChg
	case g.fn.Value(v.Args[1]).Type.Elem.IsFloat():
		op = enum.AtomicOpFAdd
	}
	return g.blk.NewAtomicRMW(op, ptr, x, enum.AtomicOrderingMonotonic)
}

// atomicTile adds every element once, from the
// primary thread holding it
func (g *Generator) atomicTile(v *tir.Value) {
	p, x, mask := v.Args[0], v.Args[1], v.Args[2]
	if v.Op != tir.OpAtomicAdd {
		g.fatalf(v, errUnsupport, "%s of a tile", v.Op)
	}
	pri := g.primary(p)
	for _, key := range g.sameIndices(p, x, mask) {
		key := key
		cond := g.and1(g.get(mask, key), pri)
		g.guard(cond, "atom", func() {
			g.rmw(v, g.get(p, key), g.get(x, key))
		})
	}
}

// atomicScalar runs the operation on thread 0
// and broadcasts the old value through scratch
func (g *Generator) atomicScalar(v *tir.Value) {
	ptr := g.scalar(v.Args[0])
	cond := g.primary(v.ID)
	if v.Op == tir.OpAtomicAdd {
		cond = g.and1(cond, g.scalar(v.Args[2]))
	}
	elem := scalarType(v.Type)
	if v.Type.Elem == tir.Void {
		g.guard(cond, "atom", func() { g.rmw(v, ptr, g.scalar(v.Args[1])) })
		return
	}
	slot := g.scratchAddr(v, i32(0), elem)
	g.guard(cond, "atom", func() {
		var old value.Value
		switch v.Op {
		case tir.OpAtomicCAS:
			if v.Type.Elem.IsFloat() {
				g.fatalf(v, errUnsupport, "compare-and-swap of %s", v.Type.Elem)
			}
			xchg := g.blk.NewCmpXchg(ptr, g.scalar(v.Args[1]), g.scalar(v.Args[2]),
				enum.AtomicOrderingMonotonic, enum.AtomicOrderingMonotonic)
			old = g.blk.NewExtractValue(xchg, 0)
		default:
			old = g.rmw(v, ptr, g.scalar(v.Args[1]))
		}
		g.blk.NewStore(old, slot)
	})
	g.barrier()
	g.set(v.ID, idxkey{}, g.blk.NewLoad(elem, slot))
	g.barrier()
}
