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
	"golang.org/x/exp/slices"

	"github.com/SnellerInc/tilegen/analysis"
	"github.com/SnellerInc/tilegen/tir"
)

// sharedMemName is the external shared-memory
// array every shared access is relative to
const sharedMemName = "shared_mem"

func (g *Generator) sharedArray() *ir.Global {
	if g.sharedMem != nil {
		return g.sharedMem
	}
	content := types.NewArray(0, types.I8)
	gl := g.mod.NewGlobal(sharedMemName, content)
	gl.Linkage = enum.LinkageExternal
	gl.AddrSpace = spaceShared
	gl.Typ = ptrType(content, spaceShared)
	g.sharedMem = gl
	return gl
}

// sharedAddr returns a pointer to elem at the
// byte offset off of shared memory
func (g *Generator) sharedAddr(off value.Value, elem types.Type) value.Value {
	arr := g.sharedArray()
	gep := g.blk.NewGetElementPtr(arr.ContentType, arr, i32(0), off)
	gep.InBounds = true
	gep.Typ = ptrType(types.I8, spaceShared)
	return g.recast(gep, elem)
}

// scratchAddr returns a pointer to slot of
// the scratch region of v
func (g *Generator) scratchAddr(v *tir.Value, slot value.Value, elem types.Type) value.Value {
	r := g.scratch(v)
	size := max(typeBytes(elem), 4)
	return g.sharedAddr(g.add(i32(int64(r.Offset)), g.mul(slot, size)), elem)
}

// swizzleCol returns the physical column
// of col in row
func (g *Generator) swizzleCol(sw analysis.Swizzle, row, col value.Value) value.Value {
	vec, perPhase, maxPhase := sw.Params()
	phase := g.urem(g.udiv(row, int64(perPhase)), int64(maxPhase))
	grp := g.xor(g.udiv(col, int64(vec)), phase)
	return g.add(g.mul(grp, int64(vec)), g.urem(col, int64(vec)))
}

// sharedElemOffset returns the physical element
// offset of the element at coords of a tile
// in the shared layout sh
func (g *Generator) sharedElemOffset(sh *analysis.Shared, coords []value.Value) value.Value {
	if len(coords) != sh.Rank() {
		g.fatalf(g.cur, errShape, "%d coordinates for a rank-%d shared layout", len(coords), sh.Rank())
	}
	if sw := g.swizzle(sh); !sw.IsIdentity() && sh.Rank() >= 2 {
		c, r := sh.Order[0], sh.Order[1]
		coords = slices.Clone(coords)
		coords[c] = g.swizzleCol(sw, coords[r], coords[c])
	}
	strides := sh.Strides()
	var lin value.Value = i32(0)
	for d := range coords {
		lin = g.add(lin, g.mul(coords[d], int64(strides[d])))
	}
	return lin
}

// sharedPtr returns a pointer to the element
// at coords of the shared value id
func (g *Generator) sharedPtr(id tir.ValueID, coords []value.Value) value.Value {
	sh := g.sharedLayout(id)
	elem := elemType(sh.Elem, tir.KindInvalid)
	off := g.mul(g.sharedElemOffset(sh, coords), int64(sh.Elem.Bytes()))
	return g.sharedAddr(g.add(g.base(id), off), elem)
}

// bufferState is the slot rotation of a
// multi-buffered shared layout
type bufferState struct {
	layout *analysis.Shared
	header tir.BlockID
	// cur is the byte offset of the slot read
	// by the current iteration, relative to the
	// layout; next is the slot being filled for
	// the following one
	cur  *ir.InstPhi
	next value.Value
}

// base returns the i32 byte offset of the
// shared value id
func (g *Generator) base(id tir.ValueID) value.Value {
	if b, ok := g.shbase[id]; ok {
		return b
	}
	sh := g.sharedLayout(id)
	var b value.Value
	if buf := sh.Buffer; buf != nil && (id == buf.Phi || id == buf.First || id == buf.Latch) {
		off := i32(int64(g.sharedOffset(sh)))
		switch id {
		case buf.First:
			b = off
		default:
			st, ok := g.bufs[sh.ID]
			if !ok || st.next == nil {
				g.fatalf(g.fn.Value(id), errOrder, "buffer value of layout %d lowered before its phi", sh.ID)
			}
			if id == buf.Phi {
				b = g.add(off, st.cur)
			} else {
				b = g.add(off, st.next)
			}
		}
	} else {
		b = i32(int64(g.sharedOffset(sh)))
	}
	g.shbase[id] = b
	return b
}

// lowerSharedPhi handles phis of shared values
func (g *Generator) lowerSharedPhi(v *tir.Value) {
	sh := g.sharedLayout(v.ID)
	if buf := sh.Buffer; buf != nil && buf.Phi == v.ID {
		if _, ok := g.bufs[sh.ID]; ok {
			g.fatalf(v, errOrder, "layout %d has two buffer phis", sh.ID)
		}
		cur := g.phi(types.I32)
		st := &bufferState{layout: sh, header: g.tblk, cur: cur}
		g.bufs[sh.ID] = st
		g.later(func() {
			for i, x := range v.Args {
				var in value.Value
				switch x {
				case buf.First:
					in = i32(0)
				case buf.Latch:
					in = st.next
				default:
					g.fatalf(v, errKind, "buffer phi takes %s, neither its first nor its latch value",
						g.fn.Value(x).Ref())
				}
				cur.Incs = append(cur.Incs, ir.NewIncoming(in, g.last[v.Preds[i]]))
			}
		})
		return
	}
	phi := g.phi(types.I32)
	g.shbase[v.ID] = phi
	g.later(func() {
		for i, x := range v.Args {
			if !g.isShared(x) || g.sharedLayout(x) != sh {
				g.fatalf(v, errKind, "incoming %s is not in shared layout %d", g.fn.Value(x).Ref(), sh.ID)
			}
			phi.Incs = append(phi.Incs, ir.NewIncoming(g.base(x), g.last[v.Preds[i]]))
		}
	})
}

// afterPhis emits the slot rotation of the
// buffers whose phi is in the current block
func (g *Generator) afterPhis() {
	for _, l := range g.an.All() {
		st, ok := g.bufs[l.Geom().ID]
		if !ok || st.header != g.tblk || st.next != nil {
			continue
		}
		slot := int64(st.layout.SlotBytes())
		total := slot * int64(st.layout.Buffer.N)
		next := g.addc(st.cur, slot)
		wrap := g.blk.NewICmp(enum.IPredUGE, next, i32(total))
		st.next = g.blk.NewSelect(wrap, i32(0), next)
	}
}
