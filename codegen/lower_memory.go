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
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/SnellerInc/tilegen/analysis"
	"github.com/SnellerInc/tilegen/tir"
)

// memGroup is a run of lane elements of a
// pointer tile accessed as one vector
type memGroup struct {
	keys []idxkey
	ptr  value.Value // pointer to the first element
	elem types.Type
}

func (m *memGroup) width() int { return len(m.keys) }

func (m *memGroup) vecType() types.Type {
	if m.width() == 1 {
		return m.elem
	}
	return types.NewVector(uint64(m.width()), m.elem)
}

func (m *memGroup) align() ir.Align {
	return ir.Align(int64(m.width()) * typeBytes(m.elem))
}

// groups splits the elements of the pointer
// operand p into vector groups; uniform groups
// share one mask
func (g *Generator) groups(p, mask tir.ValueID, keys []idxkey, uniform bool) []memGroup {
	pv := g.fn.Value(p)
	w := 1
	if pv.Type.IsTile() {
		w = g.vectorWidth(p, mask, uniform)
	}
	elem := elemType(pv.Type.Pointee, tir.KindInvalid)
	out := make([]memGroup, 0, len(keys)/w)
	for i := 0; i < len(keys); i += w {
		out = append(out, memGroup{
			keys: keys[i : i+w],
			ptr:  g.operand(p, keys[i]),
			elem: elem,
		})
	}
	return out
}

// pack builds a vector from per-element values
func (g *Generator) pack(elems []value.Value) value.Value {
	if len(elems) == 1 {
		return elems[0]
	}
	vt := types.NewVector(uint64(len(elems)), elems[0].Type())
	var vec value.Value = constant.NewUndef(vt)
	for i := range elems {
		vec = g.blk.NewInsertElement(vec, elems[i], i32(int64(i)))
	}
	return vec
}

// unpack splits a vector of n elements
func (g *Generator) unpack(vec value.Value, n int) []value.Value {
	if n == 1 {
		return []value.Value{vec}
	}
	out := make([]value.Value, n)
	for i := range out {
		out[i] = g.blk.NewExtractElement(vec, i32(int64(i)))
	}
	return out
}

// masks returns the mask of every element of m
func (g *Generator) masks(m *memGroup, mask tir.ValueID) []value.Value {
	out := make([]value.Value, m.width())
	for i, key := range m.keys {
		out[i] = g.operand(mask, key)
	}
	return out
}

func (g *Generator) loadPlain(m *memGroup) value.Value {
	vt := m.vecType()
	ld := g.blk.NewLoad(vt, g.recast(m.ptr, vt))
	ld.Align = m.align()
	return ld
}

func (g *Generator) storePlain(m *memGroup, val value.Value) {
	st := g.blk.NewStore(val, g.recast(m.ptr, val.Type()))
	st.Align = m.align()
}

// loadGroup loads the elements of m where mask
// is set (every element when mask is NoValue)
// and yields the matching element of other
// elsewhere
func (g *Generator) loadGroup(m *memGroup, mask, other tir.ValueID) []value.Value {
	if mask == tir.NoValue {
		return g.unpack(g.loadPlain(m), m.width())
	}
	ms := g.masks(m, mask)
	fill := make([]value.Value, m.width())
	for i, key := range m.keys {
		fill[i] = g.operand(other, key)
	}
	if c, ok := constInt(ms[0]); ok && m.width() == 1 {
		if c == 0 {
			return fill
		}
		return g.unpack(g.loadPlain(m), 1)
	}
	vt := m.vecType()
	if g.tgt.Predication {
		// the mask is constant over the group
		pre := g.blk
		otherv := g.pack(fill)
		then := g.newBlock("ld")
		join := g.newBlock("ld.join")
		g.blk.NewCondBr(ms[0], then, join)
		g.blk = then
		ld := g.loadPlain(m)
		g.blk.NewBr(join)
		g.blk = join
		phi := g.blk.NewPhi(ir.NewIncoming(ld, then), ir.NewIncoming(otherv, pre))
		phi.Typ = vt
		return g.unpack(phi, m.width())
	}
	vec := types.NewVector(uint64(m.width()), m.elem)
	ptr := g.recast(m.ptr, vec)
	name := fmt.Sprintf("llvm.masked.load.%s.%s", typeSuffix(vec), typeSuffix(ptr.Type()))
	r := g.call(name, vec, ptr, i32(int64(m.align())), g.packMask(ms), g.packVec(fill))
	out := make([]value.Value, m.width())
	for i := range out {
		out[i] = g.blk.NewExtractElement(r, i32(int64(i)))
	}
	return out
}

// packVec is pack that always yields a vector
func (g *Generator) packVec(elems []value.Value) value.Value {
	vt := types.NewVector(uint64(len(elems)), elems[0].Type())
	var vec value.Value = constant.NewUndef(vt)
	for i := range elems {
		vec = g.blk.NewInsertElement(vec, elems[i], i32(int64(i)))
	}
	return vec
}

func (g *Generator) packMask(ms []value.Value) value.Value { return g.packVec(ms) }

// storeGroup stores vals through m where mask
// is set (everywhere when mask is NoValue)
func (g *Generator) storeGroup(m *memGroup, vals []value.Value, mask tir.ValueID) {
	if mask == tir.NoValue {
		g.storePlain(m, g.pack(vals))
		return
	}
	ms := g.masks(m, mask)
	if g.tgt.Predication || m.width() == 1 {
		g.guard(ms[0], "st", func() {
			g.storePlain(m, g.pack(vals))
		})
		return
	}
	vec := types.NewVector(uint64(m.width()), m.elem)
	ptr := g.recast(m.ptr, vec)
	name := fmt.Sprintf("llvm.masked.store.%s.%s", typeSuffix(vec), typeSuffix(ptr.Type()))
	g.call(name, types.Void, g.packVec(vals), ptr, i32(int64(m.align())), g.packMask(ms))
}

func (g *Generator) lowerLoads(v *tir.Value, mask, other tir.ValueID) {
	p := v.Args[0]
	keys := g.elementwise(v, p)
	for _, m := range g.groups(p, mask, keys, g.tgt.Predication) {
		m := m
		for i, x := range g.loadGroup(&m, mask, other) {
			g.set(v.ID, m.keys[i], x)
		}
	}
}

func lowerLoad(g *Generator, v *tir.Value) {
	g.lowerLoads(v, tir.NoValue, tir.NoValue)
}

func lowerMaskedLoad(g *Generator, v *tir.Value) {
	g.lowerLoads(v, v.Args[1], v.Args[2])
}

func (g *Generator) lowerStores(v *tir.Value, mask tir.ValueID) {
	p, x := v.Args[0], v.Args[1]
	keys := g.indices(p)
	if g.fn.Value(x).Type.IsTile() {
		keys = g.sameIndices(p, x)
	}
	for _, m := range g.groups(p, mask, keys, g.tgt.Predication) {
		m := m
		vals := make([]value.Value, m.width())
		for i, key := range m.keys {
			vals[i] = g.operand(x, key)
		}
		g.storeGroup(&m, vals, mask)
	}
}

func lowerStore(g *Generator, v *tir.Value) {
	g.lowerStores(v, tir.NoValue)
}

func lowerMaskedStore(g *Generator, v *tir.Value) {
	g.lowerStores(v, v.Args[2])
}

// coords returns the coordinates of element
// key of the distributed value id
func (g *Generator) coords(id tir.ValueID, key idxkey) []value.Value {
	out := make([]value.Value, g.fn.Value(id).Type.Rank())
	for d := range out {
		out[d] = g.coord(id, key, d)
	}
	return out
}

// asyncWidth returns the number of elements
// copied by one asynchronous copy, or 0 when
// groups of width w cannot be copied
// asynchronously into sh
func (g *Generator) asyncWidth(p tir.ValueID, sh *analysis.Shared, w int) int {
	if !g.tgt.AsyncCopy {
		return 0
	}
	if w > 1 && g.fastDim(p) != sh.Order[0] {
		w = 1
	}
	if sw := g.swizzle(sh); !sw.IsIdentity() {
		vec, _, _ := sw.Params()
		w = min(w, vec)
	}
	switch w * sh.Elem.Bytes() {
	case 4, 8, 16:
		return w
	}
	return 0
}

// lowerMaskedLoadAsync copies a distributed
// pointer tile into shared memory; masked-off
// elements are filled with other
func lowerMaskedLoadAsync(g *Generator, v *tir.Value) {
	p, mask, other := v.Args[0], v.Args[1], v.Args[2]
	sh := g.sharedLayout(v.ID)
	g.base(v.ID)
	keys := g.indices(p)
	groups := g.groups(p, mask, keys, true)
	if len(groups) == 0 {
		return
	}
	aw := g.asyncWidth(p, sh, groups[0].width())
	if aw == 0 {
		// synchronous fallback
		for _, m := range groups {
			m := m
			vals := g.loadGroup(&m, mask, other)
			for i, key := range m.keys {
				g.blk.NewStore(vals[i], g.sharedPtr(v.ID, g.coords(p, key)))
			}
		}
		return
	}
	bytes := aw * sh.Elem.Bytes()
	name := fmt.Sprintf("llvm.nvvm.cp.async.ca.shared.global.%d", bytes)
	for _, m := range groups {
		for i := 0; i < m.width(); i += aw {
			sub := memGroup{keys: m.keys[i : i+aw], elem: m.elem}
			sub.ptr = g.operand(p, sub.keys[0])
			dst := g.sharedPtr(v.ID, g.coords(p, sub.keys[0]))
			copyBody := func() {
				g.call(name, types.Void,
					g.recast(dst, types.I8),
					g.recast(sub.ptr, types.I8))
			}
			var cond value.Value = i1(true)
			if mask != tir.NoValue {
				cond = g.operand(mask, sub.keys[0])
			}
			if c, ok := constInt(cond); ok {
				if c != 0 {
					copyBody()
				} else {
					g.fillShared(v, p, other, sub.keys)
				}
				continue
			}
			then := g.newBlock("cp")
			els := g.newBlock("cp.fill")
			join := g.newBlock("cp.join")
			g.blk.NewCondBr(cond, then, els)
			g.blk = then
			copyBody()
			g.blk.NewBr(join)
			g.blk = els
			g.fillShared(v, p, other, sub.keys)
			g.blk.NewBr(join)
			g.blk = join
		}
	}
	g.call("llvm.nvvm.cp.async.commit.group", types.Void)
	g.asyncCopies++
}

func (g *Generator) fillShared(v *tir.Value, p, other tir.ValueID, keys []idxkey) {
	for _, key := range keys {
		g.blk.NewStore(g.operand(other, key), g.sharedPtr(v.ID, g.coords(p, key)))
	}
}

func lowerAsyncWait(g *Generator, v *tir.Value) {
	if !g.tgt.AsyncCopy {
		return
	}
	g.call("llvm.nvvm.cp.async.wait.group", types.Void, i32(v.Imm))
}
