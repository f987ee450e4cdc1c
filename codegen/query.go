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
	"github.com/SnellerInc/tilegen/analysis"
	"github.com/SnellerInc/tilegen/ints"
	"github.com/SnellerInc/tilegen/tir"
)

// read-only queries over the analysis results;
// a missing result is a broken precondition

func (g *Generator) layout(id tir.ValueID) analysis.Layout {
	l, ok := g.an.Layouts[id]
	if !ok {
		g.fatalf(g.fn.Value(id), errLayout, "no layout assigned")
	}
	return l
}

func (g *Generator) kind(id tir.ValueID) analysis.Kind {
	if !g.fn.Value(id).Type.IsTile() {
		return analysis.KindInvalid
	}
	return g.layout(id).Kind()
}

func (g *Generator) isShared(id tir.ValueID) bool {
	return g.fn.Value(id).Type.IsTile() && g.kind(id) == analysis.KindShared
}

func (g *Generator) sharedLayout(id tir.ValueID) *analysis.Shared {
	sh, ok := g.layout(id).(*analysis.Shared)
	if !ok {
		g.fatalf(g.fn.Value(id), errKind, "expected a shared layout, got %s", g.layout(id).Kind())
	}
	return sh
}

// axesOf returns the axis of every dim of a
// distributed tile value
func (g *Generator) axesOf(id tir.ValueID) []int {
	v := g.fn.Value(id)
	ax, ok := g.an.Axes[id]
	if !ok || len(ax) != v.Type.Rank() {
		g.fatalf(v, errAxes, "no axes for a rank-%d value", v.Type.Rank())
	}
	return ax
}

func (g *Generator) axis(v *tir.Value, a int) *distAxis {
	da, ok := g.axes[a]
	if !ok {
		g.fatalf(v, errAxes, "axis %d is not defined by any layout", a)
	}
	return da
}

func (g *Generator) facts(id tir.ValueID) analysis.Facts {
	return g.an.Facts[id]
}

// fastDim returns the dim of v that varies
// fastest in its layout, or -1
func (g *Generator) fastDim(id tir.ValueID) int {
	v := g.fn.Value(id)
	if !v.Type.IsTile() {
		return -1
	}
	geom := g.layout(id).Geom()
	for i, a := range g.axesOf(id) {
		if a != analysis.Unit && geom.DimOf(a) == geom.Order[0] {
			return i
		}
	}
	return -1
}

// vectorWidth returns the number of consecutive
// lane elements of the pointer tile ptr that
// may be accessed as one vector; when uniform
// is set a non-zero mask must also be constant
// over the vector
func (g *Generator) vectorWidth(ptr, mask tir.ValueID, uniform bool) int {
	v := g.fn.Value(ptr)
	d := g.fastDim(ptr)
	if d < 0 {
		return 1
	}
	sl, ok := g.layout(ptr).(*analysis.Scanline)
	if !ok {
		return 1
	}
	ld := sl.DimOf(g.axesOf(ptr)[d])
	f := g.facts(ptr)
	lim := ints.FloorPow2(max(g.tgt.MaxVectorBytes/max(v.Type.Pointee.Bytes(), 1), 1))
	w := min(lim,
		ints.Pow2Divisor(sl.NTS[ld], lim),
		ints.Pow2Divisor(f.ContiguityAt(d), lim),
		ints.Pow2Divisor(f.DivisibilityAt(d), lim))
	if mask != tir.NoValue && uniform {
		w = min(w, ints.Pow2Divisor(g.facts(mask).ConstancyAt(d), lim))
	}
	return w
}

func (g *Generator) sharedOffset(l *analysis.Shared) int {
	off, ok := g.an.Offsets[l.ID]
	if !ok {
		g.fatalf(g.cur, errAlloc, "shared layout %d has no offset", l.ID)
	}
	return off
}

func (g *Generator) scratch(v *tir.Value) analysis.Region {
	r, ok := g.an.Scratch[v.ID]
	if !ok {
		g.fatalf(v, errAlloc, "no scratch region")
	}
	return r
}

func (g *Generator) swizzle(l *analysis.Shared) analysis.Swizzle {
	return g.an.Swizzles[l.ID]
}
