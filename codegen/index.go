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
	"github.com/llir/llvm/ir/value"
	"golang.org/x/exp/slices"

	"github.com/SnellerInc/tilegen/analysis"
	"github.com/SnellerInc/tilegen/target"
	"github.com/SnellerInc/tilegen/tir"
)

const maxRank = 4

// keyent is one dim of an index tuple;
// axis is the axis ID plus one, so that
// the zero keyent is the unit axis
type keyent struct {
	axis, pos int32
}

// idxkey identifies one lane-local element of
// a tile value. Scalars use the zero idxkey.
type idxkey [maxRank]keyent

func mkent(axis, pos int) keyent {
	if axis == analysis.Unit {
		return keyent{}
	}
	return keyent{axis: int32(axis + 1), pos: int32(pos)}
}

func (k keyent) axisID() int { return int(k.axis) - 1 }

func (k idxkey) export(rank int) Index {
	out := make(Index, rank)
	for d := range out {
		out[d] = AxisPos{Axis: k[d].axisID(), Pos: int(k[d].pos)}
	}
	return out
}

// drop removes dim d
func (k idxkey) drop(d int) idxkey {
	var out idxkey
	copy(out[:d], k[:d])
	copy(out[d:], k[d+1:])
	return out
}

// distAxis is one distributed axis: the
// values of the dim held by a thread, in
// position order, and the coordinate of the
// thread along the axis.
type distAxis struct {
	contiguous int
	values     []value.Value
	thread     value.Value
	layout     int
	dim        int
}

// threadCoords is the position of the executing
// thread in a layout
type threadCoords struct {
	coords []value.Value // per layout dim
	// replica numbers the copies of a layout
	// smaller than the block
	replica value.Value
}

func (g *Generator) atEntry(fn func() value.Value) value.Value {
	saved := g.blk
	g.blk = g.entry
	v := fn()
	g.blk = saved
	return v
}

// visitLayouts builds the distributed axes of
// every layout at function entry
func (g *Generator) visitLayouts() {
	ws := int64(g.tgt.WarpSize)
	g.tid = g.sreg("tid.x")
	g.lane = g.urem(g.tid, ws)
	g.warp = g.udiv(g.tid, ws)
	for _, l := range g.an.All() {
		switch l := l.(type) {
		case *analysis.Scanline:
			g.visitLayoutScanline(l)
		case *analysis.MMA:
			g.visitLayoutMMA(l)
		case *analysis.Shared:
			if l.Rank() > maxRank {
				g.fatalf(nil, errUnsupport, "shared layout %d has rank %d", l.ID, l.Rank())
			}
		}
	}
}

func (g *Generator) visitLayoutScanline(l *analysis.Scanline) {
	if err := l.Validate(g.Threads()); err != nil {
		g.fatalf(nil, errLayout, "%s", err)
	}
	if l.Rank() > maxRank {
		g.fatalf(nil, errUnsupport, "scanline layout %d has rank %d", l.ID, l.Rank())
	}
	tc := &threadCoords{coords: make([]value.Value, l.Rank())}
	rem := g.tid
	for _, d := range l.Order {
		tc.coords[d] = g.urem(rem, int64(l.MTS[d]))
		rem = g.udiv(rem, int64(l.MTS[d]))
	}
	tc.replica = rem
	g.threads[l.ID] = tc
	for d := range l.Shape {
		nts, mts := l.NTS[d], l.MTS[d]
		perBlock := nts * mts
		base := g.mul(tc.coords[d], int64(nts))
		n := l.PerThread(d)
		da := &distAxis{
			contiguous: nts,
			values:     make([]value.Value, n),
			thread:     tc.coords[d],
			layout:     l.ID,
			dim:        d,
		}
		for i := 0; i < n; i++ {
			da.values[i] = g.addc(base, int64(i/nts*perBlock+i%nts))
		}
		g.axes[l.Axes[d]] = da
	}
}

func (g *Generator) visitLayoutMMA(l *analysis.MMA) {
	if l.Gen != g.tgt.TensorCore {
		g.fatalf(nil, errTarget, "mma layout %d is for %s, target %s has %s",
			l.ID, l.Gen, g.tgt.Name, g.tgt.TensorCore)
	}
	if err := l.Validate(g.numWarps); err != nil {
		g.fatalf(nil, errLayout, "%s", err)
	}
	wpt0, wpt1 := int64(l.WPT[0]), int64(l.WPT[1])
	wm := g.urem(g.warp, wpt0)
	wn := g.urem(g.udiv(g.warp, wpt0), wpt1)
	tc := &threadCoords{
		coords:  []value.Value{wm, wn},
		replica: g.udiv(g.warp, wpt0*wpt1),
	}
	g.threads[l.ID] = tc
	wt := l.Gen.WarpTile()
	reps0, reps1 := l.Reps()

	// lane-dependent part of the rows and
	// columns held within one warp tile
	var rows, cols []value.Value
	var contig int
	switch l.Gen {
	case target.MMA884:
		qp := g.udiv(g.urem(g.lane, 16), 4)
		qpm, qpn := g.urem(qp, 2), g.udiv(qp, 2)
		hi := g.mul(g.udiv(g.lane, 16), 4)
		rbase := g.add(g.add(g.mul(qpm, 8), g.urem(g.lane, 2)), hi)
		rows = []value.Value{rbase, g.addc(rbase, 2)}
		cbase := g.add(g.mul(qpn, 8), g.blk.NewAnd(g.lane, i32(2)))
		cols = []value.Value{cbase, g.addc(cbase, 1), g.addc(cbase, 4), g.addc(cbase, 5)}
		contig = 2
	default:
		gid := g.udiv(g.lane, 4)
		tig := g.urem(g.lane, 4)
		rows = []value.Value{gid, g.addc(gid, 8)}
		c := g.mul(tig, 2)
		cols = []value.Value{c, g.addc(c, 1)}
		contig = 2
	}
	r0 := g.mul(wm, int64(wt.M))
	c0 := g.mul(wn, int64(wt.N))
	ax0 := &distAxis{contiguous: 1, thread: wm, layout: l.ID, dim: 0}
	for r := 0; r < reps0; r++ {
		base := g.addc(r0, int64(r*wt.M)*wpt0)
		for _, x := range rows {
			ax0.values = append(ax0.values, g.add(base, x))
		}
	}
	ax1 := &distAxis{contiguous: contig, thread: wn, layout: l.ID, dim: 1}
	for r := 0; r < reps1; r++ {
		base := g.addc(c0, int64(r*wt.N)*wpt1)
		for _, x := range cols {
			ax1.values = append(ax1.values, g.add(base, x))
		}
	}
	g.axes[l.Axes[0]] = ax0
	g.axes[l.Axes[1]] = ax1
}

// indices materializes the index tuples of a
// distributed or scalar value. The result is
// cached, so every consumer of a value sees the
// same tuples in the same order.
func (g *Generator) indices(id tir.ValueID) []idxkey {
	if keys, ok := g.idxs[id]; ok {
		return keys
	}
	v := g.fn.Value(id)
	g.owner[id] = v.Block
	if !v.Type.IsTile() {
		keys := []idxkey{{}}
		g.idxs[id] = keys
		return keys
	}
	l := g.layout(id)
	if l.Kind() == analysis.KindShared {
		g.fatalf(v, errKind, "shared values have no per-lane indices")
	}
	if v.Type.Rank() > maxRank {
		g.fatalf(v, errUnsupport, "rank %d exceeds %d", v.Type.Rank(), maxRank)
	}
	geom := l.Geom()
	type dimInfo struct {
		dim, ord, n, axis int
	}
	axes := g.axesOf(id)
	dims := make([]dimInfo, len(axes))
	for i, a := range axes {
		if a == analysis.Unit {
			if v.Type.Shape[i] != 1 {
				g.fatalf(v, errAxes, "dim %d of size %d uses the unit axis", i, v.Type.Shape[i])
			}
			dims[i] = dimInfo{dim: i, ord: -1, n: 1, axis: a}
			continue
		}
		ld := geom.DimOf(a)
		if ld < 0 {
			g.fatalf(v, errAxes, "axis %d does not belong to layout %d", a, geom.ID)
		}
		if v.Type.Shape[i] != geom.Shape[ld] {
			g.fatalf(v, errShape, "dim %d has size %d, layout dim %d has size %d",
				i, v.Type.Shape[i], ld, geom.Shape[ld])
		}
		dims[i] = dimInfo{dim: i, ord: geom.OrderOf(ld), n: len(g.axis(v, a).values), axis: a}
	}
	// fastest dim first; it varies innermost
	slices.SortStableFunc(dims, func(a, b dimInfo) int { return a.ord - b.ord })
	total := 1
	for i := range dims {
		total *= dims[i].n
	}
	keys := make([]idxkey, total)
	for lin := range keys {
		rem := lin
		for _, di := range dims {
			keys[lin][di.dim] = mkent(di.axis, rem%di.n)
			rem /= di.n
		}
	}
	g.idxs[id] = keys
	return keys
}

// coord returns the coordinate of the element
// key along dim d of value id
func (g *Generator) coord(id tir.ValueID, key idxkey, d int) value.Value {
	e := key[d]
	if e.axis == 0 {
		return i32(0)
	}
	da := g.axis(g.fn.Value(id), e.axisID())
	return da.values[e.pos]
}

// value storage

func (g *Generator) set(id tir.ValueID, key idxkey, x value.Value) {
	m := g.vals[id]
	if m == nil {
		m = make(map[idxkey]value.Value)
		g.vals[id] = m
	}
	m[key] = x
}

func (g *Generator) get(id tir.ValueID, key idxkey) value.Value {
	x, ok := g.vals[id][key]
	if !ok {
		g.fatalf(g.cur, errIndex, "%s has no element at %v", g.fn.Value(id).Ref(), key.export(g.fn.Value(id).Type.Rank()))
	}
	return x
}

// scalar returns the uniform value of a scalar
func (g *Generator) scalar(id tir.ValueID) value.Value {
	if g.fn.Value(id).Type.IsTile() {
		g.fatalf(g.cur, errShape, "%s is not a scalar", g.fn.Value(id).Ref())
	}
	return g.get(id, idxkey{})
}

// sameIndices checks that ids all have the
// index tuples of the first one
func (g *Generator) sameIndices(ids ...tir.ValueID) []idxkey {
	keys := g.indices(ids[0])
	for _, id := range ids[1:] {
		other := g.indices(id)
		if len(other) != len(keys) {
			g.fatalf(g.cur, errIndex, "%s has %d index tuples, %s has %d",
				g.fn.Value(ids[0]).Ref(), len(keys), g.fn.Value(id).Ref(), len(other))
		}
		for i := range keys {
			if keys[i] != other[i] {
				g.fatalf(g.cur, errIndex, "%s and %s disagree at tuple %d",
					g.fn.Value(ids[0]).Ref(), g.fn.Value(id).Ref(), i)
			}
		}
	}
	return keys
}

type primaryKey struct {
	layout int
	used   uint8
}

// primary returns the predicate that holds in
// exactly one of the threads holding each
// element of id: the threads at coordinate zero
// along every layout dim id does not use, in
// the first replica of the layout
func (g *Generator) primary(id tir.ValueID) value.Value {
	v := g.fn.Value(id)
	if !v.Type.IsTile() {
		pk := primaryKey{layout: -1}
		if p, ok := g.primaries[pk]; ok {
			return p
		}
		p := g.atEntry(func() value.Value { return g.eq(g.tid, 0) })
		g.primaries[pk] = p
		return p
	}
	l := g.layout(id)
	tc, ok := g.threads[l.Geom().ID]
	if !ok {
		g.fatalf(v, errKind, "%s layout has no thread coordinates", l.Kind())
	}
	var used uint8
	for _, a := range g.axesOf(id) {
		if a != analysis.Unit {
			used |= 1 << l.Geom().DimOf(a)
		}
	}
	pk := primaryKey{layout: l.Geom().ID, used: used}
	if p, ok := g.primaries[pk]; ok {
		return p
	}
	p := g.atEntry(func() value.Value {
		p := g.eq(tc.replica, 0)
		for d := range tc.coords {
			if used&(1<<d) == 0 {
				p = g.and1(p, g.eq(tc.coords[d], 0))
			}
		}
		return p
	})
	g.primaries[pk] = p
	return p
}

// linear returns the row-major linear index of
// element key of id within its shape
func (g *Generator) linear(id tir.ValueID, key idxkey) value.Value {
	shape := g.fn.Value(id).Type.Shape
	var lin value.Value = i32(0)
	stride := 1
	for d := len(shape) - 1; d >= 0; d-- {
		lin = g.add(lin, g.mul(g.coord(id, key, d), int64(stride)))
		stride *= shape[d]
	}
	return lin
}
