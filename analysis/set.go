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

package analysis

import (
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/SnellerInc/tilegen/ints"
	"github.com/SnellerInc/tilegen/target"
	"github.com/SnellerInc/tilegen/tir"
)

// Facts are the alignment facts of a value,
// one entry per dim. A missing entry means 1.
type Facts struct {
	// Contiguity is the length of runs of
	// consecutive values along each dim.
	Contiguity []int
	// Divisibility is the largest power of two
	// known to divide the first value of every
	// contiguous run (in elements for pointers).
	Divisibility []int
	// Constancy is the length of runs of
	// equal values along each dim.
	Constancy []int
}

func factAt(lst []int, d int) int {
	if d < 0 || d >= len(lst) || lst[d] <= 0 {
		return 1
	}
	return lst[d]
}

// ContiguityAt returns the contiguity of dim d.
func (f Facts) ContiguityAt(d int) int { return factAt(f.Contiguity, d) }

// DivisibilityAt returns the divisibility of dim d.
func (f Facts) DivisibilityAt(d int) int { return factAt(f.Divisibility, d) }

// ConstancyAt returns the constancy of dim d.
func (f Facts) ConstancyAt(d int) int { return factAt(f.Constancy, d) }

// Region is a byte range of shared memory.
type Region struct {
	Offset, Size int
}

// End returns the first byte after r.
func (r Region) End() int { return r.Offset + r.Size }

// Set is the bundle of analysis results for
// one function.
type Set struct {
	Func *tir.Function

	// Layouts maps every tile value to its layout.
	Layouts map[tir.ValueID]Layout
	// Axes maps every distributed tile value to
	// the axis of each of its dims.
	Axes map[tir.ValueID][]int
	// Facts holds alignment facts for the values
	// that have them.
	Facts map[tir.ValueID]Facts
	// Swizzles holds the swizzle of shared layouts,
	// by layout ID.
	Swizzles map[int]Swizzle
	// Offsets is the base byte offset of every
	// shared layout, by layout ID.
	Offsets map[int]int
	// Scratch is the shared-memory region
	// reserved for ops that communicate through
	// shared memory internally.
	Scratch map[tir.ValueID]Region
	// SharedBytes is the total number of bytes
	// of shared memory used by the function.
	SharedBytes int

	all      []Layout
	nextAxis int
}

// New returns an empty Set for f.
func New(f *tir.Function) *Set {
	return &Set{
		Func:     f,
		Layouts:  make(map[tir.ValueID]Layout),
		Axes:     make(map[tir.ValueID][]int),
		Facts:    make(map[tir.ValueID]Facts),
		Swizzles: make(map[int]Swizzle),
		Offsets:  make(map[int]int),
		Scratch:  make(map[tir.ValueID]Region),
	}
}

// All returns every layout in ID order.
func (s *Set) All() []Layout { return s.all }

func (s *Set) geometry(shape, order []int, axes bool) Geometry {
	if order == nil {
		// row-major: last dim fastest
		for d := len(shape) - 1; d >= 0; d-- {
			order = append(order, d)
		}
	}
	g := Geometry{
		ID:    len(s.all),
		Shape: slices.Clone(shape),
		Order: slices.Clone(order),
	}
	if axes {
		g.Axes = make([]int, len(shape))
		for d := range shape {
			g.Axes[d] = s.nextAxis
			s.nextAxis++
		}
	}
	return g
}

// Scanline creates a scanline layout.
// A nil order means row-major.
func (s *Set) Scanline(shape, order, mts, nts []int) *Scanline {
	l := &Scanline{
		Geometry: s.geometry(shape, order, true),
		MTS:      slices.Clone(mts),
		NTS:      slices.Clone(nts),
	}
	s.all = append(s.all, l)
	return l
}

// MMA creates a tensor-core accumulator layout.
func (s *Set) MMA(gen target.Generation, shape []int, wptM, wptN int) *MMA {
	l := &MMA{
		Geometry: s.geometry(shape, []int{1, 0}, true),
		Gen:      gen,
		WPT:      [2]int{wptM, wptN},
	}
	s.all = append(s.all, l)
	return l
}

// Shared creates a shared-memory layout.
func (s *Set) Shared(elem tir.Kind, shape, order []int) *Shared {
	l := &Shared{
		Geometry: s.geometry(shape, order, false),
		Elem:     elem,
	}
	s.all = append(s.all, l)
	return l
}

// Bind assigns l to every value in vals. Each
// value must have the rank of l; its dims of
// size 1 use the unit axis.
func (s *Set) Bind(l Layout, vals ...tir.ValueID) {
	g := l.Geom()
	for _, v := range vals {
		dims := make([]int, g.Rank())
		for d := range dims {
			dims[d] = d
		}
		s.BindDims(l, v, dims...)
	}
}

// BindDims assigns l to v, where dim i of v
// is laid out like dim dims[i] of l. It is used
// for values whose rank differs from the layout,
// such as ranges that index one dim of a 2-D
// tile or the result of a reduction.
func (s *Set) BindDims(l Layout, v tir.ValueID, dims ...int) {
	val := s.Func.Value(v)
	if len(dims) != val.Type.Rank() {
		panic(fmt.Sprintf("analysis.BindDims: %s has rank %d, got %d dims", val.Ref(), val.Type.Rank(), len(dims)))
	}
	s.Layouts[v] = l
	g := l.Geom()
	if g.Axes == nil {
		return
	}
	axes := make([]int, len(dims))
	for i, d := range dims {
		if val.Type.Shape[i] == 1 && g.Shape[d] != 1 {
			axes[i] = Unit
		} else {
			axes[i] = g.Axes[d]
		}
	}
	s.Axes[v] = axes
}

// SetFacts records alignment facts for v.
func (s *Set) SetFacts(v tir.ValueID, f Facts) {
	s.Facts[v] = f
}

// SetSwizzle records the swizzle of l.
func (s *Set) SetSwizzle(l *Shared, sw Swizzle) {
	s.Swizzles[l.ID] = sw
}

// DoubleBuffer makes l an n-slot buffer carried
// around a loop by phi, entering as first and
// produced for the next iteration as latch.
// All three values are bound to l.
func (s *Set) DoubleBuffer(l *Shared, n int, phi, first, latch tir.ValueID) {
	l.Buffer = &Buffer{N: n, Phi: phi, First: first, Latch: latch}
	s.Bind(l, phi, first, latch)
}

// NeedsScratch returns whether v communicates
// between threads through a private region
// of shared memory.
func NeedsScratch(v *tir.Value) bool {
	switch v.Op {
	case tir.OpReduce, tir.OpRecoalesce:
		return true
	case tir.OpAtomicCAS, tir.OpAtomicExch:
		return true
	case tir.OpAtomicAdd:
		return !v.Type.IsTile() && v.Type.Elem != tir.Void
	}
	return false
}

func (s *Set) scratchBytes(v *tir.Value, numWarps int) int {
	switch v.Op {
	case tir.OpReduce:
		in := s.Func.Value(v.Args[0])
		slots := numWarps
		if sl, ok := s.Layouts[in.ID].(*Scanline); ok {
			d := v.Axis
			if ax := s.Axes[in.ID]; d < len(ax) && sl.DimOf(ax[d]) >= 0 {
				d = sl.DimOf(ax[d])
			}
			if d < len(sl.MTS) {
				slots = max(slots, sl.MTS[d])
			}
		}
		outer := max(v.Type.NumElems(), 1)
		return outer * slots * max(v.Type.Elem.Bytes(), 4)
	case tir.OpRecoalesce:
		return v.Type.NumElems() * v.Type.Elem.Bytes()
	default:
		return max(v.Type.Elem.Bytes(), 4)
	}
}

// Allocate places every shared layout and
// every scratch region, for a block of
// numWarps warps.
func (s *Set) Allocate(numWarps int) error {
	const align = 16
	off := 0
	for _, l := range s.all {
		sh, ok := l.(*Shared)
		if !ok {
			continue
		}
		if sh.Buffer != nil && sh.Buffer.N < 2 {
			return fmt.Errorf("shared layout %d: %d buffer slots", sh.ID, sh.Buffer.N)
		}
		if sw, ok := s.Swizzles[sh.ID]; ok && sh.Rank() >= 2 {
			if err := sw.Validate(sh.Shape[sh.Order[0]]); err != nil {
				return fmt.Errorf("shared layout %d: %w", sh.ID, err)
			}
		}
		s.Offsets[sh.ID] = off
		off = ints.AlignUp(off+sh.Bytes(), align)
	}
	for _, v := range s.Func.Values[1:] {
		if !NeedsScratch(v) {
			continue
		}
		n := s.scratchBytes(v, numWarps)
		s.Scratch[v.ID] = Region{Offset: off, Size: n}
		off = ints.AlignUp(off+n, align)
	}
	s.SharedBytes = off
	return nil
}

// SharedRegion returns the region of l,
// including every buffer slot.
func (s *Set) SharedRegion(l *Shared) (Region, bool) {
	off, ok := s.Offsets[l.ID]
	if !ok {
		return Region{}, false
	}
	return Region{Offset: off, Size: l.Bytes()}, true
}
