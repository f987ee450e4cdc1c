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

// Package analysis holds the results of the
// layout, axis, alignment, allocation and
// swizzle analyses consumed by code generation.
//
// The analyses themselves run upstream; this
// package only stores their results and offers
// the constructors used to populate them.
package analysis

import (
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/SnellerInc/tilegen/ints"
	"github.com/SnellerInc/tilegen/target"
	"github.com/SnellerInc/tilegen/tir"
)

// Kind is the kind of a layout.
type Kind uint8

const (
	KindInvalid Kind = iota
	// KindScanline distributes elements over
	// threads in row-major scan order.
	KindScanline
	// KindMMA is the native accumulator
	// layout of a tensor-core generation.
	KindMMA
	// KindShared places the whole tile in
	// block-wide shared memory.
	KindShared
)

func (k Kind) String() string {
	switch k {
	case KindScanline:
		return "scanline"
	case KindMMA:
		return "mma"
	case KindShared:
		return "shared"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Unit is the axis of a size-1 dim.
const Unit = -1

// Geometry is the part shared by every layout.
type Geometry struct {
	// ID is the handle of the layout in its Set.
	ID    int
	Shape []int
	// Order lists the dims from the fastest
	// varying to the slowest.
	Order []int
	// Axes is the axis ID of each dim.
	Axes []int
}

// Geom returns g.
func (g *Geometry) Geom() *Geometry { return g }

// Rank returns the number of dims.
func (g *Geometry) Rank() int { return len(g.Shape) }

// NumElems returns the number of elements.
func (g *Geometry) NumElems() int { return ints.Product(g.Shape) }

// DimOf returns the dim that uses axis, or -1.
func (g *Geometry) DimOf(axis int) int {
	return slices.Index(g.Axes, axis)
}

// OrderOf returns the position of dim in Order.
func (g *Geometry) OrderOf(dim int) int {
	return slices.Index(g.Order, dim)
}

// Strides returns the element stride of
// every dim when the tile is linearized
// by Order.
func (g *Geometry) Strides() []int {
	st := make([]int, len(g.Shape))
	n := 1
	for _, d := range g.Order {
		st[d] = n
		n *= g.Shape[d]
	}
	return st
}

// Layout is one of *Scanline, *MMA or *Shared.
type Layout interface {
	Kind() Kind
	Geom() *Geometry
}

// Scanline distributes a tile over threads:
// along dim d, MTS[d] threads each hold NTS[d]
// contiguous elements, and the pattern repeats
// until the dim is covered.
type Scanline struct {
	Geometry
	MTS []int
	NTS []int
}

func (*Scanline) Kind() Kind { return KindScanline }

// Threads returns the number of threads
// that hold distinct elements.
func (s *Scanline) Threads() int { return ints.Product(s.MTS) }

// PerThread returns the number of elements
// each thread holds along dim d.
func (s *Scanline) PerThread(d int) int {
	return s.Shape[d] / (s.MTS[d] * s.NTS[d]) * s.NTS[d]
}

// Validate checks that the layout tiles its
// shape exactly and fits in threads threads.
func (s *Scanline) Validate(threads int) error {
	if len(s.MTS) != s.Rank() || len(s.NTS) != s.Rank() {
		return fmt.Errorf("scanline layout %d: rank mismatch", s.ID)
	}
	for d := range s.Shape {
		if s.MTS[d] <= 0 || s.NTS[d] <= 0 || s.Shape[d]%(s.MTS[d]*s.NTS[d]) != 0 {
			return fmt.Errorf("scanline layout %d: dim %d of size %d is not tiled by %d threads x %d elements",
				s.ID, d, s.Shape[d], s.MTS[d], s.NTS[d])
		}
	}
	if n := s.Threads(); threads%n != 0 {
		return fmt.Errorf("scanline layout %d: %d threads do not divide a block of %d", s.ID, n, threads)
	}
	return nil
}

// MMA is the accumulator layout of a tensor-core
// generation: warps are arranged WPT[0] x WPT[1]
// over the tile and each warp covers repeated
// warp tiles of the generation's shape.
type MMA struct {
	Geometry
	Gen target.Generation
	WPT [2]int
}

func (*MMA) Kind() Kind { return KindMMA }

// Reps returns the number of warp-tile
// repetitions along each dim.
func (m *MMA) Reps() (int, int) {
	wt := m.Gen.WarpTile()
	return m.Shape[0] / (wt.M * m.WPT[0]), m.Shape[1] / (wt.N * m.WPT[1])
}

// Validate checks the layout against
// a block of numWarps warps.
func (m *MMA) Validate(numWarps int) error {
	if m.Rank() != 2 {
		return fmt.Errorf("mma layout %d: rank %d", m.ID, m.Rank())
	}
	wt := m.Gen.WarpTile()
	if wt.M == 0 {
		return fmt.Errorf("mma layout %d: no tensor-core generation", m.ID)
	}
	if m.WPT[0] <= 0 || m.WPT[1] <= 0 || numWarps%(m.WPT[0]*m.WPT[1]) != 0 {
		return fmt.Errorf("mma layout %d: %dx%d warps do not divide %d warps", m.ID, m.WPT[0], m.WPT[1], numWarps)
	}
	if m.Shape[0]%(wt.M*m.WPT[0]) != 0 || m.Shape[1]%(wt.N*m.WPT[1]) != 0 {
		return fmt.Errorf("mma layout %d: shape %v is not tiled by %dx%d warp tiles of %dx%d",
			m.ID, m.Shape, m.WPT[0], m.WPT[1], wt.M, wt.N)
	}
	return nil
}

// Buffer is the multi-buffering state of a
// shared layout carried around a loop: First
// is the value entering the loop, Phi the
// loop-carried value read by the body, and
// Latch the value produced for the next
// iteration.
type Buffer struct {
	N     int
	Phi   tir.ValueID
	First tir.ValueID
	Latch tir.ValueID
}

// Shared is a tile resident in shared memory.
type Shared struct {
	Geometry
	Elem   tir.Kind
	Buffer *Buffer
}

func (*Shared) Kind() Kind { return KindShared }

// SlotBytes returns the size of one buffer slot.
func (s *Shared) SlotBytes() int {
	return s.NumElems() * s.Elem.Bytes()
}

// Bytes returns the size of the layout
// including every buffer slot.
func (s *Shared) Bytes() int {
	if s.Buffer != nil {
		return s.SlotBytes() * s.Buffer.N
	}
	return s.SlotBytes()
}
