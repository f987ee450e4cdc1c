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

	"github.com/SnellerInc/tilegen/ints"
)

// Swizzle permutes the columns of a shared
// tile per row to spread the accesses of a
// warp across memory banks. Columns are moved
// in groups of Vec elements; the group index is
// XORed with a phase that advances every
// PerPhase rows and wraps after MaxPhase phases.
//
// The zero Swizzle is the identity.
type Swizzle struct {
	Vec      int
	PerPhase int
	MaxPhase int
}

func (s Swizzle) norm() Swizzle {
	if s.Vec <= 0 {
		s.Vec = 1
	}
	if s.PerPhase <= 0 {
		s.PerPhase = 1
	}
	if s.MaxPhase <= 0 {
		s.MaxPhase = 1
	}
	return s
}

// Params returns the parameters of s
// with zero fields replaced by 1.
func (s Swizzle) Params() (vec, perPhase, maxPhase int) {
	n := s.norm()
	return n.Vec, n.PerPhase, n.MaxPhase
}

// IsIdentity returns whether s leaves
// every column in place.
func (s Swizzle) IsIdentity() bool {
	return s.norm().MaxPhase == 1
}

// Validate checks s against a row of cols
// elements: all parameters must be powers of
// two and the XORed group index must stay
// inside the row.
func (s Swizzle) Validate(cols int) error {
	n := s.norm()
	if !ints.IsPow2(n.Vec) || !ints.IsPow2(n.PerPhase) || !ints.IsPow2(n.MaxPhase) {
		return fmt.Errorf("swizzle %+v: parameters must be powers of two", s)
	}
	if n.MaxPhase > 1 && cols%(n.Vec*n.MaxPhase) != 0 {
		return fmt.Errorf("swizzle %+v: %d columns are not a multiple of vec*maxPhase", s, cols)
	}
	return nil
}

// Phase returns the XOR mask of row.
func (s Swizzle) Phase(row int) int {
	n := s.norm()
	return (row / n.PerPhase) % n.MaxPhase
}

// Apply returns the physical column of
// logical column col in row.
func (s Swizzle) Apply(row, col int) int {
	n := s.norm()
	return ((col/n.Vec)^s.Phase(row))*n.Vec + col%n.Vec
}

// Invert returns the logical column stored
// at physical column col in row.
// XOR is an involution, so Invert is Apply.
func (s Swizzle) Invert(row, col int) int {
	return s.Apply(row, col)
}

// Offset maps the logical linear element
// offset lin of a tile with the given shape
// and order to its physical offset. Only the
// two fastest dims are swizzled.
func (s Swizzle) Offset(shape, order []int, lin int) int {
	if len(order) < 2 {
		return lin
	}
	cols := shape[order[0]]
	rows := shape[order[1]]
	col := lin % cols
	row := (lin / cols) % rows
	return lin - col + s.Apply(row, col)
}

// InvertOffset is the inverse of Offset.
func (s Swizzle) InvertOffset(shape, order []int, phys int) int {
	if len(order) < 2 {
		return phys
	}
	cols := shape[order[0]]
	rows := shape[order[1]]
	col := phys % cols
	row := (phys / cols) % rows
	return phys - col + s.Invert(row, col)
}
