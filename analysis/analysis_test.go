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
	"strings"
	"testing"

	"github.com/SnellerInc/tilegen/target"
	"github.com/SnellerInc/tilegen/tir"
)

func TestSwizzleBijective(t *testing.T) {
	testcases := []struct {
		shape []int
		order []int
		sw    Swizzle
	}{
		{[]int{16, 16}, []int{1, 0}, Swizzle{Vec: 8, PerPhase: 1, MaxPhase: 2}},
		{[]int{32, 64}, []int{1, 0}, Swizzle{Vec: 4, PerPhase: 2, MaxPhase: 8}},
		{[]int{64, 32}, []int{0, 1}, Swizzle{Vec: 2, PerPhase: 1, MaxPhase: 16}},
		{[]int{4, 16, 16}, []int{2, 1, 0}, Swizzle{Vec: 1, PerPhase: 4, MaxPhase: 4}},
		{[]int{16, 16}, []int{1, 0}, Swizzle{}},
	}
	for _, tc := range testcases {
		if err := tc.sw.Validate(tc.shape[tc.order[0]]); err != nil {
			t.Fatalf("%+v: %s", tc.sw, err)
		}
		n := 1
		for _, d := range tc.shape {
			n *= d
		}
		seen := make([]bool, n)
		for lin := 0; lin < n; lin++ {
			phys := tc.sw.Offset(tc.shape, tc.order, lin)
			if phys < 0 || phys >= n {
				t.Fatalf("%+v: offset %d maps outside the tile to %d", tc.sw, lin, phys)
			}
			if seen[phys] {
				t.Fatalf("%+v: offset %d collides at %d", tc.sw, lin, phys)
			}
			seen[phys] = true
			if back := tc.sw.InvertOffset(tc.shape, tc.order, phys); back != lin {
				t.Fatalf("%+v: invert(apply(%d)) = %d", tc.sw, lin, back)
			}
		}
	}
}

func TestSwizzleSpreadsColumns(t *testing.T) {
	// with vec 1 and a full phase range, the first
	// column of consecutive rows lands in distinct columns
	sw := Swizzle{Vec: 1, PerPhase: 1, MaxPhase: 8}
	seen := make(map[int]bool)
	for row := 0; row < 8; row++ {
		c := sw.Apply(row, 0)
		if seen[c] {
			t.Fatalf("row %d: column %d reused", row, c)
		}
		seen[c] = true
	}
	if !(Swizzle{}).IsIdentity() {
		t.Error("zero swizzle should be the identity")
	}
}

func TestSwizzleValidate(t *testing.T) {
	if err := (Swizzle{Vec: 3, PerPhase: 1, MaxPhase: 2}).Validate(16); err == nil {
		t.Error("expected an error for vec 3")
	}
	if err := (Swizzle{Vec: 8, PerPhase: 1, MaxPhase: 4}).Validate(16); err == nil {
		t.Error("expected an error for a phase range wider than the row")
	}
}

func TestScanlineValidate(t *testing.T) {
	s := New(tir.NewFunction("f"))
	l := s.Scanline([]int{16, 32}, nil, []int{4, 8}, []int{1, 4})
	if err := l.Validate(128); err != nil {
		t.Fatal(err)
	}
	if got := l.PerThread(1); got != 4 {
		t.Errorf("expected 4 elements per thread along dim 1, got %d", got)
	}
	if got := l.PerThread(0); got != 4 {
		t.Errorf("expected 4 elements per thread along dim 0, got %d", got)
	}
	if err := l.Validate(16); err == nil {
		t.Error("expected an error for 32 threads in a block of 16")
	}
	bad := s.Scanline([]int{16}, nil, []int{32}, []int{1})
	if err := bad.Validate(128); err == nil || !strings.Contains(err.Error(), "not tiled") {
		t.Errorf("expected a tiling error, got %v", err)
	}
	if got := l.Order; got[0] != 1 || got[1] != 0 {
		t.Errorf("expected row-major order [1 0], got %v", got)
	}
	if st := l.Strides(); st[0] != 32 || st[1] != 1 {
		t.Errorf("unexpected strides %v", st)
	}
}

func TestMMAValidate(t *testing.T) {
	s := New(tir.NewFunction("f"))
	m := s.MMA(target.MMA16816, []int{32, 32}, 2, 2)
	if err := m.Validate(4); err != nil {
		t.Fatal(err)
	}
	if r0, r1 := m.Reps(); r0 != 1 || r1 != 2 {
		t.Errorf("expected 1x2 repetitions, got %dx%d", r0, r1)
	}
	if err := m.Validate(2); err == nil {
		t.Error("expected an error for 2x2 warps in a block of 2")
	}
	g1 := s.MMA(target.MMA884, []int{16, 8}, 1, 1)
	if err := g1.Validate(1); err == nil {
		t.Error("expected an error for a first-generation tile narrower than 16")
	}
}

func TestBindAxes(t *testing.T) {
	f := tir.NewFunction("f")
	x := f.Undef(tir.Tile(tir.F32, 16, 32))
	row := f.Undef(tir.Tile(tir.F32, 16, 1))
	rm := f.MakeRange(0, 16)
	red := f.Reduce(tir.RedFAdd, x, 1, f.ConstFloat(tir.F32, 0))
	s := New(f)
	l := s.Scanline([]int{16, 32}, nil, []int{4, 8}, []int{1, 4})
	s.Bind(l, x, row)
	s.BindDims(l, rm, 0)
	s.BindDims(l, red, 0)
	if got := s.Axes[x]; got[0] != l.Axes[0] || got[1] != l.Axes[1] {
		t.Errorf("x: unexpected axes %v", got)
	}
	if got := s.Axes[row]; got[0] != l.Axes[0] || got[1] != Unit {
		t.Errorf("row: expected [%d %d], got %v", l.Axes[0], Unit, got)
	}
	if got := s.Axes[rm]; len(got) != 1 || got[0] != l.Axes[0] {
		t.Errorf("range: unexpected axes %v", got)
	}
	if s.Layouts[red] != Layout(l) {
		t.Error("reduction result should share the input layout")
	}
}

func TestAllocate(t *testing.T) {
	const numWarps = 4
	f := tir.NewFunction("f")
	x := f.Undef(tir.Tile(tir.F16, 16, 16))
	a := f.CopyToShared(x)
	b := f.CopyToShared(x)
	v := f.Undef(tir.Tile(tir.F32, 128))
	sum := f.Reduce(tir.RedFAdd, v, 0, f.ConstFloat(tir.F32, 0))
	f.Ret()

	s := New(f)
	sa := s.Shared(tir.F16, []int{16, 16}, nil)
	sb := s.Shared(tir.F16, []int{16, 16}, nil)
	s.Bind(sa, a)
	s.DoubleBuffer(sb, 2, b, b, b)
	l := s.Scanline([]int{128}, nil, []int{128}, []int{1})
	s.Bind(l, v)
	s.SetSwizzle(sa, Swizzle{Vec: 8, PerPhase: 1, MaxPhase: 2})
	if err := s.Allocate(numWarps); err != nil {
		t.Fatal(err)
	}
	ra, _ := s.SharedRegion(sa)
	rb, _ := s.SharedRegion(sb)
	if ra.Size != 512 || rb.Size != 1024 {
		t.Errorf("unexpected region sizes %d and %d", ra.Size, rb.Size)
	}
	scr, ok := s.Scratch[sum]
	if !ok {
		t.Fatal("no scratch for the reduction")
	}
	// 128 threads along the reduced axis, 4 bytes each
	if scr.Size != 512 {
		t.Errorf("expected 512 bytes of scratch, got %d", scr.Size)
	}
	regions := []Region{ra, rb, scr}
	for i := range regions {
		if regions[i].Offset%16 != 0 {
			t.Errorf("region %d at %d is not 16-byte aligned", i, regions[i].Offset)
		}
		for j := i + 1; j < len(regions); j++ {
			if regions[i].Offset < regions[j].End() && regions[j].Offset < regions[i].End() {
				t.Errorf("regions %v and %v overlap", regions[i], regions[j])
			}
		}
	}
	if s.SharedBytes < scr.End() {
		t.Errorf("total %d does not cover the scratch region ending at %d", s.SharedBytes, scr.End())
	}
}

func TestFactsDefault(t *testing.T) {
	var f Facts
	if f.ContiguityAt(0) != 1 || f.DivisibilityAt(3) != 1 || f.ConstancyAt(-1) != 1 {
		t.Error("missing facts should default to 1")
	}
	f = Facts{Contiguity: []int{4}, Divisibility: []int{16}}
	if f.ContiguityAt(0) != 4 || f.DivisibilityAt(0) != 16 {
		t.Error("unexpected facts")
	}
}
