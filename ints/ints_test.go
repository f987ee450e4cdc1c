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

package ints

import (
	"testing"
)

func TestPow2Helpers(t *testing.T) {
	testcases := []struct {
		v, floor, div int
		pow2          bool
		log           int
	}{
		{v: 1, floor: 1, div: 1, pow2: true, log: 0},
		{v: 6, floor: 4, div: 2, pow2: false, log: 2},
		{v: 16, floor: 16, div: 16, pow2: true, log: 4},
		{v: 24, floor: 16, div: 8, pow2: false, log: 4},
		{v: 0, floor: 0, div: 64, pow2: false, log: -1},
	}
	for _, tc := range testcases {
		if got := FloorPow2(tc.v); got != tc.floor {
			t.Errorf("FloorPow2(%d): expected %d, got %d", tc.v, tc.floor, got)
		}
		if got := Pow2Divisor(tc.v, 64); got != tc.div {
			t.Errorf("Pow2Divisor(%d): expected %d, got %d", tc.v, tc.div, got)
		}
		if got := IsPow2(tc.v); got != tc.pow2 {
			t.Errorf("IsPow2(%d): expected %v, got %v", tc.v, tc.pow2, got)
		}
		if got := Log2(tc.v); got != tc.log {
			t.Errorf("Log2(%d): expected %d, got %d", tc.v, tc.log, got)
		}
	}
	if !IsAligned(32, 16) || IsAligned(24, 16) {
		t.Error("IsAligned")
	}
	if got := AlignUp(13, 8); got != 16 {
		t.Errorf("AlignUp(13, 8) = %d", got)
	}
	if got := Product([]int{2, 3, 4}); got != 24 {
		t.Errorf("Product = %d", got)
	}
}

func TestIntervals(t *testing.T) {
	var in Intervals
	in.Add(Interval{8, 12})
	in.Add(Interval{0, 4})
	in.Add(Interval{3, 6})
	in.Add(Interval{20, 20})
	want := Intervals{{0, 6}, {8, 12}}
	if !in.Equal(want) {
		t.Fatalf("expected %v, got %v", want, in)
	}
	if !in.Overlaps(Interval{5, 7}) {
		t.Error("expected [5, 7) to overlap")
	}
	if in.Overlaps(Interval{6, 8}) {
		t.Error("[6, 8) should not overlap")
	}
	other := Intervals{{12, 14}}
	in.Union(other)
	want = Intervals{{0, 6}, {8, 14}}
	if !in.Equal(want) {
		t.Fatalf("after union: expected %v, got %v", want, in)
	}
}

func TestWorklist(t *testing.T) {
	w := NewWorklist(4)
	var got []int
	for len(got) < 2 {
		i, _ := w.Pop()
		got = append(got, i)
	}
	w.Push(3) // already queued
	w.Push(0)
	w.Push(1)
	if w.Len() != 4 {
		t.Fatalf("expected 4 queued, got %d", w.Len())
	}
	for {
		i, ok := w.Pop()
		if !ok {
			break
		}
		got = append(got, i)
	}
	want := []int{0, 1, 0, 1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
