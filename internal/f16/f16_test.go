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

package f16

import (
	"math"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	// every finite half value widens and narrows back to itself
	for h := 0; h < 1<<16; h++ {
		bits := uint16(h)
		if bits&0x7c00 == 0x7c00 && bits&0x3ff != 0 {
			continue // nan
		}
		f := ToFloat32(bits)
		if got := FromFloat32(f); got != bits {
			t.Fatalf("%#04x -> %g -> %#04x", bits, f, got)
		}
	}
}

func TestKnownValues(t *testing.T) {
	testcases := []struct {
		in   float32
		want uint16
	}{
		{0, 0x0000},
		{1, 0x3c00},
		{-2, 0xc000},
		{0.5, 0x3800},
		{65504, 0x7bff},
		{65520, 0x7c00}, // rounds up to +inf
		{float32(math.Inf(-1)), 0xfc00},
		{5.960464477539063e-08, 0x0001}, // smallest subnormal
		{1.0009765625, 0x3c01},
		{1.00048828125, 0x3c00}, // tie rounds to even
	}
	for _, tc := range testcases {
		if got := FromFloat32(tc.in); got != tc.want {
			t.Errorf("FromFloat32(%g): expected %#04x, got %#04x", tc.in, tc.want, got)
		}
	}
}
