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

// Package ints provides int-related common functions.
package ints

import (
	"math/bits"

	"golang.org/x/exp/constraints"
)

// IsAligned returns true if and only if v is an integer multiple of alignment
func IsAligned[T constraints.Integer](v, alignment T) bool {
	return v%alignment == 0
}

// AlignUp returns v aligned up to a given alignment.
func AlignUp[T constraints.Integer](v, alignment T) T {
	return ((v + alignment - 1) / alignment) * alignment
}

// IsPow2 returns whether v is a positive power of two.
func IsPow2[T constraints.Integer](v T) bool {
	return v > 0 && v&(v-1) == 0
}

// Log2 returns floor(log2(v)) for v > 0 and -1 otherwise.
func Log2[T constraints.Integer](v T) int {
	if v <= 0 {
		return -1
	}
	return bits.Len64(uint64(v)) - 1
}

// FloorPow2 returns the largest power of two that is <= v,
// or 0 when v <= 0.
func FloorPow2[T constraints.Integer](v T) T {
	if v <= 0 {
		return 0
	}
	return T(1) << Log2(v)
}

// Pow2Divisor returns the largest power of two dividing v.
// Zero is divisible by every power of two, so the
// result for v == 0 is limit.
func Pow2Divisor[T constraints.Integer](v, limit T) T {
	if v == 0 {
		return limit
	}
	if v < 0 {
		v = -v
	}
	d := T(1) << bits.TrailingZeros64(uint64(v))
	if limit > 0 && d > limit {
		return limit
	}
	return d
}

// Product returns the product of all the elements of lst
// (1 for an empty list).
func Product[T constraints.Integer](lst []T) T {
	p := T(1)
	for _, v := range lst {
		p *= v
	}
	return p
}
