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

import "golang.org/x/exp/slices"

// Interval is a half-open interval [start, end)
// (start is always less than or equal to end)
type Interval struct {
	Start, End int
}

// Intervals represents a series of half-open
// intervals.
type Intervals []Interval

// Empty returns whether [in] is an empty
// interval.
func (in Interval) Empty() bool {
	return in.Start >= in.End
}

// Len returns the length of the interval.
func (in Interval) Len() int {
	if in.End <= in.Start {
		return 0
	}
	return in.End - in.Start
}

// Overlaps returns whether [in] and [other]
// share at least one integer.
func (in Interval) Overlaps(other Interval) bool {
	return !in.Empty() && !other.Empty() &&
		in.Start < other.End && other.Start < in.End
}

// Empty returns whether all the intervals in
// [in] are empty.
func (in Intervals) Empty() bool {
	for i := range in {
		if !in[i].Empty() {
			return false
		}
	}
	return true
}

// Clone returns a copy of [in].
func (in Intervals) Clone() Intervals {
	return slices.Clone(in)
}

// Add inserts [iv] and keeps the series compressed.
func (in *Intervals) Add(iv Interval) {
	if iv.Empty() {
		return
	}
	*in = append(*in, iv)
	in.Compress()
}

// Union adds every interval of [other] to [in].
func (in *Intervals) Union(other Intervals) {
	if len(other) == 0 {
		return
	}
	*in = append(*in, other...)
	in.Compress()
}

// Compress compresses [in] so that all the
// contained intervals are ordered and
// non-overlapping.
func (in *Intervals) Compress() {
	// sort by start, then by end
	slices.SortFunc(*in, func(x, y Interval) int {
		if x.Start == y.Start {
			return x.End - y.End
		}
		return x.Start - y.Start
	})
	out := (*in)[:0]
	for _, iv := range *in {
		if iv.Empty() {
			continue
		}
		if n := len(out); n > 0 && iv.Start <= out[n-1].End {
			if iv.End > out[n-1].End {
				out[n-1].End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	*in = out
}

// Overlaps returns whether [in] overlaps with
// the interval [iv].
func (in Intervals) Overlaps(iv Interval) bool {
	for i := range in {
		if in[i].Overlaps(iv) {
			return true
		}
	}
	return false
}

// Equal returns whether [in] and [other] describe
// the same series (both must be compressed).
func (in Intervals) Equal(other Intervals) bool {
	return slices.Equal(in, other)
}
