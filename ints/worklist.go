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
	"github.com/SnellerInc/tilegen/heap"
)

// Worklist is a set of indices in [0, n)
// popped in ascending order. An index that
// is already queued is not queued twice.
type Worklist struct {
	heap   []int
	queued []bool
}

func less(x, y int) bool { return x < y }

// NewWorklist returns a worklist of n
// indices with every index queued.
func NewWorklist(n int) *Worklist {
	w := &Worklist{
		heap:   make([]int, n),
		queued: make([]bool, n),
	}
	// ascending order is already a heap
	for i := range w.heap {
		w.heap[i] = i
		w.queued[i] = true
	}
	return w
}

// Len returns the number of queued indices.
func (w *Worklist) Len() int { return len(w.heap) }

// Push queues i if it is not queued already.
func (w *Worklist) Push(i int) {
	if w.queued[i] {
		return
	}
	w.queued[i] = true
	heap.PushSlice(&w.heap, i, less)
}

// Pop removes and returns the smallest
// queued index, or false if w is empty.
func (w *Worklist) Pop() (int, bool) {
	if len(w.heap) == 0 {
		return 0, false
	}
	ret := heap.PopSlice(&w.heap, less)
	w.queued[ret] = false
	return ret, true
}
