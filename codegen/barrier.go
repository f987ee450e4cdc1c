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
	"github.com/SnellerInc/tilegen/analysis"
	"github.com/SnellerInc/tilegen/ints"
	"github.com/SnellerInc/tilegen/tir"
)

// syncState is the set of shared-memory bytes
// accessed since the last barrier
type syncState struct {
	reads, writes ints.Intervals
}

func (s syncState) clone() syncState {
	return syncState{reads: s.reads.Clone(), writes: s.writes.Clone()}
}

// union adds o to s and reports whether s grew
func (s *syncState) union(o syncState) bool {
	r, w := s.reads.Clone(), s.writes.Clone()
	s.reads.Union(o.reads)
	s.writes.Union(o.writes)
	return !r.Equal(s.reads) || !w.Equal(s.writes)
}

// bufSlots are the disjoint byte ranges standing
// for the slot read by the current iteration of
// a multi-buffered layout and the slot filled
// for the next one
type bufSlots struct {
	buf       *analysis.Buffer
	cur, next ints.Interval
}

type barrierPlan struct {
	g     *Generator
	slots map[int]*bufSlots
}

// planBarriers returns the instructions that need
// a barrier before them so that no thread reads
// shared bytes another thread may still be
// writing, or overwrites bytes another thread
// may still be reading
func (g *Generator) planBarriers() map[tir.ValueID]bool {
	bp := &barrierPlan{g: g, slots: make(map[int]*bufSlots)}
	virt := ints.AlignUp(g.an.SharedBytes, 16) + 16
	for _, l := range g.an.All() {
		sh, ok := l.(*analysis.Shared)
		if !ok || sh.Buffer == nil {
			continue
		}
		n := sh.SlotBytes()
		bp.slots[sh.ID] = &bufSlots{
			buf:  sh.Buffer,
			cur:  ints.Interval{Start: virt, End: virt + n},
			next: ints.Interval{Start: virt + n + 16, End: virt + 2*n + 16},
		}
		virt += 2*n + 32
	}

	nb := len(g.fn.Blocks)
	out := make([]syncState, nb)
	preds := g.fn.Preds()
	in := func(b int) syncState {
		var s syncState
		for _, p := range preds[b] {
			s.union(bp.edge(p, tir.BlockID(b), out[p]))
		}
		return s
	}
	work := ints.NewWorklist(nb)
	for {
		b, ok := work.Pop()
		if !ok {
			break
		}
		s := bp.transfer(g.fn.Blocks[b], in(b), nil)
		if out[b].union(s) {
			for _, succ := range g.fn.Succs(tir.BlockID(b)) {
				work.Push(int(succ))
			}
		}
	}
	need := make(map[tir.ValueID]bool)
	for b := range g.fn.Blocks {
		bp.transfer(g.fn.Blocks[b], in(b), need)
	}
	return need
}

// edge moves the state along p -> s, rotating
// the slots of buffers carried around the loop
func (bp *barrierPlan) edge(p, s tir.BlockID, st syncState) syncState {
	st = st.clone()
	for _, sl := range bp.slots {
		phi := bp.g.fn.Value(sl.buf.Phi)
		if phi.Block != s {
			continue
		}
		for i, x := range phi.Args {
			if x == sl.buf.Latch && phi.Preds[i] == p {
				st.reads = sl.rotate(st.reads)
				st.writes = sl.rotate(st.writes)
			}
		}
	}
	return st
}

func (sl *bufSlots) rotate(in ints.Intervals) ints.Intervals {
	var out ints.Intervals
	shift := sl.next.Start - sl.cur.Start
	for _, iv := range in {
		switch {
		case iv.Overlaps(sl.cur):
			out.Add(ints.Interval{Start: iv.Start + shift, End: iv.End + shift})
		case iv.Overlaps(sl.next):
			out.Add(ints.Interval{Start: iv.Start - shift, End: iv.End - shift})
		default:
			out.Add(iv)
		}
	}
	return out
}

// region returns the bytes of the shared value id
func (bp *barrierPlan) region(id tir.ValueID) (ints.Interval, bool) {
	g := bp.g
	if !g.isShared(id) {
		return ints.Interval{}, false
	}
	sh := g.sharedLayout(id)
	if sl, ok := bp.slots[sh.ID]; ok {
		switch id {
		case sl.buf.Phi, sl.buf.First:
			return sl.cur, true
		case sl.buf.Latch:
			return sl.next, true
		}
	}
	r, ok := g.an.SharedRegion(sh)
	if !ok {
		g.fatalf(g.fn.Value(id), errAlloc, "shared layout %d has no offset", sh.ID)
	}
	return ints.Interval{Start: r.Offset, End: r.End()}, true
}

func (bp *barrierPlan) access(v *tir.Value) (reads, writes []ints.Interval, sync bool) {
	switch v.Op {
	case tir.OpCopyToShared, tir.OpMaskedLoadAsync:
		if r, ok := bp.region(v.ID); ok {
			writes = append(writes, r)
		}
	case tir.OpCopyFromShared:
		if r, ok := bp.region(v.Args[0]); ok {
			reads = append(reads, r)
		}
	case tir.OpDot:
		for _, a := range v.Args[:2] {
			if r, ok := bp.region(a); ok {
				reads = append(reads, r)
			}
		}
	case tir.OpBarrier:
		sync = true
	default:
		sync = analysis.NeedsScratch(v)
	}
	return reads, writes, sync
}

// transfer runs the accesses of b over st;
// when need is non-nil it records the
// instructions that need a barrier
func (bp *barrierPlan) transfer(b *tir.Block, st syncState, need map[tir.ValueID]bool) syncState {
	for _, id := range b.Insts {
		v := bp.g.fn.Value(id)
		reads, writes, sync := bp.access(v)
		if sync {
			st = syncState{}
			continue
		}
		conflict := false
		for _, r := range reads {
			conflict = conflict || st.writes.Overlaps(r)
		}
		for _, w := range writes {
			conflict = conflict || st.writes.Overlaps(w) || st.reads.Overlaps(w)
		}
		if conflict {
			if need != nil {
				need[id] = true
			}
			st = syncState{}
		}
		for _, r := range reads {
			st.reads.Add(r)
		}
		for _, w := range writes {
			st.writes.Add(w)
		}
	}
	return st
}
