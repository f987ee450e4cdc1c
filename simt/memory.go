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

package simt

import (
	"fmt"
	"math"

	"github.com/SnellerInc/tilegen/internal/f16"
	"github.com/SnellerInc/tilegen/ints"
)

// address spaces, stored in the top byte
// of a pointer word
const (
	spaceGlobal   = 1
	spaceShared   = 3
	spaceConstant = 4

	spaceShift = 56
	offsetMask = 1<<spaceShift - 1
)

func pointer(space int, off int) uint64 {
	return uint64(space)<<spaceShift | uint64(off)
}

func split(p uint64) (space, off int) {
	return int(p >> spaceShift), int(p & offsetMask)
}

// Memory is the global memory of a device.
type Memory struct {
	buf []byte
}

// NewMemory returns an empty Memory.
func NewMemory() *Memory {
	// keep address zero unallocated
	return &Memory{buf: make([]byte, 16)}
}

// Alloc reserves n zeroed bytes and returns
// a global pointer to them.
func (m *Memory) Alloc(n int) uint64 {
	off := ints.AlignUp(len(m.buf), 16)
	m.buf = append(m.buf, make([]byte, off+n-len(m.buf))...)
	return pointer(spaceGlobal, off)
}

// Bytes returns the n bytes at the global pointer p.
func (m *Memory) Bytes(p uint64, n int) []byte {
	space, off := split(p)
	if space != spaceGlobal || off < 0 || off+n > len(m.buf) {
		panic(fmt.Sprintf("simt: invalid global range %#x+%d", p, n))
	}
	return m.buf[off : off+n]
}

func (m *Memory) bytes(p uint64, n int) ([]byte, bool) {
	space, off := split(p)
	if space != spaceGlobal || off < 16 || off+n > len(m.buf) {
		return nil, false
	}
	return m.buf[off : off+n], true
}

// WriteFloat32s stores vals at p.
func (m *Memory) WriteFloat32s(p uint64, vals []float32) {
	b := m.Bytes(p, 4*len(vals))
	for i, x := range vals {
		putWord(b[4*i:], uint64(math.Float32bits(x)), 4)
	}
}

// Float32s loads n floats from p.
func (m *Memory) Float32s(p uint64, n int) []float32 {
	b := m.Bytes(p, 4*n)
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(uint32(getWord(b[4*i:], 4)))
	}
	return out
}

// WriteInt32s stores vals at p.
func (m *Memory) WriteInt32s(p uint64, vals []int32) {
	b := m.Bytes(p, 4*len(vals))
	for i, x := range vals {
		putWord(b[4*i:], uint64(uint32(x)), 4)
	}
}

// Int32s loads n ints from p.
func (m *Memory) Int32s(p uint64, n int) []int32 {
	b := m.Bytes(p, 4*n)
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(getWord(b[4*i:], 4))
	}
	return out
}

// WriteFloat16s rounds vals to half precision
// and stores them at p.
func (m *Memory) WriteFloat16s(p uint64, vals []float32) {
	b := m.Bytes(p, 2*len(vals))
	for i, x := range vals {
		putWord(b[2*i:], uint64(f16.FromFloat32(x)), 2)
	}
}

// Float16s loads n half-precision values from p.
func (m *Memory) Float16s(p uint64, n int) []float32 {
	b := m.Bytes(p, 2*n)
	out := make([]float32, n)
	for i := range out {
		out[i] = f16.ToFloat32(uint16(getWord(b[2*i:], 2)))
	}
	return out
}

func putWord(b []byte, x uint64, n int) {
	for i := 0; i < n; i++ {
		b[i] = byte(x >> (8 * i))
	}
}

func getWord(b []byte, n int) uint64 {
	var x uint64
	for i := n - 1; i >= 0; i-- {
		x = x<<8 | uint64(b[i])
	}
	return x
}

// RaceError reports two threads of a block
// touching the same shared byte without a
// barrier in between, where at least one of
// the accesses reads the byte, or a thread
// reading a shared byte with an asynchronous
// copy into it still in flight.
type RaceError struct {
	Block [3]int
	// Offset is the shared byte.
	Offset int
	// Thread performed the access that raced
	// with an access of Other; Write is whether
	// the racing access of Thread is a write.
	Thread, Other int
	Write         bool
	// Async is set when Other issued an
	// asynchronous copy that had not completed.
	Async bool
}

func (e *RaceError) Error() string {
	switch {
	case e.Async:
		return fmt.Sprintf("simt: block %v: thread %d read shared byte %d before the asynchronous copy of thread %d completed",
			e.Block, e.Thread, e.Offset, e.Other)
	case e.Write:
		return fmt.Sprintf("simt: block %v: thread %d overwrote shared byte %d read by thread %d since the last barrier",
			e.Block, e.Thread, e.Offset, e.Other)
	}
	return fmt.Sprintf("simt: block %v: thread %d read shared byte %d written by thread %d since the last barrier",
		e.Block, e.Thread, e.Offset, e.Other)
}

// AccessKind classifies a shared-memory access.
type AccessKind int

const (
	// Read is a load.
	Read AccessKind = iota
	// Write is a store.
	Write
	// CopyIssue is the issue of an asynchronous
	// copy into shared memory.
	CopyIssue
	// CopyDone is the completion of an
	// asynchronous copy.
	CopyDone
)

func (k AccessKind) String() string {
	switch k {
	case Read:
		return "read"
	case Write:
		return "write"
	case CopyIssue:
		return "copy-issue"
	case CopyDone:
		return "copy-done"
	}
	return fmt.Sprintf("AccessKind(%d)", int(k))
}

// Access is a shared-memory access
// reported to Config.Trace.
type Access struct {
	Block  [3]int
	Thread int
	Kind   AccessKind
	Offset int
	Size   int
}

const manyReaders = -2

// sharedMem is the shared memory of one block
// together with the last access of every byte
type sharedMem struct {
	buf    []byte
	writer []int32 // thread + 1
	wepoch []int32
	reader []int32 // thread + 1, or manyReaders
	repoch []int32
	// inflight counts the uncompleted
	// asynchronous copies into each byte;
	// issuer is the last thread to issue one
	inflight []int32
	issuer   []int32
	epoch    int32
	block    [3]int
	trace    func(Access)
}

func newShared(n int, block [3]int, trace func(Access)) *sharedMem {
	return &sharedMem{
		buf:      make([]byte, n),
		writer:   make([]int32, n),
		wepoch:   make([]int32, n),
		reader:   make([]int32, n),
		repoch:   make([]int32, n),
		inflight: make([]int32, n),
		issuer:   make([]int32, n),
		epoch:    1,
		block:    block,
		trace:    trace,
	}
}

func (s *sharedMem) check(off, n int) {
	if off < 0 || off+n > len(s.buf) {
		panic(fault("shared access [%d, %d) outside %d bytes", off, off+n, len(s.buf)))
	}
}

func (s *sharedMem) record(tid int, k AccessKind, off, n int) {
	if s.trace != nil {
		s.trace(Access{Block: s.block, Thread: tid, Kind: k, Offset: off, Size: n})
	}
}

func (s *sharedMem) read(tid, off, n int) []byte {
	s.check(off, n)
	s.record(tid, Read, off, n)
	me := int32(tid + 1)
	for i := off; i < off+n; i++ {
		if s.inflight[i] > 0 {
			panic(&RaceError{Block: s.block, Offset: i, Thread: tid, Other: int(s.issuer[i] - 1), Async: true})
		}
		if s.wepoch[i] == s.epoch && s.writer[i] != me {
			panic(&RaceError{Block: s.block, Offset: i, Thread: tid, Other: int(s.writer[i] - 1)})
		}
		switch {
		case s.repoch[i] != s.epoch:
			s.reader[i], s.repoch[i] = me, s.epoch
		case s.reader[i] != me:
			s.reader[i] = manyReaders
		}
	}
	return append([]byte(nil), s.buf[off:off+n]...)
}

func (s *sharedMem) write(tid, off int, data []byte) {
	s.check(off, len(data))
	s.record(tid, Write, off, len(data))
	s.put(tid, off, data)
}

func (s *sharedMem) put(tid, off int, data []byte) {
	me := int32(tid + 1)
	for i := off; i < off+len(data); i++ {
		if s.repoch[i] == s.epoch && s.reader[i] != me {
			other := -1
			if s.reader[i] != manyReaders {
				other = int(s.reader[i] - 1)
			}
			panic(&RaceError{Block: s.block, Offset: i, Thread: tid, Other: other, Write: true})
		}
		s.writer[i], s.wepoch[i] = me, s.epoch
	}
	copy(s.buf[off:], data)
}

// issue marks the n bytes at off as the
// target of an asynchronous copy by tid
func (s *sharedMem) issue(tid, off, n int) {
	s.check(off, n)
	s.record(tid, CopyIssue, off, n)
	for i := off; i < off+n; i++ {
		s.inflight[i]++
		s.issuer[i] = int32(tid + 1)
	}
}

// land completes an asynchronous copy
// issued by tid
func (s *sharedMem) land(tid, off int, data []byte) {
	s.record(tid, CopyDone, off, len(data))
	for i := off; i < off+len(data); i++ {
		s.inflight[i]--
	}
	s.put(tid, off, data)
}

// sync marks a barrier
func (s *sharedMem) sync() { s.epoch++ }
