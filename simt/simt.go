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

// Package simt executes lowered kernels on a
// software model of a SIMT processor.
//
// Every thread of a block runs the function
// independently until it reaches a barrier or
// a warp-wide instruction. Warp-wide
// instructions complete once every lane of the
// warp has reached them, and a barrier releases
// once every running thread of the block has.
// Shared-memory accesses are checked for races
// between barriers.
package simt

import (
	"errors"
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/value"

	"github.com/SnellerInc/tilegen/ints"
)

// Config describes a launch.
type Config struct {
	// Grid is the number of blocks along
	// each grid axis; zero means one.
	Grid        [3]int
	NumWarps    int
	WarpSize    int
	SharedBytes int
	// Constants holds the contents of the
	// constant-memory arrays, by global name.
	Constants map[string][]byte
	// MaxSteps bounds the number of
	// instructions run by one thread.
	MaxSteps int
	// Trace, if set, is called on every
	// shared-memory access.
	Trace func(Access)
}

const defaultMaxSteps = 1 << 22

type threadState int

const (
	running threadState = iota
	atBarrier
	atCollective
	exited
)

type asyncCopy struct {
	dst  int
	data []byte
}

type thread struct {
	b     *block
	id    int
	lane  int
	warp  int
	regs  map[value.Value][]uint64
	blk   *ir.Block
	pc    int
	state threadState
	// wait is the warp-wide call the
	// thread is blocked on
	wait  *ir.InstCall
	steps int

	open   []asyncCopy
	groups [][]asyncCopy
}

type block struct {
	m       *machine
	idx     [3]int
	shared  *sharedMem
	threads []*thread
}

type machine struct {
	fn     *ir.Func
	cfg    Config
	mem    *Memory
	args   []uint64
	consts map[string]uint64
	cmem   []byte
}

// Launch runs fn over the grid of cfg with
// the given argument words. Pointers are words
// returned by Memory.Alloc; scalars may be
// built with F32 and I32.
func Launch(fn *ir.Func, cfg Config, mem *Memory, args ...uint64) (err error) {
	if len(fn.Blocks) == 0 {
		return fmt.Errorf("simt: %s has no body", fn.Name())
	}
	if len(args) != len(fn.Params) {
		return fmt.Errorf("simt: %s takes %d arguments, got %d", fn.Name(), len(fn.Params), len(args))
	}
	if cfg.WarpSize <= 0 || cfg.NumWarps <= 0 {
		return fmt.Errorf("simt: invalid block of %d warps of %d threads", cfg.NumWarps, cfg.WarpSize)
	}
	if cfg.MaxSteps == 0 {
		cfg.MaxSteps = defaultMaxSteps
	}
	for i := range cfg.Grid {
		cfg.Grid[i] = max(cfg.Grid[i], 1)
	}
	m := &machine{fn: fn, cfg: cfg, mem: mem, args: args, consts: make(map[string]uint64)}
	for name, buf := range cfg.Constants {
		m.consts[name] = pointer(spaceConstant, len(m.cmem))
		m.cmem = append(m.cmem, buf...)
		m.cmem = append(m.cmem, make([]byte, ints.AlignUp(len(m.cmem), 16)-len(m.cmem))...)
	}
	defer func() {
		if r := recover(); r != nil {
			switch e := r.(type) {
			case *execError:
				err = e.err
			case *RaceError:
				err = e
			default:
				panic(r)
			}
		}
	}()
	for z := 0; z < cfg.Grid[2]; z++ {
		for y := 0; y < cfg.Grid[1]; y++ {
			for x := 0; x < cfg.Grid[0]; x++ {
				if err := m.runBlock([3]int{x, y, z}); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (m *machine) runBlock(idx [3]int) error {
	b := &block{m: m, idx: idx, shared: newShared(m.cfg.SharedBytes, idx, m.cfg.Trace)}
	n := m.cfg.NumWarps * m.cfg.WarpSize
	b.threads = make([]*thread, n)
	for i := range b.threads {
		t := &thread{
			b:    b,
			id:   i,
			lane: i % m.cfg.WarpSize,
			warp: i / m.cfg.WarpSize,
			regs: make(map[value.Value][]uint64),
			blk:  m.fn.Blocks[0],
		}
		for j, p := range m.fn.Params {
			t.regs[p] = []uint64{m.args[j]}
		}
		b.threads[i] = t
	}
	return b.run()
}

var errDeadlock = errors.New("simt: deadlock")

func (b *block) run() error {
	ws := b.m.cfg.WarpSize
	for {
		progress := false
		for _, t := range b.threads {
			if t.state == running {
				t.run()
				progress = true
			}
		}
		live := 0
		for w := 0; w < b.m.cfg.NumWarps; w++ {
			warp := b.threads[w*ws : (w+1)*ws]
			if b.collective(warp) {
				progress = true
			}
		}
		for _, t := range b.threads {
			if t.state != exited {
				live++
			}
		}
		if live == 0 {
			return nil
		}
		if progress {
			continue
		}
		for _, t := range b.threads {
			if t.state != exited && t.state != atBarrier {
				return fmt.Errorf("%w: block %v: thread %d is blocked in %s while others wait at a barrier",
					errDeadlock, b.idx, t.id, t.blk.Name())
			}
		}
		b.shared.sync()
		for _, t := range b.threads {
			if t.state == atBarrier {
				t.state = running
			}
		}
	}
}

// collective completes the warp-wide call of
// warp once every lane has reached it
func (b *block) collective(warp []*thread) bool {
	call := warp[0].wait
	for _, t := range warp {
		if t.state != atCollective {
			return false
		}
		if t.wait != call {
			panic(fault("block %v: lanes of warp %d wait on different warp-wide instructions", b.idx, t.warp))
		}
	}
	warpCall(warp, call)
	for _, t := range warp {
		t.state = running
		t.wait = nil
	}
	return true
}

// run executes t until it blocks or exits
func (t *thread) run() {
	for t.state == running {
		t.steps++
		if t.steps > t.b.m.cfg.MaxSteps {
			panic(fault("thread %d exceeded %d steps", t.id, t.b.m.cfg.MaxSteps))
		}
		if t.pc < len(t.blk.Insts) {
			inst := t.blk.Insts[t.pc]
			t.pc++
			t.exec(inst)
			continue
		}
		t.term(t.blk.Term)
	}
}

// jump moves to dst, evaluating its phis
// as one parallel copy
func (t *thread) jump(dst *ir.Block) {
	from := t.blk
	type pending struct {
		phi *ir.InstPhi
		val []uint64
	}
	var phis []pending
	pc := 0
	for ; pc < len(dst.Insts); pc++ {
		phi, ok := dst.Insts[pc].(*ir.InstPhi)
		if !ok {
			break
		}
		found := false
		for _, inc := range phi.Incs {
			if blockOf(inc.Pred) == from {
				phis = append(phis, pending{phi, t.eval(inc.X)})
				found = true
				break
			}
		}
		if !found {
			panic(fault("phi in %s has no incoming value from %s", dst.Name(), from.Name()))
		}
	}
	for _, p := range phis {
		t.regs[p.phi] = p.val
	}
	t.blk, t.pc = dst, pc
}

func (t *thread) term(term ir.Terminator) {
	switch term := term.(type) {
	case *ir.TermRet:
		t.flushAsync(0, true)
		t.state = exited
	case *ir.TermBr:
		t.jump(blockOf(term.Target))
	case *ir.TermCondBr:
		if t.eval(term.Cond)[0]&1 != 0 {
			t.jump(blockOf(term.TargetTrue))
		} else {
			t.jump(blockOf(term.TargetFalse))
		}
	default:
		panic(fault("unsupported terminator %T in %s", term, t.blk.Name()))
	}
}
