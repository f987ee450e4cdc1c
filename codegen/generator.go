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

// Package codegen lowers tile-IR functions to
// per-lane LLVM IR for SIMT targets.
//
// Lowering is a single forward walk over the
// blocks of a function. Every tile value is
// expanded into the per-lane scalars its layout
// assigns to one thread, keyed by index tuples;
// constructs that refer forward (phis and
// multi-buffered shared layouts) are queued and
// resolved after the walk.
package codegen

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/exp/slices"

	"github.com/SnellerInc/tilegen/analysis"
	"github.com/SnellerInc/tilegen/target"
	"github.com/SnellerInc/tilegen/tir"
)

// Options configures a Generator.
type Options struct {
	// NumWarps is the number of warps per
	// block; zero means the target default.
	NumWarps int
}

// Metadata describes a lowered function.
type Metadata struct {
	// PassID identifies the Lower call that
	// produced the function.
	PassID uuid.UUID
	// SharedBytes is the shared memory the
	// function needs per block.
	SharedBytes int
	NumWarps    int
	// Blocks lists, for every tile-IR block,
	// the LLVM blocks generated for it; the
	// first one is the block's entry.
	Blocks map[tir.BlockID][]*ir.Block
	// Indices is the index-tuple table of every
	// distributed value, in materialization order.
	Indices map[tir.ValueID][]Index
	// Fingerprint is the BLAKE2b-256 digest of
	// the textual function.
	Fingerprint [32]byte
}

// AxisPos is one entry of an index tuple: the
// position along a distributed axis. Axis is
// analysis.Unit for size-1 dims.
type AxisPos struct {
	Axis, Pos int
}

// Index is an index tuple, one entry per dim.
type Index []AxisPos

// Kernel is the result of lowering a function.
type Kernel struct {
	Func *ir.Func
	Meta Metadata
}

// Generator lowers functions for one target.
// A Generator is not safe for concurrent use;
// all per-function state is reset by Lower.
type Generator struct {
	tgt      *target.Target
	numWarps int
	dot      dotStrategy

	// per-module state
	mod       *ir.Module
	decls     map[string]*ir.Func
	sharedMem *ir.Global

	// per-function state
	fn    *tir.Function
	an    *analysis.Set
	f     *ir.Func
	blk   *ir.Block   // insertion point
	entry *ir.Block   // LLVM entry block
	cur   *tir.Value  // instruction being lowered
	tblk  tir.BlockID // tile-IR block being lowered

	blocks  []*ir.Block // entry LLVM block of every tile-IR block
	last    []*ir.Block // last LLVM block of every tile-IR block
	nblocks int

	tid, lane, warp value.Value
	axes            map[int]*distAxis
	threads         map[int]*threadCoords
	primaries       map[primaryKey]value.Value

	idxs   map[tir.ValueID][]idxkey
	vals   map[tir.ValueID]map[idxkey]value.Value
	owner  map[tir.ValueID]tir.BlockID
	shbase map[tir.ValueID]value.Value
	bufs   map[int]*bufferState

	offsets map[offsetKey]value.Value

	needBarrier map[tir.ValueID]bool
	deferred    []func()
	asyncCopies int

	meta Metadata
}

// New returns a Generator for tgt.
func New(tgt *target.Target, opts Options) (*Generator, error) {
	if err := tgt.Validate(); err != nil {
		return nil, fmt.Errorf("codegen.New: %w", err)
	}
	nw := opts.NumWarps
	if nw == 0 {
		nw = tgt.NumWarps
	}
	if nw <= 0 {
		return nil, fmt.Errorf("codegen.New: invalid number of warps %d", nw)
	}
	return &Generator{
		tgt:      tgt,
		numWarps: nw,
		dot:      selectDot(tgt),
	}, nil
}

// NumWarps returns the number of warps per block.
func (g *Generator) NumWarps() int { return g.numWarps }

// Threads returns the number of threads per block.
func (g *Generator) Threads() int { return g.tgt.Threads(g.numWarps) }

func (g *Generator) useModule(mod *ir.Module) {
	if g.mod == mod {
		return
	}
	g.mod = mod
	g.decls = make(map[string]*ir.Func)
	for _, f := range mod.Funcs {
		if len(f.Blocks) == 0 {
			g.decls[f.Name()] = f
		}
	}
	g.sharedMem = nil
	for _, gl := range mod.Globals {
		if gl.Name() == sharedMemName {
			g.sharedMem = gl
		}
	}
}

func (g *Generator) reset(mod *ir.Module, fn *tir.Function, an *analysis.Set) {
	g.useModule(mod)
	g.fn = fn
	g.an = an
	g.f = nil
	g.blk = nil
	g.entry = nil
	g.cur = nil
	g.tblk = 0
	g.blocks = make([]*ir.Block, len(fn.Blocks))
	g.last = make([]*ir.Block, len(fn.Blocks))
	g.nblocks = 0
	g.tid, g.lane, g.warp = nil, nil, nil
	g.axes = make(map[int]*distAxis)
	g.threads = make(map[int]*threadCoords)
	g.primaries = make(map[primaryKey]value.Value)
	g.idxs = make(map[tir.ValueID][]idxkey)
	g.vals = make(map[tir.ValueID]map[idxkey]value.Value)
	g.owner = make(map[tir.ValueID]tir.BlockID)
	g.shbase = make(map[tir.ValueID]value.Value)
	g.bufs = make(map[int]*bufferState)
	g.offsets = make(map[offsetKey]value.Value)
	g.needBarrier = nil
	g.deferred = g.deferred[:0]
	g.asyncCopies = 0
	g.meta = Metadata{
		PassID:   uuid.New(),
		NumWarps: g.numWarps,
		Blocks:   make(map[tir.BlockID][]*ir.Block),
		Indices:  make(map[tir.ValueID][]Index),
	}
}

// Lower generates fn into mod using the
// analysis results an. On error, no function
// is added to mod.
func (g *Generator) Lower(mod *ir.Module, fn *tir.Function, an *analysis.Set) (k *Kernel, err error) {
	if err := tir.Verify(fn); err != nil {
		return nil, fmt.Errorf("codegen: %w", err)
	}
	if an == nil || an.Func != fn {
		return nil, fmt.Errorf("codegen: analysis results do not belong to %s", fn.Name)
	}
	g.reset(mod, fn, an)
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(*Error)
			if !ok {
				panic(r)
			}
			g.discard()
			errorf("%s", e)
			k, err = nil, e
		}
	}()
	g.visitFunction()
	return g.kernel(), nil
}

// remove the partially built function
func (g *Generator) discard() {
	if g.f == nil {
		return
	}
	g.mod.Funcs = slices.DeleteFunc(g.mod.Funcs, func(f *ir.Func) bool { return f == g.f })
	g.f = nil
}

func (g *Generator) kernel() *Kernel {
	g.meta.SharedBytes = g.an.SharedBytes
	for id, lst := range g.idxs {
		if !g.fn.Value(id).Type.IsTile() {
			continue
		}
		out := make([]Index, len(lst))
		for i := range lst {
			out[i] = lst[i].export(g.fn.Value(id).Type.Rank())
		}
		g.meta.Indices[id] = out
	}
	if err := g.f.AssignIDs(); err != nil {
		errorf("%s: assigning IDs: %s", g.fn.Name, err)
	}
	g.meta.Fingerprint = blake2b.Sum256([]byte(g.f.LLString()))
	return &Kernel{Func: g.f, Meta: g.meta}
}

// lowering rules, one per op
var lowerings [tir.NumOps]func(g *Generator, v *tir.Value)

func init() {
	lowerings = [tir.NumOps]func(g *Generator, v *tir.Value){
		tir.OpArgument:        lowerArgument,
		tir.OpConstInt:        lowerConstInt,
		tir.OpConstFloat:      lowerConstFloat,
		tir.OpUndef:           lowerUndef,
		tir.OpAllocConst:      lowerAllocConst,
		tir.OpBinary:          lowerBinary,
		tir.OpICmp:            lowerCmp,
		tir.OpFCmp:            lowerCmp,
		tir.OpCast:            lowerCast,
		tir.OpSelect:          lowerSelect,
		tir.OpExp:             lowerMath,
		tir.OpLog:             lowerMath,
		tir.OpSqrt:            lowerMath,
		tir.OpGEP:             lowerGEP,
		tir.OpLoad:            lowerLoad,
		tir.OpStore:           lowerStore,
		tir.OpMaskedLoad:      lowerMaskedLoad,
		tir.OpMaskedStore:     lowerMaskedStore,
		tir.OpMaskedLoadAsync: lowerMaskedLoadAsync,
		tir.OpAsyncWait:       lowerAsyncWait,
		tir.OpCopyToShared:    lowerCopyToShared,
		tir.OpCopyFromShared:  lowerCopyFromShared,
		tir.OpRecoalesce:      lowerRecoalesce,
		tir.OpReduce:          lowerReduce,
		tir.OpDot:             lowerDot,
		tir.OpSplat:           lowerSplat,
		tir.OpBroadcast:       lowerBroadcast,
		tir.OpReshape:         lowerReshape,
		tir.OpDowncast:        lowerDowncast,
		tir.OpTrans:           lowerTrans,
		tir.OpMakeRange:       lowerMakeRange,
		tir.OpProgramID:       lowerGridQuery,
		tir.OpNumPrograms:     lowerGridQuery,
		tir.OpAtomicAdd:       lowerAtomic,
		tir.OpAtomicCAS:       lowerAtomic,
		tir.OpAtomicExch:      lowerAtomic,
		tir.OpPhi:             lowerPhi,
		tir.OpBr:              lowerBr,
		tir.OpCondBr:          lowerCondBr,
		tir.OpRet:             lowerRet,
		tir.OpBarrier:         lowerBarrier,
	}
	for op := 1; op < tir.NumOps; op++ {
		if lowerings[op] == nil {
			panic(fmt.Sprintf("codegen: no lowering for %s", tir.Op(op)))
		}
	}
}

func (g *Generator) visitFunction() {
	params := make([]*ir.Param, len(g.fn.Params))
	for i, p := range g.fn.Params {
		v := g.fn.Value(p)
		if v.Type.IsTile() {
			g.fatalf(v, errUnsupport, "tile-typed kernel parameter")
		}
		params[i] = ir.NewParam(v.Name, scalarType(v.Type))
	}
	g.f = g.mod.NewFunc(g.fn.Name, types.Void, params...)
	for i, blk := range g.fn.Blocks {
		g.blocks[i] = g.f.NewBlock(blk.Name)
		g.meta.Blocks[tir.BlockID(i)] = []*ir.Block{g.blocks[i]}
	}
	g.entry = g.blocks[0]
	g.blk = g.entry

	if g.an.SharedBytes > g.tgt.SharedMemory {
		g.fatalf(nil, errAlloc, "%d bytes of shared memory exceed the %d available on %s",
			g.an.SharedBytes, g.tgt.SharedMemory, g.tgt.Name)
	}
	g.needBarrier = g.planBarriers()
	g.visitLayouts()

	for i, blk := range g.fn.Blocks {
		g.tblk = tir.BlockID(i)
		g.blk = g.blocks[i]
		phis := true
		for _, id := range blk.Insts {
			v := g.fn.Value(id)
			if phis && v.Op != tir.OpPhi {
				phis = false
				g.afterPhis()
			}
			g.cur = v
			if g.needBarrier[id] {
				g.barrier()
			}
			lowerings[v.Op](g, v)
		}
		g.cur = nil
		g.last[i] = g.blk
	}
	g.drain()
	g.finalizeFunction()
}

// later queues fn to run after every block
// has been lowered
func (g *Generator) later(fn func()) {
	g.deferred = append(g.deferred, fn)
}

func (g *Generator) drain() {
	for len(g.deferred) > 0 {
		fn := g.deferred[0]
		g.deferred = g.deferred[1:]
		fn()
	}
}
