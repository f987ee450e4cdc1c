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

// Package tir implements the tile-level SSA IR
// consumed by the code generator.
//
// Values and blocks live in per-function arenas
// and are referred to by small integer handles,
// so analyses can key their tables by ValueID
// or BlockID without holding pointers into the IR.
package tir

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/dchest/siphash"
	"golang.org/x/exp/slices"
)

// ValueID is the handle of a value in its function.
type ValueID int32

// BlockID is the handle of a block in its function.
type BlockID int32

// NoValue is the zero handle; it never names a value.
const NoValue ValueID = 0

// Value is one tile-IR instruction together
// with the value it defines.
type Value struct {
	ID    ValueID
	Op    Op
	Type  Type
	Args  []ValueID
	Block BlockID

	// Sub is the sub-opcode (BinOp, Pred,
	// CastKind or ReduceOp) for ops that have one.
	Sub uint8
	// Imm is the integer immediate, if any.
	Imm int64
	// Float is the float immediate, if any.
	Float float64
	// Axis is the dimension argument of
	// reductions and grid queries.
	Axis int
	// Perm is the permutation of OpTrans.
	Perm []int
	// Targets are the successors of a terminator.
	Targets []BlockID
	// Preds are the incoming blocks of a
	// phi, parallel to Args.
	Preds []BlockID
	// Name is an optional symbolic name.
	Name string
}

// BinOp returns the sub-opcode of an OpBinary.
func (v *Value) BinOp() BinOp { return BinOp(v.Sub) }

// Pred returns the predicate of an OpICmp or OpFCmp.
func (v *Value) Pred() Pred { return Pred(v.Sub) }

// CastKind returns the sub-opcode of an OpCast.
func (v *Value) CastKind() CastKind { return CastKind(v.Sub) }

// ReduceOp returns the combining op of an OpReduce.
func (v *Value) ReduceOp() ReduceOp { return ReduceOp(v.Sub) }

// Block is a basic block.
type Block struct {
	ID    BlockID
	Name  string
	Insts []ValueID
}

// Function is a tile-IR kernel.
type Function struct {
	Name   string
	Params []ValueID
	// Values is the value arena; Values[0]
	// is a placeholder so that NoValue is
	// never a valid handle.
	Values []*Value
	Blocks []*Block

	cur   BlockID
	exprs map[uint64][]ValueID
	name  string
}

// Module is a collection of functions.
type Module struct {
	Funcs []*Function
}

// NewFunction adds a function with an entry
// block to the module.
func (m *Module) NewFunction(name string) *Function {
	f := NewFunction(name)
	m.Funcs = append(m.Funcs, f)
	return f
}

// NewFunction returns an empty function
// with an entry block selected for insertion.
func NewFunction(name string) *Function {
	f := &Function{
		Name:   name,
		Values: []*Value{{Op: OpInvalid}},
		exprs:  make(map[uint64][]ValueID),
	}
	f.NewBlock("entry")
	return f
}

// Value returns the value with the given handle.
func (f *Function) Value(id ValueID) *Value {
	if id <= 0 || int(id) >= len(f.Values) {
		panic(fmt.Sprintf("tir: value handle %d out of range in %s", id, f.Name))
	}
	return f.Values[id]
}

// Block returns the block with the given handle.
func (f *Function) Block(id BlockID) *Block {
	return f.Blocks[id]
}

// Entry returns the entry block.
func (f *Function) Entry() *Block { return f.Blocks[0] }

// NewBlock appends a block to f.
// The insertion point is not changed,
// except for the very first block.
func (f *Function) NewBlock(name string) BlockID {
	id := BlockID(len(f.Blocks))
	if name == "" {
		name = fmt.Sprintf("bb%d", id)
	}
	f.Blocks = append(f.Blocks, &Block{ID: id, Name: name})
	return id
}

// SetBlock selects the block that
// subsequent instructions are appended to.
func (f *Function) SetBlock(b BlockID) {
	if int(b) >= len(f.Blocks) {
		panic(fmt.Sprintf("tir: block %d out of range", b))
	}
	f.cur = b
}

// Current returns the insertion block.
func (f *Function) Current() BlockID { return f.cur }

// Succs returns the successors of block b.
func (f *Function) Succs(b BlockID) []BlockID {
	insts := f.Blocks[b].Insts
	if len(insts) == 0 {
		return nil
	}
	last := f.Values[insts[len(insts)-1]]
	if !last.Op.IsTerminator() {
		return nil
	}
	return last.Targets
}

// Preds returns the predecessors of every block.
func (f *Function) Preds() [][]BlockID {
	preds := make([][]BlockID, len(f.Blocks))
	for i := range f.Blocks {
		for _, s := range f.Succs(BlockID(i)) {
			preds[s] = append(preds[s], BlockID(i))
		}
	}
	return preds
}

func (f *Function) add(v *Value) ValueID {
	f.takeName(v)
	v.ID = ValueID(len(f.Values))
	v.Block = f.cur
	f.Values = append(f.Values, v)
	blk := f.Blocks[f.cur]
	blk.Insts = append(blk.Insts, v.ID)
	return v.ID
}

// hash-consing key for pure values; the
// block is part of the key so that an
// expression is never reused outside the
// block that defined it
func (f *Function) hash(v *Value) uint64 {
	buf := make([]byte, 0, 64)
	buf = append(buf, byte(v.Op), v.Sub, byte(v.Type.Elem), byte(v.Type.Pointee))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(v.Block))
	for _, d := range v.Type.Shape {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(d))
	}
	buf = append(buf, 0xff)
	for _, a := range v.Args {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(a))
	}
	buf = binary.LittleEndian.AppendUint64(buf, uint64(v.Imm))
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.Float))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(v.Axis))
	for _, p := range v.Perm {
		buf = append(buf, byte(p))
	}
	buf = append(buf, v.Name...)
	return siphash.Hash(0x736e656c6c6572, 0x74696c6567656e, buf)
}

func same(a, b *Value) bool {
	if a.Op != b.Op || a.Sub != b.Sub || a.Block != b.Block ||
		a.Imm != b.Imm || math.Float64bits(a.Float) != math.Float64bits(b.Float) ||
		a.Axis != b.Axis || a.Name != b.Name || !a.Type.Equal(b.Type) || len(a.Args) != len(b.Args) {
		return false
	}
	for i := range a.Args {
		if a.Args[i] != b.Args[i] {
			return false
		}
	}
	return slices.Equal(a.Perm, b.Perm)
}

// emit adds v to the current block,
// reusing an identical pure value that
// already exists in the block
func (f *Function) emit(v *Value) ValueID {
	if !opinfos[v.Op].pure {
		return f.add(v)
	}
	v.Block = f.cur
	f.takeName(v)
	h := f.hash(v)
	for _, id := range f.exprs[h] {
		if same(f.Values[id], v) {
			return id
		}
	}
	id := f.add(v)
	f.exprs[h] = append(f.exprs[h], id)
	return id
}

// Named sets the symbolic name of the next
// value the builder creates. Pure values
// with different names are never merged.
func (f *Function) Named(name string) *Function {
	f.name = name
	return f
}

func (f *Function) takeName(v *Value) {
	if f.name != "" {
		v.Name, f.name = f.name, ""
	}
}
