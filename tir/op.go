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

package tir

import (
	"fmt"
)

// Op is a tile-IR instruction kind.
type Op uint8

const (
	OpInvalid Op = iota
	OpArgument
	OpConstInt
	OpConstFloat
	OpUndef
	OpAllocConst

	// element-wise
	OpBinary // Sub is a BinOp
	OpICmp   // Sub is a Pred
	OpFCmp   // Sub is a Pred
	OpCast   // Sub is a CastKind
	OpSelect
	OpExp
	OpLog
	OpSqrt
	OpGEP // ptr + offset (in elements)

	// global memory
	OpLoad
	OpStore
	OpMaskedLoad
	OpMaskedStore
	OpMaskedLoadAsync
	OpAsyncWait // Imm is the number of groups left in flight

	// layout conversions
	OpCopyToShared
	OpCopyFromShared
	OpRecoalesce

	OpReduce // Sub is a ReduceOp, Axis the reduced dim
	OpDot

	// shape manipulation
	OpSplat
	OpBroadcast
	OpReshape
	OpDowncast
	OpTrans
	OpMakeRange // Imm is the first value

	OpProgramID   // Axis is the grid dimension
	OpNumPrograms // Axis is the grid dimension

	OpAtomicAdd
	OpAtomicCAS
	OpAtomicExch

	OpPhi
	OpBr
	OpCondBr
	OpRet
	OpBarrier

	opMax
)

type opinfo struct {
	text string
	// nargs is the exact number of
	// arguments, or -1 for variadic ops
	nargs int
	// pure ops may be hash-consed
	pure bool
	// term ops end a block
	term bool
	// effect ops have side effects
	// and must not be dead-code eliminated
	effect bool
}

var opinfos = [opMax]opinfo{
	OpArgument:        {text: "argument", nargs: 0},
	OpConstInt:        {text: "constint", nargs: 0, pure: true},
	OpConstFloat:      {text: "constfloat", nargs: 0, pure: true},
	OpUndef:           {text: "undef", nargs: 0},
	OpAllocConst:      {text: "alloc_const", nargs: 0},
	OpBinary:          {text: "binary", nargs: 2, pure: true},
	OpICmp:            {text: "icmp", nargs: 2, pure: true},
	OpFCmp:            {text: "fcmp", nargs: 2, pure: true},
	OpCast:            {text: "cast", nargs: 1, pure: true},
	OpSelect:          {text: "select", nargs: 3, pure: true},
	OpExp:             {text: "exp", nargs: 1, pure: true},
	OpLog:             {text: "log", nargs: 1, pure: true},
	OpSqrt:            {text: "sqrt", nargs: 1, pure: true},
	OpGEP:             {text: "getelementptr", nargs: 2, pure: true},
	OpLoad:            {text: "load", nargs: 1},
	OpStore:           {text: "store", nargs: 2, effect: true},
	OpMaskedLoad:      {text: "masked_load", nargs: 3},
	OpMaskedStore:     {text: "masked_store", nargs: 3, effect: true},
	OpMaskedLoadAsync: {text: "masked_load_async", nargs: 3, effect: true},
	OpAsyncWait:       {text: "async_wait", nargs: 0, effect: true},
	OpCopyToShared:    {text: "copy_to_shared", nargs: 1, effect: true},
	OpCopyFromShared:  {text: "copy_from_shared", nargs: 1},
	OpRecoalesce:      {text: "recoalesce", nargs: 1},
	OpReduce:          {text: "reduce", nargs: 2},
	OpDot:             {text: "dot", nargs: 3},
	OpSplat:           {text: "splat", nargs: 1, pure: true},
	OpBroadcast:       {text: "broadcast", nargs: 1, pure: true},
	OpReshape:         {text: "reshape", nargs: 1, pure: true},
	OpDowncast:        {text: "downcast", nargs: 1},
	OpTrans:           {text: "trans", nargs: 1},
	OpMakeRange:       {text: "make_range", nargs: 0, pure: true},
	OpProgramID:       {text: "get_program_id", nargs: 0, pure: true},
	OpNumPrograms:     {text: "get_num_programs", nargs: 0, pure: true},
	OpAtomicAdd:       {text: "atomic_add", nargs: 3, effect: true},
	OpAtomicCAS:       {text: "atomic_cas", nargs: 3, effect: true},
	OpAtomicExch:      {text: "atomic_exch", nargs: 2, effect: true},
	OpPhi:             {text: "phi", nargs: -1},
	OpBr:              {text: "br", nargs: 0, term: true, effect: true},
	OpCondBr:          {text: "cond_br", nargs: 1, term: true, effect: true},
	OpRet:             {text: "ret", nargs: 0, term: true, effect: true},
	OpBarrier:         {text: "barrier", nargs: 0, effect: true},
}

func init() {
	for op := OpInvalid + 1; op < opMax; op++ {
		if opinfos[op].text == "" {
			panic(fmt.Sprintf("tir: op %d has no opinfo entry", op))
		}
	}
}

func (o Op) String() string {
	if o > OpInvalid && o < opMax {
		return opinfos[o].text
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// NumOps is the number of valid ops plus one;
// ops are dense in [1, NumOps).
const NumOps = int(opMax)

// IsTerminator returns whether o ends a block.
func (o Op) IsTerminator() bool { return o < opMax && opinfos[o].term }

// HasEffect returns whether o has side effects.
func (o Op) HasEffect() bool { return o < opMax && opinfos[o].effect }

// BinOp is the sub-opcode of OpBinary.
type BinOp uint8

const (
	Add BinOp = iota
	Sub
	Mul
	SDiv
	UDiv
	SRem
	URem
	Shl
	LShr
	AShr
	And
	Or
	Xor
	FAdd
	FSub
	FMul
	FDiv
	FRem
	binOpMax
)

var binopNames = [binOpMax]string{
	"add", "sub", "mul", "sdiv", "udiv", "srem", "urem",
	"shl", "lshr", "ashr", "and", "or", "xor",
	"fadd", "fsub", "fmul", "fdiv", "frem",
}

func (b BinOp) String() string {
	if b < binOpMax {
		return binopNames[b]
	}
	return fmt.Sprintf("BinOp(%d)", int(b))
}

// IsFloat returns whether b operates on floats.
func (b BinOp) IsFloat() bool { return b >= FAdd && b < binOpMax }

// Pred is a comparison predicate.
// Integer predicates are used by OpICmp,
// ordered float predicates by OpFCmp.
type Pred uint8

const (
	EQ Pred = iota
	NE
	SLT
	SLE
	SGT
	SGE
	ULT
	ULE
	UGT
	UGE
	OEQ
	ONE
	OLT
	OLE
	OGT
	OGE
	predMax
)

var predNames = [predMax]string{
	"eq", "ne", "slt", "sle", "sgt", "sge", "ult", "ule", "ugt", "uge",
	"oeq", "one", "olt", "ole", "ogt", "oge",
}

func (p Pred) String() string {
	if p < predMax {
		return predNames[p]
	}
	return fmt.Sprintf("Pred(%d)", int(p))
}

// IsFloat returns whether p is a float predicate.
func (p Pred) IsFloat() bool { return p >= OEQ && p < predMax }

// CastKind is the sub-opcode of OpCast.
type CastKind uint8

const (
	Trunc CastKind = iota
	ZExt
	SExt
	FPTrunc
	FPExt
	FPToSI
	FPToUI
	SIToFP
	UIToFP
	PtrToInt
	IntToPtr
	Bitcast
	castMax
)

var castNames = [castMax]string{
	"trunc", "zext", "sext", "fptrunc", "fpext", "fptosi", "fptoui",
	"sitofp", "uitofp", "ptrtoint", "inttoptr", "bitcast",
}

func (c CastKind) String() string {
	if c < castMax {
		return castNames[c]
	}
	return fmt.Sprintf("CastKind(%d)", int(c))
}

// ReduceOp is the combining operation of OpReduce.
type ReduceOp uint8

const (
	RedAdd ReduceOp = iota
	RedFAdd
	RedMin
	RedMax
	RedUMin
	RedUMax
	RedFMin
	RedFMax
	RedAnd
	RedOr
	RedXor
	reduceMax
)

var reduceNames = [reduceMax]string{
	"add", "fadd", "min", "max", "umin", "umax", "fmin", "fmax", "and", "or", "xor",
}

func (r ReduceOp) String() string {
	if r < reduceMax {
		return reduceNames[r]
	}
	return fmt.Sprintf("ReduceOp(%d)", int(r))
}

// IsFloat returns whether r combines floats.
func (r ReduceOp) IsFloat() bool {
	return r == RedFAdd || r == RedFMin || r == RedFMax
}
