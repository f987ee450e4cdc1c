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
	"math"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/SnellerInc/tilegen/ints"
)

const sharedMemName = "shared_mem"

func (t *thread) eval(v value.Value) []uint64 {
	switch v := v.(type) {
	case *constant.Int:
		bits := v.Typ.BitSize
		if v.X.IsInt64() {
			return []uint64{truncBits(uint64(v.X.Int64()), bits)}
		}
		return []uint64{truncBits(v.X.Uint64(), bits)}
	case *constant.Float:
		f, _ := v.X.Float64()
		return []uint64{encodeFloat(f, v.Typ.Kind)}
	case *constant.Undef:
		return make([]uint64, lanes(v.Typ))
	case *constant.ZeroInitializer:
		return make([]uint64, lanes(v.Typ))
	case *constant.Null:
		return []uint64{0}
	case *ir.Global:
		if v.Name() == sharedMemName {
			return []uint64{pointer(spaceShared, 0)}
		}
		p, ok := t.b.m.consts[v.Name()]
		if !ok {
			panic(fault("no contents for constant @%s", v.Name()))
		}
		return []uint64{p}
	}
	r, ok := t.regs[v]
	if !ok {
		panic(fault("thread %d: use of %s before its definition", t.id, v.Ident()))
	}
	return r
}

func (t *thread) set(dst value.Value, words ...uint64) {
	t.regs[dst] = words
}

// ibin applies f to every lane of two integer operands
func (t *thread) ibin(dst value.Value, x, y value.Value, f func(a, b, bits uint64) uint64) {
	bits := bitsOf(x.Type())
	a, b := t.eval(x), t.eval(y)
	out := make([]uint64, len(a))
	for i := range a {
		out[i] = truncBits(f(a[i], b[i], bits), bits)
	}
	t.set(dst, out...)
}

func (t *thread) fbin(dst value.Value, x, y value.Value, f func(a, b float64) float64) {
	k := floatKind(x.Type())
	a, b := t.eval(x), t.eval(y)
	out := make([]uint64, len(a))
	for i := range a {
		out[i] = encodeFloat(f(decodeFloat(a[i], k), decodeFloat(b[i], k)), k)
	}
	t.set(dst, out...)
}

func signed(f func(a, b int64) int64) func(a, b, bits uint64) uint64 {
	return func(a, b, bits uint64) uint64 {
		return uint64(f(sext(a, bits), sext(b, bits)))
	}
}

func (t *thread) divisor(b uint64) {
	if b == 0 {
		panic(fault("thread %d: integer division by zero", t.id))
	}
}

func (t *thread) exec(inst ir.Instruction) {
	switch inst := inst.(type) {
	case *ir.InstAdd:
		t.ibin(inst, inst.X, inst.Y, func(a, b, _ uint64) uint64 { return a + b })
	case *ir.InstSub:
		t.ibin(inst, inst.X, inst.Y, func(a, b, _ uint64) uint64 { return a - b })
	case *ir.InstMul:
		t.ibin(inst, inst.X, inst.Y, func(a, b, _ uint64) uint64 { return a * b })
	case *ir.InstUDiv:
		t.ibin(inst, inst.X, inst.Y, func(a, b, _ uint64) uint64 { t.divisor(b); return a / b })
	case *ir.InstURem:
		t.ibin(inst, inst.X, inst.Y, func(a, b, _ uint64) uint64 { t.divisor(b); return a % b })
	case *ir.InstSDiv:
		t.ibin(inst, inst.X, inst.Y, signed(func(a, b int64) int64 { t.divisor(uint64(b)); return a / b }))
	case *ir.InstSRem:
		t.ibin(inst, inst.X, inst.Y, signed(func(a, b int64) int64 { t.divisor(uint64(b)); return a % b }))
	case *ir.InstShl:
		t.ibin(inst, inst.X, inst.Y, func(a, b, _ uint64) uint64 { return a << b })
	case *ir.InstLShr:
		t.ibin(inst, inst.X, inst.Y, func(a, b, _ uint64) uint64 { return a >> b })
	case *ir.InstAShr:
		t.ibin(inst, inst.X, inst.Y, func(a, b, bits uint64) uint64 { return uint64(sext(a, bits) >> b) })
	case *ir.InstAnd:
		t.ibin(inst, inst.X, inst.Y, func(a, b, _ uint64) uint64 { return a & b })
	case *ir.InstOr:
		t.ibin(inst, inst.X, inst.Y, func(a, b, _ uint64) uint64 { return a | b })
	case *ir.InstXor:
		t.ibin(inst, inst.X, inst.Y, func(a, b, _ uint64) uint64 { return a ^ b })
	case *ir.InstFAdd:
		t.fbin(inst, inst.X, inst.Y, func(a, b float64) float64 { return a + b })
	case *ir.InstFSub:
		t.fbin(inst, inst.X, inst.Y, func(a, b float64) float64 { return a - b })
	case *ir.InstFMul:
		t.fbin(inst, inst.X, inst.Y, func(a, b float64) float64 { return a * b })
	case *ir.InstFDiv:
		t.fbin(inst, inst.X, inst.Y, func(a, b float64) float64 { return a / b })
	case *ir.InstFRem:
		t.fbin(inst, inst.X, inst.Y, math.Mod)
	case *ir.InstICmp:
		t.ibin(inst, inst.X, inst.Y, func(a, b, bits uint64) uint64 { return b2u(icmp(inst.Pred, a, b, bits)) })
		t.mask1(inst)
	case *ir.InstFCmp:
		k := floatKind(inst.X.Type())
		a, b := t.eval(inst.X), t.eval(inst.Y)
		out := make([]uint64, len(a))
		for i := range a {
			out[i] = b2u(fcmp(inst.Pred, decodeFloat(a[i], k), decodeFloat(b[i], k)))
		}
		t.set(inst, out...)
	case *ir.InstSelect:
		c := t.eval(inst.Cond)
		x, y := t.eval(inst.ValueTrue), t.eval(inst.ValueFalse)
		out := make([]uint64, len(x))
		for i := range x {
			sel := c[0]
			if len(c) > 1 {
				sel = c[i]
			}
			if sel&1 != 0 {
				out[i] = x[i]
			} else {
				out[i] = y[i]
			}
		}
		t.set(inst, out...)
	case *ir.InstTrunc:
		t.convert(inst, inst.From, inst.To, func(x uint64, from, to types.Type) uint64 { return x })
	case *ir.InstZExt:
		t.convert(inst, inst.From, inst.To, func(x uint64, from, to types.Type) uint64 { return x })
	case *ir.InstSExt:
		t.convert(inst, inst.From, inst.To, func(x uint64, from, to types.Type) uint64 {
			return uint64(sext(x, bitsOf(from)))
		})
	case *ir.InstFPTrunc:
		t.convert(inst, inst.From, inst.To, refloat)
	case *ir.InstFPExt:
		t.convert(inst, inst.From, inst.To, refloat)
	case *ir.InstFPToSI:
		t.convert(inst, inst.From, inst.To, func(x uint64, from, to types.Type) uint64 {
			return uint64(int64(decodeFloat(x, floatKind(from))))
		})
	case *ir.InstFPToUI:
		t.convert(inst, inst.From, inst.To, func(x uint64, from, to types.Type) uint64 {
			return uint64(decodeFloat(x, floatKind(from)))
		})
	case *ir.InstSIToFP:
		t.convert(inst, inst.From, inst.To, func(x uint64, from, to types.Type) uint64 {
			return encodeFloat(float64(sext(x, bitsOf(from))), floatKind(to))
		})
	case *ir.InstUIToFP:
		t.convert(inst, inst.From, inst.To, func(x uint64, from, to types.Type) uint64 {
			return encodeFloat(float64(x), floatKind(to))
		})
	case *ir.InstPtrToInt:
		t.convert(inst, inst.From, inst.To, func(x uint64, from, to types.Type) uint64 { return x })
	case *ir.InstIntToPtr:
		t.convert(inst, inst.From, inst.To, func(x uint64, from, to types.Type) uint64 { return x })
	case *ir.InstBitCast:
		if lanes(inst.From.Type()) != lanes(inst.To) {
			words := t.eval(inst.From)
			t.set(inst, decode(encode(words, inst.From.Type()), inst.To)...)
			return
		}
		t.set(inst, t.eval(inst.From)...)
	case *ir.InstGetElementPtr:
		t.set(inst, t.gep(inst))
	case *ir.InstLoad:
		p := t.eval(inst.Src)[0]
		t.aligned(p, inst.Align)
		t.set(inst, decode(t.load(p, sizeOf(inst.ElemType)), inst.ElemType)...)
	case *ir.InstStore:
		p := t.eval(inst.Dst)[0]
		t.aligned(p, inst.Align)
		t.store(p, encode(t.eval(inst.Src), inst.Src.Type()))
	case *ir.InstExtractElement:
		x := t.eval(inst.X)
		t.set(inst, x[t.eval(inst.Index)[0]])
	case *ir.InstInsertElement:
		x := append([]uint64(nil), t.eval(inst.X)...)
		x[t.eval(inst.Index)[0]] = t.eval(inst.Elem)[0]
		t.set(inst, x...)
	case *ir.InstExtractValue:
		x := t.eval(inst.X)
		t.set(inst, x[inst.Indices[0]])
	case *ir.InstAtomicRMW:
		t.atomicRMW(inst)
	case *ir.InstCmpXchg:
		p := t.eval(inst.Ptr)[0]
		typ := inst.Cmp.Type()
		n := sizeOf(typ)
		old := decode(t.load(p, n), typ)[0]
		ok := old == t.eval(inst.Cmp)[0]
		if ok {
			t.store(p, encode(t.eval(inst.New), typ))
		}
		t.set(inst, old, b2u(ok))
	case *ir.InstCall:
		t.call(inst)
	case *ir.InstPhi:
		panic(fault("phi after the start of %s", t.blk.Name()))
	default:
		panic(fault("unsupported instruction %T", inst))
	}
}

func refloat(x uint64, from, to types.Type) uint64 {
	return encodeFloat(decodeFloat(x, floatKind(from)), floatKind(to))
}

// mask1 truncates an i1 result
func (t *thread) mask1(dst value.Value) {
	r := t.regs[dst]
	for i := range r {
		r[i] &= 1
	}
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func icmp(p enum.IPred, a, b, bits uint64) bool {
	sa, sb := sext(a, bits), sext(b, bits)
	switch p {
	case enum.IPredEQ:
		return a == b
	case enum.IPredNE:
		return a != b
	case enum.IPredSLT:
		return sa < sb
	case enum.IPredSLE:
		return sa <= sb
	case enum.IPredSGT:
		return sa > sb
	case enum.IPredSGE:
		return sa >= sb
	case enum.IPredULT:
		return a < b
	case enum.IPredULE:
		return a <= b
	case enum.IPredUGT:
		return a > b
	case enum.IPredUGE:
		return a >= b
	}
	panic(fault("unsupported integer predicate %s", p))
}

func fcmp(p enum.FPred, a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return p == enum.FPredUNO || p == enum.FPredTrue
	}
	switch p {
	case enum.FPredOEQ:
		return a == b
	case enum.FPredONE:
		return a != b
	case enum.FPredOLT:
		return a < b
	case enum.FPredOLE:
		return a <= b
	case enum.FPredOGT:
		return a > b
	case enum.FPredOGE:
		return a >= b
	case enum.FPredORD, enum.FPredTrue:
		return true
	case enum.FPredFalse, enum.FPredUNO:
		return false
	}
	panic(fault("unsupported float predicate %s", p))
}

func (t *thread) convert(dst value.Value, from value.Value, to types.Type, f func(x uint64, from, to types.Type) uint64) {
	x := t.eval(from)
	out := make([]uint64, len(x))
	for i := range x {
		out[i] = truncBits(f(x[i], from.Type(), to), bitsOf(to))
	}
	t.set(dst, out...)
}

func (t *thread) gep(inst *ir.InstGetElementPtr) uint64 {
	addr := t.eval(inst.Src)[0]
	typ := inst.ElemType
	for i, idx := range inst.Indices {
		n := sext(t.eval(idx)[0], bitsOf(idx.Type()))
		if i > 0 {
			switch at := typ.(type) {
			case *types.ArrayType:
				typ = at.ElemType
			case *types.VectorType:
				typ = at.ElemType
			default:
				panic(fault("getelementptr into %s", typ))
			}
		}
		addr = uint64(int64(addr) + n*int64(sizeOf(typ)))
	}
	return addr
}

// aligned faults unless p honors the
// alignment claimed by an access
func (t *thread) aligned(p uint64, align ir.Align) {
	if _, off := split(p); align > 1 && !ints.IsAligned(off, int(align)) {
		panic(fault("thread %d: access at %#x is not aligned to %d bytes", t.id, p, align))
	}
}

func (t *thread) load(p uint64, n int) []byte {
	space, off := split(p)
	switch space {
	case spaceGlobal:
		b, ok := t.b.m.mem.bytes(p, n)
		if !ok {
			panic(fault("thread %d: global load of %d bytes at %#x out of bounds", t.id, n, p))
		}
		return append([]byte(nil), b...)
	case spaceShared:
		return t.b.shared.read(t.id, off, n)
	case spaceConstant:
		if off+n > len(t.b.m.cmem) {
			panic(fault("thread %d: constant load at %d out of bounds", t.id, off))
		}
		return append([]byte(nil), t.b.m.cmem[off:off+n]...)
	}
	panic(fault("thread %d: load through %#x", t.id, p))
}

func (t *thread) store(p uint64, data []byte) {
	space, off := split(p)
	switch space {
	case spaceGlobal:
		b, ok := t.b.m.mem.bytes(p, len(data))
		if !ok {
			panic(fault("thread %d: global store of %d bytes at %#x out of bounds", t.id, len(data), p))
		}
		copy(b, data)
		return
	case spaceShared:
		t.b.shared.write(t.id, off, data)
		return
	}
	panic(fault("thread %d: store through %#x", t.id, p))
}

func (t *thread) atomicRMW(inst *ir.InstAtomicRMW) {
	p := t.eval(inst.Dst)[0]
	typ := inst.X.Type()
	n := sizeOf(typ)
	old := decode(t.load(p, n), typ)[0]
	x := t.eval(inst.X)[0]
	var r uint64
	switch inst.Op {
	case enum.AtomicOpAdd:
		r = truncBits(old+x, bitsOf(typ))
	case enum.AtomicOpFAdd:
		k := floatKind(typ)
		r = encodeFloat(decodeFloat(old, k)+decodeFloat(x, k), k)
	case enum.AtomicOpXChg:
		r = x
	default:
		panic(fault("unsupported atomic operation %s", inst.Op))
	}
	t.store(p, encode([]uint64{r}, typ))
	t.set(inst, old)
}
