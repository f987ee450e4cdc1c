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

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/SnellerInc/tilegen/internal/f16"
)

// F32 returns the argument word of a float32.
func F32(x float32) uint64 { return uint64(math.Float32bits(x)) }

// I32 returns the argument word of an int32.
func I32(x int32) uint64 { return uint64(uint32(x)) }

// sizeOf returns the store size of t in bytes
func sizeOf(t types.Type) int {
	switch t := t.(type) {
	case *types.IntType:
		return max(int(t.BitSize+7)/8, 1)
	case *types.FloatType:
		switch t.Kind {
		case types.FloatKindHalf:
			return 2
		case types.FloatKindFloat:
			return 4
		case types.FloatKindDouble:
			return 8
		}
	case *types.PointerType:
		return 8
	case *types.VectorType:
		return int(t.Len) * sizeOf(t.ElemType)
	case *types.ArrayType:
		return int(t.Len) * sizeOf(t.ElemType)
	}
	panic(fault("no size for type %s", t))
}

// lanes returns the number of words of a
// register of type t
func lanes(t types.Type) int {
	switch t := t.(type) {
	case *types.VectorType:
		return int(t.Len)
	case *types.StructType:
		return len(t.Fields)
	}
	return 1
}

// scalarOf returns the element type of a vector
func scalarOf(t types.Type) types.Type {
	if vt, ok := t.(*types.VectorType); ok {
		return vt.ElemType
	}
	return t
}

func bitsOf(t types.Type) uint64 {
	switch t := scalarOf(t).(type) {
	case *types.IntType:
		return t.BitSize
	case *types.PointerType:
		return 64
	}
	return 64
}

func truncBits(x, bits uint64) uint64 {
	if bits >= 64 {
		return x
	}
	return x & (1<<bits - 1)
}

func sext(x, bits uint64) int64 {
	if bits >= 64 {
		return int64(x)
	}
	shift := 64 - bits
	return int64(x<<shift) >> shift
}

func floatKind(t types.Type) types.FloatKind {
	ft, ok := scalarOf(t).(*types.FloatType)
	if !ok {
		panic(fault("%s is not a float type", t))
	}
	return ft.Kind
}

func decodeFloat(x uint64, k types.FloatKind) float64 {
	switch k {
	case types.FloatKindHalf:
		return float64(f16.ToFloat32(uint16(x)))
	case types.FloatKindFloat:
		return float64(math.Float32frombits(uint32(x)))
	}
	return math.Float64frombits(x)
}

func encodeFloat(f float64, k types.FloatKind) uint64 {
	switch k {
	case types.FloatKindHalf:
		return uint64(f16.FromFloat32(float32(f)))
	case types.FloatKindFloat:
		return uint64(math.Float32bits(float32(f)))
	}
	return math.Float64bits(f)
}

// decode splits the little-endian bytes of a
// value of type t into register words
func decode(buf []byte, t types.Type) []uint64 {
	n := lanes(t)
	es := sizeOf(scalarOf(t))
	out := make([]uint64, n)
	for i := range out {
		var x uint64
		for j := es - 1; j >= 0; j-- {
			x = x<<8 | uint64(buf[i*es+j])
		}
		out[i] = x
	}
	return out
}

func encode(words []uint64, t types.Type) []byte {
	es := sizeOf(scalarOf(t))
	out := make([]byte, len(words)*es)
	for i, x := range words {
		for j := 0; j < es; j++ {
			out[i*es+j] = byte(x >> (8 * j))
		}
	}
	return out
}

func blockOf(v value.Value) *ir.Block {
	b, ok := v.(*ir.Block)
	if !ok {
		panic(fault("%v is not a block", v))
	}
	return b
}

// execError aborts a launch
type execError struct {
	err error
}

func fault(f string, args ...any) *execError {
	return &execError{err: fmt.Errorf("simt: "+f, args...)}
}
