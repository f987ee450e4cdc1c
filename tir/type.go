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
	"strconv"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/SnellerInc/tilegen/ints"
)

// Kind is a scalar element kind.
type Kind uint8

const (
	KindInvalid Kind = iota
	Void
	I1
	I8
	I16
	I32
	I64
	F16
	F32
	F64
	Ptr
)

var kindNames = [...]string{
	KindInvalid: "invalid",
	Void:        "void",
	I1:          "i1",
	I8:          "i8",
	I16:         "i16",
	I32:         "i32",
	I64:         "i64",
	F16:         "f16",
	F32:         "f32",
	F64:         "f64",
	Ptr:         "ptr",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Bits returns the width of k in bits.
// Pointers are 64 bits wide.
func (k Kind) Bits() int {
	switch k {
	case I1:
		return 1
	case I8:
		return 8
	case I16, F16:
		return 16
	case I32, F32:
		return 32
	case I64, F64, Ptr:
		return 64
	default:
		return 0
	}
}

// Bytes returns the in-memory size of k.
func (k Kind) Bytes() int {
	if k == I1 {
		return 1
	}
	return k.Bits() / 8
}

// IsInt returns whether k is an integer kind.
func (k Kind) IsInt() bool { return k >= I1 && k <= I64 }

// IsFloat returns whether k is a floating-point kind.
func (k Kind) IsFloat() bool { return k >= F16 && k <= F64 }

// Type is the type of a tile-IR value:
// a scalar when Shape is empty, otherwise
// a tile of Shape elements of kind Elem.
type Type struct {
	Elem Kind
	// Pointee is the element kind addressed
	// when Elem is Ptr.
	Pointee Kind
	Shape   []int
}

// Scalar returns the scalar type of kind k.
func Scalar(k Kind) Type { return Type{Elem: k} }

// PtrTo returns a scalar pointer to k.
func PtrTo(k Kind) Type { return Type{Elem: Ptr, Pointee: k} }

// Tile returns a tile of kind k.
func Tile(k Kind, shape ...int) Type {
	return Type{Elem: k, Shape: slices.Clone(shape)}
}

// WithShape returns t with a replaced shape.
func (t Type) WithShape(shape ...int) Type {
	t.Shape = slices.Clone(shape)
	return t
}

// Scalar returns the element type of t.
func (t Type) Scalar() Type {
	t.Shape = nil
	return t
}

// Deref returns the type loaded through
// the pointer (tile) type t.
func (t Type) Deref() Type {
	return Type{Elem: t.Pointee, Shape: slices.Clone(t.Shape)}
}

// Rank returns the number of dimensions of t.
func (t Type) Rank() int { return len(t.Shape) }

// IsTile returns whether t has a shape.
func (t Type) IsTile() bool { return len(t.Shape) > 0 }

// NumElems returns the number of elements in t.
func (t Type) NumElems() int { return ints.Product(t.Shape) }

// Equal returns whether t and o are the same type.
func (t Type) Equal(o Type) bool {
	return t.Elem == o.Elem && t.Pointee == o.Pointee && slices.Equal(t.Shape, o.Shape)
}

func (t Type) String() string {
	var sb strings.Builder
	sb.WriteString(t.Elem.String())
	if t.Elem == Ptr {
		fmt.Fprintf(&sb, "<%s>", t.Pointee)
	}
	if len(t.Shape) > 0 {
		sb.WriteByte('[')
		for i, d := range t.Shape {
			if i > 0 {
				sb.WriteByte('x')
			}
			sb.WriteString(strconv.Itoa(d))
		}
		sb.WriteByte(']')
	}
	return sb.String()
}
