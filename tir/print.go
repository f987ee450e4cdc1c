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
	"io"
	"strconv"
	"strings"
)

// Ref returns the short name of v as an operand.
func (v *Value) Ref() string {
	if v.Name != "" {
		return "%" + v.Name
	}
	return "%" + strconv.Itoa(int(v.ID))
}

func (f *Function) ref(id ValueID) string {
	if id <= 0 || int(id) >= len(f.Values) {
		return "%?" + strconv.Itoa(int(id))
	}
	return f.Values[id].Ref()
}

func (f *Function) blockName(id BlockID) string {
	if id < 0 || int(id) >= len(f.Blocks) {
		return "?" + strconv.Itoa(int(id))
	}
	return f.Blocks[id].Name
}

// Format returns the textual form of the
// instruction that defines v.
func (f *Function) Format(v *Value) string {
	var sb strings.Builder
	if v.Type.Elem != Void {
		fmt.Fprintf(&sb, "%s = ", v.Ref())
	}
	sb.WriteString(v.Op.String())
	switch v.Op {
	case OpBinary:
		fmt.Fprintf(&sb, ".%s", v.BinOp())
	case OpICmp, OpFCmp:
		fmt.Fprintf(&sb, ".%s", v.Pred())
	case OpCast:
		fmt.Fprintf(&sb, ".%s", v.CastKind())
	case OpReduce:
		fmt.Fprintf(&sb, ".%s", v.ReduceOp())
	}
	if v.Type.Elem != Void {
		fmt.Fprintf(&sb, " %s", v.Type)
	}
	if v.Op == OpPhi {
		for i := range v.Args {
			if i > 0 {
				sb.WriteByte(',')
			}
			fmt.Fprintf(&sb, " [%s, %s]", f.ref(v.Args[i]), f.blockName(v.Preds[i]))
		}
		return sb.String()
	}
	for i, a := range v.Args {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteByte(' ')
		sb.WriteString(f.ref(a))
	}
	switch v.Op {
	case OpConstInt, OpArgument, OpAsyncWait:
		fmt.Fprintf(&sb, " %d", v.Imm)
	case OpConstFloat:
		fmt.Fprintf(&sb, " %g", v.Float)
	case OpMakeRange:
		fmt.Fprintf(&sb, " %d, %d", v.Imm, v.Imm+int64(v.Type.NumElems()))
	case OpReduce, OpProgramID, OpNumPrograms:
		fmt.Fprintf(&sb, " axis=%d", v.Axis)
	case OpTrans:
		fmt.Fprintf(&sb, " %v", v.Perm)
	case OpAllocConst:
		fmt.Fprintf(&sb, " @%s[%d]", v.Name, v.Imm)
	}
	for i, t := range v.Targets {
		if i > 0 || len(v.Args) > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, " label %s", f.blockName(t))
	}
	return sb.String()
}

// WriteTo writes a textual dump of f to w.
func (f *Function) WriteTo(w io.Writer) (int64, error) {
	var nn int64
	n, err := fmt.Fprintf(w, "func %s(", f.Name)
	nn += int64(n)
	if err != nil {
		return nn, err
	}
	for i, p := range f.Params {
		if i > 0 {
			n, _ = io.WriteString(w, ", ")
			nn += int64(n)
		}
		v := f.Values[p]
		n, _ = fmt.Fprintf(w, "%s %s", v.Ref(), v.Type)
		nn += int64(n)
	}
	n, _ = io.WriteString(w, ") {\n")
	nn += int64(n)
	for _, blk := range f.Blocks {
		n, _ = fmt.Fprintf(w, "%s:\n", blk.Name)
		nn += int64(n)
		for _, id := range blk.Insts {
			v := f.Values[id]
			if v.Op == OpArgument {
				continue
			}
			n, _ = fmt.Fprintf(w, "\t%s\n", f.Format(v))
			nn += int64(n)
		}
	}
	n, err = io.WriteString(w, "}\n")
	nn += int64(n)
	return nn, err
}

func (f *Function) String() string {
	var sb strings.Builder
	f.WriteTo(&sb)
	return sb.String()
}

// Graphviz writes out the data dependencies of f
// in a format that the dot(1) tool can render.
func (f *Function) Graphviz(w io.Writer) {
	fmt.Fprintf(w, "digraph %q {\n", f.Name)
	for _, v := range f.Values[1:] {
		fmt.Fprintf(w, "\t%q [label=%q];\n", v.Ref(), f.Format(v))
		for _, a := range v.Args {
			fmt.Fprintf(w, "\t%q -> %q;\n", f.ref(a), v.Ref())
		}
	}
	io.WriteString(w, "}\n")
}
