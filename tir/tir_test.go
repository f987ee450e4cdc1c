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
	"strings"
	"testing"
)

func vecadd() *Function {
	f := NewFunction("vecadd")
	x := f.Arg("x", PtrTo(F32))
	y := f.Arg("y", PtrTo(F32))
	pid := f.ProgramID(0)
	base := f.Binary(Mul, pid, f.ConstInt(I32, 128))
	off := f.Binary(Add, f.Splat(base, 128), f.MakeRange(0, 128))
	px := f.GEP(f.Splat(x, 128), off)
	py := f.GEP(f.Splat(y, 128), off)
	sum := f.Binary(FAdd, f.Load(px), f.Load(py))
	f.Store(px, sum)
	f.Ret()
	return f
}

func TestVerifyValid(t *testing.T) {
	f := vecadd()
	if err := Verify(f); err != nil {
		t.Fatal(err)
	}
}

func TestHashCons(t *testing.T) {
	f := NewFunction("hc")
	a := f.ConstInt(I32, 4)
	b := f.ConstInt(I32, 4)
	if a != b {
		t.Errorf("expected identical constants to be shared, got %d and %d", a, b)
	}
	if c := f.ConstInt(I64, 4); c == a {
		t.Error("constants of different kinds were shared")
	}
	s0 := f.Binary(Add, a, a)
	s1 := f.Binary(Add, a, a)
	if s0 != s1 {
		t.Error("expected pure binary op to be shared")
	}
	// loads are never shared
	p := f.Arg("p", PtrTo(I32))
	if f.Load(p) == f.Load(p) {
		t.Error("loads must not be hash-consed")
	}
	// a new block gets its own copy
	next := f.NewBlock("next")
	f.Br(next)
	f.SetBlock(next)
	if d := f.ConstInt(I32, 4); d == a {
		t.Error("expression shared across blocks")
	}
	// named values are distinct from unnamed ones
	r := f.MakeRange(0, 16)
	rn := f.Named("rows").MakeRange(0, 16)
	if rn == r {
		t.Error("named range merged with an unnamed one")
	}
	if got := f.Named("rows").MakeRange(0, 16); got != rn {
		t.Error("expected ranges with the same name to be shared")
	}
	if f.MakeRange(0, 16) != r {
		t.Error("a name leaked into the next value")
	}
	if f.Value(rn).Ref() != "%rows" {
		t.Errorf("expected %%rows, got %s", f.Value(rn).Ref())
	}
}

func TestVerifyErrors(t *testing.T) {
	testcases := []struct {
		name  string
		build func(f *Function)
		err   string
	}{
		{
			name: "no terminator",
			build: func(f *Function) {
				f.ConstInt(I32, 1)
			},
			err: "does not end with a terminator",
		},
		{
			name: "mismatched binary",
			build: func(f *Function) {
				f.Binary(Add, f.ConstInt(I32, 1), f.ConstInt(I64, 1))
				f.Ret()
			},
			err: "differ",
		},
		{
			name: "float op on ints",
			build: func(f *Function) {
				f.Binary(FAdd, f.ConstInt(I32, 1), f.ConstInt(I32, 2))
				f.Ret()
			},
			err: "fadd",
		},
		{
			name: "dot shapes",
			build: func(f *Function) {
				a := f.Undef(Tile(F16, 16, 16))
				b := f.Undef(Tile(F16, 8, 16))
				c := f.Undef(Tile(F32, 16, 16))
				f.Dot(a, b, c)
				f.Ret()
			},
			err: "do not agree",
		},
		{
			name: "phi without incoming",
			build: func(f *Function) {
				b := f.NewBlock("b")
				f.Br(b)
				f.SetBlock(b)
				f.Phi(Scalar(I32))
				f.Ret()
			},
			err: "no incoming value",
		},
		{
			name: "bad reduce axis",
			build: func(f *Function) {
				x := f.Undef(Tile(F32, 16))
				f.Reduce(RedFAdd, x, 1, f.ConstFloat(F32, 0))
				f.Ret()
			},
			err: "axis 1 out of range",
		},
		{
			name: "non power of two tile",
			build: func(f *Function) {
				f.Undef(Tile(F32, 12))
				f.Ret()
			},
			err: "not a power of two",
		},
		{
			name: "masked load fill type",
			build: func(f *Function) {
				p := f.Undef(Tile(Ptr, 16))
				f.Values[p].Type.Pointee = F32
				m := f.Undef(Tile(I1, 16))
				f.MaskedLoad(p, m, f.Undef(Tile(F16, 16)))
				f.Ret()
			},
			err: "fill value",
		},
		{
			name: "bad permutation",
			build: func(f *Function) {
				x := f.Undef(Tile(F32, 4, 8))
				f.Trans(x, 0, 0)
				f.Ret()
			},
			err: "invalid permutation",
		},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			f := NewFunction(tc.name)
			tc.build(f)
			err := Verify(f)
			if err == nil {
				t.Fatalf("expected an error containing %q", tc.err)
			}
			if !strings.Contains(err.Error(), tc.err) {
				t.Errorf("expected error containing %q, got %q", tc.err, err)
			}
		})
	}
}

func TestDiamondPhi(t *testing.T) {
	f := NewFunction("diamond")
	c := f.Arg("c", Scalar(I1))
	yes, no, join := f.NewBlock("yes"), f.NewBlock("no"), f.NewBlock("join")
	f.CondBr(c, yes, no)
	f.SetBlock(yes)
	one := f.ConstInt(I32, 1)
	f.Br(join)
	f.SetBlock(no)
	two := f.ConstInt(I32, 2)
	f.Br(join)
	f.SetBlock(join)
	phi := f.Phi(Scalar(I32))
	f.AddIncoming(phi, one, yes)
	f.AddIncoming(phi, two, no)
	f.Ret()
	if err := Verify(f); err != nil {
		t.Fatal(err)
	}
	preds := f.Preds()
	if len(preds[join]) != 2 {
		t.Errorf("expected 2 predecessors of join, got %v", preds[join])
	}
	text := f.String()
	for _, want := range []string{"cond_br %c, label yes, label no", "phi i32 [%", "join:"} {
		if !strings.Contains(text, want) {
			t.Errorf("dump missing %q:\n%s", want, text)
		}
	}
}

func TestReduceType(t *testing.T) {
	f := NewFunction("red")
	x := f.Undef(Tile(F32, 8, 32))
	zero := f.ConstFloat(F32, 0)
	r0 := f.Reduce(RedFAdd, x, 0, zero)
	r1 := f.Reduce(RedFAdd, x, 1, zero)
	if got := f.Value(r0).Type.String(); got != "f32[32]" {
		t.Errorf("expected f32[32], got %s", got)
	}
	if got := f.Value(r1).Type.String(); got != "f32[8]" {
		t.Errorf("expected f32[8], got %s", got)
	}
	y := f.Undef(Tile(I32, 16))
	r := f.Reduce(RedAdd, y, 0, f.ConstInt(I32, 0))
	if f.Value(r).Type.IsTile() {
		t.Error("full reduction should yield a scalar")
	}
}

func TestGraphviz(t *testing.T) {
	var sb strings.Builder
	vecadd().Graphviz(&sb)
	out := sb.String()
	if !strings.HasPrefix(out, "digraph \"vecadd\" {") || !strings.Contains(out, "->") {
		t.Errorf("unexpected graphviz output:\n%s", out)
	}
}
