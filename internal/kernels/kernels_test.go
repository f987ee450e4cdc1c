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

package kernels

import (
	"testing"

	"github.com/SnellerInc/tilegen/target"
	"github.com/SnellerInc/tilegen/tir"
)

func TestCatalog(t *testing.T) {
	for _, tname := range target.Presets() {
		tgt, _ := target.Lookup(tname)
		for _, name := range Names() {
			k, err := Build(name, Config{Target: tgt})
			if err != nil {
				t.Errorf("%s/%s: %s", tname, name, err)
				continue
			}
			if k.NumWarps != tgt.NumWarps {
				t.Errorf("%s/%s: expected %d warps, got %d", tname, name, tgt.NumWarps, k.NumWarps)
			}
			for _, v := range k.Func.Values[1:] {
				if !v.Type.IsTile() {
					continue
				}
				if _, ok := k.An.Layouts[v.ID]; !ok {
					t.Errorf("%s/%s: %s has no layout", tname, name, v.Ref())
				}
			}
		}
	}
	if _, err := Build("nope", Config{Target: &target.Target{}}); err == nil {
		t.Error("expected an error for an unknown kernel")
	}
}

func TestNamedRanges(t *testing.T) {
	tgt, _ := target.Lookup("simt")
	k, err := MatMul(Config{Target: tgt, NumWarps: 1}, true)
	if err != nil {
		t.Fatal(err)
	}
	// the row and column ranges of every 2-D
	// offset tile are distinct values
	seen := make(map[string]bool)
	for _, v := range k.Func.Values[1:] {
		if v.Name == "" {
			continue
		}
		if seen[v.Name] {
			t.Errorf("name %q used twice", v.Name)
		}
		seen[v.Name] = true
	}
	for _, name := range []string{"a.i", "a.j", "b.i", "b.j", "c.i", "c.j"} {
		if !seen[name] {
			t.Errorf("no value named %q", name)
		}
	}
}

func TestPipelineShape(t *testing.T) {
	tgt, _ := target.Lookup("sm80")
	for _, wait := range []bool{false, true} {
		for iters := 1; iters <= 4; iters++ {
			k, err := Pipeline(Config{Target: tgt}, iters, wait)
			if err != nil {
				t.Fatalf("iters=%d wait=%v: %s", iters, wait, err)
			}
			f := k.Func
			for _, blk := range f.Blocks {
				last := f.Value(blk.Insts[len(blk.Insts)-1])
				if !last.Op.IsTerminator() {
					t.Errorf("block %s ends in %s", blk.Name, last.Op)
				}
			}
			// every phi value entering the loop is
			// defined before the loop
			for _, v := range f.Values[1:] {
				if v.Op != tir.OpPhi {
					continue
				}
				for i, x := range v.Args {
					if v.Preds[i] == v.Block {
						continue
					}
					if def := f.Value(x); def.Block != v.Preds[i] {
						t.Errorf("%s: incoming %s from block %d is defined in block %d", v.Ref(), def.Ref(), v.Preds[i], def.Block)
					}
				}
			}
		}
	}
}
