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

package codegen

import (
	"github.com/SnellerInc/tilegen/tir"
)

func lowerSplat(g *Generator, v *tir.Value) {
	x := g.scalar(v.Args[0])
	for _, key := range g.indices(v.ID) {
		g.set(v.ID, key, x)
	}
}

// lowerBroadcast reads every element of the
// result from the element of x at position
// zero along the expanded dims
func lowerBroadcast(g *Generator, v *tir.Value) {
	x := g.fn.Value(v.Args[0])
	if !x.Type.IsTile() {
		lowerSplat(g, v)
		return
	}
	xaxes := g.axesOf(x.ID)
	for _, key := range g.indices(v.ID) {
		var xkey idxkey
		for d := range x.Type.Shape {
			if x.Type.Shape[d] == 1 {
				xkey[d] = mkent(xaxes[d], 0)
			} else {
				xkey[d] = key[d]
			}
		}
		g.set(v.ID, key, g.get(x.ID, xkey))
	}
}

// lowerReshape pairs the index tuples of the
// operand and the result in materialization order
func lowerReshape(g *Generator, v *tir.Value) {
	x := v.Args[0]
	from, to := g.indices(x), g.indices(v.ID)
	if len(from) != len(to) {
		g.fatalf(v, errIndex, "reshape from %d lane elements to %d", len(from), len(to))
	}
	for i := range to {
		g.set(v.ID, to[i], g.get(x, from[i]))
	}
}

func lowerDowncast(g *Generator, v *tir.Value) {
	x := v.Args[0]
	keys := g.indices(x)
	if len(keys) != 1 {
		g.fatalf(v, errIndex, "downcast of %d lane elements", len(keys))
	}
	g.set(v.ID, idxkey{}, g.get(x, keys[0]))
}

func lowerTrans(g *Generator, v *tir.Value) {
	x := v.Args[0]
	if g.isShared(x) || g.isShared(v.ID) {
		g.fatalf(v, errUnsupport, "transposition of a shared tile")
	}
	for _, key := range g.indices(v.ID) {
		var xkey idxkey
		for i, p := range v.Perm {
			xkey[p] = key[i]
		}
		g.set(v.ID, key, g.get(x, xkey))
	}
}

func lowerMakeRange(g *Generator, v *tir.Value) {
	for _, key := range g.indices(v.ID) {
		g.set(v.ID, key, g.addc(g.coord(v.ID, key, 0), v.Imm))
	}
}

var gridAxes = [3]string{"x", "y", "z"}

func lowerGridQuery(g *Generator, v *tir.Value) {
	reg := "ctaid."
	if v.Op == tir.OpNumPrograms {
		reg = "nctaid."
	}
	g.set(v.ID, idxkey{}, g.sreg(reg+gridAxes[v.Axis]))
}
