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
	"github.com/llir/llvm/ir/value"

	"github.com/SnellerInc/tilegen/tir"
)

func lowerCopyToShared(g *Generator, v *tir.Value) {
	x := v.Args[0]
	if g.isShared(x) {
		g.fatalf(v, errKind, "%s is already in shared memory", g.fn.Value(x).Ref())
	}
	g.base(v.ID)
	for _, key := range g.indices(x) {
		g.blk.NewStore(g.get(x, key), g.sharedPtr(v.ID, g.coords(x, key)))
	}
}

func lowerCopyFromShared(g *Generator, v *tir.Value) {
	x := v.Args[0]
	if !g.isShared(x) {
		g.fatalf(v, errKind, "%s is not in shared memory", g.fn.Value(x).Ref())
	}
	elem := scalarType(v.Type)
	for _, key := range g.indices(v.ID) {
		g.set(v.ID, key, g.blk.NewLoad(elem, g.sharedPtr(x, g.coords(v.ID, key))))
	}
}

// lowerRecoalesce moves a tile between two
// distributed layouts through its scratch region,
// which holds the tile in row-major order
func lowerRecoalesce(g *Generator, v *tir.Value) {
	x := v.Args[0]
	if g.isShared(x) || g.isShared(v.ID) {
		g.fatalf(v, errKind, "recoalesce between distributed layouts only")
	}
	elem := scalarType(v.Type)
	r := g.scratch(v)
	eb := typeBytes(elem)
	addr := func(lin value.Value) value.Value {
		return g.sharedAddr(g.add(i32(int64(r.Offset)), g.mul(lin, eb)), elem)
	}
	for _, key := range g.indices(x) {
		g.blk.NewStore(g.get(x, key), addr(g.linear(x, key)))
	}
	g.barrier()
	for _, key := range g.indices(v.ID) {
		g.set(v.ID, key, g.blk.NewLoad(elem, addr(g.linear(v.ID, key))))
	}
	g.barrier()
}
