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
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
)

// finalizeFunction drains outstanding async
// copies before every return and checks that
// every block is terminated
func (g *Generator) finalizeFunction() {
	for _, b := range g.f.Blocks {
		if b.Term == nil {
			g.fatalf(nil, errTerminator, "block %s has no terminator", b.Name())
		}
		if _, ok := b.Term.(*ir.TermRet); ok && g.asyncCopies > 0 {
			g.blk = b
			g.call("llvm.nvvm.cp.async.wait.all", types.Void)
		}
	}
	g.blk = nil
}
