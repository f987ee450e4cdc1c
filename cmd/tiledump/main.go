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

// Command tiledump lowers a kernel from the
// built-in catalog and writes the generated
// LLVM IR.
//
// Usage:
//
//	tiledump [-target name|file.yaml] [-warps n] [-tir] [-dot] [-z zstd] [-o out] kernel
//	tiledump -d dump.ll.zst
//	tiledump -list
package main

import (
	"bytes"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/llir/llvm/ir"

	"github.com/SnellerInc/tilegen/codegen"
	"github.com/SnellerInc/tilegen/compr"
	"github.com/SnellerInc/tilegen/internal/kernels"
	"github.com/SnellerInc/tilegen/target"
)

var (
	dashtarget string
	dashwarps  int
	dashtir    bool
	dashdot    bool
	dashz      string
	dashd      bool
	dashlist   bool
	dashmeta   bool
	dasho      string
)

func init() {
	flag.StringVar(&dashtarget, "target", "sm80", "target preset or YAML target description")
	flag.IntVar(&dashwarps, "warps", 0, "warps per block (default: the target's)")
	flag.BoolVar(&dashtir, "tir", false, "print the tile IR before the LLVM IR")
	flag.BoolVar(&dashdot, "dot", false, "print the tile IR as a graphviz digraph instead of lowering it")
	flag.StringVar(&dashz, "z", "", "compress the output (zstd, zstd-better or zstd-fastest)")
	flag.BoolVar(&dashd, "d", false, "decompress a zstd dump to stdout")
	flag.BoolVar(&dashlist, "list", false, "list the catalog kernels and targets")
	flag.BoolVar(&dashmeta, "meta", false, "print the kernel metadata to stderr")
	flag.StringVar(&dasho, "o", "", "output file (default: stdout)")
}

func exitf(f string, args ...any) {
	fmt.Fprintf(os.Stderr, f+"\n", args...)
	os.Exit(1)
}

func main() {
	flag.Parse()
	log.SetFlags(0)
	log.SetPrefix("tiledump: ")
	codegen.Errorf = log.Printf

	switch {
	case dashlist:
		list()
		return
	case dashd:
		for _, arg := range flag.Args() {
			if err := decompress(arg, os.Stdout); err != nil {
				exitf("%s: %s", arg, err)
			}
		}
		return
	}
	if flag.NArg() != 1 {
		exitf("usage: tiledump [flags] kernel")
	}
	tgt, err := target.Load(dashtarget)
	if err != nil {
		exitf("%s", err)
	}
	k, err := kernels.Build(flag.Arg(0), kernels.Config{Target: tgt, NumWarps: dashwarps})
	if err != nil {
		exitf("%s", err)
	}

	var comp compr.Compressor
	if dashz != "" {
		comp = compr.Compression(dashz)
		if comp == nil {
			exitf("unknown compression %q", dashz)
		}
	}
	var dst io.Writer = os.Stdout
	if dasho != "" {
		f, err := os.Create(dasho)
		if err != nil {
			exitf("%s", err)
		}
		defer f.Close()
		dst = f
	}
	var out bytes.Buffer

	if dashdot {
		k.Func.Graphviz(&out)
	} else {
		if dashtir {
			k.Func.WriteTo(&out)
			fmt.Fprintln(&out)
		}
		g, err := codegen.New(tgt, codegen.Options{NumWarps: k.NumWarps})
		if err != nil {
			exitf("%s", err)
		}
		mod := ir.NewModule()
		lk, err := g.Lower(mod, k.Func, k.An)
		if err != nil {
			// already logged through codegen.Errorf
			os.Exit(1)
		}
		if dashmeta {
			fmt.Fprintf(os.Stderr, "pass %s: %d warps, %d shared bytes, fingerprint %s\n",
				lk.Meta.PassID, lk.Meta.NumWarps, lk.Meta.SharedBytes, hex.EncodeToString(lk.Meta.Fingerprint[:]))
		}
		out.WriteString(mod.String())
	}
	buf := out.Bytes()
	if comp != nil {
		buf = comp.Compress(buf, nil)
	}
	if _, err := dst.Write(buf); err != nil {
		exitf("%s", err)
	}
}

func list() {
	fmt.Println("kernels:")
	for _, name := range kernels.Names() {
		fmt.Printf("\t%s\n", name)
	}
	fmt.Println("targets:")
	for _, name := range target.Presets() {
		t, _ := target.Lookup(name)
		fmt.Printf("\t%s\t%s, %d warps\n", name, t.TensorCore, t.NumWarps)
	}
}

func decompress(path string, w io.Writer) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dec := compr.Decompression("zstd")
	out, err := dec.Decompress(buf, nil)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}
