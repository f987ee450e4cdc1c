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

package compr

import (
	"bytes"
	"testing"
)

func TestZstd(t *testing.T) {
	for _, name := range []string{"zstd", "zstd-better", "zstd-fastest"} {
		comp := Compression(name)
		if comp == nil {
			t.Fatalf("no compressor for %s", name)
		}
		if n := comp.Name(); n != name {
			t.Fatalf("bad compressor name %q", n)
		}
		dec := Decompression(name)
		if dec == nil {
			t.Fatalf("no decompressor for %s", name)
		}
		ctl := bytes.Repeat([]byte("define void @kernel()\n"), 500)
		cmp := comp.Compress(ctl, nil)
		if len(cmp) >= len(ctl) {
			t.Errorf("%s: compressed %d bytes to %d", name, len(ctl), len(cmp))
		}
		out, err := dec.Decompress(cmp, nil)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(out, ctl) {
			t.Errorf("%s: mismatch", name)
		}
	}
	if Compression("s2") != nil {
		t.Error("expected nil compressor for s2")
	}
}
