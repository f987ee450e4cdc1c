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

// Package compr wraps zstd for compressing
// generated IR dumps.
package compr

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Compressor appends compressed data to a buffer.
type Compressor interface {
	// Name is the name of the compression algorithm.
	Name() string
	// Compress should append the compressed contents
	// of src to dst and return the result.
	Compress(src, dst []byte) []byte
}

// Decompressor is the inverse of Compressor.
type Decompressor interface {
	Name() string
	// Decompress appends the decompressed
	// contents of src to dst.
	Decompress(src, dst []byte) ([]byte, error)
}

type zstdCompressor struct {
	name string
	enc  *zstd.Encoder
}

func (z zstdCompressor) Compress(src, dst []byte) []byte {
	return z.enc.EncodeAll(src, dst)
}

func (z zstdCompressor) Name() string { return z.name }

var zstdDecoder *zstd.Decoder

func init() {
	z, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		panic(err)
	}
	zstdDecoder = z
}

type zstdDecompressor struct{}

func (zstdDecompressor) Name() string { return "zstd" }

func (zstdDecompressor) Decompress(src, dst []byte) ([]byte, error) {
	ret, err := zstdDecoder.DecodeAll(src, dst)
	if err != nil {
		return dst, fmt.Errorf("zstd decompress: %w", err)
	}
	return ret, nil
}

// Compression selects a compression algorithm by name.
// The returned Compressor will return the same value
// for Compressor.Name as the specified name.
// Unknown names yield nil.
func Compression(name string) Compressor {
	var level zstd.EncoderLevel
	switch name {
	case "zstd":
		level = zstd.SpeedDefault
	case "zstd-better":
		level = zstd.SpeedBetterCompression
	case "zstd-fastest":
		level = zstd.SpeedFastest
	default:
		return nil
	}
	z, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(level),
		zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil
	}
	return zstdCompressor{name: name, enc: z}
}

// Decompression returns the Decompressor for
// a compressor name, or nil if there is none.
func Decompression(name string) Decompressor {
	switch name {
	case "zstd", "zstd-better", "zstd-fastest":
		return zstdDecompressor{}
	default:
		return nil
	}
}
