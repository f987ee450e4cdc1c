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


// Package f16 converts between IEEE 754 binary16
// bit patterns and float32.
package f16

import "github.com/x448/float16"

// FromFloat32 rounds f to the nearest binary16 value
// (ties to even) and returns its bit pattern.
func FromFloat32(f float32) uint16 {
	return float16.Fromfloat32(f).Bits()
}

// ToFloat32 widens the binary16 bit pattern h to float32 exactly.
func ToFloat32(h uint16) float32 {
	return float16.Frombits(h).Float32()
}

// Round returns f rounded to the nearest binary16 value.
func Round(f float32) float32 {
	return ToFloat32(FromFloat32(f))
}
