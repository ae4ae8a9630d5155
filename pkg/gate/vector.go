// Copyright 2025 The Tern Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gate

import (
	"fmt"
	"sort"
)

// Vector is an interrupt vector number.
type Vector uint8

// NumVectors is the size of the descriptor table.
const NumVectors = 256

// Exception vectors.
const (
	DivideByZero Vector = iota
	Debug
	NMI
	Breakpoint
	Overflow
	BoundRangeExceeded
	InvalidOpcode
	DeviceNotAvailable
	DoubleFault
	CoprocessorSegmentOverrun
	InvalidTSS
	SegmentNotPresent
	StackSegmentFault
	GeneralProtectionFault
	PageFault
	_
	X87FloatingPointException
	AlignmentCheck
	MachineCheck
	SIMDFloatingPointException
	VirtualizationException
)

// Hardware interrupt vectors, PC/AT layout.
const (
	Timer    Vector = 0x20
	Keyboard Vector = 0x21
	Spurious Vector = 0x27
)

// Syscall is the system call vector: the only gate user code is meant to
// invoke directly.
const Syscall Vector = 0x86

var vectorNames = map[Vector]string{
	DivideByZero:              "DivideByZero",
	Debug:                     "Debug",
	NMI:                       "NMI",
	Breakpoint:                "Breakpoint",
	Overflow:                  "Overflow",
	BoundRangeExceeded:        "BoundRangeExceeded",
	InvalidOpcode:             "InvalidOpcode",
	DeviceNotAvailable:        "DeviceNotAvailable",
	DoubleFault:               "DoubleFault",
	CoprocessorSegmentOverrun: "CoprocessorSegmentOverrun",
	InvalidTSS:                "InvalidTSS",
	SegmentNotPresent:         "SegmentNotPresent",
	StackSegmentFault:         "StackSegmentFault",
	GeneralProtectionFault:    "GeneralProtectionFault",
	PageFault:                 "PageFault",
	X87FloatingPointException: "X87FloatingPointException",
	AlignmentCheck:            "AlignmentCheck",
	MachineCheck:              "MachineCheck",
	SIMDFloatingPointException: "SIMDFloatingPointException",
	VirtualizationException:    "VirtualizationException",
	Timer:                      "Timer",
	Keyboard:                   "Keyboard",
	Spurious:                   "Spurious",
	Syscall:                    "Syscall",
}

// String implements fmt.Stringer.
func (v Vector) String() string {
	if name, ok := vectorNames[v]; ok {
		return name
	}
	return fmt.Sprintf("vector(%d)", uint8(v))
}

// Catalog returns the named vectors in ascending order. This is the set a
// kernel installs handlers for.
func Catalog() []Vector {
	vs := make([]Vector, 0, len(vectorNames))
	for v := range vectorNames {
		vs = append(vs, v)
	}
	sort.Slice(vs, func(i, j int) bool { return vs[i] < vs[j] })
	return vs
}
