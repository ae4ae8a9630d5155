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

// Package arch models the architectural state the kernel manipulates: the
// register file, RFLAGS and segment selectors, stacks in a synthetic address
// space, and the frame layouts pushed on traps and system calls.
//
// Everything here is an explicit data structure rather than real machine
// state, so frame contents, push/pop orders and flag transformations can be
// inspected and asserted word by word.
package arch

import (
	"fmt"
	"io"
)

// Registers is the general purpose register file, plus the control state
// (RIP, RFLAGS, segment selectors) that trap frames save and restore.
type Registers struct {
	RAX uint64
	RBX uint64
	RCX uint64
	RDX uint64
	RSI uint64
	RDI uint64
	RBP uint64
	RSP uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64

	RIP    uint64
	RFLAGS uint64
	CS     uint64
	SS     uint64
}

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	fmt.Fprintf(w, "RAX = %16x RBX = %16x\n", r.RAX, r.RBX)
	fmt.Fprintf(w, "RCX = %16x RDX = %16x\n", r.RCX, r.RDX)
	fmt.Fprintf(w, "RSI = %16x RDI = %16x\n", r.RSI, r.RDI)
	fmt.Fprintf(w, "RBP = %16x RSP = %16x\n", r.RBP, r.RSP)
	fmt.Fprintf(w, "R8  = %16x R9  = %16x\n", r.R8, r.R9)
	fmt.Fprintf(w, "R10 = %16x R11 = %16x\n", r.R10, r.R11)
	fmt.Fprintf(w, "R12 = %16x R13 = %16x\n", r.R12, r.R13)
	fmt.Fprintf(w, "R14 = %16x R15 = %16x\n", r.R14, r.R15)
	fmt.Fprintf(w, "RIP = %16x RFL = %16x\n", r.RIP, r.RFLAGS)
	fmt.Fprintf(w, "CS  = %16x SS  = %16x\n", r.CS, r.SS)
}
