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

// Package gate builds and decodes the interrupt descriptor table: 256 gate
// descriptors, each carrying a handler address split across three fields, a
// code segment selector, a privilege level, and a gate type that decides
// whether interrupts stay enabled on delivery.
package gate

import "github.com/tern-os/tern/pkg/arch"

const descriptorPresent = 1 << 15

// Descriptor is a 64-bit mode gate descriptor. The 16 bytes are modeled as
// four 32-bit words; the target address is split low/mid/high across
// bits[0], bits[1] and bits[2].
type Descriptor struct {
	bits [4]uint32
}

// SetInterrupt packs an interrupt gate (type 14). Delivery through it
// clears IF, so the handler runs with interrupts masked.
func (d *Descriptor) SetInterrupt(cs arch.Selector, target uint64, dpl int, ist int) {
	d.bits[0] = uint32(cs)<<16 | uint32(target)&0xFFFF
	d.bits[1] = uint32(target)&0xFFFF0000 | descriptorPresent | uint32(dpl)<<13 | 14<<8 | uint32(ist)&0x7
	d.bits[2] = uint32(target >> 32)
	d.bits[3] = 0
}

// SetTrap packs a trap gate (type 15). Delivery leaves IF as the caller
// had it.
func (d *Descriptor) SetTrap(cs arch.Selector, target uint64, dpl int, ist int) {
	d.SetInterrupt(cs, target, dpl, ist)
	d.bits[1] |= 1 << 8
}

// Target reassembles the handler address from its three fields.
func (d *Descriptor) Target() uint64 {
	return uint64(d.bits[2])<<32 | uint64(d.bits[1]&0xFFFF0000) | uint64(d.bits[0]&0xFFFF)
}

// Selector returns the code segment selector.
func (d *Descriptor) Selector() arch.Selector {
	return arch.Selector(d.bits[0] >> 16)
}

// DPL returns the descriptor privilege level: the highest (numerically)
// ring allowed to invoke the gate with a software interrupt.
func (d *Descriptor) DPL() int {
	return int(d.bits[1]>>13) & 3
}

// Present reports whether the gate is populated. Delivery through a
// non-present gate faults.
func (d *Descriptor) Present() bool {
	return d.bits[1]&descriptorPresent != 0
}

// IsTrap reports whether the gate is a trap gate rather than an interrupt
// gate.
func (d *Descriptor) IsTrap() bool {
	return (d.bits[1]>>8)&0xF == 15
}

// IST returns the interrupt stack table index.
func (d *Descriptor) IST() int {
	return int(d.bits[1] & 0x7)
}
