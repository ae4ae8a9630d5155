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

package arch

// Selector is a segment selector. The low two bits are the requested
// privilege level.
type Selector uint16

// Segment indices.
const (
	_        = iota // Null descriptor first.
	segKcode        // Kernel code (64-bit).
	segKdata        // Kernel data.
	segUcode        // User code (64-bit).
	segUdata        // User data.
)

// Selectors.
const (
	Kcode Selector = segKcode << 3
	Kdata Selector = segKdata << 3
	Ucode Selector = (segUcode << 3) | 3
	Udata Selector = (segUdata << 3) | 3
)

// RPL returns the requested privilege level encoded in the selector.
func (s Selector) RPL() int {
	return int(s & 3)
}

// RFLAGS bits.
const (
	_RFLAGS_AC       = 1 << 18
	_RFLAGS_NT       = 1 << 14
	_RFLAGS_IOPL     = 3 << 12
	_RFLAGS_DF       = 1 << 10
	FlagIF           = 1 << 9
	_RFLAGS_STEP     = 1 << 8
	_RFLAGS_RESERVED = 1 << 1
)

const (
	// KernelFlags is the initial RFLAGS of a fresh thread: the reserved
	// bit, which the hardware keeps set, plus IF, so a thread starts with
	// interrupts enabled.
	KernelFlags = _RFLAGS_RESERVED | FlagIF

	// UserFlagsSet are always set in userspace.
	UserFlagsSet = _RFLAGS_RESERVED | FlagIF

	// UserFlagsClear are always cleared in userspace.
	UserFlagsClear = _RFLAGS_NT | _RFLAGS_IOPL
)

// SanitizeUserFlags rewrites an RFLAGS image for a return to ring 3. User
// code never runs with interrupts disabled or with system bits set,
// regardless of what a handler left in the saved flags.
func SanitizeUserFlags(rflags uint64) uint64 {
	rflags &^= uint64(UserFlagsClear)
	rflags |= uint64(UserFlagsSet)
	return rflags
}
