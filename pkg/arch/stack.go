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

import (
	"fmt"
	"sync"
)

// StackFault describes an access outside a stack's bounds, or through a
// misaligned address. It is thrown as a panic value: a faulting access has
// no way to return an error to the code that performed it.
type StackFault struct {
	Op   string
	Addr uint64
}

// Error implements error.Error.
func (f *StackFault) Error() string {
	return fmt.Sprintf("stack fault: %s at %#x", f.Op, f.Addr)
}

// Stack is a downward-growing stack of 64-bit words occupying a fixed region
// of the synthetic address space. SP starts at Top and moves toward Base as
// words are pushed.
type Stack struct {
	words []uint64
	base  uint64
	sp    uint64
}

// Base returns the lowest address of the stack region.
func (s *Stack) Base() uint64 {
	return s.base
}

// Top returns the address one past the highest word. A fresh or fully
// drained stack has SP == Top; Top is a valid stack pointer but not a valid
// word address.
func (s *Stack) Top() uint64 {
	return s.base + 8*uint64(len(s.words))
}

// SP returns the current stack pointer.
func (s *Stack) SP() uint64 {
	return s.sp
}

// SetSP repositions the stack pointer. The new value must be word-aligned
// and within the region.
func (s *Stack) SetSP(addr uint64) {
	if addr < s.base || addr > s.Top() || addr%8 != 0 {
		panic(&StackFault{Op: "set sp", Addr: addr})
	}
	s.sp = addr
}

// Push writes w at SP-8 and moves SP there. A full stack faults before
// anything is mutated.
func (s *Stack) Push(w uint64) {
	if s.sp == s.base {
		panic(&StackFault{Op: "push", Addr: s.sp - 8})
	}
	s.sp -= 8
	s.words[(s.sp-s.base)/8] = w
}

// Pop reads the word at SP and moves SP up. An empty stack faults.
func (s *Stack) Pop() uint64 {
	if s.sp == s.Top() {
		panic(&StackFault{Op: "pop", Addr: s.sp})
	}
	w := s.words[(s.sp-s.base)/8]
	s.sp += 8
	return w
}

// Load reads the word at addr.
func (s *Stack) Load(addr uint64) uint64 {
	if addr < s.base || addr >= s.Top() || addr%8 != 0 {
		panic(&StackFault{Op: "load", Addr: addr})
	}
	return s.words[(addr-s.base)/8]
}

// Store writes the word at addr.
func (s *Stack) Store(addr uint64, w uint64) {
	if addr < s.base || addr >= s.Top() || addr%8 != 0 {
		panic(&StackFault{Op: "store", Addr: addr})
	}
	s.words[(addr-s.base)/8] = w
}

// Depth returns the number of words currently on the stack.
func (s *Stack) Depth() int {
	return int((s.Top() - s.sp) / 8)
}

// Remaining returns the number of words that can still be pushed.
func (s *Stack) Remaining() int {
	return int((s.sp - s.base) / 8)
}

// Contains reports whether addr is a plausible stack pointer for this stack,
// Top included.
func (s *Stack) Contains(addr uint64) bool {
	return addr >= s.base && addr <= s.Top()
}

const (
	// arenaBase is where stack and heap regions are minted from. Text
	// tokens live far above this range, so a stack address and a code
	// address can never be confused.
	arenaBase = 0x00007f0000000000

	// guardGap separates consecutive regions so an overflowing access
	// lands in unmapped space instead of a neighbor.
	guardGap = 0x1000
)

// AddressSpace hands out non-overlapping regions of the synthetic address
// space and resolves addresses back to the stack that owns them.
type AddressSpace struct {
	mu     sync.Mutex
	next   uint64
	stacks []*Stack
}

// NewAddressSpace returns an empty address space.
func NewAddressSpace() *AddressSpace {
	return &AddressSpace{next: arenaBase}
}

// NewStack allocates a stack of the given word capacity in a fresh region.
func (as *AddressSpace) NewStack(words int) *Stack {
	if words <= 0 {
		panic(fmt.Sprintf("invalid stack size %d", words))
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	s := &Stack{
		words: make([]uint64, words),
		base:  as.next,
	}
	s.sp = s.Top()
	as.next += 8*uint64(words) + guardGap
	as.stacks = append(as.stacks, s)
	return s
}

// Reserve allocates an address range with no backing store, for regions
// whose contents the model never reads back (heaps).
func (as *AddressSpace) Reserve(size uint64) uint64 {
	as.mu.Lock()
	defer as.mu.Unlock()
	addr := as.next
	as.next += (size+7)&^7 + guardGap
	return addr
}

// Resolve finds the stack owning addr, if any. Top addresses resolve to
// their stack so that a published stack top can be mapped back.
func (as *AddressSpace) Resolve(addr uint64) (*Stack, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	for _, s := range as.stacks {
		if s.Contains(addr) {
			return s, true
		}
	}
	return nil, false
}
