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

package thread

import "github.com/tern-os/tern/pkg/arch"

// Switch frame layout. A thread that is off the CPU has exactly this on top
// of its kernel stack, saved SP pointing at the RBP slot:
//
//	return token         <- pushed by the call into Switch
//	RFLAGS               <- pushf, captured before interrupts are masked
//	R8 .. R15
//	RAX RBX RCX RDX
//	RSI RDI
//	RBP                  <- saved SP
//
// The first frame a new thread gets is the same thing built by hand, with a
// dummy word above it and the kickoff token in the return slot, so switching
// into a brand-new thread is the same pop sequence as resuming an old one.
const (
	// SwitchFrameWords is the size of one switch frame.
	SwitchFrameWords = 17

	// FirstFrameWords is the synthetic creation frame: a switch frame
	// under the dummy return word.
	FirstFrameWords = SwitchFrameWords + 1

	// dummyReturn fills the return slot above the kickoff token. Normal
	// control flow never pops it: a stack pointer at this word means the
	// kickoff returned, and the thread is torn down.
	dummyReturn = 0x00DEAD00
)

// pushSwitchFrame spills a switch frame for r onto s, token in the return
// slot. The RFLAGS image in r must be the pre-cli value, so the resume
// reinstates the interrupt-enable state the thread actually had.
func pushSwitchFrame(s *arch.Stack, r *arch.Registers, token uint64) {
	s.Push(token)
	s.Push(r.RFLAGS)
	s.Push(r.R8)
	s.Push(r.R9)
	s.Push(r.R10)
	s.Push(r.R11)
	s.Push(r.R12)
	s.Push(r.R13)
	s.Push(r.R14)
	s.Push(r.R15)
	s.Push(r.RAX)
	s.Push(r.RBX)
	s.Push(r.RCX)
	s.Push(r.RDX)
	s.Push(r.RSI)
	s.Push(r.RDI)
	s.Push(r.RBP)
}

// popSwitchFrame mirrors pushSwitchFrame and returns the return-slot token.
// Assigning the popped RFLAGS is the popf: it reinstates IF, so this must
// run only after the incoming thread's kernel stack top is published.
func popSwitchFrame(s *arch.Stack, r *arch.Registers) uint64 {
	r.RBP = s.Pop()
	r.RDI = s.Pop()
	r.RSI = s.Pop()
	r.RDX = s.Pop()
	r.RCX = s.Pop()
	r.RBX = s.Pop()
	r.RAX = s.Pop()
	r.R15 = s.Pop()
	r.R14 = s.Pop()
	r.R13 = s.Pop()
	r.R12 = s.Pop()
	r.R11 = s.Pop()
	r.R10 = s.Pop()
	r.R9 = s.Pop()
	r.R8 = s.Pop()
	r.RFLAGS = s.Pop()
	return s.Pop()
}

// buildFirstFrame writes the synthetic creation frame onto a fresh kernel
// stack: zeroed registers, RFLAGS with interrupts on, and the kickoff token
// where a resume expects its return address. Returns the saved SP the first
// switch-in loads.
func buildFirstFrame(s *arch.Stack, kickoff uint64) uint64 {
	s.Push(dummyReturn)
	var zero arch.Registers
	zero.RFLAGS = arch.KernelFlags
	pushSwitchFrame(s, &zero, kickoff)
	return s.SP()
}
