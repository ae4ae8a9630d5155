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

// TrapFrame is the hardware-pushed portion of a trap: what the CPU deposits
// on the target stack before any handler code runs. RSP and SS hold the
// interrupted context's stack; on a privilege switch they are the user
// values, which is what makes the eventual return privilege-restoring.
//
// The error-code slot is always present. Vectors that define no error code
// get a zero, so the frame layout never varies by vector.
type TrapFrame struct {
	Vector    uint64
	ErrorCode uint64
	RIP       uint64
	CS        uint64
	RFLAGS    uint64
	RSP       uint64
	SS        uint64
}

// Frame word counts.
const (
	TrapFrameWords   = 7
	SavedRegsWords   = 15
	SyscallRegsWords = 13
)

// Push spills the frame onto s, SS first, Vector last. SP ends on the
// vector word.
func (f *TrapFrame) Push(s *Stack) {
	s.Push(f.SS)
	s.Push(f.RSP)
	s.Push(f.RFLAGS)
	s.Push(f.CS)
	s.Push(f.RIP)
	s.Push(f.ErrorCode)
	s.Push(f.Vector)
}

// PopTrapFrame mirrors TrapFrame.Push.
func PopTrapFrame(s *Stack) TrapFrame {
	var f TrapFrame
	f.Vector = s.Pop()
	f.ErrorCode = s.Pop()
	f.RIP = s.Pop()
	f.CS = s.Pop()
	f.RFLAGS = s.Pop()
	f.RSP = s.Pop()
	f.SS = s.Pop()
	return f
}

// PushSavedRegs spills the register file, RSP excluded (the trap frame
// carries it). RAX first, R15 last.
func PushSavedRegs(s *Stack, r *Registers) {
	s.Push(r.RAX)
	s.Push(r.RBX)
	s.Push(r.RCX)
	s.Push(r.RDX)
	s.Push(r.RSI)
	s.Push(r.RDI)
	s.Push(r.RBP)
	s.Push(r.R8)
	s.Push(r.R9)
	s.Push(r.R10)
	s.Push(r.R11)
	s.Push(r.R12)
	s.Push(r.R13)
	s.Push(r.R14)
	s.Push(r.R15)
}

// PopSavedRegs mirrors PushSavedRegs.
func PopSavedRegs(s *Stack, r *Registers) {
	r.R15 = s.Pop()
	r.R14 = s.Pop()
	r.R13 = s.Pop()
	r.R12 = s.Pop()
	r.R11 = s.Pop()
	r.R10 = s.Pop()
	r.R9 = s.Pop()
	r.R8 = s.Pop()
	r.RBP = s.Pop()
	r.RDI = s.Pop()
	r.RSI = s.Pop()
	r.RDX = s.Pop()
	r.RCX = s.Pop()
	r.RBX = s.Pop()
	r.RAX = s.Pop()
}

// PushSyscallRegs spills the registers the system call path preserves:
// everything except RAX, which returns the result, and RBP, which the
// handler call leaves intact on its own. RBX first, R15 last.
func PushSyscallRegs(s *Stack, r *Registers) {
	s.Push(r.RBX)
	s.Push(r.RCX)
	s.Push(r.RDX)
	s.Push(r.RDI)
	s.Push(r.RSI)
	s.Push(r.R8)
	s.Push(r.R9)
	s.Push(r.R10)
	s.Push(r.R11)
	s.Push(r.R12)
	s.Push(r.R13)
	s.Push(r.R14)
	s.Push(r.R15)
}

// PopSyscallRegs mirrors PushSyscallRegs.
func PopSyscallRegs(s *Stack, r *Registers) {
	r.R15 = s.Pop()
	r.R14 = s.Pop()
	r.R13 = s.Pop()
	r.R12 = s.Pop()
	r.R11 = s.Pop()
	r.R10 = s.Pop()
	r.R9 = s.Pop()
	r.R8 = s.Pop()
	r.RSI = s.Pop()
	r.RDI = s.Pop()
	r.RDX = s.Pop()
	r.RCX = s.Pop()
	r.RBX = s.Pop()
}
