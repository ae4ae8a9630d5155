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

package machine

import (
	"fmt"

	"github.com/tern-os/tern/pkg/abi"
	"github.com/tern-os/tern/pkg/arch"
	"github.com/tern-os/tern/pkg/log"
)

// SyscallTable dispatches system calls. Len bounds the valid numbers;
// Dispatch runs handler no with up to three arguments passed through
// positionally, and returns the signed result word.
type SyscallTable interface {
	Len() int
	Dispatch(c *CPU, no abi.Sysno, a0, a1, a2 uint64) int64
}

// AbortError is thrown for a system call number outside the table. There
// is no result convention for a call that does not exist, so the protocol
// never returns to the caller.
type AbortError struct {
	No  abi.Sysno
	Len int
}

// Error implements error.Error.
func (e *AbortError) Error() string {
	return fmt.Sprintf("system call with id [%d] does not exist", uintptr(e.No))
}

// Syscall models an invocation of the system call gate. The fast path has
// exactly seven steps:
//
//  1. Mask interrupts: the stack is inconsistent until the switch below
//     is complete.
//  2. Capture the caller's registers, minus the result register.
//  3. Load the published kernel stack top, bank the caller's SP on the
//     kernel stack, and spill the captured registers after it.
//  4. Unmask interrupts: the handler body runs preemptible.
//  5. Bounds-check the call number. Out of range is fatal and does not
//     return.
//  6. Invoke the handler; the signed result lands in RAX.
//  7. Mask interrupts, unwind the spills in mirror order, restore the
//     caller's SP, and return with the caller's flags back in force.
//
// RCX and R11 are clobbered: the instruction itself uses them for the
// return RIP and the caller's RFLAGS. Everything else is restored bit for
// bit.
func (c *CPU) Syscall(no abi.Sysno, a0, a1, a2 uint64) int64 {
	// The instruction parks the return plumbing and enters kernel code
	// before any stub runs.
	c.Regs.RCX = c.Regs.RIP
	c.Regs.R11 = c.Regs.RFLAGS
	fromUser := arch.Selector(c.Regs.CS).RPL() == 3
	c.Regs.CS = uint64(arch.Kcode)
	c.Regs.SS = uint64(arch.Kdata)

	// Step 1.
	c.DisableInterrupts()

	// Step 2. RAX is not captured: it carries the result out.
	saved := c.Regs

	// Step 3. A ring 0 caller is already on its kernel stack and keeps
	// it, as with any same-privilege crossing.
	var kstack *arch.Stack
	if fromUser {
		top := c.registry.top
		if top == 0 {
			panic(&ProtocolError{Op: "syscall", Detail: "no published kernel stack"})
		}
		s, ok := c.space.Resolve(top)
		if !ok {
			panic(&ProtocolError{Op: "syscall", Detail: fmt.Sprintf("published stack top %#x is unmapped", top)})
		}
		kstack = s
		kstack.SetSP(top)
	} else {
		s, ok := c.space.Resolve(saved.RSP)
		if !ok {
			panic(&ProtocolError{Op: "syscall", Detail: fmt.Sprintf("RSP %#x is unmapped", saved.RSP)})
		}
		kstack = s
		kstack.SetSP(saved.RSP)
	}
	kstack.Push(saved.RSP)
	arch.PushSyscallRegs(kstack, &saved)
	c.Regs.RSP = kstack.SP()

	// Step 4.
	c.EnableInterrupts()

	// Step 5.
	if c.syscalls == nil || int(no) >= c.syscalls.Len() {
		c.syscallAbort(no)
	}

	// Step 6.
	ret := c.syscalls.Dispatch(c, no, a0, a1, a2)

	// Step 7.
	c.DisableInterrupts()
	arch.PopSyscallRegs(kstack, &c.Regs)
	c.Regs.RSP = kstack.Pop()
	c.Regs.RAX = uint64(ret)
	c.Regs.RIP = c.Regs.RCX
	flags := c.Regs.R11
	if fromUser {
		flags = arch.SanitizeUserFlags(flags)
		c.Regs.CS = uint64(arch.Ucode)
		c.Regs.SS = uint64(arch.Udata)
	} else {
		c.Regs.CS = saved.CS
		c.Regs.SS = saved.SS
	}
	c.Regs.RFLAGS = flags
	return ret
}

// syscallAbort reports an invalid system call number. It never returns.
func (c *CPU) syscallAbort(no abi.Sysno) {
	length := 0
	if c.syscalls != nil {
		length = c.syscalls.Len()
	}
	log.Warningf("system call with id [%d] does not exist (table length %d)", uintptr(no), length)
	panic(&AbortError{No: no, Len: length})
}
