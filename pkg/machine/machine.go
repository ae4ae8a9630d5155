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

// Package machine models a single logical processor: its register file, its
// interrupt-enable state, the published kernel stack top, the descriptor
// table that routes traps, and the entry/exit protocols for traps and
// system calls.
//
// The processor is emulated, not real. Stacks are word arrays in a
// synthetic address space, code addresses are tokens minted by a text
// registry, and the protocols below are ordinary Go functions. What is
// preserved exactly is the architectural contract: which words are pushed
// in which order, when interrupts are masked, when the stack switches, and
// what the register file looks like on every entry and exit.
package machine

import (
	"fmt"

	"github.com/tern-os/tern/pkg/arch"
	"github.com/tern-os/tern/pkg/gate"
)

// ProtocolError reports a violated entry/exit rule. It is thrown as a
// panic: these are kernel bugs, not conditions a caller can handle.
type ProtocolError struct {
	Op     string
	Detail string
}

// Error implements error.Error.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Detail)
}

// TripleFault is thrown when a fault cannot be delivered because the
// DoubleFault gate itself is missing. A real processor resets; the model
// panics.
type TripleFault struct {
	Vector gate.Vector
}

// Error implements error.Error.
func (e *TripleFault) Error() string {
	return fmt.Sprintf("triple fault delivering %v", e.Vector)
}

// Dispatcher receives every delivered trap. The frame and register set are
// the saved copies on the kernel stack: mutations flow back into the
// interrupted context when the trap returns, which is how a handler
// redirects a thread.
type Dispatcher interface {
	Dispatch(c *CPU, v gate.Vector, frame *arch.TrapFrame, regs *arch.Registers)
}

// KernelStackRegistry is the single kernel-stack-top slot the processor
// consults when a trap arrives from ring 3, the TSS rsp0 of a real CPU.
// There is exactly one slot per CPU. Whoever puts a thread on the CPU must
// publish that thread's kernel stack top here before returning to user
// mode, and may only rewrite the slot with interrupts disabled.
type KernelStackRegistry struct {
	cpu *CPU
	top uint64
}

// Publish records the kernel stack top to load on the next trap from user
// mode. Publishing with interrupts enabled panics: a half-updated slot
// must never be observable by a trap.
func (r *KernelStackRegistry) Publish(top uint64) {
	if r.cpu.InterruptsEnabled() {
		panic(&ProtocolError{Op: "publish kernel stack", Detail: "interrupts enabled"})
	}
	r.top = top
}

// Top returns the published kernel stack top, zero if none.
func (r *KernelStackRegistry) Top() uint64 {
	return r.top
}

// CPU is one emulated logical processor.
type CPU struct {
	// Regs is the live register file.
	Regs arch.Registers

	space    *arch.AddressSpace
	text     *TextRegistry
	idt      gate.Table
	registry KernelStackRegistry
	pending  pendingSet

	dispatcher Dispatcher
	syscalls   SyscallTable
}

// New returns a CPU executing in ring 0 with interrupts enabled and no
// hooks installed.
func New(space *arch.AddressSpace, text *TextRegistry) *CPU {
	c := &CPU{space: space, text: text}
	c.registry.cpu = c
	c.Regs.RFLAGS = arch.KernelFlags
	c.Regs.CS = uint64(arch.Kcode)
	c.Regs.SS = uint64(arch.Kdata)
	return c
}

// Init installs the dispatch hooks and builds the descriptor table: one
// stub token per cataloged vector, with the system call gate user-callable.
func (c *CPU) Init(d Dispatcher, t SyscallTable) {
	c.dispatcher = d
	c.syscalls = t
	entries := make(map[gate.Vector]uint64)
	for _, v := range gate.Catalog() {
		entries[v] = c.text.Mint("stub:" + v.String())
	}
	c.idt.Init(arch.Kcode, entries)
}

// Space returns the machine's address space.
func (c *CPU) Space() *arch.AddressSpace {
	return c.space
}

// Text returns the machine's text registry.
func (c *CPU) Text() *TextRegistry {
	return c.text
}

// IDT returns the descriptor table.
func (c *CPU) IDT() *gate.Table {
	return &c.idt
}

// Registry returns the kernel-stack-top registry.
func (c *CPU) Registry() *KernelStackRegistry {
	return &c.registry
}

// InterruptsEnabled reports the IF bit. The register file is the single
// source of truth for the interrupt-enable state.
func (c *CPU) InterruptsEnabled() bool {
	return c.Regs.RFLAGS&arch.FlagIF != 0
}

// DisableInterrupts models cli.
func (c *CPU) DisableInterrupts() {
	c.Regs.RFLAGS &^= uint64(arch.FlagIF)
}

// EnableInterrupts models sti. Latched vectors become deliverable at the
// next safepoint.
func (c *CPU) EnableInterrupts() {
	c.Regs.RFLAGS |= uint64(arch.FlagIF)
}
