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

import (
	"time"

	"github.com/tern-os/tern/pkg/abi"
	"github.com/tern-os/tern/pkg/machine"
)

// Context is the per-thread view handed to an entry function: the cheap
// operations a thread performs on itself plus the gateway into the system
// call path.
type Context struct {
	e *Engine
	t *Thread
}

// Engine returns the owning engine.
func (ctx *Context) Engine() *Engine { return ctx.e }

// CPU returns the processor the thread runs on.
func (ctx *Context) CPU() *machine.CPU { return ctx.e.cpu }

// Thread returns the thread's own control block.
func (ctx *Context) Thread() *Thread { return ctx.t }

// Yield gives up the CPU to the next ready thread, if any.
func (ctx *Context) Yield() { ctx.e.Yield() }

// Sleep blocks the thread for at least d.
func (ctx *Context) Sleep(d time.Duration) { ctx.e.Sleep(d) }

// Join blocks until thread id exits.
func (ctx *Context) Join(id uint64) error { return ctx.e.Join(id) }

// Exit terminates the thread. It does not return.
func (ctx *Context) Exit() { ctx.e.Exit() }

// Syscall invokes system call no through the CPU's full entry/exit
// protocol, then passes a safepoint, so pending interrupts latched during
// the call are delivered once the caller's flags are back in force.
func (ctx *Context) Syscall(no abi.Sysno, a0, a1, a2 uint64) int64 {
	ret := ctx.e.cpu.Syscall(no, a0, a1, a2)
	ctx.Checkpoint()
	return ret
}

// Checkpoint is a safepoint: deliver any latched interrupts, honor a fault
// verdict against this thread, and reschedule if the timer asked for it.
// Thread code calls this at loop boundaries the way real kernel code has
// interrupt windows.
func (ctx *Context) Checkpoint() {
	for ctx.e.cpu.DeliverPending() {
	}
	if ctx.t.faulted.Load() {
		ctx.e.Exit()
	}
	if ctx.e.NeedResched() {
		ctx.e.Yield()
	}
}
