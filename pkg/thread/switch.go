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
	"fmt"
	"runtime"

	"github.com/tern-os/tern/pkg/arch"
	"github.com/tern-os/tern/pkg/log"
)

// PublishRunning records t's kernel stack top in the CPU's registry: the
// stack the next trap from user mode lands on. This is the registry's sole
// writer besides the registry tests, and it runs only with interrupts
// disabled; the registry itself enforces that.
func (e *Engine) PublishRunning(t *Thread) {
	e.cpu.Registry().Publish(t.kstack.Top())
}

// Switch hands the CPU from current to next, cooperatively.
//
// The outgoing side: capture RFLAGS before masking interrupts, spill the
// switch frame onto current's kernel stack, record the resulting SP in the
// TCB. The incoming side: publish next's kernel stack top while interrupts
// are still off, load next's saved SP, pop its frame in mirror order, and
// resume at the popped return token. The popped RFLAGS is what re-enables
// interrupts, exactly at the point the incoming thread last had them on.
//
// Switch returns, in the caller's context, when some later Switch hands the
// CPU back; the register file is then bit-identical to the spill. A
// Switch(t, t) republishes the registry and returns immediately.
func (e *Engine) Switch(current, next *Thread) {
	regs := e.cpu.Regs // pre-cli snapshot, RFLAGS included
	e.cpu.DisableInterrupts()

	if next.State() == Exited {
		panic(&StateError{Thread: next, Op: "switch to"})
	}
	if current == next {
		e.PublishRunning(next)
		next.setState(Running)
		e.cpu.Regs.RFLAGS = regs.RFLAGS
		return
	}

	ks := current.kstack
	pushSwitchFrame(ks, &regs, e.resumeToken(current))
	current.savedSP = ks.SP()
	e.cpu.Regs.RSP = ks.SP()
	if current.State() == Running {
		current.setState(Ready)
	}

	e.switchIn(next)

	// Parked: the CPU belongs to next until a Switch back. On wake the
	// register file has already been restored by whoever switched here. A
	// shutdown instead of a wake means the engine finished while this
	// thread was switched out; its goroutine ends here.
	select {
	case <-current.park:
	case <-e.shutdown:
		runtime.Goexit()
	}
}

// switchIn puts next on the CPU. Interrupts must be disabled. The caller's
// goroutine must not touch the CPU afterward.
func (e *Engine) switchIn(next *Thread) {
	e.PublishRunning(next)

	ks := next.kstack
	ks.SetSP(next.savedSP)
	token := popSwitchFrame(ks, &e.cpu.Regs)
	e.cpu.Regs.RSP = ks.SP()
	e.cpu.Regs.RIP = token

	next.setState(Running)
	next.launched = true
	e.mu.Lock()
	e.current = next
	e.mu.Unlock()

	log.Debugf("switch in: %v at %s", next, e.tokenName(token))
	next.park <- struct{}{}
}

// LaunchKernelThread performs the first dispatch of a kernel thread: load
// the creation frame built at spawn time and "return" into the kickoff. It
// is the same switch-in every resume uses; only the frame's provenance
// differs. Meant for putting the very first thread on an idle CPU; after
// that, plain Switch launches new threads the uniform way.
func (e *Engine) LaunchKernelThread(t *Thread) {
	if t.user {
		panic(&StateError{Thread: t, Op: "kernel launch of user thread"})
	}
	e.launch(t)
}

// LaunchUserThread is LaunchKernelThread for a user thread. The privilege
// drop itself happens in the user kickoff, which ends in the
// privilege-restoring return rather than an ordinary one.
func (e *Engine) LaunchUserThread(t *Thread) {
	if !t.user {
		panic(&StateError{Thread: t, Op: "user launch of kernel thread"})
	}
	e.launch(t)
}

func (e *Engine) launch(t *Thread) {
	if t.launched {
		panic(&StateError{Thread: t, Op: "launch"})
	}
	e.cpu.DisableInterrupts()
	e.switchIn(t)
}

// kickoff runs on the thread's goroutine after its first dispatch. The
// switch-in already popped the creation frame: registers are zeroed, RFLAGS
// has interrupts on, RIP is the kickoff token. From here the thread enters
// its steady state: run the entry function, then exit.
func (e *Engine) kickoff(t *Thread) {
	if e.cpu.Regs.RIP != t.kickoff {
		panic(&StateError{Thread: t, Op: fmt.Sprintf("kickoff at RIP %#x", e.cpu.Regs.RIP)})
	}
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(*exitRequest); !ok {
				panic(r)
			}
		}
		// A goroutine released by shutdown unwinds through here too; the
		// engine is over, so there is no teardown left to run.
		if e.stopping.Load() {
			return
		}
		e.exitCurrent()
	}()

	ctx := &Context{e: e, t: t}
	if t.user {
		e.enterRing3(t)
	}
	t.entry(ctx)
}

// enterRing3 is the tail of the user kickoff: build the interrupt-return
// frame on the kernel stack and execute the privilege-restoring return, so
// the entry function runs with ring 3 selectors, sanitized flags, and the
// thread's own user stack.
func (e *Engine) enterRing3(t *Thread) {
	ks := t.kstack
	userRIP := e.text.Mint("user:" + t.name)
	ks.Push(uint64(arch.Udata))
	ks.Push(t.ustack.Top())
	ks.Push(arch.SanitizeUserFlags(e.cpu.Regs.RFLAGS))
	ks.Push(uint64(arch.Ucode))
	ks.Push(userRIP)

	// iretq: pop RIP, CS, RFLAGS, RSP, SS.
	e.cpu.Regs.RIP = ks.Pop()
	e.cpu.Regs.CS = ks.Pop()
	e.cpu.Regs.RFLAGS = ks.Pop()
	e.cpu.Regs.RSP = ks.Pop()
	e.cpu.Regs.SS = ks.Pop()
	t.ustack.SetSP(e.cpu.Regs.RSP)

	log.Debugf("%v entering ring 3 at %#x", t, e.cpu.Regs.RIP)
}

// resumeToken mints the stable resume point for t: what a switch frame's
// return slot holds while t is switched out mid-execution.
func (e *Engine) resumeToken(t *Thread) uint64 {
	return e.text.Mint(fmt.Sprintf("resume:%d:%s", t.id, t.name))
}

func (e *Engine) tokenName(addr uint64) string {
	if name, ok := e.text.Name(addr); ok {
		return name
	}
	return fmt.Sprintf("%#x", addr)
}
