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

	"github.com/tern-os/tern/pkg/arch"
	"github.com/tern-os/tern/pkg/gate"
	"github.com/tern-os/tern/pkg/log"
)

// Trap delivers vector v with the given error code to the current context,
// the way the hardware and the generic stub would:
//
// The gate for v is looked up; a missing gate escalates to DoubleFault,
// and a missing DoubleFault gate is a triple fault. If the interrupted
// context was in ring 3, SP switches to the published kernel stack top.
// The hardware frame (SS, RSP, RFLAGS, CS, RIP, error code, vector) is
// pushed, interrupts are masked for interrupt gates, and the stub spills
// the full register file. The dispatcher then runs against the saved
// state; whatever it leaves there is what the mirror-order restore puts
// back, ending with a return that reloads RIP, CS, RFLAGS, RSP and SS
// from the frame. A frame naming ring 3 gets its flags sanitized, so user
// code resumes with interrupts on and system bits clear.
func (c *CPU) Trap(v gate.Vector, errorCode uint64) {
	c.deliver(v, errorCode, 0)
}

func (c *CPU) deliver(v gate.Vector, errorCode uint64, depth int) {
	if c.dispatcher == nil {
		panic(&ProtocolError{Op: "trap", Detail: "no dispatcher installed"})
	}
	d, ok := c.idt.Gate(v)
	if !ok {
		if v == gate.DoubleFault || depth > 0 {
			panic(&TripleFault{Vector: v})
		}
		log.Warningf("no gate for %v, escalating to %v", v, gate.DoubleFault)
		c.deliver(gate.DoubleFault, 0, depth+1)
		return
	}
	if d.Selector() != arch.Kcode {
		panic(&ProtocolError{Op: "trap", Detail: fmt.Sprintf("gate selector %#x is not kernel code", d.Selector())})
	}
	target := d.Target()
	stub, ok := c.text.Name(target)
	if !ok {
		panic(&ProtocolError{Op: "trap", Detail: fmt.Sprintf("gate target %#x is not code", target)})
	}

	interrupted := c.Regs
	fromUser := arch.Selector(interrupted.CS).RPL() == 3

	// Pick the stack the frame lands on: from ring 3 the hardware loads
	// the published kernel stack top, from ring 0 delivery continues on
	// the interrupted stack.
	var stack *arch.Stack
	if fromUser {
		top := c.registry.top
		if top == 0 {
			panic(&ProtocolError{Op: "trap", Detail: "user trap with no published kernel stack"})
		}
		s, ok := c.space.Resolve(top)
		if !ok {
			panic(&ProtocolError{Op: "trap", Detail: fmt.Sprintf("published stack top %#x is unmapped", top)})
		}
		stack = s
		stack.SetSP(top)
	} else {
		s, ok := c.space.Resolve(interrupted.RSP)
		if !ok {
			panic(&ProtocolError{Op: "trap", Detail: fmt.Sprintf("RSP %#x is unmapped", interrupted.RSP)})
		}
		stack = s
		stack.SetSP(interrupted.RSP)
	}

	// Hardware push. The frame records the interrupted context; on a
	// privilege switch RSP and SS are the user values, which is what the
	// return needs to re-enter ring 3.
	frame := arch.TrapFrame{
		Vector:    uint64(v),
		ErrorCode: errorCode,
		RIP:       interrupted.RIP,
		CS:        interrupted.CS,
		RFLAGS:    interrupted.RFLAGS,
		RSP:       interrupted.RSP,
		SS:        interrupted.SS,
	}
	frameBase := stack.SP()
	frame.Push(stack)

	// An interrupt gate masks interrupts; a trap gate leaves them.
	if !d.IsTrap() {
		c.DisableInterrupts()
	}
	c.Regs.RIP = target
	c.Regs.CS = uint64(arch.Kcode)
	c.Regs.SS = uint64(arch.Kdata)

	// Stub push: the full register file of the interrupted context.
	saved := interrupted
	arch.PushSavedRegs(stack, &saved)
	c.Regs.RSP = stack.SP()

	log.Debugf("%v ec=%#x rip=%#x via %s", v, errorCode, interrupted.RIP, stub)
	c.dispatcher.Dispatch(c, v, &frame, &saved)

	// The dispatcher worked on copies of the stacked state. Re-serialize
	// them so the exit pops observe any mutation.
	stack.SetSP(frameBase)
	frame.Push(stack)
	arch.PushSavedRegs(stack, &saved)

	// Mirror restore, then the privilege-honoring return.
	arch.PopSavedRegs(stack, &c.Regs)
	f := arch.PopTrapFrame(stack)

	cs := arch.Selector(f.CS)
	if cs != arch.Kcode && cs != arch.Ucode {
		panic(&ProtocolError{Op: "trap return", Detail: fmt.Sprintf("invalid return CS %#x", f.CS)})
	}
	if cs.RPL() == 3 {
		f.RFLAGS = arch.SanitizeUserFlags(f.RFLAGS)
	}
	c.Regs.RIP = f.RIP
	c.Regs.CS = f.CS
	c.Regs.RFLAGS = f.RFLAGS
	c.Regs.RSP = f.RSP
	c.Regs.SS = f.SS
}
