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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/tern-os/tern/pkg/arch"
	"github.com/tern-os/tern/pkg/log"
)

// runEngine runs boot on a fresh engine with no syscall table and fails the
// test on an engine error. Engine logs are routed through t.Logf so they
// surface only on failing runs.
func runEngine(t *testing.T, boot func(*Context)) *Engine {
	t.Helper()
	log.SetTarget(log.TestReporter{T: t})
	e := NewEngine()
	e.Install(nil)
	if err := e.Run(boot); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return e
}

func TestSwitchRoundTrip(t *testing.T) {
	// Two threads with distinguishable register fingerprints, two full
	// round trips: the fingerprints survive every crossing.
	var trace []string
	runEngine(t, func(ctx *Context) {
		cpu := ctx.CPU()
		ctx.Engine().SpawnKernel("b", func(ctx *Context) {
			cpu.Regs.R12, cpu.Regs.R13 = 0xB0, 0xB1
			trace = append(trace, "b1")
			ctx.Yield()
			if cpu.Regs.R12 != 0xB0 || cpu.Regs.R13 != 0xB1 {
				t.Errorf("b's fingerprint after first resume: R12=%#x R13=%#x", cpu.Regs.R12, cpu.Regs.R13)
			}
			trace = append(trace, "b2")
			ctx.Yield()
			if cpu.Regs.R12 != 0xB0 || cpu.Regs.R13 != 0xB1 {
				t.Errorf("b's fingerprint after second resume: R12=%#x R13=%#x", cpu.Regs.R12, cpu.Regs.R13)
			}
			trace = append(trace, "b3")
		})
		cpu.Regs.R12, cpu.Regs.R13 = 0xA0, 0xA1
		trace = append(trace, "a1")
		ctx.Yield()
		if cpu.Regs.R12 != 0xA0 || cpu.Regs.R13 != 0xA1 {
			t.Errorf("a's fingerprint after first resume: R12=%#x R13=%#x", cpu.Regs.R12, cpu.Regs.R13)
		}
		trace = append(trace, "a2")
		ctx.Yield()
		if cpu.Regs.R12 != 0xA0 || cpu.Regs.R13 != 0xA1 {
			t.Errorf("a's fingerprint after second resume: R12=%#x R13=%#x", cpu.Regs.R12, cpu.Regs.R13)
		}
		trace = append(trace, "a3")
	})
	want := []string{"a1", "b1", "a2", "b2", "a3", "b3"}
	if diff := cmp.Diff(want, trace); diff != "" {
		t.Errorf("interleaving (-want +got):\n%s", diff)
	}
}

func TestRegistryFollowsRunningThread(t *testing.T) {
	// Immediately after any switch, the registry holds the incoming
	// thread's kernel stack top.
	runEngine(t, func(ctx *Context) {
		e := ctx.Engine()
		self := ctx.Thread()
		other := e.SpawnKernel("other", func(ctx *Context) {
			if got := ctx.CPU().Registry().Top(); got != ctx.Thread().kstack.Top() {
				t.Errorf("registry = %#x, want other's stack top %#x", got, ctx.Thread().kstack.Top())
			}
			ctx.Yield()
		})
		if got := ctx.CPU().Registry().Top(); got != self.kstack.Top() {
			t.Errorf("registry = %#x, want init's stack top %#x", got, self.kstack.Top())
		}
		ctx.Yield()
		if got := ctx.CPU().Registry().Top(); got != self.kstack.Top() {
			t.Errorf("registry after resume = %#x, want init's stack top %#x", got, self.kstack.Top())
		}
		if err := ctx.Join(other.ID()); err != nil {
			t.Errorf("Join: %v", err)
		}
	})
}

func TestSwitchToSelf(t *testing.T) {
	// Switch(t, t) republishes and keeps going; interrupts end up where
	// they started.
	runEngine(t, func(ctx *Context) {
		e := ctx.Engine()
		self := ctx.Thread()
		e.Switch(self, self)
		if !ctx.CPU().InterruptsEnabled() {
			t.Errorf("self switch left interrupts masked")
		}
		if got := ctx.CPU().Registry().Top(); got != self.kstack.Top() {
			t.Errorf("registry = %#x, want own stack top", got)
		}
		if self.State() != Running {
			t.Errorf("state = %v, want Running", self.State())
		}
	})
}

func TestSwitchToExited(t *testing.T) {
	runEngine(t, func(ctx *Context) {
		e := ctx.Engine()
		dead := e.SpawnKernel("dead", func(*Context) {})
		if err := ctx.Join(dead.ID()); err != nil {
			t.Fatalf("Join: %v", err)
		}
		defer func() {
			var se *StateError
			if err, ok := recover().(error); !ok || !errors.As(err, &se) {
				t.Errorf("want *StateError for switch to exited thread")
			}
			// The aborted switch left interrupts masked.
			ctx.CPU().EnableInterrupts()
		}()
		e.Switch(ctx.Thread(), dead)
	})
}

func TestLaunchTwice(t *testing.T) {
	runEngine(t, func(ctx *Context) {
		defer func() {
			var se *StateError
			if err, ok := recover().(error); !ok || !errors.As(err, &se) {
				t.Errorf("want *StateError for double launch")
			}
			ctx.CPU().EnableInterrupts()
		}()
		ctx.Engine().LaunchKernelThread(ctx.Thread())
	})
}

func TestFirstLaunchEquivalence(t *testing.T) {
	// A brand-new thread's first dispatch is a plain Switch popping the
	// creation frame: the entry sees zeroed registers, interrupts on, RIP
	// at the kickoff token, and only the dummy word left on its stack.
	runEngine(t, func(ctx *Context) {
		e := ctx.Engine()
		fresh := e.SpawnKernel("fresh", func(ctx *Context) {
			cpu := ctx.CPU()
			self := ctx.Thread()
			if !cpu.InterruptsEnabled() {
				t.Errorf("entry running with interrupts masked")
			}
			if cpu.Regs.RIP != self.kickoff {
				t.Errorf("RIP = %#x, want kickoff token %#x", cpu.Regs.RIP, self.kickoff)
			}
			zeroed := []uint64{
				cpu.Regs.RAX, cpu.Regs.RBX, cpu.Regs.RCX, cpu.Regs.RDX,
				cpu.Regs.RSI, cpu.Regs.RDI, cpu.Regs.RBP,
				cpu.Regs.R8, cpu.Regs.R9, cpu.Regs.R10, cpu.Regs.R11,
				cpu.Regs.R12, cpu.Regs.R13, cpu.Regs.R14, cpu.Regs.R15,
			}
			for i, v := range zeroed {
				if v != 0 {
					t.Errorf("register %d = %#x at kickoff, want 0", i, v)
				}
			}
			if got := self.kstack.Depth(); got != 1 {
				t.Errorf("kernel stack depth at kickoff = %d, want the dummy word only", got)
			}
			if got := self.kstack.Load(self.kstack.Top() - 8); got != dummyReturn {
				t.Errorf("top word = %#x, want dummy return", got)
			}
		})
		// Plain Switch performs the first dispatch: no special launch
		// path. Requeue init in fresh's place so it resumes afterward.
		e.mu.Lock()
		e.ready = []*Thread{ctx.Thread()}
		e.mu.Unlock()
		e.Switch(ctx.Thread(), fresh)
	})
}

func TestUserThreadEntersRing3(t *testing.T) {
	runEngine(t, func(ctx *Context) {
		e := ctx.Engine()
		u := e.SpawnUser("app", func(ctx *Context) {
			cpu := ctx.CPU()
			self := ctx.Thread()
			if arch.Selector(cpu.Regs.CS).RPL() != 3 {
				t.Errorf("user entry in ring %d", arch.Selector(cpu.Regs.CS).RPL())
			}
			if cpu.Regs.SS != uint64(arch.Udata) {
				t.Errorf("SS = %#x, want Udata", cpu.Regs.SS)
			}
			if cpu.Regs.RSP != self.ustack.Top() {
				t.Errorf("RSP = %#x, want user stack top %#x", cpu.Regs.RSP, self.ustack.Top())
			}
			if got := arch.SanitizeUserFlags(cpu.Regs.RFLAGS); got != cpu.Regs.RFLAGS {
				t.Errorf("flags %#x not sanitized for ring 3", cpu.Regs.RFLAGS)
			}
			if self.PID() == 0 {
				t.Errorf("user thread has no process id")
			}
		})
		if err := ctx.Join(u.ID()); err != nil {
			t.Errorf("Join: %v", err)
		}
	})
}
