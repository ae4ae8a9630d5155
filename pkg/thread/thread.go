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

// Package thread owns the thread control block and the cooperative
// context-switch machinery: Switch, the two first-launch trampolines, and
// the engine that runs one goroutine per thread over the emulated CPU.
//
// The execution model mirrors the hardware one. A thread off the CPU is a
// parked goroutine plus a switch frame on its kernel stack; Switch spills
// the outgoing register file, publishes the incoming thread's kernel stack
// top, pops the incoming frame, and transfers control by unparking. A
// brand-new thread carries a hand-built frame of the same shape, so the
// first dispatch is the same pop sequence as any resume.
package thread

import (
	"fmt"
	"sync/atomic"

	"github.com/tern-os/tern/pkg/arch"
)

// State is a thread's scheduling state.
type State int32

// Thread states.
const (
	// New: created, first frame built, never dispatched.
	New State = iota

	// Ready: runnable, waiting in the ready queue.
	Ready

	// Running: on the CPU. At most one thread is Running.
	Running

	// Blocked: off the CPU waiting for a timer or another thread.
	Blocked

	// Exited: terminated. Never dispatched again.
	Exited
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case New:
		return "new"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Blocked:
		return "blocked"
	case Exited:
		return "exited"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Thread is the control block for one thread of execution.
type Thread struct {
	id   uint64
	pid  uint64
	name string
	user bool

	// state is written by the engine with interrupts disabled; reads from
	// other goroutines (monitors, tests) need the atomic.
	state atomic.Int32

	// kstack is the exclusively owned kernel stack. Its top is what gets
	// published to the registry while the thread is Running.
	kstack *arch.Stack

	// ustack is the unprivileged stack, user threads only.
	ustack *arch.Stack

	// savedSP marks the switch frame to resume from. Valid only while the
	// thread is off the CPU.
	savedSP uint64

	// kickoff is the text token in a first frame's return slot.
	kickoff uint64

	entry    func(*Context)
	launched bool
	faulted  atomic.Bool

	// park is the control-transfer channel: a send is the "jump" into
	// this thread's context. Buffered so the switcher never waits on the
	// target goroutine being scheduled.
	park chan struct{}

	// done closes when the thread exits.
	done chan struct{}

	joiners []*Thread
}

// ID returns the thread identifier.
func (t *Thread) ID() uint64 { return t.id }

// PID returns the owning process identifier; 0 for kernel threads.
func (t *Thread) PID() uint64 { return t.pid }

// Name returns the thread name.
func (t *Thread) Name() string { return t.name }

// User reports whether the thread runs unprivileged code.
func (t *Thread) User() bool { return t.user }

// State returns the scheduling state.
func (t *Thread) State() State { return State(t.state.Load()) }

func (t *Thread) setState(s State) { t.state.Store(int32(s)) }

// KernelStack returns the thread's kernel stack.
func (t *Thread) KernelStack() *arch.Stack { return t.kstack }

// UserStack returns the thread's user stack, nil for kernel threads.
func (t *Thread) UserStack() *arch.Stack { return t.ustack }

// SavedSP returns the saved stack pointer. Meaningful only while the
// thread is not Running.
func (t *Thread) SavedSP() uint64 { return t.savedSP }

// Done returns a channel that closes when the thread exits.
func (t *Thread) Done() <-chan struct{} { return t.done }

// String implements fmt.Stringer.
func (t *Thread) String() string {
	return fmt.Sprintf("thread %d [%s] (%v)", t.id, t.name, t.State())
}

// StateError reports a dispatch against a thread in the wrong state:
// switching to an exited thread, or launching one that already ran.
type StateError struct {
	Thread *Thread
	Op     string
}

// Error implements error.Error.
func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Thread)
}
