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
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tern-os/tern/pkg/arch"
	"github.com/tern-os/tern/pkg/gate"
	"github.com/tern-os/tern/pkg/log"
	"github.com/tern-os/tern/pkg/machine"
)

// Stack sizes, in words.
const (
	kernelStackWords = 512
	userStackWords   = 512
)

// DeadlockError is returned from Run when live threads remain but none can
// ever become runnable again.
type DeadlockError struct {
	Threads []string
}

// Error implements error.Error.
func (e *DeadlockError) Error() string {
	return fmt.Sprintf("deadlock: all threads blocked: %s", strings.Join(e.Threads, ", "))
}

// Engine drives threads over one emulated CPU: it owns the thread table,
// the FIFO ready queue, and the park/unpark plumbing that models control
// transfer. It is the machine's trap dispatcher. Queueing here is glue, not
// policy: first in, first out, nothing else.
type Engine struct {
	cpu   *machine.CPU
	space *arch.AddressSpace
	text  *machine.TextRegistry

	mu      sync.Mutex
	cond    *sync.Cond
	threads map[uint64]*Thread
	ready   []*Thread
	current *Thread
	apps    map[string]func(*Context)
	nextID  uint64
	nextPID uint64
	live    int
	timers  int
	err     error

	resched  atomic.Bool
	stopping atomic.Bool
	finished sync.Once
	shutdown chan struct{}
	alldone  chan struct{}
}

// NewEngine returns an engine over a fresh CPU with no syscall table
// installed.
func NewEngine() *Engine {
	space := arch.NewAddressSpace()
	text := machine.NewTextRegistry()
	e := &Engine{
		cpu:     machine.New(space, text),
		space:   space,
		text:    text,
		threads:  make(map[uint64]*Thread),
		apps:     make(map[string]func(*Context)),
		shutdown: make(chan struct{}),
		alldone:  make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Install wires the engine as the CPU's trap dispatcher alongside the given
// syscall table, and builds the descriptor table.
func (e *Engine) Install(tbl machine.SyscallTable) {
	e.cpu.Init(e, tbl)
}

// CPU returns the engine's processor.
func (e *Engine) CPU() *machine.CPU { return e.cpu }

// Space returns the engine's address space.
func (e *Engine) Space() *arch.AddressSpace { return e.space }

// Current returns the running thread, nil before the first launch.
func (e *Engine) Current() *Thread {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Thread looks up a thread by id.
func (e *Engine) Thread(id uint64) (*Thread, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.threads[id]
	return t, ok
}

// newThread builds a TCB with its kernel stack and creation frame. The
// frame makes the first dispatch indistinguishable from a resume.
func (e *Engine) newThread(name string, entry func(*Context), user bool) *Thread {
	e.mu.Lock()
	e.nextID++
	t := &Thread{
		id:    e.nextID,
		name:  name,
		user:  user,
		entry: entry,
		park:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	if user {
		e.nextPID++
		t.pid = e.nextPID
	}
	e.threads[t.id] = t
	e.live++
	e.mu.Unlock()

	t.kstack = e.space.NewStack(kernelStackWords)
	if user {
		t.ustack = e.space.NewStack(userStackWords)
	}
	t.kickoff = e.text.Mint(fmt.Sprintf("kickoff:%d:%s", t.id, name))
	t.savedSP = buildFirstFrame(t.kstack, t.kickoff)

	go func() {
		select {
		case <-t.park:
			e.kickoff(t)
		case <-e.shutdown:
			// The engine finished before this thread's first dispatch;
			// nothing to tear down.
		}
	}()
	return t
}

// SpawnKernel creates a Ready kernel thread running entry.
func (e *Engine) SpawnKernel(name string, entry func(*Context)) *Thread {
	t := e.newThread(name, entry, false)
	e.mu.Lock()
	e.makeReadyLocked(t)
	e.mu.Unlock()
	log.Debugf("spawned %v", t)
	return t
}

// SpawnUser creates a Ready user thread running entry in ring 3.
func (e *Engine) SpawnUser(name string, entry func(*Context)) *Thread {
	t := e.newThread(name, entry, true)
	e.mu.Lock()
	e.makeReadyLocked(t)
	e.mu.Unlock()
	log.Debugf("spawned %v", t)
	return t
}

// RegisterApp adds a named user program to the application set
// StartApplication draws from.
func (e *Engine) RegisterApp(name string, entry func(*Context)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.apps[name] = entry
}

// StartApplication spawns the registered user program name and returns the
// new thread id.
func (e *Engine) StartApplication(name string) (uint64, bool) {
	e.mu.Lock()
	entry, ok := e.apps[name]
	e.mu.Unlock()
	if !ok {
		return 0, false
	}
	return e.SpawnUser(name, entry).ID(), true
}

// Run launches boot as the first kernel thread and blocks until every
// thread has exited, or until the engine declares a deadlock.
func (e *Engine) Run(boot func(*Context)) error {
	t := e.newThread("init", boot, false)
	e.LaunchKernelThread(t)
	<-e.alldone

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *Engine) makeReadyLocked(t *Thread) {
	t.setState(Ready)
	e.ready = append(e.ready, t)
	e.cond.Broadcast()
}

// takeReady dequeues the next runnable thread, waiting while the CPU is
// idle and a timer can still produce one. A nil return means the system is
// over: either every thread exited, or the remainder is deadlocked (which
// also records the engine error).
func (e *Engine) takeReady() *Thread {
	e.mu.Lock()
	defer e.mu.Unlock()
	for {
		if len(e.ready) > 0 {
			t := e.ready[0]
			e.ready = e.ready[1:]
			return t
		}
		if e.live == 0 {
			return nil
		}
		if e.timers == 0 {
			var stuck []string
			for _, t := range e.threads {
				if t.State() != Exited {
					stuck = append(stuck, t.String())
				}
			}
			e.err = &DeadlockError{Threads: stuck}
			return nil
		}
		e.cond.Wait()
	}
}

// finish ends the run: it releases every goroutine still parked on a switch
// or awaiting a first dispatch, then unblocks Run. stopping is set before
// shutdown closes so released goroutines skip their teardown.
func (e *Engine) finish() {
	e.finished.Do(func() {
		e.stopping.Store(true)
		close(e.shutdown)
		close(e.alldone)
	})
}

// Yield requeues the running thread behind the ready queue and switches to
// its head. With nothing ready it returns immediately: the running thread
// keeps the CPU.
func (e *Engine) Yield() {
	current := e.Current()
	e.mu.Lock()
	if len(e.ready) == 0 {
		e.mu.Unlock()
		return
	}
	next := e.ready[0]
	e.ready = e.ready[1:]
	e.ready = append(e.ready, current)
	e.mu.Unlock()
	e.Switch(current, next)
}

// Sleep blocks the running thread for at least d.
func (e *Engine) Sleep(d time.Duration) {
	if d <= 0 {
		e.Yield()
		return
	}
	current := e.Current()
	e.mu.Lock()
	current.setState(Blocked)
	e.timers++
	e.mu.Unlock()
	time.AfterFunc(d, func() {
		e.mu.Lock()
		e.timers--
		e.makeReadyLocked(current)
		e.mu.Unlock()
	})
	e.blockCurrent(current)
}

// SleepMillis is Sleep for handler code, which deals in milliseconds.
func (e *Engine) SleepMillis(ms uint64) {
	e.Sleep(time.Duration(ms) * time.Millisecond)
}

// Join sentinels.
var (
	ErrNoSuchThread = fmt.Errorf("no such thread")
	ErrJoinSelf     = fmt.Errorf("thread cannot join itself")
)

// Join blocks the running thread until the thread with the given id exits.
// Joining an already exited thread returns immediately.
func (e *Engine) Join(id uint64) error {
	current := e.Current()
	e.mu.Lock()
	target, ok := e.threads[id]
	if !ok {
		e.mu.Unlock()
		return ErrNoSuchThread
	}
	if target == current {
		e.mu.Unlock()
		return ErrJoinSelf
	}
	if target.State() == Exited {
		e.mu.Unlock()
		return nil
	}
	target.joiners = append(target.joiners, current)
	current.setState(Blocked)
	e.mu.Unlock()
	e.blockCurrent(current)
	return nil
}

// RunningThread returns the running thread's process and thread ids.
func (e *Engine) RunningThread() (pid, tid uint64) {
	t := e.Current()
	if t == nil {
		return 0, 0
	}
	return t.pid, t.id
}

// Exit terminates the running thread. It does not return.
func (e *Engine) Exit() {
	panic(&exitRequest{})
}

// exitRequest unwinds an entry function down to the kickoff, which performs
// the actual teardown.
type exitRequest struct{}

// exitCurrent tears down the running thread and hands the CPU to the next
// runnable one. Runs on the exiting thread's goroutine, which ends here.
func (e *Engine) exitCurrent() {
	t := e.Current()
	e.cpu.DisableInterrupts()
	e.mu.Lock()
	t.setState(Exited)
	e.live--
	for _, j := range t.joiners {
		e.makeReadyLocked(j)
	}
	t.joiners = nil
	e.mu.Unlock()
	close(t.done)
	log.Debugf("%v exited", t)

	next := e.takeReady()
	if next == nil {
		e.finish()
		return
	}
	e.switchIn(next)
}

// blockCurrent parks the running thread, whose state the caller has already
// moved off Running, and dispatches the next runnable one. Returns when the
// thread is switched back in.
func (e *Engine) blockCurrent(current *Thread) {
	next := e.takeReady()
	if next == nil {
		// Nothing will ever wake this thread; the engine is done.
		e.finish()
		runtime.Goexit()
	}
	e.Switch(current, next)
}

// NeedResched reports and clears the preemption latch the timer trap sets.
func (e *Engine) NeedResched() bool {
	return e.resched.Swap(false)
}

// Dispatch implements machine.Dispatcher. The timer tick latches a
// reschedule for the next safepoint; processor exceptions dump the faulting
// state and condemn the running thread.
func (e *Engine) Dispatch(c *machine.CPU, v gate.Vector, frame *arch.TrapFrame, regs *arch.Registers) {
	switch {
	case v == gate.Timer:
		e.resched.Store(true)
	case v == gate.Spurious:
		// Nothing to acknowledge in the model.
	case v < 32:
		var b strings.Builder
		regs.DumpTo(&b)
		log.Warningf("%v (error code %#x) at %#x\n%s", v, frame.ErrorCode, frame.RIP, b.String())
		if t := e.Current(); t != nil {
			t.faulted.Store(true)
		}
	case v == gate.Syscall:
		// The gate is user-callable, but calls are serviced only through
		// CPU.Syscall; a software interrupt on this vector would return with
		// no result in the caller's register, so the raiser cannot continue.
		log.Warningf("syscall vector %v raised as a software interrupt at %#x; no service on this path", v, frame.RIP)
		if t := e.Current(); t != nil {
			t.faulted.Store(true)
		}
	default:
		log.Infof("unhandled interrupt %v", v)
	}
}
