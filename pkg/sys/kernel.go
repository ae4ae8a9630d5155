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

// Package sys implements the concrete system call table: the dense
// number-to-handler array the machine dispatches into, and the kernel-side
// environment (console, clock, user memory, heap) the handlers operate on.
package sys

import (
	"sync"
	"time"

	"github.com/tern-os/tern/pkg/arch"
)

// Threads is the scheduler surface the thread-facing handlers drive. The
// thread engine implements it; tests substitute fakes.
type Threads interface {
	// RunningThread returns the running thread's process and thread ids.
	RunningThread() (pid, tid uint64)

	// Yield gives up the CPU to the next ready thread.
	Yield()

	// SleepMillis blocks the running thread for at least ms milliseconds.
	SleepMillis(ms uint64)

	// Join blocks until thread id exits.
	Join(id uint64) error

	// Exit terminates the running thread. It does not return.
	Exit()

	// StartApplication spawns the registered user program and returns the
	// new thread id.
	StartApplication(name string) (uint64, bool)
}

// Kernel is the environment handlers run against.
type Kernel struct {
	Threads Threads
	Console *Console
	Clock   *Clock
	Mem     *Memory

	// space backs MapUserHeap allocations.
	space *arch.AddressSpace
}

// Options configures a Kernel.
type Options struct {
	Threads Threads
	Space   *arch.AddressSpace

	// Now substitutes the wall clock; nil means time.Now.
	Now func() time.Time

	// ConsoleLimit bounds the console ring in bytes; 0 means the default.
	ConsoleLimit int
}

// NewKernel returns a Kernel over the given scheduler and address space.
func NewKernel(opts Options) *Kernel {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Kernel{
		Threads: opts.Threads,
		Console: NewConsole(opts.ConsoleLimit),
		Clock:   NewClock(now),
		Mem:     NewMemory(),
		space:   opts.Space,
	}
}

// defaultConsoleLimit bounds the console ring when the caller does not.
const defaultConsoleLimit = 64 << 10

// Console is the in-memory terminal: an input queue the read handler
// drains and a bounded output ring the write handler appends to.
type Console struct {
	mu    sync.Mutex
	in    []byte
	out   []byte
	limit int
}

// NewConsole returns a console with the given output bound in bytes.
func NewConsole(limit int) *Console {
	if limit <= 0 {
		limit = defaultConsoleLimit
	}
	return &Console{limit: limit}
}

// QueueInput appends data to the input queue, as a keyboard driver would.
func (c *Console) QueueInput(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.in = append(c.in, data...)
}

// ReadInput drains up to max bytes from the input queue. An empty queue
// returns nil: end of input.
func (c *Console) ReadInput(max int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if max > len(c.in) {
		max = len(c.in)
	}
	if max <= 0 {
		return nil
	}
	data := append([]byte(nil), c.in[:max]...)
	c.in = c.in[max:]
	return data
}

// Append writes data to the output ring, dropping the oldest bytes once
// the bound is hit.
func (c *Console) Append(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = append(c.out, data...)
	if over := len(c.out) - c.limit; over > 0 {
		c.out = c.out[over:]
	}
}

// Contents returns a copy of the output ring.
func (c *Console) Contents() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.out...)
}

// Clock supplies the time handlers: milliseconds since boot, and a settable
// wall-clock date.
type Clock struct {
	now  func() time.Time
	boot time.Time

	mu sync.Mutex
	// offset shifts the reported date relative to the host clock; SetDate
	// adjusts it.
	offset time.Duration
}

// NewClock returns a clock booted at now().
func NewClock(now func() time.Time) *Clock {
	return &Clock{now: now, boot: now()}
}

// SystemTimeMillis returns milliseconds since boot.
func (c *Clock) SystemTimeMillis() uint64 {
	return uint64(c.now().Sub(c.boot) / time.Millisecond)
}

// DateMillis returns the current date as Unix milliseconds.
func (c *Clock) DateMillis() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Add(c.offset).UnixMilli()
}

// SetDateMillis moves the date to the given Unix milliseconds.
func (c *Clock) SetDateMillis(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = time.UnixMilli(ms).Sub(c.now())
}

// Memory is the byte-granular view of user buffers: a sparse map standing
// in for the user address space, since the stack model is word-granular.
// User programs stage buffers with CopyOut and the handlers move bytes
// across it in both directions.
type Memory struct {
	mu    sync.Mutex
	bytes map[uint64]byte
}

// NewMemory returns an empty memory.
func NewMemory() *Memory {
	return &Memory{bytes: make(map[uint64]byte)}
}

// CopyOut writes data at addr.
func (m *Memory) CopyOut(addr uint64, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, b := range data {
		m.bytes[addr+uint64(i)] = b
	}
}

// CopyIn reads n bytes at addr. Untouched bytes read as zero.
func (m *Memory) CopyIn(addr uint64, n int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	data := make([]byte, n)
	for i := range data {
		data[i] = m.bytes[addr+uint64(i)]
	}
	return data
}
