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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/tern-os/tern/pkg/abi"
	"github.com/tern-os/tern/pkg/arch"
)

// call records one table dispatch.
type call struct {
	no         abi.Sysno
	a0, a1, a2 uint64
}

// recordingTable records every dispatch and answers with fn, or the call
// number itself when fn is nil.
type recordingTable struct {
	length int
	calls  []call
	fn     func(no abi.Sysno, a0, a1, a2 uint64) int64
}

func (t *recordingTable) Len() int { return t.length }

func (t *recordingTable) Dispatch(c *CPU, no abi.Sysno, a0, a1, a2 uint64) int64 {
	t.calls = append(t.calls, call{no, a0, a1, a2})
	if t.fn == nil {
		return int64(no)
	}
	return t.fn(no, a0, a1, a2)
}

// enterUser puts the CPU in ring 3 on its own user stack, with a kernel
// stack published for the next trap.
func enterUser(c *CPU) (kstack, ustack *arch.Stack) {
	kstack = c.Space().NewStack(128)
	ustack = c.Space().NewStack(64)
	publish(c, kstack.Top())
	c.Regs.CS = uint64(arch.Ucode)
	c.Regs.SS = uint64(arch.Udata)
	c.Regs.RFLAGS = arch.SanitizeUserFlags(0)
	c.Regs.RSP = ustack.Top() - 2*8
	ustack.SetSP(c.Regs.RSP)
	c.Regs.RIP = c.Text().Mint("user:main")
	return kstack, ustack
}

func TestSyscallDispatch(t *testing.T) {
	// Table [exit, write, read, open]: number 1 with (fd=1, ptr, len=5)
	// reaches slot 1 with exactly those arguments, and the handler's byte
	// count comes back in RAX.
	tbl := &recordingTable{length: 4, fn: func(no abi.Sysno, a0, a1, a2 uint64) int64 {
		if no != 1 {
			t.Errorf("dispatched number %d, want 1", no)
		}
		return int64(a2) // write reports the byte count
	}}
	c := newTestCPU(&testDispatcher{}, tbl)
	_, ustack := enterUser(c)
	ptr := ustack.Base()

	ret := c.Syscall(1, 1, ptr, 5)

	want := []call{{no: 1, a0: 1, a1: ptr, a2: 5}}
	if diff := cmp.Diff(want, tbl.calls, cmp.AllowUnexported(call{})); diff != "" {
		t.Errorf("dispatches (-want +got):\n%s", diff)
	}
	if ret != 5 {
		t.Errorf("result = %d, want 5", ret)
	}
	if c.Regs.RAX != 5 {
		t.Errorf("RAX = %#x, want 5", c.Regs.RAX)
	}
}

func TestSyscallTransparency(t *testing.T) {
	// Every user register except RAX (the result) and RCX/R11 (clobbered by
	// the instruction itself) survives the round trip bit for bit.
	tbl := &recordingTable{length: 4}
	c := newTestCPU(&testDispatcher{}, tbl)
	_, ustack := enterUser(c)
	fillRegs(&c.Regs)
	c.Regs.RSP = ustack.Top() - 2*8
	before := c.Regs

	c.Syscall(2, 7, 8, 9)

	ignore := cmpopts.IgnoreFields(arch.Registers{}, "RAX", "RCX", "R11", "RIP", "RFLAGS")
	if diff := cmp.Diff(before, c.Regs, ignore); diff != "" {
		t.Errorf("user registers (-want +got):\n%s", diff)
	}
	if c.Regs.RSP != before.RSP {
		t.Errorf("user SP = %#x, want %#x", c.Regs.RSP, before.RSP)
	}
	if c.Regs.RIP != before.RIP {
		t.Errorf("RIP = %#x, want resume at %#x", c.Regs.RIP, before.RIP)
	}
	if arch.Selector(c.Regs.CS).RPL() != 3 {
		t.Errorf("returned in ring %d, want 3", arch.Selector(c.Regs.CS).RPL())
	}
	if c.Regs.RFLAGS&arch.FlagIF == 0 {
		t.Errorf("returned to ring 3 with interrupts off")
	}
}

func TestSyscallStackAccounting(t *testing.T) {
	// While the handler runs: execution is on the kernel stack, the spill
	// is the banked user SP plus the 13-register set, and interrupts are
	// back on. After the return the kernel stack is drained.
	var duringDepth int
	var duringIF, duringOnKstack bool
	tbl := &recordingTable{length: 4}
	c := newTestCPU(&testDispatcher{}, tbl)
	kstack, ustack := enterUser(c)
	userSP := c.Regs.RSP

	tbl.fn = func(_ abi.Sysno, _, _, _ uint64) int64 {
		duringDepth = kstack.Depth()
		duringIF = c.InterruptsEnabled()
		duringOnKstack = kstack.Contains(c.Regs.RSP)
		return 0
	}
	c.Syscall(0, 0, 0, 0)

	if want := 1 + arch.SyscallRegsWords; duringDepth != want {
		t.Errorf("kernel stack depth during handler = %d, want %d", duringDepth, want)
	}
	if !duringIF {
		t.Errorf("handler ran with interrupts masked")
	}
	if !duringOnKstack {
		t.Errorf("handler did not run on the kernel stack")
	}
	if kstack.SP() != kstack.Top() {
		t.Errorf("kernel stack not drained: SP %#x, top %#x", kstack.SP(), kstack.Top())
	}
	if c.Regs.RSP != userSP {
		t.Errorf("user SP = %#x, want %#x", c.Regs.RSP, userSP)
	}
	if !ustack.Contains(c.Regs.RSP) {
		t.Errorf("did not return to the user stack")
	}
}

func TestSyscallOutOfRange(t *testing.T) {
	// Number 4 against a length-4 table: fatal, and no handler observes an
	// invocation.
	tbl := &recordingTable{length: 4}
	c := newTestCPU(&testDispatcher{}, tbl)
	enterUser(c)

	defer func() {
		r := recover()
		var ae *AbortError
		if err, ok := r.(error); !ok || !errors.As(err, &ae) {
			t.Fatalf("panicked with %v, want *AbortError", r)
		}
		if ae.No != 4 || ae.Len != 4 {
			t.Errorf("abort = {No: %d, Len: %d}, want {4, 4}", ae.No, ae.Len)
		}
		if len(tbl.calls) != 0 {
			t.Errorf("handler observed an invocation: %v", tbl.calls)
		}
	}()
	c.Syscall(4, 0, 0, 0)
}

func TestSyscallEmptyTable(t *testing.T) {
	// Length 0 makes every number fatal.
	tbl := &recordingTable{length: 0}
	c := newTestCPU(&testDispatcher{}, tbl)
	enterUser(c)

	defer func() {
		var ae *AbortError
		if err, ok := recover().(error); !ok || !errors.As(err, &ae) {
			t.Fatalf("want *AbortError")
		}
	}()
	c.Syscall(0, 0, 0, 0)
}

func TestSyscallNested(t *testing.T) {
	// A ring 0 handler issuing a system call of its own nests on the same
	// kernel stack and unwinds cleanly.
	tbl := &recordingTable{length: 4}
	c := newTestCPU(&testDispatcher{}, tbl)
	kstack, _ := enterUser(c)

	tbl.fn = func(no abi.Sysno, _, _, _ uint64) int64 {
		if no == 1 {
			return c.Syscall(2, 0, 0, 0) + 100
		}
		return 7
	}
	ret := c.Syscall(1, 0, 0, 0)

	if ret != 107 {
		t.Errorf("nested result = %d, want 107", ret)
	}
	if len(tbl.calls) != 2 {
		t.Fatalf("dispatched %d calls, want 2", len(tbl.calls))
	}
	if kstack.SP() != kstack.Top() {
		t.Errorf("kernel stack not drained after nesting")
	}
}

func TestSyscallNegativeResult(t *testing.T) {
	// Errnos travel as negative words in RAX.
	tbl := &recordingTable{length: 4, fn: func(abi.Sysno, uint64, uint64, uint64) int64 {
		return abi.EncodeResult(0, abi.EINVAL)
	}}
	c := newTestCPU(&testDispatcher{}, tbl)
	enterUser(c)

	ret := c.Syscall(3, 0, 0, 0)
	if _, err := abi.DecodeResult(ret); err != abi.EINVAL {
		t.Errorf("decoded error = %v, want EINVAL", err)
	}
	if int64(c.Regs.RAX) != int64(abi.EINVAL) {
		t.Errorf("RAX = %d, want %d", int64(c.Regs.RAX), int64(abi.EINVAL))
	}
}
