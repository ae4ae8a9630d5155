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

package sys

import (
	"time"

	"github.com/tern-os/tern/pkg/abi"
	"github.com/tern-os/tern/pkg/log"
	"github.com/tern-os/tern/pkg/machine"
)

// unimplementedLog rate-limits the per-call warning below: a caller spinning
// on an unimplemented number must not flood the log.
var unimplementedLog = log.BasicRateLimitedLogger(5 * time.Second)

// Handler implements one system call against the kernel environment. The
// three argument words arrive exactly as the caller loaded them; the signed
// return word travels back in the caller's result register.
type Handler func(k *Kernel, a0, a1, a2 uint64) int64

// Table is the concrete system call table: registration by number into a
// dense array covering every defined call. It implements
// machine.SyscallTable; the machine's entry protocol does the bounds check,
// so Dispatch trusts its index.
type Table struct {
	k        *Kernel
	handlers [abi.NumSyscalls]Handler
	missing  [abi.NumSyscalls]bool
}

// NewTable builds the table for k from a registration map. Numbers absent
// from the map get a default handler that fails with EUNKN: present but
// unimplemented, which is a recoverable condition for the caller, unlike an
// out-of-range number.
func NewTable(k *Kernel, handlers map[abi.Sysno]Handler) *Table {
	t := &Table{k: k}
	for no := abi.Sysno(0); no < abi.NumSyscalls; no++ {
		h, ok := handlers[no]
		if !ok {
			t.missing[no] = true
			h = missingHandler(no)
			log.Infof("syscall %v not implemented", no)
		}
		t.handlers[no] = h
	}
	return t
}

func missingHandler(no abi.Sysno) Handler {
	return func(k *Kernel, a0, a1, a2 uint64) int64 {
		unimplementedLog.Warningf("unimplemented syscall %v(%#x, %#x, %#x)", no, a0, a1, a2)
		return abi.EncodeResult(0, abi.EUNKN)
	}
}

// Len implements machine.SyscallTable.Len.
func (t *Table) Len() int {
	return len(t.handlers)
}

// Dispatch implements machine.SyscallTable.Dispatch.
func (t *Table) Dispatch(c *machine.CPU, no abi.Sysno, a0, a1, a2 uint64) int64 {
	return t.handlers[no](t.k, a0, a1, a2)
}

// Implemented reports whether no has a real handler registered.
func (t *Table) Implemented(no abi.Sysno) bool {
	return int(no) < len(t.missing) && !t.missing[no]
}

// DefaultHandlers returns the full registration map.
func DefaultHandlers() map[abi.Sysno]Handler {
	return map[abi.Sysno]Handler{
		abi.Read:             read,
		abi.Write:            write,
		abi.MapUserHeap:      mapUserHeap,
		abi.ProcessID:        processID,
		abi.ThreadID:         threadID,
		abi.ThreadSwitch:     threadSwitch,
		abi.ThreadSleep:      threadSleep,
		abi.ThreadJoin:       threadJoin,
		abi.ThreadExit:       threadExit,
		abi.ApplicationStart: applicationStart,
		abi.GetSystemTime:    getSystemTime,
		abi.GetDate:          getDate,
		abi.SetDate:          setDate,
	}
}
