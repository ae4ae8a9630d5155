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
	"github.com/tern-os/tern/pkg/abi"
	"github.com/tern-os/tern/pkg/thread"
)

// Standard descriptors.
const (
	fdStdin  = 0
	fdStdout = 1
	fdStderr = 2
)

// read implements Read(fd, buf, len): drain up to len bytes of console
// input into buf. An empty queue reads 0 bytes, end of input.
func read(k *Kernel, a0, a1, a2 uint64) int64 {
	fd, buf, n := a0, a1, int(a2)
	if fd != fdStdin || n < 0 {
		return abi.EncodeResult(0, abi.EINVAL)
	}
	data := k.Console.ReadInput(n)
	k.Mem.CopyOut(buf, data)
	return int64(len(data))
}

// write implements Write(fd, buf, len): append len bytes at buf to the
// console.
func write(k *Kernel, a0, a1, a2 uint64) int64 {
	fd, buf, n := a0, a1, int(a2)
	if (fd != fdStdout && fd != fdStderr) || n < 0 {
		return abi.EncodeResult(0, abi.EINVAL)
	}
	k.Console.Append(k.Mem.CopyIn(buf, n))
	return int64(n)
}

// mapUserHeap implements MapUserHeap(size): reserve a heap region and
// return its base address.
func mapUserHeap(k *Kernel, a0, _, _ uint64) int64 {
	if a0 == 0 {
		return abi.EncodeResult(0, abi.EINVAL)
	}
	return int64(k.space.Reserve(a0))
}

// processID implements ProcessID().
func processID(k *Kernel, _, _, _ uint64) int64 {
	pid, _ := k.Threads.RunningThread()
	return int64(pid)
}

// threadID implements ThreadID().
func threadID(k *Kernel, _, _, _ uint64) int64 {
	_, tid := k.Threads.RunningThread()
	return int64(tid)
}

// threadSwitch implements ThreadSwitch(): a cooperative yield.
func threadSwitch(k *Kernel, _, _, _ uint64) int64 {
	k.Threads.Yield()
	return 0
}

// threadSleep implements ThreadSleep(ms).
func threadSleep(k *Kernel, a0, _, _ uint64) int64 {
	k.Threads.SleepMillis(a0)
	return 0
}

// threadJoin implements ThreadJoin(id).
func threadJoin(k *Kernel, a0, _, _ uint64) int64 {
	switch err := k.Threads.Join(a0); err {
	case nil:
		return 0
	case thread.ErrNoSuchThread:
		return abi.EncodeResult(0, abi.ENOENT)
	case thread.ErrJoinSelf:
		return abi.EncodeResult(0, abi.EINVAL)
	default:
		return abi.EncodeResult(0, abi.EUNKN)
	}
}

// threadExit implements ThreadExit(). It does not return to the caller.
func threadExit(k *Kernel, _, _, _ uint64) int64 {
	k.Threads.Exit()
	return 0 // unreachable
}

// applicationStart implements ApplicationStart(nameBuf, nameLen): spawn the
// named user program and return its thread id.
func applicationStart(k *Kernel, a0, a1, _ uint64) int64 {
	if a1 == 0 {
		return abi.EncodeResult(0, abi.EINVAL)
	}
	name := string(k.Mem.CopyIn(a0, int(a1)))
	id, ok := k.Threads.StartApplication(name)
	if !ok {
		return abi.EncodeResult(0, abi.ENOENT)
	}
	return int64(id)
}

// getSystemTime implements GetSystemTime(): milliseconds since boot.
func getSystemTime(k *Kernel, _, _, _ uint64) int64 {
	return int64(k.Clock.SystemTimeMillis())
}

// getDate implements GetDate(): the date as Unix milliseconds.
func getDate(k *Kernel, _, _, _ uint64) int64 {
	return k.Clock.DateMillis()
}

// setDate implements SetDate(ms).
func setDate(k *Kernel, a0, _, _ uint64) int64 {
	if a0 == 0 {
		return abi.EncodeResult(0, abi.EINVAL)
	}
	k.Clock.SetDateMillis(int64(a0))
	return 0
}
