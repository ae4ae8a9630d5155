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

// Package abi describes the kernel's system call interface: the call
// numbers, the error codes, and the signed result word that carries both.
package abi

import "fmt"

// Sysno is a system call number.
type Sysno uintptr

// System call numbers. The numbering is ABI: user binaries bake these in,
// so existing entries never move and new ones are append-only.
const (
	Read Sysno = iota
	Write
	MapUserHeap
	ProcessID
	ThreadID
	ThreadSwitch
	ThreadSleep
	ThreadJoin
	ThreadExit
	ApplicationStart
	GetSystemTime
	GetDate
	SetDate

	// NumSyscalls is the number of defined system calls. Any number at or
	// above this is out of range.
	NumSyscalls = iota
)

var sysnoNames = [NumSyscalls]string{
	Read:             "read",
	Write:            "write",
	MapUserHeap:      "map_user_heap",
	ProcessID:        "process_id",
	ThreadID:         "thread_id",
	ThreadSwitch:     "thread_switch",
	ThreadSleep:      "thread_sleep",
	ThreadJoin:       "thread_join",
	ThreadExit:       "thread_exit",
	ApplicationStart: "application_start",
	GetSystemTime:    "get_system_time",
	GetDate:          "get_date",
	SetDate:          "set_date",
}

// String implements fmt.Stringer.
func (s Sysno) String() string {
	if s < NumSyscalls {
		return sysnoNames[s]
	}
	return fmt.Sprintf("sysno(%d)", uintptr(s))
}
