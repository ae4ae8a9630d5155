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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"

	"github.com/tern-os/tern/pkg/abi"
	"github.com/tern-os/tern/pkg/arch"
	"github.com/tern-os/tern/pkg/sys"
	"github.com/tern-os/tern/pkg/thread"
)

// Syscalls implements subcommands.Command for the "syscalls" command.
type Syscalls struct{}

// Name implements subcommands.Command.Name.
func (*Syscalls) Name() string {
	return "syscalls"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Syscalls) Synopsis() string {
	return "print the system call table"
}

// Usage implements subcommands.Command.Usage.
func (*Syscalls) Usage() string {
	return `syscalls - print the system call table
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Syscalls) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Syscalls) Execute(context.Context, *flag.FlagSet, ...any) subcommands.ExitStatus {
	kernel := sys.NewKernel(sys.Options{
		Threads: thread.NewEngine(),
		Space:   arch.NewAddressSpace(),
	})
	table := sys.NewTable(kernel, sys.DefaultHandlers())

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NUM\tNAME\tIMPLEMENTED")
	for no := abi.Sysno(0); no < abi.NumSyscalls; no++ {
		fmt.Fprintf(w, "%d\t%v\t%t\n", uintptr(no), no, table.Implemented(no))
	}
	w.Flush()
	return subcommands.ExitSuccess
}
