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

package gate

import "github.com/tern-os/tern/pkg/arch"

// Table is the interrupt descriptor table: one gate per vector.
type Table struct {
	gates [NumVectors]Descriptor
}

// Init rebuilds the table from the handler map. Every registered vector
// gets an interrupt gate reachable only from ring 0, with two carve-outs:
// Breakpoint and Overflow carry DPL 3 so user code may raise them, and the
// system call vector is a DPL 3 trap gate so a caller both reaches it from
// ring 3 and arrives with interrupts still enabled. Unregistered vectors
// are left non-present; stale gates from a previous Init never survive.
func (t *Table) Init(cs arch.Selector, entries map[Vector]uint64) {
	*t = Table{}
	for v, target := range entries {
		if v == Syscall {
			t.gates[v].SetTrap(cs, target, 3, 1 /* ist */)
			continue
		}
		dpl := 0
		if v == Breakpoint || v == Overflow {
			dpl = 3
		}
		t.gates[v].SetInterrupt(cs, target, dpl, 1 /* ist */)
	}
}

// Gate returns the descriptor for v and whether it is present.
func (t *Table) Gate(v Vector) (Descriptor, bool) {
	return t.gates[v], t.gates[v].Present()
}
