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

package arch

import (
	"bytes"
	"strings"
	"testing"
)

func TestSelectors(t *testing.T) {
	for _, tc := range []struct {
		sel  Selector
		rpl  int
		name string
	}{
		{Kcode, 0, "Kcode"},
		{Kdata, 0, "Kdata"},
		{Ucode, 3, "Ucode"},
		{Udata, 3, "Udata"},
	} {
		if got := tc.sel.RPL(); got != tc.rpl {
			t.Errorf("%s.RPL() = %d, want %d", tc.name, got, tc.rpl)
		}
	}
	// Kernel and user code selectors must name different segments.
	if Kcode>>3 == Ucode>>3 {
		t.Errorf("Kcode and Ucode share a segment index")
	}
}

func TestKernelFlags(t *testing.T) {
	if KernelFlags != 0x202 {
		t.Errorf("KernelFlags = %#x, want 0x202", uint64(KernelFlags))
	}
	if KernelFlags&FlagIF == 0 {
		t.Errorf("fresh threads must start with interrupts enabled")
	}
}

func TestSanitizeUserFlags(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   uint64
	}{
		{"zero", 0},
		{"interrupts off", _RFLAGS_RESERVED},
		{"iopl escalation", 0x202 | _RFLAGS_IOPL},
		{"nested task", 0x202 | _RFLAGS_NT},
	} {
		got := SanitizeUserFlags(tc.in)
		if got&FlagIF == 0 {
			t.Errorf("%s: sanitized flags %#x have IF clear", tc.name, got)
		}
		if got&_RFLAGS_RESERVED == 0 {
			t.Errorf("%s: sanitized flags %#x lost the reserved bit", tc.name, got)
		}
		if got&uint64(UserFlagsClear) != 0 {
			t.Errorf("%s: sanitized flags %#x carry system bits", tc.name, got)
		}
	}
	// Arithmetic bits survive.
	const cf = 1 << 0
	if got := SanitizeUserFlags(0x202 | cf); got&cf == 0 {
		t.Errorf("sanitize dropped the carry flag")
	}
}

func TestRegistersDump(t *testing.T) {
	r := testRegs()
	var buf bytes.Buffer
	r.DumpTo(&buf)
	out := buf.String()
	for _, want := range []string{"RAX", "R15", "RIP", "RFL", "CS"} {
		if !strings.Contains(out, want) {
			t.Errorf("dump is missing %s:\n%s", want, out)
		}
	}
}
