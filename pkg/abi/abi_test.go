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

package abi

import (
	"errors"
	"testing"
)

func TestSysnoNames(t *testing.T) {
	for s := Sysno(0); s < NumSyscalls; s++ {
		if name := s.String(); name == "" {
			t.Errorf("sysno %d has no name", s)
		}
	}
	if got, want := Read.String(), "read"; got != want {
		t.Errorf("Read.String() = %q, want %q", got, want)
	}
	if got, want := SetDate.String(), "set_date"; got != want {
		t.Errorf("SetDate.String() = %q, want %q", got, want)
	}
	if got, want := Sysno(99).String(), "sysno(99)"; got != want {
		t.Errorf("Sysno(99).String() = %q, want %q", got, want)
	}
}

func TestNumSyscalls(t *testing.T) {
	// SetDate is the last defined call.
	if got, want := int(SetDate)+1, int(NumSyscalls); got != want {
		t.Errorf("NumSyscalls = %d, want %d", want, got)
	}
}

func TestResultRoundTrip(t *testing.T) {
	for _, val := range []int64{0, 1, 42, 1 << 40} {
		w := EncodeResult(val, 0)
		got, err := DecodeResult(w)
		if err != nil {
			t.Errorf("DecodeResult(%d) returned error %v", w, err)
		}
		if got != val {
			t.Errorf("DecodeResult(%d) = %d, want %d", w, got, val)
		}
	}
	for _, e := range []Errno{EUNKN, ENOENT, EACCES, EEXIST, ENOTDIR, EINVAL, ENOTEMPTY} {
		w := EncodeResult(123, e)
		if w != int64(e) {
			t.Errorf("EncodeResult(123, %v) = %d, want %d", e, w, int64(e))
		}
		if _, err := DecodeResult(w); !errors.Is(err, e) {
			t.Errorf("DecodeResult(%d) error = %v, want %v", w, err, e)
		}
	}
}

func TestDecodeUnknownNegative(t *testing.T) {
	// -3 is not in the catalog; it must decode as EUNKN rather than leak.
	if _, err := DecodeResult(-3); !errors.Is(err, EUNKN) {
		t.Errorf("DecodeResult(-3) error = %v, want %v", err, EUNKN)
	}
}

func TestErrnoMessages(t *testing.T) {
	if got, want := EINVAL.Error(), "invalid argument"; got != want {
		t.Errorf("EINVAL.Error() = %q, want %q", got, want)
	}
	if got, want := Errno(-77).Error(), "errno(-77)"; got != want {
		t.Errorf("Errno(-77).Error() = %q, want %q", got, want)
	}
}
