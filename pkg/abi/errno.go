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

import "fmt"

// Errno is a kernel error code. Errnos are negative so that a single signed
// result word can carry either a payload or an error: a system call returns
// the errno itself on failure and a non-negative value on success.
type Errno int64

// Error codes.
const (
	EUNKN     Errno = -1
	ENOENT    Errno = -2
	EACCES    Errno = -13
	EEXIST    Errno = -17
	ENOTDIR   Errno = -20
	EINVAL    Errno = -22
	ENOTEMPTY Errno = -90
)

var errnoMessages = map[Errno]string{
	EUNKN:     "unknown error",
	ENOENT:    "no such entry",
	EACCES:    "permission denied",
	EEXIST:    "entry exists",
	ENOTDIR:   "not a directory",
	EINVAL:    "invalid argument",
	ENOTEMPTY: "directory not empty",
}

// Error implements error.Error.
func (e Errno) Error() string {
	if msg, ok := errnoMessages[e]; ok {
		return msg
	}
	return fmt.Sprintf("errno(%d)", int64(e))
}

// EncodeResult folds a handler outcome into a result word. A non-zero errno
// wins over the value; success encodes the value unchanged.
func EncodeResult(v int64, err Errno) int64 {
	if err != 0 {
		return int64(err)
	}
	return v
}

// DecodeResult splits a result word back into payload or error. Negative
// words outside the errno catalog decode as EUNKN.
func DecodeResult(w int64) (int64, error) {
	if w >= 0 {
		return w, nil
	}
	e := Errno(w)
	if _, ok := errnoMessages[e]; !ok {
		return 0, EUNKN
	}
	return 0, e
}
