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

package log

import (
	"fmt"
	"time"
)

// TestLogger is the subset of testing.TB that the TestReporter needs.
type TestLogger interface {
	Logf(format string, args ...any)
}

// TestReporter routes log output through a test, so kernel debug logs show
// up interleaved with test output and only for failing runs. Install with
// SetTarget(TestReporter{T: t}).
type TestReporter struct {
	T TestLogger
}

// Emit implements Emitter.Emit.
func (r TestReporter) Emit(_ int, level Level, _ time.Time, format string, args ...any) {
	r.T.Logf("%s: %s", level, fmt.Sprintf(format, args...))
}
