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
	"testing"
	"time"
)

type countingLogger struct {
	debugs, infos, warnings int
}

func (c *countingLogger) Debugf(format string, v ...any)   { c.debugs++ }
func (c *countingLogger) Infof(format string, v ...any)    { c.infos++ }
func (c *countingLogger) Warningf(format string, v ...any) { c.warnings++ }
func (c *countingLogger) IsLogging(level Level) bool       { return true }

func TestRateLimitedLoggerBurst(t *testing.T) {
	cl := &countingLogger{}
	rl := RateLimitedLogger(cl, time.Hour)
	for i := 0; i < 10; i++ {
		rl.Warningf("spin %d", i)
	}
	if cl.warnings != 1 {
		t.Errorf("burst of 10 warnings passed %d, want 1", cl.warnings)
	}
}

func TestRateLimitedLoggerSharedBudget(t *testing.T) {
	// One budget covers all three levels.
	cl := &countingLogger{}
	rl := RateLimitedLogger(cl, time.Hour)
	rl.Infof("first")
	rl.Debugf("second")
	rl.Warningf("third")
	if got := cl.debugs + cl.infos + cl.warnings; got != 1 {
		t.Errorf("3 calls across levels passed %d, want 1", got)
	}
	if cl.infos != 1 {
		t.Errorf("the surviving call was not the first")
	}
}

func TestRateLimitedLoggerIsLogging(t *testing.T) {
	rl := RateLimitedLogger(&countingLogger{}, time.Hour)
	if !rl.IsLogging(Debug) {
		t.Errorf("IsLogging not forwarded to the wrapped logger")
	}
}
