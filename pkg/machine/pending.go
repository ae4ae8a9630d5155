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

package machine

import (
	"math/bits"
	"sync"

	"github.com/tern-os/tern/pkg/gate"
	"github.com/tern-os/tern/pkg/log"
)

// pendingSet latches asynchronous interrupt requests until the processor
// is willing to take one. Lowest vector first, cleared on take, matching
// the interrupt controller's priority scheme.
type pendingSet struct {
	mu   sync.Mutex
	bits [4]uint64
}

func (p *pendingSet) pend(v gate.Vector) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bits[v/64] |= 1 << (v % 64)
}

func (p *pendingSet) take() (gate.Vector, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.bits {
		if w == 0 {
			continue
		}
		b := bits.TrailingZeros64(w)
		p.bits[i] &^= 1 << b
		return gate.Vector(i*64 + b), true
	}
	return 0, false
}

// Pend latches v for delivery at the next safepoint with interrupts
// enabled. Any goroutine may call it; this is the device side of the
// model.
func (c *CPU) Pend(v gate.Vector) {
	c.pending.pend(v)
}

// PendingEmpty reports whether any vector is latched.
func (c *CPU) PendingEmpty() bool {
	c.pending.mu.Lock()
	defer c.pending.mu.Unlock()
	for _, w := range c.pending.bits {
		if w != 0 {
			return false
		}
	}
	return true
}

// DeliverPending is a safepoint: with interrupts enabled and a vector
// latched, exactly one is delivered. Reports whether a delivery happened.
func (c *CPU) DeliverPending() bool {
	if !c.InterruptsEnabled() {
		return false
	}
	v, ok := c.pending.take()
	if !ok {
		return false
	}
	log.Debugf("delivering pending %v", v)
	c.Trap(v, 0)
	return true
}
