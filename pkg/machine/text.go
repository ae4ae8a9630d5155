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

import "sync"

// textBase is where minted code addresses start. It sits in the canonical
// high half, far from the stack arena, so a code address and a stack
// address can never be confused.
const textBase = 0xFFFFFFFF80000000

// TextRegistry mints addresses in the synthetic text segment for the
// locations control flow lands on: trap stubs, thread entries, switch
// resume points. A minted address decodes back to its name, so a popped
// return word or a decoded gate target is directly meaningful.
type TextRegistry struct {
	mu     sync.Mutex
	next   uint64
	byAddr map[uint64]string
	byName map[string]uint64
}

// NewTextRegistry returns an empty registry.
func NewTextRegistry() *TextRegistry {
	return &TextRegistry{
		next:   textBase,
		byAddr: make(map[uint64]string),
		byName: make(map[string]uint64),
	}
}

// Mint returns the address for name, allocating one on first use. Minting
// the same name again returns the same address.
func (t *TextRegistry) Mint(name string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if addr, ok := t.byName[name]; ok {
		return addr
	}
	addr := t.next
	t.next += 16
	t.byAddr[addr] = name
	t.byName[name] = addr
	return addr
}

// Name decodes a minted address.
func (t *TextRegistry) Name(addr uint64) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	name, ok := t.byAddr[addr]
	return name, ok
}

// Lookup returns the address previously minted for name.
func (t *TextRegistry) Lookup(name string) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	addr, ok := t.byName[name]
	return addr, ok
}
