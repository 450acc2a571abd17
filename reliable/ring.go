// Copyright 2026 Arcentra Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reliable

import "sync"

// RingStore is the pluggable backend behind HistoryRing. memRing is the
// default, in-process implementation; redisring.Ring (package redisring)
// satisfies the same interface for cross-process retention.
type RingStore interface {
	Push(e HistoryEntry) (evicted *HistoryEntry)
	Query(lo, hi uint64) []HistoryEntry
	Len() int
}

// HistoryRing is a bounded, per-key-expression FIFO of the last N samples
// published on that key. Capacity is rounded up to a power of two so the
// cursor can index with a mask instead of a modulo. There is exactly one
// writer (the Cache's owning goroutine) and no consumer gating: once full,
// the oldest entry is unconditionally evicted to make room for the newest.
type HistoryRing struct {
	mu    sync.Mutex
	store RingStore
}

// NewHistoryRing creates an in-process, array-backed ring of the given
// capacity (rounded up to the next power of two).
func NewHistoryRing(capacity int) *HistoryRing {
	return &HistoryRing{store: newMemRing(capacity)}
}

// NewHistoryRingWithStore wraps an arbitrary RingStore backend (e.g. a
// Redis-backed one), allowing the Cache to remain agnostic to where
// history actually lives.
func NewHistoryRingWithStore(store RingStore) *HistoryRing {
	return &HistoryRing{store: store}
}

// RingFactory constructs the RingStore backing a single resource's
// HistoryRing, given that resource's key expression and the configured
// history capacity. A CacheConfig with a nil RingFactory gets the default
// in-process memRing via NewHistoryRing.
type RingFactory func(keyExpr string, capacity int) RingStore

// Push appends e, evicting and returning the oldest entry if the ring was
// already full.
func (r *HistoryRing) Push(e HistoryEntry) (evicted *HistoryEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Push(e)
}

// Query returns retained entries with sn in [lo, hi], in ascending sn order.
func (r *HistoryRing) Query(lo, hi uint64) []HistoryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Query(lo, hi)
}

// Len returns the number of entries currently retained.
func (r *HistoryRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Len()
}

func nextPow2(n int) int64 {
	if n <= 1 {
		return 1
	}
	p := int64(1)
	for p < int64(n) {
		p <<= 1
	}
	return p
}

type memRing struct {
	buf      []HistoryEntry
	mask     int64
	capacity int64
	cursor   int64 // index of the next slot to write, monotonic
	count    int64 // number of valid entries currently held
}

func newMemRing(capacity int) *memRing {
	cap2 := nextPow2(capacity)
	return &memRing{
		buf:      make([]HistoryEntry, cap2),
		mask:     cap2 - 1,
		capacity: cap2,
	}
}

func (m *memRing) Push(e HistoryEntry) *HistoryEntry {
	idx := m.cursor & m.mask
	var evicted *HistoryEntry
	if m.count == m.capacity {
		old := m.buf[idx]
		evicted = &old
	} else {
		m.count++
	}
	m.buf[idx] = e
	m.cursor++
	return evicted
}

func (m *memRing) Query(lo, hi uint64) []HistoryEntry {
	if m.count == 0 {
		return nil
	}
	out := make([]HistoryEntry, 0, m.count)
	start := m.cursor - m.count
	for i := start; i < m.cursor; i++ {
		e := m.buf[i&m.mask]
		if e.SN >= lo && e.SN <= hi {
			out = append(out, e)
		}
	}
	return out
}

func (m *memRing) Len() int {
	return int(m.count)
}
