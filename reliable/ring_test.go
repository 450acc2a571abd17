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

import "testing"

func TestHistoryRingFIFOEviction(t *testing.T) {
	r := NewHistoryRing(4) // rounds to power of two, already 4
	for sn := uint64(0); sn < 4; sn++ {
		if evicted := r.Push(HistoryEntry{SN: sn}); evicted != nil {
			t.Fatalf("sn %d: unexpected eviction before ring is full", sn)
		}
	}
	if r.Len() != 4 {
		t.Fatalf("expected len 4, got %d", r.Len())
	}

	evicted := r.Push(HistoryEntry{SN: 4})
	if evicted == nil || evicted.SN != 0 {
		t.Fatalf("expected sn 0 to be evicted, got %+v", evicted)
	}
	if r.Len() != 4 {
		t.Fatalf("expected len to remain 4 after eviction, got %d", r.Len())
	}
}

func TestHistoryRingQueryRange(t *testing.T) {
	r := NewHistoryRing(8)
	for sn := uint64(0); sn < 8; sn++ {
		r.Push(HistoryEntry{SN: sn})
	}
	got := r.Query(2, 5)
	if len(got) != 4 {
		t.Fatalf("expected 4 entries in [2,5], got %d", len(got))
	}
	for i, e := range got {
		if e.SN != uint64(2+i) {
			t.Fatalf("expected ascending sn order starting at 2, got %d at position %d", e.SN, i)
		}
	}
}

func TestHistoryRingCapacityRoundsUpToPowerOfTwo(t *testing.T) {
	r := NewHistoryRing(5)
	for sn := uint64(0); sn < 8; sn++ {
		r.Push(HistoryEntry{SN: sn})
	}
	if r.Len() != 8 {
		t.Fatalf("expected capacity to round 5 up to 8, got len %d", r.Len())
	}
}
