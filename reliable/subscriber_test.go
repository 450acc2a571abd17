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

import (
	"context"
	"testing"
	"time"

	"github.com/arcentrix/nbreliable/substrate/localbus"
)

// TestSubscriberRepairsInteriorGapWithoutPeriodicScan proves gap-triggered
// repair is independent of the periodic tail scan: with no
// WithPeriodicQueries configured (so runPeriodicRepair never even starts),
// an interior gap opened on the live path must still be repaired from the
// Cache, driven entirely by admit's own inline check.
func TestSubscriberRepairsInteriorGapWithoutPeriodicScan(t *testing.T) {
	ctx := context.Background()
	bus := localbus.New(256)

	pub, err := NewPublisher(ctx, bus, "demo/sensor", WithHistory(16))
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	defer pub.Close(ctx)

	const n = 5
	for i := 0; i < n; i++ {
		if err := pub.Put(ctx, []byte{byte(i)}); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}
	// Give the cache's own goroutine a chance to observe the publications
	// before the subscriber's repair query is expected to find them.
	time.Sleep(50 * time.Millisecond)

	sub, err := NewSubscriber(ctx, bus, "demo/sensor")
	if err != nil {
		t.Fatalf("NewSubscriber: %v", err)
	}
	defer sub.Close(ctx)

	// Feed the live path directly, simulating sn 1 being dropped before it
	// ever reached the subscriber: sn 0 delivers immediately, sn 2 opens an
	// interior gap at [1,1].
	sub.admit(Sample{KeyExpr: "demo/sensor", SourceID: pub.SourceID(), SourceSN: 0, Payload: []byte{0}}, true)
	sub.admit(Sample{KeyExpr: "demo/sensor", SourceID: pub.SourceID(), SourceSN: 2, Payload: []byte{2}}, true)

	seen := make(map[uint64]bool)
	for i := 0; i < 3; i++ {
		rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		sample, err := sub.Recv(rctx)
		cancel()
		if err != nil {
			t.Fatalf("Recv %d: %v", i, err)
		}
		if sample.SourceSN != uint64(i) {
			t.Fatalf("expected in-order delivery, got sn %d at position %d", sample.SourceSN, i)
		}
		seen[sample.SourceSN] = true
	}
	for sn := uint64(0); sn < 3; sn++ {
		if !seen[sn] {
			t.Fatalf("expected sn %d to be delivered, repair never recovered it", sn)
		}
	}
}

func TestSubscriberDerivesRepairTimeoutFromPeriod(t *testing.T) {
	ctx := context.Background()
	bus := localbus.New(8)

	withPeriod, err := NewSubscriber(ctx, bus, "demo/sensor", WithPeriodicQueries(200*time.Millisecond))
	if err != nil {
		t.Fatalf("NewSubscriber: %v", err)
	}
	defer withPeriod.Close(ctx)
	if got, want := withPeriod.cfg.RepairTimeout, 600*time.Millisecond; got != want {
		t.Fatalf("expected repair timeout of three periods (%v), got %v", want, got)
	}

	noPeriod, err := NewSubscriber(ctx, bus, "demo/sensor")
	if err != nil {
		t.Fatalf("NewSubscriber: %v", err)
	}
	defer noPeriod.Close(ctx)
	if got := noPeriod.cfg.RepairTimeout; got != DefaultRepairTimeout {
		t.Fatalf("expected flat default timeout %v without a period, got %v", DefaultRepairTimeout, got)
	}

	explicit, err := NewSubscriber(ctx, bus, "demo/sensor",
		WithPeriodicQueries(200*time.Millisecond), WithRepairTimeout(time.Second))
	if err != nil {
		t.Fatalf("NewSubscriber: %v", err)
	}
	defer explicit.Close(ctx)
	if got := explicit.cfg.RepairTimeout; got != time.Second {
		t.Fatalf("expected explicit timeout to win over derivation, got %v", got)
	}
}
