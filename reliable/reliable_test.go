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

func TestPublisherSubscriberDeliversInOrder(t *testing.T) {
	ctx := context.Background()
	bus := localbus.New(256)

	pub, err := NewPublisher(ctx, bus, "demo/sensor", WithHistory(16))
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	defer pub.Close(ctx)

	sub, err := NewSubscriber(ctx, bus, "demo/sensor")
	if err != nil {
		t.Fatalf("NewSubscriber: %v", err)
	}
	defer sub.Close(ctx)

	const n = 20
	for i := 0; i < n; i++ {
		if err := pub.Put(ctx, []byte{byte(i)}); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}

	for i := 0; i < n; i++ {
		rctx, cancel := context.WithTimeout(ctx, time.Second)
		sample, err := sub.Recv(rctx)
		cancel()
		if err != nil {
			t.Fatalf("Recv %d: %v", i, err)
		}
		if sample.SourceSN != uint64(i) {
			t.Fatalf("expected sn %d, got %d", i, sample.SourceSN)
		}
		if len(sample.Payload) != 1 || sample.Payload[0] != byte(i) {
			t.Fatalf("expected payload %d, got %v", i, sample.Payload)
		}
	}
}

func TestSubscriberRecoversDroppedLiveSampleViaBackfill(t *testing.T) {
	ctx := context.Background()
	// The backlog also bounds the cache's own subscription, so it must hold
	// the whole burst for the cache to retain every sample.
	bus := localbus.New(256)

	pub, err := NewPublisher(ctx, bus, "demo/sensor", WithHistory(64))
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	defer pub.Close(ctx)

	const n = 10
	for i := 0; i < n; i++ {
		if err := pub.Put(ctx, []byte{byte(i)}); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}
	// Give the cache's own goroutine a chance to observe the publications.
	time.Sleep(50 * time.Millisecond)

	// Subscriber declared after publication: it missed every live sample,
	// but WithHistoryBackfill(true) recovers them all via Get at startup.
	sub, err := NewSubscriber(ctx, bus, "demo/sensor", WithHistoryBackfill(true))
	if err != nil {
		t.Fatalf("NewSubscriber: %v", err)
	}
	defer sub.Close(ctx)

	seen := make(map[uint64]bool)
	for i := 0; i < n; i++ {
		rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		sample, err := sub.Recv(rctx)
		cancel()
		if err != nil {
			t.Fatalf("Recv %d: %v", i, err)
		}
		seen[sample.SourceSN] = true
	}
	for sn := uint64(0); sn < n; sn++ {
		if !seen[sn] {
			t.Fatalf("expected backfill to recover sn %d", sn)
		}
	}
}

func TestCacheAnswersSelectorWithDefaultSource(t *testing.T) {
	ctx := context.Background()
	bus := localbus.New(256)

	pub, err := NewPublisher(ctx, bus, "demo/sensor", WithHistory(16))
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	defer pub.Close(ctx)

	for i := 0; i < 5; i++ {
		if err := pub.Put(ctx, []byte{byte(i)}); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}
	// Give the cache's own goroutine a chance to observe the publications.
	time.Sleep(50 * time.Millisecond)

	replies, err := bus.Get(ctx, sourcePrefix(pub.SourceID())+"/demo/sensor", "", 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	count := 0
	for reply := range replies {
		if reply.Err != nil {
			t.Fatalf("unexpected reply error: %v", reply.Err)
		}
		if reply.Sample.Source.SourceID != pub.SourceID() {
			t.Fatalf("expected default source attribution to %q, got %q", pub.SourceID(), reply.Sample.Source.SourceID)
		}
		count++
	}
	if count != 5 {
		t.Fatalf("expected 5 replies from a selector-less Get, got %d", count)
	}
}

func TestTwoPublishersInterleaveWithPerSourceOrdering(t *testing.T) {
	ctx := context.Background()
	bus := localbus.New(256)

	p1, err := NewPublisher(ctx, bus, "demo/multi", WithHistory(64), WithSourceID("src-1"))
	if err != nil {
		t.Fatalf("NewPublisher p1: %v", err)
	}
	defer p1.Close(ctx)
	p2, err := NewPublisher(ctx, bus, "demo/multi", WithHistory(64), WithSourceID("src-2"))
	if err != nil {
		t.Fatalf("NewPublisher p2: %v", err)
	}
	defer p2.Close(ctx)

	sub, err := NewSubscriber(ctx, bus, "demo/multi")
	if err != nil {
		t.Fatalf("NewSubscriber: %v", err)
	}
	defer sub.Close(ctx)

	const n = 25
	done := make(chan error, 2)
	for _, p := range []*Publisher{p1, p2} {
		go func(p *Publisher) {
			for i := 0; i < n; i++ {
				if err := p.Put(ctx, []byte{byte(i)}); err != nil {
					done <- err
					return
				}
			}
			done <- nil
		}(p)
	}
	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	lastSN := map[string]int64{"src-1": -1, "src-2": -1}
	for i := 0; i < 2*n; i++ {
		rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		sample, err := sub.Recv(rctx)
		cancel()
		if err != nil {
			t.Fatalf("Recv %d: %v", i, err)
		}
		last, ok := lastSN[sample.SourceID]
		if !ok {
			t.Fatalf("sample from unexpected source %q", sample.SourceID)
		}
		if int64(sample.SourceSN) <= last {
			t.Fatalf("source %s delivered sn %d after %d", sample.SourceID, sample.SourceSN, last)
		}
		lastSN[sample.SourceID] = int64(sample.SourceSN)
	}
	for src, last := range lastSN {
		if last != n-1 {
			t.Fatalf("source %s: expected final sn %d, got %d", src, n-1, last)
		}
	}
}

func TestCacheIgnoresOtherSourcesPublications(t *testing.T) {
	ctx := context.Background()
	bus := localbus.New(256)

	p1, err := NewPublisher(ctx, bus, "demo/multi", WithHistory(16), WithSourceID("src-1"))
	if err != nil {
		t.Fatalf("NewPublisher p1: %v", err)
	}
	defer p1.Close(ctx)
	p2, err := NewPublisher(ctx, bus, "demo/multi", WithHistory(16), WithSourceID("src-2"))
	if err != nil {
		t.Fatalf("NewPublisher p2: %v", err)
	}
	defer p2.Close(ctx)

	for i := 0; i < 4; i++ {
		if err := p1.Put(ctx, []byte{byte(i)}); err != nil {
			t.Fatalf("p1 Put %d: %v", i, err)
		}
	}
	if err := p2.Put(ctx, []byte{0xFF}); err != nil {
		t.Fatalf("p2 Put: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	// src-1's cache must answer with exactly its own 4 samples; src-2's
	// publication on the same key must not have leaked into it.
	replies, err := bus.Get(ctx, sourcePrefix("src-1")+"/demo/multi", "", 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	count := 0
	for reply := range replies {
		if reply.Err != nil {
			t.Fatalf("unexpected reply error: %v", reply.Err)
		}
		if reply.Sample.Source.SourceID != "src-1" {
			t.Fatalf("expected src-1 attribution, got %q", reply.Sample.Source.SourceID)
		}
		count++
	}
	if count != 4 {
		t.Fatalf("expected 4 retained samples for src-1, got %d", count)
	}
}
