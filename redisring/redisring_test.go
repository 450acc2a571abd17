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

package redisring

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arcentrix/nbreliable/reliable"
	"github.com/arcentrix/nbreliable/substrate"
)

// newTestClient connects to a local Redis instance, skipping the test when
// none is reachable -- these tests exercise the real wire protocol rather
// than a fake, so they need an actual server the way the rate-limiter
// integration suite in the example pack does.
func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable at localhost:6379: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func entry(sn uint64, payload string) reliable.HistoryEntry {
	return reliable.HistoryEntry{
		SN:      sn,
		Kind:    substrate.KindPut,
		Payload: []byte(payload),
		Time:    time.Unix(0, int64(sn)*int64(time.Second)),
	}
}

func TestRingPushAndQuery(t *testing.T) {
	client := newTestClient(t)
	r := New(client, "test/ring/push-query", 8)
	defer func() { _ = r.Close() }()

	for i := uint64(1); i <= 5; i++ {
		if evicted := r.Push(entry(i, "payload")); evicted != nil {
			t.Fatalf("unexpected eviction at sn %d", i)
		}
	}

	if got := r.Len(); got != 5 {
		t.Fatalf("Len() = %d, want 5", got)
	}

	got := r.Query(2, 4)
	if len(got) != 3 {
		t.Fatalf("Query(2,4) returned %d entries, want 3", len(got))
	}
	for i, e := range got {
		wantSN := uint64(2 + i)
		if e.SN != wantSN {
			t.Fatalf("entry %d: SN = %d, want %d", i, e.SN, wantSN)
		}
		if string(e.Payload) != "payload" {
			t.Fatalf("entry %d: Payload = %q, want %q", i, e.Payload, "payload")
		}
	}
}

func TestRingEvictsOldestAtCapacity(t *testing.T) {
	client := newTestClient(t)
	r := New(client, "test/ring/evict", 3)
	defer func() { _ = r.Close() }()

	for i := uint64(1); i <= 3; i++ {
		if evicted := r.Push(entry(i, "payload")); evicted != nil {
			t.Fatalf("unexpected eviction at sn %d", i)
		}
	}

	evicted := r.Push(entry(4, "payload"))
	if evicted == nil || evicted.SN != 1 {
		t.Fatalf("expected sn 1 evicted, got %v", evicted)
	}
	if got := r.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}

	got := r.Query(0, 100)
	if len(got) != 3 || got[0].SN != 2 {
		t.Fatalf("expected sns [2,3,4] retained, got %v", got)
	}
}

func TestRingQueryEmptyRange(t *testing.T) {
	client := newTestClient(t)
	r := New(client, "test/ring/empty", 4)
	defer func() { _ = r.Close() }()

	r.Push(entry(1, "payload"))

	if got := r.Query(100, 200); len(got) != 0 {
		t.Fatalf("expected no entries in [100,200], got %d", len(got))
	}
}

func TestRingCloseRemovesBackingKeys(t *testing.T) {
	client := newTestClient(t)
	r := New(client, "test/ring/close", 4)
	r.Push(entry(1, "payload"))

	if err := r.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if got := r.Len(); got != 0 {
		t.Fatalf("Len() after Close() = %d, want 0", got)
	}
}
