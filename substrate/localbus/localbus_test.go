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

package localbus

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/arcentrix/nbreliable/substrate"
)

func TestPublishReachesMatchingSubscriber(t *testing.T) {
	ctx := context.Background()
	bus := New(8)

	sub, err := bus.DeclareSubscriber(ctx, "demo/**", substrate.OriginAny)
	if err != nil {
		t.Fatalf("DeclareSubscriber: %v", err)
	}
	pub, err := bus.DeclarePublisher(ctx, "demo/sensor/temp")
	if err != nil {
		t.Fatalf("DeclarePublisher: %v", err)
	}

	if err := pub.Put(ctx, []byte("21.5"), substrate.SourceInfo{SourceID: bus.ZID(), SourceSN: 0}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	sample, err := sub.Recv(rctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if sample.KeyExpr != "demo/sensor/temp" || string(sample.Payload) != "21.5" {
		t.Fatalf("unexpected sample %+v", sample)
	}
}

// TestGetMergesRepliesFromMultipleQueryables pins the Get fan-in contract:
// every matching queryable streams into (and closes) its own channel, and
// the caller sees one merged stream that closes exactly once, after all of
// them have finished.
func TestGetMergesRepliesFromMultipleQueryables(t *testing.T) {
	ctx := context.Background()
	bus := New(8)

	declare := func(prefix string, n int) {
		t.Helper()
		_, err := bus.DeclareQueryable(ctx, prefix+"/demo/sensor", func(ctx context.Context, q substrate.Query, out chan<- substrate.Reply) {
			defer close(out)
			for i := 0; i < n; i++ {
				out <- substrate.Reply{Sample: substrate.Sample{
					KeyExpr: "demo/sensor",
					Payload: []byte(prefix + "-" + strconv.Itoa(i)),
					Source:  substrate.SourceInfo{SourceID: prefix, SourceSN: uint64(i)},
				}}
			}
		})
		if err != nil {
			t.Fatalf("DeclareQueryable %s: %v", prefix, err)
		}
	}
	declare("srcA", 3)
	declare("srcB", 2)

	replies, err := bus.Get(ctx, "*/demo/sensor", "", substrate.TargetAll)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	perSource := map[string]int{}
	for reply := range replies {
		if reply.Err != nil {
			t.Fatalf("unexpected reply error: %v", reply.Err)
		}
		perSource[reply.Sample.Source.SourceID]++
	}
	if perSource["srcA"] != 3 || perSource["srcB"] != 2 {
		t.Fatalf("expected 3 replies from srcA and 2 from srcB, got %v", perSource)
	}
}

func TestGetWithNoMatchingQueryableClosesEmpty(t *testing.T) {
	bus := New(8)
	replies, err := bus.Get(context.Background(), "nothing/here", "", substrate.TargetAll)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	select {
	case _, ok := <-replies:
		if ok {
			t.Fatalf("expected no replies for an unmatched Get")
		}
	case <-time.After(time.Second):
		t.Fatalf("expected the reply channel to close promptly")
	}
}
