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

// Package localbus is an in-process reference substrate.Session: wildcard
// key-expression routing plus a query/reply plane, with no broker behind
// it. It backs unit tests and single-binary demos where publisher and
// subscriber share a process.
package localbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/arcentrix/nbreliable/substrate"
)

type subscription struct {
	keyExpr string
	ch      chan substrate.Sample
	closed  bool
	mu      sync.Mutex
}

func (s *subscription) deliver(sample substrate.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- sample:
	default:
		// Slow subscriber: drop rather than block the publisher goroutine.
		// The reliable layer's gap tracker treats a dropped live sample the
		// same as a network loss and recovers it via Get.
	}
}

func (s *subscription) Recv(ctx context.Context) (substrate.Sample, error) {
	select {
	case sample, ok := <-s.ch:
		if !ok {
			return substrate.Sample{}, fmt.Errorf("localbus: subscriber closed")
		}
		return sample, nil
	case <-ctx.Done():
		return substrate.Sample{}, ctx.Err()
	}
}

func (s *subscription) Undeclare(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

type queryable struct {
	keyExpr string
	handler substrate.QueryHandler
	bus     *Bus
}

func (q *queryable) KeyExpr() string { return q.keyExpr }

func (q *queryable) Undeclare(context.Context) error {
	q.bus.mu.Lock()
	defer q.bus.mu.Unlock()
	for i, r := range q.bus.queryables {
		if r == q {
			q.bus.queryables = append(q.bus.queryables[:i], q.bus.queryables[i+1:]...)
			break
		}
	}
	return nil
}

type publisher struct {
	keyExpr string
	bus     *Bus
	zid     string
}

func (p *publisher) KeyExpr() string { return p.keyExpr }

func (p *publisher) Put(ctx context.Context, payload []byte, src substrate.SourceInfo) error {
	return p.bus.publish(substrate.Sample{
		KeyExpr: p.keyExpr,
		Kind:    substrate.KindPut,
		Payload: payload,
		Source:  src,
	})
}

func (p *publisher) Delete(ctx context.Context, src substrate.SourceInfo) error {
	return p.bus.publish(substrate.Sample{
		KeyExpr: p.keyExpr,
		Kind:    substrate.KindDelete,
		Source:  src,
	})
}

func (p *publisher) Undeclare(context.Context) error { return nil }

// Bus is an in-process substrate.Session. The zero value is not usable;
// construct with New.
type Bus struct {
	mu          sync.Mutex
	zid         string
	subscribers []*subscription
	queryables  []*queryable
	backlog     int
}

// New creates a Bus. backlog bounds each subscriber's channel so a slow
// consumer can't make the publisher's goroutine block indefinitely.
func New(backlog int) *Bus {
	if backlog <= 0 {
		backlog = 256
	}
	return &Bus{zid: uuid.NewString(), backlog: backlog}
}

func (b *Bus) ZID() string { return b.zid }

func (b *Bus) DeclarePublisher(_ context.Context, keyExpr string) (substrate.Publisher, error) {
	return &publisher{keyExpr: keyExpr, bus: b, zid: b.zid}, nil
}

func (b *Bus) DeclareSubscriber(_ context.Context, keyExpr string, _ substrate.OriginPolicy) (substrate.Subscriber, error) {
	sub := &subscription{keyExpr: keyExpr, ch: make(chan substrate.Sample, b.backlog)}
	b.mu.Lock()
	b.subscribers = append(b.subscribers, sub)
	b.mu.Unlock()
	return sub, nil
}

func (b *Bus) DeclareQueryable(_ context.Context, keyExpr string, handler substrate.QueryHandler) (substrate.Queryable, error) {
	q := &queryable{keyExpr: keyExpr, handler: handler, bus: b}
	b.mu.Lock()
	b.queryables = append(b.queryables, q)
	b.mu.Unlock()
	return q, nil
}

func (b *Bus) Get(ctx context.Context, keyExpr string, selector string, _ substrate.Target) (<-chan substrate.Reply, error) {
	b.mu.Lock()
	matches := make([]*queryable, 0, len(b.queryables))
	for _, q := range b.queryables {
		if substrate.MatchKeyExpr(q.keyExpr, keyExpr) || substrate.MatchKeyExpr(keyExpr, q.keyExpr) {
			matches = append(matches, q)
		}
	}
	b.mu.Unlock()

	// Each handler gets its own reply channel, which the QueryHandler
	// contract has it close when done; fan the per-handler streams into
	// one merged channel so two matching queryables never race to close
	// (or write past the close of) a shared one.
	out := make(chan substrate.Reply, 64)
	var wg sync.WaitGroup
	for _, q := range matches {
		wg.Add(1)
		qout := make(chan substrate.Reply, 16)
		go q.handler(ctx, substrate.Query{KeyExpr: keyExpr, Selector: selector}, qout)
		go func() {
			defer wg.Done()
			for reply := range qout {
				select {
				case out <- reply:
				case <-ctx.Done():
					for range qout {
					}
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

func (b *Bus) publish(sample substrate.Sample) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subscribers {
		if substrate.MatchKeyExpr(sub.keyExpr, sample.KeyExpr) {
			sub.deliver(sample)
		}
	}
	return nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subscribers {
		sub.Undeclare(context.Background())
	}
	b.subscribers = nil
	b.queryables = nil
	return nil
}
