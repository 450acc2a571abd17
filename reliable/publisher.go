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

	"github.com/arcentrix/nbreliable/metrics"
	"github.com/arcentrix/nbreliable/substrate"
)

// Publisher wraps a substrate.Publisher with the monotonic per-source
// sequencing a Subscriber depends on, and keeps a Cache alongside it so
// missed samples stay recoverable.
type Publisher struct {
	pub      substrate.Publisher
	sourceID string
	seq      *Sequencer
	cache    *Cache
}

// NewPublisher declares a substrate Publisher under keyExpr and a
// Reliability Cache alongside it, configured by opts, so subscribers can
// recover anything they miss live.
func NewPublisher(ctx context.Context, sess substrate.Session, keyExpr string, opts ...CacheOption) (*Publisher, error) {
	pub, err := sess.DeclarePublisher(ctx, keyExpr)
	if err != nil {
		return nil, &Error{Kind: KindFatalSetup, KeyExpr: keyExpr, Err: err}
	}

	cache, err := NewCache(ctx, sess, keyExpr, opts...)
	if err != nil {
		_ = pub.Undeclare(ctx)
		return nil, err
	}

	return &Publisher{
		pub:      pub,
		sourceID: cache.cfg.SourceID,
		seq:      &Sequencer{},
		cache:    cache,
	}, nil
}

// SourceID is this publisher's identity as attached to every sample it
// emits, matching what subscribers must name in a targeted selector.
func (p *Publisher) SourceID() string { return p.sourceID }

// Put publishes payload under the publisher's key expression, attaching
// the next sequence number for this source.
func (p *Publisher) Put(ctx context.Context, payload []byte) error {
	src := substrate.SourceInfo{SourceID: p.sourceID, SourceSN: p.seq.Next()}
	err := p.pub.Put(ctx, payload, src)
	if err == nil {
		metrics.SamplesPublished.WithLabelValues(p.cache.keyExpr).Inc()
	}
	return err
}

// Delete publishes a retraction under the publisher's key expression,
// attaching the next sequence number for this source.
func (p *Publisher) Delete(ctx context.Context) error {
	src := substrate.SourceInfo{SourceID: p.sourceID, SourceSN: p.seq.Next()}
	return p.pub.Delete(ctx, src)
}

// Close undeclares the publisher and its backing cache.
func (p *Publisher) Close(ctx context.Context) error {
	if err := p.cache.Close(ctx); err != nil {
		return err
	}
	return p.pub.Undeclare(ctx)
}
