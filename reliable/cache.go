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
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/arcentrix/nbreliable/metrics"
	"github.com/arcentrix/nbreliable/pkg/logger"
	"github.com/arcentrix/nbreliable/substrate"
)

// sourcePrefix derives the default queryable addressing prefix for a
// source_id: hex-encoded so it is always a single, slash-free path segment
// regardless of what bytes the source id itself contains.
func sourcePrefix(sourceID string) string {
	return hex.EncodeToString([]byte(sourceID))
}

// stripFirstSegment recovers the plain resource key from a query's key
// expression, undoing the single prefix-or-wildcard segment a subscriber
// prepends to address one source's cache (or broadcast to all of them).
func stripFirstSegment(keyExpr string) string {
	if i := strings.IndexByte(keyExpr, '/'); i >= 0 {
		return keyExpr[i+1:]
	}
	return keyExpr
}

// closeDrainWindow bounds how long Close waits for in-flight Queryable
// replies to finish before the queryable and subscription are undeclared.
const closeDrainWindow = 200 * time.Millisecond

// Cache is the publisher-side reliability cache: it observes every sample a
// publisher emits and retains enough of it, per resource, to answer
// point-to-point recovery queries from subscribers that missed it live.
//
// The resource map is shared between the publish path (insert) and the
// query path (answer); mu guards the map itself, while each ring carries
// its own lock so a query never stalls inserts on other resources.
type Cache struct {
	sess    substrate.Session
	keyExpr string
	cfg     CacheConfig

	mu        sync.Mutex
	resources map[string]*HistoryRing
	order     []string // insertion order, for ResourcesLimit eviction

	sub       substrate.Subscriber
	queryable substrate.Queryable

	closed   bool
	inflight sync.WaitGroup
	drainWG  sync.WaitGroup
}

// NewCache declares a Reliability Cache over keyExpr on sess.
func NewCache(ctx context.Context, sess substrate.Session, keyExpr string, opts ...CacheOption) (*Cache, error) {
	cfg := defaultCacheConfig()
	for _, o := range opts {
		o.applyCache(&cfg)
	}
	if cfg.SourceID == "" {
		cfg.SourceID = sess.ZID()
	}
	if cfg.QueryablePrefix == "" {
		cfg.QueryablePrefix = sourcePrefix(cfg.SourceID)
	}

	c := &Cache{
		sess:      sess,
		keyExpr:   keyExpr,
		cfg:       cfg,
		resources: make(map[string]*HistoryRing),
	}

	sub, err := sess.DeclareSubscriber(ctx, keyExpr, cfg.SubscriberOrigin)
	if err != nil {
		return nil, &Error{Kind: KindFatalSetup, KeyExpr: keyExpr, Err: err}
	}
	c.sub = sub

	// The queryable answers under <prefix>/<keyExpr>, never the bare
	// keyExpr: QueryablePrefix defaults to hex(source_id), so a subscriber
	// can target exactly this cache (prefix/keyExpr) or broadcast across
	// every source's cache on this resource (*/keyExpr) without two
	// different publishers' caches on the same resource ever answering for
	// each other.
	queryableExpr := cfg.QueryablePrefix + "/" + keyExpr
	qa, err := sess.DeclareQueryable(ctx, queryableExpr, c.answer)
	if err != nil {
		_ = sub.Undeclare(ctx)
		return nil, &Error{Kind: KindFatalSetup, KeyExpr: queryableExpr, Err: err}
	}
	c.queryable = qa

	c.drainWG.Add(1)
	go c.run()

	return c, nil
}

func (c *Cache) run() {
	defer c.drainWG.Done()
	ctx := context.Background()
	for {
		sample, err := c.sub.Recv(ctx)
		if err != nil {
			return
		}
		c.insert(sample)
	}
}

func (c *Cache) insert(s substrate.Sample) {
	// Retained entries are attributed to cfg.SourceID when answering, so
	// anything another source published on the same key must not land in
	// the rings -- the origin policy already filters most of this at the
	// subscription, but not when several publishers share one session.
	if s.Source.SourceID != c.cfg.SourceID {
		return
	}
	entry := HistoryEntry{SN: s.Source.SourceSN, Kind: s.Kind, Payload: s.Payload, Time: s.Time}
	c.mu.Lock()
	ring, ok := c.resources[s.KeyExpr]
	if !ok {
		if c.cfg.ResourcesLimit > 0 && len(c.order) >= c.cfg.ResourcesLimit {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.resources, oldest)
		}
		if c.cfg.RingFactory != nil {
			ring = NewHistoryRingWithStore(c.cfg.RingFactory(s.KeyExpr, c.cfg.History))
		} else {
			ring = NewHistoryRing(c.cfg.History)
		}
		c.resources[s.KeyExpr] = ring
		c.order = append(c.order, s.KeyExpr)
	}
	c.mu.Unlock()

	evicted := ring.Push(entry)
	metrics.HistoryRingLen.WithLabelValues(s.KeyExpr).Set(float64(ring.Len()))
	if evicted != nil && c.cfg.Journal != nil {
		if err := c.cfg.Journal.Append(context.Background(), s.KeyExpr, s.Source.SourceID, *evicted); err != nil {
			logger.Channel("cache").Errorw("journal append failed, evicted entry is now unrecoverable",
				"key_expr", s.KeyExpr, "source_id", s.Source.SourceID, "sn", evicted.SN, "error", err)
		}
	}
}

// answer is the substrate.QueryHandler backing this cache's Queryable. It
// decodes the selector, looks up matching retained entries (falling back to
// the journal for anything the in-memory ring already evicted), and
// streams them back as Replies.
func (c *Cache) answer(ctx context.Context, q substrate.Query, out chan<- Reply) {
	c.inflight.Add(1)
	defer c.inflight.Done()
	defer close(out)

	sourceID, rng, err := decodeSelector(q.Selector, c.cfg.SourceID)
	if err != nil {
		logger.Channel("cache").Warnw("malformed query selector", "key_expr", q.KeyExpr, "selector", q.Selector, "error", err)
		metrics.CacheQueries.WithLabelValues(q.KeyExpr, "malformed").Inc()
		out <- Reply{Err: err}
		return
	}

	// This cache only ever retains history for c.cfg.SourceID. A broadcast
	// query (key expression prefixed with "*") reaches every source's cache
	// on the resource, so an explicit _src naming a different source is
	// expected here and must be answered with silence, not this cache's own
	// samples mislabeled under someone else's source id.
	if sourceID != c.cfg.SourceID {
		metrics.CacheQueries.WithLabelValues(q.KeyExpr, "wrong_source").Inc()
		return
	}

	resourceKey := stripFirstSegment(q.KeyExpr)

	c.mu.Lock()
	ring, ok := c.resources[resourceKey]
	c.mu.Unlock()

	var entries []HistoryEntry
	if ok {
		entries = ring.Query(rng.Lo, rng.Hi)
	}
	if c.cfg.Journal != nil {
		covered := make(map[uint64]bool, len(entries))
		for _, e := range entries {
			covered[e.SN] = true
		}
		if archived, jerr := c.cfg.Journal.Query(ctx, resourceKey, sourceID, rng.Lo, rng.Hi); jerr == nil {
			for _, e := range archived {
				if !covered[e.SN] {
					entries = append(entries, e)
				}
			}
		}
	}

	result := "hit"
	if len(entries) == 0 {
		result = "miss"
	}
	metrics.CacheQueries.WithLabelValues(q.KeyExpr, result).Inc()

	for _, e := range entries {
		sample := Sample{
			KeyExpr:  resourceKey,
			Kind:     e.Kind,
			Payload:  e.Payload,
			SourceID: sourceID,
			SourceSN: e.SN,
			Time:     e.Time,
		}
		select {
		case out <- Reply{Sample: sample.toSubstrate()}:
		case <-ctx.Done():
			return
		}
	}
}

// Reply is an alias of substrate.Reply; kept here so callers of the
// reliable package's Cache never need their own import of substrate just
// to talk about what a Queryable handler sends.
type Reply = substrate.Reply

// Close tears down the cache's subscription and queryable. In-flight
// Queryable replies get up to closeDrainWindow to finish before the
// queryable and subscription are undeclared and the journal, if any, is
// closed. The resource map and its rings are left in place.
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(closeDrainWindow):
	}

	_ = c.queryable.Undeclare(ctx)
	_ = c.sub.Undeclare(ctx)
	c.drainWG.Wait()

	if c.cfg.Journal != nil {
		_ = c.cfg.Journal.Close()
	}
	return nil
}
