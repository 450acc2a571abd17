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
	"time"

	"github.com/arcentrix/nbreliable/substrate"
)

// Default tunables for caches and subscribers.
const (
	DefaultHistory          = 1024
	DefaultResourcesLimit   = 0 // 0 means unlimited
	DefaultRepairAttempts   = 3
	DefaultRepairTimeout    = 3 * time.Second
	DefaultCacheOverflowCap = 65536
)

// CacheConfig configures a Cache attached to a publisher.
type CacheConfig struct {
	History         int
	ResourcesLimit  int
	QueryablePrefix string
	// SubscriberOrigin restricts which publications may feed this cache.
	// Defaults to OriginSessionLocal: a cache retains its own publisher's
	// samples, not every remote publication that happens to match keyExpr.
	SubscriberOrigin substrate.OriginPolicy
	// SourceID identifies the publisher this cache serves; answers to
	// queries with no explicit _src field are attributed to it. Defaults
	// to the owning session's ZID.
	SourceID string

	// RingFactory, when set, constructs the RingStore backing each
	// resource's HistoryRing instead of the default in-process memRing --
	// e.g. redisring.New, wired in via WithRingFactory, for retention that
	// survives the publisher process restarting. Kept as a factory
	// function rather than a concrete type so reliable never needs a
	// compile-time dependency on a specific backend package.
	RingFactory RingFactory

	// Journal, when non-nil, extends retention past ring capacity onto
	// disk. Concrete type is *journal.Journal; kept as an interface here
	// to avoid a reliable -> journal import cycle risk as the package
	// grows additional backends.
	Journal CacheJournal

	// AuditSink is stored with the configuration only: the Cache reports
	// no losses and never calls it. Loss events reach an audit sink through
	// Subscriber.SetAuditSink.
	AuditSink AuditSink
}

// CacheOption configures a Cache at construction time.
type CacheOption interface{ applyCache(*CacheConfig) }

type cacheOptionFunc func(*CacheConfig)

func (f cacheOptionFunc) applyCache(c *CacheConfig) { f(c) }

// WithHistory sets the per-resource history ring capacity.
func WithHistory(n int) CacheOption {
	return cacheOptionFunc(func(c *CacheConfig) { c.History = n })
}

// WithResourcesLimit caps the number of distinct key expressions tracked.
func WithResourcesLimit(n int) CacheOption {
	return cacheOptionFunc(func(c *CacheConfig) { c.ResourcesLimit = n })
}

// WithQueryablePrefix sets the first key-expression segment the cache's
// queryable answers under (<prefix>/<keyExpr>). When unset it defaults to
// hex(source_id), the prefix a Subscriber's targeted repair queries use.
func WithQueryablePrefix(prefix string) CacheOption {
	return cacheOptionFunc(func(c *CacheConfig) { c.QueryablePrefix = prefix })
}

// WithSourceID overrides the source identity the cache (and the publisher
// built on it) stamps onto samples, instead of the owning session's ZID.
// Needed when more than one publisher shares a session and each must
// remain its own source.
func WithSourceID(id string) CacheOption {
	return cacheOptionFunc(func(c *CacheConfig) { c.SourceID = id })
}

// WithSubscriberOrigin overrides which publications may feed the cache,
// e.g. substrate.OriginAny for a cache retaining remote publishers' traffic
// on their behalf.
func WithSubscriberOrigin(origin substrate.OriginPolicy) CacheOption {
	return cacheOptionFunc(func(c *CacheConfig) { c.SubscriberOrigin = origin })
}

// WithJournal attaches an on-disk overflow journal.
func WithJournal(j CacheJournal) CacheOption {
	return cacheOptionFunc(func(c *CacheConfig) { c.Journal = j })
}

// WithAuditSink sets CacheConfig.AuditSink. The Cache never calls it; see
// Subscriber.SetAuditSink for the sink that receives loss events.
func WithAuditSink(sink AuditSink) CacheOption {
	return cacheOptionFunc(func(c *CacheConfig) { c.AuditSink = sink })
}

// WithRingFactory overrides how each resource's HistoryRing is backed,
// e.g. to swap in a cross-process redisring.Ring:
//
//	reliable.WithRingFactory(func(keyExpr string, capacity int) reliable.RingStore {
//	    return redisring.New(client, keyExpr, capacity)
//	})
func WithRingFactory(f RingFactory) CacheOption {
	return cacheOptionFunc(func(c *CacheConfig) { c.RingFactory = f })
}

func defaultCacheConfig() CacheConfig {
	return CacheConfig{
		History:          DefaultHistory,
		ResourcesLimit:   DefaultResourcesLimit,
		SubscriberOrigin: substrate.OriginSessionLocal,
	}
}

// SubscriberConfig configures a Subscriber.
type SubscriberConfig struct {
	// History requests historical backfill at startup when true.
	History bool
	// Period, when non-zero, enables periodic gap-repair queries at this
	// interval in addition to reactive repair on detected gaps.
	Period time.Duration
	// RepairAttempts bounds how many repair queries are issued for a given
	// gap before it is reported as a permanent loss.
	RepairAttempts int
	// RepairTimeout bounds how long a single repair query may take, and
	// doubles as the rate-limit window before the same gap is re-queried.
	// Zero derives the default: three periods when periodic queries are
	// configured, DefaultRepairTimeout otherwise.
	RepairTimeout time.Duration
	// PendingLimit bounds the reorder buffer held per source before it is
	// treated as a cache overflow: discarded wholesale, reported as
	// KindCacheOverflow, and followed by a fresh backfill query. Defaults
	// to DefaultCacheOverflowCap.
	PendingLimit int
}

// SubscriberOption configures a Subscriber at construction time.
type SubscriberOption interface{ applySubscriber(*SubscriberConfig) }

type subscriberOptionFunc func(*SubscriberConfig)

func (f subscriberOptionFunc) applySubscriber(c *SubscriberConfig) { f(c) }

// WithHistoryBackfill enables the startup historical-recovery query.
func WithHistoryBackfill(enabled bool) SubscriberOption {
	return subscriberOptionFunc(func(c *SubscriberConfig) { c.History = enabled })
}

// WithPeriodicQueries enables periodic gap-repair scans at the given period.
func WithPeriodicQueries(period time.Duration) SubscriberOption {
	return subscriberOptionFunc(func(c *SubscriberConfig) { c.Period = period })
}

// WithRepairAttempts overrides the default repair attempt budget.
func WithRepairAttempts(n int) SubscriberOption {
	return subscriberOptionFunc(func(c *SubscriberConfig) { c.RepairAttempts = n })
}

// WithRepairTimeout overrides the default per-query repair timeout.
func WithRepairTimeout(d time.Duration) SubscriberOption {
	return subscriberOptionFunc(func(c *SubscriberConfig) { c.RepairTimeout = d })
}

// WithPendingLimit overrides the default reorder-buffer / cache-overflow
// cap per source.
func WithPendingLimit(n int) SubscriberOption {
	return subscriberOptionFunc(func(c *SubscriberConfig) { c.PendingLimit = n })
}

func defaultSubscriberConfig() SubscriberConfig {
	return SubscriberConfig{
		RepairAttempts: DefaultRepairAttempts,
		PendingLimit:   DefaultCacheOverflowCap,
	}
}
