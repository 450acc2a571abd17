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

// Package redisring is a cross-process reliable.RingStore backend, for
// deployments where a Cache's history must survive the publisher process
// restarting (the in-memory default does not). Entries live in a Redis
// sorted set scored by sequence number, trimmed by rank once the ring is
// over capacity.
package redisring

import (
	"context"
	"encoding/binary"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arcentrix/nbreliable/reliable"
)

// defaultTimeout bounds every Redis round trip a Ring operation performs.
// HistoryRing's interface (Push/Query/Len) has no context parameter to
// plumb a caller-supplied deadline through, so the ring carries its own.
const defaultTimeout = 2 * time.Second

// Ring is a reliable.RingStore backed by one Redis sorted set (score = sn,
// member = sn as a decimal string, for ordered iteration and rank-based
// trimming) and one companion hash (field = sn, value = encoded entry
// payload) holding the actual sample bytes.
type Ring struct {
	client   *redis.Client
	zsetKey  string
	hashKey  string
	capacity int64
}

// New creates a Ring over client, namespaced under keyExpr, retaining at
// most capacity entries.
func New(client *redis.Client, keyExpr string, capacity int) *Ring {
	if capacity <= 0 {
		capacity = reliable.DefaultHistory
	}
	ns := "nbreliable:ring:" + keyExpr
	return &Ring{
		client:   client,
		zsetKey:  ns + ":z",
		hashKey:  ns + ":h",
		capacity: int64(capacity),
	}
}

// Push appends e, evicting and returning the oldest entry if the ring was
// already at capacity. Eviction and insertion are not atomic across the
// zset and hash (a crash between them can leave a stale hash field behind
// for a member no longer in the zset); Query only ever looks up members
// actually present in the zset, so a stale hash field is inert, never
// surfaced.
func (r *Ring) Push(e reliable.HistoryEntry) (evicted *reliable.HistoryEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	member := strconv.FormatUint(e.SN, 10)
	value := encodeEntry(e)

	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, r.zsetKey, redis.Z{Score: float64(e.SN), Member: member})
	pipe.HSet(ctx, r.hashKey, member, value)
	card := pipe.ZCard(ctx, r.zsetKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil
	}

	count, err := card.Result()
	if err != nil || count <= r.capacity {
		return nil
	}

	oldest, err := r.client.ZRangeWithScores(ctx, r.zsetKey, 0, 0).Result()
	if err != nil || len(oldest) == 0 {
		return nil
	}
	oldestMember, _ := oldest[0].Member.(string)
	data, err := r.client.HGet(ctx, r.hashKey, oldestMember).Result()
	if err != nil {
		return nil
	}
	entry, ok := decodeEntry(uint64(oldest[0].Score), data)
	if !ok {
		return nil
	}

	pipe2 := r.client.TxPipeline()
	pipe2.ZRem(ctx, r.zsetKey, oldestMember)
	pipe2.HDel(ctx, r.hashKey, oldestMember)
	_, _ = pipe2.Exec(ctx)

	return &entry
}

// Query returns retained entries with sn in [lo, hi], in ascending sn order.
func (r *Ring) Query(lo, hi uint64) []reliable.HistoryEntry {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	members, err := r.client.ZRangeByScore(ctx, r.zsetKey, &redis.ZRangeBy{
		Min: strconv.FormatUint(lo, 10),
		Max: strconv.FormatUint(hi, 10),
	}).Result()
	if err != nil || len(members) == 0 {
		return nil
	}

	values, err := r.client.HMGet(ctx, r.hashKey, members...).Result()
	if err != nil {
		return nil
	}

	out := make([]reliable.HistoryEntry, 0, len(members))
	for i, member := range members {
		raw, ok := values[i].(string)
		if !ok {
			continue
		}
		sn, err := strconv.ParseUint(member, 10, 64)
		if err != nil {
			continue
		}
		if entry, ok := decodeEntry(sn, raw); ok {
			out = append(out, entry)
		}
	}
	return out
}

// Len returns the number of entries currently retained.
func (r *Ring) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	n, err := r.client.ZCard(ctx, r.zsetKey).Result()
	if err != nil {
		return 0
	}
	return int(n)
}

// Close removes the ring's backing zset and hash from Redis entirely.
func (r *Ring) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	return r.client.Del(ctx, r.zsetKey, r.hashKey).Err()
}

// encodeEntry packs an entry's Kind, Time, and Payload into the hash
// field's value: 1 byte kind, 8 bytes time (UnixNano, big-endian), then
// the raw payload bytes.
func encodeEntry(e reliable.HistoryEntry) string {
	buf := make([]byte, 9+len(e.Payload))
	buf[0] = byte(e.Kind)
	binary.BigEndian.PutUint64(buf[1:9], uint64(e.Time.UnixNano()))
	copy(buf[9:], e.Payload)
	return string(buf)
}

func decodeEntry(sn uint64, data string) (reliable.HistoryEntry, bool) {
	if len(data) < 9 {
		return reliable.HistoryEntry{}, false
	}
	b := []byte(data)
	kind := reliable.SampleKindFromByte(b[0])
	nanos := int64(binary.BigEndian.Uint64(b[1:9]))
	payload := append([]byte(nil), b[9:]...)
	return reliable.HistoryEntry{
		SN:      sn,
		Kind:    kind,
		Payload: payload,
		Time:    time.Unix(0, nanos),
	}, true
}

var _ reliable.RingStore = (*Ring)(nil)
