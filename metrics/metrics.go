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

// Package metrics holds the reliability layer's Prometheus counters and
// gauges, registered via promauto against the default registry, plus a
// small /metrics HTTP server for processes that want one.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SamplesPublished counts samples a Publisher has successfully put,
	// labeled by key expression.
	SamplesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nbreliable",
		Name:      "samples_published_total",
		Help:      "Total samples published through a reliable.Publisher.",
	}, []string{"key_expr"})

	// CacheQueries counts queryable Get requests a Cache has answered,
	// labeled by result: "hit", "miss", "malformed" (an undecodable
	// selector), or "wrong_source" (the selector names another source).
	CacheQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nbreliable",
		Name:      "cache_queries_total",
		Help:      "Queryable Get requests answered by a reliable.Cache.",
	}, []string{"key_expr", "result"})

	// GapRepairsIssued counts repair queries a Subscriber has sent,
	// split by trigger: "interior" (an out-of-order arrival opened a
	// gap), "tail" (the periodic liveness scan found one), or "overflow"
	// (the backfill issued after a reorder-buffer reset).
	GapRepairsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nbreliable",
		Name:      "gap_repairs_issued_total",
		Help:      "Gap-repair queries issued by a reliable.Subscriber.",
	}, []string{"source_id", "trigger"})

	// PermanentLossEvents counts PermanentLoss diagnostics reported
	// after a gap's repair attempts were exhausted.
	PermanentLossEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nbreliable",
		Name:      "permanent_loss_events_total",
		Help:      "PermanentLoss events reported by a reliable.Subscriber.",
	}, []string{"source_id"})

	// PendingBufferSize reports the current reorder-buffer depth per
	// source, sampled on each admit.
	PendingBufferSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "nbreliable",
		Name:      "pending_buffer_size",
		Help:      "Samples currently buffered behind an open gap, per source.",
	}, []string{"source_id"})

	// HistoryRingLen reports each resource's current ring occupancy.
	HistoryRingLen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "nbreliable",
		Name:      "history_ring_len",
		Help:      "Entries currently retained in a resource's HistoryRing.",
	}, []string{"key_expr"})
)

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve starts a dedicated HTTP server exposing /metrics on addr. It
// blocks until the server stops; callers typically run it in its own
// goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}
