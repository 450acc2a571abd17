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

// Package reliable implements non-blocking, fault-tolerant reliable
// delivery on top of a substrate.Session: a Sequencer and Cache attached to
// each publisher, and a Subscriber that merges the live best-effort stream
// with point-to-point gap repair against remote caches.
//
// Ordering is per source only: two different publishers' samples carry no
// relative ordering guarantee, only their own monotonically increasing
// source_sn. Reliability is bounded by the cache's retained history; a gap
// that falls outside every reachable cache's retention window is reported
// to the subscriber as a permanent loss rather than retried forever.
package reliable
