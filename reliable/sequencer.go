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

import "sync/atomic"

// Sequencer hands out a strictly increasing sequence number per write,
// starting at 0. Concurrent writers get distinct, gap-free numbers via a
// single atomic fetch-and-add.
type Sequencer struct {
	next uint64
}

// Next returns the next sequence number, starting at 0.
func (s *Sequencer) Next() uint64 {
	return atomic.AddUint64(&s.next, 1) - 1
}

// Peek returns the sequence number that would be assigned next, without
// consuming it. Intended for diagnostics only.
func (s *Sequencer) Peek() uint64 {
	return atomic.LoadUint64(&s.next)
}
