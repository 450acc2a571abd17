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

import "time"

// sourceState tracks one source_id's delivery progress: what's been
// delivered in order, what's arrived early and is buffered waiting for the
// gap to close, and the outstanding-repair bookkeeping that rate-limits how
// often this source gets re-queried.
type sourceState struct {
	nextExpected uint64
	pending      map[uint64]Sample

	gapLo, gapHi   uint64
	gapOpen        bool
	repairAttempts int
	repairInFlight bool
	lastRepairAt   time.Time

	// lastLiveAt is the time of the most recent sample admitted from the
	// live best-effort path (not a repair reply). A period tick compares
	// this against the configured period to catch tail loss: the last
	// sample for a source dropped with nothing arriving after it, so no
	// gap is ever opened by sn comparison alone.
	lastLiveAt time.Time
	// lastTailScanAt rate-limits the open-ended tail-loss scan the same
	// way lastRepairAt rate-limits interior gap repair.
	lastTailScanAt time.Time
	tailScanInFlight bool
}

func newSourceState() *sourceState {
	return &sourceState{pending: make(map[uint64]Sample)}
}

// deliverable holds samples ready to hand to the caller, in sn order.
type deliverable struct {
	samples []Sample
	// loss, when non-nil, reports a permanent loss the caller should also
	// surface on the Diagnostics channel.
	loss *Error
}

// observe feeds one live or repaired sample through the source's state
// machine. It returns any samples that are now deliverable in order
// (possibly more than one, if this sample closed a gap that had samples
// buffered behind it).
func (s *sourceState) observe(sample Sample, pendingLimit int) deliverable {
	var out deliverable

	switch {
	case sample.SourceSN < s.nextExpected:
		// Duplicate (e.g. both a live delivery and a repair reply answered
		// the same sn); drop silently.
		return out
	case sample.SourceSN == s.nextExpected:
		out.samples = append(out.samples, sample)
		s.nextExpected++
		s.closeGapIfFilled(sample.SourceSN)
		s.drainPendingInto(&out)
		return out
	default:
		if _, dup := s.pending[sample.SourceSN]; !dup {
			s.pending[sample.SourceSN] = sample
			s.openGap(s.nextExpected, sample.SourceSN-1)
		}
		if len(s.pending) > pendingLimit {
			s.resetOnOverflow(&out)
		}
		return out
	}
}

func (s *sourceState) openGap(lo, hi uint64) {
	if s.gapOpen && lo >= s.gapLo {
		// Existing gap already covers (or starts before) this range.
		if hi > s.gapHi {
			s.gapHi = hi
		}
		return
	}
	s.gapOpen = true
	s.gapLo, s.gapHi = lo, hi
	s.repairAttempts = 0
	s.repairInFlight = false
}

func (s *sourceState) closeGapIfFilled(upTo uint64) {
	if s.gapOpen && upTo >= s.gapLo {
		if upTo >= s.gapHi {
			s.gapOpen = false
		} else {
			s.gapLo = upTo + 1
		}
	}
}

func (s *sourceState) drainPendingInto(out *deliverable) {
	for {
		next, ok := s.pending[s.nextExpected]
		if !ok {
			return
		}
		delete(s.pending, s.nextExpected)
		out.samples = append(out.samples, next)
		s.nextExpected++
		s.closeGapIfFilled(next.SourceSN)
	}
}

// resetOnOverflow implements the CacheOverflow policy: once a source's
// reorder buffer has grown past its configured cap, the backlog is no
// longer trustworthy and waiting for a repair reply to fill it isn't
// viable either. The whole of pending is discarded -- not just the entries
// below the lowest buffered sn -- everything from nextExpected through the
// highest sn this source ever got this far out of order is reported as
// cache overflow, and tracking resumes one past it. The caller is
// responsible for issuing a fresh backfill query for the reset source,
// since nothing here can reach the substrate.
func (s *sourceState) resetOnOverflow(out *deliverable) {
	if len(s.pending) == 0 {
		return
	}
	var maxSN uint64
	first := true
	for sn := range s.pending {
		if first || sn > maxSN {
			maxSN = sn
			first = false
		}
	}
	if maxSN >= s.nextExpected {
		out.loss = &Error{Kind: KindCacheOverflow, SNLo: s.nextExpected, SNHi: maxSN}
	}
	s.pending = make(map[uint64]Sample)
	s.nextExpected = maxSN + 1
	s.gapOpen = false
	s.repairAttempts = 0
	s.repairInFlight = false
}

// needsRepair reports whether this source currently has an open gap that
// isn't already being repaired, and if so, the range to request.
func (s *sourceState) needsRepair(now time.Time, timeout time.Duration) (lo, hi uint64, ok bool) {
	if !s.gapOpen {
		return 0, 0, false
	}
	if s.repairInFlight && now.Sub(s.lastRepairAt) < timeout {
		return 0, 0, false
	}
	return s.gapLo, s.gapHi, true
}

// beginRepair marks a repair query as in flight for this source.
func (s *sourceState) beginRepair(now time.Time) {
	s.repairInFlight = true
	s.lastRepairAt = now
	s.repairAttempts++
}

// repairExhausted reports whether the attempt budget has been exhausted,
// meaning the gap should be reported as a permanent loss rather than
// retried again.
func (s *sourceState) repairExhausted(maxAttempts int) bool {
	return s.gapOpen && s.repairAttempts >= maxAttempts
}

// abandon gives up on the current gap: everything up to gapHi is
// considered permanently lost, and tracking resumes from gapHi+1.
func (s *sourceState) abandon() *Error {
	if !s.gapOpen {
		return nil
	}
	loss := &Error{Kind: KindPermanentLoss, SNLo: s.gapLo, SNHi: s.gapHi, Attempts: s.repairAttempts}
	s.nextExpected = s.gapHi + 1
	s.gapOpen = false
	s.repairInFlight = false
	s.repairAttempts = 0
	return loss
}

// markLive records that a live (non-repair) sample was just admitted for
// this source, resetting the tail-loss clock.
func (s *sourceState) markLive(now time.Time) {
	s.lastLiveAt = now
}

// needsTailScan reports whether this source has gone quiet for at least
// period without any interior gap being open (an open gap already gets
// picked up by needsRepair; this covers the case where the last sample a
// source ever sends is itself dropped, so sn comparison alone never
// notices anything missing). Rate-limited the same way repair queries are.
func (s *sourceState) needsTailScan(now time.Time, period, timeout time.Duration) (lo uint64, ok bool) {
	if s.gapOpen || s.lastLiveAt.IsZero() {
		return 0, false
	}
	if now.Sub(s.lastLiveAt) < period {
		return 0, false
	}
	if s.tailScanInFlight && now.Sub(s.lastTailScanAt) < timeout {
		return 0, false
	}
	return s.nextExpected, true
}

// beginTailScan marks an open-ended tail scan as in flight for this source.
func (s *sourceState) beginTailScan(now time.Time) {
	s.tailScanInFlight = true
	s.lastTailScanAt = now
}

// endTailScan clears the in-flight marker once a tail scan's replies (or
// its timeout) have been processed, allowing the next period tick to retry
// if the source is still quiet.
func (s *sourceState) endTailScan() {
	s.tailScanInFlight = false
}
