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
	"math"
	"sync"
	"time"

	"github.com/arcentrix/nbreliable/metrics"
	"github.com/arcentrix/nbreliable/pkg/logger"
	"github.com/arcentrix/nbreliable/substrate"
)

// recvBacklog bounds the ordered-delivery channel between admit and Recv.
// A slow Recv caller backpressures admit; the reorder buffer behind a gap
// is bounded separately, by SubscriberConfig.PendingLimit.
const recvBacklog = 256

// Subscriber is the reliable subscriber half of the layer: it merges the substrate's
// live best-effort stream with point-to-point gap repair, delivering
// samples to callers in per-source order and reporting unrecoverable gaps
// as permanent losses rather than blocking forever.
type Subscriber struct {
	sess    substrate.Session
	keyExpr string
	cfg     SubscriberConfig

	live substrate.Subscriber

	mu      sync.Mutex
	sources map[string]*sourceState

	recvCh chan Sample
	diagCh chan *Error

	auditSink AuditSink

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSubscriber declares a Reliable Subscriber over keyExpr on sess.
func NewSubscriber(ctx context.Context, sess substrate.Session, keyExpr string, opts ...SubscriberOption) (*Subscriber, error) {
	cfg := defaultSubscriberConfig()
	for _, o := range opts {
		o.applySubscriber(&cfg)
	}
	if cfg.RepairTimeout <= 0 {
		// With periodic queries configured, a repair is considered lost
		// after three ticks with no reply; without a period there is
		// nothing to scale by, so fall back to the flat default.
		if cfg.Period > 0 {
			cfg.RepairTimeout = 3 * cfg.Period
		} else {
			cfg.RepairTimeout = DefaultRepairTimeout
		}
	}

	live, err := sess.DeclareSubscriber(ctx, keyExpr, substrate.OriginAny)
	if err != nil {
		return nil, &Error{Kind: KindFatalSetup, KeyExpr: keyExpr, Err: err}
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &Subscriber{
		sess:    sess,
		keyExpr: keyExpr,
		cfg:     cfg,
		live:    live,
		sources: make(map[string]*sourceState),
		recvCh:  make(chan Sample, recvBacklog),
		diagCh:  make(chan *Error, 64),
		ctx:     subCtx,
		cancel:  cancel,
	}

	s.wg.Add(1)
	go s.runLive()

	if cfg.History {
		s.wg.Add(1)
		go s.runBackfill()
	}
	if cfg.Period > 0 {
		s.wg.Add(1)
		go s.runPeriodicRepair()
	}

	return s, nil
}

// SetAuditSink attaches a sink that receives every PermanentLoss this
// subscriber reports, in addition to the Diagnostics channel.
func (s *Subscriber) SetAuditSink(sink AuditSink) { s.auditSink = sink }

func (s *Subscriber) runLive() {
	defer s.wg.Done()
	for {
		wire, err := s.live.Recv(s.ctx)
		if err != nil {
			return
		}
		s.admit(fromSubstrate(wire), true)
	}
}

func (s *Subscriber) runBackfill() {
	defer s.wg.Done()
	// Broadcast: every source's cache on this resource answers under
	// "<its own source prefix>/keyExpr", so a startup backfill with no
	// source yet known has to reach all of them with a wildcard.
	replies, err := s.sess.Get(s.ctx, "*/"+s.keyExpr, "", substrate.TargetAll)
	if err != nil {
		return
	}
	for {
		select {
		case reply, ok := <-replies:
			if !ok {
				return
			}
			if reply.Err == nil {
				s.admit(fromSubstrate(reply.Sample), false)
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Subscriber) runPeriodicRepair() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Period)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.scanForGaps()
		}
	}
}

// repairJob describes one outstanding gap-repair query, whether it was
// raised reactively (an out-of-order arrival just opened or extended a
// gap, see evaluateRepair) or by the periodic tail-liveness scan.
type repairJob struct {
	sourceID string
	lo, hi   uint64
	trigger  string
}

// scanForGaps only ever re-drives two things an sn comparison on arrival
// can't: a gap repair whose prior attempt timed out with no reply, and the
// tail-liveness scan for a source that has gone quiet. A freshly opened
// interior gap is repaired immediately by admit's own evaluateRepair call,
// inline with delivery -- it does not wait for this ticker, which may not
// even be running if Period is unset.
func (s *Subscriber) scanForGaps() {
	now := time.Now()
	var jobs []repairJob
	var losses []*Error

	s.mu.Lock()
	for sourceID, st := range s.sources {
		if job, loss, ok := s.evaluateRepair(sourceID, st, now); ok {
			if loss != nil {
				losses = append(losses, loss)
			} else {
				jobs = append(jobs, job)
			}
			continue
		}
		// No interior gap: check whether this source has simply gone
		// quiet, which an sn-range comparison alone would never notice
		// (there's nothing past the missing tail to compare against).
		if lo, ok := st.needsTailScan(now, s.cfg.Period, s.cfg.RepairTimeout); ok {
			st.beginTailScan(now)
			jobs = append(jobs, repairJob{sourceID: sourceID, lo: lo, hi: math.MaxUint64, trigger: "tail"})
		}
	}
	s.mu.Unlock()

	for _, loss := range losses {
		s.reportLoss(loss)
	}
	for _, job := range jobs {
		s.dispatchRepair(job)
	}
}

// evaluateRepair checks st for an interior gap that needs a repair query or
// has exhausted its attempt budget, mutating st's repair bookkeeping (via
// beginRepair/abandon) accordingly. Callers must hold s.mu. ok is false
// when there's no open gap or the existing repair is still within its
// rate-limit window, in which case job and loss are both zero.
func (s *Subscriber) evaluateRepair(sourceID string, st *sourceState, now time.Time) (job repairJob, loss *Error, ok bool) {
	lo, hi, needs := st.needsRepair(now, s.cfg.RepairTimeout)
	if !needs {
		return repairJob{}, nil, false
	}
	if st.repairExhausted(s.cfg.RepairAttempts) {
		if l := st.abandon(); l != nil {
			l.SourceID = sourceID
			l.KeyExpr = s.keyExpr
			return repairJob{}, l, true
		}
		return repairJob{}, nil, false
	}
	st.beginRepair(now)
	return repairJob{sourceID: sourceID, lo: lo, hi: hi, trigger: "interior"}, nil, true
}

// dispatchRepair issues job's repair query on its own goroutine so the
// caller -- typically the live-delivery path in admit -- never blocks on
// the round trip.
func (s *Subscriber) dispatchRepair(job repairJob) {
	metrics.GapRepairsIssued.WithLabelValues(job.sourceID, job.trigger).Inc()
	logger.Channel("subscriber").Debugw("issuing gap-repair query", "key_expr", s.keyExpr, "source_id", job.sourceID,
		"trigger", job.trigger, "lo", job.lo, "hi", job.hi)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.repair(job.sourceID, job.lo, job.hi)
	}()
}

func (s *Subscriber) repair(sourceID string, lo, hi uint64) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.RepairTimeout)
	defer cancel()

	selector := EncodeSelector(sourceID, lo, hi)
	// Targeted: address only sourceID's own cache, the one that can
	// actually answer for its gap, instead of broadcasting to every cache
	// on this resource.
	replies, err := s.sess.Get(ctx, sourcePrefix(sourceID)+"/"+s.keyExpr, selector, substrate.TargetAll)
	if err != nil {
		return
	}
	for {
		select {
		case reply, ok := <-replies:
			if !ok {
				return
			}
			if reply.Err == nil {
				s.admit(fromSubstrate(reply.Sample), false)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Subscriber) admit(sample Sample, isLive bool) {
	s.mu.Lock()
	st, ok := s.sources[sample.SourceID]
	if !ok {
		st = newSourceState()
		s.sources[sample.SourceID] = st
	}
	if isLive {
		st.markLive(time.Now())
	} else {
		st.endTailScan()
	}
	result := st.observe(sample, s.cfg.PendingLimit)
	metrics.PendingBufferSize.WithLabelValues(sample.SourceID).Set(float64(len(st.pending)))

	// A gap that observe() just opened or extended must be repaired as soon
	// as it's detected, not only on the next periodic tick -- that ticker
	// only runs when Period is configured, and interior gap repair is an
	// independent mechanism from the tail-liveness scan it drives.
	job, abandonLoss, hasRepairWork := s.evaluateRepair(sample.SourceID, st, time.Now())
	s.mu.Unlock()

	for _, out := range result.samples {
		select {
		case s.recvCh <- out:
		case <-s.ctx.Done():
			return
		}
	}
	if result.loss != nil {
		result.loss.SourceID = sample.SourceID
		result.loss.KeyExpr = s.keyExpr
		s.reportLoss(result.loss)
		if result.loss.Kind == KindCacheOverflow {
			// The reorder buffer just got reset and discarded wholesale:
			// the only way to recover anything at or above the new
			// baseline is a fresh, open-ended query against this
			// source's cache, same as a startup backfill.
			s.dispatchRepair(repairJob{
				sourceID: sample.SourceID,
				lo:       result.loss.SNHi + 1,
				hi:       math.MaxUint64,
				trigger:  "overflow",
			})
		}
	}
	if hasRepairWork {
		if abandonLoss != nil {
			s.reportLoss(abandonLoss)
		} else {
			s.dispatchRepair(job)
		}
	}
}

func (s *Subscriber) reportLoss(loss *Error) {
	metrics.PermanentLossEvents.WithLabelValues(loss.SourceID).Inc()
	logger.Channel("subscriber").Warnw("permanent loss", "key_expr", loss.KeyExpr, "source_id", loss.SourceID,
		"sn_lo", loss.SNLo, "sn_hi", loss.SNHi)
	if s.auditSink != nil {
		if err := s.auditSink.RecordLoss(s.ctx, loss); err != nil {
			logger.Channel("subscriber").Errorw("failed to persist permanent loss to audit sink",
				"key_expr", loss.KeyExpr, "source_id", loss.SourceID, "error", err)
		}
	}
	select {
	case s.diagCh <- loss:
	default:
		// Diagnostics is a best-effort side channel; the delivery contract
		// for actual samples never depends on this channel being drained.
	}
}

// Recv blocks until the next in-order sample is available, ctx is
// cancelled, or the subscriber is closed.
func (s *Subscriber) Recv(ctx context.Context) (Sample, error) {
	select {
	case sample, ok := <-s.recvCh:
		if !ok {
			return Sample{}, ErrClosed
		}
		return sample, nil
	case <-ctx.Done():
		return Sample{}, ctx.Err()
	case <-s.ctx.Done():
		return Sample{}, ErrClosed
	}
}

// Diagnostics returns the channel PermanentLoss (and other non-fatal)
// events are reported on. It is a side channel: nothing in the delivery
// contract blocks on it being read.
func (s *Subscriber) Diagnostics() <-chan *Error {
	return s.diagCh
}

// Close stops all background goroutines and undeclares the underlying
// substrate subscription.
func (s *Subscriber) Close(ctx context.Context) error {
	s.cancel()
	s.wg.Wait()
	close(s.recvCh)
	close(s.diagCh)
	return s.live.Undeclare(ctx)
}
