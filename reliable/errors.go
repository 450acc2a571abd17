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
	"errors"
	"fmt"
)

// ErrorKind classifies failures the reliable layer can report, per the
// error handling design: transient conditions that are retried
// automatically, and permanent/fatal ones that are surfaced to the caller.
type ErrorKind int

const (
	// KindTransientNetwork covers a failed or timed-out Get/publish that is
	// expected to succeed on a later retry; it is never surfaced as a hard
	// error, only (optionally) logged.
	KindTransientNetwork ErrorKind = iota
	// KindPermanentLoss is reported once a source's gap has exceeded the
	// configured repair attempt budget without being filled.
	KindPermanentLoss
	// KindCacheOverflow is reported when a Subscriber's per-source reorder
	// buffer exceeds its configured cap (PendingLimit): the whole buffer is
	// discarded and tracking resumes past it, permanently losing whatever
	// was buffered.
	KindCacheOverflow
	// KindFatalSetup covers failures declaring the underlying substrate
	// publisher/subscriber/queryable -- these abort construction.
	KindFatalSetup
	// KindMalformedSelector is reported when a Query's selector fails to
	// parse as a reliable-layer selector.
	KindMalformedSelector
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransientNetwork:
		return "transient_network"
	case KindPermanentLoss:
		return "permanent_loss"
	case KindCacheOverflow:
		return "cache_overflow"
	case KindFatalSetup:
		return "fatal_setup"
	case KindMalformedSelector:
		return "malformed_selector"
	default:
		return "unknown"
	}
}

// Error wraps an ErrorKind with context. Only KindPermanentLoss and
// KindCacheOverflow are ever delivered to a Subscriber's Diagnostics
// channel; the others are either returned directly from a call (FatalSetup,
// MalformedSelector) or only logged (TransientNetwork).
type Error struct {
	Kind ErrorKind
	// KeyExpr and SourceID identify the affected resource/source, when known.
	KeyExpr  string
	SourceID string
	// SNLo/SNHi bound the affected sequence range for PermanentLoss.
	SNLo, SNHi uint64
	// Attempts records how many repair queries were issued before giving up.
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindPermanentLoss:
		return fmt.Sprintf("reliable: permanent loss of source %s sn [%d,%d] on %q after %d attempts",
			e.SourceID, e.SNLo, e.SNHi, e.KeyExpr, e.Attempts)
	case KindCacheOverflow:
		return fmt.Sprintf("reliable: cache overflow for source %s: reorder buffer discarded, sn [%d,%d] on %q permanently lost",
			e.SourceID, e.SNLo, e.SNHi, e.KeyExpr)
	case KindFatalSetup:
		return fmt.Sprintf("reliable: fatal setup error: %v", e.Err)
	case KindMalformedSelector:
		return fmt.Sprintf("reliable: malformed selector: %v", e.Err)
	default:
		return fmt.Sprintf("reliable: %s: %v", e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// ErrClosed is returned by operations attempted after Close.
var ErrClosed = errors.New("reliable: closed")

// ErrMalformedSelector is wrapped into a KindMalformedSelector Error when a
// query selector's _sn field cannot be parsed into a sequence range.
var ErrMalformedSelector = errors.New("reliable: selector _sn field is not a valid sequence range")
