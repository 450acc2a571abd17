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

import "context"

// CacheJournal is the subset of journal.Journal the Cache depends on. It is
// declared here, rather than imported directly, so reliable has no
// compile-time dependency on the on-disk journal implementation -- callers
// who don't need overflow persistence never pull in the journal package.
type CacheJournal interface {
	Append(ctx context.Context, keyExpr, sourceID string, entry HistoryEntry) error
	Query(ctx context.Context, keyExpr, sourceID string, lo, hi uint64) ([]HistoryEntry, error)
	Close() error
}

// AuditSink is the subset of audit.Sink the Cache/Subscriber depend on for
// persisting PermanentLoss events.
type AuditSink interface {
	RecordLoss(ctx context.Context, loss *Error) error
}
