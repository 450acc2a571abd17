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

// Sample is the core package's own representation of one piece of reliable
// traffic, decoupled from the substrate's wire Sample so the cache and
// gap tracker never need to know which backend carried it.
type Sample struct {
	KeyExpr  string
	Kind     substrate.SampleKind
	Payload  []byte
	SourceID string
	SourceSN uint64
	Time     time.Time
}

func fromSubstrate(s substrate.Sample) Sample {
	return Sample{
		KeyExpr:  s.KeyExpr,
		Kind:     s.Kind,
		Payload:  s.Payload,
		SourceID: s.Source.SourceID,
		SourceSN: s.Source.SourceSN,
		Time:     s.Time,
	}
}

func (s Sample) toSubstrate() substrate.Sample {
	return substrate.Sample{
		KeyExpr: s.KeyExpr,
		Kind:    s.Kind,
		Payload: s.Payload,
		Source:  substrate.SourceInfo{SourceID: s.SourceID, SourceSN: s.SourceSN},
		Time:    s.Time,
	}
}

// SampleKindFromByte recovers a substrate.SampleKind from its on-disk byte
// encoding, as used by the journal package's archived records.
func SampleKindFromByte(b byte) substrate.SampleKind {
	if b == byte(substrate.KindDelete) {
		return substrate.KindDelete
	}
	return substrate.KindPut
}

// HistoryEntry is one retained slot in a HistoryRing.
type HistoryEntry struct {
	SN      uint64
	Kind    substrate.SampleKind
	Payload []byte
	Time    time.Time
}
