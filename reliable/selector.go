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
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/arcentrix/nbreliable/params"
)

// Selector key names for the reliability cache's query grammar. A query
// selector looks like "_sn=10|44;_src=7b2f...": it asks the queryable to
// replay source_id _src's samples with sn in [lo, hi] inclusive.
const (
	selectorSN  = "_sn"
	selectorSrc = "_src"
)

// snRange is a decoded "_sn=lo|hi" selector field.
type snRange struct {
	Lo, Hi uint64
}

// EncodeSelector builds a canonical selector string for a gap repair or
// historical backfill query against sourceID's samples in [lo, hi]. hi ==
// math.MaxUint64 encodes an open-ended upper bound ("_sn=lo|"), the form an
// open-ended tail-loss scan or a from-sn-onward backfill uses.
func EncodeSelector(sourceID string, lo, hi uint64) string {
	hiStr := ""
	if hi != math.MaxUint64 {
		hiStr = strconv.FormatUint(hi, 10)
	}
	pairs := []params.Pair{
		{Key: selectorSrc, Value: sourceID},
		{Key: selectorSN, Value: strconv.FormatUint(lo, 10) + "|" + hiStr},
	}
	return params.FromIter(pairs)
}

// decodeSelector parses a selector string into a source id and sn range,
// defaulting each missing field: a missing _src answers for defaultSource
// (the cache's own owning publisher), and a missing _sn requests the full
// retained range. This lets a startup historical-backfill query use an
// empty selector to mean "everything this cache has," while a targeted
// gap-repair query pins both fields exactly. A present but unparsable _sn
// is still a malformed selector.
func decodeSelector(selector string, defaultSource string) (sourceID string, rng snRange, err error) {
	sourceID, ok := params.Get(selector, selectorSrc)
	if !ok || sourceID == "" {
		sourceID = defaultSource
	}
	snValue, ok := params.Get(selector, selectorSN)
	if !ok {
		return sourceID, snRange{Lo: 0, Hi: math.MaxUint64}, nil
	}
	lo, hi, perr := parseSNRange(snValue)
	if perr != nil {
		return "", snRange{}, &Error{Kind: KindMalformedSelector, Err: fmt.Errorf("%w: %v", ErrMalformedSelector, perr)}
	}
	return sourceID, snRange{Lo: lo, Hi: hi}, nil
}

func parseSNRange(v string) (lo, hi uint64, err error) {
	parts := strings.SplitN(v, string(params.ValueSeparator), 2)
	if parts[0] == "" {
		lo = 0
	} else if lo, err = strconv.ParseUint(parts[0], 10, 64); err != nil {
		return 0, 0, err
	}
	if len(parts) == 1 {
		// No separator at all: a bare "_sn=5" pins an exact sn.
		return lo, lo, nil
	}
	if parts[1] == "" {
		hi = math.MaxUint64
	} else if hi, err = strconv.ParseUint(parts[1], 10, 64); err != nil {
		return 0, 0, err
	}
	return lo, hi, nil
}
