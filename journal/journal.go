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

// Package journal extends a Cache's retention past its in-memory
// HistoryRing capacity onto disk: an append-only, single-writer,
// CRC32-checksummed segment file log, range-queried by sequence number.
// Nothing drains or acknowledges it; entries only leave when their
// segment files are removed out of band.
package journal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/arcentrix/nbreliable/pkg/logger"
	"github.com/arcentrix/nbreliable/reliable"
)

// Segment files are named by a monotonic per-journal counter, zero-padded
// so lexical order is append order. The counter resumes from the highest
// existing segment on reopen.
const segmentNameFmt = "%016d.jnl"

var segmentNameRe = regexp.MustCompile(`^(\d{16})\.jnl$`)

type appendReq struct {
	data []byte
	done chan error
}

// Journal is a CacheJournal implementation backing one Cache's overflow
// retention on disk.
type Journal struct {
	dir        string
	cfg        *Config
	writeCh    chan appendReq
	segmentLen int
	segmentSeq uint64
	file       *os.File

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open creates or resumes a Journal rooted at cfg.Dir/cfg.Name.
func Open(cfg *Config) (*Journal, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	dir := buildJournalDir(cfg)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &Journal{
		dir:     dir,
		cfg:     cfg,
		writeCh: make(chan appendReq, 1024),
		ctx:     ctx,
		cancel:  cancel,
	}

	// Resume the segment counter past whatever an earlier process left
	// behind, so a reopen appends after the existing segments instead of
	// truncating them.
	segs, err := j.listSegments()
	if err != nil {
		cancel()
		return nil, err
	}
	if n := len(segs); n > 0 {
		if m := segmentNameRe.FindStringSubmatch(filepath.Base(segs[n-1])); m != nil {
			seq, perr := strconv.ParseUint(m[1], 10, 64)
			if perr != nil {
				cancel()
				return nil, fmt.Errorf("parse segment name %q: %w", segs[n-1], perr)
			}
			j.segmentSeq = seq + 1
		}
	}

	j.wg.Add(1)
	go j.runWriter()
	return j, nil
}

func (j *Journal) runWriter() {
	defer j.wg.Done()
	ticker := time.NewTicker(j.cfg.FsyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-j.ctx.Done():
			j.drain()
			j.flush()
			return
		case req := <-j.writeCh:
			err := j.appendLocked(req.data)
			if req.done != nil {
				req.done <- err
			}
		case <-ticker.C:
			j.flush()
		}
	}
}

func (j *Journal) drain() {
	for {
		select {
		case req := <-j.writeCh:
			err := j.appendLocked(req.data)
			if req.done != nil {
				req.done <- err
			}
		default:
			return
		}
	}
}

func (j *Journal) appendLocked(data []byte) error {
	if j.file == nil || j.segmentLen >= j.cfg.SegmentMaxRecords {
		if j.file != nil {
			_ = j.file.Sync()
			_ = j.file.Close()
		}
		name := fmt.Sprintf(segmentNameFmt, j.segmentSeq)
		f, err := os.OpenFile(filepath.Join(j.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			logger.Channel("journal").Errorw("journal failed to roll segment", "dir", j.dir, "segment", name, "error", err)
			return err
		}
		j.file = f
		j.segmentLen = 0
		j.segmentSeq++
		logger.Channel("journal").Debugw("journal rolled segment", "dir", j.dir, "segment", name)
	}
	if _, err := j.file.Write(data); err != nil {
		return err
	}
	j.segmentLen++
	return nil
}

func (j *Journal) flush() {
	if j.file != nil {
		_ = j.file.Sync()
	}
}

// Append archives entry, evicted from its owning HistoryRing, under
// keyExpr/sourceID.
func (j *Journal) Append(ctx context.Context, keyExpr, sourceID string, entry reliable.HistoryEntry) error {
	rec := &Record{
		SN:       entry.SN,
		KeyExpr:  keyExpr,
		SourceID: sourceID,
		Kind:     byte(entry.Kind),
		TimeNano: entry.Time.UnixNano(),
		Payload:  entry.Payload,
	}
	data := EncodeRecord(rec)
	done := make(chan error, 1)
	select {
	case j.writeCh <- appendReq{data: data, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	case <-j.ctx.Done():
		return ErrClosed
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Query returns archived entries for keyExpr/sourceID with sn in [lo, hi],
// in ascending sn order. It scans every segment; archived history is cold
// by construction (only entries the in-memory ring already evicted ever
// land here) so this trades query latency for simplicity.
func (j *Journal) Query(ctx context.Context, keyExpr, sourceID string, lo, hi uint64) ([]reliable.HistoryEntry, error) {
	segs, err := j.listSegments()
	if err != nil {
		return nil, err
	}
	var out []reliable.HistoryEntry
	for _, seg := range segs {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}
		recs, err := j.readSegment(seg, keyExpr, sourceID, lo, hi)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].SN < out[k].SN })
	return out, nil
}

func (j *Journal) readSegment(path, keyExpr, sourceID string, lo, hi uint64) ([]reliable.HistoryEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []reliable.HistoryEntry
	for {
		rec, err := ReadNextRecord(f)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			break
		}
		if rec.KeyExpr != keyExpr || rec.SourceID != sourceID {
			continue
		}
		if rec.SN < lo || rec.SN > hi {
			continue
		}
		out = append(out, reliable.HistoryEntry{
			SN:      rec.SN,
			Kind:    reliable.SampleKindFromByte(rec.Kind),
			Payload: rec.Payload,
			Time:    time.Unix(0, rec.TimeNano),
		})
	}
	return out, nil
}

func (j *Journal) listSegments() ([]string, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, err
	}
	var segs []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if segmentNameRe.MatchString(e.Name()) {
			segs = append(segs, filepath.Join(j.dir, e.Name()))
		}
	}
	sort.Strings(segs)
	return segs, nil
}

// Close stops the writer goroutine and flushes the current segment.
func (j *Journal) Close() error {
	j.cancel()
	j.wg.Wait()
	if j.file != nil {
		_ = j.file.Sync()
		_ = j.file.Close()
		j.file = nil
	}
	return nil
}
