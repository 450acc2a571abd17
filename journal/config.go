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

package journal

import "time"

const (
	// DefaultDir is the default journal root directory.
	DefaultDir = "./reliable-journal"
	// DefaultSegmentMaxRecords is the default record count per segment.
	DefaultSegmentMaxRecords = 10000
	// DefaultFsyncInterval is the default batch fsync interval.
	DefaultFsyncInterval = 100 * time.Millisecond
)

// Config holds journal configuration.
type Config struct {
	// Dir is the journal root directory. One subdirectory is created per
	// Cache that opens a journal against it.
	Dir string
	// Name scopes this journal's segment files within Dir, normally the
	// cache's key expression.
	Name string
	// SegmentMaxRecords is the max record count per segment file before a
	// new one is rolled.
	SegmentMaxRecords int
	// FsyncInterval is the batch fsync interval.
	FsyncInterval time.Duration
}

// SetDefaults applies default values to unset fields.
func (c *Config) SetDefaults() {
	if c.Dir == "" {
		c.Dir = DefaultDir
	}
	if c.SegmentMaxRecords <= 0 {
		c.SegmentMaxRecords = DefaultSegmentMaxRecords
	}
	if c.FsyncInterval <= 0 {
		c.FsyncInterval = DefaultFsyncInterval
	}
}

// Validate checks config validity.
func (c *Config) Validate() error {
	if c.Name == "" {
		return ErrNameRequired
	}
	return nil
}
