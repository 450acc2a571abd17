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

package audit

import (
	"context"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/arcentrix/nbreliable/reliable"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func TestSinkRecordAndListLosses(t *testing.T) {
	db := openTestDB(t)
	sink, err := NewSink(db, "")
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	if err := sink.AutoMigrate(); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	ctx := context.Background()
	loss := &reliable.Error{
		Kind:     reliable.KindPermanentLoss,
		KeyExpr:  "demo/sensor",
		SourceID: "src-a",
		SNLo:     10,
		SNHi:     14,
		Attempts: 3,
	}
	if err := sink.RecordLoss(ctx, loss); err != nil {
		t.Fatalf("RecordLoss: %v", err)
	}

	records, err := sink.ListLosses(ctx, &ListFilter{SourceID: "src-a"})
	if err != nil {
		t.Fatalf("ListLosses: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].SNLo != 10 || records[0].SNHi != 14 {
		t.Fatalf("expected sn range [10,14], got [%d,%d]", records[0].SNLo, records[0].SNHi)
	}
}

func TestSinkIgnoresTransientNetworkErrors(t *testing.T) {
	db := openTestDB(t)
	sink, err := NewSink(db, "")
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	if err := sink.AutoMigrate(); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	ctx := context.Background()
	if err := sink.RecordLoss(ctx, &reliable.Error{Kind: reliable.KindTransientNetwork}); err != nil {
		t.Fatalf("RecordLoss: %v", err)
	}

	records, err := sink.ListLosses(ctx, nil)
	if err != nil {
		t.Fatalf("ListLosses: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected transient errors to be ignored, got %d records", len(records))
	}
}
