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

// Package audit persists PermanentLoss events to a relational database
// through GORM, so operators can answer "what did we lose, when, and from
// which source" after the fact.
package audit

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/arcentrix/nbreliable/pkg/logger"
	"github.com/arcentrix/nbreliable/reliable"
)

// Open opens a *gorm.DB for driver ("sqlite" or "mysql") against dsn.
func Open(driver, dsn string) (*gorm.DB, error) {
	switch driver {
	case "", "sqlite":
		return gorm.Open(sqlite.Open(dsn))
	case "mysql":
		return gorm.Open(mysql.Open(dsn))
	default:
		return nil, fmt.Errorf("audit: unknown driver %q", driver)
	}
}

const (
	// PermanentLossTableName is the default table name for loss records.
	PermanentLossTableName = "reliable_permanent_loss"
)

// PermanentLossRecord is the GORM model for one recorded permanent loss.
type PermanentLossRecord struct {
	ID         uint64    `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Kind       string    `gorm:"column:kind;type:VARCHAR(32);index" json:"kind"`
	KeyExpr    string    `gorm:"column:key_expr;type:VARCHAR(256);index" json:"keyExpr"`
	SourceID   string    `gorm:"column:source_id;type:VARCHAR(64);index" json:"sourceId"`
	SNLo       uint64    `gorm:"column:sn_lo;type:BIGINT UNSIGNED" json:"snLo"`
	SNHi       uint64    `gorm:"column:sn_hi;type:BIGINT UNSIGNED" json:"snHi"`
	Attempts   int       `gorm:"column:attempts;type:INT" json:"attempts"`
	DetectedAt time.Time `gorm:"column:detected_at;type:DATETIME;index" json:"detectedAt"`
}

func (PermanentLossRecord) TableName() string {
	return PermanentLossTableName
}

// Sink is a reliable.AuditSink backed by a relational database.
type Sink struct {
	db        *gorm.DB
	tableName string
}

// NewSink creates a Sink writing to tableName (PermanentLossTableName if
// empty) via db.
func NewSink(db *gorm.DB, tableName string) (*Sink, error) {
	if db == nil {
		return nil, fmt.Errorf("audit: db cannot be nil")
	}
	if tableName == "" {
		tableName = PermanentLossTableName
	}
	return &Sink{db: db, tableName: tableName}, nil
}

// AutoMigrate creates or updates the underlying table.
func (s *Sink) AutoMigrate() error {
	return s.db.Table(s.tableName).AutoMigrate(&PermanentLossRecord{})
}

// RecordLoss persists loss, satisfying reliable.AuditSink. Only
// KindPermanentLoss and KindCacheOverflow events are meaningful here;
// anything else is a no-op rather than an error, since Subscribers may
// route every Diagnostics event through the same sink indiscriminately.
func (s *Sink) RecordLoss(ctx context.Context, loss *reliable.Error) error {
	if loss == nil || (loss.Kind != reliable.KindPermanentLoss && loss.Kind != reliable.KindCacheOverflow) {
		return nil
	}
	record := PermanentLossRecord{
		Kind:       loss.Kind.String(),
		KeyExpr:    loss.KeyExpr,
		SourceID:   loss.SourceID,
		SNLo:       loss.SNLo,
		SNHi:       loss.SNHi,
		Attempts:   loss.Attempts,
		DetectedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Table(s.tableName).Create(&record).Error; err != nil {
		return fmt.Errorf("audit: record loss: %w", err)
	}
	logger.Channel("audit").Debugw("loss recorded", "kind", record.Kind, "key_expr", record.KeyExpr,
		"source_id", record.SourceID, "sn_lo", record.SNLo, "sn_hi", record.SNHi)
	return nil
}

// ListFilter filters ListLosses results.
type ListFilter struct {
	KeyExpr   string
	SourceID  string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// ListLosses queries recorded losses, most recent first.
func (s *Sink) ListLosses(ctx context.Context, filter *ListFilter) ([]*PermanentLossRecord, error) {
	query := s.db.WithContext(ctx).Table(s.tableName)
	if filter != nil {
		if filter.KeyExpr != "" {
			query = query.Where("key_expr = ?", filter.KeyExpr)
		}
		if filter.SourceID != "" {
			query = query.Where("source_id = ?", filter.SourceID)
		}
		if filter.StartTime != nil {
			query = query.Where("detected_at >= ?", *filter.StartTime)
		}
		if filter.EndTime != nil {
			query = query.Where("detected_at <= ?", *filter.EndTime)
		}
	}
	query = query.Order("detected_at DESC")
	if filter != nil {
		if filter.Limit > 0 {
			query = query.Limit(filter.Limit)
		}
		if filter.Offset > 0 {
			query = query.Offset(filter.Offset)
		}
	}

	var records []*PermanentLossRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("audit: list losses: %w", err)
	}
	return records, nil
}
