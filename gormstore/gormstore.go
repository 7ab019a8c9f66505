// Package gormstore provides a gorm table backend.
//
// Every session table is a regular SQL table with the token as primary key,
// the encoded payload and a nullable, indexed expiry. Any database with a
// gorm dialect that supports upserts can host it.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bluescreen10/tablesession"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GORMStore is a gorm backed table service.
type GORMStore struct {
	db *gorm.DB
}

// Ensure GORMStore implements tablesession.Backend.
var _ tablesession.Backend = (*GORMStore)(nil)

// record is the row layout of a session table.
type record struct {
	Token     string `gorm:"primaryKey;size:255"`
	Data      []byte
	ExpiresAt *time.Time `gorm:"index"`
}

// New creates and returns a new GORMStore instance.
func New(db *gorm.DB) *GORMStore {
	return &GORMStore{db: db}
}

// EnsureTable creates the named table and its expiry index if they don't
// exist.
func (s *GORMStore) EnsureTable(ctx context.Context, name string) (tablesession.Table, error) {
	if err := s.db.WithContext(ctx).Table(name).AutoMigrate(&record{}); err != nil {
		return nil, unavailable(err)
	}
	return &Table{db: s.db, name: name}, nil
}

// Table is a single session table.
type Table struct {
	db   *gorm.DB
	name string
}

func (t *Table) tx(ctx context.Context) *gorm.DB {
	return t.db.WithContext(ctx).Table(t.name)
}

// Upsert inserts the record or replaces the row with the same token.
func (t *Table) Upsert(ctx context.Context, rec tablesession.Record) error {
	row := record{Token: rec.Key, Data: rec.Data}
	if rec.Expires() {
		expiresAt := rec.ExpiresAt.UTC()
		row.ExpiresAt = &expiresAt
	}

	tx := t.tx(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row)
	if tx.Error != nil {
		return unavailable(tx.Error)
	}
	return nil
}

// Read returns the record stored under key.
func (t *Table) Read(ctx context.Context, key string) (tablesession.Record, error) {
	var row record
	tx := t.tx(ctx).Where("token = ?", key).Limit(1).Find(&row)
	if tx.Error != nil {
		return tablesession.Record{}, unavailable(tx.Error)
	}
	if tx.RowsAffected == 0 {
		return tablesession.Record{}, tablesession.ErrNotFound
	}
	return row.toRecord(), nil
}

// Delete removes the row stored under key.
func (t *Table) Delete(ctx context.Context, key string) error {
	tx := t.tx(ctx).Where("token = ?", key).Delete(&record{})
	if tx.Error != nil {
		return unavailable(tx.Error)
	}
	if tx.RowsAffected == 0 {
		return tablesession.ErrNotFound
	}
	return nil
}

// Query returns expired rows in token order. The continuation token is the
// last token of the previous page.
func (t *Table) Query(ctx context.Context, q tablesession.Query) (tablesession.Page, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 1000
	}

	var rows []record
	tx := t.tx(ctx).
		Select("token", "expires_at").
		Where("expires_at IS NOT NULL AND expires_at < ? AND token > ?", q.ExpiresBefore.UTC(), q.Continuation).
		Order("token").
		Limit(limit + 1).
		Find(&rows)
	if tx.Error != nil {
		return tablesession.Page{}, unavailable(tx.Error)
	}

	var page tablesession.Page
	if len(rows) > limit {
		rows = rows[:limit]
		page.Next = rows[limit-1].Token
	}

	page.Records = make([]tablesession.Record, 0, len(rows))
	for _, row := range rows {
		page.Records = append(page.Records, row.toRecord())
	}
	return page, nil
}

func (r record) toRecord() tablesession.Record {
	rec := tablesession.Record{Key: r.Token, Data: r.Data}
	if r.ExpiresAt != nil {
		rec.ExpiresAt = *r.ExpiresAt
	}
	return rec
}

func unavailable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", tablesession.ErrBackendUnavailable, err)
}
