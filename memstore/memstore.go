// Package memstore provides an in-memory table backend.
//
// Memstore hosts any number of named tables, each storing session records
// keyed by a string. Expired records are kept until the sweeper deletes
// them, exactly as a remote table service would.
//
// This package is suitable for single-process applications or testing
// scenarios. It is not persistent and does not share state across
// processes.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bluescreen10/tablesession"
)

// Memstore is an in-memory table service.
// It is safe for concurrent use by multiple goroutines.
type Memstore struct {
	mu     sync.Mutex
	tables map[string]*Table
}

// Ensure Memstore implements tablesession.Backend.
var _ tablesession.Backend = (*Memstore)(nil)

// New creates and returns a new Memstore instance.
func New() *Memstore {
	return &Memstore{tables: make(map[string]*Table)}
}

// EnsureTable returns the named table, creating it if needed.
func (m *Memstore) EnsureTable(_ context.Context, name string) (tablesession.Table, error) {
	return m.Table(name), nil
}

// Table returns the named table, creating it if needed.
func (m *Memstore) Table(name string) *Table {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[name]
	if !ok {
		t = &Table{records: make(map[string]tablesession.Record)}
		m.tables[name] = t
	}
	return t
}

// Table is a single in-memory table.
type Table struct {
	mu      sync.RWMutex
	records map[string]tablesession.Record
}

// Upsert stores the record under its key, replacing any previous one.
func (t *Table) Upsert(_ context.Context, rec tablesession.Record) error {
	rec.Data = append([]byte(nil), rec.Data...)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[rec.Key] = rec
	return nil
}

// Read returns the record stored under key.
func (t *Table) Read(_ context.Context, key string) (tablesession.Record, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.records[key]
	if !ok {
		return tablesession.Record{}, tablesession.ErrNotFound
	}
	rec.Data = append([]byte(nil), rec.Data...)
	return rec, nil
}

// Delete removes the record stored under key.
func (t *Table) Delete(_ context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.records[key]; !ok {
		return tablesession.ErrNotFound
	}
	delete(t.records, key)
	return nil
}

// Query returns expired records in key order. The continuation token is the
// last key of the previous page.
func (t *Table) Query(_ context.Context, q tablesession.Query) (tablesession.Page, error) {
	t.mu.RLock()
	keys := make([]string, 0)
	for key, rec := range t.records {
		if key > q.Continuation && rec.Expires() && rec.ExpiresAt.Before(q.ExpiresBefore) {
			keys = append(keys, key)
		}
	}

	sort.Strings(keys)

	var page tablesession.Page
	if q.Limit > 0 && len(keys) > q.Limit {
		keys = keys[:q.Limit]
		page.Next = keys[len(keys)-1]
	}

	page.Records = make([]tablesession.Record, 0, len(keys))
	for _, key := range keys {
		rec := t.records[key]
		page.Records = append(page.Records, tablesession.Record{Key: key, ExpiresAt: rec.ExpiresAt})
	}
	t.mu.RUnlock()

	return page, nil
}

// Count returns the number of records in the table, expired or not.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// ExpiresAt returns the expiry stored for key and whether the key exists.
func (t *Table) ExpiresAt(key string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[key]
	return rec.ExpiresAt, ok
}
