package tablesession_test

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/bluescreen10/tablesession"
)

type mocktable struct {
	upsert func(tablesession.Record) error
	read   func(string) (tablesession.Record, error)
	delete func(string) error
	query  func(tablesession.Query) (tablesession.Page, error)
}

func (t *mocktable) Upsert(_ context.Context, rec tablesession.Record) error {
	return t.upsert(rec)
}

func (t *mocktable) Read(_ context.Context, key string) (tablesession.Record, error) {
	return t.read(key)
}

func (t *mocktable) Delete(_ context.Context, key string) error {
	return t.delete(key)
}

func (t *mocktable) Query(_ context.Context, q tablesession.Query) (tablesession.Page, error) {
	return t.query(q)
}

var _ tablesession.Table = &mocktable{}

type mockbackend struct {
	table tablesession.Table
	err   error
	names []string
}

func (b *mockbackend) EnsureTable(_ context.Context, name string) (tablesession.Table, error) {
	b.names = append(b.names, name)
	if b.err != nil {
		return nil, b.err
	}
	return b.table, nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// logbuf is a bytes.Buffer safe to write from the cron goroutine while a
// test reads it.
type logbuf struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logbuf) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logbuf) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
