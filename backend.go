package tablesession

import (
	"context"
	"time"
)

// Record is the persisted form of a session. Key doubles as partition and
// row key on backends that distinguish the two.
type Record struct {
	Key  string
	Data []byte

	// ExpiresAt is the instant after which the sweeper may reclaim the
	// record. The zero value means the record never expires.
	ExpiresAt time.Time
}

// Expires reports whether the record carries an expiry.
func (r Record) Expires() bool {
	return !r.ExpiresAt.IsZero()
}

// ExpiredAt reports whether the record has an expiry at or before t.
func (r Record) ExpiredAt(t time.Time) bool {
	return r.Expires() && !r.ExpiresAt.After(t)
}

// Query selects records whose expiry is strictly before ExpiresBefore.
// Records without an expiry never match.
type Query struct {
	ExpiresBefore time.Time

	// Continuation is the opaque token returned as Page.Next by the
	// previous call. Empty starts from the beginning.
	Continuation string

	// Limit is a hint for the page size. Backends may return fewer records
	// and still set Next.
	Limit int
}

// Page is one page of query results. Next is empty on the last page.
type Page struct {
	Records []Record
	Next    string
}

// Backend is a remote table service capable of hosting session tables.
type Backend interface {
	// EnsureTable creates the named table if it does not exist yet and
	// returns a handle to it.
	EnsureTable(ctx context.Context, name string) (Table, error)
}

// Table is a single session table. Upsert and Delete must be atomic at the
// record level; nothing else is required of the backend.
type Table interface {
	// Upsert inserts the record or replaces the existing one with the same
	// key.
	Upsert(ctx context.Context, rec Record) error

	// Read returns the record stored under key, or ErrNotFound.
	Read(ctx context.Context, key string) (Record, error)

	// Delete removes the record stored under key, or returns ErrNotFound.
	Delete(ctx context.Context, key string) error

	// Query returns one page of records matching q.
	Query(ctx context.Context, q Query) (Page, error)
}
