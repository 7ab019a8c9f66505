// Package mysqlstore provides a MySQL/MariaDB table backend built on
// database/sql.
//
// The connection must be opened with parseTime=true so that expiry columns
// scan into time.Time. Expiries are stored in UTC with microsecond
// precision.
package mysqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bluescreen10/tablesession"
)

// MySQLStore is a MySQL backed table service.
type MySQLStore struct {
	db *sql.DB
}

// Ensure MySQLStore implements tablesession.Backend.
var _ tablesession.Backend = (*MySQLStore)(nil)

// New creates and returns a new MySQLStore instance.
func New(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// EnsureTable creates the named table if it doesn't exist. The name is
// interpolated into SQL and must already be validated.
func (s *MySQLStore) EnsureTable(ctx context.Context, name string) (tablesession.Table, error) {
	if err := createTable(ctx, s.db, name); err != nil {
		return nil, err
	}
	return newTable(s.db, name), nil
}

// Table is a single session table.
type Table struct {
	db *sql.DB

	upsertStmt string
	readStmt   string
	deleteStmt string
	queryStmt  string
}

func newTable(db *sql.DB, name string) *Table {
	return &Table{
		db:         db,
		upsertStmt: "INSERT INTO " + name + "(token, data, expires_at) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE data = VALUES(data), expires_at = VALUES(expires_at)",
		readStmt:   "SELECT data, expires_at FROM " + name + " WHERE token = ?",
		deleteStmt: "DELETE FROM " + name + " WHERE token = ?",
		queryStmt:  "SELECT token, expires_at FROM " + name + " WHERE expires_at IS NOT NULL AND expires_at < ? AND token > ? ORDER BY token LIMIT ?",
	}
}

// Upsert inserts the record or replaces the row with the same token.
func (t *Table) Upsert(ctx context.Context, rec tablesession.Record) error {
	var expiresAt sql.NullTime
	if rec.Expires() {
		expiresAt = sql.NullTime{Time: rec.ExpiresAt.UTC(), Valid: true}
	}

	if _, err := t.db.ExecContext(ctx, t.upsertStmt, rec.Key, rec.Data, expiresAt); err != nil {
		return unavailable(err)
	}
	return nil
}

// Read returns the record stored under key.
func (t *Table) Read(ctx context.Context, key string) (tablesession.Record, error) {
	var data []byte
	var expiresAt sql.NullTime

	err := t.db.QueryRowContext(ctx, t.readStmt, key).Scan(&data, &expiresAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return tablesession.Record{}, tablesession.ErrNotFound
		}
		return tablesession.Record{}, unavailable(err)
	}

	rec := tablesession.Record{Key: key, Data: data}
	if expiresAt.Valid {
		rec.ExpiresAt = expiresAt.Time
	}
	return rec, nil
}

// Delete removes the row stored under key.
func (t *Table) Delete(ctx context.Context, key string) error {
	res, err := t.db.ExecContext(ctx, t.deleteStmt, key)
	if err != nil {
		return unavailable(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
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

	rows, err := t.db.QueryContext(ctx, t.queryStmt, q.ExpiresBefore.UTC(), q.Continuation, limit+1)
	if err != nil {
		return tablesession.Page{}, unavailable(err)
	}
	defer rows.Close()

	var page tablesession.Page
	for rows.Next() {
		var rec tablesession.Record
		var expiresAt time.Time
		if err := rows.Scan(&rec.Key, &expiresAt); err != nil {
			return tablesession.Page{}, unavailable(err)
		}
		rec.ExpiresAt = expiresAt
		page.Records = append(page.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return tablesession.Page{}, unavailable(err)
	}

	if len(page.Records) > limit {
		page.Records = page.Records[:limit]
		page.Next = page.Records[limit-1].Key
	}
	return page, nil
}

func createTable(ctx context.Context, db *sql.DB, name string) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+name+` (
			token VARCHAR(255) COLLATE utf8mb4_bin PRIMARY KEY,
			data MEDIUMBLOB NOT NULL,
			expires_at DATETIME(6) NULL,
			INDEX expires_at_idx (expires_at)
		)`)
	if err != nil {
		return unavailable(fmt.Errorf("failed to create table: %w", err))
	}
	return nil
}

func unavailable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", tablesession.ErrBackendUnavailable, err)
}
