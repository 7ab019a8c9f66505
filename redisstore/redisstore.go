// Package redisstore provides a redis table backend.
//
// Each table lives under its own hash-tagged key prefix so that a table
// stays on a single cluster slot. A record is a hash holding the payload
// and its expiry; a sorted set indexes the records that expire, scored by
// the expiry in unix milliseconds, and the sweeper pages through it with
// score range queries.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bluescreen10/tablesession"
	"github.com/redis/go-redis/v9"
)

const (
	fieldData    = "data"
	fieldExpires = "expires"
)

// RedisStore is a redis backed table service.
type RedisStore struct {
	rdb redis.UniversalClient
}

// Ensure RedisStore implements tablesession.Backend.
var _ tablesession.Backend = (*RedisStore)(nil)

// New creates and returns a new RedisStore instance. The client is owned by
// the caller.
func New(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb}
}

// EnsureTable checks the server is reachable. Redis has no tables to
// create; the name only prefixes the keys.
func (s *RedisStore) EnsureTable(ctx context.Context, name string) (tablesession.Table, error) {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return nil, unavailable(err)
	}
	return &Table{rdb: s.rdb, prefix: "{" + name + "}"}, nil
}

// Table is a set of session records sharing a key prefix.
type Table struct {
	rdb    redis.UniversalClient
	prefix string
}

func (t *Table) recordKey(key string) string {
	return t.prefix + ":s:" + key
}

func (t *Table) indexKey() string {
	return t.prefix + ":expiry"
}

// Upsert replaces the record stored under rec.Key.
func (t *Table) Upsert(ctx context.Context, rec tablesession.Record) error {
	var expires int64
	if rec.Expires() {
		expires = rec.ExpiresAt.UnixMilli()
	}

	_, err := t.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		k := t.recordKey(rec.Key)
		pipe.Del(ctx, k)
		pipe.HSet(ctx, k, fieldData, rec.Data, fieldExpires, expires)
		if rec.Expires() {
			pipe.ZAdd(ctx, t.indexKey(), redis.Z{Score: float64(expires), Member: rec.Key})
		} else {
			pipe.ZRem(ctx, t.indexKey(), rec.Key)
		}
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// Read returns the record stored under key.
func (t *Table) Read(ctx context.Context, key string) (tablesession.Record, error) {
	fields, err := t.rdb.HGetAll(ctx, t.recordKey(key)).Result()
	if err != nil {
		return tablesession.Record{}, unavailable(err)
	}
	if len(fields) == 0 {
		return tablesession.Record{}, tablesession.ErrNotFound
	}

	rec := tablesession.Record{Key: key, Data: []byte(fields[fieldData])}
	ms, err := strconv.ParseInt(fields[fieldExpires], 10, 64)
	if err != nil {
		return tablesession.Record{}, fmt.Errorf("%w: bad expiry %q", tablesession.ErrSerialization, fields[fieldExpires])
	}
	if ms > 0 {
		rec.ExpiresAt = time.UnixMilli(ms)
	}
	return rec, nil
}

// Delete removes the record and its index entry.
func (t *Table) Delete(ctx context.Context, key string) error {
	var del *redis.IntCmd
	_, err := t.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, t.recordKey(key))
		pipe.ZRem(ctx, t.indexKey(), key)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	if del.Val() == 0 {
		return tablesession.ErrNotFound
	}
	return nil
}

// Query reads the expiry index with a ZRANGE BYSCORE over [-inf, before),
// oldest first. The continuation token holds the score and member of the
// last entry returned. The next page starts at that score and skips members
// up to and including it, so entries left behind by a failed delete are not
// returned twice.
func (t *Table) Query(ctx context.Context, q tablesession.Query) (tablesession.Page, error) {
	limit := int64(q.Limit)
	if limit <= 0 {
		limit = 100
	}

	lo := "-inf"
	var after *position
	if q.Continuation != "" {
		pos, err := parsePosition(q.Continuation)
		if err != nil {
			return tablesession.Page{}, err
		}
		after = &pos
		lo = strconv.FormatInt(pos.score, 10)
	}
	hi := "(" + strconv.FormatInt(q.ExpiresBefore.UnixMilli(), 10)

	var page tablesession.Page
	for offset := int64(0); ; {
		items, err := t.rdb.ZRangeArgsWithScores(ctx, redis.ZRangeArgs{
			Key:     t.indexKey(),
			Start:   lo,
			Stop:    hi,
			ByScore: true,
			Offset:  offset,
			Count:   limit,
		}).Result()
		if err != nil {
			return tablesession.Page{}, unavailable(err)
		}

		var last position
		for _, z := range items {
			last = position{score: int64(z.Score), member: fmt.Sprint(z.Member)}
			if after != nil && !after.before(last) {
				continue
			}
			page.Records = append(page.Records, tablesession.Record{
				Key:       last.member,
				ExpiresAt: time.UnixMilli(last.score),
			})
		}

		if int64(len(items)) < limit {
			return page, nil
		}
		if len(page.Records) > 0 {
			page.Next = last.String()
			return page, nil
		}
		// every entry sat at or before the token; read further
		offset += int64(len(items))
	}
}

// position is a place in the expiry index. Redis orders members that share
// a score lexicographically.
type position struct {
	score  int64
	member string
}

func (p position) before(o position) bool {
	if p.score != o.score {
		return p.score < o.score
	}
	return p.member < o.member
}

func (p position) String() string {
	return strconv.FormatInt(p.score, 10) + ":" + p.member
}

func parsePosition(token string) (position, error) {
	score, member, ok := strings.Cut(token, ":")
	if !ok {
		return position{}, fmt.Errorf("invalid continuation token %q", token)
	}
	ms, err := strconv.ParseInt(score, 10, 64)
	if err != nil {
		return position{}, fmt.Errorf("invalid continuation token %q: %w", token, err)
	}
	return position{score: ms, member: member}, nil
}

func unavailable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", tablesession.ErrBackendUnavailable, err)
}
