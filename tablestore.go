// Package tablesession provides a session store on top of remote table
// services (Azure Table Storage, Redis, SQL databases) with TTL-bounded
// records and a background sweeper that reclaims expired sessions.
//
// Usage:
//
//	package main
//
//	import (
//	    "context"
//	    "net/http"
//	    "time"
//
//	    "github.com/bluescreen10/tablesession"
//	    "github.com/bluescreen10/tablesession/memstore"
//	    "github.com/bluescreen10/tablesession/session"
//	)
//
//	func main() {
//	    store, err := tablesession.New(context.Background(), memstore.New(),
//	        tablesession.WithDefaultTTL(30*time.Minute),
//	    )
//	    if err != nil {
//	        panic(err)
//	    }
//	    defer store.Close()
//
//	    mgr := session.NewManager(store)
//	    mux := http.NewServeMux()
//	    mux.Handle("/", mgr.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
//	        sess := mgr.Get(r)
//	        sess.Set("count", sess.GetInt("count")+1)
//	    })))
//
//	    http.ListenAndServe(":8080", mux)
//	}
package tablesession

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
)

// DefaultTableName is the table used when WithTableName is not given.
const DefaultTableName = "Sessions"

// MaxReadRetries bounds WithReadRetries.
const MaxReadRetries = 100

var tableNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]{2,62}$`)

// Ensure TableStore implements Store.
var _ Store = (*TableStore)(nil)

// TableStore is a Store backed by a Table. It is safe for concurrent use.
type TableStore struct {
	table          Table
	tableName      string
	codec          Codec
	key            KeyFunc
	defaultTTL     time.Duration
	readRetries    uint
	readRetryDelay time.Duration
	schedule       string
	sweepPageSize  int
	sweepOnStart   bool
	onSweepStart   func()
	log            zerolog.Logger
	errLog         zerolog.Logger
	now            func() time.Time
	sweeper        *Sweeper
}

// Option configures a TableStore.
type Option func(*TableStore)

// WithDefaultTTL sets the lifetime of sessions whose payload does not
// request one. (default none: such sessions never expire.)
func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *TableStore) {
		s.defaultTTL = ttl
	}
}

// WithSweepSchedule sets the cron expression of the expiry sweeper.
// (default "59 * * * * *")
func WithSweepSchedule(spec string) Option {
	return func(s *TableStore) {
		s.schedule = spec
	}
}

// WithTableName sets the table holding the sessions. (default "Sessions")
func WithTableName(name string) Option {
	return func(s *TableStore) {
		s.tableName = name
	}
}

// WithLogger sets the sink for informational events. (default disabled)
func WithLogger(l zerolog.Logger) Option {
	return func(s *TableStore) {
		s.log = l
	}
}

// WithErrorLogger sets the sink for sweep errors. (default disabled)
func WithErrorLogger(l zerolog.Logger) Option {
	return func(s *TableStore) {
		s.errLog = l
	}
}

// WithCodec sets the payload codec. (default GobCodec)
func WithCodec(c Codec) Option {
	return func(s *TableStore) {
		s.codec = c
	}
}

// WithKeyFunc sets the session id normalization. (default SanitizeKey)
func WithKeyFunc(fn KeyFunc) Option {
	return func(s *TableStore) {
		s.key = fn
	}
}

// WithReadRetries sets how many times Get retries a read that found
// nothing, to cover writes not yet visible on eventually-consistent
// backends. Values above MaxReadRetries are clamped. (default 1)
func WithReadRetries(n uint) Option {
	return func(s *TableStore) {
		s.readRetries = min(n, MaxReadRetries)
	}
}

// WithReadRetryDelay sets the pause between read retries. (default 0)
func WithReadRetryDelay(d time.Duration) Option {
	return func(s *TableStore) {
		s.readRetryDelay = d
	}
}

// WithSweepPageSize sets the page size requested by the sweeper.
// (default 1000)
func WithSweepPageSize(n int) Option {
	return func(s *TableStore) {
		s.sweepPageSize = n
	}
}

// WithSweepStartHook registers a function called each time the sweeper
// schedule is actually started.
func WithSweepStartHook(fn func()) Option {
	return func(s *TableStore) {
		s.onSweepStart = fn
	}
}

// WithSweepOnStart starts the sweeper from New when a default TTL is
// configured, instead of waiting for the first write carrying an expiry.
func WithSweepOnStart() Option {
	return func(s *TableStore) {
		s.sweepOnStart = true
	}
}

// WithClock replaces time.Now for expiry computation and sweeping.
func WithClock(now func() time.Time) Option {
	return func(s *TableStore) {
		s.now = now
	}
}

// New creates the session table on the backend if needed and returns a
// store using it. It fails if the table cannot be created; the caller
// should not start serving in that case.
func New(ctx context.Context, backend Backend, opts ...Option) (*TableStore, error) {
	s := &TableStore{
		tableName:     DefaultTableName,
		codec:         GobCodec{},
		key:           SanitizeKey,
		readRetries:   1,
		schedule:      DefaultSweepSchedule,
		sweepPageSize: defaultSweepPageSize,
		log:           zerolog.Nop(),
		errLog:        zerolog.Nop(),
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	if !tableNamePattern.MatchString(s.tableName) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTableName, s.tableName)
	}

	schedule, err := ParseSchedule(s.schedule)
	if err != nil {
		return nil, err
	}

	table, err := backend.EnsureTable(ctx, s.tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to create table %s: %w", s.tableName, err)
	}
	s.log.Info().Str("table", s.tableName).Msg("session table ready")

	s.table = table
	s.sweeper = newSweeper(table, s.schedule, schedule, s)

	if s.sweepOnStart && s.defaultTTL > 0 {
		s.sweeper.Start()
	}

	return s, nil
}

// Get returns the payload stored for id. A read that finds nothing is
// retried before the session is reported absent. A record past its expiry
// that the sweeper has not removed yet is reported absent too.
func (s *TableStore) Get(ctx context.Context, id string) (Payload, bool, error) {
	key := s.key(id)
	s.log.Debug().Str("key", key).Msg("get session")
	if key == "" {
		return Payload{}, false, nil
	}

	rec, err := retry.DoWithData(
		func() (Record, error) {
			return s.table.Read(ctx, key)
		},
		retry.Attempts(s.readRetries+1),
		retry.Delay(s.readRetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(isNotFound),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if isNotFound(err) {
		return Payload{}, false, nil
	}
	if err != nil {
		return Payload{}, false, err
	}

	if rec.ExpiredAt(s.now()) {
		return Payload{}, false, nil
	}

	p, err := s.codec.Decode(rec.Data)
	if err != nil {
		return Payload{}, false, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return p, true, nil
}

// Set stores p under id and arms the sweeper when the record expires.
func (s *TableStore) Set(ctx context.Context, id string, p Payload) error {
	return s.upsert(ctx, "set", id, p)
}

// Touch rewrites the whole record, which refreshes its expiry.
func (s *TableStore) Touch(ctx context.Context, id string, p Payload) error {
	return s.upsert(ctx, "touch", id, p)
}

// Destroy removes the session. Destroying a missing session succeeds.
func (s *TableStore) Destroy(ctx context.Context, id string) error {
	key := s.key(id)
	s.log.Debug().Str("key", key).Msg("destroy session")
	if key == "" {
		return nil
	}

	err := s.table.Delete(ctx, key)
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// Sweeper returns the store's expiry sweeper.
func (s *TableStore) Sweeper() *Sweeper {
	return s.sweeper
}

// Close stops the sweeper. The backend client is owned by the caller and
// is left open.
func (s *TableStore) Close() error {
	s.sweeper.Stop()
	return nil
}

func (s *TableStore) upsert(ctx context.Context, method, id string, p Payload) error {
	key := s.key(id)
	s.log.Debug().Str("key", key).Msg(method + " session")
	if key == "" {
		return ErrInvalidKey
	}

	data, err := s.codec.Encode(p)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	rec := Record{Key: key, Data: data}
	expiresAt, expires := ExpiresAt(s.now(), p.OriginalMaxAge, s.defaultTTL)
	if expires {
		rec.ExpiresAt = expiresAt
	}

	if err := s.table.Upsert(ctx, rec); err != nil {
		return err
	}

	if expires {
		s.sweeper.Start()
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
