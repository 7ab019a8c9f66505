package tablesession

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSweepSchedule runs the sweeper at second 59 of every minute.
const DefaultSweepSchedule = "59 * * * * *"

const defaultSweepPageSize = 1000

// scheduleParser accepts six-field expressions with seconds, classic
// five-field ones and descriptors such as "@every 30s".
var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule validates a sweep schedule expression.
func ParseSchedule(spec string) (cron.Schedule, error) {
	sched, err := scheduleParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return sched, nil
}

// SweepStats summarizes one sweep cycle.
type SweepStats struct {
	Queries int // pages requested
	Deleted int // records removed by this cycle
	Missing int // records already gone when the delete ran
	Failed  int // deletes that failed for another reason
}

// Sweeper periodically removes expired records from a Table. It is started
// at most once and stops when the owning store is closed.
type Sweeper struct {
	table    Table
	spec     string
	schedule cron.Schedule
	pageSize int
	now      func() time.Time
	log      zerolog.Logger
	errLog   zerolog.Logger
	onStart  func()

	mu      sync.Mutex
	started atomic.Bool
	stopped bool
	cron    *cron.Cron
}

func newSweeper(table Table, spec string, schedule cron.Schedule, s *TableStore) *Sweeper {
	sw := &Sweeper{
		table:    table,
		spec:     spec,
		schedule: schedule,
		pageSize: s.sweepPageSize,
		now:      s.now,
		log:      s.log,
		errLog:   s.errLog,
		onStart:  s.onSweepStart,
	}

	l := cronLogger{log: s.log, errLog: s.errLog}
	sw.cron = cron.New(
		cron.WithParser(scheduleParser),
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)
	return sw
}

// Start schedules the recurring sweep. Only the first call on a Sweeper has
// an effect; it reports whether this call started the schedule.
func (s *Sweeper) Start() bool {
	if s.started.Load() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started.Load() || s.stopped {
		return false
	}

	s.log.Info().Str("schedule", s.spec).Msg("starting session sweeper")
	s.cron.Schedule(s.schedule, cron.FuncJob(func() {
		s.Sweep(context.Background())
	}))
	s.cron.Start()
	s.started.Store(true)

	if s.onStart != nil {
		s.onStart()
	}
	return true
}

// Running reports whether the schedule has been started.
func (s *Sweeper) Running() bool {
	return s.started.Load()
}

// Stop stops the schedule and waits for a sweep in progress to return. A
// stopped Sweeper cannot be started again.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	<-s.cron.Stop().Done()
}

// Sweep runs one cycle: it pages through the records that expired before
// now and deletes them. Each page is fully drained before the next one is
// requested. Errors are logged, never returned.
func (s *Sweeper) Sweep(ctx context.Context) SweepStats {
	var stats SweepStats
	q := Query{ExpiresBefore: s.now(), Limit: s.pageSize}

	s.log.Info().Msg("cleaning up expired sessions")
	for {
		page, err := s.table.Query(ctx, q)
		stats.Queries++
		if err != nil {
			s.errLog.Error().Err(err).Msg("error when checking for expired sessions")
			return stats
		}

		for _, rec := range page.Records {
			s.delete(ctx, rec.Key, &stats)
		}

		if page.Next == "" || ctx.Err() != nil {
			break
		}
		q.Continuation = page.Next
	}

	s.log.Info().
		Int("deleted", stats.Deleted).
		Int("missing", stats.Missing).
		Int("failed", stats.Failed).
		Msg("session sweep finished")
	return stats
}

func (s *Sweeper) delete(ctx context.Context, key string, stats *SweepStats) {
	err := s.table.Delete(ctx, key)
	switch {
	case err == nil:
		stats.Deleted++
		s.log.Debug().Str("key", key).Msg("cleaned up session")
	case errors.Is(err, ErrNotFound):
		// destroyed or swept elsewhere in the meantime
		stats.Missing++
	default:
		stats.Failed++
		s.errLog.Error().Err(err).Str("key", key).Msg("error deleting session")
	}
}

// cronLogger routes the scheduler's own messages to the store loggers.
type cronLogger struct {
	log    zerolog.Logger
	errLog zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.errLog.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
