package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iliyamo/camp-registration/internal/metrics"
	"github.com/iliyamo/camp-registration/internal/repository"
)

// SweepResult summarises one sweeper run.
type SweepResult struct {
	Scanned  int  `json:"scanned"`
	Released int  `json:"released"`
	Failed   int  `json:"failed"`
	Skipped  bool `json:"skipped"`
}

// Lease is a best-effort mutual exclusion between sweeper instances.  The
// sweep is correct without it; the lease only avoids duplicate work.
type Lease interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisLease implements Lease with SET NX PX and a compare-and-delete
// release so an instance never frees a lease it no longer owns.
type RedisLease struct {
	client *redis.Client
	token  string
}

// NewRedisLease returns a lease bound to client.  A nil client yields nil.
func NewRedisLease(client *redis.Client) *RedisLease {
	if client == nil {
		return nil
	}
	return &RedisLease{client: client, token: uuid.NewString()}
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Acquire tries to take key for ttl.
func (r *RedisLease) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, r.token, ttl).Result()
}

// Release frees key if this instance still holds it.
func (r *RedisLease) Release(ctx context.Context, key string) error {
	return releaseScript.Run(ctx, r.client, []string{key}, r.token).Err()
}

const (
	sweepLeaseKey = "lease:reservations.sweep"
	sweepLeaseTTL = 4 * time.Minute
	sweepBatch    = 500
)

// Sweeper returns expired reservations to stock.  Each reservation is
// released in its own short transaction: the row is deleted only while it
// is still expired, and the stock incremented only if this run actually
// removed it, so overlapping sweeps (or a sweep racing an extension)
// never release a live hold or release one twice.
type Sweeper struct {
	db      *sql.DB
	repos   Repos
	lease   Lease
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     Clock
	batch   int
}

// NewSweeper builds a sweeper.  lease may be nil.
func NewSweeper(db *sql.DB, repos Repos, lease Lease, m *metrics.Metrics, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		db:      db,
		repos:   repos,
		lease:   lease,
		metrics: m,
		log:     log.With().Str("component", "sweeper").Logger(),
		now:     systemClock,
		batch:   sweepBatch,
	}
}

// Run releases every reservation whose expires_at is in the past.
// Individual failures are logged and counted; the sweep goes on.
func (s *Sweeper) Run(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	start := time.Now()

	if s.lease != nil {
		ok, err := s.lease.Acquire(ctx, sweepLeaseKey, sweepLeaseTTL)
		switch {
		case err != nil:
			s.log.Warn().Err(err).Msg("lease unavailable, sweeping without it")
		case !ok:
			s.log.Debug().Msg("another sweep holds the lease")
			result.Skipped = true
			return result, nil
		default:
			defer func() {
				if err := s.lease.Release(context.WithoutCancel(ctx), sweepLeaseKey); err != nil {
					s.log.Warn().Err(err).Msg("release sweep lease")
				}
			}()
		}
	}

	now := s.now()
	var lastID uint64
	for {
		ids, err := s.repos.Reservations.ListExpiredIDs(ctx, now, lastID, s.batch)
		if err != nil {
			return result, err
		}
		for _, id := range ids {
			lastID = id
			result.Scanned++
			released, err := s.releaseOne(ctx, id, now)
			if err != nil {
				result.Failed++
				s.log.Error().Err(err).Uint64("reservation_id", id).Msg("release expired reservation")
				continue
			}
			if released {
				result.Released++
			}
		}
		// Failed rows stay behind lastID until the next run.
		if len(ids) < s.batch {
			break
		}
	}

	if s.metrics != nil {
		s.metrics.SweepRuns.Inc()
		s.metrics.SweepReleased.Add(float64(result.Released))
		s.metrics.SweepFailures.Add(float64(result.Failed))
		s.metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}
	if result.Scanned > 0 {
		s.log.Info().
			Int("scanned", result.Scanned).
			Int("released", result.Released).
			Int("failed", result.Failed).
			Msg("sweep finished")
	}
	return result, nil
}

// releaseOne reports false when the reservation was already gone or had
// been extended after it was selected.
func (s *Sweeper) releaseOne(ctx context.Context, id uint64, now time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	committed := false
	defer rollback(tx, &committed)

	res, err := s.repos.Reservations.GetByIDTx(ctx, tx, id)
	if errors.Is(err, repository.ErrReservationNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := s.repos.Reservations.DeleteExpiredByIDTx(ctx, tx, id, now); err != nil {
		if errors.Is(err, repository.ErrReservationNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := s.repos.TentTypes.IncrementTx(ctx, tx, res.TentTypeID, res.Quantity); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	committed = true
	if s.metrics != nil {
		s.metrics.UnitsReleased.Add(float64(res.Quantity))
	}
	return true, nil
}
