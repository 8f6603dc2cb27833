// Package keeper runs the scheduled protocol housekeeping: executing
// proposals whose voting closed, archiving finished markets and warming
// the quote cache.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	cacheredis "oraculo/internal/cache/redis"
	"oraculo/internal/domain"
	"oraculo/internal/observability"
	"oraculo/internal/pricing"
	"oraculo/internal/protocol"
)

// Job names, also used as lock keys and metric labels.
const (
	JobExecute = "execute"
	JobArchive = "archive"
	JobWarm    = "warm"
)

// Job statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// Engine is the protocol surface the keeper drives.
type Engine interface {
	Now() int64
	ListDueProposals(ctx context.Context, now int64) ([]*domain.Proposal, error)
	ExecuteResolution(ctx context.Context, signer, proposal domain.Address) (*protocol.Resolution, error)
	ListMarkets(ctx context.Context, f protocol.MarketFilter) ([]*domain.Market, error)
	Quote(ctx context.Context, market domain.Address, side domain.Side, amount uint64) (*pricing.Quote, error)
}

// Archiver snapshots finished markets.
type Archiver interface {
	ArchiveFinished(ctx context.Context) (int, error)
}

// QuoteStore caches market quotes.
type QuoteStore interface {
	Set(ctx context.Context, q *pricing.Quote) error
}

// Locker provides a lock shared between keeper replicas.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// Options configures a Keeper. Nil Archiver, Quotes or Locker disable the
// corresponding feature; an empty schedule leaves its job unscheduled.
type Options struct {
	Engine   Engine
	Signer   domain.Address // recorded as the executor of resolutions
	Archiver Archiver
	Quotes   QuoteStore
	Locker   Locker
	LockTTL  time.Duration
	Logger   *zap.Logger

	// Cron specs with a leading seconds field.
	ExecuteSchedule string
	ArchiveSchedule string
	WarmSchedule    string
}

// JobStatus is the outcome of a job's latest run.
type JobStatus struct {
	LastRun   time.Time `json:"last_run"`
	Status    string    `json:"status"`
	Processed int       `json:"processed"`
	Error     string    `json:"error,omitempty"`
	Runs      int       `json:"runs"`
}

type jobFunc func(ctx context.Context) (int, error)

// Keeper schedules housekeeping jobs with cron.
type Keeper struct {
	opts   Options
	cron   *cron.Cron
	logger *zap.Logger

	mu     sync.Mutex
	ctx    context.Context
	status map[string]JobStatus
}

// New creates a Keeper and registers its scheduled jobs.
func New(opts Options) (*Keeper, error) {
	if opts.Engine == nil {
		return nil, errors.New("keeper: engine is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = time.Minute
	}

	k := &Keeper{
		opts:   opts,
		cron:   cron.New(cron.WithSeconds()),
		logger: opts.Logger.Named("keeper"),
		ctx:    context.Background(),
		status: make(map[string]JobStatus),
	}

	jobs := []struct {
		name    string
		spec    string
		fn      jobFunc
		enabled bool
	}{
		{JobExecute, opts.ExecuteSchedule, k.ExecuteDue, true},
		{JobArchive, opts.ArchiveSchedule, k.Archive, opts.Archiver != nil},
		{JobWarm, opts.WarmSchedule, k.WarmQuotes, opts.Quotes != nil},
	}
	for _, j := range jobs {
		if !j.enabled || j.spec == "" {
			continue
		}
		name, fn := j.name, j.fn
		if _, err := k.cron.AddFunc(j.spec, func() { k.RunJob(k.baseCtx(), name, fn) }); err != nil {
			return nil, fmt.Errorf("keeper: %s schedule %q: %w", name, j.spec, err)
		}
	}
	return k, nil
}

func (k *Keeper) baseCtx() context.Context {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.ctx
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// running jobs to finish.
func (k *Keeper) Run(ctx context.Context) error {
	k.mu.Lock()
	k.ctx = ctx
	k.mu.Unlock()

	k.logger.Info("keeper started", zap.Int("jobs", len(k.cron.Entries())))
	k.cron.Start()

	<-ctx.Done()

	<-k.cron.Stop().Done()
	k.logger.Info("keeper stopped")
	return nil
}

// Status returns the latest outcome of every job that has run.
func (k *Keeper) Status() map[string]JobStatus {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make(map[string]JobStatus, len(k.status))
	for name, s := range k.status {
		out[name] = s
	}
	return out
}

// RunJob runs fn under the job's lock and records the outcome. A lock held
// by another replica skips the run.
func (k *Keeper) RunJob(ctx context.Context, name string, fn jobFunc) JobStatus {
	start := time.Now()
	log := k.logger.With(zap.String("job", name))

	if k.opts.Locker != nil {
		unlock, err := k.opts.Locker.Acquire(ctx, "keeper:"+name, k.opts.LockTTL)
		if err != nil {
			if errors.Is(err, cacheredis.ErrLockHeld) {
				log.Debug("job skipped, lock held elsewhere")
				return k.record(name, start, StatusSkipped, 0, nil)
			}
			log.Warn("job lock failed", zap.Error(err))
			return k.record(name, start, StatusError, 0, err)
		}
		defer unlock()
	}

	n, err := fn(ctx)
	if err != nil {
		log.Warn("job failed", zap.Int("processed", n), zap.Error(err))
		return k.record(name, start, StatusError, n, err)
	}
	if n > 0 {
		log.Info("job done", zap.Int("processed", n), zap.Duration("took", time.Since(start)))
	}
	return k.record(name, start, StatusSuccess, n, nil)
}

func (k *Keeper) record(name string, start time.Time, status string, n int, err error) JobStatus {
	observability.RecordKeeperJob(name, status)
	observability.RecordKeeperRun(start.Unix())

	k.mu.Lock()
	defer k.mu.Unlock()
	s := k.status[name]
	s.LastRun = start
	s.Status = status
	s.Processed = n
	s.Error = ""
	if err != nil {
		s.Error = err.Error()
	}
	s.Runs++
	k.status[name] = s
	return s
}

// ExecuteDue executes every proposal whose voting window has closed. A
// proposal finalized concurrently is skipped; other failures are collected
// and the remaining proposals still run.
func (k *Keeper) ExecuteDue(ctx context.Context) (int, error) {
	due, err := k.opts.Engine.ListDueProposals(ctx, k.opts.Engine.Now())
	if err != nil {
		return 0, fmt.Errorf("list due proposals: %w", err)
	}

	var (
		done int
		errs []error
	)
	for _, p := range due {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		res, err := k.opts.Engine.ExecuteResolution(ctx, k.opts.Signer, p.Address)
		if err != nil {
			if errors.Is(err, protocol.ErrProposalNotActive) {
				continue
			}
			errs = append(errs, fmt.Errorf("proposal %s: %w", p.Address, err))
			continue
		}
		done++
		k.logger.Info("proposal finalized",
			zap.String("proposal", p.Address.String()),
			zap.String("market", p.Market.String()),
			zap.String("status", string(res.Proposal.Status)),
			zap.Uint64("reward", res.Reward),
		)
	}
	return done, errors.Join(errs...)
}

// Archive snapshots finished markets that are not archived yet.
func (k *Keeper) Archive(ctx context.Context) (int, error) {
	if k.opts.Archiver == nil {
		return 0, nil
	}
	return k.opts.Archiver.ArchiveFinished(ctx)
}

// WarmQuotes caches a fresh quote for every active market.
func (k *Keeper) WarmQuotes(ctx context.Context) (int, error) {
	if k.opts.Quotes == nil {
		return 0, nil
	}
	markets, err := k.opts.Engine.ListMarkets(ctx, protocol.MarketFilter{Status: domain.MarketStatusActive})
	if err != nil {
		return 0, fmt.Errorf("list markets: %w", err)
	}

	var (
		n    int
		errs []error
	)
	for _, m := range markets {
		q, err := k.opts.Engine.Quote(ctx, m.Address, "", 0)
		if err != nil {
			errs = append(errs, fmt.Errorf("quote %s: %w", m.Address, err))
			continue
		}
		if err := k.opts.Quotes.Set(ctx, q); err != nil {
			errs = append(errs, fmt.Errorf("cache quote %s: %w", m.Address, err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}
