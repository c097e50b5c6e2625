// Package jobs exposes each pipeline stage as a lease-guarded, one-shot job.
// Invocations are externally scheduled; the redis lease is what guarantees
// two overlapping invocations never double-trade or double-liquidate.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/archive"
	"github.com/alanyoungcy/kalshibot/internal/domain"
	"github.com/alanyoungcy/kalshibot/internal/executor"
	"github.com/alanyoungcy/kalshibot/internal/oracle"
	"github.com/alanyoungcy/kalshibot/internal/resolver"
	"github.com/alanyoungcy/kalshibot/internal/risk"
	"github.com/alanyoungcy/kalshibot/internal/scanner"
	"github.com/alanyoungcy/kalshibot/internal/screener"
)

// Job names double as lease keys and HTTP route segments.
const (
	JobRefreshCache = "refresh-cache"
	JobScreen       = "screen"
	JobTrade        = "trade"
	JobStopLoss     = "stoploss"
	JobResolve      = "resolve"
	JobReconcile    = "reconcile"
	JobArchive      = "archive"
)

const defaultLeaseTTL = 10 * time.Minute

// ErrUnknownJob is returned by Run for a name that maps to no job.
var ErrUnknownJob = errors.New("unknown job")

// Gateway is the slice of the exchange client the runner itself needs; the
// stage components carry their own narrower views.
type Gateway interface {
	ListOpenMarkets(ctx context.Context, limit int, cursor string) ([]domain.Market, string, error)
	AccountBalance(ctx context.Context) (float64, error)
}

// JobResult is the uniform outcome envelope every job returns. Skipped means
// the lease was busy; an empty Counts map with Skipped=false means the job
// ran and found nothing to do.
type JobResult struct {
	Job      string           `json:"job"`
	Skipped  bool             `json:"skipped,omitempty"`
	Counts   map[string]int64 `json:"counts,omitempty"`
	Duration string           `json:"duration"`
}

// TradePolicy carries the sizing knobs the trade job applies between the
// oracle and the executor.
type TradePolicy struct {
	DailyBudget   float64
	MinAllocation float64
	MaxAllocation float64
	HistoryDepth  int // recent trades shown to the oracle
}

// Deps are the constructed stage components the runner drives.
type Deps struct {
	Gateway  Gateway
	Markets  domain.MarketStore
	Trades   domain.TradeStore
	Bankroll domain.BankrollCache

	Screener *screener.Screener
	Scanner  *scanner.Scanner
	Oracle   domain.DecisionOracle
	Executor *executor.Executor
	Risk     *risk.Engine
	Resolver *resolver.Resolver
	Archiver *archive.Archiver

	ScreenCriteria screener.Criteria
	ScanCriteria   scanner.Criteria
	Policy         TradePolicy
	StaleAfter     time.Duration // reconcile job cutoff
}

// Runner executes pipeline jobs under distributed leases.
type Runner struct {
	deps     Deps
	locks    domain.LockManager
	leaseTTL time.Duration
	logger   *slog.Logger
}

// New creates a Runner. A nil lock manager disables leasing, which is only
// appropriate in tests.
func New(deps Deps, locks domain.LockManager, logger *slog.Logger) *Runner {
	return &Runner{
		deps:     deps,
		locks:    locks,
		leaseTTL: defaultLeaseTTL,
		logger:   logger.With(slog.String("component", "jobs")),
	}
}

// Run dispatches a job by name.
func (r *Runner) Run(ctx context.Context, job string) (JobResult, error) {
	switch job {
	case JobRefreshCache:
		return r.RefreshCache(ctx)
	case JobScreen:
		return r.Screen(ctx)
	case JobTrade:
		return r.Trade(ctx)
	case JobStopLoss:
		return r.StopLoss(ctx)
	case JobResolve:
		return r.Resolve(ctx)
	case JobReconcile:
		return r.Reconcile(ctx)
	case JobArchive:
		return r.Archive(ctx)
	default:
		return JobResult{}, fmt.Errorf("jobs: %w: %q", ErrUnknownJob, job)
	}
}

// withLease runs fn under the job's lease. A busy lease is a skipped result,
// not an error; any other acquisition failure is fatal for the invocation.
func (r *Runner) withLease(ctx context.Context, job string, fn func(context.Context) (map[string]int64, error)) (JobResult, error) {
	start := time.Now()

	if r.locks != nil {
		unlock, err := r.locks.Acquire(ctx, job, r.leaseTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			r.logger.Info("lease busy, skipping job",
				slog.String("job", job),
			)
			return JobResult{Job: job, Skipped: true, Duration: time.Since(start).String()}, nil
		}
		if err != nil {
			return JobResult{}, fmt.Errorf("jobs: acquire lease %s: %w", job, err)
		}
		defer unlock()
	}

	r.logger.Info("job started", slog.String("job", job))
	counts, err := fn(ctx)
	if err != nil {
		return JobResult{}, err
	}

	res := JobResult{Job: job, Counts: counts, Duration: time.Since(start).String()}
	r.logger.Info("job finished",
		slog.String("job", job),
		slog.Any("counts", counts),
		slog.String("duration", res.Duration),
	)
	return res, nil
}

// RefreshCache pulls the full open-market listing and upserts it into the
// market cache, one page per round trip.
func (r *Runner) RefreshCache(ctx context.Context) (JobResult, error) {
	return r.withLease(ctx, JobRefreshCache, func(ctx context.Context) (map[string]int64, error) {
		criteria := r.deps.ScreenCriteria
		pageSize := criteria.PageSize
		if pageSize <= 0 {
			pageSize = screener.DefaultCriteria().PageSize
		}

		var total int64
		cursor := ""
		for {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			markets, next, err := r.deps.Gateway.ListOpenMarkets(ctx, pageSize, cursor)
			if err != nil {
				return nil, fmt.Errorf("list open markets: %w", err)
			}
			if len(markets) > 0 {
				if err := r.deps.Markets.UpsertBatch(ctx, markets); err != nil {
					return nil, fmt.Errorf("upsert markets: %w", err)
				}
				total += int64(len(markets))
			}
			if next == "" || len(markets) == 0 {
				break
			}
			cursor = next
		}
		return map[string]int64{"markets_cached": total}, nil
	})
}

// Screen runs the four-phase screener and records the surviving candidates.
func (r *Runner) Screen(ctx context.Context) (JobResult, error) {
	return r.withLease(ctx, JobScreen, func(ctx context.Context) (map[string]int64, error) {
		candidates, stats, err := r.deps.Screener.Screen(ctx, r.deps.ScreenCriteria)
		if err != nil {
			return nil, err
		}
		for _, c := range candidates {
			if err := r.deps.Markets.Upsert(ctx, c.Market); err != nil {
				r.logger.Warn("candidate cache write failed",
					slog.String("ticker", c.Ticker),
					slog.String("error", err.Error()),
				)
			}
		}
		return map[string]int64{
			"markets_loaded":   int64(stats.Loaded),
			"passed_filter":    int64(stats.Filtered),
			"depth_checked":    int64(stats.DepthChecked),
			"candidates_found": int64(stats.Candidates),
		}, nil
	})
}

// Trade runs one full trading cycle: rescan the cache, consult the oracle,
// normalize its allocations, and execute.
func (r *Runner) Trade(ctx context.Context) (JobResult, error) {
	return r.withLease(ctx, JobTrade, func(ctx context.Context) (map[string]int64, error) {
		contracts, err := r.deps.Scanner.Scan(ctx, r.deps.ScanCriteria)
		if err != nil {
			return nil, err
		}
		if len(contracts) == 0 {
			return map[string]int64{"contracts_found": 0}, nil
		}

		bankroll, err := r.deps.Gateway.AccountBalance(ctx)
		if err != nil {
			return nil, fmt.Errorf("read balance: %w", err)
		}
		if r.deps.Bankroll != nil {
			if err := r.deps.Bankroll.Set(ctx, bankroll); err != nil {
				r.logger.Warn("bankroll snapshot failed",
					slog.String("error", err.Error()),
				)
			}
		}

		historyDepth := r.deps.Policy.HistoryDepth
		if historyDepth <= 0 {
			historyDepth = 20
		}
		history, err := r.deps.Trades.ListRecent(ctx, historyDepth)
		if err != nil {
			return nil, fmt.Errorf("load trade history: %w", err)
		}

		decision, err := r.deps.Oracle.Decide(ctx, domain.OracleInput{
			Candidates:  contracts,
			History:     history,
			Bankroll:    bankroll,
			DailyBudget: r.deps.Policy.DailyBudget,
		})
		if err != nil {
			return nil, fmt.Errorf("oracle decision: %w", err)
		}
		if len(decision.Selections) == 0 {
			return map[string]int64{
				"contracts_found": int64(len(contracts)),
				"selections":      0,
			}, nil
		}

		allocations := make([]float64, len(decision.Selections))
		for i, sel := range decision.Selections {
			allocations[i] = sel.Allocation
		}
		normalized := oracle.NormalizeAllocations(allocations, oracle.AllocationBounds{
			Min:    r.deps.Policy.MinAllocation,
			Max:    r.deps.Policy.MaxAllocation,
			Budget: r.deps.Policy.DailyBudget,
		})
		for i := range decision.Selections {
			decision.Selections[i].Allocation = normalized[i]
		}

		results := r.deps.Executor.ExecuteTrades(ctx, decision.Selections)
		var executed, failed int64
		for _, res := range results {
			switch {
			case res.Err != "":
				failed++
			case res.Trade != nil:
				executed++
			}
		}
		return map[string]int64{
			"contracts_found": int64(len(contracts)),
			"selections":      int64(len(decision.Selections)),
			"trades_executed": executed,
			"trades_failed":   failed,
		}, nil
	})
}

// StopLoss runs one risk-engine sweep.
func (r *Runner) StopLoss(ctx context.Context) (JobResult, error) {
	return r.withLease(ctx, JobStopLoss, func(ctx context.Context) (map[string]int64, error) {
		stats, err := r.deps.Risk.Sweep(ctx)
		if err != nil {
			return nil, err
		}
		counts := map[string]int64{
			"evaluated": int64(stats.Evaluated),
			"triggered": int64(stats.Triggered),
			"aborted":   int64(stats.Aborted),
		}
		if stats.BreakerHit {
			counts["breaker_hit"] = 1
		}
		return counts, nil
	})
}

// Resolve runs one settlement sweep.
func (r *Runner) Resolve(ctx context.Context) (JobResult, error) {
	return r.withLease(ctx, JobResolve, func(ctx context.Context) (map[string]int64, error) {
		res, err := r.deps.Resolver.CheckAndResolve(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]int64{
			"resolved":        int64(res.Resolved),
			"won":             int64(res.Won),
			"lost":            int64(res.Lost),
			"available_cents": int64(res.AvailableCash * 100),
		}, nil
	})
}

// Reconcile cancels stale resting orders left behind by fill-poll timeouts.
func (r *Runner) Reconcile(ctx context.Context) (JobResult, error) {
	return r.withLease(ctx, JobReconcile, func(ctx context.Context) (map[string]int64, error) {
		touched, err := r.deps.Executor.ReconcileOrders(ctx, r.deps.StaleAfter)
		if err != nil {
			return nil, err
		}
		return map[string]int64{"orders_reconciled": int64(touched)}, nil
	})
}

// Archive moves aged terminal rows to cold storage.
func (r *Runner) Archive(ctx context.Context) (JobResult, error) {
	if r.deps.Archiver == nil {
		return JobResult{}, fmt.Errorf("jobs: archiving is not configured")
	}
	return r.withLease(ctx, JobArchive, func(ctx context.Context) (map[string]int64, error) {
		stats, err := r.deps.Archiver.Run(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]int64{
			"trades_archived": stats.TradesArchived,
			"events_archived": stats.EventsArchived,
		}, nil
	})
}
