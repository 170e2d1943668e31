package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/bl8ckfz/risk-rule-engine/internal/rules"
	"github.com/bl8ckfz/risk-rule-engine/pkg/observability"
)

// PairEvaluator is the slice of the rule evaluator the scheduler drives
type PairEvaluator interface {
	EvaluateForUser(ctx context.Context, userID, walletID string) rules.EvaluationSummary
}

// PairLister enumerates the (user, wallet) pairs with active rules
type PairLister interface {
	ListActiveUserWalletPairs(ctx context.Context) ([]rules.UserWalletPair, error)
}

// Pruner is the retention slice of the execution ledger
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Time) (uint, error)
}

// Config controls the scheduler's cadence and concurrency
type Config struct {
	EvaluationSpec string        // cron spec for the evaluation job
	RetentionSpec  string        // cron spec for the retention job
	RetentionAge   time.Duration // ledger entries older than this are pruned
	MaxConcurrent  int64         // bound on pairs evaluated in parallel
	PairTimeout    time.Duration // per-pair evaluation deadline
}

// DefaultConfig mirrors production defaults: evaluate every 5 minutes, prune
// 30-day-old history at midnight UTC, at most 8 pairs in flight, 10s per pair
func DefaultConfig() Config {
	return Config{
		EvaluationSpec: "@every 5m",
		RetentionSpec:  "0 0 * * *",
		RetentionAge:   30 * 24 * time.Hour,
		MaxConcurrent:  8,
		PairTimeout:    10 * time.Second,
	}
}

// Scheduler drives periodic rule evaluation across every active (user,
// wallet) pair, plus daily ledger retention. The two jobs are independent.
type Scheduler struct {
	cron      *cron.Cron
	evaluator PairEvaluator
	pairs     PairLister
	pruner    Pruner
	cfg       Config
	metrics   *observability.MetricsCollector
	logger    zerolog.Logger

	// running guards against overlapping evaluation cycles. Ticks that land
	// while a cycle is still in flight are skipped, never queued: running the
	// same pair twice concurrently could double-fire a throttled rule because
	// the throttle check is a non-atomic read-then-write.
	running atomic.Bool
}

// New creates a scheduler; Start must be called to begin ticking
func New(evaluator PairEvaluator, pairs PairLister, pruner Pruner, cfg Config, logger zerolog.Logger) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if cfg.PairTimeout <= 0 {
		cfg.PairTimeout = DefaultConfig().PairTimeout
	}

	return &Scheduler{
		cron:      cron.New(),
		evaluator: evaluator,
		pairs:     pairs,
		pruner:    pruner,
		cfg:       cfg,
		metrics:   observability.GetCollector(),
		logger:    logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start registers both jobs and begins the cron loop
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.EvaluationSpec, func() {
		s.RunEvaluationCycle(ctx)
	}); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(s.cfg.RetentionSpec, func() {
		s.RunRetention(ctx)
	}); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info().
		Str("evaluation", s.cfg.EvaluationSpec).
		Str("retention", s.cfg.RetentionSpec).
		Msg("scheduler started")

	return nil
}

// Stop halts the cron loop and waits for running jobs to finish
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info().Msg("scheduler stopped")
}

// RunEvaluationCycle evaluates every active pair once. Pairs run concurrently
// up to the configured bound, each with its own timeout, and every pair's
// failure is isolated: one bad pair never stops, delays, or skips the rest.
func (s *Scheduler) RunEvaluationCycle(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn().Msg("previous evaluation cycle still running, skipping tick")
		s.metrics.Counter(observability.MetricCyclesSkipped).Inc()
		return
	}
	defer s.running.Store(false)

	defer s.metrics.Timer(observability.MetricCycleDuration)()

	pairs, err := s.pairs.ListActiveUserWalletPairs(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list active pairs")
		return
	}
	if len(pairs) == 0 {
		s.logger.Debug().Msg("no active pairs to evaluate")
		return
	}

	sem := semaphore.NewWeighted(s.cfg.MaxConcurrent)
	var wg sync.WaitGroup

	for _, pair := range pairs {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context cancelled mid-cycle; remaining pairs run next tick
			break
		}

		wg.Add(1)
		go func(pair rules.UserWalletPair) {
			defer wg.Done()
			defer sem.Release(1)
			s.evaluatePair(ctx, pair)
		}(pair)
	}

	wg.Wait()

	s.logger.Info().Int("pairs", len(pairs)).Msg("evaluation cycle complete")
}

func (s *Scheduler) evaluatePair(ctx context.Context, pair rules.UserWalletPair) {
	pairCtx, cancel := context.WithTimeout(ctx, s.cfg.PairTimeout)
	defer cancel()

	s.metrics.Counter(observability.MetricPairsEvaluated).Inc()

	summary := s.evaluator.EvaluateForUser(pairCtx, pair.UserID, pair.WalletID)
	if !summary.Success {
		s.metrics.Counter(observability.MetricPairErrors).Inc()
		s.logger.Error().
			Str("user_id", pair.UserID).
			Str("wallet_id", pair.WalletID).
			Str("error", summary.Error).
			Msg("pair evaluation failed")
		return
	}

	if n := len(summary.TriggeredRules); n > 0 {
		s.metrics.Counter(observability.MetricRulesTriggered).Add(float64(n))
	}
}

// RunRetention prunes ledger entries past the retention age
func (s *Scheduler) RunRetention(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.cfg.RetentionAge)

	deleted, err := s.pruner.Prune(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("retention prune failed")
		return
	}

	s.metrics.Counter(observability.MetricExecutionsPruned).Add(float64(deleted))
}
