package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AccountDataProvider supplies the per-wallet account snapshot. Implemented
// by the external portfolio service's storage; consumed read-only here.
type AccountDataProvider interface {
	GetAccountData(ctx context.Context, userID, walletID string) (AccountData, error)
}

// MarketDataProvider supplies the market snapshot shared by all rules in a cycle
type MarketDataProvider interface {
	GetMarketData(ctx context.Context) (MarketData, error)
}

// Evaluator orchestrates one (user, wallet) evaluation pass: load active
// rules, build a single shared context, throttle, evaluate, execute, record.
type Evaluator struct {
	store    RuleStore
	ledger   ExecutionLedger
	executor *ActionExecutor
	accounts AccountDataProvider
	market   MarketDataProvider
	logger   zerolog.Logger
	now      func() time.Time
}

// NewEvaluator creates a rule evaluator
func NewEvaluator(store RuleStore, ledger ExecutionLedger, executor *ActionExecutor, accounts AccountDataProvider, market MarketDataProvider, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		store:    store,
		ledger:   ledger,
		executor: executor,
		accounts: accounts,
		market:   market,
		logger:   logger.With().Str("component", "rule-evaluator").Logger(),
		now:      time.Now,
	}
}

// EvaluateForUser evaluates every active rule for one (user, wallet) pair.
// It never panics outward: any load or persistence failure comes back as a
// structured summary error so one pair cannot abort a scheduler batch. The
// manual "evaluate now" path calls this directly and gets identical
// throttling and recording semantics.
func (ev *Evaluator) EvaluateForUser(ctx context.Context, userID, walletID string) EvaluationSummary {
	now := ev.now().UTC()
	summary := EvaluationSummary{
		Success:        true,
		TriggeredRules: []Rule{},
		Timestamp:      now,
	}

	activeRules, err := ev.store.FindActiveRules(ctx, userID, walletID)
	if err != nil {
		return ev.failed(summary, fmt.Errorf("load rules: %w", err))
	}
	if len(activeRules) == 0 {
		return summary
	}

	// One snapshot per cycle: every rule for this pair sees the same data,
	// fetched once rather than once per rule
	evalCtx, err := ev.buildContext(ctx, userID, walletID, now)
	if err != nil {
		return ev.failed(summary, fmt.Errorf("build context: %w", err))
	}

	for i := range activeRules {
		rule := &activeRules[i]

		skip, err := ev.throttled(ctx, rule, now)
		if err != nil {
			// A throttle read failure blocks this rule: firing without a
			// trustworthy count could exceed the user's limit
			ev.logger.Error().Err(err).Str("rule_id", rule.ID).Msg("throttle check failed, skipping rule")
			summary.RuleErrors = append(summary.RuleErrors, RuleError{
				RuleID: rule.ID,
				Error:  fmt.Sprintf("throttle check: %s", err),
			})
			continue
		}
		if skip {
			ev.logger.Debug().
				Str("rule_id", rule.ID).
				Str("rule_name", rule.Name).
				Msg("rule at execution limit, skipped")
			continue
		}

		if !EvaluateConditions(rule.Conditions, evalCtx) {
			continue
		}

		if err := ev.trigger(ctx, rule, evalCtx, now); err != nil {
			summary.RuleErrors = append(summary.RuleErrors, RuleError{
				RuleID: rule.ID,
				Error:  err.Error(),
			})
		}
		summary.TriggeredRules = append(summary.TriggeredRules, *rule)
	}

	return summary
}

// GetHistory exposes a rule's execution history, newest-first
func (ev *Evaluator) GetHistory(ctx context.Context, ruleID string, limit int) ([]RuleExecution, error) {
	return ev.ledger.GetHistory(ctx, ruleID, limit)
}

func (ev *Evaluator) buildContext(ctx context.Context, userID, walletID string, now time.Time) (*EvaluationContext, error) {
	account, err := ev.accounts.GetAccountData(ctx, userID, walletID)
	if err != nil {
		return nil, fmt.Errorf("account data: %w", err)
	}

	market, err := ev.market.GetMarketData(ctx)
	if err != nil {
		return nil, fmt.Errorf("market data: %w", err)
	}

	return &EvaluationContext{
		Timestamp:   now,
		UserID:      userID,
		WalletID:    walletID,
		AccountData: account,
		MarketData:  market,
	}, nil
}

// throttled reports whether a rule has exhausted its execution limit for the
// current window. Hourly windows roll (now - 1h); daily windows start at UTC
// midnight so every engine instance agrees on the boundary.
func (ev *Evaluator) throttled(ctx context.Context, rule *Rule, now time.Time) (bool, error) {
	if rule.ExecutionLimit == nil {
		return false, nil
	}

	var windowStart time.Time
	switch rule.ExecutionLimit.Kind {
	case LimitHourly:
		windowStart = now.Add(-time.Hour)
	case LimitDaily:
		windowStart = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	default:
		return false, fmt.Errorf("unknown limit kind: %s", rule.ExecutionLimit.Kind)
	}

	count, err := ev.ledger.CountSince(ctx, rule.ID, windowStart)
	if err != nil {
		return false, err
	}

	return count >= rule.ExecutionLimit.Limit, nil
}

// trigger runs a rule's actions and records the attempt. The ledger write
// happens regardless of action outcome: the attempt itself is the auditable
// fact, and the throttle counts attempts, not successes. A failed ledger
// write comes back as an error so the summary can report the degradation.
func (ev *Evaluator) trigger(ctx context.Context, rule *Rule, evalCtx *EvaluationContext, now time.Time) error {
	// Advisory only; a failed update must not stop the trigger
	if err := ev.store.UpdateLastTriggered(ctx, rule.ID, now); err != nil {
		ev.logger.Error().Err(err).Str("rule_id", rule.ID).Msg("failed to update last_triggered")
	}

	result := ev.executor.Execute(ctx, rule.Actions, evalCtx)

	execution := RuleExecution{
		ID:        uuid.New().String(),
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		UserID:    evalCtx.UserID,
		WalletID:  evalCtx.WalletID,
		Timestamp: now,
		Snapshot:  snapshotContext(evalCtx),
		Success:   result.Success,
	}

	var recordErr error
	if err := ev.ledger.Record(ctx, execution); err != nil {
		// Actions already ran; losing the record corrupts both the audit
		// trail and the throttle count
		ev.logger.Error().
			Err(err).
			Str("rule_id", rule.ID).
			Bool("actions_succeeded", result.Success).
			Msg("failed to record execution after actions ran")
		recordErr = fmt.Errorf("record execution: %w", err)
	}

	ev.logger.Info().
		Str("rule_id", rule.ID).
		Str("rule_name", rule.Name).
		Str("user_id", evalCtx.UserID).
		Str("wallet_id", evalCtx.WalletID).
		Bool("success", result.Success).
		Int("actions", len(result.Results)).
		Msg("rule triggered")

	return recordErr
}

// snapshotContext derives the small persisted subset of the context
func snapshotContext(evalCtx *EvaluationContext) ContextSnapshot {
	snapshot := ContextSnapshot{AccountBalance: evalCtx.AccountData.Balance}
	if evalCtx.AccountData.DailyPerformance != nil {
		snapshot.DailyPnL = evalCtx.AccountData.DailyPerformance.ProfitLoss
	}
	return snapshot
}

func (ev *Evaluator) failed(summary EvaluationSummary, err error) EvaluationSummary {
	ev.logger.Error().Err(err).Msg("evaluation failed")
	summary.Success = false
	summary.Error = err.Error()
	return summary
}
